//go:build linux

// Package memcall wraps the Linux memory-locking system calls.
//
// x/sys/unix exposes no mlock2 wrapper, so the raw syscall is used; the
// kernel's numeric return convention (0 = success, non-zero = errno) is
// adapted to a conventional error return.
package memcall

import (
	"os"

	"golang.org/x/sys/unix"
)

// OnFault is the mlock2 flag requesting lock-on-fault semantics: pages are
// locked as they are touched rather than faulted in up front.
const OnFault = 0x1 // MLOCK_ONFAULT from <uapi/asm-generic/mman-common.h>; x/sys/unix does not export it

// Mlockall flags.
const (
	Current = unix.MCL_CURRENT
	Future  = unix.MCL_FUTURE
)

// Sys issues memory-locking syscalls against the current process.
// The zero value is ready to use.
type Sys struct{}

// Mlock2 locks the region [addr, addr+length) into physical memory as per
// mlock2(2). Flags is zero or OnFault. The error code reported by the
// kernel is carried verbatim in the returned error.
func (Sys) Mlock2(addr, length uintptr, flags int) error {
	_, _, e := unix.Syscall(unix.SYS_MLOCK2, addr, length, uintptr(flags))
	if e != 0 {
		return os.NewSyscallError("mlock2", e)
	}
	return nil
}

// Munlock unlocks the region [addr, addr+length) as per munlock(2).
func (Sys) Munlock(addr, length uintptr) error {
	_, _, e := unix.Syscall(unix.SYS_MUNLOCK, addr, length, 0)
	if e != 0 {
		return os.NewSyscallError("munlock", e)
	}
	return nil
}

// Mlockall locks all current and/or future mappings of the process as per
// mlockall(2). Flags combines Current, Future and OnFault semantics
// (unix.MCL_ONFAULT).
func (Sys) Mlockall(flags int) error {
	if err := unix.Mlockall(flags); err != nil {
		return os.NewSyscallError("mlockall", err)
	}
	return nil
}

// Munlockall unlocks every locked mapping of the process.
func (Sys) Munlockall() error {
	if err := unix.Munlockall(); err != nil {
		return os.NewSyscallError("munlockall", err)
	}
	return nil
}

// PageSize returns the system page size.
func PageSize() uintptr {
	return uintptr(unix.Getpagesize())
}
