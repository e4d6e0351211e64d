// lockcheck exercises mlock2 against the kernel and verifies the resulting
// lock state through /proc/self/smaps, exiting non-zero on any mismatch.
package main

import (
	"fmt"
	"log"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"memlock/internal/memcall"
	"memlock/internal/smaps"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("FAIL: %v", err)
	}
	fmt.Println("PASS")
}

// mapRegion maps an anonymous region of n pages.
func mapRegion(pages int) ([]byte, error) {
	length := int(memcall.PageSize()) * pages
	b, err := unix.Mmap(-1, 0, length,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, os.NewSyscallError("mmap", err)
	}
	return b, nil
}

// lookup finds the smaps entry containing addr and reads its detail block.
func lookup(addr uintptr) (*smaps.Mapping, error) {
	m, br, f, err := smaps.SeekToAddr(0, addr)
	if err != nil {
		return nil, fmt.Errorf("seeking smaps entry for %x: %w", addr, err)
	}
	defer func() {
		_ = f.Close() //nolint:errcheck // Read-only file, defer cleanup
	}()

	if err := smaps.ReadDetails(br, m); err != nil {
		return nil, err
	}
	return m, nil
}

// checkLockState verifies the mapping containing addr against the wanted
// lock flags.
func checkLockState(addr uintptr, wantLocked, wantOnFault bool) error {
	m, err := lookup(addr)
	if err != nil {
		return err
	}

	if m.Locked() != wantLocked {
		return fmt.Errorf("mapping %s: VmFlags lo = %v, want %v (flags: %v)",
			m, m.Locked(), wantLocked, m.VmFlags)
	}
	if m.LockedOnFault() != wantOnFault {
		return fmt.Errorf("mapping %s: VmFlags lf = %v, want %v (flags: %v)",
			m, m.LockedOnFault(), wantOnFault, m.VmFlags)
	}
	return nil
}

// checkPlainLock locks a region with mlock2(flags=0) and verifies that the
// kernel reports it locked, then unlocks and verifies again.
func checkPlainLock(sys memcall.Sys, region []byte) error {
	addr := uintptr(unsafe.Pointer(&region[0]))
	length := uintptr(len(region))

	if err := sys.Mlock2(addr, length, 0); err != nil {
		return err
	}
	if err := checkLockState(addr, true, false); err != nil {
		return fmt.Errorf("after mlock2: %w", err)
	}

	if err := sys.Munlock(addr, length); err != nil {
		return err
	}
	if err := checkLockState(addr, false, false); err != nil {
		return fmt.Errorf("after munlock: %w", err)
	}
	return nil
}

// checkOnFaultLock locks a region with MLOCK_ONFAULT and confirms that
// faulting pages in never shrinks the locked footprint.
func checkOnFaultLock(sys memcall.Sys, region []byte) error {
	addr := uintptr(unsafe.Pointer(&region[0]))
	length := uintptr(len(region))

	if err := sys.Mlock2(addr, length, memcall.OnFault); err != nil {
		return err
	}
	// MLOCK_ONFAULT sets VM_LOCKED alongside VM_LOCKONFAULT.
	if err := checkLockState(addr, true, true); err != nil {
		return fmt.Errorf("after mlock2(MLOCK_ONFAULT): %w", err)
	}

	before, err := lookup(addr)
	if err != nil {
		return err
	}

	// Fault every page in.
	pageSize := int(memcall.PageSize())
	for i := 0; i < len(region); i += pageSize {
		region[i] = 1
	}

	after, err := lookup(addr)
	if err != nil {
		return err
	}
	if after.LockedKB < before.LockedKB {
		return fmt.Errorf("locked kB dropped from %d to %d after faulting pages in",
			before.LockedKB, after.LockedKB)
	}

	if err := sys.Munlock(addr, length); err != nil {
		return err
	}
	return checkLockState(addr, false, false)
}

// checkErrorPath verifies that locking an unmapped region surfaces the
// kernel's error code.
func checkErrorPath(sys memcall.Sys) error {
	region, err := mapRegion(1)
	if err != nil {
		return err
	}
	addr := uintptr(unsafe.Pointer(&region[0]))
	length := uintptr(len(region))

	if err := unix.Munmap(region); err != nil {
		return os.NewSyscallError("munmap", err)
	}

	err = sys.Mlock2(addr, length, 0)
	if err == nil {
		return fmt.Errorf("mlock2 on unmapped region %x succeeded, want ENOMEM", addr)
	}
	fmt.Printf("ok: mlock2 on unmapped region failed with %v\n", err)
	return nil
}

func run() error {
	sys := memcall.Sys{}

	region, err := mapRegion(3)
	if err != nil {
		return err
	}
	defer func() {
		_ = unix.Munmap(region) //nolint:errcheck // Process exits right after
	}()

	if err := checkPlainLock(sys, region); err != nil {
		return err
	}
	fmt.Println("ok: mlock2 / munlock")

	if err := checkOnFaultLock(sys, region); err != nil {
		return err
	}
	fmt.Println("ok: mlock2 MLOCK_ONFAULT")

	if err := checkErrorPath(sys); err != nil {
		return err
	}

	return nil
}
