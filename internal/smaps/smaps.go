// Package smaps parses the /proc/<pid>/smaps pseudo-file.
//
// Each mapping in smaps starts with a header line in /proc/<pid>/maps
// format:
//
//	start-end perms offset dev inode path
//
// followed by a block of detail lines ("Rss:", "Locked:", "VmFlags:", ...)
// until the next header. The path field is optional (anonymous mappings).
package smaps

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
)

// Mapping describes one virtual memory mapping of a process.
// The address range is half-open: [Start, End).
type Mapping struct {
	Start  uintptr
	End    uintptr
	Perms  string
	Offset uint64
	Dev    string
	Inode  uint64
	Path   string

	// Detail fields, filled when the detail block has been read.
	RssKB    uint64
	LockedKB uint64
	VmFlags  []string
}

// Contains reports whether addr falls inside the mapping's range.
// The range is half-open: Start is included, End is not.
func (m *Mapping) Contains(addr uintptr) bool {
	return m.Start <= addr && addr < m.End
}

// Size returns the length of the mapping in bytes.
func (m *Mapping) Size() uintptr {
	return m.End - m.Start
}

// Locked reports whether the mapping carries the VM_LOCKED flag.
func (m *Mapping) Locked() bool {
	return slices.Contains(m.VmFlags, "lo")
}

// LockedOnFault reports whether the mapping carries the VM_LOCKONFAULT flag.
func (m *Mapping) LockedOnFault() bool {
	return slices.Contains(m.VmFlags, "lf")
}

// Readable reports whether the mapping is mapped with read permission.
func (m *Mapping) Readable() bool {
	return len(m.Perms) > 0 && m.Perms[0] == 'r'
}

func (m *Mapping) String() string {
	return fmt.Sprintf("%x-%x %s %s", m.Start, m.End, m.Perms, m.Path)
}

// ParseHeader parses a maps-format header line.
// It returns false for lines that are not well-formed headers: fewer than
// five whitespace-separated fields, a malformed address range, or
// non-numeric offset or inode. Detail lines ("Rss: 4 kB") fall out here
// because their second field is not a permissions token of hex range shape.
func ParseHeader(line string) (Mapping, bool) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return Mapping{}, false
	}

	start, end, ok := parseRange(fields[0])
	if !ok {
		return Mapping{}, false
	}

	offset, err := strconv.ParseUint(fields[2], 16, 64)
	if err != nil {
		return Mapping{}, false
	}

	inode, err := strconv.ParseUint(fields[4], 10, 64)
	if err != nil {
		return Mapping{}, false
	}

	m := Mapping{
		Start:  start,
		End:    end,
		Perms:  fields[1],
		Offset: offset,
		Dev:    fields[3],
		Inode:  inode,
	}
	if len(fields) > 5 {
		// Paths may contain spaces (e.g. "/memfd: name (deleted)").
		m.Path = strings.Join(fields[5:], " ")
	}
	return m, true
}

// parseRange parses a "start-end" hex address range.
func parseRange(s string) (uintptr, uintptr, bool) {
	dash := strings.IndexByte(s, '-')
	if dash < 0 {
		return 0, 0, false
	}

	start, err := strconv.ParseUint(s[:dash], 16, 64)
	if err != nil {
		return 0, 0, false
	}
	end, err := strconv.ParseUint(s[dash+1:], 16, 64)
	if err != nil {
		return 0, 0, false
	}

	return uintptr(start), uintptr(end), true
}

// parseDetail applies one detail line to m. Lines it does not understand
// are ignored.
func parseDetail(line string, m *Mapping) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return
	}

	switch fields[0] {
	case "Rss:":
		if kb, err := strconv.ParseUint(fields[1], 10, 64); err == nil {
			m.RssKB = kb
		}
	case "Locked:":
		if kb, err := strconv.ParseUint(fields[1], 10, 64); err == nil {
			m.LockedKB = kb
		}
	case "VmFlags:":
		m.VmFlags = fields[1:]
	}
}

// FilePath returns the smaps path for pid. Pid 0 means the current process.
func FilePath(pid int) string {
	if pid == 0 {
		return "/proc/self/smaps"
	}
	return fmt.Sprintf("/proc/%d/smaps", pid)
}

// Open opens the smaps file for pid. The caller owns the returned file.
func Open(pid int) (*os.File, error) {
	f, err := os.Open(FilePath(pid))
	if err != nil {
		return nil, fmt.Errorf("opening smaps for pid %d: %w", pid, err)
	}
	return f, nil
}
