package watch

import (
	"time"

	"memlock/internal/smaps"
)

// Event type constants.
//
//nolint:revive,staticcheck // ALL_CAPS naming matches kernel-adjacent conventions
const (
	EVENT_MAPPED   = 1
	EVENT_UNMAPPED = 2
	EVENT_LOCKED   = 3
	EVENT_UNLOCKED = 4
)

// Event describes one observed change in a process's memory mappings.
type Event struct {
	Type    uint8
	Time    time.Time
	Mapping smaps.Mapping
}

// TypeName returns a short name for the event type.
func (e *Event) TypeName() string {
	switch e.Type {
	case EVENT_MAPPED:
		return "MAPPED"
	case EVENT_UNMAPPED:
		return "UNMAPPED"
	case EVENT_LOCKED:
		return "LOCKED"
	case EVENT_UNLOCKED:
		return "UNLOCKED"
	default:
		return "UNKNOWN"
	}
}

// EventHandler is the interface for handling mapping change events.
type EventHandler interface {
	HandleMappingEvent(event *Event) error
}

// MappingSource provides snapshots of a process's mappings.
type MappingSource interface {
	Snapshot() ([]smaps.Mapping, error)
}

// ProcSource reads snapshots from /proc/<pid>/smaps.
type ProcSource struct {
	pid int
}

// NewProcSource creates a source for pid. Pid 0 means the current process.
func NewProcSource(pid int) *ProcSource {
	return &ProcSource{pid: pid}
}

// Snapshot reads all mappings of the source's process.
func (s *ProcSource) Snapshot() ([]smaps.Mapping, error) {
	return smaps.Snapshot(s.pid)
}
