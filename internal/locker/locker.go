// Package locker runs lock passes over the current process's mappings.
//
// A pass snapshots the address space, selects mappings with a filter,
// issues mlock2 per mapping, verifies the result against a fresh smaps
// read, records the outcome in a lockset and reports each region to a
// handler.
package locker

import (
	"fmt"
	"log"
	"time"

	"memlock/internal/filter"
	"memlock/internal/lockset"
	"memlock/internal/memcall"
	"memlock/internal/smaps"
)

// Syscaller issues memory-locking syscalls. Satisfied by memcall.Sys.
type Syscaller interface {
	Mlock2(addr, length uintptr, flags int) error
	Munlock(addr, length uintptr) error
}

// Result describes the outcome of locking one mapping.
type Result struct {
	Mapping  smaps.Mapping
	OnFault  bool
	Skipped  bool
	Err      error
	Verified bool
	Issues   []string
}

// ResultHandler receives per-region lock outcomes.
type ResultHandler interface {
	HandleLockResult(result *Result) error
}

// SnapshotFunc provides mapping snapshots of the current process.
type SnapshotFunc func() ([]smaps.Mapping, error)

// Locker coordinates lock passes.
type Locker struct {
	sys      Syscaller
	set      *lockset.Set
	eval     *filter.Evaluator // nil matches everything
	handler  ResultHandler
	snapshot SnapshotFunc
	onFault  bool
}

// New creates a new Locker. A nil snapshot falls back to reading
// /proc/self/smaps.
func New(sys Syscaller, set *lockset.Set, eval *filter.Evaluator, handler ResultHandler, snapshot SnapshotFunc, onFault bool) *Locker {
	if snapshot == nil {
		snapshot = func() ([]smaps.Mapping, error) { return smaps.Snapshot(0) }
	}
	return &Locker{
		sys:      sys,
		set:      set,
		eval:     eval,
		handler:  handler,
		snapshot: snapshot,
		onFault:  onFault,
	}
}

// Run executes one lock pass. It returns an error only when the address
// space cannot be snapshotted; per-mapping failures are recorded and
// reported, not returned.
func (l *Locker) Run() error {
	mappings, err := l.snapshot()
	if err != nil {
		return fmt.Errorf("snapshotting mappings: %w", err)
	}

	for i := range mappings {
		m := &mappings[i]

		matched, err := l.eval.Match(m)
		if err != nil {
			l.report(&Result{Mapping: *m, Skipped: true, Issues: []string{err.Error()}})
			continue
		}
		if !matched {
			continue
		}

		l.lockOne(m)
	}

	return nil
}

// lockOne locks a single mapping, verifies it and records the outcome.
func (l *Locker) lockOne(m *smaps.Mapping) {
	result := &Result{Mapping: *m, OnFault: l.onFault}

	if !m.Readable() {
		// Guard mappings and PROT_NONE reservations; locking them fails
		// or pins nothing useful.
		result.Skipped = true
		result.Issues = append(result.Issues, "mapping is not readable, skipped")
		l.set.AddIssue(m.Start, result.Issues[0])
		l.report(result)
		return
	}

	var flags int
	if l.onFault {
		flags = memcall.OnFault
	}

	if err := l.sys.Mlock2(m.Start, m.Size(), flags); err != nil {
		result.Err = err
		l.set.SetError(m.Start, err)
		l.report(result)
		return
	}

	l.set.Add(&lockset.Region{
		Start:    m.Start,
		End:      m.End,
		Perms:    m.Perms,
		Path:     m.Path,
		OnFault:  l.onFault,
		LockedAt: time.Now(),
	})

	verified, err := l.verify(m.Start)
	if err != nil {
		result.Issues = append(result.Issues, fmt.Sprintf("verification failed: %v", err))
		l.set.AddIssue(m.Start, result.Issues[len(result.Issues)-1])
	}
	result.Verified = verified

	l.report(result)
}

// verify re-reads the address space and checks that the mapping containing
// start carries a lock flag in VmFlags.
func (l *Locker) verify(start uintptr) (bool, error) {
	mappings, err := l.snapshot()
	if err != nil {
		return false, err
	}

	for i := range mappings {
		m := &mappings[i]
		if m.Contains(start) {
			return m.Locked() || m.LockedOnFault(), nil
		}
	}
	return false, nil
}

// UnlockAll unlocks every tracked region and clears the set.
// The first syscall error is returned after all regions were attempted.
func (l *Locker) UnlockAll() error {
	var firstErr error
	for _, r := range l.set.Regions() {
		if err := l.sys.Munlock(r.Start, r.Size()); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		l.set.Delete(r.Start)
	}
	return firstErr
}

func (l *Locker) report(result *Result) {
	if l.handler == nil {
		return
	}
	// Handler failures must not abort the pass.
	if err := l.handler.HandleLockResult(result); err != nil {
		log.Printf("handling lock result: %v", err)
	}
}
