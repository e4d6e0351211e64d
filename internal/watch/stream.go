// Package watch observes a process's memory mappings for lock-state changes.
package watch

import (
	"context"
	"log"
	"time"

	"memlock/internal/smaps"
)

// Stream polls a mapping source at a fixed interval and dispatches change
// events to a handler.
type Stream struct {
	source   MappingSource
	handler  EventHandler
	interval time.Duration
	stopCh   chan struct{}
	prev     map[uintptr]smaps.Mapping // start address -> last seen mapping
	primed   bool
}

// New creates a new Stream with the given mapping source and event handler.
func New(source MappingSource, handler EventHandler, interval time.Duration) *Stream {
	return &Stream{
		source:   source,
		handler:  handler,
		interval: interval,
		stopCh:   make(chan struct{}),
		prev:     make(map[uintptr]smaps.Mapping),
	}
}

// Start begins polling in a goroutine.
// It returns immediately and processes snapshots in the background until
// the context is cancelled or Stop is called.
func (s *Stream) Start(ctx context.Context) error {
	// Prime the baseline so the first tick reports changes, not the
	// whole address space.
	if err := s.poll(); err != nil {
		return err
	}
	go s.run(ctx)
	return nil
}

// Stop signals the polling goroutine to stop.
func (s *Stream) Stop() error {
	close(s.stopCh)
	return nil
}

// run is the main polling loop.
func (s *Stream) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.poll(); err != nil {
				// The watched process may have exited between ticks.
				log.Printf("reading mappings: %v", err)
			}
		}
	}
}

// poll takes one snapshot, diffs it against the previous one keyed by
// region start address, and dispatches an event per change.
func (s *Stream) poll() error {
	mappings, err := s.source.Snapshot()
	if err != nil {
		return err
	}

	now := time.Now()
	current := make(map[uintptr]smaps.Mapping, len(mappings))
	for _, m := range mappings {
		current[m.Start] = m
	}

	if s.primed {
		for start, m := range current {
			old, seen := s.prev[start]
			switch {
			case !seen:
				s.dispatch(EVENT_MAPPED, now, m)
				if m.Locked() || m.LockedOnFault() {
					s.dispatch(EVENT_LOCKED, now, m)
				}
			case lockedState(&m) != lockedState(&old):
				if lockedState(&m) {
					s.dispatch(EVENT_LOCKED, now, m)
				} else {
					s.dispatch(EVENT_UNLOCKED, now, m)
				}
			}
		}
		for start, old := range s.prev {
			if _, ok := current[start]; !ok {
				s.dispatch(EVENT_UNMAPPED, now, old)
			}
		}
	}

	s.prev = current
	s.primed = true
	return nil
}

func (s *Stream) dispatch(eventType uint8, at time.Time, m smaps.Mapping) {
	event := &Event{Type: eventType, Time: at, Mapping: m}
	if err := s.handler.HandleMappingEvent(event); err != nil {
		log.Printf("handling event: %v", err)
	}
}

func lockedState(m *smaps.Mapping) bool {
	return m.Locked() || m.LockedOnFault()
}
