// Package lockset tracks the memory regions this process has locked.
package lockset

import (
	"sort"
	"sync"
	"time"
)

// Region describes one locked memory region, keyed by its start address.
type Region struct {
	Start    uintptr
	End      uintptr
	Perms    string
	Path     string
	OnFault  bool
	LockedAt time.Time
}

// Size returns the length of the region in bytes.
func (r *Region) Size() uintptr {
	return r.End - r.Start
}

// Set is a registry of locked regions.
// It provides command-query separation for region access.
type Set struct {
	mu           sync.RWMutex
	regions      map[uintptr]*Region // start address -> region
	regionErrors map[uintptr]error   // start address -> lock/verify errors
	issues       map[uintptr][]string
}

// New creates an empty locked-region set.
func New() *Set {
	return &Set{
		regions:      make(map[uintptr]*Region),
		regionErrors: make(map[uintptr]error),
		issues:       make(map[uintptr][]string),
	}
}

// Get retrieves the region starting at addr (query).
// Returns nil if no such region is tracked.
func (s *Set) Get(addr uintptr) *Region {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.regions[addr]
}

// GetError retrieves the recorded error for the region at addr (query).
func (s *Set) GetError(addr uintptr) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.regionErrors[addr]
}

// GetIssues retrieves the recorded issues for the region at addr (query).
func (s *Set) GetIssues(addr uintptr) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.issues[addr]
}

// Add stores a region (command). An existing region at the same start
// address is replaced.
func (s *Set) Add(r *Region) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regions[r.Start] = r
}

// SetError records a lock or verification error for the region at addr
// (command).
func (s *Set) SetError(addr uintptr, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regionErrors[addr] = err
}

// AddIssue records a non-fatal issue for the region at addr (command).
func (s *Set) AddIssue(addr uintptr, issue string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issues[addr] = append(s.issues[addr], issue)
}

// Delete removes all data for the region at addr (command).
// Called when a region is unlocked.
func (s *Set) Delete(addr uintptr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.regions, addr)
	delete(s.regionErrors, addr)
	delete(s.issues, addr)
}

// Regions returns the tracked regions sorted by start address (query).
func (s *Set) Regions() []*Region {
	s.mu.RLock()
	defer s.mu.RUnlock()

	regions := make([]*Region, 0, len(s.regions))
	for _, r := range s.regions {
		regions = append(regions, r)
	}
	sort.Slice(regions, func(i, j int) bool { return regions[i].Start < regions[j].Start })
	return regions
}

// Len returns the number of tracked regions (query).
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.regions)
}

// TotalBytes returns the summed size of all tracked regions (query).
func (s *Set) TotalBytes() uintptr {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total uintptr
	for _, r := range s.regions {
		total += r.Size()
	}
	return total
}
