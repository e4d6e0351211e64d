package locker

import (
	"errors"
	"testing"

	"memlock/internal/filter"
	"memlock/internal/lockset"
	"memlock/internal/smaps"
)

// lockCall records one syscall issued by the locker.
type lockCall struct {
	addr   uintptr
	length uintptr
	flags  int
}

// fakeSys records lock calls and fails addresses listed in failAddrs.
// Regions it "locks" gain the lo flag in subsequent snapshots.
type fakeSys struct {
	locks     []lockCall
	unlocks   []lockCall
	failAddrs map[uintptr]error
	locked    map[uintptr]bool
}

func newFakeSys() *fakeSys {
	return &fakeSys{
		failAddrs: make(map[uintptr]error),
		locked:    make(map[uintptr]bool),
	}
}

func (f *fakeSys) Mlock2(addr, length uintptr, flags int) error {
	f.locks = append(f.locks, lockCall{addr, length, flags})
	if err := f.failAddrs[addr]; err != nil {
		return err
	}
	f.locked[addr] = true
	return nil
}

func (f *fakeSys) Munlock(addr, length uintptr) error {
	f.unlocks = append(f.unlocks, lockCall{addr, length, 0})
	if err := f.failAddrs[addr]; err != nil {
		return err
	}
	delete(f.locked, addr)
	return nil
}

// resultCollector records reported results.
type resultCollector struct {
	results []Result
}

func (c *resultCollector) HandleLockResult(result *Result) error {
	c.results = append(c.results, *result)
	return nil
}

// fakeAddressSpace builds a snapshot function whose mappings reflect the
// fake syscaller's lock state, like a fresh smaps read would.
func fakeAddressSpace(sys *fakeSys, mappings []smaps.Mapping) SnapshotFunc {
	return func() ([]smaps.Mapping, error) {
		snap := make([]smaps.Mapping, len(mappings))
		copy(snap, mappings)
		for i := range snap {
			if sys.locked[snap[i].Start] {
				snap[i].VmFlags = append([]string{"rd"}, "lo")
			}
		}
		return snap, nil
	}
}

func testMappings() []smaps.Mapping {
	return []smaps.Mapping{
		{Start: 0x1000, End: 0x3000, Perms: "rw-p", Path: "/usr/lib/libc.so.6"},
		{Start: 0x5000, End: 0x6000, Perms: "---p", Path: "/usr/lib/libc.so.6"},
		{Start: 0x8000, End: 0xa000, Perms: "r--p", Path: ""},
	}
}

func TestRun_LocksAllReadableMappings(t *testing.T) {
	sys := newFakeSys()
	set := lockset.New()
	c := &resultCollector{}
	l := New(sys, set, nil, c, fakeAddressSpace(sys, testMappings()), false)

	if err := l.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// The ---p guard mapping is skipped.
	if len(sys.locks) != 2 {
		t.Fatalf("issued %d mlock2 calls, want 2", len(sys.locks))
	}
	if sys.locks[0].addr != 0x1000 || sys.locks[0].length != 0x2000 {
		t.Errorf("first lock = %x+%x, want 1000+2000", sys.locks[0].addr, sys.locks[0].length)
	}

	if set.Len() != 2 {
		t.Errorf("lockset tracks %d regions, want 2", set.Len())
	}
	if set.TotalBytes() != 0x4000 {
		t.Errorf("TotalBytes() = %x, want 4000", set.TotalBytes())
	}
}

func TestRun_ReportsEveryConsideredMapping(t *testing.T) {
	sys := newFakeSys()
	c := &resultCollector{}
	l := New(sys, lockset.New(), nil, c, fakeAddressSpace(sys, testMappings()), false)

	if err := l.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(c.results) != 3 {
		t.Fatalf("got %d results, want 3", len(c.results))
	}

	skipped := c.results[1]
	if !skipped.Skipped {
		t.Error("guard mapping result not marked skipped")
	}
	if len(skipped.Issues) == 0 {
		t.Error("skipped result carries no issue note")
	}
}

func TestRun_VerifiesViaFreshSnapshot(t *testing.T) {
	sys := newFakeSys()
	c := &resultCollector{}
	l := New(sys, lockset.New(), nil, c, fakeAddressSpace(sys, testMappings()), false)

	if err := l.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for _, r := range c.results {
		if r.Skipped {
			continue
		}
		if !r.Verified {
			t.Errorf("result for %x not verified", r.Mapping.Start)
		}
	}
}

func TestRun_FilterSelectsMappings(t *testing.T) {
	eval, err := filter.New(`path contains "libc"`)
	if err != nil {
		t.Fatalf("compiling filter: %v", err)
	}

	sys := newFakeSys()
	l := New(sys, lockset.New(), eval, &resultCollector{}, fakeAddressSpace(sys, testMappings()), false)

	if err := l.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// Only 0x1000 matches and is readable; 0x5000 matches but is a guard
	// mapping; the anonymous mapping is filtered out.
	if len(sys.locks) != 1 {
		t.Fatalf("issued %d mlock2 calls, want 1", len(sys.locks))
	}
	if sys.locks[0].addr != 0x1000 {
		t.Errorf("locked %x, want 1000", sys.locks[0].addr)
	}
}

func TestRun_OnFaultFlagPropagates(t *testing.T) {
	sys := newFakeSys()
	l := New(sys, lockset.New(), nil, &resultCollector{}, fakeAddressSpace(sys, testMappings()), true)

	if err := l.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for _, call := range sys.locks {
		if call.flags == 0 {
			t.Errorf("mlock2 for %x issued without MLOCK_ONFAULT", call.addr)
		}
	}
}

func TestRun_SyscallErrorRecorded(t *testing.T) {
	sys := newFakeSys()
	lockErr := errors.New("mlock2: cannot allocate memory")
	sys.failAddrs[0x1000] = lockErr

	set := lockset.New()
	c := &resultCollector{}
	l := New(sys, set, nil, c, fakeAddressSpace(sys, testMappings()), false)

	if err := l.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !errors.Is(set.GetError(0x1000), lockErr) {
		t.Errorf("set.GetError(1000) = %v, want %v", set.GetError(0x1000), lockErr)
	}
	if set.Get(0x1000) != nil {
		t.Error("failed region must not be tracked as locked")
	}

	if !errors.Is(c.results[0].Err, lockErr) {
		t.Errorf("reported error = %v, want %v", c.results[0].Err, lockErr)
	}

	// The failure must not stop the pass.
	if set.Get(0x8000) == nil {
		t.Error("later mapping not locked after earlier failure")
	}
}

func TestRun_SnapshotErrorReturned(t *testing.T) {
	snapErr := errors.New("open /proc/self/smaps: permission denied")
	l := New(newFakeSys(), lockset.New(), nil, &resultCollector{},
		func() ([]smaps.Mapping, error) { return nil, snapErr }, false)

	if err := l.Run(); !errors.Is(err, snapErr) {
		t.Fatalf("Run() error = %v, want %v", err, snapErr)
	}
}

func TestUnlockAll(t *testing.T) {
	sys := newFakeSys()
	set := lockset.New()
	l := New(sys, set, nil, &resultCollector{}, fakeAddressSpace(sys, testMappings()), false)

	if err := l.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if err := l.UnlockAll(); err != nil {
		t.Fatalf("UnlockAll() error = %v", err)
	}

	if set.Len() != 0 {
		t.Errorf("lockset still tracks %d regions after UnlockAll", set.Len())
	}
	if len(sys.unlocks) != 2 {
		t.Errorf("issued %d munlock calls, want 2", len(sys.unlocks))
	}
}

func TestUnlockAll_KeepsFailedRegions(t *testing.T) {
	sys := newFakeSys()
	set := lockset.New()
	l := New(sys, set, nil, &resultCollector{}, fakeAddressSpace(sys, testMappings()), false)

	if err := l.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	unlockErr := errors.New("munlock: invalid argument")
	sys.failAddrs[0x1000] = unlockErr

	err := l.UnlockAll()
	if !errors.Is(err, unlockErr) {
		t.Fatalf("UnlockAll() error = %v, want %v", err, unlockErr)
	}

	if set.Get(0x1000) == nil {
		t.Error("region that failed to unlock was dropped from the set")
	}
	if set.Get(0x8000) != nil {
		t.Error("successfully unlocked region still tracked")
	}
}
