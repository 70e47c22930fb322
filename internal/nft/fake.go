package nft

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rampart-fw/rampart/internal/compile"
)

// Fake is an in-memory Capability for tests. It honors the same
// all-or-nothing contract as the real backend and supports failure
// injection at Begin and Commit so atomicity and retry behavior can be
// exercised without a kernel.
type Fake struct {
	mu         sync.Mutex
	nextHandle uint64
	installed  []InstalledFilter

	// BeginFailures makes the next N Begin calls fail with
	// ErrUnavailable.
	BeginFailures int

	// RejectKey makes Commit fail with ErrRejected when the
	// transaction stages an add for this filter key.
	RejectKey string

	beginCalls  int
	commitCalls int
}

// NewFake returns an empty fake capability.
func NewFake() *Fake {
	return &Fake{}
}

// ListOwned returns the installed filters, weight descending.
func (f *Fake) ListOwned(ctx context.Context) ([]InstalledFilter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]InstalledFilter, len(f.installed))
	copy(out, f.installed)
	return out, nil
}

// Begin opens a staged transaction.
func (f *Fake) Begin(ctx context.Context) (Txn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beginCalls++
	if f.BeginFailures > 0 {
		f.BeginFailures--
		return nil, fmt.Errorf("%w: injected", ErrUnavailable)
	}
	return &fakeTxn{fake: f}, nil
}

// BeginCalls reports how many times Begin was invoked.
func (f *Fake) BeginCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.beginCalls
}

// CommitCalls reports how many transactions reached Commit.
func (f *Fake) CommitCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commitCalls
}

// Keys returns the installed filter keys as a set, for comparisons.
func (f *Fake) Keys() map[string]bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make(map[string]bool, len(f.installed))
	for _, inst := range f.installed {
		keys[inst.Key] = true
	}
	return keys
}

type fakeTxn struct {
	fake     *Fake
	adds     []*compile.CompiledFilter
	removes  []InstalledFilter
	finished bool
}

func (t *fakeTxn) Add(f *compile.CompiledFilter) error {
	if t.finished {
		return fmt.Errorf("transaction already finished")
	}
	t.adds = append(t.adds, f)
	return nil
}

func (t *fakeTxn) Remove(f InstalledFilter) error {
	if t.finished {
		return fmt.Errorf("transaction already finished")
	}
	t.removes = append(t.removes, f)
	return nil
}

func (t *fakeTxn) Commit() error {
	if t.finished {
		return fmt.Errorf("transaction already finished")
	}
	t.finished = true

	t.fake.mu.Lock()
	defer t.fake.mu.Unlock()
	t.fake.commitCalls++

	for _, f := range t.adds {
		if t.fake.RejectKey != "" && f.Key == t.fake.RejectKey {
			// Whole transaction aborts; installed state untouched.
			return fmt.Errorf("%w: injected rejection of %s", ErrRejected, f.Key)
		}
	}

	removed := make(map[uint64]bool, len(t.removes))
	for _, r := range t.removes {
		removed[r.Handle] = true
	}

	var next []InstalledFilter
	for _, inst := range t.fake.installed {
		if !removed[inst.Handle] {
			next = append(next, inst)
		}
	}
	for _, f := range t.adds {
		t.fake.nextHandle++
		next = append(next, InstalledFilter{
			Key:       f.Key,
			Weight:    f.Weight,
			Direction: f.Direction,
			Handle:    t.fake.nextHandle,
		})
	}
	sort.SliceStable(next, func(i, j int) bool { return next[i].Weight > next[j].Weight })
	t.fake.installed = next
	return nil
}

func (t *fakeTxn) Abort() {
	t.finished = true
}
