// Package descriptor implements the L1 and L3 descriptor tables (spec
// §4.4, C4/C5): fixed-capacity, linear-scan-allocated arrays of open
// logical-object and physical-file handles. One pair of tables is
// held per session context.
package descriptor

import (
	"sync"

	"github.com/gridcore/server/pkg/ecode"
	"github.com/gridcore/server/pkg/model"
)

// DefaultCapacity is the table size used when a session doesn't
// override it (spec §4.4).
const DefaultCapacity = 1024

// reservedSlots are indices 0 and 1, reserved by the original system
// for stdin/stdout-equivalent descriptors and never handed out by
// Allocate.
const reservedSlots = 2

// L1Table is the fixed-capacity table of open logical-object
// descriptors.
type L1Table struct {
	mu      sync.Mutex
	entries []model.L1Entry
}

// NewL1Table returns an L1Table with capacity slots, indices 0 and 1
// pre-marked in use so Allocate never returns them.
func NewL1Table(capacity int) *L1Table {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	t := &L1Table{entries: make([]model.L1Entry, capacity)}
	for i := range t.entries {
		t.entries[i] = model.NewFreeL1()
	}
	for i := 0; i < reservedSlots && i < capacity; i++ {
		t.entries[i].InUse = true
	}
	return t
}

// Allocate finds the lowest-numbered free slot, marks it in use, and
// returns its index.
func (t *L1Table) Allocate() (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := reservedSlots; i < len(t.entries); i++ {
		if !t.entries[i].InUse {
			t.entries[i].InUse = true
			return i, nil
		}
	}
	return -1, ecode.New(ecode.CodeResourceExhausted, "L1 descriptor table exhausted").
		WithComponent("descriptor").WithDetail("capacity", len(t.entries))
}

// Get returns a copy of the entry at idx.
func (t *L1Table) Get(idx int) (model.L1Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkBounds(idx); err != nil {
		return model.L1Entry{}, err
	}
	return t.entries[idx], nil
}

// Set overwrites the entry at idx.
func (t *L1Table) Set(idx int, entry model.L1Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkBounds(idx); err != nil {
		return err
	}
	t.entries[idx] = entry
	return nil
}

// Mutate applies fn to the entry at idx in place, under the table's
// lock, so callers can update one field without a racing Get/Set pair.
func (t *L1Table) Mutate(idx int, fn func(*model.L1Entry)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkBounds(idx); err != nil {
		return err
	}
	fn(&t.entries[idx])
	return nil
}

// Free resets the entry at idx back to its free state.
func (t *L1Table) Free(idx int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkBounds(idx); err != nil {
		return err
	}
	t.entries[idx].Reset()
	return nil
}

// Len returns the table's fixed capacity.
func (t *L1Table) Len() int { return len(t.entries) }

func (t *L1Table) checkBounds(idx int) error {
	if idx < reservedSlots || idx >= len(t.entries) {
		return ecode.New(ecode.CodeBadDescriptor, "L1 descriptor index out of range").
			WithComponent("descriptor").WithDetail("index", idx)
	}
	if !t.entries[idx].InUse {
		return ecode.New(ecode.CodeBadDescriptor, "L1 descriptor not in use").
			WithComponent("descriptor").WithDetail("index", idx)
	}
	return nil
}

// L3Table is the fixed-capacity table of open physical-file
// descriptors.
type L3Table struct {
	mu      sync.Mutex
	entries []model.L3Entry
}

// NewL3Table returns an L3Table with capacity slots, indices 0 and 1
// pre-marked in use so Allocate never returns them.
func NewL3Table(capacity int) *L3Table {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	t := &L3Table{entries: make([]model.L3Entry, capacity)}
	for i := 0; i < reservedSlots && i < capacity; i++ {
		t.entries[i].InUse = true
	}
	return t
}

// Allocate finds the lowest-numbered free slot, marks it in use, and
// returns its index.
func (t *L3Table) Allocate() (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := reservedSlots; i < len(t.entries); i++ {
		if !t.entries[i].InUse {
			t.entries[i].InUse = true
			return i, nil
		}
	}
	return -1, ecode.New(ecode.CodeResourceExhausted, "L3 descriptor table exhausted").
		WithComponent("descriptor").WithDetail("capacity", len(t.entries))
}

// Get returns a copy of the entry at idx.
func (t *L3Table) Get(idx int) (model.L3Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkBounds(idx); err != nil {
		return model.L3Entry{}, err
	}
	return t.entries[idx], nil
}

// Set overwrites the entry at idx.
func (t *L3Table) Set(idx int, entry model.L3Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkBounds(idx); err != nil {
		return err
	}
	t.entries[idx] = entry
	return nil
}

// Mutate applies fn to the entry at idx in place, under the table's
// lock.
func (t *L3Table) Mutate(idx int, fn func(*model.L3Entry)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkBounds(idx); err != nil {
		return err
	}
	fn(&t.entries[idx])
	return nil
}

// Free resets the entry at idx back to its free state.
func (t *L3Table) Free(idx int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkBounds(idx); err != nil {
		return err
	}
	t.entries[idx].Reset()
	return nil
}

// Len returns the table's fixed capacity.
func (t *L3Table) Len() int { return len(t.entries) }

func (t *L3Table) checkBounds(idx int) error {
	if idx < reservedSlots || idx >= len(t.entries) {
		return ecode.New(ecode.CodeBadDescriptor, "L3 descriptor index out of range").
			WithComponent("descriptor").WithDetail("index", idx)
	}
	if !t.entries[idx].InUse {
		return ecode.New(ecode.CodeBadDescriptor, "L3 descriptor not in use").
			WithComponent("descriptor").WithDetail("index", idx)
	}
	return nil
}

// Session bundles one L1Table and one L3Table together, matching the
// spec's "one pair of tables per session context" requirement.
type Session struct {
	L1 *L1Table
	L3 *L3Table
}

// NewSession returns a Session with both tables sized to capacity (or
// DefaultCapacity if capacity <= 0).
func NewSession(capacity int) *Session {
	return &Session{L1: NewL1Table(capacity), L3: NewL3Table(capacity)}
}

// OpenCount reports how many L1 and L3 slots are currently in use,
// for internal/metrics.SetOpenDescriptors.
func (s *Session) OpenCount() (l1, l3 int) {
	s.L1.mu.Lock()
	for i := reservedSlots; i < len(s.L1.entries); i++ {
		if s.L1.entries[i].InUse {
			l1++
		}
	}
	s.L1.mu.Unlock()

	s.L3.mu.Lock()
	for i := reservedSlots; i < len(s.L3.entries); i++ {
		if s.L3.entries[i].InUse {
			l3++
		}
	}
	s.L3.mu.Unlock()
	return l1, l3
}
