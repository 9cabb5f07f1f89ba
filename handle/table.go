// Package handle implements the owner-side handle table: the per-endpoint
// registry mapping locally-allocated ids to the exported functions and
// callbacks reachable through them, with reference counting so the table
// can tell when an id is safe to drop.
package handle

import (
	"sync"

	"github.com/loopwire/transporter/wire"
)

// Func is a callable value exposed through the table: either a leaf of the
// exported tree discovered during marshalling, or a callback handed across
// the wire as an apply argument. args and the return value are wire-domain
// values (nil, bool, number, string, []any, map[string]any, callables).
type Func func(args []any) (any, error)

// entry is one registration. refs stays >= 1 while the id is unresolved on
// the peer.
type entry struct {
	target *Func
	refs   int
}

// Table is the per-endpoint, per-session registry of live function
// handles. Ids are allocated monotonically starting at 1. Id 0 is reserved
// for the exported root, which has no refcount and is never collected, so
// it is not managed here.
type Table struct {
	mu       sync.Mutex
	nextID   uint64
	entries  map[uint64]*entry
	byTarget map[*Func]uint64
}

// New returns an empty Table.
func New() *Table {
	return &Table{
		nextID:   1,
		entries:  make(map[uint64]*entry),
		byTarget: make(map[*Func]uint64),
	}
}

// Allocate assigns a fresh id to target with refs=1 and returns it. O(1).
func (t *Table) Allocate(target Func) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allocateLocked(&target)
}

// AllocateOrReuse dedupes by the identity of target: marshalling the same
// *Func pointer outbound more than once reuses its existing id and bumps
// its refcount instead of minting a new one, so the peer sees a stable id
// for a stable function. Callables are addressed by *Func precisely so this
// identity check is meaningful; bare Go func values are not comparable.
func (t *Table) AllocateOrReuse(target *Func) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id, ok := t.byTarget[target]; ok {
		t.entries[id].refs++
		return id
	}
	return t.allocateLocked(target)
}

func (t *Table) allocateLocked(target *Func) uint64 {
	id := t.nextID
	t.nextID++
	t.entries[id] = &entry{target: target, refs: 1}
	t.byTarget[target] = id
	return id
}

// Retain increments the refcount for id. Returns UnknownHandle if absent.
func (t *Table) Retain(id uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok {
		return wire.NewError(wire.KindUnknownHandle, "retain: no such handle %d", id)
	}
	e.refs++
	return nil
}

// Release decrements the refcount for id; when it reaches zero the entry
// is removed. Releasing an id that no longer exists is a no-op.
func (t *Table) Release(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(t.entries, id)
		delete(t.byTarget, e.target)
	}
}

// Drop removes the entry for id unconditionally, regardless of refcount.
// This is the garbage_collect path: the notice means the peer no longer
// holds the handle at all, however many times it was marshalled, so the
// whole entry goes. Dropping an already-absent id is a no-op: the peer
// only schedules one notice per id, but the owner must tolerate duplicates.
func (t *Table) Drop(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok {
		return
	}
	delete(t.entries, id)
	delete(t.byTarget, e.target)
}

// Resolve returns the function bound to id. Returns UnknownHandle if
// absent.
func (t *Table) Resolve(id uint64) (Func, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok {
		return nil, wire.NewError(wire.KindUnknownHandle, "resolve: no such handle %d", id)
	}
	return *e.target, nil
}

// Len reports the number of live entries. Intended for tests and
// diagnostics, not for protocol decisions.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
