// Package remote implements the consumer-side registry: a mirror of the
// peer's handle table that deduplicates proxy functions by peer handle id
// and schedules a garbage_collect notice when a proxy becomes unreachable
// locally.
package remote

import (
	"runtime"
	"sync"
	"weak"
)

// Invoker issues the actual apply request for a materialized handle. It is
// supplied by the endpoint/dispatch layer that owns the transport; the
// Registry itself never touches a transport.
type Invoker func(handleID uint64, args []any) (any, error)

// Ref is the callable proxy materialized for an inbound handle reference.
// Calling it issues an apply addressed at the peer's handle id. Function
// identity on the wire is id-based: two Refs for the same handle id compare
// equal by ID() and reach the same target.
type Ref struct {
	id     uint64
	invoke Invoker
}

// ID returns the peer-assigned handle id this Ref addresses.
func (r *Ref) ID() uint64 { return r.id }

// Call invokes the remote function this Ref addresses.
func (r *Ref) Call(args []any) (any, error) {
	return r.invoke(r.id, args)
}

// Registry is the per-endpoint mirror of the peer's handle table. live
// holds only weak.Pointer values: the map itself must never be the thing
// keeping a materialized Ref reachable, or the Ref could never be collected
// and the liveness observer would never fire.
type Registry struct {
	mu     sync.Mutex
	live   map[uint64]weak.Pointer[Ref]
	sentGC map[uint64]bool
	sendGC func(handleID uint64)
}

// New returns an empty Registry. sendGC is called, at most once per handle
// id for the life of the Registry, when a materialized Ref for that id is
// observed to have become unreachable.
func New(sendGC func(handleID uint64)) *Registry {
	return &Registry{
		live:   make(map[uint64]weak.Pointer[Ref]),
		sentGC: make(map[uint64]bool),
		sendGC: sendGC,
	}
}

// Materialize returns the callable proxy for peer handle id, creating one
// bound to invoke if none is currently live. Repeated calls for the same
// still-live id return the exact same *Ref. Once the previously returned
// *Ref has been collected, the stale weak pointer is dropped and a fresh
// Ref is minted.
func (r *Registry) Materialize(id uint64, invoke Invoker) *Ref {
	r.mu.Lock()
	defer r.mu.Unlock()

	if wp, ok := r.live[id]; ok {
		if ref := wp.Value(); ref != nil {
			return ref
		}
		delete(r.live, id)
	}

	ref := &Ref{id: id, invoke: invoke}
	r.live[id] = weak.Make(ref)

	// The finalizer closure must only capture id and the registry, never
	// ref itself: holding the proxy would keep it permanently reachable
	// and the finalizer would never run.
	runtime.SetFinalizer(ref, func(*Ref) {
		r.collected(id)
	})

	return ref
}

// collected runs (on an arbitrary goroutine, at an arbitrary time, per Go's
// finalizer contract) when a materialized Ref for id is no longer
// reachable. It removes the dedup entry and arranges exactly one
// garbage_collect notice for id.
func (r *Registry) collected(id uint64) {
	r.mu.Lock()
	alreadySent := r.sentGC[id]
	r.sentGC[id] = true
	delete(r.live, id)
	r.mu.Unlock()

	if !alreadySent {
		r.sendGC(id)
	}
}

// Live reports whether id currently has a materialized, reachable Ref.
// Intended for tests and diagnostics.
func (r *Registry) Live(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.live[id]
	return ok
}
