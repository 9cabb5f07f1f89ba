// Package proxy implements the client-side lazy handle into a remote
// exported tree. Go has no dynamic property interception, so Handle is a
// path-accumulating builder rather than a true proxy object: Path extends
// the accumulated path without sending a message, Await issues a get at
// that path, and Invoke/Call/Apply/Bind all issue an apply at that path.
package proxy

import (
	"context"
	"strconv"
)

// Endpointer is the subset of endpoint.Client a Handle needs: issuing a
// get or apply at a path and getting back an already inbound-marshalled
// result, with nested functions already replaced by callables.
type Endpointer interface {
	Get(ctx context.Context, path []string) (any, error)
	Apply(ctx context.Context, path []string, args []any) (any, error)
}

// Handle is the lazy, chainable path into a remote exported tree.
type Handle struct {
	ep   Endpointer
	path []string
}

// NewRoot returns the Handle for the root of ep's exported tree (empty
// path).
func NewRoot(ep Endpointer) *Handle {
	return &Handle{ep: ep}
}

// Path returns a new Handle with key appended to the accumulated path.
// This is synchronous and sends nothing. key may be a string property name
// or a non-negative integer index.
func (h *Handle) Path(key any) *Handle {
	next := make([]string, len(h.path), len(h.path)+1)
	copy(next, h.path)
	next = append(next, segment(key))
	return &Handle{ep: h.ep, path: next}
}

func segment(key any) string {
	switch k := key.(type) {
	case string:
		return k
	case int:
		return strconv.Itoa(k)
	default:
		return ""
	}
}

// Await triggers a get at the accumulated path and returns the resolved,
// inbound-marshalled value.
func (h *Handle) Await(ctx context.Context) (any, error) {
	return h.ep.Get(ctx, h.path)
}

// Invoke issues an apply at the accumulated path with args.
func (h *Handle) Invoke(ctx context.Context, args ...any) (any, error) {
	return h.ep.Apply(ctx, h.path, args)
}

// Call is Invoke under the direct-call name.
func (h *Handle) Call(ctx context.Context, args ...any) (any, error) {
	return h.Invoke(ctx, args...)
}

// Apply is Invoke taking its arguments as a slice.
func (h *Handle) Apply(ctx context.Context, args []any) (any, error) {
	return h.Invoke(ctx, args...)
}

// Bind returns h unchanged. A receiver override has no meaning for a
// remote free function, so it is dropped rather than synthesized into a
// leading argument.
func (h *Handle) Bind(any) *Handle {
	return h
}
