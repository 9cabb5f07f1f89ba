// Package marshal walks a value crossing the transport boundary and
// substitutes functions for wire.HandleRef placeholders (outbound) or the
// reverse (inbound).
package marshal

import (
	"github.com/loopwire/transporter/handle"
	"github.com/loopwire/transporter/remote"
	"github.com/loopwire/transporter/wire"
)

// InvokerFactory builds the Invoker used to call a materialized remote
// handle. It is supplied by the endpoint layer, the only layer that knows
// how to turn "apply handle 7" into an actual wire request; Marshaller
// stays transport-agnostic, same as the Table and Registry it wraps.
type InvokerFactory func(handleID uint64) remote.Invoker

// Marshaller pairs one endpoint's owner-side Table with its consumer-side
// Registry. Both walks are safe to call concurrently and safe to re-enter
// recursively: neither Outbound nor Inbound holds a lock across the
// recursive descent, since handle.Table and remote.Registry each guard only
// their own single-level map operation.
type Marshaller struct {
	table    *handle.Table
	registry *remote.Registry
	invoker  InvokerFactory
}

// New returns a Marshaller bound to table (for outbound substitution) and
// registry (for inbound substitution), using invoker to build callables for
// newly materialized remote references.
func New(table *handle.Table, registry *remote.Registry, invoker InvokerFactory) *Marshaller {
	return &Marshaller{table: table, registry: registry, invoker: invoker}
}

// Outbound walks v and replaces every *handle.Func it finds with a
// wire.HandleRef, allocating (or reusing, by pointer identity) a handle id
// for each. v itself may be a *handle.Func, a []any, a map[string]any, or
// any scalar; nested slices and maps are walked recursively.
func (m *Marshaller) Outbound(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case *handle.Func:
		id := m.table.AllocateOrReuse(t)
		return wire.NewHandleRef(id)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = m.Outbound(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = m.Outbound(item)
		}
		return out
	default:
		return v
	}
}

// Inbound walks v and replaces every wire.HandleRef it finds with a
// *remote.Ref callable bound through the Registry's dedup/GC machinery. The
// returned proxy is shared across repeated Inbound calls for the same
// handle id while it remains live.
func (m *Marshaller) Inbound(v any) any {
	if id, ok := wire.AsHandleRef(v); ok {
		return m.registry.Materialize(id, m.invoker(id))
	}
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = m.Inbound(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = m.Inbound(item)
		}
		return out
	default:
		return v
	}
}
