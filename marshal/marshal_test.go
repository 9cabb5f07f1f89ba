package marshal

import (
	"testing"

	"github.com/loopwire/transporter/handle"
	"github.com/loopwire/transporter/remote"
	"github.com/loopwire/transporter/wire"
)

func newMarshaller() (*Marshaller, *handle.Table) {
	table := handle.New()
	reg := remote.New(func(uint64) {})
	m := New(table, reg, func(id uint64) remote.Invoker {
		return func(handleID uint64, args []any) (any, error) {
			return nil, nil
		}
	})
	return m, table
}

func TestOutboundReplacesFuncWithHandleRef(t *testing.T) {
	m, table := newMarshaller()
	var fn handle.Func = func(args []any) (any, error) { return "ok", nil }

	out := m.Outbound(&fn)
	ref, ok := out.(wire.HandleRef)
	if !ok {
		t.Fatalf("expected a wire.HandleRef, got %T", out)
	}
	if table.Len() != 1 {
		t.Fatalf("expected exactly one table entry, got %d", table.Len())
	}
	if ref.Kind != wire.HandleRefKind {
		t.Fatalf("unexpected kind %q", ref.Kind)
	}
}

func TestOutboundReusesIDForSamePointer(t *testing.T) {
	m, _ := newMarshaller()
	var fn handle.Func = func(args []any) (any, error) { return nil, nil }

	first := m.Outbound(&fn).(wire.HandleRef)
	wrapped := m.Outbound(map[string]any{"cb": &fn}).(map[string]any)
	second := wrapped["cb"].(wire.HandleRef)
	if first.Handle != second.Handle {
		t.Fatalf("expected the same handle id for the same *Func, got %d and %d", first.Handle, second.Handle)
	}
}

func TestOutboundWalksNestedStructures(t *testing.T) {
	m, table := newMarshaller()
	var a, b handle.Func
	a = func(args []any) (any, error) { return "a", nil }
	b = func(args []any) (any, error) { return "b", nil }

	in := []any{
		map[string]any{"onDone": &a, "label": "x"},
		[]any{&b, 42},
	}
	out := m.Outbound(in).([]any)
	first := out[0].(map[string]any)
	if _, ok := first["onDone"].(wire.HandleRef); !ok {
		t.Fatalf("expected HandleRef at nested map key")
	}
	if first["label"] != "x" {
		t.Fatalf("scalar sibling must pass through untouched")
	}
	second := out[1].([]any)
	if _, ok := second[0].(wire.HandleRef); !ok {
		t.Fatalf("expected HandleRef at nested slice index")
	}
	if second[1] != 42 {
		t.Fatalf("scalar sibling must pass through untouched")
	}
	if table.Len() != 2 {
		t.Fatalf("expected 2 distinct table entries, got %d", table.Len())
	}
}

func TestInboundMaterializesCallableProxy(t *testing.T) {
	m, _ := newMarshaller()
	ref := wire.NewHandleRef(9)

	out := m.Inbound(ref)
	proxy, ok := out.(*remote.Ref)
	if !ok {
		t.Fatalf("expected a *remote.Ref, got %T", out)
	}
	if proxy.ID() != 9 {
		t.Fatalf("expected id 9, got %d", proxy.ID())
	}
}

func TestInboundDecodesMapShapedHandleRef(t *testing.T) {
	// After a JSON round trip a HandleRef arrives as map[string]any, not
	// the typed struct.
	m, _ := newMarshaller()
	decoded := map[string]any{wire.HandleRefKindKey: wire.HandleRefKind, wire.HandleRefHandleKey: float64(4)}

	out := m.Inbound(decoded)
	proxy, ok := out.(*remote.Ref)
	if !ok {
		t.Fatalf("expected a *remote.Ref, got %T", out)
	}
	if proxy.ID() != 4 {
		t.Fatalf("expected id 4, got %d", proxy.ID())
	}
}

func TestInboundWalksNestedStructuresAndDedupes(t *testing.T) {
	m, _ := newMarshaller()
	args := map[string]any{
		"list": []any{wire.NewHandleRef(1), "plain"},
		"cb":   wire.NewHandleRef(1),
	}
	out := m.Inbound(args).(map[string]any)
	fromList := out["list"].([]any)[0].(*remote.Ref)
	fromKey := out["cb"].(*remote.Ref)
	if fromList != fromKey {
		t.Fatalf("expected the same materialized *Ref for the same handle id across the tree")
	}
	if out["list"].([]any)[1] != "plain" {
		t.Fatalf("scalar sibling must pass through untouched")
	}
}
