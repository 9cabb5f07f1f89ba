package handle

import "testing"

func TestAllocateResolveRelease(t *testing.T) {
	table := New()

	id := table.Allocate(func(args []any) (any, error) { return "ok", nil })
	if id == 0 {
		t.Fatalf("id 0 is reserved for the exported root, Allocate must never return it")
	}

	fn, err := table.Resolve(id)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	result, err := fn(nil)
	if err != nil || result != "ok" {
		t.Fatalf("unexpected result: %v, %v", result, err)
	}

	table.Release(id)
	if _, err := table.Resolve(id); err == nil {
		t.Fatalf("expected UnknownHandle after release")
	}
}

func TestRetainKeepsEntryAliveAcrossDoubleRelease(t *testing.T) {
	table := New()
	id := table.Allocate(func(args []any) (any, error) { return nil, nil })

	if err := table.Retain(id); err != nil {
		t.Fatalf("Retain: %v", err)
	}
	// refs is now 2: release once, entry must still resolve.
	table.Release(id)
	if _, err := table.Resolve(id); err != nil {
		t.Fatalf("entry released too early: %v", err)
	}
	table.Release(id)
	if _, err := table.Resolve(id); err == nil {
		t.Fatalf("expected UnknownHandle after matching release")
	}
}

func TestDropRemovesEntryRegardlessOfRefcount(t *testing.T) {
	table := New()
	var fn Func = func(args []any) (any, error) { return nil, nil }

	id := table.AllocateOrReuse(&fn)
	table.AllocateOrReuse(&fn) // refs is now 2

	table.Drop(id)
	if _, err := table.Resolve(id); err == nil {
		t.Fatalf("expected UnknownHandle after Drop")
	}
	table.Drop(id) // duplicate notice must be a no-op
}

func TestReleaseUnknownIDIsNoop(t *testing.T) {
	table := New()
	table.Release(999) // must not panic
}

func TestRetainUnknownIDFails(t *testing.T) {
	table := New()
	if err := table.Retain(999); err == nil {
		t.Fatalf("expected UnknownHandle")
	}
}

func TestAllocateOrReuseDedupesByIdentity(t *testing.T) {
	table := New()
	var fn Func = func(args []any) (any, error) { return "shared", nil }

	first := table.AllocateOrReuse(&fn)
	second := table.AllocateOrReuse(&fn)
	if first != second {
		t.Fatalf("expected the same handle id for the same *Func, got %d and %d", first, second)
	}

	// Two releases are required before the shared entry disappears, since
	// AllocateOrReuse bumped refs to 2.
	table.Release(first)
	if _, err := table.Resolve(first); err != nil {
		t.Fatalf("entry released after only one release: %v", err)
	}
	table.Release(first)
	if _, err := table.Resolve(first); err == nil {
		t.Fatalf("expected UnknownHandle after the matching release")
	}
}

func TestIdsAreMonotonicAndNeverReused(t *testing.T) {
	table := New()
	a := table.Allocate(func(args []any) (any, error) { return nil, nil })
	table.Release(a)
	b := table.Allocate(func(args []any) (any, error) { return nil, nil })
	if b <= a {
		t.Fatalf("expected b > a, got a=%d b=%d", a, b)
	}
}
