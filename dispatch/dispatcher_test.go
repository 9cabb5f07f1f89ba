package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/loopwire/transporter/wire"
)

func TestRequestResolvesOnMatchingReply(t *testing.T) {
	codec := wire.NewJSONCodec()
	var posted []string
	d := New("A", codec, func(frame string) error {
		posted = append(posted, frame)
		return nil
	})

	done := make(chan struct{})
	var result *wire.Message
	var reqErr error
	go func() {
		result, reqErr = d.Request(context.Background(), &wire.Message{Type: wire.TypeGet, Path: []string{"x"}}, time.Second)
		close(done)
	}()

	// Give Request a moment to register its slot and post.
	time.Sleep(20 * time.Millisecond)
	if len(posted) != 1 {
		t.Fatalf("expected 1 posted frame, got %d", len(posted))
	}
	sent, err := codec.Decode(posted[0])
	if err != nil {
		t.Fatalf("decode posted frame: %v", err)
	}

	d.Resolve(&wire.Message{Type: wire.TypeSet, ID: sent.ID, Value: "hello"})
	<-done

	if reqErr != nil {
		t.Fatalf("unexpected error: %v", reqErr)
	}
	if result.Value != "hello" {
		t.Fatalf("expected value 'hello', got %v", result.Value)
	}
}

func TestRequestTimesOutWithoutReply(t *testing.T) {
	codec := wire.NewJSONCodec()
	d := New("A", codec, func(frame string) error { return nil })

	_, err := d.Request(context.Background(), &wire.Message{Type: wire.TypeGet}, 30*time.Millisecond)
	perr, ok := err.(*wire.Error)
	if !ok || perr.Kind != wire.KindTimeoutError {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if d.Pending() != 0 {
		t.Fatalf("expected the timed-out slot to be cleaned up, pending=%d", d.Pending())
	}
}

func TestLateReplyAfterTimeoutIsDroppedSilently(t *testing.T) {
	codec := wire.NewJSONCodec()
	var posted string
	d := New("A", codec, func(frame string) error {
		posted = frame
		return nil
	})

	_, err := d.Request(context.Background(), &wire.Message{Type: wire.TypeGet}, 20*time.Millisecond)
	if err == nil {
		t.Fatalf("expected a timeout error")
	}

	sent, _ := codec.Decode(posted)
	// Must not panic or block when resolving an id nobody is waiting on.
	d.Resolve(&wire.Message{Type: wire.TypeSet, ID: sent.ID, Value: "too late"})
}

func TestErrorReplyIsSurfacedAsError(t *testing.T) {
	codec := wire.NewJSONCodec()
	var posted string
	d := New("A", codec, func(frame string) error {
		posted = frame
		return nil
	})

	done := make(chan struct{})
	var reqErr error
	go func() {
		_, reqErr = d.Request(context.Background(), &wire.Message{Type: wire.TypeApply}, time.Second)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	sent, _ := codec.Decode(posted)
	d.Resolve(&wire.Message{Type: wire.TypeError, ID: sent.ID, Kind: wire.KindPathNotFound, Message: "no such path"})
	<-done

	perr, ok := reqErr.(*wire.Error)
	if !ok || perr.Kind != wire.KindPathNotFound {
		t.Fatalf("expected PathNotFound error, got %v", reqErr)
	}
}

func TestCloseRejectsPendingRequestsExactlyOnceAndIsIdempotent(t *testing.T) {
	codec := wire.NewJSONCodec()
	d := New("A", codec, func(frame string) error { return nil })

	done := make(chan struct{})
	var reqErr error
	go func() {
		_, reqErr = d.Request(context.Background(), &wire.Message{Type: wire.TypeGet}, time.Second)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)

	d.Close()
	d.Close() // idempotent
	<-done

	perr, ok := reqErr.(*wire.Error)
	if !ok || perr.Kind != wire.KindSessionClosed {
		t.Fatalf("expected SessionClosed, got %v", reqErr)
	}

	if _, err := d.Request(context.Background(), &wire.Message{Type: wire.TypeGet}, time.Second); err == nil {
		t.Fatalf("expected Request on a closed dispatcher to fail immediately")
	}
}

func TestSlowAsyncHandlerDoesNotTimeoutWithinBound(t *testing.T) {
	// The remote handler takes time but the reply still arrives within
	// the configured timeout, so no TimeoutError should be raised.
	codec := wire.NewJSONCodec()
	var posted string
	d := New("A", codec, func(frame string) error {
		posted = frame
		return nil
	})

	go func() {
		time.Sleep(60 * time.Millisecond)
		sent, _ := codec.Decode(posted)
		d.Resolve(&wire.Message{Type: wire.TypeSet, ID: sent.ID, Value: "ok"})
	}()

	result, err := d.Request(context.Background(), &wire.Message{Type: wire.TypeApply}, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Value != "ok" {
		t.Fatalf("expected value 'ok', got %v", result.Value)
	}
}
