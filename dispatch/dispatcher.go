// Package dispatch implements the per-endpoint request dispatcher: it
// correlates outgoing get/apply requests with incoming set/error replies,
// enforces a per-request timeout, and demultiplexes by request id.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/loopwire/transporter/wire"
)

// Poster posts one already-encoded frame to the transport. The Dispatcher
// never holds a transport directly, so it stays transport-agnostic.
type Poster func(frame string) error

type pendingRequest struct {
	reply chan *wire.Message
}

// Dispatcher owns the request id counter and the pending-response table
// for one endpoint. It is safe for concurrent use; the response channel is
// registered before the frame is sent, so a reply can never race past its
// slot.
type Dispatcher struct {
	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]*pendingRequest
	codec   wire.Codec
	post    Poster
	scope   string
	closed  bool
}

// New returns a Dispatcher that tags every outgoing request with scope and
// posts encoded frames via post.
func New(scope string, codec wire.Codec, post Poster) *Dispatcher {
	return &Dispatcher{
		pending: make(map[uint64]*pendingRequest),
		codec:   codec,
		post:    post,
		scope:   scope,
	}
}

// Request assigns an id to msg, posts it (possibly as several chunk
// frames, see wire.ChunkPayload), and waits up to timeout for a correlated
// set/error reply. The timeout bounds only the wait for that first reply:
// a slow remote handler whose reply still arrives within timeout never
// raises TimeoutError.
func (d *Dispatcher) Request(ctx context.Context, msg *wire.Message, timeout time.Duration) (*wire.Message, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, wire.NewError(wire.KindSessionClosed, "dispatcher closed")
	}
	d.nextID++
	id := d.nextID
	msg.ID = id
	msg.Scope = d.scope
	msg.Source = wire.SourceTag

	slot := &pendingRequest{reply: make(chan *wire.Message, 1)}
	d.pending[id] = slot
	d.mu.Unlock()

	cleanup := func() {
		d.mu.Lock()
		delete(d.pending, id)
		d.mu.Unlock()
	}

	frames, err := wire.ChunkPayload(msg, d.codec.Budget())
	if err != nil {
		cleanup()
		return nil, err
	}
	for _, frame := range frames {
		encoded, err := d.codec.Encode(frame)
		if err != nil {
			cleanup()
			return nil, err
		}
		if err := d.post(encoded); err != nil {
			cleanup()
			return nil, fmt.Errorf("post request %d: %w", id, err)
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply := <-slot.reply:
		if reply.Type == wire.TypeError {
			return nil, &wire.Error{Kind: reply.Kind, Msg: reply.Message}
		}
		return reply, nil
	case <-timer.C:
		cleanup()
		return nil, wire.NewError(wire.KindTimeoutError, "request %d timed out after %s", id, timeout)
	case <-ctx.Done():
		cleanup()
		return nil, ctx.Err()
	}
}

// Resolve delivers an inbound set/error reply to its correlated request. An
// id with no matching pending request is dropped silently; this covers
// both stray replies and replies that arrive after their own timeout
// already fired.
func (d *Dispatcher) Resolve(reply *wire.Message) {
	d.mu.Lock()
	slot, ok := d.pending[reply.ID]
	if ok {
		delete(d.pending, reply.ID)
	}
	d.mu.Unlock()

	if !ok {
		return
	}
	select {
	case slot.reply <- reply:
	default:
	}
}

// Close rejects every pending request with SessionClosed and marks the
// Dispatcher so that subsequent Request calls fail immediately. Idempotent.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	pending := d.pending
	d.pending = make(map[uint64]*pendingRequest)
	d.mu.Unlock()

	for id, slot := range pending {
		errMsg := &wire.Message{
			Type:    wire.TypeError,
			ID:      id,
			Kind:    wire.KindSessionClosed,
			Message: "session closed while request was pending",
		}
		select {
		case slot.reply <- errMsg:
		default:
		}
	}
}

// Pending reports the number of in-flight requests. Intended for tests and
// diagnostics.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
