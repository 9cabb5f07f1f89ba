// Package endpoint binds a Transport to an exported value (server role,
// CreateModule) and/or to a remote module (client role, UseModule), and
// owns namespace scoping, message-type dispatch, and chunk reassembly.
// Both roles share one core, since either side may originate requests and
// answer them: a server calling a callback it received is a client for
// that exchange.
package endpoint

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loopwire/transporter/auditlog"
	"github.com/loopwire/transporter/dispatch"
	"github.com/loopwire/transporter/handle"
	"github.com/loopwire/transporter/marshal"
	"github.com/loopwire/transporter/remote"
	"github.com/loopwire/transporter/session"
	"github.com/loopwire/transporter/wire"
)

// scopeKey identifies one (transport, namespace) binding. Transport values
// used with CreateModule must have a comparable dynamic type
// (MemoryTransport, a *net.Conn wrapper, etc.) for this to work; the zero
// cost of a map lookup is preferred over threading an explicit identity
// string through every constructor.
type scopeKey struct {
	transport Transport
	namespace string
}

var (
	scopeMu sync.Mutex
	scopes  = make(map[scopeKey]struct{})
)

func claimScope(t Transport, namespace string) error {
	scopeMu.Lock()
	defer scopeMu.Unlock()
	k := scopeKey{t, namespace}
	if _, exists := scopes[k]; exists {
		return wire.NewError(wire.KindScopeConflict, "namespace %q already bound on this transport", namespace)
	}
	scopes[k] = struct{}{}
	return nil
}

func releaseScope(t Transport, namespace string) {
	scopeMu.Lock()
	delete(scopes, scopeKey{t, namespace})
	scopeMu.Unlock()
}

// core is the shared machinery behind both Server and Client: the owner-
// side handle table for whatever this endpoint exports (functions reached
// in its own exported tree, plus any callback it sends as an apply
// argument or returns as a result), the
// consumer-side registry for callbacks it receives from the peer, the
// dispatcher for requests this endpoint originates, and the marshaller
// tying the three together.
type core struct {
	post       Transport // carries outgoing frames (requests and replies)
	listen     Transport // delivers incoming frames
	namespace  string
	codec      wire.Codec
	timeout    time.Duration
	table      *handle.Table
	registry   *remote.Registry
	dispatcher *dispatch.Dispatcher
	marshaller *marshal.Marshaller
	reasm      *wire.Reassembler
	exported   any // nil for a pure client

	// scopeOwner is the transport a ScopeConflict claim was registered
	// against, set only for createModule. A pure client never claims a
	// scope, so teardown has nothing to free.
	scopeOwner Transport

	unsubscribe func()
	sup         *session.Supervisor
	debug       bool

	// audit and sessionID are optional: nil unless WithAuditLog/
	// WithClientAuditLog was passed, in which case every garbage_collect
	// notice this endpoint sends or receives is durably recorded alongside
	// session open and close.
	audit     *auditlog.Log
	sessionID string
}

// newCore builds a core whose outgoing frames post to postT and whose
// incoming frames are delivered through listenT. CreateModule passes the
// same transport for both; UseModule passes its "to" transport for post
// and its "from" transport for listen, which may coincide on a single
// bidirectional connection or differ on a request/response split.
func newCore(postT, listenT Transport, namespace string, codec wire.Codec, timeout time.Duration, exported any) *core {
	c := &core{
		post:      postT,
		listen:    listenT,
		namespace: namespace,
		codec:     codec,
		timeout:   timeout,
		table:     handle.New(),
		reasm:     wire.NewReassembler(),
		exported:  exported,
	}
	c.dispatcher = dispatch.New(namespace, codec, c.postEncoded)
	c.registry = remote.New(c.sendGarbageCollect)
	c.marshaller = marshal.New(c.table, c.registry, c.invokerFor)
	c.unsubscribe = listenT.AddEventListener(c.onFrame)
	c.sup = session.New(c.teardown)
	c.LogInfo("session opened")
	return c
}

// attachAudit enables durable logging of this endpoint's session lifecycle
// and garbage-collect events. sessionID defaults to a fresh uuid when empty.
// Must be called before the endpoint does any work, since it immediately
// records EventSessionOpened.
func (c *core) attachAudit(auditLog *auditlog.Log, sessionID string) {
	if auditLog == nil {
		return
	}
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	c.audit = auditLog
	c.sessionID = sessionID
	_ = c.audit.RecordSessionOpened(c.sessionID, c.namespace)
}

// LogInfo, LogDebug, and LogError are namespace-prefixed stdlib logging
// helpers, with LogDebug gated behind c.debug.
func (c *core) LogInfo(format string, args ...any) {
	log.Printf("endpoint %q: "+format, append([]any{c.namespace}, args...)...)
}

func (c *core) LogDebug(format string, args ...any) {
	if c.debug {
		log.Printf("endpoint %q [DEBUG]: "+format, append([]any{c.namespace}, args...)...)
	}
}

func (c *core) LogError(format string, args ...any) {
	log.Printf("endpoint %q [ERROR]: "+format, append([]any{c.namespace}, args...)...)
}

func (c *core) postEncoded(frame string) error {
	return c.post.PostMessage(frame)
}

// postDirect chunks, encodes, and posts msg without going through the
// Dispatcher's pending-request table: used for replies, where the request
// id we echo back already identifies the exchange on the peer's side.
func (c *core) postDirect(msg *wire.Message) error {
	msg.Scope = c.namespace
	msg.Source = wire.SourceTag
	frames, err := wire.ChunkPayload(msg, c.codec.Budget())
	if err != nil {
		return err
	}
	for _, f := range frames {
		encoded, err := c.codec.Encode(f)
		if err != nil {
			return err
		}
		if err := c.post.PostMessage(encoded); err != nil {
			return err
		}
	}
	return nil
}

func (c *core) sendGarbageCollect(handleID uint64) {
	if c.audit != nil {
		_ = c.audit.RecordGarbageCollect(c.sessionID, handleID)
	}
	_ = c.postDirect(&wire.Message{Type: wire.TypeGarbageCollect, GCHandle: handleID})
}

// invokerFor builds the remote.Invoker used by a materialized proxy for
// peer handle id: calling it issues an apply addressed at that handle and
// blocks for the matching set/error reply.
func (c *core) invokerFor(id uint64) remote.Invoker {
	return func(handleID uint64, args []any) (any, error) {
		if err := c.sup.Guard(); err != nil {
			return nil, err
		}
		outArgs, _ := c.marshaller.Outbound(args).([]any)
		h := handleID
		reply, err := c.dispatcher.Request(context.Background(), &wire.Message{
			Type:   wire.TypeApply,
			Handle: &h,
			Args:   outArgs,
		}, c.timeout)
		if err != nil {
			return nil, err
		}
		return c.marshaller.Inbound(reply.Value), nil
	}
}

// onFrame is the Transport listener: decode, verify source and scope,
// reassemble if chunked, then dispatch by message type. Malformed frames
// and frames that fail the source/scope check are dropped silently;
// replying to unrelated traffic would only amplify it.
func (c *core) onFrame(f Frame) {
	frag, err := c.codec.Decode(f.Data)
	if err != nil {
		return
	}
	if frag.Source != wire.SourceTag || frag.Scope != c.namespace {
		return
	}

	msg, complete, err := c.reasm.Add(frag)
	if err != nil || !complete {
		return
	}

	switch msg.Type {
	case wire.TypeSet, wire.TypeError:
		c.dispatcher.Resolve(msg)
	case wire.TypeGet:
		go c.handleGet(msg)
	case wire.TypeApply:
		go c.handleApply(msg)
	case wire.TypeGarbageCollect:
		if c.audit != nil {
			_ = c.audit.RecordGarbageCollect(c.sessionID, msg.GCHandle)
		}
		// The peer sends at most one notice per handle, however many
		// times the function was marshalled, so the entry goes entirely.
		c.table.Drop(msg.GCHandle)
	case wire.TypePing:
		go c.handlePing(msg)
	}
}

func (c *core) handleGet(msg *wire.Message) {
	if c.exported == nil {
		_ = c.postDirect(errorReply(msg, wire.NewError(wire.KindPathNotFound, "endpoint exports nothing")))
		return
	}
	v, err := resolvePath(c.exported, msg.Path)
	if err != nil {
		c.LogDebug("get %v: %v", msg.Path, err)
		_ = c.postDirect(errorReply(msg, err))
		return
	}
	_ = c.postDirect(&wire.Message{Type: wire.TypeSet, ID: msg.ID, Value: c.marshaller.Outbound(v)})
}

func (c *core) handleApply(msg *wire.Message) {
	fn, err := c.resolveCallable(msg)
	if err != nil {
		c.LogDebug("apply %v: %v", msg.Path, err)
		_ = c.postDirect(errorReply(msg, err))
		return
	}

	args, _ := c.marshaller.Inbound(msg.Args).([]any)
	result, err := fn(args)
	if err != nil {
		c.LogError("apply %v: %v", msg.Path, err)
		_ = c.postDirect(errorReply(msg, wire.NewError(wire.KindRemoteError, "%v", err)))
		return
	}
	_ = c.postDirect(&wire.Message{Type: wire.TypeSet, ID: msg.ID, Value: c.marshaller.Outbound(result)})
}

// handlePing answers with a set reply so the pong correlates through the
// sender's dispatcher like any other response. Replying with another ping
// would bounce between the two endpoints forever.
func (c *core) handlePing(msg *wire.Message) {
	_ = c.postDirect(&wire.Message{Type: wire.TypeSet, ID: msg.ID, Value: "pong"})
}

// resolveCallable finds the function an apply targets: by Handle if this
// request invokes a callback the peer previously received from us, or by
// Path if it invokes something in our exported tree.
func (c *core) resolveCallable(msg *wire.Message) (handle.Func, error) {
	if msg.Handle != nil {
		return c.table.Resolve(*msg.Handle)
	}
	if c.exported == nil {
		return nil, wire.NewError(wire.KindPathNotFound, "endpoint exports nothing")
	}
	v, err := resolvePath(c.exported, msg.Path)
	if err != nil {
		return nil, err
	}
	fn, ok := v.(*handle.Func)
	if !ok {
		return nil, wire.NewError(wire.KindPathNotFound, "value at path is not callable")
	}
	return *fn, nil
}

func errorReply(msg *wire.Message, err error) *wire.Message {
	kind := wire.KindRemoteError
	text := err.Error()
	if perr, ok := err.(*wire.Error); ok {
		kind = perr.Kind
		text = perr.Msg
	}
	return &wire.Message{Type: wire.TypeError, ID: msg.ID, Kind: kind, Message: text}
}

// resolvePath walks root by successive path segments. Segments address a
// map[string]any by key or a []any by non-negative integer index.
func resolvePath(root any, path []string) (any, error) {
	cur := root
	for _, seg := range path {
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[seg]
			if !ok {
				return nil, wire.NewError(wire.KindPathNotFound, "no such key %q", seg)
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, wire.NewError(wire.KindPathNotFound, "index %q out of range", seg)
			}
			cur = v[idx]
		default:
			return nil, wire.NewError(wire.KindPathNotFound, "path segment %q has no children", seg)
		}
	}
	return cur, nil
}

// teardown removes the transport listener, frees the (transport,
// namespace) scope, and rejects every pending request with SessionClosed.
// The handle table's entries are left in place, not cleared.
// It is invoked by c.sup exactly once regardless of how many times
// release() is called.
func (c *core) teardown() {
	c.unsubscribe()
	if c.scopeOwner != nil {
		releaseScope(c.scopeOwner, c.namespace)
	}
	c.dispatcher.Close()
	if c.audit != nil {
		_ = c.audit.RecordSessionClosed(c.sessionID)
	}
	c.LogInfo("session closed")
}

// release runs teardown through the session state machine: idempotent,
// and Closing/Closed sessions reject new requests via c.sup.Guard from the
// moment teardown starts. In-flight requests are rejected with
// SessionClosed rather than left waiting for their replies.
func (c *core) release() {
	c.sup.Release()
}
