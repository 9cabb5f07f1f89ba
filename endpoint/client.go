package endpoint

import (
	"context"
	"time"

	"github.com/loopwire/transporter/auditlog"
	"github.com/loopwire/transporter/proxy"
	"github.com/loopwire/transporter/wire"
)

// Client is the result of UseModule: a root proxy.Handle bound to a
// (from, to) pair of transports. from and to may be the same Transport for
// a single bidirectional connection, or differ when requests and replies
// travel separate channels.
type Client struct {
	core *core
	root *proxy.Handle
}

// ClientOption configures UseModule.
type ClientOption func(*clientOptions)

type clientOptions struct {
	namespace string
	codec     wire.Codec
	timeout   time.Duration
	audit     *auditlog.Log
	sessionID string
	debug     bool
}

// WithClientAuditLog durably records this connection's session lifecycle
// and garbage-collect events to log, under sessionID (a fresh uuid if
// empty).
func WithClientAuditLog(log *auditlog.Log, sessionID string) ClientOption {
	return func(o *clientOptions) { o.audit, o.sessionID = log, sessionID }
}

// WithClientDebug enables verbose per-request logging.
func WithClientDebug(debug bool) ClientOption {
	return func(o *clientOptions) { o.debug = debug }
}

// UseModule returns the root proxy for namespace, sending outgoing
// requests over to and receiving replies (and unilateral
// garbage_collect/ping) over from.
func UseModule(from, to Transport, opts ...ClientOption) (*Client, error) {
	o := clientOptions{namespace: defaultNamespace, codec: wire.NewJSONCodec(), timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	c := newCore(to, from, o.namespace, o.codec, o.timeout, nil)
	c.debug = o.debug
	c.attachAudit(o.audit, o.sessionID)
	client := &Client{core: c}
	client.root = proxy.NewRoot(client)
	return client, nil
}

// WithClientNamespace selects which module on the peer to address.
func WithClientNamespace(ns string) ClientOption {
	return func(o *clientOptions) { o.namespace = ns }
}

// WithClientCodec overrides the default JSONCodec.
func WithClientCodec(c wire.Codec) ClientOption {
	return func(o *clientOptions) { o.codec = c }
}

// WithClientTimeout overrides the per-request reply deadline.
func WithClientTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) { o.timeout = d }
}

// Get implements proxy.Endpointer: issues a get at path and returns the
// inbound-marshalled resolved value.
func (cl *Client) Get(ctx context.Context, path []string) (any, error) {
	if err := cl.core.sup.Guard(); err != nil {
		return nil, err
	}
	reply, err := cl.core.dispatcher.Request(ctx, &wire.Message{Type: wire.TypeGet, Path: path}, cl.core.timeout)
	if err != nil {
		return nil, err
	}
	return cl.core.marshaller.Inbound(reply.Value), nil
}

// Apply implements proxy.Endpointer: issues an apply at path with
// outbound-marshalled args and returns the inbound-marshalled result.
func (cl *Client) Apply(ctx context.Context, path []string, args []any) (any, error) {
	if err := cl.core.sup.Guard(); err != nil {
		return nil, err
	}
	outArgs, _ := cl.core.marshaller.Outbound(args).([]any)
	reply, err := cl.core.dispatcher.Request(ctx, &wire.Message{Type: wire.TypeApply, Path: path, Args: outArgs}, cl.core.timeout)
	if err != nil {
		return nil, err
	}
	return cl.core.marshaller.Inbound(reply.Value), nil
}

// Root returns the root Handle of the remote module.
func (cl *Client) Root() *proxy.Handle {
	return cl.root
}

// Await is the publish-and-wait convenience form: equivalent to
// Root().Path(...).Await(ctx) but addressed directly by path segments.
func (cl *Client) Await(ctx context.Context, path ...string) (any, error) {
	return cl.Get(ctx, path)
}

// Ping round-trips a keepalive through the peer endpoint and reports how
// long it took. A peer that never answers surfaces as TimeoutError.
func (cl *Client) Ping(ctx context.Context) (time.Duration, error) {
	if err := cl.core.sup.Guard(); err != nil {
		return 0, err
	}
	start := time.Now()
	_, err := cl.core.dispatcher.Request(ctx, &wire.Message{Type: wire.TypePing}, cl.core.timeout)
	if err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// Release detaches the listener and rejects pending requests with
// SessionClosed. A client claims no namespace, so none is freed.
// Idempotent.
func (cl *Client) Release() {
	cl.core.release()
}
