package endpoint

import (
	"time"

	"github.com/loopwire/transporter/auditlog"
	"github.com/loopwire/transporter/wire"
)

// Server is the result of CreateModule: an exported value bound to a
// transport and namespace, ready to answer inbound get/apply/
// garbage_collect/ping messages.
type Server struct {
	core *core
}

// ServerOption configures CreateModule.
type ServerOption func(*serverOptions)

type serverOptions struct {
	namespace string
	codec     wire.Codec
	timeout   time.Duration
	audit     *auditlog.Log
	sessionID string
	debug     bool
}

// WithAuditLog durably records this module's session lifecycle and
// garbage-collect events to log, under sessionID (a fresh uuid if empty).
func WithAuditLog(log *auditlog.Log, sessionID string) ServerOption {
	return func(o *serverOptions) { o.audit, o.sessionID = log, sessionID }
}

// WithDebug enables verbose per-request logging.
func WithDebug(debug bool) ServerOption {
	return func(o *serverOptions) { o.debug = debug }
}

// WithNamespace partitions multiple modules over one transport.
func WithNamespace(ns string) ServerOption {
	return func(o *serverOptions) { o.namespace = ns }
}

// WithCodec overrides the default JSONCodec.
func WithCodec(c wire.Codec) ServerOption {
	return func(o *serverOptions) { o.codec = c }
}

// WithTimeout overrides the per-request reply deadline used for requests
// this endpoint originates (calling back into callbacks it receives).
func WithTimeout(d time.Duration) ServerOption {
	return func(o *serverOptions) { o.timeout = d }
}

const defaultNamespace = ""

// DefaultTimeout is the per-request reply deadline used when no
// WithTimeout/WithClientTimeout option is given.
const DefaultTimeout = 30 * time.Second

// CreateModule binds export at (transport, namespace), making it reachable
// to a peer's useModule call over the same transport. A second
// CreateModule for a colliding (transport, namespace) fails with
// ScopeConflict.
func CreateModule(transport Transport, export any, opts ...ServerOption) (*Server, error) {
	o := serverOptions{namespace: defaultNamespace, codec: wire.NewJSONCodec(), timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	if err := claimScope(transport, o.namespace); err != nil {
		return nil, err
	}

	c := newCore(transport, transport, o.namespace, o.codec, o.timeout, export)
	c.scopeOwner = transport
	c.debug = o.debug
	c.attachAudit(o.audit, o.sessionID)
	return &Server{core: c}, nil
}

// Release detaches the listener, rejects pending requests with
// SessionClosed, and frees the namespace for reuse. The handle table's
// entries are not cleared. Idempotent.
func (s *Server) Release() {
	s.core.release()
}
