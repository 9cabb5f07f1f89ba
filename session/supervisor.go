// Package session implements the per-connection lifecycle supervisor:
// Idle, Running, Closing, Closed, with an idempotent Release that runs
// the owner's teardown callback (in package endpoint: detach listeners,
// reject pending requests) exactly once.
package session

import (
	"sync"

	"github.com/loopwire/transporter/wire"
)

// State is one of the four session lifecycle states.
type State int

const (
	Idle State = iota
	Running
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Running:
		return "Running"
	case Closing:
		return "Closing"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Supervisor guards a teardown callback with the session state machine. It
// starts Running; only Running accepts new requests (Guard returns nil),
// Closing and Closed both reject with SessionClosed.
type Supervisor struct {
	mu      sync.Mutex
	state   State
	release func()
}

// New returns a Running Supervisor that invokes release exactly once, the
// first time Release is called.
func New(release func()) *Supervisor {
	return &Supervisor{state: Running, release: release}
}

// Guard returns SessionClosed unless the session is currently Running.
// Callers that originate outbound requests or accept inbound ones should
// check this first.
func (s *Supervisor) Guard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Running {
		return wire.NewError(wire.KindSessionClosed, "session is %s", s.state)
	}
	return nil
}

// State reports the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Release transitions Running to Closing, runs the teardown callback, then
// transitions Closing to Closed. Calling it again on a Closing or Closed
// supervisor is a no-op.
func (s *Supervisor) Release() {
	s.mu.Lock()
	if s.state == Closing || s.state == Closed {
		s.mu.Unlock()
		return
	}
	s.state = Closing
	s.mu.Unlock()

	s.release()

	s.mu.Lock()
	s.state = Closed
	s.mu.Unlock()
}
