// Package auditlog is an optional, durable log of session lifecycle and
// garbage-collect events, keyed by session id, for postmortem debugging of
// a running transporterd. Transporter itself never stores application
// data; this records only its own protocol lifecycle events.
package auditlog

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// EventKind classifies one recorded audit event.
type EventKind string

const (
	EventSessionOpened  EventKind = "session_opened"
	EventSessionClosed  EventKind = "session_closed"
	EventGarbageCollect EventKind = "garbage_collect"
)

// Event is one durable audit record.
type Event struct {
	SessionID string    `json:"session_id"`
	Kind      EventKind `json:"kind"`
	Namespace string    `json:"namespace,omitempty"`
	HandleID  uint64    `json:"handle_id,omitempty"`
	At        time.Time `json:"at"`
}

// Log is a badger-backed append-only event store, one key per event,
// ordered within a session by nanosecond timestamp.
type Log struct {
	db     *badger.DB
	mu     sync.Mutex
	closed bool
}

// Open creates or reopens the audit log at dir.
func Open(dir string) (*Log, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &Log{db: db}, nil
}

// Close closes the underlying database. Idempotent.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.db.Close()
}

func (l *Log) record(ev Event) error {
	val, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	key := fmt.Sprintf("%s:%020d", ev.SessionID, ev.At.UnixNano())
	return l.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), val)
	})
}

// RecordSessionOpened logs a createModule/useModule binding.
func (l *Log) RecordSessionOpened(sessionID, namespace string) error {
	return l.record(Event{SessionID: sessionID, Kind: EventSessionOpened, Namespace: namespace, At: time.Now()})
}

// RecordSessionClosed logs a release().
func (l *Log) RecordSessionClosed(sessionID string) error {
	return l.record(Event{SessionID: sessionID, Kind: EventSessionClosed, At: time.Now()})
}

// RecordGarbageCollect logs a garbage_collect notice sent or received for
// handleID.
func (l *Log) RecordGarbageCollect(sessionID string, handleID uint64) error {
	return l.record(Event{SessionID: sessionID, Kind: EventGarbageCollect, HandleID: handleID, At: time.Now()})
}

// Events returns every event recorded for sessionID, in chronological
// order.
func (l *Log) Events(sessionID string) ([]Event, error) {
	var events []Event
	prefix := []byte(sessionID + ":")

	err := l.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			if err := item.Value(func(val []byte) error {
				var ev Event
				if err := json.Unmarshal(val, &ev); err != nil {
					return err
				}
				events = append(events, ev)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	return events, err
}
