// Package conn is the connection table (C4): per-accepted-connection state,
// a monotonically assigned id, an at-most-one bound plugin name, and the
// single outbound event channel the per-connection task drains. Manager
// holds no internal lock; dispatch.State serializes all access under its
// single mutation lock.
package conn

import (
	"errors"
	"sync"

	"github.com/pandemicd/pandemic/protocol"
)

// ErrAlreadyBound is returned by Bind when the connection already has a
// different plugin name bound to it (spec.md §9 Open Question 2: rejected,
// matching invariant §3.3 — no two connections share a bound plugin name,
// and no connection silently steals a second one).
var ErrAlreadyBound = errors.New("connection already bound to a different plugin")

// ErrNameBoundElsewhere is returned by Bind when name is already bound to a
// different, still-open connection (invariant §3.3).
var ErrNameBoundElsewhere = errors.New("plugin name already bound to another connection")

// ErrNotFound is returned for an unknown connection id.
var ErrNotFound = errors.New("connection not found")

// defaultEventBuffer is used when no explicit buffer depth is configured.
const defaultEventBuffer = 64

// Connection is one accepted connection's daemon-side bookkeeping. The
// socket plumbing itself lives in package daemon; this struct only tracks
// what the dispatcher needs to know about the connection.
type Connection struct {
	ID     uint64
	Plugin string // empty until Register binds it
	Events chan protocol.Event

	dropOnce sync.Once
	drop     chan struct{}
}

// DropSignal returns a channel closed once this connection has been marked
// for drop (outbound channel overflow; spec.md §9 Open Question 6). The
// per-connection task selects on it alongside the socket read and the
// Events channel.
func (c *Connection) DropSignal() <-chan struct{} {
	return c.drop
}

// MarkForDrop signals the owning per-connection task to close the
// connection. Safe to call more than once.
func (c *Connection) MarkForDrop() {
	c.dropOnce.Do(func() { close(c.drop) })
}

// Manager holds the connection table.
type Manager struct {
	conns       map[uint64]*Connection
	nextID      uint64
	eventBuffer int
}

// New creates an empty connection table. eventBuffer configures each
// connection's outbound channel depth (SPEC_FULL.md §E); 0 uses the
// default.
func New(eventBuffer int) *Manager {
	if eventBuffer <= 0 {
		eventBuffer = defaultEventBuffer
	}
	return &Manager{conns: make(map[uint64]*Connection), eventBuffer: eventBuffer}
}

// Add allocates a fresh monotonic connection id and inserts its record.
// Connection ids are never reused (invariant §3.5).
func (m *Manager) Add() *Connection {
	m.nextID++
	c := &Connection{ID: m.nextID, Events: make(chan protocol.Event, m.eventBuffer), drop: make(chan struct{})}
	m.conns[c.ID] = c
	return c
}

// Remove deletes id's record. It does not close the Events channel; the
// per-connection task that owns the read side is responsible for its own
// shutdown once it observes the socket close.
func (m *Manager) Remove(id uint64) {
	delete(m.conns, id)
}

// Get returns id's connection record.
func (m *Manager) Get(id uint64) (*Connection, error) {
	c, ok := m.conns[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

// Bind sets id's bound plugin name. Re-binding to the same name is a no-op
// success (idempotent refresh); re-binding id to a different name is
// rejected with ErrAlreadyBound (SPEC_FULL.md §F.2). Binding name to a
// second, distinct connection while it is still bound elsewhere is rejected
// with ErrNameBoundElsewhere — invariant §3.3 requires at most one
// connection hold a given plugin name at a time, and checking only id's own
// prior binding can't see a collision coming from a different connection.
func (m *Manager) Bind(id uint64, name string) error {
	c, err := m.Get(id)
	if err != nil {
		return err
	}
	if c.Plugin != "" && c.Plugin != name {
		return ErrAlreadyBound
	}
	if other, ok := m.ConnectionFor(name); ok && other.ID != id {
		return ErrNameBoundElsewhere
	}
	c.Plugin = name
	return nil
}

// ConnectionFor returns the connection currently bound to plugin name, if
// any. Invariant §3.3 guarantees at most one match.
func (m *Manager) ConnectionFor(name string) (*Connection, bool) {
	for _, c := range m.conns {
		if c.Plugin == name {
			return c, true
		}
	}
	return nil, false
}

// Count returns the number of open connections, backing GetHealth's
// total_connections field.
func (m *Manager) Count() int {
	return len(m.conns)
}

// Send pushes e onto c's outbound channel without blocking. On overflow it
// reports false and marks c for drop (spec.md §9 Open Question 6); the
// event itself is not retried or queued, matching §4.3's "log a warning and
// skip" delivery-failure handling.
func Send(c *Connection, e protocol.Event) bool {
	select {
	case c.Events <- e:
		return true
	default:
		c.MarkForDrop()
		return false
	}
}
