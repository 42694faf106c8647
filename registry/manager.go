// Package registry is the in-memory plugin table (C2): name-keyed plugin
// metadata with no internal locking of its own. Every mutation in this
// package is called only from dispatch.State under the daemon's single
// mutation lock (see spec §5); Manager assumes the caller already holds it.
package registry

import (
	"errors"

	"github.com/pandemicd/pandemic/protocol"
)

// ErrNotFound is returned by Get and Deregister for an unknown plugin name.
var ErrNotFound = errors.New("plugin not found")

// Manager holds the current plugin registry.
type Manager struct {
	plugins map[string]protocol.Plugin
}

// New creates an empty registry.
func New() *Manager {
	return &Manager{plugins: make(map[string]protocol.Plugin)}
}

// Register inserts or overwrites p, keyed by p.Name. Replace is always the
// policy (last-write-wins; see SPEC_FULL.md §F.1): a duplicate name
// overwrites the existing record rather than being rejected. The caller is
// responsible for stamping RegisteredAt before calling Register.
func (m *Manager) Register(p protocol.Plugin) {
	m.plugins[p.Name] = p
}

// Deregister removes name from the registry.
func (m *Manager) Deregister(name string) error {
	if _, ok := m.plugins[name]; !ok {
		return ErrNotFound
	}
	delete(m.plugins, name)
	return nil
}

// Get returns the plugin record for name.
func (m *Manager) Get(name string) (protocol.Plugin, error) {
	p, ok := m.plugins[name]
	if !ok {
		return protocol.Plugin{}, ErrNotFound
	}
	return p, nil
}

// List returns a snapshot of all registered plugins; order is unspecified.
func (m *Manager) List() []protocol.Plugin {
	out := make([]protocol.Plugin, 0, len(m.plugins))
	for _, p := range m.plugins {
		out = append(out, p)
	}
	return out
}

// Len reports the number of registered plugins, backing GetHealth's
// active_plugins field.
func (m *Manager) Len() int {
	return len(m.plugins)
}
