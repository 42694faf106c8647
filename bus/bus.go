// Package bus is the topic subscription table (C3): plugin name to ordered
// pattern list, with suffix-wildcard matching. Like registry, Manager holds
// no internal lock; dispatch.State serializes all access under its single
// mutation lock.
package bus

import "strings"

// Manager holds the current subscription table.
type Manager struct {
	subscriptions map[string][]string
}

// New creates an empty subscription table.
func New() *Manager {
	return &Manager{subscriptions: make(map[string][]string)}
}

// Subscribe replaces name's pattern list with patterns (full replace, not
// union — spec.md §4.3 and SPEC_FULL.md §F.3).
func (m *Manager) Subscribe(name string, patterns []string) {
	cp := make([]string, len(patterns))
	copy(cp, patterns)
	m.subscriptions[name] = cp
}

// Unsubscribe removes the listed patterns from name's subscription, if any.
// Patterns not present are silently ignored; an empty residual list leaves
// the entry present but empty.
func (m *Manager) Unsubscribe(name string, patterns []string) {
	existing, ok := m.subscriptions[name]
	if !ok {
		return
	}
	remove := make(map[string]struct{}, len(patterns))
	for _, p := range patterns {
		remove[p] = struct{}{}
	}
	kept := existing[:0:0]
	for _, p := range existing {
		if _, drop := remove[p]; !drop {
			kept = append(kept, p)
		}
	}
	m.subscriptions[name] = kept
}

// Remove drops name's subscription entry entirely, called when a plugin is
// deregistered.
func (m *Manager) Remove(name string) {
	delete(m.subscriptions, name)
}

// Has reports whether name has a subscription entry at all (used to decide
// transient vs. persistent connection lifecycle; see spec.md §4.4).
func (m *Manager) Has(name string) bool {
	_, ok := m.subscriptions[name]
	return ok
}

// Len reports the number of subscription-table entries, backing
// GetHealth's event_bus_subscribers field.
func (m *Manager) Len() int {
	return len(m.subscriptions)
}

// Matches reports every plugin name whose pattern set matches topic.
func (m *Manager) Matches(topic string) []string {
	var out []string
	for name, patterns := range m.subscriptions {
		if matchAny(patterns, topic) {
			out = append(out, name)
		}
	}
	return out
}

func matchAny(patterns []string, topic string) bool {
	for _, p := range patterns {
		if matchOne(p, topic) {
			return true
		}
	}
	return false
}

func matchOne(pattern, topic string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(topic, pattern[:len(pattern)-1])
	}
	return pattern == topic
}
