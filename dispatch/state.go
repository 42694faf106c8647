// Package dispatch is the request dispatcher (C5): the single entry point
// that decodes a request against a connection id, mutates the registry,
// subscription table and connection table atomically under one process-wide
// lock, and returns a Response. It is the only writer into C2/C3/C4
// (spec.md §4.5, §5).
package dispatch

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/pandemicd/pandemic/bus"
	"github.com/pandemicd/pandemic/conn"
	"github.com/pandemicd/pandemic/internal/health"
	"github.com/pandemicd/pandemic/protocol"
	"github.com/pandemicd/pandemic/registry"
)

// State composes the three tables behind the single mutation lock spec.md
// §5 requires. It is safe for concurrent use; every exported method takes
// the lock itself.
type State struct {
	mu sync.Mutex

	registry *registry.Manager
	bus      *bus.Manager
	conns    *conn.Manager
	health   *health.Collector

	logger hclog.Logger
	now    func() time.Time
}

// New builds a State. eventBuffer configures each connection's outbound
// channel depth (SPEC_FULL.md §E); healthCollector builds GetHealth's
// metrics snapshot, including the uptime figure measured from the start
// time it was constructed with.
func New(eventBuffer int, healthCollector *health.Collector, logger hclog.Logger) *State {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &State{
		registry: registry.New(),
		bus:      bus.New(),
		conns:    conn.New(eventBuffer),
		health:   healthCollector,
		logger:   logger,
		now:      time.Now,
	}
}

// OnAccept allocates a fresh connection record for a newly accepted socket.
func (s *State) OnAccept() *conn.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns.Add()
}

// ConnectionCount reports the number of open connections, used by the
// listener to enforce MaxConnections without racing dispatch.
func (s *State) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns.Count()
}

// OnDisconnect implements the transient/persistent lifecycle rule of
// spec.md §4.4: a connection that registered a plugin but never subscribed
// is transient and leaves the plugin registered; a connection whose bound
// plugin has a live subscription entry is persistent, and disconnecting it
// removes the plugin and its subscription, emitting plugin.deregistered.
func (s *State) OnDisconnect(connID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.conns.Get(connID)
	if err != nil {
		return
	}
	s.conns.Remove(connID)

	if c.Plugin == "" {
		return
	}
	if !s.bus.Has(c.Plugin) {
		// Transient: registered but never subscribed. Keep the plugin.
		return
	}

	name := c.Plugin
	_ = s.registry.Deregister(name)
	s.bus.Remove(name)
	s.publishLocked(protocol.TopicPluginDeregistered, protocol.SourcePandemic, mustMarshal(map[string]string{"name": name}))
}

// Dispatch decodes and executes req on behalf of connID, returning the
// Response to write back synchronously.
func (s *State) Dispatch(connID uint64, req protocol.Request) protocol.Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch req.Type {
	case protocol.ReqRegister:
		return s.handleRegister(connID, req)
	case protocol.ReqDeregister:
		return s.handleDeregister(req)
	case protocol.ReqListPlugins:
		return s.handleListPlugins()
	case protocol.ReqGetPlugin:
		return s.handleGetPlugin(req)
	case protocol.ReqSubscribe:
		return s.handleSubscribe(connID, req)
	case protocol.ReqUnsubscribe:
		return s.handleUnsubscribe(connID, req)
	case protocol.ReqPublish:
		return s.handlePublish(connID, req)
	case protocol.ReqGetHealth:
		return s.handleGetHealth()
	default:
		return protocol.Err("unknown request type: " + req.Type)
	}
}

func (s *State) handleRegister(connID uint64, req protocol.Request) protocol.Response {
	if req.Plugin == nil || req.Plugin.Name == "" {
		return protocol.Err("register requires a plugin with a non-empty name")
	}

	if err := s.conns.Bind(connID, req.Plugin.Name); err != nil {
		return protocol.Err(err.Error())
	}

	now := s.now().UnixMilli()
	p := *req.Plugin
	p.RegisteredAt = &now

	// Publish before insert (SPEC_FULL.md §F.5): a subscriber matching
	// plugin.* that isn't the plugin being registered observes the event.
	// On a first registration the registrant has no subscription entry yet,
	// so it does not see its own event; a same-name re-registration on a
	// connection that already subscribed to a matching pattern does.
	s.publishLocked(protocol.TopicPluginRegistered, protocol.SourcePandemic, mustMarshal(p))
	s.registry.Register(p)

	return protocol.Success()
}

func (s *State) handleDeregister(req protocol.Request) protocol.Response {
	if err := s.registry.Deregister(req.Name); err != nil {
		return protocol.NotFound(err.Error())
	}
	s.bus.Remove(req.Name)
	s.publishLocked(protocol.TopicPluginDeregistered, protocol.SourcePandemic, mustMarshal(map[string]string{"name": req.Name}))
	return protocol.Success()
}

func (s *State) handleListPlugins() protocol.Response {
	return protocol.SuccessWithData(s.registry.List())
}

func (s *State) handleGetPlugin(req protocol.Request) protocol.Response {
	p, err := s.registry.Get(req.Name)
	if err != nil {
		return protocol.NotFound(err.Error())
	}
	return protocol.SuccessWithData(p)
}

func (s *State) handleSubscribe(connID uint64, req protocol.Request) protocol.Response {
	c, err := s.conns.Get(connID)
	if err != nil || c.Plugin == "" {
		return protocol.Err("subscribe requires a bound plugin")
	}
	s.bus.Subscribe(c.Plugin, req.Topics)
	return protocol.Success()
}

func (s *State) handleUnsubscribe(connID uint64, req protocol.Request) protocol.Response {
	c, err := s.conns.Get(connID)
	if err != nil || c.Plugin == "" {
		return protocol.Err("unsubscribe requires a bound plugin")
	}
	s.bus.Unsubscribe(c.Plugin, req.Topics)
	return protocol.Success()
}

func (s *State) handlePublish(connID uint64, req protocol.Request) protocol.Response {
	source := protocol.SourceUnknown
	if c, err := s.conns.Get(connID); err == nil && c.Plugin != "" {
		source = c.Plugin
	}
	s.publishLocked(req.Topic, source, req.Data)
	return protocol.Success()
}

func (s *State) handleGetHealth() protocol.Response {
	counts := health.Counts{
		ActivePlugins:       s.registry.Len(),
		TotalConnections:    s.conns.Count(),
		EventBusSubscribers: s.bus.Len(),
	}
	return protocol.SuccessWithData(s.health.Snapshot(counts))
}

// publishLocked fans event out to every matching subscriber's connection.
// Callers must already hold s.mu. A delivery failure (full channel) is
// logged and skipped for that subscriber only (spec.md §4.3); it does not
// propagate as an error to the publisher.
func (s *State) publishLocked(topic, source string, data json.RawMessage) {
	event := protocol.NewEvent(topic, source, data, s.now().UnixMilli())

	for _, name := range s.bus.Matches(topic) {
		c, ok := s.conns.ConnectionFor(name)
		if !ok {
			continue
		}
		if !conn.Send(c, event) {
			s.logger.Warn("dropping event for slow subscriber", "plugin", name, "topic", topic)
		}
	}
}

func mustMarshal(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		// Only reachable for values constructed entirely within this
		// package (plugin records, name maps); a marshal failure here
		// indicates a programming error, not bad input.
		panic(err)
	}
	return raw
}
