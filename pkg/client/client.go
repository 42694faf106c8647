// Package client is the reference client library spec.md §6 calls for: it
// reads lines, demultiplexes Event-tagged envelopes from Response lines,
// and serializes one in-flight request at a time, grounded in
// original_source/pandemic-common's PersistentClient and the teacher's
// functional-option ClientOption idiom (minus its gRPC/token plumbing,
// since the daemon socket carries no authentication — spec.md §1).
package client

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/pandemicd/pandemic/protocol"
)

type config struct {
	dialTimeout time.Duration
	logger      hclog.Logger
	eventBuffer int
}

// Option configures Dial.
type Option func(*config)

// WithDialTimeout bounds how long Dial waits to connect.
func WithDialTimeout(d time.Duration) Option {
	return func(c *config) { c.dialTimeout = d }
}

// WithLogger sets the logger used for background read-loop diagnostics.
func WithLogger(logger hclog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithEventBuffer sets the depth of the channel Events() reads from.
func WithEventBuffer(n int) Option {
	return func(c *config) { c.eventBuffer = n }
}

// Client is a connection to a pandemic daemon socket.
type Client struct {
	conn   net.Conn
	writer *protocol.Writer
	logger hclog.Logger

	callMu  sync.Mutex // serializes Call(): one in-flight request at a time
	pending chan protocol.Response

	events chan protocol.Event
	done   chan struct{}
}

// Dial connects to a pandemic daemon listening on a Unix domain socket at
// addr and starts the background read loop.
func Dial(addr string, opts ...Option) (*Client, error) {
	cfg := config{dialTimeout: 5 * time.Second, eventBuffer: 64}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = hclog.NewNullLogger()
	}

	conn, err := net.DialTimeout("unix", addr, cfg.dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}

	c := &Client{
		conn:    conn,
		writer:  protocol.NewWriter(conn),
		logger:  cfg.logger,
		pending: make(chan protocol.Response),
		events:  make(chan protocol.Event, cfg.eventBuffer),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Events returns the channel asynchronous Event envelopes arrive on.
// Callers should keep it drained; when the buffer is full the read loop
// drops the incoming event (logging a warning) rather than blocking, so
// pending Call responses keep flowing.
func (c *Client) Events() <-chan protocol.Event {
	return c.events
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call sends req and waits for the next Response, demultiplexing any
// Event envelopes that interleave ahead of it (spec.md §6: "clients MUST
// tolerate interleaving"). Only one Call may be in flight at a time; Call
// serializes concurrent callers with a mutex.
func (c *Client) Call(req protocol.Request) (protocol.Response, error) {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	if err := c.writer.WriteRequest(req); err != nil {
		return protocol.Response{}, err
	}

	select {
	case resp, ok := <-c.pending:
		if !ok {
			return protocol.Response{}, fmt.Errorf("connection closed before a response arrived")
		}
		return resp, nil
	case <-c.done:
		return protocol.Response{}, fmt.Errorf("connection closed before a response arrived")
	}
}

// Register, Deregister, ListPlugins, GetPlugin, Subscribe, Unsubscribe,
// Publish and GetHealth are thin Call wrappers, one per request variant
// (spec.md §4.1).

func (c *Client) Register(p protocol.Plugin) (protocol.Response, error) {
	return c.Call(protocol.Request{Type: protocol.ReqRegister, Plugin: &p})
}

func (c *Client) Deregister(name string) (protocol.Response, error) {
	return c.Call(protocol.Request{Type: protocol.ReqDeregister, Name: name})
}

func (c *Client) ListPlugins() ([]protocol.Plugin, error) {
	resp, err := c.Call(protocol.Request{Type: protocol.ReqListPlugins})
	if err != nil {
		return nil, err
	}
	if resp.Status != protocol.StatusSuccess {
		return nil, fmt.Errorf("%s: %s", resp.Status, resp.Message)
	}
	var plugins []protocol.Plugin
	if err := json.Unmarshal(resp.Data, &plugins); err != nil {
		return nil, fmt.Errorf("decoding plugin list: %w", err)
	}
	return plugins, nil
}

func (c *Client) GetPlugin(name string) (protocol.Plugin, error) {
	resp, err := c.Call(protocol.Request{Type: protocol.ReqGetPlugin, Name: name})
	if err != nil {
		return protocol.Plugin{}, err
	}
	if resp.Status != protocol.StatusSuccess {
		return protocol.Plugin{}, fmt.Errorf("%s: %s", resp.Status, resp.Message)
	}
	var p protocol.Plugin
	if err := json.Unmarshal(resp.Data, &p); err != nil {
		return protocol.Plugin{}, fmt.Errorf("decoding plugin: %w", err)
	}
	return p, nil
}

func (c *Client) Subscribe(topics []string) (protocol.Response, error) {
	return c.Call(protocol.Request{Type: protocol.ReqSubscribe, Topics: topics})
}

func (c *Client) Unsubscribe(topics []string) (protocol.Response, error) {
	return c.Call(protocol.Request{Type: protocol.ReqUnsubscribe, Topics: topics})
}

func (c *Client) Publish(topic string, data any) (protocol.Response, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("marshaling publish data: %w", err)
	}
	return c.Call(protocol.Request{Type: protocol.ReqPublish, Topic: topic, Data: raw})
}

func (c *Client) GetHealth() (protocol.HealthMetrics, error) {
	resp, err := c.Call(protocol.Request{Type: protocol.ReqGetHealth})
	if err != nil {
		return protocol.HealthMetrics{}, err
	}
	if resp.Status != protocol.StatusSuccess {
		return protocol.HealthMetrics{}, fmt.Errorf("%s: %s", resp.Status, resp.Message)
	}
	var m protocol.HealthMetrics
	if err := json.Unmarshal(resp.Data, &m); err != nil {
		return protocol.HealthMetrics{}, fmt.Errorf("decoding health metrics: %w", err)
	}
	return m, nil
}

// readLoop is the sole reader of the connection: it routes Event lines to
// Events() and Response lines to whichever Call is currently pending.
func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.events)

	r := protocol.NewReader(c.conn)
	for {
		line, err := r.ReadLine()
		if err != nil {
			return
		}
		resp, event, err := protocol.DecodeIncoming(line)
		if err != nil {
			c.logger.Warn("discarding malformed message from daemon", "error", err)
			continue
		}
		if event != nil {
			select {
			case c.events <- *event:
			default:
				c.logger.Warn("dropping event: Events() channel is full", "topic", event.Topic)
			}
			continue
		}
		c.pending <- *resp
	}
}
