// Package protocol defines the wire types exchanged between plugins and the
// pandemic daemon: newline-delimited JSON Requests, Responses, and Events,
// carried on a single bidirectional stream, one JSON document per line.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Plugin is a registered participant's metadata. RegisteredAt is stamped by
// the daemon on a successful Register and is never trusted from the wire.
type Plugin struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Description  *string           `json:"description,omitempty"`
	Config       map[string]string `json:"config,omitempty"`
	RegisteredAt *int64            `json:"registered_at,omitempty"` // unix millis
}

// Built-in lifecycle topics, emitted with Source "pandemic".
const (
	TopicPluginRegistered   = "plugin.registered"
	TopicPluginDeregistered = "plugin.deregistered"
)

// Source attributed to daemon-internal lifecycle events.
const SourcePandemic = "pandemic"

// Source attributed to a Publish issued on a connection with no bound
// plugin (permitted; see spec.md §7 and §9 Open Question 4).
const SourceUnknown = "unknown"

// Request is a tagged union of the eight operations a connection may send,
// discriminated by Type. Exactly the fields relevant to that variant are
// populated; the rest are left zero.
type Request struct {
	Type string `json:"type"`

	// Register
	Plugin *Plugin `json:"plugin,omitempty"`

	// Deregister, GetPlugin
	Name string `json:"name,omitempty"`

	// Subscribe, Unsubscribe
	Topics []string `json:"topics,omitempty"`

	// Publish
	Topic string          `json:"topic,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Request type discriminators.
const (
	ReqRegister    = "Register"
	ReqDeregister  = "Deregister"
	ReqListPlugins = "ListPlugins"
	ReqGetPlugin   = "GetPlugin"
	ReqSubscribe   = "Subscribe"
	ReqUnsubscribe = "Unsubscribe"
	ReqPublish     = "Publish"
	ReqGetHealth   = "GetHealth"
)

// Response status discriminators.
const (
	StatusSuccess  = "Success"
	StatusError    = "Error"
	StatusNotFound = "NotFound"
)

// Response is a tagged union discriminated by Status. Data is only ever set
// on a Success response; Message only on Error/NotFound. Responses are
// written synchronously, one per request, and never carry a "type" field —
// a line with a "status" key is always a Response.
type Response struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Success builds a bare Success response with no payload.
func Success() Response {
	return Response{Status: StatusSuccess}
}

// SuccessWithData marshals v into a Success response's Data field.
func SuccessWithData(v any) Response {
	raw, err := json.Marshal(v)
	if err != nil {
		return Err(fmt.Sprintf("failed to marshal response data: %v", err))
	}
	return Response{Status: StatusSuccess, Data: raw}
}

// Err builds an Error response.
func Err(message string) Response {
	return Response{Status: StatusError, Message: message}
}

// NotFound builds a NotFound response.
func NotFound(message string) Response {
	return Response{Status: StatusNotFound, Message: message}
}

// EventType is the literal "type" discriminator carried by every Event, so
// a client demultiplexing a stream of Response and Event lines can tell an
// asynchronous Event apart from a Response (which never has a Type field)
// without any other context.
const EventType = "Event"

// Event is the 4-tuple published on the bus, written as its own envelope:
// a topic, the plugin name that produced it ("pandemic" for daemon-internal
// lifecycle events, "unknown" for a Publish from an unbound connection),
// arbitrary payload data, and a server-assigned timestamp. Event is the
// only message type the daemon ever writes unsolicited, asynchronous to
// any particular request.
type Event struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	Source    string          `json:"source"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// NewEvent stamps the Type discriminator required on the wire.
func NewEvent(topic, source string, data json.RawMessage, timestamp int64) Event {
	return Event{Type: EventType, Topic: topic, Source: source, Data: data, Timestamp: timestamp}
}

// HealthMetrics is the Success payload of a GetHealth request (spec.md
// §4.5). LoadAverage is omitted on hosts where a 1-minute load figure isn't
// available.
type HealthMetrics struct {
	ActivePlugins       int      `json:"active_plugins"`
	TotalConnections    int      `json:"total_connections"`
	EventBusSubscribers int      `json:"event_bus_subscribers"`
	UptimeSeconds       float64  `json:"uptime_seconds"`
	MemoryUsedMB        float64  `json:"memory_used_mb"`
	MemoryTotalMB       float64  `json:"memory_total_mb"`
	CPUUsagePercent     float64  `json:"cpu_usage_percent"`
	LoadAverage         *float64 `json:"load_average,omitempty"`
}
