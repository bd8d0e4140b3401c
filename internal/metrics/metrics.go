// Package metrics is a minimal, concurrency-safe counter registry for the
// relay's internal events, exposed in Prometheus' text format.
package metrics

import "sync"

// Counter names. Kept as plain strings so call sites read naturally in logs
// and in the /metrics output.
const (
	ConnectionsOpened   = "connections_opened"
	ConnectionsClosed   = "connections_closed"
	RoomsCreated        = "rooms_created"
	RoomsDestroyed      = "rooms_destroyed"
	ParticipantsJoined  = "participants_joined"
	ParticipantsLeft    = "participants_left"
	ChatMessagesRelayed = "chat_messages_relayed"
	SignalsRelayed      = "signals_relayed"
	ProbeTimeouts       = "probe_timeouts"

	DropReasonRateLimited   = "dropped_rate_limited"
	DropReasonOversized     = "dropped_oversized"
	DropReasonQueueFull     = "dropped_send_queue_full"
	DropReasonUnknownEvent  = "dropped_unknown_event"
	DropReasonUnknownTarget = "dropped_unknown_target"
)

type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of every counter.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
