package signaling

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/streamview/signal-relay/internal/config"
	"github.com/streamview/signal-relay/internal/metrics"
)

func shortProbes(cfg *config.Config) {
	cfg.ProbeInterval = 50 * time.Millisecond
	cfg.ProbeTimeout = 150 * time.Millisecond
}

func TestLiveness_NoPongDisconnectsAndCleansUp(t *testing.T) {
	gw, ts := newTestGateway(t, shortProbes)
	a := dialGateway(t, ts)
	b := dialGateway(t, ts)

	room := createRoom(t, a, "Standup", "ada")
	adaID := room.Participants[0].ConnectionID
	joinRoom(t, b, room.ID, "bob")
	recvEvent(t, a, EventUserJoined)
	recvEvent(t, a, EventRequestOffer)

	// Swallow pings instead of acknowledging them.
	a.SetPingHandler(func(string) error { return nil })
	_ = a.SetReadDeadline(time.Time{})

	errCh := make(chan error, 1)
	go func() {
		for {
			if _, _, err := a.ReadMessage(); err != nil {
				errCh <- err
				return
			}
		}
	}()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("expected probe timeout to close the connection")
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timeout waiting for probe-driven disconnect")
	}

	var left struct {
		ConnectionID string `json:"connectionId"`
	}
	if err := json.Unmarshal(recvEvent(t, b, EventUserLeft), &left); err != nil {
		t.Fatalf("decode user-left: %v", err)
	}
	if left.ConnectionID != adaID {
		t.Fatalf("user-left connectionId = %q, want %q", left.ConnectionID, adaID)
	}

	waitFor(t, func() bool { return gw.metrics.Get(metrics.ProbeTimeouts) >= 1 })
	waitFor(t, func() bool { return len(gw.registry.Participants(room.ID)) == 1 })
}

func TestLiveness_PongKeepsConnectionAliveBeyondTimeout(t *testing.T) {
	_, ts := newTestGateway(t, shortProbes)
	c := dialGateway(t, ts)

	// A background reader processes pings; gorilla's default ping handler
	// replies with a pong automatically.
	frames := make(chan []byte, 8)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, raw, err := c.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			frames <- raw
		}
	}()

	time.Sleep(500 * time.Millisecond) // several probe timeouts worth

	select {
	case err := <-readErr:
		t.Fatalf("connection closed despite pongs: %v", err)
	default:
	}

	// Still serviceable: a request round-trips.
	sendEvent(t, c, EventCreateRoom, createRoomRequest{RoomName: "Late", Username: "ada"})
	select {
	case raw := <-frames:
		env, err := decodeEnvelope(raw)
		if err != nil || env.Event != EventRoomCreated {
			t.Fatalf("unexpected frame after keepalive: %s (err %v)", raw, err)
		}
	case err := <-readErr:
		t.Fatalf("read failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for room-created")
	}
}

func TestLiveness_TimeoutAfterLeaveDoesNotRetriggerCleanup(t *testing.T) {
	gw, ts := newTestGateway(t, shortProbes)
	a := dialGateway(t, ts)
	b := dialGateway(t, ts)

	room := createRoom(t, a, "Standup", "ada")
	joinRoom(t, b, room.ID, "bob")
	recvEvent(t, a, EventUserJoined)
	recvEvent(t, a, EventRequestOffer)

	sendEvent(t, a, EventLeaveRoom, map[string]any{})
	recvEvent(t, b, EventUserLeft)

	// The departed connection goes silent and is eventually dropped by the
	// probe. Its teardown must not produce a second user-left.
	a.SetPingHandler(func(string) error { return nil })
	_ = a.SetReadDeadline(time.Time{})
	go func() {
		for {
			if _, _, err := a.ReadMessage(); err != nil {
				return
			}
		}
	}()

	waitFor(t, func() bool { return gw.metrics.Get(metrics.ConnectionsClosed) >= 1 })
	expectSilence(t, b, 400*time.Millisecond)

	if n := len(gw.registry.Participants(room.ID)); n != 1 {
		t.Fatalf("room membership = %d, want 1", n)
	}
}
