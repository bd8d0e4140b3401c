package signaling

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/streamview/signal-relay/internal/metrics"
	"github.com/streamview/signal-relay/internal/ratelimit"
)

const writeWait = 10 * time.Second

// client wraps one WebSocket connection. The read pump is the connection's
// only reader and forwards decoded envelopes to the gateway; the write pump
// is the only writer and drains the send queue while driving the liveness
// probe.
type client struct {
	id   string
	conn *websocket.Conn
	gw   *Gateway
	log  *slog.Logger

	// send is drained by the write pump and closed by the gateway's dispatch
	// loop once the client is unregistered.
	send chan []byte

	// probeSentAt holds the UnixNano timestamp of the outstanding liveness
	// probe, or 0 when none is in flight. The write pump stamps it, the pong
	// handler (running on the read pump) clears it.
	probeSentAt atomic.Int64
}

func (c *client) readPump() {
	defer func() {
		c.gw.deregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(c.gw.cfg.MaxMessageBytes)
	c.conn.SetPongHandler(func(string) error {
		c.probeSentAt.Store(0)
		return nil
	})

	perSecond := int64(c.gw.cfg.MaxMessagesPerSecond)
	limiter := ratelimit.NewTokenBucket(ratelimit.RealClock{}, perSecond, perSecond)

	for {
		msgType, raw, err := c.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				c.gw.metrics.Inc(metrics.DropReasonOversized)
				c.log.Warn("closing connection, inbound message over size limit", "limit_bytes", c.gw.cfg.MaxMessageBytes)
			}
			return
		}
		if msgType != websocket.TextMessage {
			c.writeClose(websocket.CloseUnsupportedData, "expected text message")
			return
		}
		if !limiter.Allow(1) {
			c.gw.metrics.Inc(metrics.DropReasonRateLimited)
			c.log.Warn("closing connection, inbound message rate limit exceeded", "limit_per_second", perSecond)
			c.writeClose(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		env, err := decodeEnvelope(raw)
		if err != nil {
			c.writeClose(websocket.ClosePolicyViolation, "invalid message")
			return
		}

		select {
		case c.gw.inbound <- inboundEvent{from: c, env: env}:
		case <-c.gw.done:
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.gw.cfg.ProbeInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			if sentAt := c.probeSentAt.Load(); sentAt != 0 {
				if time.Since(time.Unix(0, sentAt)) >= c.gw.cfg.ProbeTimeout {
					c.gw.metrics.Inc(metrics.ProbeTimeouts)
					c.log.Warn("liveness probe timed out, closing connection",
						"timeout", c.gw.cfg.ProbeTimeout)
					// Closing the connection fails the read pump, which
					// drives the normal disconnect cleanup exactly once.
					return
				}
				continue
			}
			c.probeSentAt.Store(time.Now().UnixNano())
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue hands a pre-encoded frame to the write pump without blocking. A
// full queue means the consumer is too slow; the frame is dropped and
// counted rather than stalling the dispatch loop.
func (c *client) enqueue(msg []byte) {
	select {
	case c.send <- msg:
	default:
		c.gw.metrics.Inc(metrics.DropReasonQueueFull)
		c.log.Warn("dropping outbound frame, send queue full", "queue_size", cap(c.send))
	}
}

func (c *client) writeClose(code int, reason string) {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}
