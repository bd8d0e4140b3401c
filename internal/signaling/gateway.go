package signaling

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/streamview/signal-relay/internal/config"
	"github.com/streamview/signal-relay/internal/metrics"
	"github.com/streamview/signal-relay/internal/origin"
	"github.com/streamview/signal-relay/internal/rooms"
)

type inboundEvent struct {
	from *client
	env  Envelope
}

// Gateway accepts WebSocket connections and dispatches signaling events.
//
// All state transitions (registration, room membership, fan-out) run on the
// single Run goroutine, so events from any one connection are applied in the
// order they arrived and each registry mutation is visible to every later
// event.
type Gateway struct {
	log      *slog.Logger
	cfg      config.Config
	registry *rooms.Registry
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader

	register   chan *client
	unregister chan *client
	inbound    chan inboundEvent
	done       chan struct{}

	// Owned by the Run goroutine.
	clients map[string]*client
	roomOf  map[string]string

	// Swappable for tests.
	newConnID    func() (string, error)
	newMessageID func() (string, error)
	createRoom   func(name string) (rooms.Room, error)
}

func NewGateway(cfg config.Config, logger *slog.Logger, registry *rooms.Registry, m *metrics.Metrics) *Gateway {
	g := &Gateway{
		log:      logger,
		cfg:      cfg,
		registry: registry,
		metrics:  m,

		register:   make(chan *client),
		unregister: make(chan *client),
		inbound:    make(chan inboundEvent),
		done:       make(chan struct{}),

		clients: make(map[string]*client),
		roomOf:  make(map[string]string),

		newConnID:    randomConnID,
		newMessageID: randomMessageID,
	}
	g.createRoom = registry.CreateRoom
	g.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			header := strings.TrimSpace(r.Header.Get("Origin"))
			if header == "" {
				return true
			}
			normalized, originHost, ok := origin.Normalize(header)
			return ok && origin.Allowed(normalized, originHost, r.Host, cfg.AllowedOrigins)
		},
	}
	return g
}

func randomConnID() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generate connection id: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}

func randomMessageID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate message id: %w", err)
	}
	return id.String(), nil
}

// Run processes registrations and inbound events until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) {
	defer close(g.done)

	for {
		select {
		case <-ctx.Done():
			for _, c := range g.clients {
				c.writeClose(websocket.CloseGoingAway, "server shutting down")
				_ = c.conn.Close()
			}
			return

		case c := <-g.register:
			g.clients[c.id] = c
			g.metrics.Inc(metrics.ConnectionsOpened)
			g.log.Info("connection opened", "connection_id", c.id, "remote_addr", c.conn.RemoteAddr().String())

		case c := <-g.unregister:
			g.dropClient(c)

		case ev := <-g.inbound:
			g.dispatch(ev.from, ev.env)
		}
	}
}

// ServeHTTP upgrades the request into a signaling connection.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		return
	}

	id, err := g.newConnID()
	if err != nil {
		g.log.Error("failed to allocate connection id", "err", err)
		_ = conn.Close()
		return
	}

	c := &client{
		id:   id,
		conn: conn,
		gw:   g,
		log:  g.log.With("connection_id", id),
		send: make(chan []byte, g.cfg.SendQueueSize),
	}

	select {
	case g.register <- c:
	case <-g.done:
		_ = conn.Close()
		return
	}

	go c.writePump()
	c.readPump()
}

func (g *Gateway) deregister(c *client) {
	select {
	case g.unregister <- c:
	case <-g.done:
	}
}

// dropClient removes the connection's state. It is idempotent: a second
// unregister for the same client is a no-op.
func (g *Gateway) dropClient(c *client) {
	if _, ok := g.clients[c.id]; !ok {
		return
	}
	g.leaveCurrentRoom(c)
	delete(g.clients, c.id)
	close(c.send)
	g.metrics.Inc(metrics.ConnectionsClosed)
	g.log.Info("connection closed", "connection_id", c.id)
}

func (g *Gateway) dispatch(c *client, env Envelope) {
	switch env.Event {
	case EventCreateRoom:
		g.handleCreateRoom(c, env.Data)
	case EventJoinRoom:
		g.handleJoinRoom(c, env.Data)
	case EventStreamStateChanged:
		g.handleStreamStateChanged(c, env.Data)
	case EventSendMessage:
		g.handleSendMessage(c, env.Data)
	case EventLeaveRoom:
		g.leaveCurrentRoom(c)
	case EventOffer, EventAnswer, EventICECandidate:
		g.handleDirectRelay(c, env.Event, env.Data)
	default:
		g.metrics.Inc(metrics.DropReasonUnknownEvent)
		g.log.Warn("dropping unknown event", "event", env.Event, "connection_id", c.id)
	}
}

func (g *Gateway) handleCreateRoom(c *client, data []byte) {
	var req createRoomRequest
	if err := unmarshalRequest(data, &req); err != nil {
		g.sendError(c, "invalid create-room payload")
		return
	}

	if g.cfg.MaxRooms > 0 && g.registry.RoomCount() >= g.cfg.MaxRooms {
		g.sendError(c, "too many rooms")
		return
	}

	// Allocate the new room before touching current membership so a failed
	// creation leaves the caller where it was.
	room, err := g.createRoom(req.RoomName)
	if err != nil {
		g.log.Error("failed to create room", "err", err, "connection_id", c.id)
		g.sendError(c, "room unavailable")
		return
	}

	// A connection is in at most one room; creating a new one leaves the old.
	g.leaveCurrentRoom(c)
	g.registry.AddParticipant(room.ID, c.id, req.Username)
	g.roomOf[c.id] = room.ID

	g.metrics.Inc(metrics.RoomsCreated)
	g.metrics.Inc(metrics.ParticipantsJoined)
	g.log.Info("room created", "room_id", room.ID, "room_name", room.Name, "connection_id", c.id)

	snapshot, _ := g.registry.Room(room.ID)
	g.sendTo(c, EventRoomCreated, map[string]any{"room": snapshot})
}

func (g *Gateway) handleJoinRoom(c *client, data []byte) {
	var req joinRoomRequest
	if err := unmarshalRequest(data, &req); err != nil {
		g.sendError(c, "invalid join-room payload")
		return
	}

	if _, ok := g.registry.Room(req.RoomID); !ok {
		g.sendError(c, "room not found")
		return
	}
	// Re-joining the current room is an idempotent overwrite, not a
	// leave-then-join: the caller keeps its seat and the room must survive.
	rejoining := g.roomOf[c.id] == req.RoomID
	if max := g.cfg.MaxParticipantsPerRoom; max > 0 {
		occupied := len(g.registry.Participants(req.RoomID))
		if rejoining {
			occupied--
		}
		if occupied >= max {
			g.sendError(c, "room is full")
			return
		}
	}

	if !rejoining {
		g.leaveCurrentRoom(c)
	}

	if !g.registry.AddParticipant(req.RoomID, c.id, req.Username) {
		// The room vanished while the caller was leaving its previous one.
		g.sendError(c, "room not found")
		return
	}
	g.roomOf[c.id] = req.RoomID

	if !rejoining {
		g.metrics.Inc(metrics.ParticipantsJoined)
	}
	g.log.Info("participant joined", "room_id", req.RoomID, "username", req.Username, "connection_id", c.id)

	participants := g.registry.Participants(req.RoomID)
	var joined rooms.Participant
	for _, p := range participants {
		if p.ConnectionID == c.id {
			joined = p
			break
		}
	}

	// Existing members learn about the newcomer and are asked to start
	// negotiation towards it; the newcomer gets the room and the roster.
	// They already know a re-joining member, so nothing is fanned out then.
	if !rejoining {
		for _, p := range participants {
			if p.ConnectionID == c.id {
				continue
			}
			peer, ok := g.clients[p.ConnectionID]
			if !ok {
				continue
			}
			g.sendTo(peer, EventUserJoined, joined)
			g.sendTo(peer, EventRequestOffer, map[string]any{"connectionId": c.id})
		}
	}

	snapshot, _ := g.registry.Room(req.RoomID)
	g.sendTo(c, EventRoomJoined, map[string]any{"room": snapshot})
	g.sendTo(c, EventSetParticipants, map[string]any{"participants": participants})
}

func (g *Gateway) handleStreamStateChanged(c *client, data []byte) {
	var req struct {
		roomScoped
		rooms.ParticipantUpdate
	}
	if err := unmarshalRequest(data, &req); err != nil {
		g.sendError(c, "invalid stream-state-changed payload")
		return
	}

	if !g.registry.UpdateParticipant(req.RoomID, c.id, req.ParticipantUpdate) {
		g.log.Debug("stream state change for unknown room", "room_id", req.RoomID, "connection_id", c.id)
		return
	}

	// The caller hears its own change back, keeping every member's view of
	// the room identical.
	payload, err := stampFields(data, map[string]any{"connectionId": c.id})
	if err != nil {
		g.log.Error("failed to encode stream state broadcast", "err", err)
		return
	}
	g.broadcastRaw(req.RoomID, EventStreamStateChanged, payload)
}

func (g *Gateway) handleSendMessage(c *client, data []byte) {
	var req roomScoped
	if err := unmarshalRequest(data, &req); err != nil {
		g.sendError(c, "invalid send-message payload")
		return
	}
	if _, ok := g.registry.Room(req.RoomID); !ok {
		g.log.Debug("chat message for unknown room", "room_id", req.RoomID, "connection_id", c.id)
		return
	}

	id, err := g.newMessageID()
	if err != nil {
		g.log.Error("failed to allocate message id", "err", err)
		return
	}
	payload, err := stampFields(data, map[string]any{"id": id})
	if err != nil {
		g.log.Error("failed to encode chat broadcast", "err", err)
		return
	}

	g.metrics.Inc(metrics.ChatMessagesRelayed)
	g.broadcastRaw(req.RoomID, EventChatMessage, payload)
}

// handleDirectRelay forwards an offer, answer or ICE candidate to a single
// peer, stamping the sender's connection id. Unknown targets are dropped
// silently: the peer may have disconnected while the frame was in flight.
func (g *Gateway) handleDirectRelay(c *client, event string, data []byte) {
	var req targeted
	if err := unmarshalRequest(data, &req); err != nil || req.Target == "" {
		g.sendError(c, "invalid "+event+" payload")
		return
	}

	peer, ok := g.clients[req.Target]
	if !ok {
		g.metrics.Inc(metrics.DropReasonUnknownTarget)
		return
	}

	payload, err := stampFields(data, map[string]any{"from": c.id}, "target")
	if err != nil {
		g.log.Error("failed to encode relay payload", "err", err, "event", event)
		return
	}

	g.metrics.Inc(metrics.SignalsRelayed)
	frame, err := marshalEvent(event, payload)
	if err != nil {
		g.log.Error("failed to encode relay frame", "err", err, "event", event)
		return
	}
	peer.enqueue(frame)
}

// leaveCurrentRoom removes the connection from its room, if any, notifying
// the remaining members. Safe to call when the connection is in no room.
func (g *Gateway) leaveCurrentRoom(c *client) {
	roomID, ok := g.roomOf[c.id]
	if !ok {
		return
	}
	delete(g.roomOf, c.id)

	if !g.registry.RemoveParticipant(roomID, c.id) {
		return
	}
	g.metrics.Inc(metrics.ParticipantsLeft)

	if _, alive := g.registry.Room(roomID); !alive {
		g.metrics.Inc(metrics.RoomsDestroyed)
		g.log.Info("room destroyed", "room_id", roomID)
		return
	}
	g.log.Info("participant left", "room_id", roomID, "connection_id", c.id)
	g.broadcast(roomID, EventUserLeft, map[string]any{"connectionId": c.id})
}

func (g *Gateway) sendError(c *client, message string) {
	g.sendTo(c, EventError, map[string]any{"error": message})
}

func (g *Gateway) sendTo(c *client, event string, data any) {
	frame, err := marshalEvent(event, data)
	if err != nil {
		g.log.Error("failed to encode event", "err", err, "event", event)
		return
	}
	c.enqueue(frame)
}

func (g *Gateway) broadcast(roomID, event string, data any) {
	frame, err := marshalEvent(event, data)
	if err != nil {
		g.log.Error("failed to encode broadcast", "err", err, "event", event)
		return
	}
	g.broadcastFrame(roomID, frame)
}

func (g *Gateway) broadcastRaw(roomID, event string, payload json.RawMessage) {
	g.broadcast(roomID, event, payload)
}

func (g *Gateway) broadcastFrame(roomID string, frame []byte) {
	for _, p := range g.registry.Participants(roomID) {
		if member, ok := g.clients[p.ConnectionID]; ok {
			member.enqueue(frame)
		}
	}
}
