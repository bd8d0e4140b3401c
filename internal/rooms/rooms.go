// Package rooms holds the in-memory room and participant state for the
// signaling relay. It is pure data logic: no I/O, no transport knowledge.
//
// A room exists in the registry exactly while it has at least one
// participant; removing the last participant deletes the room in the same
// call. All returned values are snapshots, never aliases of internal state.
package rooms

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Participant is a connection's membership record within a room.
//
// The activity flags default to {camera on, mic on, not sharing} when the
// participant joins and are updated via partial merges afterwards.
type Participant struct {
	ConnectionID    string `json:"connectionId"`
	Username        string `json:"username"`
	IsCameraEnabled bool   `json:"isCameraEnabled"`
	IsMicEnabled    bool   `json:"isMicEnabled"`
	IsScreenSharing bool   `json:"isScreenSharing"`
}

// ParticipantUpdate carries a partial participant state change. Nil fields
// leave the current value untouched.
type ParticipantUpdate struct {
	Username        *string `json:"username,omitempty"`
	IsCameraEnabled *bool   `json:"isCameraEnabled,omitempty"`
	IsMicEnabled    *bool   `json:"isMicEnabled,omitempty"`
	IsScreenSharing *bool   `json:"isScreenSharing,omitempty"`
}

func (u ParticipantUpdate) apply(p *Participant) {
	if u.Username != nil {
		p.Username = *u.Username
	}
	if u.IsCameraEnabled != nil {
		p.IsCameraEnabled = *u.IsCameraEnabled
	}
	if u.IsMicEnabled != nil {
		p.IsMicEnabled = *u.IsMicEnabled
	}
	if u.IsScreenSharing != nil {
		p.IsScreenSharing = *u.IsScreenSharing
	}
}

// Room is a snapshot of a room and its participants.
type Room struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	ChatEnabled  bool          `json:"chatEnabled"`
	Participants []Participant `json:"participants"`
}

type room struct {
	id           string
	name         string
	chatEnabled  bool
	participants map[string]Participant
}

func (r *room) snapshot() Room {
	return Room{
		ID:           r.id,
		Name:         r.name,
		ChatEnabled:  r.chatEnabled,
		Participants: sortedParticipants(r.participants),
	}
}

// Registry owns all rooms. It is safe for concurrent use, although the
// gateway funnels every mutation through a single dispatch goroutine.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*room

	// newID is swappable so tests can exercise the id-generation failure path.
	newID func() (string, error)
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*room),
		newID: randomID,
	}
}

func randomID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate room id: %w", err)
	}
	return id.String(), nil
}

// CreateRoom allocates a fresh room with no participants and returns its
// snapshot. The only failure mode is id generation; callers treat an error
// as "room unavailable", never as fatal.
func (r *Registry) CreateRoom(name string) (Room, error) {
	id, err := r.newID()
	if err != nil {
		return Room{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms[id] = &room{
		id:           id,
		name:         name,
		chatEnabled:  true,
		participants: make(map[string]Participant),
	}
	return Room{ID: id, Name: name, ChatEnabled: true, Participants: []Participant{}}, nil
}

// Room looks up a room snapshot. A miss is a normal outcome, not an error.
func (r *Registry) Room(roomID string) (Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return Room{}, false
	}
	return rm.snapshot(), true
}

// AddParticipant inserts connID into the room with default activity flags.
// Joining twice with the same connection id overwrites silently. Returns
// false when the room does not exist.
func (r *Registry) AddParticipant(roomID, connID, username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	rm.participants[connID] = Participant{
		ConnectionID:    connID,
		Username:        username,
		IsCameraEnabled: true,
		IsMicEnabled:    true,
		IsScreenSharing: false,
	}
	return true
}

// UpdateParticipant merges upd onto the participant's current record,
// preserving fields the update does not name. An unknown connection id gets
// a zero record with the update applied, mirroring the join-later behavior
// of the reference protocol. Returns false when the room does not exist.
func (r *Registry) UpdateParticipant(roomID, connID string, upd ParticipantUpdate) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	p := rm.participants[connID]
	p.ConnectionID = connID
	upd.apply(&p)
	rm.participants[connID] = p
	return true
}

// RemoveParticipant deletes the membership record. Removing the last
// participant deletes the room as a side effect. Returns false when either
// the room or the record did not exist.
func (r *Registry) RemoveParticipant(roomID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	if _, ok := rm.participants[connID]; !ok {
		return false
	}
	delete(rm.participants, connID)
	if len(rm.participants) == 0 {
		delete(r.rooms, roomID)
	}
	return true
}

// Participants returns a snapshot of the room's members ordered by
// connection id, or an empty slice when the room is absent.
func (r *Registry) Participants(roomID string) []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return []Participant{}
	}
	return sortedParticipants(rm.participants)
}

// RoomCount reports the number of live rooms.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func sortedParticipants(m map[string]Participant) []Participant {
	out := make([]Participant, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectionID < out[j].ConnectionID })
	return out
}
