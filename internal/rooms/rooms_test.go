package rooms

import (
	"errors"
	"testing"
)

func boolPtr(v bool) *bool { return &v }

func TestCreateRoom_FreshIDsAndChatEnabled(t *testing.T) {
	reg := NewRegistry()

	a, err := reg.CreateRoom("Standup")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	b, err := reg.CreateRoom("Retro")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	if a.ID == "" || b.ID == "" || a.ID == b.ID {
		t.Fatalf("expected distinct non-empty ids, got %q and %q", a.ID, b.ID)
	}
	if !a.ChatEnabled {
		t.Fatalf("expected chat enabled at creation")
	}
	if len(a.Participants) != 0 {
		t.Fatalf("expected empty participant set, got %d", len(a.Participants))
	}
}

func TestCreateRoom_IDGenerationFailure(t *testing.T) {
	reg := NewRegistry()
	reg.newID = func() (string, error) { return "", errors.New("entropy exhausted") }

	if _, err := reg.CreateRoom("doomed"); err == nil {
		t.Fatalf("expected error from id generation")
	}
	if reg.RoomCount() != 0 {
		t.Fatalf("failed creation must not leave a room behind")
	}
}

func TestAddParticipant_DefaultsAndIdempotentJoin(t *testing.T) {
	reg := NewRegistry()
	rm, _ := reg.CreateRoom("r")

	if !reg.AddParticipant(rm.ID, "conn-1", "alice") {
		t.Fatalf("add failed")
	}

	got := reg.Participants(rm.ID)
	if len(got) != 1 {
		t.Fatalf("participants = %d, want 1", len(got))
	}
	p := got[0]
	if !p.IsCameraEnabled || !p.IsMicEnabled || p.IsScreenSharing {
		t.Fatalf("unexpected default flags: %+v", p)
	}

	// Re-joining resets state back to defaults rather than failing.
	reg.UpdateParticipant(rm.ID, "conn-1", ParticipantUpdate{IsMicEnabled: boolPtr(false)})
	if !reg.AddParticipant(rm.ID, "conn-1", "alice") {
		t.Fatalf("idempotent re-join failed")
	}
	if p := reg.Participants(rm.ID)[0]; !p.IsMicEnabled {
		t.Fatalf("re-join did not restore defaults: %+v", p)
	}

	if reg.AddParticipant("no-such-room", "conn-1", "alice") {
		t.Fatalf("add against missing room must fail")
	}
}

func TestUpdateParticipant_PartialMergePreservesFields(t *testing.T) {
	reg := NewRegistry()
	rm, _ := reg.CreateRoom("r")
	reg.AddParticipant(rm.ID, "conn-1", "bob")

	if !reg.UpdateParticipant(rm.ID, "conn-1", ParticipantUpdate{IsCameraEnabled: boolPtr(false)}) {
		t.Fatalf("first update failed")
	}
	if !reg.UpdateParticipant(rm.ID, "conn-1", ParticipantUpdate{IsMicEnabled: boolPtr(false)}) {
		t.Fatalf("second update failed")
	}

	p := reg.Participants(rm.ID)[0]
	if p.IsCameraEnabled || p.IsMicEnabled {
		t.Fatalf("merge lost a field: %+v", p)
	}
	if p.Username != "bob" {
		t.Fatalf("merge clobbered username: %+v", p)
	}
	if !reg.UpdateParticipant(rm.ID, "conn-1", ParticipantUpdate{IsScreenSharing: boolPtr(true)}) {
		t.Fatalf("third update failed")
	}
	p = reg.Participants(rm.ID)[0]
	if p.IsCameraEnabled || p.IsMicEnabled || !p.IsScreenSharing {
		t.Fatalf("cumulative merge wrong: %+v", p)
	}
}

func TestUpdateParticipant_UnknownConnectionGetsZeroRecord(t *testing.T) {
	reg := NewRegistry()
	rm, _ := reg.CreateRoom("r")
	reg.AddParticipant(rm.ID, "conn-1", "a") // keeps the room alive

	if !reg.UpdateParticipant(rm.ID, "ghost", ParticipantUpdate{IsMicEnabled: boolPtr(false)}) {
		t.Fatalf("update for unknown participant should succeed")
	}

	for _, p := range reg.Participants(rm.ID) {
		if p.ConnectionID == "ghost" {
			if p.IsMicEnabled || p.IsCameraEnabled {
				t.Fatalf("zero record with update applied expected, got %+v", p)
			}
			return
		}
	}
	t.Fatalf("ghost record not stored")
}

func TestUpdateParticipant_MissingRoom(t *testing.T) {
	reg := NewRegistry()
	if reg.UpdateParticipant("nope", "c", ParticipantUpdate{}) {
		t.Fatalf("update against missing room must fail")
	}
}

func TestRemoveParticipant_LastRemovalDestroysRoom(t *testing.T) {
	reg := NewRegistry()
	rm, _ := reg.CreateRoom("r")
	reg.AddParticipant(rm.ID, "c1", "a")
	reg.AddParticipant(rm.ID, "c2", "b")

	if !reg.RemoveParticipant(rm.ID, "c1") {
		t.Fatalf("remove c1 failed")
	}
	if _, ok := reg.Room(rm.ID); !ok {
		t.Fatalf("room destroyed while a participant remains")
	}

	if !reg.RemoveParticipant(rm.ID, "c2") {
		t.Fatalf("remove c2 failed")
	}
	if _, ok := reg.Room(rm.ID); ok {
		t.Fatalf("room must be gone after the last participant leaves")
	}
	if reg.RoomCount() != 0 {
		t.Fatalf("RoomCount = %d, want 0", reg.RoomCount())
	}

	if reg.RemoveParticipant(rm.ID, "c2") {
		t.Fatalf("remove after destruction must report false")
	}
	if reg.RemoveParticipant("never-existed", "c") {
		t.Fatalf("remove against missing room must report false")
	}
}

func TestParticipants_SnapshotIsolationAndOrder(t *testing.T) {
	reg := NewRegistry()
	rm, _ := reg.CreateRoom("r")
	reg.AddParticipant(rm.ID, "b", "bee")
	reg.AddParticipant(rm.ID, "a", "ay")

	got := reg.Participants(rm.ID)
	if len(got) != 2 || got[0].ConnectionID != "a" || got[1].ConnectionID != "b" {
		t.Fatalf("expected ordered snapshot, got %+v", got)
	}

	// Mutating the snapshot must not leak into the registry.
	got[0].Username = "mutated"
	if reg.Participants(rm.ID)[0].Username != "ay" {
		t.Fatalf("snapshot aliased internal state")
	}

	if ps := reg.Participants("missing"); ps == nil || len(ps) != 0 {
		t.Fatalf("missing room must yield empty slice, got %v", ps)
	}
}

func TestRoom_SnapshotIncludesParticipants(t *testing.T) {
	reg := NewRegistry()
	rm, _ := reg.CreateRoom("Standup")
	reg.AddParticipant(rm.ID, "c1", "alice")

	snap, ok := reg.Room(rm.ID)
	if !ok {
		t.Fatalf("room lookup failed")
	}
	if snap.Name != "Standup" || len(snap.Participants) != 1 || snap.Participants[0].Username != "alice" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}
