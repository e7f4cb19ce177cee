package transport

import "testing"

func TestParticipantsOnEmit(t *testing.T) {
	p := NewParticipants()

	var joined, left []string
	unsubJoin := p.On(EventParticipantJoined, func(who Participant) { joined = append(joined, who.Name) })
	p.On(EventParticipantLeft, func(who Participant) { left = append(left, who.Name) })

	p.Emit(EventParticipantJoined, Participant{ID: "1", Name: "Alice"})
	p.Emit(EventParticipantJoined, Participant{ID: "2", Name: "Bob"})
	p.Emit(EventParticipantLeft, Participant{ID: "1", Name: "Alice"})

	if len(joined) != 2 || joined[0] != "Alice" {
		t.Errorf("joined = %v", joined)
	}
	if len(left) != 1 || left[0] != "Alice" {
		t.Errorf("left = %v", left)
	}
	if present := p.Present(); len(present) != 1 || present[0].Name != "Bob" {
		t.Errorf("Present = %v", present)
	}

	unsubJoin()
	unsubJoin()
	p.Emit(EventParticipantJoined, Participant{ID: "3", Name: "Carol"})
	if len(joined) != 2 {
		t.Errorf("handler called after unsubscribe: %v", joined)
	}
	if n := p.Subscribers(EventParticipantJoined); n != 0 {
		t.Errorf("Subscribers = %d, want 0", n)
	}
}

func TestParticipantsUnknownEvent(t *testing.T) {
	p := NewParticipants()
	p.Emit("somethingElse", Participant{ID: "1"})
	if len(p.Present()) != 0 {
		t.Error("unknown event changed presence")
	}
}
