// Package hub fans a session's events out to websocket subscribers.
//
// Each session owns one Hub. Events are JSON text frames; a subscriber that
// connects late first receives the most recent events so it can see the
// session's current state without polling /status.
package hub

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Session event types.
const (
	EventState       = "state"
	EventTranscript  = "transcript"
	EventReply       = "reply"
	EventAnnounce    = "announce"
	EventParticipant = "participant"
	EventError       = "error"
)

// Event is one entry of a session's event feed.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	MeetingID string    `json:"meetingId"`
	Time      time.Time `json:"time"`
	Data      any       `json:"data,omitempty"`
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(meetingID, typ string, data any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      typ,
		MeetingID: meetingID,
		Time:      time.Now().UTC(),
		Data:      data,
	}
}

func (e Event) encode() ([]byte, error) {
	return json.Marshal(e)
}
