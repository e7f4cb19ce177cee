package rtk

import (
	"github.com/pion/webrtc/v3"

	"github.com/teslashibe/go-meetagent/pkg/transport"
)

// Signaling message types. Participant events use the transport event
// names as their type.
const (
	msgJoin   = "join"
	msgJoined = "joined"
	msgOffer  = "offer"
	msgAnswer = "answer"
	msgICE    = "ice"
	msgLeave  = "leave"
	msgEnded  = "meetingEnded"
	msgError  = "error"
)

// message is the signaling envelope exchanged in both directions.
type message struct {
	Type         string                   `json:"type"`
	MeetingID    string                   `json:"meetingId,omitempty"`
	PeerID       string                   `json:"peerId,omitempty"`
	Name         string                   `json:"name,omitempty"`
	SDP          string                   `json:"sdp,omitempty"`
	Candidate    *webrtc.ICECandidateInit `json:"candidate,omitempty"`
	Participant  *transport.Participant   `json:"participant,omitempty"`
	Participants []transport.Participant  `json:"participants,omitempty"`
	Error        string                   `json:"error,omitempty"`
}
