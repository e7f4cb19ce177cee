// Package stt turns meeting audio into transcripts with Deepgram's live
// streaming API.
//
// Deepgram is a pipeline processor: audio frames are streamed over a
// websocket as linear16 PCM and every final, non-empty result becomes a
// transcript frame. Other frames pass through unchanged.
package stt

import "errors"

// Common errors returned by the STT processor.
var (
	ErrNoAPIKey     = errors.New("stt: API key required")
	ErrNotConnected = errors.New("stt: not connected")
)

// Result is one recognition result from the provider.
type Result struct {
	Text       string
	Confidence float64

	// SegmentFinal means the text of this segment will not change.
	SegmentFinal bool

	// SpeechFinal means the provider detected the end of an utterance.
	SpeechFinal bool
}

// deepgramMessage is the subset of a live streaming response we read.
type deepgramMessage struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// result converts a Results message. ok is false for other message types
// and results without alternatives.
func (m *deepgramMessage) result() (Result, bool) {
	if m.Type != "Results" || len(m.Channel.Alternatives) == 0 {
		return Result{}, false
	}
	alt := m.Channel.Alternatives[0]
	return Result{
		Text:         alt.Transcript,
		Confidence:   alt.Confidence,
		SegmentFinal: m.IsFinal,
		SpeechFinal:  m.SpeechFinal,
	}, true
}
