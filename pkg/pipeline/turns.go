package pipeline

import (
	"sync"
	"time"
)

// Turn records the latency of one transcript-to-speech round trip.
// Durations are measured from the moment the transcript arrived.
type Turn struct {
	TranscriptTime time.Time
	ReplyTime      time.Time
	FirstAudioTime time.Time

	ReplyLatency time.Duration // transcript -> reply text
	AudioLatency time.Duration // transcript -> first synthesized audio
}

// TurnTracker collects per-turn latencies for a session. It is safe for
// concurrent use by the stages of one chain.
type TurnTracker struct {
	mu      sync.Mutex
	current Turn
	history []Turn
	limit   int
}

// NewTurnTracker creates a tracker that keeps the last limit turns.
func NewTurnTracker(limit int) *TurnTracker {
	if limit <= 0 {
		limit = 100
	}
	return &TurnTracker{history: make([]Turn, 0, limit), limit: limit}
}

// MarkTranscript starts a new turn.
func (t *TurnTracker) MarkTranscript() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = Turn{TranscriptTime: time.Now()}
}

// MarkReply records when the reply text was produced.
func (t *TurnTracker) MarkReply() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current.TranscriptTime.IsZero() || !t.current.ReplyTime.IsZero() {
		return
	}
	t.current.ReplyTime = time.Now()
	t.current.ReplyLatency = t.current.ReplyTime.Sub(t.current.TranscriptTime)
}

// MarkFirstAudio records the first synthesized audio of the turn and
// archives it.
func (t *TurnTracker) MarkFirstAudio() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current.ReplyTime.IsZero() || !t.current.FirstAudioTime.IsZero() {
		return
	}
	t.current.FirstAudioTime = time.Now()
	t.current.AudioLatency = t.current.FirstAudioTime.Sub(t.current.TranscriptTime)

	t.history = append(t.history, t.current)
	if len(t.history) > t.limit {
		t.history = t.history[1:]
	}
}

// Last returns the most recent completed turn.
func (t *TurnTracker) Last() (Turn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.history) == 0 {
		return Turn{}, false
	}
	return t.history[len(t.history)-1], true
}

// Average returns mean latencies over the recorded turns.
func (t *TurnTracker) Average() Turn {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.history) == 0 {
		return Turn{}
	}

	var avg Turn
	for _, h := range t.history {
		avg.ReplyLatency += h.ReplyLatency
		avg.AudioLatency += h.AudioLatency
	}
	n := time.Duration(len(t.history))
	avg.ReplyLatency /= n
	avg.AudioLatency /= n
	return avg
}

// Count returns the number of completed turns kept.
func (t *TurnTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.history)
}
