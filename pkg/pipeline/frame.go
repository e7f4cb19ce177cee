package pipeline

import (
	"context"
	"fmt"
	"time"
)

// Kind identifies what a Frame carries.
type Kind int

const (
	// KindAudio frames carry PCM16 little-endian mono audio.
	KindAudio Kind = iota + 1

	// KindTranscript frames carry recognized speech.
	KindTranscript

	// KindText frames carry text to be spoken.
	KindText
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindTranscript:
		return "transcript"
	case KindText:
		return "text"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Frame is the unit of data passed between stages.
type Frame struct {
	Kind Kind

	// Audio is PCM16LE mono at SampleRate. Set for KindAudio.
	Audio      []byte
	SampleRate int

	// Text is set for KindTranscript and KindText.
	Text string

	// Time is when the frame was created.
	Time time.Time
}

// AudioFrame creates an audio frame.
func AudioFrame(pcm []byte, sampleRate int) Frame {
	return Frame{Kind: KindAudio, Audio: pcm, SampleRate: sampleRate, Time: time.Now()}
}

// TranscriptFrame creates a transcript frame.
func TranscriptFrame(text string) Frame {
	return Frame{Kind: KindTranscript, Text: text, Time: time.Now()}
}

// TextFrame creates a text frame.
func TextFrame(text string) Frame {
	return Frame{Kind: KindText, Text: text, Time: time.Now()}
}

// Duration returns the playback length of an audio frame.
func (f Frame) Duration() time.Duration {
	if f.Kind != KindAudio || f.SampleRate <= 0 {
		return 0
	}
	samples := len(f.Audio) / 2
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// Send writes f to out unless ctx is done first.
func Send(ctx context.Context, out chan<- Frame, f Frame) error {
	select {
	case out <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func errorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidChain}, args...)...)
}
