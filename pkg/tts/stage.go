package tts

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/teslashibe/go-meetagent/pkg/pipeline"
)

// Stage is a pipeline processor that speaks text frames. Each text frame is
// streamed from the provider and emitted as PCM audio frames in order.
// Audio and transcript frames pass through unchanged.
type Stage struct {
	provider Provider
	logger   *slog.Logger

	onFirstAudio func()

	utterances atomic.Int64
	failures   atomic.Int64
	quota      atomic.Int64
}

// StageOption configures a Stage.
type StageOption func(*Stage)

// WithStageLogger sets the stage logger.
func WithStageLogger(logger *slog.Logger) StageOption {
	return func(s *Stage) { s.logger = logger }
}

// OnFirstAudio registers fn to run when the first audio of each utterance
// is emitted.
func OnFirstAudio(fn func()) StageOption {
	return func(s *Stage) { s.onFirstAudio = fn }
}

// NewStage wraps provider as a pipeline processor.
func NewStage(provider Provider, opts ...StageOption) *Stage {
	s := &Stage{
		provider: provider,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "tts")
	return s
}

// Name returns the stage name.
func (s *Stage) Name() string { return "tts" }

// Process speaks each text frame. A failed utterance is logged and skipped;
// only cancellation stops the stage.
func (s *Stage) Process(ctx context.Context, in <-chan pipeline.Frame, out chan<- pipeline.Frame) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-in:
			if !ok {
				return nil
			}
			if f.Kind != pipeline.KindText {
				if err := pipeline.Send(ctx, out, f); err != nil {
					return err
				}
				continue
			}
			if err := s.speak(ctx, f.Text, out); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.failures.Add(1)
				if IsQuotaExceeded(err) {
					s.quota.Add(1)
					s.logger.Error("speech quota exhausted, utterance dropped", "error", err, "chars", len(f.Text))
					continue
				}
				s.logger.Warn("speech synthesis failed", "error", err, "chars", len(f.Text))
			}
		}
	}
}

// Utterances returns how many text frames were spoken in full.
func (s *Stage) Utterances() int64 { return s.utterances.Load() }

// Failures returns how many text frames could not be spoken.
func (s *Stage) Failures() int64 { return s.failures.Load() }

// QuotaExhausted returns how many text frames were dropped because the
// provider's character quota was used up.
func (s *Stage) QuotaExhausted() int64 { return s.quota.Load() }

// Close releases the provider.
func (s *Stage) Close() error { return s.provider.Close() }

func (s *Stage) speak(ctx context.Context, text string, out chan<- pipeline.Frame) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	stream, err := s.provider.Stream(ctx, text)
	if err != nil {
		return err
	}
	defer stream.Close()

	format := stream.Format()
	if !format.Encoding.IsPCM() {
		return ErrUnsupportedFormat
	}

	var (
		carry []byte
		first = true
	)
	for {
		chunk, err := stream.Read()
		if err != nil {
			return err
		}
		if chunk == nil {
			break
		}

		// Frames carry whole 16-bit samples.
		if len(carry) > 0 {
			chunk = append(carry, chunk...)
			carry = nil
		}
		if len(chunk)%2 == 1 {
			carry = []byte{chunk[len(chunk)-1]}
			chunk = chunk[:len(chunk)-1]
		}
		if len(chunk) == 0 {
			continue
		}

		if err := pipeline.Send(ctx, out, pipeline.AudioFrame(chunk, format.SampleRate)); err != nil {
			return err
		}
		if first {
			first = false
			if s.onFirstAudio != nil {
				s.onFirstAudio()
			}
		}
	}

	if first {
		return errors.New("tts: provider returned no audio")
	}
	s.utterances.Add(1)
	return nil
}

// Verify Stage implements pipeline.Processor at compile time.
var _ pipeline.Processor = (*Stage)(nil)
