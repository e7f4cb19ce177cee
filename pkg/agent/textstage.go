package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-meetagent/pkg/metrics"
	"github.com/teslashibe/go-meetagent/pkg/pipeline"
)

const announceBuffer = 16

// TextStage is the pipeline processor between speech-to-text and
// text-to-speech. Each transcript frame is answered by the responder and
// the reply is emitted as a text frame. Announce injects text directly.
type TextStage struct {
	responder Responder
	config    *Config
	logger    *slog.Logger

	// OnReply, if set, sees each transcript with the text spoken for it.
	OnReply func(transcript, reply string)

	// OnAnnounce, if set, sees each accepted announcement.
	OnAnnounce func(text string)

	// Turns, if set, receives transcript and reply timing marks.
	Turns *pipeline.TurnTracker

	mu       sync.Mutex
	started  bool
	stopped  bool
	announce chan string
	done     chan struct{}

	transcripts   atomic.Int64
	replies       atomic.Int64
	announcements atomic.Int64
}

// NewTextStage creates a text stage answering with responder.
func NewTextStage(responder Responder, opts ...Option) *TextStage {
	cfg := newConfig(opts)
	return &TextStage{
		responder: responder,
		config:    cfg,
		logger:    cfg.Logger.With("component", "text"),
		announce:  make(chan string, announceBuffer),
		done:      make(chan struct{}),
	}
}

// Name returns the stage name.
func (s *TextStage) Name() string { return "text" }

// Start makes Announce available. It is called by the runtime before any
// stage runs, so announcements made right after Init are queued rather
// than refused.
func (s *TextStage) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrNotRunning
	}
	s.started = true
	return nil
}

// OnTranscript answers text and calls reply at most once.
//
// A failed inference is retried once. If it still fails, reply gets the
// fallback utterance when one is configured and is not called otherwise.
// The error is returned in both cases.
func (s *TextStage) OnTranscript(ctx context.Context, text string, reply func(string)) error {
	answer, err := s.respond(ctx, text)
	retried := false
	if err != nil && errors.Is(err, ErrUpstreamInference) && ctx.Err() == nil {
		s.logger.Warn("reply failed, retrying", "error", err)
		retried = true
		answer, err = s.respond(ctx, text)
	}

	if err != nil {
		s.logger.Error("reply failed", "input", text, "error", err)
		if fallback := s.config.FallbackReply; fallback != "" && ctx.Err() == nil {
			s.config.Metrics.RecordReply(metrics.ReplyFallback)
			s.deliver(text, fallback, reply)
			return err
		}
		s.config.Metrics.RecordReply(metrics.ReplyFailed)
		return err
	}

	if retried {
		s.config.Metrics.RecordReply(metrics.ReplyRetried)
	} else {
		s.config.Metrics.RecordReply(metrics.ReplyOK)
	}
	s.deliver(text, answer, reply)
	return nil
}

// respond calls the responder. A panic becomes ErrUpstreamInference.
func (s *TextStage) respond(ctx context.Context, text string) (answer string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: responder panic: %v", ErrUpstreamInference, r)
		}
	}()
	return s.responder.Respond(ctx, text)
}

func (s *TextStage) deliver(transcript, text string, reply func(string)) {
	s.replies.Add(1)
	if s.Turns != nil {
		s.Turns.MarkReply()
	}
	reply(text)
	if s.OnReply != nil {
		s.OnReply(transcript, text)
	}
}

// Announce queues text for speech, bypassing the responder. It fails with
// ErrNotRunning before Start and after the stage stops. Announcements are
// not ordered relative to replies in flight.
func (s *TextStage) Announce(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.mu.Unlock()

	select {
	case s.announce <- text:
	case <-s.done:
		return ErrNotRunning
	}

	s.announcements.Add(1)
	s.config.Metrics.RecordAnnouncement()
	if s.OnAnnounce != nil {
		s.OnAnnounce(text)
	}
	s.logger.Debug("announcement queued", "text", text)
	return nil
}

// Process answers transcript frames in arrival order and forwards every
// other frame unchanged. Announcements are emitted concurrently with
// replies. A failed reply does not stop the stage.
func (s *TextStage) Process(ctx context.Context, in <-chan pipeline.Frame, out chan<- pipeline.Frame) error {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()

	announceCtx, stopAnnounce := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.emitAnnouncements(announceCtx, out)
	}()

	err := s.handle(ctx, in, out)

	s.stop()
	stopAnnounce()
	// out is closed once Process returns; nothing may send after that.
	wg.Wait()
	return err
}

func (s *TextStage) handle(ctx context.Context, in <-chan pipeline.Frame, out chan<- pipeline.Frame) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-in:
			if !ok {
				return nil
			}
			if f.Kind != pipeline.KindTranscript {
				if err := pipeline.Send(ctx, out, f); err != nil {
					return err
				}
				continue
			}

			text := strings.TrimSpace(f.Text)
			if text == "" {
				continue
			}
			s.transcripts.Add(1)
			s.config.Metrics.RecordTranscript()
			if s.Turns != nil {
				s.Turns.MarkTranscript()
			}

			var sendErr error
			err := s.OnTranscript(ctx, text, func(reply string) {
				sendErr = pipeline.Send(ctx, out, pipeline.TextFrame(reply))
			})
			if sendErr != nil {
				return sendErr
			}
			if err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
}

func (s *TextStage) emitAnnouncements(ctx context.Context, out chan<- pipeline.Frame) {
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-s.announce:
			if err := pipeline.Send(ctx, out, pipeline.TextFrame(text)); err != nil {
				return
			}
		}
	}
}

func (s *TextStage) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.done)
}

// Close stops accepting announcements.
func (s *TextStage) Close() error {
	s.stop()
	return nil
}

// Running reports whether Announce will currently accept text.
func (s *TextStage) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && !s.stopped
}

// Counters returns transcripts handled, replies emitted and announcements
// accepted.
func (s *TextStage) Counters() (transcripts, replies, announcements int64) {
	return s.transcripts.Load(), s.replies.Load(), s.announcements.Load()
}

var (
	_ pipeline.Processor = (*TextStage)(nil)
	_ pipeline.Starter   = (*TextStage)(nil)
)
