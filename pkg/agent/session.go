package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-meetagent/pkg/hub"
	"github.com/teslashibe/go-meetagent/pkg/pipeline"
	"github.com/teslashibe/go-meetagent/pkg/transport"
)

// State is a session lifecycle state.
type State int

const (
	Uninitialized State = iota
	Initializing
	Running
	Deinitializing
	Terminated
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Running:
		return "running"
	case Deinitializing:
		return "deinitializing"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// InitParams identifies the meeting and the credentials the chain runs
// with.
type InitParams struct {
	AgentID   string
	MeetingID string
	AuthToken string
	WorkerURL string
	AccountID string
	APIToken  string
}

// Validate checks that the meeting and its token are present.
func (p InitParams) Validate() error {
	if p.MeetingID == "" {
		return fmt.Errorf("%w: meeting id required", ErrValidation)
	}
	if p.AuthToken == "" {
		return fmt.Errorf("%w: auth token required", ErrValidation)
	}
	return nil
}

// Recorder keeps a written record of the meeting.
type Recorder interface {
	Record(speaker, text string)
	Flush(ctx context.Context) error
}

// Builders construct the per-session collaborators. Transport, STT, TTS
// and Responder are required; Minutes is optional.
type Builders struct {
	Transport func(meetingID, authToken string) (transport.Transport, error)
	STT       func() (pipeline.Processor, error)
	TTS       func(onFirstAudio func()) (pipeline.Processor, error)
	Responder func(accountID, apiToken string) (Responder, error)
	Minutes   func(ctx context.Context, meetingID string) (Recorder, error)
}

// Status is a point-in-time view of a session.
type Status struct {
	MeetingID      string                  `json:"meetingId"`
	State          string                  `json:"state"`
	Stages         []string                `json:"stages,omitempty"`
	StartedAt      *time.Time              `json:"startedAt,omitempty"`
	Participants   []transport.Participant `json:"participants,omitempty"`
	Transcripts    int64                   `json:"transcripts"`
	Replies        int64                   `json:"replies"`
	Announcements  int64                   `json:"announcements"`
	Turns          int                     `json:"turns"`
	ReplyLatencyMs int64                   `json:"replyLatencyMs"`
	AudioLatencyMs int64                   `json:"audioLatencyMs"`
	EventClients   int                     `json:"eventClients"`
	Error          string                  `json:"error,omitempty"`
}

// Session owns one meeting's chain:
// transport -> stt -> text -> tts -> transport.
type Session struct {
	id       string
	builders Builders
	config   *Config
	logger   *slog.Logger
	events   *hub.Hub
	runtime  *pipeline.Runtime
	turns    *pipeline.TurnTracker

	mu          sync.Mutex
	state       State
	tr          transport.Transport
	text        *TextStage
	minutes     Recorder
	unsubs      []func()
	cancelInit  context.CancelFunc
	initDone    chan struct{}
	startedAt   time.Time
	lastErr     error
	onTerminate func(*Session)
}

// NewSession creates an uninitialized session for meetingID.
func NewSession(meetingID string, builders Builders, opts ...Option) *Session {
	cfg := newConfig(opts)
	logger := cfg.Logger.With("component", "session", "meeting_id", meetingID)
	s := &Session{
		id:       meetingID,
		builders: builders,
		config:   cfg,
		logger:   logger,
		events:   hub.New(meetingID, cfg.Logger),
		turns:    pipeline.NewTurnTracker(50),
	}
	s.runtime = pipeline.NewRuntime(
		pipeline.WithLogger(logger),
		pipeline.WithErrorHandler(func(stage string, err error) {
			s.publish(hub.EventError, map[string]string{"stage": stage, "error": err.Error()})
		}),
	)
	return s
}

// ID returns the meeting id.
func (s *Session) ID() string { return s.id }

// Events returns the session's event hub.
func (s *Session) Events() *hub.Hub { return s.events }

// OnTerminate registers fn to run once the session reaches Terminated
// after having been initialized.
func (s *Session) OnTerminate(fn func(*Session)) {
	s.mu.Lock()
	s.onTerminate = fn
	s.mu.Unlock()
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Init builds the chain, starts it, subscribes participant announcements
// and joins the meeting. It is valid only from Uninitialized.
//
// If any step fails the partial chain is torn down and the session is
// Terminated. Join failures are ErrTransport.
func (s *Session) Init(ctx context.Context, p InitParams) error {
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.state != Uninitialized {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: init while %s", ErrInvalidState, st)
	}
	initCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	s.state = Initializing
	s.cancelInit = cancel
	s.initDone = done
	s.mu.Unlock()

	go s.events.Run()
	s.logger.Info("initializing session", "agent_id", p.AgentID, "worker_url", p.WorkerURL)

	err := s.start(initCtx, p)

	s.mu.Lock()
	s.cancelInit = nil
	if err != nil {
		s.state = Terminated
		s.lastErr = err
	} else {
		s.state = Running
		s.startedAt = time.Now()
	}
	close(done)
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("init failed", "error", err)
		s.config.Metrics.RecordSessionFailed()
		s.events.Stop()
		s.terminated()
		return err
	}

	s.config.Metrics.RecordSessionStart()
	s.publishState(Running)
	s.logger.Info("session running")
	go s.watch(s.runtime.Done())
	return nil
}

func (s *Session) start(ctx context.Context, p InitParams) error {
	responder, err := s.builders.Responder(p.AccountID, p.APIToken)
	if err != nil {
		return fmt.Errorf("agent: build responder: %w", err)
	}

	text := &TextStage{
		responder: responder,
		config:    s.config,
		logger:    s.logger.With("component", "text"),
		announce:  make(chan string, announceBuffer),
		done:      make(chan struct{}),
		Turns:     s.turns,
		OnReply:   s.onReply,
		OnAnnounce: func(t string) {
			s.publish(hub.EventAnnounce, map[string]string{"text": t})
		},
	}

	tr, err := s.builders.Transport(p.MeetingID, p.AuthToken)
	if err != nil {
		return wrap(ErrTransport, err)
	}
	sttStage, err := s.builders.STT()
	if err != nil {
		closeAll(tr)
		return fmt.Errorf("agent: build stt: %w", err)
	}
	ttsStage, err := s.builders.TTS(s.turns.MarkFirstAudio)
	if err != nil {
		closeAll(tr, sttStage)
		return fmt.Errorf("agent: build tts: %w", err)
	}

	chain := []pipeline.Stage{tr, sttStage, text, ttsStage, tr}
	reg := pipeline.Registration{
		AgentID:   p.AgentID,
		WorkerURL: p.WorkerURL,
		AccountID: p.AccountID,
		APIToken:  p.APIToken,
	}
	if err := s.runtime.Init(ctx, chain, reg); err != nil {
		closeAll(tr, sttStage, ttsStage)
		return fmt.Errorf("agent: start pipeline: %w", err)
	}

	s.mu.Lock()
	s.tr = tr
	s.text = text
	s.mu.Unlock()

	participants := tr.Participants()
	unsubs := []func(){
		participants.On(transport.EventParticipantJoined, func(who transport.Participant) {
			s.announceParticipant("Participant Joined", who)
		}),
		participants.On(transport.EventParticipantLeft, func(who transport.Participant) {
			s.announceParticipant("Participant Left", who)
		}),
	}

	joinCtx, cancel := context.WithTimeout(ctx, s.config.JoinTimeout)
	defer cancel()
	if err := tr.Join(joinCtx); err != nil {
		for _, unsubscribe := range unsubs {
			unsubscribe()
		}
		s.rollback()
		return wrap(ErrTransport, err)
	}

	var minutes Recorder
	if s.builders.Minutes != nil {
		minutes, err = s.builders.Minutes(ctx, p.MeetingID)
		if err != nil {
			s.logger.Warn("minutes disabled for session", "error", err)
			minutes = nil
		}
	}

	s.mu.Lock()
	s.unsubs = unsubs
	s.minutes = minutes
	s.mu.Unlock()
	return nil
}

// rollback stops a chain whose join failed.
func (s *Session) rollback() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.TeardownTimeout)
	defer cancel()
	if err := s.runtime.Deinit(ctx); err != nil {
		s.logger.Warn("rollback incomplete", "error", err)
	}
}

// Deinit tears a running session down and leaves it Terminated. A session
// still initializing has its init cancelled and rolled back. In any other
// state Deinit does nothing.
func (s *Session) Deinit(ctx context.Context) error {
	for {
		s.mu.Lock()
		switch s.state {
		case Initializing:
			cancel, done := s.cancelInit, s.initDone
			s.mu.Unlock()
			if cancel != nil {
				cancel()
			}
			select {
			case <-done:
			case <-ctx.Done():
				return ctx.Err()
			}
			// Init has settled; look at the state again.

		case Running:
			s.state = Deinitializing
			s.mu.Unlock()
			s.publishState(Deinitializing)

			err := s.teardown(ctx)

			s.mu.Lock()
			s.state = Terminated
			s.lastErr = err
			s.mu.Unlock()
			s.terminated()
			return err

		default:
			s.mu.Unlock()
			return nil
		}
	}
}

func (s *Session) teardown(ctx context.Context) error {
	s.mu.Lock()
	unsubs, tr, minutes, started := s.unsubs, s.tr, s.minutes, s.startedAt
	s.unsubs = nil
	s.mu.Unlock()

	for _, unsubscribe := range unsubs {
		unsubscribe()
	}

	var errs []error
	if err := tr.Leave(ctx); err != nil {
		s.logger.Warn("leave failed", "error", err)
		errs = append(errs, wrap(ErrTransport, err))
	}
	if err := s.runtime.Deinit(ctx); err != nil {
		errs = append(errs, err)
	}
	if minutes != nil {
		if err := minutes.Flush(ctx); err != nil {
			s.logger.Warn("minutes flush failed", "error", err)
			errs = append(errs, err)
		}
	}
	s.events.Stop()
	s.config.Metrics.RecordSessionEnd(time.Since(started))

	s.logger.Info("session terminated", "duration", time.Since(started).Round(time.Second))
	return errors.Join(errs...)
}

// watch tears the session down when the chain stops by itself, for
// example when the meeting ends or a stage fails.
func (s *Session) watch(done <-chan struct{}) {
	if done == nil {
		return
	}
	<-done
	if s.State() != Running {
		return
	}
	s.logger.Info("pipeline stopped on its own", "error", s.runtime.Err())
	ctx, cancel := context.WithTimeout(context.Background(), s.config.TeardownTimeout)
	defer cancel()
	s.Deinit(ctx)
}

func (s *Session) terminated() {
	s.mu.Lock()
	fn := s.onTerminate
	s.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// Announce speaks text in the meeting. It fails with ErrNotRunning unless
// the session is Running.
func (s *Session) Announce(text string) error {
	s.mu.Lock()
	ts, st := s.text, s.state
	s.mu.Unlock()
	if st != Running || ts == nil {
		return ErrNotRunning
	}
	return ts.Announce(text)
}

func (s *Session) announceParticipant(prefix string, who transport.Participant) {
	text := prefix + " " + who.Name
	s.publish(hub.EventParticipant, who)
	s.record("system", text)

	s.mu.Lock()
	ts := s.text
	s.mu.Unlock()
	if ts == nil {
		return
	}
	if err := ts.Announce(text); err != nil {
		s.logger.Warn("announcement dropped", "text", text, "error", err)
	}
}

func (s *Session) onReply(transcript, reply string) {
	s.publish(hub.EventTranscript, map[string]string{"text": transcript})
	s.publish(hub.EventReply, map[string]string{"text": reply})
	s.record("participant", transcript)
	s.record("agent", reply)
}

func (s *Session) record(speaker, text string) {
	s.mu.Lock()
	m := s.minutes
	s.mu.Unlock()
	if m != nil {
		m.Record(speaker, text)
	}
}

func (s *Session) publish(typ string, data any) {
	s.events.Publish(hub.NewEvent(s.id, typ, data))
}

func (s *Session) publishState(st State) {
	s.publish(hub.EventState, map[string]string{"state": st.String()})
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	st := Status{
		MeetingID: s.id,
		State:     s.state.String(),
	}
	if !s.startedAt.IsZero() {
		started := s.startedAt
		st.StartedAt = &started
	}
	if s.lastErr != nil {
		st.Error = s.lastErr.Error()
	}
	tr, text, running := s.tr, s.text, s.state == Running
	s.mu.Unlock()

	if running {
		st.Stages = s.runtime.Stages()
		st.EventClients = s.events.ClientCount()
		if tr != nil {
			st.Participants = tr.Participants().Present()
		}
	}
	if text != nil {
		st.Transcripts, st.Replies, st.Announcements = text.Counters()
	}
	st.Turns = s.turns.Count()
	avg := s.turns.Average()
	st.ReplyLatencyMs = avg.ReplyLatency.Milliseconds()
	st.AudioLatencyMs = avg.AudioLatency.Milliseconds()
	return st
}

func closeAll(stages ...pipeline.Stage) {
	for _, st := range stages {
		if c, ok := st.(io.Closer); ok {
			c.Close()
		}
	}
}
