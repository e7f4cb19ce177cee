// Package registry keeps the live meeting sessions of this process and
// records which instance owns each meeting.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/teslashibe/go-meetagent/pkg/agent"
)

// Factory creates an uninitialized session for a meeting id.
type Factory func(meetingID string) *agent.Session

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// OnRemove registers fn to run after a terminated session has left the
// registry.
func OnRemove(fn func(meetingID string)) Option {
	return func(r *Registry) { r.onRemove = fn }
}

// Registry maps meeting ids to sessions. There is at most one live
// session per meeting id.
type Registry struct {
	factory  Factory
	logger   *slog.Logger
	onRemove func(string)

	mu       sync.Mutex
	sessions map[string]*agent.Session
}

// New creates an empty registry that builds sessions with factory.
func New(factory Factory, opts ...Option) *Registry {
	r := &Registry{
		factory:  factory,
		logger:   slog.Default(),
		sessions: make(map[string]*agent.Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "registry")
	return r
}

// Get returns the session for meetingID, creating it on first use. A
// terminated session is replaced by a fresh one.
func (r *Registry) Get(meetingID string) *agent.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[meetingID]; ok && s.State() != agent.Terminated {
		return s
	}

	s := r.factory(meetingID)
	s.OnTerminate(func(s *agent.Session) { r.Remove(meetingID, s) })
	r.sessions[meetingID] = s
	r.logger.Debug("session created", "meeting_id", meetingID)
	return s
}

// Lookup returns the session for meetingID without creating one.
func (r *Registry) Lookup(meetingID string) (*agent.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[meetingID]
	return s, ok
}

// Remove drops s if it is still the session registered for meetingID.
func (r *Registry) Remove(meetingID string, s *agent.Session) bool {
	r.mu.Lock()
	cur, ok := r.sessions[meetingID]
	if !ok || cur != s {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, meetingID)
	r.mu.Unlock()

	r.logger.Debug("session removed", "meeting_id", meetingID)
	if r.onRemove != nil {
		r.onRemove(meetingID)
	}
	return true
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// All returns the registered sessions ordered by meeting id.
func (r *Registry) All() []*agent.Session {
	r.mu.Lock()
	out := make([]*agent.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// DeinitAll tears down every session concurrently.
func (r *Registry) DeinitAll(ctx context.Context) error {
	sessions := r.All()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, s := range sessions {
		wg.Add(1)
		go func(s *agent.Session) {
			defer wg.Done()
			if err := s.Deinit(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(s)
	}
	wg.Wait()

	if len(sessions) > 0 {
		r.logger.Info("sessions deinitialized", "count", len(sessions))
	}
	return errors.Join(errs...)
}

// KeepAlive refreshes the directory entry of every running session each
// interval until ctx is done.
func (r *Registry) KeepAlive(ctx context.Context, dir Directory, owner string, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refresh(ctx, dir, owner)
		}
	}
}

func (r *Registry) refresh(ctx context.Context, dir Directory, owner string) {
	for _, s := range r.All() {
		st := s.State()
		if st != agent.Running && st != agent.Initializing {
			continue
		}
		if err := dir.Refresh(ctx, s.ID(), owner, st.String()); err != nil {
			r.logger.Warn("directory refresh failed", "meeting_id", s.ID(), "error", err)
		}
	}
}
