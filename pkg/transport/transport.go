// Package transport defines the meeting transport contract: a pipeline
// source and sink for meeting audio, plus participant lifecycle events.
package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/teslashibe/go-meetagent/pkg/pipeline"
)

// Participant lifecycle event names.
const (
	EventParticipantJoined = "participantJoined"
	EventParticipantLeft   = "participantLeft"
)

// Common errors returned by transports.
var (
	ErrNotJoined   = errors.New("transport: not joined")
	ErrJoinFailed  = errors.New("transport: join failed")
	ErrClosed      = errors.New("transport: closed")
	ErrNoAuthToken = errors.New("transport: auth token required")
)

// Participant is someone in the meeting.
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Transport connects a chain to a meeting. It is used as both the first
// and the last stage of the chain.
type Transport interface {
	pipeline.Source
	pipeline.Sink

	// Participants returns the participant event emitter.
	Participants() *Participants

	// Join enters the meeting. It returns once the meeting accepted the
	// agent or ctx is done.
	Join(ctx context.Context) error

	// Leave exits the meeting.
	Leave(ctx context.Context) error
}

// Handler receives participant events.
type Handler func(p Participant)

// Participants dispatches participant events to subscribers.
type Participants struct {
	mu       sync.RWMutex
	handlers map[string]map[int]Handler
	nextID   int
	present  map[string]Participant
}

// NewParticipants creates an empty emitter.
func NewParticipants() *Participants {
	return &Participants{
		handlers: make(map[string]map[int]Handler),
		present:  make(map[string]Participant),
	}
}

// On subscribes fn to an event and returns a function that removes it.
func (p *Participants) On(event string, fn Handler) (unsubscribe func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID++
	if p.handlers[event] == nil {
		p.handlers[event] = make(map[int]Handler)
	}
	p.handlers[event][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			delete(p.handlers[event], id)
		})
	}
}

// Emit records the event and calls every subscriber. Handlers run on the
// caller's goroutine in no particular order.
func (p *Participants) Emit(event string, who Participant) {
	p.mu.Lock()
	switch event {
	case EventParticipantJoined:
		p.present[who.ID] = who
	case EventParticipantLeft:
		delete(p.present, who.ID)
	}
	handlers := make([]Handler, 0, len(p.handlers[event]))
	for _, h := range p.handlers[event] {
		handlers = append(handlers, h)
	}
	p.mu.Unlock()

	for _, h := range handlers {
		h(who)
	}
}

// Seed replaces the presence list without notifying subscribers. Used for
// the roster a transport receives on join.
func (p *Participants) Seed(list []Participant) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.present = make(map[string]Participant, len(list))
	for _, who := range list {
		p.present[who.ID] = who
	}
}

// Present returns who is currently in the meeting.
func (p *Participants) Present() []Participant {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Participant, 0, len(p.present))
	for _, who := range p.present {
		out = append(out, who)
	}
	return out
}

// Subscribers returns how many handlers are registered for event.
func (p *Participants) Subscribers(event string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.handlers[event])
}
