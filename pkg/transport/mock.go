package transport

import (
	"context"
	"sync"
	"time"

	"github.com/teslashibe/go-meetagent/pkg/pipeline"
)

// Mock implements Transport for testing. Frames pushed with Inject are
// produced into the chain; frames reaching the sink are recorded.
type Mock struct {
	// JoinFunc is called when Join is invoked.
	JoinFunc func(ctx context.Context) error

	// LeaveFunc is called when Leave is invoked.
	LeaveFunc func(ctx context.Context) error

	participants *Participants
	inject       chan pipeline.Frame
	sent         chan pipeline.Frame

	mu     sync.Mutex
	calls  []MockCall
	frames []pipeline.Frame
}

// MockCall records a method invocation.
type MockCall struct {
	Method string
	Time   time.Time
}

// NewMock creates a mock that joins and leaves successfully.
func NewMock() *Mock {
	return &Mock{
		participants: NewParticipants(),
		inject:       make(chan pipeline.Frame, 64),
		sent:         make(chan pipeline.Frame, 64),
	}
}

// Name returns the stage name.
func (m *Mock) Name() string { return "transport.mock" }

// Participants returns the event emitter.
func (m *Mock) Participants() *Participants { return m.participants }

// Join calls JoinFunc and records the call.
func (m *Mock) Join(ctx context.Context) error {
	m.record("Join")
	if m.JoinFunc != nil {
		return m.JoinFunc(ctx)
	}
	return nil
}

// Leave calls LeaveFunc and records the call.
func (m *Mock) Leave(ctx context.Context) error {
	m.record("Leave")
	if m.LeaveFunc != nil {
		return m.LeaveFunc(ctx)
	}
	return nil
}

// Close records the call.
func (m *Mock) Close() error {
	m.record("Close")
	return nil
}

// Produce forwards injected frames until ctx is done.
func (m *Mock) Produce(ctx context.Context, out chan<- pipeline.Frame) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-m.inject:
			if err := pipeline.Send(ctx, out, f); err != nil {
				return err
			}
		}
	}
}

// Consume records every frame that reaches the end of the chain.
func (m *Mock) Consume(ctx context.Context, in <-chan pipeline.Frame) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-in:
			if !ok {
				return nil
			}
			m.mu.Lock()
			m.frames = append(m.frames, f)
			m.mu.Unlock()
			select {
			case m.sent <- f:
			default:
			}
		}
	}
}

// Inject queues a frame to be produced into the chain.
func (m *Mock) Inject(f pipeline.Frame) {
	m.inject <- f
}

// Sent delivers frames as they reach the sink.
func (m *Mock) Sent() <-chan pipeline.Frame {
	return m.sent
}

// Frames returns every frame that reached the sink.
func (m *Mock) Frames() []pipeline.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]pipeline.Frame, len(m.frames))
	copy(out, m.frames)
	return out
}

func (m *Mock) record(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Method: method, Time: time.Now()})
}

// CallCount returns the number of times a method was called.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

// Verify Mock implements Transport at compile time.
var _ Transport = (*Mock)(nil)
