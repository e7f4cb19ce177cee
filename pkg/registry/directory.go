package registry

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultTTL is how long a claim lives without a refresh.
const DefaultTTL = 2 * time.Hour

// ErrNotOwner is returned when a meeting is claimed by another instance.
var ErrNotOwner = errors.New("registry: meeting owned by another instance")

// Entry records which instance owns a meeting.
type Entry struct {
	MeetingID string    `json:"meetingId"`
	Owner     string    `json:"owner"`
	State     string    `json:"state"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Directory records meeting ownership across instances.
type Directory interface {
	// Claim takes meetingID for owner unless another owner holds it. It
	// returns the entry now in force and whether owner holds it.
	Claim(ctx context.Context, meetingID, owner string) (Entry, bool, error)

	// Owner returns the current entry for meetingID, if any.
	Owner(ctx context.Context, meetingID string) (Entry, bool, error)

	// Release drops the claim if owner holds it.
	Release(ctx context.Context, meetingID, owner string) error

	// Refresh extends owner's claim and records state. It returns
	// ErrNotOwner if another owner took the meeting.
	Refresh(ctx context.Context, meetingID, owner, state string) error

	// Close releases resources.
	Close() error
}

// Memory is a Directory for a single instance.
type Memory struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemory creates an in-process directory. A zero ttl uses DefaultTTL.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]Entry),
	}
}

// lookup returns the live entry for id. Callers hold m.mu.
func (m *Memory) lookup(id string) (Entry, bool) {
	e, ok := m.entries[id]
	if !ok {
		return Entry{}, false
	}
	if m.now().Sub(e.UpdatedAt) > m.ttl {
		delete(m.entries, id)
		return Entry{}, false
	}
	return e, true
}

// Claim implements Directory.
func (m *Memory) Claim(ctx context.Context, meetingID, owner string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.lookup(meetingID); ok && e.Owner != owner {
		return e, false, nil
	}
	e := Entry{MeetingID: meetingID, Owner: owner, State: "claimed", UpdatedAt: m.now()}
	m.entries[meetingID] = e
	return e, true, nil
}

// Owner implements Directory.
func (m *Memory) Owner(ctx context.Context, meetingID string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(meetingID)
	return e, ok, nil
}

// Release implements Directory.
func (m *Memory) Release(ctx context.Context, meetingID, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.lookup(meetingID); ok && e.Owner == owner {
		delete(m.entries, meetingID)
	}
	return nil
}

// Refresh implements Directory.
func (m *Memory) Refresh(ctx context.Context, meetingID, owner, state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.lookup(meetingID); ok && e.Owner != owner {
		return ErrNotOwner
	}
	m.entries[meetingID] = Entry{MeetingID: meetingID, Owner: owner, State: state, UpdatedAt: m.now()}
	return nil
}

// Close implements Directory.
func (m *Memory) Close() error { return nil }

var _ Directory = (*Memory)(nil)
