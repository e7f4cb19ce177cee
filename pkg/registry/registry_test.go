package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-meetagent/pkg/agent"
	"github.com/teslashibe/go-meetagent/pkg/pipeline"
	"github.com/teslashibe/go-meetagent/pkg/transport"
)

var errNoMeeting = errors.New("no such meeting")

// unreachable builds sessions whose transport never connects.
func unreachable(meetingID string) *agent.Session {
	return agent.NewSession(meetingID, agent.Builders{
		Transport: func(string, string) (transport.Transport, error) { return nil, errNoMeeting },
		STT:       func() (pipeline.Processor, error) { return nil, errNoMeeting },
		TTS:       func(func()) (pipeline.Processor, error) { return nil, errNoMeeting },
		Responder: func(string, string) (agent.Responder, error) {
			return agent.ResponderFunc(func(ctx context.Context, text string) (string, error) { return text, nil }), nil
		},
	})
}

func TestRegistryGetCreatesOnce(t *testing.T) {
	var created int
	r := New(func(id string) *agent.Session {
		created++
		return unreachable(id)
	})

	a := r.Get("abc")
	b := r.Get("abc")
	if a != b {
		t.Error("expected the same session for the same meeting")
	}
	if created != 1 {
		t.Errorf("expected one session created, got %d", created)
	}
	if r.Get("xyz") == a {
		t.Error("expected distinct sessions per meeting")
	}
	if r.Len() != 2 {
		t.Errorf("expected 2 sessions, got %d", r.Len())
	}

	all := r.All()
	if len(all) != 2 || all[0].ID() != "abc" || all[1].ID() != "xyz" {
		t.Errorf("unexpected order %v", all)
	}
}

func TestRegistryLookupDoesNotCreate(t *testing.T) {
	r := New(unreachable)
	if _, ok := r.Lookup("abc"); ok {
		t.Error("expected no session")
	}
	if r.Len() != 0 {
		t.Errorf("lookup created a session")
	}
}

func TestRegistryRemovesTerminatedSessions(t *testing.T) {
	var (
		mu      sync.Mutex
		removed []string
	)
	r := New(unreachable, OnRemove(func(id string) {
		mu.Lock()
		removed = append(removed, id)
		mu.Unlock()
	}))

	s := r.Get("abc")
	err := s.Init(context.Background(), agent.InitParams{AgentID: "abc", MeetingID: "abc", AuthToken: "tok"})
	if !errors.Is(err, agent.ErrTransport) {
		t.Fatalf("expected transport failure, got %v", err)
	}

	if _, ok := r.Lookup("abc"); ok {
		t.Error("expected terminated session removed")
	}
	mu.Lock()
	if len(removed) != 1 || removed[0] != "abc" {
		t.Errorf("expected remove hook for abc, got %v", removed)
	}
	mu.Unlock()

	if fresh := r.Get("abc"); fresh == s || fresh.State() != agent.Uninitialized {
		t.Error("expected a fresh session after termination")
	}
}

func TestRegistryRemoveChecksInstance(t *testing.T) {
	r := New(unreachable)
	s := r.Get("abc")
	if r.Remove("abc", unreachable("abc")) {
		t.Error("removed a session that was not registered")
	}
	if !r.Remove("abc", s) {
		t.Error("expected registered session removed")
	}
	if r.Remove("abc", s) {
		t.Error("second remove should be a no-op")
	}
}

func TestRegistryDeinitAll(t *testing.T) {
	r := New(unreachable)
	r.Get("a")
	r.Get("b")
	if err := r.DeinitAll(context.Background()); err != nil {
		t.Errorf("DeinitAll on idle sessions: %v", err)
	}
}

func TestMemoryDirectoryClaims(t *testing.T) {
	ctx := context.Background()
	d := NewMemory(time.Minute)
	now := time.Unix(1000, 0)
	d.now = func() time.Time { return now }

	e, ok, err := d.Claim(ctx, "abc", "http://a")
	if err != nil || !ok || e.Owner != "http://a" {
		t.Fatalf("first claim = %+v %v %v", e, ok, err)
	}
	if _, ok, _ := d.Claim(ctx, "abc", "http://a"); !ok {
		t.Error("owner should be able to claim again")
	}

	e, ok, _ = d.Claim(ctx, "abc", "http://b")
	if ok || e.Owner != "http://a" {
		t.Errorf("expected claim refused with current owner, got %+v %v", e, ok)
	}
	if err := d.Refresh(ctx, "abc", "http://b", "running"); !errors.Is(err, ErrNotOwner) {
		t.Errorf("expected ErrNotOwner, got %v", err)
	}

	if err := d.Refresh(ctx, "abc", "http://a", "running"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if e, _, _ := d.Owner(ctx, "abc"); e.State != "running" {
		t.Errorf("expected state running, got %q", e.State)
	}

	// Releasing someone else's claim does nothing.
	d.Release(ctx, "abc", "http://b")
	if _, ok, _ := d.Owner(ctx, "abc"); !ok {
		t.Error("claim dropped by non-owner")
	}
	d.Release(ctx, "abc", "http://a")
	if _, ok, _ := d.Owner(ctx, "abc"); ok {
		t.Error("expected claim released")
	}
}

func TestMemoryDirectoryExpiry(t *testing.T) {
	ctx := context.Background()
	d := NewMemory(time.Minute)
	now := time.Unix(1000, 0)
	d.now = func() time.Time { return now }

	d.Claim(ctx, "abc", "http://a")
	now = now.Add(2 * time.Minute)

	if _, ok, _ := d.Owner(ctx, "abc"); ok {
		t.Error("expected expired claim gone")
	}
	if _, ok, _ := d.Claim(ctx, "abc", "http://b"); !ok {
		t.Error("expected expired claim to be taken over")
	}
}

func TestKeepAliveRefreshesLiveSessions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := New(unreachable)
	r.Get("idle")
	d := NewMemory(time.Minute)

	go r.KeepAlive(ctx, d, "http://a", 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	// Uninitialized sessions hold no claim.
	if _, ok, _ := d.Owner(ctx, "idle"); ok {
		t.Error("idle session should not be refreshed")
	}
}
