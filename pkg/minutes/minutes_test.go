package minutes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/api/docs/v1"
)

type docsServer struct {
	mu      sync.Mutex
	titles  []string
	inserts []string
	fail    bool
}

func (d *docsServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/documents":
		var doc docs.Document
		json.NewDecoder(r.Body).Decode(&doc)
		d.titles = append(d.titles, doc.Title)
		json.NewEncoder(w).Encode(docs.Document{DocumentId: "doc-1", Title: doc.Title})

	case r.Method == http.MethodPost && r.URL.Path == "/v1/documents/doc-1:batchUpdate":
		if d.fail {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":{"code":500,"message":"backend"}}`))
			return
		}
		var req docs.BatchUpdateDocumentRequest
		json.NewDecoder(r.Body).Decode(&req)
		for _, rq := range req.Requests {
			if rq.InsertText != nil && rq.InsertText.EndOfSegmentLocation != nil {
				d.inserts = append(d.inserts, rq.InsertText.Text)
			}
		}
		json.NewEncoder(w).Encode(docs.BatchUpdateDocumentResponse{DocumentId: "doc-1"})

	default:
		http.NotFound(w, r)
	}
}

func newTestWriter(t *testing.T) (*Writer, *docsServer) {
	t.Helper()
	backend := &docsServer{}
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	w, err := NewWriter(context.Background(),
		WithHTTPClient(srv.Client()),
		WithEndpoint(srv.URL+"/"),
		WithTimeout(2*time.Second),
	)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	return w, backend
}

func TestNewWriterRequiresCredentials(t *testing.T) {
	if _, err := NewWriter(context.Background()); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("expected ErrNoCredentials, got %v", err)
	}
	if _, err := NewWriter(context.Background(), WithCredentialsFile("/nonexistent/key.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestMinutesAppendOnFlush(t *testing.T) {
	w, backend := newTestWriter(t)
	ctx := context.Background()

	m, err := w.Start(ctx, "abc")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if m.DocumentID() != "doc-1" {
		t.Errorf("unexpected document id %q", m.DocumentID())
	}
	if !strings.HasPrefix(backend.titles[0], "Meeting abc (") {
		t.Errorf("unexpected title %q", backend.titles[0])
	}

	m.now = func() time.Time { return time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC) }
	m.Record("participant", "what is two plus three")
	m.Record("agent", "five")
	m.Record("agent", "   ")

	if err := m.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(backend.inserts) != 1 {
		t.Fatalf("expected one update, got %d", len(backend.inserts))
	}
	want := "[15:04:05] participant: what is two plus three\n[15:04:05] agent: five\n"
	if backend.inserts[0] != want {
		t.Errorf("expected %q, got %q", want, backend.inserts[0])
	}
	if m.Written() != 2 || m.Pending() != 0 {
		t.Errorf("unexpected counts written=%d pending=%d", m.Written(), m.Pending())
	}

	// Nothing buffered means no request.
	if err := m.Flush(ctx); err != nil {
		t.Fatalf("empty Flush: %v", err)
	}
	if len(backend.inserts) != 1 {
		t.Errorf("expected no extra update, got %d", len(backend.inserts))
	}
}

func TestMinutesKeepLinesOnFailure(t *testing.T) {
	w, backend := newTestWriter(t)
	ctx := context.Background()

	m, err := w.Start(ctx, "abc")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	m.Record("agent", "hello")

	backend.mu.Lock()
	backend.fail = true
	backend.mu.Unlock()

	if err := m.Flush(ctx); err == nil {
		t.Fatal("expected flush error")
	}
	if m.Pending() != 1 {
		t.Errorf("expected line kept, got %d pending", m.Pending())
	}

	backend.mu.Lock()
	backend.fail = false
	backend.mu.Unlock()

	if err := m.Flush(ctx); err != nil {
		t.Fatalf("retry Flush: %v", err)
	}
	if m.Written() != 1 {
		t.Errorf("expected 1 written, got %d", m.Written())
	}
}

func TestDocURL(t *testing.T) {
	if got := DocURL("abc"); got != "https://docs.google.com/document/d/abc/edit" {
		t.Errorf("unexpected url %s", got)
	}
}
