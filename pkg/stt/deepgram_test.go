package stt

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-meetagent/pkg/pipeline"
)

func result(text string, final bool) map[string]any {
	return map[string]any{
		"type":     "Results",
		"is_final": final,
		"channel": map[string]any{
			"alternatives": []map[string]any{{"transcript": text, "confidence": 0.9}},
		},
	}
}

func deepgramServer(t *testing.T) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Token dg-key" {
			t.Errorf("Authorization = %q", got)
		}
		q := r.URL.Query()
		if q.Get("encoding") != "linear16" || q.Get("sample_rate") != "48000" || q.Get("model") != "nova-2" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer ws.Close()

		for {
			typ, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			switch {
			case typ == websocket.BinaryMessage:
				ws.WriteJSON(result("hel", false))
				ws.WriteJSON(result("", true))
				ws.WriteJSON(map[string]any{"type": "Metadata"})
				ws.WriteJSON(result("hello there", true))
			case strings.Contains(string(data), "CloseStream"):
				ws.WriteJSON(result("goodbye", true))
				ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDeepgramEmitsFinalTranscripts(t *testing.T) {
	d, err := New(WithAPIKey("dg-key"), WithURL(deepgramServer(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var interim int
	d.OnResult = func(r Result) {
		if !r.SegmentFinal {
			interim++
		}
	}

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Close()

	in := make(chan pipeline.Frame, 4)
	out := make(chan pipeline.Frame, 16)

	in <- pipeline.AudioFrame(make([]byte, 1920), 48000)
	in <- pipeline.TextFrame("passthrough")

	done := make(chan error, 1)
	go func() { done <- d.Process(ctx, in, out) }()

	var got []pipeline.Frame
	deadline := time.After(3 * time.Second)
	for len(got) < 2 {
		select {
		case f := <-out:
			got = append(got, f)
		case <-deadline:
			t.Fatalf("timed out, got %+v", got)
		}
	}
	close(in)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Process did not return after input closed")
	}
	for len(out) > 0 {
		got = append(got, <-out)
	}

	var transcripts []string
	var passed bool
	for _, f := range got {
		switch f.Kind {
		case pipeline.KindTranscript:
			transcripts = append(transcripts, f.Text)
		case pipeline.KindText:
			passed = f.Text == "passthrough"
		}
	}
	if !passed {
		t.Error("text frame was not forwarded")
	}
	if len(transcripts) != 2 || transcripts[0] != "hello there" || transcripts[1] != "goodbye" {
		t.Errorf("transcripts = %q", transcripts)
	}
	if d.Transcripts() != 2 {
		t.Errorf("Transcripts = %d", d.Transcripts())
	}
	if interim != 1 {
		t.Errorf("interim results = %d, want 1", interim)
	}
}

func TestDeepgramProcessBeforeStart(t *testing.T) {
	d, _ := New(WithAPIKey("k"))
	err := d.Process(context.Background(), make(chan pipeline.Frame), make(chan pipeline.Frame))
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Process = %v, want ErrNotConnected", err)
	}
}

func TestNewRequiresKey(t *testing.T) {
	if _, err := New(); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("New = %v, want ErrNoAPIKey", err)
	}
}

func TestStreamURL(t *testing.T) {
	cfg := DefaultConfig()
	u, err := cfg.streamURL()
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"model=nova-2", "encoding=linear16", "sample_rate=48000", "channels=1", "interim_results=true"} {
		if !strings.Contains(u, want) {
			t.Errorf("url %q missing %q", u, want)
		}
	}
}
