package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-meetagent/internal/httpc"
	"github.com/teslashibe/go-meetagent/pkg/pcm"
	"github.com/teslashibe/go-meetagent/pkg/pipeline"
)

var (
	keepAliveMsg   = []byte(`{"type":"KeepAlive"}`)
	closeStreamMsg = []byte(`{"type":"CloseStream"}`)
)

// Deepgram is a pipeline processor backed by Deepgram live streaming.
type Deepgram struct {
	config *Config
	logger *slog.Logger

	mu      sync.Mutex
	ws      *websocket.Conn
	writeMu sync.Mutex

	// OnResult, if set, sees every result including interim ones.
	OnResult func(Result)

	transcripts atomic.Int64
}

// New creates a Deepgram processor. The stream is opened by Start.
func New(opts ...Option) (*Deepgram, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Deepgram{
		config: cfg,
		logger: cfg.Logger.With("component", "stt.deepgram"),
	}, nil
}

// Name returns the stage name.
func (d *Deepgram) Name() string { return "stt.deepgram" }

// Start opens the streaming connection.
func (d *Deepgram) Start(ctx context.Context) error {
	streamURL, err := d.config.streamURL()
	if err != nil {
		return fmt.Errorf("stt: stream url: %w", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Token "+d.config.APIKey)

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, streamURL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("stt: connect: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("stt: connect: %w", err)
	}

	d.mu.Lock()
	d.ws = ws
	d.mu.Unlock()

	d.logger.Info("connected", "model", d.config.Model, "sample_rate", d.config.SampleRate)
	return nil
}

// Process streams audio frames and emits transcript frames for final
// results. It returns once in is closed and the provider has flushed, or
// when ctx is done.
func (d *Deepgram) Process(ctx context.Context, in <-chan pipeline.Frame, out chan<- pipeline.Frame) error {
	d.mu.Lock()
	ws := d.ws
	d.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}

	readDone := make(chan error, 1)
	go func() { readDone <- d.readLoop(ctx, ws, out) }()

	ticker := time.NewTicker(d.config.KeepAlive)
	defer ticker.Stop()
	lastAudio := time.Now()

	for {
		select {
		case <-ctx.Done():
			ws.Close()
			<-readDone
			return ctx.Err()

		case err := <-readDone:
			return err

		case <-ticker.C:
			if time.Since(lastAudio) < d.config.KeepAlive {
				continue
			}
			if err := d.write(websocket.TextMessage, keepAliveMsg); err != nil {
				d.logger.Warn("keepalive failed", "error", err)
			}

		case f, ok := <-in:
			if !ok {
				return d.finish(ws, readDone)
			}
			if f.Kind != pipeline.KindAudio {
				if err := pipeline.Send(ctx, out, f); err != nil {
					ws.Close()
					<-readDone
					return err
				}
				continue
			}
			audio := f.Audio
			if f.SampleRate != 0 && f.SampleRate != d.config.SampleRate {
				audio = pcm.ResampleBytes(audio, f.SampleRate, d.config.SampleRate)
			}
			if err := d.write(websocket.BinaryMessage, audio); err != nil {
				ws.Close()
				<-readDone
				return fmt.Errorf("stt: send audio: %w", err)
			}
			lastAudio = time.Now()
		}
	}
}

// finish asks the provider to flush and waits for the read loop to end.
func (d *Deepgram) finish(ws *websocket.Conn, readDone <-chan error) error {
	if err := d.write(websocket.TextMessage, closeStreamMsg); err != nil {
		ws.Close()
		<-readDone
		return nil
	}
	select {
	case <-readDone:
	case <-time.After(d.config.CloseTimeout):
		ws.Close()
		<-readDone
	}
	return nil
}

func (d *Deepgram) readLoop(ctx context.Context, ws *websocket.Conn, out chan<- pipeline.Frame) error {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("stt: read: %w", err)
		}

		var msg deepgramMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			d.logger.Debug("ignoring malformed message", "error", err)
			continue
		}
		res, ok := msg.result()
		if !ok {
			continue
		}
		if d.OnResult != nil {
			d.OnResult(res)
		}

		text := strings.TrimSpace(res.Text)
		if !res.SegmentFinal || text == "" {
			continue
		}
		d.transcripts.Add(1)
		d.logger.Debug("transcript", "text", text, "confidence", res.Confidence)
		if err := pipeline.Send(ctx, out, pipeline.TranscriptFrame(text)); err != nil {
			return nil
		}
	}
}

func (d *Deepgram) write(messageType int, data []byte) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	d.mu.Lock()
	ws := d.ws
	d.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}
	return ws.WriteMessage(messageType, data)
}

// Transcripts returns how many transcript frames have been emitted.
func (d *Deepgram) Transcripts() int64 {
	return d.transcripts.Load()
}

// Close closes the streaming connection.
func (d *Deepgram) Close() error {
	d.mu.Lock()
	ws := d.ws
	d.ws = nil
	d.mu.Unlock()
	if ws == nil {
		return nil
	}
	d.writeMu.Lock()
	ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	d.writeMu.Unlock()
	return ws.Close()
}

// Health checks the API key against Deepgram's REST API.
func Health(ctx context.Context, apiKey string) error {
	if apiKey == "" {
		return ErrNoAPIKey
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.deepgram.com/v1/projects", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Token "+apiKey)

	resp, err := httpc.Client.Do(req)
	if err != nil {
		return fmt.Errorf("stt: health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stt: health check: status %d", resp.StatusCode)
	}
	return nil
}

// Verify Deepgram is a pipeline processor at compile time.
var (
	_ pipeline.Processor = (*Deepgram)(nil)
	_ pipeline.Starter   = (*Deepgram)(nil)
)
