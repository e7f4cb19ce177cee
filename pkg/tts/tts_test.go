package tts_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teslashibe/go-meetagent/pkg/pipeline"
	"github.com/teslashibe/go-meetagent/pkg/tts"
)

func TestMockProvider(t *testing.T) {
	mock := tts.NewMock()
	ctx := context.Background()

	t.Run("Synthesize returns 48k audio", func(t *testing.T) {
		result, err := mock.Synthesize(ctx, "Hello world")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(result.Audio) == 0 {
			t.Error("expected audio data")
		}
		if result.CharCount != 11 {
			t.Errorf("expected 11 chars, got %d", result.CharCount)
		}
		if result.Format.SampleRate != 48000 {
			t.Errorf("expected 48000 sample rate, got %d", result.Format.SampleRate)
		}
	})

	t.Run("Stream yields chunks then nil", func(t *testing.T) {
		stream, err := mock.Stream(ctx, "abc")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer stream.Close()

		chunks := 0
		for {
			chunk, err := stream.Read()
			if err != nil {
				t.Fatalf("read error: %v", err)
			}
			if chunk == nil {
				break
			}
			chunks++
		}
		if chunks != 3 {
			t.Errorf("expected 3 chunks, got %d", chunks)
		}
	})

	t.Run("Calls are tracked", func(t *testing.T) {
		if mock.CallCount("Synthesize") != 1 {
			t.Errorf("expected 1 Synthesize call, got %d", mock.CallCount("Synthesize"))
		}
		if mock.CallCount("Stream") != 1 {
			t.Errorf("expected 1 Stream call, got %d", mock.CallCount("Stream"))
		}
		mock.Reset()
		if len(mock.Calls()) != 0 {
			t.Error("expected calls to be cleared")
		}
	})
}

func TestMockWithError(t *testing.T) {
	testErr := errors.New("test error")
	mock := tts.WithError(testErr)
	ctx := context.Background()

	if _, err := mock.Synthesize(ctx, "Hello"); !errors.Is(err, testErr) {
		t.Errorf("expected test error, got %v", err)
	}
	if _, err := mock.Stream(ctx, "Hello"); err == nil {
		t.Error("expected stream error")
	}
	if err := mock.Health(ctx); err == nil {
		t.Error("expected health error")
	}
}

func TestMockWithLatency(t *testing.T) {
	mock := tts.WithLatency(tts.NewMock(), 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := mock.Synthesize(ctx, "Hello"); err == nil {
		t.Error("expected context deadline error")
	}
}

func TestConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := tts.DefaultConfig()
		if cfg.OutputFormat != tts.EncodingPCM48 {
			t.Errorf("expected pcm_48000, got %s", cfg.OutputFormat)
		}
		if cfg.VoiceID != "21m00Tcm4TlvDq8ikWAM" {
			t.Errorf("unexpected default voice %s", cfg.VoiceID)
		}
	})

	t.Run("voice presets resolve", func(t *testing.T) {
		cfg := tts.DefaultConfig()
		cfg.Apply(tts.WithVoice("josh"), tts.WithModel("m"))
		if cfg.VoiceID != "TxGEqnHWrfWFTfGW9XjX" {
			t.Errorf("expected josh voice id, got %s", cfg.VoiceID)
		}
		cfg.Apply(tts.WithVoice("custom-id"))
		if cfg.VoiceID != "custom-id" {
			t.Errorf("expected raw id passthrough, got %s", cfg.VoiceID)
		}
	})

	t.Run("validate", func(t *testing.T) {
		cfg := tts.DefaultConfig()
		if err := cfg.Validate(); err != tts.ErrNoAPIKey {
			t.Errorf("expected ErrNoAPIKey, got %v", err)
		}
		cfg.APIKey = "k"
		cfg.VoiceID = ""
		if err := cfg.Validate(); err != tts.ErrNoVoiceID {
			t.Errorf("expected ErrNoVoiceID, got %v", err)
		}
	})
}

func TestAPIError(t *testing.T) {
	for _, code := range []int{429, 500, 503} {
		if !(&tts.APIError{StatusCode: code}).IsRetryable() {
			t.Errorf("expected %d to be retryable", code)
		}
	}
	if (&tts.APIError{StatusCode: 401}).IsRetryable() {
		t.Error("expected 401 not retryable")
	}

	err := &tts.APIError{StatusCode: 400, Message: "bad request", Code: "invalid_input", Provider: "elevenlabs"}
	if err.Error() != "tts [elevenlabs]: API error 400 (invalid_input): bad request" {
		t.Errorf("unexpected error message: %s", err.Error())
	}
}

func TestSampleRateFromEncoding(t *testing.T) {
	tests := []struct {
		encoding   tts.Encoding
		sampleRate int
	}{
		{tts.EncodingPCM16, 16000},
		{tts.EncodingPCM24, 24000},
		{tts.EncodingPCM44, 44100},
		{tts.EncodingPCM48, 48000},
		{tts.EncodingMP3, 44100},
	}
	for _, tt := range tests {
		t.Run(string(tt.encoding), func(t *testing.T) {
			if rate := tts.SampleRateFromEncoding(tt.encoding); rate != tt.sampleRate {
				t.Errorf("expected %d, got %d", tt.sampleRate, rate)
			}
		})
	}
}

func newTestElevenLabs(t *testing.T, url string) *tts.ElevenLabs {
	t.Helper()
	e, err := tts.NewElevenLabs(
		tts.WithAPIKey("test-key"),
		tts.WithBaseURL(url),
		tts.WithRetry(2, time.Millisecond),
	)
	if err != nil {
		t.Fatalf("NewElevenLabs: %v", err)
	}
	return e
}

func TestElevenLabsStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/text-to-speech/21m00Tcm4TlvDq8ikWAM/stream" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("output_format"); got != "pcm_48000" {
			t.Errorf("expected output_format pcm_48000, got %s", got)
		}
		if r.Header.Get("xi-api-key") != "test-key" {
			t.Error("missing api key header")
		}
		var body struct {
			Text    string `json:"text"`
			ModelID string `json:"model_id"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.Text != "hello" || body.ModelID != tts.ModelTurboV2_5 {
			t.Errorf("unexpected payload %+v", body)
		}
		w.Write(make([]byte, 3840))
	}))
	defer srv.Close()

	e := newTestElevenLabs(t, srv.URL)
	defer e.Close()

	stream, err := e.Stream(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer stream.Close()

	if stream.Format().SampleRate != 48000 {
		t.Errorf("expected 48000, got %d", stream.Format().SampleRate)
	}
	total := 0
	for {
		chunk, err := stream.Read()
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if chunk == nil {
			break
		}
		total += len(chunk)
	}
	if total != 3840 {
		t.Errorf("expected 3840 bytes, got %d", total)
	}
}

func TestElevenLabsRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(make([]byte, 960))
	}))
	defer srv.Close()

	e := newTestElevenLabs(t, srv.URL)
	result, err := e.Synthesize(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", calls.Load())
	}
	if result.Duration != 10*time.Millisecond {
		t.Errorf("expected 10ms, got %v", result.Duration)
	}
}

func TestElevenLabsUnauthorized(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":{"status":"invalid_api_key","message":"Invalid API key"}}`))
	}))
	defer srv.Close()

	e := newTestElevenLabs(t, srv.URL)
	_, err := e.Stream(context.Background(), "hi")

	var apiErr *tts.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if !apiErr.IsUnauthorized() || apiErr.Message != "Invalid API key" || apiErr.Code != "invalid_api_key" {
		t.Errorf("unexpected error %+v", apiErr)
	}
	if calls.Load() != 1 {
		t.Errorf("expected no retry, got %d calls", calls.Load())
	}
}

func TestElevenLabsEmptyText(t *testing.T) {
	e := newTestElevenLabs(t, "http://127.0.0.1:0")
	if _, err := e.Stream(context.Background(), ""); !errors.Is(err, tts.ErrEmptyText) {
		t.Errorf("expected ErrEmptyText, got %v", err)
	}
}

func runStage(t *testing.T, stage *tts.Stage, frames ...pipeline.Frame) []pipeline.Frame {
	t.Helper()
	in := make(chan pipeline.Frame, len(frames))
	out := make(chan pipeline.Frame, 256)
	for _, f := range frames {
		in <- f
	}
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := stage.Process(ctx, in, out); err != nil {
		t.Fatalf("Process: %v", err)
	}
	close(out)

	var got []pipeline.Frame
	for f := range out {
		got = append(got, f)
	}
	return got
}

func TestStageSpeaksText(t *testing.T) {
	var firsts atomic.Int32
	stage := tts.NewStage(tts.NewMock(), tts.OnFirstAudio(func() { firsts.Add(1) }))

	got := runStage(t, stage,
		pipeline.TextFrame("hi"),
		pipeline.TranscriptFrame("passes through"),
		pipeline.TextFrame("ok"),
	)

	if len(got) != 5 {
		t.Fatalf("expected 5 frames, got %d", len(got))
	}
	for i, f := range []pipeline.Kind{pipeline.KindAudio, pipeline.KindAudio, pipeline.KindTranscript, pipeline.KindAudio, pipeline.KindAudio} {
		if got[i].Kind != f {
			t.Errorf("frame %d: expected %s, got %s", i, f, got[i].Kind)
		}
	}
	if got[0].SampleRate != 48000 {
		t.Errorf("expected 48000, got %d", got[0].SampleRate)
	}
	if firsts.Load() != 2 {
		t.Errorf("expected first-audio hook twice, got %d", firsts.Load())
	}
	if stage.Utterances() != 2 {
		t.Errorf("expected 2 utterances, got %d", stage.Utterances())
	}
}

func TestStageKeepsWholeSamples(t *testing.T) {
	mock := tts.NewMock()
	mock.StreamFunc = func(ctx context.Context, text string) (tts.AudioStream, error) {
		return tts.NewBufferStream(make([]byte, 7), tts.AudioFormat{Encoding: tts.EncodingPCM48, SampleRate: 48000}, 3), nil
	}

	got := runStage(t, tts.NewStage(mock), pipeline.TextFrame("x"))

	total := 0
	for _, f := range got {
		if len(f.Audio)%2 != 0 {
			t.Errorf("frame has odd length %d", len(f.Audio))
		}
		total += len(f.Audio)
	}
	if total != 6 {
		t.Errorf("expected 6 bytes, got %d", total)
	}
}

func TestStageSkipsFailedUtterance(t *testing.T) {
	calls := 0
	mock := tts.NewMock()
	mock.StreamFunc = func(ctx context.Context, text string) (tts.AudioStream, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("boom")
		}
		return tts.NewBufferStream(make([]byte, 1920), tts.AudioFormat{Encoding: tts.EncodingPCM48, SampleRate: 48000}, 0), nil
	}
	stage := tts.NewStage(mock)

	got := runStage(t, stage, pipeline.TextFrame("first"), pipeline.TextFrame("second"))

	if len(got) != 1 {
		t.Fatalf("expected 1 audio frame, got %d", len(got))
	}
	if stage.Failures() != 1 {
		t.Errorf("expected 1 failure, got %d", stage.Failures())
	}
}

func TestStageCountsExhaustedQuota(t *testing.T) {
	mock := tts.NewMock()
	mock.StreamFunc = func(ctx context.Context, text string) (tts.AudioStream, error) {
		return nil, tts.WrapError("elevenlabs", &tts.APIError{
			StatusCode: 401,
			Code:       "quota_exceeded",
			Provider:   "elevenlabs",
		})
	}
	stage := tts.NewStage(mock)

	got := runStage(t, stage, pipeline.TextFrame("first"), pipeline.TextFrame("second"))

	if len(got) != 0 {
		t.Fatalf("expected no audio, got %d frames", len(got))
	}
	if stage.QuotaExhausted() != 2 || stage.Failures() != 2 {
		t.Errorf("expected 2 quota failures, got quota=%d failures=%d", stage.QuotaExhausted(), stage.Failures())
	}
	if tts.IsQuotaExceeded(errors.New("boom")) {
		t.Error("plain error reported as quota exhausted")
	}
}

func TestStageRejectsCompressedAudio(t *testing.T) {
	mock := tts.NewMock()
	mock.StreamFunc = func(ctx context.Context, text string) (tts.AudioStream, error) {
		return tts.NewBufferStream([]byte{1, 2}, tts.AudioFormat{Encoding: tts.EncodingMP3}, 0), nil
	}
	stage := tts.NewStage(mock)

	if got := runStage(t, stage, pipeline.TextFrame("x")); len(got) != 0 {
		t.Errorf("expected no frames, got %d", len(got))
	}
	if stage.Failures() != 1 {
		t.Errorf("expected 1 failure, got %d", stage.Failures())
	}
}
