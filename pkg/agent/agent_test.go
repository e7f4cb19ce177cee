package agent_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teslashibe/go-meetagent/pkg/agent"
	"github.com/teslashibe/go-meetagent/pkg/inference"
	"github.com/teslashibe/go-meetagent/pkg/pipeline"
)

func TestSum(t *testing.T) {
	tests := []struct {
		a, b float64
		want string
	}{
		{2, 3, "5"},
		{-1.5, 1.5, "0"},
		{0.1, 0.2, "0.30000000000000004"},
		{1e15, 1, "1000000000000001"},
		{1e21, 0, "1e+21"},
		{1.5e21, 0, "1.5e+21"},
		{1e20, 0, "100000000000000000000"},
		{1e-7, 0, "1e-7"},
		{-2.5e-8, 0, "-2.5e-8"},
		{1e-6, 0, "0.000001"},
		{-0.0, 0, "0"},
		{1e300, 1e300, "2e+300"},
		{2.5, 0.25, "2.75"},
	}
	for _, tt := range tests {
		if got := agent.Sum(tt.a, tt.b); got != tt.want {
			t.Errorf("Sum(%v, %v) = %q, want %q", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestSumToolHandler(t *testing.T) {
	tool := agent.SumTool()
	got, err := tool.Handler(context.Background(), map[string]any{"a": 2.0, "b": 3.0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "5" {
		t.Errorf("expected 5, got %q", got)
	}
}

func TestReplyGenerator(t *testing.T) {
	ctx := context.Background()

	t.Run("returns model text", func(t *testing.T) {
		mock := inference.NewMock()
		var gotReq inference.RunRequest
		mock.RunFunc = func(ctx context.Context, req *inference.RunRequest) (*inference.RunResponse, error) {
			gotReq = *req
			return &inference.RunResponse{Response: "hi"}, nil
		}

		got, err := agent.NewReplyGenerator(mock).Generate(ctx, "hello")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "hi" {
			t.Errorf("expected hi, got %q", got)
		}
		if gotReq.Prompt != "hello" || gotReq.Model != agent.DefaultModel {
			t.Errorf("unexpected request %+v", gotReq)
		}
	})

	t.Run("empty response is upstream failure", func(t *testing.T) {
		mock := inference.NewMock()
		mock.RunFunc = func(ctx context.Context, req *inference.RunRequest) (*inference.RunResponse, error) {
			return &inference.RunResponse{Response: "  "}, nil
		}
		_, err := agent.NewReplyGenerator(mock).Generate(ctx, "hello")
		if !errors.Is(err, agent.ErrUpstreamInference) {
			t.Errorf("expected ErrUpstreamInference, got %v", err)
		}
	})

	t.Run("backend error keeps cause", func(t *testing.T) {
		cause := &inference.APIError{StatusCode: 500, Message: "down"}
		_, err := agent.NewReplyGenerator(inference.WithError(cause)).Generate(ctx, "hello")
		if !errors.Is(err, agent.ErrUpstreamInference) {
			t.Errorf("expected ErrUpstreamInference, got %v", err)
		}
		var apiErr *inference.APIError
		if !errors.As(err, &apiErr) {
			t.Errorf("expected APIError in chain, got %v", err)
		}
	})

	t.Run("bounded by inference timeout", func(t *testing.T) {
		mock := inference.NewMock()
		mock.RunFunc = func(ctx context.Context, req *inference.RunRequest) (*inference.RunResponse, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		gen := agent.NewReplyGenerator(mock, agent.WithInferenceTimeout(20*time.Millisecond))

		start := time.Now()
		_, err := gen.Generate(ctx, "hello")
		if !errors.Is(err, agent.ErrUpstreamInference) || !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline as upstream failure, got %v", err)
		}
		if time.Since(start) > time.Second {
			t.Error("timeout not applied")
		}
	})
}

func toolCallResponse(args string) *inference.ChatResponse {
	return &inference.ChatResponse{
		Message: inference.Message{
			Role:      inference.RoleAssistant,
			ToolCalls: []inference.ToolCall{{ID: "call_1", Name: "sum", Arguments: args}},
		},
		FinishReason: "tool_calls",
	}
}

func TestToolInvoker(t *testing.T) {
	ctx := context.Background()

	t.Run("resolves sum call", func(t *testing.T) {
		mock := inference.NewMock()
		var rounds int
		mock.ChatFunc = func(ctx context.Context, req *inference.ChatRequest) (*inference.ChatResponse, error) {
			rounds++
			if req.Model != agent.DefaultToolModel {
				t.Errorf("unexpected model %s", req.Model)
			}
			if req.Messages[0].Role != inference.RoleSystem || req.Messages[0].Content != agent.SystemPrompt {
				t.Errorf("expected system prompt first, got %+v", req.Messages[0])
			}
			if len(req.Tools) != 1 || req.Tools[0].Name != "sum" {
				t.Errorf("expected sum tool, got %+v", req.Tools)
			}
			if rounds == 1 {
				return toolCallResponse(`{"a":2,"b":3}`), nil
			}
			last := req.Messages[len(req.Messages)-1]
			if last.Role != inference.RoleTool || last.Content != "5" || last.ToolCallID != "call_1" {
				t.Errorf("expected tool result 5, got %+v", last)
			}
			return &inference.ChatResponse{Message: inference.NewAssistantMessage("2 plus 3 is 5")}, nil
		}

		got, err := agent.NewToolInvoker(mock).InvokeWithTools(ctx, "what is 2 plus 3")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "2 plus 3 is 5" {
			t.Errorf("unexpected answer %q", got)
		}
		if rounds != 2 {
			t.Errorf("expected 2 model calls, got %d", rounds)
		}
	})

	t.Run("schema violation is tool failure", func(t *testing.T) {
		mock := inference.NewMock()
		mock.ChatFunc = func(ctx context.Context, req *inference.ChatRequest) (*inference.ChatResponse, error) {
			return toolCallResponse(`{"a":"two"}`), nil
		}
		_, err := agent.NewToolInvoker(mock).InvokeWithTools(ctx, "add")
		if !errors.Is(err, agent.ErrToolInvocation) {
			t.Errorf("expected ErrToolInvocation, got %v", err)
		}
	})

	t.Run("backend failure is upstream failure", func(t *testing.T) {
		_, err := agent.NewToolInvoker(inference.WithError(errors.New("boom"))).InvokeWithTools(ctx, "add")
		if !errors.Is(err, agent.ErrUpstreamInference) {
			t.Errorf("expected ErrUpstreamInference, got %v", err)
		}
	})
}

// scripted answers each call with the next result in order.
type scripted struct {
	calls   atomic.Int32
	results []func() (string, error)
}

func (s *scripted) Respond(ctx context.Context, text string) (string, error) {
	i := int(s.calls.Add(1)) - 1
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	return s.results[i]()
}

func ok(text string) func() (string, error) {
	return func() (string, error) { return text, nil }
}

func fail(kind error) func() (string, error) {
	return func() (string, error) { return "", kind }
}

func TestOnTranscriptRepliesOnce(t *testing.T) {
	gen := agent.NewReplyGenerator(inference.NewMock())
	stage := agent.NewTextStage(gen)

	var replies []string
	err := stage.OnTranscript(context.Background(), "test", func(r string) { replies = append(replies, r) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(replies) != 1 || replies[0] != "Mock response" {
		t.Errorf("expected exactly one reply with generator output, got %v", replies)
	}
}

func TestOnTranscriptRecovery(t *testing.T) {
	upstream := agent.ErrUpstreamInference

	tests := []struct {
		name      string
		results   []func() (string, error)
		fallback  string
		wantCalls int32
		want      []string
		wantErr   error
	}{
		{"retry succeeds", []func() (string, error){fail(upstream), ok("hi")}, "", 2, []string{"hi"}, nil},
		{"fallback after retry", []func() (string, error){fail(upstream), fail(upstream)}, "Sorry?", 2, []string{"Sorry?"}, upstream},
		{"silent without fallback", []func() (string, error){fail(upstream)}, "", 2, nil, upstream},
		{"tool failure not retried", []func() (string, error){fail(agent.ErrToolInvocation)}, "", 1, nil, agent.ErrToolInvocation},
		{"panic treated as upstream failure", []func() (string, error){func() (string, error) { panic("boom") }, ok("hi")}, "", 2, []string{"hi"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &scripted{results: tt.results}
			stage := agent.NewTextStage(r, agent.WithFallbackReply(tt.fallback))

			var replies []string
			err := stage.OnTranscript(context.Background(), "test", func(s string) { replies = append(replies, s) })

			if !errors.Is(err, tt.wantErr) && !(err == nil && tt.wantErr == nil) {
				t.Errorf("expected error %v, got %v", tt.wantErr, err)
			}
			if r.calls.Load() != tt.wantCalls {
				t.Errorf("expected %d responder calls, got %d", tt.wantCalls, r.calls.Load())
			}
			if strings.Join(replies, "|") != strings.Join(tt.want, "|") {
				t.Errorf("expected replies %v, got %v", tt.want, replies)
			}
		})
	}
}

func TestAnnounceRequiresRunningStage(t *testing.T) {
	stage := agent.NewTextStage(&scripted{results: []func() (string, error){ok("x")}})

	if err := stage.Announce("hello"); !errors.Is(err, agent.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning before start, got %v", err)
	}

	if err := stage.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := stage.Announce("queued before process"); err != nil {
		t.Fatalf("Announce after Start: %v", err)
	}

	in := make(chan pipeline.Frame)
	out := make(chan pipeline.Frame, 8)
	errCh := make(chan error, 1)
	go func() { errCh <- stage.Process(context.Background(), in, out) }()

	select {
	case f := <-out:
		if f.Kind != pipeline.KindText || f.Text != "queued before process" {
			t.Errorf("unexpected frame %+v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("announcement not emitted")
	}

	close(in)
	if err := <-errCh; err != nil {
		t.Fatalf("Process: %v", err)
	}
	if err := stage.Announce("late"); !errors.Is(err, agent.ErrNotRunning) {
		t.Errorf("expected ErrNotRunning after stop, got %v", err)
	}
}

func TestProcessAnswersInOrder(t *testing.T) {
	r := agent.ResponderFunc(func(ctx context.Context, text string) (string, error) {
		if text == "bad" {
			return "", agent.ErrUpstreamInference
		}
		return "re: " + text, nil
	})
	stage := agent.NewTextStage(r)

	in := make(chan pipeline.Frame, 8)
	out := make(chan pipeline.Frame, 8)
	in <- pipeline.TranscriptFrame("one")
	in <- pipeline.AudioFrame([]byte{0, 0}, 48000)
	in <- pipeline.TranscriptFrame("bad")
	in <- pipeline.TranscriptFrame("  ")
	in <- pipeline.TranscriptFrame("two")
	close(in)

	if err := stage.Process(context.Background(), in, out); err != nil {
		t.Fatalf("Process: %v", err)
	}
	close(out)

	var got []string
	for f := range out {
		got = append(got, f.Kind.String()+":"+f.Text)
	}
	want := "text:re: one|audio:|text:re: two"
	if strings.Join(got, "|") != want {
		t.Errorf("expected %s, got %s", want, strings.Join(got, "|"))
	}

	transcripts, replies, _ := stage.Counters()
	if transcripts != 3 || replies != 2 {
		t.Errorf("expected 3 transcripts and 2 replies, got %d and %d", transcripts, replies)
	}
}
