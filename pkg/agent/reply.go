package agent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/teslashibe/go-meetagent/pkg/inference"
)

// Responder turns one transcript into one reply.
type Responder interface {
	Respond(ctx context.Context, transcript string) (string, error)
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(ctx context.Context, transcript string) (string, error)

// Respond calls f.
func (f ResponderFunc) Respond(ctx context.Context, transcript string) (string, error) {
	return f(ctx, transcript)
}

// ReplyGenerator answers a transcript with a single prompt: no system
// message, no tools.
type ReplyGenerator struct {
	provider inference.Provider
	config   *Config
	logger   *slog.Logger
}

// NewReplyGenerator creates a generator backed by provider.
func NewReplyGenerator(provider inference.Provider, opts ...Option) *ReplyGenerator {
	cfg := newConfig(opts)
	return &ReplyGenerator{
		provider: provider,
		config:   cfg,
		logger:   cfg.Logger.With("component", "reply"),
	}
}

// Generate sends transcript as the prompt and returns the model's text.
// Failures and empty answers are reported as ErrUpstreamInference.
func (g *ReplyGenerator) Generate(ctx context.Context, transcript string) (string, error) {
	if g.config.InferenceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.config.InferenceTimeout)
		defer cancel()
	}

	g.logger.Debug("generating reply", "input", transcript)

	start := time.Now()
	resp, err := g.provider.Run(ctx, &inference.RunRequest{
		Prompt: transcript,
		Model:  g.config.Model,
	})
	if err == nil && (resp == nil || strings.TrimSpace(resp.Response) == "") {
		err = inference.ErrEmptyResponse
	}
	g.config.Metrics.RecordInference("prompt", err, time.Since(start))
	if err != nil {
		return "", wrap(ErrUpstreamInference, err)
	}

	reply := strings.TrimSpace(resp.Response)
	g.logger.Info("reply generated",
		"input", transcript,
		"output", reply,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return reply, nil
}

// Respond implements Responder.
func (g *ReplyGenerator) Respond(ctx context.Context, transcript string) (string, error) {
	return g.Generate(ctx, transcript)
}

var _ Responder = (*ReplyGenerator)(nil)
