package agent

import (
	"log/slog"
	"time"

	"github.com/teslashibe/go-meetagent/pkg/metrics"
)

// Defaults for agent components.
const (
	DefaultModel            = "@cf/meta/llama-3.1-8b-instruct"
	DefaultToolModel        = "@hf/nousresearch/hermes-2-pro-mistral-7b"
	DefaultInferenceTimeout = 30 * time.Second
	DefaultJoinTimeout      = 20 * time.Second
	DefaultTeardownTimeout  = 10 * time.Second
)

// Config holds settings shared by the agent components.
// Use functional options (WithXxx) to set these values.
type Config struct {
	// Model answers transcripts with a single prompt.
	Model string

	// ToolModel answers with tool support.
	ToolModel string

	// InferenceTimeout bounds one model call. Zero means no bound.
	InferenceTimeout time.Duration

	// FallbackReply is spoken when a transcript cannot be answered.
	// Empty means say nothing.
	FallbackReply string

	// JoinTimeout bounds joining the meeting.
	JoinTimeout time.Duration

	// TeardownTimeout bounds rollback and self-initiated teardown.
	TeardownTimeout time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Option is a functional option for agent components.
type Option func(*Config)

// WithModel sets the prompt model.
func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

// WithToolModel sets the tool-capable model.
func WithToolModel(model string) Option {
	return func(c *Config) { c.ToolModel = model }
}

// WithInferenceTimeout bounds each model call.
func WithInferenceTimeout(d time.Duration) Option {
	return func(c *Config) { c.InferenceTimeout = d }
}

// WithFallbackReply sets the utterance used when replying fails.
func WithFallbackReply(text string) Option {
	return func(c *Config) { c.FallbackReply = text }
}

// WithJoinTimeout bounds joining the meeting.
func WithJoinTimeout(d time.Duration) Option {
	return func(c *Config) { c.JoinTimeout = d }
}

// WithTeardownTimeout bounds teardown not driven by a caller context.
func WithTeardownTimeout(d time.Duration) Option {
	return func(c *Config) { c.TeardownTimeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// WithMetrics sets the metrics sink. Nil disables metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Config) { c.Metrics = m }
}

// DefaultConfig returns the default agent configuration.
func DefaultConfig() *Config {
	return &Config{
		Model:            DefaultModel,
		ToolModel:        DefaultToolModel,
		InferenceTimeout: DefaultInferenceTimeout,
		JoinTimeout:      DefaultJoinTimeout,
		TeardownTimeout:  DefaultTeardownTimeout,
		Logger:           slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

func newConfig(opts []Option) *Config {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}
