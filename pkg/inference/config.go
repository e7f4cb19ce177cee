package inference

import (
	"log/slog"
	"net/http"
	"time"
)

// DefaultBaseURL is the Cloudflare API root.
const DefaultBaseURL = "https://api.cloudflare.com/client/v4"

// Config holds provider configuration.
type Config struct {
	// Connection
	BaseURL   string
	AccountID string
	APIToken  string

	// Models
	Model     string // prompt completions
	ToolModel string // tool-augmented chat

	// Request defaults
	MaxTokens int

	// Timeouts
	Timeout time.Duration

	// Retry configuration
	MaxRetries int
	RetryDelay time.Duration

	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client

	// Observability
	Logger *slog.Logger
}

// Option is a functional option for configuring providers.
type Option func(*Config)

// WithBaseURL sets the API base URL.
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithAccount sets the account id and API token.
func WithAccount(accountID, apiToken string) Option {
	return func(c *Config) {
		c.AccountID = accountID
		c.APIToken = apiToken
	}
}

// WithModel sets the prompt completion model.
func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

// WithToolModel sets the model used for tool-augmented chat.
func WithToolModel(model string) Option {
	return func(c *Config) { c.ToolModel = model }
}

// WithMaxTokens sets the default max tokens.
func WithMaxTokens(n int) Option {
	return func(c *Config) { c.MaxTokens = n }
}

// WithTimeout sets the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithRetry configures retry behavior.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(c *Config) {
		c.MaxRetries = maxRetries
		c.RetryDelay = delay
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Config) { c.HTTPClient = hc }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns defaults for Workers AI.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:    DefaultBaseURL,
		Model:      "@cf/meta/llama-3.1-8b-instruct",
		ToolModel:  "@hf/nousresearch/hermes-2-pro-mistral-7b",
		MaxTokens:  256,
		Timeout:    30 * time.Second,
		MaxRetries: 2,
		RetryDelay: 200 * time.Millisecond,
		Logger:     slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.AccountID == "" {
		return ErrNoAccount
	}
	if c.APIToken == "" {
		return ErrNoAPIKey
	}
	if c.Model == "" {
		return ErrNoModel
	}
	return nil
}
