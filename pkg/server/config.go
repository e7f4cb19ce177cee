package server

import (
	"log/slog"
	"time"

	"github.com/teslashibe/go-meetagent/pkg/metrics"
	"github.com/teslashibe/go-meetagent/pkg/registry"
)

// Config holds server configuration.
type Config struct {
	// AppName is reported by fiber.
	AppName string

	// Version is reported by /health.
	Version string

	// Debug enables request logging.
	Debug bool

	// InstanceURL is how other instances reach this one.
	InstanceURL string

	// AccountID and APIToken are passed to every session on init.
	AccountID string
	APIToken  string

	// DeinitTimeout bounds a /deinit teardown.
	DeinitTimeout time.Duration

	// ProxyTimeout bounds a request forwarded to the owning instance.
	ProxyTimeout time.Duration

	// Directory records meeting ownership. Nil keeps it in memory.
	Directory registry.Directory

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Option configures a Server.
type Option func(*Config)

// WithVersion sets the reported version.
func WithVersion(v string) Option {
	return func(c *Config) { c.Version = v }
}

// WithDebug enables request logging.
func WithDebug(debug bool) Option {
	return func(c *Config) { c.Debug = debug }
}

// WithInstanceURL sets the URL other instances forward requests to.
func WithInstanceURL(url string) Option {
	return func(c *Config) { c.InstanceURL = url }
}

// WithCredentials sets the account credentials passed to sessions.
func WithCredentials(accountID, apiToken string) Option {
	return func(c *Config) {
		c.AccountID = accountID
		c.APIToken = apiToken
	}
}

// WithDeinitTimeout bounds /deinit.
func WithDeinitTimeout(d time.Duration) Option {
	return func(c *Config) { c.DeinitTimeout = d }
}

// WithProxyTimeout bounds forwarded requests.
func WithProxyTimeout(d time.Duration) Option {
	return func(c *Config) { c.ProxyTimeout = d }
}

// WithDirectory sets the ownership directory.
func WithDirectory(d registry.Directory) Option {
	return func(c *Config) { c.Directory = d }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// WithMetrics enables request metrics and the /metrics endpoint.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Config) { c.Metrics = m }
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		AppName:       "meetagent",
		Version:       "dev",
		InstanceURL:   "http://localhost:8080",
		DeinitTimeout: 15 * time.Second,
		ProxyTimeout:  30 * time.Second,
		Logger:        slog.Default(),
	}
}
