package stt

import (
	"log/slog"
	"net/url"
	"strconv"
	"time"
)

// DefaultURL is Deepgram's live streaming endpoint.
const DefaultURL = "wss://api.deepgram.com/v1/listen"

// Config holds Deepgram configuration.
type Config struct {
	APIKey     string
	URL        string
	Model      string
	Language   string
	SampleRate int

	// KeepAlive is how often a KeepAlive message is sent while no audio
	// flows. Deepgram closes idle streams after about ten seconds.
	KeepAlive time.Duration

	// CloseTimeout bounds how long to wait for final results after
	// CloseStream is sent.
	CloseTimeout time.Duration

	Logger *slog.Logger
}

// Option is a functional option for configuring the processor.
type Option func(*Config)

// WithAPIKey sets the Deepgram API key.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithURL overrides the streaming endpoint.
func WithURL(u string) Option {
	return func(c *Config) { c.URL = u }
}

// WithModel sets the recognition model.
func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

// WithLanguage sets the recognition language.
func WithLanguage(lang string) Option {
	return func(c *Config) { c.Language = lang }
}

// WithSampleRate sets the rate audio is streamed at.
func WithSampleRate(rate int) Option {
	return func(c *Config) { c.SampleRate = rate }
}

// WithKeepAlive sets the idle keepalive interval.
func WithKeepAlive(d time.Duration) Option {
	return func(c *Config) { c.KeepAlive = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns defaults for meeting audio.
func DefaultConfig() *Config {
	return &Config{
		URL:          DefaultURL,
		Model:        "nova-2",
		Language:     "en-US",
		SampleRate:   48000,
		KeepAlive:    5 * time.Second,
		CloseTimeout: 3 * time.Second,
		Logger:       slog.Default(),
	}
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrNoAPIKey
	}
	return nil
}

// streamURL builds the listen URL with the audio format parameters.
func (c *Config) streamURL() (string, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", c.Model)
	if c.Language != "" {
		q.Set("language", c.Language)
	}
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(c.SampleRate))
	q.Set("channels", "1")
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("interim_results", "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}
