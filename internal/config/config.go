// Package config loads process-wide configuration for go-meetagent.
//
// Values come from the environment, optionally seeded from a .env file.
// The resulting Config is passed explicitly into every constructor; nothing
// else in the module reads the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/joho/godotenv"
)

// Defaults.
const (
	DefaultPort             = "8080"
	DefaultCloudflareAPI    = "https://api.cloudflare.com/client/v4"
	DefaultModel            = "@cf/meta/llama-3.1-8b-instruct"
	DefaultToolModel        = "@hf/nousresearch/hermes-2-pro-mistral-7b"
	DefaultDeepgramModel    = "nova-2"
	DefaultElevenLabsModel  = "eleven_turbo_v2_5"
	DefaultElevenLabsVoice  = "21m00Tcm4TlvDq8ikWAM"
	DefaultSignalingURL     = "wss://rtk.realtime.cloudflare.com/signaling"
	DefaultInferenceTimeout = 30 * time.Second
	DefaultJoinTimeout      = 20 * time.Second
	DefaultSessionTTL       = 2 * time.Hour
)

// Config holds everything the service needs at startup.
type Config struct {
	// Server
	Port     string
	LogLevel string
	Debug    bool

	// Cloudflare account credentials, forwarded to every session on init.
	AccountID     string
	APIToken      string
	CloudflareAPI string

	// Language model
	Model            string
	ToolModel        string
	ToolsEnabled     bool
	InferenceTimeout time.Duration
	FallbackReply    string

	// Speech
	DeepgramAPIKey    string
	DeepgramModel     string
	ElevenLabsAPIKey  string
	ElevenLabsVoiceID string
	ElevenLabsModel   string

	// Meeting transport
	SignalingURL string
	JoinTimeout  time.Duration

	// Session directory. Empty RedisAddr keeps ownership in memory.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	InstanceURL   string
	SessionTTL    time.Duration

	// Minutes are written to Google Docs when a credentials file is set.
	GoogleCredentialsFile string

	// set when InstanceURL was derived from Port rather than configured
	defaultInstance bool
}

// Load reads .env (if present) and the environment into a Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Port:                  envString("PORT", DefaultPort),
		LogLevel:              envString("LOG_LEVEL", "info"),
		Debug:                 envBool("DEBUG", false),
		AccountID:             envString("ACCOUNT_ID", ""),
		APIToken:              envString("API_TOKEN", ""),
		CloudflareAPI:         envString("CLOUDFLARE_API_BASE", DefaultCloudflareAPI),
		Model:                 envString("AI_MODEL", DefaultModel),
		ToolModel:             envString("AI_TOOL_MODEL", DefaultToolModel),
		ToolsEnabled:          envBool("AI_TOOLS_ENABLED", false),
		FallbackReply:         envString("FALLBACK_REPLY", ""),
		DeepgramAPIKey:        envString("DEEPGRAM_API_KEY", ""),
		DeepgramModel:         envString("DEEPGRAM_MODEL", DefaultDeepgramModel),
		ElevenLabsAPIKey:      envString("ELEVENLABS_API_KEY", ""),
		ElevenLabsVoiceID:     envString("ELEVENLABS_VOICE_ID", DefaultElevenLabsVoice),
		ElevenLabsModel:       envString("ELEVENLABS_MODEL", DefaultElevenLabsModel),
		SignalingURL:          envString("RTK_SIGNALING_URL", DefaultSignalingURL),
		RedisAddr:             envString("REDIS_ADDR", ""),
		RedisPassword:         envString("REDIS_PASSWORD", ""),
		InstanceURL:           envString("INSTANCE_URL", ""),
		GoogleCredentialsFile: envString("GOOGLE_CREDENTIALS_FILE", ""),
	}

	var err error
	if cfg.RedisDB, err = envInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.InferenceTimeout, err = envDuration("INFERENCE_TIMEOUT", DefaultInferenceTimeout); err != nil {
		return nil, err
	}
	if cfg.JoinTimeout, err = envDuration("JOIN_TIMEOUT", DefaultJoinTimeout); err != nil {
		return nil, err
	}
	if cfg.SessionTTL, err = envDuration("SESSION_TTL", DefaultSessionTTL); err != nil {
		return nil, err
	}
	if cfg.InstanceURL == "" {
		cfg.InstanceURL = localInstanceURL(cfg.Port)
		cfg.defaultInstance = true
	}

	return cfg, nil
}

func localInstanceURL(port string) string {
	return "http://localhost:" + port
}

// SetPort changes the listen port. An InstanceURL that was not configured
// explicitly follows the new port.
func (c *Config) SetPort(port string) {
	c.Port = port
	if c.defaultInstance {
		c.InstanceURL = localInstanceURL(port)
	}
}

// MissingError lists required settings that are not set.
type MissingError struct {
	Keys []string
}

// Error implements the error interface.
func (e *MissingError) Error() string {
	return fmt.Sprintf("config: missing required settings: %v", e.Keys)
}

// Validate checks that required credentials are present.
// Values are opaque; only presence is checked.
func (c *Config) Validate() error {
	var missing []string
	for key, val := range map[string]string{
		"ACCOUNT_ID":         c.AccountID,
		"API_TOKEN":          c.APIToken,
		"DEEPGRAM_API_KEY":   c.DeepgramAPIKey,
		"ELEVENLABS_API_KEY": c.ElevenLabsAPIKey,
	} {
		if val == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return &MissingError{Keys: missing}
}

// MinutesEnabled reports whether meeting minutes should be written.
func (c *Config) MinutesEnabled() bool {
	return c.GoogleCredentialsFile != ""
}

// DirectoryShared reports whether session ownership is kept in Redis.
func (c *Config) DirectoryShared() bool {
	return c.RedisAddr != ""
}
