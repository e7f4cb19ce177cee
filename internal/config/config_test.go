package config

import (
	"errors"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "LOG_LEVEL", "ACCOUNT_ID", "API_TOKEN", "AI_MODEL", "AI_TOOLS_ENABLED",
		"DEEPGRAM_API_KEY", "ELEVENLABS_API_KEY", "ELEVENLABS_VOICE_ID",
		"INFERENCE_TIMEOUT", "JOIN_TIMEOUT", "SESSION_TTL", "REDIS_ADDR", "REDIS_DB",
		"INSTANCE_URL", "FALLBACK_REPLY", "GOOGLE_CREDENTIALS_FILE",
	} {
		t.Setenv(k, "")
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Port != DefaultPort {
		t.Errorf("Port = %q, want %q", cfg.Port, DefaultPort)
	}
	if cfg.Model != DefaultModel {
		t.Errorf("Model = %q, want %q", cfg.Model, DefaultModel)
	}
	if cfg.InferenceTimeout != 30*time.Second {
		t.Errorf("InferenceTimeout = %v, want 30s", cfg.InferenceTimeout)
	}
	if cfg.JoinTimeout != 20*time.Second {
		t.Errorf("JoinTimeout = %v, want 20s", cfg.JoinTimeout)
	}
	if cfg.ElevenLabsVoiceID != DefaultElevenLabsVoice {
		t.Errorf("ElevenLabsVoiceID = %q", cfg.ElevenLabsVoiceID)
	}
	if cfg.ToolsEnabled {
		t.Error("ToolsEnabled should default to false")
	}
	if cfg.InstanceURL != "http://localhost:8080" {
		t.Errorf("InstanceURL = %q", cfg.InstanceURL)
	}
	if cfg.DirectoryShared() || cfg.MinutesEnabled() {
		t.Error("optional integrations should be off by default")
	}
}

func TestFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("AI_TOOLS_ENABLED", "true")
	t.Setenv("INFERENCE_TIMEOUT", "5")
	t.Setenv("JOIN_TIMEOUT", "1500ms")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("FALLBACK_REPLY", "Sorry, say that again?")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Port != "9000" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if !cfg.ToolsEnabled {
		t.Error("ToolsEnabled = false, want true")
	}
	if cfg.InferenceTimeout != 5*time.Second {
		t.Errorf("InferenceTimeout = %v, want 5s", cfg.InferenceTimeout)
	}
	if cfg.JoinTimeout != 1500*time.Millisecond {
		t.Errorf("JoinTimeout = %v, want 1.5s", cfg.JoinTimeout)
	}
	if !cfg.DirectoryShared() || cfg.RedisDB != 2 {
		t.Errorf("redis settings not applied: %q db=%d", cfg.RedisAddr, cfg.RedisDB)
	}
	if cfg.FallbackReply != "Sorry, say that again?" {
		t.Errorf("FallbackReply = %q", cfg.FallbackReply)
	}
}

func TestFromEnvInvalidDuration(t *testing.T) {
	clearEnv(t)
	t.Setenv("JOIN_TIMEOUT", "soon")

	if _, err := FromEnv(); err == nil {
		t.Fatal("expected error for invalid JOIN_TIMEOUT")
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{AccountID: "acct", DeepgramAPIKey: "dg"}

	err := cfg.Validate()
	var missing *MissingError
	if !errors.As(err, &missing) {
		t.Fatalf("Validate() = %v, want *MissingError", err)
	}
	want := []string{"API_TOKEN", "ELEVENLABS_API_KEY"}
	if len(missing.Keys) != len(want) {
		t.Fatalf("Keys = %v, want %v", missing.Keys, want)
	}
	for i := range want {
		if missing.Keys[i] != want[i] {
			t.Errorf("Keys[%d] = %q, want %q", i, missing.Keys[i], want[i])
		}
	}

	cfg.APIToken = "tok"
	cfg.ElevenLabsAPIKey = "el"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestSetPortMovesDefaultInstanceURL(t *testing.T) {
	clearEnv(t)
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	cfg.SetPort("9090")
	if cfg.Port != "9090" || cfg.InstanceURL != "http://localhost:9090" {
		t.Errorf("after SetPort: Port=%q InstanceURL=%q", cfg.Port, cfg.InstanceURL)
	}

	t.Setenv("INSTANCE_URL", "http://replica-a:8080")
	cfg, err = FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	cfg.SetPort("9090")
	if cfg.InstanceURL != "http://replica-a:8080" {
		t.Errorf("configured InstanceURL changed to %q", cfg.InstanceURL)
	}
}
