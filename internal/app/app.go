// Package app assembles the service from configuration: provider
// constructors for each session, the session registry, the ownership
// directory and the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/teslashibe/go-meetagent/internal/config"
	"github.com/teslashibe/go-meetagent/pkg/agent"
	"github.com/teslashibe/go-meetagent/pkg/inference"
	"github.com/teslashibe/go-meetagent/pkg/metrics"
	"github.com/teslashibe/go-meetagent/pkg/minutes"
	"github.com/teslashibe/go-meetagent/pkg/pipeline"
	"github.com/teslashibe/go-meetagent/pkg/registry"
	"github.com/teslashibe/go-meetagent/pkg/server"
	"github.com/teslashibe/go-meetagent/pkg/stt"
	"github.com/teslashibe/go-meetagent/pkg/transport"
	"github.com/teslashibe/go-meetagent/pkg/transport/rtk"
	"github.com/teslashibe/go-meetagent/pkg/tts"
)

// Version is set at build time.
var Version = "dev"

// refreshDivisor sets how many directory refreshes happen per TTL.
const refreshDivisor = 4

// App is the assembled service.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Directory registry.Directory
	Registry  *registry.Registry
	Server    *server.Server

	minutes *minutes.Writer
}

// New builds the service. The Redis directory is connected here when
// configured; minutes are disabled with a warning if the Docs client cannot
// be built.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.New(""),
	}

	dir, err := NewDirectory(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Directory = dir

	if cfg.MinutesEnabled() {
		w, err := minutes.NewWriter(ctx,
			minutes.WithCredentialsFile(cfg.GoogleCredentialsFile),
			minutes.WithLogger(logger),
		)
		if err != nil {
			logger.Warn("minutes disabled", "error", err)
		} else {
			a.minutes = w
		}
	}

	builders := Builders(cfg, a.minutes, logger, a.Metrics)
	opts := SessionOptions(cfg, logger, a.Metrics)
	a.Registry = registry.New(
		func(meetingID string) *agent.Session {
			return agent.NewSession(meetingID, builders, opts...)
		},
		registry.WithLogger(logger),
		registry.OnRemove(func(meetingID string) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := dir.Release(ctx, meetingID, cfg.InstanceURL); err != nil {
				logger.Warn("directory release failed", "meeting_id", meetingID, "error", err)
			}
		}),
	)

	a.Server = server.New(a.Registry,
		server.WithVersion(Version),
		server.WithDebug(cfg.Debug),
		server.WithInstanceURL(cfg.InstanceURL),
		server.WithCredentials(cfg.AccountID, cfg.APIToken),
		server.WithDirectory(dir),
		server.WithLogger(logger),
		server.WithMetrics(a.Metrics),
	)
	return a, nil
}

// NewDirectory returns the Redis directory when REDIS_ADDR is set and an
// in-memory one otherwise.
func NewDirectory(ctx context.Context, cfg *config.Config) (registry.Directory, error) {
	if !cfg.DirectoryShared() {
		return registry.NewMemory(cfg.SessionTTL), nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	dir, err := registry.NewRedis(ctx, registry.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		TTL:      cfg.SessionTTL,
	})
	if err != nil {
		return nil, err
	}
	return dir, nil
}

// SessionOptions returns the agent options shared by every session.
func SessionOptions(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) []agent.Option {
	return []agent.Option{
		agent.WithModel(cfg.Model),
		agent.WithToolModel(cfg.ToolModel),
		agent.WithInferenceTimeout(cfg.InferenceTimeout),
		agent.WithFallbackReply(cfg.FallbackReply),
		agent.WithJoinTimeout(cfg.JoinTimeout),
		agent.WithLogger(logger),
		agent.WithMetrics(m),
	}
}

// Builders returns the per-session constructors for the live providers.
// w may be nil, which disables minutes.
func Builders(cfg *config.Config, w *minutes.Writer, logger *slog.Logger, m *metrics.Metrics) agent.Builders {
	b := agent.Builders{
		Transport: func(meetingID, authToken string) (transport.Transport, error) {
			return rtk.New(meetingID, authToken,
				rtk.WithSignalingURL(cfg.SignalingURL),
				rtk.WithLogger(logger),
			)
		},
		STT: func() (pipeline.Processor, error) {
			return stt.New(
				stt.WithAPIKey(cfg.DeepgramAPIKey),
				stt.WithModel(cfg.DeepgramModel),
				stt.WithLogger(logger),
			)
		},
		TTS: func(onFirstAudio func()) (pipeline.Processor, error) {
			provider, err := tts.NewElevenLabs(
				tts.WithAPIKey(cfg.ElevenLabsAPIKey),
				tts.WithVoice(cfg.ElevenLabsVoiceID),
				tts.WithModel(cfg.ElevenLabsModel),
				tts.WithOutputFormat(tts.PCM48),
				tts.WithLogger(logger),
			)
			if err != nil {
				return nil, err
			}
			return tts.NewStage(provider,
				tts.WithStageLogger(logger),
				tts.OnFirstAudio(onFirstAudio),
			), nil
		},
		Responder: func(accountID, apiToken string) (agent.Responder, error) {
			return NewResponder(cfg, accountID, apiToken, logger, m)
		},
	}
	if w != nil {
		b.Minutes = func(ctx context.Context, meetingID string) (agent.Recorder, error) {
			rec, err := w.Start(ctx, meetingID)
			if err != nil {
				return nil, err
			}
			return rec, nil
		}
	}
	return b
}

// NewResponder builds the Workers AI responder for one session: the tool
// invoker when tools are enabled, the plain reply generator otherwise.
func NewResponder(cfg *config.Config, accountID, apiToken string, logger *slog.Logger, m *metrics.Metrics) (agent.Responder, error) {
	if accountID == "" || apiToken == "" {
		return nil, errors.New("app: account id and api token required")
	}
	client, err := inference.NewClient(
		inference.WithBaseURL(cfg.CloudflareAPI),
		inference.WithAccount(accountID, apiToken),
		inference.WithModel(cfg.Model),
		inference.WithToolModel(cfg.ToolModel),
		inference.WithTimeout(cfg.InferenceTimeout),
		inference.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("app: inference client: %w", err)
	}

	opts := []agent.Option{
		agent.WithModel(cfg.Model),
		agent.WithToolModel(cfg.ToolModel),
		agent.WithInferenceTimeout(cfg.InferenceTimeout),
		agent.WithLogger(logger),
		agent.WithMetrics(m),
	}
	if cfg.ToolsEnabled {
		return agent.NewToolInvoker(client, opts...), nil
	}
	return agent.NewReplyGenerator(client, opts...), nil
}

// Run serves until ctx is done, then stops accepting requests and tears
// every session down.
func (a *App) Run(ctx context.Context) error {
	keepCtx, stopKeep := context.WithCancel(context.Background())
	defer stopKeep()
	go a.Registry.KeepAlive(keepCtx, a.Directory, a.Config.InstanceURL, a.Config.SessionTTL/refreshDivisor)

	errCh := make(chan error, 1)
	go func() { errCh <- a.Server.Listen(":" + a.Config.Port) }()

	select {
	case err := <-errCh:
		a.shutdown()
		return err
	case <-ctx.Done():
	}
	return a.shutdown()
}

func (a *App) shutdown() error {
	a.Logger.Info("shutting down", "sessions", a.Registry.Len())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	errs := []error{
		a.Server.Shutdown(ctx),
		a.Registry.DeinitAll(ctx),
		a.Directory.Close(),
	}
	return errors.Join(errs...)
}
