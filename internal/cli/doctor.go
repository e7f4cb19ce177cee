package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-meetagent/internal/app"
	"github.com/teslashibe/go-meetagent/internal/config"
	"github.com/teslashibe/go-meetagent/pkg/inference"
	"github.com/teslashibe/go-meetagent/pkg/minutes"
	"github.com/teslashibe/go-meetagent/pkg/registry"
	"github.com/teslashibe/go-meetagent/pkg/stt"
	"github.com/teslashibe/go-meetagent/pkg/tts"
)

// ErrChecksFailed is returned by doctor when any check fails.
var ErrChecksFailed = errors.New("doctor: some checks failed")

// check is one doctor probe. A nil run means the integration is not
// configured and the check is skipped.
type check struct {
	name string
	run  func(ctx context.Context) (string, error)
}

// NewDoctorCmd checks configuration and reachability of every provider.
func NewDoctorCmd(deps *Dependencies) *cobra.Command {
	var (
		prompt  string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and provider credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := contextOr(cmd.Context())
			checks := doctorChecks(deps, prompt)
			return runChecks(ctx, cmd.OutOrStdout(), checks, timeout)
		},
	}
	cmd.Flags().StringVar(&prompt, "prompt", "", "also send this prompt to the reply model")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "per-check timeout")
	return cmd
}

func runChecks(ctx context.Context, w io.Writer, checks []check, timeout time.Duration) error {
	failed := 0
	for _, c := range checks {
		if c.run == nil {
			fmt.Fprintf(w, "  -  %-14s not configured\n", c.name)
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, timeout)
		detail, err := c.run(cctx)
		cancel()
		if err != nil {
			failed++
			fmt.Fprintf(w, "  ✗  %-14s %v\n", c.name, err)
			continue
		}
		fmt.Fprintf(w, "  ✓  %-14s %s\n", c.name, detail)
	}

	if failed > 0 {
		fmt.Fprintf(w, "\n%d check(s) failed.\n", failed)
		return ErrChecksFailed
	}
	fmt.Fprintln(w, "\nAll checks passed.")
	return nil
}

func doctorChecks(deps *Dependencies, prompt string) []check {
	cfg := deps.Config
	checks := []check{{
		name: "configuration",
		run: func(context.Context) (string, error) {
			if err := cfg.Validate(); err != nil {
				return "", err
			}
			return "required settings present", nil
		},
	}}

	checks = append(checks, check{name: "workers ai"})
	if cfg.AccountID != "" && cfg.APIToken != "" {
		checks[len(checks)-1].run = func(ctx context.Context) (string, error) {
			return checkWorkersAI(ctx, cfg, deps, prompt)
		}
	}

	checks = append(checks, check{name: "deepgram"})
	if cfg.DeepgramAPIKey != "" {
		checks[len(checks)-1].run = func(ctx context.Context) (string, error) {
			if err := stt.Health(ctx, cfg.DeepgramAPIKey); err != nil {
				return "", err
			}
			return "key accepted", nil
		}
	}

	checks = append(checks, check{name: "elevenlabs"})
	if cfg.ElevenLabsAPIKey != "" {
		checks[len(checks)-1].run = func(ctx context.Context) (string, error) {
			provider, err := tts.NewElevenLabs(
				tts.WithAPIKey(cfg.ElevenLabsAPIKey),
				tts.WithVoice(cfg.ElevenLabsVoiceID),
				tts.WithLogger(deps.Logger),
			)
			if err != nil {
				return "", err
			}
			defer provider.Close()
			if err := provider.Health(ctx); err != nil {
				return "", err
			}
			return "key accepted, voice " + cfg.ElevenLabsVoiceID, nil
		}
	}

	checks = append(checks, check{name: "redis"})
	if cfg.DirectoryShared() {
		checks[len(checks)-1].run = func(ctx context.Context) (string, error) {
			dir, err := registry.NewRedis(ctx, registry.RedisConfig{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			})
			if err != nil {
				return "", err
			}
			defer dir.Close()
			return "reachable at " + cfg.RedisAddr, nil
		}
	}

	checks = append(checks, check{name: "google docs"})
	if cfg.MinutesEnabled() {
		checks[len(checks)-1].run = func(ctx context.Context) (string, error) {
			if _, err := minutes.NewWriter(ctx, minutes.WithCredentialsFile(cfg.GoogleCredentialsFile)); err != nil {
				return "", err
			}
			return "credentials loaded", nil
		}
	}
	return checks
}

func checkWorkersAI(ctx context.Context, cfg *config.Config, deps *Dependencies, prompt string) (string, error) {
	client, err := inference.NewClient(
		inference.WithBaseURL(cfg.CloudflareAPI),
		inference.WithAccount(cfg.AccountID, cfg.APIToken),
		inference.WithLogger(deps.Logger),
	)
	if err != nil {
		return "", err
	}
	defer client.Close()
	if err := client.Health(ctx); err != nil {
		return "", err
	}
	if prompt == "" {
		return "token verified", nil
	}

	responder, err := app.NewResponder(cfg, cfg.AccountID, cfg.APIToken, deps.Logger, nil)
	if err != nil {
		return "", err
	}
	reply, err := responder.Respond(ctx, prompt)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("token verified, reply %q", reply), nil
}
