package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-meetagent/internal/app"
)

// NewServeCmd runs the HTTP service until SIGINT or SIGTERM.
func NewServeCmd(deps *Dependencies) *cobra.Command {
	var (
		port  string
		debug bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve /init, /deinit and /agentsInternal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := deps.Config
			if cmd.Flags().Changed("port") {
				cfg.SetPort(port)
			}
			if cmd.Flags().Changed("debug") {
				cfg.Debug = debug
			}
			if err := cfg.Validate(); err != nil {
				deps.Logger.Warn("starting with incomplete configuration", "error", err)
			}

			ctx, stop := signal.NotifyContext(contextOr(cmd.Context()), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, deps.Logger)
			if err != nil {
				return fmt.Errorf("initializing app: %w", err)
			}
			deps.Logger.Info("meetagent starting",
				"version", app.Version,
				"port", cfg.Port,
				"tools", cfg.ToolsEnabled,
				"shared_directory", cfg.DirectoryShared(),
				"minutes", cfg.MinutesEnabled(),
			)
			return a.Run(ctx)
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "listen port (overrides PORT)")
	cmd.Flags().BoolVar(&debug, "debug", false, "log every request")
	return cmd
}

// contextOr returns ctx, or Background when cobra was run without one.
func contextOr(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
