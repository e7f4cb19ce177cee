// Package cli defines the meetagent commands.
package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-meetagent/internal/app"
	"github.com/teslashibe/go-meetagent/internal/config"
)

// Dependencies are shared by every command.
type Dependencies struct {
	Config *config.Config
	Logger *slog.Logger
}

// NewRootCmd builds the command tree.
func NewRootCmd(deps *Dependencies) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "meetagent",
		Short:         "Voice assistant for real-time meetings",
		Long:          "meetagent joins meetings on request, transcribes what is said, answers with a language model and speaks the answer back.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.Version = app.Version

	rootCmd.AddCommand(NewServeCmd(deps))
	rootCmd.AddCommand(NewDoctorCmd(deps))
	return rootCmd
}
