// meetagent joins meetings on request and answers participants by voice.
//
// Usage:
//
//	meetagent serve --port 8080
//	meetagent doctor
package main

import (
	"fmt"
	"os"

	"github.com/teslashibe/go-meetagent/internal/cli"
	"github.com/teslashibe/go-meetagent/internal/config"
	"github.com/teslashibe/go-meetagent/internal/log"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log.Init(cfg.LogLevel)
	deps := &cli.Dependencies{
		Config: cfg,
		Logger: log.L(),
	}
	return cli.NewRootCmd(deps).Execute()
}
