// Command server runs the channelhub HTTP API.
//
// Configuration comes from the environment (and an optional .env or YAML
// file, see internal/config). The process exits non-zero when the config is
// invalid or a backend cannot be opened.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "go.uber.org/automaxprocs"

	"github.com/sakif/channelhub/internal/config"
	"github.com/sakif/channelhub/internal/logging"
	"github.com/sakif/channelhub/internal/server"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("")
	if err != nil {
		return err
	}

	logger, closeLog := logging.New(cfg.Log)
	defer closeLog()
	slog.SetDefault(logger)

	srv, err := server.New(context.Background(), cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	// Start blocks until SIGINT or SIGTERM.
	return srv.Start()
}
