// Command server runs the Swapyard trade lifecycle API.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/swapyard/swapyard/internal/config"
	"github.com/swapyard/swapyard/internal/logging"
	"github.com/swapyard/swapyard/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	format := "text"
	if cfg.IsProduction() {
		format = "json"
	}
	logger := logging.New(cfg.LogLevel, format)

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(context.Background()); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}
