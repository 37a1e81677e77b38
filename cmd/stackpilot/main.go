package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("stackpilot %s (built %s)\n", Version, BuildTime)
		return ExitSuccess
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return ExitConfigError
	}

	logger := SetupLogger(cfg)
	logger.Info("starting stackpilot",
		"version", Version,
		"config", *configPath,
	)

	server, err := NewServer(cfg, logger)
	if err != nil {
		return exitCode(logger, "failed to create server", err)
	}

	if err := server.Start(context.Background()); err != nil {
		return exitCode(logger, "server error", err)
	}

	return ExitSuccess
}

func exitCode(logger *slog.Logger, msg string, err error) int {
	var sErr *ServerError
	if errors.As(err, &sErr) {
		logger.Error(msg, "error", sErr.Err, "operation", sErr.Op)
		return sErr.ExitCode
	}
	logger.Error(msg, "error", err)
	return ExitConfigError
}
