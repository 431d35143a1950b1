// Copyright 2026 The Skylight Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/skylightio/skylightd/lib/clock"
	"github.com/skylightio/skylightd/lib/collector"
	"github.com/skylightio/skylightd/lib/config"
	"github.com/skylightio/skylightd/lib/daemon"
	"github.com/skylightio/skylightd/lib/process"
	"github.com/skylightio/skylightd/lib/version"
)

func main() {
	if err := run(os.Args[1:], os.LookupEnv, os.Stdout, os.Stderr); err != nil {
		process.Fatal(err)
	}
}

func run(args []string, lookup func(string) (string, bool), stdout, stderr io.Writer) error {
	var (
		configPath  string
		logLevel    string
		showVersion bool
	)
	flagSet := pflag.NewFlagSet("skylightd", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&configPath, "config", "", "path to the YAML config file (default: $"+config.EnvConfigFile+")")
	flagSet.StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Fprintf(stdout, "skylightd %s\n", version.Full())
		return nil
	}

	bootEnv, err := daemon.ParseBootEnv(lookup)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(configPath, lookup)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if cfg.Agent.SockfilePath == "" {
		return errors.New("missing sockfile path")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level, _ := cfg.Log.SlogLevel()
	logger := newLogger(stderr, level)

	clk := clock.Real()
	traceCollector, err := collector.New(collector.Options{
		Config: cfg.Collector,
		Clock:  clk,
		Logger: logger.With("component", "collector"),
	})
	if err != nil {
		return fmt.Errorf("creating collector: %w", err)
	}

	server, err := daemon.Boot(daemon.BootOptions{
		Env:       bootEnv,
		Config:    cfg,
		Collector: traceCollector,
		Version:   version.Short(),
		Logger:    logger,
		Clock:     clk,
	})
	if err != nil {
		traceCollector.Close()
		return err
	}
	return server.Run(context.Background())
}

// loadConfig reads the file named by --config or SKYLIGHT_CONFIG and
// applies SKYLIGHT_* overrides on top.
func loadConfig(path string, lookup func(string) (string, bool)) (*config.Config, error) {
	if path == "" {
		path, _ = lookup(config.EnvConfigFile)
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}
	return cfg, nil
}

// newLogger returns the daemon's JSON logger and installs it as the
// slog default.
func newLogger(output io.Writer, level slog.Level) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger
}
