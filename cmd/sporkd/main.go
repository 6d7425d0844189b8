// sporkd - self-hosted chat and persistence functions for spork.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/scottwelch968/Spork-V2-sub004/internal/cli"
	"github.com/scottwelch968/Spork-V2-sub004/internal/config"
	"github.com/scottwelch968/Spork-V2-sub004/internal/logging"
	"github.com/scottwelch968/Spork-V2-sub004/internal/server"
	"github.com/scottwelch968/Spork-V2-sub004/internal/storage"
)

const usage = `Usage: sporkd [flags]

Serves /functions/v1/chat and /functions/v1/spork-data.

Flags:
  -c, --config PATH        config file (default ~/.spork/config.toml)
  -a, --addr ADDR          listen address (overrides server.addr)
      --log-level LEVEL    debug, info, warn or error
  -h, --help               show this help
`

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "sporkd:", err)
		os.Exit(1)
	}
}

func run(raw []string) error {
	p := cli.NewArgParser(raw, "help", "h")
	if unknown := p.Unknown("config", "c", "addr", "a", "log-level", "help", "h"); len(unknown) > 0 {
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown flag: --%s", unknown[0])
	}
	if p.BoolFlag("help", "h") {
		fmt.Print(usage)
		return nil
	}

	if err := config.LoadDotEnv(); err != nil {
		return err
	}

	configPath := p.Flag("config", "c")
	if configPath == "" {
		if path, err := config.ConfigPathTOML(); err == nil {
			if _, err := os.Stat(path); err == nil {
				configPath = path
			}
		}
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if addr := p.Flag("addr", "a"); addr != "" {
		cfg.Server.Addr = addr
	}
	if level := p.Flag("log-level"); level != "" {
		cfg.Log.Level = level
	}

	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg.Server.DatabaseDriver, cfg.Server.DatabaseURL)
	if err != nil {
		return fmt.Errorf("%s connection failed: %w", cfg.Server.DatabaseDriver, err)
	}
	defer store.Close()
	logger.Info().Str("driver", cfg.Server.DatabaseDriver).Msg("storage ready")

	srv := server.New(cfg.Server, cfg.Backend.PublishableKey, store,
		server.WithLogger(logger),
		server.WithResponder(newResponder(cfg.Server, logger)),
	)

	if configPath != "" {
		err := config.Watch(ctx, configPath, config.DefaultWatchDebounce, func(next *config.Config, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("config reload rejected")
				return
			}
			srv.ApplyConfig(next.Server)
			logger.Info().Str("path", configPath).Msg("config reloaded")
		})
		if err != nil {
			logger.Warn().Err(err).Msg("config hot reload disabled")
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

// newResponder proxies to an upstream endpoint when one is configured and
// echoes otherwise.
func newResponder(cfg config.ServerConfig, logger zerolog.Logger) server.Responder {
	if cfg.UpstreamURL == "" {
		logger.Info().Msg("no upstream configured, using echo responder")
		return server.EchoResponder{Delay: 20 * time.Millisecond}
	}
	logger.Info().Str("upstream", cfg.UpstreamURL).Msg("proxying completions upstream")
	return server.UpstreamResponder{
		URL:    cfg.UpstreamURL,
		APIKey: cfg.UpstreamKey,
		Logger: logger,
	}
}
