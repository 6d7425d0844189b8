// spork - terminal chat client for the Spork workspace.
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

	"github.com/scottwelch968/Spork-V2-sub004/internal/cli"
	"github.com/scottwelch968/Spork-V2-sub004/internal/config"
	"github.com/scottwelch968/Spork-V2-sub004/internal/logging"
)

// Version information (set at build time)
var (
	Version   = "0.3.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(raw []string) int {
	args, err := cli.ParseArgs(raw)
	if err != nil {
		fmt.Fprintln(os.Stderr, cli.ErrorStyle.Render("Error: ")+err.Error())
		fmt.Fprint(os.Stderr, cli.Usage)
		return 2
	}
	if args.Help {
		fmt.Print(cli.Usage)
		return 0
	}
	if args.Version {
		fmt.Printf("spork %s (%s, built %s)\n", Version, GitCommit, BuildDate)
		return 0
	}

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, cli.ErrorStyle.Render("Error: ")+err.Error())
		return 1
	}

	var cfg *config.Config
	if args.ConfigPath != "" {
		cfg, err = config.LoadFromPath(args.ConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, cli.ErrorStyle.Render("Error: ")+err.Error())
		return 1
	}
	if args.LogLevel != "" {
		cfg.Log.Level = args.LogLevel
	}
	config.SetGlobal(cfg)

	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, cli.ErrorStyle.Render("Error: ")+err.Error())
		return 1
	}
	defer closer.Close()

	app, err := cli.NewApp(cfg, logger, args)
	if err != nil {
		logger.Error().Err(err).Msg("failed to start")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	if args.Prompt != "" {
		err = app.RunOnce(ctx, args.Prompt)
	} else {
		err = app.Run(ctx)
	}

	if cerr := app.Close(); cerr != nil {
		fmt.Fprintln(os.Stderr, cli.WarningStyle.Render(cerr.Error()))
		if err == nil {
			err = cerr
		}
	}
	if err != nil {
		logger.Debug().Err(err).Msg("exiting with error")
		return 1
	}
	return 0
}
