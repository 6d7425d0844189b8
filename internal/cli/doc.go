// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli is the terminal front end of spork.
//
// It parses flags, wires the chat engine (stream client, action box, message
// store, save queue and event bus) into an App, and drives it either as an
// interactive REPL or for a single prompt.
//
// # Key Types
//
//   - Args: Parsed command-line flags
//   - App: Composition root owning the session and background save worker
//   - Console: Serialized terminal output; implements notify.Notifier
//   - LineReader: Input source, backed by liner in interactive mode
//
// # Usage
//
//	args, err := cli.ParseArgs(os.Args[1:])
//	app, err := cli.NewApp(cfg, logger, args)
//	defer app.Close()
//	if args.Prompt != "" {
//	    return app.RunOnce(ctx, args.Prompt)
//	}
//	return app.Run(ctx)
//
// # Interactive Commands
//
//	/help, /new, /load <id>, /model [id], /history, /status, /quit
package cli
