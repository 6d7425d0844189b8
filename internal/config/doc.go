// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for
// the spork client and the sporkd emulator.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - BackendConfig: Endpoint URLs and the publishable key
//   - ChatConfig: Model, persona and workspace for new turns
//   - SaveQueueConfig: Background save batching and retry policy
//   - ServerConfig: sporkd listener, storage and limits
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (SPORK_*), including those from a .env file
//   - ~/.spork/config.toml
//   - ~/.spork/config.json
//   - Built-in defaults
//
// # Usage
//
//	config.LoadDotEnv()
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	q := savequeue.New(client, tokens,
//	    savequeue.WithBatchSize(cfg.SaveQueue.BatchSize),
//	    savequeue.WithBaseDelay(cfg.SaveQueue.BaseDelay()))
package config
