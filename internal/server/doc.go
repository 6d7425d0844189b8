// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server implements sporkd, a local stand-in for the Spork backend
// functions the client talks to.
//
// # Endpoints
//
//   - POST /functions/v1/chat       - Streaming completion (server-sent events)
//   - POST /functions/v1/spork-data - Persistence multiplexer
//   - GET  /health                  - Health check
//   - GET  /metrics                 - Prometheus metrics
//
// The chat endpoint routes auto-model requests through the router package
// and sends a metadata frame naming the chosen model before any content.
// Replies come from a Responder: EchoResponder for offline work or
// UpstreamResponder for any OpenAI-compatible streaming API.
//
// # Security Features
//
//   - Bearer token authentication with constant-time comparison
//   - Publishable key check on the apikey header
//   - Per-token rate limiting (429 with Retry-After)
//   - Per-token credit ledger (402 when exhausted)
//   - CORS and security headers
//
// # Usage
//
//	st, _ := storage.Open(ctx, cfg.Server.DatabaseDriver, cfg.Server.DatabaseURL)
//	srv := server.New(cfg.Server, cfg.Backend.PublishableKey, st,
//		server.WithLogger(logger))
//	go srv.ListenAndServe()
//	defer srv.Shutdown(ctx)
package server
