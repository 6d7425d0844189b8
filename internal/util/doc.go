// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across the engine: crash-safe
// file writes for config and session files, and rune-aware text shortening
// for chat titles and log fields.
package util
