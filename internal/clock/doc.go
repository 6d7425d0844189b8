// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package clock provides cancellable delayed callbacks.
//
// Components that schedule work for later (the action box boot delay, save
// queue retries) take a Scheduler so tests can substitute Manual and advance
// time explicitly.
package clock
