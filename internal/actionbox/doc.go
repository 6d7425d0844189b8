// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package actionbox implements the model-selection feedback state machine.
//
// For every message exchange the box walks
//
//	idle -> analyzing -> booting -> ready -> closed
//
// where analyzing is only entered for auto-routed requests and the move from
// booting to ready happens after a fixed boot delay. Delayed transitions hold
// an explicit timer handle that Close and Reset stop, so a timer from an
// earlier exchange can never mark a later one ready.
package actionbox
