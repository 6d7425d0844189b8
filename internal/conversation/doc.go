// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package conversation holds the messages of the open conversation view.
//
// A Store keeps the ordered list of finalized messages plus at most one
// streaming assistant message. It also tracks whether a send is in flight
// (Busy), during which the list may not be replaced by a reload.
package conversation
