// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat runs one user turn end to end.
//
// A Session ties the message store, the streaming client, the action box and
// the background save queue together. Send appends the user message
// optimistically, creates the conversation on the first turn, streams the
// reply into the store and queues both rows for saving.
package chat
