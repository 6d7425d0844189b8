// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend is the client for the persistence multiplexer, the single
// backend function that stores chats and messages.
//
// Every call posts {"action": ..., ...} with the user's bearer token and the
// project's publishable key. batch_save answers {"data": [{"success": ...}]}
// aligned by index with the submitted operations.
//
// # Actions
//
//   - batch_save: write many {table, data} rows at once (used by the save queue)
//   - create_chat / create_space_chat: start a conversation
//   - get_messages: load a conversation
//   - add_message: write a single message outside the queue
package backend
