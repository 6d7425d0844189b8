// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chat turns and models.
//
// These types are shared by the message store, the stream client, the save
// queue and the local backend emulator.
//
// # Key Types
//
//   - Message: One conversation turn with routing metadata and persistence id
//   - StreamResult: Outcome of one streamed completion
//   - ModelInfo: Catalog entry for a selectable model
//   - Role: Message role enumeration (user, assistant)
//
// # Usage
//
//	msg := model.NewUserMessage("Hello!")
//	wire := msg.ToWire() // {"role":"user","content":"Hello!"}
//
//	if model.IsAutoModel(selected) {
//	    // backend picks the concrete model and reports it in a metadata frame
//	}
package model
