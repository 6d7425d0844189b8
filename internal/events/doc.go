// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package events provides the typed publish/subscribe bus for chat lifecycle
// notifications.
//
// A single Bus is created by the composition root and handed to the stream
// client, the save queue and any observers. Publishing never requires a
// subscriber, and a nil *Bus discards everything.
//
// # Event Kinds
//
//   - stream-started: a completion request was opened
//   - stream-chunk: a content delta arrived
//   - metadata-received: the backend reported the routed model
//   - response-complete: the stream finished with content
//   - error: a phase failed (stream, background-save, ...)
//
// # Usage
//
//	bus := events.NewBus(logger)
//	unsubscribe := bus.Subscribe(events.KindError, func(e events.Event) {
//	    payload := e.Payload.(events.ErrorPayload)
//	    log.Printf("%s failed: %v", payload.Phase, payload.Err)
//	})
//	defer unsubscribe()
package events
