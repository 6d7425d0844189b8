// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud provides the streaming client for the chat completion endpoint.
//
// The endpoint answers with a server-sent-event body whose data frames are
// either OpenAI-style content deltas or a single metadata frame naming the
// model that automatic routing picked. Decoder reassembles frames from
// arbitrarily split reads; Client opens the authenticated request and turns
// the special statuses (429, 402, no session) into notices.
//
// # Key Types
//
//   - Client: authenticated streaming client
//   - Request: completion request body
//   - Decoder: incremental SSE frame decoder
//   - Metadata: routing metadata frame
//
// # Usage
//
//	client := cloud.NewClient(chatURL, publishableKey, tokens,
//	    cloud.WithBus(bus), cloud.WithNotifier(toasts))
//	result, err := client.Stream(ctx, cloud.Request{
//	    Messages: model.ToWireMessages(history),
//	    Model:    "auto",
//	}, cloud.Handlers{
//	    OnUpdate: func(full string) { store.UpdateStreamingMessage(full, "") },
//	})
//	if cloud.IsHandled(err) {
//	    return // the user already saw a notice
//	}
package cloud
