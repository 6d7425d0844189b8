// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth supplies access tokens for backend requests.
//
// An empty token from a TokenSource means there is no valid session. Callers
// treat that as "not signed in" rather than as a failure: the stream client
// shows a session-expired notice and the save queue parks its batch until
// the next enqueue.
package auth
