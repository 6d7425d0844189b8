// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package notify carries user-visible notices (toasts) from the engine to
// whatever front end is attached.
package notify

import "sync"

// Kind classifies a notice.
type Kind string

const (
	KindSessionExpired  Kind = "session-expired"
	KindRateLimited     Kind = "rate-limited"
	KindPaymentRequired Kind = "payment-required"
	KindError           Kind = "error"
	KindInfo            Kind = "info"
)

// Notice is a message meant for the user.
type Notice struct {
	Kind    Kind
	Title   string
	Message string
}

// Notifier shows notices to the user.
type Notifier interface {
	Notify(Notice)
}

// Func adapts a function to a Notifier.
type Func func(Notice)

// Notify calls f(n).
func (f Func) Notify(n Notice) { f(n) }

// Discard drops every notice.
var Discard Notifier = Func(func(Notice) {})

// Standard notices.
var (
	SessionExpired = Notice{
		Kind:    KindSessionExpired,
		Title:   "Session expired",
		Message: "Please sign in again to continue.",
	}
	RateLimited = Notice{
		Kind:    KindRateLimited,
		Title:   "Rate limit reached",
		Message: "Too many requests. Please wait a moment and try again.",
	}
	PaymentRequired = Notice{
		Kind:    KindPaymentRequired,
		Title:   "Credits exhausted",
		Message: "Your workspace is out of credits. Add credits to keep chatting.",
	}
)

// Error builds a generic error notice.
func Error(msg string) Notice {
	return Notice{Kind: KindError, Title: "Something went wrong", Message: msg}
}

// Recorder collects notices. It is safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

// Notify records n.
func (r *Recorder) Notify(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

// Notices returns a copy of everything recorded.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notice, len(r.notices))
	copy(out, r.notices)
	return out
}

// Kinds returns the kinds of everything recorded, in order.
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, len(r.notices))
	for i, n := range r.notices {
		out[i] = n.Kind
	}
	return out
}
