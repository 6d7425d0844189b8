// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/scottwelch968/Spork-V2-sub004/internal/auth"
	"github.com/scottwelch968/Spork-V2-sub004/internal/events"
	"github.com/scottwelch968/Spork-V2-sub004/internal/model"
	"github.com/scottwelch968/Spork-V2-sub004/internal/notify"
)

const (
	// readBufferSize is the size of each body read.
	readBufferSize = 4096

	// maxErrorBodySize bounds how much of an error response is read.
	maxErrorBodySize = 64 * 1024
)

// sharedStreamingClient has no timeout; the caller's context and the optional
// idle timeout govern stream lifetime.
var sharedStreamingClient = &http.Client{
	Transport: &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	},
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrSessionExpired indicates there was no access token to send.
	ErrSessionExpired = errors.New("session expired")

	// ErrRateLimited indicates the endpoint answered 429.
	ErrRateLimited = errors.New("rate limited")

	// ErrPaymentRequired indicates the endpoint answered 402.
	ErrPaymentRequired = errors.New("payment required")

	// ErrNoBody indicates a 2xx response without a readable body.
	ErrNoBody = errors.New("response has no body")

	// ErrIdleTimeout indicates the stream went silent for too long.
	ErrIdleTimeout = errors.New("stream idle timeout")
)

// IsHandled reports whether err was already surfaced to the user as a notice.
// Callers should not treat these as failures of the exchange.
func IsHandled(err error) bool {
	return errors.Is(err, ErrSessionExpired) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrPaymentRequired)
}

// RateLimitError is a 429 with the server's retry hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %v", e.RetryAfter)
	}
	return "rate limited"
}

// Is allows RateLimitError to be compared with ErrRateLimited.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// APIError is any other non-2xx response.
type APIError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("chat endpoint returned %d", e.Status)
	}
	return fmt.Sprintf("chat endpoint returned %d: %s", e.Status, e.Message)
}

// StreamError is a failure after the stream opened, with the text received so
// far.
type StreamError struct {
	Partial string
	Err     error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %v", len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}

// =============================================================================
// REQUEST TYPES
// =============================================================================

// SpaceContext carries the workspace-level AI configuration.
type SpaceContext struct {
	Name         string `json:"name,omitempty"`
	Instructions string `json:"instructions,omitempty"`
	AIModel      string `json:"aiModel,omitempty"`
	PersonaID    string `json:"personaId,omitempty"`
}

// Request is the completion request body.
type Request struct {
	Messages     []model.WireMessage `json:"messages"`
	Model        string              `json:"model"`
	ChatID       string              `json:"chatId,omitempty"`
	PersonaID    string              `json:"personaId,omitempty"`
	WorkspaceID  string              `json:"workspaceId,omitempty"`
	SpaceContext *SpaceContext       `json:"spaceContext,omitempty"`
}

// Handlers receive stream progress. Both are optional.
type Handlers struct {
	// OnUpdate receives the full accumulated text after every delta.
	OnUpdate func(full string)

	// OnMetadata receives the routing frame.
	OnMetadata func(Metadata)
}

// =============================================================================
// CLIENT
// =============================================================================

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBus sets the event bus.
func WithBus(b *events.Bus) Option {
	return func(c *Client) { c.bus = b }
}

// WithNotifier sets where user-visible notices go.
func WithNotifier(n notify.Notifier) Option {
	return func(c *Client) { c.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithIdleTimeout aborts a stream that delivers no bytes for d. Zero disables.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Client) { c.idleTimeout = d }
}

// Client streams chat completions.
type Client struct {
	chatURL        string
	publishableKey string
	tokens         auth.TokenSource

	http        *http.Client
	bus         *events.Bus
	notifier    notify.Notifier
	logger      zerolog.Logger
	idleTimeout time.Duration
}

// NewClient creates a streaming client for chatURL.
func NewClient(chatURL, publishableKey string, tokens auth.TokenSource, opts ...Option) *Client {
	c := &Client{
		chatURL:        chatURL,
		publishableKey: publishableKey,
		tokens:         tokens,
		http:           sharedStreamingClient,
		notifier:       notify.Discard,
		logger:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stream sends req and reads the event stream until it ends.
//
// The three handled failures (no session, 429, 402) show a notice and return
// ErrSessionExpired, ErrRateLimited or ErrPaymentRequired; check them with
// IsHandled. Anything else returns *APIError, *StreamError or a transport
// error.
func (c *Client) Stream(ctx context.Context, req Request, h Handlers) (*model.StreamResult, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, c.fail(err)
	}
	if token == "" {
		c.notifier.Notify(notify.SessionExpired)
		return nil, ErrSessionExpired
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, c.fail(fmt.Errorf("failed to marshal request: %w", err))
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.chatURL, bytes.NewReader(body))
	if err != nil {
		return nil, c.fail(fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")
	httpReq.Header.Set("Authorization", "Bearer "+token)
	if c.publishableKey != "" {
		httpReq.Header.Set("apikey", c.publishableKey)
	}

	isAuto := model.IsAutoModel(req.Model)
	c.bus.Publish(events.StreamStarted{Model: req.Model, IsAuto: isAuto, ChatID: req.ChatID})
	c.logger.Debug().
		Str("model", req.Model).
		Str("chat_id", req.ChatID).
		Int("messages", len(req.Messages)).
		Msg("opening chat stream")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, c.fail(fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		if IsHandled(err) {
			return nil, err
		}
		return nil, c.fail(err)
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return nil, c.fail(ErrNoBody)
	}

	dec := NewDecoder(
		WithDecoderLogger(c.logger),
		OnDelta(func(delta, full string) {
			c.bus.Publish(events.StreamChunk{Content: delta, FullContent: full, Model: req.Model})
			if h.OnUpdate != nil {
				h.OnUpdate(full)
			}
		}),
		OnMetadata(func(m Metadata) {
			c.bus.Publish(events.MetadataReceived{
				ActualModelUsed:  m.ActualModelUsed,
				ActualModelName:  m.ActualModelName,
				CosmoSelected:    m.CosmoSelected,
				DetectedCategory: m.DetectedCategory,
			})
			if h.OnMetadata != nil {
				h.OnMetadata(m)
			}
		}),
	)

	if err := c.pump(ctx, cancel, resp.Body, dec); err != nil {
		return nil, c.fail(&StreamError{Partial: dec.Content(), Err: err})
	}

	result := dec.Result()
	if dec.Skipped() > 0 {
		c.logger.Warn().Int("skipped", dec.Skipped()).Msg("stream contained malformed frames")
	}

	respModel := result.ActualModelUsed
	if respModel == "" {
		respModel = req.Model
	}
	c.bus.Publish(events.ResponseComplete{
		Model:            respModel,
		Content:          result.Content,
		CosmoSelected:    result.CosmoSelected,
		DetectedCategory: result.DetectedCategory,
	})
	return &result, nil
}

// pump copies the body into the decoder, re-arming the idle timer on every
// read, then flushes the decoder's unterminated tail.
func (c *Client) pump(ctx context.Context, cancel context.CancelCauseFunc, body io.Reader, dec *Decoder) error {
	var idle *time.Timer
	if c.idleTimeout > 0 {
		idle = time.AfterFunc(c.idleTimeout, func() { cancel(ErrIdleTimeout) })
		defer idle.Stop()
	}

	buf := make([]byte, readBufferSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if idle != nil {
				idle.Reset(c.idleTimeout)
			}
			dec.Write(buf[:n])
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if cause := context.Cause(ctx); cause != nil {
				return cause
			}
			return err
		}
	}
	return dec.Close()
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	if c.tokens == nil {
		return "", nil
	}
	tok, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get access token: %w", err)
	}
	return tok, nil
}

// checkStatus maps non-2xx responses to errors, showing notices for the
// handled ones.
func (c *Client) checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		c.notifier.Notify(notify.RateLimited)
		return parseRetryAfter(resp.Header.Get("Retry-After"))
	case http.StatusPaymentRequired:
		c.notifier.Notify(notify.PaymentRequired)
		return ErrPaymentRequired
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	return &APIError{Status: resp.StatusCode, Message: errorMessage(body)}
}

// fail publishes a recoverable stream error and returns err.
func (c *Client) fail(err error) error {
	c.logger.Error().Err(err).Msg("chat stream failed")
	c.bus.Publish(events.ErrorPayload{Phase: events.PhaseStream, Err: err, Recoverable: true})
	return err
}

func parseRetryAfter(v string) error {
	if v == "" {
		return ErrRateLimited
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		return &RateLimitError{RetryAfter: time.Duration(seconds) * time.Second}
	}
	if t, err := http.ParseTime(v); err == nil {
		return &RateLimitError{RetryAfter: time.Until(t)}
	}
	return ErrRateLimited
}

// errorMessage extracts a message from {"error": "..."} or
// {"error": {"message": "..."}} bodies, falling back to the raw text.
func errorMessage(body []byte) string {
	var flat struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &flat) == nil {
		if flat.Error != "" {
			return flat.Error
		}
		if flat.Message != "" {
			return flat.Message
		}
	}
	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &nested) == nil && nested.Error.Message != "" {
		return nested.Error.Message
	}
	return strings.TrimSpace(string(body))
}
