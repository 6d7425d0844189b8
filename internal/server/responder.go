// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/scottwelch968/Spork-V2-sub004/internal/cloud"
	"github.com/scottwelch968/Spork-V2-sub004/internal/model"
)

// Completion is one chat turn after routing.
type Completion struct {
	Messages  []model.WireMessage
	ModelID   string
	ModelName string
	Category  string
}

// LastUserContent returns the newest user message, or "".
func (c Completion) LastUserContent() string {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == string(model.RoleUser) {
			return c.Messages[i].Content
		}
	}
	return ""
}

// Responder produces the reply for a completion. emit is called once per
// content delta, in order; an emit error means the client went away and
// Respond should return it.
type Responder interface {
	Respond(ctx context.Context, c Completion, emit func(delta string) error) error
}

// =============================================================================
// ECHO RESPONDER
// =============================================================================

// EchoResponder answers deterministically without any model, one word per
// delta.
type EchoResponder struct {
	// Delay is the pause between deltas.
	Delay time.Duration
}

// Respond echoes the last user message.
func (e EchoResponder) Respond(ctx context.Context, c Completion, emit func(string) error) error {
	name := c.ModelName
	if name == "" {
		name = c.ModelID
	}
	reply := fmt.Sprintf("%s heard: %s", name, strings.TrimSpace(c.LastUserContent()))

	for i, word := range strings.SplitAfter(reply, " ") {
		if i > 0 && e.Delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.Delay):
			}
		}
		if err := emit(word); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// UPSTREAM RESPONDER
// =============================================================================

const maxUpstreamErrorBody = 4 * 1024

// UpstreamResponder relays an OpenAI-compatible streaming completion API.
type UpstreamResponder struct {
	URL    string
	APIKey string
	HTTP   *http.Client
	Logger zerolog.Logger
}

type upstreamRequest struct {
	Model    string              `json:"model"`
	Messages []model.WireMessage `json:"messages"`
	Stream   bool                `json:"stream"`
}

// Respond streams the upstream reply through a cloud.Decoder.
func (u UpstreamResponder) Respond(ctx context.Context, c Completion, emit func(string) error) error {
	body, err := json.Marshal(upstreamRequest{Model: c.ModelID, Messages: c.Messages, Stream: true})
	if err != nil {
		return fmt.Errorf("failed to marshal upstream request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if u.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+u.APIKey)
	}

	hc := u.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamErrorBody))
		return fmt.Errorf("upstream returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var emitErr error
	dec := cloud.NewDecoder(
		cloud.WithDecoderLogger(u.Logger),
		cloud.OnDelta(func(delta, _ string) {
			if emitErr == nil {
				emitErr = emit(delta)
			}
		}),
	)

	buf := make([]byte, 32*1024)
	for emitErr == nil {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			dec.Write(buf[:n])
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return fmt.Errorf("upstream stream failed: %w", readErr)
		}
	}
	if emitErr != nil {
		return emitErr
	}
	dec.Close()

	u.Logger.Debug().
		Str("model", c.ModelID).
		Int("deltas", dec.Deltas()).
		Int("skipped", dec.Skipped()).
		Msg("upstream stream finished")
	return emitErr
}
