// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/scottwelch968/Spork-V2-sub004/internal/model"
)

const (
	// DefaultTimeout bounds one multiplexer call.
	DefaultTimeout = 30 * time.Second

	maxResponseSize = 10 * 1024 * 1024
)

// ErrUnauthorized indicates the backend rejected the token.
var ErrUnauthorized = errors.New("backend rejected credentials")

// Error is a failed multiplexer call.
type Error struct {
	Action  string
	Status  int
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s failed (%d): %s", e.Action, e.Status, e.Message)
}

// Client calls the persistence multiplexer.
type Client struct {
	url            string
	publishableKey string
	http           *http.Client
	logger         zerolog.Logger
}

// NewClient creates a client for the multiplexer function at url.
func NewClient(url, publishableKey string, logger zerolog.Logger) *Client {
	return &Client{
		url:            url,
		publishableKey: publishableKey,
		http:           &http.Client{Timeout: DefaultTimeout},
		logger:         logger.With().Str("component", "backend").Logger(),
	}
}

// WithHTTPClient sets the HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

// Invoke posts req and decodes the envelope's data into out (if non-nil).
func (c *Client) Invoke(ctx context.Context, token, action string, req, out any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", action, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)
	if c.publishableKey != "" {
		httpReq.Header.Set("apikey", c.publishableKey)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", action, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", action, err)
	}

	c.logger.Debug().
		Str("action", action).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("multiplexer call")

	var env Envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%s: %w", action, ErrUnauthorized)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := env.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &Error{Action: action, Status: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return fmt.Errorf("failed to decode %s response: %w", action, decodeErr)
	}
	if env.Error != "" {
		return &Error{Action: action, Status: resp.StatusCode, Message: env.Error}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode %s data: %w", action, err)
		}
	}
	return nil
}

// BatchSave writes ops in one call. The results are aligned by index with ops;
// a response of the wrong length is an error.
func (c *Client) BatchSave(ctx context.Context, token string, ops []Operation) ([]Result, error) {
	var results []Result
	err := c.Invoke(ctx, token, ActionBatchSave, BatchSaveRequest{
		Action:     ActionBatchSave,
		Operations: ops,
	}, &results)
	if err != nil {
		return nil, err
	}
	if len(results) != len(ops) {
		return nil, fmt.Errorf("batch_save returned %d results for %d operations", len(results), len(ops))
	}
	return results, nil
}

// CreateChat starts a personal conversation.
func (c *Client) CreateChat(ctx context.Context, token, title, modelID, personaID string) (*Chat, error) {
	var chat Chat
	err := c.Invoke(ctx, token, ActionCreateChat, CreateChatRequest{
		Action:    ActionCreateChat,
		Title:     title,
		Model:     modelID,
		PersonaID: personaID,
	}, &chat)
	if err != nil {
		return nil, err
	}
	if chat.ID == "" {
		return nil, fmt.Errorf("create_chat returned no id")
	}
	return &chat, nil
}

// CreateSpaceChat starts a conversation inside a workspace.
func (c *Client) CreateSpaceChat(ctx context.Context, token, spaceID, title, modelID string) (*Chat, error) {
	var chat Chat
	err := c.Invoke(ctx, token, ActionCreateSpaceChat, CreateChatRequest{
		Action:  ActionCreateSpaceChat,
		Title:   title,
		Model:   modelID,
		SpaceID: spaceID,
	}, &chat)
	if err != nil {
		return nil, err
	}
	if chat.ID == "" {
		return nil, fmt.Errorf("create_space_chat returned no id")
	}
	return &chat, nil
}

// GetMessages loads a conversation in stored order.
func (c *Client) GetMessages(ctx context.Context, token, chatID string, spaceChat bool) ([]model.Message, error) {
	var rows []MessageRow
	err := c.Invoke(ctx, token, ActionGetMessages, GetMessagesRequest{
		Action:    ActionGetMessages,
		ChatID:    chatID,
		SpaceChat: spaceChat,
	}, &rows)
	if err != nil {
		return nil, err
	}
	msgs := make([]model.Message, 0, len(rows))
	for _, r := range rows {
		msgs = append(msgs, r.ToMessage())
	}
	return msgs, nil
}

// AddMessage writes a single message immediately and returns its id.
func (c *Client) AddMessage(ctx context.Context, token, table, chatID string, msg model.Message) (string, error) {
	var res Result
	err := c.Invoke(ctx, token, ActionAddMessage, AddMessageRequest{
		Action:  ActionAddMessage,
		Table:   table,
		Message: RowData(chatID, msg),
	}, &res)
	if err != nil {
		return "", err
	}
	if !res.Success {
		return "", &Error{Action: ActionAddMessage, Status: http.StatusOK, Message: res.Error}
	}
	return res.ID, nil
}
