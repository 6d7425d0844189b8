// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"encoding/json"
	"time"

	"github.com/scottwelch968/Spork-V2-sub004/internal/model"
)

// Action names accepted by the multiplexer.
const (
	ActionBatchSave       = "batch_save"
	ActionCreateChat      = "create_chat"
	ActionCreateSpaceChat = "create_space_chat"
	ActionGetMessages     = "get_messages"
	ActionAddMessage      = "add_message"
)

// Tables the multiplexer writes to.
const (
	TableChats             = "chats"
	TableSpaceChats        = "space_chats"
	TableMessages          = "messages"
	TableSpaceChatMessages = "space_chat_messages"
)

// MessageTable returns the message table for personal or workspace chats.
func MessageTable(spaceChat bool) string {
	if spaceChat {
		return TableSpaceChatMessages
	}
	return TableMessages
}

// =============================================================================
// BATCH SAVE
// =============================================================================

// Operation is one row write inside a batch.
type Operation struct {
	Table string         `json:"table"`
	Data  map[string]any `json:"data"`
}

// Result is the outcome of one operation, aligned by index with the request.
type Result struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// BatchSaveRequest is the batch_save body.
type BatchSaveRequest struct {
	Action     string      `json:"action"`
	Operations []Operation `json:"operations"`
}

// =============================================================================
// CHATS
// =============================================================================

// Chat is a conversation row.
type Chat struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Model     string    `json:"model,omitempty"`
	PersonaID string    `json:"persona_id,omitempty"`
	SpaceID   string    `json:"space_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateChatRequest is the create_chat and create_space_chat body.
type CreateChatRequest struct {
	Action    string `json:"action"`
	Title     string `json:"title"`
	Model     string `json:"model,omitempty"`
	PersonaID string `json:"persona_id,omitempty"`
	SpaceID   string `json:"space_id,omitempty"`
}

// =============================================================================
// MESSAGES
// =============================================================================

// MessageRow is a stored message.
type MessageRow struct {
	ID               string    `json:"id"`
	ChatID           string    `json:"chat_id"`
	Role             string    `json:"role"`
	Content          string    `json:"content"`
	Type             string    `json:"type,omitempty"`
	ImageURL         string    `json:"image_url,omitempty"`
	Model            string    `json:"model,omitempty"`
	CosmoSelected    bool      `json:"cosmo_selected,omitempty"`
	DetectedCategory string    `json:"detected_category,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// ToMessage converts a stored row to a finalized conversation message.
func (r MessageRow) ToMessage() model.Message {
	msgType := model.MessageType(r.Type)
	if msgType == "" {
		msgType = model.TypeText
	}
	return model.Message{
		LocalID:          model.NewLocalID(),
		Role:             model.Role(r.Role),
		Content:          r.Content,
		Type:             msgType,
		ImageURL:         r.ImageURL,
		Model:            r.Model,
		MessageID:        r.ID,
		CosmoSelected:    r.CosmoSelected,
		DetectedCategory: r.DetectedCategory,
		IsSavedToMedia:   model.InferSavedToMedia(r.ImageURL),
		CreatedAt:        r.CreatedAt,
	}
}

// RowData builds the opaque data payload for saving msg in chatID.
func RowData(chatID string, msg model.Message) map[string]any {
	data := map[string]any{
		"chat_id": chatID,
		"role":    string(msg.Role),
		"content": msg.Content,
	}
	if msg.Type != "" {
		data["type"] = string(msg.Type)
	}
	if msg.ImageURL != "" {
		data["image_url"] = msg.ImageURL
	}
	if msg.Model != "" {
		data["model"] = msg.Model
	}
	if msg.CosmoSelected {
		data["cosmo_selected"] = true
	}
	if msg.DetectedCategory != "" {
		data["detected_category"] = msg.DetectedCategory
	}
	if !msg.CreatedAt.IsZero() {
		data["created_at"] = msg.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	return data
}

// RowFromData decodes an opaque data payload into a MessageRow.
func RowFromData(data map[string]any) (MessageRow, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return MessageRow{}, err
	}
	var row MessageRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return MessageRow{}, err
	}
	return row, nil
}

// GetMessagesRequest is the get_messages body.
type GetMessagesRequest struct {
	Action    string `json:"action"`
	ChatID    string `json:"chat_id"`
	SpaceChat bool   `json:"space_chat,omitempty"`
}

// AddMessageRequest is the add_message body.
type AddMessageRequest struct {
	Action  string         `json:"action"`
	Table   string         `json:"table,omitempty"`
	Message map[string]any `json:"message"`
}

// =============================================================================
// ENVELOPE
// =============================================================================

// Envelope is the multiplexer's response wrapper.
type Envelope struct {
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}
