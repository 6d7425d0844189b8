// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chat turns and models.
package model

import (
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Spork"
	default:
		return string(r)
	}
}

// MessageType distinguishes plain text turns from generated images.
type MessageType string

const (
	TypeText  MessageType = "text"
	TypeImage MessageType = "image"
)

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single turn in a conversation.
type Message struct {
	// LocalID identifies the row inside one open conversation view.
	// It is never sent to the backend.
	LocalID string `json:"-"`

	Role     Role        `json:"role"`
	Content  string      `json:"content"`
	Type     MessageType `json:"type,omitempty"`
	ImageURL string      `json:"image_url,omitempty"`
	Model    string      `json:"model,omitempty"`

	// MessageID is assigned only after persistence confirms the row.
	MessageID string `json:"message_id,omitempty"`

	// Routing metadata reported by the backend.
	CosmoSelected    bool   `json:"cosmo_selected,omitempty"`
	DetectedCategory string `json:"detected_category,omitempty"`

	// IsSavedToMedia is derived from the image storage path and is not
	// authoritative until storage confirms it.
	IsSavedToMedia bool `json:"-"`

	// Streaming is true while the content is still being received.
	Streaming bool `json:"-"`

	CreatedAt time.Time `json:"created_at"`
}

// NewUserMessage creates a text message from the user.
func NewUserMessage(content string) Message {
	return Message{
		LocalID:   NewLocalID(),
		Role:      RoleUser,
		Content:   content,
		Type:      TypeText,
		CreatedAt: time.Now(),
	}
}

// NewAssistantMessage creates a finalized assistant message from a stream result.
func NewAssistantMessage(result StreamResult, requestedModel string) Message {
	modelID := result.ActualModelUsed
	if modelID == "" {
		modelID = requestedModel
	}
	return Message{
		LocalID:          NewLocalID(),
		Role:             RoleAssistant,
		Content:          result.Content,
		Type:             TypeText,
		Model:            modelID,
		CosmoSelected:    result.CosmoSelected,
		DetectedCategory: result.DetectedCategory,
		CreatedAt:        time.Now(),
	}
}

// NewLocalID returns a fresh client-side row identifier.
func NewLocalID() string {
	return "msg_" + uuid.NewString()
}

// IsImage returns true if the message carries a generated image.
func (m Message) IsImage() bool {
	return m.Type == TypeImage && m.ImageURL != ""
}

// IsPersisted returns true once the backend has confirmed the row.
func (m Message) IsPersisted() bool {
	return m.MessageID != ""
}

// WireMessage is the {role, content} pair sent to the completion endpoint.
type WireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToWire converts the message to its completion request form.
func (m Message) ToWire() WireMessage {
	return WireMessage{Role: string(m.Role), Content: m.Content}
}

// ToWireMessages converts a history to completion request form, skipping
// messages that are still streaming or have no text.
func ToWireMessages(msgs []Message) []WireMessage {
	out := make([]WireMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Streaming || strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, m.ToWire())
	}
	return out
}

// =============================================================================
// STREAM RESULT
// =============================================================================

// StreamResult is the outcome of one completed completion stream.
type StreamResult struct {
	Content          string `json:"content"`
	ActualModelUsed  string `json:"actualModelUsed,omitempty"`
	ActualModelName  string `json:"actualModelName,omitempty"`
	CosmoSelected    bool   `json:"cosmoSelected"`
	DetectedCategory string `json:"detectedCategory,omitempty"`
}

// =============================================================================
// HELPERS
// =============================================================================

// mediaBucket is the storage bucket that holds images the user saved.
const mediaBucket = "media"

// InferSavedToMedia reports whether an image URL points into the media bucket.
// Storage object URLs have the form
// /storage/v1/object/{public|sign|authenticated}/<bucket>/<path>.
func InferSavedToMedia(imageURL string) bool {
	if imageURL == "" {
		return false
	}
	u, err := url.Parse(imageURL)
	if err != nil {
		return false
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] != "object" {
			continue
		}
		switch parts[i+1] {
		case "public", "sign", "authenticated":
			return parts[i+2] == mediaBucket && i+3 < len(parts)
		}
	}
	return false
}
