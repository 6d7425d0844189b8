// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"errors"
	"sync"
	"time"

	"github.com/scottwelch968/Spork-V2-sub004/internal/model"
)

var (
	// ErrBusy is returned while a send is in flight.
	ErrBusy = errors.New("conversation busy")

	// ErrNotBusy is returned by End without a matching Begin.
	ErrNotBusy = errors.New("conversation not busy")
)

// Phase is the send state of a Store.
type Phase int

const (
	Idle Phase = iota
	Busy
)

// String returns the phase name.
func (p Phase) String() string {
	if p == Busy {
		return "busy"
	}
	return "idle"
}

// UserOption customizes a user message before it is appended.
type UserOption func(*model.Message)

// WithImageURL attaches an image to a user message.
func WithImageURL(url string) UserOption {
	return func(m *model.Message) {
		m.ImageURL = url
		m.IsSavedToMedia = model.InferSavedToMedia(url)
	}
}

// WithModel records the model requested for the turn.
func WithModel(id string) UserOption {
	return func(m *model.Message) { m.Model = id }
}

// =============================================================================
// STORE
// =============================================================================

// Store is the message list of one conversation view. It is safe for
// concurrent use; all accessors return copies.
type Store struct {
	mu             sync.Mutex
	messages       []model.Message
	streaming      *model.Message
	conversationID string
	phase          Phase
}

// NewStore creates an empty, idle store.
func NewStore() *Store {
	return &Store{}
}

// AddUserMessage appends a user message and returns it.
func (s *Store) AddUserMessage(content string, opts ...UserOption) model.Message {
	msg := model.NewUserMessage(content)
	for _, opt := range opts {
		opt(&msg)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return msg
}

// AddAssistantMessage appends a finalized assistant message and clears the
// streaming slot.
func (s *Store) AddAssistantMessage(msg model.Message) model.Message {
	if msg.LocalID == "" {
		msg.LocalID = model.NewLocalID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.Role = model.RoleAssistant
	msg.Streaming = false

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	s.streaming = nil
	return msg
}

// UpdateStreamingMessage replaces the streaming slot with the accumulated
// content so far. The slot is created on first use.
func (s *Store) UpdateStreamingMessage(content, modelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.streaming == nil {
		s.streaming = &model.Message{
			LocalID:   model.NewLocalID(),
			Role:      model.RoleAssistant,
			Type:      model.TypeText,
			Streaming: true,
			CreatedAt: time.Now(),
		}
	}
	s.streaming.Content = content
	if modelID != "" {
		s.streaming.Model = modelID
	}
}

// ClearStreamingMessage discards the streaming slot.
func (s *Store) ClearStreamingMessage() {
	s.mu.Lock()
	s.streaming = nil
	s.mu.Unlock()
}

// RollbackLastMessage removes the most recently appended message and returns
// it. It reports false on an empty store.
func (s *Store) RollbackLastMessage() (model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.messages) == 0 {
		return model.Message{}, false
	}
	last := s.messages[len(s.messages)-1]
	s.messages = s.messages[:len(s.messages)-1]
	return last, true
}

// ResetMessages clears every message and the conversation id.
func (s *Store) ResetMessages() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.streaming = nil
	s.conversationID = ""
}

// Messages returns a copy of the finalized messages in order.
func (s *Store) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// StreamingMessage returns a copy of the streaming slot, or nil.
func (s *Store) StreamingMessage() *model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streaming == nil {
		return nil
	}
	m := *s.streaming
	return &m
}

// Count returns the number of finalized messages.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// BackfillMessageID records the persisted id of the message with localID.
// It reports false if the message is no longer in the view.
func (s *Store) BackfillMessageID(localID, messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].LocalID == localID {
			s.messages[i].MessageID = messageID
			return true
		}
	}
	return false
}

// =============================================================================
// CONVERSATION IDENTITY
// =============================================================================

// ConversationID returns the id of the open conversation, or "" before the
// first turn creates it.
func (s *Store) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// AssignConversationID records the id of a conversation created by the
// current send.
func (s *Store) AssignConversationID(id string) {
	s.mu.Lock()
	s.conversationID = id
	s.mu.Unlock()
}

// SetConversationID opens a stored conversation, replacing the view.
func (s *Store) SetConversationID(id string, msgs []model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == Busy {
		return ErrBusy
	}
	s.conversationID = id
	s.replaceLocked(msgs)
	return nil
}

// Reload replaces the messages of the open conversation.
func (s *Store) Reload(msgs []model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == Busy {
		return ErrBusy
	}
	s.replaceLocked(msgs)
	return nil
}

func (s *Store) replaceLocked(msgs []model.Message) {
	s.messages = make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.LocalID == "" {
			m.LocalID = model.NewLocalID()
		}
		m.Streaming = false
		s.messages = append(s.messages, m)
	}
	s.streaming = nil
}

// =============================================================================
// SEND PHASE
// =============================================================================

// Begin marks a send in flight.
func (s *Store) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == Busy {
		return ErrBusy
	}
	s.phase = Busy
	return nil
}

// End returns the store to idle.
func (s *Store) End() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != Busy {
		return ErrNotBusy
	}
	s.phase = Idle
	return nil
}

// Phase returns the current send phase.
func (s *Store) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}
