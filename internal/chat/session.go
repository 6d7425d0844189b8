// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/scottwelch968/Spork-V2-sub004/internal/actionbox"
	"github.com/scottwelch968/Spork-V2-sub004/internal/auth"
	"github.com/scottwelch968/Spork-V2-sub004/internal/backend"
	"github.com/scottwelch968/Spork-V2-sub004/internal/cloud"
	"github.com/scottwelch968/Spork-V2-sub004/internal/conversation"
	"github.com/scottwelch968/Spork-V2-sub004/internal/events"
	"github.com/scottwelch968/Spork-V2-sub004/internal/model"
	"github.com/scottwelch968/Spork-V2-sub004/internal/notify"
	"github.com/scottwelch968/Spork-V2-sub004/internal/savequeue"
	"github.com/scottwelch968/Spork-V2-sub004/internal/util"
)

// ErrEmptyMessage is returned by Send for blank input.
var ErrEmptyMessage = errors.New("message is empty")

// =============================================================================
// COLLABORATORS
// =============================================================================

// Streamer opens a completion stream.
type Streamer interface {
	Stream(ctx context.Context, req cloud.Request, h cloud.Handlers) (*model.StreamResult, error)
}

// Backend creates and loads conversations.
type Backend interface {
	CreateChat(ctx context.Context, token, title, modelID, personaID string) (*backend.Chat, error)
	CreateSpaceChat(ctx context.Context, token, spaceID, title, modelID string) (*backend.Chat, error)
	GetMessages(ctx context.Context, token, chatID string, spaceChat bool) ([]model.Message, error)
}

// Saver queues rows for background persistence.
type Saver interface {
	Enqueue(table string, data map[string]any, opts ...savequeue.EnqueueOption) error
}

// Deps are the collaborators of a Session.
type Deps struct {
	Store    *conversation.Store
	Box      *actionbox.Box
	Streamer Streamer
	Backend  Backend
	Saver    Saver
	Tokens   auth.TokenSource
	Bus      *events.Bus
	Notifier notify.Notifier
	Logger   zerolog.Logger
}

// Options are the per-session request settings.
type Options struct {
	Model        string
	PersonaID    string
	WorkspaceID  string
	SpaceContext *cloud.SpaceContext
}

// =============================================================================
// SESSION
// =============================================================================

// Session sends turns for one conversation view.
type Session struct {
	Deps

	mu   sync.Mutex
	opts Options
}

// NewSession creates a session. A nil Store or Box is created; a nil Notifier
// discards notices.
func NewSession(deps Deps, opts Options) *Session {
	if deps.Store == nil {
		deps.Store = conversation.NewStore()
	}
	if deps.Box == nil {
		deps.Box = actionbox.New()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Discard
	}
	if opts.Model == "" {
		opts.Model = model.AutoModel
	}
	return &Session{Deps: deps, opts: opts}
}

// Options returns the current request settings.
func (s *Session) Options() Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts
}

// SetModel changes the model used by later turns.
func (s *Session) SetModel(id string) {
	s.mu.Lock()
	s.opts.Model = id
	s.mu.Unlock()
}

// spaceChat reports whether turns go to the workspace tables.
func (o Options) spaceChat() bool {
	return o.WorkspaceID != ""
}

// Send runs one turn. It returns the finalized assistant message.
//
// Failures already shown to the user (see cloud.IsHandled) leave the user
// message in the view, unsaved. Any other failure removes it again, shows an
// error notice and returns the error.
func (s *Session) Send(ctx context.Context, text string) (*model.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	if err := s.Store.Begin(); err != nil {
		return nil, err
	}
	defer s.Store.End()

	opts := s.Options()
	user := s.Store.AddUserMessage(text, conversation.WithModel(opts.Model))

	isAuto := model.IsAutoModel(opts.Model)
	s.Box.Reset()
	s.Box.Start(opts.Model, model.DisplayName(opts.Model), isAuto)

	chatID, err := s.ensureConversation(ctx, opts, text)
	if err != nil {
		s.Box.Close()
		if cloud.IsHandled(err) {
			return nil, err
		}
		s.Store.RollbackLastMessage()
		s.Notifier.Notify(notify.Error("Could not start the conversation."))
		s.Bus.Publish(events.ErrorPayload{Phase: events.PhaseCreateChat, Err: err, Recoverable: true})
		return nil, err
	}

	req := cloud.Request{
		Messages:     model.ToWireMessages(s.Store.Messages()),
		Model:        opts.Model,
		ChatID:       chatID,
		PersonaID:    opts.PersonaID,
		WorkspaceID:  opts.WorkspaceID,
		SpaceContext: opts.SpaceContext,
	}
	result, err := s.Streamer.Stream(ctx, req, cloud.Handlers{
		OnUpdate: func(full string) {
			s.Store.UpdateStreamingMessage(full, s.Box.State().Model.ModelID)
		},
		OnMetadata: func(m cloud.Metadata) {
			s.Box.SetModelSelected(m.ActualModelUsed, m.ActualModelName, m.DetectedCategory)
		},
	})
	s.Box.Close()

	if err != nil {
		s.Store.ClearStreamingMessage()
		if cloud.IsHandled(err) {
			s.Logger.Info().Err(err).Msg("turn stopped by handled failure")
			return nil, err
		}
		s.Store.RollbackLastMessage()
		if !errors.Is(err, context.Canceled) {
			s.Notifier.Notify(notify.Error("The response could not be completed. Please try again."))
		}
		return nil, err
	}

	assistant := s.Store.AddAssistantMessage(model.NewAssistantMessage(*result, opts.Model))

	table := backend.MessageTable(opts.spaceChat())
	s.save(table, chatID, user)
	if assistant.Content != "" {
		s.save(table, chatID, assistant)
	}

	return &assistant, nil
}

// ensureConversation returns the open conversation id, creating the
// conversation on the first turn.
func (s *Session) ensureConversation(ctx context.Context, opts Options, firstMessage string) (string, error) {
	if id := s.Store.ConversationID(); id != "" {
		return id, nil
	}

	token, err := s.token(ctx)
	if err != nil {
		return "", err
	}

	title := util.ChatTitle(firstMessage)
	var chat *backend.Chat
	if opts.spaceChat() {
		chat, err = s.Backend.CreateSpaceChat(ctx, token, opts.WorkspaceID, title, opts.Model)
	} else {
		chat, err = s.Backend.CreateChat(ctx, token, title, opts.Model, opts.PersonaID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to create conversation: %w", err)
	}

	s.Store.AssignConversationID(chat.ID)
	s.Logger.Debug().Str("chat_id", chat.ID).Bool("space", opts.spaceChat()).Msg("conversation created")
	return chat.ID, nil
}

func (s *Session) save(table, chatID string, msg model.Message) {
	localID := msg.LocalID
	err := s.Saver.Enqueue(table, backend.RowData(chatID, msg), savequeue.OnSaved(func(id string) {
		s.Store.BackfillMessageID(localID, id)
	}))
	if err != nil {
		s.Logger.Error().Err(err).Str("role", msg.Role.String()).Msg("failed to queue message save")
	}
}

// token returns the access token or ErrSessionExpired after notifying.
func (s *Session) token(ctx context.Context) (string, error) {
	if s.Tokens == nil {
		s.Notifier.Notify(notify.SessionExpired)
		return "", cloud.ErrSessionExpired
	}
	token, err := s.Tokens.AccessToken(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read access token: %w", err)
	}
	if token == "" {
		s.Notifier.Notify(notify.SessionExpired)
		return "", cloud.ErrSessionExpired
	}
	return token, nil
}

// =============================================================================
// VIEW MANAGEMENT
// =============================================================================

// Load opens a stored conversation. It fails with conversation.ErrBusy while
// a turn is in flight.
func (s *Session) Load(ctx context.Context, chatID string) error {
	if s.Store.Phase() == conversation.Busy {
		return conversation.ErrBusy
	}
	token, err := s.token(ctx)
	if err != nil {
		return err
	}

	opts := s.Options()
	msgs, err := s.Backend.GetMessages(ctx, token, chatID, opts.spaceChat())
	if err != nil {
		s.Bus.Publish(events.ErrorPayload{Phase: events.PhaseLoad, Err: err, Recoverable: true})
		return fmt.Errorf("failed to load conversation %s: %w", chatID, err)
	}

	if err := s.Store.SetConversationID(chatID, msgs); err != nil {
		return err
	}
	s.Box.Reset()
	return nil
}

// Reset starts a new, empty conversation view.
func (s *Session) Reset() error {
	if s.Store.Phase() == conversation.Busy {
		return conversation.ErrBusy
	}
	s.Store.ResetMessages()
	s.Box.Reset()
	return nil
}
