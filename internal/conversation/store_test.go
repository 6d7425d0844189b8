// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scottwelch968/Spork-V2-sub004/internal/model"
)

func TestStore_Ordering(t *testing.T) {
	s := NewStore()
	u := s.AddUserMessage("hello", WithModel("auto"))
	s.UpdateStreamingMessage("Hi", "")
	a := s.AddAssistantMessage(model.Message{Content: "Hi there", Model: "gpt-x"})

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, u.LocalID, msgs[0].LocalID)
	assert.Equal(t, "auto", msgs[0].Model)
	assert.Equal(t, a.LocalID, msgs[1].LocalID)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.False(t, msgs[1].Streaming)
	assert.Nil(t, s.StreamingMessage())
}

func TestStore_SingleStreamingSlot(t *testing.T) {
	s := NewStore()
	s.UpdateStreamingMessage("a", "m1")
	first := s.StreamingMessage()
	require.NotNil(t, first)

	s.UpdateStreamingMessage("ab", "")
	second := s.StreamingMessage()
	require.NotNil(t, second)

	assert.Equal(t, first.LocalID, second.LocalID)
	assert.Equal(t, "ab", second.Content)
	assert.Equal(t, "m1", second.Model)
	assert.True(t, second.Streaming)
	assert.Zero(t, s.Count(), "streaming slot is not part of the list")

	s.ClearStreamingMessage()
	assert.Nil(t, s.StreamingMessage())
}

func TestStore_RollbackSymmetry(t *testing.T) {
	s := NewStore()
	s.AddUserMessage("one")
	before := s.Count()

	added := s.AddUserMessage("two")
	removed, ok := s.RollbackLastMessage()
	require.True(t, ok)
	assert.Equal(t, added.LocalID, removed.LocalID)
	assert.Equal(t, before, s.Count())
	assert.Equal(t, s.Count(), len(s.Messages()))

	_, ok = s.RollbackLastMessage()
	assert.True(t, ok)
	_, ok = s.RollbackLastMessage()
	assert.False(t, ok)
	assert.Zero(t, s.Count())
}

func TestStore_MessagesReturnsCopy(t *testing.T) {
	s := NewStore()
	s.AddUserMessage("x")
	msgs := s.Messages()
	msgs[0].Content = "mutated"
	assert.Equal(t, "x", s.Messages()[0].Content)
}

func TestStore_Backfill(t *testing.T) {
	s := NewStore()
	m := s.AddUserMessage("x")
	assert.True(t, s.BackfillMessageID(m.LocalID, "row-1"))
	assert.True(t, s.Messages()[0].IsPersisted())
	assert.False(t, s.BackfillMessageID("missing", "row-2"))
}

func TestStore_BusyBlocksReload(t *testing.T) {
	s := NewStore()
	s.AddUserMessage("in flight")

	require.NoError(t, s.Begin())
	assert.Equal(t, Busy, s.Phase())
	assert.ErrorIs(t, s.Begin(), ErrBusy)
	assert.ErrorIs(t, s.Reload(nil), ErrBusy)
	assert.ErrorIs(t, s.SetConversationID("other", nil), ErrBusy)
	assert.Equal(t, 1, s.Count())

	require.NoError(t, s.End())
	assert.ErrorIs(t, s.End(), ErrNotBusy)

	loaded := []model.Message{{Role: model.RoleUser, Content: "a", MessageID: "r1"}}
	require.NoError(t, s.SetConversationID("chat-2", loaded))
	assert.Equal(t, "chat-2", s.ConversationID())
	require.Len(t, s.Messages(), 1)
	assert.NotEmpty(t, s.Messages()[0].LocalID)
}

func TestStore_ResetClearsConversation(t *testing.T) {
	s := NewStore()
	s.AssignConversationID("chat-1")
	s.AddUserMessage("x")
	s.UpdateStreamingMessage("y", "")

	s.ResetMessages()
	assert.Empty(t, s.ConversationID())
	assert.Zero(t, s.Count())
	assert.Nil(t, s.StreamingMessage())
}

func TestWithImageURL(t *testing.T) {
	s := NewStore()
	m := s.AddUserMessage("look", WithImageURL("https://x.supabase.co/storage/v1/object/public/media/u/1.png"))
	assert.True(t, m.IsSavedToMedia)
}
