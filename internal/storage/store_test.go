// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scottwelch968/Spork-V2-sub004/internal/backend"
	"github.com/scottwelch968/Spork-V2-sub004/internal/model"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "data", "spork.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func msgData(chatID string, role model.Role, content string, at time.Time) map[string]any {
	return backend.RowData(chatID, model.Message{Role: role, Content: content, CreatedAt: at})
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "")
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestOpen_SQLite(t *testing.T) {
	st, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "x.db"))
	require.NoError(t, err)
	defer st.Close()
	assert.NoError(t, st.Ping(context.Background()))
}

func TestCreateChat_AssignsIDAndTitle(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	chat, err := st.CreateChat(ctx, backend.Chat{Title: "  ", Model: "auto"})
	require.NoError(t, err)
	assert.NotEmpty(t, chat.ID)
	assert.Equal(t, "New Chat", chat.Title)
	assert.False(t, chat.CreatedAt.IsZero())

	_, err = st.CreateSpaceChat(ctx, backend.Chat{Title: "team"})
	assert.ErrorIs(t, err, ErrInvalidRow, "space chats need a space id")

	space, err := st.CreateSpaceChat(ctx, backend.Chat{Title: "team", SpaceID: "ws-1"})
	require.NoError(t, err)
	assert.Equal(t, "ws-1", space.SpaceID)
}

func TestInsertRows_OrderAndPerRowFailures(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	chat, err := st.CreateChat(ctx, backend.Chat{Title: "hi"})
	require.NoError(t, err)

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := []map[string]any{
		msgData(chat.ID, model.RoleUser, "question", base),
		msgData("missing-chat", model.RoleUser, "orphan", base),
		{"chat_id": chat.ID, "role": "wizard", "content": "bad role"},
		msgData(chat.ID, model.RoleAssistant, "answer", base.Add(100*time.Millisecond)),
	}

	results, err := st.InsertRows(ctx, backend.TableMessages, rows)
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.True(t, results[0].Success)
	assert.NotEmpty(t, results[0].ID)
	assert.False(t, results[1].Success)
	assert.Contains(t, results[1].Error, "chat not found")
	assert.False(t, results[2].Success)
	assert.Contains(t, results[2].Error, "invalid row")
	assert.True(t, results[3].Success)

	msgs, err := st.ListMessages(ctx, chat.ID, false)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "question", msgs[0].Content)
	assert.Equal(t, "answer", msgs[1].Content)
	assert.Equal(t, results[0].ID, msgs[0].ID)
	assert.True(t, msgs[1].CreatedAt.Equal(base.Add(100*time.Millisecond)))
	assert.Equal(t, string(model.TypeText), msgs[0].Type)
}

func TestInsertRows_UnknownTable(t *testing.T) {
	st := openTestStore(t)

	_, err := st.InsertRows(context.Background(), "users", []map[string]any{{"id": "x"}})
	assert.ErrorIs(t, err, ErrUnknownTable)
}

func TestInsertRows_ChatTable(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	results, err := st.InsertRows(ctx, backend.TableSpaceChats, []map[string]any{
		{"title": "ops", "space_id": "ws-9"},
		{"title": "no space"},
	})
	require.NoError(t, err)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)

	id, err := st.AddMessage(ctx, backend.TableSpaceChatMessages,
		msgData(results[0].ID, model.RoleUser, "in a space", time.Now()))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs, err := st.ListMessages(ctx, results[0].ID, true)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "in a space", msgs[0].Content)

	personal, err := st.ListMessages(ctx, results[0].ID, false)
	require.NoError(t, err)
	assert.Empty(t, personal, "space messages never leak into the personal table")
}

func TestAddMessage_RejectsChatTable(t *testing.T) {
	st := openTestStore(t)

	_, err := st.AddMessage(context.Background(), backend.TableChats, map[string]any{"title": "x"})
	assert.ErrorIs(t, err, ErrUnknownTable)
}

func TestMessageMetadataSurvives(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	chat, err := st.CreateChat(ctx, backend.Chat{Title: "meta"})
	require.NoError(t, err)

	_, err = st.AddMessage(ctx, backend.TableMessages, backend.RowData(chat.ID, model.Message{
		Role:             model.RoleAssistant,
		Content:          "routed",
		Model:            "deepseek/deepseek-r1",
		CosmoSelected:    true,
		DetectedCategory: "math",
	}))
	require.NoError(t, err)

	msgs, err := st.ListMessages(ctx, chat.ID, false)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].CosmoSelected)
	assert.Equal(t, "math", msgs[0].DetectedCategory)
	assert.Equal(t, "deepseek/deepseek-r1", msgs[0].Model)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spork.db")
	ctx := context.Background()

	st, err := NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	chat, err := st.CreateChat(ctx, backend.Chat{Title: "persist"})
	require.NoError(t, err)
	_, err = st.AddMessage(ctx, backend.TableMessages, msgData(chat.ID, model.RoleUser, "still here", time.Now()))
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st, err = NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	defer st.Close()

	msgs, err := st.ListMessages(ctx, chat.ID, false)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "still here", msgs[0].Content)
}
