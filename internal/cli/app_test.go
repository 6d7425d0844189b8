// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scottwelch968/Spork-V2-sub004/internal/actionbox"
	"github.com/scottwelch968/Spork-V2-sub004/internal/backend"
	"github.com/scottwelch968/Spork-V2-sub004/internal/clock"
	"github.com/scottwelch968/Spork-V2-sub004/internal/cloud"
	"github.com/scottwelch968/Spork-V2-sub004/internal/config"
	"github.com/scottwelch968/Spork-V2-sub004/internal/model"
	"github.com/scottwelch968/Spork-V2-sub004/internal/server"
	"github.com/scottwelch968/Spork-V2-sub004/internal/storage"
)

const (
	testToken = "tok-cli"
	testKey   = "pk-cli"
)

// =============================================================================
// HELPERS
// =============================================================================

// scriptedInput replays lines, then reports EOF.
type scriptedInput struct {
	lines  []string
	closed bool
}

func (s *scriptedInput) Prompt(string) (string, error) {
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

func (s *scriptedInput) Close() error {
	s.closed = true
	return nil
}

// startBackend runs sporkd in-process over a temp SQLite database.
func startBackend(t *testing.T) *httptest.Server {
	t.Helper()
	st, err := storage.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "spork.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	scfg := config.Default().Server
	scfg.BearerTokens = []string{testToken}
	scfg.RateLimitRPS = 100
	scfg.RateLimitBurst = 100

	ts := httptest.NewServer(server.New(scfg, testKey, st).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func clientConfig(t *testing.T, ts *httptest.Server) *config.Config {
	cfg := config.Default()
	cfg.Backend.ChatURL = ts.URL + "/functions/v1/chat"
	cfg.Backend.FunctionsURL = ts.URL + "/functions/v1/spork-data"
	cfg.Backend.PublishableKey = testKey
	cfg.Auth.AccessToken = testToken
	cfg.Auth.SessionFile = filepath.Join(t.TempDir(), "session.json")
	cfg.Chat.BootDelayMS = 1
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, args Args, out *bytes.Buffer, input LineReader) *App {
	t.Helper()
	app, err := NewApp(cfg, zerolog.Nop(), args, WithOutput(out, false), WithLineReader(input))
	require.NoError(t, err)
	return app
}

func storedMessages(t *testing.T, ts *httptest.Server, chatID string) []model.Message {
	t.Helper()
	data := backend.NewClient(ts.URL+"/functions/v1/spork-data", testKey, zerolog.Nop())
	msgs, err := data.GetMessages(context.Background(), testToken, chatID, false)
	require.NoError(t, err)
	return msgs
}

// =============================================================================
// TESTS
// =============================================================================

func TestRunOnce_StreamsAndPersists(t *testing.T) {
	ts := startBackend(t)
	var out bytes.Buffer
	app := newTestApp(t, clientConfig(t, ts), Args{Model: "auto"}, &out, &scriptedInput{})

	require.NoError(t, app.RunOnce(context.Background(), "refactor this function"))
	chatID := app.Store.ConversationID()
	require.NotEmpty(t, chatID)
	require.NoError(t, app.Close())

	got := out.String()
	assert.Contains(t, got, "Claude Sonnet 4 heard: refactor this function")
	assert.Contains(t, got, "via Claude Sonnet 4 · coding (picked by Cosmo)")

	msgs := storedMessages(t, ts, chatID)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "refactor this function", msgs[0].Content)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "anthropic/claude-sonnet-4", msgs[1].Model)
}

func TestRunOnce_NoSession(t *testing.T) {
	ts := startBackend(t)
	cfg := clientConfig(t, ts)
	cfg.Auth.AccessToken = ""

	var out bytes.Buffer
	app := newTestApp(t, cfg, Args{}, &out, &scriptedInput{})
	defer app.Close()

	err := app.RunOnce(context.Background(), "hello")
	assert.ErrorIs(t, err, cloud.ErrSessionExpired)
	assert.Contains(t, out.String(), "Please sign in again")
	assert.Equal(t, 1, app.Store.Count(), "handled failures keep the user message in view")
}

func TestRun_Commands(t *testing.T) {
	ts := startBackend(t)
	exportDir := t.TempDir()
	input := &scriptedInput{lines: []string{
		"/export",
		"/model gpt-4o",
		"hi",
		"",
		"/history",
		"/export json " + exportDir,
		"/status",
		"/model llama-9000",
		"/bogus",
		"/quit",
		"never sent",
	}}

	var out bytes.Buffer
	app := newTestApp(t, clientConfig(t, ts), Args{}, &out, input)

	require.NoError(t, app.Run(context.Background()))
	require.NoError(t, app.Close())

	got := out.String()
	assert.Contains(t, got, "Model set to GPT-4o.")
	assert.Contains(t, got, "GPT-4o heard: hi")
	assert.Contains(t, got, "You: hi")
	assert.Contains(t, got, "Messages")
	assert.Contains(t, got, `unknown model "llama-9000"`)
	assert.Contains(t, got, "unknown command /bogus")
	assert.Contains(t, got, "conversation has no messages")
	assert.Contains(t, got, "Exported to "+exportDir)

	files, err := filepath.Glob(filepath.Join(exportDir, "conversation_hi_*.json"))
	require.NoError(t, err)
	assert.Len(t, files, 1)
	assert.NotContains(t, got, "never sent")
	assert.True(t, input.closed)
	assert.Equal(t, []string{"never sent"}, input.lines)
}

func TestRun_LoadFlagAndNew(t *testing.T) {
	ts := startBackend(t)
	cfg := clientConfig(t, ts)

	var first bytes.Buffer
	app := newTestApp(t, cfg, Args{}, &first, &scriptedInput{})
	require.NoError(t, app.RunOnce(context.Background(), "write a poem"))
	chatID := app.Store.ConversationID()
	require.NoError(t, app.Close())

	var out bytes.Buffer
	input := &scriptedInput{lines: []string{"/history", "/new", "/history"}}
	app = newTestApp(t, cfg, Args{LoadChatID: chatID}, &out, input)
	require.NoError(t, app.Run(context.Background()))
	require.NoError(t, app.Close())

	got := out.String()
	assert.Contains(t, got, "Loaded 2 messages from "+chatID+".")
	assert.Contains(t, got, "You: write a poem")
	assert.Contains(t, got, "Started a new conversation.")
	assert.Contains(t, got, "No messages yet.")
	assert.Empty(t, app.Store.ConversationID())
}

func TestCollapse_FoldsReadyBox(t *testing.T) {
	sched := clock.NewManual()
	var out bytes.Buffer
	a := &App{
		Console: NewConsole(&out, false),
		Box:     actionbox.New(actionbox.WithScheduler(sched), actionbox.WithBootDelay(time.Second)),
	}
	a.Box.OnChange(a.boxChanged)

	_, err := a.handleCommand(context.Background(), "/collapse on")
	require.NoError(t, err)

	a.Box.Start("openai/gpt-4o", "GPT-4o", false)
	sched.Advance(time.Second)

	state := a.Box.State()
	assert.Equal(t, actionbox.StageReady, state.Stage)
	assert.True(t, state.Collapsed)
	assert.Contains(t, out.String(), "Starting GPT-4o")
	assert.NotContains(t, out.String(), "is answering")

	_, err = a.handleCommand(context.Background(), "/collapse off")
	require.NoError(t, err)
	assert.False(t, a.Box.State().Collapsed, "unfolds the box that is showing")
	assert.Contains(t, out.String(), "GPT-4o is answering")

	_, err = a.handleCommand(context.Background(), "/collapse maybe")
	assert.ErrorContains(t, err, "usage: /collapse")
}
