// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scottwelch968/Spork-V2-sub004/internal/auth"
	"github.com/scottwelch968/Spork-V2-sub004/internal/backend"
	"github.com/scottwelch968/Spork-V2-sub004/internal/cloud"
	"github.com/scottwelch968/Spork-V2-sub004/internal/config"
	"github.com/scottwelch968/Spork-V2-sub004/internal/model"
	"github.com/scottwelch968/Spork-V2-sub004/internal/storage"
)

const (
	testToken = "tok-1"
	testKey   = "pk-test"
)

// =============================================================================
// HELPERS
// =============================================================================

func testServerConfig() config.ServerConfig {
	cfg := config.Default().Server
	cfg.BearerTokens = []string{testToken}
	cfg.RateLimitRPS = 100
	cfg.RateLimitBurst = 100
	cfg.Credits = 0
	return cfg
}

func startServer(t *testing.T, cfg config.ServerConfig, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()
	st, err := storage.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "spork.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	srv := New(cfg, testKey, st, opts...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func chatClient(ts *httptest.Server, token string) *cloud.Client {
	return cloud.NewClient(ts.URL+"/functions/v1/chat", testKey, auth.Static(token))
}

func dataClient(ts *httptest.Server) *backend.Client {
	return backend.NewClient(ts.URL+"/functions/v1/spork-data", testKey, zerolog.Nop())
}

func userTurn(modelID, text string) cloud.Request {
	return cloud.Request{
		Model:    modelID,
		Messages: []model.WireMessage{{Role: "user", Content: text}},
	}
}

func postJSON(t *testing.T, url, token string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", testKey)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// =============================================================================
// HEALTH AND METRICS
// =============================================================================

func TestHealth(t *testing.T) {
	_, ts := startServer(t, testServerConfig())

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	var body HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, Version, body.Version)
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := startServer(t, testServerConfig())

	_, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(raw), "spork_http_requests_total")
}

// =============================================================================
// CHAT STREAMING
// =============================================================================

func TestChat_AutoModelSendsMetadataFirst(t *testing.T) {
	_, ts := startServer(t, testServerConfig())

	var meta []cloud.Metadata
	var updates int
	res, err := chatClient(ts, testToken).Stream(context.Background(),
		userTurn(model.AutoModel, "refactor this function"),
		cloud.Handlers{
			OnMetadata: func(m cloud.Metadata) { meta = append(meta, m) },
			OnUpdate: func(string) {
				updates++
				assert.Len(t, meta, 1, "metadata arrives before content")
			},
		})
	require.NoError(t, err)

	require.Len(t, meta, 1)
	assert.True(t, res.CosmoSelected)
	assert.Equal(t, "anthropic/claude-sonnet-4", res.ActualModelUsed)
	assert.Equal(t, "coding", res.DetectedCategory)
	assert.Equal(t, "Claude Sonnet 4 heard: refactor this function", res.Content)
	assert.Greater(t, updates, 1, "reply arrives in several deltas")
}

func TestChat_ConcreteModelHasNoMetadata(t *testing.T) {
	_, ts := startServer(t, testServerConfig())

	metaSeen := false
	res, err := chatClient(ts, testToken).Stream(context.Background(),
		userTurn("openai/gpt-4o", "hi"),
		cloud.Handlers{OnMetadata: func(cloud.Metadata) { metaSeen = true }})
	require.NoError(t, err)

	assert.False(t, metaSeen)
	assert.False(t, res.CosmoSelected)
	assert.Equal(t, "GPT-4o heard: hi", res.Content)
}

func TestChat_RejectsBadRequests(t *testing.T) {
	_, ts := startServer(t, testServerConfig())
	url := ts.URL + "/functions/v1/chat"

	resp := postJSON(t, url, testToken, cloud.Request{Model: "auto"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, url, testToken, cloud.Request{
		Model:    "auto",
		Messages: []model.WireMessage{{Role: "tool", Content: "x"}},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChat_Unauthorized(t *testing.T) {
	_, ts := startServer(t, testServerConfig())
	url := ts.URL + "/functions/v1/chat"

	resp := postJSON(t, url, "", userTurn("auto", "hi"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = postJSON(t, url, "wrong", userTurn("auto", "hi"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodPost, url, strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("apikey", "not-the-key")
	bad, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	bad.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, bad.StatusCode)
}

func TestChat_RateLimited(t *testing.T) {
	cfg := testServerConfig()
	cfg.RateLimitRPS = 0.01
	cfg.RateLimitBurst = 1
	_, ts := startServer(t, cfg)
	client := chatClient(ts, testToken)

	_, err := client.Stream(context.Background(), userTurn("auto", "one"), cloud.Handlers{})
	require.NoError(t, err)

	_, err = client.Stream(context.Background(), userTurn("auto", "two"), cloud.Handlers{})
	require.ErrorIs(t, err, cloud.ErrRateLimited)

	var rl *cloud.RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Greater(t, rl.RetryAfter, time.Duration(0))
}

func TestChat_CreditsExhausted(t *testing.T) {
	cfg := testServerConfig()
	cfg.Credits = 1
	srv, ts := startServer(t, cfg)
	client := chatClient(ts, testToken)

	_, err := client.Stream(context.Background(), userTurn("auto", "one"), cloud.Handlers{})
	require.NoError(t, err)

	_, err = client.Stream(context.Background(), userTurn("auto", "two"), cloud.Handlers{})
	assert.ErrorIs(t, err, cloud.ErrPaymentRequired)

	srv.ApplyConfig(config.ServerConfig{RateLimitRPS: 100, RateLimitBurst: 100, Credits: 5})
	_, err = client.Stream(context.Background(), userTurn("auto", "three"), cloud.Handlers{})
	assert.NoError(t, err, "raising the allowance takes effect without a restart")
}

// =============================================================================
// RESPONDERS
// =============================================================================

func TestChat_UpstreamResponder(t *testing.T) {
	var gotModel string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req upstreamRequest
		json.NewDecoder(r.Body).Decode(&req)
		gotModel = req.Model
		assert.True(t, req.Stream)
		assert.Equal(t, "Bearer up-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Hello", ", ", "world"} {
			frame, _ := cloud.EncodeDelta("up-1", req.Model, part)
			w.Write(frame)
		}
		w.Write(cloud.EncodeDone())
	}))
	defer upstream.Close()

	_, ts := startServer(t, testServerConfig(),
		WithResponder(UpstreamResponder{URL: upstream.URL, APIKey: "up-key"}))

	res, err := chatClient(ts, testToken).Stream(context.Background(),
		userTurn(model.AutoModel, "write a poem"), cloud.Handlers{})
	require.NoError(t, err)

	assert.Equal(t, "openai/gpt-4o", gotModel)
	assert.Equal(t, "Hello, world", res.Content)
	assert.Equal(t, "creative", res.DetectedCategory)
}

func TestChat_UpstreamFailureBeforeContent(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer upstream.Close()

	_, ts := startServer(t, testServerConfig(),
		WithResponder(UpstreamResponder{URL: upstream.URL}))

	resp := postJSON(t, ts.URL+"/functions/v1/chat", testToken, userTurn("openai/gpt-4o", "hi"))
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestEchoResponder_StopsOnEmitError(t *testing.T) {
	calls := 0
	err := EchoResponder{}.Respond(context.Background(),
		Completion{ModelName: "M", Messages: []model.WireMessage{{Role: "user", Content: "a b c"}}},
		func(string) error {
			calls++
			return fmt.Errorf("gone")
		})
	assert.EqualError(t, err, "gone")
	assert.Equal(t, 1, calls)
}

// =============================================================================
// MULTIPLEXER
// =============================================================================

func TestData_ChatLifecycle(t *testing.T) {
	_, ts := startServer(t, testServerConfig())
	client := dataClient(ts)
	ctx := context.Background()

	chat, err := client.CreateChat(ctx, testToken, "Hello", "auto", "p-1")
	require.NoError(t, err)
	assert.NotEmpty(t, chat.ID)
	assert.Equal(t, "p-1", chat.PersonaID)

	user := model.Message{Role: model.RoleUser, Content: "question", CreatedAt: time.Now().Add(-time.Second)}
	reply := model.Message{Role: model.RoleAssistant, Content: "answer", CreatedAt: time.Now()}

	results, err := client.BatchSave(ctx, testToken, []backend.Operation{
		{Table: backend.TableMessages, Data: backend.RowData(chat.ID, user)},
		{Table: "secrets", Data: map[string]any{"x": 1}},
		{Table: backend.TableMessages, Data: backend.RowData(chat.ID, reply)},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Contains(t, results[1].Error, "unknown table")
	assert.True(t, results[2].Success)

	msgs, err := client.GetMessages(ctx, testToken, chat.ID, false)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "question", msgs[0].Content)
	assert.Equal(t, results[0].ID, msgs[0].MessageID)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
}

func TestData_SpaceChat(t *testing.T) {
	_, ts := startServer(t, testServerConfig())
	client := dataClient(ts)
	ctx := context.Background()

	chat, err := client.CreateSpaceChat(ctx, testToken, "ws-1", "Plan", "auto")
	require.NoError(t, err)
	assert.Equal(t, "ws-1", chat.SpaceID)

	id, err := client.AddMessage(ctx, testToken, backend.TableSpaceChatMessages, chat.ID,
		model.Message{Role: model.RoleUser, Content: "in the space"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs, err := client.GetMessages(ctx, testToken, chat.ID, true)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, id, msgs[0].MessageID)

	_, err = client.AddMessage(ctx, testToken, backend.TableMessages, "no-such-chat",
		model.Message{Role: model.RoleUser, Content: "orphan"})
	assert.ErrorContains(t, err, "chat not found")
}

func TestData_EmptyHistoryIsEmptyList(t *testing.T) {
	_, ts := startServer(t, testServerConfig())

	msgs, err := dataClient(ts).GetMessages(context.Background(), testToken, "unknown", false)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestData_UnknownAction(t *testing.T) {
	_, ts := startServer(t, testServerConfig())

	resp := postJSON(t, ts.URL+"/functions/v1/spork-data", testToken, map[string]string{"action": "drop_tables"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var env backend.Envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	assert.Contains(t, env.Error, "unknown action")
}

func TestData_Unauthorized(t *testing.T) {
	_, ts := startServer(t, testServerConfig())

	_, err := dataClient(ts).CreateChat(context.Background(), "intruder", "x", "auto", "")
	assert.ErrorIs(t, err, backend.ErrUnauthorized)
}
