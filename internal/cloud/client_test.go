// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scottwelch968/Spork-V2-sub004/internal/auth"
	"github.com/scottwelch968/Spork-V2-sub004/internal/events"
	"github.com/scottwelch968/Spork-V2-sub004/internal/model"
	"github.com/scottwelch968/Spork-V2-sub004/internal/notify"
)

func newTestClient(url string, tokens auth.TokenSource, opts ...Option) (*Client, *events.Bus, *notify.Recorder) {
	bus := events.NewBus(zerolog.Nop())
	rec := &notify.Recorder{}
	opts = append([]Option{WithBus(bus), WithNotifier(rec)}, opts...)
	return NewClient(url, "pk-test", tokens, opts...), bus, rec
}

func recordKinds(bus *events.Bus) *[]events.Kind {
	var kinds []events.Kind
	bus.SubscribeAll(func(e events.Event) { kinds = append(kinds, e.Kind) })
	return &kinds
}

func TestClient_StreamsContentAndMetadata(t *testing.T) {
	var gotBody Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "pk-test", r.Header.Get("apikey"))
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		w.Write([]byte(`data: {"type":"metadata","actualModelUsed":"gpt-x","actualModelName":"GPT X","cosmoSelected":true,"detectedCategory":"coding"}` + "\n\n"))
		flusher.Flush()
		w.Write([]byte(`data: {"choices":[{"delta":{"content":"Hel"}}]}` + "\n\ndata: {\"choi"))
		flusher.Flush()
		w.Write([]byte(`ces":[{"delta":{"content":"lo"}}]}` + "\n\ndata: [DONE]\n\n"))
	}))
	defer server.Close()

	client, bus, rec := newTestClient(server.URL, auth.Static("tok"))
	kinds := recordKinds(bus)

	var updates []string
	var meta Metadata
	result, err := client.Stream(context.Background(), Request{
		Messages:    []model.WireMessage{{Role: "user", Content: "hi"}},
		Model:       model.AutoModel,
		ChatID:      "chat-1",
		PersonaID:   "p1",
		WorkspaceID: "ws-1",
	}, Handlers{
		OnUpdate:   func(full string) { updates = append(updates, full) },
		OnMetadata: func(m Metadata) { meta = m },
	})

	require.NoError(t, err)
	assert.Equal(t, "Hello", result.Content)
	assert.Equal(t, "gpt-x", result.ActualModelUsed)
	assert.Equal(t, "GPT X", result.ActualModelName)
	assert.True(t, result.CosmoSelected)
	assert.Equal(t, "coding", result.DetectedCategory)
	assert.Equal(t, []string{"Hel", "Hello"}, updates)
	assert.Equal(t, "gpt-x", meta.ActualModelUsed)
	assert.Empty(t, rec.Notices())

	assert.Equal(t, "auto", gotBody.Model)
	assert.Equal(t, "chat-1", gotBody.ChatID)
	assert.Equal(t, "ws-1", gotBody.WorkspaceID)

	assert.Equal(t, []events.Kind{
		events.KindStreamStarted,
		events.KindMetadataReceived,
		events.KindStreamChunk,
		events.KindStreamChunk,
		events.KindResponseComplete,
	}, *kinds)
}

func TestClient_MissingTokenDoesNotOpenRequest(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	client, bus, rec := newTestClient(server.URL, auth.Static(""))
	kinds := recordKinds(bus)

	result, err := client.Stream(context.Background(), Request{Model: "m"}, Handlers{})

	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.True(t, IsHandled(err))
	assert.Equal(t, int32(0), hits.Load())
	assert.Equal(t, []notify.Kind{notify.KindSessionExpired}, rec.Kinds())
	assert.Empty(t, *kinds)
}

func TestClient_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client, _, rec := newTestClient(server.URL, auth.Static("tok"))
	result, err := client.Stream(context.Background(), Request{Model: "m"}, Handlers{})

	assert.Nil(t, result)
	assert.True(t, IsHandled(err))
	assert.ErrorIs(t, err, ErrRateLimited)

	var rlErr *RateLimitError
	require.ErrorAs(t, err, &rlErr)
	assert.Equal(t, 30*time.Second, rlErr.RetryAfter)
	assert.Equal(t, []notify.Kind{notify.KindRateLimited}, rec.Kinds())
}

func TestClient_PaymentRequired(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer server.Close()

	client, bus, rec := newTestClient(server.URL, auth.Static("tok"))
	kinds := recordKinds(bus)
	_, err := client.Stream(context.Background(), Request{Model: "m"}, Handlers{})

	assert.ErrorIs(t, err, ErrPaymentRequired)
	assert.True(t, IsHandled(err))
	assert.Equal(t, int32(1), hits.Load(), "handled failures are never retried")
	assert.Equal(t, []notify.Kind{notify.KindPaymentRequired}, rec.Kinds())
	assert.Equal(t, []events.Kind{events.KindStreamStarted}, *kinds)
}

func TestClient_OtherStatusIsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":{"message":"upstream down"}}`))
	}))
	defer server.Close()

	client, bus, rec := newTestClient(server.URL, auth.Static("tok"))
	var errEvents []events.ErrorPayload
	bus.Subscribe(events.KindError, func(e events.Event) {
		errEvents = append(errEvents, e.Payload.(events.ErrorPayload))
	})

	_, err := client.Stream(context.Background(), Request{Model: "m"}, Handlers{})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "upstream down", apiErr.Message)
	assert.False(t, IsHandled(err))
	assert.Empty(t, rec.Notices())

	require.Len(t, errEvents, 1)
	assert.Equal(t, events.PhaseStream, errEvents[0].Phase)
	assert.True(t, errEvents[0].Recoverable)
}

func TestClient_EmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "0")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, _, _ := newTestClient(server.URL, auth.Static("tok"))
	_, err := client.Stream(context.Background(), Request{Model: "m"}, Handlers{})

	assert.ErrorIs(t, err, ErrNoBody)
	assert.False(t, IsHandled(err))
}

func TestClient_IdleTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`data: {"choices":[{"delta":{"content":"par"}}]}` + "\n\n"))
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client, _, _ := newTestClient(server.URL, auth.Static("tok"), WithIdleTimeout(50*time.Millisecond))
	_, err := client.Stream(context.Background(), Request{Model: "m"}, Handlers{})

	assert.ErrorIs(t, err, ErrIdleTimeout)
	var streamErr *StreamError
	require.ErrorAs(t, err, &streamErr)
	assert.Equal(t, "par", streamErr.Partial)
}

func TestClient_TokenSourceError(t *testing.T) {
	client, _, rec := newTestClient("http://127.0.0.1:1", tokenFunc(func() (string, error) {
		return "", errors.New("keychain locked")
	}))

	_, err := client.Stream(context.Background(), Request{Model: "m"}, Handlers{})
	assert.ErrorContains(t, err, "keychain locked")
	assert.False(t, IsHandled(err))
	assert.Empty(t, rec.Notices())
}

type tokenFunc func() (string, error)

func (f tokenFunc) AccessToken(context.Context) (string, error) { return f() }

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, ErrRateLimited, parseRetryAfter(""))
	assert.Equal(t, ErrRateLimited, parseRetryAfter("soon"))

	err := parseRetryAfter(time.Now().Add(time.Minute).UTC().Format(http.TimeFormat))
	var rlErr *RateLimitError
	require.ErrorAs(t, err, &rlErr)
	assert.Greater(t, rlErr.RetryAfter, 30*time.Second)
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "flat", errorMessage([]byte(`{"error":"flat"}`)))
	assert.Equal(t, "msg", errorMessage([]byte(`{"message":"msg"}`)))
	assert.Equal(t, "nested", errorMessage([]byte(`{"error":{"message":"nested"}}`)))
	assert.Equal(t, "plain text", errorMessage([]byte(" plain text \n")))
}
