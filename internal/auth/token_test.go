// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic(t *testing.T) {
	tok, err := Static("abc").AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)
}

func TestFileSource_MissingFileMeansNoSession(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "session.json"))

	tok, err := src.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tok)
}

func TestFileSource_ReadsAndExpires(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, SaveSession(path, Session{
		AccessToken: "tok-1",
		ExpiresAt:   now.Add(time.Hour),
	}))

	src := NewFileSource(path)
	src.now = func() time.Time { return now }

	tok, err := src.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	src.now = func() time.Time { return now.Add(2 * time.Hour) }
	tok, err = src.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tok, "expired session yields no token")
}

func TestFileSource_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, SaveSession(path, Session{AccessToken: "old"}))

	src := NewFileSource(path)
	tok, _ := src.AccessToken(context.Background())
	require.Equal(t, "old", tok)

	require.NoError(t, SaveSession(path, Session{AccessToken: "new"}))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))

	tok, err := src.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new", tok)
}

func TestFileSource_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := NewFileSource(path).AccessToken(context.Background())
	assert.Error(t, err)
}

type failingSource struct{}

func (failingSource) AccessToken(context.Context) (string, error) {
	return "", errors.New("keychain locked")
}

func TestFirst(t *testing.T) {
	tok, err := First{failingSource{}, Static(""), Static("b")}.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b", tok)

	_, err = First{failingSource{}, Static("")}.AccessToken(context.Background())
	assert.EqualError(t, err, "keychain locked")
}

func TestSession_Expired(t *testing.T) {
	now := time.Now()
	assert.True(t, Session{}.Expired(now))
	assert.False(t, Session{AccessToken: "x"}.Expired(now))
	assert.True(t, Session{AccessToken: "x", ExpiresAt: now}.Expired(now))
}
