// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/scottwelch968/Spork-V2-sub004/internal/util"
)

// TokenSource returns the current access token, or "" without a session.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Static is a fixed token.
type Static string

// AccessToken returns the token.
func (s Static) AccessToken(context.Context) (string, error) {
	return string(s), nil
}

// =============================================================================
// SESSION FILE
// =============================================================================

// Session is the persisted sign-in state.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	UserID       string    `json:"user_id,omitempty"`
}

// Expired reports whether the session is no longer usable at now.
// A zero ExpiresAt never expires.
func (s Session) Expired(now time.Time) bool {
	if s.AccessToken == "" {
		return true
	}
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// FileSource reads the token from a session file. The file is re-read when
// its modification time changes.
type FileSource struct {
	path string
	now  func() time.Time

	mu      sync.Mutex
	modTime time.Time
	session Session
}

// NewFileSource creates a source backed by path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path, now: time.Now}
}

// AccessToken returns the session token, or "" when the file is missing or
// the session has expired.
func (f *FileSource) AccessToken(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	info, err := os.Stat(f.path)
	if errors.Is(err, os.ErrNotExist) {
		f.session = Session{}
		f.modTime = time.Time{}
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to stat session file: %w", err)
	}

	if !info.ModTime().Equal(f.modTime) {
		s, err := LoadSession(f.path)
		if err != nil {
			return "", err
		}
		f.session = s
		f.modTime = info.ModTime()
	}

	if f.session.Expired(f.now()) {
		return "", nil
	}
	return f.session.AccessToken, nil
}

// LoadSession reads a session file.
func LoadSession(path string) (Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Session{}, fmt.Errorf("failed to read session file: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, fmt.Errorf("failed to parse session file: %w", err)
	}
	return s, nil
}

// SaveSession writes a session file readable only by the owner.
func SaveSession(path string, s Session) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	return util.AtomicWriteFile(path, data, 0600)
}

// =============================================================================
// CHAIN
// =============================================================================

// First returns the first non-empty token from a list of sources.
type First []TokenSource

// AccessToken tries each source in order. An error from one source is
// returned only if no later source yields a token.
func (f First) AccessToken(ctx context.Context) (string, error) {
	var firstErr error
	for _, src := range f {
		if src == nil {
			continue
		}
		tok, err := src.AccessToken(ctx)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if tok != "" {
			return tok, nil
		}
	}
	return "", firstErr
}
