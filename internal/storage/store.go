// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/scottwelch968/Spork-V2-sub004/internal/backend"
	"github.com/scottwelch968/Spork-V2-sub004/internal/metrics"
	"github.com/scottwelch968/Spork-V2-sub004/internal/model"
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var (
	// ErrUnknownTable is returned for writes outside the table whitelist.
	ErrUnknownTable = errors.New("unknown table")

	// ErrInvalidRow is returned when a row is missing required fields.
	ErrInvalidRow = errors.New("invalid row")

	// ErrChatNotFound is returned when a message references a missing chat.
	ErrChatNotFound = errors.New("chat not found")
)

// Store is the persistence surface the multiplexer needs.
type Store interface {
	CreateChat(ctx context.Context, chat backend.Chat) (*backend.Chat, error)
	CreateSpaceChat(ctx context.Context, chat backend.Chat) (*backend.Chat, error)

	// InsertRows writes each row independently. The results are aligned by
	// index with rows; one bad row never fails the others. The error is
	// non-nil only when the whole call could not run.
	InsertRows(ctx context.Context, table string, rows []map[string]any) ([]backend.Result, error)

	// ListMessages returns a chat's messages oldest first.
	ListMessages(ctx context.Context, chatID string, spaceChat bool) ([]backend.MessageRow, error)

	AddMessage(ctx context.Context, table string, data map[string]any) (string, error)

	Ping(ctx context.Context) error
	Close() error
}

// Open returns the store for driver. For sqlite, url is a file path.
func Open(ctx context.Context, driver, url string) (Store, error) {
	switch strings.ToLower(driver) {
	case DriverSQLite, "":
		return NewSQLiteStore(ctx, url)
	case DriverPostgres, "postgresql":
		return NewPostgresStore(ctx, url)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// =============================================================================
// TABLE WHITELIST
// =============================================================================

// tableKind tells chat tables from message tables.
type tableKind int

const (
	kindChat tableKind = iota
	kindMessage
)

var tables = map[string]tableKind{
	backend.TableChats:             kindChat,
	backend.TableSpaceChats:        kindChat,
	backend.TableMessages:          kindMessage,
	backend.TableSpaceChatMessages: kindMessage,
}

func lookupTable(table string) (tableKind, error) {
	kind, ok := tables[table]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	return kind, nil
}

// parentTable is the chat table a message table references.
func parentTable(messageTable string) string {
	if messageTable == backend.TableSpaceChatMessages {
		return backend.TableSpaceChats
	}
	return backend.TableChats
}

// =============================================================================
// ROW DECODING
// =============================================================================

func newChatID() string    { return uuid.NewString() }
func newMessageID() string { return ulid.Make().String() }

// chatFromData decodes and validates a chat row.
func chatFromData(table string, data map[string]any) (backend.Chat, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return backend.Chat{}, err
	}
	var chat backend.Chat
	if err := json.Unmarshal(raw, &chat); err != nil {
		return backend.Chat{}, fmt.Errorf("%w: %v", ErrInvalidRow, err)
	}
	return normalizeChat(table, chat)
}

func normalizeChat(table string, chat backend.Chat) (backend.Chat, error) {
	chat.Title = strings.TrimSpace(chat.Title)
	if chat.Title == "" {
		chat.Title = "New Chat"
	}
	if table == backend.TableSpaceChats && chat.SpaceID == "" {
		return chat, fmt.Errorf("%w: space_id is required", ErrInvalidRow)
	}
	if chat.ID == "" {
		chat.ID = newChatID()
	}
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = time.Now().UTC()
	}
	return chat, nil
}

// messageFromData decodes and validates a message row.
func messageFromData(data map[string]any) (backend.MessageRow, error) {
	row, err := backend.RowFromData(data)
	if err != nil {
		return row, fmt.Errorf("%w: %v", ErrInvalidRow, err)
	}
	if row.ChatID == "" {
		return row, fmt.Errorf("%w: chat_id is required", ErrInvalidRow)
	}
	switch model.Role(row.Role) {
	case model.RoleUser, model.RoleAssistant:
	default:
		return row, fmt.Errorf("%w: role %q", ErrInvalidRow, row.Role)
	}
	if row.Type == "" {
		row.Type = string(model.TypeText)
	}
	if row.ID == "" {
		row.ID = newMessageID()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	return row, nil
}

// failed builds a per-row failure result.
func failed(err error) backend.Result {
	return backend.Result{Success: false, Error: err.Error()}
}

// observe records the latency of one store call.
func observe(driver, op string, start time.Time) {
	metrics.StoreLatency.WithLabelValues(driver, op).Observe(time.Since(start).Seconds())
}
