// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/scottwelch968/Spork-V2-sub004/internal/backend"
)

// DefaultSQLitePath is used when no path is configured.
const DefaultSQLitePath = "spork.db"

// sqliteTime keeps a fixed width so text ordering matches time ordering.
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

// =============================================================================
// SQLITE STORE
// =============================================================================

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path. The special path
// ":memory:" gives a private in-memory database.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		path = DefaultSQLitePath
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS chats (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		persona_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS space_chats (
		id TEXT PRIMARY KEY,
		space_id TEXT NOT NULL,
		title TEXT NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL DEFAULT 'text',
		image_url TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		cosmo_selected INTEGER NOT NULL DEFAULT 0,
		detected_category TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS space_chat_messages (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL REFERENCES space_chats(id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL DEFAULT 'text',
		image_url TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		cosmo_selected INTEGER NOT NULL DEFAULT 0,
		detected_category TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_space_chat_messages_chat ON space_chat_messages(chat_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_space_chats_space ON space_chats(space_id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// =============================================================================
// CHATS
// =============================================================================

// CreateChat inserts a personal chat.
func (s *SQLiteStore) CreateChat(ctx context.Context, chat backend.Chat) (*backend.Chat, error) {
	defer observe(DriverSQLite, "create_chat", time.Now())
	chat, err := normalizeChat(backend.TableChats, chat)
	if err != nil {
		return nil, err
	}
	if err := s.insertChat(ctx, backend.TableChats, chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

// CreateSpaceChat inserts a workspace chat.
func (s *SQLiteStore) CreateSpaceChat(ctx context.Context, chat backend.Chat) (*backend.Chat, error) {
	defer observe(DriverSQLite, "create_space_chat", time.Now())
	chat, err := normalizeChat(backend.TableSpaceChats, chat)
	if err != nil {
		return nil, err
	}
	if err := s.insertChat(ctx, backend.TableSpaceChats, chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

func (s *SQLiteStore) insertChat(ctx context.Context, table string, chat backend.Chat) error {
	created := chat.CreatedAt.UTC().Format(sqliteTime)
	var err error
	if table == backend.TableSpaceChats {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO space_chats (id, space_id, title, model, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, chat.ID, chat.SpaceID, chat.Title, chat.Model, created)
	} else {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO chats (id, title, model, persona_id, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, chat.ID, chat.Title, chat.Model, chat.PersonaID, created)
	}
	return err
}

// =============================================================================
// MESSAGES
// =============================================================================

// InsertRows writes rows into table one at a time.
func (s *SQLiteStore) InsertRows(ctx context.Context, table string, rows []map[string]any) ([]backend.Result, error) {
	defer observe(DriverSQLite, "insert_rows", time.Now())
	kind, err := lookupTable(table)
	if err != nil {
		return nil, err
	}

	results := make([]backend.Result, len(rows))
	for i, data := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var id string
		if kind == kindChat {
			var chat backend.Chat
			chat, err = chatFromData(table, data)
			if err == nil {
				err = s.insertChat(ctx, table, chat)
				id = chat.ID
			}
		} else {
			id, err = s.insertMessage(ctx, table, data)
		}
		if err != nil {
			results[i] = failed(err)
			continue
		}
		results[i] = backend.Result{Success: true, ID: id}
	}
	return results, nil
}

// AddMessage writes a single message row and returns its id.
func (s *SQLiteStore) AddMessage(ctx context.Context, table string, data map[string]any) (string, error) {
	defer observe(DriverSQLite, "add_message", time.Now())
	kind, err := lookupTable(table)
	if err != nil {
		return "", err
	}
	if kind != kindMessage {
		return "", fmt.Errorf("%w: %q is not a message table", ErrUnknownTable, table)
	}
	return s.insertMessage(ctx, table, data)
}

func (s *SQLiteStore) insertMessage(ctx context.Context, table string, data map[string]any) (string, error) {
	row, err := messageFromData(data)
	if err != nil {
		return "", err
	}

	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM `+parentTable(table)+` WHERE id = ?`, row.ChatID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrChatNotFound, row.ChatID)
	}
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO `+table+` (id, chat_id, role, content, type, image_url, model,
			cosmo_selected, detected_category, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, row.ID, row.ChatID, row.Role, row.Content, row.Type, row.ImageURL, row.Model,
		row.CosmoSelected, row.DetectedCategory, row.CreatedAt.UTC().Format(sqliteTime))
	if err != nil {
		return "", err
	}
	return row.ID, nil
}

// ListMessages returns a chat's messages oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, chatID string, spaceChat bool) ([]backend.MessageRow, error) {
	defer observe(DriverSQLite, "list_messages", time.Now())
	table := backend.MessageTable(spaceChat)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, role, content, type, image_url, model,
			cosmo_selected, detected_category, created_at
		FROM `+table+`
		WHERE chat_id = ?
		ORDER BY created_at, id
	`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []backend.MessageRow
	for rows.Next() {
		var (
			row     backend.MessageRow
			created string
		)
		if err := rows.Scan(&row.ID, &row.ChatID, &row.Role, &row.Content, &row.Type,
			&row.ImageURL, &row.Model, &row.CosmoSelected, &row.DetectedCategory, &created); err != nil {
			return nil, err
		}
		row.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("bad created_at on message %s: %w", row.ID, err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
