// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scottwelch968/Spork-V2-sub004/internal/backend"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL store with a connection pool and
// applies the schema.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	s := &PostgresStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS chats (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		persona_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS space_chats (
		id TEXT PRIMARY KEY,
		space_id TEXT NOT NULL,
		title TEXT NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL DEFAULT 'text',
		image_url TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		cosmo_selected BOOLEAN NOT NULL DEFAULT false,
		detected_category TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS space_chat_messages (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL REFERENCES space_chats(id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL DEFAULT 'text',
		image_url TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		cosmo_selected BOOLEAN NOT NULL DEFAULT false,
		detected_category TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_space_chat_messages_chat ON space_chat_messages(chat_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_space_chats_space ON space_chats(space_id);
	`)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateChat inserts a personal chat.
func (s *PostgresStore) CreateChat(ctx context.Context, chat backend.Chat) (*backend.Chat, error) {
	defer observe(DriverPostgres, "create_chat", time.Now())
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
func (s *PostgresStore) CreateSpaceChat(ctx context.Context, chat backend.Chat) (*backend.Chat, error) {
	defer observe(DriverPostgres, "create_space_chat", time.Now())
	chat, err := normalizeChat(backend.TableSpaceChats, chat)
	if err != nil {
		return nil, err
	}
	if err := s.insertChat(ctx, backend.TableSpaceChats, chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

func (s *PostgresStore) insertChat(ctx context.Context, table string, chat backend.Chat) error {
	var err error
	if table == backend.TableSpaceChats {
		_, err = s.pool.Exec(ctx, `
			INSERT INTO space_chats (id, space_id, title, model, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, chat.ID, chat.SpaceID, chat.Title, chat.Model, chat.CreatedAt)
	} else {
		_, err = s.pool.Exec(ctx, `
			INSERT INTO chats (id, title, model, persona_id, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, chat.ID, chat.Title, chat.Model, chat.PersonaID, chat.CreatedAt)
	}
	return err
}

// InsertRows writes rows into table one at a time.
func (s *PostgresStore) InsertRows(ctx context.Context, table string, rows []map[string]any) ([]backend.Result, error) {
	defer observe(DriverPostgres, "insert_rows", time.Now())
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
func (s *PostgresStore) AddMessage(ctx context.Context, table string, data map[string]any) (string, error) {
	defer observe(DriverPostgres, "add_message", time.Now())
	kind, err := lookupTable(table)
	if err != nil {
		return "", err
	}
	if kind != kindMessage {
		return "", fmt.Errorf("%w: %q is not a message table", ErrUnknownTable, table)
	}
	return s.insertMessage(ctx, table, data)
}

func (s *PostgresStore) insertMessage(ctx context.Context, table string, data map[string]any) (string, error) {
	row, err := messageFromData(data)
	if err != nil {
		return "", err
	}

	var one int
	err = s.pool.QueryRow(ctx, `SELECT 1 FROM `+parentTable(table)+` WHERE id = $1`, row.ChatID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrChatNotFound, row.ChatID)
	}
	if err != nil {
		return "", err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO `+table+` (id, chat_id, role, content, type, image_url, model,
			cosmo_selected, detected_category, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, row.ID, row.ChatID, row.Role, row.Content, row.Type, row.ImageURL, row.Model,
		row.CosmoSelected, row.DetectedCategory, row.CreatedAt)
	if err != nil {
		return "", err
	}
	return row.ID, nil
}

// ListMessages returns a chat's messages oldest first.
func (s *PostgresStore) ListMessages(ctx context.Context, chatID string, spaceChat bool) ([]backend.MessageRow, error) {
	defer observe(DriverPostgres, "list_messages", time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT id, chat_id, role, content, type, image_url, model,
			cosmo_selected, detected_category, created_at
		FROM `+backend.MessageTable(spaceChat)+`
		WHERE chat_id = $1
		ORDER BY created_at, id
	`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []backend.MessageRow
	for rows.Next() {
		var row backend.MessageRow
		if err := rows.Scan(&row.ID, &row.ChatID, &row.Role, &row.Content, &row.Type,
			&row.ImageURL, &row.Model, &row.CosmoSelected, &row.DetectedCategory, &row.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
