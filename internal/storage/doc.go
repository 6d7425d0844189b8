// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists chats and messages for the sporkd emulator.
//
// Two drivers implement Store: SQLiteStore (modernc.org/sqlite, pure Go,
// WAL journal, one writer) and PostgresStore (pgx connection pool). Both
// accept writes only for the four multiplexer tables.
//
// # Key Types
//
//   - Store: Driver-independent persistence interface
//   - SQLiteStore: Embedded single-file store
//   - PostgresStore: Shared store for multi-process deployments
//
// # Usage
//
//	st, err := storage.Open(ctx, cfg.Server.DatabaseDriver, cfg.Server.DatabaseURL)
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
//
//	results, err := st.InsertRows(ctx, backend.TableMessages, rows)
//
// # Identifiers
//
// Chats get UUIDs. Messages get ULIDs so ids sort in creation order.
package storage
