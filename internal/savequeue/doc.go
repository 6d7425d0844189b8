// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package savequeue persists chat rows in the background.
//
// Callers Enqueue {table, data} operations and return immediately. A single
// worker drains the queue in FIFO batches through one batch_save call per
// batch. Failed operations come back after 2^retries seconds and are dropped,
// with an unrecoverable error event, once they have failed MaxRetries+1
// times. Without a session the batch is parked, unchanged, until the next
// Enqueue.
//
// # Usage
//
//	q := savequeue.New(backendClient, tokens, savequeue.WithBus(bus))
//	go q.Run(ctx)
//	defer q.Close(shutdownCtx)
//
//	q.Enqueue(backend.TableMessages, backend.RowData(chatID, msg),
//	    savequeue.OnSaved(func(id string) { store.BackfillMessageID(msg.LocalID, id) }))
package savequeue
