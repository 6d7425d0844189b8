// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes the open conversation to a file.
//
// # Supported Formats
//
//   - Markdown: Human-readable, with a YAML front matter header
//   - JSON: The full message list, including routing metadata
//
// # Usage
//
//	conv := export.FromMessages(chatID, workspaceID, store.Messages())
//	path, err := export.ExportToFile(conv, export.NewMarkdownExporter(nil), nil)
package export
