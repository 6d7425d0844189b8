// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/scottwelch968/Spork-V2-sub004/internal/model"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports conversations to Markdown format.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// Export converts a conversation to Markdown format.
func (e *MarkdownExporter) Export(conv *Conversation) ([]byte, error) {
	if conv == nil || len(conv.Messages) == 0 {
		return nil, ErrEmpty
	}

	var sb strings.Builder

	if e.options.IncludeMetadata {
		sb.WriteString("---\n")
		fmt.Fprintf(&sb, "title: %s\n", escapeYAML(conv.Title))
		if conv.ID != "" {
			fmt.Fprintf(&sb, "chat_id: %s\n", conv.ID)
		}
		if conv.WorkspaceID != "" {
			fmt.Fprintf(&sb, "workspace_id: %s\n", conv.WorkspaceID)
		}
		if models := conv.Models(); len(models) > 0 {
			fmt.Fprintf(&sb, "models: [%s]\n", strings.Join(models, ", "))
		}
		fmt.Fprintf(&sb, "messages: %d\n", len(conv.Messages))
		fmt.Fprintf(&sb, "exported: %s\n", conv.ExportedAt.Format(time.RFC3339))
		sb.WriteString("generator: spork\n")
		sb.WriteString("---\n\n")
	}

	fmt.Fprintf(&sb, "# %s\n\n", escapeMarkdown(conv.Title))

	for i, msg := range conv.Messages {
		fmt.Fprintf(&sb, "### %s\n\n", roleLabel(msg))
		if msg.IsImage() && msg.ImageURL != "" {
			fmt.Fprintf(&sb, "![image](%s)\n\n", msg.ImageURL)
		}
		sb.WriteString(strings.TrimSpace(msg.Content))
		sb.WriteString("\n\n")

		if e.options.IncludeMetadata && msg.Role == model.RoleAssistant {
			if note := routingNote(msg); note != "" {
				sb.WriteString(note)
				sb.WriteString("\n\n")
			}
		}

		if i < len(conv.Messages)-1 {
			sb.WriteString("---\n\n")
		}
	}

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// =============================================================================
// FORMATTING HELPERS
// =============================================================================

func roleLabel(msg model.Message) string {
	switch msg.Role {
	case model.RoleUser:
		return "You"
	case model.RoleAssistant:
		if msg.Model != "" {
			return model.DisplayName(msg.Model)
		}
		return "Assistant"
	default:
		return "Unknown"
	}
}

func routingNote(msg model.Message) string {
	if !msg.CosmoSelected {
		return ""
	}
	if msg.DetectedCategory == "" {
		return "<sub>Picked by Cosmo</sub>"
	}
	return fmt.Sprintf("<sub>Picked by Cosmo for %s</sub>", msg.DetectedCategory)
}

// escapeMarkdown escapes special Markdown characters in plain text.
func escapeMarkdown(s string) string {
	s = strings.ReplaceAll(s, "#", "\\#")
	s = strings.ReplaceAll(s, "*", "\\*")
	s = strings.ReplaceAll(s, "_", "\\_")
	s = strings.ReplaceAll(s, "[", "\\[")
	s = strings.ReplaceAll(s, "]", "\\]")
	return s
}

// escapeYAML quotes values that YAML would otherwise misread.
func escapeYAML(s string) string {
	if strings.ContainsAny(s, ":#|>@`\"'[]{}!%&*\n\r\\") || strings.HasPrefix(s, " ") || strings.HasSuffix(s, " ") {
		s = strings.ReplaceAll(s, "\\", "\\\\")
		s = strings.ReplaceAll(s, "\"", "\\\"")
		s = strings.ReplaceAll(s, "\n", "\\n")
		s = strings.ReplaceAll(s, "\r", "\\r")
		return fmt.Sprintf("\"%s\"", s)
	}
	return s
}
