// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/scottwelch968/Spork-V2-sub004/internal/actionbox"
	"github.com/scottwelch968/Spork-V2-sub004/internal/notify"
)

func init() {
	lipgloss.SetColorProfile(GetColorProfile())
}

// =============================================================================
// SHARED STYLES
// =============================================================================

var (
	// TitleStyle is used for the banner and section titles
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")) // Cyan

	// LabelStyle is used for field labels in /status
	LabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(16)

	// ValueStyle is used for regular values
	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	// ErrorStyle is used for error notices
	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	// WarningStyle is used for handled failures and unsaved writes
	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	// InfoStyle is used for informational notices
	InfoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("75"))

	// DimStyle is used for the action box line and hints
	DimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242"))

	// UserStyle prefixes user turns in /history
	UserStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("82")).
			Bold(true)

	// SeparatorStyle is used for visual separators
	SeparatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

// =============================================================================
// RENDER HELPERS
// =============================================================================

// RenderSeparator renders a horizontal rule of width w.
func RenderSeparator(w int) string {
	if w <= 0 {
		w = 70
	}
	return SeparatorStyle.Render(strings.Repeat("─", w))
}

// RenderLabel renders "label  value" for status listings.
func RenderLabel(label, value string) string {
	return LabelStyle.Render(label) + ValueStyle.Render(value)
}

// RenderNotice renders a notice as a single styled line.
func RenderNotice(n notify.Notice) string {
	style := InfoStyle
	switch n.Kind {
	case notify.KindError:
		style = ErrorStyle
	case notify.KindSessionExpired, notify.KindRateLimited, notify.KindPaymentRequired:
		style = WarningStyle
	}
	if n.Message == "" {
		return style.Render(n.Title)
	}
	return style.Render(n.Title+":") + " " + n.Message
}

// RenderActionBox renders the action box as a one-line status, or "" when
// there is nothing to show.
func RenderActionBox(s actionbox.State) string {
	name := s.Model.ModelName
	if name == "" {
		name = s.Model.ModelID
	}
	var line string
	switch s.Stage {
	case actionbox.StageAnalyzing:
		line = "◇ Cosmo is choosing a model…"
	case actionbox.StageBooting:
		if s.Model.IsAuto && s.Model.Category != "" {
			line = fmt.Sprintf("◇ Starting %s for %s…", name, s.Model.Category)
		} else {
			line = fmt.Sprintf("◇ Starting %s…", name)
		}
	case actionbox.StageReady:
		if s.Collapsed {
			return ""
		}
		line = fmt.Sprintf("◆ %s is answering", name)
	default:
		return ""
	}
	return DimStyle.Render(line)
}
