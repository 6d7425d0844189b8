// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name string
		raw  []string
		want Args
	}{
		{"empty", nil, Args{}},
		{"short flags", []string{"-m", "gpt-4o", "-w", "ws-1"}, Args{Model: "gpt-4o", WorkspaceID: "ws-1"}},
		{"equals form", []string{"--model=auto", "--load=chat-9"}, Args{Model: "auto", LoadChatID: "chat-9"}},
		{"prompt words", []string{"--persona", "p1", "hello", "there"}, Args{PersonaID: "p1", Prompt: "hello there"}},
		{"bool does not eat prompt", []string{"-h", "hello"}, Args{Help: true, Prompt: "hello"}},
		{"double dash", []string{"--", "--model", "x"}, Args{Prompt: "--model x"}},
		{"metrics", []string{"--metrics-addr", ":9100", "--log-level", "debug"}, Args{MetricsAddr: ":9100", LogLevel: "debug"}},
		{"version", []string{"--version"}, Args{Version: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseArgs(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseArgs_UnknownFlag(t *testing.T) {
	_, err := ParseArgs([]string{"--paranoid", "--model", "auto"})
	assert.EqualError(t, err, "unknown flag: --paranoid")
}

func TestArgParser_Unknown_Sorted(t *testing.T) {
	p := NewArgParser([]string{"--zeta", "1", "--alpha", "2", "--ok", "3"})
	assert.Equal(t, []string{"alpha", "zeta"}, p.Unknown("ok"))
}
