// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/scottwelch968/Spork-V2-sub004/internal/actionbox"
	"github.com/scottwelch968/Spork-V2-sub004/internal/model"
	"github.com/scottwelch968/Spork-V2-sub004/internal/notify"
)

func TestConsole_StreamAndFooter(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(&out, false)

	c.BoxChanged(actionbox.State{Stage: actionbox.StageAnalyzing, Model: actionbox.ModelInfo{IsAuto: true}})
	c.BoxChanged(actionbox.State{Stage: actionbox.StageAnalyzing, Model: actionbox.ModelInfo{IsAuto: true}})
	c.Delta("Hello, ")
	c.Delta("world")
	c.BoxChanged(actionbox.State{Stage: actionbox.StageReady, Model: actionbox.ModelInfo{ModelName: "GPT-4o"}})
	c.Finish(&model.Message{Content: "Hello, world", Model: "openai/gpt-4o", CosmoSelected: true, DetectedCategory: "writing"})

	got := out.String()
	assert.Equal(t, 1, strings.Count(got, "Cosmo is choosing"), "duplicate box lines are dropped")
	assert.NotContains(t, got, "is answering", "box is quiet once content streams")
	assert.Contains(t, got, "Hello, world\n")
	assert.Contains(t, got, "via GPT-4o · writing (picked by Cosmo)")
}

func TestConsole_NoticeBreaksStreamLine(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(&out, false)

	c.Delta("partial")
	c.Notify(notify.RateLimited)
	c.Abort()

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Equal(t, "partial", lines[0])
	assert.Contains(t, lines[1], notify.RateLimited.Message)
}

func TestScreenLines(t *testing.T) {
	assert.Equal(t, 1, screenLines("", 80))
	assert.Equal(t, 1, screenLines("short\n", 80))
	assert.Equal(t, 3, screenLines("a\nb\nc", 80))
	assert.Equal(t, 2, screenLines(strings.Repeat("x", 81), 80))
}

func TestResolveModel(t *testing.T) {
	id, err := resolveModel("Cosmo")
	assert.NoError(t, err)
	assert.Equal(t, model.AutoModel, id)

	id, err = resolveModel("gpt-4o")
	assert.NoError(t, err)
	assert.Equal(t, "openai/gpt-4o", id)

	_, err = resolveModel("llama-9000")
	assert.ErrorContains(t, err, "unknown model")
}
