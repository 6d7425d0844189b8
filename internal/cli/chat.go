// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"github.com/scottwelch968/Spork-V2-sub004/internal/config"
	"github.com/scottwelch968/Spork-V2-sub004/internal/conversation"
	"github.com/scottwelch968/Spork-V2-sub004/internal/model"
	"github.com/scottwelch968/Spork-V2-sub004/internal/notify"
)

// PromptText is shown before each input line.
const PromptText = "spork> "

// =============================================================================
// INPUT HISTORY
// =============================================================================

// LineReader reads one line of user input.
type LineReader interface {
	// Prompt returns liner.ErrPromptAborted on Ctrl+C and io.EOF on Ctrl+D.
	Prompt(prompt string) (string, error)
	Close() error
}

// ChatCLI provides input history and line editing for interactive chat.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a line editor with history loaded from the config
// directory.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	configDir, err := config.ConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}

	c := &ChatCLI{
		line:        line,
		historyFile: filepath.Join(configDir, "chat_history"),
	}
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
	return c
}

// Prompt reads a line. Non-empty input is added to history.
func (c *ChatCLI) Prompt(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves history (0600) and restores the terminal.
func (c *ChatCLI) Close() error {
	if err := os.MkdirAll(filepath.Dir(c.historyFile), 0700); err == nil {
		if f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			c.line.WriteHistory(f)
			f.Close()
		}
	}
	return c.line.Close()
}

// =============================================================================
// REPL
// =============================================================================

// Run starts the interactive loop. It returns nil when the user quits.
func (a *App) Run(ctx context.Context) error {
	if a.input == nil {
		a.input = NewChatCLI()
	}
	defer a.input.Close()

	if a.loadID != "" {
		a.load(ctx, a.loadID)
	}
	a.printWelcome()

	for ctx.Err() == nil {
		line, err := a.input.Prompt(PromptText)
		if errors.Is(err, liner.ErrPromptAborted) {
			continue
		}
		if errors.Is(err, io.EOF) {
			a.Console.Println()
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			quit, err := a.handleCommand(ctx, line)
			if err != nil {
				a.Console.Notify(notify.Error(err.Error()))
			}
			if quit {
				return nil
			}
			continue
		}

		a.send(ctx, line)
	}
	return nil
}

// RunOnce sends a single prompt and returns. Failures have already been
// shown; the error only decides the exit code.
func (a *App) RunOnce(ctx context.Context, prompt string) error {
	if a.loadID != "" {
		if err := a.load(ctx, a.loadID); err != nil {
			return err
		}
	}
	_, err := a.send(ctx, prompt)
	return err
}

// send runs one turn. Ctrl+C cancels the turn, not the program.
func (a *App) send(ctx context.Context, text string) (*model.Message, error) {
	turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	msg, err := a.Session.Send(turnCtx, text)
	if err != nil {
		a.Console.Abort()
		switch {
		case errors.Is(err, context.Canceled):
			a.Console.Warn("[Cancelled]")
		case errors.Is(err, conversation.ErrBusy):
			a.Console.Warn("A response is still streaming.")
		}
		a.logger.Debug().Err(err).Msg("turn failed")
		return nil, err
	}

	a.Console.Finish(msg)
	return msg, nil
}

// load opens a stored conversation and reports the result.
func (a *App) load(ctx context.Context, chatID string) error {
	if err := a.Session.Load(ctx, chatID); err != nil {
		a.Console.Notify(notify.Error("Could not load conversation " + chatID + "."))
		return err
	}
	a.Console.Println(InfoStyle.Render(fmt.Sprintf("Loaded %d messages from %s.", a.Store.Count(), chatID)))
	return nil
}

func (a *App) printWelcome() {
	opts := a.Session.Options()
	a.Console.Println(TitleStyle.Render("Spork") + " " + DimStyle.Render("v"+Version))
	a.Console.Println(RenderLabel("Model", model.DisplayName(opts.Model)))
	if opts.WorkspaceID != "" {
		a.Console.Println(RenderLabel("Workspace", opts.WorkspaceID))
	}
	a.Console.Println(DimStyle.Render("Type /help for commands, Ctrl+D to exit."))
	a.Console.Println()
}
