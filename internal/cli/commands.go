// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/scottwelch968/Spork-V2-sub004/internal/actionbox"
	"github.com/scottwelch968/Spork-V2-sub004/internal/export"
	"github.com/scottwelch968/Spork-V2-sub004/internal/model"
)

// Version information, set by the main package.
var (
	Version   = "0.3.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

const commandHelp = `Commands:
  /help, /h           Show this help
  /new, /clear        Start a new conversation
  /load <chat-id>     Open a stored conversation
  /model [id]         Show models or switch (use "auto" for Cosmo)
  /history            Show the conversation so far
  /export [md|json] [dir]  Write the conversation to a file
  /collapse [on|off]  Fold the model status line once a model is ready
  /status, /s         Show session and save queue state
  /quit, /q           Exit
  Ctrl+C              Cancel the current response
  Ctrl+D              Exit`

// handleCommand runs a slash command. quit is true when the loop should end.
func (a *App) handleCommand(ctx context.Context, line string) (quit bool, err error) {
	fields := strings.Fields(line)
	name, args := strings.ToLower(fields[0]), fields[1:]

	switch name {
	case "/help", "/h", "/?":
		a.Console.Println(commandHelp)

	case "/new", "/clear", "/c":
		if err := a.Session.Reset(); err != nil {
			return false, err
		}
		a.Console.Println(InfoStyle.Render("Started a new conversation."))

	case "/load", "/l":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: /load <chat-id>")
		}
		a.load(ctx, args[0])

	case "/model", "/m":
		if len(args) == 0 {
			a.listModels()
			return false, nil
		}
		id, err := resolveModel(args[0])
		if err != nil {
			return false, err
		}
		a.Session.SetModel(id)
		a.Console.Println(InfoStyle.Render("Model set to " + model.DisplayName(id) + "."))

	case "/history":
		a.printHistory()

	case "/export", "/e":
		return false, a.exportConversation(args)

	case "/collapse":
		return false, a.setCollapse(args)

	case "/status", "/s":
		a.printStatus()

	case "/quit", "/q", "/exit":
		return true, nil

	default:
		return false, fmt.Errorf("unknown command %s (try /help)", name)
	}
	return false, nil
}

// resolveModel accepts an auto alias, a catalog id or a catalog name.
func resolveModel(arg string) (string, error) {
	if model.IsAutoModel(strings.ToLower(arg)) {
		return model.AutoModel, nil
	}
	if info, ok := model.LookupModel(arg); ok {
		return info.ID, nil
	}
	return "", fmt.Errorf("unknown model %q (see /model)", arg)
}

func (a *App) listModels() {
	current := a.Session.Options().Model
	line := func(id, name, desc string) {
		marker := "  "
		if id == current {
			marker = "* "
		}
		a.Console.Println(marker + RenderLabel(name, id) + " " + DimStyle.Render(desc))
	}
	line(model.AutoModel, "Cosmo (auto)", "picks a model per message")
	for _, info := range model.Catalog {
		line(info.ID, info.Name, info.Description)
	}
}

func (a *App) printHistory() {
	msgs := a.Store.Messages()
	if len(msgs) == 0 {
		a.Console.Println(DimStyle.Render("No messages yet."))
		return
	}
	for _, m := range msgs {
		if m.Role == model.RoleUser {
			a.Console.Println(UserStyle.Render("You: ") + m.Content)
			continue
		}
		a.Console.Println(TitleStyle.Render(model.DisplayName(m.Model)+": ") + m.Content)
	}
}

func (a *App) exportConversation(args []string) error {
	format, dir := "md", "."
	if len(args) > 0 {
		format = args[0]
	}
	if len(args) > 1 {
		dir = args[1]
	}
	opts := &export.Options{OutputDir: dir, IncludeMetadata: true}
	exporter, err := export.ForFormat(format, opts)
	if err != nil {
		return err
	}
	conv := export.FromMessages(a.Store.ConversationID(), a.Session.Options().WorkspaceID, a.Store.Messages())
	path, err := export.ExportToFile(conv, exporter, opts)
	if err != nil {
		return err
	}
	a.Console.Println(InfoStyle.Render("Exported to " + path))
	return nil
}

// setCollapse toggles, or sets, folding of the ready action box.
func (a *App) setCollapse(args []string) error {
	on := !a.collapseReady.Load()
	if len(args) > 0 {
		switch strings.ToLower(args[0]) {
		case "on":
			on = true
		case "off":
			on = false
		default:
			return fmt.Errorf("usage: /collapse [on|off]")
		}
	}
	a.collapseReady.Store(on)
	if a.Box.State().Stage == actionbox.StageReady {
		a.Box.SetCollapsed(on)
	}
	if on {
		a.Console.Println(InfoStyle.Render("Model status will fold once a model is ready."))
	} else {
		a.Console.Println(InfoStyle.Render("Model status will stay expanded."))
	}
	return nil
}

func (a *App) printStatus() {
	opts := a.Session.Options()
	stats := a.Queue.Stats()

	chatID := a.Store.ConversationID()
	if chatID == "" {
		chatID = "(new)"
	}

	a.Console.Println(RenderSeparator(40))
	a.Console.Println(RenderLabel("Model", model.DisplayName(opts.Model)))
	a.Console.Println(RenderLabel("Chat", chatID))
	if opts.WorkspaceID != "" {
		a.Console.Println(RenderLabel("Workspace", opts.WorkspaceID))
	}
	a.Console.Println(RenderLabel("Messages", fmt.Sprint(a.Store.Count())))
	box := a.Box.State().Stage.String()
	if a.collapseReady.Load() {
		box += " (folds when ready)"
	}
	a.Console.Println(RenderLabel("Action box", box))
	a.Console.Println(RenderLabel("Saves", fmt.Sprintf("%d saved, %d pending, %d retrying, %d dropped",
		stats.Saved, stats.Pending, stats.Retrying, stats.Dropped)))
	a.Console.Println(RenderLabel("Uptime", time.Since(a.startedAt).Round(time.Second).String()))
	a.Console.Println(RenderSeparator(40))
}
