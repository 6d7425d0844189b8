// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/scottwelch968/Spork-V2-sub004/internal/actionbox"
	"github.com/scottwelch968/Spork-V2-sub004/internal/model"
	"github.com/scottwelch968/Spork-V2-sub004/internal/notify"
)

// Console owns the terminal output. Deltas, notices and action box updates
// arrive from different goroutines; Console serializes them so a notice
// never lands in the middle of a streamed line.
type Console struct {
	mu   sync.Mutex
	out  io.Writer
	term *termenv.Output
	tty  bool

	width    int
	markdown *glamour.TermRenderer

	streaming bool
	streamed  strings.Builder
	lastBox   string
}

// NewConsole writes to out. When tty is true the final answer replaces the
// raw stream with rendered markdown.
func NewConsole(out io.Writer, tty bool) *Console {
	c := &Console{
		out:   out,
		term:  termenv.NewOutput(out, termenv.WithProfile(GetColorProfile())),
		tty:   tty,
		width: DefaultTerminalWidth,
	}
	if tty {
		c.width = GetTerminalWidth()
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(c.width-4),
		)
		if err == nil {
			c.markdown = r
		}
	}
	return c
}

// Println writes a line, ending any open stream line first.
func (c *Console) Println(a ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.breakLineLocked()
	fmt.Fprintln(c.out, a...)
}

// Notify implements notify.Notifier.
func (c *Console) Notify(n notify.Notice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.breakLineLocked()
	fmt.Fprintln(c.out, RenderNotice(n))
}

// Warn shows a warning line.
func (c *Console) Warn(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.breakLineLocked()
	fmt.Fprintln(c.out, WarningStyle.Render(msg))
}

// BoxChanged shows action box transitions until content starts.
func (c *Console) BoxChanged(s actionbox.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.streaming {
		return
	}
	line := RenderActionBox(s)
	if line == "" || line == c.lastBox {
		return
	}
	c.lastBox = line
	fmt.Fprintln(c.out, line)
}

// Delta prints streamed content as it arrives.
func (c *Console) Delta(delta string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streaming = true
	c.streamed.WriteString(delta)
	io.WriteString(c.out, delta)
}

// Finish closes the stream. On a terminal the raw text is replaced with the
// rendered answer; a dim footer names the model that answered.
func (c *Console) Finish(msg *model.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw := c.streamed.String()
	if c.markdown != nil && raw != "" {
		if rendered, err := c.markdown.Render(msg.Content); err == nil {
			c.clearStreamLocked(raw)
			io.WriteString(c.out, strings.TrimRight(rendered, "\n")+"\n")
		} else {
			io.WriteString(c.out, "\n")
		}
	} else if raw != "" && !strings.HasSuffix(raw, "\n") {
		io.WriteString(c.out, "\n")
	}

	if footer := answerFooter(msg); footer != "" {
		fmt.Fprintln(c.out, DimStyle.Render(footer))
	}
	c.resetLocked()
}

// Abort ends a stream that failed or was cancelled.
func (c *Console) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.breakLineLocked()
	c.resetLocked()
}

func (c *Console) resetLocked() {
	c.streaming = false
	c.streamed.Reset()
	c.lastBox = ""
}

// breakLineLocked moves to a fresh line when a stream left the cursor
// mid-line.
func (c *Console) breakLineLocked() {
	if c.streaming && c.streamed.Len() > 0 && !strings.HasSuffix(c.streamed.String(), "\n") {
		io.WriteString(c.out, "\n")
		c.streamed.WriteString("\n")
	}
}

// clearStreamLocked erases the raw streamed text from the screen.
func (c *Console) clearStreamLocked(raw string) {
	n := screenLines(raw, c.width)
	if n > 1 {
		c.term.ClearLines(n - 1)
	} else {
		c.term.ClearLine()
	}
	io.WriteString(c.out, "\r")
}

// screenLines counts the terminal rows text occupies at width.
func screenLines(text string, width int) int {
	if width <= 0 {
		width = DefaultTerminalWidth
	}
	text = strings.TrimSuffix(text, "\n")
	n := 0
	for _, line := range strings.Split(text, "\n") {
		w := lipgloss.Width(line)
		rows := (w + width - 1) / width
		if rows < 1 {
			rows = 1
		}
		n += rows
	}
	return n
}

func answerFooter(msg *model.Message) string {
	if msg == nil || msg.Model == "" {
		return ""
	}
	name := model.DisplayName(msg.Model)
	if msg.CosmoSelected && msg.DetectedCategory != "" {
		return fmt.Sprintf("via %s · %s (picked by Cosmo)", name, msg.DetectedCategory)
	}
	return "via " + name
}
