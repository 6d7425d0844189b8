// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// args.go - Argument parsing for the spork command and its slash commands.

package cli

import (
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// ARG PARSER
// =============================================================================

// ArgParser splits raw arguments into flags and positionals. It handles:
//   - Long flags: --flag value or --flag=value
//   - Short flags: -f value
//   - Boolean flags: --flag (only names registered as boolean)
//   - Positional arguments: everything else, in order
type ArgParser struct {
	flags      map[string]string
	boolFlags  map[string]bool
	positional []string
}

// NewArgParser parses raw. Names in boolNames never consume the next
// argument, so "--debug hello" keeps "hello" positional.
func NewArgParser(raw []string, boolNames ...string) *ArgParser {
	isBool := make(map[string]bool, len(boolNames))
	for _, n := range boolNames {
		isBool[n] = true
	}

	p := &ArgParser{
		flags:     make(map[string]string),
		boolFlags: make(map[string]bool),
	}

	for i := 0; i < len(raw); i++ {
		arg := raw[i]

		if arg == "--" {
			p.positional = append(p.positional, raw[i+1:]...)
			break
		}
		if !strings.HasPrefix(arg, "-") || arg == "-" {
			p.positional = append(p.positional, arg)
			continue
		}

		name := strings.TrimLeft(arg, "-")
		if k, v, ok := strings.Cut(name, "="); ok {
			if isBool[k] {
				p.boolFlags[k] = v == "true" || v == "1"
			} else {
				p.flags[k] = v
			}
			continue
		}

		if !isBool[name] && i+1 < len(raw) && !strings.HasPrefix(raw[i+1], "-") {
			p.flags[name] = raw[i+1]
			i++
			continue
		}
		p.boolFlags[name] = true
	}
	return p
}

// Flag returns the value of a string flag, trying each name in turn.
func (p *ArgParser) Flag(names ...string) string {
	for _, n := range names {
		if v, ok := p.flags[n]; ok {
			return v
		}
	}
	return ""
}

// BoolFlag reports whether any of the names was given as a boolean flag.
func (p *ArgParser) BoolFlag(names ...string) bool {
	for _, n := range names {
		if p.boolFlags[n] {
			return true
		}
	}
	return false
}

// Positional returns the positional argument at index, or "".
func (p *ArgParser) Positional(index int) string {
	if index < 0 || index >= len(p.positional) {
		return ""
	}
	return p.positional[index]
}

// PositionalFrom returns the positional arguments from index on.
func (p *ArgParser) PositionalFrom(index int) []string {
	if index < 0 || index >= len(p.positional) {
		return nil
	}
	return p.positional[index:]
}

// Unknown returns flag names not in known, for error reporting.
func (p *ArgParser) Unknown(known ...string) []string {
	ok := make(map[string]bool, len(known))
	for _, k := range known {
		ok[k] = true
	}
	var out []string
	for k := range p.flags {
		if !ok[k] {
			out = append(out, k)
		}
	}
	for k := range p.boolFlags {
		if !ok[k] {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// =============================================================================
// SPORK ARGS
// =============================================================================

// Args are the parsed spork command line options.
type Args struct {
	ConfigPath  string
	Model       string
	WorkspaceID string
	PersonaID   string
	LoadChatID  string
	LogLevel    string
	MetricsAddr string

	// Prompt, when set, sends one turn and exits.
	Prompt string

	Help    bool
	Version bool
}

var (
	argBoolFlags   = []string{"help", "h", "version", "v"}
	argStringFlags = []string{"config", "c", "model", "m", "workspace", "w", "persona", "p", "load", "l", "log-level", "metrics-addr"}
)

// ParseArgs parses the spork command line.
func ParseArgs(raw []string) (Args, error) {
	p := NewArgParser(raw, argBoolFlags...)

	if unknown := p.Unknown(append(argBoolFlags, argStringFlags...)...); len(unknown) > 0 {
		return Args{}, fmt.Errorf("unknown flag: --%s", unknown[0])
	}

	return Args{
		ConfigPath:  p.Flag("config", "c"),
		Model:       p.Flag("model", "m"),
		WorkspaceID: p.Flag("workspace", "w"),
		PersonaID:   p.Flag("persona", "p"),
		LoadChatID:  p.Flag("load", "l"),
		LogLevel:    p.Flag("log-level"),
		MetricsAddr: p.Flag("metrics-addr"),
		Prompt:      strings.TrimSpace(strings.Join(p.PositionalFrom(0), " ")),
		Help:        p.BoolFlag("help", "h"),
		Version:     p.BoolFlag("version", "v"),
	}, nil
}

// Usage is the spork help text.
const Usage = `Usage: spork [flags] [prompt]

Starts an interactive chat, or sends a single prompt and exits.

Flags:
  -c, --config PATH        config file (default ~/.spork/config.toml)
  -m, --model ID           model id, or "auto" for Cosmo routing
  -w, --workspace ID       chat inside a workspace
  -p, --persona ID         persona for new chats
  -l, --load CHAT_ID       open an existing chat
      --log-level LEVEL    debug, info, warn or error
      --metrics-addr ADDR  serve Prometheus metrics on ADDR
  -h, --help               show this help
  -v, --version            show the version
`
