// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/scottwelch968/Spork-V2-sub004/internal/actionbox"
	"github.com/scottwelch968/Spork-V2-sub004/internal/auth"
	"github.com/scottwelch968/Spork-V2-sub004/internal/backend"
	"github.com/scottwelch968/Spork-V2-sub004/internal/chat"
	"github.com/scottwelch968/Spork-V2-sub004/internal/cloud"
	"github.com/scottwelch968/Spork-V2-sub004/internal/config"
	"github.com/scottwelch968/Spork-V2-sub004/internal/conversation"
	"github.com/scottwelch968/Spork-V2-sub004/internal/events"
	"github.com/scottwelch968/Spork-V2-sub004/internal/metrics"
	"github.com/scottwelch968/Spork-V2-sub004/internal/savequeue"
)

// =============================================================================
// APP
// =============================================================================

// App wires the chat engine to the terminal.
type App struct {
	cfg    *config.Config
	logger zerolog.Logger

	Console *Console
	Session *chat.Session
	Store   *conversation.Store
	Box     *actionbox.Box
	Queue   *savequeue.Queue
	Bus     *events.Bus

	input     LineReader
	// collapseReady folds the action box as soon as a model is ready.
	collapseReady atomic.Bool
	loadID    string
	startedAt time.Time

	unsubscribe []func()
	stopQueue   context.CancelFunc
	queueDone   chan struct{}
	metricsSrv  *http.Server
}

// AppOption configures an App.
type AppOption func(*App)

// WithOutput sends all output to w. tty enables markdown re-rendering.
func WithOutput(w io.Writer, tty bool) AppOption {
	return func(a *App) { a.Console = NewConsole(w, tty) }
}

// WithLineReader replaces the interactive line editor.
func WithLineReader(r LineReader) AppOption {
	return func(a *App) { a.input = r }
}

// NewApp builds the engine from cfg. Flags in args override the config.
func NewApp(cfg *config.Config, logger zerolog.Logger, args Args, opts ...AppOption) (*App, error) {
	a := &App{
		cfg:       cfg,
		logger:    logger,
		loadID:    args.LoadChatID,
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.Console == nil {
		a.Console = NewConsole(os.Stdout, IsStdoutTTY())
	}

	a.Bus = events.NewBus(logger)
	a.unsubscribe = append(a.unsubscribe, metrics.Observe(a.Bus))

	tokens := auth.First{
		auth.Static(cfg.Auth.AccessToken),
		auth.NewFileSource(cfg.Auth.SessionFile),
	}

	data := backend.NewClient(cfg.Backend.FunctionsURL, cfg.Backend.PublishableKey, logger)

	a.Queue = savequeue.New(data, tokens,
		savequeue.WithBatchSize(cfg.SaveQueue.BatchSize),
		savequeue.WithMaxRetries(cfg.SaveQueue.MaxRetries),
		savequeue.WithBaseDelay(cfg.SaveQueue.BaseDelay()),
		savequeue.WithMaxPending(cfg.SaveQueue.MaxPending),
		savequeue.WithBus(a.Bus),
		savequeue.WithLogger(logger),
	)

	streamer := cloud.NewClient(cfg.Backend.ChatURL, cfg.Backend.PublishableKey, tokens,
		cloud.WithBus(a.Bus),
		cloud.WithNotifier(a.Console),
		cloud.WithLogger(logger),
		cloud.WithIdleTimeout(cfg.Chat.StreamIdleTimeout()),
	)

	a.Box = actionbox.New(
		actionbox.WithBootDelay(cfg.Chat.BootDelay()),
		actionbox.WithLogger(logger),
	)
	a.Box.OnChange(a.boxChanged)

	a.Store = conversation.NewStore()

	chatOpts := chat.Options{
		Model:       cfg.Chat.DefaultModel,
		PersonaID:   cfg.Chat.PersonaID,
		WorkspaceID: cfg.Chat.WorkspaceID,
	}
	if args.Model != "" {
		chatOpts.Model = args.Model
	}
	if args.PersonaID != "" {
		chatOpts.PersonaID = args.PersonaID
	}
	if args.WorkspaceID != "" {
		chatOpts.WorkspaceID = args.WorkspaceID
	}

	a.Session = chat.NewSession(chat.Deps{
		Store:    a.Store,
		Box:      a.Box,
		Streamer: streamer,
		Backend:  data,
		Saver:    a.Queue,
		Tokens:   tokens,
		Bus:      a.Bus,
		Notifier: a.Console,
		Logger:   logger,
	}, chatOpts)

	a.unsubscribe = append(a.unsubscribe,
		a.Bus.Subscribe(events.KindStreamChunk, func(ev events.Event) {
			if chunk, ok := ev.Payload.(events.StreamChunk); ok {
				a.Console.Delta(chunk.Content)
			}
		}),
		a.Bus.Subscribe(events.KindError, func(ev events.Event) {
			p, ok := ev.Payload.(events.ErrorPayload)
			if !ok || p.Phase != events.PhaseBackgroundSave || p.Recoverable {
				return
			}
			a.Console.Warn("A message could not be saved: " + p.Error())
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	a.stopQueue = cancel
	a.queueDone = make(chan struct{})
	go func() {
		defer close(a.queueDone)
		a.Queue.Run(ctx)
	}()

	if args.MetricsAddr != "" {
		if err := a.serveMetrics(args.MetricsAddr); err != nil {
			a.Close()
			return nil, err
		}
	}

	return a, nil
}

// boxChanged forwards action box updates to the console, folding the ready
// display when the user asked for it.
func (a *App) boxChanged(s actionbox.State) {
	if s.Stage == actionbox.StageReady && !s.Collapsed && a.collapseReady.Load() {
		a.Box.SetCollapsed(true)
		return
	}
	a.Console.BoxChanged(s)
}

// serveMetrics exposes the prometheus registry on addr.
func (a *App) serveMetrics(addr string) error {
	if err := metrics.RegisterSaveQueue(prometheus.DefaultRegisterer, a.Queue.Stats); err != nil {
		return fmt.Errorf("failed to register queue metrics: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	a.metricsSrv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
		}
	}()
	a.logger.Info().Str("addr", addr).Msg("serving metrics")
	return nil
}

// Close flushes pending saves and stops background work. It reports writes
// that could not be flushed in time.
func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.SaveQueue.FlushTimeout())
	defer cancel()

	err := a.Queue.Close(ctx)
	a.stopQueue()
	<-a.queueDone

	if a.metricsSrv != nil {
		a.metricsSrv.Shutdown(ctx)
	}
	for _, unsub := range a.unsubscribe {
		unsub()
	}
	a.Box.Close()

	if err != nil {
		return fmt.Errorf("failed to flush pending saves: %w", err)
	}
	return nil
}
