// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package actionbox

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/scottwelch968/Spork-V2-sub004/internal/clock"
)

// DefaultBootDelay is the artificial delay between booting and ready.
const DefaultBootDelay = 2000 * time.Millisecond

// =============================================================================
// STAGE
// =============================================================================

// Stage is a state of the action box.
type Stage int

const (
	StageIdle Stage = iota
	StageAnalyzing
	StageBooting
	StageReady
	StageClosed
)

// String returns the stage name.
func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageAnalyzing:
		return "analyzing"
	case StageBooting:
		return "booting"
	case StageReady:
		return "ready"
	case StageClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ModelInfo is what the box knows about the model serving the exchange.
type ModelInfo struct {
	ModelID   string
	ModelName string
	IsAuto    bool
	Category  string
}

// State is a snapshot of the box.
type State struct {
	Stage     Stage
	Model     ModelInfo
	Collapsed bool
	// Cycle counts Reset calls. It is informational only.
	Cycle uint64
}

// Visible returns true while the box has something to show.
func (s State) Visible() bool {
	return s.Stage != StageIdle && s.Stage != StageClosed
}

// =============================================================================
// BOX
// =============================================================================

// Option configures a Box.
type Option func(*Box)

// WithScheduler sets the scheduler for delayed transitions.
func WithScheduler(s clock.Scheduler) Option {
	return func(b *Box) { b.sched = s }
}

// WithBootDelay overrides the booting to ready delay.
func WithBootDelay(d time.Duration) Option {
	return func(b *Box) { b.bootDelay = d }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(b *Box) { b.logger = l }
}

// Box is the action box state machine. It is safe for concurrent use.
type Box struct {
	mu        sync.Mutex
	state     State
	pending   clock.Timer
	observers []func(State)

	sched     clock.Scheduler
	bootDelay time.Duration
	logger    zerolog.Logger
}

// New creates a box in the idle stage.
func New(opts ...Option) *Box {
	b := &Box{
		sched:     clock.Real(),
		bootDelay: DefaultBootDelay,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// OnChange registers an observer called after every transition.
// Observers run outside the box lock and must not block.
func (b *Box) OnChange(fn func(State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, fn)
}

// State returns the current snapshot.
func (b *Box) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Start begins an exchange. Auto requests wait in analyzing for the routed
// model; concrete models go straight to booting. It is a no-op once the box
// has been closed for this cycle.
func (b *Box) Start(modelID, modelName string, isAuto bool) {
	b.mu.Lock()
	if b.state.Stage == StageClosed {
		b.mu.Unlock()
		return
	}

	b.stopPendingLocked()
	b.state.Model = ModelInfo{ModelID: modelID, ModelName: modelName, IsAuto: isAuto}
	b.state.Collapsed = false
	if isAuto {
		b.state.Stage = StageAnalyzing
	} else {
		b.state.Stage = StageBooting
		b.scheduleReadyLocked()
	}
	snap, obs := b.snapshotLocked()
	b.mu.Unlock()

	b.notify(snap, obs)
}

// SetModelSelected records the model the backend routed to, moves to booting
// and restarts the boot delay. It is a no-op once closed.
func (b *Box) SetModelSelected(actualModelID, actualModelName, category string) {
	b.mu.Lock()
	if b.state.Stage == StageClosed {
		b.mu.Unlock()
		return
	}

	b.state.Model.ModelID = actualModelID
	if actualModelName != "" {
		b.state.Model.ModelName = actualModelName
	}
	b.state.Model.Category = category
	b.state.Stage = StageBooting
	b.stopPendingLocked()
	b.scheduleReadyLocked()
	snap, obs := b.snapshotLocked()
	b.mu.Unlock()

	b.notify(snap, obs)
}

// Close cancels any pending transition and ends the exchange.
func (b *Box) Close() {
	b.mu.Lock()
	if b.state.Stage == StageClosed {
		b.mu.Unlock()
		return
	}
	b.stopPendingLocked()
	b.state.Stage = StageClosed
	snap, obs := b.snapshotLocked()
	b.mu.Unlock()

	b.notify(snap, obs)
}

// Reset cancels any pending transition and returns to idle with no model.
func (b *Box) Reset() {
	b.mu.Lock()
	b.stopPendingLocked()
	b.state = State{Stage: StageIdle, Cycle: b.state.Cycle + 1}
	snap, obs := b.snapshotLocked()
	b.mu.Unlock()

	b.notify(snap, obs)
}

// SetCollapsed folds or unfolds the ready display.
func (b *Box) SetCollapsed(collapsed bool) {
	b.mu.Lock()
	if b.state.Collapsed == collapsed {
		b.mu.Unlock()
		return
	}
	b.state.Collapsed = collapsed
	snap, obs := b.snapshotLocked()
	b.mu.Unlock()

	b.notify(snap, obs)
}

// =============================================================================
// TIMER HANDLING
// =============================================================================

// readyTimer ties a scheduled callback to the handle stored in the box, so a
// callback that lost the race with Stop can tell it is no longer current.
type readyTimer struct {
	clock.Timer
}

func (b *Box) scheduleReadyLocked() {
	handle := &readyTimer{}
	handle.Timer = b.sched.AfterFunc(b.bootDelay, func() { b.fireReady(handle) })
	b.pending = handle
}

func (b *Box) stopPendingLocked() {
	if b.pending != nil {
		b.pending.Stop()
		b.pending = nil
	}
}

func (b *Box) fireReady(handle *readyTimer) {
	b.mu.Lock()
	if b.pending != handle {
		b.mu.Unlock()
		b.logger.Debug().Msg("discarding stale boot timer")
		return
	}
	b.pending = nil
	if b.state.Stage != StageBooting {
		b.mu.Unlock()
		return
	}
	b.state.Stage = StageReady
	snap, obs := b.snapshotLocked()
	b.mu.Unlock()

	b.notify(snap, obs)
}

func (b *Box) snapshotLocked() (State, []func(State)) {
	obs := make([]func(State), len(b.observers))
	copy(obs, b.observers)
	return b.state, obs
}

func (b *Box) notify(s State, observers []func(State)) {
	for _, fn := range observers {
		fn(s)
	}
}
