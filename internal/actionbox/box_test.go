// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package actionbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scottwelch968/Spork-V2-sub004/internal/clock"
)

func newTestBox() (*Box, *clock.Manual) {
	m := clock.NewManual()
	return New(WithScheduler(m)), m
}

func TestBox_ConcreteModelBootsThenReady(t *testing.T) {
	box, m := newTestBox()

	box.Start("openai/gpt-4o", "GPT-4o", false)
	assert.Equal(t, StageBooting, box.State().Stage)

	m.Advance(1999 * time.Millisecond)
	assert.Equal(t, StageBooting, box.State().Stage)

	m.Advance(time.Millisecond)
	assert.Equal(t, StageReady, box.State().Stage)
}

func TestBox_AutoModelAnalyzesUntilSelected(t *testing.T) {
	box, m := newTestBox()

	box.Start("auto", "Cosmo", true)
	assert.Equal(t, StageAnalyzing, box.State().Stage)

	// No timer while analyzing.
	m.Advance(10 * time.Second)
	assert.Equal(t, StageAnalyzing, box.State().Stage)

	box.SetModelSelected("anthropic/claude-sonnet-4", "Claude Sonnet 4", "coding")
	s := box.State()
	assert.Equal(t, StageBooting, s.Stage)
	assert.Equal(t, "anthropic/claude-sonnet-4", s.Model.ModelID)
	assert.Equal(t, "Claude Sonnet 4", s.Model.ModelName)
	assert.Equal(t, "coding", s.Model.Category)
	assert.True(t, s.Model.IsAuto)

	m.Advance(DefaultBootDelay)
	assert.Equal(t, StageReady, box.State().Stage)
}

func TestBox_SetModelSelectedRestartsDelay(t *testing.T) {
	box, m := newTestBox()

	box.Start("m1", "M1", false)
	m.Advance(1500 * time.Millisecond)
	box.SetModelSelected("m2", "", "general")

	m.Advance(1000 * time.Millisecond)
	assert.Equal(t, StageBooting, box.State().Stage, "first timer must not complete the restarted delay")
	assert.Equal(t, "M1", box.State().Model.ModelName, "empty name keeps the previous one")

	m.Advance(1000 * time.Millisecond)
	assert.Equal(t, StageReady, box.State().Stage)
}

func TestBox_CloseCancelsPendingAndIgnoresLaterCalls(t *testing.T) {
	box, m := newTestBox()

	box.Start("m1", "M1", false)
	box.Close()
	assert.Equal(t, StageClosed, box.State().Stage)
	assert.Equal(t, 0, m.Pending())

	box.Start("m2", "M2", false)
	box.SetModelSelected("m3", "M3", "math")
	m.Advance(time.Minute)

	s := box.State()
	assert.Equal(t, StageClosed, s.Stage)
	assert.Equal(t, "m1", s.Model.ModelID)
}

func TestBox_CycleIsolation(t *testing.T) {
	box, m := newTestBox()

	box.Start("m1", "M1", false)
	m.Advance(1000 * time.Millisecond)

	box.Reset()
	assert.Equal(t, StageIdle, box.State().Stage)
	assert.Equal(t, ModelInfo{}, box.State().Model)

	box.Start("auto", "Cosmo", true)

	// The first cycle's timer would have fired here.
	m.Advance(5 * time.Second)
	assert.Equal(t, StageAnalyzing, box.State().Stage)
}

func TestBox_ResetAfterCloseAllowsNewCycle(t *testing.T) {
	box, m := newTestBox()

	box.Start("m1", "M1", false)
	box.Close()
	box.Reset()
	box.Start("m2", "M2", false)
	m.Advance(DefaultBootDelay)

	s := box.State()
	assert.Equal(t, StageReady, s.Stage)
	assert.Equal(t, "m2", s.Model.ModelID)
	assert.Equal(t, uint64(1), s.Cycle)
}

// staleScheduler hands out timers whose Stop never succeeds, modelling a
// callback that already fired and is waiting for the box lock.
type staleScheduler struct {
	fns []func()
}

type noStop struct{}

func (noStop) Stop() bool { return false }

func (s *staleScheduler) AfterFunc(_ time.Duration, f func()) clock.Timer {
	s.fns = append(s.fns, f)
	return noStop{}
}

func TestBox_StaleCallbackIgnoredWhenStopLosesRace(t *testing.T) {
	sched := &staleScheduler{}
	box := New(WithScheduler(sched))

	box.Start("m1", "M1", false)
	box.Reset()
	box.Start("auto", "Cosmo", true)

	require.Len(t, sched.fns, 1)
	sched.fns[0]()

	assert.Equal(t, StageAnalyzing, box.State().Stage)
}

func TestBox_OnChangeObservesTransitions(t *testing.T) {
	box, m := newTestBox()

	var stages []Stage
	box.OnChange(func(s State) { stages = append(stages, s.Stage) })

	box.Start("auto", "Cosmo", true)
	box.SetModelSelected("m", "M", "general")
	m.Advance(DefaultBootDelay)
	box.SetCollapsed(true)
	box.Close()

	assert.Equal(t, []Stage{StageAnalyzing, StageBooting, StageReady, StageReady, StageClosed}, stages)
}

func TestBox_CollapsedClearedOnReset(t *testing.T) {
	box, _ := newTestBox()

	box.Start("m", "M", false)
	box.SetCollapsed(true)
	assert.True(t, box.State().Collapsed)

	box.Reset()
	assert.False(t, box.State().Collapsed)
	assert.False(t, box.State().Visible())
}

func TestBox_CustomBootDelay(t *testing.T) {
	m := clock.NewManual()
	box := New(WithScheduler(m), WithBootDelay(50*time.Millisecond))

	box.Start("m", "M", false)
	m.Advance(50 * time.Millisecond)
	assert.Equal(t, StageReady, box.State().Stage)
}

func TestStage_String(t *testing.T) {
	assert.Equal(t, "analyzing", StageAnalyzing.String())
	assert.Equal(t, "unknown", Stage(42).String())
}
