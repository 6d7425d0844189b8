// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package metrics

import (
	"strconv"

	"github.com/scottwelch968/Spork-V2-sub004/internal/events"
)

// Observe counts bus events until the returned function is called.
func Observe(bus *events.Bus) func() {
	return bus.SubscribeAll(func(e events.Event) {
		switch p := e.Payload.(type) {
		case events.StreamStarted:
			StreamsStarted.WithLabelValues(strconv.FormatBool(p.IsAuto)).Inc()
		case events.StreamChunk:
			StreamChunks.Inc()
		case events.MetadataReceived:
			if p.CosmoSelected && p.DetectedCategory != "" {
				RoutedCategories.WithLabelValues(p.DetectedCategory).Inc()
			}
		case events.ResponseComplete:
			StreamsCompleted.WithLabelValues(p.Model).Inc()
		case events.ErrorPayload:
			Errors.WithLabelValues(p.Phase, strconv.FormatBool(p.Recoverable)).Inc()
			if p.Phase == events.PhaseBackgroundSave && !p.Recoverable {
				SavesDropped.Inc()
			}
		}
	})
}
