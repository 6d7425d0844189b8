// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/scottwelch968/Spork-V2-sub004/internal/cloud"
	"github.com/scottwelch968/Spork-V2-sub004/internal/metrics"
	"github.com/scottwelch968/Spork-V2-sub004/internal/router"
)

// validRoles is the set of roles a chat request may carry.
var validRoles = map[string]bool{
	"user":      true,
	"assistant": true,
	"system":    true,
}

func validateChatRequest(req cloud.Request) error {
	if len(req.Messages) == 0 {
		return fmt.Errorf("messages are required")
	}
	if len(req.Messages) > MaxMessageCount {
		return fmt.Errorf("too many messages: %d (max %d)", len(req.Messages), MaxMessageCount)
	}
	for i, msg := range req.Messages {
		if !validRoles[msg.Role] {
			return fmt.Errorf("invalid role %q at message %d", msg.Role, i)
		}
	}
	if strings.TrimSpace(req.Model) == "" {
		return fmt.Errorf("model is required")
	}
	return nil
}

// sseWriter writes frames and flushes after each one. The status line goes
// out with the first frame so earlier failures can still answer with JSON.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func (s *sseWriter) write(frame []byte) error {
	if !s.started {
		h := s.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	if _, err := s.w.Write(frame); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// handleChat streams one completion.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req cloud.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validateChatRequest(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	completion := Completion{Messages: req.Messages}
	decision := router.Select(req.Model, completion.LastUserContent(), s.catalog)
	completion.ModelID = decision.ModelID
	completion.ModelName = decision.ModelName
	completion.Category = decision.Category.String()

	log := s.logger.With().
		Str("request_id", chimw.GetReqID(r.Context())).
		Str("model", decision.ModelID).
		Bool("cosmo", decision.CosmoSelected).
		Str("category", completion.Category).
		Logger()

	sse := &sseWriter{w: w, flusher: flusher}

	if decision.CosmoSelected {
		metrics.RoutedCategories.WithLabelValues(completion.Category).Inc()
		frame, err := cloud.EncodeMetadata(cloud.Metadata{
			ActualModelUsed:  decision.ModelID,
			ActualModelName:  decision.ModelName,
			CosmoSelected:    true,
			DetectedCategory: completion.Category,
		})
		if err == nil {
			err = sse.write(frame)
		}
		if err != nil {
			log.Warn().Err(err).Msg("failed to send metadata frame")
			return
		}
	}

	id := generateResponseID()
	deltas := 0
	err := s.responder.Respond(r.Context(), completion, func(delta string) error {
		frame, err := cloud.EncodeDelta(id, decision.ModelID, delta)
		if err != nil {
			return err
		}
		deltas++
		return sse.write(frame)
	})
	if err != nil {
		log.Error().Err(err).Int("deltas", deltas).Msg("completion failed")
		if !sse.started {
			writeError(w, http.StatusBadGateway, "completion failed")
		}
		return
	}

	if err := sse.write(cloud.EncodeDone()); err != nil {
		log.Warn().Err(err).Msg("client went away before done")
		return
	}
	log.Debug().Int("deltas", deltas).Msg("completion streamed")
}
