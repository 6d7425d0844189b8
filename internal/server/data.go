// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/scottwelch968/Spork-V2-sub004/internal/backend"
	"github.com/scottwelch968/Spork-V2-sub004/internal/storage"
)

// requestError is a multiplexer failure the caller caused.
type requestError struct {
	status int
	msg    string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{status: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

// handleData dispatches one multiplexer action. Every reply is a
// backend.Envelope.
func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	var probe struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var data any
	switch probe.Action {
	case backend.ActionBatchSave:
		data, err = s.batchSave(r, raw)
	case backend.ActionCreateChat:
		data, err = s.createChat(r, raw, false)
	case backend.ActionCreateSpaceChat:
		data, err = s.createChat(r, raw, true)
	case backend.ActionGetMessages:
		data, err = s.getMessages(r, raw)
	case backend.ActionAddMessage:
		data, err = s.addMessage(r, raw)
	default:
		err = badRequest("unknown action %q", probe.Action)
	}

	if err != nil {
		status, msg := dataErrorStatus(err)
		if status >= 500 {
			s.logger.Error().
				Err(err).
				Str("action", probe.Action).
				Str("request_id", chimw.GetReqID(r.Context())).
				Msg("multiplexer action failed")
		}
		writeError(w, status, msg)
		return
	}

	body, err := json.Marshal(data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode response")
		return
	}
	writeJSON(w, http.StatusOK, backend.Envelope{Data: body})
}

func dataErrorStatus(err error) (int, string) {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		return reqErr.status, reqErr.msg
	case errors.Is(err, storage.ErrChatNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, storage.ErrUnknownTable), errors.Is(err, storage.ErrInvalidRow):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// batchSave writes each operation on its own so results align with the
// request and one bad row never fails the batch.
func (s *Server) batchSave(r *http.Request, raw []byte) ([]backend.Result, error) {
	var req backend.BatchSaveRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, badRequest("invalid batch_save body")
	}
	if len(req.Operations) > MaxBatchOperations {
		return nil, badRequest("too many operations: %d (max %d)", len(req.Operations), MaxBatchOperations)
	}

	results := make([]backend.Result, len(req.Operations))
	for i, op := range req.Operations {
		res, err := s.store.InsertRows(r.Context(), op.Table, []map[string]any{op.Data})
		switch {
		case errors.Is(err, storage.ErrUnknownTable):
			results[i] = backend.Result{Error: err.Error()}
		case err != nil:
			return nil, err
		default:
			results[i] = res[0]
		}
	}
	return results, nil
}

func (s *Server) createChat(r *http.Request, raw []byte, space bool) (*backend.Chat, error) {
	var req backend.CreateChatRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, badRequest("invalid chat body")
	}
	chat := backend.Chat{
		Title:     req.Title,
		Model:     req.Model,
		PersonaID: req.PersonaID,
		SpaceID:   req.SpaceID,
	}
	if space {
		if strings.TrimSpace(req.SpaceID) == "" {
			return nil, badRequest("space_id is required")
		}
		return s.store.CreateSpaceChat(r.Context(), chat)
	}
	chat.SpaceID = ""
	return s.store.CreateChat(r.Context(), chat)
}

func (s *Server) getMessages(r *http.Request, raw []byte) ([]backend.MessageRow, error) {
	var req backend.GetMessagesRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, badRequest("invalid get_messages body")
	}
	if req.ChatID == "" {
		return nil, badRequest("chat_id is required")
	}
	rows, err := s.store.ListMessages(r.Context(), req.ChatID, req.SpaceChat)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []backend.MessageRow{}
	}
	return rows, nil
}

func (s *Server) addMessage(r *http.Request, raw []byte) (backend.Result, error) {
	var req backend.AddMessageRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return backend.Result{}, badRequest("invalid add_message body")
	}
	table := req.Table
	if table == "" {
		table = backend.TableMessages
	}
	id, err := s.store.AddMessage(r.Context(), table, req.Message)
	if err != nil {
		if errors.Is(err, storage.ErrChatNotFound) || errors.Is(err, storage.ErrInvalidRow) {
			return backend.Result{Success: false, Error: err.Error()}, nil
		}
		return backend.Result{}, err
	}
	return backend.Result{Success: true, ID: id}, nil
}
