package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/kubilitics/kubilitics-investigator/internal/reasoning/engine"
	"github.com/kubilitics/kubilitics-investigator/internal/reasoning/investigation"
	"github.com/kubilitics/kubilitics-investigator/internal/reasoning/lifecycle"
)

// maxTurnBody bounds a turn request including inline uploads.
const maxTurnBody = 16 << 20

// createInvestigationRequest is the body of POST /api/v1/investigations.
type createInvestigationRequest struct {
	Problem string `json:"problem"`
}

// turnRequest is the body of POST /api/v1/investigations/{id}/turns. Upload
// content is base64 in JSON.
type turnRequest struct {
	investigation.TurnInput
	Uploads []engine.Upload `json:"uploads,omitempty"`
}

// errorResponse is the JSON error body.
type errorResponse struct {
	Error  string                    `json:"error"`
	Code   string                    `json:"code,omitempty"`
	Result *investigation.TurnResult `json:"result,omitempty"`
}

// handleCreateInvestigation starts a new investigation.
func (s *Server) handleCreateInvestigation(w http.ResponseWriter, r *http.Request) {
	var req createInvestigationRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
			return
		}
	}

	inv, err := s.engine.Create(r.Context(), req.Problem)
	if err != nil {
		s.writeError(w, err, nil)
		return
	}

	w.Header().Set("Location", "/api/v1/investigations/"+inv.ID)
	writeJSON(w, http.StatusCreated, map[string]any{
		"investigation": inv,
		"stream_url":    fmt.Sprintf("/ws/investigations/%s", inv.ID),
	})
}

// handleListInvestigations returns live investigations, newest first.
func (s *Server) handleListInvestigations(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	list, err := s.engine.List(r.Context(), limit, offset)
	if err != nil {
		s.writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"investigations": list, "count": len(list)})
}

func (s *Server) handleGetInvestigation(w http.ResponseWriter, r *http.Request) {
	inv, err := s.engine.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// handleTurn applies one turn.
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxTurnBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	out, err := s.engine.Turn(r.Context(), engine.TurnRequest{
		InvestigationID: r.PathValue("id"),
		Input:           req.TurnInput,
		Uploads:         req.Uploads,
	})
	if err != nil {
		var res *investigation.TurnResult
		if out != nil {
			res = out.Result
		}
		s.writeError(w, err, res)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// statusFor maps engine and controller errors to HTTP status codes. The
// terminal check comes first because a terminal rejection is also a guard
// violation.
func statusFor(err error) int {
	switch {
	case errors.Is(err, investigation.ErrTerminal):
		return http.StatusGone
	case errors.Is(err, investigation.ErrGuardViolation):
		return http.StatusConflict
	case errors.Is(err, engine.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, lifecycle.ErrInvalidTurn):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error, res *investigation.TurnResult) {
	body := errorResponse{Error: err.Error(), Result: res}
	var guard *investigation.GuardError
	if errors.As(err, &guard) {
		body.Code = string(guard.Code)
	}
	status := statusFor(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, body)
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return n, nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
