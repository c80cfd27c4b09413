package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/flowagencyai/wabot/internal/bot"
	"github.com/flowagencyai/wabot/internal/conversation"
	"github.com/flowagencyai/wabot/internal/store"
)

const maxRequestBodySize = 1 << 20 // 1MB

func isInvalidArgument(err error) bool {
	return errors.Is(err, store.ErrInvalidArgument)
}

// --- health ---

type healthResponse struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latencyMs"`
	Details   string `json:"details,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.kv.HealthCheck(r.Context())
	resp := healthResponse{
		Status:    "healthy",
		LatencyMs: h.Latency.Milliseconds(),
		Details:   h.Details,
	}
	status := http.StatusOK
	if !h.Healthy {
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// --- contexts ---

func (s *Server) handleListContexts(w http.ResponseWriter, r *http.Request) {
	ids, err := s.contexts.ListUserIDs(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"userIds": ids, "count": len(ids)})
}

type contextResponse struct {
	Context     *conversation.Context `json:"context"`
	Paused      bool                  `json:"paused"`
	PausedUntil *time.Time            `json:"pausedUntil,omitempty"`
	UserState   *bot.UserState        `json:"userState,omitempty"`
}

func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")

	cc, err := s.contexts.GetContext(r.Context(), userID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if cc == nil {
		writeError(w, http.StatusNotFound, "no context for user")
		return
	}

	resp := contextResponse{Context: cc}
	if deadline, err := s.gate.Deadline(r.Context(), userID); err == nil && !deadline.IsZero() {
		resp.Paused = true
		resp.PausedUntil = &deadline
	}
	if raw, ok, err := s.kv.Get(r.Context(), store.Key(userID, store.KindUserState)); err == nil && ok {
		var us bot.UserState
		if json.Unmarshal(raw, &us) == nil {
			resp.UserState = &us
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleClearContext(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	if err := s.contexts.ClearContext(r.Context(), userID); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared", "userId": userID})
}

// --- pause / resume ---

type pauseRequest struct {
	UserID     string   `json:"userId,omitempty"`
	UserIDs    []string `json:"userIds,omitempty"`
	DurationMs int64    `json:"durationMs"`
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req pauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	ids := req.UserIDs
	if req.UserID != "" {
		ids = append(ids, req.UserID)
	}
	if len(ids) == 0 {
		writeError(w, http.StatusBadRequest, "userId or userIds is required")
		return
	}

	d := time.Duration(req.DurationMs) * time.Millisecond
	if err := s.gate.PauseMany(r.Context(), ids, d); err != nil {
		writeStoreError(w, err)
		return
	}

	// Refresh the denormalized flag on stored contexts; the gate stays
	// authoritative, so failures here only affect the inspection UI.
	for _, id := range ids {
		if id == store.GlobalPauseUser {
			continue
		}
		_ = s.contexts.SetPausedFlag(r.Context(), id, true)
	}

	until := time.Now().Add(d)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "paused",
		"userIds":     ids,
		"pausedUntil": until,
	})
}

type resumeRequest struct {
	UserID string `json:"userId"`
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req resumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	if err := s.gate.Resume(r.Context(), req.UserID); err != nil {
		writeStoreError(w, err)
		return
	}
	if req.UserID != store.GlobalPauseUser {
		_ = s.contexts.SetPausedFlag(r.Context(), req.UserID, false)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed", "userId": req.UserID})
}

func (s *Server) handlePaused(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")

	deadline, err := s.gate.Deadline(r.Context(), userID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	resp := map[string]any{"userId": userID, "paused": !deadline.IsZero()}
	if !deadline.IsZero() {
		resp["pausedUntil"] = deadline
	}
	writeJSON(w, http.StatusOK, resp)
}
