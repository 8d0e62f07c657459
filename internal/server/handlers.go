package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wayscout-io/wayscout/internal/runner"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	})
}

type detectRequest struct {
	PreferencesPath string `json:"preferences_path"`
	ItineraryPath   string `json:"itinerary_path"`
	MaxEvents       int    `json:"max_events"`
}

type detectWithApprovalsRequest struct {
	detectRequest
	Approvals map[string]bool `json:"approvals"`
}

type approveRequest struct {
	EventID  string `json:"event_id"`
	Approved bool   `json:"approved"`
}

func (s *Server) handleDetectEvents(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := s.runner.Config().RequireGroqKey(); err != nil {
		writeError(w, http.StatusBadRequest, "GROQ API key is not set")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(r.Context(), detectTimeout)
	defer cancel()

	res, err := s.runner.Detect(ctx, s.store, req.PreferencesPath, req.ItineraryPath, req.MaxEvents)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.store.AddHistory(fmt.Sprintf("API run completed with %d events.", len(res.Batch.Events)))
	s.store.MustSave()

	writeJSON(w, http.StatusOK, res.Batch)
}

func (s *Server) handleDetectWithApprovals(w http.ResponseWriter, r *http.Request) {
	var req detectWithApprovalsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := s.runner.Config().RequireGroqKey(); err != nil {
		writeError(w, http.StatusBadRequest, "GROQ API key is not set")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(r.Context(), detectTimeout)
	defer cancel()

	res, err := s.runner.Detect(ctx, s.store, req.PreferencesPath, req.ItineraryPath, req.MaxEvents)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	for _, e := range res.Batch.Events {
		approved, decided := req.Approvals[e.ID]
		if !decided {
			continue
		}
		s.store.SetApproval(e.ID, approved)
		s.store.ResolvePending(e.ID)
	}

	s.store.AddHistory(fmt.Sprintf("API detect+approve completed with %d events.", len(res.Batch.Events)))
	s.store.MustSave()

	if err := s.writeChangeArtifacts(res.Rows); err != nil {
		log.Error().Ctx(r.Context()).Err(err).Msg("failed to write change artifacts")
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events":            res.Batch,
		"approvals_applied": req.Approvals,
	})
}

func (s *Server) handleNextApproval(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := s.store.State.PendingEventIDs
	if len(pending) == 0 {
		writeJSON(w, http.StatusOK, map[string]interface{}{"event": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"event": s.store.EventByID(pending[0]),
	})
}

func (s *Server) handleSubmitApproval(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.EventID == "" {
		writeError(w, http.StatusBadRequest, "event_id is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.store.SetApproval(req.EventID, req.Approved)
	s.store.ResolvePending(req.EventID)
	s.store.AddHistory(fmt.Sprintf("Approval updated: %s -> %t", req.EventID, req.Approved))
	s.store.MustSave()

	if err := s.writeChangeArtifacts(s.store.State.LastItineraryRows); err != nil {
		log.Error().Ctx(r.Context()).Err(err).Msg("failed to write change artifacts")
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"event_id": req.EventID,
		"approved": req.Approved,
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"run_count": s.store.State.RunCount,
		"approvals": s.store.State.Approvals,
		"history":   s.store.State.History,
		"events":    s.store.State.Events,
	})
}

// writeChangeArtifacts refreshes the change reports and, when approved
// changes exist, the patched itinerary. Callers hold the mutex.
func (s *Server) writeChangeArtifacts(rows []map[string]string) error {
	if err := s.runner.WriteOutputs(s.store,
		s.outputsPath(runner.ChangesTextFile),
		s.outputsPath(runner.ChangesJSONFile)); err != nil {
		return err
	}
	return s.runner.ApplyApproved(s.store, rows, s.outputsPath(runner.UpdatedItineraryFile))
}
