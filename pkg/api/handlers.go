package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/vyvern/vyvern/pkg/campaign"
	"github.com/vyvern/vyvern/pkg/registry"
)

type errorResponse struct {
	Error string `json:"error"`
}

type statusResponse struct {
	ID          string `json:"id"`
	CampaignID  string `json:"campaignId"`
	Status      string `json:"status"`
	StartedAt   string `json:"startedAt"`
	FinishedAt  string `json:"finishedAt,omitempty"`
	ErrorDetail string `json:"errorDetail,omitempty"`
}

type messagesResponse struct {
	SessionID string             `json:"sessionId"`
	Messages  []registry.Message `json:"messages"`
}

type startResponse struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"uptime":    time.Since(s.startTime).String(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleCampaignCreate(w http.ResponseWriter, r *http.Request) {
	var c campaign.Campaign
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := c.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.Put(&c); err != nil {
		s.logger.Error().Err(err).Msg("Failed to save campaign")
		s.writeError(w, http.StatusInternalServerError, "failed to save campaign")
		return
	}
	if s.scheduler != nil {
		if err := s.scheduler.Add(&c); err != nil {
			s.logger.Warn().Err(err).Str("campaign_id", c.ID).Msg("Failed to schedule campaign")
		}
	}
	s.writeJSON(w, http.StatusCreated, &c)
}

func (s *Server) handleCampaignList(w http.ResponseWriter, r *http.Request) {
	campaigns, err := s.store.List()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list campaigns")
		s.writeError(w, http.StatusInternalServerError, "failed to list campaigns")
		return
	}
	if campaigns == nil {
		campaigns = []*campaign.Campaign{}
	}
	s.writeJSON(w, http.StatusOK, campaigns)
}

func (s *Server) handleCampaignGet(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.Get(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, campaign.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "campaign not found")
			return
		}
		s.logger.Error().Err(err).Msg("Failed to load campaign")
		s.writeError(w, http.StatusInternalServerError, "failed to load campaign")
		return
	}
	s.writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleCampaignDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.Delete(id); err != nil {
		if errors.Is(err, campaign.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "campaign not found")
			return
		}
		s.logger.Error().Err(err).Msg("Failed to delete campaign")
		s.writeError(w, http.StatusInternalServerError, "failed to delete campaign")
		return
	}
	if s.scheduler != nil {
		s.scheduler.Remove(id)
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// handleCampaignTest launches a session for the campaign immediately and
// returns the session id without waiting for login or any browser work.
func (s *Server) handleCampaignTest(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.Get(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, campaign.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "campaign not found")
			return
		}
		s.logger.Error().Err(err).Msg("Failed to load campaign")
		s.writeError(w, http.StatusInternalServerError, "failed to load campaign")
		return
	}

	sessionID, err := s.sessions.Start(c)
	if err != nil {
		s.logger.Error().Err(err).Str("campaign_id", c.ID).Msg("Failed to start session")
		s.writeError(w, http.StatusInternalServerError, "failed to start session")
		return
	}

	s.logger.Info().
		Str("campaign_id", c.ID).
		Str("session_id", sessionID).
		Msg("Test session started")

	s.writeJSON(w, http.StatusOK, startResponse{
		SessionID: sessionID,
		Status:    string(registry.StatusInitializing),
	})
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	view, ok := s.registry.Get(r.PathValue("id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}

	resp := statusResponse{
		ID:          view.ID,
		CampaignID:  view.CampaignID,
		Status:      string(view.Status),
		StartedAt:   view.StartedAt.Format(time.RFC3339),
		ErrorDetail: view.ErrorDetail,
	}
	if !view.FinishedAt.IsZero() {
		resp.FinishedAt = view.FinishedAt.Format(time.RFC3339)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	view, ok := s.registry.Get(r.PathValue("id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}

	messages := view.Transcript
	if len(messages) == 0 {
		// Pollers arrive before login finishes; give them something to render.
		messages = []registry.Message{{
			Kind:      registry.KindSystem,
			Text:      "Session initializing...",
			Timestamp: view.StartedAt,
		}}
	}

	s.writeJSON(w, http.StatusOK, messagesResponse{
		SessionID: view.ID,
		Messages:  messages,
	})
}

func (s *Server) handleSessionSnapshot(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.registry.Get(id); !ok {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}

	frame, ok := s.sessions.LatestSnapshot(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "no snapshot available")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(frame); err != nil {
		s.logger.Error().Err(err).Msg("Failed to write snapshot")
	}
}

// handleSessionCleanup tears the session down and always acknowledges,
// even when the session is already gone. Pollers retry cleanup on flaky
// connections and a second call must not surface an error.
func (s *Server) handleSessionCleanup(w http.ResponseWriter, r *http.Request) {
	s.sessions.Cleanup(r.PathValue("id"))
	s.writeJSON(w, http.StatusOK, map[string]bool{"ack": true})
}
