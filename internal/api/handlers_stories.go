package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/storygest/internal/generate"
)

const maxRequestBody = 64 << 10

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		jsonError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	var req generate.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	snap, err := s.registry.Generate(userID, req)
	if err != nil {
		if isValidationError(err) {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.log.Error("start generation failed", "user_id", userID, "error", err)
		jsonError(w, "failed to start generation", http.StatusInternalServerError)
		return
	}

	s.log.Info("generation started", "user_id", userID, "session_id", snap.SessionID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"session_id": snap.SessionID,
		"status":     snap.Status,
		"poll_url":   "/api/stories/" + url.PathEscape(userID) + "/status",
	})
}

func isValidationError(err error) bool {
	return errors.Is(err, generate.ErrNothingToTell) ||
		errors.Is(err, generate.ErrMoralTooLong) ||
		errors.Is(err, generate.ErrProfileLength) ||
		errors.Is(err, generate.ErrInjection)
}

func (s *Server) handleStoryStatus(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	v := s.registry.Get(userID)
	if v == nil {
		jsonError(w, "no story for user", http.StatusNotFound)
		return
	}

	snap := v.Snapshot()
	if snap.ContentHash != "" {
		etag := `"` + snap.ContentHash + `"`
		w.Header().Set("ETag", etag)
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

func (s *Server) handleCancelStory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if s.registry.Get(userID) == nil {
		jsonError(w, "no story for user", http.StatusNotFound)
		return
	}

	cancelled := s.registry.Cancel(userID)
	if cancelled {
		s.log.Info("generation cancelled", "user_id", userID)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"cancelled": cancelled})
}

func (s *Server) handleGenerationStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"viewers": s.registry.Len(),
		"stats":   s.registry.Stats(),
	})
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
