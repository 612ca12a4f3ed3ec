package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/byteness/throttle/config"
	"github.com/byteness/throttle/errors"
	"github.com/byteness/throttle/logging"
)

// Admin configuration mutations apply to the in-memory snapshot and take
// effect on the next request. They are lost on restart unless persisted
// with POST /admin/config/save.

func (s *Server) handleUserGet(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	snap := s.manager.Snapshot()

	tier, ok := snap.TierForUser(userID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error":   "NOT_FOUND",
			"message": "unknown user",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"tier":    tier,
	})
}

func (s *Server) handleUserPut(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	var req struct {
		Tier string `json:"tier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "BAD_REQUEST",
			"message": "invalid JSON body",
		})
		return
	}

	err := s.manager.Mutate(func(cfg *config.Config) error {
		cfg.Users[userID] = req.Tier
		return nil
	})
	if err != nil {
		writeMutateError(w, err)
		return
	}

	s.logger.LogEvent(logging.EventLogEntry{
		Timestamp: logging.Now(),
		EventType: "user_updated",
		Component: "admin",
		Message:   "user " + userID + " assigned tier " + req.Tier,
	})
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "tier": req.Tier})
}

func (s *Server) handleUserDelete(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	err := s.manager.Mutate(func(cfg *config.Config) error {
		if _, ok := cfg.Users[userID]; !ok {
			return errors.New(errors.KindConfigInvalid, "unknown user")
		}
		delete(cfg.Users, userID)
		// Orphaned credentials would fail validation; remove them with the
		// user.
		for key, id := range cfg.APIKeys {
			if id == userID {
				delete(cfg.APIKeys, key)
			}
		}
		return nil
	})
	if err != nil {
		writeMutateError(w, err)
		return
	}

	s.logger.LogEvent(logging.EventLogEntry{
		Timestamp: logging.Now(),
		EventType: "user_deleted",
		Component: "admin",
		Message:   "user " + userID + " removed",
	})
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "deleted": true})
}

func (s *Server) handleKeyPut(w http.ResponseWriter, r *http.Request) {
	credential := chi.URLParam(r, "credential")
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "BAD_REQUEST",
			"message": "invalid JSON body",
		})
		return
	}

	err := s.manager.Mutate(func(cfg *config.Config) error {
		cfg.APIKeys[credential] = req.UserID
		return nil
	})
	if err != nil {
		writeMutateError(w, err)
		return
	}

	s.logger.LogEvent(logging.EventLogEntry{
		Timestamp: logging.Now(),
		EventType: "key_updated",
		Component: "admin",
		Message:   "credential " + logging.CredentialPrefix(credential) + "... mapped to " + req.UserID,
	})
	writeJSON(w, http.StatusOK, map[string]any{"user_id": req.UserID})
}

func (s *Server) handleKeyDelete(w http.ResponseWriter, r *http.Request) {
	credential := chi.URLParam(r, "credential")

	err := s.manager.Mutate(func(cfg *config.Config) error {
		if _, ok := cfg.APIKeys[credential]; !ok {
			return errors.New(errors.KindConfigInvalid, "unknown credential")
		}
		delete(cfg.APIKeys, credential)
		return nil
	})
	if err != nil {
		writeMutateError(w, err)
		return
	}

	s.logger.LogEvent(logging.EventLogEntry{
		Timestamp: logging.Now(),
		EventType: "key_deleted",
		Component: "admin",
		Message:   "credential " + logging.CredentialPrefix(credential) + "... removed",
	})
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

// handleUnblock lifts an abuse block early and resets the address's attempt
// counter.
func (s *Server) handleUnblock(w http.ResponseWriter, r *http.Request) {
	addr := chi.URLParam(r, "addr")
	if err := s.suppressor.Unblock(r.Context(), addr); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":   "STORE_UNAVAILABLE",
			"message": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"addr": addr, "unblocked": true})
}

// handleConfigSave persists the current in-memory configuration back to the
// file the manager loaded it from.
func (s *Server) handleConfigSave(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Save(); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   "SAVE_FAILED",
			"message": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"saved": true, "path": s.manager.Path()})
}

// handleConfigReload forces a reload from disk, discarding unsaved
// in-memory mutations.
func (s *Server) handleConfigReload(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Reload(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "RELOAD_FAILED",
			"message": err.Error(),
		})
		return
	}
	snap := s.manager.Snapshot()
	tiers, users, keys := snap.Counts()
	writeJSON(w, http.StatusOK, map[string]any{
		"reloaded": true,
		"tiers":    tiers,
		"users":    users,
		"keys":     keys,
	})
}

// writeMutateError maps a failed mutation to a response. Validation
// failures are client errors; anything else is internal.
func writeMutateError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.IsConfigInvalid(err) {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]any{
		"error":   string(errors.KindOf(err)),
		"message": err.Error(),
	})
}
