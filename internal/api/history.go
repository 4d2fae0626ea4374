package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-capture/internal/history"
)

const (
	defaultHistoryLimit   = 50
	maxHistoryLimit       = 200
	serviceUnavailableKey = "service_unavailable"
)

// handleListRefreshes returns recorded refresh passes, newest first.
func (s *Server) handleListRefreshes(w http.ResponseWriter, r *http.Request) {
	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	since, err := parseSinceParam(r.URL.Query().Get("since"))
	if err != nil {
		writeBadRequest(w, "invalid since timestamp")
		return
	}

	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, serviceUnavailableKey, "history unavailable")
		return
	}

	entries, err := s.history.ListRefreshes(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to load refresh history", "error", err)
		writeInternalError(w, "failed to load refresh history")
		return
	}

	if !since.IsZero() {
		filtered := entries[:0]
		for _, entry := range entries {
			if entry.CreatedAt.After(since) {
				filtered = append(filtered, entry)
			}
		}
		entries = filtered
	}
	if entries == nil {
		entries = []history.RefreshEntry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"refreshes": entries,
		"count":     len(entries),
	})
}

// handleListSelections returns recorded best-match selections for a device.
// The device does not need to be attached any more.
func (s *Server) handleListSelections(w http.ResponseWriter, r *http.Request) {
	deviceID, err := deviceIDParam(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, serviceUnavailableKey, "history unavailable")
		return
	}

	entries, err := s.history.ListSelections(r.Context(), deviceID, limit)
	if err != nil {
		s.logger.Error("failed to load selection history", "device_id", deviceID, "error", err)
		writeInternalError(w, "failed to load selection history")
		return
	}
	if entries == nil {
		entries = []history.SelectionEntry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id":  deviceID,
		"selections": entries,
		"count":      len(entries),
	})
}

// parseHistoryLimit parses and validates the limit query parameter.
func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit")
	}
	if limit > maxHistoryLimit {
		return 0, fmt.Errorf("limit exceeds maximum")
	}

	return limit, nil
}

// parseSinceParam parses the since parameter as RFC3339/RFC3339Nano.
func parseSinceParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}

	parsed, err := time.Parse(time.RFC3339, raw)
	if err == nil {
		return parsed.UTC(), nil
	}

	parsed, err = time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, err
	}

	return parsed.UTC(), nil
}
