// hatch-sync - Hatch Rest device API and Grow-to-Google-Calendar sync
// SPDX-License-Identifier: MIT
// https://github.com/shray7/hatch-sync

// Package api provides the HTTP surface of hatch-sync: the Grow activity
// dashboard endpoints, Rest device control, the manual sync trigger, and
// health plus Prometheus metrics. Routing uses Chi.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/shray7/hatch-sync/internal/calendar"
	"github.com/shray7/hatch-sync/internal/hatch"
	"github.com/shray7/hatch-sync/internal/logging"
	"github.com/shray7/hatch-sync/internal/models"
	syncengine "github.com/shray7/hatch-sync/internal/sync"
)

// respondJSON sends a JSON envelope with proper headers.
func respondJSON(w http.ResponseWriter, status int, cached bool, data any) {
	response := &models.APIResponse{
		Status: "success",
		Data:   data,
		Metadata: models.Metadata{
			Timestamp: time.Now().UTC(),
			Cached:    cached,
		},
	}
	writeResponse(w, status, response)
}

// respondError sends a structured error envelope.
func respondError(w http.ResponseWriter, status int, code, message string, err error) {
	if err != nil {
		logging.Error().Str("code", code).Err(err).Msg("API error")
	}
	writeResponse(w, status, &models.APIResponse{
		Status:   "error",
		Metadata: models.Metadata{Timestamp: time.Now().UTC()},
		Error:    &models.APIError{Code: code, Message: message},
	})
}

func writeResponse(w http.ResponseWriter, status int, response *models.APIResponse) {
	w.Header().Set("Content-Type", "application/json")

	data, err := json.Marshal(response)
	if err != nil {
		logging.Error().Err(err).Msg("failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("failed to write JSON response")
	}
}

// respondUpstreamError maps the error taxonomy onto HTTP statuses:
// auth and unavailable become 503 (the server itself is fine, its upstream
// is not), unknown resources become 404.
func respondUpstreamError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, hatch.ErrAuth) || errors.Is(err, calendar.ErrAuth):
		respondError(w, http.StatusServiceUnavailable, "upstream_auth",
			"upstream credentials rejected or missing", err)
	case errors.Is(err, hatch.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, hatch.ErrUnavailable) || errors.Is(err, calendar.ErrUnavailable):
		respondError(w, http.StatusServiceUnavailable, "upstream_unavailable",
			"upstream service unavailable, try again later", err)
	case errors.Is(err, syncengine.ErrSyncInProgress):
		respondError(w, http.StatusConflict, "sync_in_progress",
			"a sync pass is already running", nil)
	default:
		respondError(w, http.StatusInternalServerError, "internal", "internal server error", err)
	}
}
