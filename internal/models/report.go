// hatch-sync - Hatch Rest device API and Grow-to-Google-Calendar sync
// SPDX-License-Identifier: MIT
// https://github.com/shray7/hatch-sync

package models

import "time"

// KindReport aggregates what one sync pass did for a single activity kind.
type KindReport struct {
	Fetched int    `json:"fetched"`
	Created int    `json:"created"`
	Skipped int    `json:"skipped"` // already-seen duplicates
	Error   string `json:"error,omitempty"`
}

// SyncReport summarizes one synchronization pass across all kinds.
// A kind-level error stops that kind only; sibling kinds still run, so a
// report can carry both created events and errors.
type SyncReport struct {
	StartedAt     time.Time           `json:"started_at"`
	FinishedAt    time.Time           `json:"finished_at"`
	EventsCreated int                 `json:"events_created"`
	Kinds         map[Kind]KindReport `json:"kinds"`
	Errors        []string            `json:"errors,omitempty"`
}

// NewSyncReport returns an empty report stamped with the start time.
func NewSyncReport(now time.Time) *SyncReport {
	return &SyncReport{
		StartedAt: now,
		Kinds:     make(map[Kind]KindReport),
	}
}

// RecordKind stores the per-kind outcome and folds it into the totals.
func (r *SyncReport) RecordKind(kind Kind, kr KindReport) {
	r.Kinds[kind] = kr
	r.EventsCreated += kr.Created
	if kr.Error != "" {
		r.Errors = append(r.Errors, string(kind)+": "+kr.Error)
	}
}

// HealthStatus is the /health payload. Credential values are never exposed,
// only whether they are configured.
type HealthStatus struct {
	Status          string     `json:"status"`
	HatchConfigured bool       `json:"hatch_configured"`
	StateStoreOK    bool       `json:"state_store_ok"`
	LastSyncTime    *time.Time `json:"last_sync_time,omitempty"`
	Uptime          float64    `json:"uptime_seconds"`
}

// APIResponse is the envelope for every JSON response.
type APIResponse struct {
	Status   string    `json:"status"`
	Data     any       `json:"data"`
	Metadata Metadata  `json:"metadata"`
	Error    *APIError `json:"error,omitempty"`
}

// Metadata carries response metadata for observability.
type Metadata struct {
	Timestamp time.Time `json:"timestamp"`
	Cached    bool      `json:"cached,omitempty"`
}

// APIError is a structured error payload with a machine-readable code.
type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}
