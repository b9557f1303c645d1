// hatch-sync - Hatch Rest device API and Grow-to-Google-Calendar sync
// SPDX-License-Identifier: MIT
// https://github.com/shray7/hatch-sync

package hatch

import "errors"

// Failure taxonomy for upstream calls. Callers branch with errors.Is; the
// concrete message travels wrapped alongside the sentinel.
var (
	// ErrAuth means credentials are invalid or expired. Never retried
	// automatically; surfaced on /health and in the sync report.
	ErrAuth = errors.New("hatch: authentication failed")

	// ErrUnavailable means a transient network or server failure (5xx,
	// timeouts, exhausted rate-limit retries). Safe to retry on the next
	// scheduled pass, never within one.
	ErrUnavailable = errors.New("hatch: upstream unavailable")

	// ErrNotFound means the requested resource does not exist (unknown
	// device, unknown audio track). Never retried.
	ErrNotFound = errors.New("hatch: not found")
)

// ErrorClass returns the metrics label for an upstream error.
func ErrorClass(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "other"
	}
}
