// hatch-sync - Hatch Rest device API and Grow-to-Google-Calendar sync
// SPDX-License-Identifier: MIT
// https://github.com/shray7/hatch-sync

// Package models defines the domain types shared across hatch-sync: activity
// records pulled from the Hatch Grow API, Rest device snapshots, sync
// reports, and the JSON response envelope used by the HTTP API.
package models

import (
	"time"
)

// Kind identifies an activity record category in the Grow tracker.
type Kind string

// Activity kinds reported by the Grow API.
const (
	KindDiaper  Kind = "diaper"
	KindFeeding Kind = "feeding"
	KindSleep   Kind = "sleep"
	KindWeight  Kind = "weight"
	KindPhoto   Kind = "photo"
)

// AllKinds lists every known activity kind in a stable order.
var AllKinds = []Kind{KindDiaper, KindFeeding, KindSleep, KindWeight, KindPhoto}

// ParseKind returns the Kind for s, or false if s names no known kind.
// Unknown kinds are tolerated in persisted state (forward compatibility)
// but rejected at the configuration boundary.
func ParseKind(s string) (Kind, bool) {
	k := Kind(s)
	for _, known := range AllKinds {
		if k == known {
			return k, true
		}
	}
	return "", false
}

// ActivityRecord is one real-world event reported by the Grow API.
//
// ExternalID is the vendor-assigned identifier, unique within a Kind and
// stable across repeated fetches. It may be empty for some kinds; the sync
// engine derives an identity in that case. The upstream API gives no
// only-new-records guarantee: the same record can be returned on every poll.
type ActivityRecord struct {
	Kind       Kind           `json:"kind"`
	ExternalID string         `json:"external_id,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	EndedAt    time.Time      `json:"ended_at,omitempty"` // sleep only
	Payload    map[string]any `json:"payload,omitempty"`  // kind-specific, opaque to the engine
}

// PayloadString returns payload[key] as a string, or "".
func (r ActivityRecord) PayloadString(key string) string {
	if s, ok := r.Payload[key].(string); ok {
		return s
	}
	return ""
}

// PayloadNumber returns payload[key] as a float64 and whether it was numeric.
// JSON numbers decode as float64; persisted integers are normalized too.
func (r ActivityRecord) PayloadNumber(key string) (float64, bool) {
	switch v := r.Payload[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// PhotoRecord is one daily photo from the Grow API. DownloadURL is a
// time-boxed presigned URL: consumers must treat a broken image as possible
// expiry, not a hard error.
type PhotoRecord struct {
	ExternalID  string    `json:"external_id,omitempty"`
	TakenAt     time.Time `json:"taken_at"`
	DownloadURL string    `json:"download_url,omitempty"`
	Caption     string    `json:"caption,omitempty"`
}

// Baby identifies one child on the Grow account.
type Baby struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ActivitySnapshot is the full current activity view served to the dashboard.
type ActivitySnapshot struct {
	Babies   []Baby           `json:"babies"`
	Diapers  []ActivityRecord `json:"diapers"`
	Feedings []ActivityRecord `json:"feedings"`
	Sleeps   []ActivityRecord `json:"sleeps"`
	Weights  []ActivityRecord `json:"weights"`
}

// Device is a serialized Hatch Rest device snapshot.
type Device struct {
	DeviceID   string   `json:"device_id"`
	Name       string   `json:"name"`
	Model      string   `json:"model,omitempty"`
	IsOnline   bool     `json:"is_online"`
	Volume     *float64 `json:"volume,omitempty"`
	IsPlaying  *bool    `json:"is_playing,omitempty"`
	AudioTrack string   `json:"audio_track,omitempty"`
}
