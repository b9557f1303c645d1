// hatch-sync - Hatch Rest device API and Grow-to-Google-Calendar sync
// SPDX-License-Identifier: MIT
// https://github.com/shray7/hatch-sync

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/shray7/hatch-sync/internal/cache"
	"github.com/shray7/hatch-sync/internal/config"
	"github.com/shray7/hatch-sync/internal/hatch"
	"github.com/shray7/hatch-sync/internal/models"
	"github.com/shray7/hatch-sync/internal/state"
	syncengine "github.com/shray7/hatch-sync/internal/sync"
)

// Handlers holds the dependencies of every endpoint.
type Handlers struct {
	cfg       *config.Config
	upstream  hatch.Client
	cache     *cache.Cache
	manager   *syncengine.Manager
	store     *state.Store
	startedAt time.Time
}

// NewHandlers wires the endpoint handlers.
func NewHandlers(cfg *config.Config, upstream hatch.Client, c *cache.Cache, manager *syncengine.Manager, store *state.Store) *Handlers {
	return &Handlers{
		cfg:       cfg,
		upstream:  upstream,
		cache:     c,
		manager:   manager,
		store:     store,
		startedAt: time.Now(),
	}
}

// Root serves a small service descriptor so hitting the base URL is useful.
func (h *Handlers) Root(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, false, map[string]any{
		"service": "hatch-sync",
		"endpoints": []string{
			"/health", "/grow/data", "/grow/photos", "/sync",
			"/devices", "/devices/{deviceID}", "/metrics",
		},
	})
}

// Health reports liveness plus degraded-mode signals. It never calls the
// upstream API: health must stay cheap and cannot flap with Hatch outages.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := models.HealthStatus{
		Status:          "ok",
		HatchConfigured: h.cfg.Hatch.Configured(),
		StateStoreOK:    h.store.Ping() == nil,
		Uptime:          time.Since(h.startedAt).Seconds(),
	}
	if !status.StateStoreOK {
		status.Status = "degraded"
	}
	if last := h.manager.LastReport(); last != nil && !last.FinishedAt.IsZero() {
		t := last.FinishedAt
		status.LastSyncTime = &t
	}
	respondJSON(w, http.StatusOK, false, status)
}

// GrowData serves the full activity snapshot, memoized for the configured
// cache TTL so dashboard refreshes do not hammer the Grow API.
func (h *Handlers) GrowData(w http.ResponseWriter, r *http.Request) {
	key := cache.Key("grow:data")
	_, cached := h.cache.Get(key)

	v, err := h.cache.GetOrCompute(key, func() (any, error) {
		return h.buildSnapshot(r)
	})
	if err != nil {
		respondUpstreamError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cached, v)
}

func (h *Handlers) buildSnapshot(r *http.Request) (*models.ActivitySnapshot, error) {
	ctx := r.Context()
	babies, err := h.upstream.ListBabies(ctx)
	if err != nil {
		return nil, err
	}

	snapshot := &models.ActivitySnapshot{Babies: babies}
	for _, baby := range babies {
		for _, kind := range []models.Kind{models.KindDiaper, models.KindFeeding, models.KindSleep, models.KindWeight} {
			records, err := h.upstream.ListActivity(ctx, baby.ID, kind, time.Time{})
			if err != nil {
				return nil, err
			}
			switch kind {
			case models.KindDiaper:
				snapshot.Diapers = append(snapshot.Diapers, records...)
			case models.KindFeeding:
				snapshot.Feedings = append(snapshot.Feedings, records...)
			case models.KindSleep:
				snapshot.Sleeps = append(snapshot.Sleeps, records...)
			case models.KindWeight:
				snapshot.Weights = append(snapshot.Weights, records...)
			}
		}
	}
	return snapshot, nil
}

// GrowPhotos serves the daily photo list across all babies, memoized like
// GrowData. Download URLs are presigned and expire upstream.
func (h *Handlers) GrowPhotos(w http.ResponseWriter, r *http.Request) {
	key := cache.Key("grow:photos")
	_, cached := h.cache.Get(key)

	v, err := h.cache.GetOrCompute(key, func() (any, error) {
		ctx := r.Context()
		babies, err := h.upstream.ListBabies(ctx)
		if err != nil {
			return nil, err
		}
		photos := make([]models.PhotoRecord, 0)
		for _, baby := range babies {
			p, err := h.upstream.ListPhotos(ctx, baby.ID)
			if err != nil {
				return nil, err
			}
			photos = append(photos, p...)
		}
		return photos, nil
	})
	if err != nil {
		respondUpstreamError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cached, map[string]any{"photos": v})
}

// TriggerSync runs a sync pass immediately. A pass already in flight yields
// 409 rather than queuing a second one.
func (h *Handlers) TriggerSync(w http.ResponseWriter, r *http.Request) {
	report, err := h.manager.Trigger(r.Context())
	if err != nil && report == nil {
		respondUpstreamError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, false, report)
}

// ListDevices serves all Rest devices on the account.
func (h *Handlers) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.upstream.ListDevices(r.Context())
	if err != nil {
		respondUpstreamError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, false, map[string]any{"devices": devices})
}

// GetDevice serves one Rest device by ID.
func (h *Handlers) GetDevice(w http.ResponseWriter, r *http.Request) {
	device, err := h.upstream.GetDevice(r.Context(), chi.URLParam(r, "deviceID"))
	if err != nil {
		respondUpstreamError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, false, device)
}

// SetVolume updates a device's volume from a JSON body {"volume": 0.0-1.0}.
func (h *Handlers) SetVolume(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Volume *float64 `json:"volume"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Volume == nil {
		respondError(w, http.StatusBadRequest, "invalid_body",
			`request body must be {"volume": <0.0-1.0>}`, nil)
		return
	}
	if *body.Volume < 0 || *body.Volume > 1 {
		respondError(w, http.StatusBadRequest, "invalid_volume",
			"volume must be between 0.0 and 1.0", nil)
		return
	}

	device, err := h.upstream.SetVolume(r.Context(), chi.URLParam(r, "deviceID"), *body.Volume)
	if err != nil {
		respondUpstreamError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, false, device)
}

// SetAudioTrack updates a device's sound from the track_name query
// parameter. Unknown track names yield 404.
func (h *Handlers) SetAudioTrack(w http.ResponseWriter, r *http.Request) {
	trackName := r.URL.Query().Get("track_name")
	if trackName == "" {
		respondError(w, http.StatusBadRequest, "missing_track_name",
			"track_name query parameter is required", nil)
		return
	}

	device, err := h.upstream.SetAudioTrack(r.Context(), chi.URLParam(r, "deviceID"), trackName)
	if err != nil {
		respondUpstreamError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, false, device)
}
