// hatch-sync - Hatch Rest device API and Grow-to-Google-Calendar sync
// SPDX-License-Identifier: MIT
// https://github.com/shray7/hatch-sync

// Package sync turns Grow activity records into Google Calendar events.
//
// The engine is at-least-once against upstream (the Grow API re-sends old
// records freely) and converges on exactly-once calendar writes through two
// pieces of durable state per baby per kind: a cursor (newest occurredAt
// synced) and a seen set (identity -> occurredAt) covering the retention
// horizon. Each pass fetches from cursor minus a slack window, skips
// identities already seen, and creates events oldest first so the cursor
// only moves past records that made it into the calendar.
//
// Failures stop the affected kind for the rest of the pass; state saved up
// to that point makes the next pass resume exactly where this one stopped.
// Sibling kinds, and babies already completed this pass, are unaffected.
package sync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/shray7/hatch-sync/internal/calendar"
	"github.com/shray7/hatch-sync/internal/config"
	"github.com/shray7/hatch-sync/internal/hatch"
	"github.com/shray7/hatch-sync/internal/logging"
	"github.com/shray7/hatch-sync/internal/metrics"
	"github.com/shray7/hatch-sync/internal/models"
	"github.com/shray7/hatch-sync/internal/state"
)

// Engine runs sync passes. It holds no mutable state of its own: everything
// durable lives in the state store, so concurrent-use protection is the
// Manager's job.
type Engine struct {
	upstream   hatch.Client
	cal        calendar.Client
	store      *state.Store
	cfg        *config.SyncConfig
	shareEmail string

	// now is replaceable in tests.
	now func() time.Time
}

// NewEngine wires the sync engine.
func NewEngine(upstream hatch.Client, cal calendar.Client, store *state.Store, cfg *config.SyncConfig, google *config.GoogleConfig) *Engine {
	return &Engine{
		upstream:   upstream,
		cal:        cal,
		store:      store,
		cfg:        cfg,
		shareEmail: google.CalendarShareEmail,
		now:        time.Now,
	}
}

// Kinds returns the configured activity kinds in stable order. Unknown
// names are dropped with a warning rather than failing the pass.
func (e *Engine) Kinds() []models.Kind {
	kinds := make([]models.Kind, 0, len(e.cfg.Kinds))
	for _, s := range e.cfg.Kinds {
		k, ok := models.ParseKind(s)
		if !ok {
			logging.Warn().Str("kind", s).Msg("ignoring unknown sync kind")
			continue
		}
		kinds = append(kinds, k)
	}
	return kinds
}

// RunPass executes one full synchronization pass and returns its report.
// The returned error is non-nil only when the pass could not run at all
// (login failure, no babies reachable); per-kind failures land in the
// report instead.
func (e *Engine) RunPass(ctx context.Context) (*models.SyncReport, error) {
	start := e.now().UTC()
	report := models.NewSyncReport(start)
	defer func() {
		report.FinishedAt = e.now().UTC()
		metrics.SyncPassDuration.Observe(report.FinishedAt.Sub(start).Seconds())
	}()

	babies, err := e.upstream.ListBabies(ctx)
	if err != nil {
		report.Errors = append(report.Errors, "list babies: "+err.Error())
		return report, fmt.Errorf("list babies: %w", err)
	}
	if len(babies) == 0 {
		logging.Info().Msg("sync pass found no babies on account, nothing to do")
		return report, nil
	}

	binder := newBinder(e)
	for _, kind := range e.Kinds() {
		kr := e.syncKind(ctx, kind, babies, binder)
		report.RecordKind(kind, kr)

		label := string(kind)
		metrics.SyncRecordsFetched.WithLabelValues(label).Add(float64(kr.Fetched))
		metrics.SyncEventsCreated.WithLabelValues(label).Add(float64(kr.Created))
		metrics.SyncRecordsSkipped.WithLabelValues(label).Add(float64(kr.Skipped))
		if kr.Error != "" {
			metrics.SyncKindErrors.WithLabelValues(label).Inc()
		}
	}

	if err := e.store.SaveLastReport(report); err != nil {
		logging.Error().Err(err).Msg("failed to persist sync report")
	}
	logging.Info().
		Int("events_created", report.EventsCreated).
		Int("errors", len(report.Errors)).
		Msg("sync pass complete")
	return report, nil
}

// syncKind syncs one activity kind across all babies. Each baby carries
// its own cursor and seen set, loaded and persisted around its fetch, so a
// failure on one baby never moves another baby's cursor. The first failure
// stops the kind for the rest of the pass; untouched babies resume from
// their own state next time.
func (e *Engine) syncKind(ctx context.Context, kind models.Kind, babies []models.Baby, binder *binder) models.KindReport {
	var kr models.KindReport
	now := e.now().UTC()

	for _, baby := range babies {
		st, err := e.store.LoadKindState(baby.ID, kind)
		if err != nil && !errors.Is(err, state.ErrCorrupt) {
			kr.Error = "load state: " + err.Error()
			break
		}

		records, err := e.upstream.ListActivity(ctx, baby.ID, kind, e.fetchSince(st.Cursor, now))
		if err != nil {
			kr.Error = "fetch: " + err.Error()
			break
		}
		kr.Fetched += len(records)

		applyErr := e.applyRecords(ctx, baby, records, st, &kr, binder)

		st.Prune(now, e.cfg.SeenHorizon, e.cfg.LookbackSlack)
		if err := e.store.SaveKindState(baby.ID, kind, st); err != nil {
			logging.Error().Str("kind", string(kind)).Int64("baby_id", baby.ID).Err(err).
				Msg("failed to persist sync state")
			if applyErr == nil {
				applyErr = fmt.Errorf("save state: %w", err)
			}
		}

		if applyErr != nil {
			kr.Error = applyErr.Error()
			break
		}
	}

	if kr.Error != "" {
		logging.Warn().Str("kind", string(kind)).Str("error", kr.Error).
			Int("created", kr.Created).Msg("sync kind stopped on failure")
	}
	return kr
}

// fetchSince computes the lower bound for an upstream fetch: the cursor
// minus the slack window, or the initial lookback on cold start.
func (e *Engine) fetchSince(cursor, now time.Time) time.Time {
	if cursor.IsZero() {
		return now.Add(-e.cfg.InitialLookback)
	}
	return cursor.Add(-e.cfg.LookbackSlack)
}

// applyRecords walks one baby's records oldest first and creates an event
// per unseen identity. A calendar failure aborts immediately so the cursor
// never moves past an unsynced record.
func (e *Engine) applyRecords(ctx context.Context, baby models.Baby, records []models.ActivityRecord, st *state.KindState, kr *models.KindReport, binder *binder) error {
	for _, rec := range records {
		id := identityFor(rec)
		if _, seen := st.Seen[id]; seen {
			kr.Skipped++
			continue
		}

		calID, err := binder.calendarID(ctx, baby)
		if err != nil {
			return fmt.Errorf("calendar binding: %w", err)
		}

		ev := buildEvent(rec)
		if _, err := e.cal.CreateEvent(ctx, calID, ev); err != nil {
			return fmt.Errorf("create event: %w", err)
		}

		st.Seen[id] = rec.OccurredAt
		if rec.OccurredAt.After(st.Cursor) {
			st.Cursor = rec.OccurredAt
		}
		kr.Created++
	}
	return nil
}

// identityFor returns a record's stable identity: the vendor ID when the
// API provides one, otherwise a content hash over the fields that define
// the real-world event. Either way the identity survives re-fetches.
func identityFor(rec models.ActivityRecord) string {
	if rec.ExternalID != "" {
		return rec.ExternalID
	}
	payload, _ := json.Marshal(rec.Payload) // map keys marshal sorted
	h := sha256.Sum256([]byte(string(rec.Kind) + "|" + rec.OccurredAt.UTC().Format(time.RFC3339Nano) + "|" + string(payload)))
	return "h:" + hex.EncodeToString(h[:8])
}

// binder resolves and memoizes the per-baby calendar for one pass. The
// calendar is only created when a baby's first event actually needs it.
type binder struct {
	engine *Engine
	cache  map[int64]string
}

func newBinder(e *Engine) *binder {
	return &binder{engine: e, cache: make(map[int64]string)}
}

func (b *binder) calendarID(ctx context.Context, baby models.Baby) (string, error) {
	if id, ok := b.cache[baby.ID]; ok {
		return id, nil
	}

	if existing, err := b.engine.store.Binding(baby.ID); err != nil {
		return "", err
	} else if existing != nil {
		b.cache[baby.ID] = existing.CalendarID
		return existing.CalendarID, nil
	}

	name := baby.Name + " - Baby Tracker"
	calID, err := b.engine.cal.EnsureCalendar(ctx, name, b.engine.shareEmail)
	if err != nil {
		return "", err
	}

	bound, err := b.engine.store.SetBindingIfAbsent(baby.ID, state.CalendarBinding{
		CalendarID: calID,
		BabyName:   baby.Name,
		CreatedAt:  b.engine.now().UTC(),
	})
	if err != nil {
		return "", err
	}
	b.cache[baby.ID] = bound.CalendarID
	return bound.CalendarID, nil
}

// Event durations for kinds without an upstream end timestamp.
const (
	pointEventDuration = 5 * time.Minute
	feedingFallback    = 30 * time.Minute
	sleepFallback      = 60 * time.Minute
)

// buildEvent formats one activity record as a calendar event.
func buildEvent(rec models.ActivityRecord) calendar.Event {
	switch rec.Kind {
	case models.KindDiaper:
		return diaperEvent(rec)
	case models.KindFeeding:
		return feedingEvent(rec)
	case models.KindSleep:
		return sleepEvent(rec)
	case models.KindWeight:
		return weightEvent(rec)
	case models.KindPhoto:
		return photoEvent(rec)
	}
	return calendar.Event{
		Summary: string(rec.Kind),
		Start:   rec.OccurredAt,
		End:     rec.OccurredAt.Add(pointEventDuration),
	}
}

func diaperEvent(rec models.ActivityRecord) calendar.Event {
	dtype := rec.PayloadString("diaperType")
	if dtype == "" {
		dtype = "Diaper"
	}
	return calendar.Event{
		Summary:     "Diaper - " + dtype,
		Description: strings.TrimSpace(rec.PayloadString("details")),
		Start:       rec.OccurredAt,
		End:         rec.OccurredAt.Add(pointEventDuration),
	}
}

func feedingEvent(rec models.ActivityRecord) calendar.Event {
	method := rec.PayloadString("method")
	if method == "" {
		method = "Feeding"
	}
	parts := []string{method}
	if source := rec.PayloadString("source"); source != "" {
		parts = append(parts, source)
	}
	if amount, ok := rec.PayloadNumber("amount"); ok {
		parts = append(parts, formatNumber(amount)+"g")
	}

	var description string
	if secs, ok := rec.PayloadNumber("durationInSeconds"); ok {
		d := int(secs)
		description = fmt.Sprintf("Duration: %dm %ds", d/60, d%60)
	}

	end := rec.EndedAt
	if end.IsZero() {
		end = rec.OccurredAt.Add(feedingFallback)
	}
	return calendar.Event{
		Summary:     "Feeding - " + strings.Join(parts, " "),
		Description: description,
		Start:       rec.OccurredAt,
		End:         end,
	}
}

func sleepEvent(rec models.ActivityRecord) calendar.Event {
	end := rec.EndedAt
	if end.IsZero() {
		end = rec.OccurredAt.Add(sleepFallback)
	}
	minutes := int(end.Sub(rec.OccurredAt).Minutes())
	return calendar.Event{
		Summary: fmt.Sprintf("Sleep - %dm", minutes),
		Start:   rec.OccurredAt,
		End:     end,
	}
}

func weightEvent(rec models.ActivityRecord) calendar.Event {
	summary := "Weight"
	if grams, ok := rec.PayloadNumber("weight"); ok {
		summary = "Weight - " + formatNumber(grams) + "g"
	} else if grams, ok := rec.PayloadNumber("weightInGrams"); ok {
		summary = "Weight - " + formatNumber(grams) + "g"
	}
	return calendar.Event{
		Summary: summary,
		Start:   rec.OccurredAt,
		End:     rec.OccurredAt.Add(pointEventDuration),
	}
}

func photoEvent(rec models.ActivityRecord) calendar.Event {
	return calendar.Event{
		Summary:     "Photo",
		Description: rec.PayloadString("caption"),
		Start:       rec.OccurredAt,
		End:         rec.OccurredAt.Add(pointEventDuration),
	}
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
