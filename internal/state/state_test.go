// hatch-sync - Hatch Rest device API and Grow-to-Google-Calendar sync
// SPDX-License-Identifier: MIT
// https://github.com/shray7/hatch-sync

package state

import (
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shray7/hatch-sync/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestKindStateColdStart(t *testing.T) {
	s := newTestStore(t)

	st, err := s.LoadKindState(42, models.KindDiaper)
	require.NoError(t, err)
	assert.True(t, st.Cursor.IsZero())
	assert.Empty(t, st.Seen)
	assert.NotNil(t, st.Seen, "seen set must be usable without initialization")
}

func TestKindStateRoundTrip(t *testing.T) {
	s := newTestStore(t)

	st := NewKindState()
	st.Cursor = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	st.Seen["101"] = time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)
	st.Seen["102"] = st.Cursor
	require.NoError(t, s.SaveKindState(42, models.KindFeeding, st))

	got, err := s.LoadKindState(42, models.KindFeeding)
	require.NoError(t, err)
	assert.True(t, got.Cursor.Equal(st.Cursor))
	require.Len(t, got.Seen, 2)
	assert.True(t, got.Seen["101"].Equal(st.Seen["101"]))
}

func TestKindStateIsolatedPerKind(t *testing.T) {
	s := newTestStore(t)

	st := NewKindState()
	st.Cursor = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveKindState(42, models.KindDiaper, st))

	other, err := s.LoadKindState(42, models.KindSleep)
	require.NoError(t, err)
	assert.True(t, other.Cursor.IsZero(), "saving one kind must not touch another")
}

func TestKindStateIsolatedPerBaby(t *testing.T) {
	s := newTestStore(t)

	st := NewKindState()
	st.Cursor = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	st.Seen["d1"] = st.Cursor
	require.NoError(t, s.SaveKindState(42, models.KindDiaper, st))

	other, err := s.LoadKindState(43, models.KindDiaper)
	require.NoError(t, err)
	assert.True(t, other.Cursor.IsZero(), "one baby's progress must not leak into another's")
	assert.Empty(t, other.Seen)
}

func TestKindStateCorruptRecord(t *testing.T) {
	s := newTestStore(t)

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(kindStateKey(42, models.KindWeight), []byte("{not json"))
	})
	require.NoError(t, err)

	st, err := s.LoadKindState(42, models.KindWeight)
	assert.ErrorIs(t, err, ErrCorrupt)
	require.NotNil(t, st, "corrupt state must still yield a usable cold-start state")
	assert.True(t, st.Cursor.IsZero())
	assert.Empty(t, st.Seen)
}

func TestPrune(t *testing.T) {
	now := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	st := NewKindState()
	st.Cursor = now.Add(-time.Hour)
	st.Seen["old"] = now.Add(-15 * 24 * time.Hour)
	st.Seen["edge"] = now.Add(-14 * 24 * time.Hour)
	st.Seen["fresh"] = now.Add(-time.Hour)

	removed := st.Prune(now, 14*24*time.Hour, 6*time.Hour)

	assert.Equal(t, 1, removed)
	assert.NotContains(t, st.Seen, "old")
	assert.Contains(t, st.Seen, "edge")
	assert.Contains(t, st.Seen, "fresh")
}

func TestPruneKeepsRefetchableEntries(t *testing.T) {
	now := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	horizon := 14 * 24 * time.Hour
	slack := 6 * time.Hour

	// Sparse kind: the cursor lags behind the horizon, so entries older
	// than the horizon are still inside the next fetch's lower bound.
	st := NewKindState()
	st.Cursor = now.Add(-16 * 24 * time.Hour)
	st.Seen["refetchable"] = now.Add(-15 * 24 * time.Hour)
	st.Seen["beyond"] = st.Cursor.Add(-slack).Add(-time.Minute)

	removed := st.Prune(now, horizon, slack)

	assert.Equal(t, 1, removed)
	assert.Contains(t, st.Seen, "refetchable",
		"entries the next fetch can still return must survive the prune")
	assert.NotContains(t, st.Seen, "beyond")

	// Cold start: zero cursor never triggers a prune.
	cold := NewKindState()
	cold.Seen["x"] = now.Add(-100 * 24 * time.Hour)
	assert.Equal(t, 0, cold.Prune(now, horizon, slack))
}

func TestBindingLifecycle(t *testing.T) {
	s := newTestStore(t)

	b, err := s.Binding(42)
	require.NoError(t, err)
	assert.Nil(t, b)

	first := CalendarBinding{CalendarID: "cal-1", BabyName: "Quinn", CreatedAt: time.Now().UTC()}
	got, err := s.SetBindingIfAbsent(42, first)
	require.NoError(t, err)
	assert.Equal(t, "cal-1", got.CalendarID)

	// A second writer loses: the existing binding wins.
	second := CalendarBinding{CalendarID: "cal-2", BabyName: "Quinn"}
	got, err = s.SetBindingIfAbsent(42, second)
	require.NoError(t, err)
	assert.Equal(t, "cal-1", got.CalendarID)

	b, err = s.Binding(42)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, "cal-1", b.CalendarID)
	assert.Equal(t, "Quinn", b.BabyName)
}

func TestLastReportRoundTrip(t *testing.T) {
	s := newTestStore(t)

	r, err := s.LastReport()
	require.NoError(t, err)
	assert.Nil(t, r)

	report := models.NewSyncReport(time.Now().UTC())
	report.FinishedAt = report.StartedAt.Add(2 * time.Second)
	report.RecordKind(models.KindDiaper, models.KindReport{Fetched: 3, Created: 2, Skipped: 1})
	require.NoError(t, s.SaveLastReport(report))

	got, err := s.LastReport()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.EventsCreated)
	assert.Equal(t, 3, got.Kinds[models.KindDiaper].Fetched)
}

func TestStatePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)
	st := NewKindState()
	st.Cursor = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	st.Seen["7"] = st.Cursor
	require.NoError(t, s.SaveKindState(42, models.KindSleep, st))
	require.NoError(t, s.Close())

	s2, err := Open(dir)
	require.NoError(t, err)
	defer func() { _ = s2.Close() }()

	got, err := s2.LoadKindState(42, models.KindSleep)
	require.NoError(t, err)
	assert.True(t, got.Cursor.Equal(st.Cursor))
	assert.Contains(t, got.Seen, "7")
}
