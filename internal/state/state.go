// hatch-sync - Hatch Rest device API and Grow-to-Google-Calendar sync
// SPDX-License-Identifier: MIT
// https://github.com/shray7/hatch-sync

// Package state persists the sync engine's durable state in BadgerDB: one
// cursor-plus-seen-set record per baby per activity kind, the
// baby-to-calendar bindings, and the last completed sync report.
//
// Each (baby, kind) state lives under its own key and is written in a
// single transaction, so a crash mid-pass never mixes one baby's or kind's
// progress into another's, and a baby added to the account later starts
// from its own cold-start window.
package state

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/shray7/hatch-sync/internal/logging"
	"github.com/shray7/hatch-sync/internal/models"
)

// Key prefixes for BadgerDB storage.
const (
	kindStateKeyPrefix = "sync:kind:"
	bindingKeyPrefix   = "calendar:binding:"
	lastReportKey      = "sync:last_report"
)

// ErrCorrupt marks a persisted value that could not be decoded. Callers
// treat it as a cold start for the affected record, never as fatal.
var ErrCorrupt = errors.New("corrupt state record")

// KindState is the durable sync progress for one baby and one kind.
//
// Cursor is the watermark: the newest occurredAt successfully synced.
// Seen maps externalId to occurredAt for every record already turned into
// a calendar event inside the retention horizon; it is what makes re-fetches
// of old records idempotent.
type KindState struct {
	Cursor time.Time            `json:"cursor"`
	Seen   map[string]time.Time `json:"seen"`
}

// NewKindState returns the zero (cold start) state.
func NewKindState() *KindState {
	return &KindState{Seen: make(map[string]time.Time)}
}

// Prune drops seen entries that can never be fetch candidates again. The
// next fetch's lower bound is cursor minus slack, so nothing older than
// that is ever returned; the horizon additionally bounds the set once the
// cursor is current. A sparse kind whose cursor lags the horizon keeps its
// still-refetchable entries.
func (s *KindState) Prune(now time.Time, horizon, slack time.Duration) int {
	cutoff := now.Add(-horizon)
	if refetch := s.Cursor.Add(-slack); refetch.Before(cutoff) {
		cutoff = refetch
	}
	removed := 0
	for id, occurred := range s.Seen {
		if occurred.Before(cutoff) {
			delete(s.Seen, id)
			removed++
		}
	}
	return removed
}

// Store is the BadgerDB-backed persistence layer.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the state database at dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open state db at %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// NewStore wraps an already-open BadgerDB handle.
func NewStore(db *badger.DB) *Store {
	return &Store{db: db}
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is usable. Used by the health endpoint.
func (s *Store) Ping() error {
	return s.db.View(func(txn *badger.Txn) error { return nil })
}

// LoadKindState returns the persisted state for one baby and kind. A
// missing record yields a fresh zero state (cold start). An unreadable
// record yields a zero state plus ErrCorrupt so the caller can log loudly
// and resync.
func (s *Store) LoadKindState(babyID int64, kind models.Kind) (*KindState, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(kindStateKey(babyID, kind))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get %s state for baby %d: %w", kind, babyID, err)
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	if data == nil {
		return NewKindState(), nil
	}

	var st KindState
	if err := json.Unmarshal(data, &st); err != nil {
		logging.Warn().Str("kind", string(kind)).Int64("baby_id", babyID).Err(err).
			Msg("discarding unreadable sync state, cold start for kind")
		return NewKindState(), fmt.Errorf("%w: %s baby %d: %v", ErrCorrupt, kind, babyID, err)
	}
	if st.Seen == nil {
		st.Seen = make(map[string]time.Time)
	}
	return &st, nil
}

// SaveKindState persists one baby's state for kind in one transaction.
func (s *Store) SaveKindState(babyID int64, kind models.Kind, st *KindState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal %s state: %w", kind, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(kindStateKey(babyID, kind), data)
	})
}

func kindStateKey(babyID int64, kind models.Kind) []byte {
	return []byte(fmt.Sprintf("%s%d:%s", kindStateKeyPrefix, babyID, kind))
}

// CalendarBinding records which Google calendar a baby's events go to.
type CalendarBinding struct {
	CalendarID string    `json:"calendar_id"`
	BabyName   string    `json:"baby_name"`
	CreatedAt  time.Time `json:"created_at"`
}

// Binding returns the calendar binding for a baby, or nil when none exists.
func (s *Store) Binding(babyID int64) (*CalendarBinding, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(bindingKey(babyID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get binding for baby %d: %w", babyID, err)
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}

	var b CalendarBinding
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("%w: binding for baby %d: %v", ErrCorrupt, babyID, err)
	}
	return &b, nil
}

// SetBindingIfAbsent stores the binding unless one already exists, and
// returns the binding in effect afterwards. The check and write share a
// transaction, so concurrent writers converge on a single calendar.
func (s *Store) SetBindingIfAbsent(babyID int64, b CalendarBinding) (*CalendarBinding, error) {
	winner := b
	err := s.db.Update(func(txn *badger.Txn) error {
		key := bindingKey(babyID)
		item, err := txn.Get(key)
		if err == nil {
			return item.Value(func(val []byte) error {
				if uerr := json.Unmarshal(val, &winner); uerr != nil {
					return fmt.Errorf("%w: binding for baby %d: %v", ErrCorrupt, babyID, uerr)
				}
				return nil
			})
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("get binding for baby %d: %w", babyID, err)
		}

		data, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("marshal binding: %w", err)
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return nil, err
	}
	return &winner, nil
}

func bindingKey(babyID int64) []byte {
	return []byte(fmt.Sprintf("%s%d", bindingKeyPrefix, babyID))
}

// SaveLastReport persists the most recent sync report so the health
// endpoint can show last-sync time across restarts.
func (s *Store) SaveLastReport(r *models.SyncReport) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal sync report: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(lastReportKey), data)
	})
}

// LastReport returns the persisted sync report, or nil when no pass has
// completed yet.
func (s *Store) LastReport() (*models.SyncReport, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(lastReportKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get last report: %w", err)
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}

	var r models.SyncReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: last report: %v", ErrCorrupt, err)
	}
	return &r, nil
}
