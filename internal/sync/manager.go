// hatch-sync - Hatch Rest device API and Grow-to-Google-Calendar sync
// SPDX-License-Identifier: MIT
// https://github.com/shray7/hatch-sync

package sync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shray7/hatch-sync/internal/config"
	"github.com/shray7/hatch-sync/internal/logging"
	"github.com/shray7/hatch-sync/internal/metrics"
	"github.com/shray7/hatch-sync/internal/models"
	"github.com/shray7/hatch-sync/internal/state"
)

// ErrSyncInProgress is returned when a trigger arrives while a pass is
// already running. The API maps it to 409 Conflict.
var ErrSyncInProgress = errors.New("sync already in progress")

// Manager serializes sync passes: one scheduler tick or manual trigger runs
// at a time, and overlapping triggers are rejected rather than queued. A
// tick that lands during a long pass is skipped entirely; the next interval
// picks up whatever the missed one would have.
type Manager struct {
	engine   *Engine
	store    *state.Store
	interval time.Duration
	enabled  bool

	// runMu is held for the full duration of a pass.
	runMu sync.Mutex

	mu   sync.RWMutex
	last *models.SyncReport

	cron *cron.Cron
}

// NewManager wires the manager. The last persisted report (if any) seeds
// LastReport so /health shows the previous sync time across restarts.
func NewManager(engine *Engine, store *state.Store, cfg *config.SyncConfig) *Manager {
	m := &Manager{
		engine:   engine,
		store:    store,
		interval: cfg.Interval,
		enabled:  cfg.Enabled,
	}
	if last, err := store.LastReport(); err != nil {
		logging.Warn().Err(err).Msg("could not load previous sync report")
	} else {
		m.last = last
	}
	return m
}

// Trigger runs one sync pass now. Returns ErrSyncInProgress without
// blocking when a pass is already running.
func (m *Manager) Trigger(ctx context.Context) (*models.SyncReport, error) {
	if !m.runMu.TryLock() {
		metrics.SyncPassesSkipped.Inc()
		return nil, ErrSyncInProgress
	}
	defer m.runMu.Unlock()

	report, err := m.engine.RunPass(ctx)

	m.mu.Lock()
	m.last = report
	m.mu.Unlock()

	return report, err
}

// LastReport returns the most recent sync report, or nil before any pass.
func (m *Manager) LastReport() *models.SyncReport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Start launches the periodic scheduler and kicks off an immediate first
// pass in the background. No-op when sync is disabled.
func (m *Manager) Start() {
	if !m.enabled {
		logging.Info().Msg("sync scheduler disabled")
		return
	}

	logger := cronLogger{}
	m.cron = cron.New(cron.WithChain(
		cron.Recover(logger),
		cron.SkipIfStillRunning(logger),
	))
	m.cron.Schedule(cron.Every(m.interval), cron.FuncJob(m.tick))
	m.cron.Start()
	logging.Info().Dur("interval", m.interval).Msg("sync scheduler started")

	go m.tick()
}

// Stop halts the scheduler and waits for a running pass to finish.
func (m *Manager) Stop() {
	if m.cron == nil {
		return
	}
	<-m.cron.Stop().Done()
	// Drain a pass started outside the scheduler.
	m.runMu.Lock()
	m.runMu.Unlock() //nolint:staticcheck // lock/unlock pair is a barrier
	logging.Info().Msg("sync scheduler stopped")
}

func (m *Manager) tick() {
	report, err := m.Trigger(context.Background())
	switch {
	case errors.Is(err, ErrSyncInProgress):
		logging.Debug().Msg("scheduled sync skipped, pass already running")
	case err != nil:
		logging.Error().Err(err).Msg("scheduled sync pass failed")
	case report != nil && len(report.Errors) > 0:
		logging.Warn().Strs("errors", report.Errors).Int("events_created", report.EventsCreated).
			Msg("scheduled sync pass finished with errors")
	}
}

// cronLogger adapts the application logger to the cron Logger interface.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	logging.Debug().Interface("details", keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	logging.Error().Err(err).Interface("details", keysAndValues).Msg("cron: " + msg)
}
