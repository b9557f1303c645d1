// hatch-sync - Hatch Rest device API and Grow-to-Google-Calendar sync
// SPDX-License-Identifier: MIT
// https://github.com/shray7/hatch-sync

package hatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/shray7/hatch-sync/internal/logging"
	"github.com/shray7/hatch-sync/internal/metrics"
	"github.com/shray7/hatch-sync/internal/models"
)

// BreakerClient wraps a Client with a circuit breaker so a misbehaving
// Hatch cloud does not get hammered by the dashboard plus the sync loop.
// An open circuit surfaces as ErrUnavailable, which the sync engine already
// treats as retry-next-pass.
//
// Auth and not-found failures do not count against the breaker: they are
// deterministic responses, not signs of an unhealthy upstream.
type BreakerClient struct {
	inner Client
	cb    *gobreaker.CircuitBreaker[any]
	name  string
}

// NewBreakerClient wraps inner with a breaker that opens at a 60% failure
// rate over at least 10 requests and probes again after 2 minutes.
func NewBreakerClient(inner Client) *BreakerClient {
	const cbName = "hatch-api"
	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrAuth) || errors.Is(err, ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &BreakerClient{inner: inner, cb: cb, name: cbName}
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// execute runs fn through the breaker and normalizes breaker rejections.
func (b *BreakerClient) execute(fn func() (any, error)) (any, error) {
	result, err := b.cb.Execute(fn)
	switch {
	case err == nil:
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "success").Inc()
		return result, nil
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "rejected").Inc()
		return nil, fmt.Errorf("%w: circuit breaker open: %v", ErrUnavailable, err)
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "failure").Inc()
		return nil, err
	}
}

func (b *BreakerClient) ListBabies(ctx context.Context) ([]models.Baby, error) {
	v, err := b.execute(func() (any, error) { return b.inner.ListBabies(ctx) })
	if err != nil {
		return nil, err
	}
	return v.([]models.Baby), nil
}

func (b *BreakerClient) ListActivity(ctx context.Context, babyID int64, kind models.Kind, since time.Time) ([]models.ActivityRecord, error) {
	v, err := b.execute(func() (any, error) { return b.inner.ListActivity(ctx, babyID, kind, since) })
	if err != nil {
		return nil, err
	}
	return v.([]models.ActivityRecord), nil
}

func (b *BreakerClient) ListPhotos(ctx context.Context, babyID int64) ([]models.PhotoRecord, error) {
	v, err := b.execute(func() (any, error) { return b.inner.ListPhotos(ctx, babyID) })
	if err != nil {
		return nil, err
	}
	return v.([]models.PhotoRecord), nil
}

func (b *BreakerClient) ListDevices(ctx context.Context) ([]models.Device, error) {
	v, err := b.execute(func() (any, error) { return b.inner.ListDevices(ctx) })
	if err != nil {
		return nil, err
	}
	return v.([]models.Device), nil
}

func (b *BreakerClient) GetDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	v, err := b.execute(func() (any, error) { return b.inner.GetDevice(ctx, deviceID) })
	if err != nil {
		return nil, err
	}
	return v.(*models.Device), nil
}

func (b *BreakerClient) SetVolume(ctx context.Context, deviceID string, volume float64) (*models.Device, error) {
	v, err := b.execute(func() (any, error) { return b.inner.SetVolume(ctx, deviceID, volume) })
	if err != nil {
		return nil, err
	}
	return v.(*models.Device), nil
}

func (b *BreakerClient) SetAudioTrack(ctx context.Context, deviceID, trackName string) (*models.Device, error) {
	v, err := b.execute(func() (any, error) { return b.inner.SetAudioTrack(ctx, deviceID, trackName) })
	if err != nil {
		return nil, err
	}
	return v.(*models.Device), nil
}
