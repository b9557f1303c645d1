// hatch-sync - Hatch Rest device API and Grow-to-Google-Calendar sync
// SPDX-License-Identifier: MIT
// https://github.com/shray7/hatch-sync

// Package hatch implements the client for the unofficial Hatch cloud API:
// Rest device listing and control, and the Grow activity log (diapers,
// feedings, sleep, weight, photos).
//
// The same credentials drive both surfaces. Login produces a token that the
// client reuses through the response cache for the configured login TTL, so
// repeated polling does not re-authenticate on every call. Grow list
// responses are memoized in the same cache for the data TTL, so the REST
// endpoints and the sync loop share one upstream fetch per window.
//
// Every method takes a context and returns errors wrapped around the
// package sentinels (ErrAuth, ErrUnavailable, ErrNotFound); see errors.go.
package hatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/shray7/hatch-sync/internal/cache"
	"github.com/shray7/hatch-sync/internal/config"
	"github.com/shray7/hatch-sync/internal/logging"
	"github.com/shray7/hatch-sync/internal/metrics"
	"github.com/shray7/hatch-sync/internal/models"
)

// maxErrorBodySize bounds how much of an error response body is read back
// for diagnostics, preventing unbounded allocation on large error pages.
const maxErrorBodySize = 64 * 1024

// rateLimitRetries is how many times a 429 response is retried (with
// exponential backoff) before the call fails with ErrUnavailable.
const rateLimitRetries = 3

// Client is the upstream capability consumed by the cache layer, the sync
// engine, and the HTTP handlers. Implemented by HTTPClient for production
// and by fakes in tests.
type Client interface {
	ListBabies(ctx context.Context) ([]models.Baby, error)
	ListActivity(ctx context.Context, babyID int64, kind models.Kind, since time.Time) ([]models.ActivityRecord, error)
	ListPhotos(ctx context.Context, babyID int64) ([]models.PhotoRecord, error)

	ListDevices(ctx context.Context) ([]models.Device, error)
	GetDevice(ctx context.Context, deviceID string) (*models.Device, error)
	SetVolume(ctx context.Context, deviceID string, volume float64) (*models.Device, error)
	SetAudioTrack(ctx context.Context, deviceID, trackName string) (*models.Device, error)
}

// Session is a cached login: the auth token plus the account's babies.
type Session struct {
	Token  string        `json:"token"`
	Babies []models.Baby `json:"babies"`
}

// HTTPClient talks to the Hatch cloud API over HTTPS.
type HTTPClient struct {
	cfg     *config.HatchConfig
	http    *http.Client
	cache   *cache.Cache
	limiter *rate.Limiter

	// sleep is replaceable in tests so backoff does not slow the suite.
	sleep func(time.Duration)
}

// NewHTTPClient builds the production client. The cache stores the login
// session (login TTL) so callers share one token across polls.
func NewHTTPClient(cfg *config.HatchConfig, c *cache.Cache) *HTTPClient {
	return &HTTPClient{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		cache:   c,
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
		sleep:   time.Sleep,
	}
}

// envelope is the standard Hatch API response wrapper.
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Token   string          `json:"token"`
	Payload json.RawMessage `json:"payload"`
}

const loginCacheKey = "hatch:login"

// Login authenticates and returns the session without consulting the cache.
// Most callers want session(), which reuses a cached token.
func (c *HTTPClient) Login(ctx context.Context) (*Session, error) {
	if !c.cfg.Configured() {
		return nil, fmt.Errorf("%w: HATCH_EMAIL and HATCH_PASSWORD not set", ErrAuth)
	}

	body, err := json.Marshal(map[string]string{
		"email":    c.cfg.Email,
		"password": c.cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal login request: %w", err)
	}

	start := time.Now()
	env, err := c.do(ctx, http.MethodPost, "/public/v1/login", "", body)
	c.observe("login", start, err)
	if err != nil {
		return nil, err
	}
	if env.Status != "success" || env.Token == "" {
		return nil, fmt.Errorf("%w: login rejected: %s", ErrAuth, env.Message)
	}

	var payload struct {
		Babies []struct {
			ID   int64  `json:"id"`
			Name string `json:"name"`
		} `json:"babies"`
	}
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return nil, fmt.Errorf("decode login payload: %w", err)
		}
	}

	sess := &Session{Token: env.Token}
	for _, b := range payload.Babies {
		name := b.Name
		if name == "" {
			name = "Baby"
		}
		sess.Babies = append(sess.Babies, models.Baby{ID: b.ID, Name: name})
	}
	return sess, nil
}

// session returns the cached login session, logging in on miss or expiry.
func (c *HTTPClient) session(ctx context.Context) (*Session, error) {
	v, err := c.cache.GetOrComputeTTL(loginCacheKey, c.cfg.LoginTTL, func() (any, error) {
		return c.Login(ctx)
	})
	if err != nil {
		return nil, err
	}
	sess, ok := v.(*Session)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected session cache entry", ErrUnavailable)
	}
	return sess, nil
}

// invalidateSession drops the cached token after an upstream 401 so the
// next call re-authenticates instead of failing for the rest of the TTL.
func (c *HTTPClient) invalidateSession() {
	c.cache.Invalidate(loginCacheKey)
}

// ListBabies returns the babies on the configured account.
func (c *HTTPClient) ListBabies(ctx context.Context) ([]models.Baby, error) {
	sess, err := c.session(ctx)
	if err != nil {
		return nil, err
	}
	return sess.Babies, nil
}

// do executes one HTTP call with client-side rate limiting, 429 backoff,
// and status-code classification into the package error taxonomy.
func (c *HTTPClient) do(ctx context.Context, method, path, token string, body []byte) (*envelope, error) {
	backoff := time.Second

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if token != "" {
			req.Header.Set("X-HatchBaby-Auth", token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt < rateLimitRetries {
			drainAndClose(resp.Body)
			logging.Warn().Int("attempt", attempt+1).Dur("backoff", backoff).Msg("hatch API rate limited, backing off")
			c.sleep(backoff)
			backoff *= 2
			continue
		}

		env, err := c.decode(resp, path)
		return env, err
	}
}

// decode classifies the response status and parses the envelope.
func (c *HTTPClient) decode(resp *http.Response, path string) (*envelope, error) {
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.invalidateSession()
		return nil, fmt.Errorf("%w: %s returned %d", ErrAuth, path, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: %s rate limited after %d retries", ErrUnavailable, path, rateLimitRetries)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: %s returned %d: %s", ErrUnavailable, path, resp.StatusCode, readBodyForError(resp.Body))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: %s returned unexpected %d", ErrUnavailable, path, resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: decode %s response: %v", ErrUnavailable, path, err)
	}
	return &env, nil
}

// fetchPayload GETs an authenticated endpoint and returns its payload,
// enforcing the envelope's own status field.
func (c *HTTPClient) fetchPayload(ctx context.Context, op, path string) (json.RawMessage, error) {
	sess, err := c.session(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	env, err := c.do(ctx, http.MethodGet, path, sess.Token, nil)
	c.observe(op, start, err)
	if err != nil {
		return nil, err
	}
	if env.Status != "success" {
		return nil, fmt.Errorf("%w: %s reported status %q: %s", ErrUnavailable, path, env.Status, env.Message)
	}
	return env.Payload, nil
}

// fetchPayloadCached memoizes fetchPayload per (op, path) for the response
// TTL, so the dashboard endpoints and the sync loop share one upstream call
// per window. Only read-only Grow fetches go through here; device reads stay
// uncached because updates re-read device state immediately.
func (c *HTTPClient) fetchPayloadCached(ctx context.Context, op, path string) (json.RawMessage, error) {
	v, err := c.cache.GetOrCompute(cache.Key(op, path), func() (any, error) {
		return c.fetchPayload(ctx, op, path)
	})
	if err != nil {
		return nil, err
	}
	payload, ok := v.(json.RawMessage)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected payload cache entry", ErrUnavailable)
	}
	return payload, nil
}

// observe records upstream metrics for one call.
func (c *HTTPClient) observe(op string, start time.Time, err error) {
	metrics.UpstreamRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.UpstreamRequestErrors.WithLabelValues(op, ErrorClass(err)).Inc()
	}
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, maxErrorBodySize))
	_ = body.Close()
}

// readBodyForError reads at most maxErrorBodySize bytes for diagnostics.
func readBodyForError(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return "(failed to read response body)"
	}
	return strings.TrimSpace(string(body))
}
