// hatch-sync - Hatch Rest device API and Grow-to-Google-Calendar sync
// SPDX-License-Identifier: MIT
// https://github.com/shray7/hatch-sync

package hatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shray7/hatch-sync/internal/cache"
	"github.com/shray7/hatch-sync/internal/config"
	"github.com/shray7/hatch-sync/internal/models"
)

const loginResponse = `{
	"status": "success",
	"token": "tok-1",
	"payload": {"babies": [{"id": 42, "name": "Quinn"}]}
}`

// newTestClient points an HTTPClient at a test server with valid creds.
func newTestClient(t *testing.T, srv *httptest.Server) *HTTPClient {
	t.Helper()
	cfg := &config.HatchConfig{
		Email:           "parent@example.com",
		Password:        "hunter2",
		BaseURL:         srv.URL,
		Timeout:         5 * time.Second,
		CacheTTLSeconds: 900,
		LoginTTL:        50 * time.Minute,
	}
	c := cache.New("hatch-test", cfg.CacheTTL())
	t.Cleanup(c.Close)

	client := NewHTTPClient(cfg, c)
	client.sleep = func(time.Duration) {}
	return client
}

func TestLoginSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/public/v1/login", r.URL.Path)
		_, _ = w.Write([]byte(loginResponse))
	}))
	defer srv.Close()

	sess, err := newTestClient(t, srv).Login(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", sess.Token)
	require.Len(t, sess.Babies, 1)
	assert.Equal(t, models.Baby{ID: 42, Name: "Quinn"}, sess.Babies[0])
}

func TestLoginRejectedIsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status": "error", "message": "bad credentials"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).Login(context.Background())
	assert.ErrorIs(t, err, ErrAuth)
	assert.Contains(t, err.Error(), "bad credentials")
}

func TestLoginWithoutCredentials(t *testing.T) {
	cfg := &config.HatchConfig{BaseURL: "http://unused", Timeout: time.Second, LoginTTL: time.Minute}
	c := cache.New("nocreds", time.Minute)
	t.Cleanup(c.Close)

	_, err := NewHTTPClient(cfg, c).Login(context.Background())
	assert.ErrorIs(t, err, ErrAuth)
}

func TestSessionReusedAcrossCalls(t *testing.T) {
	var logins atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/public/v1/login":
			logins.Add(1)
			_, _ = w.Write([]byte(loginResponse))
		default:
			require.Equal(t, "tok-1", r.Header.Get("X-HatchBaby-Auth"))
			_, _ = w.Write([]byte(`{"status": "success", "payload": {"diapers": []}}`))
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	ctx := context.Background()
	_, err := client.ListActivity(ctx, 42, models.KindDiaper, time.Time{})
	require.NoError(t, err)
	_, err = client.ListActivity(ctx, 42, models.KindDiaper, time.Time{})
	require.NoError(t, err)

	assert.Equal(t, int32(1), logins.Load(), "token must be reused from cache")
}

func TestListActivityMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/public/v1/login":
			_, _ = w.Write([]byte(loginResponse))
		case "/service/app/diaper/v1/fetch/42":
			_, _ = w.Write([]byte(`{"status": "success", "payload": {"diapers": [
				{"id": 3, "diaperDate": "2024-01-01 11:00:00", "diaperType": "Dirty"},
				{"id": 1, "diaperDate": "2024-01-01 10:00:00", "diaperType": "Wet"},
				{"id": 2, "diaperDate": "2024-01-01 10:30:00", "deleted": true}
			]}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	records, err := newTestClient(t, srv).ListActivity(context.Background(), 42, models.KindDiaper, time.Time{})
	require.NoError(t, err)

	require.Len(t, records, 2, "deleted records must be dropped")
	assert.Equal(t, "1", records[0].ExternalID, "records must be ordered oldest first")
	assert.Equal(t, "3", records[1].ExternalID)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), records[0].OccurredAt)
	assert.Equal(t, "Wet", records[0].PayloadString("diaperType"))
}

func TestListActivitySinceFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/public/v1/login":
			_, _ = w.Write([]byte(loginResponse))
		default:
			_, _ = w.Write([]byte(`{"status": "success", "payload": {"sleeps": [
				{"id": 1, "startTime": "2024-01-01 02:00:00", "endTime": "2024-01-01 04:00:00"},
				{"id": 2, "startTime": "2024-01-02 02:00:00", "endTime": "2024-01-02 03:00:00"}
			]}}`))
		}
	}))
	defer srv.Close()

	since := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	records, err := newTestClient(t, srv).ListActivity(context.Background(), 42, models.KindSleep, since)
	require.NoError(t, err)

	require.Len(t, records, 1)
	assert.Equal(t, "2", records[0].ExternalID)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC), records[0].EndedAt)
}

func TestUnauthorizedInvalidatesSession(t *testing.T) {
	var logins atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/public/v1/login":
			logins.Add(1)
			_, _ = w.Write([]byte(loginResponse))
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	_, err := client.ListActivity(context.Background(), 42, models.KindDiaper, time.Time{})
	assert.ErrorIs(t, err, ErrAuth)

	// Session was dropped, so the next call logs in again.
	_, _ = client.ListActivity(context.Background(), 42, models.KindDiaper, time.Time{})
	assert.Equal(t, int32(2), logins.Load())
}

func TestRateLimitRetries(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/public/v1/login":
			_, _ = w.Write([]byte(loginResponse))
		default:
			if attempts.Add(1) < 3 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			_, _ = w.Write([]byte(`{"status": "success", "payload": {"weights": []}}`))
		}
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).ListActivity(context.Background(), 42, models.KindWeight, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/public/v1/login" {
			_, _ = w.Write([]byte(loginResponse))
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).ListPhotos(context.Background(), 42)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestListPhotos(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/public/v1/login":
			_, _ = w.Write([]byte(loginResponse))
		case "/service/app/photo/v1/fetch/42":
			_, _ = w.Write([]byte(`{"status": "success", "payload": {"photos": [
				{"id": 9, "createDate": "2024-01-03 08:00:00", "cutDownloadUrl": "https://s3.example/p9?sig=abc"}
			]}}`))
		}
	}))
	defer srv.Close()

	photos, err := newTestClient(t, srv).ListPhotos(context.Background(), 42)
	require.NoError(t, err)
	require.Len(t, photos, 1)
	assert.Equal(t, "9", photos[0].ExternalID)
	assert.Equal(t, "https://s3.example/p9?sig=abc", photos[0].DownloadURL)
}

func TestGrowFetchesServedFromCache(t *testing.T) {
	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/public/v1/login":
			_, _ = w.Write([]byte(loginResponse))
		case "/service/app/diaper/v1/fetch/42":
			fetches.Add(1)
			_, _ = w.Write([]byte(`{"status": "success", "payload": {"diapers": [
				{"id": 1, "diaperDate": "2024-01-01 10:00:00", "diaperType": "Wet"}
			]}}`))
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	ctx := context.Background()

	first, err := client.ListActivity(ctx, 42, models.KindDiaper, time.Time{})
	require.NoError(t, err)
	require.Len(t, first, 1)

	// A different since value still shares the one cached response; the
	// filter is applied after the fetch.
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	second, err := client.ListActivity(ctx, 42, models.KindDiaper, since)
	require.NoError(t, err)
	require.Len(t, second, 1)

	assert.Equal(t, int32(1), fetches.Load(), "repeat listings within the TTL must not hit upstream")
}

func TestGrowFetchErrorsNotCached(t *testing.T) {
	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/public/v1/login":
			_, _ = w.Write([]byte(loginResponse))
		default:
			if fetches.Add(1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_, _ = w.Write([]byte(`{"status": "success", "payload": {"weights": []}}`))
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	ctx := context.Background()

	_, err := client.ListActivity(ctx, 42, models.KindWeight, time.Time{})
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = client.ListActivity(ctx, 42, models.KindWeight, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), fetches.Load(), "a failed fetch must not poison the cache")
}

func TestDeviceOperations(t *testing.T) {
	devicesJSON := `{"status": "success", "payload": [
		{"thingName": "rest-1", "name": "Nursery", "product": "restPlus", "online": true, "volume": 0.4, "audioTrack": "Ocean"},
		{"thingName": "rest-2", "name": "Bedroom", "product": "restMini", "online": false}
	]}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/public/v1/login":
			_, _ = w.Write([]byte(loginResponse))
		case r.URL.Path == devicesFetchPath:
			_, _ = w.Write([]byte(devicesJSON))
		case r.Method == http.MethodPut:
			_, _ = w.Write([]byte(`{"status": "success"}`))
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	ctx := context.Background()

	devices, err := client.ListDevices(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.True(t, devices[0].IsOnline)
	require.NotNil(t, devices[0].Volume)
	assert.Equal(t, 0.4, *devices[0].Volume)

	d, err := client.GetDevice(ctx, "rest-2")
	require.NoError(t, err)
	assert.Equal(t, "Bedroom", d.Name)

	_, err = client.GetDevice(ctx, "rest-99")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = client.SetVolume(ctx, "rest-1", 0.8)
	require.NoError(t, err)

	_, err = client.SetVolume(ctx, "rest-1", 1.5)
	require.Error(t, err)

	_, err = client.SetAudioTrack(ctx, "rest-1", "ocean")
	require.NoError(t, err)

	_, err = client.SetAudioTrack(ctx, "rest-1", "Dubstep")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"2024-01-01 10:00:00", time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), false},
		{"2024-01-01T10:00:00Z", time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), false},
		{"2024-01-01T10:00", time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), false},
		{"2024-01-01", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), false},
		{"not a date", time.Time{}, true},
		{"", time.Time{}, true},
	}
	for _, tt := range tests {
		got, err := ParseTime(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.True(t, got.Equal(tt.want), "ParseTime(%q) = %v, want %v", tt.in, got, tt.want)
	}
}

func TestErrorClass(t *testing.T) {
	assert.Equal(t, "auth", ErrorClass(ErrAuth))
	assert.Equal(t, "unavailable", ErrorClass(ErrUnavailable))
	assert.Equal(t, "not_found", ErrorClass(ErrNotFound))
	assert.Equal(t, "none", ErrorClass(nil))
}
