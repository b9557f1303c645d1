// hatch-sync - Hatch Rest device API and Grow-to-Google-Calendar sync
// SPDX-License-Identifier: MIT
// https://github.com/shray7/hatch-sync

package calendar

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// stubCalendarAPI emulates the handful of Calendar v3 endpoints the client
// touches, recording mutations for assertions.
type stubCalendarAPI struct {
	calendars []map[string]string
	acls      map[string][]map[string]any
	events    []map[string]any

	failEvents int // HTTP status to return for event inserts, 0 = succeed
}

func (s *stubCalendarAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /users/me/calendarList", func(w http.ResponseWriter, r *http.Request) {
		items := make([]map[string]any, 0, len(s.calendars))
		for _, c := range s.calendars {
			items = append(items, map[string]any{"id": c["id"], "summary": c["summary"]})
		}
		writeJSON(t, w, map[string]any{"items": items})
	})

	mux.HandleFunc("POST /calendars", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Summary string `json:"summary"`
		}
		decodeJSON(t, r, &body)
		id := "cal-" + body.Summary
		s.calendars = append(s.calendars, map[string]string{"id": id, "summary": body.Summary})
		writeJSON(t, w, map[string]any{"id": id, "summary": body.Summary})
	})

	mux.HandleFunc("GET /calendars/{id}/acl", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"items": s.acls[r.PathValue("id")]})
	})

	mux.HandleFunc("POST /calendars/{id}/acl", func(w http.ResponseWriter, r *http.Request) {
		var rule map[string]any
		decodeJSON(t, r, &rule)
		id := r.PathValue("id")
		if s.acls == nil {
			s.acls = make(map[string][]map[string]any)
		}
		s.acls[id] = append(s.acls[id], rule)
		writeJSON(t, w, rule)
	})

	mux.HandleFunc("POST /calendars/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		if s.failEvents != 0 {
			http.Error(w, `{"error": {"code": 503, "message": "backend"}}`, s.failEvents)
			return
		}
		var ev map[string]any
		decodeJSON(t, r, &ev)
		s.events = append(s.events, ev)
		writeJSON(t, w, map[string]any{"id": "evt-1"})
	})

	return mux
}

func newStubClient(t *testing.T, stub *stubCalendarAPI) *GoogleClient {
	t.Helper()
	srv := httptest.NewServer(stub.handler(t))
	t.Cleanup(srv.Close)

	svc, err := gcal.NewService(context.Background(),
		option.WithEndpoint(srv.URL),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	return NewGoogleClientWithService(svc)
}

func TestEnsureCalendarCreatesAndShares(t *testing.T) {
	stub := &stubCalendarAPI{}
	client := newStubClient(t, stub)

	id, err := client.EnsureCalendar(context.Background(), "Quinn - Baby Tracker", "parent@example.com")
	require.NoError(t, err)
	assert.Equal(t, "cal-Quinn - Baby Tracker", id)

	require.Len(t, stub.acls[id], 1)
	rule := stub.acls[id][0]
	assert.Equal(t, "writer", rule["role"])
}

func TestEnsureCalendarReusesExisting(t *testing.T) {
	stub := &stubCalendarAPI{
		calendars: []map[string]string{{"id": "cal-7", "summary": "Quinn - Baby Tracker"}},
		acls: map[string][]map[string]any{
			"cal-7": {{"role": "writer", "scope": map[string]any{"type": "user", "value": "parent@example.com"}}},
		},
	}
	client := newStubClient(t, stub)

	id, err := client.EnsureCalendar(context.Background(), "Quinn - Baby Tracker", "parent@example.com")
	require.NoError(t, err)
	assert.Equal(t, "cal-7", id)
	assert.Len(t, stub.acls["cal-7"], 1, "existing writer share must not be duplicated")
}

func TestEnsureCalendarSkipsSharingWhenUnset(t *testing.T) {
	stub := &stubCalendarAPI{}
	client := newStubClient(t, stub)

	id, err := client.EnsureCalendar(context.Background(), "Quinn - Baby Tracker", "")
	require.NoError(t, err)
	assert.Empty(t, stub.acls[id])
}

func TestCreateEvent(t *testing.T) {
	stub := &stubCalendarAPI{}
	client := newStubClient(t, stub)

	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	evID, err := client.CreateEvent(context.Background(), "cal-7", Event{
		Summary: "Diaper - Wet",
		Start:   start,
		End:     start.Add(5 * time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, "evt-1", evID)

	require.Len(t, stub.events, 1)
	ev := stub.events[0]
	assert.Equal(t, "Diaper - Wet", ev["summary"])
	startField := ev["start"].(map[string]any)
	assert.Equal(t, "2024-03-01T10:00:00Z", startField["dateTime"])
}

func TestCreateEventServerErrorIsUnavailable(t *testing.T) {
	stub := &stubCalendarAPI{failEvents: http.StatusServiceUnavailable}
	client := newStubClient(t, stub)

	_, err := client.CreateEvent(context.Background(), "cal-7", Event{
		Summary: "Sleep - 90m",
		Start:   time.Now(),
	})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func decodeJSON(t *testing.T, r *http.Request, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(r.Body).Decode(v))
}
