// hatch-sync - Hatch Rest device API and Grow-to-Google-Calendar sync
// SPDX-License-Identifier: MIT
// https://github.com/shray7/hatch-sync

// Package calendar writes activity events to Google Calendar through a
// service account. The service account owns the tracker calendars; sharing
// with a personal account is what makes them visible in the Calendar UI.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/shray7/hatch-sync/internal/config"
	"github.com/shray7/hatch-sync/internal/logging"
)

// Sentinel errors for calendar failures. The sync engine stops the current
// kind on any of them and retries next pass.
var (
	// ErrAuth marks rejected or missing service-account credentials.
	ErrAuth = errors.New("calendar authentication failed")
	// ErrUnavailable marks transient Google API failures.
	ErrUnavailable = errors.New("calendar service unavailable")
)

// Event is one calendar entry to create.
type Event struct {
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
}

// Client is the calendar capability the sync engine consumes. Implemented
// by GoogleClient for production and by fakes in tests.
type Client interface {
	// EnsureCalendar finds or creates a calendar with the given name, shares
	// it with shareWith (writer role, empty skips sharing), and returns its ID.
	EnsureCalendar(ctx context.Context, name, shareWith string) (string, error)
	// CreateEvent inserts an event and returns its ID.
	CreateEvent(ctx context.Context, calendarID string, ev Event) (string, error)
}

// GoogleClient talks to the Google Calendar v3 API.
type GoogleClient struct {
	svc *gcal.Service
}

// NewGoogleClient builds a client from the configured service-account key.
func NewGoogleClient(ctx context.Context, cfg *config.GoogleConfig) (*GoogleClient, error) {
	if cfg.ServiceAccountFile == "" {
		return nil, fmt.Errorf("%w: GOOGLE_SERVICE_ACCOUNT_FILE not set", ErrAuth)
	}
	svc, err := gcal.NewService(ctx,
		option.WithCredentialsFile(cfg.ServiceAccountFile),
		option.WithScopes(gcal.CalendarScope),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: build calendar service: %v", ErrAuth, err)
	}
	return &GoogleClient{svc: svc}, nil
}

// NewGoogleClientWithService wraps an existing calendar service. Used by
// tests to point at a stub endpoint.
func NewGoogleClientWithService(svc *gcal.Service) *GoogleClient {
	return &GoogleClient{svc: svc}
}

// EnsureCalendar finds the calendar by summary, creating it on first use.
// Sharing is re-asserted on every call: the ACL insert is idempotent for an
// existing writer rule, so a manually revoked share heals itself.
func (g *GoogleClient) EnsureCalendar(ctx context.Context, name, shareWith string) (string, error) {
	id, err := g.findCalendar(ctx, name)
	if err != nil {
		return "", err
	}
	if id == "" {
		created, err := g.svc.Calendars.Insert(&gcal.Calendar{
			Summary:  name,
			TimeZone: "UTC",
		}).Context(ctx).Do()
		if err != nil {
			return "", classify("create calendar", err)
		}
		id = created.Id
		logging.Info().Str("calendar", name).Str("calendar_id", id).Msg("created tracker calendar")
	}

	if shareWith != "" {
		if err := g.ensureWriterACL(ctx, id, shareWith); err != nil {
			return "", err
		}
	}
	return id, nil
}

func (g *GoogleClient) findCalendar(ctx context.Context, name string) (string, error) {
	var pageToken string
	for {
		call := g.svc.CalendarList.List().Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		list, err := call.Do()
		if err != nil {
			return "", classify("list calendars", err)
		}
		for _, item := range list.Items {
			if item.Summary == name {
				return item.Id, nil
			}
		}
		pageToken = list.NextPageToken
		if pageToken == "" {
			return "", nil
		}
	}
}

// ensureWriterACL grants email writer access unless it already has it.
func (g *GoogleClient) ensureWriterACL(ctx context.Context, calendarID, email string) error {
	acl, err := g.svc.Acl.List(calendarID).Context(ctx).Do()
	if err != nil {
		return classify("list calendar acl", err)
	}
	for _, rule := range acl.Items {
		if rule.Scope != nil && rule.Scope.Type == "user" && rule.Scope.Value == email {
			return nil
		}
	}

	_, err = g.svc.Acl.Insert(calendarID, &gcal.AclRule{
		Role:  "writer",
		Scope: &gcal.AclRuleScope{Type: "user", Value: email},
	}).Context(ctx).Do()
	if err != nil {
		return classify("share calendar", err)
	}
	logging.Info().Str("calendar_id", calendarID).Str("email", email).Msg("shared tracker calendar")
	return nil
}

// CreateEvent inserts one event. Zero End falls back to Start, which the
// API renders as an instantaneous event.
func (g *GoogleClient) CreateEvent(ctx context.Context, calendarID string, ev Event) (string, error) {
	end := ev.End
	if end.IsZero() {
		end = ev.Start
	}
	created, err := g.svc.Events.Insert(calendarID, &gcal.Event{
		Summary:     ev.Summary,
		Description: ev.Description,
		Start:       &gcal.EventDateTime{DateTime: ev.Start.UTC().Format(time.RFC3339), TimeZone: "UTC"},
		End:         &gcal.EventDateTime{DateTime: end.UTC().Format(time.RFC3339), TimeZone: "UTC"},
	}).Context(ctx).Do()
	if err != nil {
		return "", classify("create event", err)
	}
	return created.Id, nil
}

// classify maps Google API errors onto the package sentinels.
func classify(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == 401 || gerr.Code == 403:
			return fmt.Errorf("%w: %s: %v", ErrAuth, op, err)
		case gerr.Code == 429 || gerr.Code >= 500:
			return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}
