// hatch-sync - Hatch Rest device API and Grow-to-Google-Calendar sync
// SPDX-License-Identifier: MIT
// https://github.com/shray7/hatch-sync

package hatch

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/shray7/hatch-sync/internal/models"
)

// growEndpoint describes how one activity kind maps onto the Grow API.
type growEndpoint struct {
	path      string // fetch path, babyID appended
	listField string // payload field holding the record array
	timeField []string
	endField  []string // sleep only
}

var growEndpoints = map[models.Kind]growEndpoint{
	models.KindDiaper: {
		path:      "/service/app/diaper/v1/fetch/",
		listField: "diapers",
		timeField: []string{"diaperDate", "createDate"},
	},
	models.KindFeeding: {
		path:      "/service/app/feeding/v2/fetch/",
		listField: "feedings",
		timeField: []string{"startTime", "createDate"},
		endField:  []string{"endTime"},
	},
	models.KindSleep: {
		path:      "/service/app/sleep/v1/fetch/",
		listField: "sleeps",
		timeField: []string{"startTime", "start", "createDate"},
		endField:  []string{"endTime", "end"},
	},
	models.KindWeight: {
		path:      "/service/app/weight/v1/fetch/",
		listField: "weights",
		timeField: []string{"createDate", "weightDate"},
	},
	models.KindPhoto: {
		path:      "/service/app/photo/v1/fetch/",
		listField: "photos",
		timeField: []string{"createDate"},
	},
}

// ListActivity fetches all records of one kind for a baby with
// occurredAt >= since (zero since means no lower bound), ordered oldest
// first. Records flagged deleted upstream are dropped.
func (c *HTTPClient) ListActivity(ctx context.Context, babyID int64, kind models.Kind, since time.Time) ([]models.ActivityRecord, error) {
	ep, ok := growEndpoints[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown activity kind %q", ErrNotFound, kind)
	}

	payload, err := c.fetchPayloadCached(ctx, "list_"+string(kind), ep.path+strconv.FormatInt(babyID, 10))
	if err != nil {
		return nil, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("%w: decode %s payload: %v", ErrUnavailable, kind, err)
	}
	var raw []map[string]any
	if list, ok := fields[ep.listField]; ok {
		if err := json.Unmarshal(list, &raw); err != nil {
			return nil, fmt.Errorf("%w: decode %s list: %v", ErrUnavailable, kind, err)
		}
	}

	records := make([]models.ActivityRecord, 0, len(raw))
	for _, item := range raw {
		if deleted, _ := item["deleted"].(bool); deleted {
			continue
		}
		rec := models.ActivityRecord{
			Kind:       kind,
			ExternalID: externalID(item),
			OccurredAt: firstTime(item, ep.timeField),
			Payload:    item,
		}
		if len(ep.endField) > 0 {
			rec.EndedAt = firstTime(item, ep.endField)
		}
		if !since.IsZero() && rec.OccurredAt.Before(since) {
			continue
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].OccurredAt.Before(records[j].OccurredAt)
	})
	return records, nil
}

// ListPhotos fetches the daily photos for a baby. Download URLs are
// presigned and expire; they are passed through untouched.
func (c *HTTPClient) ListPhotos(ctx context.Context, babyID int64) ([]models.PhotoRecord, error) {
	ep := growEndpoints[models.KindPhoto]
	payload, err := c.fetchPayloadCached(ctx, "list_photos", ep.path+strconv.FormatInt(babyID, 10))
	if err != nil {
		return nil, err
	}

	var fields struct {
		Photos []map[string]any `json:"photos"`
	}
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("%w: decode photos payload: %v", ErrUnavailable, err)
	}

	photos := make([]models.PhotoRecord, 0, len(fields.Photos))
	for _, item := range fields.Photos {
		if deleted, _ := item["deleted"].(bool); deleted {
			continue
		}
		url, _ := item["cutDownloadUrl"].(string)
		caption, _ := item["caption"].(string)
		photos = append(photos, models.PhotoRecord{
			ExternalID:  externalID(item),
			TakenAt:     firstTime(item, ep.timeField),
			DownloadURL: url,
			Caption:     caption,
		})
	}
	return photos, nil
}

// externalID extracts the vendor record ID as a string, or "" when absent.
// Grow IDs arrive as JSON numbers.
func externalID(item map[string]any) string {
	switch v := item["id"].(type) {
	case float64:
		return strconv.FormatInt(int64(v), 10)
	case string:
		return v
	}
	return ""
}

// firstTime returns the first parseable timestamp among the named fields.
func firstTime(item map[string]any, fields []string) time.Time {
	for _, f := range fields {
		if s, ok := item[f].(string); ok && s != "" {
			if t, err := ParseTime(s); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}

// hatchTimeLayouts are the wire formats the Grow API has been observed to
// use, longest first. Timestamps are naive UTC.
var hatchTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTime parses a Grow API timestamp. "Z" suffixes and "T" separators
// are normalized away before matching the known layouts.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	s = strings.ReplaceAll(strings.TrimSuffix(s, "Z"), "T", " ")
	for _, layout := range hatchTimeLayouts {
		if len(s) < len(layout) {
			continue
		}
		if t, err := time.Parse(layout, s[:len(layout)]); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized hatch timestamp %q", s)
}
