// hatch-sync - Hatch Rest device API and Grow-to-Google-Calendar sync
// SPDX-License-Identifier: MIT
// https://github.com/shray7/hatch-sync

package hatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/shray7/hatch-sync/internal/models"
)

const (
	devicesFetchPath  = "/service/app/iotDevice/v2/fetch"
	devicesUpdatePath = "/service/app/iotDevice/v2/update/"
)

// audioTracks are the sound names accepted by Rest devices. Matching is
// case-insensitive; unknown names fail with ErrNotFound.
var audioTracks = []string{
	"None", "Stream", "PinkNoise", "Dryer", "Ocean", "Wind", "Rain",
	"Birds", "Crickets", "Brahms", "Twinkle", "RockABye", "WhiteNoise",
	"Heartbeat", "Water", "Thunderstorm",
}

// ResolveAudioTrack returns the canonical track name for a user-supplied
// one, or false when the device library has no such sound.
func ResolveAudioTrack(name string) (string, bool) {
	needle := strings.ToLower(strings.TrimSpace(name))
	for _, t := range audioTracks {
		if strings.ToLower(t) == needle {
			return t, true
		}
	}
	return "", false
}

// ListDevices fetches all Rest devices for the configured account.
func (c *HTTPClient) ListDevices(ctx context.Context) ([]models.Device, error) {
	payload, err := c.fetchPayload(ctx, "list_devices", devicesFetchPath)
	if err != nil {
		return nil, err
	}

	var raw []map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		// Some deployments wrap the list in a field.
		var wrapped struct {
			Devices []map[string]any `json:"devices"`
		}
		if err2 := json.Unmarshal(payload, &wrapped); err2 != nil {
			return nil, fmt.Errorf("%w: decode devices payload: %v", ErrUnavailable, err)
		}
		raw = wrapped.Devices
	}

	devices := make([]models.Device, 0, len(raw))
	for _, item := range raw {
		devices = append(devices, deviceFromPayload(item))
	}
	return devices, nil
}

// GetDevice returns one device by ID, or ErrNotFound.
func (c *HTTPClient) GetDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	devices, err := c.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	for i := range devices {
		if devices[i].DeviceID == deviceID {
			return &devices[i], nil
		}
	}
	return nil, fmt.Errorf("%w: device %s", ErrNotFound, deviceID)
}

// SetVolume sets a device's volume (0.0-1.0) and returns the updated state.
func (c *HTTPClient) SetVolume(ctx context.Context, deviceID string, volume float64) (*models.Device, error) {
	if volume < 0 || volume > 1 {
		return nil, fmt.Errorf("volume %v out of range [0,1]", volume)
	}
	return c.updateDevice(ctx, "set_volume", deviceID, map[string]any{"volume": volume})
}

// SetAudioTrack sets a device's sound by name and returns the updated state.
func (c *HTTPClient) SetAudioTrack(ctx context.Context, deviceID, trackName string) (*models.Device, error) {
	track, ok := ResolveAudioTrack(trackName)
	if !ok {
		return nil, fmt.Errorf("%w: unknown audio track %q", ErrNotFound, trackName)
	}
	return c.updateDevice(ctx, "set_audio_track", deviceID, map[string]any{"audioTrack": track})
}

func (c *HTTPClient) updateDevice(ctx context.Context, op, deviceID string, change map[string]any) (*models.Device, error) {
	// Confirm the device exists first so an unknown ID maps to ErrNotFound
	// rather than whatever the update endpoint reports.
	if _, err := c.GetDevice(ctx, deviceID); err != nil {
		return nil, err
	}

	sess, err := c.session(ctx)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(change)
	if err != nil {
		return nil, fmt.Errorf("marshal device update: %w", err)
	}

	env, err := c.do(ctx, "PUT", devicesUpdatePath+deviceID, sess.Token, body)
	if err != nil {
		return nil, err
	}
	if env.Status != "success" {
		return nil, fmt.Errorf("%w: device update reported %q: %s", ErrUnavailable, env.Status, env.Message)
	}

	var updated map[string]any
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &updated); err == nil && len(updated) > 0 {
			d := deviceFromPayload(updated)
			return &d, nil
		}
	}
	// Update endpoints do not always echo device state; re-fetch.
	return c.GetDevice(ctx, deviceID)
}

// deviceFromPayload serializes a raw device object into the API model.
func deviceFromPayload(item map[string]any) models.Device {
	d := models.Device{}

	if id, ok := item["thingName"].(string); ok && id != "" {
		d.DeviceID = id
	} else if id, ok := item["deviceId"].(string); ok {
		d.DeviceID = id
	}
	if name, ok := item["name"].(string); ok && name != "" {
		d.Name = name
	} else {
		d.Name = "Unknown"
	}
	if model, ok := item["product"].(string); ok {
		d.Model = model
	}
	if online, ok := item["online"].(bool); ok {
		d.IsOnline = online
	}
	if v, ok := item["volume"].(float64); ok {
		d.Volume = &v
	}
	if p, ok := item["isPlaying"].(bool); ok {
		d.IsPlaying = &p
	}
	if t, ok := item["audioTrack"].(string); ok {
		d.AudioTrack = t
	}
	return d
}
