package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eliteGoblin/focusd/child_mon/internal/domain"
)

// Device is the liveness record the parent side reads for a child device.
type Device struct {
	DeviceID string    `json:"deviceId"`
	ChildID  string    `json:"childId"`
	LastSeen time.Time `json:"lastSeen"`
	IsActive bool      `json:"isActive"`
}

// DeviceStore implements domain.DeviceStore.
type DeviceStore struct {
	client *redis.Client
}

// Heartbeat marks the device active and seen at the given time.
func (d *DeviceStore) Heartbeat(ctx context.Context, deviceID, childID string, at time.Time) error {
	return d.client.HSet(ctx, deviceKey(deviceID), map[string]interface{}{
		"deviceId": deviceID,
		"childId":  childID,
		"lastSeen": at.UTC().Format(time.RFC3339Nano),
		"isActive": "true",
	}).Err()
}

// MarkInactive flags the device as no longer running the agent.
func (d *DeviceStore) MarkInactive(ctx context.Context, deviceID string) error {
	return d.client.HSet(ctx, deviceKey(deviceID), "isActive", "false").Err()
}

// GetDevice reads a device record.
func (d *DeviceStore) GetDevice(ctx context.Context, deviceID string) (*Device, error) {
	data, err := d.client.HGetAll(ctx, deviceKey(deviceID)).Result()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, domain.ErrNotFound
	}

	device := &Device{
		DeviceID: deviceID,
		ChildID:  data["childId"],
	}
	if raw := data["isActive"]; raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse isActive: %w", err)
		}
		device.IsActive = active
	}
	if raw := data["lastSeen"]; raw != "" {
		lastSeen, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse lastSeen: %w", err)
		}
		device.LastSeen = lastSeen
	}
	return device, nil
}

var _ domain.DeviceStore = (*DeviceStore)(nil)
