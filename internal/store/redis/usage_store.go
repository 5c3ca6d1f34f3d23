package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eliteGoblin/focusd/child_mon/internal/domain"
)

// dailyUsageTTL keeps a day's totals around long enough for parent reports.
const dailyUsageTTL = 90 * 24 * time.Hour

// UsageStore implements domain.UsageStore for one device.
// Each local date is a hash of package -> milliseconds.
type UsageStore struct {
	client   *redis.Client
	deviceID string
}

// AddUsage increments a package's total for date.
func (u *UsageStore) AddUsage(ctx context.Context, date, packageName string, ms int64) error {
	if ms <= 0 || packageName == "" {
		return nil
	}
	key := dailyUsageKey(u.deviceID, date)
	_, err := u.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, packageName, ms)
		pipe.Expire(ctx, key, dailyUsageTTL)
		return nil
	})
	return err
}

// DailyTotals returns the totals for date. A date with no usage is an empty map.
func (u *UsageStore) DailyTotals(ctx context.Context, date string) (map[string]int64, error) {
	data, err := u.client.HGetAll(ctx, dailyUsageKey(u.deviceID, date)).Result()
	if err != nil {
		return nil, err
	}

	totals := make(map[string]int64, len(data))
	for pkg, raw := range data {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		totals[pkg] = ms
	}
	return totals, nil
}

var _ domain.UsageStore = (*UsageStore)(nil)
