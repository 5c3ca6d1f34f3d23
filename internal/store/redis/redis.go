// Package redis implements the remote stores on top of Redis.
//
// Records are hashes laid out along the parent app's document paths
// (families/{f}/children/{c}/appControls/{doc}, children/{c}/remoteStatus/{pkg}).
// Every collection keeps a set of its document ids and a pub/sub channel that
// writers publish to, so subscribers can reload the whole collection on change.
package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/child_mon/internal/config"
	"github.com/eliteGoblin/focusd/child_mon/internal/domain"
)

// Store owns the Redis connection shared by the individual stores.
type Store struct {
	client   *redis.Client
	logger   *zap.Logger
	controls *ControlsStore
	remote   *RemoteStatusStore
	devices  *DeviceStore
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig, logger *zap.Logger) (*Store, error) {
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Host may already carry the port (tests pass miniredis' host:port)
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newStore(client, logger), nil
}

func newStore(client *redis.Client, logger *zap.Logger) *Store {
	s := &Store{client: client, logger: logger}
	s.controls = &ControlsStore{store: s}
	s.remote = &RemoteStatusStore{store: s, now: time.Now}
	s.devices = &DeviceStore{client: client}
	return s
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Controls returns the app controls store.
func (s *Store) Controls() *ControlsStore {
	return s.controls
}

// RemoteStatus returns the remote force-block store.
func (s *Store) RemoteStatus() *RemoteStatusStore {
	return s.remote
}

// Devices returns the device heartbeat store.
func (s *Store) Devices() *DeviceStore {
	return s.devices
}

// Usage returns the daily usage store for one device.
func (s *Store) Usage(deviceID string) *UsageStore {
	return &UsageStore{client: s.client, deviceID: deviceID}
}

// watch subscribes to channel, runs reload once, then runs it again for every
// message. Reloads after the first one happen on a single goroutine so
// emissions keep their order.
func (s *Store) watch(ctx context.Context, channel string, reload func(context.Context) error) (domain.Unsubscribe, error) {
	pubsub := s.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}
	messages := pubsub.Channel()

	if err := reload(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	go func() {
		for {
			select {
			case <-watchCtx.Done():
				return
			case _, ok := <-messages:
				if !ok {
					return
				}
				if err := reload(watchCtx); err != nil && watchCtx.Err() == nil {
					s.logger.Warn("failed to reload after change",
						zap.String("channel", channel),
						zap.Error(err))
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			_ = pubsub.Close()
		})
	}, nil
}

// loadCollection reads every hash listed in an index set.
func (s *Store) loadCollection(ctx context.Context, indexKey string, docKey func(id string) string) (map[string]map[string]string, error) {
	ids, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return map[string]map[string]string{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, docKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	docs := make(map[string]map[string]string, len(ids))
	for i, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}
		docs[ids[i]] = data
	}
	return docs, nil
}
