package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"alertdesk/internal/model"
)

const redisAlertLogLimit = 500

type redisStore struct {
	client *redis.Client
	key    string
}

// NewRedis accepts a redis:// URL or a bare host:port.
func NewRedis(dsn, key string) (SnapshotStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "localhost:6379"
	}
	var opts *redis.Options
	if strings.Contains(dsn, "://") {
		parsed, err := redis.ParseURL(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: dsn}
	}
	return newRedisStore(redis.NewClient(opts), key), nil
}

func newRedisStore(client *redis.Client, key string) *redisStore {
	return &redisStore{client: client, key: key}
}

func (s *redisStore) Init(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (s *redisStore) Load(ctx context.Context) (Snapshot, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("redis load snapshot: %w", err)
	}
	return decodeSnapshot(data)
}

func (s *redisStore) Save(ctx context.Context, snap Snapshot) error {
	data, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis save snapshot: %w", err)
	}
	return nil
}

func (s *redisStore) alertsKey() string {
	return s.key + ":alerts"
}

func (s *redisStore) SaveAlert(ctx context.Context, alert model.EmergencyAlert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, s.alertsKey(), data)
	pipe.LTrim(ctx, s.alertsKey(), 0, redisAlertLogLimit-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis save alert: %w", err)
	}
	return nil
}

func (s *redisStore) RecentAlerts(ctx context.Context, limit int) ([]model.EmergencyAlert, error) {
	if limit <= 0 {
		limit = 50
	}
	items, err := s.client.LRange(ctx, s.alertsKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis recent alerts: %w", err)
	}
	out := make([]model.EmergencyAlert, 0, len(items))
	for _, item := range items {
		var a model.EmergencyAlert
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			return nil, fmt.Errorf("decode alert: %w", err)
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
