package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/serroba/datafactory/internal/keymanager"
	"github.com/serroba/datafactory/internal/monitoring"
)

const alertsKept = 100

// RedisSnapshotStore keeps the latest status of every service and the recent
// alerts, as received by the monitoring consumer.
type RedisSnapshotStore struct {
	client    redis.UniversalClient
	statusKey string
	alertsKey string
}

func NewRedisSnapshotStore(client redis.UniversalClient) *RedisSnapshotStore {
	return &RedisSnapshotStore{
		client:    client,
		statusKey: "datafactory:status",
		alertsKey: "datafactory:alerts",
	}
}

// SaveSnapshot stores each service of the snapshot under its own hash field.
func (r *RedisSnapshotStore) SaveSnapshot(ctx context.Context, event *monitoring.SnapshotEvent) error {
	if len(event.Snapshot.Services) == 0 {
		return nil
	}

	values := make(map[string]any, len(event.Snapshot.Services))

	for _, ps := range event.Snapshot.Services {
		payload, err := json.Marshal(ps)
		if err != nil {
			return fmt.Errorf("encode %s status: %w", ps.Service, err)
		}

		values[ps.Service] = payload
	}

	return r.client.HSet(ctx, r.statusKey, values).Err()
}

// SaveAlert prepends the alert and trims the list to the most recent ones.
func (r *RedisSnapshotStore) SaveAlert(ctx context.Context, event *monitoring.AlertEvent) error {
	payload, err := json.Marshal(event.Alert)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, r.alertsKey, payload)
	pipe.LTrim(ctx, r.alertsKey, 0, alertsKept-1)
	_, err = pipe.Exec(ctx)

	return err
}

func (r *RedisSnapshotStore) Latest(ctx context.Context, service string) (keymanager.PoolStatus, error) {
	payload, err := r.client.HGet(ctx, r.statusKey, service).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return keymanager.PoolStatus{}, ErrNotFound
		}

		return keymanager.PoolStatus{}, err
	}

	var ps keymanager.PoolStatus
	if err := json.Unmarshal(payload, &ps); err != nil {
		return keymanager.PoolStatus{}, err
	}

	return ps, nil
}

// Alerts returns up to limit alerts, newest first.
func (r *RedisSnapshotStore) Alerts(ctx context.Context, limit int64) ([]monitoring.Alert, error) {
	raw, err := r.client.LRange(ctx, r.alertsKey, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}

	alerts := make([]monitoring.Alert, 0, len(raw))

	for _, item := range raw {
		var a monitoring.Alert
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			return nil, err
		}

		alerts = append(alerts, a)
	}

	return alerts, nil
}
