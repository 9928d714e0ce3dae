package syncstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	lastRunKey     = "sync:last-run"
	lastSuccessKey = "sync:last-success:%d"
)

// Store keeps the outcome of the most recent sync run and the last successful
// sync instant per trading point, for the dashboard's status view.
type Store struct {
	client *redis.Client
}

// NewStore returns redis-backed sync state store.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// SaveLastRun persists the serialized run result.
func (s *Store) SaveLastRun(ctx context.Context, result any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, lastRunKey, data, 0).Err()
}

// LastRun returns the raw serialized result of the most recent run, or nil
// when no run has completed yet.
func (s *Store) LastRun(ctx context.Context) (json.RawMessage, error) {
	data, err := s.client.Get(ctx, lastRunKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// SetLastSuccess records when a trading point last synced without errors.
func (s *Store) SetLastSuccess(ctx context.Context, tradingPointID int64, at time.Time) error {
	return s.client.Set(ctx, fmt.Sprintf(lastSuccessKey, tradingPointID), at.UTC().Format(time.RFC3339), 0).Err()
}

// LastSuccess returns the last successful sync instant for a trading point;
// the zero time when it has never synced.
func (s *Store) LastSuccess(ctx context.Context, tradingPointID int64) (time.Time, error) {
	raw, err := s.client.Get(ctx, fmt.Sprintf(lastSuccessKey, tradingPointID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, raw)
}
