package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// SummaryStore caches small JSON documents with a TTL. The dashboard uses it
// for alert counters so that every page load does not rescan the alerts table.
type SummaryStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSummaryStore constructs a SummaryStore.
func NewSummaryStore(client *redis.Client, ttl time.Duration) *SummaryStore {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &SummaryStore{client: client, ttl: ttl}
}

// Get unmarshals the cached document for key into target. The boolean reports
// whether a cached value was present.
func (s *SummaryStore) Get(ctx context.Context, key string, target any) (bool, error) {
	if s == nil || s.client == nil {
		return false, nil
	}
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, target); err != nil {
		return false, err
	}
	return true, nil
}

// Set stores value under key for the configured TTL.
func (s *SummaryStore) Set(ctx context.Context, key string, value any) error {
	if s == nil || s.client == nil {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, s.ttl).Err()
}
