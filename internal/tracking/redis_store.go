package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultSnapshotTTL is how long a cached snapshot lives after its last write
const DefaultSnapshotTTL = 2 * time.Hour

// RedisStore implements CacheStore for Redis (Infrastructure Layer)
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a snapshot cache with the given TTL.
// A non-positive ttl falls back to DefaultSnapshotTTL.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &RedisStore{
		client: client,
		ttl:    ttl,
	}
}

func snapshotKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}

func (r *RedisStore) SetSnapshot(ctx context.Context, snapshot *Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	return r.client.Set(ctx, snapshotKey(snapshot.SessionID), data, r.ttl).Err()
}

func (r *RedisStore) GetSnapshot(ctx context.Context, sessionID string) (*Snapshot, error) {
	data, err := r.client.Get(ctx, snapshotKey(sessionID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	return &snapshot, nil
}

// UpdateSelection is a read-modify-write on the snapshot. It never creates
// a snapshot: a miss means the entry expired or was evicted by finalize,
// and recreating it here would resurrect a finalized session as ACTIVE.
// Returns ErrSnapshotNotFound on a miss; the durable event log still keeps
// the authoritative order.
func (r *RedisStore) UpdateSelection(ctx context.Context, sessionID, category, selection string, totalPrice *int64) error {
	snapshot, err := r.GetSnapshot(ctx, sessionID)
	if err != nil {
		return err
	}

	if snapshot.Selections == nil {
		snapshot.Selections = make(map[string]string)
	}
	snapshot.Selections[category] = selection
	if totalPrice != nil {
		snapshot.TotalPrice = *totalPrice
	}
	snapshot.LastActivity = time.Now()

	return r.SetSnapshot(ctx, snapshot)
}

func (r *RedisStore) DeleteSnapshot(ctx context.Context, sessionID string) error {
	return r.client.Del(ctx, snapshotKey(sessionID)).Err()
}
