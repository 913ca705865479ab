package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"collectord/internal/model"
)

// SnapshotStore persists the last full item snapshot per holder as JSON.
type SnapshotStore struct {
	cache Cache
	ttl   time.Duration
}

// NewSnapshotStore wraps c. Snapshots expire after ttl; zero keeps them.
func NewSnapshotStore(c Cache, ttl time.Duration) *SnapshotStore {
	return &SnapshotStore{cache: c, ttl: ttl}
}

func snapshotKey(holder string) string {
	return "snapshot:" + strings.ToLower(holder)
}

// LoadSnapshot returns the cached snapshot of holder; ok is false on a miss.
func (s *SnapshotStore) LoadSnapshot(ctx context.Context, holder string) (model.Snapshot, bool, error) {
	data, err := s.cache.Get(ctx, snapshotKey(holder))
	if errors.Is(err, ErrCacheMiss) {
		return model.Snapshot{}, false, nil
	}
	if err != nil {
		return model.Snapshot{}, false, err
	}
	var snap model.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		// A corrupt entry is as good as none.
		_ = s.cache.Delete(ctx, snapshotKey(holder))
		return model.Snapshot{}, false, nil
	}
	return snap, true, nil
}

// SaveSnapshot stores a full snapshot. Partial snapshots are refused.
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, snap model.Snapshot) error {
	if snap.Partial {
		return fmt.Errorf("refusing to cache a partial snapshot")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, snapshotKey(snap.Holder), data, s.ttl)
}

// Ping checks the underlying cache.
func (s *SnapshotStore) Ping(ctx context.Context) error {
	return s.cache.Ping(ctx)
}
