package screen

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"time"

	"github.com/schoolhub/portal/internal/platform/cache"
)

// Snapshots keep the last successful fetch of each screen so a failed fetch
// can fall back to it. Entries are scoped to one cookie session and one
// identity, and dropped when that session ends.
type Snapshots struct {
	store *cache.JSONStore
	ttl   time.Duration
}

// NewSnapshots wraps a JSON store.
func NewSnapshots(store *cache.JSONStore, ttl time.Duration) *Snapshots {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Snapshots{store: store, ttl: ttl}
}

// Key names one screen under one filter.
type Key struct {
	Screen string
	Filter url.Values
}

func (k Key) digest() string {
	sum := sha256.Sum256([]byte(k.Filter.Encode()))
	return k.Screen + ":" + hex.EncodeToString(sum[:8])
}

func (s *Snapshots) key(sessionID, owner string, k Key) string {
	return sessionID + ":" + owner + ":" + k.digest()
}

// Save records v as the last good value.
func (s *Snapshots) Save(ctx context.Context, sessionID, owner string, k Key, v any) error {
	if s == nil {
		return nil
	}
	return s.store.Put(ctx, s.key(sessionID, owner, k), v, s.ttl)
}

// Load restores the last good value into out.
func (s *Snapshots) Load(ctx context.Context, sessionID, owner string, k Key, out any) (bool, error) {
	if s == nil {
		return false, nil
	}
	return s.store.Get(ctx, s.key(sessionID, owner, k), out)
}

// Purge drops every snapshot of a session.
func (s *Snapshots) Purge(ctx context.Context, sessionID string) error {
	if s == nil {
		return nil
	}
	_, err := s.store.DeletePrefix(ctx, sessionID+":")
	return err
}
