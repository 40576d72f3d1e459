package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

// Tombstones remember credentials the backend rejected so a concurrent request
// committing an older copy of the cookie session cannot bring them back.
type Tombstones struct {
	client *redis.Client
	ttl    time.Duration
}

// NewTombstones returns a Redis-backed tombstone set. A nil client disables it.
func NewTombstones(client *redis.Client, ttl time.Duration) *Tombstones {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Tombstones{client: client, ttl: ttl}
}

// Bury records token as rejected for the session.
func (t *Tombstones) Bury(ctx context.Context, sessionID, token string) {
	if t == nil || t.client == nil {
		return
	}
	_ = t.client.Set(ctx, t.key(sessionID), fingerprint(token), t.ttl).Err()
}

// Buried reports whether token was rejected earlier in the session.
func (t *Tombstones) Buried(ctx context.Context, sessionID, token string) bool {
	if t == nil || t.client == nil {
		return false
	}
	val, err := t.client.Get(ctx, t.key(sessionID)).Result()
	if err != nil {
		return false
	}
	return val == fingerprint(token)
}

func (t *Tombstones) key(sessionID string) string {
	return "portal:tombstone:" + sessionID
}

func fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
