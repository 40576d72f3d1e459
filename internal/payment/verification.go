package payment

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/schoolhub/portal/internal/platform/cache"
)

// Verification records a charge the backend has not confirmed yet.
type Verification struct {
	AttemptID       string    `json:"attemptId"`
	FeeID           string    `json:"feeId"`
	PaymentIntentID string    `json:"paymentIntentId"`
	Amount          float64   `json:"amount"`
	Owner           string    `json:"owner"`
	// Session names the cookie session whose credential confirms the charge.
	// The credential itself stays in that session.
	Session         string    `json:"session,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	Tries           int       `json:"tries"`
	LastError       string    `json:"lastError,omitempty"`
}

// Key identifies the verification in the store.
func (v Verification) Key() string { return v.Owner + ":" + v.AttemptID }

// Verifications keeps unconfirmed charges in Redis until the backend accepts them.
type Verifications struct {
	store *cache.JSONStore
	ttl   time.Duration
}

// NewVerifications constructs a store. Records expire after ttl.
func NewVerifications(client *redis.Client, prefix string, ttl time.Duration) *Verifications {
	if prefix == "" {
		prefix = "portal:payment:verification:"
	}
	return &Verifications{store: cache.NewJSONStore(client, prefix), ttl: ttl}
}

// Save writes v.
func (s *Verifications) Save(ctx context.Context, v Verification) error {
	return s.store.Put(ctx, v.Key(), v, s.ttl)
}

// Get loads the verification stored under key.
func (s *Verifications) Get(ctx context.Context, key string) (Verification, bool, error) {
	var v Verification
	ok, err := s.store.Get(ctx, key, &v)
	return v, ok, err
}

// Pending lists owner's verifications, oldest first.
func (s *Verifications) Pending(ctx context.Context, owner string) ([]Verification, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, nil
	}
	keys, err := s.store.Keys(ctx, owner+":")
	if err != nil {
		return nil, err
	}
	out := make([]Verification, 0, len(keys))
	for _, key := range keys {
		v, ok, err := s.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Detach unlinks owner's verifications from an ended session so nothing
// points at it any more.
func (s *Verifications) Detach(ctx context.Context, owner, sessionID string) error {
	pending, err := s.Pending(ctx, owner)
	if err != nil {
		return err
	}
	for _, v := range pending {
		if v.Session != sessionID {
			continue
		}
		v.Session = ""
		if err := s.Save(ctx, v); err != nil {
			return err
		}
	}
	return nil
}

// Resolve removes v.
func (s *Verifications) Resolve(ctx context.Context, v Verification) error {
	return s.store.Delete(ctx, v.Key())
}
