package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/schoolhub/portal/internal/backend"
)

// ErrRoleChanged is returned by Refresh when the backend reports a different role.
var ErrRoleChanged = errors.New("auth: role changed, sign in again")

// StoreOption customises a Store.
type StoreOption func(*Store)

// WithIdentityCache lets a store resume a previously validated identity.
func WithIdentityCache(cache IdentityCache) StoreOption {
	return func(s *Store) { s.cache = cache }
}

// WithExpireHook runs fn once each time an authenticated session is rejected by the backend.
func WithExpireHook(fn func(Identity)) StoreOption {
	return func(s *Store) { s.onExpire = fn }
}

// WithLogoutHook runs fn once each time Logout ends an authenticated session.
func WithLogoutHook(fn func(Identity)) StoreOption {
	return func(s *Store) { s.onLogout = fn }
}

// Store is the single owner of "who is logged in" for one persistence scope.
// It is the only writer of the persisted credential.
type Store struct {
	api     *backend.Client
	anon    *backend.Client
	persist Persistence
	cache   IdentityCache

	onExpire func(Identity)
	onLogout func(Identity)

	initOnce sync.Once
	initErr  error
	refresh  singleflight.Group

	mu         sync.RWMutex
	state      LoadingState
	identity   *Identity
	profile    json.RawMessage
	credential string
}

// NewStore binds a store to a backend client and a persistence scope.
func NewStore(client *backend.Client, persist Persistence, opts ...StoreOption) *Store {
	s := &Store{persist: persist, state: StatePending}
	for _, opt := range opts {
		opt(s)
	}
	s.api = client.WithCredentials(s, func(context.Context) { s.Expire() })
	s.anon = client.WithCredentials(nil, nil)
	return s
}

// Initialize validates the persisted credential once per store lifetime.
// Any failure clears the credential; the store always ends resolved.
func (s *Store) Initialize(ctx context.Context) error {
	s.initOnce.Do(func() {
		s.initErr = s.initialize(ctx)
	})
	return s.initErr
}

func (s *Store) initialize(ctx context.Context) error {
	token := s.persist.LoadCredential()
	if token == "" {
		s.mu.Lock()
		if s.cache != nil {
			s.cache.ClearIdentity()
		}
		s.state = StateResolved
		s.mu.Unlock()
		return nil
	}

	if s.cache != nil {
		if cached, ok := s.cache.LoadIdentity(); ok {
			s.mu.Lock()
			s.identity = &cached
			s.credential = token
			s.state = StateResolved
			s.mu.Unlock()
			return nil
		}
	}

	s.mu.Lock()
	s.credential = token
	s.mu.Unlock()

	var me meResponse
	err := s.api.Get(ctx, "/auth/me", nil, &me)
	var id Identity
	if err == nil {
		id, err = me.User.identity()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.clearLocked()
		s.state = StateResolved
		return fmt.Errorf("auth: validate stored credential: %w", err)
	}
	s.identity = &id
	s.profile = me.Profile
	if s.cache != nil {
		s.cache.SaveIdentity(id)
	}
	s.state = StateResolved
	return nil
}

// Login exchanges an email and secret for a credential and identity.
// On failure the store is left exactly as it was.
func (s *Store) Login(ctx context.Context, email, secret string) (Identity, error) {
	var resp loginResponse
	if err := s.anon.Post(ctx, "/auth/login", loginRequest{Email: email, Password: secret}, &resp); err != nil {
		return Identity{}, &AuthenticationError{Message: backend.Message(err, "Login failed"), Err: err}
	}
	if resp.Token == "" {
		return Identity{}, &AuthenticationError{Message: "Login failed"}
	}
	id, err := resp.User.identity()
	if err != nil {
		return Identity{}, &AuthenticationError{Message: "This account cannot use the portal", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.persist.SaveCredential(resp.Token)
	if s.cache != nil {
		s.cache.SaveIdentity(id)
	}
	s.credential = resp.Token
	s.identity = &id
	s.profile = resp.Profile
	s.state = StateResolved
	return id, nil
}

// Logout clears credential and identity. It never fails and may be repeated;
// only the call that ended an authenticated session runs the logout hook.
func (s *Store) Logout() {
	s.mu.Lock()
	prev := s.identity
	s.clearLocked()
	s.state = StateResolved
	s.mu.Unlock()

	if prev != nil && s.onLogout != nil {
		s.onLogout(*prev)
	}
}

// Expire clears the session after the backend rejected the credential.
// It reports true only for the call that moved the store from authenticated
// to unauthenticated, so follow-up navigation happens once.
func (s *Store) Expire() bool {
	s.mu.Lock()
	prev := s.identity
	s.clearLocked()
	s.state = StateResolved
	s.mu.Unlock()

	if prev == nil {
		return false
	}
	if s.onExpire != nil {
		s.onExpire(*prev)
	}
	return true
}

func (s *Store) clearLocked() {
	s.persist.ClearCredential()
	if s.cache != nil {
		s.cache.ClearIdentity()
	}
	s.credential = ""
	s.identity = nil
	s.profile = nil
}

// UpdatePassword asks the backend to change the secret; session state is untouched.
func (s *Store) UpdatePassword(ctx context.Context, current, next string) error {
	if _, ok := s.Identity(); !ok {
		return ErrNotAuthenticated
	}
	return s.api.Put(ctx, "/auth/update-password", updatePasswordRequest{CurrentPassword: current, NewPassword: next}, nil)
}

// Refresh re-reads the identity from the backend. Concurrent callers share one lookup.
// A role change ends the session because roles are fixed for a session's lifetime.
func (s *Store) Refresh(ctx context.Context) (Identity, error) {
	current, ok := s.Identity()
	if !ok {
		return Identity{}, ErrNotAuthenticated
	}
	v, err, _ := s.refresh.Do("me", func() (any, error) {
		var me meResponse
		if err := s.api.Get(ctx, "/auth/me", nil, &me); err != nil {
			return nil, err
		}
		return me, nil
	})
	if err != nil {
		return Identity{}, err
	}
	me := v.(meResponse)
	id, err := me.User.identity()
	if err != nil {
		return Identity{}, err
	}
	if id.Role != current.Role || id.ID != current.ID {
		s.Logout()
		return Identity{}, ErrRoleChanged
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return Identity{}, ErrNotAuthenticated
	}
	s.identity = &id
	s.profile = me.Profile
	if s.cache != nil {
		s.cache.SaveIdentity(id)
	}
	return id, nil
}

// State reports whether startup validation has settled.
func (s *Store) State() LoadingState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Identity returns the current identity, if any.
func (s *Store) Identity() (Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return Identity{}, false
	}
	return *s.identity, true
}

// Profile returns the role profile captured at login or validation.
func (s *Store) Profile() json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile
}

// Credential implements backend.CredentialSource.
func (s *Store) Credential(context.Context) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.credential
}

var _ backend.CredentialSource = (*Store)(nil)
