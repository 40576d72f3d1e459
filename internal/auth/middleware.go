package auth

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/schoolhub/portal/internal/backend"
	"github.com/schoolhub/portal/internal/shared"
)

// EndFunc observes the end of an authenticated session. expired is true when
// the backend rejected the credential and false for an explicit logout.
type EndFunc func(ctx context.Context, sessionID string, id Identity, expired bool)

// ExpiredNotice is flashed once when the backend rejects a session credential.
const ExpiredNotice = "Your session has expired. Please sign in again."

// Sessions binds a Store to every request that carries a cookie session.
type Sessions struct {
	client     *backend.Client
	logger     *slog.Logger
	tombstones *Tombstones
	onEnd      []EndFunc
}

// NewSessions constructs the per-request store resolver.
func NewSessions(client *backend.Client, logger *slog.Logger, tombstones *Tombstones, onEnd ...EndFunc) *Sessions {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sessions{client: client, logger: logger, tombstones: tombstones, onEnd: onEnd}
}

// Middleware resolves the store before any guard or handler runs.
func (s *Sessions) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess := shared.SessionFromContext(ctx)
		if sess == nil {
			next.ServeHTTP(w, r)
			return
		}
		store := s.Open(ctx, sess)
		if err := store.Initialize(ctx); err != nil {
			s.logger.Info("stored credential rejected", slog.String("session", sess.ID), slog.Any("error", err))
		}
		next.ServeHTTP(w, r.WithContext(ContextWithStore(ctx, store)))
	})
}

// Open builds an uninitialised store over sess. A credential that another
// request already saw rejected is dropped before the store reads it.
func (s *Sessions) Open(ctx context.Context, sess *shared.Session) *Store {
	persist := NewSessionPersistence(sess)
	token := persist.LoadCredential()
	if token != "" && s.tombstones.Buried(ctx, sess.ID, token) {
		persist.ClearCredential()
		persist.ClearIdentity()
		token = ""
	}
	return NewStore(s.client, persist,
		WithIdentityCache(persist),
		WithExpireHook(func(id Identity) {
			s.logger.Warn("session credential rejected",
				slog.String("session", sess.ID),
				slog.String("user", id.ID),
				slog.String("role", string(id.Role)))
			sess.AddFlash(shared.FlashMessage{Kind: shared.FlashWarning, Message: ExpiredNotice})
			if token != "" {
				s.tombstones.Bury(ctx, sess.ID, token)
			}
			s.end(ctx, sess.ID, id, true)
		}),
		WithLogoutHook(func(id Identity) {
			s.end(ctx, sess.ID, id, false)
		}),
	)
}

func (s *Sessions) end(ctx context.Context, sessionID string, id Identity, expired bool) {
	for _, fn := range s.onEnd {
		fn(ctx, sessionID, id, expired)
	}
}
