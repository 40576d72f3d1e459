package auth

import (
	"context"

	"github.com/schoolhub/portal/internal/backend"
)

type storeContextKey struct{}

// ContextWithStore attaches the request's session store.
func ContextWithStore(ctx context.Context, s *Store) context.Context {
	return context.WithValue(ctx, storeContextKey{}, s)
}

// StoreFromContext returns the store bound to the request, or nil.
func StoreFromContext(ctx context.Context) *Store {
	s, _ := ctx.Value(storeContextKey{}).(*Store)
	return s
}

// IdentityFromContext is a convenience reader for handlers.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if s := StoreFromContext(ctx); s != nil {
		return s.Identity()
	}
	return Identity{}, false
}

// Bind returns a copy of client that resolves the credential from the store in
// the call's context and expires that store when the backend rejects it.
// Services built once at startup use it to act on behalf of each request.
func Bind(client *backend.Client) *backend.Client {
	return client.WithCredentials(contextCredentials{}, func(ctx context.Context) {
		if s := StoreFromContext(ctx); s != nil {
			s.Expire()
		}
	})
}

type contextCredentials struct{}

func (contextCredentials) Credential(ctx context.Context) string {
	if s := StoreFromContext(ctx); s != nil {
		return s.Credential(ctx)
	}
	return ""
}
