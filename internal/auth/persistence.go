package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/schoolhub/portal/internal/shared"
)

// Persistence holds the single credential for one storage scope.
// Absence of a credential means unauthenticated.
type Persistence interface {
	LoadCredential() string
	SaveCredential(token string)
	ClearCredential()
}

// IdentityCache remembers an identity already validated in this scope.
type IdentityCache interface {
	LoadIdentity() (Identity, bool)
	SaveIdentity(id Identity)
	ClearIdentity()
}

const (
	sessionCredentialKey = "auth_credential"
	sessionIdentityKey   = "auth_identity"
)

// SessionPersistence keeps the credential in the server-side cookie session.
type SessionPersistence struct {
	sess *shared.Session
}

// NewSessionPersistence adapts a cookie session.
func NewSessionPersistence(sess *shared.Session) *SessionPersistence {
	return &SessionPersistence{sess: sess}
}

func (p *SessionPersistence) LoadCredential() string { return p.sess.Get(sessionCredentialKey) }

func (p *SessionPersistence) SaveCredential(token string) { p.sess.Set(sessionCredentialKey, token) }

func (p *SessionPersistence) ClearCredential() { p.sess.Delete(sessionCredentialKey) }

func (p *SessionPersistence) LoadIdentity() (Identity, bool) {
	raw := p.sess.Get(sessionIdentityKey)
	if raw == "" {
		return Identity{}, false
	}
	var id Identity
	if err := json.Unmarshal([]byte(raw), &id); err != nil || id.ID == "" {
		return Identity{}, false
	}
	if _, err := ParseRole(string(id.Role)); err != nil {
		return Identity{}, false
	}
	return id, true
}

func (p *SessionPersistence) SaveIdentity(id Identity) {
	raw, err := json.Marshal(id)
	if err != nil {
		return
	}
	p.sess.Set(sessionIdentityKey, string(raw))
}

func (p *SessionPersistence) ClearIdentity() { p.sess.Delete(sessionIdentityKey) }

var (
	_ Persistence   = (*SessionPersistence)(nil)
	_ IdentityCache = (*SessionPersistence)(nil)
)

// SessionCredentials reads the credential a stored cookie session holds, for
// work that runs outside the browser request. It never writes.
type SessionCredentials struct {
	manager *shared.SessionManager
}

// NewSessionCredentials constructs a reader over manager's sessions.
func NewSessionCredentials(manager *shared.SessionManager) *SessionCredentials {
	return &SessionCredentials{manager: manager}
}

// SessionCredential returns the credential of sessionID, or "" once the
// session has logged out, expired or been removed.
func (c *SessionCredentials) SessionCredential(ctx context.Context, sessionID string) (string, error) {
	sess, ok, err := c.manager.Lookup(ctx, sessionID)
	if err != nil || !ok {
		return "", err
	}
	return NewSessionPersistence(sess).LoadCredential(), nil
}

// FilePersistence keeps the credential in a YAML file, used by the CLI.
type FilePersistence struct {
	path string
	mu   sync.Mutex
	err  error
}

type credentialsFile struct {
	Credential string `yaml:"credential"`
}

// NewFilePersistence returns a file-backed persistence at path.
func NewFilePersistence(path string) *FilePersistence {
	return &FilePersistence{path: path}
}

// DefaultCredentialsPath resolves the per-user credentials file.
func DefaultCredentialsPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "schoolportal", "credentials.yaml"), nil
}

func (p *FilePersistence) LoadCredential() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	data, err := os.ReadFile(p.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			p.err = err
		}
		return ""
	}
	var file credentialsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		p.err = fmt.Errorf("auth: parse %s: %w", p.path, err)
		return ""
	}
	return file.Credential
}

func (p *FilePersistence) SaveCredential(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	data, err := yaml.Marshal(credentialsFile{Credential: token})
	if err != nil {
		p.err = err
		return
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o700); err != nil {
		p.err = err
		return
	}
	if err := os.WriteFile(p.path, data, 0o600); err != nil {
		p.err = err
	}
}

func (p *FilePersistence) ClearCredential() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := os.Remove(p.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		p.err = err
	}
}

// Err returns the last filesystem error, if any.
func (p *FilePersistence) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

var _ Persistence = (*FilePersistence)(nil)
