package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"

	"github.com/coder/quartz"
)

const (
	DefaultSessionTTL = 24 * time.Hour
	tokenBytes        = 32
)

// Manager provides in-memory session management for single-binary deployment.
// RedisSessions implements the same contract for multi-instance setups.
type Manager struct {
	mu sync.Mutex

	clock      quartz.Clock
	sessionTTL time.Duration
	sessions   map[string]sessionRecord // token -> principal
}

type sessionRecord struct {
	Principal Principal
	ExpiresAt time.Time
}

func NewManager(clock quartz.Clock, ttl time.Duration) *Manager {
	if clock == nil {
		clock = quartz.NewReal()
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Manager{
		clock:      clock,
		sessionTTL: ttl,
		sessions:   make(map[string]sessionRecord),
	}
}

func (m *Manager) Issue(_ context.Context, p Principal) (string, error) {
	if err := p.validate(); err != nil {
		return "", err
	}
	token, err := newToken()
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[token] = sessionRecord{
		Principal: p,
		ExpiresAt: m.clock.Now().Add(m.sessionTTL),
	}
	return token, nil
}

// Resolve validates and refreshes a session token.
func (m *Manager) Resolve(_ context.Context, token string) (Principal, bool) {
	if token == "" {
		return Principal{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, exists := m.sessions[token]
	if !exists {
		return Principal{}, false
	}
	now := m.clock.Now()
	if !now.Before(rec.ExpiresAt) {
		delete(m.sessions, token)
		return Principal{}, false
	}
	rec.ExpiresAt = now.Add(m.sessionTTL)
	m.sessions[token] = rec
	return rec.Principal, true
}

// Revoke invalidates a session token.
func (m *Manager) Revoke(_ context.Context, token string) {
	if token == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
}

func (m *Manager) Close() error { return nil }

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
