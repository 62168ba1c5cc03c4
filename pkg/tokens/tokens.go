package tokens

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bastionhq/bastion/pkg/console"
)

// DefaultTTL is how long a console token stays valid. Long enough to
// cover a browser reconnect, short enough that a leaked token in a URL
// goes stale quickly.
const DefaultTTL = 10 * time.Minute

var (
	// ErrInvalidToken indicates an unknown or revoked token
	ErrInvalidToken = errors.New("invalid console token")

	// ErrTokenExpired indicates the token's TTL has elapsed
	ErrTokenExpired = errors.New("console token expired")

	// ErrWrongServer indicates the token was issued for a different server
	ErrWrongServer = errors.New("token not valid for this server")
)

// ConsoleToken grants one requester access to one server's console
type ConsoleToken struct {
	Token     string
	ServerID  string
	User      console.Identity
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Manager issues and validates console bearer tokens. Tokens are held
// in memory only: a panel restart invalidates them all, and browsers
// simply request a fresh one.
type Manager struct {
	mu     sync.RWMutex
	tokens map[string]*ConsoleToken
}

// NewManager creates a console token manager
func NewManager() *Manager {
	return &Manager{
		tokens: make(map[string]*ConsoleToken),
	}
}

// Issue creates a token granting the user access to the server's
// console for the given duration
func (m *Manager) Issue(serverID string, user console.Identity, ttl time.Duration) (*ConsoleToken, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	now := time.Now()
	ct := &ConsoleToken{
		Token:     hex.EncodeToString(raw),
		ServerID:  serverID,
		User:      user,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	m.mu.Lock()
	m.tokens[ct.Token] = ct
	m.mu.Unlock()
	return ct, nil
}

// Validate checks a token against the server it is being used for and
// returns the identity it was issued to
func (m *Manager) Validate(token, serverID string) (console.Identity, error) {
	m.mu.RLock()
	ct, exists := m.tokens[token]
	m.mu.RUnlock()

	if !exists {
		return console.Identity{}, ErrInvalidToken
	}
	if time.Now().After(ct.ExpiresAt) {
		return console.Identity{}, ErrTokenExpired
	}
	if ct.ServerID != serverID {
		return console.Identity{}, ErrWrongServer
	}
	return ct.User, nil
}

// Revoke invalidates a token immediately
func (m *Manager) Revoke(token string) {
	m.mu.Lock()
	delete(m.tokens, token)
	m.mu.Unlock()
}

// CleanupExpired removes expired tokens and returns how many were
// dropped. Called periodically by the janitor.
func (m *Manager) CleanupExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var dropped int
	for token, ct := range m.tokens {
		if now.After(ct.ExpiresAt) {
			delete(m.tokens, token)
			dropped++
		}
	}
	return dropped
}

// StartJanitor runs CleanupExpired on the given cadence until stop is
// closed
func (m *Manager) StartJanitor(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.CleanupExpired()
			case <-stop:
				return
			}
		}
	}()
}
