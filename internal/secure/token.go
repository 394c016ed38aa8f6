package secure

import (
	"sync"
	"time"

	"github.com/awnumar/memguard"
)

// TokenCache stores one authentication token in memory for the lifetime of a
// session. The identifier is sealed in a memguard enclave; the renewal policy
// (renewable, ttl) is kept in the clear.
type TokenCache struct {
	mu        sync.RWMutex
	enclave   *memguard.Enclave
	renewable bool
	ttl       time.Duration
	issuedAt  time.Time
}

// Snapshot is a point-in-time view of the cached token without its identifier.
type Snapshot struct {
	Set       bool
	Renewable bool
	TTL       time.Duration
	IssuedAt  time.Time
}

// ExpiresAt returns the expiry of the token, or the zero time for tokens
// without a TTL.
func (s Snapshot) ExpiresAt() time.Time {
	if !s.Set || s.TTL <= 0 {
		return time.Time{}
	}
	return s.IssuedAt.Add(s.TTL)
}

// NewTokenCache creates a new empty token cache
func NewTokenCache() *TokenCache {
	return &TokenCache{}
}

// Set replaces the cached token. The previous token, if any, is dropped.
func (c *TokenCache) Set(id string, renewable bool, ttl time.Duration, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// memguard returns a nil enclave for empty input; an empty id is
	// treated as "no token".
	c.enclave = nil
	if id != "" {
		c.enclave = memguard.NewEnclave([]byte(id))
	}
	c.renewable = renewable
	c.ttl = ttl
	c.issuedAt = now
}

// ID decrypts and returns the cached token identifier.
// Returns empty string and false when no token is cached.
func (c *TokenCache) ID() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.enclave == nil {
		return "", false
	}

	locked, err := c.enclave.Open()
	if err != nil {
		return "", false
	}
	defer locked.Destroy()

	return string(locked.Bytes()), true
}

// Snapshot returns the renewal policy of the cached token.
func (c *TokenCache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		Set:       c.enclave != nil,
		Renewable: c.renewable,
		TTL:       c.ttl,
		IssuedAt:  c.issuedAt,
	}
}

// Clear removes the cached token. Safe to call repeatedly.
func (c *TokenCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.enclave = nil
	c.renewable = false
	c.ttl = 0
	c.issuedAt = time.Time{}
}
