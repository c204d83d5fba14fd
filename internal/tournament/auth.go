package tournament

import (
	"sync"
	"time"
)

// refreshSkew renews a credential slightly before the backend expires it
const refreshSkew = time.Minute

// Credential is a bearer token with its expiry instant
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// NeedsRefresh reports whether cred must be fetched again at now.
// A zero expiry means the backend gave none and the token is reused until rejected.
func NeedsRefresh(now time.Time, cred Credential) bool {
	if cred.Token == "" {
		return true
	}
	if cred.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(refreshSkew).Before(cred.ExpiresAt)
}

// TokenCache holds the current credential
type TokenCache struct {
	mu   sync.Mutex
	cred Credential
}

// Get returns the cached credential
func (c *TokenCache) Get() Credential {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cred
}

// Set replaces the cached credential
func (c *TokenCache) Set(cred Credential) {
	c.mu.Lock()
	c.cred = cred
	c.mu.Unlock()
}

// Clear drops the cached credential
func (c *TokenCache) Clear() {
	c.Set(Credential{})
}
