package auth

import "sync"

// KeyCache maps key ids to converted verification keys for the lifetime of
// the process. Entries are never replaced or removed. It is safe for
// concurrent use.
type KeyCache struct {
	mu   sync.RWMutex
	keys map[string]*VerificationKey
}

// NewKeyCache returns an empty cache.
func NewKeyCache() *KeyCache {
	return &KeyCache{keys: make(map[string]*VerificationKey)}
}

// Get returns the key cached under kid.
func (c *KeyCache) Get(kid string) (*VerificationKey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok := c.keys[kid]
	return key, ok
}

// Put inserts key unless its id is already cached, and returns whichever key
// the cache holds afterwards. Two racing resolutions of the same kid
// therefore agree on a single key.
func (c *KeyCache) Put(key *VerificationKey) *VerificationKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.keys[key.KeyID]; ok {
		return existing
	}
	c.keys[key.KeyID] = key
	return key
}

// Len returns the number of cached keys.
func (c *KeyCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.keys)
}
