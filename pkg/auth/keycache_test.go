package auth

import (
	"crypto/rsa"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func fakeKey(kid string, n int64) *VerificationKey {
	return &VerificationKey{KeyID: kid, Public: &rsa.PublicKey{N: big.NewInt(n), E: 65537}}
}

func TestKeyCache_GetPut(t *testing.T) {
	t.Parallel()
	c := NewKeyCache()

	_, ok := c.Get("k1")
	assert.False(t, ok)

	stored := c.Put(fakeKey("k1", 11))
	got, ok := c.Get("k1")
	assert.True(t, ok)
	assert.Same(t, stored, got)
	assert.Equal(t, 1, c.Len())
}

func TestKeyCache_FirstInsertWins(t *testing.T) {
	t.Parallel()
	c := NewKeyCache()
	first := fakeKey("k1", 11)
	second := fakeKey("k1", 13)

	assert.Same(t, first, c.Put(first))
	assert.Same(t, first, c.Put(second), "a cached kid must never change material")

	got, _ := c.Get("k1")
	assert.Same(t, first, got)
	assert.Equal(t, 1, c.Len())
}

func TestKeyCache_ConcurrentPutSameKid(t *testing.T) {
	t.Parallel()
	c := NewKeyCache()

	const workers = 64
	results := make([]*VerificationKey, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Put(fakeKey("shared", int64(i+3)))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, c.Len())
	winner, ok := c.Get("shared")
	assert.True(t, ok)
	for _, r := range results {
		assert.Same(t, winner, r)
	}
}
