package auth

import (
	"context"
	"encoding/json"
	"time"

	sserr "github.com/StricklySoft/stricklysoft-fstorage/pkg/errors"
)

// SharedKeyStore is a second cache tier shared between replicas. It stores
// raw descriptors, not converted keys, so every replica converts and
// validates the material itself.
type SharedKeyStore interface {
	LoadDescriptor(ctx context.Context, kid string) (KeyDescriptor, bool, error)
	StoreDescriptor(ctx context.Context, d KeyDescriptor) error
}

// KeyValueStore is the slice of pkg/clients/redis.Client that RedisKeyStore
// needs. Get must report a missing key with an NF_ error.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, error)
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) (int64, error)
}

// RedisKeyStore keeps descriptors under <prefix><kid> with no expiry.
// Writes use SETNX, so the first descriptor stored for a kid is kept,
// matching KeyCache semantics across the fleet.
type RedisKeyStore struct {
	kv     KeyValueStore
	prefix string
}

var _ SharedKeyStore = (*RedisKeyStore)(nil)

// NewRedisKeyStore returns a store writing keys as prefix+kid.
func NewRedisKeyStore(kv KeyValueStore, prefix string) *RedisKeyStore {
	return &RedisKeyStore{kv: kv, prefix: prefix}
}

func (s *RedisKeyStore) key(kid string) string {
	return s.prefix + kid
}

// LoadDescriptor returns found=false, err=nil for an unknown kid. An entry
// that does not decode to a descriptor for kid is deleted, so the next
// successful fetch can publish a replacement.
func (s *RedisKeyStore) LoadDescriptor(ctx context.Context, kid string) (KeyDescriptor, bool, error) {
	raw, err := s.kv.Get(ctx, s.key(kid))
	if err != nil {
		if sserr.IsNotFound(err) {
			return KeyDescriptor{}, false, nil
		}
		return KeyDescriptor{}, false, err
	}

	var d KeyDescriptor
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		s.evict(ctx, kid)
		return KeyDescriptor{}, false, sserr.NewMalformedKeySet(err).WithDetail("kid", kid)
	}
	if d.Kid != kid {
		s.evict(ctx, kid)
		return KeyDescriptor{}, false, sserr.NewMalformedKeySet(nil).WithDetail("kid", kid)
	}
	return d, true, nil
}

// evict is best effort; a failed delete leaves the entry for the next load.
func (s *RedisKeyStore) evict(ctx context.Context, kid string) {
	_, _ = s.kv.Del(ctx, s.key(kid))
}

// StoreDescriptor writes d unless its kid is already present.
func (s *RedisKeyStore) StoreDescriptor(ctx context.Context, d KeyDescriptor) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeInternal, "auth: failed to encode key descriptor")
	}
	_, err = s.kv.SetNX(ctx, s.key(d.Kid), raw, 0)
	return err
}
