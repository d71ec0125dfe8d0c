package auth

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-fstorage/pkg/errors"
)

const tracerName = "github.com/StricklySoft/stricklysoft-fstorage/pkg/auth"

// Resolver turns a key id into a verification key.
type Resolver interface {
	Resolve(ctx context.Context, kid string) (*VerificationKey, error)
}

// KeyResolver resolves key ids through the KeyCache, an optional
// SharedKeyStore, and finally the authority's key set. It is safe for
// concurrent use. Concurrent misses for one kid may fetch more than once;
// the cache keeps the first key inserted.
type KeyResolver struct {
	cache  *KeyCache
	source KeySetSource
	shared SharedKeyStore
	logger *slog.Logger
	tracer trace.Tracer
}

var _ Resolver = (*KeyResolver)(nil)

// ResolverOption customizes a KeyResolver.
type ResolverOption func(*KeyResolver)

// WithSharedStore adds a cross-replica descriptor tier.
func WithSharedStore(store SharedKeyStore) ResolverOption {
	return func(r *KeyResolver) { r.shared = store }
}

// WithResolverLogger sets the logger for shared-tier degradation warnings.
func WithResolverLogger(logger *slog.Logger) ResolverOption {
	return func(r *KeyResolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewKeyResolver returns a resolver over cache and source. A nil cache gets
// a fresh one.
func NewKeyResolver(cache *KeyCache, source KeySetSource, opts ...ResolverOption) *KeyResolver {
	if cache == nil {
		cache = NewKeyCache()
	}
	r := &KeyResolver{
		cache:  cache,
		source: source,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Cache returns the underlying cache.
func (r *KeyResolver) Cache() *KeyCache {
	return r.cache
}

// Resolve returns the key for kid. A cache hit performs no I/O. On a miss
// the key set is fetched once and scanned in full.
//
// Errors: UpstreamUnavailable and MalformedKeySet from the fetch,
// KeyNotFound when no descriptor matches, and UnsupportedKeyType or
// InvalidKeyMaterial when the matching descriptor cannot be converted.
func (r *KeyResolver) Resolve(ctx context.Context, kid string) (_ *VerificationKey, err error) {
	ctx, span := r.tracer.Start(ctx, "auth.ResolveKey")
	defer func() {
		finishSpan(span, err)
		span.End()
	}()
	span.SetAttributes(attribute.String("auth.kid", kid))

	if key, ok := r.cache.Get(kid); ok {
		span.SetAttributes(attribute.Bool("auth.cache_hit", true))
		return key, nil
	}
	span.SetAttributes(attribute.Bool("auth.cache_hit", false))

	if key, ok := r.resolveShared(ctx, kid); ok {
		span.SetAttributes(attribute.String("auth.key_source", "shared"))
		return key, nil
	}
	span.SetAttributes(attribute.String("auth.key_source", "authority"))

	set, err := r.source.FetchKeySet(ctx)
	if err != nil {
		if _, ok := sserr.AsError(err); !ok {
			err = sserr.NewUpstreamUnavailable(err)
		}
		return nil, err
	}

	desc, ok := set.Find(kid)
	if !ok {
		return nil, sserr.NewKeyNotFound(kid)
	}
	key, err := ToVerificationKey(desc)
	if err != nil {
		return nil, err
	}
	stored := r.cache.Put(key)

	if r.shared != nil {
		if err := r.shared.StoreDescriptor(ctx, desc); err != nil {
			r.logger.WarnContext(ctx, "auth: failed to publish key to shared store",
				"kid", kid, "error", err)
		}
	}
	return stored, nil
}

// resolveShared consults the shared tier. Any failure there falls back to
// the authority.
func (r *KeyResolver) resolveShared(ctx context.Context, kid string) (*VerificationKey, bool) {
	if r.shared == nil {
		return nil, false
	}
	desc, found, err := r.shared.LoadDescriptor(ctx, kid)
	if err != nil {
		r.logger.WarnContext(ctx, "auth: shared key store lookup failed",
			"kid", kid, "error", err)
		return nil, false
	}
	if !found {
		return nil, false
	}
	key, err := ToVerificationKey(desc)
	if err != nil {
		r.logger.WarnContext(ctx, "auth: shared key store holds unusable key",
			"kid", kid, "error", err)
		return nil, false
	}
	return r.cache.Put(key), true
}

// finishSpan marks span as failed when err is non-nil. The caller ends it.
func finishSpan(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
