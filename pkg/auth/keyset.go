package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-fstorage/pkg/errors"
)

const (
	// KeySetPath is appended to the authority base URL.
	KeySetPath = "/api/v1/auth/.well-known/jwks.json"

	// DefaultFetchTimeout bounds a single key-set request.
	DefaultFetchTimeout = 5 * time.Second

	maxKeySetBytes = 1 << 20
)

// HTTPClient is satisfied by *http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// KeySetSource fetches the authority's current key set.
type KeySetSource interface {
	FetchKeySet(ctx context.Context) (*KeySet, error)
}

// KeySetFetcher retrieves the key set over HTTP.
type KeySetFetcher struct {
	url     string
	client  HTTPClient
	timeout time.Duration
	tracer  trace.Tracer
}

var _ KeySetSource = (*KeySetFetcher)(nil)

// FetcherOption customizes a KeySetFetcher.
type FetcherOption func(*KeySetFetcher)

// WithHTTPClient replaces the default otelhttp-instrumented client.
func WithHTTPClient(client HTTPClient) FetcherOption {
	return func(f *KeySetFetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// WithFetchTimeout overrides DefaultFetchTimeout. Non-positive values are
// ignored.
func WithFetchTimeout(d time.Duration) FetcherOption {
	return func(f *KeySetFetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// NewKeySetFetcher builds a fetcher for <authorityBaseURL>/api/v1/auth/.well-known/jwks.json.
// The base URL must be absolute http or https; trailing slashes are dropped.
func NewKeySetFetcher(authorityBaseURL string, opts ...FetcherOption) (*KeySetFetcher, error) {
	base := strings.TrimRight(strings.TrimSpace(authorityBaseURL), "/")
	u, err := url.Parse(base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, sserr.Newf(sserr.CodeInternalConfiguration,
			"auth: authority base URL %q must be an absolute http(s) URL", authorityBaseURL)
	}

	f := &KeySetFetcher{
		url:     base + KeySetPath,
		client:  &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		timeout: DefaultFetchTimeout,
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// URL returns the key-set endpoint.
func (f *KeySetFetcher) URL() string {
	return f.url
}

// FetchKeySet performs one GET, bounded by the fetch timeout and ctx.
//
// Transport errors, timeouts and non-200 responses are UpstreamUnavailable.
// A body that is not a key-set document is MalformedKeySet.
func (f *KeySetFetcher) FetchKeySet(ctx context.Context) (_ *KeySet, err error) {
	ctx, span := f.tracer.Start(ctx, "auth.FetchKeySet", trace.WithSpanKind(trace.SpanKindClient))
	defer func() {
		finishSpan(span, err)
		span.End()
	}()
	span.SetAttributes(attribute.String("http.url", f.url))

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, sserr.NewUpstreamUnavailable(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, sserr.NewUpstreamUnavailable(err)
	}
	defer func() { _ = resp.Body.Close() }()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, sserr.NewUpstreamUnavailable(
			fmt.Errorf("key set endpoint returned status %d", resp.StatusCode)).
			WithDetail("status", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKeySetBytes+1))
	if err != nil {
		return nil, sserr.NewUpstreamUnavailable(err)
	}
	if len(body) > maxKeySetBytes {
		return nil, sserr.NewMalformedKeySet(fmt.Errorf("key set exceeds %d bytes", maxKeySetBytes))
	}

	var set KeySet
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, sserr.NewMalformedKeySet(err)
	}
	if set.Keys == nil {
		return nil, sserr.NewMalformedKeySet(fmt.Errorf("key set has no keys member"))
	}
	span.SetAttributes(attribute.Int("auth.key_count", len(set.Keys)))
	return &set, nil
}
