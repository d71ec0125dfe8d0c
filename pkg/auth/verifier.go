package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-fstorage/pkg/errors"
)

const (
	// SubjectClaim names the claim carrying the authenticated user id.
	SubjectClaim = "user_id"

	// AllowedAlgorithm is the only accepted signing algorithm.
	AllowedAlgorithm = "RS256"

	// maxTokenSize caps tokens at 8 KiB, well above any legitimate token.
	maxTokenSize = 8 << 10
)

// AuthenticatedPrincipal is the result of a successful verification.
type AuthenticatedPrincipal struct {
	Subject string
	KeyID   string
}

// Verifier verifies raw bearer tokens.
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (*AuthenticatedPrincipal, error)
}

// TokenVerifier verifies RS256 tokens against keys from a Resolver.
// It is safe for concurrent use.
type TokenVerifier struct {
	resolver Resolver
	parser   *jwt.Parser
	tracer   trace.Tracer
}

var _ Verifier = (*TokenVerifier)(nil)

// VerifierOption customizes a TokenVerifier.
type VerifierOption func(*verifierConfig)

type verifierConfig struct {
	clockSkew time.Duration
}

// WithClockSkew tolerates clock drift when checking exp and nbf.
func WithClockSkew(d time.Duration) VerifierOption {
	return func(c *verifierConfig) {
		if d > 0 {
			c.clockSkew = d
		}
	}
}

// NewTokenVerifier returns a verifier that resolves keys through resolver.
func NewTokenVerifier(resolver Resolver, opts ...VerifierOption) *TokenVerifier {
	var cfg verifierConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return &TokenVerifier{
		resolver: resolver,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{AllowedAlgorithm}),
			jwt.WithLeeway(cfg.clockSkew),
		),
		tracer: otel.Tracer(tracerName),
	}
}

// Verify authenticates rawToken in two phases. The header is decoded without
// verification to pin the algorithm and read kid; the key is resolved (the
// only step that may block on I/O); then the signature and standard time
// claims are checked against that key and user_id is extracted.
//
// Every failure is an AUTH_ *sserr.Error.
func (v *TokenVerifier) Verify(ctx context.Context, rawToken string) (_ *AuthenticatedPrincipal, err error) {
	ctx, span := v.tracer.Start(ctx, "auth.Verify")
	defer func() {
		finishSpan(span, err)
		span.End()
	}()

	if rawToken == "" {
		return nil, sserr.NewInvalidToken(errors.New("token is empty"))
	}
	if len(rawToken) > maxTokenSize {
		return nil, sserr.NewInvalidToken(errors.New("token exceeds maximum size"))
	}

	kid, err := v.inspectHeader(rawToken)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("auth.kid", kid))

	key, err := v.resolver.Resolve(ctx, kid)
	if err != nil {
		if _, ok := sserr.AsError(err); !ok {
			err = sserr.NewUpstreamUnavailable(err)
		}
		return nil, err
	}

	subject, err := v.verifySignature(rawToken, key)
	if err != nil {
		return nil, err
	}
	return &AuthenticatedPrincipal{Subject: subject, KeyID: key.KeyID}, nil
}

// inspectHeader decodes the header without trusting it. The algorithm check
// happens here so downgraded tokens never trigger a key fetch.
func (v *TokenVerifier) inspectHeader(rawToken string) (string, error) {
	token, _, err := v.parser.ParseUnverified(rawToken, jwt.MapClaims{})
	if token == nil || token.Header == nil {
		return "", sserr.NewInvalidToken(err)
	}

	alg, _ := token.Header["alg"].(string)
	if alg != AllowedAlgorithm {
		return "", sserr.NewAlgorithmNotAllowed(alg)
	}
	if err != nil {
		return "", sserr.NewInvalidToken(err)
	}

	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return "", sserr.NewMissingKeyID()
	}
	return kid, nil
}

// verifySignature is synchronous: the key is already resolved.
func (v *TokenVerifier) verifySignature(rawToken string, key *VerificationKey) (string, error) {
	claims := jwt.MapClaims{}
	_, err := v.parser.ParseWithClaims(rawToken, claims, func(*jwt.Token) (any, error) {
		return key.Public, nil
	})
	if err != nil {
		return "", classifyError(err)
	}

	subject, _ := claims[SubjectClaim].(string)
	if subject == "" {
		return "", sserr.NewMissingSubjectClaim()
	}
	return subject, nil
}

// classifyError maps golang-jwt errors onto the auth taxonomy.
func classifyError(err error) *sserr.Error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return sserr.NewTokenExpired(err)
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return sserr.NewTokenNotYetValid(err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return sserr.NewSignatureInvalid(err)
	default:
		return sserr.NewInvalidToken(err)
	}
}
