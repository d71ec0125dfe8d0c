package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-fstorage/internal/testutil"
	"github.com/StricklySoft/stricklysoft-fstorage/internal/testutil/fixtures"
	sserr "github.com/StricklySoft/stricklysoft-fstorage/pkg/errors"
)

// newTestVerifier wires a verifier to a fake authority publishing kp.
func newTestVerifier(t *testing.T, kp *fixtures.KeyPair, opts ...VerifierOption) (*TokenVerifier, *fixtures.KeySetServer) {
	t.Helper()
	srv := fixtures.NewKeySetServer(t, kp.JWK())
	f, err := NewKeySetFetcher(srv.URL)
	require.NoError(t, err)
	return NewTokenVerifier(NewKeyResolver(nil, f), opts...), srv
}

func TestTokenVerifier_ValidToken(t *testing.T) {
	t.Parallel()
	kp := fixtures.NewKeyPair(t, fixtures.KeyID)
	v, srv := newTestVerifier(t, kp)

	p, err := v.Verify(context.Background(), kp.Sign(t, fixtures.Claims(fixtures.Subject)))
	require.NoError(t, err)
	assert.Equal(t, fixtures.Subject, p.Subject)
	assert.Equal(t, fixtures.KeyID, p.KeyID)

	p, err = v.Verify(context.Background(), kp.Sign(t, fixtures.Claims(fixtures.AltSubject)))
	require.NoError(t, err)
	assert.Equal(t, fixtures.AltSubject, p.Subject)
	assert.Equal(t, 1, srv.Fetches(), "second token hits the cache")
}

func TestTokenVerifier_PaddedKeySet(t *testing.T) {
	t.Parallel()
	kp := fixtures.NewKeyPair(t, fixtures.KeyID)
	srv := fixtures.NewKeySetServer(t, kp.PaddedJWK())
	f, err := NewKeySetFetcher(srv.URL)
	require.NoError(t, err)
	v := NewTokenVerifier(NewKeyResolver(nil, f))

	p, err := v.Verify(context.Background(), kp.Sign(t, fixtures.Claims(fixtures.Subject)))
	require.NoError(t, err)
	assert.Equal(t, fixtures.Subject, p.Subject)
}

func TestTokenVerifier_RejectsOtherAlgorithmsWithoutFetching(t *testing.T) {
	t.Parallel()
	kp := fixtures.NewKeyPair(t, fixtures.KeyID)
	v, srv := newTestVerifier(t, kp)

	pubPEM, err := (&VerificationKey{KeyID: fixtures.KeyID, Public: kp.Public()}).PEM()
	require.NoError(t, err)
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	claims := fixtures.Claims(fixtures.Subject)
	tokens := map[string]string{
		"HS256 keyed with public key": fixtures.SignWith(t, jwt.SigningMethodHS256, []byte(pubPEM), fixtures.KeyID, claims),
		"none":                        fixtures.SignWith(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, fixtures.KeyID, claims),
		"RS512":                       fixtures.SignWith(t, jwt.SigningMethodRS512, kp.Private, fixtures.KeyID, claims),
		"PS256":                       fixtures.SignWith(t, jwt.SigningMethodPS256, kp.Private, fixtures.KeyID, claims),
		"ES256":                       fixtures.SignWith(t, jwt.SigningMethodES256, ecKey, fixtures.KeyID, claims),
	}

	for name, token := range tokens {
		_, err := v.Verify(context.Background(), token)
		testutil.RequireErrorCode(t, err, sserr.CodeAlgorithmNotAllowed, name)
	}
	assert.Zero(t, srv.Fetches(), "algorithm is checked before any key lookup")
}

func TestTokenVerifier_MissingKeyID(t *testing.T) {
	t.Parallel()
	kp := fixtures.NewKeyPair(t, fixtures.KeyID)
	v, srv := newTestVerifier(t, kp)

	token := fixtures.SignWith(t, jwt.SigningMethodRS256, kp.Private, "", fixtures.Claims(fixtures.Subject))
	_, err := v.Verify(context.Background(), token)
	testutil.RequireErrorCode(t, err, sserr.CodeMissingKeyID)

	e, _ := sserr.AsError(err)
	assert.Equal(t, "kid not found in token header", e.Message)
	assert.Zero(t, srv.Fetches())
}

func TestTokenVerifier_UnknownKeyID(t *testing.T) {
	t.Parallel()
	kp := fixtures.NewKeyPair(t, fixtures.KeyID)
	v, _ := newTestVerifier(t, kp)

	stranger := fixtures.NewKeyPair(t, "unknown-kid")
	_, err := v.Verify(context.Background(), stranger.Sign(t, fixtures.Claims(fixtures.Subject)))
	testutil.RequireErrorCode(t, err, sserr.CodeKeyNotFound)
}

func TestTokenVerifier_Malformed(t *testing.T) {
	t.Parallel()
	kp := fixtures.NewKeyPair(t, fixtures.KeyID)
	v, srv := newTestVerifier(t, kp)

	valid := kp.Sign(t, fixtures.Claims(fixtures.Subject))
	parts := strings.Split(valid, ".")

	tokens := map[string]string{
		"empty":             "",
		"garbage":           "not-a-token",
		"two segments":      parts[0] + "." + parts[1],
		"four segments":     valid + ".extra",
		"header not base64": "@@@." + parts[1] + "." + parts[2],
		"payload not json":  parts[0] + ".bm90LWpzb24." + parts[2],
		"oversized":         parts[0] + "." + strings.Repeat("A", maxTokenSize) + "." + parts[2],
	}
	for name, token := range tokens {
		_, err := v.Verify(context.Background(), token)
		require.Error(t, err, name)
		assert.True(t, sserr.HasCode(err, sserr.CodeInvalidToken), "%s: got %v", name, err)
	}
	assert.Zero(t, srv.Fetches())
}

func TestTokenVerifier_Expired(t *testing.T) {
	t.Parallel()
	kp := fixtures.NewKeyPair(t, fixtures.KeyID)
	v, _ := newTestVerifier(t, kp)

	claims := fixtures.Claims(fixtures.Subject)
	claims["exp"] = time.Now().Add(-time.Hour).Unix()
	_, err := v.Verify(context.Background(), kp.Sign(t, claims))
	testutil.RequireErrorCode(t, err, sserr.CodeTokenExpired)
}

func TestTokenVerifier_NotYetValid(t *testing.T) {
	t.Parallel()
	kp := fixtures.NewKeyPair(t, fixtures.KeyID)
	v, _ := newTestVerifier(t, kp)

	claims := fixtures.Claims(fixtures.Subject)
	claims["nbf"] = time.Now().Add(time.Hour).Unix()
	_, err := v.Verify(context.Background(), kp.Sign(t, claims))
	testutil.RequireErrorCode(t, err, sserr.CodeTokenNotYetValid)
}

func TestTokenVerifier_ClockSkew(t *testing.T) {
	t.Parallel()
	kp := fixtures.NewKeyPair(t, fixtures.KeyID)
	strict, _ := newTestVerifier(t, kp)
	lenient, _ := newTestVerifier(t, kp, WithClockSkew(2*time.Minute))

	claims := fixtures.Claims(fixtures.Subject)
	claims["exp"] = time.Now().Add(-30 * time.Second).Unix()
	token := kp.Sign(t, claims)

	_, err := strict.Verify(context.Background(), token)
	testutil.RequireErrorCode(t, err, sserr.CodeTokenExpired)

	p, err := lenient.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, fixtures.Subject, p.Subject)
}

func TestTokenVerifier_BadSignature(t *testing.T) {
	t.Parallel()
	kp := fixtures.NewKeyPair(t, fixtures.KeyID)
	v, _ := newTestVerifier(t, kp)

	// Same kid, different private key.
	impostor := fixtures.NewKeyPair(t, fixtures.KeyID)
	_, err := v.Verify(context.Background(), impostor.Sign(t, fixtures.Claims(fixtures.Subject)))
	testutil.RequireErrorCode(t, err, sserr.CodeSignatureInvalid)

	// Tampered payload.
	valid := kp.Sign(t, fixtures.Claims(fixtures.Subject))
	other := kp.Sign(t, fixtures.Claims(fixtures.AltSubject))
	vp, op := strings.Split(valid, "."), strings.Split(other, ".")
	_, err = v.Verify(context.Background(), vp[0]+"."+op[1]+"."+vp[2])
	testutil.RequireErrorCode(t, err, sserr.CodeSignatureInvalid)
}

func TestTokenVerifier_SubjectClaim(t *testing.T) {
	t.Parallel()
	kp := fixtures.NewKeyPair(t, fixtures.KeyID)
	v, _ := newTestVerifier(t, kp)

	tests := []struct {
		name  string
		value any
		unset bool
	}{
		{name: "missing", unset: true},
		{name: "empty", value: ""},
		{name: "number", value: 123},
		{name: "object", value: map[string]any{"id": "u123"}},
	}
	for _, tt := range tests {
		claims := fixtures.Claims(fixtures.Subject)
		if tt.unset {
			delete(claims, SubjectClaim)
		} else {
			claims[SubjectClaim] = tt.value
		}
		_, err := v.Verify(context.Background(), kp.Sign(t, claims))
		require.Error(t, err, tt.name)
		assert.True(t, sserr.HasCode(err, sserr.CodeMissingSubjectClaim), "%s: got %v", tt.name, err)
	}
}

func TestTokenVerifier_SubjectKeptVerbatim(t *testing.T) {
	t.Parallel()
	kp := fixtures.NewKeyPair(t, fixtures.KeyID)
	v, _ := newTestVerifier(t, kp)

	for _, subject := range []string{" ", " u123 "} {
		p, err := v.Verify(context.Background(), kp.Sign(t, fixtures.Claims(subject)))
		require.NoError(t, err, "subject %q", subject)
		assert.Equal(t, subject, p.Subject)
	}
}

func TestTokenVerifier_IgnoresStandardSubject(t *testing.T) {
	t.Parallel()
	kp := fixtures.NewKeyPair(t, fixtures.KeyID)
	v, _ := newTestVerifier(t, kp)

	claims := fixtures.Claims(fixtures.Subject)
	claims["sub"] = "someone-else"
	p, err := v.Verify(context.Background(), kp.Sign(t, claims))
	require.NoError(t, err)
	assert.Equal(t, fixtures.Subject, p.Subject)
}

func TestTokenVerifier_UpstreamUnavailable(t *testing.T) {
	t.Parallel()
	kp := fixtures.NewKeyPair(t, fixtures.KeyID)
	v, srv := newTestVerifier(t, kp)
	srv.SetStatus(500)

	_, err := v.Verify(context.Background(), kp.Sign(t, fixtures.Claims(fixtures.Subject)))
	testutil.RequireErrorCode(t, err, sserr.CodeUpstreamUnavailable)

	// Failures are not cached; recovery is picked up on the next request.
	srv.SetStatus(200)
	_, err = v.Verify(context.Background(), kp.Sign(t, fixtures.Claims(fixtures.Subject)))
	require.NoError(t, err)
}

func TestClassifyError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		code sserr.Code
	}{
		{jwt.ErrTokenExpired, sserr.CodeTokenExpired},
		{jwt.ErrTokenNotValidYet, sserr.CodeTokenNotYetValid},
		{jwt.ErrTokenUsedBeforeIssued, sserr.CodeTokenNotYetValid},
		{jwt.ErrTokenSignatureInvalid, sserr.CodeSignatureInvalid},
		{jwt.ErrTokenMalformed, sserr.CodeInvalidToken},
		{jwt.ErrTokenInvalidClaims, sserr.CodeInvalidToken},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, classifyError(tt.err).Code, tt.err.Error())
	}
}
