// Package fixtures provides RSA key pairs, signed tokens and a fake
// authority key-set endpoint for the fstorage test suites.
//
// The package deliberately does not import pkg/auth so that in-package auth
// tests can use it without an import cycle.
package fixtures

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// Values shared across tests.
const (
	Subject    = "u123"
	AltSubject = "u456"
	KeyID      = "key-2024-01"
	AltKeyID   = "key-2024-02"
	Domain     = "avatars"

	// KeySetPath is where the fake authority serves its key set.
	KeySetPath = "/api/v1/auth/.well-known/jwks.json"
)

// JWK mirrors one entry of the authority's key-set document.
type JWK struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg,omitempty"`
	Use string `json:"use,omitempty"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// KeyPair is an RSA signing key with the kid it is published under.
type KeyPair struct {
	KeyID   string
	Private *rsa.PrivateKey
}

// NewKeyPair generates a 2048-bit RSA key.
func NewKeyPair(t testing.TB, kid string) *KeyPair {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err, "failed to generate RSA key")
	return &KeyPair{KeyID: kid, Private: priv}
}

// Public returns the public half.
func (k *KeyPair) Public() *rsa.PublicKey {
	return &k.Private.PublicKey
}

// JWK encodes the public key with unpadded base64url, as RFC 7518 requires.
func (k *KeyPair) JWK() JWK {
	return k.encode(base64.RawURLEncoding)
}

// PaddedJWK encodes with padded base64url, which some authorities publish.
func (k *KeyPair) PaddedJWK() JWK {
	return k.encode(base64.URLEncoding)
}

func (k *KeyPair) encode(enc *base64.Encoding) JWK {
	pub := k.Public()
	return JWK{
		Kid: k.KeyID,
		Kty: "RSA",
		Alg: "RS256",
		Use: "sig",
		N:   enc.EncodeToString(pub.N.Bytes()),
		E:   enc.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

// Sign issues an RS256 token with kid set in the header.
func (k *KeyPair) Sign(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	return SignWith(t, jwt.SigningMethodRS256, k.Private, k.KeyID, claims)
}

// SignWith signs claims with an arbitrary method and key. An empty kid leaves
// the header without one.
func SignWith(t testing.TB, method jwt.SigningMethod, key any, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(method, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	signed, err := token.SignedString(key)
	require.NoError(t, err, "failed to sign token")
	return signed
}

// Claims returns claims carrying user_id and a one hour expiry.
func Claims(subject string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"user_id": subject,
		"iat":     now.Unix(),
		"exp":     now.Add(time.Hour).Unix(),
	}
}

// KeySetServer is a fake authority. It counts key-set fetches and can be
// switched to fail or to serve arbitrary bodies.
type KeySetServer struct {
	*httptest.Server

	mu      sync.Mutex
	keys    []JWK
	status  int
	rawBody string
	fetches int
}

// NewKeySetServer starts a server publishing keys. It closes with the test.
func NewKeySetServer(t testing.TB, keys ...JWK) *KeySetServer {
	t.Helper()
	s := &KeySetServer{keys: keys, status: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc(KeySetPath, s.serve)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func (s *KeySetServer) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.fetches++
	status, raw := s.status, s.rawBody
	keys := append([]JWK(nil), s.keys...)
	s.mu.Unlock()

	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if raw != "" {
		_, _ = w.Write([]byte(raw))
		return
	}
	if keys == nil {
		keys = []JWK{}
	}
	_ = json.NewEncoder(w).Encode(map[string][]JWK{"keys": keys})
}

// Fetches returns how many key-set requests have been served.
func (s *KeySetServer) Fetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

// SetStatus makes subsequent responses use code.
func (s *KeySetServer) SetStatus(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = code
}

// SetKeys replaces the published keys.
func (s *KeySetServer) SetKeys(keys ...JWK) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = keys
}

// SetRawBody serves body verbatim instead of the encoded key set.
func (s *KeySetServer) SetRawBody(body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rawBody = body
}
