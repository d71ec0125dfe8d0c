package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"strings"

	sserr "github.com/StricklySoft/stricklysoft-fstorage/pkg/errors"
)

// minModulusBits rejects toy RSA keys. crypto/rsa refuses to verify with
// anything under 1024 bits anyway.
const minModulusBits = 1024

// KeyDescriptor is one raw entry of the authority's key set.
type KeyDescriptor struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg,omitempty"`
	Use string `json:"use,omitempty"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// KeySet is the document served at the authority's key-set endpoint.
type KeySet struct {
	Keys []KeyDescriptor `json:"keys"`
}

// Find returns the first descriptor with the given kid.
func (s *KeySet) Find(kid string) (KeyDescriptor, bool) {
	for _, k := range s.Keys {
		if k.Kid == kid {
			return k, true
		}
	}
	return KeyDescriptor{}, false
}

// VerificationKey is a converted key ready for signature verification.
// It is immutable once built.
type VerificationKey struct {
	KeyID  string
	Public *rsa.PublicKey
}

// Equal reports whether both keys carry the same id and RSA material.
func (k *VerificationKey) Equal(other *VerificationKey) bool {
	if k == nil || other == nil {
		return k == other
	}
	return k.KeyID == other.KeyID && k.Public.Equal(other.Public)
}

// PEM encodes the public key as an SPKI "PUBLIC KEY" block.
func (k *VerificationKey) PEM() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(k.Public)
	if err != nil {
		return "", sserr.NewInvalidKeyMaterial(err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// ToVerificationKey converts an RSA key descriptor into a VerificationKey.
// It performs no I/O.
//
// Errors: UnsupportedKeyType when kty is not RSA, InvalidKeyMaterial when n
// or e cannot be decoded or do not form a usable public key.
func ToVerificationKey(d KeyDescriptor) (*VerificationKey, error) {
	if d.Kty != "RSA" {
		return nil, sserr.NewUnsupportedKeyType(d.Kty)
	}

	pub, err := rsaPublicKey(d.N, d.E)
	if err != nil {
		return nil, sserr.NewInvalidKeyMaterial(err).WithDetail("kid", d.Kid)
	}
	return &VerificationKey{KeyID: d.Kid, Public: pub}, nil
}

func rsaPublicKey(nEncoded, eEncoded string) (*rsa.PublicKey, error) {
	nBytes, err := decodeBase64URL(nEncoded)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eBytes, err := decodeBase64URL(eEncoded)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}

	n := new(big.Int).SetBytes(nBytes)
	if n.Sign() <= 0 {
		return nil, errors.New("modulus must be positive")
	}
	if n.BitLen() < minModulusBits {
		return nil, fmt.Errorf("modulus is %d bits, need at least %d", n.BitLen(), minModulusBits)
	}

	e := new(big.Int).SetBytes(eBytes)
	if !e.IsInt64() || e.Int64() > 1<<31-1 {
		return nil, errors.New("exponent does not fit in an int")
	}
	if e.Int64() < 2 || e.Bit(0) == 0 {
		return nil, fmt.Errorf("exponent %d is not a valid RSA exponent", e.Int64())
	}

	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

// decodeBase64URL accepts base64url with or without padding. RFC 7518 says
// unpadded, but some authorities pad.
func decodeBase64URL(s string) ([]byte, error) {
	if s == "" {
		return nil, errors.New("empty value")
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}
