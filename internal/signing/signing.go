// Package signing implements the Signer (C8): detached signatures over
// canonical provenance bytes. Signing and storage are
// strictly separable — this package never touches the Provenance Store.
package signing

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

// Algorithm is the closed set of signing algorithms.
type Algorithm string

const (
	AlgorithmRS256 Algorithm = "RS256"
	AlgorithmES256 Algorithm = "ES256"
	AlgorithmEdDSA Algorithm = "EdDSA"
)

// Signer produces and verifies detached signatures over arbitrary bytes
// (the canonical JSON serialization of a ProvenanceRecord). It reuses
// golang-jwt's per-algorithm SigningMethod implementations
// directly rather than constructing full JWTs, since a provenance record
// is not a bearer token.
type Signer struct {
	algorithm Algorithm
	keyID     string
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
}

// NewEdDSASigner constructs a Signer using Ed25519. If either path is
// empty it generates an ephemeral development key pair.
func NewEdDSASigner(keyID, privateKeyPath, publicKeyPath string) (*Signer, error) {
	if privateKeyPath == "" || publicKeyPath == "" {
		slog.Warn("signing: no key files configured, generating ephemeral Ed25519 key pair (not for production)")
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("signing: generate key pair: %w", err)
		}
		return &Signer{algorithm: AlgorithmEdDSA, keyID: keyID, method: jwt.SigningMethodEdDSA, signKey: priv, verifyKey: pub}, nil
	}

	priv, err := readPEMPrivateKey(privateKeyPath)
	if err != nil {
		return nil, err
	}
	edPriv, ok := priv.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("signing: private key is not Ed25519")
	}

	pub, err := readPEMPublicKey(publicKeyPath)
	if err != nil {
		return nil, err
	}
	edPub, ok := pub.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("signing: public key is not Ed25519")
	}

	return &Signer{algorithm: AlgorithmEdDSA, keyID: keyID, method: jwt.SigningMethodEdDSA, signKey: edPriv, verifyKey: edPub}, nil
}

// NewES256Signer constructs a Signer using ECDSA P-256, for hosts that
// prefer NIST curves over Ed25519.
func NewES256Signer(keyID, privateKeyPath, publicKeyPath string) (*Signer, error) {
	priv, err := readPEMPrivateKey(privateKeyPath)
	if err != nil {
		return nil, err
	}
	ecPriv, ok := priv.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("signing: private key is not ECDSA")
	}
	pub, err := readPEMPublicKey(publicKeyPath)
	if err != nil {
		return nil, err
	}
	ecPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("signing: public key is not ECDSA")
	}
	return &Signer{algorithm: AlgorithmES256, keyID: keyID, method: jwt.SigningMethodES256, signKey: ecPriv, verifyKey: ecPub}, nil
}

// NewRS256Signer constructs a Signer using RSA PKCS1v15/SHA-256.
func NewRS256Signer(keyID, privateKeyPath, publicKeyPath string) (*Signer, error) {
	priv, err := readPEMPrivateKey(privateKeyPath)
	if err != nil {
		return nil, err
	}
	rsaPriv, ok := priv.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("signing: private key is not RSA")
	}
	pub, err := readPEMPublicKey(publicKeyPath)
	if err != nil {
		return nil, err
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("signing: public key is not RSA")
	}
	return &Signer{algorithm: AlgorithmRS256, keyID: keyID, method: jwt.SigningMethodRS256, signKey: rsaPriv, verifyKey: rsaPub}, nil
}

// Sign returns a detached signature over recordBytes — the canonical JSON
// serialization of a ProvenanceRecord with its signature and
// git_commit_hash fields omitted. Identical bytes yield
// verifying signatures regardless of when they are signed within one key
// epoch.
func (s *Signer) Sign(recordBytes []byte) ([]byte, error) {
	sig, err := s.method.Sign(string(recordBytes), s.signKey)
	if err != nil {
		return nil, fmt.Errorf("signing: sign: %w", err)
	}
	return sig, nil
}

// Verify reports whether signature is a valid signature over recordBytes
// under this Signer's key.
func (s *Signer) Verify(recordBytes, signature []byte) bool {
	return s.method.Verify(string(recordBytes), signature, s.verifyKey) == nil
}

// AlgorithmID reports the signing algorithm in use, per the outbound
// Signer facade.
func (s *Signer) AlgorithmID() Algorithm { return s.algorithm }

// KeyID reports the key identifier stored alongside every signature.
func (s *Signer) KeyID() string { return s.keyID }

func readPEMPrivateKey(path string) (any, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // path comes from validated config, not user input
	if err != nil {
		return nil, fmt.Errorf("signing: read private key: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("signing: decode private key PEM")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("signing: parse private key: %w", err)
	}
	return key, nil
}

func readPEMPublicKey(path string) (any, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // path comes from validated config, not user input
	if err != nil {
		return nil, fmt.Errorf("signing: read public key: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("signing: decode public key PEM")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("signing: parse public key: %w", err)
	}
	return key, nil
}
