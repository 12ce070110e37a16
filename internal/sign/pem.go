package sign

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

const (
	pemPrivateKey = "PRIVATE KEY"
	pemPublicKey  = "PUBLIC KEY"
)

// parsePEMSeed extracts the Ed25519 seed from a PKCS#8 PEM block.
func parsePEMSeed(raw []byte) ([]byte, error) {
	block, _ := pem.Decode(raw)
	if block == nil || block.Type != pemPrivateKey {
		return nil, fmt.Errorf("%w: invalid pem key", ErrKeyConfig)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parse pkcs8 key: %v", ErrKeyConfig, err)
	}
	priv, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported key type %T: need ed25519", ErrKeyConfig, parsed)
	}
	return priv.Seed(), nil
}

// GeneratePEMFile writes a fresh PKCS#8 PEM private key to path with mode
// 0600 and returns the manager built from it.
func GeneratePEMFile(path string) (*KeyManager, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	pkcs8, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("marshal pkcs8: %w", err)
	}
	out := pem.EncodeToMemory(&pem.Block{Type: pemPrivateKey, Bytes: pkcs8})
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return nil, fmt.Errorf("write key file: %w", err)
	}
	return NewKeyManager(priv.Seed())
}

// PublicKeyPEM encodes the verifier public key as a PKIX PEM block, the form
// most TLS and signing tools accept as a trust anchor.
func (k *KeyManager) PublicKeyPEM() (string, error) {
	pkix, err := x509.MarshalPKIXPublicKey(k.PublicKey())
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: pemPublicKey, Bytes: pkix})), nil
}
