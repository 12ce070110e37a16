package sign

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

const Algorithm = "Ed25519"

var (
	// ErrKeyConfig marks a missing or malformed verifier secret.
	ErrKeyConfig = errors.New("verifier key configuration")
	// ErrNoKey is returned when signing through a manager that holds no key.
	ErrNoKey = errors.New("verifier key not initialized")
)

// KeyManager holds the verifier's single Ed25519 keypair. The key material is
// read-only after construction, so Sign and Verify need no locking.
type KeyManager struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	ephemeral  bool
}

// NewKeyManager derives the keypair from a 32-byte seed.
func NewKeyManager(seed []byte) (*KeyManager, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: seed must be %d bytes, got %d", ErrKeyConfig, ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &KeyManager{
		privateKey: priv,
		publicKey:  priv.Public().(ed25519.PublicKey),
	}, nil
}

// GenerateKeyManager creates a manager around a fresh random keypair. The
// result reports Ephemeral() == true.
func GenerateKeyManager() (*KeyManager, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return &KeyManager{privateKey: priv, publicKey: pub, ephemeral: true}, nil
}

func (k *KeyManager) Sign(message []byte) ([]byte, error) {
	if k == nil || len(k.privateKey) != ed25519.PrivateKeySize {
		return nil, ErrNoKey
	}
	return ed25519.Sign(k.privateKey, message), nil
}

// PublicKey returns a copy of the raw 32-byte public key.
func (k *KeyManager) PublicKey() ed25519.PublicKey {
	if k == nil {
		return nil
	}
	out := make(ed25519.PublicKey, len(k.publicKey))
	copy(out, k.publicKey)
	return out
}

func (k *KeyManager) PublicKeyHex() string {
	if k == nil {
		return ""
	}
	return hex.EncodeToString(k.publicKey)
}

// KeyID is a short fingerprint of the public key.
func (k *KeyManager) KeyID() string {
	if k == nil {
		return ""
	}
	h := sha256.Sum256(k.publicKey)
	return hex.EncodeToString(h[:8])
}

// Ephemeral reports whether the key was generated at startup rather than loaded.
func (k *KeyManager) Ephemeral() bool {
	return k != nil && k.ephemeral
}

// Verify checks signature over message with this manager's public key.
func (k *KeyManager) Verify(message, signature []byte) bool {
	if k == nil {
		return false
	}
	return Verify(message, signature, k.publicKey)
}

// Verify reports whether signature is a valid Ed25519 signature of message
// under publicKey. Malformed input of any kind yields false.
func Verify(message, signature, publicKey []byte) (ok bool) {
	if len(publicKey) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return ed25519.Verify(ed25519.PublicKey(publicKey), message, signature)
}

// VerifyHex decodes hex signature and public key before calling Verify.
// Decoding failures are indistinguishable from invalid signatures.
func VerifyHex(message []byte, signatureHex, publicKeyHex string) bool {
	sig, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}
	pub, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return false
	}
	return Verify(message, sig, pub)
}
