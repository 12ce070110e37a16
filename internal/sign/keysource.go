package sign

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// KeySource describes where the verifier key comes from. SecretHex takes
// precedence over KeyFile. AllowEphemeral permits a random key when neither is
// set; it exists for local development only.
type KeySource struct {
	SecretHex      string
	KeyFile        string
	AllowEphemeral bool
}

// ParseSecretHex decodes a 64-character hex seed. A leading 0x and surrounding
// whitespace are tolerated; anything else is rejected rather than coerced.
func ParseSecretHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != hex.EncodedLen(ed25519.SeedSize) {
		return nil, fmt.Errorf("%w: secret must be %d hex characters, got %d", ErrKeyConfig, hex.EncodedLen(ed25519.SeedSize), len(s))
	}
	seed, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: secret is not valid hex: %v", ErrKeyConfig, err)
	}
	return seed, nil
}

// LoadKeyManager resolves src into a KeyManager. A configured but malformed
// secret is always an error, even when AllowEphemeral is set.
func LoadKeyManager(src KeySource, logger *slog.Logger) (*KeyManager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch {
	case strings.TrimSpace(src.SecretHex) != "":
		seed, err := ParseSecretHex(src.SecretHex)
		if err != nil {
			logger.Error("verifier secret rejected", "error", err)
			return nil, err
		}
		km, err := NewKeyManager(seed)
		if err != nil {
			return nil, err
		}
		logger.Info("verifier key loaded", "source", "env", "key_id", km.KeyID())
		return km, nil
	case src.KeyFile != "":
		seed, err := readKeyFile(src.KeyFile)
		if err != nil {
			logger.Error("verifier key file rejected", "path", src.KeyFile, "error", err)
			return nil, err
		}
		km, err := NewKeyManager(seed)
		if err != nil {
			return nil, err
		}
		logger.Info("verifier key loaded", "source", "file", "path", src.KeyFile, "key_id", km.KeyID())
		return km, nil
	case src.AllowEphemeral:
		km, err := GenerateKeyManager()
		if err != nil {
			return nil, err
		}
		logger.Error("no verifier key configured, generated an ephemeral key; signatures will not verify against any distributed trust anchor",
			"key_id", km.KeyID(), "public_key", km.PublicKeyHex())
		return km, nil
	default:
		return nil, fmt.Errorf("%w: no secret or key file configured", ErrKeyConfig)
	}
}

// readKeyFile accepts either a hex seed or a PKCS#8 PEM Ed25519 private key.
func readKeyFile(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read key file: %v", ErrKeyConfig, err)
	}
	raw = bytes.TrimSpace(raw)
	if !bytes.HasPrefix(raw, []byte("-----BEGIN")) {
		return ParseSecretHex(string(raw))
	}
	return parsePEMSeed(raw)
}

// GenerateSecretFile writes a fresh hex-encoded seed to path with mode 0600
// and returns the manager built from it.
func GenerateSecretFile(path string) (*KeyManager, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("read random seed: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(seed)+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("write key file: %w", err)
	}
	return NewKeyManager(seed)
}
