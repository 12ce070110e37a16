package verify

import (
	"encoding/hex"
	"fmt"

	"github.com/ogulcanaydogan/milestone-attestation/internal/attest"
	policyyaml "github.com/ogulcanaydogan/milestone-attestation/internal/policy/yaml"
	"github.com/ogulcanaydogan/milestone-attestation/internal/sign"
)

// VerifySignature checks the Ed25519 signature over the attestation's
// message under its claimed public key.
func VerifySignature(att attest.Attestation) error {
	if att.Signature == "" {
		return fmt.Errorf("attestation has no signature")
	}
	if _, err := hex.DecodeString(att.Signature); err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	if _, err := hex.DecodeString(att.VerifierPubKey); err != nil {
		return fmt.Errorf("decode public key: %w", err)
	}
	if !sign.VerifyHex([]byte(att.Message), att.Signature, att.VerifierPubKey) {
		return fmt.Errorf("signature verification failed")
	}
	return nil
}

// VerifyTrustAnchor checks that the attestation's public key is one the
// policy trusts for its application, and returns the key's name.
func VerifyTrustAnchor(att attest.Attestation, policy policyyaml.Policy) (string, error) {
	key, ok := policy.Trusts(att.VerifierPubKey, att.AppID)
	if ok {
		if key.Name == "" {
			return att.VerifierPubKey, nil
		}
		return key.Name, nil
	}
	if key.PublicKey != "" {
		return "", fmt.Errorf("key %s is not trusted for app %d", displayKey(key), att.AppID)
	}
	return "", fmt.Errorf("verifier key %s is not trusted", att.VerifierPubKey)
}

func displayKey(k policyyaml.TrustedKey) string {
	if k.Name != "" {
		return k.Name
	}
	return k.PublicKey
}
