package yaml

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	goyaml "gopkg.in/yaml.v3"

	"github.com/ogulcanaydogan/milestone-attestation/internal/attest"
)

const policyVersion = "1"

// Policy is the release side's view of which verifier decisions it accepts.
type Policy struct {
	Version       string       `yaml:"version"`
	TrustedKeys   []TrustedKey `yaml:"trusted_keys"`
	RequireStatus string       `yaml:"require_status"`
	// MaxAgeSeconds bounds how old an attestation may be. Zero means no bound.
	MaxAgeSeconds int64 `yaml:"max_age_seconds"`
	// MaxSkewSeconds is how far in the future a timestamp may lie.
	MaxSkewSeconds int64 `yaml:"max_skew_seconds"`
	// MessageVersions pins the canonical message layouts the release side
	// rebuilds. Empty accepts every version.
	MessageVersions []attest.MessageVersion `yaml:"message_versions"`
}

// TrustedKey is one accepted verifier public key. An empty AppIDs list
// trusts the key for every application.
type TrustedKey struct {
	Name      string   `yaml:"name"`
	PublicKey string   `yaml:"public_key"`
	AppIDs    []uint64 `yaml:"app_ids"`
}

func LoadPolicy(path string) (Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, err
	}
	return ParsePolicy(raw)
}

// ParsePolicy decodes, normalizes and validates a policy document. Unknown
// keys are rejected so that a misspelt constraint is not silently ignored.
func ParsePolicy(raw []byte) (Policy, error) {
	var p Policy
	dec := goyaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return Policy{}, fmt.Errorf("policy is empty")
		}
		return Policy{}, fmt.Errorf("decode policy: %w", err)
	}
	p.normalize()
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func (p *Policy) normalize() {
	if p.Version == "" {
		p.Version = policyVersion
	}
	if p.RequireStatus == "" {
		p.RequireStatus = string(attest.StatusPass)
	}
	for i := range p.TrustedKeys {
		k := strings.ToLower(strings.TrimSpace(p.TrustedKeys[i].PublicKey))
		p.TrustedKeys[i].PublicKey = strings.TrimPrefix(k, "0x")
	}
}

func (p Policy) Validate() error {
	if p.Version != policyVersion {
		return fmt.Errorf("unsupported policy version %q", p.Version)
	}
	if len(p.TrustedKeys) == 0 {
		return fmt.Errorf("policy lists no trusted_keys")
	}
	seen := make(map[string]struct{}, len(p.TrustedKeys))
	for i, k := range p.TrustedKeys {
		raw, err := hex.DecodeString(k.PublicKey)
		if err != nil || len(raw) != 32 {
			return fmt.Errorf("trusted_keys[%d]: public_key must be 64 hex characters", i)
		}
		if _, dup := seen[k.PublicKey]; dup {
			return fmt.Errorf("trusted_keys[%d]: duplicate public_key", i)
		}
		seen[k.PublicKey] = struct{}{}
		for _, id := range k.AppIDs {
			if id == 0 {
				return fmt.Errorf("trusted_keys[%d]: app_ids must be positive", i)
			}
		}
	}
	if _, err := attest.ParseStatus(p.RequireStatus); err != nil {
		return fmt.Errorf("require_status: %w", err)
	}
	if p.MaxAgeSeconds < 0 {
		return fmt.Errorf("max_age_seconds must not be negative")
	}
	if p.MaxSkewSeconds < 0 {
		return fmt.Errorf("max_skew_seconds must not be negative")
	}
	for i, v := range p.MessageVersions {
		if !v.Valid() {
			return fmt.Errorf("message_versions[%d]: unsupported version %d", i, v)
		}
		if slices.Contains(p.MessageVersions[:i], v) {
			return fmt.Errorf("message_versions[%d]: duplicate version %d", i, v)
		}
	}
	return nil
}

// AcceptsVersion reports whether attestations encoded with v may be released.
func (p Policy) AcceptsVersion(v attest.MessageVersion) bool {
	return len(p.MessageVersions) == 0 || slices.Contains(p.MessageVersions, v)
}

// Trusts looks up publicKeyHex and reports whether it may attest for appID.
// The returned key is set whenever the key is listed, even if appID is out
// of its scope.
func (p Policy) Trusts(publicKeyHex string, appID uint64) (TrustedKey, bool) {
	want := strings.ToLower(publicKeyHex)
	for _, k := range p.TrustedKeys {
		if k.PublicKey != want {
			continue
		}
		if len(k.AppIDs) == 0 {
			return k, true
		}
		for _, id := range k.AppIDs {
			if id == appID {
				return k, true
			}
		}
		return k, false
	}
	return TrustedKey{}, false
}
