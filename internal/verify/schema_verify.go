package verify

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ogulcanaydogan/milestone-attestation/internal/attest"
	"github.com/ogulcanaydogan/milestone-attestation/pkg/schema"
)

// DecodeAttestation schema-checks raw and decodes it. A journal record,
// which wraps the attestation under "attestation", is unwrapped first.
func DecodeAttestation(raw []byte) (attest.Attestation, error) {
	var envelope struct {
		Attestation json.RawMessage `json:"attestation"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Attestation) > 0 {
		raw = envelope.Attestation
	}

	errs, err := schema.Validate(schema.Attestation, raw)
	if err != nil {
		return attest.Attestation{}, err
	}
	if len(errs) > 0 {
		return attest.Attestation{}, fmt.Errorf("attestation schema invalid: %s", strings.Join(errs, "; "))
	}
	var att attest.Attestation
	if err := json.Unmarshal(raw, &att); err != nil {
		return attest.Attestation{}, fmt.Errorf("decode attestation: %w", err)
	}
	return att, nil
}
