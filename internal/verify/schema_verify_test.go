package verify

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/ogulcanaydogan/milestone-attestation/internal/attest"
)

func TestDecodeAttestation(t *testing.T) {
	att := fixtureAttestation(t, fixtureKey(t, 7), attest.StatusPass)
	raw, _ := json.Marshal(att)
	got, err := DecodeAttestation(raw)
	if err != nil {
		t.Fatal(err)
	}
	if got != att {
		t.Fatalf("decoded %+v, want %+v", got, att)
	}
}

func TestDecodeAttestationUnwrapsRecord(t *testing.T) {
	att := fixtureAttestation(t, fixtureKey(t, 7), attest.StatusPass)
	raw, _ := json.Marshal(map[string]any{
		"id":          "sha256:abc",
		"attestation": att,
		"created_at":  "2026-01-01T00:00:00Z",
	})
	got, err := DecodeAttestation(raw)
	if err != nil {
		t.Fatal(err)
	}
	if got.Signature != att.Signature {
		t.Fatalf("signature = %q", got.Signature)
	}
}

func TestDecodeAttestationRejects(t *testing.T) {
	att := fixtureAttestation(t, fixtureKey(t, 7), attest.StatusPass)
	mutate := func(f func(m map[string]any)) []byte {
		raw, _ := json.Marshal(att)
		var m map[string]any
		json.Unmarshal(raw, &m)
		f(m)
		out, _ := json.Marshal(m)
		return out
	}
	cases := map[string][]byte{
		"missing signature": mutate(func(m map[string]any) { delete(m, "signature") }),
		"upper-case hex":    mutate(func(m map[string]any) { m["signature"] = strings.ToUpper(att.Signature) }),
		"short pubkey":      mutate(func(m map[string]any) { m["verifier_pubkey"] = att.VerifierPubKey[:10] }),
		"bad status":        mutate(func(m map[string]any) { m["status"] = "MAYBE" }),
		"version 2":         mutate(func(m map[string]any) { m["message_version"] = 2 }),
		"delimiter in hash": mutate(func(m map[string]any) { m["milestone_hash"] = "a|b" }),
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodeAttestation(raw); err == nil {
				t.Fatal("expected schema error")
			}
		})
	}
	if _, err := DecodeAttestation([]byte("not json")); err == nil {
		t.Fatal("expected error for non-JSON")
	}
}
