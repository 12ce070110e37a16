package verify

import (
	"fmt"
	"strings"

	"github.com/ogulcanaydogan/milestone-attestation/internal/attest"
)

// VerifyBinding re-derives the canonical message from the expected milestone
// values plus the attested status and timestamp, and requires it to equal
// the signed message byte for byte.
func VerifyBinding(att attest.Attestation, expected Expected) error {
	var mismatches []string
	if att.AppID != expected.AppID {
		mismatches = append(mismatches, fmt.Sprintf("app_id %d, expected %d", att.AppID, expected.AppID))
	}
	if att.MilestoneIndex != expected.MilestoneIndex {
		mismatches = append(mismatches, fmt.Sprintf("milestone_index %d, expected %d", att.MilestoneIndex, expected.MilestoneIndex))
	}
	if att.MilestoneHash != expected.MilestoneHash {
		mismatches = append(mismatches, fmt.Sprintf("milestone_hash %q, expected %q", att.MilestoneHash, expected.MilestoneHash))
	}
	if att.ProofHash != expected.ProofHash {
		mismatches = append(mismatches, fmt.Sprintf("proof_hash %q, expected %q", att.ProofHash, expected.ProofHash))
	}
	if len(mismatches) > 0 {
		return fmt.Errorf("attestation fields differ: %s", strings.Join(mismatches, "; "))
	}

	trusted := attest.Fields{
		AppID:          expected.AppID,
		MilestoneIndex: expected.MilestoneIndex,
		Status:         att.Status,
		Timestamp:      att.Timestamp,
		MilestoneHash:  expected.MilestoneHash,
		ProofHash:      expected.ProofHash,
	}
	ok, err := attest.ExpectMessage(att.MessageVersion, trusted, []byte(att.Message))
	if err != nil {
		return fmt.Errorf("rebuild message: %w", err)
	}
	if !ok {
		return fmt.Errorf("signed message does not match the expected milestone decision")
	}
	return nil
}
