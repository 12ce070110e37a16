package attest

import (
	"github.com/ogulcanaydogan/milestone-attestation/internal/sign"
)

// Attestation is a signed verifier decision. It is a value: nothing in this
// module mutates one after Service.Create returns it.
type Attestation struct {
	AppID          uint64         `json:"app_id"`
	MilestoneIndex uint64         `json:"milestone_index"`
	Status         Status         `json:"status"`
	Timestamp      int64          `json:"timestamp"`
	MilestoneHash  string         `json:"milestone_hash"`
	ProofHash      string         `json:"proof_hash"`
	VerifierPubKey string         `json:"verifier_pubkey"`
	Message        string         `json:"message"`
	Signature      string         `json:"signature"`
	KeyID          string         `json:"key_id,omitempty"`
	MessageVersion MessageVersion `json:"message_version"`
}

func (a Attestation) Fields() Fields {
	return Fields{
		AppID:          a.AppID,
		MilestoneIndex: a.MilestoneIndex,
		Status:         a.Status,
		Timestamp:      a.Timestamp,
		MilestoneHash:  a.MilestoneHash,
		ProofHash:      a.ProofHash,
	}
}

// Verify checks the attestation's own signature against its own public key.
// It says nothing about whether that key is trusted.
func (a Attestation) Verify() bool {
	return sign.VerifyHex([]byte(a.Message), a.Signature, a.VerifierPubKey)
}

// Consistent reports whether Message is the canonical encoding of the
// attestation's fields.
func (a Attestation) Consistent() bool {
	ok, err := ExpectMessage(a.MessageVersion, a.Fields(), []byte(a.Message))
	return err == nil && ok
}
