package types

import "encoding/json"

// AttestationRequest is the body of POST /v1/attestations.
type AttestationRequest struct {
	AppID          uint64          `json:"app_id"`
	MilestoneIndex uint64          `json:"milestone_index"`
	Status         string          `json:"status"`
	MilestoneHash  string          `json:"milestone_hash"`
	ProofHash      string          `json:"proof_hash,omitempty"`
	Timestamp      *int64          `json:"timestamp,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

// VerifyRequest is the body of POST /v1/verify. Signature and PublicKey are hex.
type VerifyRequest struct {
	Message   string `json:"message"`
	Signature string `json:"signature"`
	PublicKey string `json:"public_key"`
}

type VerifyResponse struct {
	Valid     bool   `json:"valid"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
	PublicKey string `json:"public_key"`
}

type PublicKeyResponse struct {
	PublicKey string `json:"public_key"`
	Algorithm string `json:"algorithm"`
	KeyID     string `json:"key_id,omitempty"`
}

// ErrorResponse is returned for rejected requests.
type ErrorResponse struct {
	Error     string   `json:"error"`
	Field     string   `json:"field,omitempty"`
	Reason    string   `json:"reason,omitempty"`
	Details   []string `json:"details,omitempty"`
	RequestID string   `json:"request_id,omitempty"`
}
