package attest

import (
	"bytes"
	"fmt"
	"strconv"
)

// MessageVersion selects the canonical message layout.
//
// MessageV0 is the unprefixed layout that deployed release contracts
// reconstruct. MessageV1 is the same layout behind a "msa/v1|" tag so the
// format can evolve without old and new signatures colliding.
type MessageVersion int

const (
	MessageV0 MessageVersion = 0
	MessageV1 MessageVersion = 1
)

const v1Prefix = "msa/v1|"

func (v MessageVersion) Valid() bool {
	return v == MessageV0 || v == MessageV1
}

// Encode builds the legacy (v0) canonical message for f.
func Encode(f Fields) ([]byte, error) {
	return EncodeVersion(MessageV0, f)
}

// EncodeVersion validates f and renders
//
//	app:{app_id}|ms:{milestone_index}|status:{status}|ts:{timestamp}|hash:{milestone_hash}|proof:{proof_hash}
//
// with the version prefix when v > 0. Field order is part of the protocol.
func EncodeVersion(v MessageVersion, f Fields) ([]byte, error) {
	if !v.Valid() {
		return nil, &ValidationError{Field: "message_version", Reason: fmt.Sprintf("unsupported version %d", int(v))}
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	var b bytes.Buffer
	b.Grow(64 + len(f.MilestoneHash) + len(f.ProofHash))
	if v == MessageV1 {
		b.WriteString(v1Prefix)
	}
	b.WriteString("app:")
	b.WriteString(strconv.FormatUint(f.AppID, 10))
	b.WriteString("|ms:")
	b.WriteString(strconv.FormatUint(f.MilestoneIndex, 10))
	b.WriteString("|status:")
	b.WriteString(string(f.Status))
	b.WriteString("|ts:")
	b.WriteString(strconv.FormatInt(f.Timestamp, 10))
	b.WriteString("|hash:")
	b.WriteString(f.MilestoneHash)
	b.WriteString("|proof:")
	b.WriteString(f.ProofHash)
	return b.Bytes(), nil
}

// ExpectMessage reports whether message is exactly the canonical encoding of
// trusted under version v. Callers run this before trusting a signature check
// so that a valid signature over some other decision is not accepted.
func ExpectMessage(v MessageVersion, trusted Fields, message []byte) (bool, error) {
	want, err := EncodeVersion(v, trusted)
	if err != nil {
		return false, err
	}
	return bytes.Equal(want, message), nil
}
