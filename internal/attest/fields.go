package attest

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Status is the verifier's decision on a milestone.
type Status string

const (
	StatusPass    Status = "PASS"
	StatusFail    Status = "FAIL"
	StatusPending Status = "PENDING"
)

const maxHashLen = 100

// ParseStatus accepts only the exact upper-case enum values.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPass, StatusFail, StatusPending:
		return st, nil
	default:
		return "", &ValidationError{Field: "status", Reason: fmt.Sprintf("must be one of PASS, FAIL, PENDING, got %q", s)}
	}
}

func (s Status) Valid() bool {
	_, err := ParseStatus(string(s))
	return err == nil
}

// Fields are the signed inputs of an attestation. ProofHash is optional and
// the empty string is the same as omitting it.
type Fields struct {
	AppID          uint64
	MilestoneIndex uint64
	Status         Status
	Timestamp      int64
	MilestoneHash  string
	ProofHash      string
}

// ValidationError is a caller-facing rejection; no attestation is produced.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validate checks every field against its domain. The hash fields must be
// ASCII alphanumeric because the message format does not escape its
// '|' and ':' delimiters.
func (f Fields) Validate() error {
	if f.AppID == 0 {
		return &ValidationError{Field: "app_id", Reason: "must be a positive integer"}
	}
	if !f.Status.Valid() {
		return &ValidationError{Field: "status", Reason: fmt.Sprintf("must be one of PASS, FAIL, PENDING, got %q", string(f.Status))}
	}
	if f.Timestamp < 0 {
		return &ValidationError{Field: "timestamp", Reason: "must not be negative"}
	}
	if f.MilestoneHash == "" {
		return &ValidationError{Field: "milestone_hash", Reason: "is required"}
	}
	if err := checkHashField("milestone_hash", f.MilestoneHash); err != nil {
		return err
	}
	return checkHashField("proof_hash", f.ProofHash)
}

func checkHashField(name, v string) error {
	if len(v) > maxHashLen {
		return &ValidationError{Field: name, Reason: fmt.Sprintf("must be at most %d characters", maxHashLen)}
	}
	if i := strings.IndexFunc(v, func(r rune) bool { return !isAlnum(r) }); i >= 0 {
		r, _ := utf8.DecodeRuneInString(v[i:])
		return &ValidationError{Field: name, Reason: fmt.Sprintf("must be alphanumeric, found %q at offset %d", r, i)}
	}
	return nil
}

func isAlnum(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
