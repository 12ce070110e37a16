// Package verify runs the checks a release party performs before acting on
// a signed milestone attestation.
package verify

import (
	"fmt"
	"os"
	"time"

	"github.com/ogulcanaydogan/milestone-attestation/internal/attest"
	policyyaml "github.com/ogulcanaydogan/milestone-attestation/internal/policy/yaml"
)

// Expected is what the release side already knows about the milestone. The
// attestation must bind exactly these values; only status and timestamp come
// from the verifier.
type Expected struct {
	AppID          uint64
	MilestoneIndex uint64
	MilestoneHash  string
	ProofHash      string
}

// ExpectedFrom takes the expected values from the attestation itself. It
// only proves internal consistency and is meant for inspection.
func ExpectedFrom(att attest.Attestation) Expected {
	return Expected{
		AppID:          att.AppID,
		MilestoneIndex: att.MilestoneIndex,
		MilestoneHash:  att.MilestoneHash,
		ProofHash:      att.ProofHash,
	}
}

// Release runs every check against att and reports all failures rather than
// stopping at the first.
func Release(att attest.Attestation, expected Expected, policy policyyaml.Policy, now time.Time) Report {
	report := Report{
		Passed:         true,
		ExitCode:       ExitPass,
		AppID:          att.AppID,
		MilestoneIndex: att.MilestoneIndex,
		Status:         string(att.Status),
		KeyID:          att.KeyID,
	}

	if name, err := VerifyTrustAnchor(att, policy); err != nil {
		report.addFailure(CheckTrustAnchor, ExitPolicyFail, err)
	} else {
		report.TrustedKey = name
		report.addPass(CheckTrustAnchor, "trusted key "+name)
	}

	if policy.AcceptsVersion(att.MessageVersion) {
		report.addPass(CheckMessageVersion, fmt.Sprintf("v%d", att.MessageVersion))
	} else {
		report.addFailure(CheckMessageVersion, ExitPolicyFail, fmt.Errorf("message version %d is not accepted by policy (accepts %v)", att.MessageVersion, policy.MessageVersions))
	}

	if err := VerifyBinding(att, expected); err != nil {
		report.addFailure(CheckMessageBinding, ExitBindingMismatch, err)
	} else {
		report.addPass(CheckMessageBinding, "ok")
	}

	if err := VerifySignature(att); err != nil {
		report.addFailure(CheckSignature, ExitSignatureFail, err)
	} else {
		report.addPass(CheckSignature, "ok")
	}

	if string(att.Status) != policy.RequireStatus {
		report.addFailure(CheckStatus, ExitPolicyFail, fmt.Errorf("status %s, policy requires %s", att.Status, policy.RequireStatus))
	} else {
		report.addPass(CheckStatus, string(att.Status))
	}

	if msg, err := checkFreshness(att.Timestamp, policy, now); err != nil {
		report.addFailure(CheckFreshness, ExitPolicyFail, err)
	} else {
		report.addPass(CheckFreshness, msg)
	}
	return report
}

// ReleaseFile reads an attestation document from path and runs Release on
// it. A nil expected binds against the document's own fields.
func ReleaseFile(path string, expected *Expected, policy policyyaml.Policy, now time.Time) Report {
	report := Report{Passed: true, ExitCode: ExitPass, Source: path}
	raw, err := os.ReadFile(path)
	if err != nil {
		report.addFailure(CheckRead, ExitMissing, err)
		return report
	}
	att, err := DecodeAttestation(raw)
	if err != nil {
		report.addFailure(CheckSchema, ExitSchemaFail, err)
		return report
	}

	exp := ExpectedFrom(att)
	if expected != nil {
		exp = *expected
	}
	out := Release(att, exp, policy, now)
	out.Source = path
	out.Checks = append([]CheckResult{{Check: CheckSchema, Passed: true, Message: "ok"}}, out.Checks...)
	return out
}

func checkFreshness(ts int64, policy policyyaml.Policy, now time.Time) (string, error) {
	age := now.Unix() - ts
	if age < -policy.MaxSkewSeconds {
		return "", fmt.Errorf("timestamp %d is %ds in the future", ts, -age)
	}
	if policy.MaxAgeSeconds > 0 && age > policy.MaxAgeSeconds {
		return "", fmt.Errorf("attestation is %ds old, policy allows %ds", age, policy.MaxAgeSeconds)
	}
	return fmt.Sprintf("age %ds", age), nil
}

func (r *Report) addPass(check, msg string) {
	r.Checks = append(r.Checks, CheckResult{Check: check, Passed: true, Message: msg})
}

func (r *Report) addFailure(check string, exit int, err error) {
	r.Passed = false
	if r.ExitCode == ExitPass || exit > r.ExitCode {
		r.ExitCode = exit
	}
	msg := err.Error()
	r.Checks = append(r.Checks, CheckResult{Check: check, Passed: false, Message: msg})
	r.Violations = append(r.Violations, fmt.Sprintf("%s: %s", check, msg))
}
