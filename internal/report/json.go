package report

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ogulcanaydogan/milestone-attestation/internal/verify"
)

// jsonReport adds the release decision to the report so consumers do not
// have to derive it from exit_code.
type jsonReport struct {
	Decision string `json:"decision"`
	verify.Report
}

// BuildJSON renders r as indented JSON with a trailing newline. Empty check
// and violation lists are emitted as [] rather than null.
func BuildJSON(r verify.Report) ([]byte, error) {
	if r.Checks == nil {
		r.Checks = []verify.CheckResult{}
	}
	if r.Violations == nil {
		r.Violations = []string{}
	}
	out := jsonReport{Decision: decision(r), Report: r}
	raw, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	return append(raw, '\n'), nil
}

func WriteJSON(path string, r verify.Report) error {
	raw, err := BuildJSON(r)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}
