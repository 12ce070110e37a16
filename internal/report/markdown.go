package report

import (
	"fmt"
	"os"
	"strings"

	"github.com/ogulcanaydogan/milestone-attestation/internal/verify"
)

func decision(r verify.Report) string {
	if r.Passed {
		return "RELEASE"
	}
	return "HOLD"
}

func BuildMarkdown(r verify.Report) string {
	status := decision(r)
	var b strings.Builder
	b.WriteString("# Milestone Release Check\n\n")
	b.WriteString(fmt.Sprintf("- Decision: **%s**\n", status))
	b.WriteString(fmt.Sprintf("- Exit Code: `%d`\n", r.ExitCode))
	if r.Source != "" {
		b.WriteString(fmt.Sprintf("- Source: `%s`\n", r.Source))
	}
	b.WriteString(fmt.Sprintf("- Application: `%d`\n", r.AppID))
	b.WriteString(fmt.Sprintf("- Milestone: `%d`\n", r.MilestoneIndex))
	if r.Status != "" {
		b.WriteString(fmt.Sprintf("- Attested Status: `%s`\n", r.Status))
	}
	if r.TrustedKey != "" {
		b.WriteString(fmt.Sprintf("- Verifier: `%s`\n", r.TrustedKey))
	} else if r.KeyID != "" {
		b.WriteString(fmt.Sprintf("- Key ID: `%s`\n", r.KeyID))
	}

	b.WriteString("\n## Checks\n\n")
	b.WriteString("| Check | Passed | Message |\n")
	b.WriteString("|---|---:|---|\n")
	for _, c := range r.Checks {
		b.WriteString(fmt.Sprintf("| %s | %t | %s |\n", c.Check, c.Passed, escapeCell(c.Message)))
	}

	if len(r.Violations) > 0 {
		b.WriteString("\n## Violations\n\n")
		for _, v := range r.Violations {
			b.WriteString("- " + v + "\n")
		}
	}
	return b.String()
}

func WriteMarkdown(path string, r verify.Report) error {
	return os.WriteFile(path, []byte(BuildMarkdown(r)), 0o644)
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}
