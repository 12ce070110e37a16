package verify

const (
	ExitPass            = 0
	ExitMissing         = 10
	ExitSignatureFail   = 11
	ExitBindingMismatch = 12
	ExitPolicyFail      = 13
	ExitSchemaFail      = 14
)

const (
	CheckRead           = "attestation_read"
	CheckSchema         = "schema"
	CheckTrustAnchor    = "trust_anchor"
	CheckMessageVersion = "message_version"
	CheckMessageBinding = "message_binding"
	CheckSignature      = "signature"
	CheckStatus         = "status"
	CheckFreshness      = "freshness"
)

type CheckResult struct {
	Check   string `json:"check"`
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
}

// Report is the outcome of a release check. ExitCode is the most severe
// failing check's code, or ExitPass.
type Report struct {
	Passed         bool          `json:"passed"`
	ExitCode       int           `json:"exit_code"`
	Source         string        `json:"source,omitempty"`
	AppID          uint64        `json:"app_id"`
	MilestoneIndex uint64        `json:"milestone_index"`
	Status         string        `json:"status"`
	KeyID          string        `json:"key_id,omitempty"`
	TrustedKey     string        `json:"trusted_key,omitempty"`
	Checks         []CheckResult `json:"checks"`
	Violations     []string      `json:"violations"`
}
