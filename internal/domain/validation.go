package domain

// Verdict is the overall outcome of the validation stage.
type Verdict string

const (
	VerdictValid             Verdict = "VALID"
	VerdictValidWithWarnings Verdict = "VALID_WITH_WARNINGS"
	VerdictInvalid           Verdict = "INVALID"
)

// FindingSeverity distinguishes findings that invalidate a document from
// advisory ones.
type FindingSeverity string

const (
	SeverityBlocking FindingSeverity = "BLOCKING"
	SeverityWarning  FindingSeverity = "WARNING"
)

// Finding is one itemized validation result.
type Finding struct {
	Code     string          `json:"code"`
	Severity FindingSeverity `json:"severity"`
	Field    string          `json:"field,omitempty"`
	Message  string          `json:"message"`
}

// Validation is the verdict plus its supporting findings, persisted on the
// document record.
type Validation struct {
	Verdict  Verdict   `json:"verdict"`
	Findings []Finding `json:"findings,omitempty"`
}

// ComputeVerdict derives the verdict from a finding list: any blocking
// finding makes the document invalid, any warning downgrades it from clean.
func ComputeVerdict(findings []Finding) Verdict {
	verdict := VerdictValid
	for _, f := range findings {
		switch f.Severity {
		case SeverityBlocking:
			return VerdictInvalid
		case SeverityWarning:
			verdict = VerdictValidWithWarnings
		}
	}
	return verdict
}
