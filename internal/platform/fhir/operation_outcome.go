package fhir

import "encoding/json"

// OperationOutcome severity levels.
const (
	IssueSeverityFatal       = "fatal"
	IssueSeverityError       = "error"
	IssueSeverityWarning     = "warning"
	IssueSeverityInformation = "information"
)

// OperationOutcome reports processing issues returned by a FHIR server.
type OperationOutcome struct {
	ResourceType string                  `json:"resourceType"`
	Issue        []OperationOutcomeIssue `json:"issue"`
}

type OperationOutcomeIssue struct {
	Severity    string           `json:"severity"`
	Code        string           `json:"code"`
	Details     *CodeableConcept `json:"details,omitempty"`
	Diagnostics string           `json:"diagnostics,omitempty"`
}

// NewOperationOutcome builds a single-issue outcome.
func NewOperationOutcome(severity, code, diagnostics string) *OperationOutcome {
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue: []OperationOutcomeIssue{
			{Severity: severity, Code: code, Diagnostics: diagnostics},
		},
	}
}

// HasErrors returns true if the outcome contains any error or fatal issues.
func (o *OperationOutcome) HasErrors() bool {
	for _, issue := range o.Issue {
		if issue.Severity == IssueSeverityError || issue.Severity == IssueSeverityFatal {
			return true
		}
	}
	return false
}

// Diagnostics joins the diagnostics of error and fatal issues.
func (o *OperationOutcome) Diagnostics() string {
	out := ""
	for _, issue := range o.Issue {
		if issue.Severity != IssueSeverityError && issue.Severity != IssueSeverityFatal {
			continue
		}
		if out != "" {
			out += "; "
		}
		if issue.Diagnostics != "" {
			out += issue.Diagnostics
		} else {
			out += issue.Code
		}
	}
	return out
}

// ParseOutcome decodes body as an OperationOutcome. ok is false when the body
// is not JSON or carries another resource type.
func ParseOutcome(body []byte) (outcome *OperationOutcome, ok bool) {
	var o OperationOutcome
	if err := json.Unmarshal(body, &o); err != nil {
		return nil, false
	}
	if o.ResourceType != "OperationOutcome" {
		return nil, false
	}
	return &o, true
}
