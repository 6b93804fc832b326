package validation

import "github.com/coverbridge/platform-security/internal/domain/threat"

// InputType selects the structural rule set applied to an input
type InputType string

const (
	TypeFreeText   InputType = "free_text"
	TypeHTML       InputType = "html"
	TypeEmail      InputType = "email"
	TypeCreditCard InputType = "credit_card"
	TypeFileName   InputType = "file_name"
	TypeURL        InputType = "url"
	TypeJSON       InputType = "json"
	TypeName       InputType = "name"
	TypePhone      InputType = "phone"
)

// Result is the immutable outcome of validating one input.
type Result struct {
	IsValid        bool              `json:"is_valid"`
	SanitizedValue string            `json:"sanitized_value"`
	Errors         []string          `json:"errors,omitempty"`
	Warnings       []string          `json:"warnings,omitempty"`
	RiskScore      int               `json:"risk_score"`
	Threats        []threat.Category `json:"threats,omitempty"`
}

// FieldSchema describes one named field in a ValidateFields call.
type FieldSchema struct {
	Type     InputType
	Required bool
}

// FieldsResult aggregates per-field validation outcomes.
type FieldsResult struct {
	IsValid          bool              `json:"is_valid"`
	Results          map[string]Result `json:"results"`
	SanitizedData    map[string]string `json:"sanitized_data"`
	OverallRiskScore int               `json:"overall_risk_score"`
}
