package incident

import (
	"fmt"
	"time"
)

// Category classifies the kind of security incident
type Category string

const (
	CategoryUnauthorizedAccess Category = "unauthorized_access"
	CategoryDataBreach         Category = "data_breach"
	CategorySystemCompromise   Category = "system_compromise"
	CategoryMaliciousInput     Category = "malicious_input"
	CategoryPolicyViolation    Category = "policy_violation"
)

// Severity is the assessed impact level of an incident
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Status is a stage in the incident response lifecycle
type Status string

const (
	StatusDetected      Status = "detected"
	StatusTriaged       Status = "triaged"
	StatusInvestigating Status = "investigating"
	StatusContaining    Status = "containing"
	StatusEradicating   Status = "eradicating"
	StatusRecovering    Status = "recovering"
	StatusClosed        Status = "closed"
	StatusEscalated     Status = "escalated"
)

// phase order within the normal response flow; ESCALATED and CLOSED sit
// outside the linear progression
var phaseOrder = map[Status]int{
	StatusDetected:      0,
	StatusTriaged:       1,
	StatusInvestigating: 2,
	StatusContaining:    3,
	StatusEradicating:   4,
	StatusRecovering:    5,
}

// CanTransition reports whether moving from one status to another is within
// the defined lifecycle graph. Forward skips are allowed (triage may move
// straight to containment); moving backward is not. ESCALATED is reachable
// from any non-terminal state and may re-enter the normal flow at any phase
// or close. CLOSED is terminal: the only way out is an explicit reopen,
// which is not an ordinary transition.
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	if from == StatusClosed {
		return false
	}
	if to == StatusEscalated || to == StatusClosed {
		return true
	}
	if from == StatusEscalated {
		_, ok := phaseOrder[to]
		return ok
	}
	fromPhase, ok := phaseOrder[from]
	if !ok {
		return false
	}
	toPhase, ok := phaseOrder[to]
	if !ok {
		return false
	}
	return toPhase > fromPhase
}

// TimelineEntry is one append-only audit record in an incident's history.
type TimelineEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	Action      string    `json:"action"`
	Description string    `json:"description"`
	Performer   string    `json:"performer"`
	Status      Status    `json:"status"`
}

// ChainOfCustodyEntry records one handling step for a piece of evidence.
type ChainOfCustodyEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Handler   string    `json:"handler"`
	Location  string    `json:"location"`
}

// EvidenceKind distinguishes evidence needing an integrity hash
type EvidenceKind string

const (
	EvidenceKindFile       EvidenceKind = "file"
	EvidenceKindLog        EvidenceKind = "log"
	EvidenceKindScreenshot EvidenceKind = "screenshot"
	EvidenceKindStatement  EvidenceKind = "statement"
)

// Evidence is created once at collection; thereafter only its custody chain
// grows. IntegrityHash is computed once at collection for file evidence.
type Evidence struct {
	ID             string                `json:"id"`
	Kind           EvidenceKind          `json:"kind"`
	Name           string                `json:"name"`
	Description    string                `json:"description"`
	Location       string                `json:"location"`
	CollectedBy    string                `json:"collected_by"`
	CollectedAt    time.Time             `json:"collected_at"`
	IntegrityHash  string                `json:"integrity_hash,omitempty"`
	ChainOfCustody []ChainOfCustodyEntry `json:"chain_of_custody"`
}

// ContainmentAction is appended to an incident and never edited.
type ContainmentAction struct {
	Action        string    `json:"action"`
	Description   string    `json:"description"`
	Timestamp     time.Time `json:"timestamp"`
	Performer     string    `json:"performer"`
	Effectiveness string    `json:"effectiveness"`
}

// RegulatoryNotification records the assessment that an authority must be
// notified. Only the decision is in scope; the notification content is not.
type RegulatoryNotification struct {
	Required    bool      `json:"required"`
	Authorities []string  `json:"authorities"`
	Deadline    time.Time `json:"deadline"`
	Reason      string    `json:"reason"`
}

// SecurityIncident is the aggregate tracked from detection through closure.
// It is mutated only through the incident service and never physically
// deleted; closing removes it from the active set, not from the store.
type SecurityIncident struct {
	ID              string                  `json:"id"`
	Title           string                  `json:"title"`
	Category        Category                `json:"category"`
	Severity        Severity                `json:"severity"`
	Status          Status                  `json:"status"`
	Description     string                  `json:"description"`
	DetectedBy      string                  `json:"detected_by"`
	DetectedAt      time.Time               `json:"detected_at"`
	AssignedTo      string                  `json:"assigned_to,omitempty"`
	AffectedSystems []string                `json:"affected_systems,omitempty"`
	AffectedUsers   []string                `json:"affected_users,omitempty"`
	PotentialImpact string                  `json:"potential_impact"`
	Timeline        []TimelineEntry         `json:"timeline"`
	Evidence        []Evidence              `json:"evidence"`
	Containment     []ContainmentAction     `json:"containment_actions"`
	Regulatory      *RegulatoryNotification `json:"regulatory_notification,omitempty"`
	ClosedAt        *time.Time              `json:"closed_at,omitempty"`
	EscalatedAt     *time.Time              `json:"escalated_at,omitempty"`
}

// Age returns wall-clock time since detection.
func (i *SecurityIncident) Age(now time.Time) time.Duration {
	return now.Sub(i.DetectedAt)
}

// AppendTimeline adds an entry to the incident history. The timeline is
// append-only; every incident carries at least one entry from creation.
func (i *SecurityIncident) AppendTimeline(entry TimelineEntry) {
	i.Timeline = append(i.Timeline, entry)
}

// PotentialImpactSummary derives the free-text impact assessment recorded on
// the incident at creation.
func PotentialImpactSummary(category Category, severity Severity, systems, users int) string {
	scope := "limited scope"
	switch {
	case users >= 1000 || severity == SeverityCritical:
		scope = "widespread impact"
	case users >= 100 || severity == SeverityHigh:
		scope = "significant scope"
	}

	var exposure string
	switch category {
	case CategoryDataBreach:
		exposure = "potential exposure of protected personal data"
	case CategoryUnauthorizedAccess:
		exposure = "potential unauthorized access to restricted resources"
	case CategorySystemCompromise:
		exposure = "potential compromise of platform integrity"
	case CategoryMaliciousInput:
		exposure = "attempted injection against application inputs"
	default:
		exposure = "potential violation of security policy"
	}

	return fmt.Sprintf("%s severity %s incident, %s; %d system(s) and %d user(s) affected, %s",
		severity, category, scope, systems, users, exposure)
}
