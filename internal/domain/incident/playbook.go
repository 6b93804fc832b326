package incident

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// EscalationCriteria are the predicate inputs a playbook declares for
// automatic escalation. Zero values mean the criterion does not apply.
type EscalationCriteria struct {
	MinAffectedUsers    int      `yaml:"min_affected_users"`
	DescriptionKeywords []string `yaml:"description_keywords"`
	MaxAgeHours         int      `yaml:"max_age_hours"`
}

// ResponsePlaybook is the static ordered response plan for one
// (category, severity) pair. Playbooks are configuration, not incident state.
type ResponsePlaybook struct {
	Category           Category           `yaml:"category"`
	Severity           Severity           `yaml:"severity"`
	ImmediateSteps     []string           `yaml:"immediate_steps"`
	ContainmentSteps   []string           `yaml:"containment_steps"`
	InvestigationSteps []string           `yaml:"investigation_steps"`
	CommunicationSteps []string           `yaml:"communication_steps"`
	RecoverySteps      []string           `yaml:"recovery_steps"`
	Escalation         EscalationCriteria `yaml:"escalation"`
}

// PlaybookTable resolves playbooks by (category, severity). Immutable after
// construction.
type PlaybookTable struct {
	entries map[string]ResponsePlaybook
}

func playbookKey(category Category, severity Severity) string {
	return string(category) + "/" + string(severity)
}

// NewPlaybookTable indexes the given playbooks. Duplicate (category, severity)
// pairs are rejected.
func NewPlaybookTable(playbooks []ResponsePlaybook) (*PlaybookTable, error) {
	entries := make(map[string]ResponsePlaybook, len(playbooks))
	for _, pb := range playbooks {
		key := playbookKey(pb.Category, pb.Severity)
		if _, exists := entries[key]; exists {
			return nil, fmt.Errorf("duplicate playbook for %s", key)
		}
		entries[key] = pb
	}
	return &PlaybookTable{entries: entries}, nil
}

// Lookup returns the playbook for the pair, falling back to the category's
// generic plan keyed under severity "low" when no exact match exists.
func (t *PlaybookTable) Lookup(category Category, severity Severity) (ResponsePlaybook, bool) {
	if pb, ok := t.entries[playbookKey(category, severity)]; ok {
		return pb, true
	}
	pb, ok := t.entries[playbookKey(category, SeverityLow)]
	return pb, ok
}

// LoadPlaybooks reads a YAML playbook file.
func LoadPlaybooks(path string) ([]ResponsePlaybook, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read playbook file: %w", err)
	}
	var file struct {
		Playbooks []ResponsePlaybook `yaml:"playbooks"`
	}
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse playbook file: %w", err)
	}
	if len(file.Playbooks) == 0 {
		return nil, fmt.Errorf("playbook file %s defines no playbooks", path)
	}
	return file.Playbooks, nil
}

// DefaultPlaybooks covers the detector-producible (category, severity) pairs
// plus the validator's malicious-input incidents.
func DefaultPlaybooks() []ResponsePlaybook {
	return []ResponsePlaybook{
		{
			Category: CategoryUnauthorizedAccess,
			Severity: SeverityMedium,
			ImmediateSteps: []string{
				"Lock affected accounts",
				"Invalidate active sessions for affected users",
			},
			ContainmentSteps: []string{
				"Force credential reset for affected accounts",
				"Review access logs for lateral movement",
			},
			InvestigationSteps: []string{
				"Correlate source addresses across authentication logs",
				"Identify targeted accounts and entry vector",
			},
			CommunicationSteps: []string{"Notify platform operations"},
			RecoverySteps:      []string{"Restore account access after verification"},
			Escalation:         EscalationCriteria{MinAffectedUsers: 1000, MaxAgeHours: 4},
		},
		{
			Category: CategoryUnauthorizedAccess,
			Severity: SeverityHigh,
			ImmediateSteps: []string{
				"Lock affected accounts",
				"Revoke elevated privileges pending review",
				"Invalidate active sessions for affected users",
			},
			ContainmentSteps: []string{
				"Force credential reset for affected accounts",
				"Restrict privileged operations to break-glass accounts",
				"Review access logs for lateral movement",
			},
			InvestigationSteps: []string{
				"Reconstruct privilege change history",
				"Identify targeted accounts and entry vector",
			},
			CommunicationSteps: []string{"Notify platform operations", "Brief security leadership"},
			RecoverySteps:      []string{"Re-provision privileges from approved baseline"},
			Escalation:         EscalationCriteria{MinAffectedUsers: 1000, DescriptionKeywords: []string{"financial"}, MaxAgeHours: 4},
		},
		{
			Category: CategoryDataBreach,
			Severity: SeverityHigh,
			ImmediateSteps: []string{
				"Suspend the export channel involved",
				"Snapshot access logs for the affected data set",
			},
			ContainmentSteps: []string{
				"Revoke credentials used for the export",
				"Block further bulk reads of the affected data set",
			},
			InvestigationSteps: []string{
				"Determine the records and data classes exposed",
				"Establish exfiltration timeline",
			},
			CommunicationSteps: []string{
				"Prepare regulatory notification assessment",
				"Brief security leadership",
			},
			RecoverySteps: []string{"Rotate secrets touching the affected data set"},
			Escalation:    EscalationCriteria{MinAffectedUsers: 1000, DescriptionKeywords: []string{"financial"}, MaxAgeHours: 4},
		},
		{
			Category: CategorySystemCompromise,
			Severity: SeverityMedium,
			ImmediateSteps: []string{
				"Freeze configuration changes",
				"Capture current configuration state",
			},
			ContainmentSteps: []string{
				"Roll back unauthorized configuration changes",
				"Restrict configuration writes to administrators",
			},
			InvestigationSteps: []string{"Diff configuration against last approved baseline"},
			CommunicationSteps: []string{"Notify platform operations"},
			RecoverySteps:      []string{"Re-apply approved configuration baseline"},
			Escalation:         EscalationCriteria{MaxAgeHours: 4},
		},
		{
			Category: CategoryMaliciousInput,
			Severity: SeverityMedium,
			ImmediateSteps: []string{
				"Record offending payload for analysis",
				"Flag originating session for review",
			},
			ContainmentSteps: []string{
				"Rate-limit the originating source",
				"Review recent submissions from the same source",
			},
			InvestigationSteps: []string{"Classify payload against known attack campaigns"},
			CommunicationSteps: []string{"Notify platform operations"},
			RecoverySteps:      []string{"Confirm no payload reached downstream systems"},
			Escalation:         EscalationCriteria{MaxAgeHours: 4},
		},
		{
			Category: CategoryMaliciousInput,
			Severity: SeverityHigh,
			ImmediateSteps: []string{
				"Record offending payload for analysis",
				"Terminate the originating session",
				"Block the source address pending review",
			},
			ContainmentSteps: []string{
				"Rate-limit the originating source",
				"Audit recent commands executed by the affected service account",
			},
			InvestigationSteps: []string{
				"Classify payload against known attack campaigns",
				"Check downstream systems for payload execution",
			},
			CommunicationSteps: []string{"Notify platform operations", "Brief security leadership"},
			RecoverySteps:      []string{"Confirm no payload reached downstream systems"},
			Escalation:         EscalationCriteria{MaxAgeHours: 4},
		},
	}
}
