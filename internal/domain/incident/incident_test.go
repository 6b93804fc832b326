package incident

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		allowed bool
	}{
		{"detected to triaged", StatusDetected, StatusTriaged, true},
		{"triaged skips ahead to containing", StatusTriaged, StatusContaining, true},
		{"detected straight to closed", StatusDetected, StatusClosed, true},
		{"any active state to escalated", StatusInvestigating, StatusEscalated, true},
		{"escalated re-enters flow", StatusEscalated, StatusContaining, true},
		{"escalated closes", StatusEscalated, StatusClosed, true},
		{"no backward movement", StatusContaining, StatusTriaged, false},
		{"no self transition", StatusTriaged, StatusTriaged, false},
		{"closed is terminal", StatusClosed, StatusInvestigating, false},
		{"closed cannot re-escalate", StatusClosed, StatusEscalated, false},
		{"closed cannot close again", StatusClosed, StatusClosed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, CanTransition(tt.from, tt.to))
		})
	}
}

func TestPotentialImpactSummary(t *testing.T) {
	summary := PotentialImpactSummary(CategoryDataBreach, SeverityHigh, 2, 150)
	assert.Contains(t, summary, "data_breach")
	assert.Contains(t, summary, "significant scope")
	assert.Contains(t, summary, "protected personal data")

	critical := PotentialImpactSummary(CategorySystemCompromise, SeverityCritical, 1, 0)
	assert.Contains(t, critical, "widespread impact")

	small := PotentialImpactSummary(CategoryMaliciousInput, SeverityLow, 0, 0)
	assert.Contains(t, small, "limited scope")
}

func TestIncident_Age(t *testing.T) {
	detected := time.Now().Add(-3 * time.Hour)
	inc := &SecurityIncident{DetectedAt: detected}

	assert.InDelta(t, 3*time.Hour, inc.Age(time.Now()), float64(time.Minute))
}

func TestPlaybookTable(t *testing.T) {
	table, err := NewPlaybookTable(DefaultPlaybooks())
	require.NoError(t, err)

	t.Run("exact match", func(t *testing.T) {
		pb, ok := table.Lookup(CategoryDataBreach, SeverityHigh)
		require.True(t, ok)
		assert.Equal(t, CategoryDataBreach, pb.Category)
		assert.NotEmpty(t, pb.ImmediateSteps)
		assert.NotEmpty(t, pb.ContainmentSteps)
	})

	t.Run("missing pair without fallback", func(t *testing.T) {
		_, ok := table.Lookup(CategoryPolicyViolation, SeverityCritical)
		assert.False(t, ok)
	})

	t.Run("duplicate pair rejected", func(t *testing.T) {
		dup := []ResponsePlaybook{
			{Category: CategoryPolicyViolation, Severity: SeverityLow},
			{Category: CategoryPolicyViolation, Severity: SeverityLow},
		}
		_, err := NewPlaybookTable(dup)
		assert.Error(t, err)
	})
}
