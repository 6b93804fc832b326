package response

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	domainerrors "github.com/coverbridge/platform-security/internal/domain/errors"
	"github.com/coverbridge/platform-security/internal/domain/incident"
	"github.com/coverbridge/platform-security/internal/infrastructure/audit"
	"github.com/coverbridge/platform-security/internal/infrastructure/repository"
	"github.com/coverbridge/platform-security/internal/infrastructure/telemetry"
)

type stubHasher struct {
	hash string
	err  error
}

func (h *stubHasher) HashEvidence(location string) (string, error) {
	if h.err != nil {
		return "", h.err
	}
	return h.hash, nil
}

func testConfig() Config {
	return Config{
		EscalationUserCount: 1000,
		EscalationAge:       4 * time.Hour,
		RegulatoryDeadline:  72 * time.Hour,
		PatternWindowCount:  5,
		OverdueAge:          24 * time.Hour,
	}
}

func newTestService(t *testing.T) (*Service, *repository.MemoryIncidentStore, *audit.MemorySink) {
	t.Helper()
	table, err := incident.NewPlaybookTable(incident.DefaultPlaybooks())
	require.NoError(t, err)

	store := repository.NewMemoryIncidentStore()
	sink := audit.NewMemorySink()
	svc := NewService(store, table, sink, &stubHasher{hash: "sha256:abc123"},
		telemetry.NewTestMetrics(), zap.NewNop(), testConfig())
	return svc, store, sink
}

func createTestIncident(t *testing.T, svc *Service, category incident.Category, severity incident.Severity) *incident.SecurityIncident {
	t.Helper()
	inc, err := svc.CreateIncident(context.Background(), CreateInput{
		Title:       "Test incident",
		Category:    category,
		Severity:    severity,
		Description: "unit test incident",
		DetectedBy:  "unit-test",
	})
	require.NoError(t, err)
	return inc
}

func TestCreateIncident(t *testing.T) {
	svc, _, _ := newTestService(t)

	inc, err := svc.CreateIncident(context.Background(), CreateInput{
		Title:           "Suspicious login activity",
		Category:        incident.CategoryUnauthorizedAccess,
		Severity:        incident.SeverityMedium,
		Description:     "multiple failed logins from new location",
		DetectedBy:      "auth-monitor",
		AffectedSystems: []string{"auth-service"},
		AffectedUsers:   []string{"user-1"},
	})
	require.NoError(t, err)

	assert.Regexp(t, `^SEC-\d{8}-\d{4}$`, inc.ID)
	assert.Equal(t, incident.StatusDetected, inc.Status)
	require.Len(t, inc.Timeline, 1)
	assert.Equal(t, "incident_detected", inc.Timeline[0].Action)
	assert.Equal(t, "auth-monitor", inc.Timeline[0].Performer)
	assert.NotEmpty(t, inc.PotentialImpact)
	assert.Empty(t, inc.AssignedTo)

	// medium unauthorized_access playbook replays two immediate actions
	require.Len(t, inc.Containment, 2)
	assert.Equal(t, "automated-response", inc.Containment[0].Performer)
}

func TestCreateIncidentIDsAreSequential(t *testing.T) {
	svc, _, _ := newTestService(t)

	first := createTestIncident(t, svc, incident.CategoryUnauthorizedAccess, incident.SeverityMedium)
	second := createTestIncident(t, svc, incident.CategoryUnauthorizedAccess, incident.SeverityMedium)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestCreateIncidentValidation(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.CreateIncident(context.Background(), CreateInput{
		Category: incident.CategoryDataBreach,
		Severity: incident.SeverityHigh,
	})
	require.Error(t, err)
	assert.True(t, domainerrors.IsType(err, domainerrors.ErrorTypeValidation))
}

func TestCreateIncidentAssignsOnCallForHighSeverity(t *testing.T) {
	svc, _, _ := newTestService(t)

	inc := createTestIncident(t, svc, incident.CategoryUnauthorizedAccess, incident.SeverityHigh)
	assert.Equal(t, "security-oncall", inc.AssignedTo)
}

func TestCreateIncidentEscalatesOnUserCount(t *testing.T) {
	svc, _, sink := newTestService(t)

	users := make([]string, 1500)
	for i := range users {
		users[i] = fmt.Sprintf("user-%d", i)
	}
	inc, err := svc.CreateIncident(context.Background(), CreateInput{
		Title:         "Mass account exposure",
		Category:      incident.CategoryDataBreach,
		Severity:      incident.SeverityHigh,
		Description:   "bulk credential exposure",
		DetectedBy:    "export-monitor",
		AffectedUsers: users,
	})
	require.NoError(t, err)

	assert.Equal(t, incident.StatusEscalated, inc.Status)
	require.NotNil(t, inc.EscalatedAt)
	assert.NotEmpty(t, sink.SecurityEventsOfType("incident_escalated"))
}

func TestCreateIncidentEscalatesOnFinancialKeyword(t *testing.T) {
	svc, _, _ := newTestService(t)

	inc, err := svc.CreateIncident(context.Background(), CreateInput{
		Title:       "Payment anomaly",
		Category:    incident.CategoryUnauthorizedAccess,
		Severity:    incident.SeverityMedium,
		Description: "possible financial fraud via compromised account",
		DetectedBy:  "fraud-monitor",
	})
	require.NoError(t, err)
	assert.Equal(t, incident.StatusEscalated, inc.Status)
}

func TestCreateIncidentEscalatesOnPlaybookCriteria(t *testing.T) {
	table, err := incident.NewPlaybookTable([]incident.ResponsePlaybook{{
		Category:       incident.CategoryPolicyViolation,
		Severity:       incident.SeverityMedium,
		ImmediateSteps: []string{"Notify the policy owner"},
		Escalation:     incident.EscalationCriteria{MinAffectedUsers: 2},
	}})
	require.NoError(t, err)

	svc := NewService(repository.NewMemoryIncidentStore(), table, audit.NewMemorySink(),
		&stubHasher{hash: "sha256:abc123"}, telemetry.NewTestMetrics(), zap.NewNop(), testConfig())

	// two affected users is far below the configured threshold, but the
	// playbook tightens it
	inc, err := svc.CreateIncident(context.Background(), CreateInput{
		Title:         "Retention policy breach",
		Category:      incident.CategoryPolicyViolation,
		Severity:      incident.SeverityMedium,
		Description:   "records kept past the retention window",
		DetectedBy:    "policy-monitor",
		AffectedUsers: []string{"user-1", "user-2"},
	})
	require.NoError(t, err)
	assert.Equal(t, incident.StatusEscalated, inc.Status)

	single, err := svc.CreateIncident(context.Background(), CreateInput{
		Title:         "Retention policy breach",
		Category:      incident.CategoryPolicyViolation,
		Severity:      incident.SeverityMedium,
		Description:   "records kept past the retention window",
		DetectedBy:    "policy-monitor",
		AffectedUsers: []string{"user-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, incident.StatusDetected, single.Status)
}

func TestRegulatoryAssessment(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	t.Run("data breach with affected users requires notification", func(t *testing.T) {
		inc, err := svc.CreateIncident(ctx, CreateInput{
			Title:         "Records exposed",
			Category:      incident.CategoryDataBreach,
			Severity:      incident.SeverityHigh,
			Description:   "customer records exposed",
			DetectedBy:    "export-monitor",
			AffectedUsers: []string{"user-1"},
		})
		require.NoError(t, err)
		require.NotNil(t, inc.Regulatory)
		assert.True(t, inc.Regulatory.Required)
		assert.Contains(t, inc.Regulatory.Authorities, "data_protection_authority")
		assert.Contains(t, inc.Regulatory.Authorities, "financial_conduct_regulator")
		assert.Equal(t, inc.DetectedAt.Add(72*time.Hour), inc.Regulatory.Deadline)
	})

	t.Run("system compromise requires the financial regulator", func(t *testing.T) {
		inc := createTestIncident(t, svc, incident.CategorySystemCompromise, incident.SeverityMedium)
		require.NotNil(t, inc.Regulatory)
		assert.True(t, inc.Regulatory.Required)
		assert.Equal(t, []string{"financial_conduct_regulator"}, inc.Regulatory.Authorities)
		assert.True(t, inc.Regulatory.Deadline.IsZero())
		assert.NotEmpty(t, inc.Regulatory.Reason)
	})

	t.Run("unauthorized access has no regulatory duty", func(t *testing.T) {
		inc := createTestIncident(t, svc, incident.CategoryUnauthorizedAccess, incident.SeverityMedium)
		assert.Nil(t, inc.Regulatory)
	})
}

func TestUpdateStatusLifecycle(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	inc := createTestIncident(t, svc, incident.CategoryUnauthorizedAccess, incident.SeverityMedium)

	require.NoError(t, svc.UpdateStatus(ctx, inc.ID, incident.StatusTriaged, "triage_complete", "confirmed unauthorized access", "analyst-1"))
	require.NoError(t, svc.UpdateStatus(ctx, inc.ID, incident.StatusInvestigating, "investigation_started", "log review underway", "analyst-1"))

	got, err := store.Get(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, incident.StatusInvestigating, got.Status)
	assert.Len(t, got.Timeline, 3)
}

func TestUpdateStatusRejectsBackwardTransition(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	inc := createTestIncident(t, svc, incident.CategoryUnauthorizedAccess, incident.SeverityMedium)
	require.NoError(t, svc.UpdateStatus(ctx, inc.ID, incident.StatusInvestigating, "investigation_started", "skipping triage", "analyst-1"))

	err := svc.UpdateStatus(ctx, inc.ID, incident.StatusTriaged, "triage", "going back", "analyst-1")
	require.Error(t, err)
	assert.True(t, domainerrors.IsType(err, domainerrors.ErrorTypeBusiness))
}

func TestUpdateStatusClosedIsTerminal(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	inc := createTestIncident(t, svc, incident.CategoryUnauthorizedAccess, incident.SeverityMedium)
	require.NoError(t, svc.UpdateStatus(ctx, inc.ID, incident.StatusClosed, "incident_closed", "false positive", "analyst-1"))

	err := svc.UpdateStatus(ctx, inc.ID, incident.StatusInvestigating, "investigation_started", "should fail", "analyst-1")
	assert.ErrorIs(t, err, domainerrors.ErrIncidentClosed)
}

func TestCloseIncident(t *testing.T) {
	svc, _, sink := newTestService(t)
	ctx := context.Background()

	inc := createTestIncident(t, svc, incident.CategoryUnauthorizedAccess, incident.SeverityMedium)
	require.NoError(t, svc.UpdateStatus(ctx, inc.ID, incident.StatusClosed, "incident_closed", "resolved", "analyst-1"))

	got, err := svc.Get(ctx, inc.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ClosedAt)

	active, err := svc.ActiveIncidents(ctx)
	require.NoError(t, err)
	for _, a := range active {
		assert.NotEqual(t, inc.ID, a.ID)
	}

	var reported bool
	for _, entry := range sink.AuditEvents() {
		if entry.Action == "incident_report_generated" {
			reported = true
			assert.Equal(t, inc.ID, entry.Metadata["incident_id"])
		}
	}
	assert.True(t, reported, "closing must generate a report")
}

func TestReopenIncident(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	inc := createTestIncident(t, svc, incident.CategoryUnauthorizedAccess, incident.SeverityMedium)

	err := svc.ReopenIncident(ctx, inc.ID, "not closed yet", "analyst-1")
	assert.ErrorIs(t, err, domainerrors.ErrIncidentNotClosed)

	require.NoError(t, svc.UpdateStatus(ctx, inc.ID, incident.StatusClosed, "incident_closed", "resolved", "analyst-1"))
	require.NoError(t, svc.ReopenIncident(ctx, inc.ID, "new evidence surfaced", "analyst-2"))

	got, err := svc.Get(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, incident.StatusInvestigating, got.Status)
	assert.Nil(t, got.ClosedAt)

	active, err := svc.ActiveIncidents(ctx)
	require.NoError(t, err)
	var found bool
	for _, a := range active {
		if a.ID == inc.ID {
			found = true
		}
	}
	assert.True(t, found, "reopened incident must return to the active set")
}

func TestContainingTransitionReplaysPlaybook(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	inc := createTestIncident(t, svc, incident.CategoryUnauthorizedAccess, incident.SeverityMedium)
	base := len(inc.Containment)

	require.NoError(t, svc.UpdateStatus(ctx, inc.ID, incident.StatusContaining, "containment_started", "executing playbook", "analyst-1"))

	got, err := svc.Get(ctx, inc.ID)
	require.NoError(t, err)
	// two containment steps in the medium unauthorized_access playbook
	assert.Len(t, got.Containment, base+2)
}

func TestEscalateViaTransition(t *testing.T) {
	svc, _, sink := newTestService(t)
	ctx := context.Background()

	inc := createTestIncident(t, svc, incident.CategoryUnauthorizedAccess, incident.SeverityMedium)
	require.NoError(t, svc.UpdateStatus(ctx, inc.ID, incident.StatusEscalated, "incident_escalated", "manual escalation", "analyst-1"))

	got, err := svc.Get(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, incident.StatusEscalated, got.Status)
	require.NotNil(t, got.EscalatedAt)
	assert.NotEmpty(t, sink.SecurityEventsOfType("incident_escalated"))

	// escalated incidents can re-enter the lifecycle
	require.NoError(t, svc.UpdateStatus(ctx, inc.ID, incident.StatusContaining, "containment_started", "back to containment", "analyst-1"))
}

func TestAddEvidence(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	inc := createTestIncident(t, svc, incident.CategoryDataBreach, incident.SeverityHigh)

	ev, err := svc.AddEvidence(ctx, inc.ID, incident.EvidenceKindFile, "access log", "raw access log", "s3://evidence/access.log", "analyst-1")
	require.NoError(t, err)
	assert.Equal(t, "sha256:abc123", ev.IntegrityHash)
	require.Len(t, ev.ChainOfCustody, 1)
	assert.Equal(t, "collected", ev.ChainOfCustody[0].Action)
	assert.Equal(t, "analyst-1", ev.ChainOfCustody[0].Handler)

	got, err := svc.Get(ctx, inc.ID)
	require.NoError(t, err)
	require.Len(t, got.Evidence, 1)
	last := got.Timeline[len(got.Timeline)-1]
	assert.Equal(t, "evidence_collected", last.Action)
}

func TestAddEvidenceNonFileSkipsHash(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	inc := createTestIncident(t, svc, incident.CategoryDataBreach, incident.SeverityHigh)
	ev, err := svc.AddEvidence(ctx, inc.ID, incident.EvidenceKindStatement, "witness statement", "operator account", "vault://statements/1", "analyst-1")
	require.NoError(t, err)
	assert.Empty(t, ev.IntegrityHash)
}

func TestAddEvidenceHasherFailure(t *testing.T) {
	svc, _, _ := newTestService(t)
	svc.hasher = &stubHasher{err: fmt.Errorf("storage unreachable")}
	ctx := context.Background()

	inc := createTestIncident(t, svc, incident.CategoryDataBreach, incident.SeverityHigh)
	_, err := svc.AddEvidence(ctx, inc.ID, incident.EvidenceKindFile, "access log", "raw access log", "s3://evidence/access.log", "analyst-1")
	require.Error(t, err)
	assert.True(t, domainerrors.IsType(err, domainerrors.ErrorTypeExternal))

	got, lookupErr := svc.Get(ctx, inc.ID)
	require.NoError(t, lookupErr)
	assert.Empty(t, got.Evidence, "failed hashing must not attach evidence")
}

func TestAppendCustody(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	inc := createTestIncident(t, svc, incident.CategoryDataBreach, incident.SeverityHigh)
	ev, err := svc.AddEvidence(ctx, inc.ID, incident.EvidenceKindLog, "auth log", "sanitized auth log", "s3://evidence/auth.log", "analyst-1")
	require.NoError(t, err)

	require.NoError(t, svc.AppendCustody(ctx, inc.ID, ev.ID, "transferred", "analyst-2", "forensics-vault"))

	got, err := svc.Get(ctx, inc.ID)
	require.NoError(t, err)
	require.Len(t, got.Evidence[0].ChainOfCustody, 2)
	assert.Equal(t, "transferred", got.Evidence[0].ChainOfCustody[1].Action)

	err = svc.AppendCustody(ctx, inc.ID, "no-such-evidence", "transferred", "analyst-2", "forensics-vault")
	assert.ErrorIs(t, err, domainerrors.ErrEvidenceNotFound)
}

func TestOperationsOnUnknownIncident(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	err := svc.UpdateStatus(ctx, "SEC-19700101-0001", incident.StatusTriaged, "triage", "missing", "analyst-1")
	assert.ErrorIs(t, err, domainerrors.ErrIncidentNotFound)

	_, err = svc.AddEvidence(ctx, "SEC-19700101-0001", incident.EvidenceKindLog, "x", "x", "x", "analyst-1")
	assert.ErrorIs(t, err, domainerrors.ErrIncidentNotFound)

	err = svc.ReopenIncident(ctx, "SEC-19700101-0001", "reason", "analyst-1")
	assert.ErrorIs(t, err, domainerrors.ErrIncidentNotFound)
}

func TestConcurrentContainmentActions(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	inc := createTestIncident(t, svc, incident.CategoryUnauthorizedAccess, incident.SeverityMedium)
	base := len(inc.Containment)

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, err := svc.ImplementContainment(ctx, inc.ID,
				fmt.Sprintf("action-%d", i), "concurrent containment", "analyst-1")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := svc.Get(ctx, inc.ID)
	require.NoError(t, err)
	assert.Len(t, got.Containment, base+n)
	assert.Len(t, got.Timeline, 1+n)

	// entries are released once the last holder is done
	svc.locksMu.Lock()
	assert.Empty(t, svc.locks)
	svc.locksMu.Unlock()
}

// failingSaveStore wraps the in-memory store and rejects saves once the
// incident reaches the configured status.
type failingSaveStore struct {
	*repository.MemoryIncidentStore
	failOn incident.Status
}

func (s *failingSaveStore) Save(ctx context.Context, inc *incident.SecurityIncident) error {
	if inc.Status == s.failOn {
		return domainerrors.NewInternalError("store unavailable")
	}
	return s.MemoryIncidentStore.Save(ctx, inc)
}

func TestUpdateStatusSaveFailureLeavesIncidentUntouched(t *testing.T) {
	table, err := incident.NewPlaybookTable(incident.DefaultPlaybooks())
	require.NoError(t, err)

	store := &failingSaveStore{
		MemoryIncidentStore: repository.NewMemoryIncidentStore(),
		failOn:              incident.StatusClosed,
	}
	svc := NewService(store, table, audit.NewMemorySink(), &stubHasher{hash: "sha256:abc123"},
		telemetry.NewTestMetrics(), zap.NewNop(), testConfig())

	ctx := context.Background()
	inc := createTestIncident(t, svc, incident.CategoryUnauthorizedAccess, incident.SeverityMedium)

	err = svc.UpdateStatus(ctx, inc.ID, incident.StatusClosed, "incident_closed", "done", "analyst-1")
	require.Error(t, err)

	// the failed close must not have removed the incident from the active
	// set or left a partially closed record behind
	active, listErr := svc.ActiveIncidents(ctx)
	require.NoError(t, listErr)
	require.Len(t, active, 1)

	got, getErr := svc.Get(ctx, inc.ID)
	require.NoError(t, getErr)
	assert.Equal(t, incident.StatusDetected, got.Status)
	assert.Nil(t, got.ClosedAt)
}

func TestCheckAttackPatterns(t *testing.T) {
	svc, _, sink := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		createTestIncident(t, svc, incident.CategoryUnauthorizedAccess, incident.SeverityLow)
	}
	require.NoError(t, svc.CheckAttackPatterns(ctx))
	assert.Empty(t, sink.SecurityEventsOfType("coordinated_attack_suspected"))

	createTestIncident(t, svc, incident.CategoryUnauthorizedAccess, incident.SeverityLow)
	require.NoError(t, svc.CheckAttackPatterns(ctx))

	events := sink.SecurityEventsOfType("coordinated_attack_suspected")
	require.Len(t, events, 1)
	assert.Equal(t, 6, events[0].Metadata["incident_count"])
}

func TestDailyReviewFlagsOverdueIncidents(t *testing.T) {
	svc, _, sink := newTestService(t)
	ctx := context.Background()

	base := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
	svc.clock = func() time.Time { return base }
	inc := createTestIncident(t, svc, incident.CategoryUnauthorizedAccess, incident.SeverityMedium)

	svc.clock = func() time.Time { return base.Add(30 * time.Hour) }
	require.NoError(t, svc.DailyReview(ctx))

	entries := sink.AuditEvents()
	require.NotEmpty(t, entries)
	last := entries[len(entries)-1]
	assert.Equal(t, "daily_incident_review", last.Action)
	assert.Equal(t, 1, last.Metadata["overdue_count"])
	assert.Contains(t, last.Metadata["overdue_incidents"], inc.ID)
}
