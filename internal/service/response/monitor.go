package response

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/coverbridge/platform-security/internal/domain/incident"
	"github.com/coverbridge/platform-security/internal/domain/threat"
	"github.com/coverbridge/platform-security/internal/infrastructure/audit"
	svcvalidation "github.com/coverbridge/platform-security/internal/service/validation"
)

// CheckAttackPatterns is a periodic maintenance task: when more incidents
// than the configured count were detected in the trailing 24 hours, a
// coordinated-attack alert is raised.
func (s *Service) CheckAttackPatterns(ctx context.Context) error {
	now := s.clock().UTC()
	recent, err := s.store.ListDetectedSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return err
	}
	if len(recent) <= s.cfg.PatternWindowCount {
		return nil
	}

	return s.sink.CaptureSecurityEvent(ctx, audit.SecurityEvent{
		Type:      "coordinated_attack_suspected",
		Severity:  audit.SeverityHigh,
		Details:   fmt.Sprintf("possible coordinated attack: %d incidents detected in the last 24 hours", len(recent)),
		Timestamp: now,
		Metadata: map[string]interface{}{
			"incident_count": len(recent),
			"window_hours":   24,
		},
	})
}

// DailyReview is a periodic maintenance task: active incidents older than
// the overdue age are counted and reported for follow-up.
func (s *Service) DailyReview(ctx context.Context) error {
	now := s.clock().UTC()
	active, err := s.store.ListActive(ctx)
	if err != nil {
		return err
	}

	var overdue []string
	for _, inc := range active {
		if inc.Age(now) > s.cfg.OverdueAge {
			overdue = append(overdue, inc.ID)
		}
	}

	s.logger.Info("daily incident review",
		zap.Int("active", len(active)),
		zap.Int("overdue", len(overdue)))

	return s.sink.LogAuditEvent(ctx, "daily_incident_review", "security_incident", "", map[string]interface{}{
		"active_count":      len(active),
		"overdue_count":     len(overdue),
		"overdue_incidents": overdue,
	})
}

// ReportMaliciousInput implements the validator's incident hook: a blocked
// input becomes a medium-severity malicious-input incident carrying the
// offending threat categories.
func (s *Service) ReportMaliciousInput(ctx context.Context, report svcvalidation.MaliciousInputReport) error {
	categories := make([]string, 0, len(report.Threats))
	for _, cat := range report.Threats {
		categories = append(categories, string(cat))
	}

	var affected []string
	if report.UserID != "" {
		affected = []string{report.UserID}
	}

	_, err := s.CreateIncident(ctx, CreateInput{
		Title:    fmt.Sprintf("Malicious input blocked (%s)", strings.Join(categories, ", ")),
		Category: incident.CategoryMaliciousInput,
		Severity: maliciousInputSeverity(report.Threats),
		Description: fmt.Sprintf("Input validation blocked field %q of type %s with risk score %d",
			report.FieldName, report.InputType, report.RiskScore),
		DetectedBy:    "input-validator",
		AffectedUsers: affected,
	})
	return err
}

// command injection carries the highest weight; treat it as high severity
func maliciousInputSeverity(threats []threat.Category) incident.Severity {
	for _, cat := range threats {
		if cat == threat.CategoryCommandInjection {
			return incident.SeverityHigh
		}
	}
	return incident.SeverityMedium
}

// ensure the service satisfies the validator's reporter contract
var _ svcvalidation.IncidentReporter = (*Service)(nil)
