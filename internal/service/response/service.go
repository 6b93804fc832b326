package response

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	domainerrors "github.com/coverbridge/platform-security/internal/domain/errors"
	"github.com/coverbridge/platform-security/internal/domain/incident"
	"github.com/coverbridge/platform-security/internal/infrastructure/audit"
	"github.com/coverbridge/platform-security/internal/infrastructure/repository"
	"github.com/coverbridge/platform-security/internal/infrastructure/telemetry"
)

// EvidenceHasher is the opaque integrity-hash collaborator. The core does
// not implement hashing; it records whatever the collaborator returns.
type EvidenceHasher interface {
	HashEvidence(location string) (string, error)
}

// Config carries the incident-response tunables.
type Config struct {
	EscalationUserCount int
	EscalationAge       time.Duration
	RegulatoryDeadline  time.Duration
	PatternWindowCount  int
	OverdueAge          time.Duration
}

// CreateInput is the creation request for a new incident.
type CreateInput struct {
	Title           string
	Category        incident.Category
	Severity        incident.Severity
	Description     string
	DetectedBy      string
	AffectedSystems []string
	AffectedUsers   []string
}

// Service owns the incident lifecycle: creation, status transitions,
// evidence, containment, escalation and reporting. Every mutation of a given
// incident is serialized by a per-id lock; operations on different incidents
// proceed independently.
type Service struct {
	store     repository.IncidentStore
	playbooks *incident.PlaybookTable
	sink      audit.Sink
	hasher    EvidenceHasher
	metrics   *telemetry.Metrics
	logger    *zap.Logger
	cfg       Config

	seq   atomic.Int64
	clock func() time.Time

	locksMu sync.Mutex
	locks   map[string]*lockEntry
}

// lockEntry is a per-incident mutex with a waiter count so the map entry
// can be dropped once the last holder releases it.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func NewService(
	store repository.IncidentStore,
	playbooks *incident.PlaybookTable,
	sink audit.Sink,
	hasher EvidenceHasher,
	metrics *telemetry.Metrics,
	logger *zap.Logger,
	cfg Config,
) *Service {
	return &Service{
		store:     store,
		playbooks: playbooks,
		sink:      sink,
		hasher:    hasher,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
		clock:     time.Now,
		locks:     make(map[string]*lockEntry),
	}
}

// CreateIncident registers a new incident: assigns its id, seeds the
// timeline, assesses impact and regulatory duties, replays the playbook's
// immediate actions, and escalates when the criteria are already met.
func (s *Service) CreateIncident(ctx context.Context, in CreateInput) (*incident.SecurityIncident, error) {
	if in.Title == "" || in.Category == "" || in.Severity == "" {
		return nil, domainerrors.NewValidationError("INVALID_INCIDENT", "title, category and severity are required")
	}

	now := s.clock().UTC()
	inc := &incident.SecurityIncident{
		ID:              s.nextID(now),
		Title:           in.Title,
		Category:        in.Category,
		Severity:        in.Severity,
		Status:          incident.StatusDetected,
		Description:     in.Description,
		DetectedBy:      in.DetectedBy,
		DetectedAt:      now,
		AffectedSystems: in.AffectedSystems,
		AffectedUsers:   in.AffectedUsers,
		PotentialImpact: incident.PotentialImpactSummary(
			in.Category, in.Severity, len(in.AffectedSystems), len(in.AffectedUsers)),
		Timeline: []incident.TimelineEntry{{
			Timestamp:   now,
			Action:      "incident_detected",
			Description: fmt.Sprintf("Incident detected by %s", in.DetectedBy),
			Performer:   in.DetectedBy,
			Status:      incident.StatusDetected,
		}},
	}

	if in.Severity == incident.SeverityHigh || in.Severity == incident.SeverityCritical {
		inc.AssignedTo = "security-oncall"
	}

	inc.Regulatory = s.assessRegulatory(inc, now)

	if pb, ok := s.playbooks.Lookup(in.Category, in.Severity); ok {
		s.replaySteps(inc, pb.ImmediateSteps, now)
	} else {
		s.logger.Warn("no playbook for incident",
			zap.String("category", string(in.Category)),
			zap.String("severity", string(in.Severity)))
	}

	if s.escalationMet(inc, now) {
		s.applyEscalation(ctx, inc, now, "escalation criteria met at detection")
	}

	if err := s.store.Save(ctx, inc); err != nil {
		return nil, err
	}
	s.metrics.IncidentsCreated.WithLabelValues(string(in.Severity)).Inc()
	s.metrics.IncidentsActive.Inc()

	s.notifyCreated(ctx, inc, now)

	s.logger.Info("incident created",
		zap.String("incident_id", inc.ID),
		zap.String("category", string(inc.Category)),
		zap.String("severity", string(inc.Severity)),
		zap.String("status", string(inc.Status)))
	return s.store.Get(ctx, inc.ID)
}

// UpdateStatus moves an incident through the lifecycle. The transition must
// be within the defined graph; closed incidents only leave via Reopen.
func (s *Service) UpdateStatus(ctx context.Context, id string, newStatus incident.Status, action, description, performer string, evidenceIDs ...string) error {
	unlock := s.lock(id)
	defer unlock()

	inc, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}

	if inc.Status == incident.StatusClosed {
		return domainerrors.ErrIncidentClosed
	}
	if !incident.CanTransition(inc.Status, newStatus) {
		return domainerrors.NewBusinessError("INVALID_TRANSITION",
			fmt.Sprintf("transition from %s to %s is not permitted", inc.Status, newStatus))
	}

	now := s.clock().UTC()
	desc := description
	if len(evidenceIDs) > 0 {
		desc = fmt.Sprintf("%s (evidence: %s)", description, strings.Join(evidenceIDs, ", "))
	}
	inc.AppendTimeline(incident.TimelineEntry{
		Timestamp:   now,
		Action:      action,
		Description: desc,
		Performer:   performer,
		Status:      newStatus,
	})
	inc.Status = newStatus

	switch newStatus {
	case incident.StatusClosed:
		inc.ClosedAt = &now
	case incident.StatusEscalated:
		inc.EscalatedAt = &now
	case incident.StatusContaining:
		if pb, ok := s.playbooks.Lookup(inc.Category, inc.Severity); ok {
			s.replaySteps(inc, pb.ContainmentSteps, now)
		}
	}

	// persist first; side effects only run once the new status is stored
	if err := s.store.Save(ctx, inc); err != nil {
		return err
	}

	switch newStatus {
	case incident.StatusClosed:
		if err := s.store.MarkInactive(ctx, id); err != nil {
			return err
		}
		s.metrics.IncidentsActive.Dec()
		s.generateReport(ctx, inc, now)
	case incident.StatusEscalated:
		s.escalateToAuthorities(ctx, inc, now, description)
	}

	return nil
}

// ReopenIncident is the only way out of CLOSED: the incident returns to the
// active set in INVESTIGATING with a reopen entry on its timeline.
func (s *Service) ReopenIncident(ctx context.Context, id, reason, performer string) error {
	unlock := s.lock(id)
	defer unlock()

	inc, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if inc.Status != incident.StatusClosed {
		return domainerrors.ErrIncidentNotClosed
	}

	now := s.clock().UTC()
	inc.Status = incident.StatusInvestigating
	inc.ClosedAt = nil
	inc.AppendTimeline(incident.TimelineEntry{
		Timestamp:   now,
		Action:      "incident_reopened",
		Description: reason,
		Performer:   performer,
		Status:      incident.StatusInvestigating,
	})

	if err := s.store.MarkActive(ctx, id); err != nil {
		return err
	}
	if err := s.store.Save(ctx, inc); err != nil {
		return err
	}
	s.metrics.IncidentsActive.Inc()

	return s.sink.LogAuditEvent(ctx, "incident_reopened", "security_incident", performer, map[string]interface{}{
		"incident_id": id,
		"reason":      reason,
	})
}

// AddEvidence attaches a new evidence record with its initial custody entry.
// File evidence gets an integrity hash from the hashing collaborator; hash
// failures propagate untouched.
func (s *Service) AddEvidence(ctx context.Context, id string, kind incident.EvidenceKind, name, description, location, collectedBy string) (*incident.Evidence, error) {
	unlock := s.lock(id)
	defer unlock()

	inc, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.clock().UTC()
	ev := incident.Evidence{
		ID:          uuid.NewString(),
		Kind:        kind,
		Name:        name,
		Description: description,
		Location:    location,
		CollectedBy: collectedBy,
		CollectedAt: now,
		ChainOfCustody: []incident.ChainOfCustodyEntry{{
			Timestamp: now,
			Action:    "collected",
			Handler:   collectedBy,
			Location:  location,
		}},
	}

	if kind == incident.EvidenceKindFile {
		hash, err := s.hasher.HashEvidence(location)
		if err != nil {
			return nil, domainerrors.NewExternalError("evidence-hasher", "hash evidence").WithCause(err)
		}
		ev.IntegrityHash = hash
	}

	inc.Evidence = append(inc.Evidence, ev)
	inc.AppendTimeline(incident.TimelineEntry{
		Timestamp:   now,
		Action:      "evidence_collected",
		Description: fmt.Sprintf("Evidence %q collected from %s", name, location),
		Performer:   collectedBy,
		Status:      inc.Status,
	})

	if err := s.store.Save(ctx, inc); err != nil {
		return nil, err
	}
	return &ev, nil
}

// AppendCustody records a handling step on existing evidence. The chain is
// append-only.
func (s *Service) AppendCustody(ctx context.Context, id, evidenceID, action, handler, location string) error {
	unlock := s.lock(id)
	defer unlock()

	inc, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}

	for i := range inc.Evidence {
		if inc.Evidence[i].ID == evidenceID {
			inc.Evidence[i].ChainOfCustody = append(inc.Evidence[i].ChainOfCustody, incident.ChainOfCustodyEntry{
				Timestamp: s.clock().UTC(),
				Action:    action,
				Handler:   handler,
				Location:  location,
			})
			return s.store.Save(ctx, inc)
		}
	}
	return domainerrors.ErrEvidenceNotFound
}

// ImplementContainment appends a containment action and a matching timeline
// entry under the incident's lock.
func (s *Service) ImplementContainment(ctx context.Context, id, action, description, performer string) (*incident.ContainmentAction, error) {
	unlock := s.lock(id)
	defer unlock()

	inc, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.clock().UTC()
	ca := incident.ContainmentAction{
		Action:        action,
		Description:   description,
		Timestamp:     now,
		Performer:     performer,
		Effectiveness: "pending_assessment",
	}
	inc.Containment = append(inc.Containment, ca)
	inc.AppendTimeline(incident.TimelineEntry{
		Timestamp:   now,
		Action:      "containment_implemented",
		Description: fmt.Sprintf("%s: %s", action, description),
		Performer:   performer,
		Status:      inc.Status,
	})

	if err := s.store.Save(ctx, inc); err != nil {
		return nil, err
	}
	return &ca, nil
}

// Get returns one incident by id.
func (s *Service) Get(ctx context.Context, id string) (*incident.SecurityIncident, error) {
	return s.store.Get(ctx, id)
}

// ActiveIncidents lists incidents not yet closed.
func (s *Service) ActiveIncidents(ctx context.Context) ([]*incident.SecurityIncident, error) {
	return s.store.ListActive(ctx)
}

// escalationMet evaluates the escalation predicate: affected-user count at
// or above the threshold, a flagged keyword in the description, or age
// beyond the limit. The playbook for the incident's (category, severity)
// pair may tighten any criterion; unset playbook criteria fall back to the
// service defaults.
func (s *Service) escalationMet(inc *incident.SecurityIncident, now time.Time) bool {
	userLimit := s.cfg.EscalationUserCount
	keywords := []string{"financial"}
	maxAge := s.cfg.EscalationAge
	if pb, ok := s.playbooks.Lookup(inc.Category, inc.Severity); ok {
		if pb.Escalation.MinAffectedUsers > 0 {
			userLimit = pb.Escalation.MinAffectedUsers
		}
		if len(pb.Escalation.DescriptionKeywords) > 0 {
			keywords = pb.Escalation.DescriptionKeywords
		}
		if pb.Escalation.MaxAgeHours > 0 {
			maxAge = time.Duration(pb.Escalation.MaxAgeHours) * time.Hour
		}
	}

	if len(inc.AffectedUsers) >= userLimit {
		return true
	}
	desc := strings.ToLower(inc.Description)
	for _, kw := range keywords {
		if strings.Contains(desc, strings.ToLower(kw)) {
			return true
		}
	}
	return inc.Age(now) > maxAge
}

func (s *Service) applyEscalation(ctx context.Context, inc *incident.SecurityIncident, now time.Time, reason string) {
	inc.AppendTimeline(incident.TimelineEntry{
		Timestamp:   now,
		Action:      "incident_escalated",
		Description: reason,
		Performer:   "automated-response",
		Status:      incident.StatusEscalated,
	})
	inc.Status = incident.StatusEscalated
	inc.EscalatedAt = &now
	s.escalateToAuthorities(ctx, inc, now, reason)
}

func (s *Service) escalateToAuthorities(ctx context.Context, inc *incident.SecurityIncident, now time.Time, reason string) {
	if err := s.sink.CaptureSecurityEvent(ctx, audit.SecurityEvent{
		Type:      "incident_escalated",
		Severity:  audit.SeverityHigh,
		Details:   fmt.Sprintf("incident %s escalated: %s", inc.ID, reason),
		Timestamp: now,
		Metadata: map[string]interface{}{
			"incident_id": inc.ID,
			"category":    string(inc.Category),
			"severity":    string(inc.Severity),
		},
	}); err != nil {
		s.logger.Error("audit sink rejected escalation event",
			zap.String("incident_id", inc.ID), zap.Error(err))
	}
}

// assessRegulatory decides which authorities must be notified. A breach
// affecting at least one user must go to the data protection authority
// within the configured deadline; breach and system-compromise incidents
// must additionally involve the financial regulator. Categories carrying no
// duty produce no notification record at all.
func (s *Service) assessRegulatory(inc *incident.SecurityIncident, now time.Time) *incident.RegulatoryNotification {
	dataProtection := inc.Category == incident.CategoryDataBreach && len(inc.AffectedUsers) >= 1
	financialRegulator := inc.Category == incident.CategoryDataBreach ||
		inc.Category == incident.CategorySystemCompromise
	if !dataProtection && !financialRegulator {
		return nil
	}

	notification := &incident.RegulatoryNotification{Required: true}
	if dataProtection {
		notification.Authorities = append(notification.Authorities, "data_protection_authority")
		notification.Deadline = now.Add(s.cfg.RegulatoryDeadline)
		notification.Reason = fmt.Sprintf("%d user(s) affected by %s", len(inc.AffectedUsers), inc.Category)
	}
	if financialRegulator {
		notification.Authorities = append(notification.Authorities, "financial_conduct_regulator")
		if notification.Reason == "" {
			notification.Reason = fmt.Sprintf("%s incidents must involve the financial regulator", inc.Category)
		}
	}
	return notification
}

func (s *Service) replaySteps(inc *incident.SecurityIncident, steps []string, now time.Time) {
	for _, step := range steps {
		inc.Containment = append(inc.Containment, incident.ContainmentAction{
			Action:        step,
			Description:   "Playbook-directed action",
			Timestamp:     now,
			Performer:     "automated-response",
			Effectiveness: "pending_assessment",
		})
	}
}

func (s *Service) notifyCreated(ctx context.Context, inc *incident.SecurityIncident, now time.Time) {
	regulatoryRequired := inc.Regulatory != nil && inc.Regulatory.Required
	if inc.Severity != incident.SeverityHigh && inc.Severity != incident.SeverityCritical && !regulatoryRequired {
		return
	}

	severity := audit.SeverityHigh
	if inc.Severity == incident.SeverityCritical {
		severity = audit.SeverityCritical
	}
	if err := s.sink.CaptureSecurityEvent(ctx, audit.SecurityEvent{
		Type:      "incident_created",
		Severity:  severity,
		Details:   fmt.Sprintf("incident %s: %s", inc.ID, inc.Title),
		Timestamp: now,
		Metadata: map[string]interface{}{
			"incident_id":         inc.ID,
			"category":            string(inc.Category),
			"severity":            string(inc.Severity),
			"regulatory_required": regulatoryRequired,
		},
	}); err != nil {
		s.logger.Error("audit sink rejected incident notification",
			zap.String("incident_id", inc.ID), zap.Error(err))
	}
}

func (s *Service) generateReport(ctx context.Context, inc *incident.SecurityIncident, now time.Time) {
	report := map[string]interface{}{
		"incident_id":         inc.ID,
		"category":            string(inc.Category),
		"severity":            string(inc.Severity),
		"duration":            now.Sub(inc.DetectedAt).String(),
		"timeline_entries":    len(inc.Timeline),
		"evidence_count":      len(inc.Evidence),
		"containment_actions": len(inc.Containment),
		"escalated":           inc.EscalatedAt != nil,
		"regulatory_required": inc.Regulatory != nil && inc.Regulatory.Required,
	}
	if err := s.sink.LogAuditEvent(ctx, "incident_report_generated", "security_incident", "", report); err != nil {
		s.logger.Error("audit sink rejected incident report",
			zap.String("incident_id", inc.ID), zap.Error(err))
	}
}

func (s *Service) nextID(now time.Time) string {
	return fmt.Sprintf("SEC-%s-%04d", now.Format("20060102"), s.seq.Add(1))
}

func (s *Service) lock(id string) func() {
	s.locksMu.Lock()
	e, ok := s.locks[id]
	if !ok {
		e = &lockEntry{}
		s.locks[id] = e
	}
	e.refs++
	s.locksMu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		s.locksMu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(s.locks, id)
		}
		s.locksMu.Unlock()
	}
}
