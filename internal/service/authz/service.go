package authz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	domainerrors "github.com/coverbridge/platform-security/internal/domain/errors"
	"github.com/coverbridge/platform-security/internal/domain/rbac"
	"github.com/coverbridge/platform-security/internal/infrastructure/audit"
	"github.com/coverbridge/platform-security/internal/infrastructure/telemetry"
)

const deniedReason = "Insufficient permissions for this action"

// highPrivilege permissions always require an audit trail when granted,
// regardless of how the grant was reached.
var highPrivilege = map[rbac.Permission]bool{
	rbac.PermSystemAdmin:       true,
	rbac.PermFinancialPayments: true,
	rbac.PermUserImpersonate:   true,
	rbac.PermAuditExport:       true,
}

// ownershipBypass lists the role and permission pairs allowed to act on
// resources they do not own. Everything else must match the owner.
var ownershipBypass = map[rbac.Role][]rbac.Permission{
	rbac.RoleSuperAdmin:     {rbac.PermSystemAdmin, rbac.PermUserManage, rbac.PermUserImpersonate, rbac.PermClaimManage, rbac.PermClaimApprove, rbac.PermDocumentManage},
	rbac.RoleAdmin:          {rbac.PermUserManage, rbac.PermClaimManage, rbac.PermClaimApprove, rbac.PermDocumentManage},
	rbac.RoleInsurerAdmin:   {rbac.PermClaimManage, rbac.PermClaimApprove, rbac.PermUserManage},
	rbac.RoleClaimsAdjuster: {rbac.PermClaimApprove, rbac.PermClaimManage},
	rbac.RoleAuditor:        {rbac.PermAuditView, rbac.PermAuditExport, rbac.PermComplianceView},
}

// TemporaryGrant is a time-bounded elevation for one user and permission.
type TemporaryGrant struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	Permission    rbac.Permission `json:"permission"`
	Justification string          `json:"justification"`
	GrantedBy     string          `json:"granted_by"`
	GrantedAt     time.Time       `json:"granted_at"`
	ExpiresAt     time.Time       `json:"expires_at"`
}

// Config carries the authorization tunables.
type Config struct {
	MaxGrantDuration time.Duration
}

// Service resolves permissions against the role graph, enforces contextual
// rules, and manages temporary elevations. Safe for concurrent use; the role
// graph is immutable and grants are guarded by their own lock.
type Service struct {
	roles   *rbac.RoleGraph
	sink    audit.Sink
	metrics *telemetry.Metrics
	logger  *zap.Logger
	cfg     Config

	clock func() time.Time

	grantsMu sync.RWMutex
	grants   map[string][]TemporaryGrant
}

func NewService(roles *rbac.RoleGraph, sink audit.Sink, metrics *telemetry.Metrics, logger *zap.Logger, cfg Config) *Service {
	return &Service{
		roles:   roles,
		sink:    sink,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
		clock:   time.Now,
		grants:  make(map[string][]TemporaryGrant),
	}
}

// GetRolePermissions returns the role's effective permission set including
// everything inherited from its ancestors.
func (s *Service) GetRolePermissions(role rbac.Role) ([]rbac.Permission, error) {
	if !s.roles.Known(role) {
		return nil, domainerrors.ErrUnknownRole
	}
	return s.roles.Permissions(role), nil
}

// HasPermission decides whether the role may exercise the permission,
// optionally constrained by the access context. Denials are results, not
// errors. An internal panic produces a denial and a critical security event.
func (s *Service) HasPermission(ctx context.Context, role rbac.Role, perm rbac.Permission, access *rbac.AccessContext) (result rbac.PermissionResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("authorization panic",
				zap.String("role", string(role)),
				zap.String("permission", string(perm)),
				zap.Any("panic", r))
			s.captureEvent(ctx, audit.SecurityEvent{
				Type:      "authorization_failure",
				Severity:  audit.SeverityCritical,
				Details:   fmt.Sprintf("internal error during authorization of %s for role %s", perm, role),
				Timestamp: s.clock().UTC(),
				UserID:    accessUserID(access),
			})
			result = rbac.PermissionResult{Granted: false, Reason: deniedReason, AuditRequired: true}
			s.metrics.AuthzDecisions.WithLabelValues("denied").Inc()
		}
	}()

	viaGrant := false
	if !s.roles.Has(role, perm) {
		if access == nil || !s.hasActiveGrant(access.UserID, perm) {
			return s.deny(ctx, role, perm, access, "permission not in role set")
		}
		viaGrant = true
	}

	var conditions []string
	if access != nil {
		denied, cond := s.applyContextRules(ctx, role, perm, access)
		if denied != "" {
			return s.deny(ctx, role, perm, access, denied)
		}
		conditions = cond
	}

	auditRequired := highPrivilege[perm] || viaGrant || len(conditions) > 0
	if viaGrant {
		conditions = append(conditions, "temporary_grant")
	}

	s.metrics.AuthzDecisions.WithLabelValues("granted").Inc()
	return rbac.PermissionResult{
		Granted:       true,
		Conditions:    conditions,
		AuditRequired: auditRequired,
	}
}

// applyContextRules evaluates ownership, sensitivity clearance and the
// organization boundary in order. It returns the denial cause, or the list of
// conditions that had to be satisfied for the grant.
func (s *Service) applyContextRules(ctx context.Context, role rbac.Role, perm rbac.Permission, access *rbac.AccessContext) (string, []string) {
	var conditions []string

	if access.ResourceOwnerID != "" {
		if access.UserID == access.ResourceOwnerID {
			conditions = append(conditions, "resource_ownership")
		} else if s.ownershipBypassed(role, perm) {
			conditions = append(conditions, "ownership_bypass")
		} else {
			return "resource owned by another user", nil
		}
	}

	if access.Sensitivity != "" {
		if rbac.ClearanceTier(role) < access.Sensitivity.Tier() {
			s.captureEvent(ctx, audit.SecurityEvent{
				Type:     "clearance_violation",
				Severity: audit.SeverityHigh,
				Details: fmt.Sprintf("role %s attempted %s access to %s resource",
					role, perm, access.Sensitivity),
				Timestamp: s.clock().UTC(),
				UserID:    access.UserID,
				Metadata: map[string]interface{}{
					"resource_type": access.ResourceType,
					"sensitivity":   string(access.Sensitivity),
				},
			})
			return "insufficient sensitivity clearance", nil
		}
		conditions = append(conditions, "sensitivity_clearance")
	}

	if access.OrganizationID != "" && access.ResourceOrgID != "" {
		if access.OrganizationID != access.ResourceOrgID {
			return "resource belongs to another organization", nil
		}
		conditions = append(conditions, "organization_boundary")
	}

	return "", conditions
}

// GrantTemporaryPermission records a time-bounded elevation. The grant is
// enforced: HasPermission consults it until expiry, and every use carries the
// audit-required flag.
func (s *Service) GrantTemporaryPermission(ctx context.Context, userID string, perm rbac.Permission, duration time.Duration, justification, grantedBy string) (*TemporaryGrant, error) {
	if userID == "" || justification == "" {
		return nil, domainerrors.NewValidationError("INVALID_GRANT", "user id and justification are required")
	}
	if duration <= 0 || duration > s.cfg.MaxGrantDuration {
		return nil, domainerrors.NewValidationError("INVALID_GRANT_DURATION",
			fmt.Sprintf("grant duration must be positive and at most %s", s.cfg.MaxGrantDuration))
	}

	now := s.clock().UTC()
	grant := TemporaryGrant{
		ID:            uuid.NewString(),
		UserID:        userID,
		Permission:    perm,
		Justification: justification,
		GrantedBy:     grantedBy,
		GrantedAt:     now,
		ExpiresAt:     now.Add(duration),
	}

	s.grantsMu.Lock()
	s.grants[userID] = append(s.grants[userID], grant)
	s.grantsMu.Unlock()

	if err := s.sink.LogAuditEvent(ctx, "temporary_permission_granted", "permission", grantedBy, map[string]interface{}{
		"grant_id":      grant.ID,
		"target_user":   userID,
		"permission":    string(perm),
		"expires_at":    grant.ExpiresAt,
		"justification": justification,
	}); err != nil {
		s.logger.Error("audit sink rejected grant record",
			zap.String("grant_id", grant.ID), zap.Error(err))
	}

	s.logger.Info("temporary permission granted",
		zap.String("grant_id", grant.ID),
		zap.String("user_id", userID),
		zap.String("permission", string(perm)),
		zap.Time("expires_at", grant.ExpiresAt))
	return &grant, nil
}

// SweepExpiredGrants drops elevations past their expiry. Intended to run
// periodically from the scheduler.
func (s *Service) SweepExpiredGrants(ctx context.Context) error {
	now := s.clock().UTC()
	removed := 0

	s.grantsMu.Lock()
	for userID, grants := range s.grants {
		kept := grants[:0]
		for _, g := range grants {
			if g.ExpiresAt.After(now) {
				kept = append(kept, g)
			} else {
				removed++
			}
		}
		if len(kept) == 0 {
			delete(s.grants, userID)
		} else {
			s.grants[userID] = kept
		}
	}
	s.grantsMu.Unlock()

	if removed > 0 {
		s.logger.Info("expired grants swept", zap.Int("removed", removed))
	}
	return nil
}

// ActiveGrants returns the unexpired grants for a user.
func (s *Service) ActiveGrants(userID string) []TemporaryGrant {
	now := s.clock().UTC()
	s.grantsMu.RLock()
	defer s.grantsMu.RUnlock()

	var out []TemporaryGrant
	for _, g := range s.grants[userID] {
		if g.ExpiresAt.After(now) {
			out = append(out, g)
		}
	}
	return out
}

func (s *Service) hasActiveGrant(userID string, perm rbac.Permission) bool {
	if userID == "" {
		return false
	}
	now := s.clock().UTC()
	s.grantsMu.RLock()
	defer s.grantsMu.RUnlock()

	for _, g := range s.grants[userID] {
		if g.Permission == perm && g.ExpiresAt.After(now) {
			return true
		}
	}
	return false
}

func (s *Service) ownershipBypassed(role rbac.Role, perm rbac.Permission) bool {
	for _, p := range ownershipBypass[role] {
		if p == perm {
			return true
		}
	}
	return false
}

func (s *Service) deny(ctx context.Context, role rbac.Role, perm rbac.Permission, access *rbac.AccessContext, cause string) rbac.PermissionResult {
	s.metrics.AuthzDecisions.WithLabelValues("denied").Inc()

	if err := s.sink.LogAuditEvent(ctx, "permission_denied", "permission", accessUserID(access), map[string]interface{}{
		"role":       string(role),
		"permission": string(perm),
		"cause":      cause,
	}); err != nil {
		s.logger.Error("audit sink rejected denial record",
			zap.String("role", string(role)),
			zap.String("permission", string(perm)),
			zap.Error(err))
	}

	s.logger.Warn("permission denied",
		zap.String("role", string(role)),
		zap.String("permission", string(perm)),
		zap.String("cause", cause))

	return rbac.PermissionResult{
		Granted:       false,
		Reason:        deniedReason,
		AuditRequired: true,
	}
}

func (s *Service) captureEvent(ctx context.Context, ev audit.SecurityEvent) {
	if err := s.sink.CaptureSecurityEvent(ctx, ev); err != nil {
		s.logger.Error("audit sink rejected security event",
			zap.String("type", ev.Type), zap.Error(err))
	}
}

func accessUserID(access *rbac.AccessContext) string {
	if access == nil {
		return ""
	}
	return access.UserID
}
