package authz

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	domainerrors "github.com/coverbridge/platform-security/internal/domain/errors"
	"github.com/coverbridge/platform-security/internal/domain/rbac"
	"github.com/coverbridge/platform-security/internal/infrastructure/audit"
	"github.com/coverbridge/platform-security/internal/infrastructure/telemetry"
)

func newTestService(t *testing.T) (*Service, *audit.MemorySink) {
	t.Helper()
	graph, err := rbac.NewRoleGraph(rbac.DefaultRoleDefinitions())
	require.NoError(t, err)

	sink := audit.NewMemorySink()
	svc := NewService(graph, sink, telemetry.NewTestMetrics(), zap.NewNop(),
		Config{MaxGrantDuration: 4 * time.Hour})
	return svc, sink
}

func TestHasPermissionDeniesMissingPermission(t *testing.T) {
	svc, sink := newTestService(t)

	res := svc.HasPermission(context.Background(), rbac.RoleReadonly, rbac.PermClaimApprove, nil)
	assert.False(t, res.Granted)
	assert.Equal(t, "Insufficient permissions for this action", res.Reason)
	assert.True(t, res.AuditRequired)

	// every denial leaves an audit record
	entries := sink.AuditEvents()
	require.Len(t, entries, 1)
	assert.Equal(t, "permission_denied", entries[0].Action)
	assert.Equal(t, "claim:approve", entries[0].Metadata["permission"])
}

func TestHasPermissionGrantsDirectAndInherited(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	// readonly's own permission
	res := svc.HasPermission(ctx, rbac.RoleReadonly, rbac.PermClaimView, nil)
	assert.True(t, res.Granted)
	assert.False(t, res.AuditRequired)

	// claims_adjuster inherits claim:view through insurer_staff and readonly
	res = svc.HasPermission(ctx, rbac.RoleClaimsAdjuster, rbac.PermClaimView, nil)
	assert.True(t, res.Granted)
}

func TestHasPermissionHighPrivilegeRequiresAudit(t *testing.T) {
	svc, _ := newTestService(t)

	res := svc.HasPermission(context.Background(), rbac.RoleSuperAdmin, rbac.PermUserImpersonate, nil)
	assert.True(t, res.Granted)
	assert.True(t, res.AuditRequired)
}

func TestHasPermissionOwnershipRule(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	t.Run("owner is allowed", func(t *testing.T) {
		res := svc.HasPermission(ctx, rbac.RoleInsurerStaff, rbac.PermDocumentView, &rbac.AccessContext{
			UserID:          "user-1",
			ResourceOwnerID: "user-1",
		})
		assert.True(t, res.Granted)
		assert.Contains(t, res.Conditions, "resource_ownership")
		assert.True(t, res.AuditRequired)
	})

	t.Run("non-owner without bypass is denied", func(t *testing.T) {
		res := svc.HasPermission(ctx, rbac.RoleInsurerStaff, rbac.PermDocumentView, &rbac.AccessContext{
			UserID:          "user-1",
			ResourceOwnerID: "user-2",
		})
		assert.False(t, res.Granted)
		assert.Equal(t, "Insufficient permissions for this action", res.Reason)
	})

	t.Run("adjuster bypasses ownership for claim approval", func(t *testing.T) {
		res := svc.HasPermission(ctx, rbac.RoleClaimsAdjuster, rbac.PermClaimApprove, &rbac.AccessContext{
			UserID:          "adjuster-1",
			ResourceOwnerID: "claimant-1",
		})
		assert.True(t, res.Granted)
		assert.Contains(t, res.Conditions, "ownership_bypass")
	})
}

func TestHasPermissionSensitivityClearance(t *testing.T) {
	svc, sink := newTestService(t)
	ctx := context.Background()

	t.Run("staff cannot touch restricted resources", func(t *testing.T) {
		res := svc.HasPermission(ctx, rbac.RoleInsurerStaff, rbac.PermDocumentView, &rbac.AccessContext{
			UserID:      "user-1",
			Sensitivity: rbac.SensitivityRestricted,
		})
		assert.False(t, res.Granted)

		events := sink.SecurityEventsOfType("clearance_violation")
		require.Len(t, events, 1)
		assert.Equal(t, audit.SeverityHigh, events[0].Severity)
	})

	t.Run("admin clears restricted", func(t *testing.T) {
		res := svc.HasPermission(ctx, rbac.RoleAdmin, rbac.PermDocumentView, &rbac.AccessContext{
			UserID:      "admin-1",
			Sensitivity: rbac.SensitivityRestricted,
		})
		assert.True(t, res.Granted)
		assert.Contains(t, res.Conditions, "sensitivity_clearance")
	})

	t.Run("unknown sensitivity fails closed", func(t *testing.T) {
		res := svc.HasPermission(ctx, rbac.RoleInsurerStaff, rbac.PermDocumentView, &rbac.AccessContext{
			UserID:      "user-1",
			Sensitivity: rbac.Sensitivity("mislabeled"),
		})
		assert.False(t, res.Granted)
	})
}

func TestHasPermissionOrganizationBoundary(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	res := svc.HasPermission(ctx, rbac.RoleInsurerAdmin, rbac.PermClaimManage, &rbac.AccessContext{
		UserID:         "user-1",
		OrganizationID: "org-a",
		ResourceOrgID:  "org-b",
	})
	assert.False(t, res.Granted)

	res = svc.HasPermission(ctx, rbac.RoleInsurerAdmin, rbac.PermClaimManage, &rbac.AccessContext{
		UserID:         "user-1",
		OrganizationID: "org-a",
		ResourceOrgID:  "org-a",
	})
	assert.True(t, res.Granted)
	assert.Contains(t, res.Conditions, "organization_boundary")
}

func TestTemporaryGrantEnforcement(t *testing.T) {
	svc, sink := newTestService(t)
	ctx := context.Background()

	access := &rbac.AccessContext{UserID: "user-1"}

	res := svc.HasPermission(ctx, rbac.RoleReadonly, rbac.PermClaimApprove, access)
	require.False(t, res.Granted)

	grant, err := svc.GrantTemporaryPermission(ctx, "user-1", rbac.PermClaimApprove,
		time.Hour, "covering adjuster absence", "admin-1")
	require.NoError(t, err)
	assert.NotEmpty(t, grant.ID)

	res = svc.HasPermission(ctx, rbac.RoleReadonly, rbac.PermClaimApprove, access)
	assert.True(t, res.Granted)
	assert.True(t, res.AuditRequired)
	assert.Contains(t, res.Conditions, "temporary_grant")

	// the grant is scoped to its user
	res = svc.HasPermission(ctx, rbac.RoleReadonly, rbac.PermClaimApprove, &rbac.AccessContext{UserID: "user-2"})
	assert.False(t, res.Granted)

	// granting is itself a privileged audited action
	var logged bool
	for _, entry := range sink.AuditEvents() {
		if entry.Action == "temporary_permission_granted" {
			logged = true
			assert.Equal(t, "admin-1", entry.UserID)
		}
	}
	assert.True(t, logged)
}

func TestTemporaryGrantExpiry(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	base := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
	svc.clock = func() time.Time { return base }

	_, err := svc.GrantTemporaryPermission(ctx, "user-1", rbac.PermClaimApprove,
		time.Hour, "short elevation", "admin-1")
	require.NoError(t, err)

	access := &rbac.AccessContext{UserID: "user-1"}
	res := svc.HasPermission(ctx, rbac.RoleReadonly, rbac.PermClaimApprove, access)
	require.True(t, res.Granted)

	svc.clock = func() time.Time { return base.Add(2 * time.Hour) }
	res = svc.HasPermission(ctx, rbac.RoleReadonly, rbac.PermClaimApprove, access)
	assert.False(t, res.Granted)
}

func TestGrantValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.GrantTemporaryPermission(ctx, "", rbac.PermClaimApprove, time.Hour, "why", "admin-1")
	assert.True(t, domainerrors.IsType(err, domainerrors.ErrorTypeValidation))

	_, err = svc.GrantTemporaryPermission(ctx, "user-1", rbac.PermClaimApprove, time.Hour, "", "admin-1")
	assert.True(t, domainerrors.IsType(err, domainerrors.ErrorTypeValidation))

	_, err = svc.GrantTemporaryPermission(ctx, "user-1", rbac.PermClaimApprove, 8*time.Hour, "too long", "admin-1")
	assert.True(t, domainerrors.IsType(err, domainerrors.ErrorTypeValidation))
}

func TestSweepExpiredGrants(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	base := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
	svc.clock = func() time.Time { return base }

	_, err := svc.GrantTemporaryPermission(ctx, "user-1", rbac.PermClaimApprove, time.Hour, "short", "admin-1")
	require.NoError(t, err)
	_, err = svc.GrantTemporaryPermission(ctx, "user-1", rbac.PermAuditExport, 3*time.Hour, "longer", "admin-1")
	require.NoError(t, err)

	svc.clock = func() time.Time { return base.Add(2 * time.Hour) }
	require.NoError(t, svc.SweepExpiredGrants(ctx))

	grants := svc.ActiveGrants("user-1")
	require.Len(t, grants, 1)
	assert.Equal(t, rbac.PermAuditExport, grants[0].Permission)
}

func TestGetRolePermissions(t *testing.T) {
	svc, _ := newTestService(t)

	perms, err := svc.GetRolePermissions(rbac.RoleReadonly)
	require.NoError(t, err)
	assert.Contains(t, perms, rbac.PermClaimView)
	assert.NotContains(t, perms, rbac.PermClaimApprove)

	_, err = svc.GetRolePermissions(rbac.Role("intern"))
	assert.ErrorIs(t, err, domainerrors.ErrUnknownRole)
}
