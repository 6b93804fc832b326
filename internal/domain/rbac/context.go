package rbac

// Sensitivity is the declared classification tier of a resource
type Sensitivity string

const (
	SensitivityPublic       Sensitivity = "public"
	SensitivityInternal     Sensitivity = "internal"
	SensitivityConfidential Sensitivity = "confidential"
	SensitivityRestricted   Sensitivity = "restricted"
)

// Tier maps sensitivity to its numeric rank; unknown values rank highest so
// mislabeled resources fail closed.
func (s Sensitivity) Tier() int {
	switch s {
	case SensitivityPublic:
		return 1
	case SensitivityInternal:
		return 2
	case SensitivityConfidential:
		return 3
	case SensitivityRestricted:
		return 4
	default:
		return 4
	}
}

// ClearanceTier returns the 4-tier clearance derived from a role.
func ClearanceTier(role Role) int {
	switch role {
	case RoleSuperAdmin, RoleAdmin:
		return 4
	case RoleInsurerAdmin, RoleAuditor:
		return 3
	case RoleInsurerStaff, RoleClaimsAdjuster:
		return 2
	default:
		return 1
	}
}

// AccessContext carries the per-call attributes of the resource being acted
// on. It is supplied by the caller and never persisted.
type AccessContext struct {
	UserID          string
	UserRole        Role
	OrganizationID  string
	ProjectID       string
	ResourceOwnerID string
	ResourceOrgID   string
	ResourceType    string
	Sensitivity     Sensitivity
}

// PermissionResult is the typed outcome of an authorization decision.
// Denials are results, not errors; callers branch on Granted.
type PermissionResult struct {
	Granted       bool     `json:"granted"`
	Reason        string   `json:"reason,omitempty"`
	Conditions    []string `json:"conditions,omitempty"`
	AuditRequired bool     `json:"audit_required"`
}
