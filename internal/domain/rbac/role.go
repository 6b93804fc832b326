package rbac

import (
	"fmt"
	"sort"
)

// Role names the node in the inheritance graph a caller acts as
type Role string

const (
	RoleSuperAdmin     Role = "super_admin"
	RoleAdmin          Role = "admin"
	RoleInsurerAdmin   Role = "insurer_admin"
	RoleInsurerStaff   Role = "insurer_staff"
	RoleClaimsAdjuster Role = "claims_adjuster"
	RoleAuditor        Role = "auditor"
	RoleReadonly       Role = "readonly"
)

// Permission is an opaque string tag, grouped by domain with a colon.
type Permission string

const (
	// system domain
	PermSystemAdmin  Permission = "system:admin"
	PermSystemConfig Permission = "system:config"

	// user domain
	PermUserView        Permission = "user:view"
	PermUserManage      Permission = "user:manage"
	PermUserImpersonate Permission = "user:impersonate"

	// project domain
	PermProjectView   Permission = "project:view"
	PermProjectManage Permission = "project:manage"

	// claim domain
	PermClaimView    Permission = "claim:view"
	PermClaimManage  Permission = "claim:manage"
	PermClaimApprove Permission = "claim:approve"

	// financial domain
	PermFinancialView     Permission = "financial:view"
	PermFinancialPayments Permission = "financial:process_payments"

	// document domain
	PermDocumentView   Permission = "document:view"
	PermDocumentManage Permission = "document:manage"

	// compliance domain
	PermComplianceView   Permission = "compliance:view"
	PermComplianceManage Permission = "compliance:manage"

	// report domain
	PermReportView   Permission = "report:view"
	PermReportExport Permission = "report:export"

	// audit domain
	PermAuditView   Permission = "audit:view"
	PermAuditExport Permission = "audit:export"
)

// RoleDefinition is one node of the role graph: its own permissions plus the
// parents it inherits from. The graph must be acyclic; NewRoleGraph verifies.
type RoleDefinition struct {
	Name        Role
	Parents     []Role
	Permissions []Permission
}

// RoleGraph holds the immutable role hierarchy with the permission closure
// precomputed per role. Safe for unsynchronized concurrent reads.
type RoleGraph struct {
	definitions map[Role]RoleDefinition
	closure     map[Role][]Permission
}

// NewRoleGraph validates the definitions (known parents, no cycles) and
// precomputes each role's effective permission set as the deduplicated union
// over all reachable ancestors.
func NewRoleGraph(definitions []RoleDefinition) (*RoleGraph, error) {
	defs := make(map[Role]RoleDefinition, len(definitions))
	for _, def := range definitions {
		if _, exists := defs[def.Name]; exists {
			return nil, fmt.Errorf("duplicate role definition %q", def.Name)
		}
		defs[def.Name] = def
	}

	for _, def := range defs {
		for _, parent := range def.Parents {
			if _, ok := defs[parent]; !ok {
				return nil, fmt.Errorf("role %q inherits unknown role %q", def.Name, parent)
			}
		}
	}

	if cycle := findCycle(defs); cycle != "" {
		return nil, fmt.Errorf("role hierarchy contains a cycle through %q", cycle)
	}

	g := &RoleGraph{
		definitions: defs,
		closure:     make(map[Role][]Permission, len(defs)),
	}
	for name := range defs {
		g.closure[name] = g.computeClosure(name)
	}
	return g, nil
}

// Permissions returns the effective permission set for the role, sorted for
// stable output. Unknown roles yield an empty set.
func (g *RoleGraph) Permissions(role Role) []Permission {
	perms, ok := g.closure[role]
	if !ok {
		return nil
	}
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}

// Has reports whether the role's effective set contains the permission.
func (g *RoleGraph) Has(role Role, perm Permission) bool {
	for _, p := range g.closure[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// Known reports whether the role is defined.
func (g *RoleGraph) Known(role Role) bool {
	_, ok := g.definitions[role]
	return ok
}

func (g *RoleGraph) computeClosure(role Role) []Permission {
	seen := make(map[Permission]bool)
	visited := make(map[Role]bool)

	var walk func(Role)
	walk = func(r Role) {
		if visited[r] {
			return
		}
		visited[r] = true
		def := g.definitions[r]
		for _, p := range def.Permissions {
			seen[p] = true
		}
		for _, parent := range def.Parents {
			walk(parent)
		}
	}
	walk(role)

	perms := make([]Permission, 0, len(seen))
	for p := range seen {
		perms = append(perms, p)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i] < perms[j] })
	return perms
}

// findCycle returns a role on a parent cycle, or "" when the graph is acyclic.
func findCycle(defs map[Role]RoleDefinition) Role {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[Role]int, len(defs))

	var visit func(Role) Role
	visit = func(r Role) Role {
		color[r] = gray
		for _, parent := range defs[r].Parents {
			switch color[parent] {
			case gray:
				return parent
			case white:
				if hit := visit(parent); hit != "" {
					return hit
				}
			}
		}
		color[r] = black
		return ""
	}

	for name := range defs {
		if color[name] == white {
			if hit := visit(name); hit != "" {
				return hit
			}
		}
	}
	return ""
}

// DefaultRoleDefinitions is the platform hierarchy: a primary administrative
// chain plus adjuster and auditor roles hanging off the staff tier.
func DefaultRoleDefinitions() []RoleDefinition {
	return []RoleDefinition{
		{
			Name: RoleReadonly,
			Permissions: []Permission{
				PermUserView, PermProjectView, PermClaimView,
				PermDocumentView, PermReportView,
			},
		},
		{
			Name:    RoleInsurerStaff,
			Parents: []Role{RoleReadonly},
			Permissions: []Permission{
				PermClaimManage, PermDocumentManage, PermFinancialView,
			},
		},
		{
			Name:    RoleClaimsAdjuster,
			Parents: []Role{RoleInsurerStaff},
			Permissions: []Permission{
				PermClaimApprove,
			},
		},
		{
			Name:    RoleAuditor,
			Parents: []Role{RoleReadonly},
			Permissions: []Permission{
				PermComplianceView, PermAuditView, PermAuditExport, PermReportExport,
			},
		},
		{
			Name:    RoleInsurerAdmin,
			Parents: []Role{RoleInsurerStaff, RoleAuditor},
			Permissions: []Permission{
				PermUserManage, PermProjectManage, PermClaimApprove,
				PermComplianceManage,
			},
		},
		{
			Name:    RoleAdmin,
			Parents: []Role{RoleInsurerAdmin},
			Permissions: []Permission{
				PermSystemConfig, PermFinancialPayments,
			},
		},
		{
			Name:    RoleSuperAdmin,
			Parents: []Role{RoleAdmin},
			Permissions: []Permission{
				PermSystemAdmin, PermUserImpersonate,
			},
		},
	}
}
