package access

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Permission identifies an authorizable operation as a "domain.action" string.
type Permission string

var permissionPattern = regexp.MustCompile(`^[a-z_]+\.[a-z_]+$`)

// Validate checks the permission string against the domain.action grammar.
// Malformed strings indicate a caller bug and are never silently coerced.
func (p Permission) Validate() error {
	if !permissionPattern.MatchString(string(p)) {
		return fmt.Errorf("%w: %q", ErrInvalidPermission, string(p))
	}
	return nil
}

// String returns the raw permission string.
func (p Permission) String() string { return string(p) }

// Domain returns the part before the dot, e.g. "payroll" in "payroll.view".
func (p Permission) Domain() string {
	if idx := strings.IndexByte(string(p), '.'); idx >= 0 {
		return string(p)[:idx]
	}
	return string(p)
}

// Action returns the part after the dot, e.g. "view" in "payroll.view".
func (p Permission) Action() string {
	if idx := strings.IndexByte(string(p), '.'); idx >= 0 {
		return string(p)[idx+1:]
	}
	return ""
}

// ResourceType enumerates the resource kinds the guard understands.
type ResourceType string

const (
	ResourceEmployee   ResourceType = "employee"
	ResourceDepartment ResourceType = "department"
	ResourcePayroll    ResourceType = "payroll"
	ResourceReport     ResourceType = "report"
	ResourceSystem     ResourceType = "system"
)

// Valid reports whether the resource type is one of the known kinds.
func (rt ResourceType) Valid() bool {
	switch rt {
	case ResourceEmployee, ResourceDepartment, ResourcePayroll, ResourceReport, ResourceSystem:
		return true
	}
	return false
}

// Scope describes the breadth of resources a guard check applies to.
type Scope string

const (
	ScopeOwn        Scope = "own"
	ScopeDepartment Scope = "department"
	ScopeAll        Scope = "all"
)

// Valid reports whether the scope is one of the known values.
func (s Scope) Valid() bool {
	switch s {
	case ScopeOwn, ScopeDepartment, ScopeAll:
		return true
	}
	return false
}

// Elevated roles bypass certain checks and feed the heuristic miss policy.
const (
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
)

// ResourceDescriptor points at a concrete resource under evaluation.
type ResourceDescriptor struct {
	Type       ResourceType   `json:"type"`
	ID         string         `json:"id"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// PermissionContext is the immutable snapshot used to evaluate a permission.
// Build one per check and never mutate it afterwards.
type PermissionContext struct {
	UserID             string              `json:"user_id"`
	Role               string              `json:"role"`
	DepartmentID       string              `json:"department_id,omitempty"`
	ManagedDepartments []string            `json:"managed_departments,omitempty"`
	Resource           *ResourceDescriptor `json:"resource,omitempty"`
	Timestamp          time.Time           `json:"timestamp"`
}

// Authenticated reports whether the context carries a user.
func (pc PermissionContext) Authenticated() bool {
	return strings.TrimSpace(pc.UserID) != ""
}

// ManagesDepartment reports whether the department is in the managed set.
func (pc PermissionContext) ManagesDepartment(departmentID string) bool {
	if departmentID == "" {
		return false
	}
	for _, id := range pc.ManagedDepartments {
		if id == departmentID {
			return true
		}
	}
	return false
}

// WithResource returns a copy of the context annotated with a resource descriptor.
func (pc PermissionContext) WithResource(rd *ResourceDescriptor) PermissionContext {
	pc.Resource = rd
	return pc
}

// Denial reasons attached to PermissionResult by the layer that rejected the check.
// These are intended for logs and audit, not for end-user display.
const (
	ReasonUnauthenticated   = "unauthenticated"
	ReasonNetworkFallback   = "network-fallback"
	ReasonBaseDenied        = "base-permission-denied"
	ReasonNotOwner          = "not-owner"
	ReasonOutsideDepartment = "outside-managed-department"
	ReasonUnknownResource   = "unknown-resource-type"
	ReasonPreloadFallback   = "preload-fallback"
)

// PermissionResult is the outcome of a permission check. Immutable once produced.
type PermissionResult struct {
	Allowed     bool              `json:"allowed"`
	Reason      string            `json:"reason,omitempty"`
	Context     PermissionContext `json:"context"`
	EvaluatedAt time.Time         `json:"evaluated_at"`
}

// Decision is the raw outcome returned by the remote policy service.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// InvalidationEvent notifies that cached decisions for a user may be stale.
// An empty Permission means every entry for the user must be evicted.
type InvalidationEvent struct {
	UserID     string     `json:"user_id"`
	Permission Permission `json:"permission,omitempty"`
}

// Identity describes the authenticated principal a session is built for.
type Identity struct {
	UserID             string   `json:"user_id"`
	Role               string   `json:"role"`
	DepartmentID       string   `json:"department_id,omitempty"`
	ManagedDepartments []string `json:"managed_departments,omitempty"`
}
