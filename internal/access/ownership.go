package access

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Directory answers the external reads behind ownership and department-scope
// predicates. Implementations live outside the core (database, HTTP, fixtures).
type Directory interface {
	// PayrollOwner returns the employee owning the payroll record.
	PayrollOwner(ctx context.Context, payrollID string) (string, error)
	// ReportMeta returns the report's creator and whether it is public.
	ReportMeta(ctx context.Context, reportID string) (creatorID string, public bool, err error)
	// ResourceDepartment resolves the department a resource belongs to.
	ResourceDepartment(ctx context.Context, resourceType ResourceType, resourceID string) (string, error)
}

// OwnershipRule decides whether the context's user owns a resource.
type OwnershipRule interface {
	Owns(ctx context.Context, pc PermissionContext, resourceID string) (bool, error)
}

// OwnershipRuleFunc adapts a function to the OwnershipRule interface.
type OwnershipRuleFunc func(ctx context.Context, pc PermissionContext, resourceID string) (bool, error)

// Owns implements OwnershipRule.
func (f OwnershipRuleFunc) Owns(ctx context.Context, pc PermissionContext, resourceID string) (bool, error) {
	return f(ctx, pc, resourceID)
}

var (
	// ErrNilRule signals an attempt to register a nil ownership rule.
	ErrNilRule = errors.New("access: nil ownership rule")
	// ErrDuplicateRule indicates an ownership rule registration conflict.
	ErrDuplicateRule = errors.New("access: ownership rule already registered")
)

// RuleSet stores ownership rules keyed by resource type with concurrency
// safety. Unregistered types resolve to nothing, which the guard treats as
// deny.
type RuleSet struct {
	mu    sync.RWMutex
	rules map[ResourceType]OwnershipRule
}

// NewRuleSet constructs an empty rule set.
func NewRuleSet() *RuleSet {
	return &RuleSet{rules: make(map[ResourceType]OwnershipRule)}
}

// Register adds an ownership rule for the resource type.
func (rs *RuleSet) Register(resourceType ResourceType, rule OwnershipRule) error {
	if rule == nil {
		return ErrNilRule
	}
	if !resourceType.Valid() {
		return fmt.Errorf("access: unknown resource type %q", resourceType)
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	if _, exists := rs.rules[resourceType]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateRule, resourceType)
	}
	rs.rules[resourceType] = rule
	return nil
}

// Resolve looks up the rule for a resource type.
func (rs *RuleSet) Resolve(resourceType ResourceType) (OwnershipRule, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	rule, ok := rs.rules[resourceType]
	return rule, ok
}

// DefaultRuleSet builds the built-in ownership predicates over the directory:
//
//	employee    the resource is the user's own record
//	payroll     the owning employee of the record is the user
//	department  the department is in the user's managed set
//	report      the user created the report, or the report is public
//	system      the user holds an elevated role
func DefaultRuleSet(directory Directory) *RuleSet {
	rs := NewRuleSet()

	mustRegister(rs, ResourceEmployee, OwnershipRuleFunc(
		func(_ context.Context, pc PermissionContext, resourceID string) (bool, error) {
			return resourceID == pc.UserID, nil
		}))

	mustRegister(rs, ResourcePayroll, OwnershipRuleFunc(
		func(ctx context.Context, pc PermissionContext, resourceID string) (bool, error) {
			owner, err := directory.PayrollOwner(ctx, resourceID)
			if err != nil {
				return false, err
			}
			return owner == pc.UserID, nil
		}))

	mustRegister(rs, ResourceDepartment, OwnershipRuleFunc(
		func(_ context.Context, pc PermissionContext, resourceID string) (bool, error) {
			return pc.ManagesDepartment(resourceID), nil
		}))

	mustRegister(rs, ResourceReport, OwnershipRuleFunc(
		func(ctx context.Context, pc PermissionContext, resourceID string) (bool, error) {
			creator, public, err := directory.ReportMeta(ctx, resourceID)
			if err != nil {
				return false, err
			}
			return creator == pc.UserID || public, nil
		}))

	mustRegister(rs, ResourceSystem, OwnershipRuleFunc(
		func(_ context.Context, pc PermissionContext, _ string) (bool, error) {
			return elevatedRole(pc.Role), nil
		}))

	return rs
}

func mustRegister(rs *RuleSet, resourceType ResourceType, rule OwnershipRule) {
	if err := rs.Register(resourceType, rule); err != nil {
		panic(err)
	}
}
