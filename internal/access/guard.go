package access

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tallyhr/accesscore/pkg/logger"
)

// GuardOptions configures a resource access guard.
type GuardOptions struct {
	// PropagateErrors surfaces directory and rule errors to the caller instead
	// of resolving them to denials.
	PropagateErrors bool
	// BatchLimit bounds concurrent per-item checks in batch operations. Zero
	// means DefaultThrottleLimit; remote evaluations inside each check stay
	// bounded by the shared throttle regardless.
	BatchLimit int
}

// Guard layers ownership and department-scope rules on top of base permission
// checks, producing resource-level decisions.
type Guard struct {
	evaluator *Evaluator
	rules     *RuleSet
	directory Directory

	propagate  bool
	batchLimit int
	log        *zap.Logger
}

// NewGuard constructs a guard over the session evaluator.
func NewGuard(evaluator *Evaluator, rules *RuleSet, directory Directory, opts GuardOptions) (*Guard, error) {
	if evaluator == nil {
		return nil, errors.New("access: evaluator is required")
	}
	if rules == nil {
		return nil, errors.New("access: rule set is required")
	}
	if directory == nil {
		return nil, errors.New("access: directory is required")
	}

	limit := opts.BatchLimit
	if limit <= 0 {
		limit = DefaultThrottleLimit
	}

	return &Guard{
		evaluator:  evaluator,
		rules:      rules,
		directory:  directory,
		propagate:  opts.PropagateErrors,
		batchLimit: limit,
		log:        logger.WithModule("resource-guard"),
	}, nil
}

// CheckResourceAccess decides whether the context's user may perform the
// action on the resource within the requested scope. The base permission
// (resourceType.action) is checked first; scope rules only narrow an allowed
// base decision.
func (g *Guard) CheckResourceAccess(ctx context.Context, action string, resourceType ResourceType, resourceID string, scope Scope, pc PermissionContext) (PermissionResult, error) {
	if !resourceType.Valid() {
		return PermissionResult{}, fmt.Errorf("access: unknown resource type %q", resourceType)
	}
	if !scope.Valid() {
		return PermissionResult{}, fmt.Errorf("access: unknown scope %q", scope)
	}

	pc = pc.WithResource(&ResourceDescriptor{Type: resourceType, ID: resourceID})

	base := Permission(string(resourceType) + "." + action)
	result, err := g.evaluator.CheckPermission(ctx, base, pc)
	if err != nil {
		return PermissionResult{}, err
	}
	if !result.Allowed {
		return g.deny(pc, ReasonBaseDenied), nil
	}

	switch scope {
	case ScopeOwn:
		rule, ok := g.rules.Resolve(resourceType)
		if !ok {
			// No registered predicate: deny rather than guess.
			g.log.Warn("no ownership rule registered", zap.String("resource_type", string(resourceType)))
			return g.deny(pc, ReasonUnknownResource), nil
		}
		owns, err := rule.Owns(ctx, pc, resourceID)
		if err != nil {
			return g.resolveScopeError(pc, err)
		}
		if !owns {
			return g.deny(pc, ReasonNotOwner), nil
		}

	case ScopeDepartment:
		department, err := g.directory.ResourceDepartment(ctx, resourceType, resourceID)
		if err != nil {
			return g.resolveScopeError(pc, err)
		}
		if !pc.ManagesDepartment(department) {
			return g.deny(pc, ReasonOutsideDepartment), nil
		}

	case ScopeAll:
		// Base permission is sufficient.
	}

	result.Context = pc
	return result, nil
}

// ResourceRef identifies one resource inside a batch check.
type ResourceRef struct {
	Type ResourceType
	ID   string
}

// FilterAccessible returns the subset of refs the user may perform the action
// on, in input order. The check is a pure filter: the input is never mutated
// and the outcome does not depend on completion ordering.
func (g *Guard) FilterAccessible(ctx context.Context, action string, scope Scope, refs []ResourceRef, pc PermissionContext) ([]ResourceRef, error) {
	allowed, err := g.checkEach(ctx, action, scope, refs, pc)
	if err != nil {
		return nil, err
	}

	filtered := make([]ResourceRef, 0, len(refs))
	for i, ref := range refs {
		if allowed[i] {
			filtered = append(filtered, ref)
		}
	}
	return filtered, nil
}

// AccessibleIDs filters resource IDs of one type down to those the user may
// perform the action on.
func (g *Guard) AccessibleIDs(ctx context.Context, action string, resourceType ResourceType, ids []string, scope Scope, pc PermissionContext) ([]string, error) {
	refs := make([]ResourceRef, len(ids))
	for i, id := range ids {
		refs[i] = ResourceRef{Type: resourceType, ID: id}
	}

	allowed, err := g.checkEach(ctx, action, scope, refs, pc)
	if err != nil {
		return nil, err
	}

	filtered := make([]string, 0, len(ids))
	for i, id := range ids {
		if allowed[i] {
			filtered = append(filtered, id)
		}
	}
	return filtered, nil
}

// checkEach runs the per-item check with bounded fan-out. Remote evaluations
// inside each item remain governed by the session throttle.
func (g *Guard) checkEach(ctx context.Context, action string, scope Scope, refs []ResourceRef, pc PermissionContext) ([]bool, error) {
	allowed := make([]bool, len(refs))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(g.batchLimit)

	for i, ref := range refs {
		group.Go(func() error {
			result, err := g.CheckResourceAccess(groupCtx, action, ref.Type, ref.ID, scope, pc)
			if err != nil {
				return err
			}
			allowed[i] = result.Allowed
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return allowed, nil
}

func (g *Guard) deny(pc PermissionContext, reason string) PermissionResult {
	return PermissionResult{
		Allowed:     false,
		Reason:      reason,
		Context:     pc,
		EvaluatedAt: g.evaluator.now(),
	}
}

func (g *Guard) resolveScopeError(pc PermissionContext, err error) (PermissionResult, error) {
	if g.propagate && !IsTransient(err) {
		return PermissionResult{}, err
	}
	g.log.Warn("scope check degraded to denial", zap.Error(err))
	return g.deny(pc, err.Error()), nil
}
