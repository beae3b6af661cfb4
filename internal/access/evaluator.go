package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tallyhr/accesscore/pkg/logger"
	"github.com/tallyhr/accesscore/pkg/metrics"
)

// FallbackPolicy is the decision substituted when evaluation cannot complete.
type FallbackPolicy string

const (
	// FailOpen substitutes an allow decision on transient failures.
	FailOpen FallbackPolicy = "fail_open"
	// FailClosed substitutes a deny decision on transient failures.
	FailClosed FallbackPolicy = "fail_closed"
)

// Allowed resolves the policy to the substituted decision.
func (f FallbackPolicy) Allowed() bool { return f != FailClosed }

// MissPolicy controls what HasPermission answers on a cache miss.
type MissPolicy string

const (
	// MissStrict answers false on any cache miss.
	MissStrict MissPolicy = "strict"
	// MissHeuristic answers true for elevated roles on read-only permissions.
	// This changes the security posture and must be chosen deliberately.
	MissHeuristic MissPolicy = "heuristic"
)

// Options configures an Evaluator.
type Options struct {
	// TTL applied to cached decisions. Zero means DefaultTTL.
	TTL time.Duration
	// Fallback is the policy applied on network/timeout failures. Empty means FailOpen.
	Fallback FallbackPolicy
	// PropagateErrors makes application-level evaluation errors surface to the
	// caller instead of degrading to a fallback result.
	PropagateErrors bool
	// MissPolicy governs synchronous cache-only lookups. Empty means MissStrict.
	MissPolicy MissPolicy
	// Owner is the session user. Results evaluated for a different user are
	// returned but never written to this session's cache.
	Owner string
	// Audit optionally receives denial and fallback decisions.
	Audit DecisionSink
	// Clock override for tests.
	Clock func() time.Time
}

// Evaluator orchestrates cache lookup, throttling, remote evaluation, and
// fallback. The cache and throttle are shared, session-scoped singletons
// injected by reference; the evaluator never creates its own.
type Evaluator struct {
	client   PolicyClient
	cache    *Cache
	throttle *Throttle

	ttl       time.Duration
	fallback  FallbackPolicy
	propagate bool
	miss      MissPolicy
	owner     string
	audit     DecisionSink

	now func() time.Time
	log *zap.Logger
}

// NewEvaluator constructs an evaluator over the shared cache and throttle.
func NewEvaluator(client PolicyClient, cache *Cache, throttle *Throttle, opts Options) (*Evaluator, error) {
	if client == nil {
		return nil, errors.New("access: policy client is required")
	}
	if cache == nil {
		return nil, errors.New("access: cache is required")
	}
	if throttle == nil {
		return nil, errors.New("access: throttle is required")
	}

	e := &Evaluator{
		client:    client,
		cache:     cache,
		throttle:  throttle,
		ttl:       opts.TTL,
		fallback:  opts.Fallback,
		propagate: opts.PropagateErrors,
		miss:      opts.MissPolicy,
		owner:     opts.Owner,
		audit:     opts.Audit,
		now:       opts.Clock,
		log:       logger.WithModule("permission-evaluator"),
	}
	if e.ttl <= 0 {
		e.ttl = DefaultTTL
	}
	if e.fallback == "" {
		e.fallback = FailOpen
	}
	if e.miss == "" {
		e.miss = MissStrict
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// CheckPermission evaluates a single permission for the supplied context.
// Every failure path except malformed input and (when configured) propagated
// evaluation errors terminates in a well-formed PermissionResult.
func (e *Evaluator) CheckPermission(ctx context.Context, permission Permission, pc PermissionContext) (PermissionResult, error) {
	if err := permission.Validate(); err != nil {
		return PermissionResult{}, err
	}

	if !pc.Authenticated() {
		return e.fallbackResult(pc, ReasonUnauthenticated), nil
	}

	cacheable := e.cacheable(pc)
	if cacheable {
		if result, ok := e.cache.Get(permission); ok {
			return result, nil
		}
	}

	release, err := e.throttle.Acquire(ctx)
	if err != nil {
		return e.resolveFailure(ctx, permission, pc, err)
	}

	decision, err := e.client.Evaluate(ctx, permission, pc)
	release()
	if err != nil {
		return e.resolveFailure(ctx, permission, pc, err)
	}

	result := PermissionResult{
		Allowed:     decision.Allowed,
		Reason:      decision.Reason,
		Context:     pc,
		EvaluatedAt: e.now(),
	}
	if cacheable {
		e.cache.Put(permission, result, e.ttl)
	}

	if result.Allowed {
		metrics.PermissionChecks.WithLabelValues(permission.String(), "allowed").Inc()
	} else {
		metrics.PermissionChecks.WithLabelValues(permission.String(), "denied").Inc()
		e.record(ctx, permission, result)
	}
	return result, nil
}

// CheckMultiplePermissions evaluates a set of permissions, using the batched
// backend call when available and degrading to sequential evaluation
// otherwise. A failure on one permission never aborts the others.
func (e *Evaluator) CheckMultiplePermissions(ctx context.Context, permissions []Permission, pc PermissionContext) (map[Permission]PermissionResult, error) {
	for _, permission := range permissions {
		if err := permission.Validate(); err != nil {
			return nil, err
		}
	}

	results := make(map[Permission]PermissionResult, len(permissions))

	if !pc.Authenticated() {
		for _, permission := range permissions {
			results[permission] = e.fallbackResult(pc, ReasonUnauthenticated)
		}
		return results, nil
	}

	cacheable := e.cacheable(pc)
	var missing []Permission
	for _, permission := range permissions {
		if _, seen := results[permission]; seen {
			continue
		}
		if cacheable {
			if result, ok := e.cache.Get(permission); ok {
				results[permission] = result
				continue
			}
		}
		missing = append(missing, permission)
	}

	if batch, ok := e.client.(BatchPolicyClient); ok && len(missing) > 1 {
		missing = e.evaluateBatch(ctx, batch, missing, pc, cacheable, results)
	}

	for _, permission := range missing {
		result, err := e.CheckPermission(ctx, permission, pc)
		if err != nil {
			// Propagated evaluation errors degrade to a per-entry fallback so
			// the remaining permissions still resolve.
			result = e.fallbackResult(pc, err.Error())
		}
		results[permission] = result
	}

	return results, nil
}

// evaluateBatch resolves as many of the missing permissions as the batched
// call returns, and hands back the remainder for sequential evaluation. Any
// batch-level error leaves the whole set for the sequential path.
func (e *Evaluator) evaluateBatch(ctx context.Context, client BatchPolicyClient, missing []Permission, pc PermissionContext, cacheable bool, results map[Permission]PermissionResult) []Permission {
	release, err := e.throttle.Acquire(ctx)
	if err != nil {
		return missing
	}
	decisions, err := client.EvaluateBatch(ctx, missing, pc)
	release()
	if err != nil {
		e.log.Debug("batched evaluation unavailable, degrading to sequential calls", zap.Error(err))
		return missing
	}

	var rest []Permission
	now := e.now()
	for _, permission := range missing {
		decision, ok := decisions[permission]
		if !ok {
			rest = append(rest, permission)
			continue
		}
		result := PermissionResult{
			Allowed:     decision.Allowed,
			Reason:      decision.Reason,
			Context:     pc,
			EvaluatedAt: now,
		}
		if cacheable {
			e.cache.Put(permission, result, e.ttl)
		}
		results[permission] = result
	}
	return rest
}

// HasPermission answers synchronously from the cache alone. Under the strict
// miss policy, absent or expired entries answer false; the heuristic policy
// additionally admits elevated roles for read-only actions.
func (e *Evaluator) HasPermission(permission Permission, role string) bool {
	if permission.Validate() != nil {
		return false
	}

	if result, ok := e.cache.Get(permission); ok {
		return result.Allowed
	}

	if e.miss == MissHeuristic && elevatedRole(role) && readOnlyAction(permission.Action()) {
		return true
	}
	return false
}

// PutFallback records a fallback decision in the cache with the supplied TTL.
// Used by the preloader so a failed warm-up entry still has a value while a
// prompt retry stays possible.
func (e *Evaluator) PutFallback(permission Permission, pc PermissionContext, reason string, ttl time.Duration) PermissionResult {
	result := e.fallbackResult(pc, reason)
	if e.cacheable(pc) {
		e.cache.Put(permission, result, ttl)
	}
	return result
}

// resolveFailure converts an evaluation failure into the configured
// fallback result or, for non-transient errors with propagation enabled, into
// an error. Fallback results are never cached so the next call retries.
func (e *Evaluator) resolveFailure(ctx context.Context, permission Permission, pc PermissionContext, err error) (PermissionResult, error) {
	if IsTransient(err) {
		e.log.Warn("remote evaluation unavailable, applying fallback policy",
			zap.String("permission", permission.String()),
			zap.String("policy", string(e.fallback)),
			zap.Error(err))
		metrics.PermissionChecks.WithLabelValues(permission.String(), "fallback").Inc()
		result := e.fallbackResult(pc, ReasonNetworkFallback)
		e.record(ctx, permission, result)
		return result, nil
	}

	if e.propagate {
		metrics.PermissionChecks.WithLabelValues(permission.String(), "error").Inc()
		return PermissionResult{}, fmt.Errorf("%w: %v", ErrEvaluation, err)
	}

	e.log.Error("evaluation error degraded to fallback result",
		zap.String("permission", permission.String()),
		zap.Error(err))
	metrics.PermissionChecks.WithLabelValues(permission.String(), "error").Inc()
	result := e.fallbackResult(pc, err.Error())
	e.record(ctx, permission, result)
	return result, nil
}

func (e *Evaluator) fallbackResult(pc PermissionContext, reason string) PermissionResult {
	return PermissionResult{
		Allowed:     e.fallback.Allowed(),
		Reason:      reason,
		Context:     pc,
		EvaluatedAt: e.now(),
	}
}

// cacheable reports whether results for this context may enter the session
// cache. Results computed for another user (for example, an in-flight check
// that outlived an impersonation switch) are discarded instead.
func (e *Evaluator) cacheable(pc PermissionContext) bool {
	return e.owner == "" || pc.UserID == e.owner
}

func (e *Evaluator) record(ctx context.Context, permission Permission, result PermissionResult) {
	if e.audit == nil {
		return
	}
	e.audit.Record(ctx, permission, result)
}

func elevatedRole(role string) bool {
	return role == RoleAdmin || role == RoleSuperAdmin
}

func readOnlyAction(action string) bool {
	switch action {
	case "view", "read", "list":
		return true
	}
	return false
}
