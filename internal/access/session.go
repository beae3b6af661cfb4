package access

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/tallyhr/accesscore/pkg/metrics"
)

// SessionConfig carries the tunables for one authenticated session's access
// stack.
type SessionConfig struct {
	TTL              time.Duration
	Grace            time.Duration
	Fallback         FallbackPolicy
	PropagateErrors  bool
	MissPolicy       MissPolicy
	ThrottleLimit    int64
	ThrottleWait     time.Duration
	Preload          []Permission
	PreloadBatchSize int
	Audit            DecisionSink
	Clock            func() time.Time
}

// Session owns the cache, throttle, evaluator, guard and preloader for one
// authenticated user. All of them are singletons within the session: every
// caller observes the same cache state, and a permission learned once is
// visible to every subsequent caller until it expires or is invalidated.
type Session struct {
	identity  Identity
	cache     *Cache
	throttle  *Throttle
	evaluator *Evaluator
	guard     *Guard
	preloader *Preloader
	bus       *Bus

	now     func() time.Time
	release func()

	mu     sync.Mutex
	closed bool
}

// NewSession builds the access stack for the identity and, when a change feed
// is supplied, attaches the invalidation bus to it.
func NewSession(ctx context.Context, identity Identity, client PolicyClient, feed ChangeFeed, directory Directory, cfg SessionConfig) (*Session, error) {
	if identity.UserID == "" {
		return nil, errors.New("access: session requires an authenticated user")
	}

	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	cache := NewCache(WithGrace(cfg.Grace), WithCacheClock(now))
	throttle := NewThrottle(cfg.ThrottleLimit, cfg.ThrottleWait)

	evaluator, err := NewEvaluator(client, cache, throttle, Options{
		TTL:             cfg.TTL,
		Fallback:        cfg.Fallback,
		PropagateErrors: cfg.PropagateErrors,
		MissPolicy:      cfg.MissPolicy,
		Owner:           identity.UserID,
		Audit:           cfg.Audit,
		Clock:           now,
	})
	if err != nil {
		return nil, err
	}

	guard, err := NewGuard(evaluator, DefaultRuleSet(directory), directory, GuardOptions{
		PropagateErrors: cfg.PropagateErrors,
	})
	if err != nil {
		return nil, err
	}

	var preloadOpts []PreloaderOption
	if len(cfg.Preload) > 0 {
		preloadOpts = append(preloadOpts, WithPermissions(cfg.Preload))
	}
	if cfg.PreloadBatchSize > 0 {
		preloadOpts = append(preloadOpts, WithBatchSize(cfg.PreloadBatchSize))
	}

	s := &Session{
		identity:  identity,
		cache:     cache,
		throttle:  throttle,
		evaluator: evaluator,
		guard:     guard,
		preloader: NewPreloader(evaluator, preloadOpts...),
		now:       now,
	}

	if feed != nil {
		s.bus = NewBus(feed, cache)
		release, err := s.bus.Attach(ctx, identity.UserID)
		if err != nil {
			return nil, err
		}
		s.release = release
	}

	metrics.ActiveSessions.Inc()
	return s, nil
}

// Identity returns the principal the session was built for.
func (s *Session) Identity() Identity { return s.identity }

// Context builds a fresh immutable evaluation snapshot for this session.
func (s *Session) Context() PermissionContext {
	return PermissionContext{
		UserID:             s.identity.UserID,
		Role:               s.identity.Role,
		DepartmentID:       s.identity.DepartmentID,
		ManagedDepartments: slices.Clone(s.identity.ManagedDepartments),
		Timestamp:          s.now(),
	}
}

// CheckPermission evaluates one permission for this session's user.
func (s *Session) CheckPermission(ctx context.Context, permission Permission) (PermissionResult, error) {
	if err := s.ensureOpen(); err != nil {
		return PermissionResult{}, err
	}
	return s.evaluator.CheckPermission(ctx, permission, s.Context())
}

// CheckMultiplePermissions evaluates a set of permissions for this session's user.
func (s *Session) CheckMultiplePermissions(ctx context.Context, permissions []Permission) (map[Permission]PermissionResult, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	return s.evaluator.CheckMultiplePermissions(ctx, permissions, s.Context())
}

// HasPermission answers synchronously from the cache alone.
func (s *Session) HasPermission(permission Permission) bool {
	if s.ensureOpen() != nil {
		return false
	}
	return s.evaluator.HasPermission(permission, s.identity.Role)
}

// CheckResourceAccess runs the scoped resource check for this session's user.
func (s *Session) CheckResourceAccess(ctx context.Context, action string, resourceType ResourceType, resourceID string, scope Scope) (PermissionResult, error) {
	if err := s.ensureOpen(); err != nil {
		return PermissionResult{}, err
	}
	return s.guard.CheckResourceAccess(ctx, action, resourceType, resourceID, scope, s.Context())
}

// FilterAccessible filters resource refs down to those the user may act on.
func (s *Session) FilterAccessible(ctx context.Context, action string, scope Scope, refs []ResourceRef) ([]ResourceRef, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	return s.guard.FilterAccessible(ctx, action, scope, refs, s.Context())
}

// AccessibleIDs filters resource IDs of one type down to those the user may act on.
func (s *Session) AccessibleIDs(ctx context.Context, action string, resourceType ResourceType, ids []string, scope Scope) ([]string, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	return s.guard.AccessibleIDs(ctx, action, resourceType, ids, scope, s.Context())
}

// Warm preloads the critical permission set. Safe to call repeatedly; only the
// first call per session does any work.
func (s *Session) Warm(ctx context.Context) {
	if s.ensureOpen() != nil {
		return
	}
	s.preloader.Warm(ctx, s.Context())
}

// BusErrors exposes change-feed errors, when a feed is attached.
func (s *Session) BusErrors() <-chan error {
	if s.bus == nil {
		return nil
	}
	return s.bus.Errors()
}

// Cache exposes the session cache for invalidation-side collaborators.
func (s *Session) Cache() *Cache { return s.cache }

// Close releases the feed subscription and clears the cache. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true

	if s.release != nil {
		s.release()
	}
	s.cache.Invalidate()
	metrics.ActiveSessions.Dec()
}

func (s *Session) ensureOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	return nil
}
