package access

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tallyhr/accesscore/pkg/logger"
	"github.com/tallyhr/accesscore/pkg/metrics"
)

const (
	// DefaultPreloadBatchSize is how many permissions each warm-up batch evaluates.
	DefaultPreloadBatchSize = 3
	// DefaultFallbackTTL is the short lifetime given to fallback entries written
	// for failed preloads, so the session has a value while retrying promptly.
	DefaultFallbackTTL = 30 * time.Second
)

// DefaultCriticalPermissions is the curated warm-up set evaluated at session
// start. They cover the first screens a user lands on.
var DefaultCriticalPermissions = []Permission{
	"dashboard.view",
	"employee.view",
	"department.view",
	"payroll.view",
	"report.view",
	"system.settings",
}

// Backoff produces the pause before the given batch, parameterized by the
// batch index rather than wall-clock guesses.
type Backoff func(batch int) time.Duration

// ExponentialBackoff doubles the base delay per batch up to the cap.
func ExponentialBackoff(base, cap time.Duration) Backoff {
	return func(batch int) time.Duration {
		if batch <= 0 {
			return 0
		}
		delay := base << (batch - 1)
		if delay > cap || delay <= 0 {
			return cap
		}
		return delay
	}
}

// Preloader warms the session cache with the critical permission set exactly
// once per session. Re-entrant calls before completion are ignored; a new
// session builds a new preloader.
type Preloader struct {
	evaluator   *Evaluator
	permissions []Permission
	batchSize   int
	backoff     Backoff
	fallbackTTL time.Duration

	started atomic.Bool
	done    chan struct{}
	log     *zap.Logger
}

// PreloaderOption customises preloader construction.
type PreloaderOption func(*Preloader)

// WithPermissions overrides the curated critical permission set.
func WithPermissions(permissions []Permission) PreloaderOption {
	return func(p *Preloader) {
		if len(permissions) > 0 {
			p.permissions = permissions
		}
	}
}

// WithBatchSize overrides the warm-up batch size.
func WithBatchSize(size int) PreloaderOption {
	return func(p *Preloader) {
		if size > 0 {
			p.batchSize = size
		}
	}
}

// WithBackoff overrides the inter-batch pacing policy.
func WithBackoff(b Backoff) PreloaderOption {
	return func(p *Preloader) {
		if b != nil {
			p.backoff = b
		}
	}
}

// WithFallbackTTL overrides the lifetime of fallback entries for failed preloads.
func WithFallbackTTL(ttl time.Duration) PreloaderOption {
	return func(p *Preloader) {
		if ttl > 0 {
			p.fallbackTTL = ttl
		}
	}
}

// NewPreloader constructs a preloader bound to the session's evaluator.
func NewPreloader(evaluator *Evaluator, opts ...PreloaderOption) *Preloader {
	p := &Preloader{
		evaluator:   evaluator,
		permissions: DefaultCriticalPermissions,
		batchSize:   DefaultPreloadBatchSize,
		backoff:     ExponentialBackoff(50*time.Millisecond, time.Second),
		fallbackTTL: DefaultFallbackTTL,
		done:        make(chan struct{}),
		log:         logger.WithModule("permission-preloader"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Warm evaluates the critical permission set in small paced batches.
// Individual failures are logged and recorded as short-lived fallback entries;
// the warm-up never aborts partway. Only the first call does any work.
func (p *Preloader) Warm(ctx context.Context, pc PermissionContext) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	defer close(p.done)

	start := time.Now()
	warmed, failed := 0, 0

	for batch := 0; batch*p.batchSize < len(p.permissions); batch++ {
		if err := p.pause(ctx, p.backoff(batch)); err != nil {
			p.log.Warn("preload interrupted", zap.Error(err))
			return
		}

		lo := batch * p.batchSize
		hi := min(lo+p.batchSize, len(p.permissions))

		if _, err := p.evaluator.CheckMultiplePermissions(ctx, p.permissions[lo:hi], pc); err != nil {
			// Malformed entries in the curated list are a programming error;
			// log and fall through so the batch still gets fallback entries.
			p.log.Error("preload batch rejected", zap.Error(err))
		}

		// The evaluator never caches fallback results, so any permission still
		// absent from the cache after the batch failed to warm, whatever the
		// failure class. Record it as a short-lived fallback entry.
		for _, permission := range p.permissions[lo:hi] {
			if _, cached := p.evaluator.cache.Get(permission); cached {
				warmed++
				continue
			}
			p.evaluator.PutFallback(permission, pc, ReasonPreloadFallback, p.fallbackTTL)
			failed++
		}
	}

	metrics.PreloadDuration.Observe(time.Since(start).Seconds())
	p.log.Info("session permissions preloaded",
		zap.Int("warmed", warmed),
		zap.Int("failed", failed),
		zap.String("user_id", pc.UserID))
}

// Started reports whether warm-up has begun for this session.
func (p *Preloader) Started() bool { return p.started.Load() }

// Done returns a channel closed when warm-up finishes. Primarily for tests.
func (p *Preloader) Done() <-chan struct{} { return p.done }

func (p *Preloader) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
