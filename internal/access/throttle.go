package access

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/tallyhr/accesscore/pkg/metrics"
)

const (
	// DefaultThrottleLimit bounds concurrent in-flight remote evaluations.
	DefaultThrottleLimit = 3
	// DefaultThrottleWait bounds how long a caller queues for a slot.
	DefaultThrottleWait = 10 * time.Second
)

// Throttle bounds concurrent remote evaluations. Waiting callers queue
// cooperatively on the semaphore with a bounded wait; exceeding the wait is a
// transient failure so the evaluator can apply its fallback policy. One
// throttle is shared by every evaluator and guard in a session.
type Throttle struct {
	sem     *semaphore.Weighted
	maxWait time.Duration
}

// NewThrottle constructs a throttle admitting up to limit concurrent holders.
func NewThrottle(limit int64, maxWait time.Duration) *Throttle {
	if limit <= 0 {
		limit = DefaultThrottleLimit
	}
	if maxWait <= 0 {
		maxWait = DefaultThrottleWait
	}
	return &Throttle{
		sem:     semaphore.NewWeighted(limit),
		maxWait: maxWait,
	}
}

// Acquire obtains an evaluation slot, queuing up to the bounded wait. The
// returned release function must be called exactly once.
func (t *Throttle) Acquire(ctx context.Context) (release func(), err error) {
	waitCtx, cancel := context.WithTimeout(ctx, t.maxWait)
	defer cancel()

	start := time.Now()
	if err := t.sem.Acquire(waitCtx, 1); err != nil {
		if waitCtx.Err() != nil && ctx.Err() == nil {
			return nil, Transient(fmt.Errorf("throttle: wait for slot: %w", err))
		}
		return nil, fmt.Errorf("throttle: wait for slot: %w", err)
	}

	metrics.ThrottleWait.Observe(time.Since(start).Seconds())
	return func() { t.sem.Release(1) }, nil
}

// TryAcquire obtains a slot without waiting.
func (t *Throttle) TryAcquire() (release func(), ok bool) {
	if !t.sem.TryAcquire(1) {
		return nil, false
	}
	return func() { t.sem.Release(1) }, true
}
