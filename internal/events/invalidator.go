package events

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tallyhr/accesscore/internal/querycache"
	"github.com/tallyhr/accesscore/pkg/logger"
	"github.com/tallyhr/accesscore/pkg/metrics"
)

// Invalidator evicts derived-query keys from the external query cache when a
// domain event fires. It is best-effort by design: invalidation must never
// block or fail the mutation flow that triggered it.
type Invalidator struct {
	registry *Registry
	store    querycache.Store
	log      *zap.Logger
}

// NewInvalidator constructs an invalidator over the registry and store.
func NewInvalidator(registry *Registry, store querycache.Store) (*Invalidator, error) {
	if registry == nil {
		return nil, errors.New("events: registry is required")
	}
	if store == nil {
		return nil, errors.New("events: store is required")
	}
	return &Invalidator{
		registry: registry,
		store:    store,
		log:      logger.WithModule("event-invalidator"),
	}, nil
}

// InvalidateByEvent resolves the event's keys and evicts them concurrently.
// Unknown events warn and return nil. A key failing to evict is logged and
// does not prevent the remaining keys from completing; the call reports
// success for the keys that succeeded.
func (i *Invalidator) InvalidateByEvent(ctx context.Context, event string, ectx Context) error {
	keys, ok := i.registry.Resolve(event, ectx)
	if !ok {
		i.log.Warn("no invalidation rule for event", zap.String("event", event))
		metrics.Invalidations.WithLabelValues("event", "unknown").Inc()
		return nil
	}
	if len(keys) == 0 {
		return nil
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		combined error
	)

	for _, key := range keys {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := i.store.Invalidate(ctx, key); err != nil {
				i.log.Warn("query key eviction failed",
					zap.String("event", event),
					zap.String("key", key.String()),
					zap.Error(err))
				mu.Lock()
				combined = multierr.Append(combined, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if combined != nil {
		metrics.Invalidations.WithLabelValues("event", "partial").Inc()
		i.log.Warn("event invalidation completed with failures",
			zap.String("event", event),
			zap.Int("keys", len(keys)),
			zap.Int("failed", len(multierr.Errors(combined))))
		return nil
	}

	metrics.Invalidations.WithLabelValues("event", "success").Inc()
	i.log.Debug("event invalidation complete",
		zap.String("event", event),
		zap.Int("keys", len(keys)))
	return nil
}
