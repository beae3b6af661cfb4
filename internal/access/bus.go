package access

import (
	"context"

	"go.uber.org/zap"

	"github.com/tallyhr/accesscore/pkg/logger"
	"github.com/tallyhr/accesscore/pkg/metrics"
)

// Bus connects a change feed to the session cache, evicting entries as
// invalidation events arrive. Feed errors are surfaced through Errors without
// detaching the subscription; the transport owns reconnection.
type Bus struct {
	feed  ChangeFeed
	cache *Cache
	errs  chan error
	log   *zap.Logger
}

// NewBus constructs a bus over the session cache.
func NewBus(feed ChangeFeed, cache *Cache) *Bus {
	return &Bus{
		feed:  feed,
		cache: cache,
		errs:  make(chan error, 16),
		log:   logger.WithModule("invalidation-bus"),
	}
}

// Attach subscribes to change events for the user and returns the release
// function, which must be called on session teardown.
func (b *Bus) Attach(ctx context.Context, userID string) (func(), error) {
	return b.feed.Subscribe(ctx, userID, b.onChange(userID), b.onError)
}

// Errors exposes feed errors to the session owner.
func (b *Bus) Errors() <-chan error { return b.errs }

func (b *Bus) onChange(userID string) func(InvalidationEvent) {
	return func(event InvalidationEvent) {
		if event.UserID != userID {
			return
		}

		if event.Permission != "" {
			b.cache.Invalidate(event.Permission)
			metrics.Invalidations.WithLabelValues("bus", "targeted").Inc()
			b.log.Debug("evicted cached decision",
				zap.String("user_id", userID),
				zap.String("permission", event.Permission.String()))
			return
		}

		// No permission named: a role or global change, clear everything.
		b.cache.Invalidate()
		metrics.Invalidations.WithLabelValues("bus", "full").Inc()
		b.log.Info("cleared permission cache after role-level change",
			zap.String("user_id", userID))
	}
}

func (b *Bus) onError(err error) {
	if err == nil {
		return
	}
	b.log.Warn("change feed error", zap.Error(err))
	select {
	case b.errs <- err:
	default:
		// Error channel full; the log line above is the record.
	}
}
