package realtime

import (
	"context"
	"sync"

	"github.com/tallyhr/accesscore/internal/access"
)

type subscriber struct {
	onChange func(access.InvalidationEvent)
	onError  func(error)
}

// LocalFeed is an in-process change feed. It backs tests and single-node
// deployments, and carries the dispatch bookkeeping the websocket feed reuses.
type LocalFeed struct {
	mu     sync.RWMutex
	subs   map[string]map[int]subscriber
	nextID int
}

// NewLocalFeed constructs an empty feed.
func NewLocalFeed() *LocalFeed {
	return &LocalFeed{subs: make(map[string]map[int]subscriber)}
}

// Subscribe registers callbacks for the user's invalidation events. The
// returned release function detaches the subscription.
func (f *LocalFeed) Subscribe(_ context.Context, userID string, onChange func(access.InvalidationEvent), onError func(error)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.subs[userID] == nil {
		f.subs[userID] = make(map[int]subscriber)
	}
	id := f.nextID
	f.nextID++
	f.subs[userID][id] = subscriber{onChange: onChange, onError: onError}

	var once sync.Once
	release := func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.subs[userID], id)
			if len(f.subs[userID]) == 0 {
				delete(f.subs, userID)
			}
		})
	}
	return release, nil
}

// Publish delivers the event to every subscriber of the event's user.
func (f *LocalFeed) Publish(event access.InvalidationEvent) {
	f.mu.RLock()
	targets := make([]subscriber, 0, len(f.subs[event.UserID]))
	for _, sub := range f.subs[event.UserID] {
		targets = append(targets, sub)
	}
	f.mu.RUnlock()

	for _, sub := range targets {
		if sub.onChange != nil {
			sub.onChange(event)
		}
	}
}

// PublishError surfaces a feed error to every subscriber.
func (f *LocalFeed) PublishError(err error) {
	if err == nil {
		return
	}

	f.mu.RLock()
	var targets []subscriber
	for _, byID := range f.subs {
		for _, sub := range byID {
			targets = append(targets, sub)
		}
	}
	f.mu.RUnlock()

	for _, sub := range targets {
		if sub.onError != nil {
			sub.onError(err)
		}
	}
}

// SubscriberCount reports the live subscriptions for a user. For tests.
func (f *LocalFeed) SubscriberCount(userID string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs[userID])
}
