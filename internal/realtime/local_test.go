package realtime

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tallyhr/accesscore/internal/access"
)

func TestLocalFeedPublishTargetsUser(t *testing.T) {
	feed := NewLocalFeed()
	ctx := context.Background()

	var got []access.InvalidationEvent
	release, err := feed.Subscribe(ctx, "u1", func(ev access.InvalidationEvent) {
		got = append(got, ev)
	}, nil)
	require.NoError(t, err)
	t.Cleanup(release)

	var otherHit bool
	releaseOther, err := feed.Subscribe(ctx, "u2", func(access.InvalidationEvent) {
		otherHit = true
	}, nil)
	require.NoError(t, err)
	t.Cleanup(releaseOther)

	feed.Publish(access.InvalidationEvent{UserID: "u1", Permission: "payroll.read"})

	require.Len(t, got, 1)
	require.Equal(t, "payroll.read", got[0].Permission)
	require.False(t, otherHit, "events are only delivered to their user's subscribers")
}

func TestLocalFeedMultipleSubscribersPerUser(t *testing.T) {
	feed := NewLocalFeed()
	ctx := context.Background()

	var first, second int
	releaseA, err := feed.Subscribe(ctx, "u1", func(access.InvalidationEvent) { first++ }, nil)
	require.NoError(t, err)
	releaseB, err := feed.Subscribe(ctx, "u1", func(access.InvalidationEvent) { second++ }, nil)
	require.NoError(t, err)
	t.Cleanup(releaseA)
	t.Cleanup(releaseB)

	require.Equal(t, 2, feed.SubscriberCount("u1"))

	feed.Publish(access.InvalidationEvent{UserID: "u1"})
	require.Equal(t, 1, first)
	require.Equal(t, 1, second)
}

func TestLocalFeedReleaseIsIdempotent(t *testing.T) {
	feed := NewLocalFeed()

	var hits int
	release, err := feed.Subscribe(context.Background(), "u1", func(access.InvalidationEvent) { hits++ }, nil)
	require.NoError(t, err)

	release()
	release()

	require.Equal(t, 0, feed.SubscriberCount("u1"))

	feed.Publish(access.InvalidationEvent{UserID: "u1"})
	require.Equal(t, 0, hits)
}

func TestLocalFeedPublishErrorFansOut(t *testing.T) {
	feed := NewLocalFeed()
	ctx := context.Background()

	var seen []error
	release, err := feed.Subscribe(ctx, "u1", nil, func(err error) { seen = append(seen, err) })
	require.NoError(t, err)
	t.Cleanup(release)

	releaseOther, err := feed.Subscribe(ctx, "u2", nil, func(err error) { seen = append(seen, err) })
	require.NoError(t, err)
	t.Cleanup(releaseOther)

	feedErr := errors.New("backplane down")
	feed.PublishError(feedErr)

	require.Len(t, seen, 2, "feed errors reach every subscriber regardless of user")
	require.ErrorIs(t, seen[0], feedErr)

	feed.PublishError(nil)
	require.Len(t, seen, 2, "nil errors are dropped")
}

func TestLocalFeedPublishWithoutSubscribers(t *testing.T) {
	feed := NewLocalFeed()

	feed.Publish(access.InvalidationEvent{UserID: "nobody"})
	feed.PublishError(errors.New("ignored"))
}
