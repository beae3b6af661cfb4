package access

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCachePutAndGet(t *testing.T) {
	clock := newFakeClock()
	cache := NewCache(WithCacheClock(clock.Now))

	result := PermissionResult{Allowed: true, Context: testContext("u1"), EvaluatedAt: clock.Now()}
	cache.Put("payroll.view", result, time.Minute)

	got, ok := cache.Get("payroll.view")
	require.True(t, ok)
	require.True(t, got.Allowed)
	require.Equal(t, 1, cache.Len())
}

func TestCacheExpiresAfterTTL(t *testing.T) {
	clock := newFakeClock()
	cache := NewCache(WithCacheClock(clock.Now))

	cache.Put("payroll.view", PermissionResult{Allowed: true}, time.Minute)

	clock.Advance(59 * time.Second)
	_, ok := cache.Get("payroll.view")
	require.True(t, ok)

	clock.Advance(2 * time.Second)
	_, ok = cache.Get("payroll.view")
	require.False(t, ok)
	require.Zero(t, cache.Len(), "expired entry should be swept on read")
}

func TestCacheDefaultTTLApplied(t *testing.T) {
	clock := newFakeClock()
	cache := NewCache(WithCacheClock(clock.Now))

	cache.Put("employee.view", PermissionResult{Allowed: true}, 0)

	clock.Advance(DefaultTTL - time.Second)
	_, ok := cache.Get("employee.view")
	require.True(t, ok)

	clock.Advance(2 * time.Second)
	_, ok = cache.Get("employee.view")
	require.False(t, ok)
}

func TestCacheGraceServesStale(t *testing.T) {
	clock := newFakeClock()
	cache := NewCache(WithCacheClock(clock.Now), WithGrace(5*time.Minute))

	cache.Put("report.view", PermissionResult{Allowed: true}, time.Minute)

	clock.Advance(3 * time.Minute)
	got, ok := cache.Get("report.view")
	require.True(t, ok, "entry inside the grace window should still be served")
	require.True(t, got.Allowed)

	clock.Advance(4 * time.Minute)
	_, ok = cache.Get("report.view")
	require.False(t, ok, "entry past the grace bound is gone")
}

func TestCacheWithoutGraceNeverServesStale(t *testing.T) {
	clock := newFakeClock()
	cache := NewCache(WithCacheClock(clock.Now))

	cache.Put("report.view", PermissionResult{Allowed: true}, time.Minute)
	clock.Advance(time.Minute + time.Second)

	_, ok := cache.Get("report.view")
	require.False(t, ok)
}

func TestCacheInvalidateTargeted(t *testing.T) {
	cache := NewCache()
	cache.Put("payroll.view", PermissionResult{Allowed: true}, time.Minute)
	cache.Put("employee.view", PermissionResult{Allowed: true}, time.Minute)

	cache.Invalidate("payroll.view")

	_, ok := cache.Get("payroll.view")
	require.False(t, ok)
	_, ok = cache.Get("employee.view")
	require.True(t, ok)
}

func TestCacheInvalidateAll(t *testing.T) {
	cache := NewCache()
	cache.Put("payroll.view", PermissionResult{Allowed: true}, time.Minute)
	cache.Put("employee.view", PermissionResult{Allowed: true}, time.Minute)

	cache.Invalidate()

	require.Zero(t, cache.Len())
}

func TestCacheLastWriteWins(t *testing.T) {
	cache := NewCache()
	cache.Put("payroll.view", PermissionResult{Allowed: true}, time.Minute)
	cache.Put("payroll.view", PermissionResult{Allowed: false, Reason: "revoked"}, time.Minute)

	got, ok := cache.Get("payroll.view")
	require.True(t, ok)
	require.False(t, got.Allowed)
	require.Equal(t, "revoked", got.Reason)
}
