package querycache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKeyString(t *testing.T) {
	require.Equal(t, "payroll:employee:e1", NewKey("payroll", "employee", "e1").String())
	require.Equal(t, "employees", NewKey("employees").String())
}

func TestKeyHasPrefix(t *testing.T) {
	key := NewKey("payroll", "employee", "e1")

	require.True(t, key.HasPrefix(NewKey("payroll")))
	require.True(t, key.HasPrefix(NewKey("payroll", "employee")))
	require.True(t, key.HasPrefix(key))

	require.False(t, key.HasPrefix(NewKey("payroll", "period")))
	require.False(t, key.HasPrefix(NewKey("payroll", "employee", "e1", "extra")))
}

func TestMemoryStoreSetGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, NewKey("employees", "e1"), []byte(`{"name":"x"}`), time.Minute))

	value, ok, err := store.Get(ctx, NewKey("employees", "e1"))
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"name":"x"}`, string(value))

	_, ok, err = store.Get(ctx, NewKey("employees", "e2"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	store := NewMemoryStore()
	current := time.Now()
	store.now = func() time.Time { return current }
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, NewKey("employees"), []byte("v"), time.Minute))

	current = current.Add(61 * time.Second)
	_, ok, err := store.Get(ctx, NewKey("employees"))
	require.NoError(t, err)
	require.False(t, ok)
	require.Zero(t, store.Len(), "expired entry is swept on read")
}

func TestMemoryStoreZeroTTLPersists(t *testing.T) {
	store := NewMemoryStore()
	current := time.Now()
	store.now = func() time.Time { return current }
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, NewKey("employees"), []byte("v"), 0))

	current = current.Add(24 * time.Hour)
	_, ok, err := store.Get(ctx, NewKey("employees"))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMemoryStoreHierarchicalInvalidation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, NewKey("payroll"), []byte("root"), 0))
	require.NoError(t, store.Set(ctx, NewKey("payroll", "employee", "e1"), []byte("a"), 0))
	require.NoError(t, store.Set(ctx, NewKey("payroll", "period", "2026-02"), []byte("b"), 0))
	require.NoError(t, store.Set(ctx, NewKey("reports", "r1"), []byte("c"), 0))

	require.NoError(t, store.Invalidate(ctx, NewKey("payroll")))

	for _, evicted := range []Key{
		NewKey("payroll"),
		NewKey("payroll", "employee", "e1"),
		NewKey("payroll", "period", "2026-02"),
	} {
		_, ok, err := store.Get(ctx, evicted)
		require.NoError(t, err)
		require.False(t, ok, "key %s should be evicted", evicted)
	}

	_, ok, err := store.Get(ctx, NewKey("reports", "r1"))
	require.NoError(t, err)
	require.True(t, ok, "unrelated hierarchy survives")
}

func TestMemoryStoreInvalidateDoesNotMatchSegmentPrefixes(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, NewKey("pay"), []byte("a"), 0))
	require.NoError(t, store.Set(ctx, NewKey("payroll", "e1"), []byte("b"), 0))

	require.NoError(t, store.Invalidate(ctx, NewKey("pay")))

	_, ok, err := store.Get(ctx, NewKey("payroll", "e1"))
	require.NoError(t, err)
	require.True(t, ok, "eviction is per segment, not per string prefix")
}

func TestMemoryStoreValueIsolation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	original := []byte("abc")
	require.NoError(t, store.Set(ctx, NewKey("k"), original, 0))
	original[0] = 'X'

	value, ok, err := store.Get(ctx, NewKey("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "abc", string(value))

	value[0] = 'Y'
	again, _, err := store.Get(ctx, NewKey("k"))
	require.NoError(t, err)
	require.Equal(t, "abc", string(again))
}
