package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHookedWithoutHookDefersToStore(t *testing.T) {
	ctx := context.Background()
	h := NewHooked(NewInMemory(ctx, WithExpiryCheck(0)))
	defer h.Close()
	require.NoError(t, h.Set(ctx, "k", "v", time.Minute))
	res, err := h.Get(ctx, "k")
	assert.NoError(t, err)
	assert.Equal(t, Fresh, res.State)
	assert.Equal(t, "v", res.Value)
}

func TestHookedServesStaleRecord(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	store := NewInMemory(ctx, WithExpiryCheck(0), WithClock(clock.Now))
	h := NewHooked(store, WithClock(clock.Now))
	require.NoError(t, h.Set(ctx, "feed", "old", time.Minute))
	clock.Advance(time.Hour)

	calls := 0
	stop := h.OnPreRead("feed", func(ctx context.Context, key string) Override {
		calls++
		rec, ok, err := h.GetRaw(ctx, key)
		if err != nil || !ok {
			return NoOverride
		}
		return Serve(rec)
	})

	res, err := h.Get(ctx, "feed")
	assert.NoError(t, err)
	assert.Equal(t, Stale, res.State)
	assert.Equal(t, "old", res.Value)
	assert.Equal(t, 1, calls)

	stop()
	res, err = h.Get(ctx, "feed")
	assert.NoError(t, err)
	assert.Equal(t, Absent, res.State, "without the hook the store purges the expired record")
	assert.Equal(t, 1, calls)
}

func TestHookedNoOverride(t *testing.T) {
	ctx := context.Background()
	h := NewHooked(NewInMemory(ctx, WithExpiryCheck(0)))
	h.OnPreRead("k", func(context.Context, string) Override { return NoOverride })
	res, err := h.Get(ctx, "k")
	assert.NoError(t, err)
	assert.Equal(t, Absent, res.State)
}

func TestHookedStaleUnregisterIsNoop(t *testing.T) {
	ctx := context.Background()
	h := NewHooked(NewInMemory(ctx, WithExpiryCheck(0)))
	first := h.OnPreRead("k", func(context.Context, string) Override { return Serve(Record{Value: 1}) })
	h.OnPreRead("k", func(context.Context, string) Override { return Serve(Record{Value: 2}) })
	first()

	res, err := h.Get(ctx, "k")
	assert.NoError(t, err)
	assert.Equal(t, 2, res.Value)
	assert.Equal(t, Fresh, res.State)
}
