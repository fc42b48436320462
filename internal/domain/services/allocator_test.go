package services

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/athebyme/gomarket-platform/marketplace-service/internal/adapters/storage/memory"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedCodes(store, 3)
	alloc := NewAllocator(store, nopLogger(), nil)

	first, err := alloc.Allocate(ctx, "p-1")
	require.NoError(t, err)
	second, err := alloc.Allocate(ctx, "p-1")
	require.NoError(t, err)

	assert.Equal(t, first.Code, second.Code)
	assert.Equal(t, "p-1", second.Owner())

	stats, err := alloc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Claimed)
	assert.Equal(t, 2, stats.Free)
}

func TestAllocateConsumesExactlyOnePerProduct(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedCodes(store, 220)
	reg := prometheus.NewRegistry()
	m := metrics.NewCollector(reg)
	alloc := NewAllocator(store, nopLogger(), m)

	keys := productKeys(110)
	codes := make([]string, len(keys)*2)

	// каждый товар запрашивается дважды и параллельно
	var wg sync.WaitGroup
	for i, key := range keys {
		for j := 0; j < 2; j++ {
			wg.Add(1)
			go func(slot int, key string) {
				defer wg.Done()
				id, err := alloc.Allocate(ctx, key)
				if err == nil {
					codes[slot] = id.Code
				}
			}(i*2+j, key)
		}
	}
	wg.Wait()

	stats, err := alloc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 110, stats.Claimed)
	assert.Equal(t, 110, stats.Free)

	owners := make(map[string]string)
	for i, code := range codes {
		require.NotEmpty(t, code)
		key := keys[i/2]
		if prev, ok := owners[code]; ok {
			assert.Equal(t, prev, key, "code %s handed to two products", code)
		}
		owners[code] = key
	}
	assert.Len(t, owners, 110)
	expected := `
# HELP marketplace_feed_identifiers_claimed_total Идентификаторы, закрепленные за товарами
# TYPE marketplace_feed_identifiers_claimed_total counter
marketplace_feed_identifiers_claimed_total 110
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "marketplace_feed_identifiers_claimed_total"))
}

func TestAllocatePoolExhausted(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedCodes(store, 1)
	alloc := NewAllocator(store, nopLogger(), nil)

	first, err := alloc.Allocate(ctx, "p-1")
	require.NoError(t, err)

	_, err = alloc.Allocate(ctx, "p-2")
	assert.ErrorIs(t, err, models.ErrPoolExhausted)

	again, err := alloc.Allocate(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, first.Code, again.Code)
}

func TestAllocateRejectsEmptyKey(t *testing.T) {
	alloc := NewAllocator(memory.New(), nopLogger(), nil)
	_, err := alloc.Allocate(context.Background(), "  ")
	assert.Error(t, err)
}

func TestReleaseReturnsCodeToPool(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedCodes(store, 1)
	alloc := NewAllocator(store, nopLogger(), nil)

	id, err := alloc.Allocate(ctx, "p-1")
	require.NoError(t, err)

	released, err := alloc.Release(ctx, "p-1")
	require.NoError(t, err)
	assert.True(t, released)

	other, err := alloc.Allocate(ctx, "p-2")
	require.NoError(t, err)
	assert.Equal(t, id.Code, other.Code)

	released, err = alloc.Release(ctx, "p-unknown")
	require.NoError(t, err)
	assert.False(t, released)
}
