package services

import (
	"context"
	"testing"

	"github.com/athebyme/gomarket-platform/marketplace-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/marketplace-service/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serviceFixture struct {
	*builderFixture
	transport *fakeSubmitTransport
	status    *fakeStatusTransport
	service   *FeedService
}

func newServiceFixture(codes, chunkSize int) *serviceFixture {
	cfg := DefaultBuilderConfig()
	cfg.ChunkSize = chunkSize
	f := newBuilderFixture(codes, cfg)
	transport := &fakeSubmitTransport{}
	status := newFakeStatus()
	log := nopLogger()

	provider := NewSpecProvider(f.specs, nil, SpecProviderConfig{}, log, nil)
	submitter := NewSubmitter(f.store, transport, f.events, testSubmitConfig(), log, nil)
	reconciler := NewReconciler(f.store, status, nil, f.events, testPollingConfig(), log, nil)
	service := NewFeedService(f.builder, submitter, reconciler, f.allocator, provider, f.store, log)

	return &serviceFixture{builderFixture: f, transport: transport, status: status, service: service}
}

func TestBuildAndSubmitEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(10, 2)
	keys := productKeys(3)
	f.addProducts(keys...)

	result, err := f.service.BuildAndSubmit(ctx, keys)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusSubmitted, result.Master.Status)
	assert.Len(t, f.transport.sent, 2)

	for _, leaf := range result.Leaves {
		chunk, err := f.service.GetBatch(ctx, leaf.ID)
		require.NoError(t, err)
		feed := &remoteFeed{declared: len(chunk.ProductKeys), succeeded: len(chunk.ProductKeys)}
		for _, key := range chunk.ProductKeys {
			feed.outcomes = append(feed.outcomes, outcome(key, "SUCCESS", ""))
		}
		f.status.set(chunk.Submission(), feed)
	}

	polled, err := f.service.PollDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, polled)

	master, err := f.service.GetBatch(ctx, result.Master.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusCompleted, master.Status)
	assert.Equal(t, 3, master.SuccessCount)

	items, err := f.service.ListItems(ctx, master.ID)
	require.NoError(t, err)
	assert.Len(t, items, 3)
	for _, it := range items {
		assert.Equal(t, models.ItemStatusSuccess, it.Status)
		assert.NotNil(t, it.ProcessedAt)
	}

	chunks, err := f.service.ListChunks(ctx, master.ID)
	require.NoError(t, err)
	assert.Len(t, chunks, 2)
}

func TestBuildAndSubmitWithExhaustedPool(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(2, 25)
	keys := productKeys(3)
	f.addProducts(keys...)

	result, err := f.service.BuildAndSubmit(ctx, keys)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrPoolExhausted)
	require.NotNil(t, result.Master)
	assert.Equal(t, models.BatchStatusSubmitted, result.Master.Status)
	require.Len(t, f.transport.sent, 1)
	assert.Len(t, f.transport.sent[0].Items, 2)
}

func TestGetBatchNotFound(t *testing.T) {
	f := newServiceFixture(1, 25)
	_, err := f.service.GetBatch(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrBatchNotFound)
}

func TestListBatchesPaginates(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(10, 25)
	f.addProducts(productKeys(3)...)
	for _, key := range productKeys(3) {
		_, err := f.service.Build(ctx, []string{key})
		require.NoError(t, err)
	}

	page := utils.NewPagination(1, 2, "", false)
	batches, err := f.service.ListBatches(ctx, &models.BatchFilter{MastersOnly: true}, page)
	require.NoError(t, err)
	assert.Len(t, batches, 2)
	assert.Equal(t, 3, page.TotalItems)
	assert.True(t, page.HasNext)

	page = utils.NewPagination(2, 2, "", false)
	batches, err = f.service.ListBatches(ctx, nil, page)
	require.NoError(t, err)
	assert.Len(t, batches, 1)
	assert.False(t, page.HasNext)
}

func TestRefreshSpecs(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(1, 25)

	require.NoError(t, f.service.RefreshSpecs(ctx, "Boots"))
	require.NoError(t, f.service.RefreshSpecs(ctx, "Boots"))
	assert.Equal(t, 2, f.specs.Calls())

	require.NoError(t, f.service.RefreshSpecs(ctx, ""))

	f.specs.mu.Lock()
	f.specs.err = errUnreachable
	f.specs.mu.Unlock()
	assert.ErrorIs(t, f.service.RefreshSpecs(ctx, "Boots"), models.ErrSpecSourceUnavailable)
}

func TestIdentifierStats(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(5, 25)
	f.addProducts("p-1", "p-2")
	_, err := f.service.Build(ctx, []string{"p-1", "p-2"})
	require.NoError(t, err)

	stats, err := f.service.IdentifierStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.IdentifierStats{Total: 5, Claimed: 2, Free: 3}, *stats)
}
