package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/athebyme/gomarket-platform/marketplace-service/internal/domain/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSubmitConfig() SubmitConfig {
	return SubmitConfig{MaxRetries: 3, RetryWait: time.Millisecond, Timeout: time.Second, Concurrency: 2}
}

func TestSubmitLeafBatch(t *testing.T) {
	ctx := context.Background()
	f := newBuilderFixture(10, DefaultBuilderConfig())
	f.addProducts("p-1", "p-2")
	built, err := f.builder.Build(ctx, []string{"p-1", "p-2"})
	require.NoError(t, err)

	transport := &fakeSubmitTransport{failures: 1}
	s := NewSubmitter(f.store, transport, f.events, testSubmitConfig(), nopLogger(), nil)

	batch, err := s.Submit(ctx, built.Master.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusSubmitted, batch.Status)
	assert.Equal(t, "sub-"+built.Master.ID, batch.Submission())
	assert.Equal(t, 2, transport.calls)
	require.Len(t, transport.sent, 1)
	assert.Len(t, transport.sent[0].Items, 2)

	stored, err := f.store.GetBatch(ctx, built.Master.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusSubmitted, stored.Status)

	// повторная отправка не создает дубль на маркетплейсе
	_, err = s.Submit(ctx, built.Master.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, transport.calls)
	assert.Contains(t, f.events.types(), models.EventBatchSubmitted)
}

func TestSubmitMarksErrorAfterRetries(t *testing.T) {
	ctx := context.Background()
	f := newBuilderFixture(10, DefaultBuilderConfig())
	f.addProducts("p-1")
	built, err := f.builder.Build(ctx, []string{"p-1"})
	require.NoError(t, err)

	transport := &fakeSubmitTransport{failures: 10}
	s := NewSubmitter(f.store, transport, f.events, testSubmitConfig(), nopLogger(), nil)

	batch, err := s.Submit(ctx, built.Master.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrTransport)
	assert.Equal(t, 3, transport.calls)
	assert.Equal(t, models.BatchStatusError, batch.Status)
	assert.Nil(t, batch.SubmissionID)
	assert.NotEmpty(t, batch.LastError)
	assert.Contains(t, f.events.types(), models.EventBatchFailed)
}

func TestSubmitEmptySubmissionIDIsMalformed(t *testing.T) {
	ctx := context.Background()
	f := newBuilderFixture(10, DefaultBuilderConfig())
	f.addProducts("p-1")
	built, err := f.builder.Build(ctx, []string{"p-1"})
	require.NoError(t, err)

	s := NewSubmitter(f.store, &fakeSubmitTransport{emptyID: true}, nil, testSubmitConfig(), nopLogger(), nil)
	batch, err := s.Submit(ctx, built.Master.ID)
	assert.ErrorIs(t, err, models.ErrMalformedResponse)
	assert.Equal(t, models.BatchStatusError, batch.Status)
	assert.Nil(t, batch.SubmissionID)
}

func TestSubmitMasterSubmitsEveryChunk(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultBuilderConfig()
	cfg.ChunkSize = 2
	f := newBuilderFixture(10, cfg)
	keys := productKeys(5)
	f.addProducts(keys...)
	built, err := f.builder.Build(ctx, keys)
	require.NoError(t, err)
	require.Equal(t, 3, built.Master.ChunkCount)

	transport := &fakeSubmitTransport{}
	s := NewSubmitter(f.store, transport, nil, testSubmitConfig(), nopLogger(), nil)

	master, err := s.Submit(ctx, built.Master.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusSubmitted, master.Status)
	assert.Nil(t, master.SubmissionID)
	assert.Len(t, transport.sent, 3)

	chunks, err := f.store.ListChunks(ctx, built.Master.ID)
	require.NoError(t, err)
	for _, c := range chunks {
		assert.Equal(t, models.BatchStatusSubmitted, c.Status)
		assert.Equal(t, "sub-"+c.ID, c.Submission())
	}
}

func TestSubmitSkipsAbandonedBatch(t *testing.T) {
	ctx := context.Background()
	f := newBuilderFixture(10, DefaultBuilderConfig())
	f.addProducts("p-1")
	built, err := f.builder.Build(ctx, []string{"p-1"})
	require.NoError(t, err)

	r := NewReconciler(f.store, newFakeStatus(), nil, nil, DefaultPollingConfig(), nopLogger(), nil)
	_, err = r.Abandon(ctx, built.Master.ID)
	require.NoError(t, err)

	transport := &fakeSubmitTransport{}
	s := NewSubmitter(f.store, transport, nil, testSubmitConfig(), nopLogger(), nil)
	batch, err := s.Submit(ctx, built.Master.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusBuilding, batch.Status)
	assert.Equal(t, 0, transport.calls)
}

func TestSubmitUnknownBatch(t *testing.T) {
	f := newBuilderFixture(1, DefaultBuilderConfig())
	s := NewSubmitter(f.store, &fakeSubmitTransport{}, nil, testSubmitConfig(), nopLogger(), nil)
	_, err := s.Submit(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrBatchNotFound)
}

// slowSubmitTransport держит вызов открытым, пока не закроется release
type slowSubmitTransport struct {
	fakeSubmitTransport
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *slowSubmitTransport) Submit(ctx context.Context, envelope *models.Envelope) (string, error) {
	s.once.Do(func() { close(s.started) })
	<-s.release
	return s.fakeSubmitTransport.Submit(ctx, envelope)
}

func TestSubmitConcurrentCallsSubmitOnce(t *testing.T) {
	ctx := context.Background()
	f := newBuilderFixture(10, DefaultBuilderConfig())
	f.addProducts("p-1")
	built, err := f.builder.Build(ctx, []string{"p-1"})
	require.NoError(t, err)

	transport := &slowSubmitTransport{started: make(chan struct{}), release: make(chan struct{})}
	s := NewSubmitter(f.store, transport, nil, testSubmitConfig(), nopLogger(), nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := s.Submit(ctx, built.Master.ID)
		assert.NoError(t, err)
	}()
	<-transport.started

	// второй вызов приходит, пока первый ждет ответа маркетплейса
	second, err := s.Submit(ctx, built.Master.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusBuilding, second.Status)
	assert.Nil(t, second.SubmissionID)

	close(transport.release)
	wg.Wait()

	assert.Equal(t, 1, transport.calls)
	stored, err := f.store.GetBatch(ctx, built.Master.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusSubmitted, stored.Status)
	assert.Equal(t, "sub-"+built.Master.ID, stored.Submission())
}

func TestClaimSubmissionExpires(t *testing.T) {
	ctx := context.Background()
	f := newBuilderFixture(10, DefaultBuilderConfig())
	f.addProducts("p-1")
	built, err := f.builder.Build(ctx, []string{"p-1"})
	require.NoError(t, err)

	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	ok, err := f.store.ClaimSubmission(ctx, built.Master.ID, now, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.store.ClaimSubmission(ctx, built.Master.ID, now.Add(30*time.Second), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// резерв упавшего процесса истек
	ok, err = f.store.ClaimSubmission(ctx, built.Master.ID, now.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.store.ClaimSubmission(ctx, "missing", now, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}
