package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/athebyme/gomarket-platform/marketplace-service/internal/adapters/logger"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/domain/services"
	"github.com/athebyme/gomarket-platform/marketplace-service/pkg/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	topic string
	key   string
	value []byte
}

// memoryBus - шина в памяти: доставляет сообщения подписчикам синхронно
type memoryBus struct {
	mu       sync.Mutex
	messages []published
	handlers map[string]interfaces.MessageHandler
	err      error
}

func newMemoryBus() *memoryBus {
	return &memoryBus{handlers: make(map[string]interfaces.MessageHandler)}
}

func (b *memoryBus) Publish(ctx context.Context, topic string, message []byte) error {
	return b.PublishWithKey(ctx, topic, "", message)
}

func (b *memoryBus) PublishWithKey(ctx context.Context, topic, key string, message []byte) error {
	b.mu.Lock()
	if b.err != nil {
		b.mu.Unlock()
		return b.err
	}
	b.messages = append(b.messages, published{topic: topic, key: key, value: message})
	handler := b.handlers[topic]
	b.mu.Unlock()

	if handler != nil {
		return handler(ctx, &interfaces.Message{ID: "m-1", Topic: topic, Key: key, Value: message})
	}
	return nil
}

func (b *memoryBus) Subscribe(_ context.Context, topic string, handler interfaces.MessageHandler) (func() error, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = handler
	return func() error {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, topic)
		return nil
	}, nil
}

func (b *memoryBus) Close() error { return nil }

type fakeFeed struct {
	calls []string
	keys  []string
	err   error
}

func (f *fakeFeed) BuildAndSubmit(_ context.Context, keys []string) (*services.BuildResult, error) {
	f.calls = append(f.calls, "build")
	f.keys = keys
	return &services.BuildResult{Master: &models.Batch{ID: "b-1"}, Accepted: len(keys)}, f.err
}

func (f *fakeFeed) Submit(_ context.Context, id string) (*models.Batch, error) {
	f.calls = append(f.calls, "submit:"+id)
	return &models.Batch{ID: id}, f.err
}

func (f *fakeFeed) Poll(_ context.Context, id string) (*models.Batch, error) {
	f.calls = append(f.calls, "poll:"+id)
	return &models.Batch{ID: id}, f.err
}

func (f *fakeFeed) Abandon(_ context.Context, id string) (*models.Batch, error) {
	f.calls = append(f.calls, "abandon:"+id)
	return &models.Batch{ID: id}, f.err
}

func (f *fakeFeed) RefreshSpecs(_ context.Context, category string) error {
	f.calls = append(f.calls, "refresh:"+category)
	return f.err
}

func TestCommandsRoundTripThroughBus(t *testing.T) {
	ctx := context.Background()
	bus := newMemoryBus()
	feed := &fakeFeed{}

	unsubscribe, err := bus.Subscribe(ctx, CommandsTopic, CommandHandler(feed, logger.NewNop()))
	require.NoError(t, err)
	defer unsubscribe()

	commands := NewCommandPublisher(bus)
	require.NoError(t, commands.Enqueue(ctx, FeedCommand{Type: CommandBuildFeed, ProductKeys: []string{"p-1", "p-2"}}))
	require.NoError(t, commands.Enqueue(ctx, FeedCommand{Type: CommandSubmitBatch, BatchID: "b-1"}))
	require.NoError(t, commands.Enqueue(ctx, FeedCommand{Type: CommandPollBatch, BatchID: "b-1"}))
	require.NoError(t, commands.Enqueue(ctx, FeedCommand{Type: CommandAbandonBatch, BatchID: "b-1"}))
	require.NoError(t, commands.Enqueue(ctx, FeedCommand{Type: CommandRefreshSpecs, CategoryKey: "boots"}))

	assert.Equal(t, []string{"build", "submit:b-1", "poll:b-1", "abandon:b-1", "refresh:boots"}, feed.calls)
	assert.Equal(t, []string{"p-1", "p-2"}, feed.keys)

	require.Len(t, bus.messages, 5)
	assert.Equal(t, string(CommandBuildFeed), bus.messages[0].key)
	assert.Equal(t, "b-1", bus.messages[1].key)

	var decoded FeedCommand
	require.NoError(t, json.Unmarshal(bus.messages[0].value, &decoded))
	assert.False(t, decoded.RequestedAt.IsZero())
}

func TestCommandHandlerRejectsUnknownAndMalformed(t *testing.T) {
	handler := CommandHandler(&fakeFeed{}, logger.NewNop())

	err := handler(context.Background(), &interfaces.Message{Value: []byte(`{"type":"reindex"}`)})
	assert.ErrorIs(t, err, ErrUnknownCommand)

	err = handler(context.Background(), &interfaces.Message{Value: []byte(`not json`)})
	assert.Error(t, err)
}

func TestCommandHandlerReturnsServiceError(t *testing.T) {
	boom := errors.New("pool exhausted")
	handler := CommandHandler(&fakeFeed{err: boom}, logger.NewNop())

	data, err := json.Marshal(FeedCommand{Type: CommandBuildFeed, ProductKeys: []string{"p-1"}})
	require.NoError(t, err)
	assert.ErrorIs(t, handler(context.Background(), &interfaces.Message{Value: data}), boom)
}

func TestEventPublisherKeysByMaster(t *testing.T) {
	ctx := context.Background()
	bus := newMemoryBus()
	events := NewEventPublisher(bus)

	parent := "master-1"
	chunk := &models.Batch{ID: "chunk-1", ParentBatchID: &parent, Status: models.BatchStatusCompleted, SuccessCount: 3}
	master := &models.Batch{ID: "master-1", Status: models.BatchStatusProcessing}

	require.NoError(t, events.PublishFeedEvent(ctx, models.NewFeedEvent(models.EventBatchCompleted, chunk)))
	require.NoError(t, events.PublishFeedEvent(ctx, models.NewFeedEvent(models.EventBatchProgress, master)))

	require.Len(t, bus.messages, 2)
	for _, m := range bus.messages {
		assert.Equal(t, EventsTopic, m.topic)
		assert.Equal(t, "master-1", m.key)
	}

	var event models.FeedEvent
	require.NoError(t, json.Unmarshal(bus.messages[0].value, &event))
	assert.Equal(t, models.EventBatchCompleted, event.Type)
	assert.Equal(t, "chunk-1", event.BatchID)
	assert.Equal(t, 3, event.SuccessCount)
}

func TestEventPublisherPropagatesBusError(t *testing.T) {
	bus := newMemoryBus()
	bus.err = errors.New("broker down")

	err := NewEventPublisher(bus).PublishFeedEvent(context.Background(), models.FeedEvent{BatchID: "b"})
	assert.EqualError(t, err, "broker down")
}
