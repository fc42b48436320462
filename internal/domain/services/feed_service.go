package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/athebyme/gomarket-platform/marketplace-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/marketplace-service/pkg/interfaces"
	"github.com/athebyme/gomarket-platform/marketplace-service/pkg/utils"
)

// FeedService предоставляет операции выгрузки для API, воркера и CLI
type FeedService struct {
	builder    *FeedBuilder
	submitter  *Submitter
	reconciler *Reconciler
	allocator  *Allocator
	specs      *SpecProvider
	store      BatchStore
	logger     interfaces.LoggerPort
}

// NewFeedService создает новый экземпляр FeedService
func NewFeedService(builder *FeedBuilder, submitter *Submitter, reconciler *Reconciler, allocator *Allocator, specs *SpecProvider, store BatchStore, logger interfaces.LoggerPort) *FeedService {
	return &FeedService{
		builder:    builder,
		submitter:  submitter,
		reconciler: reconciler,
		allocator:  allocator,
		specs:      specs,
		store:      store,
		logger:     logger,
	}
}

// BuildAndSubmit собирает пакет и сразу отправляет его. Исчерпание пула
// не мешает отправке уже собранной части: ошибка возвращается вместе с результатом.
func (s *FeedService) BuildAndSubmit(ctx context.Context, productKeys []string) (*BuildResult, error) {
	result, buildErr := s.builder.Build(ctx, productKeys)
	if result == nil {
		return nil, buildErr
	}
	if result.Master == nil {
		return result, buildErr
	}

	master, err := s.submitter.Submit(ctx, result.Master.ID)
	if master != nil {
		result.Master = master
	}
	if err != nil {
		s.logger.WithBatch(result.Master.ID).Warn("Пакет собран, но отправлен не полностью",
			interfaces.LogField{Key: "error", Value: err.Error()},
		)
		return result, errors.Join(buildErr, fmt.Errorf("failed to submit batch: %w", err))
	}
	return result, buildErr
}

// Build только собирает пакет, без отправки
func (s *FeedService) Build(ctx context.Context, productKeys []string) (*BuildResult, error) {
	return s.builder.Build(ctx, productKeys)
}

// Submit отправляет ранее собранный пакет
func (s *FeedService) Submit(ctx context.Context, batchID string) (*models.Batch, error) {
	return s.submitter.Submit(ctx, batchID)
}

// Poll выполняет один цикл сверки пакета
func (s *FeedService) Poll(ctx context.Context, batchID string) (*models.Batch, error) {
	return s.reconciler.Reconcile(ctx, batchID)
}

// PollDue опрашивает все пакеты, ожидающие результата
func (s *FeedService) PollDue(ctx context.Context) (int, error) {
	return s.reconciler.PollDue(ctx)
}

// Abandon прекращает опрос пакета
func (s *FeedService) Abandon(ctx context.Context, batchID string) (*models.Batch, error) {
	return s.reconciler.Abandon(ctx, batchID)
}

// GetBatch получает пакет по ID
func (s *FeedService) GetBatch(ctx context.Context, batchID string) (*models.Batch, error) {
	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	if batch == nil {
		return nil, models.ErrBatchNotFound
	}
	return batch, nil
}

// ListBatches получает список пакетов с фильтрацией и пагинацией.
// pagination дополняется общим количеством.
func (s *FeedService) ListBatches(ctx context.Context, filter *models.BatchFilter, pagination *utils.Pagination) ([]*models.Batch, error) {
	if pagination == nil {
		pagination = utils.NewPagination(1, utils.DefaultPageSize, "", false)
	}
	batches, total, err := s.store.ListBatches(ctx, filter, pagination.GetLimit(), pagination.GetOffset())
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	pagination.SetTotal(total)
	return batches, nil
}

// ListItems возвращает строки пакета. Для мастера с чанками - строки всех чанков.
func (s *FeedService) ListItems(ctx context.Context, batchID string) ([]*models.BatchItem, error) {
	batch, err := s.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.IsLeaf() {
		items, err := s.store.ListItems(ctx, batch.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list items: %w", err)
		}
		return items, nil
	}

	chunks, err := s.store.ListChunks(ctx, batch.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	var items []*models.BatchItem
	for _, chunk := range chunks {
		chunkItems, err := s.store.ListItems(ctx, chunk.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list items of chunk %s: %w", chunk.ID, err)
		}
		items = append(items, chunkItems...)
	}
	return items, nil
}

// ListChunks возвращает чанки мастер-пакета
func (s *FeedService) ListChunks(ctx context.Context, batchID string) ([]*models.Batch, error) {
	if _, err := s.GetBatch(ctx, batchID); err != nil {
		return nil, err
	}
	chunks, err := s.store.ListChunks(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	return chunks, nil
}

// IdentifierStats возвращает сводку по пулу идентификаторов
func (s *FeedService) IdentifierStats(ctx context.Context) (*models.IdentifierStats, error) {
	return s.allocator.Stats(ctx)
}

// RefreshSpecs сбрасывает кэш спецификаций категории и загружает их заново.
// Пустая категория сбрасывает весь кэш.
func (s *FeedService) RefreshSpecs(ctx context.Context, categoryKey string) error {
	if categoryKey == "" {
		return s.specs.InvalidateAll(ctx)
	}
	if _, err := s.specs.Refresh(ctx, categoryKey); err != nil {
		return fmt.Errorf("failed to refresh specs: %w", err)
	}
	return nil
}
