package services

import (
	"context"
	"time"

	"github.com/athebyme/gomarket-platform/marketplace-service/internal/domain/models"
)

// ProductSource - каталог продавца, доступный только на чтение.
// Возвращает nil, nil если товар не найден.
type ProductSource interface {
	GetProduct(ctx context.Context, key string) (*models.Product, error)
}

// RuleSource - конфигурация выгрузки категорий.
// Возвращает nil, nil если для категории нет правил.
type RuleSource interface {
	RulesFor(ctx context.Context, categoryKey string) (*models.CategoryMapping, error)
}

// SpecSource - внешний источник спецификаций полей
type SpecSource interface {
	FetchSpec(ctx context.Context, categoryKey string) (models.SpecSet, error)
}

// IdentifierStore - пул идентификаторов
type IdentifierStore interface {
	// FindIdentifierByOwner возвращает идентификатор товара или nil, nil
	FindIdentifierByOwner(ctx context.Context, productKey string) (*models.Identifier, error)
	// ClaimIdentifier атомарно закрепляет первый свободный идентификатор за товаром.
	// Если товар уже владеет идентификатором, возвращает его.
	// Пустой пул - models.ErrPoolExhausted.
	ClaimIdentifier(ctx context.Context, productKey string, now time.Time) (*models.Identifier, error)
	// ReleaseIdentifier возвращает идентификатор товара в пул
	ReleaseIdentifier(ctx context.Context, productKey string) (bool, error)
	IdentifierStats(ctx context.Context) (*models.IdentifierStats, error)
}

// BatchStore - состояние пакетов и строк по товарам
type BatchStore interface {
	// CreateBatchTree сохраняет мастер, отправляемые пакеты, строки и конверты одной транзакцией
	CreateBatchTree(ctx context.Context, tree *models.BatchTree) error
	// GetBatch возвращает nil, nil если пакет не найден
	GetBatch(ctx context.Context, id string) (*models.Batch, error)
	GetEnvelope(ctx context.Context, batchID string) (*models.Envelope, error)
	ListBatches(ctx context.Context, filter *models.BatchFilter, limit, offset int) ([]*models.Batch, int, error)
	ListChunks(ctx context.Context, masterID string) ([]*models.Batch, error)
	// SnapshotChunks читает все чанки мастера в одном согласованном снимке
	SnapshotChunks(ctx context.Context, masterID string) ([]*models.Batch, error)
	// ListPollable возвращает отправленные, не завершенные и не брошенные пакеты
	ListPollable(ctx context.Context, limit int) ([]*models.Batch, error)
	UpdateBatch(ctx context.Context, batch *models.Batch) error
	// ClaimSubmission атомарно резервирует пакет в статусе BUILDING под отправку.
	// false - пакет уже отправлен, брошен или его отправляет другой процесс.
	ClaimSubmission(ctx context.Context, batchID string, now time.Time, ttl time.Duration) (bool, error)
	ListItems(ctx context.Context, batchID string) ([]*models.BatchItem, error)
	// UpsertItemOutcome атомарно обновляет строку по SKU; false - SKU в пакете нет
	UpsertItemOutcome(ctx context.Context, update models.ItemOutcomeUpdate) (bool, error)
	CountItems(ctx context.Context, batchID string) (models.ItemCounts, error)
}

// SubmissionTransport отправляет конверт на маркетплейс
type SubmissionTransport interface {
	Submit(ctx context.Context, envelope *models.Envelope) (string, error)
}

// StatusTransport запрашивает страницу статуса отправки
type StatusTransport interface {
	GetStatus(ctx context.Context, submissionID string, offset, limit int) (*models.StatusPage, error)
}

// EventPublisher публикует события жизненного цикла пакетов
type EventPublisher interface {
	PublishFeedEvent(ctx context.Context, event models.FeedEvent) error
}
