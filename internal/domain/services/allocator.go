package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/athebyme/gomarket-platform/marketplace-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/metrics"
	"github.com/athebyme/gomarket-platform/marketplace-service/pkg/interfaces"
)

// Allocator выдает идентификаторы из пула не более одного на товар.
// Межпроцессную атомарность обеспечивает хранилище (блокировка строки),
// мьютекс сериализует вызовы внутри процесса.
type Allocator struct {
	store   IdentifierStore
	mu      sync.Mutex
	logger  interfaces.LoggerPort
	metrics *metrics.Collector
	now     func() time.Time
}

func NewAllocator(store IdentifierStore, logger interfaces.LoggerPort, m *metrics.Collector) *Allocator {
	return &Allocator{
		store:   store,
		logger:  logger,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Allocate возвращает идентификатор товара. Повторный вызов для того же ключа
// возвращает тот же идентификатор, владелец никогда не переназначается.
func (a *Allocator) Allocate(ctx context.Context, productKey string) (*models.Identifier, error) {
	productKey = strings.TrimSpace(productKey)
	if productKey == "" {
		return nil, errors.New("product key is required")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	existing, err := a.store.FindIdentifierByOwner(ctx, productKey)
	if err != nil {
		return nil, fmt.Errorf("failed to find identifier by owner: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	id, err := a.store.ClaimIdentifier(ctx, productKey, a.now())
	if err != nil {
		if errors.Is(err, models.ErrPoolExhausted) {
			a.logger.Error("Пул идентификаторов исчерпан",
				interfaces.LogField{Key: "product_key", Value: productKey},
			)
			return nil, err
		}
		return nil, fmt.Errorf("failed to claim identifier: %w", err)
	}

	a.metrics.IdentifierClaimed()
	a.logger.Debug("Идентификатор закреплен за товаром",
		interfaces.LogField{Key: "product_key", Value: productKey},
		interfaces.LogField{Key: "code", Value: id.Code},
	)
	return id, nil
}

// Release возвращает идентификатор товара в пул
func (a *Allocator) Release(ctx context.Context, productKey string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	released, err := a.store.ReleaseIdentifier(ctx, productKey)
	if err != nil {
		return false, fmt.Errorf("failed to release identifier: %w", err)
	}
	if released {
		a.logger.Info("Идентификатор возвращен в пул",
			interfaces.LogField{Key: "product_key", Value: productKey},
		)
	}
	return released, nil
}

// Stats возвращает сводку по пулу
func (a *Allocator) Stats(ctx context.Context) (*models.IdentifierStats, error) {
	stats, err := a.store.IdentifierStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get identifier stats: %w", err)
	}
	return stats, nil
}
