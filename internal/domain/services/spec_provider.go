package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/athebyme/gomarket-platform/marketplace-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/metrics"
	"github.com/athebyme/gomarket-platform/marketplace-service/pkg/interfaces"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

const specKeyPrefix = "feed:specs:"

// SpecProviderConfig - настройки кэша спецификаций
type SpecProviderConfig struct {
	// SharedTTL - срок жизни записи в общем кэше; 0 - без срока.
	// Локальный кэш не истекает никогда, только явная инвалидация.
	SharedTTL time.Duration
}

// SpecProvider - кэш спецификаций полей поверх внешнего источника.
// Два уровня: локальный go-cache без истечения и общий Redis.
type SpecProvider struct {
	source  SpecSource
	local   *gocache.Cache
	shared  interfaces.CachePort
	group   singleflight.Group
	cfg     SpecProviderConfig
	logger  interfaces.LoggerPort
	metrics *metrics.Collector
}

// NewSpecProvider создает провайдер. shared может быть nil.
func NewSpecProvider(source SpecSource, shared interfaces.CachePort, cfg SpecProviderConfig, logger interfaces.LoggerPort, m *metrics.Collector) *SpecProvider {
	return &SpecProvider{
		source:  source,
		local:   gocache.New(gocache.NoExpiration, 0),
		shared:  shared,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
	}
}

func specCacheKey(categoryKey string) string {
	return specKeyPrefix + categoryKey
}

// GetAllSpecs возвращает спецификации категории: локальный кэш, общий кэш, источник.
// Недоступность источника оборачивается в models.ErrSpecSourceUnavailable и не кэшируется.
func (p *SpecProvider) GetAllSpecs(ctx context.Context, categoryKey string) (models.SpecSet, error) {
	key := specCacheKey(categoryKey)

	if cached, ok := p.local.Get(key); ok {
		return cached.(models.SpecSet), nil
	}

	v, err, _ := p.group.Do(key, func() (interface{}, error) {
		if set := p.readShared(ctx, key); set != nil {
			p.local.Set(key, set, gocache.NoExpiration)
			p.metrics.SpecFetch("shared_hit")
			return set, nil
		}

		set, err := p.source.FetchSpec(ctx, categoryKey)
		if err != nil {
			p.metrics.SpecFetch("error")
			return nil, fmt.Errorf("%w: %s: %v", models.ErrSpecSourceUnavailable, categoryKey, err)
		}
		if set == nil {
			set = models.SpecSet{}
		}

		p.local.Set(key, set, gocache.NoExpiration)
		p.writeShared(ctx, key, set)
		p.metrics.SpecFetch("fetched")
		return set, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(models.SpecSet), nil
}

// GetSpec возвращает спецификацию одного поля.
// При недоступном источнике и пустом кэше возвращает разрешающую спецификацию
// (text, необязательное) и пишет предупреждение, не прерывая сборку.
func (p *SpecProvider) GetSpec(ctx context.Context, categoryKey, fieldName string) (models.FieldSpec, error) {
	set, err := p.GetAllSpecs(ctx, categoryKey)
	if err != nil {
		p.logger.Warn("Источник спецификаций недоступен, поле считается текстовым",
			interfaces.LogField{Key: "category", Value: categoryKey},
			interfaces.LogField{Key: "field", Value: fieldName},
			interfaces.LogField{Key: "error", Value: err.Error()},
		)
		return models.PermissiveSpec(fieldName), nil
	}
	return lookupField(set, categoryKey, fieldName)
}

func lookupField(set models.SpecSet, categoryKey, fieldName string) (models.FieldSpec, error) {
	spec, ok := set[fieldName]
	if !ok {
		return models.FieldSpec{}, fmt.Errorf("%w: %s.%s", models.ErrSpecNotFound, categoryKey, fieldName)
	}
	if spec.Name == "" {
		spec.Name = fieldName
	}
	return spec, nil
}

// Invalidate явно удаляет спецификации категории из обоих уровней кэша
func (p *SpecProvider) Invalidate(ctx context.Context, categoryKey string) error {
	key := specCacheKey(categoryKey)
	p.local.Delete(key)
	if p.shared == nil {
		return nil
	}
	if err := p.shared.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to invalidate shared spec cache: %w", err)
	}
	return nil
}

// InvalidateAll сбрасывает все закэшированные спецификации
func (p *SpecProvider) InvalidateAll(ctx context.Context) error {
	p.local.Flush()
	if p.shared == nil {
		return nil
	}
	if err := p.shared.DeleteByPattern(ctx, specKeyPrefix+"*"); err != nil {
		return fmt.Errorf("failed to invalidate shared spec cache: %w", err)
	}
	return nil
}

// Refresh перечитывает спецификации категории из источника
func (p *SpecProvider) Refresh(ctx context.Context, categoryKey string) (models.SpecSet, error) {
	if err := p.Invalidate(ctx, categoryKey); err != nil {
		return nil, err
	}
	return p.GetAllSpecs(ctx, categoryKey)
}

func (p *SpecProvider) readShared(ctx context.Context, key string) models.SpecSet {
	if p.shared == nil {
		return nil
	}
	data, err := p.shared.Get(ctx, key)
	if err != nil {
		p.logger.Warn("Ошибка чтения общего кэша спецификаций",
			interfaces.LogField{Key: "key", Value: key},
			interfaces.LogField{Key: "error", Value: err.Error()},
		)
		return nil
	}
	if data == nil {
		return nil
	}
	var set models.SpecSet
	if err := json.Unmarshal(data, &set); err != nil {
		p.logger.Warn("Повреждена запись общего кэша спецификаций",
			interfaces.LogField{Key: "key", Value: key},
			interfaces.LogField{Key: "error", Value: err.Error()},
		)
		return nil
	}
	return set
}

func (p *SpecProvider) writeShared(ctx context.Context, key string, set models.SpecSet) {
	if p.shared == nil {
		return
	}
	data, err := json.Marshal(set)
	if err != nil {
		return
	}
	if err := p.shared.Set(ctx, key, data, p.cfg.SharedTTL); err != nil {
		p.logger.Warn("Не удалось записать спецификации в общий кэш",
			interfaces.LogField{Key: "key", Value: key},
			interfaces.LogField{Key: "error", Value: err.Error()},
		)
	}
}

// Snapshot возвращает представление для одной сборки: каждая категория
// читается один раз и не меняется до конца сборки, даже если кэш инвалидируют.
func (p *SpecProvider) Snapshot() *SpecSnapshot {
	return &SpecSnapshot{provider: p, sets: make(map[string]snapshotEntry)}
}

type snapshotEntry struct {
	set models.SpecSet
	err error
}

// SpecSnapshot реализует mapping.SpecLookup в рамках одной сборки
type SpecSnapshot struct {
	provider *SpecProvider
	mu       sync.Mutex
	sets     map[string]snapshotEntry
}

func (s *SpecSnapshot) GetSpec(ctx context.Context, categoryKey, fieldName string) (models.FieldSpec, error) {
	s.mu.Lock()
	entry, ok := s.sets[categoryKey]
	if !ok {
		set, err := s.provider.GetAllSpecs(ctx, categoryKey)
		entry = snapshotEntry{set: set, err: err}
		s.sets[categoryKey] = entry
		if err != nil {
			s.provider.logger.Warn("Источник спецификаций недоступен, категория выгружается с текстовыми полями",
				interfaces.LogField{Key: "category", Value: categoryKey},
				interfaces.LogField{Key: "error", Value: err.Error()},
			)
		}
	}
	s.mu.Unlock()

	if entry.err != nil {
		return models.PermissiveSpec(fieldName), nil
	}
	return lookupField(entry.set, categoryKey, fieldName)
}
