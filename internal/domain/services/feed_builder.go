package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/athebyme/gomarket-platform/marketplace-service/internal/domain/mapping"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/metrics"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/utils"
	"github.com/athebyme/gomarket-platform/marketplace-service/pkg/interfaces"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// BuilderConfig - настройки сборки пакета
type BuilderConfig struct {
	// ChunkSize - максимальное число товаров в одной отправке
	ChunkSize int
	// MaxPayloadBytes - максимальный размер JSON одной отправки; 0 - без ограничения
	MaxPayloadBytes     int
	LeadTimeDays        int
	MapConcurrency      int
	PublishableStatuses []string
	Locale              string
	SchemaVersion       string
}

// DefaultBuilderConfig возвращает настройки по умолчанию
func DefaultBuilderConfig() BuilderConfig {
	return BuilderConfig{
		ChunkSize:           25,
		MapConcurrency:      8,
		PublishableStatuses: []string{"publish"},
		Locale:              "en_US",
		SchemaVersion:       "2.0",
	}
}

// BuildResult - итог сборки: мастер-пакет, отправляемые пакеты и отклоненные товары
type BuildResult struct {
	Master   *models.Batch
	Leaves   []*models.Batch
	Accepted int
	Rejected []models.Rejection
	Issues   []*models.MappingError
}

// FeedBuilder собирает пакет выгрузки из списка ключей товаров
type FeedBuilder struct {
	products   ProductSource
	rules      RuleSource
	specs      *SpecProvider
	allocator  *Allocator
	store      BatchStore
	events     EventPublisher
	mappingCfg mapping.Config
	cfg        BuilderConfig
	logger     interfaces.LoggerPort
	metrics    *metrics.Collector
	newID      func() string
	now        func() time.Time
}

// FeedBuilderDeps - зависимости сборщика
type FeedBuilderDeps struct {
	Products  ProductSource
	Rules     RuleSource
	Specs     *SpecProvider
	Allocator *Allocator
	Store     BatchStore
	Events    EventPublisher
	Logger    interfaces.LoggerPort
	Metrics   *metrics.Collector
}

func NewFeedBuilder(deps FeedBuilderDeps, mappingCfg mapping.Config, cfg BuilderConfig) *FeedBuilder {
	return &FeedBuilder{
		products:   deps.Products,
		rules:      deps.Rules,
		specs:      deps.Specs,
		allocator:  deps.Allocator,
		store:      deps.Store,
		events:     deps.Events,
		mappingCfg: mappingCfg,
		cfg:        cfg,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
		newID:      func() string { return uuid.New().String() },
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// candidate - товар, прошедший проверку, со своей конфигурацией категории
type candidate struct {
	product    *models.Product
	category   *models.CategoryMapping
	identifier string
}

// Build проверяет товары, закрепляет идентификаторы, сопоставляет атрибуты и
// сохраняет пакет. При исчерпании пула оставшиеся товары отклоняются, уже
// собранная часть сохраняется, а ошибка оборачивает models.ErrPoolExhausted.
func (b *FeedBuilder) Build(ctx context.Context, productKeys []string) (*BuildResult, error) {
	if len(productKeys) == 0 {
		return nil, utils.ErrEmptyProductKeys
	}

	result := &BuildResult{}
	keys := make([]string, 0, len(productKeys))
	seen := make(map[string]struct{}, len(productKeys))
	for _, raw := range productKeys {
		key := strings.TrimSpace(raw)
		if key == "" {
			b.reject(result, raw, models.RejectProductNotFound)
			continue
		}
		if _, dup := seen[key]; dup {
			b.reject(result, key, models.RejectDuplicateKey)
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}

	candidates := make([]*candidate, len(keys))
	reasons := make([]string, len(keys))

	// загрузка и проверка не зависят друг от друга
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency())
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			candidates[i], reasons[i] = b.load(gctx, key)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// позиция пакета адресуется по SKU, поэтому повтор SKU отклоняется до выдачи идентификатора
	skus := make(map[string]string, len(candidates))
	for i, c := range candidates {
		if c == nil {
			continue
		}
		sku := strings.TrimSpace(c.product.SKU)
		if first, dup := skus[sku]; dup {
			b.logger.Warn("Повторяющийся SKU в пакете",
				interfaces.LogField{Key: "product_key", Value: c.product.Key},
				interfaces.LogField{Key: "sku", Value: sku},
				interfaces.LogField{Key: "first_product_key", Value: first},
			)
			candidates[i], reasons[i] = nil, models.RejectDuplicateSKU
			continue
		}
		skus[sku] = c.product.Key
	}

	// идентификаторы выдаются строго по порядку ключей
	var exhausted error
	for i, c := range candidates {
		if c == nil {
			continue
		}
		if exhausted != nil {
			candidates[i], reasons[i] = nil, models.RejectPoolExhausted
			continue
		}
		id, err := b.allocator.Allocate(ctx, c.product.Key)
		if err != nil {
			if errors.Is(err, models.ErrPoolExhausted) {
				exhausted = err
				candidates[i], reasons[i] = nil, models.RejectPoolExhausted
				continue
			}
			b.logger.Error("Не удалось выдать идентификатор",
				interfaces.LogField{Key: "product_key", Value: c.product.Key},
				interfaces.LogField{Key: "error", Value: err.Error()},
			)
			candidates[i], reasons[i] = nil, models.RejectAllocationFailed
			continue
		}
		c.identifier = id.Code
	}

	for i, reason := range reasons {
		if reason != "" {
			b.reject(result, keys[i], reason)
		}
	}

	payloads, err := b.mapAll(ctx, candidates, result)
	if err != nil {
		return nil, err
	}
	result.Accepted = len(payloads)

	if len(payloads) == 0 {
		b.logger.Warn("Пакет не собран: нет принятых товаров",
			interfaces.LogField{Key: "requested", Value: len(productKeys)},
			interfaces.LogField{Key: "rejected", Value: len(result.Rejected)},
		)
		if exhausted != nil {
			return result, fmt.Errorf("failed to allocate identifiers: %w", exhausted)
		}
		return result, nil
	}

	tree, err := b.assemble(payloads)
	if err != nil {
		return nil, err
	}
	if err := b.store.CreateBatchTree(ctx, tree); err != nil {
		return nil, fmt.Errorf("failed to save batch tree: %w", err)
	}

	result.Master = tree.Master
	for _, leaf := range tree.Leaves {
		result.Leaves = append(result.Leaves, leaf.Batch)
	}

	b.metrics.BatchBuilt()
	b.logger.WithBatch(tree.Master.ID).Info("Пакет собран",
		interfaces.LogField{Key: "accepted", Value: result.Accepted},
		interfaces.LogField{Key: "rejected", Value: len(result.Rejected)},
		interfaces.LogField{Key: "chunks", Value: tree.Master.ChunkCount},
		interfaces.LogField{Key: "payload_bytes", Value: tree.Master.PayloadBytes},
	)
	publishEvent(ctx, b.events, b.logger, models.EventBatchBuilt, tree.Master)

	if exhausted != nil {
		return result, fmt.Errorf("failed to allocate identifiers for remaining products: %w", exhausted)
	}
	return result, nil
}

func (b *FeedBuilder) concurrency() int {
	if b.cfg.MapConcurrency > 0 {
		return b.cfg.MapConcurrency
	}
	return 1
}

func (b *FeedBuilder) reject(result *BuildResult, key, reason string) {
	result.Rejected = append(result.Rejected, models.Rejection{Key: key, Reason: reason})
	b.metrics.ProductRejected(reason)
	b.logger.Info("Товар отклонен",
		interfaces.LogField{Key: "product_key", Value: key},
		interfaces.LogField{Key: "reason", Value: reason},
	)
}

// load читает товар, проверяет его и находит правила категории
func (b *FeedBuilder) load(ctx context.Context, key string) (*candidate, string) {
	product, err := b.products.GetProduct(ctx, key)
	if err != nil {
		b.logger.Warn("Не удалось загрузить товар",
			interfaces.LogField{Key: "product_key", Value: key},
			interfaces.LogField{Key: "error", Value: err.Error()},
		)
		return nil, models.RejectLoadFailed
	}
	if product == nil {
		return nil, models.RejectProductNotFound
	}
	if product.Key == "" {
		product.Key = key
	}

	if reason := b.validate(product); reason != "" {
		return nil, reason
	}

	category, err := b.rules.RulesFor(ctx, product.CategoryKey)
	if err != nil {
		b.logger.Warn("Не удалось получить правила категории",
			interfaces.LogField{Key: "product_key", Value: key},
			interfaces.LogField{Key: "category", Value: product.CategoryKey},
			interfaces.LogField{Key: "error", Value: err.Error()},
		)
		return nil, models.RejectNoCategoryMapping
	}
	if category == nil || len(category.Rules) == 0 {
		return nil, models.RejectNoCategoryMapping
	}

	return &candidate{product: product, category: category}, ""
}

// validate возвращает причину отклонения или пустую строку
func (b *FeedBuilder) validate(p *models.Product) string {
	if strings.TrimSpace(p.SKU) == "" {
		return models.RejectMissingSKU
	}
	if math.IsNaN(p.Price) || p.Price <= 0 {
		return models.RejectInvalidPrice
	}
	if strings.TrimSpace(p.Name) == "" {
		return models.RejectMissingName
	}
	if !b.publishable(p.Status) {
		return models.RejectUnpublishableStatus
	}
	return ""
}

func (b *FeedBuilder) publishable(status string) bool {
	statuses := b.cfg.PublishableStatuses
	if len(statuses) == 0 {
		statuses = DefaultBuilderConfig().PublishableStatuses
	}
	for _, s := range statuses {
		if strings.EqualFold(strings.TrimSpace(status), s) {
			return true
		}
	}
	return false
}

// mapAll сопоставляет товары параллельно; каждый товар получает свой запрос
func (b *FeedBuilder) mapAll(ctx context.Context, candidates []*candidate, result *BuildResult) ([]*models.TargetPayload, error) {
	var lookup mapping.SpecLookup
	if b.specs != nil {
		lookup = b.specs.Snapshot()
	}
	engine := mapping.NewEngine(lookup, b.mappingCfg, b.logger)

	payloads := make([]*models.TargetPayload, len(candidates))
	issues := make([][]*models.MappingError, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency())
	for i, c := range candidates {
		if c == nil {
			continue
		}
		i, c := i, c
		g.Go(func() error {
			res, err := engine.Map(gctx, mapping.Request{
				Product:     c.product,
				CategoryKey: c.category.SpecKey(),
				Identifier:  c.identifier,
				Rules:       c.category.Rules,
				LeadTime:    b.cfg.LeadTimeDays,
				Features:    c.category.Features,
			})
			if err != nil {
				return fmt.Errorf("failed to map product %s: %w", c.product.Key, err)
			}
			payloads[i] = res.Payload
			issues[i] = res.Issues
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	accepted := make([]*models.TargetPayload, 0, len(payloads))
	for i, p := range payloads {
		if p == nil {
			continue
		}
		accepted = append(accepted, p)
		result.Issues = append(result.Issues, issues[i]...)
	}
	return accepted, nil
}

// assemble делит товары на отправки и строит дерево пакетов
func (b *FeedBuilder) assemble(payloads []*models.TargetPayload) (*models.BatchTree, error) {
	groups, err := b.chunk(payloads)
	if err != nil {
		return nil, err
	}

	now := b.now()
	master := &models.Batch{
		ID:          b.newID(),
		ProductKeys: productKeysOf(payloads),
		Status:      models.BatchStatusBuilding,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tree := &models.BatchTree{Master: master}

	if len(groups) == 1 {
		leaf, err := b.leaf(master, groups[0])
		if err != nil {
			return nil, err
		}
		tree.Leaves = append(tree.Leaves, leaf)
		return tree, nil
	}

	master.ChunkCount = len(groups)
	for _, group := range groups {
		parentID := master.ID
		chunk := &models.Batch{
			ID:            b.newID(),
			ParentBatchID: &parentID,
			ProductKeys:   productKeysOf(group),
			Status:        models.BatchStatusBuilding,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		leaf, err := b.leaf(chunk, group)
		if err != nil {
			return nil, err
		}
		master.PayloadBytes += chunk.PayloadBytes
		tree.Leaves = append(tree.Leaves, leaf)
	}
	return tree, nil
}

// leaf строит конверт и строки одной отправки
func (b *FeedBuilder) leaf(batch *models.Batch, group []*models.TargetPayload) (models.LeafBatch, error) {
	envelope := &models.Envelope{
		Header: models.EnvelopeHeader{
			SubmissionContext: batch.ID,
			Locale:            b.cfg.Locale,
			SchemaVersion:     b.cfg.SchemaVersion,
		},
		Items: make([]models.TargetPayload, 0, len(group)),
	}
	items := make([]*models.BatchItem, 0, len(group))
	for _, p := range group {
		envelope.Items = append(envelope.Items, *p)
		items = append(items, &models.BatchItem{
			BatchID:    batch.ID,
			ProductKey: p.ProductKey,
			SKU:        p.SKU,
			Status:     models.ItemStatusPending,
		})
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return models.LeafBatch{}, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	batch.PayloadBytes = len(data)

	b.metrics.PayloadObserved(len(data), len(group))
	b.logger.WithBatch(batch.ID).Info("Отправка сформирована",
		interfaces.LogField{Key: "items", Value: len(group)},
		interfaces.LogField{Key: "payload_bytes", Value: len(data)},
		interfaces.LogField{Key: "parent_batch_id", Value: batch.Parent()},
	)

	return models.LeafBatch{Batch: batch, Items: items, Envelope: envelope}, nil
}

// chunk делит товары по порядку так, чтобы каждая часть укладывалась
// в ChunkSize товаров и MaxPayloadBytes байт. Товар больше лимита идет один.
func (b *FeedBuilder) chunk(payloads []*models.TargetPayload) ([][]*models.TargetPayload, error) {
	size := b.cfg.ChunkSize
	if size <= 0 {
		size = len(payloads)
	}

	var chunks [][]*models.TargetPayload
	var current []*models.TargetPayload
	currentBytes := 0

	for _, p := range payloads {
		data, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload %s: %w", p.SKU, err)
		}
		n := len(data)

		overCount := len(current) >= size
		overBytes := b.cfg.MaxPayloadBytes > 0 && currentBytes+n > b.cfg.MaxPayloadBytes
		if len(current) > 0 && (overCount || overBytes) {
			chunks = append(chunks, current)
			current, currentBytes = nil, 0
		}
		current = append(current, p)
		currentBytes += n
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks, nil
}

func productKeysOf(payloads []*models.TargetPayload) []string {
	keys := make([]string, len(payloads))
	for i, p := range payloads {
		keys[i] = p.ProductKey
	}
	return keys
}
