// Package memory - хранилище выгрузки в памяти процесса. Используется в тестах
// и локальных запусках; атомарность операций та же, что у PostgreSQL.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/athebyme/gomarket-platform/marketplace-service/internal/domain/models"
)

// Storage хранит каталог, пул идентификаторов, пакеты и строки под одним мьютексом
type Storage struct {
	mu sync.RWMutex

	products    map[string]*models.Product
	identifiers []*models.Identifier // в порядке выдачи
	batches     map[string]*models.Batch
	order       []string // порядок создания пакетов
	items       map[string][]*models.BatchItem
	envelopes   map[string]*models.Envelope
	claims      map[string]time.Time // резервы отправки
}

// New создает пустое хранилище
func New() *Storage {
	return &Storage{
		products:  make(map[string]*models.Product),
		batches:   make(map[string]*models.Batch),
		items:     make(map[string][]*models.BatchItem),
		envelopes: make(map[string]*models.Envelope),
		claims:    make(map[string]time.Time),
	}
}

// PutProduct добавляет или заменяет товар каталога
func (s *Storage) PutProduct(p *models.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.products[p.Key] = &cp
}

// SeedIdentifiers добавляет свободные коды в пул; уже существующие пропускаются
func (s *Storage) SeedIdentifiers(codes ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	known := make(map[string]struct{}, len(s.identifiers))
	for _, id := range s.identifiers {
		known[id.Code] = struct{}{}
	}
	for _, code := range codes {
		if _, ok := known[code]; ok {
			continue
		}
		known[code] = struct{}{}
		s.identifiers = append(s.identifiers, &models.Identifier{Code: code})
	}
}

// GetProduct реализует services.ProductSource
func (s *Storage) GetProduct(_ context.Context, key string) (*models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[key]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func copyIdentifier(id *models.Identifier) *models.Identifier {
	cp := *id
	if id.OwnerProductKey != nil {
		owner := *id.OwnerProductKey
		cp.OwnerProductKey = &owner
	}
	if id.ClaimedAt != nil {
		at := *id.ClaimedAt
		cp.ClaimedAt = &at
	}
	return &cp
}

func (s *Storage) findOwner(productKey string) *models.Identifier {
	for _, id := range s.identifiers {
		if id.OwnerProductKey != nil && *id.OwnerProductKey == productKey {
			return id
		}
	}
	return nil
}

// FindIdentifierByOwner реализует services.IdentifierStore
func (s *Storage) FindIdentifierByOwner(_ context.Context, productKey string) (*models.Identifier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id := s.findOwner(productKey); id != nil {
		return copyIdentifier(id), nil
	}
	return nil, nil
}

// ClaimIdentifier реализует services.IdentifierStore
func (s *Storage) ClaimIdentifier(_ context.Context, productKey string, now time.Time) (*models.Identifier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id := s.findOwner(productKey); id != nil {
		return copyIdentifier(id), nil
	}
	for _, id := range s.identifiers {
		if id.OwnerProductKey != nil {
			continue
		}
		owner := productKey
		claimedAt := now
		id.OwnerProductKey = &owner
		id.ClaimedAt = &claimedAt
		return copyIdentifier(id), nil
	}
	return nil, models.ErrPoolExhausted
}

// ReleaseIdentifier реализует services.IdentifierStore
func (s *Storage) ReleaseIdentifier(_ context.Context, productKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.findOwner(productKey)
	if id == nil {
		return false, nil
	}
	id.OwnerProductKey = nil
	id.ClaimedAt = nil
	return true, nil
}

// IdentifierStats реализует services.IdentifierStore
func (s *Storage) IdentifierStats(_ context.Context) (*models.IdentifierStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := &models.IdentifierStats{Total: len(s.identifiers)}
	for _, id := range s.identifiers {
		if id.IsClaimed() {
			stats.Claimed++
		}
	}
	stats.Free = stats.Total - stats.Claimed
	return stats, nil
}

func copyBatch(b *models.Batch) *models.Batch {
	cp := *b
	cp.ProductKeys = append([]string(nil), b.ProductKeys...)
	if b.ParentBatchID != nil {
		parent := *b.ParentBatchID
		cp.ParentBatchID = &parent
	}
	if b.SubmissionID != nil {
		sub := *b.SubmissionID
		cp.SubmissionID = &sub
	}
	if b.LastPolledAt != nil {
		at := *b.LastPolledAt
		cp.LastPolledAt = &at
	}
	return &cp
}

func copyItem(it *models.BatchItem) *models.BatchItem {
	cp := *it
	if it.ErrorDetail != nil {
		detail := *it.ErrorDetail
		cp.ErrorDetail = &detail
	}
	if it.ProcessedAt != nil {
		at := *it.ProcessedAt
		cp.ProcessedAt = &at
	}
	return &cp
}

// CreateBatchTree реализует services.BatchStore
func (s *Storage) CreateBatchTree(_ context.Context, tree *models.BatchTree) error {
	if tree == nil || tree.Master == nil {
		return fmt.Errorf("batch tree has no master")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.batches[tree.Master.ID]; exists {
		return fmt.Errorf("batch %s already exists", tree.Master.ID)
	}
	for _, leaf := range tree.Leaves {
		if _, exists := s.batches[leaf.Batch.ID]; exists && leaf.Batch.ID != tree.Master.ID {
			return fmt.Errorf("batch %s already exists", leaf.Batch.ID)
		}
	}

	s.batches[tree.Master.ID] = copyBatch(tree.Master)
	s.order = append(s.order, tree.Master.ID)
	for _, leaf := range tree.Leaves {
		if leaf.Batch.ID != tree.Master.ID {
			s.batches[leaf.Batch.ID] = copyBatch(leaf.Batch)
			s.order = append(s.order, leaf.Batch.ID)
		}
		rows := make([]*models.BatchItem, 0, len(leaf.Items))
		for _, it := range leaf.Items {
			rows = append(rows, copyItem(it))
		}
		s.items[leaf.Batch.ID] = rows
		if leaf.Envelope != nil {
			env := *leaf.Envelope
			env.Items = append([]models.TargetPayload(nil), leaf.Envelope.Items...)
			s.envelopes[leaf.Batch.ID] = &env
		}
	}
	return nil
}

// GetBatch реализует services.BatchStore
func (s *Storage) GetBatch(_ context.Context, id string) (*models.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, nil
	}
	return copyBatch(b), nil
}

// GetEnvelope реализует services.BatchStore
func (s *Storage) GetEnvelope(_ context.Context, batchID string) (*models.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	env, ok := s.envelopes[batchID]
	if !ok {
		return nil, nil
	}
	cp := *env
	cp.Items = append([]models.TargetPayload(nil), env.Items...)
	return &cp, nil
}

// ListBatches реализует services.BatchStore. Новые пакеты идут первыми.
func (s *Storage) ListBatches(_ context.Context, filter *models.BatchFilter, limit, offset int) ([]*models.Batch, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.Batch
	for i := len(s.order) - 1; i >= 0; i-- {
		b := s.batches[s.order[i]]
		if filter.Matches(b) {
			matched = append(matched, b)
		}
	}

	total := len(matched)
	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	out := make([]*models.Batch, 0, end-offset)
	for _, b := range matched[offset:end] {
		out = append(out, copyBatch(b))
	}
	return out, total, nil
}

func (s *Storage) chunksOf(masterID string) []*models.Batch {
	var out []*models.Batch
	for _, id := range s.order {
		b := s.batches[id]
		if b.ParentBatchID != nil && *b.ParentBatchID == masterID {
			out = append(out, copyBatch(b))
		}
	}
	return out
}

// ListChunks реализует services.BatchStore
func (s *Storage) ListChunks(_ context.Context, masterID string) ([]*models.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chunksOf(masterID), nil
}

// SnapshotChunks реализует services.BatchStore; все чанки читаются под одной блокировкой
func (s *Storage) SnapshotChunks(_ context.Context, masterID string) ([]*models.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chunksOf(masterID), nil
}

// ListPollable реализует services.BatchStore
func (s *Storage) ListPollable(_ context.Context, limit int) ([]*models.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Batch
	for _, id := range s.order {
		b := s.batches[id]
		if !b.IsLeaf() || b.Abandoned || b.SubmissionID == nil || b.Status.IsTerminal() {
			continue
		}
		out = append(out, copyBatch(b))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return lastPolled(out[i]).Before(lastPolled(out[j]))
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func lastPolled(b *models.Batch) time.Time {
	if b.LastPolledAt == nil {
		return time.Time{}
	}
	return *b.LastPolledAt
}

// UpdateBatch реализует services.BatchStore
func (s *Storage) UpdateBatch(_ context.Context, batch *models.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[batch.ID]; !ok {
		return models.ErrBatchNotFound
	}
	s.batches[batch.ID] = copyBatch(batch)
	return nil
}

// ClaimSubmission реализует services.BatchStore
func (s *Storage) ClaimSubmission(_ context.Context, batchID string, now time.Time, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok || b.Status != models.BatchStatusBuilding || b.Abandoned {
		return false, nil
	}
	if at, claimed := s.claims[batchID]; claimed && !at.Before(now.Add(-ttl)) {
		return false, nil
	}
	s.claims[batchID] = now
	return true, nil
}

// ListItems реализует services.BatchStore
func (s *Storage) ListItems(_ context.Context, batchID string) ([]*models.BatchItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.items[batchID]
	out := make([]*models.BatchItem, 0, len(rows))
	for _, it := range rows {
		out = append(out, copyItem(it))
	}
	return out, nil
}

// UpsertItemOutcome реализует services.BatchStore
func (s *Storage) UpsertItemOutcome(_ context.Context, update models.ItemOutcomeUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.items[update.BatchID] {
		if it.SKU != update.SKU {
			continue
		}
		it.Status = update.Status
		if update.ErrorDetail != nil {
			detail := *update.ErrorDetail
			it.ErrorDetail = &detail
		} else {
			it.ErrorDetail = nil
		}
		if update.ExternalID != "" {
			it.ExternalID = update.ExternalID
		}
		if update.Status.IsTerminal() {
			at := update.ProcessedAt
			it.ProcessedAt = &at
		}
		return true, nil
	}
	return false, nil
}

// CountItems реализует services.BatchStore
func (s *Storage) CountItems(_ context.Context, batchID string) (models.ItemCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var counts models.ItemCounts
	for _, it := range s.items[batchID] {
		counts.Add(it.Status)
	}
	return counts, nil
}

// SetItemStatus меняет статус строки напрямую; нужен для воспроизведения
// рассинхронизации счетчиков в тестах и локальной отладке
func (s *Storage) SetItemStatus(batchID, sku string, status models.ItemStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.items[batchID] {
		if it.SKU == sku {
			it.Status = status
			return true
		}
	}
	return false
}
