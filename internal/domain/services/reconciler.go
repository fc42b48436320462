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
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/utils"
	"github.com/athebyme/gomarket-platform/marketplace-service/pkg/interfaces"
	"golang.org/x/sync/errgroup"
)

const pollLockPrefix = "feed:poll:"

// PollingConfig - настройки опроса статуса
type PollingConfig struct {
	Timeout     time.Duration // на один вызов статуса
	PageSize    int
	MaxAttempts int // циклов опроса без валидного результата до ERROR
	Concurrency int
	BatchLimit  int // сколько пакетов брать за один PollDue
	LockTTL     time.Duration
	MaxRetries  int
	RetryWait   time.Duration
}

// DefaultPollingConfig возвращает настройки по умолчанию
func DefaultPollingConfig() PollingConfig {
	return PollingConfig{
		Timeout:     30 * time.Second,
		PageSize:    50,
		MaxAttempts: 20,
		Concurrency: 4,
		BatchLimit:  100,
		LockTTL:     2 * time.Minute,
		MaxRetries:  3,
		RetryWait:   time.Second,
	}
}

// Reconciler опрашивает статус отправок и приводит строки и счетчики пакетов
// в соответствие с отчетом маркетплейса
type Reconciler struct {
	store   BatchStore
	status  StatusTransport
	locks   interfaces.CachePort
	events  EventPublisher
	cfg     PollingConfig
	logger  interfaces.LoggerPort
	metrics *metrics.Collector
	now     func() time.Time

	// пересчет мастера внутри процесса выполняется по одному
	masterMu sync.Mutex
}

// NewReconciler создает движок сверки. locks может быть nil - тогда
// опрос не защищен от параллельных экземпляров воркера.
func NewReconciler(store BatchStore, status StatusTransport, locks interfaces.CachePort, events EventPublisher, cfg PollingConfig, logger interfaces.LoggerPort, m *metrics.Collector) *Reconciler {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPollingConfig().PageSize
	}
	return &Reconciler{
		store:   store,
		status:  status,
		locks:   locks,
		events:  events,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// MapOutcome переводит словарь вердиктов маркетплейса в локальную таксономию.
// Неизвестный вердикт считается незавершенным; второй результат сообщает, был ли он распознан.
func MapOutcome(outcome string) (models.ItemStatus, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(outcome))
	normalized = strings.NewReplacer("-", "_", " ", "_").Replace(normalized)

	switch normalized {
	case "SUCCESS", "SUCCEEDED", "SUCCESSFUL", "PROCESSED", "PUBLISHED", "OK":
		return models.ItemStatusSuccess, true
	case "DATA_ERROR", "SYSTEM_ERROR", "TIMEOUT_ERROR", "ERROR", "FAILED", "FAILURE", "REJECTED":
		return models.ItemStatusError, true
	case "INPROGRESS", "IN_PROGRESS", "PROCESSING", "PENDING", "RECEIVED", "QUEUED":
		return models.ItemStatusInProgress, true
	}
	if strings.HasSuffix(normalized, "_ERROR") {
		return models.ItemStatusError, true
	}
	return models.ItemStatusInProgress, false
}

// FetchAllOutcomes собирает все страницы статуса начиная с нулевого смещения,
// пока число вердиктов не сравняется с объявленным. Короткая страница до этого
// момента возвращает частичный результат и ошибку models.ErrShortPage.
func (r *Reconciler) FetchAllOutcomes(ctx context.Context, submissionID string) (*models.SubmissionResult, error) {
	result := &models.SubmissionResult{SubmissionID: submissionID}
	offset := 0

	for {
		page, err := r.fetchPage(ctx, submissionID, offset)
		if err != nil {
			if offset == 0 {
				return nil, err
			}
			return result, err
		}

		result.DeclaredCount = page.Declared
		result.SucceededCount = page.Succeeded
		result.FailedCount = page.Failed
		result.ProcessingCount = page.Processing
		result.ItemOutcomes = append(result.ItemOutcomes, page.ItemOutcomes...)
		offset += len(page.ItemOutcomes)

		if result.DeclaredCount <= 0 {
			// маркетплейс еще не принял отправку
			return result, nil
		}
		if len(result.ItemOutcomes) >= result.DeclaredCount {
			result.Complete = true
			return result, nil
		}
		if len(page.ItemOutcomes) < r.cfg.PageSize {
			return result, fmt.Errorf("%w: got %d of %d outcomes", models.ErrShortPage, len(result.ItemOutcomes), result.DeclaredCount)
		}
	}
}

func (r *Reconciler) fetchPage(ctx context.Context, submissionID string, offset int) (*models.StatusPage, error) {
	var page *models.StatusPage
	err := utils.Retry(ctx, r.cfg.MaxRetries, r.cfg.RetryWait, func(ctx context.Context, attempt int) error {
		callCtx := ctx
		if r.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
			defer cancel()
		}

		p, err := r.status.GetStatus(callCtx, submissionID, offset, r.cfg.PageSize)
		if err == nil && p == nil {
			err = fmt.Errorf("%w: empty status page", models.ErrMalformedResponse)
		}
		if err != nil {
			r.logger.Warn("Ошибка запроса статуса отправки",
				interfaces.LogField{Key: "submission_id", Value: submissionID},
				interfaces.LogField{Key: "offset", Value: offset},
				interfaces.LogField{Key: "attempt", Value: attempt},
				interfaces.LogField{Key: "error", Value: err.Error()},
			)
			return err
		}
		page = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch status page at offset %d: %w", offset, err)
	}
	return page, nil
}

// Reconcile выполняет один цикл опроса пакета. Для мастера с чанками
// опрашиваются чанки, после чего мастер пересчитывается из снимка чанков.
func (r *Reconciler) Reconcile(ctx context.Context, batchID string) (*models.Batch, error) {
	return r.reconcile(ctx, batchID, true)
}

func (r *Reconciler) reconcile(ctx context.Context, batchID string, recomputeParent bool) (*models.Batch, error) {
	batch, err := r.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	if batch == nil {
		return nil, models.ErrBatchNotFound
	}

	if !batch.IsLeaf() {
		chunks, err := r.store.ListChunks(ctx, batch.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list chunks: %w", err)
		}
		g, gctx := errgroup.WithContext(ctx)
		if r.cfg.Concurrency > 0 {
			g.SetLimit(r.cfg.Concurrency)
		}
		failures := make([]error, len(chunks))
		for i, chunk := range chunks {
			i, chunk := i, chunk
			g.Go(func() error {
				_, failures[i] = r.reconcileLeaf(gctx, chunk)
				return nil
			})
		}
		_ = g.Wait()

		master, err := r.RecomputeMaster(ctx, batch.ID)
		if err != nil {
			return nil, err
		}
		return master, errors.Join(failures...)
	}

	leaf, err := r.reconcileLeaf(ctx, batch)
	if err != nil {
		return leaf, err
	}
	if recomputeParent && leaf.ParentBatchID != nil {
		if _, err := r.RecomputeMaster(ctx, *leaf.ParentBatchID); err != nil {
			return leaf, err
		}
	}
	return leaf, nil
}

func (r *Reconciler) reconcileLeaf(ctx context.Context, batch *models.Batch) (*models.Batch, error) {
	if batch.Abandoned || batch.Status.IsTerminal() {
		return batch, nil
	}
	if batch.SubmissionID == nil {
		return batch, models.ErrNotSubmitted
	}

	log := r.logger.WithBatch(batch.ID)
	ctx = interfaces.ContextWithBatch(ctx, batch.ID)
	previous := batch.Status

	now := r.now()
	batch.PollAttempts++
	batch.LastPolledAt = &now
	batch.UpdatedAt = now

	result, fetchErr := r.FetchAllOutcomes(ctx, *batch.SubmissionID)
	if fetchErr != nil && result == nil {
		r.metrics.Poll("error")
		batch.LastError = fetchErr.Error()
		r.exhaustIfNeeded(batch)
		if err := r.store.UpdateBatch(ctx, batch); err != nil {
			return nil, fmt.Errorf("failed to update batch after poll error: %w", err)
		}
		r.announce(ctx, previous, batch)
		return batch, fetchErr
	}

	shortPage := errors.Is(fetchErr, models.ErrShortPage)
	if fetchErr != nil && !shortPage {
		log.Warn("Статус получен не полностью", interfaces.LogField{Key: "error", Value: fetchErr.Error()})
	}
	if shortPage {
		r.metrics.Poll("short_page")
		log.Warn("Короткая страница статуса, полный перезапрос в следующем цикле",
			interfaces.LogField{Key: "received", Value: len(result.ItemOutcomes)},
			interfaces.LogField{Key: "declared", Value: result.DeclaredCount},
		)
	}

	// частичный результат применяется, но не делает пакет завершенным
	if err := r.applyOutcomes(ctx, batch.ID, result.ItemOutcomes, now); err != nil {
		return nil, err
	}

	counts, err := r.store.CountItems(ctx, batch.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count items: %w", err)
	}

	// расхождение, которое не устранила пересборка, остается в LastError
	var unresolved string
	if result.Complete && (counts.Success != result.SucceededCount || counts.Error != result.FailedCount) {
		batch.LastError = ""
		counts, err = r.repair(ctx, batch, counts, result, now)
		if err != nil {
			return nil, err
		}
		unresolved = batch.LastError
	}

	batch.SuccessCount = counts.Success
	batch.FailedCount = counts.Error
	if result.DeclaredCount > 0 {
		batch.DeclaredCount = result.DeclaredCount
	}

	switch {
	case result.Complete && result.DeclaredCount > 0 && counts.Terminal() >= result.DeclaredCount:
		batch.Status = models.BatchStatusCompleted
		batch.LastError = unresolved
	case result.DeclaredCount > 0:
		batch.Status = models.BatchStatusProcessing
		switch {
		case unresolved != "":
			batch.LastError = unresolved
		case fetchErr != nil:
			batch.LastError = fetchErr.Error()
		default:
			batch.LastError = ""
		}
	default:
		r.exhaustIfNeeded(batch)
	}

	if fetchErr == nil {
		r.metrics.Poll("ok")
	}
	if err := r.store.UpdateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to update batch: %w", err)
	}

	log.Info("Пакет сверен",
		interfaces.LogField{Key: "status", Value: batch.Status.String()},
		interfaces.LogField{Key: "success", Value: batch.SuccessCount},
		interfaces.LogField{Key: "failed", Value: batch.FailedCount},
		interfaces.LogField{Key: "declared", Value: result.DeclaredCount},
		interfaces.LogField{Key: "poll_attempts", Value: batch.PollAttempts},
	)
	r.announce(ctx, previous, batch)
	return batch, nil
}

// exhaustIfNeeded переводит пакет в ERROR, если маркетплейс так и не дал
// валидного результата за отведенное число циклов
func (r *Reconciler) exhaustIfNeeded(batch *models.Batch) {
	if r.cfg.MaxAttempts <= 0 || batch.PollAttempts < r.cfg.MaxAttempts || batch.DeclaredCount > 0 {
		return
	}
	batch.Status = models.BatchStatusError
	if batch.LastError == "" {
		batch.LastError = "no valid result after maximum poll attempts"
	}
}

// applyOutcomes обновляет строки по SKU. Повторное применение того же отчета
// дает то же состояние.
func (r *Reconciler) applyOutcomes(ctx context.Context, batchID string, outcomes []models.ItemOutcome, now time.Time) error {
	for _, o := range outcomes {
		status, known := MapOutcome(o.Outcome)
		if !known {
			r.logger.Warn("Неизвестный вердикт маркетплейса, товар считается незавершенным",
				interfaces.LogField{Key: "batch_id", Value: batchID},
				interfaces.LogField{Key: "sku", Value: o.SKU},
				interfaces.LogField{Key: "outcome", Value: o.Outcome},
			)
		}

		update := models.ItemOutcomeUpdate{
			BatchID:     batchID,
			SKU:         o.SKU,
			Status:      status,
			ExternalID:  o.ExternalID,
			ProcessedAt: now,
		}
		if status == models.ItemStatusError {
			detail := o.ErrorDetails
			update.ErrorDetail = &detail
		}

		found, err := r.store.UpsertItemOutcome(ctx, update)
		if err != nil {
			return fmt.Errorf("failed to apply outcome for sku %s: %w", o.SKU, err)
		}
		if !found {
			r.logger.Warn("Вердикт по SKU, которого нет в пакете",
				interfaces.LogField{Key: "batch_id", Value: batchID},
				interfaces.LogField{Key: "sku", Value: o.SKU},
			)
			continue
		}
		r.metrics.ItemOutcome(status.String())
	}
	return nil
}

// repair выводит строки заново из свежего полного отчета, не доверяя
// локальным счетчикам. Если расхождение сохраняется, счетчики берутся из строк,
// а расхождение фиксируется в LastError.
func (r *Reconciler) repair(ctx context.Context, batch *models.Batch, counts models.ItemCounts, stale *models.SubmissionResult, now time.Time) (models.ItemCounts, error) {
	r.metrics.ConsistencyRepair()
	r.logger.WithBatch(batch.ID).Warn("Счетчики пакета расходятся с отчетом маркетплейса, пересборка из отчета",
		interfaces.LogField{Key: "local_success", Value: counts.Success},
		interfaces.LogField{Key: "local_failed", Value: counts.Error},
		interfaces.LogField{Key: "remote_success", Value: stale.SucceededCount},
		interfaces.LogField{Key: "remote_failed", Value: stale.FailedCount},
	)

	fresh, err := r.FetchAllOutcomes(ctx, *batch.SubmissionID)
	if err != nil || fresh == nil || !fresh.Complete {
		// свежий отчет не получен - используем уже полученный полный
		fresh = stale
	}
	if err := r.applyOutcomes(ctx, batch.ID, fresh.ItemOutcomes, now); err != nil {
		return counts, err
	}

	recounted, err := r.store.CountItems(ctx, batch.ID)
	if err != nil {
		return counts, fmt.Errorf("failed to recount items: %w", err)
	}
	if recounted.Success != fresh.SucceededCount || recounted.Error != fresh.FailedCount {
		batch.LastError = fmt.Sprintf("%v: local %d/%d, remote %d/%d", models.ErrConsistency,
			recounted.Success, recounted.Error, fresh.SucceededCount, fresh.FailedCount)
	}
	return recounted, nil
}

// RecomputeMaster пересчитывает мастер по согласованному снимку всех чанков
func (r *Reconciler) RecomputeMaster(ctx context.Context, masterID string) (*models.Batch, error) {
	r.masterMu.Lock()
	defer r.masterMu.Unlock()

	master, err := r.store.GetBatch(ctx, masterID)
	if err != nil {
		return nil, fmt.Errorf("failed to get master batch: %w", err)
	}
	if master == nil {
		return nil, models.ErrBatchNotFound
	}
	if master.IsLeaf() {
		return master, nil
	}

	chunks, err := r.store.SnapshotChunks(ctx, masterID)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunk snapshot: %w", err)
	}

	previous := master.Status
	if !AggregateChunks(chunks).Apply(master) {
		return master, nil
	}
	master.UpdatedAt = r.now()
	if err := r.store.UpdateBatch(ctx, master); err != nil {
		return nil, fmt.Errorf("failed to update master batch: %w", err)
	}
	r.announce(ctx, previous, master)
	return master, nil
}

func (r *Reconciler) announce(ctx context.Context, previous models.BatchStatus, batch *models.Batch) {
	if previous == batch.Status {
		return
	}
	switch batch.Status {
	case models.BatchStatusCompleted:
		publishEvent(ctx, r.events, r.logger, models.EventBatchCompleted, batch)
	case models.BatchStatusError:
		publishEvent(ctx, r.events, r.logger, models.EventBatchFailed, batch)
	default:
		publishEvent(ctx, r.events, r.logger, models.EventBatchProgress, batch)
	}
}

// PollDue опрашивает все пакеты, ожидающие результата. Каждый пакет защищен
// распределенной блокировкой, чтобы два воркера не сверяли его одновременно.
// Возвращает число опрошенных пакетов.
func (r *Reconciler) PollDue(ctx context.Context) (int, error) {
	limit := r.cfg.BatchLimit
	if limit <= 0 {
		limit = DefaultPollingConfig().BatchLimit
	}
	batches, err := r.store.ListPollable(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list pollable batches: %w", err)
	}
	r.metrics.SetPending(len(batches))

	g, gctx := errgroup.WithContext(ctx)
	if r.cfg.Concurrency > 0 {
		g.SetLimit(r.cfg.Concurrency)
	}
	polled := make([]bool, len(batches))
	for i, b := range batches {
		i, b := i, b
		g.Go(func() error {
			ok, err := r.pollLocked(gctx, b)
			if err != nil {
				r.logger.Warn("Ошибка опроса пакета",
					interfaces.LogField{Key: "batch_id", Value: b.ID},
					interfaces.LogField{Key: "error", Value: err.Error()},
				)
			}
			polled[i] = ok
			return nil
		})
	}
	_ = g.Wait()

	// мастера пересчитываются после опроса всех чанков, по одному разу
	count := 0
	parents := make(map[string]struct{})
	for i, ok := range polled {
		if !ok {
			continue
		}
		count++
		if parent := batches[i].Parent(); parent != "" {
			if _, done := parents[parent]; done {
				continue
			}
			parents[parent] = struct{}{}
			if _, err := r.RecomputeMaster(ctx, parent); err != nil {
				r.logger.Warn("Не удалось пересчитать мастер-пакет",
					interfaces.LogField{Key: "batch_id", Value: parent},
					interfaces.LogField{Key: "error", Value: err.Error()},
				)
			}
		}
	}
	return count, ctx.Err()
}

func (r *Reconciler) pollLocked(ctx context.Context, batch *models.Batch) (bool, error) {
	batchID := batch.ID
	if r.locks != nil {
		key := pollLockPrefix + batchID
		acquired, err := r.locks.Lock(ctx, key, r.cfg.LockTTL)
		if err != nil {
			return false, fmt.Errorf("failed to acquire poll lock: %w", err)
		}
		if !acquired {
			return false, nil
		}
		defer func() {
			if err := r.locks.Unlock(context.WithoutCancel(ctx), key); err != nil {
				r.logger.Warn("Не удалось снять блокировку опроса",
					interfaces.LogField{Key: "batch_id", Value: batchID},
					interfaces.LogField{Key: "error", Value: err.Error()},
				)
			}
		}()
	}

	_, err := r.reconcile(ctx, batchID, false)
	return true, err
}

// Abandon прекращает опрос пакета и всех его чанков. Это только локальная
// отметка: идентификаторы и уже отправленные данные не затрагиваются.
func (r *Reconciler) Abandon(ctx context.Context, batchID string) (*models.Batch, error) {
	batch, err := r.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	if batch == nil {
		return nil, models.ErrBatchNotFound
	}

	targets := []*models.Batch{batch}
	if !batch.IsLeaf() {
		chunks, err := r.store.ListChunks(ctx, batch.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list chunks: %w", err)
		}
		targets = append(targets, chunks...)
	}

	now := r.now()
	for _, b := range targets {
		if b.Abandoned {
			continue
		}
		b.Abandoned = true
		b.UpdatedAt = now
		if err := r.store.UpdateBatch(ctx, b); err != nil {
			return nil, fmt.Errorf("failed to abandon batch %s: %w", b.ID, err)
		}
	}

	r.logger.WithBatch(batch.ID).Info("Пакет брошен, опрос прекращен",
		interfaces.LogField{Key: "status", Value: batch.Status.String()},
	)
	publishEvent(ctx, r.events, r.logger, models.EventBatchAbandoned, batch)
	return batch, nil
}
