package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/athebyme/gomarket-platform/marketplace-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/marketplace-service/pkg/tx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation - код ошибки PostgreSQL при нарушении уникального индекса
const uniqueViolation = "23505"

// FeedStorage - хранилище выгрузки в PostgreSQL: каталог, пул идентификаторов,
// пакеты и строки по товарам
type FeedStorage struct {
	pool *pgxpool.Pool
	tx   tx.TxManager
}

// NewFeedStorage создает хранилище поверх готового пула
func NewFeedStorage(ctx context.Context, pool *pgxpool.Pool, txManager tx.TxManager) (*FeedStorage, error) {
	if pool == nil {
		return nil, errors.New("pool is nil")
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return &FeedStorage{pool: pool, tx: txManager}, nil
}

// Close закрывает соединение с БД
func (r *FeedStorage) Close() error {
	r.pool.Close()
	return nil
}

type executor interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
	SendBatch(context.Context, *pgx.Batch) pgx.BatchResults
}

// getExecutor возвращает исполнителя запросов (транзакцию или пул)
func (r *FeedStorage) getExecutor(ctx context.Context) executor {
	if t, ok := tx.GetTxFromContext(ctx); ok {
		return t
	}
	return r.pool
}

// ----------------- каталог ------------------

// GetProduct получает товар каталога по ключу
func (r *FeedStorage) GetProduct(ctx context.Context, key string) (*models.Product, error) {
	query := `
		SELECT key, base_data, updated_at
		FROM feed.products
		WHERE key = $1
	`

	var record models.ProductRecord
	err := r.getExecutor(ctx).QueryRow(ctx, query, key).Scan(&record.Key, &record.BaseData, &record.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Товар не найден
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	product, err := record.Decode()
	if err != nil {
		return nil, fmt.Errorf("failed to decode product %s: %w", key, err)
	}
	return product, nil
}

// ----------------- идентификаторы ------------------

// FindIdentifierByOwner возвращает идентификатор товара или nil, nil
func (r *FeedStorage) FindIdentifierByOwner(ctx context.Context, productKey string) (*models.Identifier, error) {
	query := `
		SELECT code, owner_product_key, claimed_at
		FROM feed.identifiers
		WHERE owner_product_key = $1
	`

	var id models.Identifier
	err := r.getExecutor(ctx).QueryRow(ctx, query, productKey).Scan(&id.Code, &id.OwnerProductKey, &id.ClaimedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find identifier: %w", err)
	}
	return &id, nil
}

// ClaimIdentifier атомарно закрепляет первый свободный код за товаром.
// Выбор и закрепление - один оператор с блокировкой строки; параллельные
// вызовы пропускают уже заблокированные строки.
func (r *FeedStorage) ClaimIdentifier(ctx context.Context, productKey string, now time.Time) (*models.Identifier, error) {
	query := `
		WITH candidate AS (
			SELECT code
			FROM feed.identifiers
			WHERE owner_product_key IS NULL
			ORDER BY code
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE feed.identifiers i
		SET owner_product_key = $1, claimed_at = $2
		FROM candidate
		WHERE i.code = candidate.code
		RETURNING i.code, i.owner_product_key, i.claimed_at
	`

	var id models.Identifier
	err := r.getExecutor(ctx).QueryRow(ctx, query, productKey, now).Scan(&id.Code, &id.OwnerProductKey, &id.ClaimedAt)
	if err == nil {
		return &id, nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		// другой процесс успел закрепить код за этим товаром
		existing, findErr := r.FindIdentifierByOwner(ctx, productKey)
		if findErr != nil {
			return nil, findErr
		}
		if existing != nil {
			return existing, nil
		}
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrPoolExhausted
	}
	return nil, fmt.Errorf("failed to claim identifier: %w", err)
}

// ReleaseIdentifier возвращает код товара в пул
func (r *FeedStorage) ReleaseIdentifier(ctx context.Context, productKey string) (bool, error) {
	query := `
		UPDATE feed.identifiers
		SET owner_product_key = NULL, claimed_at = NULL
		WHERE owner_product_key = $1
	`

	tag, err := r.getExecutor(ctx).Exec(ctx, query, productKey)
	if err != nil {
		return false, fmt.Errorf("failed to release identifier: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// IdentifierStats возвращает сводку по пулу
func (r *FeedStorage) IdentifierStats(ctx context.Context) (*models.IdentifierStats, error) {
	query := `
		SELECT count(*), count(owner_product_key)
		FROM feed.identifiers
	`

	var stats models.IdentifierStats
	if err := r.getExecutor(ctx).QueryRow(ctx, query).Scan(&stats.Total, &stats.Claimed); err != nil {
		return nil, fmt.Errorf("failed to get identifier stats: %w", err)
	}
	stats.Free = stats.Total - stats.Claimed
	return &stats, nil
}

// SeedIdentifiers добавляет свободные коды в пул; уже существующие пропускаются.
// Возвращает число добавленных кодов.
func (r *FeedStorage) SeedIdentifiers(ctx context.Context, codes []string) (int, error) {
	if len(codes) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, code := range codes {
		batch.Queue(`INSERT INTO feed.identifiers (code) VALUES ($1) ON CONFLICT (code) DO NOTHING`, code)
	}

	results := r.getExecutor(ctx).SendBatch(ctx, batch)
	defer results.Close()

	inserted := 0
	for range codes {
		tag, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("failed to seed identifier: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// ----------------- пакеты ------------------

const batchColumns = `id, parent_batch_id, product_keys, chunk_count, status, success_count, failed_count,
	declared_count, submission_id, payload_bytes, poll_attempts, abandoned, last_error, last_polled_at,
	created_at, updated_at`

func scanBatch(row pgx.Row) (*models.Batch, error) {
	var b models.Batch
	var status string
	err := row.Scan(&b.ID, &b.ParentBatchID, &b.ProductKeys, &b.ChunkCount, &status, &b.SuccessCount,
		&b.FailedCount, &b.DeclaredCount, &b.SubmissionID, &b.PayloadBytes, &b.PollAttempts, &b.Abandoned,
		&b.LastError, &b.LastPolledAt, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	b.Status = models.BatchStatus(status)
	return &b, nil
}

func collectBatches(rows pgx.Rows) ([]*models.Batch, error) {
	defer rows.Close()

	var batches []*models.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch row: %w", err)
		}
		batches = append(batches, b)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("error while iterating batch rows: %w", rows.Err())
	}
	return batches, nil
}

// CreateBatchTree сохраняет мастер, отправляемые пакеты, их конверты и строки одной транзакцией
func (r *FeedStorage) CreateBatchTree(ctx context.Context, tree *models.BatchTree) error {
	if tree == nil || tree.Master == nil {
		return errors.New("batch tree has no master")
	}

	return r.tx.Do(ctx, func(ctx context.Context) error {
		envelopes := make(map[string]*models.Envelope, len(tree.Leaves))
		for _, leaf := range tree.Leaves {
			envelopes[leaf.Batch.ID] = leaf.Envelope
		}

		if err := r.insertBatch(ctx, tree.Master, envelopes[tree.Master.ID]); err != nil {
			return err
		}
		for _, leaf := range tree.Leaves {
			if leaf.Batch.ID == tree.Master.ID {
				continue
			}
			if err := r.insertBatch(ctx, leaf.Batch, leaf.Envelope); err != nil {
				return err
			}
		}

		batch := &pgx.Batch{}
		count := 0
		for _, leaf := range tree.Leaves {
			for _, it := range leaf.Items {
				batch.Queue(`
					INSERT INTO feed.batch_items (batch_id, product_key, sku, status)
					VALUES ($1, $2, $3, $4)
				`, it.BatchID, it.ProductKey, it.SKU, it.Status.String())
				count++
			}
		}
		if count == 0 {
			return nil
		}

		results := r.getExecutor(ctx).SendBatch(ctx, batch)
		for i := 0; i < count; i++ {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("failed to save batch item: %w", err)
			}
		}
		if err := results.Close(); err != nil {
			return fmt.Errorf("failed to save batch items: %w", err)
		}
		return nil
	})
}

func (r *FeedStorage) insertBatch(ctx context.Context, b *models.Batch, envelope *models.Envelope) error {
	var envelopeJSON []byte
	if envelope != nil {
		data, err := json.Marshal(envelope)
		if err != nil {
			return fmt.Errorf("failed to marshal envelope: %w", err)
		}
		envelopeJSON = data
	}

	query := `
		INSERT INTO feed.batches (id, parent_batch_id, product_keys, chunk_count, status, success_count,
			failed_count, declared_count, submission_id, payload_bytes, poll_attempts, abandoned, last_error,
			last_polled_at, envelope, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err := r.getExecutor(ctx).Exec(ctx, query, b.ID, b.ParentBatchID, b.ProductKeys, b.ChunkCount,
		b.Status.String(), b.SuccessCount, b.FailedCount, b.DeclaredCount, b.SubmissionID, b.PayloadBytes,
		b.PollAttempts, b.Abandoned, b.LastError, b.LastPolledAt, envelopeJSON, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save batch %s: %w", b.ID, err)
	}
	return nil
}

// GetBatch получает пакет по ID
func (r *FeedStorage) GetBatch(ctx context.Context, id string) (*models.Batch, error) {
	query := `SELECT ` + batchColumns + ` FROM feed.batches WHERE id = $1`

	b, err := scanBatch(r.getExecutor(ctx).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Пакет не найден
		}
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return b, nil
}

// GetEnvelope возвращает конверт отправляемого пакета или nil, nil
func (r *FeedStorage) GetEnvelope(ctx context.Context, batchID string) (*models.Envelope, error) {
	query := `SELECT envelope FROM feed.batches WHERE id = $1`

	var data []byte
	if err := r.getExecutor(ctx).QueryRow(ctx, query, batchID).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get envelope: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var envelope models.Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	return &envelope, nil
}

// ListBatches возвращает пакеты с фильтрацией и пагинацией, новые первыми
func (r *FeedStorage) ListBatches(ctx context.Context, filter *models.BatchFilter, limit, offset int) ([]*models.Batch, int, error) {
	var conditions []string
	var args []interface{}
	for key, value := range filter.ToMap() {
		switch key {
		case "masters_only":
			conditions = append(conditions, "parent_batch_id IS NULL")
		default:
			args = append(args, value)
			conditions = append(conditions, fmt.Sprintf("%s = $%d", key, len(args)))
		}
	}
	where := genFilterConditions(conditions)

	executor := r.getExecutor(ctx)

	var total int
	if err := executor.QueryRow(ctx, `SELECT count(*) FROM feed.batches `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count batches: %w", err)
	}
	if total == 0 {
		return []*models.Batch{}, 0, nil
	}

	args = append(args, limit, offset)
	query := `SELECT ` + batchColumns + ` FROM feed.batches ` + where + fmt.Sprintf(`
		ORDER BY created_at DESC, id
		LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := executor.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list batches: %w", err)
	}
	batches, err := collectBatches(rows)
	if err != nil {
		return nil, 0, err
	}
	return batches, total, nil
}

// ListChunks возвращает чанки мастер-пакета в порядке создания
func (r *FeedStorage) ListChunks(ctx context.Context, masterID string) ([]*models.Batch, error) {
	query := `SELECT ` + batchColumns + ` FROM feed.batches WHERE parent_batch_id = $1 ORDER BY created_at, id`

	rows, err := r.getExecutor(ctx).Query(ctx, query, masterID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	return collectBatches(rows)
}

// SnapshotChunks читает все чанки мастера в одной транзакции REPEATABLE READ
func (r *FeedStorage) SnapshotChunks(ctx context.Context, masterID string) ([]*models.Batch, error) {
	var chunks []*models.Batch
	err := r.tx.DoSnapshot(ctx, func(ctx context.Context) error {
		var err error
		chunks, err = r.ListChunks(ctx, masterID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read chunk snapshot: %w", err)
	}
	return chunks, nil
}

// ListPollable возвращает отправленные незавершенные пакеты, давно не опрошенные первыми
func (r *FeedStorage) ListPollable(ctx context.Context, limit int) ([]*models.Batch, error) {
	query := `SELECT ` + batchColumns + `
		FROM feed.batches
		WHERE chunk_count = 0
			AND submission_id IS NOT NULL
			AND NOT abandoned
			AND status IN ('SUBMITTED', 'PROCESSING')
		ORDER BY last_polled_at NULLS FIRST, created_at
		LIMIT $1`

	rows, err := r.getExecutor(ctx).Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pollable batches: %w", err)
	}
	return collectBatches(rows)
}

// UpdateBatch сохраняет изменяемые поля пакета
func (r *FeedStorage) UpdateBatch(ctx context.Context, b *models.Batch) error {
	query := `
		UPDATE feed.batches
		SET status = $2,
			success_count = $3,
			failed_count = $4,
			declared_count = $5,
			submission_id = $6,
			poll_attempts = $7,
			abandoned = $8,
			last_error = $9,
			last_polled_at = $10,
			updated_at = $11
		WHERE id = $1
	`

	tag, err := r.getExecutor(ctx).Exec(ctx, query, b.ID, b.Status.String(), b.SuccessCount, b.FailedCount,
		b.DeclaredCount, b.SubmissionID, b.PollAttempts, b.Abandoned, b.LastError, b.LastPolledAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrBatchNotFound
	}
	return nil
}

// ClaimSubmission реализует services.BatchStore. Резерв истекает через ttl,
// чтобы пакет упавшего процесса можно было отправить снова.
func (r *FeedStorage) ClaimSubmission(ctx context.Context, batchID string, now time.Time, ttl time.Duration) (bool, error) {
	query := `
		UPDATE feed.batches
		SET submit_claimed_at = $2
		WHERE id = $1
			AND status = 'BUILDING'
			AND NOT abandoned
			AND (submit_claimed_at IS NULL OR submit_claimed_at < $3)
	`

	tag, err := r.getExecutor(ctx).Exec(ctx, query, batchID, now, now.Add(-ttl))
	if err != nil {
		return false, fmt.Errorf("failed to claim batch for submission: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ----------------- строки пакета ------------------

// ListItems возвращает строки пакета
func (r *FeedStorage) ListItems(ctx context.Context, batchID string) ([]*models.BatchItem, error) {
	query := `
		SELECT batch_id, product_key, sku, status, error_detail, external_id, processed_at
		FROM feed.batch_items
		WHERE batch_id = $1
		ORDER BY sku
	`

	rows, err := r.getExecutor(ctx).Query(ctx, query, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list batch items: %w", err)
	}
	defer rows.Close()

	var items []*models.BatchItem
	for rows.Next() {
		var it models.BatchItem
		var status string
		if err := rows.Scan(&it.BatchID, &it.ProductKey, &it.SKU, &status, &it.ErrorDetail, &it.ExternalID, &it.ProcessedAt); err != nil {
			return nil, fmt.Errorf("failed to scan batch item row: %w", err)
		}
		it.Status = models.ItemStatus(status)
		items = append(items, &it)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("error while iterating batch item rows: %w", rows.Err())
	}
	return items, nil
}

// UpsertItemOutcome атомарно обновляет строку по SKU; false - такой строки нет
func (r *FeedStorage) UpsertItemOutcome(ctx context.Context, u models.ItemOutcomeUpdate) (bool, error) {
	query := `
		UPDATE feed.batch_items
		SET status = $3,
			error_detail = $4,
			external_id = COALESCE(NULLIF($5, ''), external_id),
			processed_at = CASE WHEN $3 IN ('SUCCESS', 'ERROR') THEN $6 ELSE processed_at END
		WHERE batch_id = $1 AND sku = $2
	`

	tag, err := r.getExecutor(ctx).Exec(ctx, query, u.BatchID, u.SKU, u.Status.String(), u.ErrorDetail, u.ExternalID, u.ProcessedAt)
	if err != nil {
		return false, fmt.Errorf("failed to update batch item: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CountItems считает строки пакета по состояниям
func (r *FeedStorage) CountItems(ctx context.Context, batchID string) (models.ItemCounts, error) {
	query := `
		SELECT status, count(*)
		FROM feed.batch_items
		WHERE batch_id = $1
		GROUP BY status
	`

	var counts models.ItemCounts
	rows, err := r.getExecutor(ctx).Query(ctx, query, batchID)
	if err != nil {
		return counts, fmt.Errorf("failed to count batch items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return counts, fmt.Errorf("failed to scan item count: %w", err)
		}
		switch models.ItemStatus(status) {
		case models.ItemStatusSuccess:
			counts.Success += n
		case models.ItemStatusError:
			counts.Error += n
		case models.ItemStatusInProgress:
			counts.InProgress += n
		default:
			counts.Pending += n
		}
	}
	if rows.Err() != nil {
		return counts, fmt.Errorf("error while iterating item counts: %w", rows.Err())
	}
	return counts, nil
}

func genFilterConditions(conditions []string) string {
	if len(conditions) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(conditions, " AND ")
}
