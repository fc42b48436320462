package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/athebyme/gomarket-platform/marketplace-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/metrics"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/utils"
	"github.com/athebyme/gomarket-platform/marketplace-service/pkg/interfaces"
	"golang.org/x/sync/errgroup"
)

// SubmitConfig - настройки отправки
type SubmitConfig struct {
	MaxRetries  int
	RetryWait   time.Duration
	Timeout     time.Duration
	Concurrency int
	// ClaimTTL - срок резерва пакета под отправку; должен покрывать все повторы
	ClaimTTL time.Duration
}

const defaultClaimTTL = 10 * time.Minute

// Submitter отправляет собранные пакеты на маркетплейс
type Submitter struct {
	store     BatchStore
	transport SubmissionTransport
	events    EventPublisher
	cfg       SubmitConfig
	logger    interfaces.LoggerPort
	metrics   *metrics.Collector
	now       func() time.Time
}

func NewSubmitter(store BatchStore, transport SubmissionTransport, events EventPublisher, cfg SubmitConfig, logger interfaces.LoggerPort, m *metrics.Collector) *Submitter {
	return &Submitter{
		store:     store,
		transport: transport,
		events:    events,
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Submit отправляет пакет. Для мастера с чанками чанки отправляются
// параллельно, после чего статус мастера пересчитывается из чанков.
func (s *Submitter) Submit(ctx context.Context, batchID string) (*models.Batch, error) {
	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	if batch == nil {
		return nil, models.ErrBatchNotFound
	}

	if batch.IsLeaf() {
		return s.submitLeaf(ctx, batch)
	}

	chunks, err := s.store.ListChunks(ctx, batch.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	if s.cfg.Concurrency > 0 {
		g.SetLimit(s.cfg.Concurrency)
	}
	failures := make([]error, len(chunks))
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			// ошибка одного чанка не отменяет отправку остальных
			_, failures[i] = s.submitLeaf(gctx, chunk)
			return nil
		})
	}
	_ = g.Wait()

	snapshot, err := s.store.SnapshotChunks(ctx, batch.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunk snapshot: %w", err)
	}
	if AggregateChunks(snapshot).Apply(batch) {
		batch.UpdatedAt = s.now()
		if err := s.store.UpdateBatch(ctx, batch); err != nil {
			return nil, fmt.Errorf("failed to update master batch: %w", err)
		}
	}

	return batch, errors.Join(failures...)
}

// submitLeaf отправляет один конверт с ограниченным числом повторов.
// Успех переводит пакет в SUBMITTED; исчерпание повторов - в ERROR без идентификатора отправки.
func (s *Submitter) submitLeaf(ctx context.Context, batch *models.Batch) (*models.Batch, error) {
	log := s.logger.WithBatch(batch.ID)

	if batch.Abandoned {
		return batch, nil
	}
	if batch.Status != models.BatchStatusBuilding {
		// уже отправлен или завершен: повторная отправка создала бы дубль на маркетплейсе
		return batch, nil
	}

	ttl := s.cfg.ClaimTTL
	if ttl <= 0 {
		ttl = defaultClaimTTL
	}
	claimed, err := s.store.ClaimSubmission(ctx, batch.ID, s.now(), ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to claim batch: %w", err)
	}
	if !claimed {
		log.Info("Пакет уже отправляется другим процессом")
		current, err := s.store.GetBatch(ctx, batch.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to get batch: %w", err)
		}
		if current == nil {
			return nil, models.ErrBatchNotFound
		}
		return current, nil
	}

	envelope, err := s.store.GetEnvelope(ctx, batch.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load envelope: %w", err)
	}
	if envelope == nil {
		return nil, fmt.Errorf("envelope of batch %s is missing", batch.ID)
	}

	var submissionID string
	err = utils.Retry(ctx, s.cfg.MaxRetries, s.cfg.RetryWait, func(ctx context.Context, attempt int) error {
		callCtx, cancel := s.callContext(ctx)
		defer cancel()

		id, err := s.transport.Submit(callCtx, envelope)
		if err == nil && strings.TrimSpace(id) == "" {
			err = fmt.Errorf("%w: empty submission id", models.ErrMalformedResponse)
		}
		if err != nil {
			log.Warn("Ошибка отправки пакета",
				interfaces.LogField{Key: "attempt", Value: attempt},
				interfaces.LogField{Key: "error", Value: err.Error()},
			)
			return err
		}
		submissionID = strings.TrimSpace(id)
		return nil
	})

	batch.UpdatedAt = s.now()
	if err != nil {
		batch.Status = models.BatchStatusError
		batch.SubmissionID = nil
		batch.LastError = err.Error()
		s.metrics.Submission("error")
		if uerr := s.store.UpdateBatch(ctx, batch); uerr != nil {
			return nil, fmt.Errorf("failed to mark batch failed: %w", uerr)
		}
		log.Error("Пакет не отправлен", interfaces.LogField{Key: "error", Value: err.Error()})
		publishEvent(ctx, s.events, s.logger, models.EventBatchFailed, batch)
		return batch, fmt.Errorf("failed to submit batch %s: %w", batch.ID, err)
	}

	batch.Status = models.BatchStatusSubmitted
	batch.SubmissionID = &submissionID
	batch.LastError = ""
	s.metrics.Submission("success")
	if err := s.store.UpdateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to mark batch submitted: %w", err)
	}
	log.Info("Пакет отправлен",
		interfaces.LogField{Key: "submission_id", Value: submissionID},
		interfaces.LogField{Key: "items", Value: len(envelope.Items)},
	)
	publishEvent(ctx, s.events, s.logger, models.EventBatchSubmitted, batch)
	return batch, nil
}

func (s *Submitter) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, s.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}
