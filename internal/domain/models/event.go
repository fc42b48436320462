package models

import "time"

// FeedEventType - тип события жизненного цикла пакета
type FeedEventType string

const (
	EventBatchBuilt     FeedEventType = "batch_built"
	EventBatchSubmitted FeedEventType = "batch_submitted"
	EventBatchProgress  FeedEventType = "batch_progress"
	EventBatchCompleted FeedEventType = "batch_completed"
	EventBatchFailed    FeedEventType = "batch_failed"
	EventBatchAbandoned FeedEventType = "batch_abandoned"
)

// FeedEvent публикуется при смене состояния пакета
type FeedEvent struct {
	Type          FeedEventType `json:"type"`
	BatchID       string        `json:"batch_id"`
	ParentBatchID *string       `json:"parent_batch_id,omitempty"`
	Status        BatchStatus   `json:"status"`
	SuccessCount  int           `json:"success_count"`
	FailedCount   int           `json:"failed_count"`
	SubmissionID  *string       `json:"submission_id,omitempty"`
	Error         string        `json:"error,omitempty"`
	OccurredAt    time.Time     `json:"occurred_at"`
}

// NewFeedEvent снимает состояние пакета в событие
func NewFeedEvent(t FeedEventType, b *Batch) FeedEvent {
	return FeedEvent{
		Type:          t,
		BatchID:       b.ID,
		ParentBatchID: b.ParentBatchID,
		Status:        b.Status,
		SuccessCount:  b.SuccessCount,
		FailedCount:   b.FailedCount,
		SubmissionID:  b.SubmissionID,
		Error:         b.LastError,
		OccurredAt:    time.Now().UTC(),
	}
}

// LeafBatch - пакет, который отправляется на маркетплейс: мастер без частей или часть
type LeafBatch struct {
	Batch    *Batch
	Items    []*BatchItem
	Envelope *Envelope
}

// BatchTree - мастер-пакет со всеми отправляемыми пакетами; сохраняется атомарно
type BatchTree struct {
	Master *Batch
	Leaves []LeafBatch
}
