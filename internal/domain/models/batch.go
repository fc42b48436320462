package models

import "time"

// BatchStatus - состояние пакета (или чанка) выгрузки
type BatchStatus string

const (
	BatchStatusBuilding   BatchStatus = "BUILDING"
	BatchStatusSubmitted  BatchStatus = "SUBMITTED"
	BatchStatusProcessing BatchStatus = "PROCESSING"
	BatchStatusCompleted  BatchStatus = "COMPLETED"
	BatchStatusError      BatchStatus = "ERROR"
)

func (s BatchStatus) String() string { return string(s) }

// IsTerminal сообщает, что пакет больше не опрашивается
func (s BatchStatus) IsTerminal() bool {
	return s == BatchStatusCompleted || s == BatchStatusError
}

// IsValid проверяет, что статус входит в закрытый набор
func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusBuilding, BatchStatusSubmitted, BatchStatusProcessing, BatchStatusCompleted, BatchStatusError:
		return true
	}
	return false
}

// Batch - пакет выгрузки. Пакет без родителя - мастер, с родителем - чанк.
type Batch struct {
	ID            string      `json:"id"`
	ParentBatchID *string     `json:"parent_batch_id,omitempty"`
	ProductKeys   []string    `json:"product_keys"`
	ChunkCount    int         `json:"chunk_count"` // 0 - пакет отправляется сам, иначе только через чанки
	Status        BatchStatus `json:"status"`
	SuccessCount  int         `json:"success_count"`
	FailedCount   int         `json:"failed_count"`
	DeclaredCount int         `json:"declared_count"` // число товаров, принятых маркетплейсом по его отчету
	SubmissionID  *string     `json:"submission_id,omitempty"`
	PayloadBytes  int         `json:"payload_bytes"`
	PollAttempts  int         `json:"poll_attempts"`
	Abandoned     bool        `json:"abandoned"`
	LastError     string      `json:"last_error,omitempty"`
	LastPolledAt  *time.Time  `json:"last_polled_at,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// IsMaster сообщает, что пакет является мастером
func (b *Batch) IsMaster() bool {
	return b.ParentBatchID == nil
}

// IsLeaf сообщает, что пакет отправляется на маркетплейс сам
func (b *Batch) IsLeaf() bool {
	return b.ChunkCount == 0
}

// Parent возвращает идентификатор мастера или пустую строку
func (b *Batch) Parent() string {
	if b.ParentBatchID == nil {
		return ""
	}
	return *b.ParentBatchID
}

// Submission возвращает идентификатор отправки или пустую строку
func (b *Batch) Submission() string {
	if b.SubmissionID == nil {
		return ""
	}
	return *b.SubmissionID
}

// ItemStatus - локальная трехзначная (плюс ожидание) таксономия результата по товару
type ItemStatus string

const (
	ItemStatusPending    ItemStatus = "PENDING"
	ItemStatusSuccess    ItemStatus = "SUCCESS"
	ItemStatusError      ItemStatus = "ERROR"
	ItemStatusInProgress ItemStatus = "INPROGRESS"
)

func (s ItemStatus) String() string { return string(s) }

// IsTerminal сообщает, что по товару получен окончательный вердикт
func (s ItemStatus) IsTerminal() bool {
	return s == ItemStatusSuccess || s == ItemStatusError
}

// BatchItem - одна строка на товар в пакете/чанке
type BatchItem struct {
	BatchID     string     `json:"batch_id"`
	ProductKey  string     `json:"product_key"`
	SKU         string     `json:"sku"`
	Status      ItemStatus `json:"status"`
	ErrorDetail *string    `json:"error_detail,omitempty"`
	ExternalID  string     `json:"external_id,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// ItemCounts - количество строк пакета в каждом состоянии
type ItemCounts struct {
	Pending    int `json:"pending"`
	Success    int `json:"success"`
	Error      int `json:"error"`
	InProgress int `json:"in_progress"`
}

// Total возвращает общее количество строк
func (c ItemCounts) Total() int {
	return c.Pending + c.Success + c.Error + c.InProgress
}

// Terminal возвращает количество строк с окончательным вердиктом
func (c ItemCounts) Terminal() int {
	return c.Success + c.Error
}

// Add учитывает одну строку в соответствующем счетчике
func (c *ItemCounts) Add(status ItemStatus) {
	switch status {
	case ItemStatusSuccess:
		c.Success++
	case ItemStatusError:
		c.Error++
	case ItemStatusInProgress:
		c.InProgress++
	default:
		c.Pending++
	}
}

// ItemOutcomeUpdate - атомарное изменение одной строки по SKU
type ItemOutcomeUpdate struct {
	BatchID     string
	SKU         string
	Status      ItemStatus
	ErrorDetail *string
	ExternalID  string
	ProcessedAt time.Time
}
