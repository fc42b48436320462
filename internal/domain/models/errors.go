package models

import (
	"errors"
	"fmt"
)

var (
	// ErrPoolExhausted - в пуле не осталось свободных идентификаторов
	ErrPoolExhausted = errors.New("identifier pool exhausted")
	// ErrTransport - сбой вызова маркетплейса на сетевом уровне
	ErrTransport = errors.New("marketplace transport error")
	// ErrMalformedResponse - маркетплейс вернул ответ, который нельзя использовать
	ErrMalformedResponse = errors.New("malformed marketplace response")
	// ErrShortPage - страница статуса короче ожидаемой
	ErrShortPage = errors.New("short status page")
	// ErrConsistency - локальные счетчики расходятся с отчетом маркетплейса
	ErrConsistency = errors.New("batch counts disagree with remote totals")
	// ErrBatchNotFound - пакет не найден
	ErrBatchNotFound = errors.New("batch not found")
	// ErrNotSubmitted - у пакета нет идентификатора отправки
	ErrNotSubmitted = errors.New("batch has no submission id")
	// ErrUnknownStrategy - правило сопоставления не удалось разобрать
	ErrUnknownStrategy = errors.New("unknown mapping strategy")
	// ErrSpecNotFound - спецификация поля отсутствует
	ErrSpecNotFound = errors.New("field spec not found")
	// ErrSpecSourceUnavailable - источник спецификаций недоступен
	ErrSpecSourceUnavailable = errors.New("spec source unavailable")
)

// Причины отклонения товара при сборке пакета
const (
	RejectProductNotFound     = "product_not_found"
	RejectMissingSKU          = "missing_sku"
	RejectInvalidPrice        = "invalid_price"
	RejectMissingName         = "missing_name"
	RejectUnpublishableStatus = "unpublishable_status"
	RejectNoCategoryMapping   = "no_category_mapping"
	RejectDuplicateKey        = "duplicate_key"
	RejectDuplicateSKU        = "duplicate_sku"
	RejectPoolExhausted       = "identifier_pool_exhausted"
	RejectLoadFailed          = "product_load_failed"
	RejectAllocationFailed    = "identifier_allocation_failed"
)

// ValidationError - некорректные данные товара; товар пропускается
type ValidationError struct {
	ProductKey string
	Reason     string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("product %s rejected: %s", e.ProductKey, e.Reason)
}

// MappingError - несоответствие правила и спецификации; поле опускается
type MappingError struct {
	ProductKey string
	Field      string
	Reason     string
	Err        error
}

func (e *MappingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("field %s of product %s: %s: %v", e.Field, e.ProductKey, e.Reason, e.Err)
	}
	return fmt.Sprintf("field %s of product %s: %s", e.Field, e.ProductKey, e.Reason)
}

func (e *MappingError) Unwrap() error { return e.Err }

// IngestionError - вердикт маркетплейса об ошибке по одному товару
type IngestionError struct {
	SKU     string
	Outcome string
	Detail  string
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("sku %s: %s: %s", e.SKU, e.Outcome, e.Detail)
}

// Rejection - товар, не попавший в выгрузку, с причиной
type Rejection struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}
