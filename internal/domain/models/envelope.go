package models

// EnvelopeHeader - общий заголовок выгрузки, одинаковый для всех товаров пакета
type EnvelopeHeader struct {
	SubmissionContext string `json:"submissionContext"`
	Locale            string `json:"locale"`
	SchemaVersion     string `json:"schemaVersion"`
}

// TargetPayload - типизированная запись одного товара в схеме маркетплейса
type TargetPayload struct {
	SKU         string                 `json:"sku"`
	ProductKey  string                 `json:"-"`
	Identifier  string                 `json:"productIdentifier"`
	ProductType string                 `json:"productType"`
	Attributes  map[string]interface{} `json:"attributes"`
}

// Envelope - одна отправка на маркетплейс
type Envelope struct {
	Header EnvelopeHeader  `json:"header"`
	Items  []TargetPayload `json:"items"`
}

// Measurement - значение с единицей измерения
type Measurement struct {
	Measure float64 `json:"measure"`
	Unit    string  `json:"unit"`
}

// ItemOutcome - вердикт маркетплейса по одному товару
type ItemOutcome struct {
	SKU          string `json:"sku"`
	Outcome      string `json:"outcome"`
	ErrorDetails string `json:"errorDetails,omitempty"`
	ExternalID   string `json:"externalId,omitempty"`
}

// StatusPage - одна страница статуса отправки
type StatusPage struct {
	SubmissionID string        `json:"submissionId"`
	Declared     int           `json:"declaredTotal"`
	Succeeded    int           `json:"succeeded"`
	Failed       int           `json:"failed"`
	Processing   int           `json:"processing"`
	ItemOutcomes []ItemOutcome `json:"itemOutcomes"`
}

// SubmissionResult - результат отправки, собранный со всех страниц
type SubmissionResult struct {
	SubmissionID    string
	DeclaredCount   int
	SucceededCount  int
	FailedCount     int
	ProcessingCount int
	ItemOutcomes    []ItemOutcome
	// Complete - получены все DeclaredCount вердиктов
	Complete bool
}
