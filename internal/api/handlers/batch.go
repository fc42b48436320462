package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/athebyme/gomarket-platform/marketplace-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/domain/services"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/utils"
	"github.com/athebyme/gomarket-platform/marketplace-service/pkg/interfaces"
	pkgutils "github.com/athebyme/gomarket-platform/marketplace-service/pkg/utils"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
)

// maxProductKeys - сколько товаров принимает один запрос сборки
const maxProductKeys = 10000

// FeedService - операции выгрузки, доступные через API
type FeedService interface {
	BuildAndSubmit(ctx context.Context, productKeys []string) (*services.BuildResult, error)
	Submit(ctx context.Context, batchID string) (*models.Batch, error)
	Poll(ctx context.Context, batchID string) (*models.Batch, error)
	Abandon(ctx context.Context, batchID string) (*models.Batch, error)
	GetBatch(ctx context.Context, batchID string) (*models.Batch, error)
	ListBatches(ctx context.Context, filter *models.BatchFilter, pagination *pkgutils.Pagination) ([]*models.Batch, error)
	ListItems(ctx context.Context, batchID string) ([]*models.BatchItem, error)
	ListChunks(ctx context.Context, batchID string) ([]*models.Batch, error)
	IdentifierStats(ctx context.Context) (*models.IdentifierStats, error)
	RefreshSpecs(ctx context.Context, categoryKey string) error
}

// BuildQueue ставит сборку в очередь воркера
type BuildQueue interface {
	EnqueueBuild(ctx context.Context, productKeys []string) error
}

// BatchHandler обработчик запросов к пакетам выгрузки
type BatchHandler struct {
	feed   FeedService
	queue  BuildQueue
	logger interfaces.LoggerPort
}

// NewBatchHandler создает новый обработчик. queue может быть nil:
// тогда асинхронная сборка недоступна.
func NewBatchHandler(feed FeedService, queue BuildQueue, logger interfaces.LoggerPort) *BatchHandler {
	return &BatchHandler{feed: feed, queue: queue, logger: logger}
}

// errorResponse представляет структуру ответа с ошибкой
type errorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// response представляет структуру успешного ответа
type response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
	Warning string      `json:"warning,omitempty"`
}

type buildRequest struct {
	ProductKeys []string `json:"product_keys"`
	Async       bool     `json:"async"`
}

type buildResponse struct {
	Master   *models.Batch      `json:"master,omitempty"`
	Leaves   []*models.Batch    `json:"leaves,omitempty"`
	Accepted int                `json:"accepted"`
	Rejected []models.Rejection `json:"rejected"`
	Issues   []buildIssue       `json:"issues,omitempty"`
	Queued   bool               `json:"queued,omitempty"`
}

type buildIssue struct {
	ProductKey string `json:"product_key"`
	Field      string `json:"field"`
	Reason     string `json:"reason"`
}

type batchDetails struct {
	*models.Batch
	Chunks []*models.Batch `json:"chunks,omitempty"`
}

type refreshRequest struct {
	CategoryKey string `json:"category_key"`
}

func (h *BatchHandler) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: code, Code: status, Message: message})
}

// writeServiceError переводит ошибки домена в HTTP-статусы
func (h *BatchHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, action string) {
	switch {
	case errors.Is(err, models.ErrBatchNotFound):
		h.writeError(w, r, http.StatusNotFound, "not_found", "Пакет не найден")
	case errors.Is(err, utils.ErrEmptyProductKeys), errors.Is(err, utils.ErrInvalidBatchID):
		h.writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, models.ErrNotSubmitted):
		h.writeError(w, r, http.StatusConflict, "conflict", "Пакет еще не отправлен")
	default:
		h.logger.ErrorWithContext(r.Context(), action,
			interfaces.LogField{Key: "error", Value: err.Error()})
		h.writeError(w, r, http.StatusInternalServerError, "internal_error", action)
	}
}

// batchID читает и проверяет идентификатор пакета из URL
func (h *BatchHandler) batchID(r *http.Request) (string, error) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		return "", utils.ErrInvalidBatchID
	}
	return id, nil
}

// BuildBatch собирает и отправляет пакет из списка товаров
// @Summary Собрать пакет выгрузки
// @Description Проверяет товары, выдает идентификаторы, собирает и отправляет пакет. С async=true сборка ставится в очередь воркера.
// @Tags batches
// @Accept json
// @Produce json
// @Param request body buildRequest true "Ключи товаров"
// @Success 201 {object} response{data=buildResponse}
// @Success 202 {object} response{data=buildResponse}
// @Failure 400 {object} errorResponse
// @Failure 413 {object} errorResponse
// @Failure 422 {object} response{data=buildResponse}
// @Failure 503 {object} errorResponse
// @Security BearerAuth
// @Router /batches [post]
func (h *BatchHandler) BuildBatch(w http.ResponseWriter, r *http.Request) {
	var req buildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "bad_request", "Некорректное тело запроса")
		return
	}
	if len(req.ProductKeys) == 0 {
		h.writeServiceError(w, r, utils.ErrEmptyProductKeys, "")
		return
	}
	if len(req.ProductKeys) > maxProductKeys {
		h.writeError(w, r, http.StatusRequestEntityTooLarge, "too_large",
			"Слишком много товаров в одном запросе: максимум "+strconv.Itoa(maxProductKeys))
		return
	}

	if req.Async {
		if h.queue == nil {
			h.writeError(w, r, http.StatusServiceUnavailable, "unavailable", "Очередь сборки не настроена")
			return
		}
		if err := h.queue.EnqueueBuild(r.Context(), req.ProductKeys); err != nil {
			h.writeServiceError(w, r, err, "Ошибка постановки сборки в очередь")
			return
		}
		render.Status(r, http.StatusAccepted)
		render.JSON(w, r, response{Success: true, Data: buildResponse{Queued: true, Rejected: []models.Rejection{}}})
		return
	}

	result, err := h.feed.BuildAndSubmit(r.Context(), req.ProductKeys)
	if result == nil {
		h.writeServiceError(w, r, err, "Ошибка сборки пакета")
		return
	}

	body := buildResponse{
		Master:   result.Master,
		Leaves:   result.Leaves,
		Accepted: result.Accepted,
		Rejected: result.Rejected,
	}
	if body.Rejected == nil {
		body.Rejected = []models.Rejection{}
	}
	for _, issue := range result.Issues {
		body.Issues = append(body.Issues, buildIssue{ProductKey: issue.ProductKey, Field: issue.Field, Reason: issue.Reason})
	}

	resp := response{Success: true, Data: body}
	status := http.StatusCreated
	if result.Master == nil {
		// ни один товар не прошел проверку
		status = http.StatusUnprocessableEntity
		resp.Success = false
	}
	if err != nil {
		// частичный результат: пул исчерпан или часть чанков не отправлена
		resp.Warning = err.Error()
		h.logger.WarnWithContext(r.Context(), "Пакет собран частично",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}

	render.Status(r, status)
	render.JSON(w, r, resp)
}

// GetBatch возвращает пакет вместе с его чанками
// @Summary Получить пакет
// @Tags batches
// @Produce json
// @Param id path string true "ID пакета"
// @Success 200 {object} response{data=batchDetails}
// @Failure 400 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Security BearerAuth
// @Router /batches/{id} [get]
func (h *BatchHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	id, err := h.batchID(r)
	if err != nil {
		h.writeServiceError(w, r, err, "")
		return
	}

	batch, err := h.feed.GetBatch(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err, "Ошибка получения пакета")
		return
	}

	details := batchDetails{Batch: batch}
	if !batch.IsLeaf() {
		chunks, err := h.feed.ListChunks(r.Context(), id)
		if err != nil {
			h.writeServiceError(w, r, err, "Ошибка получения чанков")
			return
		}
		details.Chunks = chunks
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response{Success: true, Data: details})
}

// ListBatches возвращает список пакетов с фильтрацией и пагинацией
// @Summary Список пакетов
// @Tags batches
// @Produce json
// @Param status query string false "Статус пакета"
// @Param parent_id query string false "ID мастер-пакета"
// @Param masters_only query bool false "Только мастер-пакеты"
// @Param abandoned query bool false "Брошенные пакеты"
// @Param page query int false "Номер страницы"
// @Param page_size query int false "Размер страницы"
// @Success 200 {object} response{data=[]models.Batch}
// @Failure 400 {object} errorResponse
// @Security BearerAuth
// @Router /batches [get]
func (h *BatchHandler) ListBatches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))
	pagination := pkgutils.NewPagination(page, pageSize, "", true)

	filter := &models.BatchFilter{
		ParentID:    q.Get("parent_id"),
		MastersOnly: q.Get("masters_only") == "true",
	}
	if status := strings.ToUpper(q.Get("status")); status != "" {
		filter.Status = models.BatchStatus(status)
		if !filter.Status.IsValid() {
			h.writeError(w, r, http.StatusBadRequest, "bad_request", "Неизвестный статус пакета")
			return
		}
	}
	if abandoned := q.Get("abandoned"); abandoned != "" {
		v, err := strconv.ParseBool(abandoned)
		if err != nil {
			h.writeError(w, r, http.StatusBadRequest, "bad_request", "Параметр abandoned должен быть true или false")
			return
		}
		filter.Abandoned = &v
	}

	batches, err := h.feed.ListBatches(r.Context(), filter, pagination)
	if err != nil {
		h.writeServiceError(w, r, err, "Ошибка получения списка пакетов")
		return
	}
	if batches == nil {
		batches = []*models.Batch{}
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response{Success: true, Data: batches, Meta: pagination})
}

// ListItems возвращает строки пакета по товарам
// @Summary Строки пакета
// @Tags batches
// @Produce json
// @Param id path string true "ID пакета"
// @Success 200 {object} response{data=[]models.BatchItem,meta=models.ItemCounts}
// @Failure 400 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Security BearerAuth
// @Router /batches/{id}/items [get]
func (h *BatchHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	id, err := h.batchID(r)
	if err != nil {
		h.writeServiceError(w, r, err, "")
		return
	}

	items, err := h.feed.ListItems(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err, "Ошибка получения строк пакета")
		return
	}
	if items == nil {
		items = []*models.BatchItem{}
	}

	var counts models.ItemCounts
	for _, it := range items {
		counts.Add(it.Status)
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response{Success: true, Data: items, Meta: counts})
}

// batchAction выполняет операцию над пакетом и возвращает его новое состояние
func (h *BatchHandler) batchAction(action func(ctx context.Context, id string) (*models.Batch, error), failure string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := h.batchID(r)
		if err != nil {
			h.writeServiceError(w, r, err, "")
			return
		}

		batch, err := action(r.Context(), id)
		if batch == nil {
			if err == nil {
				err = models.ErrBatchNotFound
			}
			h.writeServiceError(w, r, err, failure)
			return
		}

		resp := response{Success: err == nil, Data: batch}
		if err != nil {
			resp.Warning = err.Error()
		}
		render.Status(r, http.StatusOK)
		render.JSON(w, r, resp)
	}
}

// SubmitBatch повторно отправляет собранный, но не отправленный пакет
// @Summary Отправить пакет
// @Tags batches
// @Produce json
// @Param id path string true "ID пакета"
// @Success 200 {object} response{data=models.Batch}
// @Failure 404 {object} errorResponse
// @Security BearerAuth
// @Router /batches/{id}/submit [post]
func (h *BatchHandler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	h.batchAction(h.feed.Submit, "Ошибка отправки пакета")(w, r)
}

// PollBatch выполняет внеочередной цикл сверки пакета
// @Summary Сверить пакет
// @Tags batches
// @Produce json
// @Param id path string true "ID пакета"
// @Success 200 {object} response{data=models.Batch}
// @Failure 404 {object} errorResponse
// @Failure 409 {object} errorResponse
// @Security BearerAuth
// @Router /batches/{id}/poll [post]
func (h *BatchHandler) PollBatch(w http.ResponseWriter, r *http.Request) {
	h.batchAction(h.feed.Poll, "Ошибка сверки пакета")(w, r)
}

// AbandonBatch прекращает отслеживание пакета
// @Summary Бросить пакет
// @Tags batches
// @Produce json
// @Param id path string true "ID пакета"
// @Success 200 {object} response{data=models.Batch}
// @Failure 404 {object} errorResponse
// @Security BearerAuth
// @Router /batches/{id}/abandon [post]
func (h *BatchHandler) AbandonBatch(w http.ResponseWriter, r *http.Request) {
	h.batchAction(h.feed.Abandon, "Ошибка отказа от пакета")(w, r)
}

// IdentifierStats возвращает сводку по пулу идентификаторов
// @Summary Статистика пула идентификаторов
// @Tags identifiers
// @Produce json
// @Success 200 {object} response{data=models.IdentifierStats}
// @Security BearerAuth
// @Router /identifiers/stats [get]
func (h *BatchHandler) IdentifierStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.feed.IdentifierStats(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err, "Ошибка получения статистики пула")
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, response{Success: true, Data: stats})
}

// RefreshSpecs сбрасывает кэш спецификаций категории (или весь, если категория не указана)
// @Summary Обновить спецификации
// @Tags specs
// @Accept json
// @Produce json
// @Param request body refreshRequest false "Категория"
// @Success 200 {object} response
// @Failure 400 {object} errorResponse
// @Failure 502 {object} errorResponse
// @Security BearerAuth
// @Router /specs/refresh [post]
func (h *BatchHandler) RefreshSpecs(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, r, http.StatusBadRequest, "bad_request", "Некорректное тело запроса")
			return
		}
	}

	if err := h.feed.RefreshSpecs(r.Context(), strings.TrimSpace(req.CategoryKey)); err != nil {
		if errors.Is(err, models.ErrSpecSourceUnavailable) {
			h.writeError(w, r, http.StatusBadGateway, "spec_source_unavailable", err.Error())
			return
		}
		h.writeServiceError(w, r, err, "Ошибка обновления спецификаций")
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response{Success: true})
}
