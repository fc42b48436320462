package utils

import "strings"

const (
	// DefaultPageSize - размер страницы, если не задан
	DefaultPageSize = 20
	// MaxPageSize - верхняя граница размера страницы
	MaxPageSize = 200
)

// Pagination - параметры постраничной выдачи списков пакетов и строк
type Pagination struct {
	Page       int    `json:"page"`        // Номер страницы (начиная с 1)
	PageSize   int    `json:"page_size"`   // Размер страницы
	TotalItems int    `json:"total_items"` // Общее количество элементов
	TotalPages int    `json:"total_pages"` // Общее количество страниц
	SortBy     string `json:"sort_by,omitempty"`
	SortDesc   bool   `json:"sort_desc"`
	HasNext    bool   `json:"has_next"`
	HasPrev    bool   `json:"has_prev"`
}

// NewPagination создает новый экземпляр Pagination с заданными параметрами
func NewPagination(page, pageSize int, sortBy string, sortDesc bool) *Pagination {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	return &Pagination{
		Page:     page,
		PageSize: pageSize,
		SortBy:   strings.TrimSpace(sortBy),
		SortDesc: sortDesc,
	}
}

// SetTotal устанавливает общее количество элементов и пересчитывает зависимые поля
func (p *Pagination) SetTotal(totalItems int) {
	p.TotalItems = totalItems
	p.TotalPages = (totalItems + p.PageSize - 1) / p.PageSize
	p.HasNext = p.Page < p.TotalPages
	p.HasPrev = p.Page > 1
}

// GetOffset возвращает смещение для SQL запроса
func (p *Pagination) GetOffset() int {
	return (p.Page - 1) * p.PageSize
}

// GetLimit возвращает лимит для SQL запроса
func (p *Pagination) GetLimit() int {
	return p.PageSize
}

// GetSortOrder возвращает выражение ORDER BY. Допускаются только колонки из allowed,
// иначе используется "created_at DESC".
func (p *Pagination) GetSortOrder(allowed ...string) string {
	column := ""
	for _, a := range allowed {
		if strings.EqualFold(a, p.SortBy) {
			column = a
			break
		}
	}
	if column == "" {
		return "created_at DESC"
	}

	direction := "ASC"
	if p.SortDesc {
		direction = "DESC"
	}
	return column + " " + direction
}

// PagedResult представляет результат запроса с пагинацией
type PagedResult struct {
	Items      interface{} `json:"items"`
	Pagination *Pagination `json:"pagination"`
}

// NewPagedResult создает новый результат с пагинацией
func NewPagedResult(items interface{}, pagination *Pagination) *PagedResult {
	return &PagedResult{
		Items:      items,
		Pagination: pagination,
	}
}
