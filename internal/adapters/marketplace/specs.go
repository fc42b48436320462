package marketplace

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/athebyme/gomarket-platform/marketplace-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/marketplace-service/pkg/interfaces"
)

// SpecClient загружает спецификации полей категорий из справочника маркетплейса
type SpecClient struct {
	client *Client
}

// NewSpecClient создает источник спецификаций
func NewSpecClient(cfg Config, logger interfaces.LoggerPort) *SpecClient {
	return &SpecClient{client: NewClient(cfg, logger)}
}

type specResponse struct {
	ProductType string             `json:"productType"`
	Fields      []models.FieldSpec `json:"fields"`
}

// FetchSpec возвращает набор спецификаций категории.
// Неизвестная маркетплейсу категория дает пустой набор, а не ошибку.
func (s *SpecClient) FetchSpec(ctx context.Context, categoryKey string) (models.SpecSet, error) {
	endpoint := fmt.Sprintf("%s/v1/product-types/%s/spec", s.client.baseURL, url.PathEscape(categoryKey))

	var resp specResponse
	if err := s.client.do(ctx, http.MethodGet, endpoint, nil, nil, &resp); err != nil {
		if isNotFound(err) {
			s.client.logger.Warn("Категория не найдена в справочнике маркетплейса",
				interfaces.LogField{Key: "category", Value: categoryKey},
			)
			return models.SpecSet{}, nil
		}
		return nil, fmt.Errorf("failed to fetch spec for %s: %w", categoryKey, err)
	}

	set := make(models.SpecSet, len(resp.Fields))
	for _, f := range resp.Fields {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			continue
		}
		if !f.Kind.IsValid() {
			s.client.logger.Warn("Неизвестный тип поля, поле считается текстовым",
				interfaces.LogField{Key: "category", Value: categoryKey},
				interfaces.LogField{Key: "field", Value: name},
				interfaces.LogField{Key: "kind", Value: string(f.Kind)},
			)
			f.Kind = models.FieldKindText
		}
		f.Name = name
		set[name] = f
	}
	return set, nil
}

func isNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}
