package models

// CategoryMapping - конфигурация выгрузки одной категории каталога:
// целевая категория маркетплейса, упорядоченные правила и наборы ключевых слов
type CategoryMapping struct {
	Key            string              `json:"key"`
	MarketplaceKey string              `json:"marketplace_key"` // категория (тип товара) на стороне маркетплейса
	Rules          []MappingRule       `json:"-"`
	Features       map[string][]string `json:"features,omitempty"` // признак -> ключевые слова
}

// SpecKey возвращает ключ, по которому запрашиваются спецификации полей
func (c *CategoryMapping) SpecKey() string {
	if c.MarketplaceKey != "" {
		return c.MarketplaceKey
	}
	return c.Key
}
