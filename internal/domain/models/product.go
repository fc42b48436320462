package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Product представляет товар каталога продавца, подготавливаемый к выгрузке на маркетплейс.
// Для ядра выгрузки товар доступен только на чтение.
type Product struct {
	Key            string            `json:"key"`
	Name           string            `json:"name"`
	SKU            string            `json:"sku"`
	Price          float64           `json:"price"`
	Status         string            `json:"status"`
	Description    string            `json:"description,omitempty"`
	CategoryKey    string            `json:"category_key"`
	ImageURL       string            `json:"image_url,omitempty"`        // локальное основное изображение
	RemoteImageURL string            `json:"remote_image_url,omitempty"` // изображение на внешнем хостинге
	GalleryURLs    []string          `json:"gallery_urls,omitempty"`
	Attributes     map[string]string `json:"attributes,omitempty"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Attribute возвращает значение атрибута без пробелов по краям.
// Ключ сравнивается без учета регистра, если точного совпадения нет.
func (p *Product) Attribute(key string) string {
	if p == nil || len(p.Attributes) == 0 {
		return ""
	}
	if v, ok := p.Attributes[key]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range p.Attributes {
		if strings.EqualFold(k, key) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// ProductField перечисляет встроенные свойства товара, доступные для прямого копирования
type ProductField string

const (
	ProductFieldName        ProductField = "name"
	ProductFieldSKU         ProductField = "sku"
	ProductFieldPrice       ProductField = "price"
	ProductFieldDescription ProductField = "description"
	ProductFieldStatus      ProductField = "status"
)

// IsValid проверяет, что поле входит в закрытый набор
func (f ProductField) IsValid() bool {
	switch f {
	case ProductFieldName, ProductFieldSKU, ProductFieldPrice, ProductFieldDescription, ProductFieldStatus:
		return true
	}
	return false
}

// Value возвращает значение встроенного свойства товара
func (f ProductField) Value(p *Product) interface{} {
	switch f {
	case ProductFieldName:
		return p.Name
	case ProductFieldSKU:
		return p.SKU
	case ProductFieldPrice:
		return p.Price
	case ProductFieldDescription:
		return p.Description
	case ProductFieldStatus:
		return p.Status
	}
	return nil
}

// ProductRecord - строка каталога в том виде, в котором она хранится в БД
type ProductRecord struct {
	Key       string          `db:"key" json:"key"`
	BaseData  json.RawMessage `db:"base_data" json:"base_data"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// Decode разворачивает base_data в Product
func (r *ProductRecord) Decode() (*Product, error) {
	var product Product
	if len(r.BaseData) > 0 {
		if err := json.Unmarshal(r.BaseData, &product); err != nil {
			return nil, err
		}
	}
	product.Key = r.Key
	product.UpdatedAt = r.UpdatedAt
	return &product, nil
}
