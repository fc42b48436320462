package models

import "time"

// Identifier - глобально уникальный код (UPC) из заранее выделенного пула.
// Непустой OwnerProductKey уникален в пределах пула.
type Identifier struct {
	Code            string     `json:"code"`
	OwnerProductKey *string    `json:"owner_product_key,omitempty"`
	ClaimedAt       *time.Time `json:"claimed_at,omitempty"`
}

// IsClaimed сообщает, закреплен ли код за товаром
func (i *Identifier) IsClaimed() bool {
	return i != nil && i.OwnerProductKey != nil
}

// Owner возвращает ключ товара-владельца или пустую строку
func (i *Identifier) Owner() string {
	if i == nil || i.OwnerProductKey == nil {
		return ""
	}
	return *i.OwnerProductKey
}

// IdentifierStats - сводка по пулу идентификаторов
type IdentifierStats struct {
	Total   int `json:"total"`
	Claimed int `json:"claimed"`
	Free    int `json:"free"`
}
