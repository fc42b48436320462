package models

import "strings"

// FieldKind описывает тип целевого поля маркетплейса
type FieldKind string

const (
	FieldKindText        FieldKind = "text"
	FieldKindSelect      FieldKind = "select"
	FieldKindMultiSelect FieldKind = "multiselect"
	FieldKindArray       FieldKind = "array"
	FieldKindMeasurement FieldKind = "measurement_object"
	FieldKindObject      FieldKind = "object"
)

// IsValid проверяет, что тип поля входит в закрытый набор
func (k FieldKind) IsValid() bool {
	switch k {
	case FieldKindText, FieldKindSelect, FieldKindMultiSelect, FieldKindArray, FieldKindMeasurement, FieldKindObject:
		return true
	}
	return false
}

// FieldSpec - спецификация одного поля в рамках категории (типа товара).
// После загрузки не изменяется.
type FieldSpec struct {
	Name          string               `json:"name"`
	Kind          FieldKind            `json:"kind"`
	Required      bool                 `json:"required"`
	AllowedValues []string             `json:"allowed_values,omitempty"` // nil - любые значения
	DefaultValue  string               `json:"default_value,omitempty"`
	Properties    map[string]FieldSpec `json:"properties,omitempty"` // подполя для kind=object
}

// HasDefault сообщает, задано ли значение по умолчанию
func (s FieldSpec) HasDefault() bool {
	return strings.TrimSpace(s.DefaultValue) != ""
}

// PermissiveSpec возвращает разрешающую спецификацию, которая используется,
// когда источник спецификаций недоступен: text, необязательное поле.
func PermissiveSpec(name string) FieldSpec {
	return FieldSpec{Name: name, Kind: FieldKindText}
}

// SpecSet - набор спецификаций полей одной категории
type SpecSet map[string]FieldSpec
