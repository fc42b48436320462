package models

import (
	"fmt"
	"strings"
)

// StrategyKind - строковое имя стратегии в конфигурации категории
type StrategyKind string

const (
	StrategyLiteralDefault   StrategyKind = "literal_default"
	StrategySourceAttribute  StrategyKind = "source_attribute"
	StrategyComputed         StrategyKind = "computed"
	StrategyPassthroughField StrategyKind = "passthrough_field"
)

// Strategy - закрытое объединение стратегий получения значения поля.
// Реализации существуют только в этом пакете.
type Strategy interface {
	Kind() StrategyKind
	sealed()
}

// LiteralDefault всегда возвращает сконфигурированную константу
type LiteralDefault struct {
	Value string
}

// SourceAttribute читает атрибут товара, при пустом значении - Fallback
type SourceAttribute struct {
	Key      string
	Fallback string
}

// Computed вызывает именованную детерминированную функцию товара
type Computed struct {
	Function ComputedFunc
	Arg      string
}

// PassthroughField копирует встроенное свойство товара без изменений
type PassthroughField struct {
	Field ProductField
}

// InvalidStrategy хранит правило, которое не удалось разобрать.
// Движок пропускает такое поле с предупреждением.
type InvalidStrategy struct {
	Raw    string
	Reason string
}

func (LiteralDefault) Kind() StrategyKind   { return StrategyLiteralDefault }
func (SourceAttribute) Kind() StrategyKind  { return StrategySourceAttribute }
func (Computed) Kind() StrategyKind         { return StrategyComputed }
func (PassthroughField) Kind() StrategyKind { return StrategyPassthroughField }
func (s InvalidStrategy) Kind() StrategyKind {
	return StrategyKind(s.Raw)
}

func (LiteralDefault) sealed()   {}
func (SourceAttribute) sealed()  {}
func (Computed) sealed()         {}
func (PassthroughField) sealed() {}
func (InvalidStrategy) sealed()  {}

// ComputedFunc - имя вычисляемой функции
type ComputedFunc string

const (
	ComputedFeatures        ComputedFunc = "features"
	ComputedWeight          ComputedFunc = "weight"
	ComputedDimension       ComputedFunc = "dimension"
	ComputedLeadTime        ComputedFunc = "lead_time"
	ComputedIdentifier      ComputedFunc = "identifier"
	ComputedCategory        ComputedFunc = "category"
	ComputedPrimaryImage    ComputedFunc = "primary_image"
	ComputedSecondaryImages ComputedFunc = "secondary_images"
)

// IsValid проверяет, что функция известна
func (f ComputedFunc) IsValid() bool {
	switch f {
	case ComputedFeatures, ComputedWeight, ComputedDimension, ComputedLeadTime,
		ComputedIdentifier, ComputedCategory, ComputedPrimaryImage, ComputedSecondaryImages:
		return true
	}
	return false
}

// MappingRule - одна строка упорядоченного списка правил категории
type MappingRule struct {
	TargetField string
	// Group - имя поля-объекта, в состав которого входит это правило.
	// Правила с группой не попадают в верхний уровень выгрузки.
	Group    string
	Strategy Strategy
}

// RawMappingRule - правило в виде, в котором оно хранится в конфигурации категории
type RawMappingRule struct {
	TargetField string `yaml:"target_field" json:"target_field"`
	Group       string `yaml:"group,omitempty" json:"group,omitempty"`
	Strategy    string `yaml:"strategy" json:"strategy"`
	SourceKey   string `yaml:"source_key,omitempty" json:"source_key,omitempty"`
	Value       string `yaml:"value,omitempty" json:"value,omitempty"`
}

// ParseRule превращает строковую конфигурацию в типизированное правило.
// Ошибка разбора не теряет правило: оно возвращается с InvalidStrategy.
func ParseRule(raw RawMappingRule) (MappingRule, error) {
	rule := MappingRule{
		TargetField: strings.TrimSpace(raw.TargetField),
		Group:       strings.TrimSpace(raw.Group),
	}
	if rule.TargetField == "" {
		rule.Strategy = InvalidStrategy{Raw: raw.Strategy, Reason: "empty target field"}
		return rule, fmt.Errorf("%w: empty target field", ErrUnknownStrategy)
	}

	key := strings.TrimSpace(raw.SourceKey)
	switch StrategyKind(strings.ToLower(strings.TrimSpace(raw.Strategy))) {
	case StrategyLiteralDefault:
		rule.Strategy = LiteralDefault{Value: raw.Value}
	case StrategySourceAttribute:
		if key == "" {
			rule.Strategy = InvalidStrategy{Raw: raw.Strategy, Reason: "source_key is required"}
			return rule, fmt.Errorf("%w: %s: source_key is required", ErrUnknownStrategy, rule.TargetField)
		}
		rule.Strategy = SourceAttribute{Key: key, Fallback: raw.Value}
	case StrategyComputed:
		fn, arg, _ := strings.Cut(key, ":")
		computed := Computed{Function: ComputedFunc(strings.ToLower(fn)), Arg: arg}
		if !computed.Function.IsValid() {
			rule.Strategy = InvalidStrategy{Raw: raw.Strategy, Reason: "unknown computed function " + fn}
			return rule, fmt.Errorf("%w: %s: unknown computed function %q", ErrUnknownStrategy, rule.TargetField, fn)
		}
		rule.Strategy = computed
	case StrategyPassthroughField:
		field := ProductField(strings.ToLower(key))
		if !field.IsValid() {
			rule.Strategy = InvalidStrategy{Raw: raw.Strategy, Reason: "unknown product field " + key}
			return rule, fmt.Errorf("%w: %s: unknown product field %q", ErrUnknownStrategy, rule.TargetField, key)
		}
		rule.Strategy = PassthroughField{Field: field}
	default:
		rule.Strategy = InvalidStrategy{Raw: raw.Strategy, Reason: "unknown strategy"}
		return rule, fmt.Errorf("%w: %s: %q", ErrUnknownStrategy, rule.TargetField, raw.Strategy)
	}

	return rule, nil
}
