package mapping

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/athebyme/gomarket-platform/marketplace-service/internal/domain/models"
)

var (
	errNotAllowed = errors.New("value is not in allowed values")
	errEmptyList  = errors.New("no allowed values left after filtering")

	listSeparators = regexp.MustCompile(`[,;|\n]+`)
	nonAlnum       = regexp.MustCompile(`[^\p{L}\p{N}]+`)
)

// Coerce приводит сырое значение к типу поля маркетплейса.
// Возвращает ok=false, если значение нужно опустить; err поясняет причину
// и равен nil, когда значения просто нет. Функция чистая.
func Coerce(spec models.FieldSpec, raw interface{}) (interface{}, bool, error) {
	switch spec.Kind {
	case models.FieldKindSelect:
		s := toText(raw)
		if s == "" {
			return nil, false, nil
		}
		if len(spec.AllowedValues) == 0 {
			return s, true, nil
		}
		if match, ok := matchAllowed(s, spec.AllowedValues); ok {
			return match, true, nil
		}
		if spec.HasDefault() {
			if match, ok := matchAllowed(spec.DefaultValue, spec.AllowedValues); ok {
				return match, true, nil
			}
		}
		return nil, false, fmt.Errorf("%w: %q", errNotAllowed, s)

	case models.FieldKindMultiSelect, models.FieldKindArray:
		items := toList(raw)
		if len(items) == 0 {
			return nil, false, nil
		}
		if len(spec.AllowedValues) == 0 {
			return items, true, nil
		}
		out := make([]string, 0, len(items))
		seen := make(map[string]struct{}, len(items))
		for _, item := range items {
			match, ok := matchAllowed(item, spec.AllowedValues)
			if !ok {
				continue
			}
			if _, dup := seen[match]; dup {
				continue
			}
			seen[match] = struct{}{}
			out = append(out, match)
		}
		if len(out) == 0 {
			return nil, false, fmt.Errorf("%w: %v", errEmptyList, items)
		}
		return out, true, nil

	case models.FieldKindMeasurement:
		switch v := raw.(type) {
		case nil:
			return nil, false, nil
		case models.Measurement:
			from, ok := lookupUnit(v.Unit)
			if !ok {
				return nil, false, fmt.Errorf("unsupported unit %q", v.Unit)
			}
			m, err := convertMeasurement(v.Measure, from, spec.AllowedValues)
			if err != nil {
				return nil, false, err
			}
			return m, true, nil
		}
		s := toText(raw)
		if s == "" {
			return nil, false, nil
		}
		m, err := ParseMeasurement(s, spec.AllowedValues)
		if err != nil {
			return nil, false, err
		}
		return m, true, nil

	case models.FieldKindObject:
		members, ok := raw.(map[string]interface{})
		if !ok || len(members) == 0 {
			return nil, false, nil
		}
		obj := make(map[string]interface{}, len(members))
		for name, value := range members {
			sub, found := spec.Properties[name]
			if !found {
				sub = models.PermissiveSpec(name)
			}
			coerced, ok, _ := Coerce(sub, value)
			if !ok && sub.Required && sub.HasDefault() {
				coerced, ok, _ = Coerce(sub, sub.DefaultValue)
			}
			if ok {
				obj[name] = coerced
			}
		}
		for name, sub := range spec.Properties {
			if _, present := obj[name]; present || !sub.Required || !sub.HasDefault() {
				continue
			}
			if coerced, ok, _ := Coerce(sub, sub.DefaultValue); ok {
				obj[name] = coerced
			}
		}
		if len(obj) == 0 {
			return nil, false, nil
		}
		return obj, true, nil

	default:
		s := toText(raw)
		if s == "" {
			return nil, false, nil
		}
		return s, true, nil
	}
}

// matchAllowed ищет значение среди разрешенных: точное совпадение,
// совпадение без учета регистра, совпадение без знаков препинания,
// затем единственное разрешенное значение, содержащее исходное или содержащееся в нем.
func matchAllowed(value string, allowed []string) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	for _, a := range allowed {
		if a == value {
			return a, true
		}
	}
	for _, a := range allowed {
		if strings.EqualFold(a, value) {
			return a, true
		}
	}

	norm := normalize(value)
	if norm == "" {
		return "", false
	}
	for _, a := range allowed {
		if normalize(a) == norm {
			return a, true
		}
	}

	var candidate string
	matches := 0
	for _, a := range allowed {
		na := normalize(a)
		if na == "" {
			continue
		}
		if strings.Contains(na, norm) || strings.Contains(norm, na) {
			candidate = a
			matches++
		}
	}
	if matches == 1 {
		return candidate, true
	}
	return "", false
}

func normalize(s string) string {
	return nonAlnum.ReplaceAllString(strings.ToLower(s), "")
}

func toText(raw interface{}) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case bool:
		return strconv.FormatBool(v)
	case []string:
		return strings.Join(toList(v), ", ")
	case models.Measurement:
		return strconv.FormatFloat(v.Measure, 'f', -1, 64) + " " + v.Unit
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// toList разбивает значение на элементы, убирая пустые и повторы без учета регистра
func toList(raw interface{}) []string {
	var parts []string
	switch v := raw.(type) {
	case nil:
		return nil
	case []string:
		parts = v
	case []interface{}:
		for _, item := range v {
			parts = append(parts, toText(item))
		}
	default:
		parts = listSeparators.Split(toText(raw), -1)
	}

	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		key := strings.ToLower(p)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}
	return out
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
