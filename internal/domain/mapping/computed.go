package mapping

import (
	"regexp"
	"strings"

	"github.com/athebyme/gomarket-platform/marketplace-service/internal/domain/models"
)

var dimensionSeparator = regexp.MustCompile(`(?i)\s*[x×*]\s*`)

var dimensionIndex = map[string]int{
	"length": 0,
	"width":  1,
	"height": 2,
}

// compute вычисляет значение именованной функции для товара.
// Все функции детерминированы: одинаковый вход дает одинаковый результат.
func (s *scope) compute(c models.Computed) interface{} {
	switch c.Function {
	case models.ComputedFeatures:
		return s.features()
	case models.ComputedWeight:
		key := c.Arg
		if key == "" {
			key = "weight"
		}
		text := s.req.Product.Attribute(key)
		if text == "" {
			return nil
		}
		if m, ok := ExtractMeasurement(text); ok {
			return m
		}
		return text
	case models.ComputedDimension:
		return s.dimension(strings.ToLower(c.Arg))
	case models.ComputedLeadTime:
		if s.req.LeadTime <= 0 {
			return nil
		}
		return s.req.LeadTime
	case models.ComputedIdentifier:
		return emptyToNil(s.req.Identifier)
	case models.ComputedCategory:
		return emptyToNil(s.req.CategoryKey)
	case models.ComputedPrimaryImage:
		return emptyToNil(s.primaryImage())
	case models.ComputedSecondaryImages:
		images := SecondaryImages(s.req.Product, s.primaryImage(), s.engine.cfg.SecondaryPlaceholders, s.engine.cfg.MinSecondaryImages)
		if len(images) == 0 {
			return nil
		}
		return images
	}
	return nil
}

// features отмечает признаки, ключевые слова которых встречаются в названии или описании
func (s *scope) features() interface{} {
	if len(s.req.Features) == 0 {
		return nil
	}
	haystack := strings.ToLower(s.req.Product.Name + " " + s.req.Product.Description)

	var found []string
	for _, feature := range sortedKeys(s.req.Features) {
		for _, kw := range s.req.Features[feature] {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" && strings.Contains(haystack, kw) {
				found = append(found, feature)
				break
			}
		}
	}
	if len(found) == 0 {
		return nil
	}
	return found
}

// dimension берет отдельный атрибут (length, width, height) или
// соответствующую часть атрибута dimensions вида "10 x 5 x 3 in"
func (s *scope) dimension(axis string) interface{} {
	if v := s.req.Product.Attribute(axis); v != "" {
		return v
	}
	idx, ok := dimensionIndex[axis]
	if !ok {
		return nil
	}
	dims := s.req.Product.Attribute("dimensions")
	if dims == "" {
		return nil
	}

	parts := dimensionSeparator.Split(dims, -1)
	if idx >= len(parts) {
		return nil
	}

	// единица обычно указана только после последнего числа
	m := measurementPattern.FindStringSubmatch(parts[len(parts)-1])
	unit := ""
	if m != nil {
		unit = m[2]
	}

	value := strings.TrimSpace(parts[idx])
	if pm := measurementPattern.FindStringSubmatch(value); pm != nil && pm[2] == "" && unit != "" {
		value = pm[1] + " " + unit
	}
	return emptyToNil(value)
}

func (s *scope) primaryImage() string {
	if s.primary == nil {
		p := PrimaryImage(s.req.Product, s.engine.cfg.PrimaryPlaceholder)
		s.primary = &p
	}
	return *s.primary
}

func emptyToNil(v string) interface{} {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
