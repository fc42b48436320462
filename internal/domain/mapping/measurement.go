package mapping

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/athebyme/gomarket-platform/marketplace-service/internal/domain/models"
)

type dimension int

const (
	dimensionMass dimension = iota + 1
	dimensionLength
)

// unitInfo описывает поддерживаемую входную единицу
type unitInfo struct {
	canonical string
	dim       dimension
	factor    float64 // к базовой единице: граммы для массы, миллиметры для длины
}

var units = map[string]unitInfo{
	"lb":          {"pounds", dimensionMass, 453.59237},
	"lbs":         {"pounds", dimensionMass, 453.59237},
	"pound":       {"pounds", dimensionMass, 453.59237},
	"pounds":      {"pounds", dimensionMass, 453.59237},
	"#":           {"pounds", dimensionMass, 453.59237},
	"oz":          {"ounces", dimensionMass, 28.349523125},
	"ounce":       {"ounces", dimensionMass, 28.349523125},
	"ounces":      {"ounces", dimensionMass, 28.349523125},
	"kg":          {"kilograms", dimensionMass, 1000},
	"kgs":         {"kilograms", dimensionMass, 1000},
	"kilogram":    {"kilograms", dimensionMass, 1000},
	"kilograms":   {"kilograms", dimensionMass, 1000},
	"g":           {"grams", dimensionMass, 1},
	"gr":          {"grams", dimensionMass, 1},
	"gram":        {"grams", dimensionMass, 1},
	"grams":       {"grams", dimensionMass, 1},
	"in":          {"inches", dimensionLength, 25.4},
	"inch":        {"inches", dimensionLength, 25.4},
	"inches":      {"inches", dimensionLength, 25.4},
	"\"":          {"inches", dimensionLength, 25.4},
	"ft":          {"feet", dimensionLength, 304.8},
	"foot":        {"feet", dimensionLength, 304.8},
	"feet":        {"feet", dimensionLength, 304.8},
	"cm":          {"centimeters", dimensionLength, 10},
	"centimeter":  {"centimeters", dimensionLength, 10},
	"centimeters": {"centimeters", dimensionLength, 10},
	"mm":          {"millimeters", dimensionLength, 1},
	"millimeter":  {"millimeters", dimensionLength, 1},
	"millimeters": {"millimeters", dimensionLength, 1},
}

var (
	// ведущее число и хвостовая единица: "2.5 lbs", "12oz", "1,5 kg"
	measurementPattern = regexp.MustCompile(`^\s*([-+]?\d+(?:[.,]\d+)?)\s*([a-zA-Z"#.]*)\s*$`)
	// первое вхождение числа с единицей в свободном тексте
	freeTextMeasurement = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*(lbs|lb|pounds|pound|ounces|ounce|oz|kilograms|kilogram|kgs|kg|grams|gram|gr|g|inches|inch|in|feet|foot|ft|centimeters|centimeter|cm|millimeters|millimeter|mm|"|#)(?:\b|\s|$)`)
)

func lookupUnit(token string) (unitInfo, bool) {
	token = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(token), "."))
	u, ok := units[token]
	return u, ok
}

// ParseMeasurement разбирает строку вида "<число> <единица>" и приводит значение
// к одной из разрешенных единиц. allowed задает допустимые единицы в том написании,
// которое ожидает маркетплейс; пустой список оставляет исходную единицу.
func ParseMeasurement(raw string, allowed []string) (models.Measurement, error) {
	m := measurementPattern.FindStringSubmatch(raw)
	if m == nil {
		return models.Measurement{}, fmt.Errorf("no leading number in %q", raw)
	}

	value, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
	if err != nil {
		return models.Measurement{}, fmt.Errorf("bad number %q: %w", m[1], err)
	}
	if value <= 0 {
		return models.Measurement{}, fmt.Errorf("non-positive measure %v", value)
	}

	var from unitInfo
	unitToken := strings.TrimSpace(m[2])
	if unitToken == "" {
		if len(allowed) == 0 {
			return models.Measurement{}, fmt.Errorf("no unit in %q", raw)
		}
		target, ok := lookupUnit(allowed[0])
		if !ok {
			return models.Measurement{}, fmt.Errorf("unsupported allowed unit %q", allowed[0])
		}
		from = target
	} else {
		u, ok := lookupUnit(unitToken)
		if !ok {
			return models.Measurement{}, fmt.Errorf("unsupported unit %q", unitToken)
		}
		from = u
	}

	return convertMeasurement(value, from, allowed)
}

func convertMeasurement(value float64, from unitInfo, allowed []string) (models.Measurement, error) {
	if len(allowed) == 0 {
		return models.Measurement{Measure: round2(value), Unit: from.canonical}, nil
	}

	// единица уже разрешена - без конвертации
	for _, a := range allowed {
		if u, ok := lookupUnit(a); ok && u.canonical == from.canonical {
			return models.Measurement{Measure: round2(value), Unit: a}, nil
		}
	}

	for _, a := range allowed {
		to, ok := lookupUnit(a)
		if !ok || to.dim != from.dim {
			continue
		}
		converted := value * from.factor / to.factor
		return models.Measurement{Measure: round2(converted), Unit: a}, nil
	}

	return models.Measurement{}, fmt.Errorf("unit %s cannot be converted to any of %v", from.canonical, allowed)
}

// ExtractMeasurement находит первое число с единицей в свободном тексте
// ("Approx. 2.5 lbs packaged") и возвращает его в нормализованном виде "2.5 lbs".
func ExtractMeasurement(text string) (string, bool) {
	m := freeTextMeasurement.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.ReplaceAll(m[1], ",", ".") + " " + strings.ToLower(m[2]), true
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
