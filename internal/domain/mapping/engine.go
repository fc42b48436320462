package mapping

import (
	"context"
	"errors"

	"github.com/athebyme/gomarket-platform/marketplace-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/marketplace-service/pkg/interfaces"
)

// SpecLookup - источник спецификаций полей для движка.
// Реализация отвечает за кэширование и разрешающий откат.
type SpecLookup interface {
	GetSpec(ctx context.Context, categoryKey, fieldName string) (models.FieldSpec, error)
}

// Config - явные настройки движка, передаваемые в конструктор
type Config struct {
	PrimaryPlaceholder    string
	SecondaryPlaceholders []string
	MinSecondaryImages    int
}

// DefaultConfig возвращает настройки по умолчанию
func DefaultConfig() Config {
	return Config{MinSecondaryImages: 5}
}

// Request - весь контекст сопоставления одного товара.
// Движок не хранит состояние между вызовами: все данные товара приходят здесь.
type Request struct {
	Product     *models.Product
	CategoryKey string // категория маркетплейса, по ней запрашиваются спецификации
	Identifier  string
	Rules       []models.MappingRule
	LeadTime    int
	Features    map[string][]string
}

// Result - типизированная запись и предупреждения по опущенным полям
type Result struct {
	Payload *models.TargetPayload
	Issues  []*models.MappingError
}

// Engine - движок сопоставления атрибутов
type Engine struct {
	specs  SpecLookup
	cfg    Config
	logger interfaces.LoggerPort
}

// NewEngine создает движок. specs может быть nil: тогда все поля считаются текстовыми.
func NewEngine(specs SpecLookup, cfg Config, logger interfaces.LoggerPort) *Engine {
	return &Engine{specs: specs, cfg: cfg, logger: logger}
}

// scope - состояние одного вызова Map, создается заново для каждого товара
type scope struct {
	ctx     context.Context
	engine  *Engine
	req     Request
	specs   map[string]models.FieldSpec
	primary *string
	issues  []*models.MappingError
}

// fieldCandidates - значения-кандидаты одного целевого поля в порядке правил
type fieldCandidates struct {
	name   string
	values []interface{}
}

// Map превращает товар в запись маркетплейса по упорядоченным правилам категории.
// Ошибки отдельных полей не прерывают сопоставление: поле опускается, причина
// попадает в Result.Issues и в лог.
func (e *Engine) Map(ctx context.Context, req Request) (*Result, error) {
	if req.Product == nil {
		return nil, errors.New("product is required")
	}

	s := &scope{
		ctx:    ctx,
		engine: e,
		req:    req,
		specs:  make(map[string]models.FieldSpec),
	}

	var fields []*fieldCandidates
	byName := make(map[string]*fieldCandidates)
	var groupOrder []string
	groups := make(map[string]map[string]interface{})

	for _, rule := range req.Rules {
		raw, ok := s.resolve(rule)
		if !ok {
			continue
		}

		if rule.Group != "" {
			members, exists := groups[rule.Group]
			if !exists {
				members = make(map[string]interface{})
				groups[rule.Group] = members
				groupOrder = append(groupOrder, rule.Group)
			}
			if current, set := members[rule.TargetField]; !set || current == nil {
				members[rule.TargetField] = raw
			}
			continue
		}

		fc, exists := byName[rule.TargetField]
		if !exists {
			fc = &fieldCandidates{name: rule.TargetField}
			byName[rule.TargetField] = fc
			fields = append(fields, fc)
		}
		fc.values = append(fc.values, raw)
	}

	attributes := make(map[string]interface{}, len(fields)+len(groupOrder))

	for _, fc := range fields {
		spec := s.spec(fc.name)
		candidates := fc.values
		if spec.Kind == models.FieldKindObject {
			candidates = []interface{}{compactMembers(groups[fc.name])}
		}
		s.assign(attributes, fc.name, spec, candidates)
	}

	// группы без собственного правила верхнего уровня тоже собираются в объект
	for _, group := range groupOrder {
		if _, explicit := byName[group]; explicit {
			continue
		}
		spec := s.spec(group)
		if spec.Kind != models.FieldKindObject {
			spec = models.FieldSpec{Name: group, Kind: models.FieldKindObject, Required: spec.Required}
		}
		s.assign(attributes, group, spec, []interface{}{compactMembers(groups[group])})
	}

	return &Result{
		Payload: &models.TargetPayload{
			SKU:         req.Product.SKU,
			ProductKey:  req.Product.Key,
			Identifier:  req.Identifier,
			ProductType: req.CategoryKey,
			Attributes:  attributes,
		},
		Issues: s.issues,
	}, nil
}

// resolve получает сырое значение по стратегии правила
func (s *scope) resolve(rule models.MappingRule) (interface{}, bool) {
	p := s.req.Product

	switch st := rule.Strategy.(type) {
	case models.LiteralDefault:
		return emptyToNil(st.Value), true
	case models.SourceAttribute:
		if v := p.Attribute(st.Key); v != "" {
			return v, true
		}
		return emptyToNil(st.Fallback), true
	case models.Computed:
		return s.compute(st), true
	case models.PassthroughField:
		return st.Field.Value(p), true
	case models.InvalidStrategy:
		s.issue(rule.TargetField, "invalid rule skipped: "+st.Reason, models.ErrUnknownStrategy)
		return nil, false
	default:
		s.issue(rule.TargetField, "rule without strategy skipped", models.ErrUnknownStrategy)
		return nil, false
	}
}

// assign пишет первое значение, прошедшее приведение. Обязательное поле без
// значения получает значение по умолчанию из спецификации или опускается.
func (s *scope) assign(attributes map[string]interface{}, field string, spec models.FieldSpec, candidates []interface{}) {
	var lastErr error
	for _, raw := range candidates {
		value, ok, err := Coerce(spec, raw)
		if ok {
			attributes[field] = value
			return
		}
		if err != nil {
			lastErr = err
			s.issue(field, "value rejected by field spec", err)
		}
	}

	if !spec.Required {
		return
	}
	if spec.HasDefault() {
		if value, ok, _ := Coerce(spec, spec.DefaultValue); ok {
			attributes[field] = value
			return
		}
	}
	s.issue(field, "required field omitted: no value and no default", lastErr)
}

// spec возвращает спецификацию поля, запоминая ее на время вызова
func (s *scope) spec(field string) models.FieldSpec {
	if spec, ok := s.specs[field]; ok {
		return spec
	}

	spec := models.PermissiveSpec(field)
	if s.engine.specs != nil {
		found, err := s.engine.specs.GetSpec(s.ctx, s.req.CategoryKey, field)
		switch {
		case err == nil:
			spec = found
		case errors.Is(err, models.ErrSpecNotFound):
			s.issue(field, "no field spec, sent as text", err)
		default:
			s.issue(field, "spec lookup failed, sent as text", err)
		}
	}

	s.specs[field] = spec
	return spec
}

func (s *scope) issue(field, reason string, err error) {
	mErr := &models.MappingError{
		ProductKey: s.req.Product.Key,
		Field:      field,
		Reason:     reason,
		Err:        err,
	}
	s.issues = append(s.issues, mErr)

	if s.engine.logger != nil {
		s.engine.logger.WarnWithContext(s.ctx, "Поле пропущено при сопоставлении",
			interfaces.LogField{Key: "product_key", Value: mErr.ProductKey},
			interfaces.LogField{Key: "field", Value: field},
			interfaces.LogField{Key: "reason", Value: mErr.Error()},
		)
	}
}

func compactMembers(members map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(members))
	for name, value := range members {
		if value != nil {
			out[name] = value
		}
	}
	return out
}
