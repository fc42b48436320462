package mapping

import (
	"context"
	"testing"

	"github.com/athebyme/gomarket-platform/marketplace-service/internal/adapters/logger"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/domain/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeSpecs map[string]models.FieldSpec

func (f fakeSpecs) GetSpec(_ context.Context, _ string, field string) (models.FieldSpec, error) {
	spec, ok := f[field]
	if !ok {
		return models.FieldSpec{}, models.ErrSpecNotFound
	}
	return spec, nil
}

func bootSpecs() fakeSpecs {
	inches := []string{"inches"}
	return fakeSpecs{
		"brand":       {Name: "brand", Kind: models.FieldKindText},
		"item_name":   {Name: "item_name", Kind: models.FieldKindText, Required: true},
		"color":       {Name: "color", Kind: models.FieldKindSelect, AllowedValues: []string{"Navy Blue", "Black"}},
		"features":    {Name: "features", Kind: models.FieldKindMultiSelect, AllowedValues: []string{"Waterproof", "Breathable", "Insulated"}},
		"item_weight": {Name: "item_weight", Kind: models.FieldKindMeasurement, AllowedValues: []string{"pounds"}},
		"package_dimensions": {Name: "package_dimensions", Kind: models.FieldKindObject, Properties: map[string]models.FieldSpec{
			"length": {Kind: models.FieldKindMeasurement, AllowedValues: inches},
			"width":  {Kind: models.FieldKindMeasurement, AllowedValues: inches},
			"height": {Kind: models.FieldKindMeasurement, AllowedValues: inches},
		}},
		"main_image":   {Name: "main_image", Kind: models.FieldKindText, Required: true},
		"other_images": {Name: "other_images", Kind: models.FieldKindArray},
		"upc":          {Name: "upc", Kind: models.FieldKindText, Required: true},
		"lead_time":    {Name: "lead_time", Kind: models.FieldKindText},
		"warranty":     {Name: "warranty", Kind: models.FieldKindText, Required: true},
		"condition":    {Name: "condition", Kind: models.FieldKindSelect, Required: true, AllowedValues: []string{"New", "Used"}, DefaultValue: "New"},
	}
}

func bootRules() []models.MappingRule {
	return []models.MappingRule{
		{TargetField: "brand", Strategy: models.LiteralDefault{Value: "Acme"}},
		{TargetField: "item_name", Strategy: models.PassthroughField{Field: models.ProductFieldName}},
		{TargetField: "color", Strategy: models.SourceAttribute{Key: "color"}},
		{TargetField: "features", Strategy: models.Computed{Function: models.ComputedFeatures}},
		{TargetField: "item_weight", Strategy: models.Computed{Function: models.ComputedWeight}},
		{TargetField: "length", Group: "package_dimensions", Strategy: models.Computed{Function: models.ComputedDimension, Arg: "length"}},
		{TargetField: "width", Group: "package_dimensions", Strategy: models.Computed{Function: models.ComputedDimension, Arg: "width"}},
		{TargetField: "height", Group: "package_dimensions", Strategy: models.Computed{Function: models.ComputedDimension, Arg: "height"}},
		{TargetField: "main_image", Strategy: models.Computed{Function: models.ComputedPrimaryImage}},
		{TargetField: "other_images", Strategy: models.Computed{Function: models.ComputedSecondaryImages}},
		{TargetField: "upc", Strategy: models.Computed{Function: models.ComputedIdentifier}},
		{TargetField: "lead_time", Strategy: models.Computed{Function: models.ComputedLeadTime}},
		{TargetField: "warranty", Strategy: models.SourceAttribute{Key: "warranty"}},
		{TargetField: "condition", Strategy: models.SourceAttribute{Key: "condition"}},
		{TargetField: "bogus", Strategy: models.InvalidStrategy{Raw: "magic", Reason: "unknown strategy"}},
		{TargetField: "care_note", Strategy: models.LiteralDefault{Value: "Wipe clean"}},
	}
}

func bootProduct() *models.Product {
	return &models.Product{
		Key:            "p-1",
		Name:           "Waterproof Hiking Boot",
		SKU:            "SKU-1",
		Price:          59.99,
		Status:         "publish",
		Description:    "Breathable leather upper",
		RemoteImageURL: "https://cdn.example.com/remote.jpg",
		GalleryURLs: []string{
			"https://cdn.example.com/remote.jpg",
			"https://cdn.example.com/a.jpg",
			"https://cdn.example.com/b.jpg",
			"https://cdn.example.com/a.jpg",
			"https://cdn.example.com/c.jpg",
			"https://cdn.example.com/d.jpg",
		},
		Attributes: map[string]string{
			"color":      "navy",
			"weight":     "Approx. 2.5 lbs packaged",
			"dimensions": "12 x 5 x 4 in",
		},
	}
}

func newTestEngine(specs SpecLookup) *Engine {
	cfg := DefaultConfig()
	cfg.PrimaryPlaceholder = "https://cdn.example.com/ph-main.jpg"
	cfg.SecondaryPlaceholders = placeholders
	return NewEngine(specs, cfg, logger.NewNop())
}

func TestEngineMapsAllStrategies(t *testing.T) {
	engine := newTestEngine(bootSpecs())

	res, err := engine.Map(context.Background(), Request{
		Product:     bootProduct(),
		CategoryKey: "SHOES",
		Identifier:  "012345678905",
		Rules:       bootRules(),
		LeadTime:    3,
		Features: map[string][]string{
			"Waterproof": {"waterproof"},
			"Breathable": {"breathable", "mesh"},
			"Insulated":  {"insulated"},
		},
	})
	require.NoError(t, err)

	p := res.Payload
	assert.Equal(t, "SKU-1", p.SKU)
	assert.Equal(t, "p-1", p.ProductKey)
	assert.Equal(t, "012345678905", p.Identifier)
	assert.Equal(t, "SHOES", p.ProductType)

	attrs := p.Attributes
	assert.Equal(t, "Acme", attrs["brand"])
	assert.Equal(t, "Waterproof Hiking Boot", attrs["item_name"])
	assert.Equal(t, "Navy Blue", attrs["color"])
	assert.Equal(t, []string{"Breathable", "Waterproof"}, attrs["features"])
	assert.Equal(t, models.Measurement{Measure: 2.5, Unit: "pounds"}, attrs["item_weight"])
	assert.Equal(t, map[string]interface{}{
		"length": models.Measurement{Measure: 12, Unit: "inches"},
		"width":  models.Measurement{Measure: 5, Unit: "inches"},
		"height": models.Measurement{Measure: 4, Unit: "inches"},
	}, attrs["package_dimensions"])
	assert.Equal(t, "https://cdn.example.com/remote.jpg", attrs["main_image"])
	assert.Equal(t, []string{
		"https://cdn.example.com/a.jpg",
		"https://cdn.example.com/b.jpg",
		"https://cdn.example.com/c.jpg",
		"https://cdn.example.com/d.jpg",
		placeholders[0],
	}, attrs["other_images"])
	assert.Equal(t, "012345678905", attrs["upc"])
	assert.Equal(t, "3", attrs["lead_time"])
	assert.Equal(t, "New", attrs["condition"])
	assert.Equal(t, "Wipe clean", attrs["care_note"])

	_, hasBogus := attrs["bogus"]
	assert.False(t, hasBogus)
	_, hasLength := attrs["length"]
	assert.False(t, hasLength, "grouped sub-fields stay inside the object")
}

func TestEngineOmitsRequiredFieldWithoutValue(t *testing.T) {
	engine := newTestEngine(bootSpecs())

	res, err := engine.Map(context.Background(), Request{
		Product:     bootProduct(),
		CategoryKey: "SHOES",
		Rules:       bootRules(),
	})
	require.NoError(t, err)

	for _, field := range []string{"warranty", "upc", "lead_time"} {
		value, present := res.Payload.Attributes[field]
		assert.False(t, present, field)
		assert.Nil(t, value, field)
	}
	for field, value := range res.Payload.Attributes {
		assert.NotNil(t, value, field)
	}

	var omitted []string
	for _, issue := range res.Issues {
		omitted = append(omitted, issue.Field)
	}
	assert.Contains(t, omitted, "warranty")
	assert.Contains(t, omitted, "upc")
	assert.Contains(t, omitted, "bogus")
	assert.Contains(t, omitted, "care_note")
}

func TestEngineLogsSkippedFields(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	engine := NewEngine(bootSpecs(), DefaultConfig(), logger.NewFromZap(zap.New(core)))

	_, err := engine.Map(context.Background(), Request{
		Product: bootProduct(),
		Rules: []models.MappingRule{
			{TargetField: "bogus", Strategy: models.InvalidStrategy{Raw: "magic", Reason: "unknown strategy"}},
			{TargetField: "brand", Strategy: models.LiteralDefault{Value: "Acme"}},
		},
	})
	require.NoError(t, err)

	entries := logs.FilterField(zap.String("field", "bogus")).All()
	require.Len(t, entries, 1)
	assert.Equal(t, "p-1", entries[0].ContextMap()["product_key"])
}

func TestEngineUsesLaterRuleWhenEarlierResolvesNothing(t *testing.T) {
	engine := newTestEngine(bootSpecs())

	res, err := engine.Map(context.Background(), Request{
		Product: bootProduct(),
		Rules: []models.MappingRule{
			{TargetField: "brand", Strategy: models.SourceAttribute{Key: "brand"}},
			{TargetField: "brand", Strategy: models.LiteralDefault{Value: "Generic"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Generic", res.Payload.Attributes["brand"])
}

func TestEngineWithoutSpecSourceIsPermissive(t *testing.T) {
	engine := newTestEngine(nil)

	res, err := engine.Map(context.Background(), Request{
		Product: bootProduct(),
		Rules: []models.MappingRule{
			{TargetField: "color", Strategy: models.SourceAttribute{Key: "color"}},
			{TargetField: "weight", Strategy: models.SourceAttribute{Key: "weight"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "navy", res.Payload.Attributes["color"])
	assert.Equal(t, "Approx. 2.5 lbs packaged", res.Payload.Attributes["weight"])
	assert.Empty(t, res.Issues)
}

func TestEngineDoesNotLeakStateBetweenProducts(t *testing.T) {
	engine := newTestEngine(bootSpecs())
	rules := bootRules()

	first, err := engine.Map(context.Background(), Request{Product: bootProduct(), CategoryKey: "SHOES", Identifier: "111", Rules: rules})
	require.NoError(t, err)

	second := bootProduct()
	second.Key = "p-2"
	second.SKU = "SKU-2"
	second.RemoteImageURL = ""
	second.GalleryURLs = nil
	res, err := engine.Map(context.Background(), Request{Product: second, CategoryKey: "BOOTS", Identifier: "222", Rules: rules})
	require.NoError(t, err)

	assert.Equal(t, "222", res.Payload.Attributes["upc"])
	assert.Equal(t, "BOOTS", res.Payload.ProductType)
	assert.Equal(t, "https://cdn.example.com/ph-main.jpg", res.Payload.Attributes["main_image"])
	_, hasGallery := res.Payload.Attributes["other_images"]
	assert.False(t, hasGallery)

	assert.Equal(t, "111", first.Payload.Attributes["upc"])
	assert.Equal(t, "SHOES", first.Payload.ProductType)
	assert.Len(t, rules, 16)
}

func TestEngineRequiresProduct(t *testing.T) {
	_, err := newTestEngine(nil).Map(context.Background(), Request{})
	assert.Error(t, err)
}
