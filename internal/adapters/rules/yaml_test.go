package rules

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/athebyme/gomarket-platform/marketplace-service/internal/adapters/logger"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/domain/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const bootsYAML = `
categories:
  boots:
    marketplace_key: Boots
    features:
      Waterproof: [waterproof, gore-tex]
      Insulated: [insulated, thinsulate]
    rules:
      - target_field: item_name
        strategy: passthrough_field
        source_key: name
      - target_field: brand
        strategy: source_attribute
        source_key: brand
        value: Generic
      - target_field: condition
        strategy: literal_default
        value: New
      - target_field: length
        group: package_dimensions
        strategy: computed
        source_key: dimension:length
      - target_field: sparkle
        strategy: telepathy
`

func TestParseBuildsTypedRules(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	rules, err := Parse([]byte(bootsYAML), logger.NewFromZap(zap.New(core)))
	require.NoError(t, err)

	cat, err := rules.RulesFor(context.Background(), "boots")
	require.NoError(t, err)
	require.NotNil(t, cat)

	assert.Equal(t, "Boots", cat.SpecKey())
	assert.Equal(t, []string{"waterproof", "gore-tex"}, cat.Features["Waterproof"])
	require.Len(t, cat.Rules, 5)

	assert.Equal(t, models.PassthroughField{Field: models.ProductFieldName}, cat.Rules[0].Strategy)
	assert.Equal(t, models.SourceAttribute{Key: "brand", Fallback: "Generic"}, cat.Rules[1].Strategy)
	assert.Equal(t, models.LiteralDefault{Value: "New"}, cat.Rules[2].Strategy)
	assert.Equal(t, models.Computed{Function: models.ComputedDimension, Arg: "length"}, cat.Rules[3].Strategy)
	assert.Equal(t, "package_dimensions", cat.Rules[3].Group)

	// нераспознанное правило остается на своем месте
	_, invalid := cat.Rules[4].Strategy.(models.InvalidStrategy)
	assert.True(t, invalid)
	assert.Equal(t, 1, logs.FilterMessage("Некорректное правило сопоставления").Len())
}

func TestRulesForUnknownCategory(t *testing.T) {
	rules, err := Parse([]byte(bootsYAML), logger.NewNop())
	require.NoError(t, err)

	cat, err := rules.RulesFor(context.Background(), "hats")
	require.NoError(t, err)
	assert.Nil(t, cat)
}

func TestParseRejectsBrokenYAML(t *testing.T) {
	_, err := Parse([]byte("categories: [\n"), logger.NewNop())
	assert.Error(t, err)
}

func TestReloadKeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(bootsYAML), 0o600))

	rules, err := LoadFile(path, logger.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []string{"boots"}, rules.Categories())

	require.NoError(t, os.WriteFile(path, []byte("categories: {"), 0o600))
	assert.Error(t, rules.Reload())

	cat, err := rules.RulesFor(context.Background(), "boots")
	require.NoError(t, err)
	assert.NotNil(t, cat)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"), logger.NewNop())
	assert.Error(t, err)
}
