package rules

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/athebyme/gomarket-platform/marketplace-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/marketplace-service/pkg/interfaces"
	"gopkg.in/yaml.v3"
)

// fileFormat - корневой элемент файла правил
type fileFormat struct {
	Categories map[string]categoryFormat `yaml:"categories"`
}

type categoryFormat struct {
	MarketplaceKey string                  `yaml:"marketplace_key"`
	Features       map[string][]string     `yaml:"features"`
	Rules          []models.RawMappingRule `yaml:"rules"`
}

// FileRules - конфигурация категорий из YAML-файла.
// Строковые стратегии разбираются один раз при загрузке.
type FileRules struct {
	path   string
	logger interfaces.LoggerPort

	mu         sync.RWMutex
	categories map[string]*models.CategoryMapping
}

// LoadFile читает и разбирает файл правил
func LoadFile(path string, logger interfaces.LoggerPort) (*FileRules, error) {
	r := &FileRules{path: path, logger: logger}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Parse разбирает правила из памяти (без файла)
func Parse(data []byte, logger interfaces.LoggerPort) (*FileRules, error) {
	categories, err := parse(data, logger)
	if err != nil {
		return nil, err
	}
	return &FileRules{logger: logger, categories: categories}, nil
}

// Reload перечитывает файл; при ошибке остается прежняя конфигурация
func (r *FileRules) Reload() error {
	if r.path == "" {
		return nil
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("failed to read rules file %s: %w", r.path, err)
	}
	categories, err := parse(data, r.logger)
	if err != nil {
		return fmt.Errorf("failed to parse rules file %s: %w", r.path, err)
	}

	r.mu.Lock()
	r.categories = categories
	r.mu.Unlock()

	r.logger.Info("Правила категорий загружены",
		interfaces.LogField{Key: "path", Value: r.path},
		interfaces.LogField{Key: "categories", Value: len(categories)},
	)
	return nil
}

// RulesFor реализует services.RuleSource; nil, nil если категории нет
func (r *FileRules) RulesFor(_ context.Context, categoryKey string) (*models.CategoryMapping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.categories[categoryKey], nil
}

// Categories возвращает ключи загруженных категорий
func (r *FileRules) Categories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.categories))
	for k := range r.categories {
		keys = append(keys, k)
	}
	return keys
}

func parse(data []byte, logger interfaces.LoggerPort) (map[string]*models.CategoryMapping, error) {
	var file fileFormat
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}

	categories := make(map[string]*models.CategoryMapping, len(file.Categories))
	for key, cat := range file.Categories {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}

		mapping := &models.CategoryMapping{
			Key:            key,
			MarketplaceKey: strings.TrimSpace(cat.MarketplaceKey),
			Features:       cat.Features,
			Rules:          make([]models.MappingRule, 0, len(cat.Rules)),
		}
		for _, raw := range cat.Rules {
			rule, err := models.ParseRule(raw)
			if err != nil {
				// правило сохраняется как InvalidStrategy, движок пропустит поле
				logger.Warn("Некорректное правило сопоставления",
					interfaces.LogField{Key: "category", Value: key},
					interfaces.LogField{Key: "field", Value: raw.TargetField},
					interfaces.LogField{Key: "error", Value: err.Error()},
				)
			}
			mapping.Rules = append(mapping.Rules, rule)
		}
		categories[key] = mapping
	}
	return categories, nil
}
