// Package cli - операторская утилита feedctl: просмотр пакетов, пул идентификаторов,
// проверка файла правил.
package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/athebyme/gomarket-platform/marketplace-service/config"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/adapters/logger"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/adapters/rules"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/app"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/domain/models"
	infra "github.com/athebyme/gomarket-platform/marketplace-service/internal/infrastructure/postgres"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Store - операции хранилища, нужные утилите
type Store interface {
	GetBatch(ctx context.Context, id string) (*models.Batch, error)
	ListBatches(ctx context.Context, filter *models.BatchFilter, limit, offset int) ([]*models.Batch, int, error)
	ListChunks(ctx context.Context, masterID string) ([]*models.Batch, error)
	ListItems(ctx context.Context, batchID string) ([]*models.BatchItem, error)
	CountItems(ctx context.Context, batchID string) (models.ItemCounts, error)
	IdentifierStats(ctx context.Context) (*models.IdentifierStats, error)
	SeedIdentifiers(ctx context.Context, codes []string) (int, error)
}

// Deps - внешние зависимости команд; в тестах подменяются
type Deps struct {
	// Open открывает хранилище; возвращенная функция закрывает его
	Open func(ctx context.Context, configPath string) (Store, func() error, error)
	// Migrate применяет схему БД
	Migrate func(ctx context.Context, configPath string) error
}

type options struct {
	configPath string
	output     string
}

// BuildCLI возвращает корневую команду с подключением к настоящей БД
func BuildCLI(version string) *cobra.Command {
	return NewRootCommand(version, Deps{Open: openStorage, Migrate: migrate})
}

// NewRootCommand собирает дерево команд feedctl
func NewRootCommand(version string, deps Deps) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "feedctl",
		Short:         "Диагностика выгрузки товаров на маркетплейс",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "путь к файлу конфигурации")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", "json", "формат вывода: json или yaml")

	root.AddCommand(buildBatchCommand(opts, deps))
	root.AddCommand(buildIdentifiersCommand(opts, deps))
	root.AddCommand(buildRulesCommand(opts))
	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Применить схему БД",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := deps.Migrate(cmd.Context(), opts.configPath); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	})

	return root
}

func buildBatchCommand(opts *options, deps Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Просмотр пакетов выгрузки",
	}

	var (
		status      string
		mastersOnly bool
		limit       int
		offset      int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "Список пакетов, новые первыми",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := &models.BatchFilter{MastersOnly: mastersOnly}
			if status != "" {
				filter.Status = models.BatchStatus(strings.ToUpper(status))
				if !filter.Status.IsValid() {
					return fmt.Errorf("unknown batch status %q", status)
				}
			}
			return withStore(cmd, opts, deps, func(ctx context.Context, store Store) error {
				batches, total, err := store.ListBatches(ctx, filter, limit, offset)
				if err != nil {
					return err
				}
				if batches == nil {
					batches = []*models.Batch{}
				}
				return render(cmd.OutOrStdout(), opts.output, map[string]interface{}{
					"total":   total,
					"batches": batches,
				})
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "фильтр по статусу")
	list.Flags().BoolVar(&mastersOnly, "masters-only", false, "только мастер-пакеты")
	list.Flags().IntVar(&limit, "limit", 20, "сколько пакетов вывести")
	list.Flags().IntVar(&offset, "offset", 0, "смещение")

	show := &cobra.Command{
		Use:   "show <batch-id>",
		Short: "Пакет, его чанки и счетчики строк",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, opts, deps, func(ctx context.Context, store Store) error {
				batch, err := store.GetBatch(ctx, args[0])
				if err != nil {
					return err
				}
				if batch == nil {
					return fmt.Errorf("%w: %s", models.ErrBatchNotFound, args[0])
				}

				out := map[string]interface{}{"batch": batch}
				if batch.IsLeaf() {
					counts, err := store.CountItems(ctx, batch.ID)
					if err != nil {
						return err
					}
					out["items"] = counts
				} else {
					chunks, err := store.ListChunks(ctx, batch.ID)
					if err != nil {
						return err
					}
					out["chunks"] = chunks
				}
				return render(cmd.OutOrStdout(), opts.output, out)
			})
		},
	}

	items := &cobra.Command{
		Use:   "items <batch-id>",
		Short: "Строки пакета по товарам",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, opts, deps, func(ctx context.Context, store Store) error {
				items, err := store.ListItems(ctx, args[0])
				if err != nil {
					return err
				}
				if items == nil {
					items = []*models.BatchItem{}
				}
				return render(cmd.OutOrStdout(), opts.output, items)
			})
		},
	}

	cmd.AddCommand(list, show, items)
	return cmd
}

func buildIdentifiersCommand(opts *options, deps Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identifiers",
		Short: "Пул идентификаторов (UPC)",
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Сколько кодов всего, занято и свободно",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, opts, deps, func(ctx context.Context, store Store) error {
				s, err := store.IdentifierStats(ctx)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts.output, s)
			})
		},
	}

	var file string
	seed := &cobra.Command{
		Use:   "seed [code...]",
		Short: "Добавить свободные коды в пул",
		RunE: func(cmd *cobra.Command, args []string) error {
			codes := normalizeCodes(args)
			if file != "" {
				fromFile, err := readCodes(file)
				if err != nil {
					return err
				}
				codes = append(codes, fromFile...)
			}
			if len(codes) == 0 {
				return errors.New("no identifier codes given")
			}
			return withStore(cmd, opts, deps, func(ctx context.Context, store Store) error {
				inserted, err := store.SeedIdentifiers(ctx, codes)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts.output, map[string]int{
					"given":    len(codes),
					"inserted": inserted,
				})
			})
		},
	}
	seed.Flags().StringVarP(&file, "file", "f", "", "файл с кодами, по одному в строке")

	cmd.AddCommand(stats, seed)
	return cmd
}

func buildRulesCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Правила сопоставления категорий",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate <path>",
		Short: "Проверить файл правил и вывести некорректные правила",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fileRules, err := rules.LoadFile(args[0], logger.NewNop())
			if err != nil {
				return err
			}

			report := map[string]interface{}{}
			invalid := 0
			for _, key := range fileRules.Categories() {
				mapping, err := fileRules.RulesFor(cmd.Context(), key)
				if err != nil {
					return err
				}
				var problems []string
				for _, rule := range mapping.Rules {
					if inv, ok := rule.Strategy.(models.InvalidStrategy); ok {
						problems = append(problems, rule.TargetField+": "+inv.Reason)
					}
				}
				invalid += len(problems)
				report[key] = map[string]interface{}{
					"rules":   len(mapping.Rules),
					"invalid": problems,
				}
			}
			if err := render(cmd.OutOrStdout(), opts.output, report); err != nil {
				return err
			}
			if invalid > 0 {
				return fmt.Errorf("%d invalid mapping rules", invalid)
			}
			return nil
		},
	})
	return cmd
}

func withStore(cmd *cobra.Command, opts *options, deps Deps, fn func(ctx context.Context, store Store) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	store, closeFn, err := deps.Open(ctx, opts.configPath)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, store)
}

// render печатает значение в выбранном формате. YAML строится из JSON-представления,
// чтобы имена полей совпадали с API.
func render(w io.Writer, format string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}

	switch strings.ToLower(format) {
	case "", "json":
		_, err = fmt.Fprintln(w, string(data))
		return err
	case "yaml", "yml":
		var generic interface{}
		if err := yaml.Unmarshal(data, &generic); err != nil {
			return fmt.Errorf("failed to convert output: %w", err)
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return fmt.Errorf("failed to encode output: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func normalizeCodes(raw []string) []string {
	codes := make([]string, 0, len(raw))
	for _, c := range raw {
		if c = strings.TrimSpace(c); c != "" && !strings.HasPrefix(c, "#") {
			codes = append(codes, c)
		}
	}
	return codes
}

func readCodes(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open codes file: %w", err)
	}
	defer f.Close()

	var raw []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		raw = append(raw, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read codes file: %w", err)
	}
	return normalizeCodes(raw), nil
}

func openStorage(ctx context.Context, configPath string) (Store, func() error, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	feedApp, err := app.NewStorageOnly(ctx, cfg, logger.NewNop())
	if err != nil {
		return nil, nil, err
	}
	return feedApp.Storage, feedApp.Close, nil
}

func migrate(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg.Postgres.AutoMigrate = false
	feedApp, err := app.NewStorageOnly(ctx, cfg, logger.NewNop())
	if err != nil {
		return err
	}
	defer feedApp.Close()
	return infra.Migrate(ctx, feedApp.Pool)
}
