package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/athebyme/gomarket-platform/marketplace-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/domain/services"
	"github.com/athebyme/gomarket-platform/marketplace-service/pkg/interfaces"
)

const (
	// CommandsTopic - команды воркеру выгрузки
	CommandsTopic = "marketplace-feed-commands"
	// EventsTopic - события жизненного цикла пакетов
	EventsTopic = "marketplace-feed-events"
)

// CommandType - тип команды воркеру
type CommandType string

const (
	CommandBuildFeed    CommandType = "build_feed"
	CommandSubmitBatch  CommandType = "submit_batch"
	CommandPollBatch    CommandType = "poll_batch"
	CommandAbandonBatch CommandType = "abandon_batch"
	CommandRefreshSpecs CommandType = "refresh_specs"
)

// ErrUnknownCommand - команда, которую воркер не умеет выполнять
var ErrUnknownCommand = errors.New("unknown feed command")

// FeedCommand - сообщение в теме команд
type FeedCommand struct {
	Type        CommandType `json:"type"`
	ProductKeys []string    `json:"product_keys,omitempty"`
	BatchID     string      `json:"batch_id,omitempty"`
	CategoryKey string      `json:"category_key,omitempty"`
	RequestedAt time.Time   `json:"requested_at"`
}

// key определяет партицию: команды одного пакета обрабатываются по порядку
func (c FeedCommand) key() string {
	if c.BatchID != "" {
		return c.BatchID
	}
	return string(c.Type)
}

// CommandPublisher ставит команды в очередь воркера
type CommandPublisher struct {
	bus   interfaces.MessagingPort
	topic string
}

// NewCommandPublisher создает издателя команд
func NewCommandPublisher(bus interfaces.MessagingPort) *CommandPublisher {
	return &CommandPublisher{bus: bus, topic: CommandsTopic}
}

// Enqueue публикует команду
func (p *CommandPublisher) Enqueue(ctx context.Context, cmd FeedCommand) error {
	if cmd.RequestedAt.IsZero() {
		cmd.RequestedAt = time.Now().UTC()
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}
	if err := p.bus.PublishWithKey(ctx, p.topic, cmd.key(), data); err != nil {
		return fmt.Errorf("failed to enqueue %s command: %w", cmd.Type, err)
	}
	return nil
}

// EnqueueBuild ставит в очередь сборку пакета из товаров
func (p *CommandPublisher) EnqueueBuild(ctx context.Context, productKeys []string) error {
	return p.Enqueue(ctx, FeedCommand{Type: CommandBuildFeed, ProductKeys: productKeys})
}

// EventPublisher публикует события пакетов в Kafka
type EventPublisher struct {
	bus   interfaces.MessagingPort
	topic string
}

// NewEventPublisher создает издателя событий
func NewEventPublisher(bus interfaces.MessagingPort) *EventPublisher {
	return &EventPublisher{bus: bus, topic: EventsTopic}
}

// PublishFeedEvent реализует services.EventPublisher.
// Ключ - мастер-пакет, поэтому события одного дерева упорядочены.
func (p *EventPublisher) PublishFeedEvent(ctx context.Context, event models.FeedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal feed event: %w", err)
	}

	key := event.BatchID
	if event.ParentBatchID != nil {
		key = *event.ParentBatchID
	}
	return p.bus.PublishWithKey(ctx, p.topic, key, data)
}

// FeedCommands - операции, которые воркер выполняет по командам
type FeedCommands interface {
	BuildAndSubmit(ctx context.Context, productKeys []string) (*services.BuildResult, error)
	Submit(ctx context.Context, batchID string) (*models.Batch, error)
	Poll(ctx context.Context, batchID string) (*models.Batch, error)
	Abandon(ctx context.Context, batchID string) (*models.Batch, error)
	RefreshSpecs(ctx context.Context, categoryKey string) error
}

// CommandHandler возвращает обработчик темы команд
func CommandHandler(feed FeedCommands, logger interfaces.LoggerPort) interfaces.MessageHandler {
	return func(ctx context.Context, msg *interfaces.Message) error {
		var cmd FeedCommand
		if err := json.Unmarshal(msg.Value, &cmd); err != nil {
			return fmt.Errorf("failed to decode command %s: %w", msg.ID, err)
		}

		log := logger.WithFields(
			interfaces.LogField{Key: "command", Value: string(cmd.Type)},
			interfaces.LogField{Key: "message_id", Value: msg.ID},
		)
		if cmd.BatchID != "" {
			ctx = interfaces.ContextWithBatch(ctx, cmd.BatchID)
		}

		switch cmd.Type {
		case CommandBuildFeed:
			result, err := feed.BuildAndSubmit(ctx, cmd.ProductKeys)
			if result != nil && result.Master != nil {
				log.InfoWithContext(ctx, "Команда сборки выполнена",
					interfaces.LogField{Key: "batch_id", Value: result.Master.ID},
					interfaces.LogField{Key: "accepted", Value: result.Accepted},
					interfaces.LogField{Key: "rejected", Value: len(result.Rejected)},
				)
			}
			return err
		case CommandSubmitBatch:
			_, err := feed.Submit(ctx, cmd.BatchID)
			return err
		case CommandPollBatch:
			_, err := feed.Poll(ctx, cmd.BatchID)
			return err
		case CommandAbandonBatch:
			_, err := feed.Abandon(ctx, cmd.BatchID)
			return err
		case CommandRefreshSpecs:
			return feed.RefreshSpecs(ctx, cmd.CategoryKey)
		default:
			return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type)
		}
	}
}
