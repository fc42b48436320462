package services

import (
	"context"

	"github.com/athebyme/gomarket-platform/marketplace-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/marketplace-service/pkg/interfaces"
)

// publishEvent отправляет событие, если издатель настроен.
// Ошибка публикации не влияет на состояние пакета и только логируется.
func publishEvent(ctx context.Context, events EventPublisher, logger interfaces.LoggerPort, t models.FeedEventType, b *models.Batch) {
	if events == nil || b == nil {
		return
	}
	if err := events.PublishFeedEvent(ctx, models.NewFeedEvent(t, b)); err != nil {
		logger.Warn("Не удалось опубликовать событие пакета",
			interfaces.LogField{Key: "batch_id", Value: b.ID},
			interfaces.LogField{Key: "event", Value: string(t)},
			interfaces.LogField{Key: "error", Value: err.Error()},
		)
	}
}
