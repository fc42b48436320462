package services

import "github.com/athebyme/gomarket-platform/marketplace-service/internal/domain/models"

// MasterAggregate - счетчики и статус мастера, выведенные из его чанков
type MasterAggregate struct {
	SuccessCount  int
	FailedCount   int
	DeclaredCount int
	Status        models.BatchStatus
}

// AggregateChunks суммирует счетчики чанков и выводит статус мастера.
// Мастер никогда не ведет собственные счетчики.
//
// Статус: все чанки завершены - COMPLETED (или ERROR, если хотя бы один в ERROR);
// есть опрашиваемые или уже завершенные чанки - PROCESSING; все отправлены,
// но ответа нет - SUBMITTED; иначе BUILDING.
func AggregateChunks(chunks []*models.Batch) MasterAggregate {
	var agg MasterAggregate
	if len(chunks) == 0 {
		agg.Status = models.BatchStatusBuilding
		return agg
	}

	var building, submitted, processing, completed, failed int
	for _, c := range chunks {
		agg.SuccessCount += c.SuccessCount
		agg.FailedCount += c.FailedCount
		agg.DeclaredCount += c.DeclaredCount

		switch c.Status {
		case models.BatchStatusBuilding:
			building++
		case models.BatchStatusSubmitted:
			submitted++
		case models.BatchStatusProcessing:
			processing++
		case models.BatchStatusCompleted:
			completed++
		case models.BatchStatusError:
			failed++
		}
	}

	total := len(chunks)
	switch {
	case completed+failed == total:
		if failed > 0 {
			agg.Status = models.BatchStatusError
		} else {
			agg.Status = models.BatchStatusCompleted
		}
	case processing > 0 || completed+failed > 0:
		agg.Status = models.BatchStatusProcessing
	case submitted > 0 && building == 0:
		agg.Status = models.BatchStatusSubmitted
	case submitted > 0:
		agg.Status = models.BatchStatusProcessing
	default:
		agg.Status = models.BatchStatusBuilding
	}
	return agg
}

// Apply переносит агрегат в мастер; возвращает true, если что-то изменилось
func (a MasterAggregate) Apply(master *models.Batch) bool {
	changed := master.SuccessCount != a.SuccessCount ||
		master.FailedCount != a.FailedCount ||
		master.DeclaredCount != a.DeclaredCount ||
		master.Status != a.Status
	master.SuccessCount = a.SuccessCount
	master.FailedCount = a.FailedCount
	master.DeclaredCount = a.DeclaredCount
	master.Status = a.Status
	return changed
}
