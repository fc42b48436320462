package services

import (
	"testing"

	"github.com/athebyme/gomarket-platform/marketplace-service/internal/domain/models"
	"github.com/stretchr/testify/assert"
)

func chunkWith(status models.BatchStatus, success, failed int) *models.Batch {
	return &models.Batch{Status: status, SuccessCount: success, FailedCount: failed, DeclaredCount: success + failed}
}

func TestAggregateChunksSumsCounts(t *testing.T) {
	agg := AggregateChunks([]*models.Batch{
		chunkWith(models.BatchStatusCompleted, 10, 2),
		chunkWith(models.BatchStatusCompleted, 8, 0),
		chunkWith(models.BatchStatusCompleted, 5, 3),
	})

	assert.Equal(t, 23, agg.SuccessCount)
	assert.Equal(t, 5, agg.FailedCount)
	assert.Equal(t, 28, agg.DeclaredCount)
	assert.Equal(t, models.BatchStatusCompleted, agg.Status)
}

func TestAggregateChunksStatus(t *testing.T) {
	tests := []struct {
		name   string
		chunks []models.BatchStatus
		want   models.BatchStatus
	}{
		{"no chunks", nil, models.BatchStatusBuilding},
		{"all building", []models.BatchStatus{models.BatchStatusBuilding, models.BatchStatusBuilding}, models.BatchStatusBuilding},
		{"all submitted", []models.BatchStatus{models.BatchStatusSubmitted, models.BatchStatusSubmitted}, models.BatchStatusSubmitted},
		{"partly submitted", []models.BatchStatus{models.BatchStatusSubmitted, models.BatchStatusBuilding}, models.BatchStatusProcessing},
		{"one processing", []models.BatchStatus{models.BatchStatusSubmitted, models.BatchStatusProcessing}, models.BatchStatusProcessing},
		{"one done", []models.BatchStatus{models.BatchStatusCompleted, models.BatchStatusSubmitted}, models.BatchStatusProcessing},
		{"all done", []models.BatchStatus{models.BatchStatusCompleted, models.BatchStatusCompleted}, models.BatchStatusCompleted},
		{"one failed", []models.BatchStatus{models.BatchStatusCompleted, models.BatchStatusError}, models.BatchStatusError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := make([]*models.Batch, 0, len(tt.chunks))
			for _, s := range tt.chunks {
				chunks = append(chunks, chunkWith(s, 0, 0))
			}
			assert.Equal(t, tt.want, AggregateChunks(chunks).Status)
		})
	}
}

func TestMasterAggregateApply(t *testing.T) {
	master := &models.Batch{Status: models.BatchStatusSubmitted, SuccessCount: 99}
	agg := AggregateChunks([]*models.Batch{chunkWith(models.BatchStatusCompleted, 3, 1)})

	assert.True(t, agg.Apply(master))
	assert.Equal(t, 3, master.SuccessCount)
	assert.Equal(t, 1, master.FailedCount)
	assert.Equal(t, models.BatchStatusCompleted, master.Status)

	assert.False(t, agg.Apply(master))
}
