package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewPaginationBounds(t *testing.T) {
	p := NewPagination(0, 0, "", false)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, DefaultPageSize, p.PageSize)

	p = NewPagination(3, 1000, "", false)
	assert.Equal(t, MaxPageSize, p.PageSize)
	assert.Equal(t, 2*MaxPageSize, p.GetOffset())
}

func TestSetTotal(t *testing.T) {
	p := NewPagination(2, 50, "", false)
	p.SetTotal(237)

	assert.Equal(t, 5, p.TotalPages)
	assert.True(t, p.HasNext)
	assert.True(t, p.HasPrev)

	p = NewPagination(5, 50, "", false)
	p.SetTotal(237)
	assert.False(t, p.HasNext)
}

func TestGetSortOrder(t *testing.T) {
	p := NewPagination(1, 10, "Status", true)
	assert.Equal(t, "status DESC", p.GetSortOrder("status", "updated_at"))

	p = NewPagination(1, 10, "status; DROP TABLE batches", false)
	assert.Equal(t, "created_at DESC", p.GetSortOrder("status", "updated_at"))
}
