package models

// BatchFilter - фильтр для диагностических запросов к хранилищу пакетов
type BatchFilter struct {
	Status      BatchStatus `json:"status,omitempty"`
	ParentID    string      `json:"parent_id,omitempty"`
	MastersOnly bool        `json:"masters_only,omitempty"`
	Abandoned   *bool       `json:"abandoned,omitempty"`
}

// ToMap преобразует BatchFilter в map для использования в запросах
func (f *BatchFilter) ToMap() map[string]interface{} {
	result := make(map[string]interface{})
	if f == nil {
		return result
	}

	if f.Status != "" {
		result["status"] = string(f.Status)
	}

	if f.ParentID != "" {
		result["parent_batch_id"] = f.ParentID
	}

	if f.MastersOnly {
		result["masters_only"] = true
	}

	if f.Abandoned != nil {
		result["abandoned"] = *f.Abandoned
	}

	return result
}

// Matches проверяет пакет на соответствие фильтру
func (f *BatchFilter) Matches(b *Batch) bool {
	if f == nil {
		return true
	}
	if f.Status != "" && b.Status != f.Status {
		return false
	}
	if f.ParentID != "" && b.Parent() != f.ParentID {
		return false
	}
	if f.MastersOnly && !b.IsMaster() {
		return false
	}
	if f.Abandoned != nil && b.Abandoned != *f.Abandoned {
		return false
	}
	return true
}
