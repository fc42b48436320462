package interfaces

import (
	"context"
	"time"
)

// CachePort определяет интерфейс общего (межпроцессного) кэша.
// Реализация может использовать Redis или любую другую систему кэширования.
type CachePort interface {
	// Get получает значение из кэша по ключу.
	// Возвращает nil, nil если значение не найдено
	Get(ctx context.Context, key string) ([]byte, error)

	// Set сохраняет значение в кэше с указанным сроком действия.
	// Если expiration равно 0, срок действия не устанавливается
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error

	// Delete удаляет значение из кэша по ключу
	Delete(ctx context.Context, key string) error

	// DeleteByPattern удаляет все значения, соответствующие шаблону.
	// Например, "feed:specs:*" удалит все закэшированные спецификации
	DeleteByPattern(ctx context.Context, pattern string) error

	// Lock пытается получить распределенную блокировку с указанным ключом.
	// Возвращает true, если блокировка получена
	Lock(ctx context.Context, key string, expiration time.Duration) (bool, error)

	// Unlock освобождает блокировку, полученную этим же экземпляром
	Unlock(ctx context.Context, key string) error

	// Close закрывает соединение с системой кэширования
	Close() error
}
