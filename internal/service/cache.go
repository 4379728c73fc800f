// cache.go — LRU-кэш метаданных вложений с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable. Снижает нагрузку
// на PostgreSQL на download-пути.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goattachstore/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "as_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш метаданных.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "as_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша метаданных.",
	})
)

// CacheService — LRU-кэш метаданных вложений с автоматическим TTL.
// Кэш per-instance: инвалидация работает только в пределах одного
// экземпляра сервиса, TTL ограничивает окно рассинхронизации.
type CacheService struct {
	cache *expirable.LRU[string, *model.AttachmentRecord]
}

// NewCacheService создаёт LRU-кэш с указанным максимальным размером и TTL.
func NewCacheService(maxSize int, ttl time.Duration) *CacheService {
	cache := expirable.NewLRU[string, *model.AttachmentRecord](maxSize, nil, ttl)
	return &CacheService{cache: cache}
}

// Get возвращает запись вложения из кэша по id.
// Возвращает (запись, true) при hit или (nil, false) при miss.
func (c *CacheService) Get(id string) (*model.AttachmentRecord, bool) {
	val, ok := c.cache.Get(id)
	if ok {
		cacheHitsTotal.Inc()
		return val, true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Set добавляет или обновляет запись в кэше.
func (c *CacheService) Set(id string, rec *model.AttachmentRecord) {
	c.cache.Add(id, rec)
}

// Delete удаляет запись из кэша (инвалидация при удалении,
// изменении описания или миграции вложения).
func (c *CacheService) Delete(id string) {
	c.cache.Remove(id)
}
