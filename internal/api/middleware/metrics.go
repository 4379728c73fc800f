// metrics.go — Prometheus HTTP метрики сервиса вложений.
// Регистрирует метрики: as_http_requests_total, as_http_request_duration_seconds.
// Нормализация путей предотвращает взрывной рост кардинальности.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики сервиса вложений
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "as_http_requests_total",
			Help: "Общее количество HTTP-запросов к сервису вложений",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "as_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к сервису вложений в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Записывает количество запросов и длительность для каждого endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Нормализуем путь для лейблов метрик
			// (заменяем идентификаторы на {id} для предотвращения кардинальности)
			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newMetricsResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(duration)
		})
	}
}

// metricsResponseWriter — обёртка для перехвата статус-кода.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// isUUID проверяет, похож ли сегмент пути на UUID.
func isUUID(s string) bool {
	return len(s) == 36 && s[8] == '-' && s[13] == '-' && s[18] == '-' && s[23] == '-'
}

// normalizePath заменяет динамические сегменты пути на плейсхолдеры
// для предотвращения взрывного роста кардинальности метрик.
//
//	/attachments/download/a1b2...   → /attachments/download/{id}
//	/attachments/a1b2.../description → /attachments/{id}/description
//	/attachments/a1b2...            → /attachments/{id}
//	/attachments/invoice/42         → /attachments/{entity_type}/{entity_id}
func normalizePath(path string) string {
	// Статические пути — возвращаем как есть
	switch path {
	case "/health/live", "/health/ready", "/metrics",
		"/attachments/upload",
		"/storage/info", "/storage/migrate", "/storage/cleanup":
		return path
	}

	if rest, ok := strings.CutPrefix(path, "/attachments/download/"); ok && rest != "" {
		return "/attachments/download/{id}"
	}

	if rest, ok := strings.CutPrefix(path, "/attachments/"); ok && rest != "" {
		segments := strings.Split(rest, "/")
		switch {
		case len(segments) == 1 && isUUID(segments[0]):
			return "/attachments/{id}"
		case len(segments) == 2 && isUUID(segments[0]) && segments[1] == "description":
			return "/attachments/{id}/description"
		case len(segments) == 2:
			return "/attachments/{entity_type}/{entity_id}"
		}
	}

	return path
}
