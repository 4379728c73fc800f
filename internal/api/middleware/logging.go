// logging.go — slog-журнал входящих HTTP-запросов сервиса вложений.
package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// accessWriter перехватывает статус-код и объём ответа.
type accessWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *accessWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *accessWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

// Unwrap открывает оригинальный ResponseWriter для http.ResponseController.
func (w *accessWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// statusLevel выбирает уровень записи по статус-коду ответа:
// ошибки сервера — ERROR, ошибки клиента — WARN, остальное — INFO.
func statusLevel(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// RequestLogger возвращает middleware журнала запросов.
// Query string пишется целиком: company_id и параметры фоновых
// операций приходят в query, без них запись в журнале бесполезна.
// Тело ответа скачивания в журнал не попадает, только размер.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	log := logger.With(slog.String("component", "http"))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			aw := &accessWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(aw, r)

			log.LogAttrs(r.Context(), statusLevel(aw.status), "Запрос обработан",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("query", r.URL.RawQuery),
				slog.Int("status", aw.status),
				slog.Int64("bytes", aw.bytes),
				slog.Duration("duration", time.Since(start)),
				slog.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}
