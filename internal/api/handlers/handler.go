// handler.go — общие вспомогательные функции обработчиков API.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	apierrors "github.com/bigkaa/goattachstore/internal/api/errors"
)

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// companyIDParam извлекает обязательный query-параметр company_id.
// Возвращает (0, false) после записи ответа 400.
func companyIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.URL.Query().Get("company_id")
	if raw == "" {
		apierrors.ValidationError(w, "Параметр company_id обязателен")
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		apierrors.ValidationError(w, "Параметр company_id должен быть положительным целым числом")
		return 0, false
	}
	return id, true
}

// boolParam извлекает опциональный булев query-параметр.
func boolParam(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}
