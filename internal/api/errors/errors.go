// Пакет errors — конструкторы стандартных ошибок HTTP API.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors //nolint:revive // TODO: переименовать пакет errors, конфликт со stdlib

import (
	"encoding/json"
	"net/http"
)

// Машиночитаемые коды ошибок API.
const (
	CodeValidationError    = "VALIDATION_ERROR"
	CodeNotFound           = "NOT_FOUND"
	CodeFileTooLarge       = "FILE_TOO_LARGE"
	CodeDangerousFileType  = "DANGEROUS_FILE_TYPE"
	CodeBackendUnavailable = "BACKEND_UNAVAILABLE"
	CodeIntegrityError     = "INTEGRITY_ERROR"
	CodeOperationBusy      = "OPERATION_BUSY"
	CodeInternalError      = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 вложение не найдено (в том числе вложение чужого тенанта).
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// FileTooLarge — 413 файл превышает лимит категории.
func FileTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, CodeFileTooLarge, message)
}

// DangerousFileType — 403 расширение из deny-list.
func DangerousFileType(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeDangerousFileType, message)
}

// BackendUnavailable — 503 хранилище недоступно.
// Retry-After подсказывает клиенту, когда повторить запрос.
func BackendUnavailable(w http.ResponseWriter, message string) {
	w.Header().Set("Retry-After", "30")
	WriteError(w, http.StatusServiceUnavailable, CodeBackendUnavailable, message)
}

// IntegrityError — 500 запись метаданных без объекта в хранилище.
func IntegrityError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeIntegrityError, message)
}

// OperationBusy — 409 фоновая операция уже выполняется.
func OperationBusy(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeOperationBusy, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
