// attachments.go — HTTP-обработчики операций с вложениями.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goattachstore/internal/api/errors"
	"github.com/bigkaa/goattachstore/internal/domain/model"
	"github.com/bigkaa/goattachstore/internal/service"
	"github.com/bigkaa/goattachstore/internal/storage/backend"
	"github.com/bigkaa/goattachstore/internal/validation"
)

// maxMultipartMemory — размер буфера в памяти при разборе multipart,
// остальное спулится во временные файлы.
const maxMultipartMemory = 10 << 20

// AttachmentsHandler — обработчики /attachments/*.
type AttachmentsHandler struct {
	attachments *service.AttachmentService
	logger      *slog.Logger
}

// NewAttachmentsHandler создаёт обработчик вложений.
func NewAttachmentsHandler(attachments *service.AttachmentService, logger *slog.Logger) *AttachmentsHandler {
	return &AttachmentsHandler{
		attachments: attachments,
		logger:      logger.With(slog.String("component", "attachments_handler")),
	}
}

// writeServiceError отображает ошибку сервисного слоя в HTTP-ответ.
func writeServiceError(w http.ResponseWriter, err error) {
	var verr *validation.Error
	switch {
	case errors.As(err, &verr):
		switch verr.Kind {
		case validation.KindTooLarge:
			apierrors.FileTooLarge(w, verr.Message)
		case validation.KindDangerous:
			apierrors.DangerousFileType(w, verr.Message)
		default:
			apierrors.ValidationError(w, verr.Message)
		}
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, "Вложение не найдено")
	case errors.Is(err, service.ErrIntegrity):
		apierrors.IntegrityError(w, "Объект вложения отсутствует в хранилище")
	case errors.Is(err, service.ErrBusy):
		apierrors.OperationBusy(w, err.Error())
	case errors.Is(err, backend.ErrUnavailable),
		errors.Is(err, backend.ErrPermissionDenied),
		errors.Is(err, context.DeadlineExceeded):
		apierrors.BackendUnavailable(w, "Хранилище недоступно")
	default:
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}

// Upload — POST /attachments/upload?entity_type=&entity_id=&company_id=
// Multipart body: file (обязательно), description (опционально).
// 201 с записью вложения, 400/413/403 по результату валидации.
func (h *AttachmentsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	companyID, ok := companyIDParam(w, r)
	if !ok {
		return
	}

	entityType := strings.TrimSpace(r.URL.Query().Get("entity_type"))
	if entityType == "" {
		apierrors.ValidationError(w, "Параметр entity_type обязателен")
		return
	}
	entityID, err := strconv.ParseInt(r.URL.Query().Get("entity_id"), 10, 64)
	if err != nil || entityID <= 0 {
		apierrors.ValidationError(w, "Параметр entity_id должен быть положительным целым числом")
		return
	}

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		apierrors.ValidationError(w, "Некорректное multipart-тело запроса")
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		apierrors.ValidationError(w, "Поле file обязательно")
		return
	}
	defer file.Close()

	rec, err := h.attachments.Upload(r.Context(), service.UploadParams{
		CompanyID:   companyID,
		EntityType:  entityType,
		EntityID:    entityID,
		Filename:    header.Filename,
		Size:        header.Size,
		Description: r.FormValue("description"),
		Reader:      file,
	})
	if err != nil {
		h.logger.Warn("Загрузка вложения отклонена",
			slog.Int64("company_id", companyID),
			slog.String("filename", header.Filename),
			slog.String("error", err.Error()),
		)
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}

// Download — GET /attachments/download/{id}?company_id=
// 200 со streaming-телом и Content-Disposition, 404 если пара
// id/company не совпадает.
func (h *AttachmentsHandler) Download(w http.ResponseWriter, r *http.Request) {
	companyID, ok := companyIDParam(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	rec, rc, err := h.attachments.Download(r.Context(), id, companyID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", rec.MimeType)
	w.Header().Set("Content-Length", strconv.FormatInt(rec.FileSize, 10))
	w.Header().Set("Content-Disposition", contentDisposition(rec.OriginalFilename))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, rc); err != nil {
		// Заголовки уже отправлены, остаётся только залогировать
		h.logger.Warn("Ошибка при передаче содержимого вложения",
			slog.String("id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
}

// contentDisposition формирует заголовок Content-Disposition с ASCII
// fallback (filename) и RFC 5987 percent-encoded именем (filename*),
// сохраняющим не-ASCII символы оригинального имени.
func contentDisposition(filename string) string {
	ascii := true
	for _, r := range filename {
		if r > 127 {
			ascii = false
			break
		}
	}
	if ascii {
		return mime.FormatMediaType("attachment", map[string]string{"filename": filename})
	}

	fallback := strings.Map(func(r rune) rune {
		if r > 127 || r == '"' || r == '\\' {
			return '_'
		}
		return r
	}, filename)

	return fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`,
		fallback, url.PathEscape(filename))
}

// listResponse — ответ списка вложений бизнес-сущности.
type listResponse struct {
	Attachments    []*model.AttachmentRecord `json:"attachments"`
	TotalCount     int                       `json:"total_count"`
	TotalSizeBytes int64                     `json:"total_size_bytes"`
}

// List — GET /attachments/{entity_type}/{entity_id}?company_id=
func (h *AttachmentsHandler) List(w http.ResponseWriter, r *http.Request) {
	companyID, ok := companyIDParam(w, r)
	if !ok {
		return
	}
	entityType := chi.URLParam(r, "entityType")
	entityID, err := strconv.ParseInt(chi.URLParam(r, "entityID"), 10, 64)
	if err != nil || entityID <= 0 {
		apierrors.ValidationError(w, "Идентификатор сущности должен быть положительным целым числом")
		return
	}

	records, err := h.attachments.List(r.Context(), companyID, entityType, entityID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := listResponse{
		Attachments: records,
		TotalCount:  len(records),
	}
	if resp.Attachments == nil {
		resp.Attachments = []*model.AttachmentRecord{}
	}
	for _, rec := range records {
		resp.TotalSizeBytes += rec.FileSize
	}

	writeJSON(w, http.StatusOK, resp)
}

// Delete — DELETE /attachments/{id}?company_id=
// 200 при удалении, 404 если вложение уже отсутствует.
func (h *AttachmentsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	companyID, ok := companyIDParam(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	deleted, err := h.attachments.Delete(r.Context(), id, companyID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !deleted {
		apierrors.NotFound(w, "Вложение не найдено")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "id": id})
}

// updateDescriptionRequest — тело запроса обновления описания.
type updateDescriptionRequest struct {
	Description string `json:"description"`
}

// UpdateDescription — PUT /attachments/{id}/description?company_id=
// 200 с обновлённой записью.
func (h *AttachmentsHandler) UpdateDescription(w http.ResponseWriter, r *http.Request) {
	companyID, ok := companyIDParam(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	var req updateDescriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное JSON-тело запроса")
		return
	}

	rec, err := h.attachments.UpdateDescription(r.Context(), id, companyID, req.Description)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}
