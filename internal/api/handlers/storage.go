// storage.go — HTTP-обработчики управления хранилищем:
// сводка, миграция между хранилищами, очистка/аудит.
package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	apierrors "github.com/bigkaa/goattachstore/internal/api/errors"
	"github.com/bigkaa/goattachstore/internal/domain/model"
	"github.com/bigkaa/goattachstore/internal/service"
)

// StorageHandler — обработчики /storage/*.
type StorageHandler struct {
	attachments *service.AttachmentService
	migration   *service.MigrationService
	cleanup     *service.CleanupService
	logger      *slog.Logger
}

// NewStorageHandler создаёт обработчик управления хранилищем.
func NewStorageHandler(
	attachments *service.AttachmentService,
	migration *service.MigrationService,
	cleanup *service.CleanupService,
	logger *slog.Logger,
) *StorageHandler {
	return &StorageHandler{
		attachments: attachments,
		migration:   migration,
		cleanup:     cleanup,
		logger:      logger.With(slog.String("component", "storage_handler")),
	}
}

// Info — GET /storage/info?company_id=
// Активный backend, доступность драйверов, агрегированная статистика.
// company_id ограничивает статистику одним тенантом.
func (h *StorageHandler) Info(w http.ResponseWriter, r *http.Request) {
	companyID, ok := optionalCompanyID(w, r)
	if !ok {
		return
	}

	info, err := h.attachments.Info(r.Context(), companyID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// optionalCompanyID извлекает опциональный параметр company_id.
// Отсутствие параметра — весь набор данных (companyID = 0).
func optionalCompanyID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.URL.Query().Get("company_id")
	if raw == "" {
		return 0, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		apierrors.ValidationError(w, "Параметр company_id должен быть положительным целым числом")
		return 0, false
	}
	return id, true
}

// Migrate — POST /storage/migrate?dry_run=&company_id=&source=&target=
// Без source/target мигрирует с неактивного backend на активный.
func (h *StorageHandler) Migrate(w http.ResponseWriter, r *http.Request) {
	companyID, ok := optionalCompanyID(w, r)
	if !ok {
		return
	}
	dryRun := boolParam(r, "dry_run")

	// По умолчанию цель — активный backend, источник — второй
	target := h.attachments.ActiveBackend()
	source := model.BackendLocal
	if target == model.BackendLocal {
		source = model.BackendRemote
	}
	if raw := r.URL.Query().Get("source"); raw != "" {
		source = model.Backend(raw)
	}
	if raw := r.URL.Query().Get("target"); raw != "" {
		target = model.Backend(raw)
	}
	if !source.Valid() || !target.Valid() {
		apierrors.ValidationError(w, "Параметры source и target принимают значения local или remote")
		return
	}
	if source == target {
		apierrors.ValidationError(w, "Исходное и целевое хранилище совпадают")
		return
	}

	result, err := h.migration.Run(r.Context(), source, target, companyID, dryRun)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Cleanup — POST /storage/cleanup?company_id=&orphaned_only=&dry_run=
func (h *StorageHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	companyID, ok := optionalCompanyID(w, r)
	if !ok {
		return
	}

	result, err := h.cleanup.Run(r.Context(), companyID, boolParam(r, "dry_run"), boolParam(r, "orphaned_only"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
