// Пакет service — бизнес-логика сервиса вложений.
// AttachmentService — единая точка входа для операций с вложениями:
// загрузка, скачивание, список, удаление, описание, статистика.
// Работает поверх репозитория метаданных и драйверов хранилищ.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goattachstore/internal/domain/model"
	"github.com/bigkaa/goattachstore/internal/repository"
	"github.com/bigkaa/goattachstore/internal/storage/backend"
	"github.com/bigkaa/goattachstore/internal/storage/storagekey"
	"github.com/bigkaa/goattachstore/internal/validation"
)

// Prometheus-метрики операций с вложениями.
var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "as_uploads_total",
		Help: "Общее количество загрузок вложений по результату.",
	}, []string{"status"})

	downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "as_downloads_total",
		Help: "Общее количество скачиваний вложений по результату.",
	}, []string{"status"})

	deletesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "as_deletes_total",
		Help: "Общее количество удалений вложений по результату.",
	}, []string{"status"})

	uploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "as_upload_bytes_total",
		Help: "Общий объём загруженных данных в байтах.",
	})
)

// AttachmentService — операции с вложениями.
type AttachmentService struct {
	repo           repository.AttachmentRepository
	drivers        map[model.Backend]backend.Driver
	active         model.Backend
	cache          *CacheService
	backendTimeout time.Duration
	logger         *slog.Logger

	// maintenanceMu — общий лок фоновых операций обслуживания.
	// Миграция и cleanup исключают друг друга: orphan-скан в окне
	// между записью целевой копии и CAS-переключением указателя
	// удалил бы копию как объект без записи метаданных.
	maintenanceMu sync.Mutex
}

// NewAttachmentService создаёт сервис вложений.
// active — backend для новых загрузок (из конфигурации, неизменяем
// в течение жизни процесса). drivers — все сконфигурированные драйверы.
func NewAttachmentService(
	repo repository.AttachmentRepository,
	drivers map[model.Backend]backend.Driver,
	active model.Backend,
	cache *CacheService,
	backendTimeout time.Duration,
	logger *slog.Logger,
) *AttachmentService {
	return &AttachmentService{
		repo:           repo,
		drivers:        drivers,
		active:         active,
		cache:          cache,
		backendTimeout: backendTimeout,
		logger:         logger.With(slog.String("component", "attachments")),
	}
}

// ActiveBackend возвращает backend для новых загрузок.
func (s *AttachmentService) ActiveBackend() model.Backend {
	return s.active
}

// Drivers возвращает все сконфигурированные драйверы.
func (s *AttachmentService) Drivers() map[model.Backend]backend.Driver {
	return s.drivers
}

// driverFor возвращает драйвер для backend записи.
func (s *AttachmentService) driverFor(b model.Backend) (backend.Driver, error) {
	d, ok := s.drivers[b]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, b)
	}
	return d, nil
}

// UploadParams — параметры загрузки вложения.
type UploadParams struct {
	CompanyID   int64
	EntityType  string
	EntityID    int64
	Filename    string
	Size        int64
	Description string
	Reader      io.Reader
}

// Upload загружает вложение: валидация → запись объекта в активное
// хранилище → создание записи метаданных.
//
// Порядок write-then-record: объект пишется до записи метаданных.
// При ошибке записи метаданных выполняется компенсирующее удаление
// объекта; если и оно упало — orphan, его подберёт cleanup.
// Валидация выполняется до любого обращения к хранилищу.
func (s *AttachmentService) Upload(ctx context.Context, p UploadParams) (*model.AttachmentRecord, error) {
	if p.CompanyID <= 0 {
		uploadsTotal.WithLabelValues("invalid").Inc()
		return nil, &validation.Error{Kind: validation.KindInvalid, Message: "company_id обязателен"}
	}
	if strings.TrimSpace(p.EntityType) == "" || p.EntityID <= 0 {
		uploadsTotal.WithLabelValues("invalid").Inc()
		return nil, &validation.Error{Kind: validation.KindInvalid, Message: "entity_type и entity_id обязательны"}
	}

	info, verr := validation.Validate(p.Filename, p.Size)
	if verr != nil {
		uploadsTotal.WithLabelValues(string(verr.Kind)).Inc()
		return nil, verr
	}

	driver, err := s.driverFor(s.active)
	if err != nil {
		uploadsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	now := time.Now().UTC()
	key := storagekey.Build(info.Category, p.CompanyID, p.EntityType, info.SanitizedName, now)

	putCtx, cancel := context.WithTimeout(ctx, s.backendTimeout)
	defer cancel()

	loc, err := driver.Put(putCtx, key, p.Reader, p.Size, info.MimeType)
	if err != nil {
		uploadsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("ошибка записи объекта: %w", err)
	}

	rec := &model.AttachmentRecord{
		ID:               uuid.New().String(),
		EntityType:       p.EntityType,
		EntityID:         p.EntityID,
		CompanyID:        p.CompanyID,
		Filename:         storagekey.Filename(key),
		OriginalFilename: p.Filename,
		FileSize:         p.Size,
		MimeType:         info.MimeType,
		Category:         info.Category,
		StorageBackend:   driver.Name(),
		StorageBucket:    loc.Bucket,
		StorageKey:       loc.Key,
		Description:      p.Description,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.repo.Create(ctx, rec); err != nil {
		// Компенсирующее удаление объекта: метаданные не записаны,
		// объект не должен остаться
		delCtx, delCancel := context.WithTimeout(context.Background(), s.backendTimeout)
		defer delCancel()
		if delErr := driver.Delete(delCtx, loc); delErr != nil {
			s.logger.Error("Компенсирующее удаление объекта не удалось, объект остался orphan",
				slog.String("key", loc.Key),
				slog.String("backend", string(driver.Name())),
				slog.String("error", delErr.Error()),
			)
		}
		uploadsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("ошибка создания записи вложения: %w", err)
	}

	uploadsTotal.WithLabelValues("ok").Inc()
	uploadBytesTotal.Add(float64(p.Size))

	s.logger.Info("Вложение загружено",
		slog.String("id", rec.ID),
		slog.Int64("company_id", rec.CompanyID),
		slog.String("entity_type", rec.EntityType),
		slog.Int64("entity_id", rec.EntityID),
		slog.String("category", string(rec.Category)),
		slog.Int64("size", rec.FileSize),
		slog.String("backend", string(rec.StorageBackend)),
	)

	return rec, nil
}

// getRecord возвращает запись вложения тенанта, через кэш.
// Кэшированная запись чужого тенанта равносильна отсутствующей.
func (s *AttachmentService) getRecord(ctx context.Context, id string, companyID int64) (*model.AttachmentRecord, error) {
	if rec, ok := s.cache.Get(id); ok {
		if rec.CompanyID != companyID {
			return nil, ErrNotFound
		}
		return rec, nil
	}

	rec, err := s.repo.GetByID(ctx, id, companyID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	s.cache.Set(id, rec)
	return rec, nil
}

// Download открывает вложение для чтения.
// Возвращает запись метаданных и поток содержимого; вызывающий код
// обязан закрыть поток. Поток не ограничивается backendTimeout:
// длительность скачивания ограничивает write timeout HTTP-сервера.
func (s *AttachmentService) Download(ctx context.Context, id string, companyID int64) (*model.AttachmentRecord, io.ReadCloser, error) {
	rec, err := s.getRecord(ctx, id, companyID)
	if err != nil {
		downloadsTotal.WithLabelValues("not_found").Inc()
		return nil, nil, err
	}

	driver, err := s.driverFor(rec.StorageBackend)
	if err != nil {
		downloadsTotal.WithLabelValues("error").Inc()
		return nil, nil, err
	}

	rc, _, err := driver.Get(ctx, rec.Locator())
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			// Запись есть, объекта нет — нарушение целостности
			s.logger.Error("Объект вложения отсутствует в хранилище",
				slog.String("id", rec.ID),
				slog.String("backend", string(rec.StorageBackend)),
				slog.String("key", rec.StorageKey),
			)
			downloadsTotal.WithLabelValues("integrity").Inc()
			return nil, nil, ErrIntegrity
		}
		downloadsTotal.WithLabelValues("error").Inc()
		return nil, nil, fmt.Errorf("ошибка чтения объекта: %w", err)
	}

	downloadsTotal.WithLabelValues("ok").Inc()
	return rec, rc, nil
}

// List возвращает вложения бизнес-сущности тенанта, новые первыми.
func (s *AttachmentService) List(ctx context.Context, companyID int64, entityType string, entityID int64) ([]*model.AttachmentRecord, error) {
	return s.repo.ListByEntity(ctx, companyID, entityType, entityID)
}

// deleteAttempts — количество попыток удаления вложения при проигрыше
// guard-условия по storage_backend (конкурентная миграция).
const deleteAttempts = 3

// Delete удаляет вложение: сначала объект, затем запись метаданных.
//
// Порядок object-first: при падении между шагами остаётся запись без
// объекта — её видно аудиту; обратный порядок дал бы невидимый orphan.
// Строка удаляется с guard-условием по storage_backend: конкурентная
// миграция могла переключить указатель после чтения записи, удаление
// строки по устаревшему указателю оставило бы целевую копию orphan.
// Проигрыш guard перечитывает запись и повторяет попытку.
// Возвращает (false, nil), если вложение не существует в пределах
// тенанта: удаление отсутствующего — не ошибка сервиса, решение
// об HTTP-статусе принимает handler.
func (s *AttachmentService) Delete(ctx context.Context, id string, companyID int64) (bool, error) {
	for attempt := 0; attempt < deleteAttempts; attempt++ {
		rec, err := s.getRecord(ctx, id, companyID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				deletesTotal.WithLabelValues("not_found").Inc()
				return false, nil
			}
			deletesTotal.WithLabelValues("error").Inc()
			return false, err
		}

		driver, err := s.driverFor(rec.StorageBackend)
		if err != nil {
			deletesTotal.WithLabelValues("error").Inc()
			return false, err
		}

		delCtx, cancel := context.WithTimeout(ctx, s.backendTimeout)
		// Удаление объекта идемпотентно: отсутствующий объект — успех
		err = driver.Delete(delCtx, rec.Locator())
		cancel()
		if err != nil {
			deletesTotal.WithLabelValues("error").Inc()
			return false, fmt.Errorf("ошибка удаления объекта: %w", err)
		}

		err = s.repo.Delete(ctx, id, companyID, rec.StorageBackend)
		if errors.Is(err, repository.ErrNotFound) {
			// Либо конкурентное удаление успело раньше, либо указатель
			// переключён миграцией — кэш сбрасывается, запись перечитывается
			s.cache.Delete(id)
			continue
		}
		if err != nil {
			deletesTotal.WithLabelValues("error").Inc()
			return false, fmt.Errorf("ошибка удаления записи: %w", err)
		}

		s.cache.Delete(id)
		deletesTotal.WithLabelValues("ok").Inc()

		s.logger.Info("Вложение удалено",
			slog.String("id", rec.ID),
			slog.Int64("company_id", rec.CompanyID),
			slog.String("key", rec.StorageKey),
		)

		return true, nil
	}

	deletesTotal.WithLabelValues("not_found").Inc()
	return false, nil
}

// UpdateDescription обновляет описание вложения и возвращает
// обновлённую запись.
func (s *AttachmentService) UpdateDescription(ctx context.Context, id string, companyID int64, description string) (*model.AttachmentRecord, error) {
	if err := s.repo.UpdateDescription(ctx, id, companyID, description); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	s.cache.Delete(id)

	rec, err := s.repo.GetByID(ctx, id, companyID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// BackendStatus — состояние одного драйвера хранилища.
type BackendStatus struct {
	Backend   model.Backend `json:"backend"`
	Available bool          `json:"available"`
	Error     string        `json:"error,omitempty"`
}

// StorageInfo — сводка о состоянии хранилища вложений.
type StorageInfo struct {
	ActiveBackend model.Backend       `json:"active_backend"`
	Backends      []BackendStatus     `json:"backends"`
	Stats         *model.StorageStats `json:"stats"`
}

// Info возвращает активный backend, доступность каждого драйвера
// и агрегированную статистику. companyID > 0 ограничивает
// статистику одним тенантом.
func (s *AttachmentService) Info(ctx context.Context, companyID int64) (*StorageInfo, error) {
	stats, err := s.repo.Stats(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения статистики: %w", err)
	}

	info := &StorageInfo{
		ActiveBackend: s.active,
		Stats:         stats,
	}

	// Детерминированный порядок backend в ответе
	for _, b := range []model.Backend{model.BackendLocal, model.BackendRemote} {
		driver, ok := s.drivers[b]
		if !ok {
			continue
		}

		pingCtx, cancel := context.WithTimeout(ctx, s.backendTimeout)
		status := BackendStatus{Backend: b, Available: true}
		if err := driver.Ping(pingCtx); err != nil {
			status.Available = false
			status.Error = err.Error()
		}
		cancel()

		info.Backends = append(info.Backends, status)
	}

	return info, nil
}
