// cleanup.go — движок очистки и аудита целостности хранилища.
//
// Две стороны сверки объектов и метаданных:
//  1. Orphan-объекты: объект в хранилище без записи метаданных —
//     удаляется (если не dry-run).
//  2. Отсутствующие объекты: запись метаданных без объекта —
//     только отчёт, автоматическое удаление записей запрещено.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goattachstore/internal/domain/model"
	"github.com/bigkaa/goattachstore/internal/repository"
	"github.com/bigkaa/goattachstore/internal/storage/backend"
	"github.com/bigkaa/goattachstore/internal/storage/storagekey"
)

// Prometheus метрики cleanup.
var (
	cleanupRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "as_cleanup_runs_total",
		Help: "Общее количество запусков cleanup",
	})

	cleanupOrphansDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "as_cleanup_orphans_deleted_total",
		Help: "Общее количество удалённых orphan-объектов",
	})

	cleanupIssuesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "as_cleanup_issues_total",
		Help: "Общее количество обнаруженных нарушений целостности",
	})

	cleanupDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "as_cleanup_duration_seconds",
		Help:    "Длительность выполнения cleanup в секундах",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 600},
	})
)

// Виды нарушений целостности.
const (
	// IssueOrphanedObject — объект в хранилище без записи метаданных
	IssueOrphanedObject = "orphaned_object"
	// IssueMissingObject — запись метаданных без объекта в хранилище
	IssueMissingObject = "missing_object"
)

// CleanupIssue — одно обнаруженное нарушение целостности.
type CleanupIssue struct {
	Type         string        `json:"type"`
	Backend      model.Backend `json:"backend"`
	Key          string        `json:"key"`
	AttachmentID string        `json:"attachment_id,omitempty"`
	Deleted      bool          `json:"deleted"`
}

// CleanupResult — результат одного запуска cleanup.
type CleanupResult struct {
	DryRun         bool           `json:"dry_run"`
	OrphanedOnly   bool           `json:"orphaned_only"`
	ObjectsScanned int            `json:"objects_scanned"`
	RecordsScanned int            `json:"records_scanned"`
	OrphansFound   int            `json:"orphans_found"`
	OrphansDeleted int            `json:"orphans_deleted"`
	MissingObjects int            `json:"missing_objects"`
	Issues         []CleanupIssue `json:"issues,omitempty"`
	Errors         int            `json:"errors"`
	Duration       time.Duration  `json:"duration"`
}

// CleanupService — движок очистки и аудита целостности.
type CleanupService struct {
	attachments *AttachmentService
	repo        repository.AttachmentRepository
	logger      *slog.Logger
}

// NewCleanupService создаёт движок cleanup.
func NewCleanupService(
	attachments *AttachmentService,
	repo repository.AttachmentRepository,
	logger *slog.Logger,
) *CleanupService {
	return &CleanupService{
		attachments: attachments,
		repo:        repo,
		logger:      logger.With(slog.String("component", "cleanup")),
	}
}

// Run выполняет один цикл cleanup.
// companyID > 0 ограничивает аудит одним тенантом.
// dryRun — только отчёт, ни одного удаления.
// orphanedOnly — пропустить проверку отсутствующих объектов.
//
// Cleanup и миграция исключают друг друга общим maintenance-локом:
// целевая копия мигрируемой записи до переключения указателя — объект
// без записи метаданных, orphan-скан удалил бы её как нарушение.
// Параллельный запуск отклоняется с ErrBusy.
func (c *CleanupService) Run(ctx context.Context, companyID int64, dryRun, orphanedOnly bool) (*CleanupResult, error) {
	if !c.attachments.maintenanceMu.TryLock() {
		return nil, fmt.Errorf("%w: cleanup", ErrBusy)
	}
	defer c.attachments.maintenanceMu.Unlock()

	start := time.Now()
	cleanupRunsTotal.Inc()

	result := &CleanupResult{
		DryRun:       dryRun,
		OrphanedOnly: orphanedOnly,
	}

	c.logger.Info("Cleanup начат",
		slog.Int64("company_id", companyID),
		slog.Bool("dry_run", dryRun),
		slog.Bool("orphaned_only", orphanedOnly),
	)

	// Сторона 1: orphan-объекты в каждом сконфигурированном хранилище
	for _, b := range []model.Backend{model.BackendLocal, model.BackendRemote} {
		driver, ok := c.attachments.Drivers()[b]
		if !ok {
			continue
		}
		if err := c.scanOrphans(ctx, driver, companyID, dryRun, result); err != nil {
			return nil, err
		}
	}

	// Сторона 2: записи без объектов — только отчёт
	if !orphanedOnly {
		if err := c.scanMissing(ctx, companyID, result); err != nil {
			return nil, err
		}
	}

	result.Duration = time.Since(start)

	cleanupOrphansDeletedTotal.Add(float64(result.OrphansDeleted))
	cleanupIssuesTotal.Add(float64(len(result.Issues)))
	cleanupDurationSeconds.Observe(result.Duration.Seconds())

	c.logger.Info("Cleanup завершён",
		slog.Int("objects_scanned", result.ObjectsScanned),
		slog.Int("records_scanned", result.RecordsScanned),
		slog.Int("orphans_found", result.OrphansFound),
		slog.Int("orphans_deleted", result.OrphansDeleted),
		slog.Int("missing_objects", result.MissingObjects),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", result.Duration),
	)

	return result, nil
}

// scanPrefixes возвращает префиксы ключей для обхода хранилища.
// Для конкретного тенанта — пять префиксов категория/тенант,
// для всего хранилища — один пустой префикс.
func scanPrefixes(companyID int64) []string {
	if companyID <= 0 {
		return []string{""}
	}
	prefixes := make([]string, 0, len(model.Categories))
	for _, cat := range model.Categories {
		prefixes = append(prefixes, storagekey.TenantPrefix(cat, companyID))
	}
	return prefixes
}

// scanOrphans обходит объекты одного хранилища и удаляет объекты
// без записи метаданных (если не dry-run).
func (c *CleanupService) scanOrphans(ctx context.Context, driver backend.Driver, companyID int64, dryRun bool, result *CleanupResult) error {
	for _, prefix := range scanPrefixes(companyID) {
		err := driver.List(ctx, prefix, func(loc model.Locator) error {
			result.ObjectsScanned++

			exists, err := c.repo.ExistsByKey(ctx, driver.Name(), loc.Key)
			if err != nil {
				return err
			}
			if exists {
				return nil
			}

			result.OrphansFound++
			issue := CleanupIssue{
				Type:    IssueOrphanedObject,
				Backend: driver.Name(),
				Key:     loc.Key,
			}

			if !dryRun {
				delCtx, cancel := context.WithTimeout(ctx, c.attachments.backendTimeout)
				err := driver.Delete(delCtx, loc)
				cancel()
				if err != nil {
					result.Errors++
					c.logger.Error("Cleanup: ошибка удаления orphan-объекта",
						slog.String("backend", string(driver.Name())),
						slog.String("key", loc.Key),
						slog.String("error", err.Error()),
					)
				} else {
					issue.Deleted = true
					result.OrphansDeleted++
					c.logger.Info("Cleanup: orphan-объект удалён",
						slog.String("backend", string(driver.Name())),
						slog.String("key", loc.Key),
					)
				}
			}

			result.Issues = append(result.Issues, issue)
			return nil
		})
		if err != nil {
			return fmt.Errorf("ошибка обхода хранилища %s: %w", driver.Name(), err)
		}
	}
	return nil
}

// scanMissing обходит записи метаданных и отмечает записи,
// объект которых отсутствует в хранилище. Записи не удаляются:
// решение принимает оператор.
func (c *CleanupService) scanMissing(ctx context.Context, companyID int64, result *CleanupResult) error {
	records, err := c.repo.ListAll(ctx, companyID)
	if err != nil {
		return err
	}

	for _, rec := range records {
		result.RecordsScanned++

		driver, err := c.attachments.driverFor(rec.StorageBackend)
		if err != nil {
			result.Errors++
			c.logger.Error("Cleanup: неизвестный backend записи",
				slog.String("id", rec.ID),
				slog.String("backend", string(rec.StorageBackend)),
			)
			continue
		}

		existsCtx, cancel := context.WithTimeout(ctx, c.attachments.backendTimeout)
		exists, err := driver.Exists(existsCtx, rec.Locator())
		cancel()
		if err != nil {
			result.Errors++
			c.logger.Error("Cleanup: ошибка проверки объекта",
				slog.String("id", rec.ID),
				slog.String("key", rec.StorageKey),
				slog.String("error", err.Error()),
			)
			continue
		}
		if exists {
			continue
		}

		result.MissingObjects++
		result.Issues = append(result.Issues, CleanupIssue{
			Type:         IssueMissingObject,
			Backend:      rec.StorageBackend,
			Key:          rec.StorageKey,
			AttachmentID: rec.ID,
		})

		c.logger.Warn("Cleanup: запись без объекта в хранилище",
			slog.String("id", rec.ID),
			slog.String("backend", string(rec.StorageBackend)),
			slog.String("key", rec.StorageKey),
		)
	}

	return nil
}
