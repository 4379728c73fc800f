// migrate.go — движок миграции вложений между хранилищами.
//
// Миграция выполняется батчем по записям метаданных: перенос объекта
// в целевое хранилище, верификация размера, атомарное переключение
// указателя записи (CAS), best-effort удаление исходного объекта.
// Ошибка одной записи не прерывает батч.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/goattachstore/internal/domain/model"
	"github.com/bigkaa/goattachstore/internal/repository"
	"github.com/bigkaa/goattachstore/internal/storage/backend"
)

// Prometheus метрики миграции.
var (
	migrationRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "as_migration_runs_total",
		Help: "Общее количество запусков миграции",
	})

	migrationMigratedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "as_migration_migrated_total",
		Help: "Общее количество перенесённых вложений",
	})

	migrationFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "as_migration_failed_total",
		Help: "Общее количество вложений с ошибкой переноса",
	})

	migrationDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "as_migration_duration_seconds",
		Help:    "Длительность выполнения миграционного батча в секундах",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 600},
	})
)

// MigrationFailure — одна неперенесённая запись с причиной.
type MigrationFailure struct {
	ID     string `json:"id"`
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// MigrationPlanItem — одна запись плана миграции: что, откуда, куда
// и сколько байт предстоит перенести.
type MigrationPlanItem struct {
	AttachmentID string        `json:"attachment_id"`
	FromBackend  model.Backend `json:"from_backend"`
	ToBackend    model.Backend `json:"to_backend"`
	SizeBytes    int64         `json:"size_bytes"`
}

// MigrationResult — результат одного миграционного батча.
// Plan заполняется только в dry-run: поимённый список записей
// с размерами для оценки объёма переноса.
type MigrationResult struct {
	DryRun     bool                `json:"dry_run"`
	Source     model.Backend       `json:"source"`
	Target     model.Backend       `json:"target"`
	Candidates int                 `json:"candidates"`
	TotalBytes int64               `json:"total_bytes"`
	Plan       []MigrationPlanItem `json:"plan,omitempty"`
	Migrated   int                 `json:"migrated"`
	Failed     int                 `json:"failed"`
	Failures   []MigrationFailure  `json:"failures,omitempty"`
	Duration   time.Duration       `json:"duration"`
}

// MigrationService — движок миграции вложений между хранилищами.
type MigrationService struct {
	attachments *AttachmentService
	repo        repository.AttachmentRepository
	concurrency int
	retries     int
	logger      *slog.Logger
}

// NewMigrationService создаёт движок миграции.
// concurrency — размер worker pool батча, retries — количество
// повторов переноса одной записи при ошибке.
func NewMigrationService(
	attachments *AttachmentService,
	repo repository.AttachmentRepository,
	concurrency, retries int,
	logger *slog.Logger,
) *MigrationService {
	return &MigrationService{
		attachments: attachments,
		repo:        repo,
		concurrency: concurrency,
		retries:     retries,
		logger:      logger.With(slog.String("component", "migration")),
	}
}

// Plan возвращает план миграции source → target без побочных эффектов:
// поимённый список записей с размерами. Эквивалент Run с dryRun = true.
func (m *MigrationService) Plan(ctx context.Context, source, target model.Backend, companyID int64) (*MigrationResult, error) {
	return m.Run(ctx, source, target, companyID, true)
}

// Run выполняет один миграционный батч source → target.
// companyID > 0 ограничивает батч одним тенантом.
// dryRun возвращает план без каких-либо побочных эффектов.
//
// Миграция и cleanup исключают друг друга общим maintenance-локом:
// orphan-скан, запущенный в окне между записью целевой копии и
// переключением указателя, удалил бы копию как объект без записи.
// Параллельный запуск отклоняется с ErrBusy, CAS-защита на уровне
// записи остаётся последней линией обороны.
func (m *MigrationService) Run(ctx context.Context, source, target model.Backend, companyID int64, dryRun bool) (*MigrationResult, error) {
	if source == target {
		return nil, fmt.Errorf("исходное и целевое хранилище совпадают: %s", source)
	}
	srcDriver, err := m.attachments.driverFor(source)
	if err != nil {
		return nil, err
	}
	dstDriver, err := m.attachments.driverFor(target)
	if err != nil {
		return nil, err
	}

	if !m.attachments.maintenanceMu.TryLock() {
		return nil, fmt.Errorf("%w: миграция", ErrBusy)
	}
	defer m.attachments.maintenanceMu.Unlock()

	start := time.Now()

	candidates, err := m.repo.ListForMigration(ctx, source, companyID)
	if err != nil {
		return nil, err
	}

	result := &MigrationResult{
		DryRun:     dryRun,
		Source:     source,
		Target:     target,
		Candidates: len(candidates),
	}
	for _, rec := range candidates {
		result.TotalBytes += rec.FileSize
	}

	// Dry-run: поимённый план с размерами, ни одного обращения
	// к хранилищам и ни одной записи в метаданные
	if dryRun {
		result.Plan = make([]MigrationPlanItem, 0, len(candidates))
		for _, rec := range candidates {
			result.Plan = append(result.Plan, MigrationPlanItem{
				AttachmentID: rec.ID,
				FromBackend:  source,
				ToBackend:    target,
				SizeBytes:    rec.FileSize,
			})
		}
		result.Duration = time.Since(start)
		m.logger.Info("Миграция: dry-run",
			slog.String("source", string(source)),
			slog.String("target", string(target)),
			slog.Int("candidates", result.Candidates),
			slog.Int64("total_bytes", result.TotalBytes),
		)
		return result, nil
	}

	migrationRunsTotal.Inc()

	m.logger.Info("Миграция начата",
		slog.String("source", string(source)),
		slog.String("target", string(target)),
		slog.Int("candidates", result.Candidates),
		slog.Int("concurrency", m.concurrency),
	)

	var resMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)

	for _, rec := range candidates {
		rec := rec
		g.Go(func() error {
			err := m.migrateOne(gctx, rec, srcDriver, dstDriver)

			resMu.Lock()
			defer resMu.Unlock()
			if err != nil {
				result.Failed++
				result.Failures = append(result.Failures, MigrationFailure{
					ID:     rec.ID,
					Key:    rec.StorageKey,
					Reason: err.Error(),
				})
				m.logger.Error("Миграция: ошибка переноса вложения",
					slog.String("id", rec.ID),
					slog.String("key", rec.StorageKey),
					slog.String("error", err.Error()),
				)
			} else {
				result.Migrated++
			}
			// Ошибка одной записи не прерывает батч
			return nil
		})
	}

	// Ошибки не возвращаются из горутин, Wait нужен только как барьер
	_ = g.Wait()

	result.Duration = time.Since(start)

	migrationMigratedTotal.Add(float64(result.Migrated))
	migrationFailedTotal.Add(float64(result.Failed))
	migrationDurationSeconds.Observe(result.Duration.Seconds())

	m.logger.Info("Миграция завершена",
		slog.Int("migrated", result.Migrated),
		slog.Int("failed", result.Failed),
		slog.Duration("duration", result.Duration),
	)

	return result, nil
}

// migrateOne переносит одно вложение: копирование с повторами →
// верификация размера → CAS переключение указателя → best-effort
// удаление исходного объекта.
func (m *MigrationService) migrateOne(ctx context.Context, rec *model.AttachmentRecord, src, dst backend.Driver) error {
	var dstLoc model.Locator

	// Копирование с ограниченным экспоненциальным повтором:
	// транзиентные ошибки сети/хранилища не должны ронять запись батча
	copyOnce := func() error {
		loc, err := m.copyObject(ctx, rec, src, dst)
		if err != nil {
			return err
		}
		dstLoc = loc
		return nil
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(m.retries)),
		ctx,
	)
	if err := backoff.Retry(copyOnce, bo); err != nil {
		return fmt.Errorf("копирование: %w", err)
	}

	// Атомарное переключение указателя: проигрыш CAS означает, что
	// запись конкурентно изменена (удалена или уже перенесена) —
	// целевая копия подчищается, запись считается неперенесённой
	ok, err := m.repo.UpdateBackendPointer(ctx, rec.ID, rec.StorageBackend, dst.Name(), dstLoc.Bucket, dstLoc.Key)
	if err != nil {
		m.deleteBestEffort(dst, dstLoc, rec.ID, "целевая копия после ошибки CAS")
		return fmt.Errorf("переключение указателя: %w", err)
	}
	if !ok {
		m.deleteBestEffort(dst, dstLoc, rec.ID, "целевая копия после проигрыша CAS")
		return errors.New("запись изменена конкурентно, перенос отменён")
	}

	m.attachments.cache.Delete(rec.ID)

	// Исходный объект удаляется best-effort: указатель уже переключён,
	// оставшийся объект — orphan, его подберёт cleanup
	m.deleteBestEffort(src, rec.Locator(), rec.ID, "исходный объект")

	m.logger.Debug("Миграция: вложение перенесено",
		slog.String("id", rec.ID),
		slog.String("key", rec.StorageKey),
	)

	return nil
}

// copyObject копирует объект записи в целевое хранилище
// и верифицирует размер копии.
func (m *MigrationService) copyObject(ctx context.Context, rec *model.AttachmentRecord, src, dst backend.Driver) (model.Locator, error) {
	opCtx, cancel := context.WithTimeout(ctx, m.attachments.backendTimeout)
	defer cancel()

	rc, _, err := src.Get(opCtx, rec.Locator())
	if err != nil {
		return model.Locator{}, fmt.Errorf("чтение исходного объекта: %w", err)
	}
	defer rc.Close()

	loc, err := dst.Put(opCtx, rec.StorageKey, rc, rec.FileSize, rec.MimeType)
	if err != nil {
		return model.Locator{}, fmt.Errorf("запись целевого объекта: %w", err)
	}

	// Верификация: размер копии обязан совпасть с метаданными
	info, err := dst.Stat(opCtx, loc)
	if err != nil {
		return model.Locator{}, fmt.Errorf("верификация копии: %w", err)
	}
	if info.Size != rec.FileSize {
		_ = dst.Delete(opCtx, loc)
		return model.Locator{}, fmt.Errorf("размер копии %d не совпадает с метаданными %d", info.Size, rec.FileSize)
	}

	return loc, nil
}

// deleteBestEffort удаляет объект, логируя неудачу вместо возврата ошибки.
func (m *MigrationService) deleteBestEffort(d backend.Driver, loc model.Locator, id, what string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.attachments.backendTimeout)
	defer cancel()

	if err := d.Delete(ctx, loc); err != nil {
		m.logger.Warn("Миграция: не удалось удалить "+what,
			slog.String("id", id),
			slog.String("key", loc.Key),
			slog.String("error", err.Error()),
		)
	}
}
