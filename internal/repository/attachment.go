package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goattachstore/internal/domain/model"
)

// attachmentColumns — список столбцов таблицы attachments для SELECT-запросов.
// DRY: одно место для всех SELECT'ов.
const attachmentColumns = `id, entity_type, entity_id, company_id, filename,
	original_filename, file_size, mime_type, category, storage_backend,
	storage_bucket, storage_key, description, created_at, updated_at`

// AttachmentRepository — доступ к метаданным вложений.
//
// Операции чтения и изменения конкретных записей принимают companyID:
// изоляция тенантов обеспечивается на уровне SQL, запись чужого
// тенанта неотличима от несуществующей (ErrNotFound).
type AttachmentRepository interface {
	// Create вставляет новую запись вложения.
	Create(ctx context.Context, rec *model.AttachmentRecord) error
	// GetByID возвращает запись по id в пределах тенанта.
	GetByID(ctx context.Context, id string, companyID int64) (*model.AttachmentRecord, error)
	// ListByEntity возвращает вложения бизнес-сущности тенанта,
	// новые первыми.
	ListByEntity(ctx context.Context, companyID int64, entityType string, entityID int64) ([]*model.AttachmentRecord, error)
	// Delete удаляет запись в пределах тенанта с guard-условием по
	// storage_backend: запись, чей указатель уже переключён конкурентной
	// миграцией, не удаляется. Непопадание — ErrNotFound.
	Delete(ctx context.Context, id string, companyID int64, b model.Backend) error
	// UpdateDescription обновляет описание вложения.
	UpdateDescription(ctx context.Context, id string, companyID int64, description string) error
	// UpdateBackendPointer атомарно переключает указатель хранилища
	// записи с source на target (CAS). Возвращает false, если запись
	// уже изменена конкурентно или не существует.
	UpdateBackendPointer(ctx context.Context, id string, source, target model.Backend, targetBucket, targetKey string) (bool, error)
	// ListForMigration возвращает записи на backend source,
	// опционально ограниченные тенантом (companyID > 0).
	ListForMigration(ctx context.Context, source model.Backend, companyID int64) ([]*model.AttachmentRecord, error)
	// ListAll возвращает все записи, опционально ограниченные тенантом.
	// Используется аудитом целостности.
	ListAll(ctx context.Context, companyID int64) ([]*model.AttachmentRecord, error)
	// ExistsByKey проверяет наличие записи с данным ключом на данном backend.
	ExistsByKey(ctx context.Context, backend model.Backend, key string) (bool, error)
	// Stats возвращает агрегированную статистику хранилища.
	// companyID > 0 ограничивает статистику одним тенантом.
	Stats(ctx context.Context, companyID int64) (*model.StorageStats, error)
}

// attachmentRepo — реализация AttachmentRepository через pgx.
type attachmentRepo struct {
	db DBTX
}

// NewAttachmentRepository создаёт репозиторий вложений.
func NewAttachmentRepository(db DBTX) AttachmentRepository {
	return &attachmentRepo{db: db}
}

// scanAttachment сканирует одну строку в AttachmentRecord.
// Порядок полей соответствует attachmentColumns.
func scanAttachment(row pgx.Row) (*model.AttachmentRecord, error) {
	rec := &model.AttachmentRecord{}
	err := row.Scan(
		&rec.ID, &rec.EntityType, &rec.EntityID, &rec.CompanyID, &rec.Filename,
		&rec.OriginalFilename, &rec.FileSize, &rec.MimeType, &rec.Category, &rec.StorageBackend,
		&rec.StorageBucket, &rec.StorageKey, &rec.Description, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Create вставляет новую запись вложения.
func (r *attachmentRepo) Create(ctx context.Context, rec *model.AttachmentRecord) error {
	query := `
		INSERT INTO attachments (
			id, entity_type, entity_id, company_id, filename,
			original_filename, file_size, mime_type, category, storage_backend,
			storage_bucket, storage_key, description, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := r.db.Exec(ctx, query,
		rec.ID, rec.EntityType, rec.EntityID, rec.CompanyID, rec.Filename,
		rec.OriginalFilename, rec.FileSize, rec.MimeType, rec.Category, rec.StorageBackend,
		rec.StorageBucket, rec.StorageKey, rec.Description, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка создания записи вложения: %w", err)
	}
	return nil
}

// GetByID возвращает запись по id в пределах тенанта или ErrNotFound.
func (r *attachmentRepo) GetByID(ctx context.Context, id string, companyID int64) (*model.AttachmentRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM attachments WHERE id = $1 AND company_id = $2`, attachmentColumns)

	rec, err := scanAttachment(r.db.QueryRow(ctx, query, id, companyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения вложения: %w", err)
	}
	return rec, nil
}

// ListByEntity возвращает вложения бизнес-сущности тенанта, новые первыми.
func (r *attachmentRepo) ListByEntity(ctx context.Context, companyID int64, entityType string, entityID int64) ([]*model.AttachmentRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM attachments
		WHERE company_id = $1 AND entity_type = $2 AND entity_id = $3
		ORDER BY created_at DESC`, attachmentColumns)

	rows, err := r.db.Query(ctx, query, companyID, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка вложений: %w", err)
	}
	defer rows.Close()

	return collectRows(rows)
}

// Delete удаляет запись в пределах тенанта.
// Guard по storage_backend защищает от удаления строки по устаревшему
// указателю: конкурентная миграция между чтением записи и удалением
// делает условие ложным, вызывающий код перечитывает запись.
func (r *attachmentRepo) Delete(ctx context.Context, id string, companyID int64, b model.Backend) error {
	query := `DELETE FROM attachments WHERE id = $1 AND company_id = $2 AND storage_backend = $3`

	tag, err := r.db.Exec(ctx, query, id, companyID, b)
	if err != nil {
		return fmt.Errorf("ошибка удаления записи вложения: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateDescription обновляет описание вложения.
func (r *attachmentRepo) UpdateDescription(ctx context.Context, id string, companyID int64, description string) error {
	query := `
		UPDATE attachments
		SET description = $3, updated_at = NOW()
		WHERE id = $1 AND company_id = $2`

	tag, err := r.db.Exec(ctx, query, id, companyID, description)
	if err != nil {
		return fmt.Errorf("ошибка обновления описания: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateBackendPointer атомарно переключает указатель хранилища (CAS).
// Условие WHERE storage_backend = source гарантирует, что конкурентная
// миграция той же записи не перезапишет чужой результат.
func (r *attachmentRepo) UpdateBackendPointer(ctx context.Context, id string, source, target model.Backend, targetBucket, targetKey string) (bool, error) {
	query := `
		UPDATE attachments
		SET storage_backend = $3, storage_bucket = $4, storage_key = $5, updated_at = NOW()
		WHERE id = $1 AND storage_backend = $2`

	tag, err := r.db.Exec(ctx, query, id, source, target, targetBucket, targetKey)
	if err != nil {
		return false, fmt.Errorf("ошибка переключения указателя хранилища: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListForMigration возвращает записи на backend source.
// companyID > 0 ограничивает выборку одним тенантом.
func (r *attachmentRepo) ListForMigration(ctx context.Context, source model.Backend, companyID int64) ([]*model.AttachmentRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM attachments WHERE storage_backend = $1`, attachmentColumns)
	args := []any{source}
	if companyID > 0 {
		query += ` AND company_id = $2`
		args = append(args, companyID)
	}
	query += ` ORDER BY created_at`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки записей для миграции: %w", err)
	}
	defer rows.Close()

	return collectRows(rows)
}

// ListAll возвращает все записи, companyID > 0 ограничивает тенантом.
func (r *attachmentRepo) ListAll(ctx context.Context, companyID int64) ([]*model.AttachmentRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM attachments`, attachmentColumns)
	var args []any
	if companyID > 0 {
		query += ` WHERE company_id = $1`
		args = append(args, companyID)
	}
	query += ` ORDER BY created_at`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки записей: %w", err)
	}
	defer rows.Close()

	return collectRows(rows)
}

// ExistsByKey проверяет наличие записи с данным ключом на данном backend.
// Используется cleanup-движком для выявления orphan-объектов.
func (r *attachmentRepo) ExistsByKey(ctx context.Context, backend model.Backend, key string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM attachments WHERE storage_backend = $1 AND storage_key = $2)`

	var exists bool
	if err := r.db.QueryRow(ctx, query, backend, key).Scan(&exists); err != nil {
		return false, fmt.Errorf("ошибка проверки ключа: %w", err)
	}
	return exists, nil
}

// Stats возвращает агрегированную статистику хранилища:
// итоги + разбивка по категориям и по backend.
// companyID > 0 ограничивает статистику одним тенантом.
func (r *attachmentRepo) Stats(ctx context.Context, companyID int64) (*model.StorageStats, error) {
	stats := &model.StorageStats{
		ByCategory: make(map[model.Category]model.CategoryStats),
		ByBackend:  make(map[model.Backend]model.CategoryStats),
	}

	query := `
		SELECT category, storage_backend, COUNT(*), COALESCE(SUM(file_size), 0)
		FROM attachments`
	var args []any
	if companyID > 0 {
		query += ` WHERE company_id = $1`
		args = append(args, companyID)
	}
	query += ` GROUP BY category, storage_backend`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения статистики: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			category model.Category
			backend  model.Backend
			count    int
			size     int64
		)
		if err := rows.Scan(&category, &backend, &count, &size); err != nil {
			return nil, fmt.Errorf("ошибка сканирования статистики: %w", err)
		}

		stats.TotalAttachments += count
		stats.TotalSizeBytes += size

		c := stats.ByCategory[category]
		c.Count += count
		c.TotalSizeBytes += size
		stats.ByCategory[category] = c

		b := stats.ByBackend[backend]
		b.Count += count
		b.TotalSizeBytes += size
		stats.ByBackend[backend] = b
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации статистики: %w", err)
	}

	return stats, nil
}

// collectRows сканирует все строки результата в список записей.
func collectRows(rows pgx.Rows) ([]*model.AttachmentRecord, error) {
	var result []*model.AttachmentRecord
	for rows.Next() {
		rec, err := scanAttachment(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования вложения: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов: %w", err)
	}
	return result, nil
}
