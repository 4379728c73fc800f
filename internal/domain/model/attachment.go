// Пакет model — доменные модели сервиса вложений.
// AttachmentRecord — единица метаданных: одна запись на один загруженный файл,
// хранится в PostgreSQL (таблица attachments).
package model

import (
	"time"
)

// Backend — физическое хранилище объекта.
type Backend string

const (
	// BackendLocal — локальная файловая система
	BackendLocal Backend = "local"
	// BackendRemote — удалённое объектное хранилище (S3-совместимое)
	BackendRemote Backend = "remote"
)

// Valid проверяет, что значение backend допустимо.
func (b Backend) Valid() bool {
	return b == BackendLocal || b == BackendRemote
}

// Category — категория файла, определяется валидацией по расширению.
type Category string

const (
	CategoryDocument    Category = "document"
	CategoryImage       Category = "image"
	CategorySpreadsheet Category = "spreadsheet"
	CategoryArchive     Category = "archive"
	CategoryOther       Category = "other"
)

// Categories — все категории в фиксированном порядке.
// Используется cleanup-движком для перечисления префиксов одного тенанта.
var Categories = []Category{
	CategoryDocument,
	CategoryImage,
	CategorySpreadsheet,
	CategoryArchive,
	CategoryOther,
}

// Locator — backend-специфичный адрес объекта.
// Для local — Bucket пустой, Key — относительный путь в корневой директории.
// Для remote — Bucket + Key в объектном хранилище.
type Locator struct {
	Bucket string
	Key    string
}

// AttachmentRecord — метаданные вложения. Соответствует строке таблицы attachments.
type AttachmentRecord struct {
	// ID — уникальный идентификатор вложения (UUID v4), неизменяемый
	ID string `json:"id"`

	// EntityType — тип бизнес-сущности (invoice, expense, payroll, ...)
	EntityType string `json:"entity_type"`

	// EntityID — идентификатор бизнес-сущности
	EntityID int64 `json:"entity_id"`

	// CompanyID — тенант-владелец. Граница изоляции: все операции
	// чтения/удаления/листинга фильтруются по этому полю.
	// Неизменяемо после создания.
	CompanyID int64 `json:"company_id"`

	// Filename — сгенерированное имя файла в хранилище (последний сегмент ключа)
	Filename string `json:"filename"`

	// OriginalFilename — имя файла, указанное пользователем.
	// Может содержать не-ASCII символы, round-trip без потерь.
	OriginalFilename string `json:"original_filename"`

	// FileSize — размер файла в байтах
	FileSize int64 `json:"file_size"`

	// MimeType — MIME-тип файла
	MimeType string `json:"mime_type"`

	// Category — категория файла (из валидации)
	Category Category `json:"category"`

	// StorageBackend — активное хранилище объекта
	StorageBackend Backend `json:"storage_backend"`

	// StorageBucket — имя bucket для remote, пустая строка для local
	StorageBucket string `json:"storage_bucket,omitempty"`

	// StorageKey — ключ объекта в хранилище.
	// Формат: {category}/{company_id}/{entity_type}/{YYYY-MM-DD}/{HHMMSS}_{token}_{name}
	StorageKey string `json:"storage_key"`

	// Description — описание вложения (опционально, изменяемо)
	Description string `json:"description,omitempty"`

	// CreatedAt — время создания записи (UTC)
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего изменения метаданных,
	// включая миграцию между хранилищами (UTC)
	UpdatedAt time.Time `json:"updated_at"`
}

// Locator возвращает адрес объекта вложения в его текущем хранилище.
func (r *AttachmentRecord) Locator() Locator {
	return Locator{Bucket: r.StorageBucket, Key: r.StorageKey}
}

// CategoryStats — агрегированная статистика по одной группе (категория или backend).
type CategoryStats struct {
	Count          int   `json:"count"`
	TotalSizeBytes int64 `json:"total_size_bytes"`
}

// StorageStats — агрегированная статистика хранилища вложений.
type StorageStats struct {
	TotalAttachments int                       `json:"total_attachments"`
	TotalSizeBytes   int64                     `json:"total_size_bytes"`
	ByCategory       map[Category]CategoryStats `json:"by_category"`
	ByBackend        map[Backend]CategoryStats  `json:"by_backend"`
}
