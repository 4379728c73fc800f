// Пакет storagekey — детерминированная схема ключей объектов.
// Один и тот же ключ используется всеми backend: для локального диска
// он отображается в относительный путь, для объектного хранилища —
// в ключ объекта. Раскладка читаема оператором и сгруппирована по
// тенантам: префикс категория/тенант позволяет листинг одного тенанта.
package storagekey

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goattachstore/internal/domain/model"
)

// tokenLen — длина случайного токена в ключе (hex-символы UUID).
const tokenLen = 8

// Build формирует ключ объекта:
//
//	{category}/{companyID}/{entityType}/{YYYY-MM-DD}/{HHMMSS}_{token}_{sanitizedName}
//
// sanitizedName обязан пройти validation.SanitizeFilename до вызова.
// Время берётся в UTC: ключи не зависят от зоны сервера.
func Build(category model.Category, companyID int64, entityType, sanitizedName string, now time.Time) string {
	now = now.UTC()
	token := strings.ReplaceAll(uuid.New().String(), "-", "")[:tokenLen]
	return fmt.Sprintf("%s/%d/%s/%s/%s_%s_%s",
		category,
		companyID,
		entityType,
		now.Format("2006-01-02"),
		now.Format("150405"),
		token,
		sanitizedName,
	)
}

// TenantPrefix возвращает префикс всех ключей одного тенанта внутри
// одной категории. Cleanup-движок перечисляет объекты тенанта по
// пяти таким префиксам (по одному на категорию).
func TenantPrefix(category model.Category, companyID int64) string {
	return fmt.Sprintf("%s/%d/", category, companyID)
}

// Filename возвращает последний сегмент ключа — сгенерированное имя
// файла в хранилище.
func Filename(key string) string {
	if idx := strings.LastIndexByte(key, '/'); idx != -1 {
		return key[idx+1:]
	}
	return key
}
