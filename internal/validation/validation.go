// Пакет validation — проверка загружаемых файлов до любого обращения
// к хранилищу: категория по расширению, лимит размера по категории,
// deny-list опасных расширений, санитизация имени файла.
package validation

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/bigkaa/goattachstore/internal/domain/model"
)

// Kind — вид ошибки валидации, определяет HTTP-статус ответа.
type Kind string

const (
	// KindInvalid — некорректный ввод (400)
	KindInvalid Kind = "invalid"
	// KindTooLarge — превышен лимит размера категории (413)
	KindTooLarge Kind = "too_large"
	// KindDangerous — расширение из deny-list (403)
	KindDangerous Kind = "dangerous"
)

// Error — ошибка валидации файла.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// rule — правило для одного расширения.
type rule struct {
	category model.Category
	maxSize  int64
}

const (
	mb = 1 << 20

	// defaultMaxSize — консервативный лимит для неизвестных расширений
	defaultMaxSize = 25 * mb
)

// supportedTypes — таблица расширение → категория + лимит размера.
var supportedTypes = map[string]rule{
	// Документы
	"pdf":  {model.CategoryDocument, 50 * mb},
	"doc":  {model.CategoryDocument, 50 * mb},
	"docx": {model.CategoryDocument, 50 * mb},
	"txt":  {model.CategoryDocument, 10 * mb},
	"rtf":  {model.CategoryDocument, 10 * mb},
	"odt":  {model.CategoryDocument, 50 * mb},

	// Таблицы
	"xls":  {model.CategorySpreadsheet, 50 * mb},
	"xlsx": {model.CategorySpreadsheet, 50 * mb},
	"csv":  {model.CategorySpreadsheet, 10 * mb},
	"ods":  {model.CategorySpreadsheet, 50 * mb},

	// Изображения
	"jpg":  {model.CategoryImage, 20 * mb},
	"jpeg": {model.CategoryImage, 20 * mb},
	"png":  {model.CategoryImage, 20 * mb},
	"gif":  {model.CategoryImage, 10 * mb},
	"bmp":  {model.CategoryImage, 20 * mb},
	"tiff": {model.CategoryImage, 20 * mb},
	"webp": {model.CategoryImage, 20 * mb},

	// Архивы
	"zip": {model.CategoryArchive, 100 * mb},
	"rar": {model.CategoryArchive, 100 * mb},
	"7z":  {model.CategoryArchive, 100 * mb},
	"tar": {model.CategoryArchive, 100 * mb},
	"gz":  {model.CategoryArchive, 100 * mb},
}

// dangerousExtensions — исполняемые и скриптовые типы, запрещены всегда.
var dangerousExtensions = map[string]bool{
	"exe": true,
	"bat": true,
	"cmd": true,
	"com": true,
	"scr": true,
	"vbs": true,
	"js":  true,
}

// FileInfo — результат валидации файла.
type FileInfo struct {
	// Extension — расширение без точки, в нижнем регистре
	Extension string
	// Category — категория файла
	Category model.Category
	// MaxSize — лимит размера для категории расширения
	MaxSize int64
	// MimeType — MIME-тип по расширению, application/octet-stream если неизвестен
	MimeType string
	// SanitizedName — имя файла, безопасное для ключа хранилища
	SanitizedName string
}

// Validate проверяет имя и размер файла до обращения к хранилищу.
// Возвращает FileInfo или *Error.
//
// Порядок проверок: имя → deny-list → лимит размера. Опасное расширение
// отклоняется раньше лимита: ответ 403 важнее 413.
func Validate(filename string, size int64) (*FileInfo, *Error) {
	if filename == "" {
		return nil, &Error{Kind: KindInvalid, Message: "Имя файла обязательно"}
	}

	// Контракт кодировки: имя файла должно быть корректным UTF-8.
	// Никаких эвристических «починок» кодировки — битое имя отклоняется.
	if !utf8.ValidString(filename) {
		return nil, &Error{Kind: KindInvalid, Message: "Имя файла не является корректным UTF-8"}
	}

	sanitized := SanitizeFilename(filename)
	if sanitized == "" {
		return nil, &Error{Kind: KindInvalid, Message: "Имя файла после санитизации пустое"}
	}

	info := lookup(filename)
	info.SanitizedName = sanitized

	if dangerousExtensions[info.Extension] {
		return nil, &Error{
			Kind:    KindDangerous,
			Message: fmt.Sprintf("Тип файла '.%s' запрещён по соображениям безопасности", info.Extension),
		}
	}

	if size > info.MaxSize {
		return nil, &Error{
			Kind: KindTooLarge,
			Message: fmt.Sprintf("Размер файла %d байт превышает лимит %d МБ для категории %s",
				size, info.MaxSize/mb, info.Category),
		}
	}

	return info, nil
}

// lookup определяет категорию, лимит и MIME-тип по расширению.
// Неизвестное расширение — категория other с консервативным лимитом.
func lookup(filename string) *FileInfo {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))

	info := &FileInfo{
		Extension: ext,
		Category:  model.CategoryOther,
		MaxSize:   defaultMaxSize,
	}
	if r, ok := supportedTypes[ext]; ok {
		info.Category = r.category
		info.MaxSize = r.maxSize
	}

	info.MimeType = mime.TypeByExtension("." + ext)
	if info.MimeType == "" {
		info.MimeType = "application/octet-stream"
	}
	// Отбрасываем параметры (charset и т.д.)
	if idx := strings.Index(info.MimeType, ";"); idx != -1 {
		info.MimeType = strings.TrimSpace(info.MimeType[:idx])
	}

	return info
}

// SanitizeFilename очищает имя файла для использования в ключе хранилища.
// Удаляет разделители путей и управляющие символы, пробелы заменяет на '_'.
// Не-ASCII буквы сохраняются: имя файла — пользовательская сущность,
// транслитерация с потерями недопустима.
func SanitizeFilename(name string) string {
	// Отсекаем возможные компоненты пути (клиенты Windows присылают полный путь)
	name = name[strings.LastIndexAny(name, `/\`)+1:]

	var b strings.Builder
	for _, r := range name {
		switch {
		case r == '/' || r == '\\':
			// разделители путей внутри имени не допускаются
		case unicode.IsControl(r) || r == utf8.RuneError:
			// управляющие и некорректные символы отбрасываются
		case unicode.IsSpace(r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}

	sanitized := strings.Trim(b.String(), ". ")
	// Одни точки/пробелы именем не являются
	if sanitized == "" || sanitized == "." || sanitized == ".." {
		return ""
	}
	return sanitized
}
