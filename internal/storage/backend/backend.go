// Пакет backend — драйверы физических хранилищ объектов.
// Driver — единый контракт для локального диска и удалённого объектного
// хранилища; вся остальная система работает только через него.
package backend

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/bigkaa/goattachstore/internal/domain/model"
)

// Ошибки драйверов. Драйвер обязан нормализовать backend-специфичные
// ошибки к этим sentinel-значениям: вызывающий код различает
// «объект отсутствует» и «доступ запрещён», не зная деталей backend.
var (
	// ErrNotFound — объект не существует в хранилище
	ErrNotFound = errors.New("объект не найден в хранилище")
	// ErrPermissionDenied — хранилище отказало в доступе
	ErrPermissionDenied = errors.New("доступ к хранилищу запрещён")
	// ErrUnavailable — до хранилища не удалось достучаться
	// (транспортная ошибка, таймаут соединения). Ошибка повторима,
	// HTTP-слой отвечает 503 с Retry-After.
	ErrUnavailable = errors.New("хранилище недоступно")
)

// ObjectInfo — информация об объекте в хранилище.
type ObjectInfo struct {
	// Size — размер объекта в байтах
	Size int64
	// ContentType — MIME-тип объекта, если хранилище его сохраняет
	ContentType string
	// ModTime — время последней модификации объекта
	ModTime time.Time
}

// Driver — контракт драйвера хранилища.
//
// Все операции принимают context: лимит времени на I/O задаёт
// вызывающий код, драйвер собственных таймаутов не держит.
type Driver interface {
	// Name возвращает идентификатор backend (local или remote).
	Name() model.Backend

	// Put записывает объект по ключу. size — заявленный размер
	// (-1 если неизвестен). Возвращает локатор записанного объекта.
	// Запись атомарна: частично записанный объект не виден читателям.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (model.Locator, error)

	// Get открывает объект для чтения, возвращает поток и content-type.
	// Вызывающий код обязан закрыть ReadCloser.
	// Отсутствующий объект — ErrNotFound.
	Get(ctx context.Context, loc model.Locator) (io.ReadCloser, string, error)

	// Delete удаляет объект. Идемпотентна: удаление отсутствующего
	// объекта — успех.
	Delete(ctx context.Context, loc model.Locator) error

	// Exists проверяет существование объекта.
	Exists(ctx context.Context, loc model.Locator) (bool, error)

	// Stat возвращает информацию об объекте. Отсутствующий — ErrNotFound.
	Stat(ctx context.Context, loc model.Locator) (*ObjectInfo, error)

	// List перечисляет объекты с заданным префиксом ключа, вызывая fn
	// для каждого. Ленивое перечисление: ошибка fn прерывает обход
	// и возвращается вызывающему коду.
	List(ctx context.Context, prefix string, fn func(model.Locator) error) error

	// Ping проверяет доступность хранилища.
	Ping(ctx context.Context) error
}
