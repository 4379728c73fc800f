// errors.go — sentinel-ошибки сервисного слоя.
package service

import "errors"

var (
	// ErrNotFound — вложение не найдено в пределах тенанта.
	// Запись чужого тенанта неотличима от несуществующей.
	ErrNotFound = errors.New("вложение не найдено")

	// ErrIntegrity — запись метаданных существует, но объект
	// отсутствует в хранилище. Кандидат для аудита целостности.
	ErrIntegrity = errors.New("объект вложения отсутствует в хранилище")

	// ErrUnknownBackend — для записи указан backend, драйвер которого
	// не сконфигурирован в этом экземпляре сервиса.
	ErrUnknownBackend = errors.New("драйвер хранилища не сконфигурирован")

	// ErrBusy — фоновая операция (миграция, cleanup) уже выполняется.
	ErrBusy = errors.New("операция уже выполняется")
)
