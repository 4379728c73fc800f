package backend

import (
	"context"
	"fmt"
	"time"
)

// ReadinessChecker — проверка доступности драйвера хранилища
// для health endpoint. Реализует интерфейс handlers.ReadinessChecker.
type ReadinessChecker struct {
	driver Driver
}

// NewReadinessChecker создаёт проверку готовности хранилища.
func NewReadinessChecker(driver Driver) *ReadinessChecker {
	return &ReadinessChecker{driver: driver}
}

// Name возвращает имя зависимости для health endpoint.
func (c *ReadinessChecker) Name() string {
	return "storage_" + string(c.driver.Name())
}

// CheckReady проверяет доступность хранилища через ping.
// Возвращает статус ("ok", "fail") и сообщение.
func (c *ReadinessChecker) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := c.driver.Ping(ctx); err != nil {
		return "fail", fmt.Sprintf("хранилище недоступно: %v", err)
	}
	return "ok", "хранилище доступно"
}
