// Пакет config — загрузка и валидация конфигурации сервиса вложений
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bigkaa/goattachstore/internal/domain/model"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации сервиса вложений.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Активное хранилище (local, remote). Выбор backend — явное значение
	// конфигурации, внедряется в сервисы при конструировании,
	// никакого глобального изменяемого состояния.
	StorageBackend model.Backend
	// Корневая директория локального хранилища
	LocalDir string
	// Endpoint S3-совместимого хранилища
	S3Endpoint string
	// Имя bucket (обязателен при StorageBackend = remote)
	S3Bucket string
	// Регион bucket
	S3Region string
	// Ключ доступа. Пустой вместе с S3SecretKey — ambient/IAM credentials.
	S3AccessKey string
	// Секретный ключ
	S3SecretKey string
	// TLS при обращении к S3
	S3UseSSL bool

	// PostgreSQL
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// Таймаут одной backend I/O операции (put/get/delete/stat)
	BackendTimeout time.Duration
	// Количество параллельных переносов в миграционном батче
	MigrateConcurrency int
	// Количество повторов одного переноса при ошибке
	MigrateRetries int
	// Размер LRU-кэша записей вложений
	CacheSize int
	// TTL записи в кэше
	CacheTTL time.Duration

	// Таймауты HTTP-сервера
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// AS_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("AS_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("AS_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("AS_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// AS_STORAGE_BACKEND — активное хранилище (по умолчанию local)
	backend := model.Backend(getEnvDefault("AS_STORAGE_BACKEND", "local"))
	if !backend.Valid() {
		return nil, fmt.Errorf("AS_STORAGE_BACKEND: недопустимое значение %q, допустимые: local, remote", backend)
	}
	cfg.StorageBackend = backend

	// AS_LOCAL_DIR — корень локального хранилища (обязательный:
	// local driver нужен и при remote backend — для миграций и cleanup)
	cfg.LocalDir, err = getEnvRequired("AS_LOCAL_DIR")
	if err != nil {
		return nil, err
	}

	// AS_S3_* — параметры удалённого хранилища
	cfg.S3Endpoint = getEnvDefault("AS_S3_ENDPOINT", "s3.amazonaws.com")
	cfg.S3Bucket = getEnvDefault("AS_S3_BUCKET", "")
	cfg.S3Region = getEnvDefault("AS_S3_REGION", "us-east-1")
	cfg.S3AccessKey = getEnvDefault("AS_S3_ACCESS_KEY", "")
	cfg.S3SecretKey = getEnvDefault("AS_S3_SECRET_KEY", "")
	cfg.S3UseSSL, err = getEnvBool("AS_S3_USE_SSL", true)
	if err != nil {
		return nil, fmt.Errorf("AS_S3_USE_SSL: %w", err)
	}

	// Bucket обязателен, если remote выбран активным хранилищем
	if cfg.StorageBackend == model.BackendRemote && cfg.S3Bucket == "" {
		return nil, fmt.Errorf("AS_S3_BUCKET: обязателен при AS_STORAGE_BACKEND=remote")
	}
	// Ключи задаются парой: либо оба, либо ни одного (ambient credentials)
	if (cfg.S3AccessKey == "") != (cfg.S3SecretKey == "") {
		return nil, fmt.Errorf("AS_S3_ACCESS_KEY и AS_S3_SECRET_KEY должны быть заданы вместе")
	}

	// AS_DB_* — PostgreSQL
	cfg.DBHost, err = getEnvRequired("AS_DB_HOST")
	if err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("AS_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("AS_DB_PORT: %w", err)
	}
	cfg.DBName, err = getEnvRequired("AS_DB_NAME")
	if err != nil {
		return nil, err
	}
	cfg.DBUser, err = getEnvRequired("AS_DB_USER")
	if err != nil {
		return nil, err
	}
	cfg.DBPassword = getEnvDefault("AS_DB_PASSWORD", "")
	cfg.DBSSLMode = getEnvDefault("AS_DB_SSLMODE", "disable")

	// AS_BACKEND_TIMEOUT — таймаут backend I/O (по умолчанию 30s)
	cfg.BackendTimeout, err = getEnvDuration("AS_BACKEND_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AS_BACKEND_TIMEOUT: %w", err)
	}

	// AS_MIGRATE_CONCURRENCY — размер worker pool миграции (по умолчанию 4)
	cfg.MigrateConcurrency, err = getEnvInt("AS_MIGRATE_CONCURRENCY", 4)
	if err != nil {
		return nil, fmt.Errorf("AS_MIGRATE_CONCURRENCY: %w", err)
	}
	if cfg.MigrateConcurrency < 1 {
		return nil, fmt.Errorf("AS_MIGRATE_CONCURRENCY: значение должно быть положительным")
	}

	// AS_MIGRATE_RETRIES — количество повторов переноса (по умолчанию 3)
	cfg.MigrateRetries, err = getEnvInt("AS_MIGRATE_RETRIES", 3)
	if err != nil {
		return nil, fmt.Errorf("AS_MIGRATE_RETRIES: %w", err)
	}
	if cfg.MigrateRetries < 0 {
		return nil, fmt.Errorf("AS_MIGRATE_RETRIES: значение не может быть отрицательным")
	}

	// AS_CACHE_SIZE / AS_CACHE_TTL — LRU-кэш записей
	cfg.CacheSize, err = getEnvInt("AS_CACHE_SIZE", 1024)
	if err != nil {
		return nil, fmt.Errorf("AS_CACHE_SIZE: %w", err)
	}
	if cfg.CacheSize < 1 {
		return nil, fmt.Errorf("AS_CACHE_SIZE: значение должно быть положительным")
	}
	cfg.CacheTTL, err = getEnvDuration("AS_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("AS_CACHE_TTL: %w", err)
	}

	// Таймауты HTTP-сервера
	cfg.HTTPReadTimeout, err = getEnvDuration("AS_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AS_HTTP_READ_TIMEOUT: %w", err)
	}
	cfg.HTTPWriteTimeout, err = getEnvDuration("AS_HTTP_WRITE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AS_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDuration("AS_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AS_HTTP_IDLE_TIMEOUT: %w", err)
	}
	cfg.ShutdownTimeout, err = getEnvDuration("AS_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AS_SHUTDOWN_TIMEOUT: %w", err)
	}

	// AS_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("AS_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("AS_LOG_LEVEL: %w", err)
	}

	// AS_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("AS_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("AS_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.DBUser), url.QueryEscape(c.DBPassword),
		c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// RemoteConfigured возвращает true, если удалённое хранилище настроено
// (bucket задан) — независимо от того, является ли оно активным.
func (c *Config) RemoteConfigured() bool {
	return c.S3Bucket != ""
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 5m, 1h)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
