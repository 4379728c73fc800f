// main.go — точка входа сервиса вложений.
// Порядок запуска: конфигурация → логгер → миграции БД → пул
// PostgreSQL → драйверы хранилищ → сервисы → HTTP-сервер.
package main

import (
	"context"
	"log"
	"log/slog"

	"github.com/bigkaa/goattachstore/internal/api/handlers"
	"github.com/bigkaa/goattachstore/internal/api/middleware"
	"github.com/bigkaa/goattachstore/internal/config"
	"github.com/bigkaa/goattachstore/internal/database"
	"github.com/bigkaa/goattachstore/internal/domain/model"
	"github.com/bigkaa/goattachstore/internal/repository"
	"github.com/bigkaa/goattachstore/internal/server"
	"github.com/bigkaa/goattachstore/internal/service"
	"github.com/bigkaa/goattachstore/internal/storage/backend"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	// 2. Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("Сервис вложений запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("storage_backend", string(cfg.StorageBackend)),
	)

	// 3. Применение миграций схемы
	if err := database.Migrate(cfg, logger); err != nil {
		log.Fatalf("Ошибка применения миграций: %v", err)
	}

	// 4. Пул подключений PostgreSQL
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Ошибка подключения к PostgreSQL: %v", err)
	}
	defer pool.Close()

	repo := repository.NewAttachmentRepository(pool)

	// 5. Драйверы хранилищ: локальный всегда, удалённый — если настроен
	drivers := make(map[model.Backend]backend.Driver)

	localDriver, err := backend.NewLocal(cfg.LocalDir)
	if err != nil {
		log.Fatalf("Ошибка инициализации локального хранилища: %v", err)
	}
	drivers[model.BackendLocal] = localDriver

	if cfg.RemoteConfigured() {
		remoteDriver, err := backend.NewRemote(backend.RemoteConfig{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			log.Fatalf("Ошибка инициализации удалённого хранилища: %v", err)
		}
		drivers[model.BackendRemote] = remoteDriver
		logger.Info("Удалённое хранилище сконфигурировано",
			slog.String("endpoint", cfg.S3Endpoint),
			slog.String("bucket", cfg.S3Bucket),
		)
	}

	// 6. Сервисы
	cache := service.NewCacheService(cfg.CacheSize, cfg.CacheTTL)
	attachments := service.NewAttachmentService(repo, drivers, cfg.StorageBackend, cache, cfg.BackendTimeout, logger)
	migration := service.NewMigrationService(attachments, repo, cfg.MigrateConcurrency, cfg.MigrateRetries, logger)
	cleanup := service.NewCleanupService(attachments, repo, logger)

	// 7. Обработчики
	checkers := []handlers.ReadinessChecker{
		database.NewReadinessChecker(pool),
		backend.NewReadinessChecker(drivers[cfg.StorageBackend]),
	}
	healthHandler := handlers.NewHealthHandler(checkers...)
	attachmentsHandler := handlers.NewAttachmentsHandler(attachments, logger)
	storageHandler := handlers.NewStorageHandler(attachments, migration, cleanup, logger)

	// 8. HTTP-сервер (метрики и логирование запросов)
	srv := server.New(cfg, logger,
		attachmentsHandler, storageHandler, healthHandler,
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
	)

	// 9. Запуск сервера (блокирующий вызов с graceful shutdown)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		log.Fatalf("Сервер завершился с ошибкой: %v", err)
	}

	logger.Info("Сервис вложений остановлен")
}
