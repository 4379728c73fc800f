package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/goattachstore/internal/domain/model"
	"github.com/bigkaa/goattachstore/internal/storage/backend"
	"github.com/bigkaa/goattachstore/internal/validation"
)

// TestUploadDownloadRoundTrip: загруженное вложение скачивается
// байт-в-байт с исходным именем файла.
func TestUploadDownloadRoundTrip(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(t, repo)

	content := "содержимое счёта за март"
	rec := uploadTest(t, svc, 42, "счёт_март.pdf", content)

	if rec.OriginalFilename != "счёт_март.pdf" {
		t.Errorf("OriginalFilename = %q, имя должно сохраняться без потерь", rec.OriginalFilename)
	}
	if rec.Category != model.CategoryDocument {
		t.Errorf("Category = %s, ожидается document", rec.Category)
	}
	if rec.StorageBackend != model.BackendLocal {
		t.Errorf("StorageBackend = %s, ожидается local", rec.StorageBackend)
	}

	got, rc, err := svc.Download(context.Background(), rec.ID, 42)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("чтение: %v", err)
	}
	if string(data) != content {
		t.Errorf("содержимое не совпадает: %q != %q", data, content)
	}
	if got.OriginalFilename != rec.OriginalFilename {
		t.Errorf("имя файла после round-trip: %q != %q", got.OriginalFilename, rec.OriginalFilename)
	}
}

// newCountingService собирает сервис с драйвером, считающим обращения.
func newCountingService(t *testing.T, repo *memRepo) (*AttachmentService, *countingDriver) {
	t.Helper()
	counting := &countingDriver{Driver: newLocalDriver(t)}
	svc := NewAttachmentService(
		repo,
		map[model.Backend]backend.Driver{model.BackendLocal: counting},
		model.BackendLocal,
		NewCacheService(16, time.Minute),
		10*time.Second,
		slog.Default(),
	)
	return svc, counting
}

// TestUploadValidationNoBackendCall: отклонённая валидацией загрузка
// не делает ни одного обращения к хранилищу.
func TestUploadValidationNoBackendCall(t *testing.T) {
	repo := newMemRepo()
	svc, counting := newCountingService(t, repo)

	tests := []struct {
		name     string
		filename string
		size     int64
		kind     validation.Kind
	}{
		{"опасное расширение", "payload.exe", 100, validation.KindDangerous},
		{"превышение лимита", "big.pdf", 51 << 20, validation.KindTooLarge},
		{"пустое имя", "", 100, validation.KindInvalid},
	}

	for _, tt := range tests {
		_, err := svc.Upload(context.Background(), UploadParams{
			CompanyID:  1,
			EntityType: "invoice",
			EntityID:   1,
			Filename:   tt.filename,
			Size:       tt.size,
			Reader:     strings.NewReader("x"),
		})

		var verr *validation.Error
		if !errors.As(err, &verr) || verr.Kind != tt.kind {
			t.Errorf("%s: ожидается ошибка валидации %s, получено %v", tt.name, tt.kind, err)
		}
	}

	if counting.Calls() != 0 {
		t.Errorf("хранилище вызвано %d раз, отклонённая загрузка не должна трогать backend", counting.Calls())
	}
	if len(repo.records) != 0 {
		t.Error("метаданные не должны создаваться при отклонённой загрузке")
	}
}

// TestTenantIsolation: вложение одного тенанта недоступно другому,
// ответ неотличим от несуществующего вложения.
func TestTenantIsolation(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(t, repo)

	rec := uploadTest(t, svc, 42, "invoice.pdf", "data")

	// Download чужого тенанта
	_, _, err := svc.Download(context.Background(), rec.ID, 99)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Download чужого тенанта: ожидается ErrNotFound, получено %v", err)
	}

	// Delete чужого тенанта — no-op
	deleted, err := svc.Delete(context.Background(), rec.ID, 99)
	if err != nil || deleted {
		t.Errorf("Delete чужого тенанта: ожидается (false, nil), получено (%v, %v)", deleted, err)
	}

	// UpdateDescription чужого тенанта
	_, err = svc.UpdateDescription(context.Background(), rec.ID, 99, "hack")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateDescription чужого тенанта: ожидается ErrNotFound, получено %v", err)
	}

	// Вложение осталось нетронутым у владельца
	got, _, err := svc.Download(context.Background(), rec.ID, 42)
	if err != nil {
		t.Fatalf("Download владельца: %v", err)
	}
	if got.Description != "" {
		t.Error("описание изменено чужим тенантом")
	}
}

// TestTenantIsolationCachedRecord: кэшированная запись не обходит
// проверку тенанта.
func TestTenantIsolationCachedRecord(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(t, repo)

	rec := uploadTest(t, svc, 42, "a.pdf", "data")

	// Прогреваем кэш запросом владельца
	if _, rc, err := svc.Download(context.Background(), rec.ID, 42); err != nil {
		t.Fatalf("Download: %v", err)
	} else {
		rc.Close()
	}

	// Чужой тенант по тому же id
	if _, _, err := svc.Download(context.Background(), rec.ID, 99); !errors.Is(err, ErrNotFound) {
		t.Errorf("кэш обошёл изоляцию тенантов: %v", err)
	}
}

// TestDeleteRemovesObjectAndRecord: удаление убирает и объект, и запись.
func TestDeleteRemovesObjectAndRecord(t *testing.T) {
	repo := newMemRepo()
	svc, drivers := newTestService(t, repo)

	rec := uploadTest(t, svc, 42, "doc.pdf", "data")

	deleted, err := svc.Delete(context.Background(), rec.ID, 42)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !deleted {
		t.Fatal("Delete вернул false для существующего вложения")
	}

	exists, err := drivers[model.BackendLocal].Exists(context.Background(), rec.Locator())
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Error("объект остался в хранилище после удаления")
	}

	// Повторное удаление — no-op без ошибки
	deleted, err = svc.Delete(context.Background(), rec.ID, 42)
	if err != nil || deleted {
		t.Errorf("повторный Delete: ожидается (false, nil), получено (%v, %v)", deleted, err)
	}
}

// TestUploadCompensatingDelete: при ошибке записи метаданных
// загруженный объект удаляется из хранилища.
func TestUploadCompensatingDelete(t *testing.T) {
	repo := newMemRepo()
	repo.createErr = errors.New("БД недоступна")
	svc, drivers := newTestService(t, repo)

	_, err := svc.Upload(context.Background(), UploadParams{
		CompanyID:  42,
		EntityType: "invoice",
		EntityID:   7,
		Filename:   "doc.pdf",
		Size:       4,
		Reader:     strings.NewReader("data"),
	})
	if err == nil {
		t.Fatal("ожидалась ошибка создания записи")
	}

	// В хранилище не должно остаться объектов
	count := 0
	if err := drivers[model.BackendLocal].List(context.Background(), "", func(model.Locator) error {
		count++
		return nil
	}); err != nil {
		t.Fatalf("List: %v", err)
	}
	if count != 0 {
		t.Errorf("в хранилище остался %d объект после компенсирующего удаления", count)
	}
}

// TestDownloadMissingObject: запись без объекта — ошибка целостности.
func TestDownloadMissingObject(t *testing.T) {
	repo := newMemRepo()
	svc, drivers := newTestService(t, repo)

	rec := uploadTest(t, svc, 42, "doc.pdf", "data")

	// Удаляем объект напрямую, минуя сервис
	if err := drivers[model.BackendLocal].Delete(context.Background(), rec.Locator()); err != nil {
		t.Fatalf("Delete объекта: %v", err)
	}

	_, _, err := svc.Download(context.Background(), rec.ID, 42)
	if !errors.Is(err, ErrIntegrity) {
		t.Errorf("ожидается ErrIntegrity, получено %v", err)
	}
}

// TestUpdateDescription проверяет обновление описания.
func TestUpdateDescription(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(t, repo)

	rec := uploadTest(t, svc, 42, "doc.pdf", "data")

	updated, err := svc.UpdateDescription(context.Background(), rec.ID, 42, "счёт поставщика")
	if err != nil {
		t.Fatalf("UpdateDescription: %v", err)
	}
	if updated.Description != "счёт поставщика" {
		t.Errorf("Description = %q", updated.Description)
	}
}

// TestInfo проверяет сводку о хранилище.
func TestInfo(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(t, repo)

	uploadTest(t, svc, 1, "a.pdf", "aaa")
	uploadTest(t, svc, 2, "b.png", "bbbb")

	info, err := svc.Info(context.Background(), 0)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}

	if info.ActiveBackend != model.BackendLocal {
		t.Errorf("ActiveBackend = %s", info.ActiveBackend)
	}
	if info.Stats.TotalAttachments != 2 {
		t.Errorf("TotalAttachments = %d, ожидается 2", info.Stats.TotalAttachments)
	}
	if info.Stats.TotalSizeBytes != 7 {
		t.Errorf("TotalSizeBytes = %d, ожидается 7", info.Stats.TotalSizeBytes)
	}
	if len(info.Backends) != 2 {
		t.Fatalf("Backends = %d, ожидается 2", len(info.Backends))
	}
	for _, b := range info.Backends {
		if !b.Available {
			t.Errorf("backend %s недоступен: %s", b.Backend, b.Error)
		}
	}
	if info.Stats.ByCategory[model.CategoryDocument].Count != 1 {
		t.Error("статистика по категориям не совпадает")
	}
	if info.Stats.ByBackend[model.BackendLocal].Count != 2 {
		t.Error("статистика по backend не совпадает")
	}
}

// TestInfoTenantScope: статистика с company_id считает только
// вложения одного тенанта.
func TestInfoTenantScope(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(t, repo)

	uploadTest(t, svc, 1, "a.pdf", "aaa")
	uploadTest(t, svc, 2, "b.pdf", "bbbb")

	info, err := svc.Info(context.Background(), 1)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.Stats.TotalAttachments != 1 {
		t.Errorf("TotalAttachments = %d, ожидается 1", info.Stats.TotalAttachments)
	}
	if info.Stats.TotalSizeBytes != 3 {
		t.Errorf("TotalSizeBytes = %d, ожидается 3", info.Stats.TotalSizeBytes)
	}
}

// TestDeleteStaleCachePointer: удаление с закэшированной записью,
// указатель которой уже переключён миграцией, не должно оставить
// целевую копию orphan — guard по storage_backend заставляет
// перечитать запись и удалить актуальный объект.
func TestDeleteStaleCachePointer(t *testing.T) {
	repo := newMemRepo()
	svc, drivers := newTestService(t, repo)

	rec := uploadTest(t, svc, 42, "doc.pdf", "data")

	// Прогреваем кэш записью с указателем на local
	if _, rc, err := svc.Download(context.Background(), rec.ID, 42); err != nil {
		t.Fatalf("Download: %v", err)
	} else {
		rc.Close()
	}

	// Имитация конкурентной миграции: копия на remote,
	// переключение указателя, удаление исходного объекта
	if _, err := drivers[model.BackendRemote].Put(context.Background(),
		rec.StorageKey, strings.NewReader("data"), 4, rec.MimeType); err != nil {
		t.Fatalf("Put на remote: %v", err)
	}
	ok, err := repo.UpdateBackendPointer(context.Background(),
		rec.ID, model.BackendLocal, model.BackendRemote, "", rec.StorageKey)
	if err != nil || !ok {
		t.Fatalf("UpdateBackendPointer: ok=%v err=%v", ok, err)
	}
	if err := drivers[model.BackendLocal].Delete(context.Background(), rec.Locator()); err != nil {
		t.Fatalf("Delete исходного объекта: %v", err)
	}

	deleted, err := svc.Delete(context.Background(), rec.ID, 42)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !deleted {
		t.Fatal("Delete вернул false для существующего вложения")
	}

	// Целевая копия не должна остаться orphan
	exists, err := drivers[model.BackendRemote].Exists(context.Background(),
		model.Locator{Key: rec.StorageKey})
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Error("объект на remote остался orphan после удаления по устаревшему указателю")
	}
	if _, err := repo.GetByID(context.Background(), rec.ID, 42); err == nil {
		t.Error("запись метаданных не удалена")
	}
}
