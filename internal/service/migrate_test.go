package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/bigkaa/goattachstore/internal/domain/model"
)

func newMigrationTest(t *testing.T, repo *memRepo) (*AttachmentService, *MigrationService) {
	t.Helper()
	svc, _ := newTestService(t, repo)
	mig := NewMigrationService(svc, repo, 2, 1, slog.Default())
	return svc, mig
}

// readAttachment скачивает вложение и возвращает содержимое.
func readAttachment(t *testing.T, svc *AttachmentService, id string, companyID int64) string {
	t.Helper()
	_, rc, err := svc.Download(context.Background(), id, companyID)
	if err != nil {
		t.Fatalf("Download %s: %v", id, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("чтение %s: %v", id, err)
	}
	return string(data)
}

// TestMigrateRoundTrip: миграция local → remote → local возвращает
// байт-идентичное содержимое.
func TestMigrateRoundTrip(t *testing.T) {
	repo := newMemRepo()
	svc, mig := newMigrationTest(t, repo)

	content := "содержимое для переноса"
	rec := uploadTest(t, svc, 42, "doc.pdf", content)

	// local → remote
	result, err := mig.Run(context.Background(), model.BackendLocal, model.BackendRemote, 0, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Migrated != 1 || result.Failed != 0 {
		t.Fatalf("migrated=%d failed=%d, ожидается 1/0", result.Migrated, result.Failed)
	}

	moved, err := repo.GetByID(context.Background(), rec.ID, 42)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if moved.StorageBackend != model.BackendRemote {
		t.Errorf("StorageBackend = %s, ожидается remote", moved.StorageBackend)
	}
	if got := readAttachment(t, svc, rec.ID, 42); got != content {
		t.Errorf("содержимое после миграции: %q != %q", got, content)
	}

	// remote → local
	result, err = mig.Run(context.Background(), model.BackendRemote, model.BackendLocal, 0, false)
	if err != nil {
		t.Fatalf("обратный Run: %v", err)
	}
	if result.Migrated != 1 {
		t.Fatalf("обратная миграция: migrated=%d", result.Migrated)
	}
	if got := readAttachment(t, svc, rec.ID, 42); got != content {
		t.Errorf("содержимое после обратной миграции: %q != %q", got, content)
	}
}

// TestMigrateDryRunPure: dry-run возвращает план и не меняет
// ни метаданные, ни хранилища.
func TestMigrateDryRunPure(t *testing.T) {
	repo := newMemRepo()
	svc, mig := newMigrationTest(t, repo)

	rec := uploadTest(t, svc, 42, "doc.pdf", "data")

	result, err := mig.Run(context.Background(), model.BackendLocal, model.BackendRemote, 0, true)
	if err != nil {
		t.Fatalf("Run dry-run: %v", err)
	}
	if !result.DryRun {
		t.Error("DryRun не установлен в результате")
	}
	if result.Candidates != 1 {
		t.Errorf("Candidates = %d, ожидается 1", result.Candidates)
	}
	if result.Migrated != 0 {
		t.Errorf("Migrated = %d, dry-run не переносит", result.Migrated)
	}

	// План перечисляет записи поимённо с размерами
	if len(result.Plan) != 1 {
		t.Fatalf("Plan содержит %d записей, ожидается 1", len(result.Plan))
	}
	item := result.Plan[0]
	if item.AttachmentID != rec.ID {
		t.Errorf("Plan[0].AttachmentID = %s, ожидается %s", item.AttachmentID, rec.ID)
	}
	if item.FromBackend != model.BackendLocal || item.ToBackend != model.BackendRemote {
		t.Errorf("Plan[0]: %s → %s, ожидается local → remote", item.FromBackend, item.ToBackend)
	}
	if item.SizeBytes != rec.FileSize {
		t.Errorf("Plan[0].SizeBytes = %d, ожидается %d", item.SizeBytes, rec.FileSize)
	}
	if result.TotalBytes != rec.FileSize {
		t.Errorf("TotalBytes = %d, ожидается %d", result.TotalBytes, rec.FileSize)
	}

	got, err := repo.GetByID(context.Background(), rec.ID, 42)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.StorageBackend != model.BackendLocal {
		t.Error("dry-run изменил указатель хранилища")
	}
	if got.UpdatedAt != rec.UpdatedAt {
		t.Error("dry-run изменил запись метаданных")
	}
}

// TestMigrateSourceObjectRemoved: после миграции исходный объект удалён.
func TestMigrateSourceObjectRemoved(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(t, repo)
	mig := NewMigrationService(svc, repo, 1, 0, slog.Default())

	rec := uploadTest(t, svc, 42, "doc.pdf", "data")
	srcLoc := rec.Locator()

	if _, err := mig.Run(context.Background(), model.BackendLocal, model.BackendRemote, 0, false); err != nil {
		t.Fatalf("Run: %v", err)
	}

	exists, err := svc.Drivers()[model.BackendLocal].Exists(context.Background(), srcLoc)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Error("исходный объект остался после миграции")
	}
}

// TestMigratePartialFailure: ошибка одной записи не прерывает батч.
func TestMigratePartialFailure(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(t, repo)
	mig := NewMigrationService(svc, repo, 1, 0, slog.Default())

	good := uploadTest(t, svc, 42, "good.pdf", "good data")
	bad := uploadTest(t, svc, 42, "bad.pdf", "bad data")

	// Ломаем одну запись: объект исчез из хранилища
	if err := svc.Drivers()[model.BackendLocal].Delete(context.Background(), bad.Locator()); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	result, err := mig.Run(context.Background(), model.BackendLocal, model.BackendRemote, 0, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Migrated != 1 {
		t.Errorf("Migrated = %d, здоровая запись должна перенестись", result.Migrated)
	}
	if result.Failed != 1 {
		t.Errorf("Failed = %d, ожидается 1", result.Failed)
	}
	if len(result.Failures) != 1 || result.Failures[0].ID != bad.ID {
		t.Errorf("Failures = %+v, ожидается запись %s", result.Failures, bad.ID)
	}

	moved, _ := repo.GetByID(context.Background(), good.ID, 42)
	if moved.StorageBackend != model.BackendRemote {
		t.Error("здоровая запись не перенесена")
	}
	broken, _ := repo.GetByID(context.Background(), bad.ID, 42)
	if broken.StorageBackend != model.BackendLocal {
		t.Error("сломанная запись не должна менять указатель")
	}
}

// TestMigrateTenantScope: батч с company_id не трогает чужие записи.
func TestMigrateTenantScope(t *testing.T) {
	repo := newMemRepo()
	svc, mig := newMigrationTest(t, repo)

	mine := uploadTest(t, svc, 42, "mine.pdf", "mine")
	other := uploadTest(t, svc, 99, "other.pdf", "other")

	result, err := mig.Run(context.Background(), model.BackendLocal, model.BackendRemote, 42, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Migrated != 1 {
		t.Errorf("Migrated = %d, ожидается 1", result.Migrated)
	}

	movedMine, _ := repo.GetByID(context.Background(), mine.ID, 42)
	if movedMine.StorageBackend != model.BackendRemote {
		t.Error("запись тенанта 42 не перенесена")
	}
	movedOther, _ := repo.GetByID(context.Background(), other.ID, 99)
	if movedOther.StorageBackend != model.BackendLocal {
		t.Error("запись тенанта 99 затронута чужим батчем")
	}
}

// TestMigrateSameBackend: совпадающие source и target отклоняются.
func TestMigrateSameBackend(t *testing.T) {
	repo := newMemRepo()
	_, mig := newMigrationTest(t, repo)

	if _, err := mig.Run(context.Background(), model.BackendLocal, model.BackendLocal, 0, false); err == nil {
		t.Fatal("ожидалась ошибка при source == target")
	}
}

// TestMigratePlan: Plan возвращает план без переноса.
func TestMigratePlan(t *testing.T) {
	repo := newMemRepo()
	svc, mig := newMigrationTest(t, repo)

	rec := uploadTest(t, svc, 42, "doc.pdf", "data")

	result, err := mig.Plan(context.Background(), model.BackendLocal, model.BackendRemote, 0)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if !result.DryRun || result.Migrated != 0 {
		t.Errorf("Plan выполнил перенос: %+v", result)
	}
	if len(result.Plan) != 1 || result.Plan[0].AttachmentID != rec.ID {
		t.Errorf("Plan = %+v, ожидается запись %s", result.Plan, rec.ID)
	}
}

// TestMaintenanceMutualExclusion: миграция и cleanup держат общий
// maintenance-лок — пока он занят, оба отвечают ErrBusy.
func TestMaintenanceMutualExclusion(t *testing.T) {
	repo := newMemRepo()
	svc, mig := newMigrationTest(t, repo)
	cl := NewCleanupService(svc, repo, slog.Default())

	svc.maintenanceMu.Lock()

	if _, err := mig.Run(context.Background(), model.BackendLocal, model.BackendRemote, 0, false); !errors.Is(err, ErrBusy) {
		t.Errorf("миграция при занятом локе: ожидается ErrBusy, получено %v", err)
	}
	if _, err := cl.Run(context.Background(), 0, false, false); !errors.Is(err, ErrBusy) {
		t.Errorf("cleanup при занятом локе: ожидается ErrBusy, получено %v", err)
	}

	svc.maintenanceMu.Unlock()

	if _, err := mig.Run(context.Background(), model.BackendLocal, model.BackendRemote, 0, true); err != nil {
		t.Errorf("миграция после освобождения лока: %v", err)
	}
	if _, err := cl.Run(context.Background(), 0, true, false); err != nil {
		t.Errorf("cleanup после освобождения лока: %v", err)
	}
}
