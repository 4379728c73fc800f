package service

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/goattachstore/internal/domain/model"
	"github.com/bigkaa/goattachstore/internal/repository"
	"github.com/bigkaa/goattachstore/internal/storage/backend"
)

// --- In-memory репозиторий метаданных для тестов ---

// memRepo — потокобезопасный in-memory AttachmentRepository.
type memRepo struct {
	mu      sync.Mutex
	records map[string]*model.AttachmentRecord

	// createErr — принудительная ошибка Create (тест компенсации)
	createErr error
}

func newMemRepo() *memRepo {
	return &memRepo{records: make(map[string]*model.AttachmentRecord)}
}

func (r *memRepo) Create(_ context.Context, rec *model.AttachmentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	cp := *rec
	r.records[rec.ID] = &cp
	return nil
}

func (r *memRepo) GetByID(_ context.Context, id string, companyID int64) (*model.AttachmentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.CompanyID != companyID {
		return nil, repository.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *memRepo) ListByEntity(_ context.Context, companyID int64, entityType string, entityID int64) ([]*model.AttachmentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.AttachmentRecord
	for _, rec := range r.records {
		if rec.CompanyID == companyID && rec.EntityType == entityType && rec.EntityID == entityID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memRepo) Delete(_ context.Context, id string, companyID int64, b model.Backend) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.CompanyID != companyID || rec.StorageBackend != b {
		return repository.ErrNotFound
	}
	delete(r.records, id)
	return nil
}

func (r *memRepo) UpdateDescription(_ context.Context, id string, companyID int64, description string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.CompanyID != companyID {
		return repository.ErrNotFound
	}
	rec.Description = description
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *memRepo) UpdateBackendPointer(_ context.Context, id string, source, target model.Backend, targetBucket, targetKey string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.StorageBackend != source {
		return false, nil
	}
	rec.StorageBackend = target
	rec.StorageBucket = targetBucket
	rec.StorageKey = targetKey
	rec.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *memRepo) ListForMigration(_ context.Context, source model.Backend, companyID int64) ([]*model.AttachmentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.AttachmentRecord
	for _, rec := range r.records {
		if rec.StorageBackend != source {
			continue
		}
		if companyID > 0 && rec.CompanyID != companyID {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memRepo) ListAll(_ context.Context, companyID int64) ([]*model.AttachmentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.AttachmentRecord
	for _, rec := range r.records {
		if companyID > 0 && rec.CompanyID != companyID {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memRepo) ExistsByKey(_ context.Context, b model.Backend, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.StorageBackend == b && rec.StorageKey == key {
			return true, nil
		}
	}
	return false, nil
}

func (r *memRepo) Stats(_ context.Context, companyID int64) (*model.StorageStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &model.StorageStats{
		ByCategory: make(map[model.Category]model.CategoryStats),
		ByBackend:  make(map[model.Backend]model.CategoryStats),
	}
	for _, rec := range r.records {
		if companyID > 0 && rec.CompanyID != companyID {
			continue
		}
		stats.TotalAttachments++
		stats.TotalSizeBytes += rec.FileSize

		c := stats.ByCategory[rec.Category]
		c.Count++
		c.TotalSizeBytes += rec.FileSize
		stats.ByCategory[rec.Category] = c

		b := stats.ByBackend[rec.StorageBackend]
		b.Count++
		b.TotalSizeBytes += rec.FileSize
		stats.ByBackend[rec.StorageBackend] = b
	}
	return stats, nil
}

// --- Драйверы для тестов ---

// countingDriver — обёртка драйвера, считающая обращения к хранилищу.
type countingDriver struct {
	backend.Driver
	mu    sync.Mutex
	calls int
}

func (d *countingDriver) count() {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
}

func (d *countingDriver) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *countingDriver) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (model.Locator, error) {
	d.count()
	return d.Driver.Put(ctx, key, r, size, contentType)
}

func (d *countingDriver) Get(ctx context.Context, loc model.Locator) (io.ReadCloser, string, error) {
	d.count()
	return d.Driver.Get(ctx, loc)
}

func (d *countingDriver) Delete(ctx context.Context, loc model.Locator) error {
	d.count()
	return d.Driver.Delete(ctx, loc)
}

// renamedDriver — локальный драйвер, представляющийся другим backend.
// Позволяет тестировать миграцию local ↔ remote без объектного хранилища.
type renamedDriver struct {
	backend.Driver
	name model.Backend
}

func (d *renamedDriver) Name() model.Backend {
	return d.name
}

// --- Конструкторы тестового окружения ---

func newLocalDriver(t *testing.T) backend.Driver {
	t.Helper()
	d, err := backend.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	return d
}

// newTestService собирает AttachmentService поверх in-memory репозитория
// и локальных драйверов во временных директориях.
func newTestService(t *testing.T, repo *memRepo) (*AttachmentService, map[model.Backend]backend.Driver) {
	t.Helper()

	drivers := map[model.Backend]backend.Driver{
		model.BackendLocal:  newLocalDriver(t),
		model.BackendRemote: &renamedDriver{Driver: newLocalDriver(t), name: model.BackendRemote},
	}

	svc := NewAttachmentService(
		repo,
		drivers,
		model.BackendLocal,
		NewCacheService(128, time.Minute),
		10*time.Second,
		slog.Default(),
	)
	return svc, drivers
}

// uploadTest загружает тестовое вложение и возвращает запись.
func uploadTest(t *testing.T, svc *AttachmentService, companyID int64, filename, content string) *model.AttachmentRecord {
	t.Helper()
	rec, err := svc.Upload(context.Background(), UploadParams{
		CompanyID:  companyID,
		EntityType: "invoice",
		EntityID:   7,
		Filename:   filename,
		Size:       int64(len(content)),
		Reader:     strings.NewReader(content),
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	return rec
}
