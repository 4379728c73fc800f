package backend

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bigkaa/goattachstore/internal/domain/model"
)

// LocalDriver — хранилище на локальной файловой системе.
// Ключ объекта отображается 1:1 в относительный путь внутри rootDir,
// раскладка директорий читаема оператором.
type LocalDriver struct {
	// rootDir — корневая директория хранения (AS_LOCAL_DIR)
	rootDir string
}

// NewLocal создаёт LocalDriver. Создаёт корневую директорию,
// если она не существует.
func NewLocal(rootDir string) (*LocalDriver, error) {
	abs, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("не удалось определить абсолютный путь %s: %w", rootDir, err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", abs, err)
	}

	return &LocalDriver{rootDir: abs}, nil
}

// Name возвращает идентификатор backend.
func (d *LocalDriver) Name() model.Backend {
	return model.BackendLocal
}

// fullPath отображает ключ в абсолютный путь и проверяет, что путь
// не выходит за пределы rootDir.
func (d *LocalDriver) fullPath(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("пустой ключ объекта")
	}
	full := filepath.Join(d.rootDir, filepath.FromSlash(key))
	if full != d.rootDir && !strings.HasPrefix(full, d.rootDir+string(filepath.Separator)) {
		return "", fmt.Errorf("ключ выходит за пределы директории данных: %s", key)
	}
	return full, nil
}

// Put записывает объект на диск.
//
// Паттерн: temp файл → io.Copy → fsync → atomic rename.
// При любой ошибке temp файл удаляется.
func (d *LocalDriver) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (model.Locator, error) {
	if err := ctx.Err(); err != nil {
		return model.Locator{}, err
	}

	fullPath, err := d.fullPath(key)
	if err != nil {
		return model.Locator{}, err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return model.Locator{}, fmt.Errorf("ошибка создания директории: %w", err)
	}

	tmpPath := fullPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return model.Locator{}, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	written, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return model.Locator{}, fmt.Errorf("ошибка записи данных: %w", err)
	}

	if size >= 0 && written != size {
		f.Close()
		os.Remove(tmpPath)
		return model.Locator{}, fmt.Errorf("записано %d байт, заявлено %d", written, size)
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return model.Locator{}, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return model.Locator{}, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	// Атомарный rename
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return model.Locator{}, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return model.Locator{Key: key}, nil
}

// Get открывает объект для чтения.
// Content-type локальный диск не хранит, возвращается пустая строка —
// вызывающий код берёт MIME-тип из метаданных.
func (d *LocalDriver) Get(ctx context.Context, loc model.Locator) (io.ReadCloser, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	fullPath, err := d.fullPath(loc.Key)
	if err != nil {
		return nil, "", err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", ErrNotFound
		}
		if os.IsPermission(err) {
			return nil, "", fmt.Errorf("%w: %s", ErrPermissionDenied, loc.Key)
		}
		return nil, "", fmt.Errorf("ошибка открытия файла %s: %w", loc.Key, err)
	}

	return f, "", nil
}

// Delete удаляет объект с диска. Отсутствующий объект — успех.
// Опустевшие родительские директории подчищаются до rootDir.
func (d *LocalDriver) Delete(ctx context.Context, loc model.Locator) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fullPath, err := d.fullPath(loc.Key)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", loc.Key, err)
	}

	d.pruneEmptyDirs(filepath.Dir(fullPath))
	return nil
}

// pruneEmptyDirs удаляет опустевшие директории вверх до rootDir.
// Ошибки игнорируются: непустая директория — штатный случай.
func (d *LocalDriver) pruneEmptyDirs(dir string) {
	for dir != d.rootDir && strings.HasPrefix(dir, d.rootDir) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// Exists проверяет существование объекта.
func (d *LocalDriver) Exists(ctx context.Context, loc model.Locator) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	fullPath, err := d.fullPath(loc.Key)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(fullPath)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("ошибка проверки файла %s: %w", loc.Key, err)
}

// Stat возвращает информацию об объекте.
func (d *LocalDriver) Stat(ctx context.Context, loc model.Locator) (*ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fullPath, err := d.fullPath(loc.Key)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения информации о файле %s: %w", loc.Key, err)
	}

	return &ObjectInfo{Size: info.Size(), ModTime: info.ModTime()}, nil
}

// List перечисляет объекты с заданным префиксом ключа через WalkDir.
// Temp файлы незавершённых записей пропускаются.
func (d *LocalDriver) List(ctx context.Context, prefix string, fn func(model.Locator) error) error {
	return filepath.WalkDir(d.rootDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".tmp") {
			return nil
		}

		rel, err := filepath.Rel(d.rootDir, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}

		return fn(model.Locator{Key: key})
	})
}

// Ping проверяет доступность директории данных.
func (d *LocalDriver) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(d.rootDir); err != nil {
		return fmt.Errorf("директория данных недоступна: %w", err)
	}
	return nil
}
