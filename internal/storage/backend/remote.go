package backend

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/encrypt"

	"github.com/bigkaa/goattachstore/internal/domain/model"
)

// RemoteDriver — S3-совместимое объектное хранилище через minio-go.
// Объекты шифруются на стороне сервера (SSE-S3).
type RemoteDriver struct {
	client *minio.Client
	bucket string
}

// RemoteConfig — параметры подключения к объектному хранилищу.
type RemoteConfig struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// NewRemote создаёт RemoteDriver. Если ключи доступа не заданы,
// используется цепочка окружение → IAM-роль.
func NewRemote(cfg RemoteConfig) (*RemoteDriver, error) {
	var creds *credentials.Credentials
	if cfg.AccessKey != "" {
		creds = credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	} else {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.IAM{},
		})
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  creds,
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("не удалось создать клиент объектного хранилища: %w", err)
	}

	return &RemoteDriver{client: client, bucket: cfg.Bucket}, nil
}

// Name возвращает идентификатор backend.
func (d *RemoteDriver) Name() model.Backend {
	return model.BackendRemote
}

// Bucket возвращает имя bucket, в который пишет драйвер.
func (d *RemoteDriver) Bucket() string {
	return d.bucket
}

// wrapErr нормализует ошибки minio к sentinel-значениям пакета.
// Ошибка без S3-кода — транспортная: до хранилища не достучались
// (connection refused, DNS, таймаут), ответа хранилища нет.
func wrapErr(err error, key string) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket":
		return ErrNotFound
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return fmt.Errorf("%w: %s", ErrPermissionDenied, key)
	case "":
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

// Put записывает объект в хранилище с SSE-S3 шифрованием.
func (d *RemoteDriver) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (model.Locator, error) {
	_, err := d.client.PutObject(ctx, d.bucket, key, r, size, minio.PutObjectOptions{
		ContentType:          contentType,
		ServerSideEncryption: encrypt.NewSSE(),
	})
	if err != nil {
		return model.Locator{}, fmt.Errorf("ошибка записи объекта %s: %w", key, wrapErr(err, key))
	}

	return model.Locator{Bucket: d.bucket, Key: key}, nil
}

// Get открывает объект для чтения.
// minio возвращает ошибку лениво, поэтому существование объекта
// проверяется через Stat до отдачи потока вызывающему коду.
func (d *RemoteDriver) Get(ctx context.Context, loc model.Locator) (io.ReadCloser, string, error) {
	obj, err := d.client.GetObject(ctx, d.bucketFor(loc), loc.Key, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("ошибка открытия объекта %s: %w", loc.Key, wrapErr(err, loc.Key))
	}

	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, "", wrapErr(err, loc.Key)
	}

	return obj, info.ContentType, nil
}

// Delete удаляет объект. Идемпотентна: S3 RemoveObject для
// отсутствующего ключа возвращает успех.
func (d *RemoteDriver) Delete(ctx context.Context, loc model.Locator) error {
	err := d.client.RemoveObject(ctx, d.bucketFor(loc), loc.Key, minio.RemoveObjectOptions{})
	if err != nil {
		err = wrapErr(err, loc.Key)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return fmt.Errorf("ошибка удаления объекта %s: %w", loc.Key, err)
	}
	return nil
}

// Exists проверяет существование объекта.
func (d *RemoteDriver) Exists(ctx context.Context, loc model.Locator) (bool, error) {
	_, err := d.Stat(ctx, loc)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Stat возвращает информацию об объекте.
func (d *RemoteDriver) Stat(ctx context.Context, loc model.Locator) (*ObjectInfo, error) {
	info, err := d.client.StatObject(ctx, d.bucketFor(loc), loc.Key, minio.StatObjectOptions{})
	if err != nil {
		err = wrapErr(err, loc.Key)
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrPermissionDenied) {
			return nil, err
		}
		return nil, fmt.Errorf("ошибка получения информации об объекте %s: %w", loc.Key, err)
	}

	return &ObjectInfo{
		Size:        info.Size,
		ContentType: info.ContentType,
		ModTime:     info.LastModified,
	}, nil
}

// List перечисляет объекты с заданным префиксом ключа.
func (d *RemoteDriver) List(ctx context.Context, prefix string, fn func(model.Locator) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for obj := range d.client.ListObjects(ctx, d.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return fmt.Errorf("ошибка перечисления объектов: %w", wrapErr(obj.Err, prefix))
		}
		if err := fn(model.Locator{Bucket: d.bucket, Key: obj.Key}); err != nil {
			return err
		}
	}
	return nil
}

// Ping проверяет доступность bucket.
func (d *RemoteDriver) Ping(ctx context.Context) error {
	ok, err := d.client.BucketExists(ctx, d.bucket)
	if err != nil {
		return fmt.Errorf("объектное хранилище недоступно: %w", wrapErr(err, d.bucket))
	}
	if !ok {
		return fmt.Errorf("bucket %s не существует", d.bucket)
	}
	return nil
}

// bucketFor возвращает bucket из локатора, либо bucket драйвера
// если локатор его не указывает.
func (d *RemoteDriver) bucketFor(loc model.Locator) string {
	if loc.Bucket != "" {
		return loc.Bucket
	}
	return d.bucket
}
