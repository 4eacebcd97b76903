package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/your-org/streamcore/internal/config"
)

// ReportPrefix is the object prefix for archived health sweep reports.
const ReportPrefix = "health-reports/"

// MinIOStore archives health sweep reports as JSON objects. Keys sort
// chronologically: health-reports/YYYY/MM/DD/<RFC3339 basic>.json.
type MinIOStore struct {
	client *minio.Client
	bucket string
}

func NewMinIOStore(cfg config.MinIOConfig) (*MinIOStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &MinIOStore{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (s *MinIOStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}
	return nil
}

// ReportKey is the object key for a report finished at t.
func ReportKey(t time.Time) string {
	t = t.UTC()
	return ReportPrefix + t.Format("2006/01/02/") + t.Format("20060102T150405.000Z") + ".json"
}

// SaveReport stores an encoded sweep report and returns its key.
func (s *MinIOStore) SaveReport(ctx context.Context, finishedAt time.Time, data []byte) (string, error) {
	key := ReportKey(finishedAt)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("put report %s: %w", key, err)
	}
	return key, nil
}

// LatestReport returns the newest archived report. data is nil when the
// archive is empty.
func (s *MinIOStore) LatestReport(ctx context.Context) (data []byte, key string, err error) {
	keys, err := s.reportKeys(ctx)
	if err != nil {
		return nil, "", err
	}
	if len(keys) == 0 {
		return nil, "", nil
	}
	key = keys[len(keys)-1]

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("get report %s: %w", key, err)
	}
	defer obj.Close()

	data, err = io.ReadAll(obj)
	if err != nil {
		return nil, "", fmt.Errorf("read report %s: %w", key, err)
	}
	return data, key, nil
}

// PruneReports deletes all but the newest keep reports and returns how many
// were removed.
func (s *MinIOStore) PruneReports(ctx context.Context, keep int) (int, error) {
	keys, err := s.reportKeys(ctx)
	if err != nil {
		return 0, err
	}
	if keep < 0 || len(keys) <= keep {
		return 0, nil
	}
	stale := keys[:len(keys)-keep]

	objectsCh := make(chan minio.ObjectInfo, len(stale))
	for _, key := range stale {
		objectsCh <- minio.ObjectInfo{Key: key}
	}
	close(objectsCh)
	for result := range s.client.RemoveObjects(ctx, s.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if result.Err != nil {
			return 0, fmt.Errorf("delete report %s: %w", result.ObjectName, result.Err)
		}
	}
	return len(stale), nil
}

func (s *MinIOStore) reportKeys(ctx context.Context) ([]string, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    ReportPrefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list reports: %w", obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Ping checks MinIO connectivity.
func (s *MinIOStore) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}
