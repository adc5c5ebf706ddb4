package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/goccy/go-json"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"FeeSync/internal/config"
	"FeeSync/internal/domain"
	"FeeSync/internal/ports"
)

// MinioArchive uploads run reports to an S3-compatible bucket.
type MinioArchive struct {
	client *minio.Client
	bucket string
}

var _ ports.ReportArchive = (*MinioArchive)(nil)

// NewMinioArchive connects to the endpoint and makes sure the bucket exists.
func NewMinioArchive(ctx context.Context, cfg config.MinioConfig) (*MinioArchive, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &MinioArchive{client: client, bucket: cfg.Bucket}, nil
}

// StoreReport writes the report as JSON and returns its object key.
func (a *MinioArchive) StoreReport(ctx context.Context, report domain.RunReport) (string, error) {
	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}

	key := ReportKey(report)
	_, err = a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("put object %s/%s: %w", a.bucket, key, err)
	}
	return key, nil
}

// ReportKey is runs/<date>/<run id>.json, dated by the run start in UTC.
func ReportKey(report domain.RunReport) string {
	return path.Join("runs", report.StartedAt.UTC().Format("2006-01-02"), report.RunID+".json")
}
