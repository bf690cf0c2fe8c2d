package media

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"marketchat-backend/pkg/config"
	"marketchat-backend/pkg/resilience"
)

// MinioClient wraps the MinIO client with a circuit breaker. Writes are
// never retried here; the caller sees the first failure.
type MinioClient struct {
	client  *minio.Client
	bucket  string
	breaker *resilience.Breaker
}

// NewMinioClient creates a MinIO client for the configured bucket
func NewMinioClient(cfg config.MinIOConfig) (*MinioClient, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &MinioClient{
		client: client,
		bucket: cfg.Bucket,
		breaker: resilience.NewBreaker(resilience.Settings{
			Name:             "minio",
			FailureThreshold: 5,
			OpenTimeout:      30 * time.Second,
			CallTimeout:      90 * time.Second,
		}),
	}, nil
}

// EnsureBucket creates the bucket if it does not exist yet
func (c *MinioClient) EnsureBucket(ctx context.Context) error {
	exists, err := c.client.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := c.client.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// Bucket returns the bucket objects are written to
func (c *MinioClient) Bucket() string {
	return c.bucket
}

// PutObject uploads one object with its content type and user metadata
func (c *MinioClient) PutObject(ctx context.Context, key string, reader io.Reader, size int64, contentType string, metadata map[string]string) error {
	return c.breaker.Execute(ctx, "put_object", func(ctx context.Context) error {
		_, err := c.client.PutObject(ctx, c.bucket, key, reader, size, minio.PutObjectOptions{
			ContentType:  contentType,
			UserMetadata: metadata,
		})
		return err
	})
}

// PresignedGetURL returns a time-limited download URL for key
func (c *MinioClient) PresignedGetURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	var url string
	err := c.breaker.Execute(ctx, "presign_get", func(ctx context.Context) error {
		u, err := c.client.PresignedGetObject(ctx, c.bucket, key, expiry, nil)
		if err != nil {
			return err
		}
		url = u.String()
		return nil
	})
	return url, err
}

// Healthy reports whether the breaker currently lets calls through
func (c *MinioClient) Healthy() bool {
	return c.breaker.State() != resilience.CircuitBreakerOpen
}
