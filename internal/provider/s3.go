package provider

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/therealutkarshpriyadarshi/delivery/internal/config"
	"github.com/therealutkarshpriyadarshi/delivery/pkg/models"
)

// s3Provider serves content from an S3-compatible object store acting as
// a distribution origin.
type s3Provider struct {
	name          string
	client        *minio.Client
	bucket        string
	publicBaseURL string
}

func newS3Provider(cfg config.ProviderConfig) (*s3Provider, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 provider requires endpoint and bucket")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}

	publicBaseURL := cfg.PublicBaseURL
	if publicBaseURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		publicBaseURL = fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket)
	}

	return &s3Provider{
		name:          cfg.Name,
		client:        client,
		bucket:        cfg.Bucket,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}, nil
}

func (p *s3Provider) Name() string {
	return p.name
}

// Probe times a bucket existence check. Object stores report no error
// rate, throughput, or cache statistics, so those fields stay unknown
// rather than being invented.
func (p *s3Provider) Probe(ctx context.Context) (models.ProbeResult, error) {
	start := time.Now()
	exists, err := p.client.BucketExists(ctx, p.bucket)
	latency := float64(time.Since(start).Milliseconds())

	if err != nil {
		return models.ProbeResult{}, fmt.Errorf("probe failed: %w", err)
	}
	if !exists {
		return models.ProbeResult{LatencyMs: latency, ErrorRate: 1.0},
			fmt.Errorf("bucket %q does not exist", p.bucket)
	}

	return models.ProbeResult{LatencyMs: latency}, nil
}

// Push uploads content to the origin bucket and returns the public URL
func (p *s3Provider) Push(ctx context.Context, path string, r io.Reader, size int64) (string, error) {
	objectName := strings.TrimLeft(path, "/")

	_, err := p.client.PutObject(ctx, p.bucket, objectName, r, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload object: %w", err)
	}

	return p.publicBaseURL + "/" + objectName, nil
}

// Purge removes the object from the origin bucket. Removing an object
// that is already gone succeeds, which keeps purge idempotent.
func (p *s3Provider) Purge(ctx context.Context, path string) error {
	objectName := strings.TrimLeft(path, "/")

	err := p.client.RemoveObject(ctx, p.bucket, objectName, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to remove object: %w", err)
	}
	return nil
}
