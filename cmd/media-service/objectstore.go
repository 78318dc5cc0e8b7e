package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type minioObjectStore struct {
	client     *minio.Client
	bucket     string
	publicBase string
}

func newObjectStore(ctx context.Context, cfg config) (*minioObjectStore, error) {
	client, err := minio.New(cfg.minioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.minioAccessKey, cfg.minioSecretKey, ""),
		Secure: cfg.minioUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client init failed: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.minioBucket)
	if err != nil {
		return nil, fmt.Errorf("bucket check failed: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.minioBucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("bucket create failed: %w", err)
		}
		logger.Info("bucket created", "bucket", cfg.minioBucket)
	}

	publicBase := strings.TrimRight(cfg.publicBaseURL, "/")
	if publicBase == "" {
		scheme := "http"
		if cfg.minioUseSSL {
			scheme = "https"
		}
		publicBase = fmt.Sprintf("%s://%s", scheme, cfg.minioEndpoint)
	}

	return &minioObjectStore{client: client, bucket: cfg.minioBucket, publicBase: publicBase}, nil
}

func (s *minioObjectStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("%w: key=%s: %v", ErrStorageWrite, key, err)
	}
	return fmt.Sprintf("%s/%s/%s", s.publicBase, s.bucket, key), nil
}

func (s *minioObjectStore) Delete(ctx context.Context, key string) error {
	return s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
}

// KeyFor derives the deterministic storage key for a variant. Extension is
// normalized to lowercase without a leading dot, defaulting to jpg.
func (s *minioObjectStore) KeyFor(id, variant, ext string) string {
	return objectKey(id, variant, ext)
}

func objectKey(id, variant, ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	if ext == "" {
		ext = "jpg"
	}
	return fmt.Sprintf("%s/%s.%s", variant, id, ext)
}
