// Package storage archives raw knowledge documents in MinIO.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"waris-go/internal/config"
	"waris-go/pkg/log"
)

// MinioClient is the shared MinIO client instance.
var MinioClient *minio.Client

// InitMinIO initializes the MinIO client and ensures the archive bucket exists.
func InitMinIO(cfg config.MinIOConfig) {
	var err error

	MinioClient, err = minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		log.Fatal("failed to initialize MinIO client", err)
	}

	log.Info("MinIO client initialized")

	ctx := context.Background()
	bucketName := cfg.BucketName
	exists, err := MinioClient.BucketExists(ctx, bucketName)
	if err != nil {
		log.Fatal("failed to check MinIO bucket", err)
	}

	if !exists {
		log.Infof("bucket '%s' does not exist, creating", bucketName)
		err = MinioClient.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{})
		if err != nil {
			log.Fatal("failed to create MinIO bucket", err)
		}
		log.Infof("bucket '%s' created", bucketName)
	} else {
		log.Infof("bucket '%s' already exists", bucketName)
	}
}

// ArchiveKey returns the object key under which a document source is archived.
func ArchiveKey(source string) string {
	return fmt.Sprintf("knowledge/%s", source)
}

// ArchiveDocument stores the raw document bytes and returns the object key.
func ArchiveDocument(ctx context.Context, bucketName, source, contentType string, data []byte) (string, error) {
	key := ArchiveKey(source)
	_, err := MinioClient.PutObject(ctx, bucketName, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("failed to archive document %s: %w", source, err)
	}
	return key, nil
}

// FetchDocument downloads an archived document into memory.
func FetchDocument(ctx context.Context, bucketName, key string) ([]byte, error) {
	object, err := MinioClient.GetObject(ctx, bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch object %s: %w", key, err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return data, nil
}

// RemoveDocument deletes an archived document.
func RemoveDocument(ctx context.Context, bucketName, key string) error {
	return MinioClient.RemoveObject(ctx, bucketName, key, minio.RemoveObjectOptions{})
}

// GetPresignedURL generates a presigned URL for a given object.
func GetPresignedURL(bucketName, objectName string, expiry time.Duration) (string, error) {
	presignedURL, err := MinioClient.PresignedGetObject(context.Background(), bucketName, objectName, expiry, nil)
	if err != nil {
		log.Errorf("error generating presigned URL: %s", err)
		return "", err
	}
	return presignedURL.String(), nil
}
