// Package storage provides S3-compatible object storage for intake photos.
// Customers attach damage photos to service requests; the intake module
// stores them here and keeps only the file keys on the transaction.
package storage

import (
	"context"
	"io"
	"time"
)

// PresignedURL contains the URL and metadata for a presigned download.
type PresignedURL struct {
	URL       string    `json:"url"`
	FileKey   string    `json:"fileKey"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// PhotoStore defines the operations the intake flow needs from object storage.
type PhotoStore interface {
	// UploadPhoto stores a photo under the given folder and returns the file key.
	UploadPhoto(ctx context.Context, bucket, folder, fileName, contentType string, reader io.Reader, size int64) (string, error)

	// GenerateDownloadURL creates a presigned URL for viewing a stored photo.
	GenerateDownloadURL(ctx context.Context, bucket, fileKey string) (*PresignedURL, error)

	// DeleteObject removes a stored photo.
	DeleteObject(ctx context.Context, bucket, fileKey string) error

	// EnsureBucketExists creates the bucket if it doesn't exist.
	EnsureBucketExists(ctx context.Context, bucket string) error

	// ValidateContentType checks that the upload is an accepted photo type.
	ValidateContentType(contentType string) error

	// ValidateFileSize checks that the upload is within the size limit.
	ValidateFileSize(sizeBytes int64) error
}
