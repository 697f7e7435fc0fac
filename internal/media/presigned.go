package media

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MediaService handles presigned URL generation for media uploads/downloads.
// Media is encrypted client-side before upload - the server and the object
// store only ever see ciphertext.
type MediaService struct {
	client *minio.Client
	bucket string
}

// UploadURLResult contains the presigned upload URL and metadata
type UploadURLResult struct {
	MediaID   uuid.UUID `json:"media_id"`
	UploadURL string    `json:"upload_url"`
	ExpiresIn int       `json:"expires_in"` // seconds
}

// DownloadURLResult contains the presigned download URL
type DownloadURLResult struct {
	MediaID     uuid.UUID `json:"media_id"`
	DownloadURL string    `json:"download_url"`
	ExpiresIn   int       `json:"expires_in"`
}

// NewMediaService creates a new media service and ensures the bucket exists.
func NewMediaService(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MediaService, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, err
		}
	}

	return &MediaService{
		client: client,
		bucket: bucket,
	}, nil
}

// GenerateUploadURL creates a presigned PUT URL for direct client upload.
// The client uploads encrypted bytes directly to blob storage.
func (m *MediaService) GenerateUploadURL() (*UploadURLResult, error) {
	mediaID := uuid.New()
	objectName := fmt.Sprintf("media/%s", mediaID.String())

	expiry := 15 * time.Minute
	presignedURL, err := m.client.PresignedPutObject(
		context.Background(),
		m.bucket,
		objectName,
		expiry,
	)
	if err != nil {
		return nil, err
	}

	return &UploadURLResult{
		MediaID:   mediaID,
		UploadURL: presignedURL.String(),
		ExpiresIn: int(expiry.Seconds()),
	}, nil
}

// GenerateDownloadURL creates a presigned GET URL for client download.
func (m *MediaService) GenerateDownloadURL(mediaID uuid.UUID) (*DownloadURLResult, error) {
	objectName := fmt.Sprintf("media/%s", mediaID.String())

	expiry := 1 * time.Hour
	presignedURL, err := m.client.PresignedGetObject(
		context.Background(),
		m.bucket,
		objectName,
		expiry,
		url.Values{},
	)
	if err != nil {
		return nil, err
	}

	return &DownloadURLResult{
		MediaID:     mediaID,
		DownloadURL: presignedURL.String(),
		ExpiresIn:   int(expiry.Seconds()),
	}, nil
}

// DeleteMedia removes media from storage
func (m *MediaService) DeleteMedia(mediaID uuid.UUID) error {
	objectName := fmt.Sprintf("media/%s", mediaID.String())
	return m.client.RemoveObject(
		context.Background(),
		m.bucket,
		objectName,
		minio.RemoveObjectOptions{},
	)
}

// GetMediaInfo returns metadata about stored media (size, last modified)
func (m *MediaService) GetMediaInfo(mediaID uuid.UUID) (map[string]interface{}, error) {
	objectName := fmt.Sprintf("media/%s", mediaID.String())

	info, err := m.client.StatObject(
		context.Background(),
		m.bucket,
		objectName,
		minio.StatObjectOptions{},
	)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"media_id":      mediaID,
		"size":          info.Size,
		"content_type":  info.ContentType,
		"last_modified": info.LastModified,
		"etag":          info.ETag,
	}, nil
}
