package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"phone-bridge-backend/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// BlobStore offloads oversized download_file payloads to object storage so
// the command record and the dashboard response stay small. The rewritten
// result carries a presigned GET URL instead of inline base64 bytes.
type BlobStore struct {
	client    *s3.Client
	presign   *s3.PresignClient
	bucket    string
	threshold int
	urlTTL    time.Duration
}

// NewBlobStore creates a new blob store backed by S3 (or a compatible
// endpoint).
func NewBlobStore(ctx context.Context, region, bucket, accessKey, secretKey, endpoint string, threshold int, urlTTL time.Duration) (*BlobStore, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if accessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &BlobStore{
		client:    client,
		presign:   s3.NewPresignClient(client),
		bucket:    bucket,
		threshold: threshold,
		urlTTL:    urlTTL,
	}, nil
}

// Threshold returns the inline-payload size limit in bytes.
func (b *BlobStore) Threshold() int {
	return b.threshold
}

// Offload uploads the decoded file content and rewrites the download result
// to reference it by presigned URL.
func (b *BlobStore) Offload(ctx context.Context, userID, commandID string, dl models.DownloadResult) (json.RawMessage, error) {
	content, err := base64.StdEncoding.DecodeString(dl.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}

	key := fmt.Sprintf("%s/%s/%s", userID, commandID, sanitizeFileName(dl.FileName))

	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String(dl.MimeType),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload payload: %w", err)
	}

	req, err := b.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = b.urlTTL
	})
	if err != nil {
		return nil, fmt.Errorf("failed to presign payload URL: %w", err)
	}

	dl.Data = ""
	dl.URL = req.URL
	rewritten, err := json.Marshal(dl)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rewritten result: %w", err)
	}
	return rewritten, nil
}

func sanitizeFileName(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	if name == "" {
		name = "download"
	}
	return name
}
