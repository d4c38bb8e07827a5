// Package storage publishes pipeline outputs to S3-compatible object storage.
package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"duckflow/internal/config"
	"duckflow/internal/domain"
)

var _ domain.ObjectStore = (*S3Store)(nil)

// putObjectAPI is the subset of the S3 client used for uploads.
type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store uploads files and presigns downloads against one S3 endpoint.
type S3Store struct {
	client  putObjectAPI
	presign *s3.PresignClient
	bucket  string
}

// NewS3Store creates a store configured for S3-compatible storage with
// path-style addressing.
func NewS3Store(cfg *config.Config) (*S3Store, error) {
	if !cfg.HasS3Config() {
		return nil, fmt.Errorf("S3 config is incomplete")
	}

	endpoint := *cfg.S3Endpoint
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}

	client := s3.New(s3.Options{
		Region: *cfg.S3Region,
		Credentials: credentials.NewStaticCredentialsProvider(
			*cfg.S3KeyID, *cfg.S3Secret, "",
		),
		BaseEndpoint: aws.String(endpoint),
		UsePathStyle: true,
	})

	bucket := "duckflow"
	if cfg.S3Bucket != nil {
		bucket = *cfg.S3Bucket
	}

	return &S3Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  bucket,
	}, nil
}

// Bucket returns the default bucket.
func (s *S3Store) Bucket() string { return s.bucket }

// Upload copies the file at localPath to uri ("s3://bucket/key").
func (s *S3Store) Upload(ctx context.Context, localPath, uri string) error {
	bucket, key, err := ParseS3Path(uri)
	if err != nil {
		return err
	}

	f, err := os.Open(localPath) //nolint:gosec // path comes from the executor's temp dir
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close() //nolint:errcheck

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", uri, err)
	}
	return nil
}

// PresignGetObject returns a time-limited download URL for uri.
func (s *S3Store) PresignGetObject(ctx context.Context, uri string, expiry time.Duration) (string, error) {
	bucket, key, err := ParseS3Path(uri)
	if err != nil {
		return "", err
	}
	result, err := s.presign.PresignGetObject(ctx,
		&s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		},
		s3.WithPresignExpires(expiry),
	)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", uri, err)
	}
	return result.URL, nil
}

// IsS3Path reports whether path is an s3:// URI.
func IsS3Path(path string) bool {
	return strings.HasPrefix(path, "s3://")
}

// ParseS3Path splits "s3://bucket/key" into its bucket and key.
func ParseS3Path(s3Path string) (bucket, key string, err error) {
	u, err := url.Parse(s3Path)
	if err != nil {
		return "", "", fmt.Errorf("parse S3 path %q: %w", s3Path, err)
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("expected s3:// scheme, got %q in %q", u.Scheme, s3Path)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("S3 path %q needs both bucket and key", s3Path)
	}
	return bucket, key, nil
}
