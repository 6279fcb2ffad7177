// Package storage uploads invoice artifacts to object storage.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"invoice-split/pkg/errdefs"
)

// Content types of the two artifact kinds.
const (
	ContentTypePDF  = "application/pdf"
	ContentTypeJSON = "application/json"
)

// Store puts one object under key.
type Store interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

// Key returns the object key of an artifact: invoices/{attachmentID}/{filename}.
func Key(attachmentID int64, filename string) string {
	return path.Join("invoices", strconv.FormatInt(attachmentID, 10), filename)
}

type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 stores objects in one bucket.
type S3 struct {
	api    putObjectAPI
	bucket string
}

// NewS3 loads the default AWS credential chain and returns a bucket store.
func NewS3(ctx context.Context, bucket string) (*S3, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &S3{api: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

// Put uploads body to s3://bucket/key.
func (s *S3) Put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3 %s: %v: %w", key, err, errdefs.ErrGateway)
	}
	return nil
}

// Local stores objects as files below a root directory. It stands in for S3
// when no bucket is configured.
type Local struct {
	root string
}

// NewLocal returns a directory store rooted at root.
func NewLocal(root string) *Local {
	return &Local{root: root}
}

// Put writes body to {root}/{key}. The content type is not kept.
func (l *Local) Put(_ context.Context, key string, body []byte, _ string) error {
	clean := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("invalid object key %q: %w", key, errdefs.ErrGateway)
	}
	dst := filepath.Join(l.root, clean)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("store %s: %v: %w", key, err, errdefs.ErrGateway)
	}
	if err := os.WriteFile(dst, body, 0o644); err != nil {
		return fmt.Errorf("store %s: %v: %w", key, err, errdefs.ErrGateway)
	}
	return nil
}
