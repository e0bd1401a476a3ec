// Package storage provides the content.ObjectStore implementations backing
// C1's file resolver: a local filesystem store for development, an S3
// store for production, and a disabled store that rejects every write
// (spec.md 4.1, "absence of object-storage configuration causes an
// explicit 'object storage not configured' error").
package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/tzrouter/gateway/internal/apierror"
)

// Disabled is the zero-value content.ObjectStore: Configured always
// reports false, and Put always fails. Used when the config file carries
// no object_storage block at all.
type Disabled struct{}

func (Disabled) Configured() bool { return false }

func (Disabled) Put(ctx context.Context, sha256Hex, ext string, data []byte) (string, error) {
	return "", apierror.New(apierror.KindObjectStoreUnconfigured, "object storage is not configured")
}

// Filesystem writes files under Root/observability/files/<sha256>.<ext>,
// the layout spec.md section 6 names for persistent artifacts.
type Filesystem struct {
	Root string
}

func (f *Filesystem) Configured() bool { return f.Root != "" }

func (f *Filesystem) Put(ctx context.Context, sha256Hex, ext string, data []byte) (string, error) {
	if !f.Configured() {
		return "", apierror.New(apierror.KindObjectStoreUnconfigured, "object storage is not configured")
	}

	relPath := filepath.Join("observability", "files", sha256Hex+extSuffix(ext))
	fullPath := filepath.Join(f.Root, relPath)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("storage: creating directory for %s: %w", relPath, err)
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return "", fmt.Errorf("storage: writing %s: %w", relPath, err)
	}
	return relPath, nil
}

// S3 writes files to a single bucket/prefix using the same
// observability/files/<sha256>.<ext> key layout as Filesystem, via the AWS
// SDK client bedrock's adapter already brings into the dependency graph.
type S3 struct {
	Client *s3.Client
	Bucket string
	Prefix string
}

func (s *S3) Configured() bool { return s.Client != nil && s.Bucket != "" }

func (s *S3) Put(ctx context.Context, sha256Hex, ext string, data []byte) (string, error) {
	if !s.Configured() {
		return "", apierror.New(apierror.KindObjectStoreUnconfigured, "object storage is not configured")
	}

	key := filepath.Join(s.Prefix, "observability", "files", sha256Hex+extSuffix(ext))
	_, err := s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("storage: putting s3://%s/%s: %w", s.Bucket, key, err)
	}
	return fmt.Sprintf("s3://%s/%s", s.Bucket, key), nil
}

func extSuffix(ext string) string {
	if ext == "" {
		return ""
	}
	if ext[0] == '.' {
		return ext
	}
	return "." + ext
}
