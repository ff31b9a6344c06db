// Package objectstore stores uploaded documents in an S3-compatible bucket.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/compliance-armada/internal/domain/document"
	"github.com/ahrav/compliance-armada/internal/infra/storage"
)

const nameMetaKey = "Document-Name"

// Config identifies the bucket and credentials.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// Prefix is prepended to every object key.
	Prefix string
}

var _ document.Store = (*Store)(nil)

// Store keeps documents as objects keyed by reference.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
	tracer trace.Tracer
}

// NewStore connects to the object store and creates the bucket when it
// does not exist.
func NewStore(ctx context.Context, cfg Config, tracer trace.Tracer) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %q: %w", cfg.Bucket, err)
		}
	}

	return &Store{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix, tracer: tracer}, nil
}

func (s *Store) key(ref string) string { return path.Join(s.prefix, ref) }

// Put uploads content under a new reference. The original name travels as
// object metadata.
func (s *Store) Put(ctx context.Context, name string, content []byte) (string, error) {
	ref := uuid.NewString()
	attrs := []attribute.KeyValue{
		attribute.String("bucket", s.bucket),
		attribute.String("document_ref", ref),
		attribute.Int("size", len(content)),
	}

	err := storage.ExecuteAndTrace(ctx, s.tracer, "objectstore.put_document", attrs, func(ctx context.Context) error {
		_, err := s.client.PutObject(ctx, s.bucket, s.key(ref), bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{
			ContentType:  "text/plain; charset=utf-8",
			UserMetadata: map[string]string{nameMetaKey: name},
		})
		if err != nil {
			return fmt.Errorf("failed to upload document: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return ref, nil
}

// Fetch downloads the document stored under ref.
func (s *Store) Fetch(ctx context.Context, ref string) (document.Document, error) {
	attrs := []attribute.KeyValue{
		attribute.String("bucket", s.bucket),
		attribute.String("document_ref", ref),
	}

	var doc document.Document
	err := storage.ExecuteAndTrace(ctx, s.tracer, "objectstore.fetch_document", attrs, func(ctx context.Context) error {
		obj, err := s.client.GetObject(ctx, s.bucket, s.key(ref), minio.GetObjectOptions{})
		if err != nil {
			return fmt.Errorf("failed to open document: %w", err)
		}
		defer obj.Close()

		info, err := obj.Stat()
		if err != nil {
			if minio.ToErrorResponse(err).Code == "NoSuchKey" {
				return fmt.Errorf("%w: %s", document.ErrDocumentNotFound, ref)
			}
			return fmt.Errorf("failed to stat document: %w", err)
		}

		content, err := io.ReadAll(obj)
		if err != nil {
			return fmt.Errorf("failed to read document: %w", err)
		}
		doc = document.New(info.UserMetadata[nameMetaKey], content)
		return nil
	})
	return doc, err
}

// Delete removes the object stored under ref.
func (s *Store) Delete(ctx context.Context, ref string) error {
	attrs := []attribute.KeyValue{
		attribute.String("bucket", s.bucket),
		attribute.String("document_ref", ref),
	}
	return storage.ExecuteAndTrace(ctx, s.tracer, "objectstore.delete_document", attrs, func(ctx context.Context) error {
		if err := s.client.RemoveObject(ctx, s.bucket, s.key(ref), minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("failed to delete document: %w", err)
		}
		return nil
	})
}
