package storage

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound is returned when the object or its bucket does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStorage is the object store surface used for verdict archives.
type ObjectStorage interface {
	// EnsureBucket creates bucket when it does not exist yet.
	EnsureBucket(ctx context.Context, bucket string) error

	PutObject(ctx context.Context, bucket, objectKey string, reader io.Reader, sizeBytes int64, contentType string) error

	// GetObject opens a reader for an object. Caller must close it.
	GetObject(ctx context.Context, bucket, objectKey string) (io.ReadCloser, error)

	StatObject(ctx context.Context, bucket, objectKey string) (ObjectStat, error)

	RemoveObject(ctx context.Context, bucket, objectKey string) error
}

// ObjectStat contains object metadata.
type ObjectStat struct {
	SizeBytes   int64
	ETag        string
	ContentType string
}
