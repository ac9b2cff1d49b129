package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrBucketProvision is wrapped by every terminal bucket provisioning failure.
// A process that sees it must not start serving uploads.
var ErrBucketProvision = errors.New("bucket provisioning failed")

// ObjectStore defines an abstraction over object-storage backends (S3 / MinIO / etc.).
type ObjectStore interface {
	// Upload streams the content from reader into the bucket under objectKey.
	// size is the content length (-1 if unknown). Errors are returned as-is; no retry.
	Upload(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error

	// PresignedURL returns a time-limited URL for reading objectKey.
	PresignedURL(ctx context.Context, objectKey string, ttl time.Duration) (string, error)
}

// BucketState is a step of the bucket provisioning state machine.
type BucketState int

const (
	BucketChecking BucketState = iota
	BucketCreating
	BucketReady
	BucketFailed
)

func (s BucketState) String() string {
	switch s {
	case BucketChecking:
		return "CHECKING"
	case BucketCreating:
		return "CREATING"
	case BucketReady:
		return "READY"
	case BucketFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}
