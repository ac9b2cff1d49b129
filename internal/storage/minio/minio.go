package minio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"github.com/mamed-gasimov/image-service/internal/storage"
)

// UploaderTag is stored as user metadata on every object this service writes.
const UploaderTag = "image_api"

// compile-time check that Client satisfies the ObjectStore interface.
var _ storage.ObjectStore = (*Client)(nil)

// bucketAPI is the subset of *minio.Client the gateway uses.
type bucketAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
}

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool

	// RetryAttempts caps bucket creation attempts; RetryBaseDelay doubles after each failure.
	RetryAttempts  int
	RetryBaseDelay time.Duration
}

// Client wraps the MinIO SDK and implements storage.ObjectStore.
type Client struct {
	api            bucketAPI
	bucket         string
	region         string
	retryAttempts  int
	retryBaseDelay time.Duration
	log            zerolog.Logger
}

// New creates a new MinIO storage client. It does not touch the network;
// call EnsureBucket before serving.
func New(opts Options, logger zerolog.Logger) (*Client, error) {
	mc, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio new client: %w", err)
	}

	return newClient(mc, opts, logger), nil
}

func newClient(api bucketAPI, opts Options, logger zerolog.Logger) *Client {
	attempts := opts.RetryAttempts
	if attempts <= 0 {
		attempts = 5
	}
	delay := opts.RetryBaseDelay
	if delay <= 0 {
		delay = time.Second
	}

	return &Client{
		api:            api,
		bucket:         opts.Bucket,
		region:         opts.Region,
		retryAttempts:  attempts,
		retryBaseDelay: delay,
		log:            logger.With().Str("component", "object_store").Str("bucket", opts.Bucket).Logger(),
	}
}

// EnsureBucket provisions the bucket. It is safe to run from several processes
// at once: a peer creating the bucket first counts as success. Creation
// failures are retried with exponential backoff; the terminal error wraps
// storage.ErrBucketProvision.
func (c *Client) EnsureBucket(ctx context.Context) (storage.BucketState, error) {
	state := storage.BucketChecking

	exists, err := c.api.BucketExists(ctx, c.bucket)
	if err != nil {
		c.log.Error().Err(err).Stringer("state", state).Msg("check bucket failed")
		return storage.BucketFailed, fmt.Errorf("%w: check bucket %q: %w", storage.ErrBucketProvision, c.bucket, err)
	}
	if exists {
		c.log.Info().Msg("bucket already exists")
		return storage.BucketReady, nil
	}

	state = storage.BucketCreating
	attempt := 0
	create := func() error {
		attempt++
		err := c.api.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{Region: c.region})
		switch {
		case err == nil:
			c.log.Info().Int("attempt", attempt).Msg("created bucket")
			return nil
		case isBucketAlreadyExists(err):
			c.log.Info().Int("attempt", attempt).Msg("bucket already exists (created by another process)")
			return nil
		default:
			return err
		}
	}
	notify := func(err error, next time.Duration) {
		c.log.Warn().Err(err).
			Stringer("state", state).
			Int("attempt", attempt).
			Int("max_attempts", c.retryAttempts).
			Dur("retry_in", next).
			Msg("create bucket failed")
	}

	if err := backoff.RetryNotify(create, c.backOff(ctx), notify); err != nil {
		c.log.Error().Err(err).Int("attempts", attempt).Msg("bucket provisioning gave up")
		return storage.BucketFailed, fmt.Errorf("%w: make bucket %q after %d attempts: %w",
			storage.ErrBucketProvision, c.bucket, attempt, err)
	}

	return storage.BucketReady, nil
}

func (c *Client) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.retryBaseDelay
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxInterval = c.retryBaseDelay << uint(c.retryAttempts)
	eb.MaxElapsedTime = 0
	eb.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.retryAttempts-1)), ctx)
}

// isBucketAlreadyExists classifies the S3 error codes a losing creator receives.
func isBucketAlreadyExists(err error) bool {
	var resp minio.ErrorResponse
	if !errors.As(err, &resp) {
		return false
	}
	switch resp.Code {
	case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
		return true
	default:
		return false
	}
}

// Upload streams data from reader directly into MinIO (no buffering to disk).
// Pass size = -1 if content length is unknown.
func (c *Client) Upload(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error {
	opts := minio.PutObjectOptions{
		ContentType: contentType,
		UserMetadata: map[string]string{
			"uploaded_by": UploaderTag,
		},
	}

	_, err := c.api.PutObject(ctx, c.bucket, objectKey, reader, size, opts)
	if err != nil {
		return fmt.Errorf("put object %q: %w", objectKey, err)
	}

	c.log.Debug().Str("key", objectKey).Int64("size", size).Msg("uploaded object")
	return nil
}

// PresignedURL returns a signed GET URL for objectKey valid for ttl.
func (c *Client) PresignedURL(ctx context.Context, objectKey string, ttl time.Duration) (string, error) {
	u, err := c.api.PresignedGetObject(ctx, c.bucket, objectKey, ttl, nil)
	if err != nil {
		return "", fmt.Errorf("presign object %q: %w", objectKey, err)
	}
	return u.String(), nil
}

// Bucket returns the configured bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}
