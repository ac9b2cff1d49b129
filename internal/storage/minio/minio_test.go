package minio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/mamed-gasimov/image-service/internal/storage"
)

// fakeBackend is an in-memory S3 stand-in shared by every client in a test,
// the way several processes share one MinIO deployment.
type fakeBackend struct {
	mu      sync.Mutex
	buckets map[string]bool
	objects map[string][]byte
	meta    map[string]minio.PutObjectOptions

	makeCalls int
	// makeErrs are returned by successive MakeBucket calls before normal behaviour resumes.
	makeErrs   []error
	existsErr  error
	putErr     error
	presignErr error

	// existsBarrier, when set, holds every BucketExists caller until all of
	// them have observed the bucket as missing.
	existsBarrier *sync.WaitGroup
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		buckets: map[string]bool{},
		objects: map[string][]byte{},
		meta:    map[string]minio.PutObjectOptions{},
	}
}

func (f *fakeBackend) BucketExists(_ context.Context, bucket string) (bool, error) {
	f.mu.Lock()
	exists, err := f.buckets[bucket], f.existsErr
	f.mu.Unlock()

	if f.existsBarrier != nil {
		f.existsBarrier.Done()
		f.existsBarrier.Wait()
	}
	return exists, err
}

func (f *fakeBackend) MakeBucket(_ context.Context, bucket string, _ minio.MakeBucketOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.makeCalls++
	if len(f.makeErrs) > 0 {
		err := f.makeErrs[0]
		f.makeErrs = f.makeErrs[1:]
		return err
	}
	if f.buckets[bucket] {
		return minio.ErrorResponse{Code: "BucketAlreadyOwnedByYou", StatusCode: 409, BucketName: bucket}
	}
	f.buckets[bucket] = true
	return nil
}

func (f *fakeBackend) PutObject(_ context.Context, bucket, key string, reader io.Reader, _ int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.putErr != nil {
		return minio.UploadInfo{}, f.putErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[bucket+"/"+key] = data
	f.meta[bucket+"/"+key] = opts
	return minio.UploadInfo{Bucket: bucket, Key: key, Size: int64(len(data))}, nil
}

func (f *fakeBackend) PresignedGetObject(_ context.Context, bucket, key string, expires time.Duration, _ url.Values) (*url.URL, error) {
	if f.presignErr != nil {
		return nil, f.presignErr
	}
	return &url.URL{
		Scheme:   "http",
		Host:     "minio.local",
		Path:     "/" + bucket + "/" + key,
		RawQuery: "X-Amz-Expires=" + expires.String(),
	}, nil
}

func testOptions() Options {
	return Options{
		Bucket:         "images",
		RetryAttempts:  5,
		RetryBaseDelay: time.Millisecond,
	}
}

func TestEnsureBucket_AlreadyExists(t *testing.T) {
	backend := newFakeBackend()
	backend.buckets["images"] = true
	client := newClient(backend, testOptions(), zerolog.Nop())

	state, err := client.EnsureBucket(context.Background())

	require.NoError(t, err)
	assert.Equal(t, storage.BucketReady, state)
	assert.Zero(t, backend.makeCalls)
}

func TestEnsureBucket_CreatesMissingBucket(t *testing.T) {
	backend := newFakeBackend()
	client := newClient(backend, testOptions(), zerolog.Nop())

	state, err := client.EnsureBucket(context.Background())

	require.NoError(t, err)
	assert.Equal(t, storage.BucketReady, state)
	assert.Equal(t, 1, backend.makeCalls)
	assert.True(t, backend.buckets["images"])
}

func TestEnsureBucket_CheckErrorIsTerminal(t *testing.T) {
	backend := newFakeBackend()
	backend.existsErr = errors.New("access denied")
	client := newClient(backend, testOptions(), zerolog.Nop())

	state, err := client.EnsureBucket(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrBucketProvision)
	assert.Equal(t, storage.BucketFailed, state)
	assert.Zero(t, backend.makeCalls)
}

func TestEnsureBucket_AlreadyExistsCodesCountAsReady(t *testing.T) {
	for _, code := range []string{"BucketAlreadyOwnedByYou", "BucketAlreadyExists"} {
		t.Run(code, func(t *testing.T) {
			backend := newFakeBackend()
			backend.makeErrs = []error{minio.ErrorResponse{Code: code, StatusCode: 409}}
			client := newClient(backend, testOptions(), zerolog.Nop())

			state, err := client.EnsureBucket(context.Background())

			require.NoError(t, err)
			assert.Equal(t, storage.BucketReady, state)
			assert.Equal(t, 1, backend.makeCalls)
		})
	}
}

func TestEnsureBucket_RetriesTransientFailures(t *testing.T) {
	backend := newFakeBackend()
	transient := minio.ErrorResponse{Code: "SlowDown", StatusCode: 503}
	backend.makeErrs = []error{transient, transient, errors.New("connection reset")}
	client := newClient(backend, testOptions(), zerolog.Nop())

	state, err := client.EnsureBucket(context.Background())

	require.NoError(t, err)
	assert.Equal(t, storage.BucketReady, state)
	assert.Equal(t, 4, backend.makeCalls)
}

func TestEnsureBucket_GivesUpAfterAttemptCap(t *testing.T) {
	backend := newFakeBackend()
	for i := 0; i < 10; i++ {
		backend.makeErrs = append(backend.makeErrs, errors.New("internal error"))
	}
	client := newClient(backend, testOptions(), zerolog.Nop())

	state, err := client.EnsureBucket(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrBucketProvision)
	assert.Contains(t, err.Error(), "internal error")
	assert.Equal(t, storage.BucketFailed, state)
	assert.Equal(t, 5, backend.makeCalls)
}

func TestEnsureBucket_ConcurrentProvisioningConverges(t *testing.T) {
	const peers = 8

	backend := newFakeBackend()
	backend.existsBarrier = &sync.WaitGroup{}
	backend.existsBarrier.Add(peers)

	states := make([]storage.BucketState, peers)
	var g errgroup.Group
	for i := 0; i < peers; i++ {
		i := i
		client := newClient(backend, testOptions(), zerolog.Nop())
		g.Go(func() error {
			state, err := client.EnsureBucket(context.Background())
			states[i] = state
			return err
		})
	}

	require.NoError(t, g.Wait())
	for _, state := range states {
		assert.Equal(t, storage.BucketReady, state)
	}
	assert.Len(t, backend.buckets, 1)
	assert.Equal(t, peers, backend.makeCalls)
}

func TestEnsureBucket_SecondCreatorSeesAlreadyExists(t *testing.T) {
	backend := newFakeBackend()
	backend.existsBarrier = &sync.WaitGroup{}
	backend.existsBarrier.Add(2)

	first := newClient(backend, testOptions(), zerolog.Nop())
	second := newClient(backend, testOptions(), zerolog.Nop())

	var g errgroup.Group
	var firstState, secondState storage.BucketState
	g.Go(func() (err error) {
		firstState, err = first.EnsureBucket(context.Background())
		return err
	})
	g.Go(func() (err error) {
		secondState, err = second.EnsureBucket(context.Background())
		return err
	})

	require.NoError(t, g.Wait())
	assert.Equal(t, storage.BucketReady, firstState)
	assert.Equal(t, storage.BucketReady, secondState)
	assert.Equal(t, 2, backend.makeCalls)
	assert.True(t, backend.buckets["images"])
}

func TestEnsureBucket_ContextCancelledStopsRetrying(t *testing.T) {
	backend := newFakeBackend()
	for i := 0; i < 10; i++ {
		backend.makeErrs = append(backend.makeErrs, errors.New("unavailable"))
	}
	opts := testOptions()
	opts.RetryBaseDelay = time.Hour
	client := newClient(backend, opts, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	state, err := client.EnsureBucket(ctx)

	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrBucketProvision)
	assert.Equal(t, storage.BucketFailed, state)
	assert.Equal(t, 1, backend.makeCalls)
}

func TestUpload_TagsObject(t *testing.T) {
	backend := newFakeBackend()
	client := newClient(backend, testOptions(), zerolog.Nop())

	err := client.Upload(context.Background(), "images/abc_cat.png", bytes.NewReader([]byte("png")), 3, "image/png")

	require.NoError(t, err)
	assert.Equal(t, []byte("png"), backend.objects["images/images/abc_cat.png"])
	opts := backend.meta["images/images/abc_cat.png"]
	assert.Equal(t, "image/png", opts.ContentType)
	assert.Equal(t, UploaderTag, opts.UserMetadata["uploaded_by"])
}

func TestUpload_PropagatesErrors(t *testing.T) {
	backend := newFakeBackend()
	backend.putErr = minio.ErrorResponse{Code: "InvalidAccessKeyId", StatusCode: 403}
	client := newClient(backend, testOptions(), zerolog.Nop())

	err := client.Upload(context.Background(), "images/k", bytes.NewReader(nil), 0, "image/png")

	require.Error(t, err)
	var resp minio.ErrorResponse
	require.ErrorAs(t, err, &resp)
	assert.Equal(t, "InvalidAccessKeyId", resp.Code)
}

func TestPresignedURL(t *testing.T) {
	backend := newFakeBackend()
	client := newClient(backend, testOptions(), zerolog.Nop())

	u, err := client.PresignedURL(context.Background(), "images/abc_cat.png", time.Hour)
	require.NoError(t, err)
	assert.Contains(t, u, "/images/images/abc_cat.png")

	backend.presignErr = errors.New("no credentials")
	_, err = client.PresignedURL(context.Background(), "images/abc_cat.png", time.Hour)
	assert.Error(t, err)
}

func TestIsBucketAlreadyExists(t *testing.T) {
	assert.True(t, isBucketAlreadyExists(minio.ErrorResponse{Code: "BucketAlreadyExists"}))
	assert.False(t, isBucketAlreadyExists(minio.ErrorResponse{Code: "AccessDenied"}))
	assert.False(t, isBucketAlreadyExists(errors.New("BucketAlreadyExists")))
}

func TestBucketState_String(t *testing.T) {
	assert.Equal(t, "READY", storage.BucketReady.String())
	assert.Equal(t, "FAILED", storage.BucketFailed.String())
	assert.Equal(t, "UNKNOWN", storage.BucketState(42).String())
}
