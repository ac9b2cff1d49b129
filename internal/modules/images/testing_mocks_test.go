package images

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) FindByFingerprint(ctx context.Context, fingerprint string) (*Image, error) {
	args := m.Called(ctx, fingerprint)
	img, _ := args.Get(0).(*Image)
	return img, args.Error(1)
}

func (m *mockRepository) Insert(ctx context.Context, img *Image) error {
	args := m.Called(ctx, img)
	return args.Error(0)
}

func (m *mockRepository) GetByID(ctx context.Context, id string) (*Image, error) {
	args := m.Called(ctx, id)
	img, _ := args.Get(0).(*Image)
	return img, args.Error(1)
}

func (m *mockRepository) List(ctx context.Context, limit int) ([]Image, error) {
	args := m.Called(ctx, limit)
	images, _ := args.Get(0).([]Image)
	return images, args.Error(1)
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	args := m.Called(ctx, key, reader, size, contentType)
	return args.Error(0)
}

func (m *mockStore) PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	args := m.Called(ctx, key, ttl)
	return args.String(0), args.Error(1)
}

type mockAnnotator struct {
	mock.Mock
}

func (m *mockAnnotator) Annotate(ctx context.Context, image []byte, mimeType string) (string, error) {
	args := m.Called(ctx, image, mimeType)
	return args.String(0), args.Error(1)
}

type mockService struct {
	mock.Mock
}

func (m *mockService) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*UploadResult)
	return res, args.Error(1)
}

func (m *mockService) GetImage(ctx context.Context, id string) (*UploadResult, error) {
	args := m.Called(ctx, id)
	res, _ := args.Get(0).(*UploadResult)
	return res, args.Error(1)
}

func (m *mockService) ListImages(ctx context.Context, limit int) ([]Image, error) {
	args := m.Called(ctx, limit)
	images, _ := args.Get(0).([]Image)
	return images, args.Error(1)
}

// memRepository mimics the images table, including the unique fingerprint constraint.
type memRepository struct {
	mu      sync.Mutex
	records map[string]Image

	// findBarrier, when set, holds the first findPending FindByFingerprint
	// callers until all of them have looked the fingerprint up.
	findBarrier *sync.WaitGroup
	findPending int
}

func newMemRepository() *memRepository {
	return &memRepository{records: map[string]Image{}}
}

func (r *memRepository) FindByFingerprint(_ context.Context, fingerprint string) (*Image, error) {
	r.mu.Lock()
	img, ok := r.records[fingerprint]
	barrier := r.findBarrier
	if barrier != nil {
		r.findPending--
		if r.findPending == 0 {
			r.findBarrier = nil
		}
	}
	r.mu.Unlock()

	if barrier != nil {
		barrier.Done()
		barrier.Wait()
	}
	if !ok {
		return nil, nil
	}
	return &img, nil
}

func (r *memRepository) Insert(_ context.Context, img *Image) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[img.Fingerprint]; ok {
		return ErrDuplicateFingerprint
	}
	img.ID = uuid.NewString()
	img.CreatedAt = time.Now().UTC()
	r.records[img.Fingerprint] = *img
	return nil
}

func (r *memRepository) GetByID(_ context.Context, id string) (*Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, img := range r.records {
		if img.ID == id {
			return &img, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memRepository) List(_ context.Context, limit int) ([]Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Image
	for _, img := range r.records {
		if len(out) == limit {
			break
		}
		out = append(out, img)
	}
	return out, nil
}

func (r *memRepository) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// memStore records every object write.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	writes  []string
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (s *memStore) Upload(_ context.Context, key string, reader io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	s.writes = append(s.writes, key)
	return nil
}

func (s *memStore) PresignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "http://minio.local/images/" + key + "?X-Amz-Signature=test", nil
}

func (s *memStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

func jpegBytes(t *testing.T, w, h int, seed uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x) + seed, G: uint8(y), B: seed, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func uploadRequest(data []byte, filename, metadata string) UploadRequest {
	return UploadRequest{
		Filename:    filename,
		ContentType: "image/jpeg",
		Body:        bytes.NewReader(data),
		Metadata:    []byte(metadata),
	}
}
