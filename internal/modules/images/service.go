package images

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mamed-gasimov/image-service/internal/content"
	"github.com/mamed-gasimov/image-service/internal/modules/analysis"
	"github.com/mamed-gasimov/image-service/internal/storage"
)

const (
	defaultContentType = "application/octet-stream"
	defaultListLimit   = 20
	maxListLimit       = 100
)

type repository interface {
	FindByFingerprint(ctx context.Context, fingerprint string) (*Image, error)
	Insert(ctx context.Context, img *Image) error
	GetByID(ctx context.Context, id string) (*Image, error)
	List(ctx context.Context, limit int) ([]Image, error)
}

type service interface {
	Upload(ctx context.Context, req UploadRequest) (*UploadResult, error)
	GetImage(ctx context.Context, id string) (*UploadResult, error)
	ListImages(ctx context.Context, limit int) ([]Image, error)
}

var _ service = (*ImageService)(nil)

type ServiceOptions struct {
	PresignTTL        time.Duration
	AnnotationTimeout time.Duration
}

// ImageService runs the ingestion workflow. It holds no per-request state and
// is safe for concurrent use.
type ImageService struct {
	repo      repository
	storage   storage.ObjectStore
	annotator analysis.Annotator
	validate  *validator.Validate
	opts      ServiceOptions
	log       zerolog.Logger
}

// NewImageService wires the workflow. annotator may be nil.
func NewImageService(repo repository, store storage.ObjectStore, annotator analysis.Annotator, opts ServiceOptions, logger zerolog.Logger) *ImageService {
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = time.Hour
	}
	if opts.AnnotationTimeout <= 0 {
		opts.AnnotationTimeout = 30 * time.Second
	}

	validate := validator.New()
	_ = validate.RegisterValidation("notblank", validators.NotBlank)

	return &ImageService{
		repo:      repo,
		storage:   store,
		annotator: annotator,
		validate:  validate,
		opts:      opts,
		log:       logger.With().Str("component", "image_service").Logger(),
	}
}

// Upload ingests one image. Steps run strictly in order and the duplicate
// check always precedes the object write, so a duplicate never writes
// anything. Errors are *ClientInputError, *ValidationError, *ConflictError,
// *StorageWriteError or *PersistenceError; see Classify.
func (s *ImageService) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if req.Body == nil || req.Filename == "" {
		return nil, &ClientInputError{Reason: "No image file provided", Message: `Please provide an image file with key "image_file"`}
	}
	if !content.AllowedExtension(req.Filename) {
		return nil, &ClientInputError{
			Reason:  "Invalid file type",
			Message: "Allowed file types: " + strings.Join(content.AllowedExtensions(), ", "),
		}
	}
	if len(bytes.TrimSpace(req.Metadata)) == 0 {
		return nil, &ClientInputError{Reason: "No metadata provided", Message: `Please provide metadata as JSON string with key "metadata"`}
	}

	if !content.ValidImage(req.Body) {
		return nil, &ValidationError{Filename: req.Filename}
	}

	meta, err := s.parseMetadata(req.Metadata)
	if err != nil {
		return nil, err
	}

	size, err := streamSize(req.Body)
	if err != nil {
		return nil, fmt.Errorf("measure upload: %w", err)
	}

	fingerprint, err := content.Fingerprint(req.Body)
	if err != nil {
		return nil, fmt.Errorf("fingerprint upload: %w", err)
	}
	log := s.log.With().Str("fingerprint", fingerprint).Logger()

	existing, err := s.repo.FindByFingerprint(ctx, fingerprint)
	if err != nil {
		log.Error().Err(err).Msg("duplicate check failed")
		return nil, &PersistenceError{Op: "check duplicate", Fingerprint: fingerprint, Err: err}
	}
	if existing != nil {
		log.Info().Str("existing_id", existing.ID).Msg("duplicate upload rejected")
		return nil, &ConflictError{Fingerprint: fingerprint, Existing: existing.Summary()}
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}

	annotation := s.annotate(ctx, log, req.Body, contentType)

	key := content.StorageKey(fingerprint, req.Filename)
	log = log.With().Str("key", key).Logger()

	if err := s.storage.Upload(ctx, key, req.Body, size, contentType); err != nil {
		log.Error().Err(err).Msg("object write failed")
		return nil, &StorageWriteError{Fingerprint: fingerprint, Key: key, Err: err}
	}

	img := &Image{
		StorageKey:  key,
		Fingerprint: fingerprint,
		Filename:    content.SanitizeFilename(req.Filename),
		MimeType:    contentType,
		Size:        size,
		Title:       meta.Title,
		Description: meta.Description,
		Annotation:  annotation,
	}

	if err := s.repo.Insert(ctx, img); err != nil {
		if errors.Is(err, ErrDuplicateFingerprint) {
			return nil, s.belatedConflict(ctx, log, fingerprint)
		}
		// The object stays in the bucket without a record until reconciled.
		log.Error().Err(err).Msg("record insert failed, object orphaned")
		return nil, &PersistenceError{Op: "insert record", Fingerprint: fingerprint, Key: key, Err: err}
	}

	result := &UploadResult{Image: *img}
	if url, err := s.storage.PresignedURL(ctx, key, s.opts.PresignTTL); err != nil {
		log.Warn().Err(err).Msg("failed to generate download URL")
	} else {
		result.DownloadURL = url
	}

	log.Info().
		Str("id", img.ID).
		Str("filename", img.Filename).
		Int64("size", size).
		Bool("annotated", annotation != nil).
		Msg("image uploaded")

	return result, nil
}

func (s *ImageService) parseMetadata(raw []byte) (*Metadata, error) {
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, &ClientInputError{Reason: "Invalid metadata format", Message: "Metadata must be valid JSON"}
	}

	if err := s.validate.Struct(&meta); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			fields := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				fields = append(fields, strings.ToLower(fe.Field()))
			}
			return nil, &ClientInputError{
				Reason:  "Missing required metadata",
				Message: `Metadata must contain non-empty "title" and "description" (missing: ` + strings.Join(fields, ", ") + ")",
			}
		}
		return nil, fmt.Errorf("validate metadata: %w", err)
	}

	return &meta, nil
}

// annotate asks the optional annotator for a description. Every failure,
// including a timeout, yields nil.
func (s *ImageService) annotate(ctx context.Context, log zerolog.Logger, body io.ReadSeeker, contentType string) *string {
	if s.annotator == nil {
		return nil
	}

	data, err := readAllFromStart(body)
	if err != nil {
		log.Warn().Err(err).Msg("annotation skipped: read failed")
		return nil
	}

	actx, cancel := context.WithTimeout(ctx, s.opts.AnnotationTimeout)
	defer cancel()

	text, err := s.annotator.Annotate(actx, data, contentType)
	if err != nil {
		log.Warn().Err(err).Msg("image annotation failed")
		return nil
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return &text
}

// belatedConflict handles a concurrent upload of the same content that won
// the insert race after our duplicate check passed.
func (s *ImageService) belatedConflict(ctx context.Context, log zerolog.Logger, fingerprint string) error {
	log.Warn().Msg("fingerprint inserted concurrently, reporting duplicate")

	conflict := &ConflictError{Fingerprint: fingerprint}
	for attempt := 1; attempt <= 2; attempt++ {
		existing, err := s.repo.FindByFingerprint(ctx, fingerprint)
		if err == nil && existing != nil {
			conflict.Existing = existing.Summary()
			return conflict
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("could not load concurrently inserted record")
	}
	return conflict
}

// GetImage returns a stored record with a freshly issued download URL.
func (s *ImageService) GetImage(ctx context.Context, id string) (*UploadResult, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, &ClientInputError{Reason: "Invalid image id", Message: "Image id must be a UUID"}
	}

	img, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	result := &UploadResult{Image: *img}
	if url, err := s.storage.PresignedURL(ctx, img.StorageKey, s.opts.PresignTTL); err != nil {
		s.log.Warn().Err(err).Str("key", img.StorageKey).Msg("failed to generate download URL")
	} else {
		result.DownloadURL = url
	}

	return result, nil
}

func (s *ImageService) ListImages(ctx context.Context, limit int) ([]Image, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	images, err := s.repo.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}

	if images == nil {
		images = []Image{}
	}

	return images, nil
}

func streamSize(r io.ReadSeeker) (int64, error) {
	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	return size, nil
}

func readAllFromStart(r io.ReadSeeker) ([]byte, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(r)
	if _, seekErr := r.Seek(0, io.SeekStart); err == nil {
		err = seekErr
	}
	return data, err
}
