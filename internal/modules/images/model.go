package images

import (
	"io"
	"time"
)

// Image is one ingested image record. It is written once and never updated.
type Image struct {
	ID          string    `json:"id"`
	StorageKey  string    `json:"storage_key"`
	Fingerprint string    `json:"fingerprint"`
	Filename    string    `json:"filename"`
	MimeType    string    `json:"mime_type"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Annotation  *string   `json:"annotation,omitempty"`
}

// Summary returns the public fields reported for a duplicate upload.
func (i *Image) Summary() ExistingImage {
	return ExistingImage{
		ID:          i.ID,
		StorageKey:  i.StorageKey,
		Title:       i.Title,
		Description: i.Description,
	}
}

type ExistingImage struct {
	ID          string `json:"id"`
	StorageKey  string `json:"storage_key"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// UploadResult is a persisted record plus a retrieval URL when one could be issued.
type UploadResult struct {
	Image
	DownloadURL string `json:"download_url,omitempty"`
}

// Metadata is the caller-supplied JSON document. Unknown fields are accepted and ignored.
type Metadata struct {
	Title       string `json:"title" validate:"required,notblank"`
	Description string `json:"description" validate:"required,notblank"`
}

// UploadRequest is what the HTTP layer hands to ImageService.Upload. The
// caller has already authenticated the request and bounded Body's size.
type UploadRequest struct {
	Filename    string
	ContentType string
	Body        io.ReadSeeker
	Metadata    []byte
}
