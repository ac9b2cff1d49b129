// Package content checks uploaded bytes before anything is persisted: it
// verifies that a stream is a decodable image with an accepted extension and
// derives the content fingerprint used for deduplication.
package content

import (
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

var allowedExtensions = map[string]struct{}{
	"png":  {},
	"jpg":  {},
	"jpeg": {},
	"gif":  {},
	"bmp":  {},
	"webp": {},
}

// AllowedExtensions returns the accepted extensions in a stable order.
func AllowedExtensions() []string {
	return []string{"png", "jpg", "jpeg", "gif", "bmp", "webp"}
}

// AllowedExtension reports whether filename carries an accepted image extension.
func AllowedExtension(filename string) bool {
	ext := filepath.Ext(filename)
	if ext == "" || ext == "." {
		return false
	}
	_, ok := allowedExtensions[strings.ToLower(ext[1:])]
	return ok
}

// MaxPixels bounds width*height of an accepted image. Decoding allocates the
// whole pixel buffer up front, so the header is checked before any decode.
const MaxPixels = 50_000_000

// ValidImage fully decodes r. The stream is rewound to its start on every path.
func ValidImage(r io.ReadSeeker) bool {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return false
	}
	cfg, _, err := image.DecodeConfig(r)
	if _, seekErr := r.Seek(0, io.SeekStart); seekErr != nil || err != nil {
		return false
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return false
	}

	_, _, decodeErr := image.Decode(r)
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return false
	}
	return decodeErr == nil
}

// Validate combines the extension and structural checks.
func Validate(r io.ReadSeeker, filename string) bool {
	return AllowedExtension(filename) && ValidImage(r)
}
