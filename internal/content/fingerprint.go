package content

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	chunkSize         = 4096
	keyPrefix         = "images/"
	fallbackFilename  = "upload"
	FingerprintLength = md5.Size * 2
)

// Fingerprint returns the hex MD5 digest of the whole stream, read in fixed
// chunks. It identifies duplicates; it is not an integrity check.
func Fingerprint(r io.ReadSeeker) (string, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind stream: %w", err)
	}

	h := md5.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, onlyReader{r}, buf); err != nil {
		return "", fmt.Errorf("hash stream: %w", err)
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind stream: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// onlyReader hides WriterTo so CopyBuffer really reads in chunkSize pieces.
type onlyReader struct {
	io.Reader
}

var (
	unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// SanitizeFilename reduces name to a flat ASCII filename safe for use in keys.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	name = whitespace.ReplaceAllString(strings.TrimSpace(name), "_")
	name = unsafeChars.ReplaceAllString(name, "")
	name = strings.Trim(name, "._")
	if name == "" {
		return fallbackFilename
	}
	return name
}

// StorageKey derives the object key for a fingerprint and claimed filename.
// The same inputs always produce the same key.
func StorageKey(fingerprint, filename string) string {
	return keyPrefix + fingerprint + "_" + SanitizeFilename(filename)
}
