package images

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateFingerprint is returned by the repository when the unique
	// constraint on fingerprint rejects an insert.
	ErrDuplicateFingerprint = errors.New("image with this fingerprint already exists")

	ErrNotFound = errors.New("image not found")
)

// ClientInputError is a request the caller must fix: missing file, bad
// extension, malformed or incomplete metadata. Raised before any side effect.
type ClientInputError struct {
	Reason  string
	Message string
}

func (e *ClientInputError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

// ValidationError means the bytes are not a decodable image.
type ValidationError struct {
	Filename string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid image file %q", e.Filename)
}

// ConflictError reports content that is already on record.
type ConflictError struct {
	Fingerprint string
	Existing    ExistingImage
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("image %s already exists as %s", e.Fingerprint, e.Existing.ID)
}

// StorageWriteError is a failed object write. No record was created.
type StorageWriteError struct {
	Fingerprint string
	Key         string
	Err         error
}

func (e *StorageWriteError) Error() string {
	return fmt.Sprintf("store object %q (fingerprint %s): %v", e.Key, e.Fingerprint, e.Err)
}

func (e *StorageWriteError) Unwrap() error { return e.Err }

// PersistenceError is a failed metadata lookup or insert. When Key is set the
// object was already written and may now be orphaned.
type PersistenceError struct {
	Op          string
	Fingerprint string
	Key         string
	Err         error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s (fingerprint %s, key %q): %v", e.Op, e.Fingerprint, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Category is the outcome class reported to callers.
type Category string

const (
	CategorySuccess     Category = "success"
	CategoryDuplicate   Category = "duplicate"
	CategoryClientError Category = "client_error"
	CategoryServerError Category = "server_error"
)

func Classify(err error) Category {
	var (
		clientErr     *ClientInputError
		validationErr *ValidationError
		conflictErr   *ConflictError
	)
	switch {
	case err == nil:
		return CategorySuccess
	case errors.As(err, &conflictErr):
		return CategoryDuplicate
	case errors.As(err, &clientErr), errors.As(err, &validationErr):
		return CategoryClientError
	default:
		return CategoryServerError
	}
}
