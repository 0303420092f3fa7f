// Package blob is the object-storage boundary for submission payloads.
// The engine stores bytes here before opening its transaction; a failed
// write must never leave a submission row behind, so the store is called
// strictly outside the transaction window.
package blob

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"
	"time"
)

var (
	// ErrInvalidArchive marks a payload that failed structural validation.
	ErrInvalidArchive = errors.New("invalid archive")
	// ErrTooLarge marks a payload over the configured size limit.
	ErrTooLarge = errors.New("payload too large")
	// ErrNotFound marks a reference that does not resolve to an object.
	ErrNotFound = errors.New("object not found")
)

// Store is durable object storage. Put returns an opaque reference that
// later resolves through SignedURL; both can fail independently of the
// workflow store.
type Store interface {
	Put(ctx context.Context, data []byte, pathHint string) (string, error)
	SignedURL(ref string, ttl time.Duration) (string, error)
}

// CheckZip runs the structural checks on an uploaded payload: extension,
// declared content type, archive structure and size. Failures wrap
// ErrInvalidArchive or ErrTooLarge.
func CheckZip(data []byte, filename, contentType string, maxBytes int64) error {
	if !strings.HasSuffix(strings.ToLower(filename), ".zip") {
		return fmt.Errorf("%w: file must have .zip extension", ErrInvalidArchive)
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "application/zip" {
		return fmt.Errorf("%w: content type must be application/zip", ErrInvalidArchive)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return fmt.Errorf("%w: payload exceeds %d bytes", ErrTooLarge, maxBytes)
	}
	if _, err := zip.NewReader(bytes.NewReader(data), int64(len(data))); err != nil {
		return fmt.Errorf("%w: not a valid ZIP archive", ErrInvalidArchive)
	}
	return nil
}
