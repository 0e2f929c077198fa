// Package blob reads job inputs and writes job outputs by key.
package blob

import (
	"context"
	"errors"
	"io"
)

// ContentTypeCSV is the content type of catalog files.
const ContentTypeCSV = "text/csv"

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("blob not found")

// Store is a flat key/value byte store.
type Store interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Put(ctx context.Context, key string, r io.Reader, contentType string) error
	// Location renders key as the opaque handle recorded on the job.
	Location(key string) string
}
