// internal/storage/store.go
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Read when no object exists under the name
var ErrNotFound = errors.New("storage: not found")

// Store defines the interface for ledger document backends
type Store interface {
	// Read retrieves the document stored under name
	Read(ctx context.Context, name string) ([]byte, error)

	// Write replaces the document stored under name
	Write(ctx context.Context, name string, data []byte) error

	// Location describes where documents live, for logs
	Location() string
}
