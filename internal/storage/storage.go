// Package storage abstracts the object storage assets and upload chunks
// are kept in
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var ErrNotFound = errors.New("object not found")

type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Store is implemented by every storage backend. Keys always use forward
// slashes and never start with one.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (*Object, error)
	Delete(ctx context.Context, key string) error
	DeleteMany(ctx context.Context, keys []string) error
	List(ctx context.Context, prefix string) ([]Object, error)

	// Compose concatenates srcs in order into dst and returns the size of
	// the resulting object. Sources are left untouched.
	Compose(ctx context.Context, dst string, srcs []string, contentType string) (int64, error)
}
