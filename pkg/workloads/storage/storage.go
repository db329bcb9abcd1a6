// Package storage is the interface to object storages holding plugin inputs and outputs.
//
// Paths are opaque slash separated strings, like "chris/feed_1/pl-dircopy_1/data/out.txt".
package storage

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned when no object is at the path.
var ErrNotFound = errors.New("object is not found")

type Store interface {
	// List returns paths of objects under prefix, in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)

	Exists(ctx context.Context, path string) (bool, error)

	// Get reads the object. It returns ErrNotFound if missing.
	Get(ctx context.Context, path string) ([]byte, error)

	// Put writes the object.
	Put(ctx context.Context, path string, content []byte, contentType string) error

	// Delete removes the object. Deleting missing objects succeeds.
	Delete(ctx context.Context, path string) error
}

// Dir normalizes prefix as a directory, like "a/b/".
//
// Empty prefix is kept as is.
func Dir(prefix string) string {
	prefix = strings.TrimPrefix(prefix, "/")
	if prefix == "" || strings.HasSuffix(prefix, "/") {
		return prefix
	}
	return prefix + "/"
}
