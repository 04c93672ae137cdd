// Package objectstore replicates audio artifacts to an S3-compatible
// object store and serves public URLs for the uploaded derivatives.
package objectstore

import (
	"context"
	"errors"
	"io"
	"strings"
)

// ErrNotFound is returned when a requested key does not exist.
var ErrNotFound = errors.New("objectstore: key not found")

// Store is the minimal object-store surface the pipeline needs. A single
// implementation is constructed per process and shared.
type Store interface {
	// Put uploads the contents of r under key with the given content type.
	Put(ctx context.Context, key string, r io.Reader, contentType string) error
	// Get returns a reader over the object at key. The caller closes it.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes a single key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// List returns every key under prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	// DeletePrefix removes every key under prefix and returns the count.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	// PublicURL returns the externally reachable URL for a key.
	PublicURL(key string) string
}

// ContentTypeForKey guesses a content type from the key's extension.
func ContentTypeForKey(key string) string {
	switch {
	case strings.HasSuffix(key, ".mp3"):
		return "audio/mpeg"
	case strings.HasSuffix(key, ".flac"):
		return "audio/flac"
	case strings.HasSuffix(key, ".wav"):
		return "audio/wav"
	case strings.HasSuffix(key, ".m3u8"):
		return "application/vnd.apple.mpegurl"
	case strings.HasSuffix(key, ".ts"):
		return "video/mp2t"
	case strings.HasSuffix(key, ".aac"):
		return "audio/aac"
	case strings.HasSuffix(key, ".json"):
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
