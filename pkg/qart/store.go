// Package qart archives run output (logs and run records) in S3-compatible
// storage so finished runs stay inspectable after the runner host is gone.
package qart

import (
	"context"
	"io"
	"time"
)

// Artifact represents a stored object with metadata.
type Artifact struct {
	Key          string            `json:"key"`    // e.g. "runs/abc123/output.log"
	Bucket       string            `json:"bucket"` // empty for in-memory stores
	Size         int64             `json:"size"`
	ContentType  string            `json:"content_type"`
	LastModified time.Time         `json:"last_modified"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	URL          string            `json:"url,omitempty"` // presigned URL (when requested)
}

// Store is the archive backend used by the runner and the API.
type Store interface {
	// Upload stores reader under key. size may be -1 when unknown.
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string, metadata map[string]string) (*Artifact, error)

	// Download returns ErrNotFound for missing keys.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// PresignedURL returns a time-limited download URL.
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)

	// List returns every object under prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]*Artifact, error)

	// EnsureBucket creates the bucket if it does not exist.
	EnsureBucket(ctx context.Context) error
}

// RunPrefix returns the prefix under which a run's files are archived.
func RunPrefix(runID string) string {
	return "runs/" + runID + "/"
}

// RunKey returns the archive key for one of a run's files.
func RunKey(runID, filename string) string {
	return RunPrefix(runID) + filename
}
