package job

import (
	"context"
	"io"
	"time"
)

// ArtifactStore persists the zip artifact produced by a finished job
// and mints a time-limited download URL for it. Object TTL at the
// store level (lifecycle rules for the GCS backing) is out of scope
// here; this interface only enforces the service-level TTL via signed
// URL expiry.
type ArtifactStore interface {
	Put(ctx context.Context, jobID string, r io.Reader) error
	Open(ctx context.Context, jobID string) (io.ReadCloser, error)
	SignedURL(ctx context.Context, jobID string, ttl time.Duration) (string, error)
}
