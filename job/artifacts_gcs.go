package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
)

// GCSArtifactStore stores the zip artifact as a single object per job
// and mints real cloud-signed URLs via the SDK's own SignedURL, unlike
// the FS backing's HMAC-signed JWT workaround.
type GCSArtifactStore struct {
	client *storage.Client
	bucket string
	prefix string

	// signer is invoked by SignedURL; NewGCSArtifactStore sets it to
	// storage.SignedURL, which signs with the bucket's service-account
	// credentials, and tests that have no real GCS credentials replace
	// it.
	signer func(bucket, object string, opts *storage.SignedURLOptions) (string, error)
}

// NewGCSArtifactStore wraps an existing storage.Client, normally the
// same client the GCSJobStore in this process shares.
func NewGCSArtifactStore(client *storage.Client, bucket string) (*GCSArtifactStore, error) {
	if client == nil {
		return nil, fmt.Errorf("job: gcs artifact store: client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("job: gcs artifact store: bucket is required")
	}
	return &GCSArtifactStore{client: client, bucket: bucket, prefix: "jobs/", signer: storage.SignedURL}, nil
}

func (s *GCSArtifactStore) objectName(jobID string) string { return s.prefix + jobID + "/artifact.zip" }

func (s *GCSArtifactStore) Put(ctx context.Context, jobID string, r io.Reader) error {
	w := s.client.Bucket(s.bucket).Object(s.objectName(jobID)).NewWriter(ctx)
	w.ContentType = "application/zip"
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return fmt.Errorf("job: gcs artifact store: write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("job: gcs artifact store: close: %w", err)
	}
	return nil
}

func (s *GCSArtifactStore) Open(ctx context.Context, jobID string) (io.ReadCloser, error) {
	r, err := s.client.Bucket(s.bucket).Object(s.objectName(jobID)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("job: gcs artifact store: open: %w", err)
	}
	return r, nil
}

func (s *GCSArtifactStore) SignedURL(_ context.Context, jobID string, ttl time.Duration) (string, error) {
	url, err := s.signer(s.bucket, s.objectName(jobID), &storage.SignedURLOptions{
		Method:  "GET",
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("job: gcs artifact store: sign: %w", err)
	}
	return url, nil
}
