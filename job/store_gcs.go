package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCSJobStore stores one JSON object per job under <prefix>/<job_id>.json
// in a GCS bucket, using the official SDK rather than hand-rolling the
// GCS REST API the way the original Rust implementation's GcsJobStore
// does — the SDK already handles credential refresh before expiry, the
// property that implementation's access_token helper existed to encode.
type GCSJobStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSJobStore wraps an existing storage.Client (callers construct it
// once per process via storage.NewClient and share it across the
// JobStore and ArtifactStore).
func NewGCSJobStore(client *storage.Client, bucket string) (*GCSJobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("job: gcs store: client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("job: gcs store: bucket is required")
	}
	return &GCSJobStore{client: client, bucket: bucket, prefix: "jobs/"}, nil
}

func (s *GCSJobStore) objectName(id string) string { return s.prefix + id + ".json" }

func (s *GCSJobStore) Put(ctx context.Context, j *Job) error {
	return s.writeObject(ctx, j)
}

func (s *GCSJobStore) writeObject(ctx context.Context, j *Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("job: gcs store: marshal: %w", err)
	}
	w := s.client.Bucket(s.bucket).Object(s.objectName(j.ID())).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("job: gcs store: write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("job: gcs store: close: %w", err)
	}
	return nil
}

func (s *GCSJobStore) Get(ctx context.Context, name string) (*Job, error) {
	return s.readObject(ctx, idFromName(name))
}

func (s *GCSJobStore) readObject(ctx context.Context, id string) (*Job, error) {
	r, err := s.client.Bucket(s.bucket).Object(s.objectName(id)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("job: gcs store: open: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("job: gcs store: read: %w", err)
	}
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("job: gcs store: parse: %w", err)
	}
	return &j, nil
}

func (s *GCSJobStore) ListJobIDs(ctx context.Context) ([]string, error) {
	var ids []string
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: s.prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("job: gcs store: list objects: %w", err)
		}
		name := strings.TrimPrefix(attrs.Name, s.prefix)
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *GCSJobStore) List(ctx context.Context) ([]*Job, error) {
	ids, err := s.ListJobIDs(ctx)
	if err != nil {
		return nil, err
	}
	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		j, err := s.readObject(ctx, id)
		if err != nil {
			if err == ErrNotFound {
				continue
			}
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (s *GCSJobStore) Update(ctx context.Context, name string, fn UpdateFunc) (*Job, error) {
	j, err := s.readObject(ctx, idFromName(name))
	if err != nil {
		return nil, err
	}
	fn(j)
	if err := s.writeObject(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

func (s *GCSJobStore) DeleteExpired(ctx context.Context, now time.Time, ttl time.Duration) (int, error) {
	jobs, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, j := range jobs {
		if (j.Status == StatusDone || j.Status == StatusError) && now.Sub(j.UpdatedAt) > ttl {
			if err := s.client.Bucket(s.bucket).Object(s.objectName(j.ID())).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
				return removed, fmt.Errorf("job: gcs store: delete_expired %s: %w", j.ID(), err)
			}
			removed++
		}
	}
	return removed, nil
}
