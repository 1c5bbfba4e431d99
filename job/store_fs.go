package job

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// FSJobStore persists one job.json (current state) plus one
// request.json (the immutable Spec at creation time) per job directory
// under <dataDir>/jobs/<job_id>/, written via an atomic
// tmp-file-then-rename (writeJSONAtomic).
type FSJobStore struct {
	dataDir string
	mu      sync.Mutex // serializes read-modify-write across Update calls in this process
}

// NewFSJobStore returns a store rooted at dataDir/jobs. dataDir is
// created if it does not already exist.
func NewFSJobStore(dataDir string) (*FSJobStore, error) {
	if err := os.MkdirAll(filepath.Join(dataDir, "jobs"), 0o755); err != nil {
		return nil, fmt.Errorf("job: fs store: mkdir: %w", err)
	}
	return &FSJobStore{dataDir: dataDir}, nil
}

func (s *FSJobStore) jobDir(id string) string { return filepath.Join(s.dataDir, "jobs", id) }

func (s *FSJobStore) Put(_ context.Context, j *Job) error {
	dir := s.jobDir(j.ID())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("job: fs store: mkdir %s: %w", dir, err)
	}
	if err := writeJSONAtomic(filepath.Join(dir, "request.json"), j.Spec); err != nil {
		return fmt.Errorf("job: fs store: write request.json: %w", err)
	}
	return s.writeJob(j)
}

func (s *FSJobStore) writeJob(j *Job) error {
	return writeJSONAtomic(filepath.Join(s.jobDir(j.ID()), "job.json"), j)
}

func (s *FSJobStore) Get(_ context.Context, name string) (*Job, error) {
	return s.readJob(idFromName(name))
}

func (s *FSJobStore) readJob(id string) (*Job, error) {
	data, err := os.ReadFile(filepath.Join(s.jobDir(id), "job.json"))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("job: fs store: read job.json: %w", err)
	}
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("job: fs store: parse job.json: %w", err)
	}
	return &j, nil
}

func (s *FSJobStore) ListJobIDs(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dataDir, "jobs"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("job: fs store: list jobs dir: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *FSJobStore) List(ctx context.Context) ([]*Job, error) {
	ids, err := s.ListJobIDs(ctx)
	if err != nil {
		return nil, err
	}
	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		j, err := s.readJob(id)
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

func (s *FSJobStore) Update(_ context.Context, name string, fn UpdateFunc) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.readJob(idFromName(name))
	if err != nil {
		return nil, err
	}
	fn(j)
	if err := s.writeJob(j); err != nil {
		return nil, err
	}
	return j, nil
}

func (s *FSJobStore) DeleteExpired(ctx context.Context, now time.Time, ttl time.Duration) (int, error) {
	jobs, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, j := range jobs {
		if (j.Status == StatusDone || j.Status == StatusError) && now.Sub(j.UpdatedAt) > ttl {
			if err := os.RemoveAll(s.jobDir(j.ID())); err != nil {
				return removed, fmt.Errorf("job: fs store: delete_expired %s: %w", j.ID(), err)
			}
			removed++
		}
	}
	return removed, nil
}

// writeJSONAtomic marshals v and writes it to path via a .tmp-then-
// rename, the same pattern the original implementation's
// write_json_atomic uses, so readers never observe a
// partially written file.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func idFromName(name string) string {
	const prefix = "jobs/"
	if len(name) > len(prefix) && name[:len(prefix)] == prefix {
		return name[len(prefix):]
	}
	return name
}
