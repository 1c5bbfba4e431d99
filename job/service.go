package job

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/sitebookify/sitebookify/preview"
)

// Service is the RPC surface spec.md §4.10 names: CreateJob, GetJob,
// ListJobs, GenerateJobDownloadUrl, Preview. It owns no pipeline logic
// itself — that is the Runner's job — and never blocks CreateJob on
// pipeline execution (spec.md §5).
type Service struct {
	store       JobStore
	artifacts   ArtifactStore
	dispatcher  Dispatcher
	dataDir     string
	downloadTTL time.Duration
	logger      *slog.Logger
}

// Config bundles the collaborators NewService wires together.
type Config struct {
	Store       JobStore
	Artifacts   ArtifactStore
	Dispatcher  Dispatcher
	DataDir     string        // root under which per-job work_dir directories are created
	DownloadTTL time.Duration // lifetime of a signed download URL
	Logger      *slog.Logger
}

// NewService builds a Service from cfg, filling in sane defaults for a
// zero-valued DownloadTTL/Logger.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil || cfg.Artifacts == nil || cfg.Dispatcher == nil {
		return nil, fmt.Errorf("job: service: store, artifacts, and dispatcher are required")
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("job: service: data dir is required")
	}
	ttl := cfg.DownloadTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:       cfg.Store,
		artifacts:   cfg.Artifacts,
		dispatcher:  cfg.Dispatcher,
		dataDir:     cfg.DataDir,
		downloadTTL: ttl,
		logger:      logger,
	}, nil
}

// CreateJob persists a new Job in the QUEUED state and hands it off to
// the dispatcher, returning as soon as the record is durable — it
// never waits on pipeline execution. A dispatch failure transitions
// the job straight to ERROR (spec.md §7, error kind 7) instead of
// leaving it stuck QUEUED forever.
func (s *Service) CreateJob(ctx context.Context, spec Spec) (*Job, error) {
	if spec.SourceURL == "" {
		return nil, fmt.Errorf("job: service: source_url is required")
	}

	j := New(spec, "")
	j.WorkDir = filepath.Join(s.dataDir, "work", j.ID())

	if err := s.store.Put(ctx, j); err != nil {
		return nil, fmt.Errorf("job: service: create job: %w", err)
	}

	if err := s.dispatcher.Dispatch(ctx, j.ID()); err != nil {
		s.logger.Error("job: dispatch failed", "job_id", j.ID(), "error", err)
		failed, updateErr := s.store.Update(ctx, j.Name, func(job *Job) {
			job.Fail(fmt.Sprintf("dispatch failed: %v", err))
		})
		if updateErr != nil {
			return nil, fmt.Errorf("job: service: dispatch failed and could not record failure: %w", updateErr)
		}
		return failed, nil
	}

	return j, nil
}

// GetJob returns the current state of the named job.
func (s *Service) GetJob(ctx context.Context, name string) (*Job, error) {
	return s.store.Get(ctx, name)
}

// ListJobs returns every known job, most-recently-created order is not
// guaranteed — callers sort client-side if they need it.
func (s *Service) ListJobs(ctx context.Context) ([]*Job, error) {
	return s.store.List(ctx)
}

// GenerateJobDownloadUrl mints a time-limited download URL for a
// DONE job's artifact. Calling it on a job that has not finished (or
// that failed) is an error — there is nothing to download yet.
func (s *Service) GenerateJobDownloadUrl(ctx context.Context, name string) (string, time.Time, error) {
	j, err := s.store.Get(ctx, name)
	if err != nil {
		return "", time.Time{}, err
	}
	if j.Status != StatusDone {
		return "", time.Time{}, fmt.Errorf("job: service: job %s is not done (status=%s)", j.Name, j.Status)
	}
	url, err := s.artifacts.SignedURL(ctx, j.ID(), s.downloadTTL)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("job: service: generate download url: %w", err)
	}
	return url, time.Now().Add(s.downloadTTL), nil
}

// Preview delegates to the preview package: a non-authoritative,
// LLM-free structural estimate of startURL, usable before a caller
// commits to a full CreateJob run.
func (s *Service) Preview(ctx context.Context, startURL string) (*preview.Result, error) {
	return preview.Preview(ctx, startURL)
}
