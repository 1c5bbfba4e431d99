package job

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/sitebookify/sitebookify/book"
	"github.com/sitebookify/sitebookify/bundle"
	"github.com/sitebookify/sitebookify/crawl"
	"github.com/sitebookify/sitebookify/epub"
	"github.com/sitebookify/sitebookify/extract"
	"github.com/sitebookify/sitebookify/llm"
	"github.com/sitebookify/sitebookify/manifest"
	"github.com/sitebookify/sitebookify/observability"
	"github.com/sitebookify/sitebookify/toc"
)

// Runner drives one job's pipeline end to end: C2 crawl, C3 extract,
// C4 manifest, C5 TOC, C6 render, C7 bundle, C8 EPUB, writing progress
// through JobStore.Update at each stage boundary exactly as spec.md §5
// requires ("single store read is cheap... no extra locking").
type Runner struct {
	store     JobStore
	artifacts ArtifactStore
	logger    *slog.Logger

	audit   *observability.AuditLogger
	metrics *observability.MetricsManager

	urlValidator func(string) error
}

// RunnerOption configures optional Runner collaborators.
type RunnerOption func(*Runner)

// WithObservability records one audit entry and one duration metric per
// pipeline run against the shared observability database. Both are nil
// by default: a Runner with no observability wired behaves exactly as
// before, recording nothing.
func WithObservability(audit *observability.AuditLogger, metrics *observability.MetricsManager) RunnerOption {
	return func(r *Runner) {
		r.audit = audit
		r.metrics = metrics
	}
}

// WithURLValidator overrides the crawl's URL safety check (default:
// horosafe.ValidateURL, applied inside crawl.Run itself). Tests driving
// the pipeline against an httptest fixture, which always listens on
// loopback, must override this, matching hazyhaar-chrc/veille's
// WithURLValidator escape hatch.
func WithURLValidator(fn func(string) error) RunnerOption {
	return func(r *Runner) {
		r.urlValidator = fn
	}
}

// NewRunner wires a Runner against the shared JobStore/ArtifactStore.
func NewRunner(store JobStore, artifacts ArtifactStore, logger *slog.Logger, opts ...RunnerOption) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{store: store, artifacts: artifacts, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the full pipeline for jobID. It refuses to start if the
// job's work_dir already exists (ErrWorkspaceExists), the job-level
// expression of the write-once snapshot discipline spec.md §3/§9
// applies to RawFetch/ExtractedPage, supplemented from the original
// implementation's ensure_dir_does_not_exist.
func (r *Runner) Run(ctx context.Context, jobID string) error {
	start := time.Now()
	// Claim the job with a QUEUED -> RUNNING compare-and-set inside a
	// single store Update, so two concurrent Run calls cannot both start it.
	var prev Status
	j, err := r.store.Update(ctx, "jobs/"+jobID, func(job *Job) {
		if prev = job.Status; prev == StatusQueued {
			job.Status = StatusRunning
		}
	})
	if err != nil {
		return fmt.Errorf("job: runner: %w", err)
	}
	if prev != StatusQueued {
		return fmt.Errorf("job: runner: %w: job %s has status %s", ErrAlreadyRunning, jobID, prev)
	}

	if _, err := os.Stat(j.WorkDir); err == nil {
		err := fmt.Errorf("%w: %s", ErrWorkspaceExists, j.WorkDir)
		r.fail(ctx, jobID, err)
		r.recordRun(ctx, jobID, j.Spec, start, err)
		return ErrWorkspaceExists
	}
	if err := os.MkdirAll(j.WorkDir, 0o755); err != nil {
		err = fmt.Errorf("job: runner: mkdir workspace: %w", err)
		r.fail(ctx, jobID, err)
		r.recordRun(ctx, jobID, j.Spec, start, err)
		return err
	}

	err = r.runPipeline(ctx, jobID, j.Spec)
	if err != nil {
		r.fail(ctx, jobID, err)
	}
	r.recordRun(ctx, jobID, j.Spec, start, err)
	return err
}

// recordRun writes one audit entry and one duration metric for a
// completed run, if observability was wired via WithObservability.
func (r *Runner) recordRun(ctx context.Context, jobID string, spec Spec, start time.Time, runErr error) {
	duration := time.Since(start)
	if r.audit != nil {
		r.audit.LogAsync(r.audit.NewAuditEntry("job_runner", "run_pipeline", spec, nil, runErr, duration))
	}
	if r.metrics != nil {
		r.metrics.RecordSimple("job_pipeline_duration_ms", float64(duration.Milliseconds()), "milliseconds")
		status := 1.0
		if runErr != nil {
			status = 0.0
		}
		r.metrics.RecordSimple("job_pipeline_success", status, "count")
	}
}

func (r *Runner) runPipeline(ctx context.Context, jobID string, spec Spec) error {
	j, err := r.store.Get(ctx, "jobs/"+jobID)
	if err != nil {
		return err
	}
	workDir := j.WorkDir

	r.advance(ctx, jobID, StageCrawl, "crawling")
	rawDir := filepath.Join(workDir, "raw")
	crawlResult, err := crawl.Run(ctx, crawl.Options{
		StartURL:     spec.SourceURL,
		MaxPages:     spec.MaxPages,
		MaxDepth:     spec.MaxDepth,
		Concurrency:  spec.Concurrency,
		DelayMS:      spec.DelayMS,
		OutDir:       rawDir,
		Logger:       r.logger,
		URLValidator: r.urlValidator,
	})
	if err != nil {
		return fmt.Errorf("crawl: %w", err)
	}

	r.advance(ctx, jobID, StageExtract, "extracting pages")
	pagesDir := filepath.Join(workDir, "extracted", "pages")
	if err := os.MkdirAll(pagesDir, 0o755); err != nil {
		return fmt.Errorf("extract: mkdir: %w", err)
	}
	for _, fetch := range crawlResult.Fetches {
		if fetch.RawHTMLPath == "" {
			continue
		}
		rawHTML, err := os.ReadFile(fetch.RawHTMLPath)
		if err != nil {
			return fmt.Errorf("extract: read %s: %w", fetch.RawHTMLPath, err)
		}
		page, err := extract.ExtractPage(string(rawHTML), fetch.NormalizedURL, fetch.RetrievedAt, fetch.RawHTMLPath, extract.Options{})
		if err != nil {
			r.logger.Warn("extract failed, skipping page", "url", fetch.NormalizedURL, "error", err)
			continue
		}
		if _, err := extract.WritePage(pagesDir, page); err != nil {
			return fmt.Errorf("extract: write page: %w", err)
		}
	}

	r.advance(ctx, jobID, StageManifest, "building manifest")
	records, err := manifest.Build(pagesDir)
	if err != nil {
		return fmt.Errorf("manifest: %w", err)
	}
	if len(records) == 0 {
		return fmt.Errorf("manifest: crawl produced no extractable pages")
	}
	if err := manifest.Write(filepath.Join(workDir, "manifest.jsonl"), records); err != nil {
		return fmt.Errorf("manifest: write: %w", err)
	}

	r.advance(ctx, jobID, StageTOC, "building table of contents")
	bookTitle := spec.Title
	if bookTitle == "" {
		bookTitle = spec.SourceURL
	}
	tocDoc, err := r.buildTOC(ctx, spec, bookTitle, records)
	if err != nil {
		return fmt.Errorf("toc: %w", err)
	}
	if err := toc.Write(filepath.Join(workDir, "toc.yaml"), tocDoc); err != nil {
		return fmt.Errorf("toc: write: %w", err)
	}

	r.advance(ctx, jobID, StageBookInit, "initializing book")
	bookDir := filepath.Join(workDir, "book")
	if err := book.Init(bookDir, bookTitle); err != nil {
		return fmt.Errorf("book init: %w", err)
	}

	r.advance(ctx, jobID, StageBookRender, "rendering chapters")
	engine, err := r.renderEngine(spec)
	if err != nil {
		return fmt.Errorf("book render: %w", err)
	}
	if err := book.Render(ctx, tocDoc, records, book.RenderOptions{
		OutDir:      bookDir,
		Engine:      engine,
		Prompt:      spec.RewritePrompt,
		Language:    spec.Language,
		Tone:        spec.Tone,
		Concurrency: spec.Concurrency,
	}); err != nil {
		return fmt.Errorf("book render: %w", err)
	}

	r.advance(ctx, jobID, StageBookBundle, "bundling book.md")
	bookMDPath := filepath.Join(workDir, "book.md")
	if err := bundle.Bundle(bundle.Options{BookDir: bookDir, OutPath: bookMDPath}); err != nil {
		return fmt.Errorf("bundle: %w", err)
	}

	r.advance(ctx, jobID, StageBookEPUB, "packaging epub")
	bookEPUBPath := filepath.Join(workDir, "book.epub")
	if err := epub.Create(epub.CreateOptions{
		BookDir: bookDir,
		OutPath: bookEPUBPath,
		Lang:    epub.GuessLangTag(spec.Language),
	}); err != nil {
		return fmt.Errorf("epub: %w", err)
	}

	artifactPath, err := r.packageArtifact(ctx, jobID, workDir, bookMDPath, bookEPUBPath)
	if err != nil {
		return fmt.Errorf("artifact: %w", err)
	}

	r.advance(ctx, jobID, StageDone, "")
	_, err = r.store.Update(ctx, "jobs/"+jobID, func(job *Job) {
		job.Finish(artifactPath, "jobs/"+jobID+"/artifact")
	})
	return err
}

// buildTOC dispatches to toc.Init or toc.Refine depending on
// spec.TOCEngine. An LLM-refine failure is fatal (spec.md §7, error
// kind 5) rather than silently falling back to Init — a caller who
// asked for a refined TOC and silently got the cheap heuristic instead
// would have no way to notice.
func (r *Runner) buildTOC(ctx context.Context, spec Spec, bookTitle string, records []manifest.Record) (*toc.TOC, error) {
	if spec.TOCEngine != "llm" {
		return toc.Init(bookTitle, records)
	}
	engine, err := r.renderEngine(spec)
	if err != nil {
		return nil, err
	}
	return toc.Refine(ctx, engine, bookTitle, records)
}

func (r *Runner) renderEngine(spec Spec) (llm.Engine, error) {
	switch spec.RenderEngine {
	case "", "noop":
		return llm.NoopEngine{}, nil
	case "openai":
		apiKey := os.Getenv("SITEBOOKIFY_OPENAI_API_KEY")
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		return llm.NewOpenAIEngine(llm.OpenAIConfig{
			APIKey:          apiKey,
			Model:           os.Getenv("SITEBOOKIFY_OPENAI_MODEL"),
			ReasoningEffort: os.Getenv("SITEBOOKIFY_OPENAI_REASONING_EFFORT"),
			BaseURL:         os.Getenv("SITEBOOKIFY_OPENAI_BASE_URL"),
		})
	case "command":
		return llm.NewCommandEngine("codex", "", "")
	default:
		return nil, fmt.Errorf("unknown render_engine %q", spec.RenderEngine)
	}
}

// packageArtifact zips the book's reviewable outputs (book.md,
// book.epub, and the assets book.md references) into the single zip
// GenerateJobDownloadUrl points at, and stores it via ArtifactStore.
func (r *Runner) packageArtifact(ctx context.Context, jobID, workDir, bookMDPath, bookEPUBPath string) (string, error) {
	zipPath := filepath.Join(workDir, "artifact.zip")
	f, err := os.Create(zipPath)
	if err != nil {
		return "", fmt.Errorf("create zip: %w", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	if err := addFileToZip(zw, bookMDPath, "book.md"); err != nil {
		return "", err
	}
	if err := addFileToZip(zw, bookEPUBPath, "book.epub"); err != nil {
		return "", err
	}
	assetsDir := filepath.Join(workDir, "assets")
	if entries, err := os.ReadDir(assetsDir); err == nil {
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if err := addFileToZip(zw, filepath.Join(assetsDir, e.Name()), filepath.Join("assets", e.Name())); err != nil {
				return "", err
			}
		}
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("close zip: %w", err)
	}

	rf, err := os.Open(zipPath)
	if err != nil {
		return "", fmt.Errorf("reopen zip: %w", err)
	}
	defer rf.Close()
	if err := r.artifacts.Put(ctx, jobID, rf); err != nil {
		return "", fmt.Errorf("store artifact: %w", err)
	}
	return zipPath, nil
}

func addFileToZip(zw *zip.Writer, path, nameInZip string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer src.Close()
	dst, err := zw.Create(nameInZip)
	if err != nil {
		return fmt.Errorf("create zip entry %s: %w", nameInZip, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copy %s into zip: %w", path, err)
	}
	return nil
}

func (r *Runner) advance(ctx context.Context, jobID string, stage Stage, message string) {
	if _, err := r.store.Update(ctx, "jobs/"+jobID, func(j *Job) {
		j.Advance(stage, message)
	}); err != nil {
		r.logger.Error("job: advance stage failed", "job_id", jobID, "stage", stage, "error", err)
	}
}

func (r *Runner) fail(ctx context.Context, jobID string, cause error) {
	r.logger.Error("job run failed", "job_id", jobID, "error", cause)
	if _, err := r.store.Update(ctx, "jobs/"+jobID, func(j *Job) {
		j.Fail(cause.Error())
	}); err != nil {
		r.logger.Error("job: mark failed failed", "job_id", jobID, "error", err)
	}
}
