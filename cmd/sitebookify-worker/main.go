// Command sitebookify-worker answers dispatched pipeline runs: it
// exposes only POST /internal/jobs/{id}/run, guarded by a shared bearer
// token, and runs the full crawl-to-epub pipeline synchronously on the
// request goroutine. It never serves the public job-service RPCs —
// those live on sitebookify-api, configured with
// SITEBOOKIFY_EXECUTION_MODE=worker to reach a fleet of this binary.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	_ "modernc.org/sqlite"

	"github.com/sitebookify/sitebookify/config"
	"github.com/sitebookify/sitebookify/dbopen"
	"github.com/sitebookify/sitebookify/job"
	"github.com/sitebookify/sitebookify/observability"
	"github.com/sitebookify/sitebookify/shield"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "sitebookify-worker: config:", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	jobStore, artifactStore, fsArtifacts, err := buildStores(ctx, cfg)
	if err != nil {
		logger.Error("build stores", "error", err)
		os.Exit(1)
	}

	obsDB, err := dbopen.Open(filepath.Join(cfg.DataDir, "observability.db"), dbopen.WithMkdirAll())
	if err != nil {
		logger.Error("open observability db", "error", err)
		os.Exit(1)
	}
	defer obsDB.Close()
	if err := observability.Init(obsDB); err != nil {
		logger.Error("init observability schema", "error", err)
		os.Exit(1)
	}
	audit := observability.NewAuditLogger(obsDB, 64)
	defer audit.Close()
	metrics := observability.NewMetricsManager(obsDB, 64, 5*time.Second)
	defer metrics.Close()

	heartbeat := observability.NewHeartbeatWriter(obsDB, "sitebookify-worker", 30*time.Second)
	heartbeat.Start(ctx)
	defer heartbeat.Stop()

	runner := job.NewRunner(jobStore, artifactStore, logger, job.WithObservability(audit, metrics))

	svc, err := job.NewService(job.Config{
		Store:       jobStore,
		Artifacts:   artifactStore,
		Dispatcher:  noopDispatcher{},
		DataDir:     cfg.DataDir,
		DownloadTTL: time.Duration(cfg.SignedURLTTLSecs) * time.Second,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("build service", "error", err)
		os.Exit(1)
	}

	transport := job.NewTransport(svc, runner, cfg.InternalDispatchToken, fsArtifacts)
	r := transport.InternalRouter(shield.DefaultWorkerStack())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Minute, // a single pipeline run can take a long time
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("sitebookify-worker starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	logger.Info("sitebookify-worker stopped")
}

// buildStores mirrors sitebookify-api's backing selection: the worker
// reads and writes the same JobStore/ArtifactStore the API binary does.
func buildStores(ctx context.Context, cfg *config.Config) (job.JobStore, job.ArtifactStore, *job.FSArtifactStore, error) {
	if cfg.UsesObjectStore() {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("gcs client: %w", err)
		}
		jobStore, err := job.NewGCSJobStore(client, cfg.ArtifactBucket)
		if err != nil {
			return nil, nil, nil, err
		}
		artifactStore, err := job.NewGCSArtifactStore(client, cfg.ArtifactBucket)
		if err != nil {
			return nil, nil, nil, err
		}
		return jobStore, artifactStore, nil, nil
	}

	jobStore, err := job.NewFSJobStore(cfg.DataDir)
	if err != nil {
		return nil, nil, nil, err
	}
	signingKey := cfg.ArtifactSigningKey
	if signingKey == "" {
		return nil, nil, nil, fmt.Errorf("config: SITEBOOKIFY_ARTIFACT_SIGNING_KEY is required without an object store")
	}
	baseURL := "http://localhost" + cfg.ListenAddr
	fsArtifacts, err := job.NewFSArtifactStore(cfg.DataDir, baseURL, []byte(signingKey))
	if err != nil {
		return nil, nil, nil, err
	}
	return jobStore, fsArtifacts, fsArtifacts, nil
}

// noopDispatcher satisfies job.NewService's non-nil Dispatcher
// requirement on the worker binary, which never calls CreateJob itself
// — only sitebookify-api's Service does that.
type noopDispatcher struct{}

func (noopDispatcher) Dispatch(ctx context.Context, jobID string) error {
	return fmt.Errorf("job: this process does not accept new jobs, it only runs dispatched ones")
}
