// Command sitebookify-api serves the public job service: CreateJob,
// GetJob, ListJobs, GenerateJobDownloadUrl, Preview, over HTTP+JSON and,
// optionally, MCP. Pipeline execution itself happens either in-process
// (a bounded goroutine pool inside this binary) or on a separate
// sitebookify-worker fleet reached over HTTP, depending on
// SITEBOOKIFY_EXECUTION_MODE.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/modelcontextprotocol/go-sdk/mcp"
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
		fmt.Fprintln(os.Stderr, "sitebookify-api: config:", err)
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

	dispatcher, err := buildDispatcher(cfg, jobStore, artifactStore, logger, audit, metrics)
	if err != nil {
		logger.Error("build dispatcher", "error", err)
		os.Exit(1)
	}

	svc, err := job.NewService(job.Config{
		Store:       jobStore,
		Artifacts:   artifactStore,
		Dispatcher:  dispatcher,
		DataDir:     cfg.DataDir,
		DownloadTTL: time.Duration(cfg.SignedURLTTLSecs) * time.Second,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("build service", "error", err)
		os.Exit(1)
	}

	// This binary never mounts InternalRouter: InProcessDispatcher calls
	// runner.Run directly rather than through the HTTP dispatch endpoint,
	// and runner is nil here when ExecutionMode is worker.
	transport := job.NewTransport(svc, nil, cfg.InternalDispatchToken, fsArtifacts)

	shieldDBPath := filepath.Join(cfg.DataDir, "shield.db")
	shieldDB, err := dbopen.Open(shieldDBPath, dbopen.WithMkdirAll(), dbopen.WithSchema(shield.Schema))
	if err != nil {
		logger.Error("open shield db", "error", err)
		os.Exit(1)
	}
	defer shieldDB.Close()

	apiStack, maintenance := shield.DefaultAPIStack(shieldDB)
	maintenance.StartReloader(ctx.Done())

	r := transport.Router(apiStack)

	if mcpTransport := os.Getenv("SITEBOOKIFY_MCP_TRANSPORT"); mcpTransport == "stdio" {
		mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "sitebookify", Version: "1.0.0"}, nil)
		svc.RegisterMCP(mcpSrv)
		go func() {
			logger.Info("mcp stdio transport starting")
			if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				logger.Error("mcp stdio transport", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("sitebookify-api starting", "addr", cfg.ListenAddr, "execution_mode", cfg.ExecutionMode)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	logger.Info("sitebookify-api stopped")
}

// buildStores selects the filesystem or GCS backing for JobStore and
// ArtifactStore based on cfg.UsesObjectStore. fsArtifacts is non-nil only
// in the filesystem case, for the static download handler's
// VerifyDownloadToken.
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

// buildDispatcher selects an in-process or remote Dispatcher based on
// cfg.ExecutionMode. In-process mode runs the pipeline on a bounded
// goroutine pool inside this same binary; worker mode hands jobs off to
// a separate sitebookify-worker fleet over HTTP, which records its own
// audit/metrics, so audit/metrics are unused in that branch.
func buildDispatcher(cfg *config.Config, jobStore job.JobStore, artifactStore job.ArtifactStore, logger *slog.Logger, audit *observability.AuditLogger, metrics *observability.MetricsManager) (job.Dispatcher, error) {
	if cfg.ExecutionMode == config.ExecutionModeWorker {
		return job.NewRemoteDispatcher(cfg.WorkerURL, cfg.WorkerAuthToken)
	}
	runner := job.NewRunner(jobStore, artifactStore, logger, job.WithObservability(audit, metrics))
	return job.NewInProcessDispatcher(runner, 4, logger), nil
}
