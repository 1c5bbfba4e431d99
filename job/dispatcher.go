package job

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sitebookify/sitebookify/horosafe"
)

// Dispatcher has one operation: hand a queued job off to whatever will
// actually run the pipeline. It must never block CreateJob on pipeline
// execution (spec.md §4.10, §5).
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

// InProcessDispatcher runs jobs on a bounded goroutine pool in the same
// process, grounded on the same errgroup.SetLimit shape the LLM
// gateway's chunk fan-out uses, replacing the hand-rolled
// semaphore+sync.WaitGroup pattern horos47/core/jobs/worker.go used in
// the teacher codebase with the idiomatic equivalent.
type InProcessDispatcher struct {
	runner *Runner
	logger *slog.Logger

	group *errgroup.Group
}

// NewInProcessDispatcher builds a dispatcher that executes at most
// concurrency jobs at once via runner.Run.
func NewInProcessDispatcher(runner *Runner, concurrency int, logger *slog.Logger) *InProcessDispatcher {
	if concurrency <= 0 {
		concurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	group := &errgroup.Group{}
	group.SetLimit(concurrency)
	return &InProcessDispatcher{runner: runner, logger: logger, group: group}
}

// Dispatch enqueues jobID to run asynchronously on the bounded pool and
// returns immediately. errgroup.Group.Go blocks while the pool is
// saturated, so it is called from its own goroutine: a job waiting for
// a free slot waits there, not in the caller.
func (d *InProcessDispatcher) Dispatch(ctx context.Context, jobID string) error {
	go d.group.Go(func() error {
		runCtx := context.WithoutCancel(ctx)
		if err := d.runner.Run(runCtx, jobID); err != nil {
			d.logger.Error("job run failed", "job_id", jobID, "error", err)
		}
		return nil
	})
	return nil
}

// RemoteDispatcher issues an HTTP POST to <workerURL>/internal/jobs/<job_id>/run
// bearing a shared secret, grounded directly in
// connectivity.HTTPFactory's SSRF-validated, bounded-read HTTP transport.
type RemoteDispatcher struct {
	workerURL  string
	authToken  string
	httpClient *http.Client
}

// NewRemoteDispatcher validates workerURL is not an SSRF target at
// construction time, the same check connectivity.HTTPFactory performs.
func NewRemoteDispatcher(workerURL, authToken string) (*RemoteDispatcher, error) {
	if err := horosafe.ValidateURL(workerURL); err != nil {
		return nil, fmt.Errorf("job: remote dispatcher: %w", err)
	}
	return &RemoteDispatcher{
		workerURL:  workerURL,
		authToken:  authToken,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type dispatchRequest struct {
	JobID string `json:"job_id"`
}

// Dispatch posts to the worker's internal run endpoint and treats any
// non-2xx response as a dispatch failure, matching spec.md §7 error
// kind 7: "the API transitions the job to ERROR with the dispatch
// message rather than leaving it indefinitely in QUEUED."
func (d *RemoteDispatcher) Dispatch(ctx context.Context, jobID string) error {
	body, err := json.Marshal(dispatchRequest{JobID: jobID})
	if err != nil {
		return fmt.Errorf("job: remote dispatcher: marshal: %w", err)
	}

	url := fmt.Sprintf("%s/internal/jobs/%s/run", d.workerURL, jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("job: remote dispatcher: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.authToken)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("job: remote dispatcher: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := horosafe.LimitedReadAll(resp.Body, horosafe.MaxResponseBody)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("job: remote dispatcher: worker returned %d: %s", resp.StatusCode, respBody)
	}
	return nil
}
