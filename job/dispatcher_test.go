package job

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInProcessDispatcher_RunsJobAsynchronously(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFSJobStore(dir)
	require.NoError(t, err)
	artifacts := newMemArtifactStore()

	ctx := context.Background()
	// A loopback start URL trips horosafe's SSRF guard inside crawl.Run
	// immediately, so this exercises the dispatch-to-terminal-state path
	// without any real network access.
	j := New(Spec{SourceURL: "http://127.0.0.1:1/"}, dir+"/work/x")
	require.NoError(t, store.Put(ctx, j))

	runner := NewRunner(store, artifacts, nil)
	d := NewInProcessDispatcher(runner, 2, nil)
	require.NoError(t, d.Dispatch(ctx, j.ID()))

	require.Eventually(t, func() bool {
		got, err := store.Get(ctx, j.Name)
		require.NoError(t, err)
		return got.Status != StatusQueued
	}, 5*time.Second, 10*time.Millisecond)

	got, err := store.Get(ctx, j.Name)
	require.NoError(t, err)
	require.Equal(t, StatusError, got.Status)
}

func TestNewRemoteDispatcher_RejectsUnsafeURL(t *testing.T) {
	_, err := NewRemoteDispatcher("http://169.254.169.254/", "secrettokensecrettoken12")
	require.Error(t, err)
}

// These two tests exercise Dispatch's HTTP behavior directly against an
// httptest server, which horosafe.ValidateURL would reject as an SSRF
// target since it binds to loopback — so they build the RemoteDispatcher
// by hand rather than through NewRemoteDispatcher, the same way
// in-package white-box tests elsewhere in this codebase reach past a
// constructor's validation to test the thing the validation wraps.

func TestRemoteDispatcher_Dispatch_PostsToWorkerRunEndpoint(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := &RemoteDispatcher{workerURL: srv.URL, authToken: "secrettokensecrettoken12", httpClient: srv.Client()}

	require.NoError(t, d.Dispatch(context.Background(), "job-123"))
	require.Equal(t, "/internal/jobs/job-123/run", gotPath)
	require.Equal(t, "Bearer secrettokensecrettoken12", gotAuth)
}

func TestRemoteDispatcher_Dispatch_NonOKIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := &RemoteDispatcher{workerURL: srv.URL, authToken: "secrettokensecrettoken12", httpClient: srv.Client()}

	err := d.Dispatch(context.Background(), "job-123")
	require.Error(t, err)
}
