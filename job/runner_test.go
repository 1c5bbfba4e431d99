package job

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/sitebookify/sitebookify/dbopen"
	"github.com/sitebookify/sitebookify/observability"
)

func TestRunner_Run_RefusesNonQueuedJob(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFSJobStore(dir)
	require.NoError(t, err)
	artifacts := newMemArtifactStore()

	j := New(Spec{SourceURL: "http://127.0.0.1:1/"}, dir+"/work/x")
	j.Status = StatusRunning
	require.NoError(t, store.Put(context.Background(), j))

	runner := NewRunner(store, artifacts, nil)
	err = runner.Run(context.Background(), j.ID())
	require.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestRunner_Run_RefusesExistingWorkDir(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFSJobStore(dir)
	require.NoError(t, err)
	artifacts := newMemArtifactStore()

	workDir := dir + "/work/x"
	require.NoError(t, os.MkdirAll(workDir, 0o755))

	j := New(Spec{SourceURL: "http://127.0.0.1:1/"}, workDir)
	require.NoError(t, store.Put(context.Background(), j))

	runner := NewRunner(store, artifacts, nil)
	err = runner.Run(context.Background(), j.ID())
	require.ErrorIs(t, err, ErrWorkspaceExists)

	got, err := store.Get(context.Background(), j.Name)
	require.NoError(t, err)
	require.Equal(t, StatusError, got.Status)
}

func TestRunner_Run_CrawlFailureMarksJobError(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFSJobStore(dir)
	require.NoError(t, err)
	artifacts := newMemArtifactStore()

	// A loopback start URL trips horosafe's SSRF guard inside crawl.Run
	// immediately, exercising the fail() path without network access.
	j := New(Spec{SourceURL: "http://127.0.0.1:1/"}, dir+"/work/x")
	require.NoError(t, store.Put(context.Background(), j))

	runner := NewRunner(store, artifacts, nil)
	err = runner.Run(context.Background(), j.ID())
	require.Error(t, err)

	got, err := store.Get(context.Background(), j.Name)
	require.NoError(t, err)
	require.Equal(t, StatusError, got.Status)
	require.NotEmpty(t, got.Message)
}

func TestRunner_Run_RecordsObservabilityOnFailure(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFSJobStore(dir)
	require.NoError(t, err)
	artifacts := newMemArtifactStore()

	obsDB := dbopen.OpenMemory(t)
	require.NoError(t, observability.Init(obsDB))
	audit := observability.NewAuditLogger(obsDB, 8)
	metrics := observability.NewMetricsManager(obsDB, 8, time.Hour)
	defer metrics.Close()

	j := New(Spec{SourceURL: "http://127.0.0.1:1/"}, dir+"/work/x")
	require.NoError(t, store.Put(context.Background(), j))

	runner := NewRunner(store, artifacts, nil, WithObservability(audit, metrics))
	err = runner.Run(context.Background(), j.ID())
	require.Error(t, err)

	// Close drains the async buffer, so the audit entry is guaranteed
	// visible to Query afterward.
	require.NoError(t, audit.Close())

	entries, err := audit.Query(context.Background(), &observability.AuditFilter{})
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	require.Equal(t, "job_runner", entries[0].ComponentName)
}
