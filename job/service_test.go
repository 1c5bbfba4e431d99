package job

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, dispatcher Dispatcher) (*Service, JobStore) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewFSJobStore(dir)
	require.NoError(t, err)
	svc, err := NewService(Config{
		Store:      store,
		Artifacts:  newMemArtifactStore(),
		Dispatcher: dispatcher,
		DataDir:    dir,
	})
	require.NoError(t, err)
	return svc, store
}

func TestNewService_RequiresCollaborators(t *testing.T) {
	_, err := NewService(Config{DataDir: "/tmp"})
	require.Error(t, err)

	_, err = NewService(Config{
		Store:      &FSJobStore{},
		Artifacts:  newMemArtifactStore(),
		Dispatcher: &stubDispatcher{},
	})
	require.Error(t, err, "missing DataDir must be rejected")
}

func TestService_CreateJob_RequiresSourceURL(t *testing.T) {
	svc, _ := newTestService(t, &stubDispatcher{})
	_, err := svc.CreateJob(context.Background(), Spec{})
	require.Error(t, err)
}

func TestService_CreateJob_PersistsAndDispatches(t *testing.T) {
	d := &stubDispatcher{}
	svc, store := newTestService(t, d)

	j, err := svc.CreateJob(context.Background(), Spec{SourceURL: "https://example.com"})
	require.NoError(t, err)
	require.Equal(t, StatusQueued, j.Status)
	require.Equal(t, []string{j.ID()}, d.calls)

	got, err := store.Get(context.Background(), j.Name)
	require.NoError(t, err)
	require.Equal(t, j.Name, got.Name)
}

func TestService_CreateJob_DispatchFailureTransitionsToError(t *testing.T) {
	d := &stubDispatcher{err: assert.AnError}
	svc, store := newTestService(t, d)

	j, err := svc.CreateJob(context.Background(), Spec{SourceURL: "https://example.com"})
	require.NoError(t, err, "a dispatch failure is recorded on the job, not returned as a CreateJob error")
	require.Equal(t, StatusError, j.Status)

	got, err := store.Get(context.Background(), j.Name)
	require.NoError(t, err)
	require.Equal(t, StatusError, got.Status)
}

func TestService_GetJob_NotFound(t *testing.T) {
	svc, _ := newTestService(t, &stubDispatcher{})
	_, err := svc.GetJob(context.Background(), "jobs/missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestService_ListJobs_ReturnsCreatedJobs(t *testing.T) {
	svc, _ := newTestService(t, &stubDispatcher{})
	_, err := svc.CreateJob(context.Background(), Spec{SourceURL: "https://example.com/a"})
	require.NoError(t, err)
	_, err = svc.CreateJob(context.Background(), Spec{SourceURL: "https://example.com/b"})
	require.NoError(t, err)

	jobs, err := svc.ListJobs(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 2)
}

func TestService_GenerateJobDownloadUrl_RequiresDoneStatus(t *testing.T) {
	svc, _ := newTestService(t, &stubDispatcher{})
	j, err := svc.CreateJob(context.Background(), Spec{SourceURL: "https://example.com"})
	require.NoError(t, err)

	_, _, err = svc.GenerateJobDownloadUrl(context.Background(), j.Name)
	require.Error(t, err)
}

func TestService_GenerateJobDownloadUrl_SucceedsWhenDone(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFSJobStore(dir)
	require.NoError(t, err)
	artifacts := newMemArtifactStore()
	svc, err := NewService(Config{
		Store:       store,
		Artifacts:   artifacts,
		Dispatcher:  &stubDispatcher{},
		DataDir:     dir,
		DownloadTTL: time.Minute,
	})
	require.NoError(t, err)

	j := New(Spec{SourceURL: "https://example.com"}, dir+"/work/x")
	require.NoError(t, store.Put(context.Background(), j))
	require.NoError(t, artifacts.Put(context.Background(), j.ID(), strings.NewReader("zip-bytes")))
	_, err = store.Update(context.Background(), j.Name, func(job *Job) {
		job.Finish(dir+"/work/x/artifact.zip", j.Name+"/artifact")
	})
	require.NoError(t, err)

	url, expires, err := svc.GenerateJobDownloadUrl(context.Background(), j.Name)
	require.NoError(t, err)
	require.NotEmpty(t, url)
	require.True(t, expires.After(time.Now()))
}
