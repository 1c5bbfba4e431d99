package job

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFSJobStore_PutGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFSJobStore(dir)
	require.NoError(t, err)

	ctx := context.Background()
	j := New(Spec{SourceURL: "https://example.com"}, dir+"/work/x")
	require.NoError(t, store.Put(ctx, j))

	got, err := store.Get(ctx, j.Name)
	require.NoError(t, err)
	require.Equal(t, j.Name, got.Name)
	require.Equal(t, StatusQueued, got.Status)
}

func TestFSJobStore_Get_NotFound(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFSJobStore(dir)
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "jobs/does-not-exist")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFSJobStore_Update_AppliesFnAndPersists(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFSJobStore(dir)
	require.NoError(t, err)

	ctx := context.Background()
	j := New(Spec{SourceURL: "https://example.com"}, dir+"/work/x")
	require.NoError(t, store.Put(ctx, j))

	updated, err := store.Update(ctx, j.Name, func(job *Job) {
		job.Advance(StageCrawl, "crawling")
	})
	require.NoError(t, err)
	require.Equal(t, StatusRunning, updated.Status)

	reread, err := store.Get(ctx, j.Name)
	require.NoError(t, err)
	require.Equal(t, StatusRunning, reread.Status)
}

func TestFSJobStore_List_ReturnsAllPutJobs(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFSJobStore(dir)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		j := New(Spec{SourceURL: "https://example.com"}, dir+"/work")
		require.NoError(t, store.Put(ctx, j))
	}

	jobs, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
}

func TestFSJobStore_DeleteExpired_RemovesOnlyTerminalAndStale(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFSJobStore(dir)
	require.NoError(t, err)

	ctx := context.Background()

	stale := New(Spec{SourceURL: "https://example.com"}, dir+"/work/stale")
	stale.Finish("artifact.zip", "jobs/stale/artifact")
	stale.UpdatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, store.Put(ctx, stale))

	fresh := New(Spec{SourceURL: "https://example.com"}, dir+"/work/fresh")
	fresh.Finish("artifact.zip", "jobs/fresh/artifact")
	require.NoError(t, store.Put(ctx, fresh))

	running := New(Spec{SourceURL: "https://example.com"}, dir+"/work/running")
	running.Advance(StageCrawl, "crawling")
	running.UpdatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, store.Put(ctx, running))

	removed, err := store.DeleteExpired(ctx, time.Now(), 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = store.Get(ctx, stale.Name)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = store.Get(ctx, fresh.Name)
	require.NoError(t, err)

	_, err = store.Get(ctx, running.Name)
	require.NoError(t, err)
}
