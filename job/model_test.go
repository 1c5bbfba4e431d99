package job

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_DefaultsSpecAndGeneratesID(t *testing.T) {
	j := New(Spec{SourceURL: "https://example.com"}, "/tmp/work")
	require.Equal(t, StatusQueued, j.Status)
	require.Equal(t, 0, j.ProgressPercent)
	require.Equal(t, 50, j.Spec.MaxPages)
	require.Equal(t, "init", j.Spec.TOCEngine)
	require.Equal(t, "noop", j.Spec.RenderEngine)
	require.NotEmpty(t, j.ID())
	require.Equal(t, "jobs/"+j.ID(), j.Name)
}

func TestJob_ID_StripsJobsPrefix(t *testing.T) {
	j := &Job{Name: "jobs/abc123"}
	require.Equal(t, "abc123", j.ID())

	j2 := &Job{Name: "abc123"}
	require.Equal(t, "abc123", j2.ID())
}

func TestAdvance_NeverLowersProgressAndMarksRunning(t *testing.T) {
	j := New(Spec{SourceURL: "https://example.com"}, "/tmp/work")
	require.Nil(t, j.StartedAt)

	j.Advance(StageManifest, "building manifest")
	require.Equal(t, StatusRunning, j.Status)
	require.NotNil(t, j.StartedAt)
	require.Equal(t, StageProgress[StageManifest], j.ProgressPercent)

	// Stage checkpoints are fixed, so advancing to an earlier-named stage
	// (e.g. a retried crawl) must not lower progress_percent.
	j.Advance(StageCrawl, "retrying crawl")
	require.Equal(t, StageProgress[StageManifest], j.ProgressPercent)
}

func TestFinish_ForcesProgressTo100(t *testing.T) {
	j := New(Spec{SourceURL: "https://example.com"}, "/tmp/work")
	j.Advance(StageCrawl, "crawling")
	j.Finish("/tmp/work/artifact.zip", "jobs/x/artifact")
	require.Equal(t, StatusDone, j.Status)
	require.Equal(t, 100, j.ProgressPercent)
	require.Empty(t, j.Message)
	require.NotNil(t, j.FinishedAt)
	require.Equal(t, "jobs/x/artifact", j.ArtifactRef)
}

func TestFail_SetsErrorStatusAndMessage(t *testing.T) {
	j := New(Spec{SourceURL: "https://example.com"}, "/tmp/work")
	j.Fail("crawl: dial tcp: connection refused")
	require.Equal(t, StatusError, j.Status)
	require.Equal(t, "crawl: dial tcp: connection refused", j.Message)
	require.NotNil(t, j.FinishedAt)
}

func TestStageOrder_MatchesStageProgressKeys(t *testing.T) {
	require.Len(t, StageOrder, len(StageProgress))
	for _, stage := range StageOrder {
		_, ok := StageProgress[stage]
		require.True(t, ok, "stage %s missing from StageProgress", stage)
	}
}
