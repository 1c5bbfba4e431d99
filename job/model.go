// Package job implements the asynchronous job service (C10), the
// dispatcher and worker runner (C11), and the JobStore/ArtifactStore
// persistence layer (C12): a Job is created, persisted, dispatched to
// a worker that drives C1 through C8, and its artifact becomes
// downloadable once the run reaches the Done state.
package job

import (
	"errors"
	"time"

	"github.com/sitebookify/sitebookify/idgen"
)

// Status is a job's lifecycle state. Terminal states (Done, Error) are
// immutable: once reached, a Job is never mutated again in place.
type Status string

const (
	StatusQueued  Status = "QUEUED"
	StatusRunning Status = "RUNNING"
	StatusDone    Status = "DONE"
	StatusError   Status = "ERROR"
)

// Stage names the pipeline boundary progress is reported at, in order.
// Percentages are fixed checkpoints, not estimates, so "progress_percent
// is non-decreasing" is a property the runner can't violate by accident.
type Stage string

const (
	StageCrawl       Stage = "crawl"
	StageExtract     Stage = "extract"
	StageManifest    Stage = "manifest"
	StageTOC         Stage = "toc"
	StageBookInit    Stage = "book init"
	StageBookRender  Stage = "book render"
	StageBookBundle  Stage = "book bundle"
	StageBookEPUB    Stage = "book epub"
	StageDone        Stage = "done"
)

// StageProgress is the fixed percentage checkpoint for each stage,
// supplementing spec.md's stage list with the concrete values named in
// the original implementation's runner plus an added "book epub" step
// (spec.md §4.10 lists it between bundle and done; the original
// implementation predates EPUB export and has no equivalent stage).
var StageProgress = map[Stage]int{
	StageCrawl:      5,
	StageExtract:    25,
	StageManifest:   40,
	StageTOC:        55,
	StageBookInit:   65,
	StageBookRender: 75,
	StageBookBundle: 90,
	StageBookEPUB:   95,
	StageDone:       100,
}

// StageOrder lists stages in the order the runner executes them, used
// to assert progress_percent never regresses.
var StageOrder = []Stage{
	StageCrawl, StageExtract, StageManifest, StageTOC,
	StageBookInit, StageBookRender, StageBookBundle, StageBookEPUB, StageDone,
}

// ErrNotFound is returned by JobStore.Get/ArtifactStore.Open when the
// named job or artifact does not exist.
var ErrNotFound = errors.New("job: not found")

// ErrWorkspaceExists is returned by the runner when a job's work_dir
// already exists, the job-level expression of the write-once snapshot
// discipline spec.md applies to RawFetch/ExtractedPage.
var ErrWorkspaceExists = errors.New("job: workspace already exists")

// ErrAlreadyRunning guards CAS re-entry: a job can only transition
// QUEUED -> RUNNING once.
var ErrAlreadyRunning = errors.New("job: already running or finished")

// Spec is the immutable request a caller supplies to CreateJob. Every
// crawler bound spec.md's C2 already requires as input (max_pages,
// max_depth, concurrency, delay_ms) travels through here end to end,
// alongside the already-named language/tone/toc_engine/render_engine
// and an optional book title override.
type Spec struct {
	SourceURL string `json:"source_url"`

	MaxPages    int `json:"max_pages"`
	MaxDepth    int `json:"max_depth"`
	Concurrency int `json:"concurrency"`
	DelayMS     int `json:"delay_ms"`

	Title    string `json:"title,omitempty"`
	Language string `json:"language,omitempty"`
	Tone     string `json:"tone,omitempty"`

	TOCEngine    string `json:"toc_engine,omitempty"`    // "init" | "llm"
	RenderEngine string `json:"render_engine,omitempty"` // "noop" | "openai" | "command"

	RewritePrompt string `json:"rewrite_prompt,omitempty"`
}

// Defaults fills zero-valued crawler bounds with sane defaults so a
// caller supplying only source_url still gets a bounded crawl.
func (s Spec) Defaults() Spec {
	if s.MaxPages <= 0 {
		s.MaxPages = 50
	}
	if s.MaxDepth <= 0 {
		s.MaxDepth = 3
	}
	if s.Concurrency <= 0 {
		s.Concurrency = 4
	}
	if s.DelayMS < 0 {
		s.DelayMS = 0
	}
	if s.TOCEngine == "" {
		s.TOCEngine = "init"
	}
	if s.RenderEngine == "" {
		s.RenderEngine = "noop"
	}
	return s
}

// Job is the persisted state of one pipeline run, the unit JobStore
// reads and writes. WorkDir and ArtifactPath are internal bookkeeping,
// never echoed in an RPC response (ArtifactRef is, once Done).
type Job struct {
	Name string `json:"name"` // "jobs/<uuid>"
	Spec Spec   `json:"spec"`

	Status          Status `json:"status"`
	ProgressPercent int    `json:"progress_percent"`
	Message         string `json:"message,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	WorkDir      string `json:"work_dir"`
	ArtifactPath string `json:"artifact_path,omitempty"`
	ArtifactRef  string `json:"artifact_ref,omitempty"`
}

// New builds a QUEUED Job for spec, generating a UUIDv7 job id the same
// way every other id-bearing component in this codebase does
// (idgen.Default, ecosystem convention).
func New(spec Spec, workDir string) *Job {
	now := time.Now().UTC()
	return &Job{
		Name:            "jobs/" + idgen.New(),
		Spec:            spec.Defaults(),
		Status:          StatusQueued,
		ProgressPercent: 0,
		CreatedAt:       now,
		UpdatedAt:       now,
		WorkDir:         workDir,
	}
}

// ID extracts the bare uuid from Name ("jobs/<uuid>" -> "<uuid>").
func (j *Job) ID() string {
	const prefix = "jobs/"
	if len(j.Name) > len(prefix) && j.Name[:len(prefix)] == prefix {
		return j.Name[len(prefix):]
	}
	return j.Name
}

// Advance moves the job to stage, bumping progress_percent to the
// stage's fixed checkpoint and, on the first call, setting StartedAt
// and marking the job RUNNING. It never lowers progress_percent.
func (j *Job) Advance(stage Stage, message string) {
	if j.StartedAt == nil {
		now := time.Now().UTC()
		j.StartedAt = &now
		j.Status = StatusRunning
	}
	if pct, ok := StageProgress[stage]; ok && pct > j.ProgressPercent {
		j.ProgressPercent = pct
	}
	j.Message = message
	j.UpdatedAt = time.Now().UTC()
}

// Finish marks the job Done, forcing progress to 100.
func (j *Job) Finish(artifactPath, artifactRef string) {
	now := time.Now().UTC()
	j.Status = StatusDone
	j.ProgressPercent = 100
	j.Message = ""
	j.ArtifactPath = artifactPath
	j.ArtifactRef = artifactRef
	j.FinishedAt = &now
	j.UpdatedAt = now
}

// Fail marks the job Error with a human-readable message. Terminal
// states are immutable once written back through JobStore.
func (j *Job) Fail(message string) {
	now := time.Now().UTC()
	j.Status = StatusError
	j.Message = message
	j.FinishedAt = &now
	j.UpdatedAt = now
}
