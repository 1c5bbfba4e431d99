package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sitebookify/sitebookify/shield"
)

// Transport wires a Service onto a chi router: the public RPC surface
// (CreateJob, GetJob, ListJobs, GenerateJobDownloadUrl, Preview), the
// static download/book endpoints, and the internal worker-dispatch
// endpoint RemoteDispatcher calls.
type Transport struct {
	svc               *Service
	runner            *Runner // non-nil on the worker binary, used by handleInternalRun
	internalAuthToken string
	fsArtifacts       *FSArtifactStore // non-nil only when the FS backing is in use, for VerifyDownloadToken
}

// NewTransport builds a Transport. internalAuthToken must match the
// token NewRemoteDispatcher was built with; runner is required only if
// InternalRouter will be mounted (i.e. on the worker binary).
func NewTransport(svc *Service, runner *Runner, internalAuthToken string, fsArtifacts *FSArtifactStore) *Transport {
	return &Transport{svc: svc, runner: runner, internalAuthToken: internalAuthToken, fsArtifacts: fsArtifacts}
}

// Router builds the public-facing chi.Router, with shield's standard
// API middleware stack applied ahead of route registration.
func (t *Transport) Router(stack []func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	for _, mw := range stack {
		r.Use(mw)
	}

	r.Get("/healthz", t.handleHealthz)
	r.Post("/jobs", t.handleCreateJob)
	r.Get("/jobs", t.handleListJobs)
	r.Get("/jobs/{id}", t.handleGetJob)
	r.Get("/jobs/{id}/download", t.handleGenerateDownloadURL)
	r.Get("/artifacts/{id}", t.handleDownloadArtifact)
	r.Post("/preview", t.handlePreview)
	return r
}

// InternalRouter builds the worker-only router exposing
// POST /internal/jobs/{id}/run, guarded by the shared dispatch token
// rather than shield's public rate limiter (DefaultWorkerStack).
func (t *Transport) InternalRouter(stack []func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	for _, mw := range stack {
		r.Use(mw)
	}
	r.Post("/internal/jobs/{id}/run", t.handleInternalRun)
	return r
}

func (t *Transport) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createJobRequest struct {
	SourceURL     string `json:"source_url"`
	MaxPages      int    `json:"max_pages"`
	MaxDepth      int    `json:"max_depth"`
	Concurrency   int    `json:"concurrency"`
	DelayMS       int    `json:"delay_ms"`
	Title         string `json:"title"`
	Language      string `json:"language"`
	Tone          string `json:"tone"`
	TOCEngine     string `json:"toc_engine"`
	RenderEngine  string `json:"render_engine"`
	RewritePrompt string `json:"rewrite_prompt"`
}

func (t *Transport) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	spec := Spec{
		SourceURL:     req.SourceURL,
		MaxPages:      req.MaxPages,
		MaxDepth:      req.MaxDepth,
		Concurrency:   req.Concurrency,
		DelayMS:       req.DelayMS,
		Title:         req.Title,
		Language:      req.Language,
		Tone:          req.Tone,
		TOCEngine:     req.TOCEngine,
		RenderEngine:  req.RenderEngine,
		RewritePrompt: req.RewritePrompt,
	}

	j, err := t.svc.CreateJob(r.Context(), spec)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusAccepted, j)
}

func (t *Transport) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	j, err := t.svc.GetJob(r.Context(), "jobs/"+id)
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (t *Transport) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := t.svc.ListJobs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (t *Transport) handleGenerateDownloadURL(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	url, expires, err := t.svc.GenerateJobDownloadUrl(r.Context(), "jobs/"+id)
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"download_url": url,
		"expires_at":   expires,
	})
}

// handleDownloadArtifact serves the FS-backed artifact.zip directly,
// verifying the signed query-string token. GCS-backed deployments
// never route here: GenerateJobDownloadUrl hands out a real
// storage.SignedURL pointing straight at the bucket.
func (t *Transport) handleDownloadArtifact(w http.ResponseWriter, r *http.Request) {
	if t.fsArtifacts == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("job: static download not available with this artifact backing"))
		return
	}
	id := chi.URLParam(r, "id")
	token := r.URL.Query().Get("token")
	if err := t.fsArtifacts.VerifyDownloadToken(id, token); err != nil {
		writeError(w, http.StatusForbidden, err)
		return
	}

	rc, err := t.fsArtifacts.Open(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+id+`.zip"`)
	if _, err := io.Copy(w, rc); err != nil {
		shield.GetLogger(r.Context()).Error("job: stream artifact failed", "job_id", id, "error", err)
	}
}

type previewRequest struct {
	URL string `json:"url"`
}

func (t *Transport) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := t.svc.Preview(r.Context(), req.URL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleInternalRun is RemoteDispatcher's counterpart: it checks the
// shared dispatch token and, once the token matches, runs the
// pipeline synchronously on this request's goroutine — the caller is
// another trusted service, not an end user, so blocking the HTTP
// response for the full pipeline duration is acceptable here.
func (t *Transport) handleInternalRun(w http.ResponseWriter, r *http.Request) {
	if !validBearer(r, t.internalAuthToken) {
		writeError(w, http.StatusUnauthorized, fmt.Errorf("job: invalid dispatch token"))
		return
	}
	if t.runner == nil {
		writeError(w, http.StatusNotImplemented, fmt.Errorf("job: this process has no runner configured"))
		return
	}
	id := chi.URLParam(r, "id")
	if err := t.runner.Run(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func validBearer(r *http.Request, want string) bool {
	if want == "" {
		return false
	}
	got := r.Header.Get("Authorization")
	return got == "Bearer "+want
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

