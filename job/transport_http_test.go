package job

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestTransport(t *testing.T) (*Transport, *Service, JobStore) {
	t.Helper()
	svc, store := newTestService(t, &stubDispatcher{})
	return NewTransport(svc, nil, "workertoken", nil), svc, store
}

func TestTransport_Healthz(t *testing.T) {
	tr, _, _ := newTestTransport(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	tr.Router(nil).ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestTransport_CreateAndGetJob(t *testing.T) {
	tr, _, _ := newTestTransport(t)
	router := tr.Router(nil)

	body, err := json.Marshal(createJobRequest{SourceURL: "https://example.com"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)

	var created Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.Name)

	getReq := httptest.NewRequest(http.MethodGet, "/jobs/"+created.ID(), nil)
	getW := httptest.NewRecorder()
	router.ServeHTTP(getW, getReq)
	require.Equal(t, http.StatusOK, getW.Code)
}

func TestTransport_GetJob_NotFound(t *testing.T) {
	tr, _, _ := newTestTransport(t)
	router := tr.Router(nil)

	req := httptest.NewRequest(http.MethodGet, "/jobs/does-not-exist", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestTransport_ListJobs(t *testing.T) {
	tr, svc, _ := newTestTransport(t)
	_, err := svc.CreateJob(t.Context(), Spec{SourceURL: "https://example.com"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	w := httptest.NewRecorder()
	tr.Router(nil).ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string][]Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp["jobs"], 1)
}

func TestTransport_HandleInternalRun_RequiresValidToken(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFSJobStore(dir)
	require.NoError(t, err)
	artifacts := newMemArtifactStore()
	svc, err := NewService(Config{Store: store, Artifacts: artifacts, Dispatcher: &stubDispatcher{}, DataDir: dir})
	require.NoError(t, err)
	runner := NewRunner(store, artifacts, nil)
	tr := NewTransport(svc, runner, "workertoken", nil)

	j := New(Spec{SourceURL: "http://127.0.0.1:1/"}, dir+"/work/x")
	require.NoError(t, store.Put(t.Context(), j))

	router := tr.InternalRouter(nil)

	req := httptest.NewRequest(http.MethodPost, "/internal/jobs/"+j.ID()+"/run", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/internal/jobs/"+j.ID()+"/run", nil)
	req2.Header.Set("Authorization", "Bearer workertoken")
	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, req2)
	// The job errors out fast (SSRF-blocked loopback start URL) but the
	// endpoint itself must accept the authenticated request.
	require.NotEqual(t, http.StatusUnauthorized, w2.Code)
}

func TestTransport_HandleInternalRun_NoRunnerConfigured(t *testing.T) {
	tr, _, _ := newTestTransport(t) // built with runner=nil, as the API binary does
	router := tr.InternalRouter(nil)

	req := httptest.NewRequest(http.MethodPost, "/internal/jobs/x/run", nil)
	req.Header.Set("Authorization", "Bearer workertoken")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestTransport_Preview_RejectsInvalidURL(t *testing.T) {
	tr, _, _ := newTestTransport(t)
	router := tr.Router(nil)

	req := httptest.NewRequest(http.MethodPost, "/preview", strings.NewReader(`{"url":"not a url"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTransport_DownloadArtifact_WithoutFSBacking404s(t *testing.T) {
	tr, _, _ := newTestTransport(t) // fsArtifacts is nil
	router := tr.Router(nil)

	req := httptest.NewRequest(http.MethodGet, "/artifacts/x", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}
