package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"highlightflow/internal/models"
	"highlightflow/internal/orchestrator"
	"highlightflow/internal/storage"
)

type fakePipeline struct {
	start       orchestrator.StartResult
	feedbackErr error
	gotItems    []models.FeedbackItem
	gotUpload   string
	gotFile     string
}

func (f *fakePipeline) CreateProject(_ context.Context, in orchestrator.CreateProjectInput) (models.Project, error) {
	if in.OwnerID == "" {
		return models.Project{}, fmt.Errorf("owner_id is required: %w", orchestrator.ErrInvalidProject)
	}
	return models.Project{ProjectID: "p1", OwnerID: in.OwnerID, Status: models.ProjectQueued}, nil
}

func (f *fakePipeline) AttachSource(_ context.Context, projectID, filename string, r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.gotUpload, f.gotFile = string(b), filename
	return "uploads/" + projectID + "/source.mp4", nil
}

func (f *fakePipeline) StartPipeline(context.Context, string) (orchestrator.StartResult, error) {
	return f.start, nil
}

func (f *fakePipeline) GetStatus(_ context.Context, projectID string) (orchestrator.Status, error) {
	if projectID == "missing" {
		return orchestrator.Status{}, storage.ErrNotFound
	}
	return orchestrator.Status{ProjectID: projectID, Status: models.ProjectReady, Cost: 0.25, Segments: []models.Segment{}}, nil
}

func (f *fakePipeline) SubmitFeedback(_ context.Context, _ string, items []models.FeedbackItem) (orchestrator.FeedbackResult, error) {
	f.gotItems = items
	if f.feedbackErr != nil {
		return orchestrator.FeedbackResult{}, f.feedbackErr
	}
	return orchestrator.FeedbackResult{Applied: len(items)}, nil
}

type fakeProjects struct{}

func (fakeProjects) Get(_ context.Context, id string) (models.Project, error) {
	return models.Project{ProjectID: id}, nil
}

func newTestServer(p *fakePipeline) http.Handler {
	return NewServer(p, fakeProjects{}, 0, zerolog.Nop()).Routes()
}

func TestStartMapsAcceptance(t *testing.T) {
	p := &fakePipeline{start: orchestrator.StartResult{Accepted: true, RunID: "r1"}}
	h := newTestServer(p)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/projects/p1/start", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)

	p.start = orchestrator.StartResult{Accepted: false, Reason: "pipeline already running"}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/projects/p1/start", nil))
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "pipeline already running")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/projects/p1/start", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStatusAndNotFound(t *testing.T) {
	h := newTestServer(&fakePipeline{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/projects/p1/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var st orchestrator.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	require.Equal(t, 0.25, st.Cost)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/projects/missing/status", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "HF-API-4004")
}

func TestFeedbackErrors(t *testing.T) {
	p := &fakePipeline{}
	h := newTestServer(p)

	body := `{"items":[{"segment_id":"s1","verdict":"accept"}]}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/projects/p1/feedback", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []models.FeedbackItem{{SegmentID: "s1", Verdict: models.VerdictAccept}}, p.gotItems)

	p.feedbackErr = orchestrator.ErrRunInProgress
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/projects/p1/feedback", strings.NewReader(body)))
	require.Equal(t, http.StatusConflict, rec.Code)

	p.feedbackErr = fmt.Errorf("%w: feedback references unknown segment: zz", orchestrator.ErrInvalidFeedback)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/projects/p1/feedback", strings.NewReader(body)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "does not exist")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/projects/p1/feedback", strings.NewReader("{")))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateProjectAndSourceUpload(t *testing.T) {
	p := &fakePipeline{}
	h := newTestServer(p)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/projects", strings.NewReader(`{"owner_id":"o1","content_type":"gaming"}`)))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/projects", strings.NewReader(`{}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("note", "ignored"))
	fw, err := mw.CreateFormFile("file", "match.mp4")
	require.NoError(t, err)
	_, err = fw.Write([]byte("video-bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/projects/p1/source", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "video-bytes", p.gotUpload)
	require.Equal(t, "match.mp4", p.gotFile)
}

func TestCORSPreflight(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(&fakePipeline{}).ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/projects", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
