package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Shikha320/Heritageshield/internal/analysis"
	"github.com/Shikha320/Heritageshield/internal/jobs"
	"github.com/Shikha320/Heritageshield/internal/storage"
	"github.com/Shikha320/Heritageshield/internal/store"
)

var mp4Header = []byte("\x00\x00\x00\x18ftypisom\x00\x00\x02\x00isomiso2")

type fakeAnalyzer struct {
	summary *analysis.Summary
	err     error
	calls   []string
}

func (f *fakeAnalyzer) Submit(_ context.Context, videoID string) (*analysis.Summary, error) {
	f.calls = append(f.calls, videoID)
	return f.summary, f.err
}

type fakeRuns struct {
	records  map[string]*jobs.Record
	enqueued []string
	err      error
}

func (f *fakeRuns) Enqueue(_ context.Context, videoID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.enqueued = append(f.enqueued, videoID)
	return "run-1", nil
}

func (f *fakeRuns) GetRecord(_ context.Context, runID string) (*jobs.Record, error) {
	return f.records[runID], nil
}

type fixture struct {
	router   *gin.Engine
	records  *store.MemoryStore
	files    *storage.Local
	dir      string
	analyzer *fakeAnalyzer
	runs     *fakeRuns
}

func newFixture(t *testing.T, withRuns bool) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	files, err := storage.NewLocal(dir, 1<<20)
	require.NoError(t, err)

	f := &fixture{
		records:  store.NewMemoryStore(),
		files:    files,
		dir:      dir,
		analyzer: &fakeAnalyzer{},
		runs:     &fakeRuns{records: map[string]*jobs.Record{}},
	}
	opts := Options{
		Videos:        f.records,
		Alerts:        f.records,
		Files:         files,
		Analyzer:      f.analyzer,
		MaxUploadSize: 1 << 20,
		Log:           zerolog.Nop(),
	}
	if withRuns {
		opts.Runs = f.runs
	}

	f.router = gin.New()
	NewHandler(opts).Register(f.router.Group("/api"))
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) upload(t *testing.T, field, name string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(field, name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/videos", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestVideoUploadListDelete(t *testing.T) {
	f := newFixture(t, false)

	content := append(append([]byte{}, mp4Header...), bytes.Repeat([]byte{0x02}, 1024)...)
	w := f.upload(t, "video", "gate.mp4", content)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	video := decode[store.Video](t, w)
	require.NotEmpty(t, video.ID)
	require.Equal(t, "gate.mp4", video.OriginalName)
	require.Equal(t, store.StatusUploaded, video.Status)
	require.FileExists(t, filepath.Join(f.dir, video.Filename))

	w = f.do(t, http.MethodGet, "/api/videos", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, decode[[]store.Video](t, w), 1)

	w = f.do(t, http.MethodGet, "/api/videos/"+video.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodDelete, "/api/videos/"+video.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "Deleted", decode[map[string]string](t, w)["message"])
	_, err := os.Stat(filepath.Join(f.dir, video.Filename))
	require.True(t, errors.Is(err, os.ErrNotExist))

	w = f.do(t, http.MethodGet, "/api/videos/"+video.ID, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "Video not found", decode[map[string]string](t, w)["error"])
}

func TestVideoUploadRejections(t *testing.T) {
	f := newFixture(t, false)

	w := f.upload(t, "file", "gate.mp4", mp4Header)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "No video file provided", decode[map[string]string](t, w)["error"])

	w = f.upload(t, "video", "notes.txt", []byte("plain text, not a video"))
	require.Equal(t, http.StatusBadRequest, w.Code)

	big := append(append([]byte{}, mp4Header...), bytes.Repeat([]byte{0x03}, 1<<20)...)
	w = f.upload(t, "video", "big.mp4", big)
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	require.Equal(t, "LIMIT_EXCEEDED", decode[map[string]string](t, w)["code"])

	videos, err := f.records.ListVideos(context.Background())
	require.NoError(t, err)
	require.Empty(t, videos)
}

func TestAlertRoutes(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(t, http.MethodPost, "/api/alerts", []byte(`{"message":"Person near exhibit","severity":"HIGH","camera":"Video: hall.mp4"}`))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[store.Alert](t, w)
	require.Equal(t, store.SeverityHigh, created.Severity)
	require.Equal(t, "motion", created.Type)

	w = f.do(t, http.MethodPost, "/api/alerts", []byte(`{"severity":"low"}`))
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "message is required", decode[map[string]string](t, w)["error"])

	w = f.do(t, http.MethodPost, "/api/alerts", []byte(`{"message":"x","severity":"urgent"}`))
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/api/alerts/active", nil)
	require.Len(t, decode[[]store.Alert](t, w), 1)

	w = f.do(t, http.MethodPatch, "/api/alerts/"+created.ID+"/resolve", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, decode[store.Alert](t, w).Resolved)

	w = f.do(t, http.MethodGet, "/api/alerts/active", nil)
	require.Empty(t, decode[[]store.Alert](t, w))

	w = f.do(t, http.MethodGet, "/api/alerts/summary", nil)
	require.Equal(t, store.AlertSummary{Total: 1, Active: 0, Resolved: 1}, decode[store.AlertSummary](t, w))

	w = f.do(t, http.MethodDelete, "/api/alerts/"+created.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodDelete, "/api/alerts/"+created.ID, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "Alert not found", decode[map[string]string](t, w)["error"])

	w = f.do(t, http.MethodPatch, "/api/alerts/missing/resolve", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestAnalyzeVideoMapsErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", &analysis.Error{Kind: analysis.KindNotFound, Message: "video not found"}, http.StatusNotFound, "NOT_FOUND"},
		{"conflict", &analysis.Error{Kind: analysis.KindConflict, Message: "analysis already running"}, http.StatusConflict, "ANALYSIS_IN_PROGRESS"},
		{"unavailable", &analysis.Error{Kind: analysis.KindUnavailable, Message: "busy"}, http.StatusServiceUnavailable, "ANALYSIS_UNAVAILABLE"},
		{"process", &analysis.Error{Kind: analysis.KindProcess, Failure: analysis.FailureNonZeroExit, Message: "Analysis failed", Details: "CUDA out of memory"}, http.StatusInternalServerError, "PROCESS_ERROR"},
		{"parse", &analysis.Error{Kind: analysis.KindParse, Message: "Failed to parse analysis output", Details: "garbage"}, http.StatusInternalServerError, "PARSE_ERROR"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, false)
			f.analyzer.err = tc.err

			w := f.do(t, http.MethodPost, "/api/videos/analyze/v1", nil)
			require.Equal(t, tc.status, w.Code)
			body := decode[map[string]string](t, w)
			require.Equal(t, tc.code, body["code"])
			if ae, ok := tc.err.(*analysis.Error); ok && ae.Details != "" {
				require.Equal(t, ae.Details, body["details"])
			}
		})
	}
}

func TestAnalyzeVideoSuccess(t *testing.T) {
	f := newFixture(t, false)
	f.analyzer.summary = &analysis.Summary{
		JobID:          "v1",
		TotalFrames:    300,
		AnalyzedFrames: 10,
		FPS:            30,
		Summary:        map[string]int{"person": 2},
		Detections:     []json.RawMessage{},
		Alerts:         []store.Alert{},
	}

	w := f.do(t, http.MethodPost, "/api/videos/analyze/v1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []string{"v1"}, f.analyzer.calls)

	body := decode[map[string]any](t, w)
	require.Equal(t, "v1", body["jobId"])
	require.EqualValues(t, 300, body["totalFrames"])
}

func TestAsyncAnalysis(t *testing.T) {
	f := newFixture(t, true)
	video := &store.Video{Filename: "a.mp4", OriginalName: "a.mp4", Status: store.StatusUploaded}
	require.NoError(t, f.records.CreateVideo(context.Background(), video))

	w := f.do(t, http.MethodPost, "/api/videos/"+video.ID+"/analysis", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Equal(t, "run-1", decode[map[string]string](t, w)["runId"])
	require.Equal(t, "/api/analysis/runs/run-1", w.Header().Get("Location"))
	require.Equal(t, []string{video.ID}, f.runs.enqueued)

	w = f.do(t, http.MethodPost, "/api/videos/unknown/analysis", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/api/analysis/runs/run-1", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	f.runs.records["run-1"] = &jobs.Record{RunID: "run-1", VideoID: video.ID, Status: jobs.StatusSucceeded}
	w = f.do(t, http.MethodGet, "/api/analysis/runs/run-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "done", decode[map[string]any](t, w)["status"])
}

func TestAsyncAnalysisDisabled(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(t, http.MethodPost, "/api/videos/v1/analysis", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ok", decode[map[string]any](t, w)["status"])
}
