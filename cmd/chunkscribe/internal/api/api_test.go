package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/chunkscribe/cmd/chunkscribe/internal/middleware"
	"github.com/houzhh15/chunkscribe/cmd/chunkscribe/internal/orchestrator"
	"github.com/houzhh15/chunkscribe/cmd/chunkscribe/internal/orchestrator/health"
	"github.com/houzhh15/chunkscribe/cmd/chunkscribe/internal/orchestrator/whisper"
	"github.com/houzhh15/chunkscribe/cmd/chunkscribe/internal/timeline"
)

type fakeTranscriber struct {
	mu       sync.Mutex
	requests []orchestrator.Request
	err      error
	block    bool

	running atomic.Int32
	peak    atomic.Int32
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, req orchestrator.Request) (*orchestrator.Report, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	time.Sleep(10 * time.Millisecond)
	if f.err != nil {
		return nil, f.err
	}
	tl := timeline.Assemble([]whisper.TranscriptionSegment{
		{Start: 1, End: 2, Text: "hello"},
		{Start: 301, End: 303, Text: "later"},
	})
	manifest, err := timeline.NewWriter(req.OutputDir).Write(timeline.BaseName(req.Source), tl, timeline.RunInfo{
		SourceLocator:   req.Source,
		ModelIdentifier: "small",
		ChunkCount:      2,
		Device:          "cpu",
		ChunksSucceeded: 2,
	})
	if err != nil {
		return nil, err
	}
	return &orchestrator.Report{Manifest: manifest}, nil
}

type fakeService struct {
	name    string
	healthy bool
}

func (p *fakeService) HealthCheck(ctx context.Context) (bool, error) {
	if !p.healthy {
		return false, errors.New("service down")
	}
	return true, nil
}

func (p *fakeService) Name() string { return p.name }

type fakeDecoderState struct {
	name     string
	degraded bool
}

func (d fakeDecoderState) IsDegraded() bool    { return d.degraded }
func (d fakeDecoderState) CurrentName() string { return d.name }

type testServer struct {
	router *gin.Engine
	runner *Runner
	store  *JobStore
	paths  Paths
}

// newTestPaths 在临时目录下准备 input/uploads/out，input 中放几个媒体文件
func newTestPaths(t *testing.T) Paths {
	t.Helper()
	root := t.TempDir()
	paths := Paths{
		InputDir:  filepath.Join(root, "input"),
		UploadDir: filepath.Join(root, "uploads"),
		OutputDir: filepath.Join(root, "out"),
	}
	require.NoError(t, os.MkdirAll(filepath.Join(paths.InputDir, "talks"), 0o755))
	for _, name := range []string{"lecture.mp4", "a.mp4", "b.mp4", "c.mp4", "talks/keynote.mp4"} {
		require.NoError(t, os.WriteFile(filepath.Join(paths.InputDir, name), []byte("media"), 0o644))
	}
	return paths
}

func newTestServer(t *testing.T, tr Transcriber, secret string) *testServer {
	t.Helper()
	return newTestServerWith(t, tr, RouterDeps{JWTSecret: secret, Paths: newTestPaths(t)})
}

func newTestServerWith(t *testing.T, tr Transcriber, deps RouterDeps) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	store := NewJobStore()
	runner := NewRunner(ctx, store, tr, 1)
	t.Cleanup(func() {
		cancel()
		runner.Wait()
	})
	deps.Runner = runner
	deps.Store = store
	return &testServer{
		router: NewRouter(deps),
		runner: runner,
		store:  store,
		paths:  deps.Paths,
	}
}

func decodeAccepted(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var accepted struct {
		JobID  string    `json:"job_id"`
		Status JobStatus `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accepted))
	require.NotEmpty(t, accepted.JobID)
	assert.Equal(t, JobQueued, accepted.Status)
	return accepted.JobID
}

func (s *testServer) do(method, path string, body any, token string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestSubmitAndGetTranscription(t *testing.T) {
	tr := &fakeTranscriber{}
	s := newTestServer(t, tr, "")

	id := decodeAccepted(t, s.do(http.MethodPost, "/api/v1/transcriptions", SubmitRequest{Source: "lecture.mp4", Model: "base"}, ""))
	s.runner.Wait()

	w := s.do(http.MethodGet, "/api/v1/transcriptions/"+id, nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var job Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Equal(t, JobSucceeded, job.Status)
	assert.Equal(t, "anonymous", job.SubmittedBy)
	require.NotNil(t, job.Manifest)
	assert.False(t, job.Partial)
	assert.NotNil(t, job.StartedAt)
	assert.NotNil(t, job.FinishedAt)

	wantSource := filepath.Join(s.paths.InputDir, "lecture.mp4")
	assert.Equal(t, wantSource, job.Manifest.SourceLocator)
	require.Len(t, tr.requests, 1)
	assert.Equal(t, "base", tr.requests[0].Model)
	assert.Equal(t, wantSource, tr.requests[0].Source)
	assert.Equal(t, filepath.Join(s.paths.OutputDir, id), tr.requests[0].OutputDir, "default output dir is per job")
}

func TestSubmitTranscription_OutputSubdir(t *testing.T) {
	tr := &fakeTranscriber{}
	s := newTestServer(t, tr, "")

	decodeAccepted(t, s.do(http.MethodPost, "/api/v1/transcriptions",
		SubmitRequest{Source: "talks/keynote.mp4", OutputDir: "batch/one"}, ""))
	s.runner.Wait()

	require.Len(t, tr.requests, 1)
	assert.Equal(t, filepath.Join(s.paths.InputDir, "talks", "keynote.mp4"), tr.requests[0].Source)
	assert.Equal(t, filepath.Join(s.paths.OutputDir, "batch", "one"), tr.requests[0].OutputDir)
	assert.FileExists(t, filepath.Join(s.paths.OutputDir, "batch", "one", "keynote_full.txt"))
}

func TestSubmitTranscription_RejectsPathsOutsideRoots(t *testing.T) {
	tr := &fakeTranscriber{}
	s := newTestServer(t, tr, "")

	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.mp4"), []byte("x"), 0o644))
	require.NoError(t, os.Symlink(outside, filepath.Join(s.paths.InputDir, "elsewhere")))

	tests := []struct {
		name string
		body SubmitRequest
	}{
		{"parent source", SubmitRequest{Source: "../secret.mp4"}},
		{"nested parent source", SubmitRequest{Source: "talks/../../secret.mp4"}},
		{"absolute source", SubmitRequest{Source: filepath.Join(outside, "secret.mp4")}},
		{"symlinked dir source", SubmitRequest{Source: "elsewhere/secret.mp4"}},
		{"missing source", SubmitRequest{Source: "nope.mp4"}},
		{"parent output", SubmitRequest{Source: "a.mp4", OutputDir: "../escape"}},
		{"absolute output", SubmitRequest{Source: "a.mp4", OutputDir: outside}},
		{"output root itself", SubmitRequest{Source: "a.mp4", OutputDir: "."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(http.MethodPost, "/api/v1/transcriptions", tt.body, "")
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
	assert.Empty(t, s.store.List())
	assert.Empty(t, tr.requests)
}

func TestSubmitTranscription_PathSubmissionsDisabled(t *testing.T) {
	paths := newTestPaths(t)
	paths.InputDir = ""
	tr := &fakeTranscriber{}
	s := newTestServerWith(t, tr, RouterDeps{Paths: paths})

	w := s.do(http.MethodPost, "/api/v1/transcriptions", SubmitRequest{Source: "lecture.mp4"}, "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "upload the file instead")
	assert.Empty(t, tr.requests)
}

func TestSubmitTranscription_Failure(t *testing.T) {
	tr := &fakeTranscriber{err: orchestrator.NewOrchError(orchestrator.ALL_CHUNKS_FAILED, "all chunks failed", nil)}
	s := newTestServer(t, tr, "")

	decodeAccepted(t, s.do(http.MethodPost, "/api/v1/transcriptions", SubmitRequest{Source: "a.mp4"}, ""))
	s.runner.Wait()

	jobs := s.store.List()
	require.Len(t, jobs, 1)
	assert.Equal(t, JobFailed, jobs[0].Status)
	assert.Equal(t, "ALL_CHUNKS_FAILED", jobs[0].ErrorCode)
	assert.Nil(t, jobs[0].Manifest)
}

func TestSubmitTranscription_BadRequest(t *testing.T) {
	s := newTestServer(t, &fakeTranscriber{}, "")

	tests := []struct {
		name string
		body any
	}{
		{"missing source", map[string]string{"model": "small"}},
		{"blank source", SubmitRequest{Source: "   "}},
		{"not json", "nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(http.MethodPost, "/api/v1/transcriptions", tt.body, "")
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
	assert.Empty(t, s.store.List())
}

func TestGetTranscription_NotFound(t *testing.T) {
	s := newTestServer(t, &fakeTranscriber{}, "")
	w := s.do(http.MethodGet, "/api/v1/transcriptions/does-not-exist", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"job not found"}`, w.Body.String())
}

func TestListTranscriptions(t *testing.T) {
	s := newTestServer(t, &fakeTranscriber{}, "")
	for _, src := range []string{"a.mp4", "b.mp4", "c.mp4"} {
		require.Equal(t, http.StatusAccepted, s.do(http.MethodPost, "/api/v1/transcriptions", SubmitRequest{Source: src}, "").Code)
	}
	s.runner.Wait()

	w := s.do(http.MethodGet, "/api/v1/transcriptions", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Jobs  []Job `json:"jobs"`
		Total int   `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Total)
	for _, j := range resp.Jobs {
		assert.Equal(t, JobSucceeded, j.Status)
	}
}

func TestRunner_LimitsConcurrentJobs(t *testing.T) {
	tr := &fakeTranscriber{}
	store := NewJobStore()
	runner := NewRunner(context.Background(), store, tr, 1)

	out := t.TempDir()
	for i := 0; i < 4; i++ {
		runner.Submit(Submission{
			Request: orchestrator.Request{Source: "x.mp4", OutputDir: filepath.Join(out, fmt.Sprint(i))},
			User:    "tester",
		})
	}
	runner.Wait()

	assert.Equal(t, int32(1), tr.peak.Load())
	assert.Len(t, tr.requests, 4)
}

func TestRunner_CancelFailsQueuedJobs(t *testing.T) {
	tr := &fakeTranscriber{block: true}
	store := NewJobStore()
	ctx, cancel := context.WithCancel(context.Background())
	runner := NewRunner(ctx, store, tr, 1)

	first := runner.Submit(Submission{Request: orchestrator.Request{Source: "first.mp4"}, User: "tester"})
	require.Eventually(t, func() bool {
		j, _ := store.Get(first.ID)
		return j.Status == JobRunning
	}, 2*time.Second, 5*time.Millisecond)

	second := runner.Submit(Submission{Request: orchestrator.Request{Source: "second.mp4"}, User: "tester"})
	cancel()
	runner.Wait()

	for _, id := range []string{first.ID, second.ID} {
		j, ok := store.Get(id)
		require.True(t, ok)
		assert.Equal(t, JobFailed, j.Status)
		assert.Contains(t, j.Error, "context canceled")
	}
	j, _ := store.Get(second.ID)
	assert.Nil(t, j.StartedAt, "queued job never started")
}

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ok := health.NewHealthChecker(&fakeService{name: "go-whisper", healthy: true}, time.Hour, 1)
	down := health.NewHealthChecker(&fakeService{name: "ffmpeg", healthy: false}, time.Hour, 1)
	ok.CheckNow(context.Background())
	down.CheckNow(context.Background())

	tests := []struct {
		name       string
		decoder    DecoderState
		checkers   []*health.HealthChecker
		wantStatus string
	}{
		{"all healthy", fakeDecoderState{name: "ffmpeg"}, []*health.HealthChecker{ok}, "ok"},
		{"unhealthy service", fakeDecoderState{name: "ffmpeg"}, []*health.HealthChecker{ok, down}, "degraded"},
		{"decoder fallback", fakeDecoderState{name: "wav-native", degraded: true}, []*health.HealthChecker{ok}, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/health", HandleHealth(tt.decoder, tt.checkers...))
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
			require.Equal(t, http.StatusOK, w.Code)

			var resp HealthResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, tt.decoder.CurrentName(), resp.Decoder)
			assert.Len(t, resp.Services, len(tt.checkers))
		})
	}
}

func TestRouter_Auth(t *testing.T) {
	const secret = "router-secret"
	s := newTestServer(t, &fakeTranscriber{}, secret)

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/v1/health", nil, "").Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/metrics", nil, "").Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/v1/transcriptions", nil, "").Code)
	assert.Equal(t, http.StatusUnauthorized,
		s.do(http.MethodPost, "/api/v1/transcriptions", SubmitRequest{Source: "a.mp4"}, "").Code)

	readOnly, err := middleware.IssueToken([]byte(secret), "bob", nil, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden,
		s.do(http.MethodPost, "/api/v1/transcriptions", SubmitRequest{Source: "a.mp4"}, readOnly).Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/v1/transcriptions", nil, readOnly).Code)

	token, err := middleware.IssueToken([]byte(secret), "alice", []string{middleware.ScopeTranscribe}, time.Hour)
	require.NoError(t, err)

	id := decodeAccepted(t, s.do(http.MethodPost, "/api/v1/transcriptions", SubmitRequest{Source: "a.mp4"}, token))
	s.runner.Wait()

	jobs := s.store.List()
	require.Len(t, jobs, 1)
	assert.Equal(t, "alice", jobs[0].SubmittedBy)

	assert.Equal(t, http.StatusForbidden, s.do(http.MethodDelete, "/api/v1/transcriptions/"+id, nil, readOnly).Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodDelete, "/api/v1/transcriptions/"+id, nil, token).Code)
}
