package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/partlab/partscope/internal/config"
	"github.com/partlab/partscope/internal/pipeline"
	"github.com/partlab/partscope/internal/session"
	memorysource "github.com/partlab/partscope/internal/source/memory"
	memorystore "github.com/partlab/partscope/internal/store/memory"
	"github.com/partlab/partscope/internal/tracker"
)

type fakeSubmitter struct {
	next atomic.Int64
}

func (f *fakeSubmitter) Submit(context.Context, session.JobInput) (string, error) {
	return fmt.Sprintf("job-%d", f.next.Add(1)), nil
}

type apiFixture struct {
	server *Server
	source *memorysource.Source
	repo   *memorystore.SnapshotStore
}

func newTestServer(t *testing.T, cfg config.Config) *apiFixture {
	t.Helper()
	catalog := pipeline.DefaultCatalog()
	source := memorysource.New()
	repo := memorystore.New()
	manager := session.NewManager(&fakeSubmitter{}, source, catalog, session.Config{
		QueueSize: 32,
		Logger:    zap.NewNop(),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = manager.Shutdown(ctx)
	})
	return &apiFixture{
		server: NewServer(manager, repo, catalog, cfg, zap.NewNop(), nil),
		source: source,
		repo:   repo,
	}
}

func TestServer_SubmitAnalysis_Succeeds(t *testing.T) {
	t.Parallel()

	fx := newTestServer(t, config.Config{})
	reqBody := []byte(`{"artifact_url":"https://example.com/part.jpg"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/analyses", bytes.NewReader(reqBody))
	rec := httptest.NewRecorder()

	fx.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), "job-1")
}

func TestServer_SubmitAnalysis_InvalidJSON(t *testing.T) {
	t.Parallel()

	fx := newTestServer(t, config.Config{})
	req := httptest.NewRequest(http.MethodPost, "/v1/analyses", bytes.NewBufferString("{invalid"))
	rec := httptest.NewRecorder()

	fx.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_SubmitAnalysis_MissingArtifact(t *testing.T) {
	t.Parallel()

	fx := newTestServer(t, config.Config{})
	req := httptest.NewRequest(http.MethodPost, "/v1/analyses", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()

	fx.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "artifact_url")
}

func TestServer_GetProgress_LiveSession(t *testing.T) {
	t.Parallel()

	fx := newTestServer(t, config.Config{})
	reqBody := []byte(`{"artifact_url":"https://example.com/part.jpg"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/analyses", bytes.NewReader(reqBody))
	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var submitted map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	jobID := submitted["job_id"]

	fx.source.Publish(jobID, tracker.StageEvent{
		RawStage: "part_identifier",
		Status:   tracker.StatusInProgress,
		Message:  "matching against catalog",
	})

	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/analyses/"+jobID+"/progress", nil)
		fx.server.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			return false
		}
		var dto progressDTO
		if err := json.Unmarshal(rec.Body.Bytes(), &dto); err != nil {
			return false
		}
		return dto.OverallStatus == "analyzing" && dto.OverallPercent > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_GetProgress_StoreFallback(t *testing.T) {
	t.Parallel()

	fx := newTestServer(t, config.Config{})
	snap := tracker.Snapshot{
		OverallStatus:  tracker.OverallCompleted,
		OverallPercent: 100,
	}
	require.NoError(t, fx.repo.SaveSnapshot(context.Background(), "job-done", snap, time.Now()))

	req := httptest.NewRequest(http.MethodGet, "/v1/analyses/job-done/progress", nil)
	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "completed")
}

func TestServer_GetProgress_NotFound(t *testing.T) {
	t.Parallel()

	fx := newTestServer(t, config.Config{})
	req := httptest.NewRequest(http.MethodGet, "/v1/analyses/missing/progress", nil)
	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ListAnalyses_FiltersByStatus(t *testing.T) {
	t.Parallel()

	fx := newTestServer(t, config.Config{})
	ctx := context.Background()
	require.NoError(t, fx.repo.SaveSnapshot(ctx, "job-a", tracker.Snapshot{
		OverallStatus: tracker.OverallCompleted, OverallPercent: 100,
	}, time.Now()))
	require.NoError(t, fx.repo.SaveSnapshot(ctx, "job-b", tracker.Snapshot{
		OverallStatus: tracker.OverallError, OverallPercent: 30, ErrorMessage: "boom",
	}, time.Now()))

	req := httptest.NewRequest(http.MethodGet, "/v1/analyses?status=error", nil)
	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "job-b")
	require.NotContains(t, rec.Body.String(), "job-a")
}

func TestServer_ListAnalyses_InvalidLimit(t *testing.T) {
	t.Parallel()

	fx := newTestServer(t, config.Config{})
	req := httptest.NewRequest(http.MethodGet, "/v1/analyses?limit=nope", nil)
	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_CancelAnalysis(t *testing.T) {
	t.Parallel()

	fx := newTestServer(t, config.Config{})
	reqBody := []byte(`{"artifact_url":"https://example.com/part.jpg"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/analyses", bytes.NewReader(reqBody))
	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var submitted map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	jobID := submitted["job_id"]

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/v1/analyses/"+jobID+"/cancel", nil)
	fx.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/analyses/"+jobID+"/progress", nil)
		fx.server.Handler().ServeHTTP(rec, req)
		var dto progressDTO
		if err := json.Unmarshal(rec.Body.Bytes(), &dto); err != nil {
			return false
		}
		return dto.OverallStatus == "error" && dto.Error == "cancelled"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_CancelAnalysis_NotFound(t *testing.T) {
	t.Parallel()

	fx := newTestServer(t, config.Config{})
	req := httptest.NewRequest(http.MethodPost, "/v1/analyses/missing/cancel", nil)
	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	fx := newTestServer(t, config.Config{
		Auth: config.AuthConfig{Enabled: true, APIKey: "sekrit"},
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/analyses", nil)
	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/analyses", nil)
	req.Header.Set("X-API-Key", "sekrit")
	rec = httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// Health stays open without a key.
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec = httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_StreamEvents_EndsAtTerminalSnapshot(t *testing.T) {
	t.Parallel()

	fx := newTestServer(t, config.Config{})
	reqBody := []byte(`{"artifact_url":"https://example.com/part.jpg"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/analyses", bytes.NewReader(reqBody))
	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var submitted map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	jobID := submitted["job_id"]

	fx.source.Publish(jobID, tracker.StageEvent{
		RawStage: "email_agent",
		Status:   tracker.StatusCompleted,
	})
	sess, ok := fx.server.manager.Get(jobID)
	require.True(t, ok)
	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not reach terminal snapshot")
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/analyses/"+jobID+"/events", nil)
	fx.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Body.String(), "event: progress")
	require.Contains(t, rec.Body.String(), `"overall_status":"completed"`)
}

func TestServer_StreamEvents_UnknownJob(t *testing.T) {
	t.Parallel()

	fx := newTestServer(t, config.Config{})
	req := httptest.NewRequest(http.MethodGet, "/v1/analyses/missing/events", nil)
	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ProgressDTOCarriesDisplayNames(t *testing.T) {
	t.Parallel()

	fx := newTestServer(t, config.Config{})
	snap := tracker.Snapshot{
		Stages: []tracker.StageState{
			{ID: pipeline.StagePartIdentifier, Status: tracker.StatusInProgress},
		},
		OverallStatus:  tracker.OverallAnalyzing,
		OverallPercent: 17.5,
	}
	dto := fx.server.toProgressDTO("job-x", snap)
	require.Len(t, dto.Stages, 1)
	require.Equal(t, "part_identifier", dto.Stages[0].ID)
	require.NotEmpty(t, dto.Stages[0].Name)
	require.NotEqual(t, dto.Stages[0].ID, dto.Stages[0].Name)
}
