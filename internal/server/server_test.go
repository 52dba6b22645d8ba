package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kubilitics/kubilitics-investigator/internal/artifact"
	"github.com/kubilitics/kubilitics-investigator/internal/cache"
	"github.com/kubilitics/kubilitics-investigator/internal/config"
	"github.com/kubilitics/kubilitics-investigator/internal/db"
	"github.com/kubilitics/kubilitics-investigator/internal/integration/reasoning"
	"github.com/kubilitics/kubilitics-investigator/internal/reasoning/engine"
	"github.com/kubilitics/kubilitics-investigator/internal/reasoning/investigation"
	"github.com/kubilitics/kubilitics-investigator/internal/reasoning/lifecycle"
)

// stubClassifier returns a fixed classification or err.
type stubClassifier struct {
	mu  sync.Mutex
	err error
}

func (c *stubClassifier) Classify(context.Context, reasoning.ClassifyRequest) (*investigation.Classification, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	return &investigation.Classification{Summary: "classified", Category: investigation.EvidenceSymptoms}, nil
}

type testServer struct {
	srv        *Server
	handler    http.Handler
	classifier *stubClassifier
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}

	store, err := db.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	classifier := &stubClassifier{}
	eng, err := engine.NewEngine(engine.Deps{
		Store:      store,
		Cache:      cache.NewSnapshotCache(16, time.Minute),
		Artifacts:  artifact.NewMemoryStore(),
		Classifier: classifier,
		Logger:     zaptest.NewLogger(t),
	}, engine.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(eng.Close)

	srv, err := NewServer(cfg, Deps{Engine: eng, Store: store, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	t.Cleanup(srv.limiter.Stop)

	return &testServer{srv: srv, handler: srv.Handler(), classifier: classifier}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rdr)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) create(t *testing.T) string {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/v1/investigations", map[string]string{"problem": "checkout fails with 502"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var body struct {
		Investigation investigation.Investigation `json:"investigation"`
		StreamURL     string                      `json:"stream_url"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.Investigation.ID)
	assert.Equal(t, "/ws/investigations/"+body.Investigation.ID, body.StreamURL)
	return body.Investigation.ID
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

var optIn = map[string]any{
	"turn_id":   "t1",
	"problem":   map[string]any{"statement": "checkout fails with 502", "confirmed": true},
	"decisions": map[string]any{"opt_into_investigation": true},
}

func TestNewServerRequiresDeps(t *testing.T) {
	_, err := NewServer(nil, Deps{})
	assert.Error(t, err)
	_, err = NewServer(config.DefaultConfig(), Deps{})
	assert.Error(t, err)
}

func TestCreateGetList(t *testing.T) {
	ts := newTestServer(t, nil)
	id := ts.create(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/investigations/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var inv investigation.Investigation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &inv))
	assert.Equal(t, id, inv.ID)
	assert.Equal(t, investigation.PhaseIntake, inv.CurrentPhase)

	rec = ts.do(t, http.MethodGet, "/api/v1/investigations?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Investigations []engine.Summary `json:"investigations"`
		Count          int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, id, list.Investigations[0].ID)
}

func TestListRejectsBadPaging(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodGet, "/api/v1/investigations?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/v1/investigations?offset=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetUnknownInvestigation(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodGet, "/api/v1/investigations/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decodeError(t, rec).Error, "not found")
}

func TestTurnApplies(t *testing.T) {
	ts := newTestServer(t, nil)
	id := ts.create(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/investigations/"+id+"/turns", optIn)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out engine.TurnOutcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, investigation.PhaseTriage, out.Investigation.CurrentPhase)
	assert.Equal(t, investigation.StatusInvestigating, out.Investigation.Status)
	assert.Equal(t, "t1", out.Result.TurnID)

	// Same turn id replays.
	rec = ts.do(t, http.MethodPost, "/api/v1/investigations/"+id+"/turns", optIn)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.True(t, out.Result.Replayed)
}

func TestTurnWithUpload(t *testing.T) {
	ts := newTestServer(t, nil)
	id := ts.create(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/investigations/"+id+"/turns", map[string]any{
		"turn_id": "t1",
		"uploads": []map[string]any{{"content": []byte("nginx error log"), "note": "error log"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out engine.TurnOutcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Investigation.Evidence, 1)
	assert.Equal(t, artifact.Ref([]byte("nginx error log")), out.Investigation.Evidence[0].ContentRef)
}

func TestTurnErrors(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(t *testing.T, ts *testServer, id string)
		body     any
		path     func(id string) string
		status   int
		code     string
		withRecs bool
	}{
		{
			name:   "malformed body",
			body:   "{not json",
			status: http.StatusBadRequest,
		},
		{
			name:   "empty evidence submission",
			body:   map[string]any{"turn_id": "t2", "evidence": []map[string]any{{}}},
			status: http.StatusBadRequest,
		},
		{
			name:   "unknown investigation",
			path:   func(string) string { return "/api/v1/investigations/missing/turns" },
			body:   optIn,
			status: http.StatusNotFound,
		},
		{
			name: "invalid edge",
			setup: func(t *testing.T, ts *testServer, id string) {
				rec := ts.do(t, http.MethodPost, "/api/v1/investigations/"+id+"/turns", optIn)
				require.Equal(t, http.StatusOK, rec.Code)
			},
			body:   map[string]any{"turn_id": "t2", "transition": map[string]any{"to": 4}},
			status: http.StatusConflict,
			code:   string(investigation.GuardInvalidEdge),
		},
		{
			name: "closed investigation",
			setup: func(t *testing.T, ts *testServer, id string) {
				rec := ts.do(t, http.MethodPost, "/api/v1/investigations/"+id+"/turns", map[string]any{
					"turn_id":   "close",
					"decisions": map[string]any{"force_close": true, "close_reason": "duplicate"},
				})
				require.Equal(t, http.StatusOK, rec.Code)
			},
			body:     map[string]any{"turn_id": "late", "evidence": []map[string]any{{"text": "more logs"}}},
			status:   http.StatusGone,
			code:     string(investigation.GuardTerminalPhase),
			withRecs: true,
		},
		{
			name: "reasoning service down",
			setup: func(t *testing.T, ts *testServer, id string) {
				ts.classifier.mu.Lock()
				ts.classifier.err = reasoning.ErrUnavailable
				ts.classifier.mu.Unlock()
			},
			body:   map[string]any{"turn_id": "t2", "evidence": []map[string]any{{"text": "screenshot"}}},
			status: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			id := ts.create(t)
			if tt.setup != nil {
				tt.setup(t, ts, id)
			}
			path := "/api/v1/investigations/" + id + "/turns"
			if tt.path != nil {
				path = tt.path(id)
			}

			rec := ts.do(t, http.MethodPost, path, tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			body := decodeError(t, rec)
			assert.NotEmpty(t, body.Error)
			assert.Equal(t, tt.code, body.Code)
			if tt.withRecs {
				require.NotNil(t, body.Result)
				require.NotEmpty(t, body.Result.Recommendations)
				assert.Equal(t, investigation.RecommendOpenNewInvestigation, body.Result.Recommendations[0].Kind)
			}
		})
	}
}

func TestTurnRateLimited(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) {
		cfg.RateLimit.RequestsPerMinute = 1
		cfg.RateLimit.Burst = 1
	})
	id := ts.create(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/investigations/"+id+"/turns", optIn)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/investigations/"+id+"/turns", map[string]any{"turn_id": "t2"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Reads are not limited.
	rec = ts.do(t, http.MethodGet, "/api/v1/investigations/"+id, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodDelete, "/api/v1/investigations", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var health map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, "sqlite", health["database"])
	assert.Contains(t, health, "schema_version")

	ts.create(t)
	rec = ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "investigator_investigations_created_total")
}

func TestStatusFor(t *testing.T) {
	terminal := &investigation.GuardError{Code: investigation.GuardTerminalPhase}
	guard := &investigation.GuardError{Code: investigation.GuardInvalidEdge}

	tests := []struct {
		err  error
		want int
	}{
		{terminal, http.StatusGone},
		{fmt.Errorf("wrapped: %w", terminal), http.StatusGone},
		{guard, http.StatusConflict},
		{fmt.Errorf("%w: x", engine.ErrConflict), http.StatusConflict},
		{fmt.Errorf("%w: x", engine.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: x", lifecycle.ErrInvalidTurn), http.StatusBadRequest},
		{fmt.Errorf("%w: x", engine.ErrServiceUnavailable), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
