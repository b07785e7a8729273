package http

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
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smoosense/smoosense/internal/config"
	"github.com/smoosense/smoosense/internal/dataset"
	"github.com/smoosense/smoosense/internal/engine"
	apperrors "github.com/smoosense/smoosense/internal/errors"
	"github.com/smoosense/smoosense/internal/query/executor"
	"github.com/smoosense/smoosense/internal/resolver"
	"github.com/smoosense/smoosense/internal/schema"
	"github.com/smoosense/smoosense/internal/service"
	"github.com/smoosense/smoosense/internal/session"
	"github.com/smoosense/smoosense/internal/storage"
)

func write(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
}

func newTestRouter(t *testing.T, cfg RouterConfig) http.Handler {
	t.Helper()
	root := t.TempDir()

	var b strings.Builder
	b.WriteString("id,label,image_path\n")
	for i := 0; i < 120; i++ {
		fmt.Fprintf(&b, "%d,label-%d,./img/%d.jpg\n", i, i%3, i)
	}
	write(t, filepath.Join(root, "items.csv"), b.String())
	write(t, filepath.Join(root, "mixed", "a.csv"), "x\n1\n")
	write(t, filepath.Join(root, "mixed", "b.json"), `{"x": 2}`+"\n")
	write(t, filepath.Join(root, "img", "0.jpg"), "0123456789")

	res, err := resolver.New(root)
	require.NoError(t, err)
	eng, err := engine.Open(config.EngineConfig{Workers: 2, Threads: 1, QueryTimeout: 30 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	sessions := session.NewManager(config.SessionConfig{BusyPolicy: config.BusyReject, MaxSessions: 8})
	t.Cleanup(sessions.Close)

	rowCounts := dataset.NewRowCountCache(res, 0)
	svc := service.New(service.Deps{
		Engine:    eng,
		Registry:  dataset.NewRegistry(res),
		Inspector: schema.NewInspector(eng, nil, schema.Config{}),
		Sessions:  sessions,
		Executor:  executor.New(eng, rowCounts, executor.Config{DefaultPageSize: 50, MaxPageSize: 500, QueryTimeout: 30 * time.Second}),
		RowCounts: rowCounts,
		Linker:    storage.NewMediaLinker(NormalizePrefix(cfg.Prefix)+"/api/file", nil),
	}, service.Config{MaxFileBytes: 1024})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewRouter(ctx, svc, cfg)
}

func do(t *testing.T, h http.Handler, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v), rec.Body.String())
}

type cellBody struct {
	Value interface{} `json:"value"`
	Tag   string      `json:"tag"`
	Href  string      `json:"href"`
}

type pageBody struct {
	Session      string       `json:"session"`
	Rows         [][]cellBody `json:"rows"`
	SemanticTags []string     `json:"semantic_tags"`
	NextCursor   string       `json:"next_cursor"`
	Done         bool         `json:"done"`
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperrors.NewInvalidPathError("../x", "escapes root"), http.StatusBadRequest},
		{apperrors.NewValidationError("bad"), http.StatusBadRequest},
		{apperrors.NewInvalidCursorError("garbage"), http.StatusBadRequest},
		{apperrors.NewReadOnlyError("DELETE"), http.StatusBadRequest},
		{apperrors.NewNotFoundError("x.csv", nil), http.StatusNotFound},
		{apperrors.NewSessionNotFoundError("tok"), http.StatusNotFound},
		{apperrors.NewSessionBusyError("tok"), http.StatusConflict},
		{apperrors.NewAmbiguousDatasetError("mixed", []string{"csv", "json"}), http.StatusConflict},
		{apperrors.NewSessionExpiredError("tok"), http.StatusGone},
		{apperrors.NewSchemaInferenceError("x", "x.csv", errors.New("boom")), http.StatusUnprocessableEntity},
		{apperrors.NewQueryError([]string{"x"}, errors.New("boom")), http.StatusUnprocessableEntity},
		{apperrors.NewUnsupportedFormatError("x.bin"), http.StatusUnprocessableEntity},
		{apperrors.NewCancelledError(), StatusClientClosedRequest},
		{apperrors.NewTimeoutError(time.Second), http.StatusGatewayTimeout},
		{apperrors.NewSessionLimitError(4), http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{context.Canceled, StatusClientClosedRequest},
		{apperrors.NewInternalError("boom", nil), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), "%v", tt.err)
	}
}

func TestErrorResponse_HidesInternalCause(t *testing.T) {
	resp := errorResponse(apperrors.NewInternalError("write failed", errors.New("disk detail")), http.StatusInternalServerError, "req-1")
	assert.Equal(t, "internal server error", resp.Error)
	assert.Equal(t, apperrors.CodeUnexpected, resp.Code)
	assert.Equal(t, "req-1", resp.RequestID)

	resp = errorResponse(apperrors.NewQueryError([]string{"items.csv"}, errors.New("column nope not found")), http.StatusUnprocessableEntity, "")
	assert.Contains(t, resp.Error, "column nope not found")
	assert.Equal(t, apperrors.CodeQueryFailed, resp.Code)
}

func TestRouter_QueryPaginates(t *testing.T) {
	h := newTestRouter(t, RouterConfig{})

	req := service.QueryRequest{
		SQL:      "SELECT * FROM items ORDER BY id",
		Datasets: []service.DatasetRef{{Path: "items.csv"}},
		PageSize: 50,
	}
	var sizes []int
	for i := 0; i < 5; i++ {
		rec := do(t, h, http.MethodPost, "/api/query", req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var page pageBody
		decode(t, rec, &page)
		sizes = append(sizes, len(page.Rows))
		if page.Done {
			break
		}
		req.Session, req.Cursor = page.Session, page.NextCursor
	}
	assert.Equal(t, []int{50, 50, 20}, sizes)
}

func TestRouter_QueryTagsMedia(t *testing.T) {
	h := newTestRouter(t, RouterConfig{Prefix: "/smoo/"})
	rec := do(t, h, http.MethodPost, "/smoo/api/query", service.QueryRequest{
		SQL:      "SELECT image_path FROM items ORDER BY id LIMIT 1",
		Datasets: []service.DatasetRef{{Path: "items.csv"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var page pageBody
	decode(t, rec, &page)
	assert.Equal(t, []string{"image"}, page.SemanticTags)
	require.Len(t, page.Rows, 1)
	assert.Equal(t, "/smoo/api/file?base=items.csv&path=.%2Fimg%2F0.jpg", page.Rows[0][0].Href)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/ls", nil).Code)
}

func TestRouter_Errors(t *testing.T) {
	h := newTestRouter(t, RouterConfig{})

	tests := []struct {
		name   string
		method string
		target string
		body   interface{}
		status int
		code   string
	}{
		{"traversal", http.MethodGet, "/api/schema?path=../etc/passwd", nil, http.StatusBadRequest, apperrors.CodeInvalidPath},
		{"ambiguous", http.MethodGet, "/api/schema?path=mixed", nil, http.StatusConflict, apperrors.CodeAmbiguousDataset},
		{"missing dataset", http.MethodGet, "/api/info?path=nope.csv", nil, http.StatusNotFound, apperrors.CodeNotFound},
		{"bad sql", http.MethodPost, "/api/query", service.QueryRequest{
			SQL: "SELECT nope FROM items", Datasets: []service.DatasetRef{{Path: "items.csv"}},
		}, http.StatusUnprocessableEntity, apperrors.CodeQueryFailed},
		{"write sql", http.MethodPost, "/api/query", service.QueryRequest{
			SQL: "DELETE FROM items", Datasets: []service.DatasetRef{{Path: "items.csv"}},
		}, http.StatusBadRequest, apperrors.CodeReadOnly},
		{"missing sql", http.MethodPost, "/api/query", map[string]string{}, http.StatusBadRequest, apperrors.CodeInvalidRequest},
		{"unknown session", http.MethodPost, "/api/query", service.QueryRequest{Session: "nope", SQL: "SELECT 1"},
			http.StatusNotFound, apperrors.CodeSessionNotFound},
		{"bad limit", http.MethodGet, "/api/history?limit=x", nil, http.StatusBadRequest, apperrors.CodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.target, tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())

			var body ErrorResponse
			decode(t, rec, &body)
			assert.Equal(t, tt.code, body.Code)
			assert.NotEmpty(t, body.Error)
			assert.NotEmpty(t, body.RequestID)
		})
	}
}

func TestRouter_InvalidBody(t *testing.T) {
	h := newTestRouter(t, RouterConfig{})
	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_SessionLifecycle(t *testing.T) {
	h := newTestRouter(t, RouterConfig{})

	rec := do(t, h, http.MethodPost, "/api/sessions", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var info struct {
		Token string `json:"token"`
		State string `json:"state"`
	}
	decode(t, rec, &info)
	require.NotEmpty(t, info.Token)
	assert.Equal(t, "idle", info.State)

	rec = do(t, h, http.MethodGet, "/api/sessions/"+info.Token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/sessions/"+info.Token+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cancelled map[string]bool
	decode(t, rec, &cancelled)
	assert.False(t, cancelled["cancelled"])

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/api/sessions/"+info.Token, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodDelete, "/api/sessions/"+info.Token, nil).Code)
}

func TestRouter_BrowseAndDatasets(t *testing.T) {
	h := newTestRouter(t, RouterConfig{})

	rec := do(t, h, http.MethodGet, "/api/ls", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Entries []struct {
			Name   string `json:"name"`
			Format string `json:"format"`
		} `json:"entries"`
	}
	decode(t, rec, &listing)
	names := make([]string, len(listing.Entries))
	for i, e := range listing.Entries {
		names[i] = e.Name
	}
	assert.Equal(t, []string{"img", "mixed", "items.csv"}, names)
	assert.Equal(t, "csv", listing.Entries[2].Format)

	rec = do(t, h, http.MethodGet, "/api/datasets?path=mixed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var candidates struct {
		Datasets []struct {
			Format string `json:"format"`
		} `json:"datasets"`
	}
	decode(t, rec, &candidates)
	assert.Len(t, candidates.Datasets, 2)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/datasets", nil).Code)
}

func TestRouter_SchemaAndPreview(t *testing.T) {
	h := newTestRouter(t, RouterConfig{})

	rec := do(t, h, http.MethodGet, "/api/schema?path=items.csv", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sch struct {
		TableName string `json:"table_name"`
		Schema    struct {
			Columns []struct {
				Name     string `json:"name"`
				Semantic string `json:"semantic"`
			} `json:"columns"`
		} `json:"schema"`
	}
	decode(t, rec, &sch)
	assert.Equal(t, "items", sch.TableName)
	require.Len(t, sch.Schema.Columns, 3)
	assert.Equal(t, "image", sch.Schema.Columns[2].Semantic)

	rec = do(t, h, http.MethodGet, "/api/preview?path=items.csv&page_size=7", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var page pageBody
	decode(t, rec, &page)
	assert.Len(t, page.Rows, 7)
	assert.False(t, page.Done)
	assert.NotEmpty(t, page.NextCursor)
}

func TestRouter_FileServing(t *testing.T) {
	h := newTestRouter(t, RouterConfig{})

	rec := do(t, h, http.MethodGet, "/api/file?path=img/0.jpg", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "0123456789", rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/file?base=items.csv&path=./img/0.jpg", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/file?path=img/0.jpg", nil)
	req.Header.Set("Range", "bytes=2-4")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "234", rec.Body.String())

	// items.csv is above the 1024 byte bound.
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/file?path=items.csv", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/file?path=img", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/file?path=../../etc/passwd", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/file", nil).Code)
}

func TestRouter_HistoryDisabledAndStats(t *testing.T) {
	h := newTestRouter(t, RouterConfig{})

	rec := do(t, h, http.MethodGet, "/api/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var hist map[string][]interface{}
	decode(t, rec, &hist)
	assert.Empty(t, hist["queries"])

	do(t, h, http.MethodGet, "/api/schema?path=items.csv", nil)
	rec = do(t, h, http.MethodGet, "/api/stats?top=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats struct {
		TopDatasets []struct {
			DatasetID string `json:"dataset_id"`
		} `json:"top_datasets"`
		Datasets int `json:"datasets"`
	}
	decode(t, rec, &stats)
	assert.Equal(t, 1, stats.Datasets)
	require.Len(t, stats.TopDatasets, 1)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	h := newTestRouter(t, RouterConfig{Version: "1.2.3"})

	rec := do(t, h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var health map[string]string
	decode(t, rec, &health)
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, "1.2.3", health["version"])

	rec = do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "smoosense_sessions_active")
}

func TestRouter_RequestIDs(t *testing.T) {
	h := newTestRouter(t, RouterConfig{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "abc", rec.Header().Get("X-Correlation-ID"))

	rec = do(t, h, http.MethodGet, "/health", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRouter_RateLimitsAPI(t *testing.T) {
	h := newTestRouter(t, RouterConfig{RateLimit: 0.01, RateBurst: 2})

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/ls", nil).Code)
	}
	rec := do(t, h, http.MethodGet, "/api/ls", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	var body ErrorResponse
	decode(t, rec, &body)
	assert.True(t, body.Retryable)

	// Health checks are not limited.
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", nil).Code)
}

func TestRouter_CORS(t *testing.T) {
	h := newTestRouter(t, RouterConfig{CORSOrigins: []string{"http://localhost:3000"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/query", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecoveryMiddleware(t *testing.T) {
	h := ChainMiddleware(RequestIDMiddleware, RecoveryMiddleware)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body ErrorResponse
	decode(t, rec, &body)
	assert.Equal(t, "internal server error", body.Error)
	assert.NotEmpty(t, body.RequestID)
}

func TestNormalizePrefix(t *testing.T) {
	for in, want := range map[string]string{"": "", "/": "", "smoo": "/smoo", "/smoo/": "/smoo", "/a/b": "/a/b"} {
		assert.Equal(t, want, NormalizePrefix(in), in)
	}
}
