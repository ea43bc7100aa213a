package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/contentvec/internal/ai"
	"github.com/xxxsen/contentvec/internal/model"
	appErr "github.com/xxxsen/contentvec/internal/pkg/errors"
	"github.com/xxxsen/contentvec/internal/pkg/response"
	"github.com/xxxsen/contentvec/internal/repo"
	"github.com/xxxsen/contentvec/internal/service"
)

type downDB struct{}

func (downDB) Ping(ctx context.Context) error { return errors.New("connection refused") }

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "content.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	tbl, err := service.NewSchemaService(db, service.SchemaConfig{}).EnsureTable(ctx)
	require.NoError(t, err)

	gen := ai.NewEmbeddingGenerator(ai.NewEmbedder(ai.NewHashingEmbedProvider(model.EmbeddingDimension), "test"), ai.GeneratorConfig{})
	index := service.NewIndexService(tbl, 256)
	records := service.NewRecordService(tbl, index)
	ingest := service.NewIngestService(records, gen, nil, service.IngestConfig{Concurrency: 4})
	search := service.NewSearchService(tbl, gen, service.SearchConfig{})

	r := gin.New()
	RegisterRoutes(r.Group("/"), RouterDeps{
		Content: NewContentHandler(ingest, records, 3),
		Search:  NewSearchHandler(search),
		Index:   NewIndexHandler(index),
		Health:  NewHealthHandler(db),

		SearchLimit: time.Minute,
	})
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) response.ErrorBody {
	t.Helper()
	var env response.ErrorEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env.Error
}

func TestContentLifecycle(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/embeddings", map[string]interface{}{
		"id":           "doc-1",
		"content_type": "text",
		"title":        "Harbor",
		"content_text": "boats at night",
		"references":   []string{"a"},
		"metadata":     map[string]interface{}{"lang": "en"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	require.JSONEq(t, `{"success":true,"id":"doc-1"}`, w.Body.String())

	w = doJSON(t, r, http.MethodGet, "/embeddings/doc-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rec model.ContentRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	require.Equal(t, "Harbor boats at night", rec.CombinedText)
	require.Empty(t, rec.Embedding)
	require.Equal(t, "en", rec.Metadata["lang"])

	w = doJSON(t, r, http.MethodGet, "/embeddings/doc-1?include_embedding=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	require.Len(t, rec.Embedding, model.EmbeddingDimension)

	w = doJSON(t, r, http.MethodGet, "/embeddings/doc-1?include_embedding=maybe", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodDelete, "/embeddings/doc-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"success":true,"id":"doc-1"}`, w.Body.String())

	w = doJSON(t, r, http.MethodGet, "/embeddings/doc-1", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "not_found", decodeError(t, w).Kind)
}

func TestCreateRejectsBadPayloads(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/embeddings", `{"id":`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "validation", decodeError(t, w).Kind)

	w = doJSON(t, r, http.MethodPost, "/embeddings", map[string]interface{}{"id": "x", "content_type": "spreadsheet", "content_text": "a"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "validation", decodeError(t, w).Kind)

	w = doJSON(t, r, http.MethodPost, "/embeddings", map[string]interface{}{"id": "x", "content_text": "   "})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "content_empty", decodeError(t, w).Kind)
}

func TestBulk(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/embeddings/bulk", []map[string]interface{}{
		{"id": "a", "content_text": "alpha"},
		{"id": "b", "content_text": "beta"},
		{"id": "c", "content_text": ""},
	})
	require.Equal(t, http.StatusOK, w.Code)
	var body bulkResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.False(t, body.Success)
	require.Equal(t, 2, body.Count)
	require.Equal(t, 1, body.ErrorCount)

	w = doJSON(t, r, http.MethodPost, "/embeddings/bulk", []map[string]interface{}{
		{"content_text": "no id one"},
		{"content_text": "no id two"},
		{"id": "d", "content_text": "delta"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	body = bulkResponse{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	require.Equal(t, 2, body.ErrorCount)
	require.Zero(t, body.Duplicates)

	w = doJSON(t, r, http.MethodPost, "/embeddings/bulk", `[]`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	items := make([]map[string]interface{}, 4)
	for i := range items {
		items[i] = map[string]interface{}{"id": fmt.Sprintf("i%d", i), "content_text": "x"}
	}
	w = doJSON(t, r, http.MethodPost, "/embeddings/bulk", items)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchAndIndex(t *testing.T) {
	r := newTestRouter(t)
	for _, id := range []string{"sunset", "harbor", "forest"} {
		w := doJSON(t, r, http.MethodPost, "/embeddings", map[string]interface{}{
			"id": id, "content_type": "image", "content_text": id + " photo",
		})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := doJSON(t, r, http.MethodPost, "/search", map[string]interface{}{"query": "harbor photo", "limit": 2})
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Results []model.ScoredRecord `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Results, 2)
	require.Equal(t, "harbor", body.Results[0].ID)
	require.Empty(t, body.Results[0].Embedding)
	require.False(t, strings.Contains(w.Body.String(), `"embedding"`))

	w = doJSON(t, r, http.MethodPost, "/search", map[string]interface{}{"query": "x", "content_types": []string{"video"}})
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	w = doJSON(t, r, http.MethodGet, "/index/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"row_count":3,"has_index":false,"min_rows":256}`, w.Body.String())

	w = doJSON(t, r, http.MethodPost, "/index/ensure", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"indexed":false}`, w.Body.String())
}

func TestHealthAndReady(t *testing.T) {
	r := newTestRouter(t)
	w := doJSON(t, r, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	w = doJSON(t, r, http.MethodGet, "/ready", nil)
	require.Equal(t, http.StatusOK, w.Code)

	gin.SetMode(gin.TestMode)
	down := gin.New()
	down.GET("/ready", NewHealthHandler(downDB{}).Ready)
	w = doJSON(t, down, http.MethodGet, "/ready", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMapError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{appErr.Invalid("limit", "bad"), http.StatusBadRequest, "validation"},
		{&appErr.ContentEmptyError{DescriptorID: "x"}, http.StatusBadRequest, "content_empty"},
		{fmt.Errorf("get: %w", appErr.ErrNotFound), http.StatusNotFound, "not_found"},
		{fmt.Errorf("%w: wrong type", appErr.ErrSchemaMismatch), http.StatusServiceUnavailable, "schema_mismatch"},
		{appErr.ErrIndex, http.StatusInternalServerError, "index"},
		{appErr.ErrTooMany, http.StatusTooManyRequests, "too_many_requests"},
		{&ai.ProviderError{Kind: ai.KindQuotaExceeded}, http.StatusBadGateway, "quota_exceeded"},
		{&ai.ProviderError{Kind: ai.KindInvalidCredentials}, http.StatusBadGateway, "invalid_credentials"},
		{&ai.ProviderError{Kind: ai.KindRateLimited}, http.StatusTooManyRequests, "rate_limited"},
		{&ai.ProviderError{Kind: ai.KindTransient}, http.StatusBadGateway, "transient"},
		{&ai.ProviderError{Kind: ai.KindMalformedResponse}, http.StatusBadGateway, "malformed_response"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		m := mapError(tc.err)
		require.Equal(t, tc.status, m.status, tc.kind)
		require.Equal(t, tc.kind, m.kind)
	}
}
