package router_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-screener-go/internal/api/handler"
	"resume-screener-go/internal/api/router"
	"resume-screener-go/internal/config"
	"resume-screener-go/internal/storage"
	"resume-screener-go/internal/types"
)

// stubVectorDB 只支持点数查询的最小实现，供健康检查路由使用
type stubVectorDB struct {
	count int64
}

func (s *stubVectorDB) UpsertChunkVectors(context.Context, *types.Document, []types.Chunk, [][]float64) ([]string, error) {
	return nil, nil
}

func (s *stubVectorDB) SearchChunks(context.Context, []float64, int) ([]types.RetrievedChunk, error) {
	return nil, nil
}

func (s *stubVectorDB) CountPoints(context.Context) (int64, error) { return s.count, nil }

func (s *stubVectorDB) ListChunksByDocument(context.Context, string) ([]types.RetrievedChunk, error) {
	return nil, nil
}

func (s *stubVectorDB) DeleteByDocument(context.Context, string) error { return nil }

func newTestEngine(t *testing.T, apiKey string) *server.Hertz {
	t.Helper()
	cfg := &config.Config{}
	cfg.Server.APIKey = apiKey

	storageManager := &storage.Storage{VectorDB: &stubVectorDB{count: 7}}
	screeningHandler := handler.NewScreeningHandler(cfg, storageManager, nil, nil)

	h := server.New()
	router.RegisterRoutes(h, cfg, screeningHandler)
	return h
}

func TestHealthEndpointNoAuth(t *testing.T) {
	h := newTestEngine(t, "secret-key")

	w := ut.PerformRequest(h.Engine, "GET", "/api/v1/health", nil)
	resp := w.Result()
	require.Equal(t, 200, resp.StatusCode())

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Body(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 7, body["vector_points"])
}

func TestProtectedRouteRequiresAPIKey(t *testing.T) {
	h := newTestEngine(t, "secret-key")

	w := ut.PerformRequest(h.Engine, "GET", "/api/v1/resumes", nil)
	assert.Equal(t, 401, w.Result().StatusCode())

	w = ut.PerformRequest(h.Engine, "GET", "/api/v1/resumes", nil,
		ut.Header{Key: "Authorization", Value: "Bearer wrong-key"})
	assert.Equal(t, 401, w.Result().StatusCode())
}

func TestAnalyzeRejectsMalformedBody(t *testing.T) {
	h := newTestEngine(t, "")

	body := bytes.NewBufferString("{not json")
	w := ut.PerformRequest(h.Engine, "POST", "/api/v1/screening/analyze",
		&ut.Body{Body: body, Len: body.Len()},
		ut.Header{Key: "Content-Type", Value: "application/json"})
	assert.Equal(t, 400, w.Result().StatusCode())
}
