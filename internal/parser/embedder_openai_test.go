package parser

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-screener-go/internal/config"
)

func newEmbeddingTestServer(t *testing.T, dimensions int, reverseOrder bool) (*httptest.Server, *int) {
	t.Helper()
	callCount := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := embeddingResponse{Object: "list", Model: req.Model}
		for i := range req.Input {
			vec := make([]float64, dimensions)
			vec[0] = float64(i) // 让每条向量可区分
			resp.Data = append(resp.Data, embeddingDataEntry{
				Object:    "embedding",
				Embedding: vec,
				Index:     i,
			})
		}
		if reverseOrder {
			for i, j := 0, len(resp.Data)-1; i < j; i, j = i+1, j-1 {
				resp.Data[i], resp.Data[j] = resp.Data[j], resp.Data[i]
			}
		}

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(server.Close)

	return server, &callCount
}

func newTestEmbedder(t *testing.T, serverURL string, dimensions, batchSize int) *OpenAIEmbedder {
	t.Helper()
	e, err := NewOpenAIEmbedder(config.EmbeddingConfig{
		APIKey:     "test-key",
		BaseURL:    serverURL,
		Model:      "text-embedding-3-small",
		Dimensions: dimensions,
		BatchSize:  batchSize,
	})
	require.NoError(t, err)
	return e
}

func TestEmbedStringsReturnsVectorsInOrder(t *testing.T) {
	server, _ := newEmbeddingTestServer(t, 4, true)
	e := newTestEmbedder(t, server.URL, 4, 16)

	vectors, err := e.EmbedStrings(context.Background(), []string{"第一段", "第二段", "第三段"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)

	// 响应乱序返回时按index归位
	for i, vec := range vectors {
		require.Len(t, vec, 4)
		assert.Equal(t, float64(i), vec[0])
	}
}

func TestEmbedStringsBatching(t *testing.T) {
	server, callCount := newEmbeddingTestServer(t, 4, false)
	e := newTestEmbedder(t, server.URL, 4, 2)

	texts := []string{"a", "b", "c", "d", "e"}
	vectors, err := e.EmbedStrings(context.Background(), texts)
	require.NoError(t, err)
	assert.Len(t, vectors, 5)
	// 5条文本、batch为2 -> 3次请求
	assert.Equal(t, 3, *callCount)
}

func TestEmbedStringsEmptyInput(t *testing.T) {
	server, callCount := newEmbeddingTestServer(t, 4, false)
	e := newTestEmbedder(t, server.URL, 4, 16)

	vectors, err := e.EmbedStrings(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
	assert.Equal(t, 0, *callCount)
}

func TestEmbedStringsDimensionMismatch(t *testing.T) {
	server, _ := newEmbeddingTestServer(t, 4, false)
	// 配置期望8维，服务端返回4维，必须报错而不是静默入库
	e := newTestEmbedder(t, server.URL, 8, 16)

	_, err := e.EmbedStrings(context.Background(), []string{"文本"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "维度不匹配")
}

func TestEmbedStringsServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message": "boom", "type": "server_error"}`))
	}))
	t.Cleanup(server.Close)

	e := newTestEmbedder(t, server.URL, 4, 16)
	_, err := e.EmbedStrings(context.Background(), []string{"文本"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "嵌入API调用失败")
}

func TestEmbedderRequiresAPIKey(t *testing.T) {
	_, err := NewOpenAIEmbedder(config.EmbeddingConfig{})
	assert.Error(t, err)
}

func TestIsPDF(t *testing.T) {
	assert.True(t, IsPDF([]byte("%PDF-1.7\n...")))
	assert.False(t, IsPDF([]byte("PK\x03\x04 docx content")))
	assert.False(t, IsPDF(nil))
}
