package storage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-screener-go/internal/config"
	"resume-screener-go/internal/types"
)

// fakeQdrantServer 模拟Qdrant REST接口的最小实现
type fakeQdrantServer struct {
	collectionExists bool
	upsertedPoints   []map[string]interface{}
	searchResponse   []map[string]interface{}
	pointCount       int64
}

func (f *fakeQdrantServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/collections/test_chunks":
			if !f.collectionExists {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"result": map[string]interface{}{
					"config": map[string]interface{}{
						"params": map[string]interface{}{
							"vectors": map[string]interface{}{"size": 4, "distance": "Cosine"},
						},
					},
				},
			})
		case r.Method == http.MethodPut && r.URL.Path == "/collections/test_chunks":
			f.collectionExists = true
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"result": true, "status": "ok"})
		case r.Method == http.MethodPut && r.URL.Path == "/collections/test_chunks/points":
			var body struct {
				Points []map[string]interface{} `json:"points"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			f.upsertedPoints = append(f.upsertedPoints, body.Points...)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"result": map[string]interface{}{"status": "completed"}, "status": "ok",
			})
		case r.Method == http.MethodPost && r.URL.Path == "/collections/test_chunks/points/search":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"result": f.searchResponse, "status": "ok",
			})
		case r.Method == http.MethodPost && r.URL.Path == "/collections/test_chunks/points/count":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"result": map[string]interface{}{"count": f.pointCount},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func newTestQdrant(t *testing.T, fake *fakeQdrantServer) *Qdrant {
	t.Helper()
	server := httptest.NewServer(fake.handler(t))
	t.Cleanup(server.Close)

	q, err := NewQdrant(&config.QdrantConfig{
		Endpoint:   server.URL,
		Collection: "test_chunks",
		Dimension:  4,
	})
	require.NoError(t, err)
	return q
}

func TestChunkPointIDDeterministic(t *testing.T) {
	id1 := ChunkPointID("doc-abc", 0)
	id2 := ChunkPointID("doc-abc", 0)
	id3 := ChunkPointID("doc-abc", 1)
	id4 := ChunkPointID("doc-xyz", 0)

	assert.Equal(t, id1, id2, "相同文档相同分块必须得到相同point ID")
	assert.NotEqual(t, id1, id3)
	assert.NotEqual(t, id1, id4)
}

func TestNewQdrantCreatesMissingCollection(t *testing.T) {
	fake := &fakeQdrantServer{collectionExists: false}
	q := newTestQdrant(t, fake)

	assert.True(t, fake.collectionExists)
	assert.NotNil(t, q)
}

func TestUpsertChunkVectors(t *testing.T) {
	fake := &fakeQdrantServer{collectionExists: true}
	q := newTestQdrant(t, fake)

	doc := &types.Document{SubmissionUUID: "doc-1", OriginalFilename: "a.pdf"}
	chunks := []types.Chunk{
		{DocumentUUID: "doc-1", Index: 0, Text: "第一块"},
		{DocumentUUID: "doc-1", Index: 1, Text: "第二块"},
	}
	embeddings := [][]float64{{0.1, 0.2, 0.3, 0.4}, {0.5, 0.6, 0.7, 0.8}}

	ids, err := q.UpsertChunkVectors(context.Background(), doc, chunks, embeddings)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, ChunkPointID("doc-1", 0), ids[0])
	assert.Len(t, fake.upsertedPoints, 2)

	payload := fake.upsertedPoints[0]["payload"].(map[string]interface{})
	assert.Equal(t, "doc-1", payload["document_uuid"])
	assert.Equal(t, "a.pdf", payload["filename"])
}

func TestUpsertChunkVectorsDimensionMismatch(t *testing.T) {
	fake := &fakeQdrantServer{collectionExists: true}
	q := newTestQdrant(t, fake)

	doc := &types.Document{SubmissionUUID: "doc-1"}
	chunks := []types.Chunk{{DocumentUUID: "doc-1", Index: 0, Text: "块"}}
	// 配置为4维，提交8维向量必须报错
	_, err := q.UpsertChunkVectors(context.Background(), doc, chunks, [][]float64{make([]float64, 8)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "维度")
}

func TestUpsertChunkVectorsCountMismatch(t *testing.T) {
	fake := &fakeQdrantServer{collectionExists: true}
	q := newTestQdrant(t, fake)

	doc := &types.Document{SubmissionUUID: "doc-1"}
	chunks := []types.Chunk{{Index: 0}, {Index: 1}}
	_, err := q.UpsertChunkVectors(context.Background(), doc, chunks, [][]float64{{0.1, 0.2, 0.3, 0.4}})
	assert.Error(t, err)
}

func TestSearchChunksStableOrdering(t *testing.T) {
	fake := &fakeQdrantServer{
		collectionExists: true,
		searchResponse: []map[string]interface{}{
			{"id": "p2", "score": 0.9, "payload": map[string]interface{}{
				"document_uuid": "doc-b", "chunk_index": 2, "content_text": "b", "ingest_seq": 200,
			}},
			{"id": "p1", "score": 0.9, "payload": map[string]interface{}{
				"document_uuid": "doc-a", "chunk_index": 5, "content_text": "a", "ingest_seq": 100,
			}},
			{"id": "p3", "score": 0.95, "payload": map[string]interface{}{
				"document_uuid": "doc-c", "chunk_index": 0, "content_text": "c", "ingest_seq": 300,
			}},
		},
	}
	q := newTestQdrant(t, fake)

	results, err := q.SearchChunks(context.Background(), []float64{0.1, 0.2, 0.3, 0.4}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)

	// 分数降序
	assert.Equal(t, "p3", results[0].PointID)
	// 同分时按入库顺序升序
	assert.Equal(t, "p1", results[1].PointID)
	assert.Equal(t, "p2", results[2].PointID)

	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i].Score, results[i-1].Score, "分数必须单调不增")
	}
}

func TestSearchChunksQueryDimensionMismatch(t *testing.T) {
	fake := &fakeQdrantServer{collectionExists: true}
	q := newTestQdrant(t, fake)

	_, err := q.SearchChunks(context.Background(), make([]float64, 8), 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "维度")
}

func TestCountPoints(t *testing.T) {
	fake := &fakeQdrantServer{collectionExists: true, pointCount: 42}
	q := newTestQdrant(t, fake)

	count, err := q.CountPoints(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), count)
}

func TestPayloadToChunk(t *testing.T) {
	chunk := payloadToChunk("pid", 0.5, map[string]interface{}{
		"document_uuid": "doc-1",
		"chunk_index":   float64(3),
		"content_text":  "内容",
		"filename":      "r.pdf",
		"ingest_seq":    float64(12345),
	})

	assert.Equal(t, "pid", chunk.PointID)
	assert.Equal(t, "doc-1", chunk.DocumentUUID)
	assert.Equal(t, 3, chunk.ChunkIndex)
	assert.Equal(t, "内容", chunk.Text)
	assert.Equal(t, "r.pdf", chunk.Filename)
	assert.Equal(t, int64(12345), chunk.IngestSeq)
	assert.Equal(t, float32(0.5), chunk.Score)
}
