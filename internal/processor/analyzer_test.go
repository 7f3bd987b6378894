package processor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-screener-go/internal/types"
)

type fakeGenerator struct {
	report *types.Report
	err    error
	calls  int

	lastJD     string
	lastChunks []types.RetrievedChunk
}

func (f *fakeGenerator) Generate(_ context.Context, jobDescription string, chunks []types.RetrievedChunk) (*types.Report, error) {
	f.calls++
	f.lastJD = jobDescription
	f.lastChunks = chunks
	if f.err != nil {
		return nil, f.err
	}
	copied := *f.report
	return &copied, nil
}

func baseReport() *types.Report {
	return &types.Report{
		ReportID:       "report-1",
		OverallScore:   0.72,
		CandidateName:  "张伟",
		Summary:        "后端经验扎实",
		Strengths:      []string{"Go", "分布式"},
		Weaknesses:     []string{},
		Recommendation: "推荐进入面试",
		Reasoning:      "技能与岗位要求高度重合",
		GeneratedAt:    time.Now().Unix(),
	}
}

func newTestAnalyzer(t *testing.T, vdb *memVectorDB, gen ReportSynthesizer, opts ...AnalyzerOption) (*Analyzer, *memDocStore) {
	t.Helper()
	docs := newMemDocStore()
	a, err := NewAnalyzer(&fakeEmbedder{dims: 4}, vdb, gen, docs, opts...)
	require.NoError(t, err)
	return a, docs
}

// seedCorpus 预先入库一批简历
func seedCorpus(t *testing.T, vdb *memVectorDB, docs int) {
	t.Helper()
	ig := newTestIngestor(t, &fakeExtractor{text: testResumeText}, &fakeEmbedder{dims: 4}, vdb, newMemDocStore())
	for i := 0; i < docs; i++ {
		_, err := ig.Ingest(context.Background(), fmt.Sprintf("seed-%d.pdf", i), pdfBytes(fmt.Sprintf("seed-%d", i)))
		require.NoError(t, err)
	}
}

func TestAnalyzeRejectsEmptyQuery(t *testing.T) {
	a, _ := newTestAnalyzer(t, newMemVectorDB(), &fakeGenerator{report: baseReport()})

	_, err := a.Analyze(context.Background(), "   \n ", 5)
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestClampTopK(t *testing.T) {
	a, _ := newTestAnalyzer(t, newMemVectorDB(), &fakeGenerator{report: baseReport()},
		WithDefaultTopK(5), WithMaxTopK(50))

	assert.Equal(t, 5, a.ClampTopK(0))
	assert.Equal(t, 5, a.ClampTopK(-3))
	assert.Equal(t, 7, a.ClampTopK(7))
	assert.Equal(t, 50, a.ClampTopK(1000))
}

func TestAnalyzeEmptyCorpus(t *testing.T) {
	gen := &fakeGenerator{report: baseReport()}
	a, _ := newTestAnalyzer(t, newMemVectorDB(), gen)

	report, err := a.Analyze(context.Background(), "招聘Go后端工程师", 5)
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.Zero(t, report.OverallScore)
	assert.Empty(t, report.EvidenceSnippets)
	assert.NotEmpty(t, report.Recommendation)
	assert.Equal(t, 0, gen.calls, "空语料库不应触发LLM调用")
}

func TestAnalyzeHappyPath(t *testing.T) {
	vdb := newMemVectorDB()
	seedCorpus(t, vdb, 2)

	gen := &fakeGenerator{report: baseReport()}
	a, docs := newTestAnalyzer(t, vdb, gen)

	report, err := a.Analyze(context.Background(), "招聘精通Go与Kubernetes的后端工程师", 3)
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.Equal(t, 1, gen.calls)
	assert.LessOrEqual(t, len(gen.lastChunks), 3)
	assert.NotEmpty(t, gen.lastChunks, "有语料时必须带检索上下文")

	// 检索结果分数单调不增
	for i := 1; i < len(gen.lastChunks); i++ {
		assert.LessOrEqual(t, gen.lastChunks[i].Score, gen.lastChunks[i-1].Score)
	}

	// 报告落库审计
	require.Len(t, docs.reports, 1)
	assert.Equal(t, report.ReportID, docs.reports[0].ReportID)
}

func TestAnalyzeMockModeMarksReport(t *testing.T) {
	vdb := newMemVectorDB()
	seedCorpus(t, vdb, 1)

	// 生成器本身不标记mock，由分析器在演示模式下统一标记
	gen := &fakeGenerator{report: baseReport()}
	a, _ := newTestAnalyzer(t, vdb, gen, WithMockMode(true))

	report, err := a.Analyze(context.Background(), "招聘工程师", 5)
	require.NoError(t, err)
	assert.True(t, report.Mock)
}

func TestAnalyzeGeneratorError(t *testing.T) {
	vdb := newMemVectorDB()
	seedCorpus(t, vdb, 1)

	gen := &fakeGenerator{err: fmt.Errorf("上下文超长")}
	a, _ := newTestAnalyzer(t, vdb, gen)

	_, err := a.Analyze(context.Background(), "招聘工程师", 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGenerationFailed)
}

func TestAnalyzeEmbeddingError(t *testing.T) {
	vdb := newMemVectorDB()
	seedCorpus(t, vdb, 1)

	docs := newMemDocStore()
	a, err := NewAnalyzer(&fakeEmbedder{dims: 4, failErr: fmt.Errorf("限流")}, vdb,
		&fakeGenerator{report: baseReport()}, docs)
	require.NoError(t, err)

	_, err = a.Analyze(context.Background(), "招聘工程师", 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestAnalyzeSameQueryDeterministicRetrieval(t *testing.T) {
	vdb := newMemVectorDB()
	seedCorpus(t, vdb, 3)

	gen := &fakeGenerator{report: baseReport()}
	a, _ := newTestAnalyzer(t, vdb, gen)

	jd := "招聘高级Go工程师，要求熟悉微服务与MySQL"
	_, err := a.Analyze(context.Background(), jd, 4)
	require.NoError(t, err)
	firstChunks := gen.lastChunks

	_, err = a.Analyze(context.Background(), jd, 4)
	require.NoError(t, err)

	require.Equal(t, len(firstChunks), len(gen.lastChunks))
	for i := range firstChunks {
		assert.Equal(t, firstChunks[i].PointID, gen.lastChunks[i].PointID, "相同查询的检索顺序必须稳定")
	}
}

func TestRetrieveClampsAndOrders(t *testing.T) {
	vdb := newMemVectorDB()
	seedCorpus(t, vdb, 2)

	a, _ := newTestAnalyzer(t, vdb, &fakeGenerator{report: baseReport()}, WithMaxTopK(3))

	chunks, err := a.Retrieve(context.Background(), "Go工程师", 100)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(chunks), 3)
	for i := 1; i < len(chunks); i++ {
		assert.LessOrEqual(t, chunks[i].Score, chunks[i-1].Score)
	}
}
