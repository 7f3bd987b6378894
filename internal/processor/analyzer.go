package processor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"resume-screener-go/internal/logger"
	"resume-screener-go/internal/storage"
	"resume-screener-go/internal/tracing"
	"resume-screener-go/internal/types"
)

var analyzeTracer = otel.Tracer("resume-screener-go/processor/analyzer")

const (
	defaultTopK = 5
	maxTopK     = 50
	defaultTTL  = 30 * time.Minute
)

// Analyzer 岗位匹配分析器
// 串联 查询向量化 -> 相似度检索 -> LLM报告合成 的分析管道
type Analyzer struct {
	embedder  TextEmbedder
	vectorDB  storage.VectorDatabase
	generator ReportSynthesizer
	documents DocumentStore

	cache    DedupCache // 可选，查询向量与报告缓存
	mockMode bool       // 未配置LLM时为true，报告统一标记为演示输出

	topKDefault int
	topKMax     int
	reportTTL   time.Duration

	log zerolog.Logger
}

// AnalyzerOption Analyzer构造选项
type AnalyzerOption func(*Analyzer)

// WithAnalyzerCache 设置查询与报告缓存(通常是Redis)
func WithAnalyzerCache(cache DedupCache) AnalyzerOption {
	return func(a *Analyzer) {
		a.cache = cache
	}
}

// WithMockMode 标记分析器运行在演示模式(未配置真实LLM)
func WithMockMode(mock bool) AnalyzerOption {
	return func(a *Analyzer) {
		a.mockMode = mock
	}
}

// WithDefaultTopK 设置未指定时的检索数量
func WithDefaultTopK(k int) AnalyzerOption {
	return func(a *Analyzer) {
		if k > 0 {
			a.topKDefault = k
		}
	}
}

// WithMaxTopK 设置检索数量上限
func WithMaxTopK(k int) AnalyzerOption {
	return func(a *Analyzer) {
		if k > 0 {
			a.topKMax = k
		}
	}
}

// WithReportCacheTTL 设置报告缓存有效期
func WithReportCacheTTL(ttl time.Duration) AnalyzerOption {
	return func(a *Analyzer) {
		if ttl > 0 {
			a.reportTTL = ttl
		}
	}
}

// WithAnalyzerLogger 设置日志记录器
func WithAnalyzerLogger(log zerolog.Logger) AnalyzerOption {
	return func(a *Analyzer) {
		a.log = log
	}
}

// NewAnalyzer 创建分析器
func NewAnalyzer(
	embedder TextEmbedder,
	vectorDB storage.VectorDatabase,
	generator ReportSynthesizer,
	documents DocumentStore,
	opts ...AnalyzerOption,
) (*Analyzer, error) {
	if embedder == nil || vectorDB == nil || generator == nil || documents == nil {
		return nil, fmt.Errorf("分析器核心组件不能为空")
	}

	a := &Analyzer{
		embedder:    embedder,
		vectorDB:    vectorDB,
		generator:   generator,
		documents:   documents,
		topKDefault: defaultTopK,
		topKMax:     maxTopK,
		reportTTL:   defaultTTL,
		log:         logger.Component("analyzer"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// ClampTopK 规范化检索数量：非正数取默认值，超上限截断
func (a *Analyzer) ClampTopK(k int) int {
	if k <= 0 {
		return a.topKDefault
	}
	if k > a.topKMax {
		return a.topKMax
	}
	return k
}

// Analyze 对给定岗位描述执行完整分析，返回结构化报告
// 向量库为空时返回空语料报告而不是错误
func (a *Analyzer) Analyze(ctx context.Context, jobDescription string, topK int) (*types.Report, error) {
	ctx, span := analyzeTracer.Start(ctx, "Analyzer.Analyze")
	defer span.End()

	jobDescription = strings.TrimSpace(jobDescription)
	if jobDescription == "" {
		err := ErrInvalidQuery
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}

	topK = a.ClampTopK(topK)
	jdMD5 := ContentMD5([]byte(jobDescription))

	span.SetAttributes(
		attribute.Int("analyze.top_k", topK),
		attribute.String("analyze.jd_md5", jdMD5),
		attribute.Int("analyze.jd_chars", len([]rune(jobDescription))),
		attribute.Bool("analyze.mock_mode", a.mockMode),
	)

	if a.cache != nil {
		if cached, err := a.cache.GetCachedReport(ctx, jdMD5, topK); err == nil && cached != nil {
			span.AddEvent("report_cache_hit")
			span.SetStatus(codes.Ok, "")
			return cached, nil
		}
	}

	total, err := a.vectorDB.CountPoints(ctx)
	if err != nil {
		wrapped := NewVectorStoreError("", err.Error())
		tracing.RecordError(span, wrapped, tracing.ErrorTypeVectorDB)
		return nil, wrapped
	}
	if total == 0 {
		span.AddEvent("empty_corpus")
		span.SetStatus(codes.Ok, "empty corpus")
		return a.emptyCorpusReport(), nil
	}

	queryVector, err := a.resolveQueryVector(ctx, jdMD5, jobDescription)
	if err != nil {
		wrapped := NewEmbeddingError("", err.Error())
		tracing.RecordError(span, wrapped, tracing.ErrorTypeEmbedding)
		return nil, wrapped
	}

	chunks, err := a.vectorDB.SearchChunks(ctx, queryVector, topK)
	if err != nil {
		wrapped := NewVectorStoreError("", err.Error())
		tracing.RecordError(span, wrapped, tracing.ErrorTypeVectorDB)
		return nil, wrapped
	}
	span.SetAttributes(attribute.Int("analyze.retrieved_chunks", len(chunks)))

	report, err := a.generator.Generate(ctx, jobDescription, chunks)
	if err != nil {
		wrapped := NewGenerationError("", err.Error())
		tracing.RecordError(span, wrapped, tracing.ErrorTypeGeneration)
		return nil, wrapped
	}

	// 演示模式下无论生成路径如何，报告一律标记为mock
	if a.mockMode {
		report.Mock = true
	}

	if err := a.documents.SaveReport(ctx, jdMD5, topK, report); err != nil {
		// 审计落库失败不影响返回结果
		a.log.Warn().Err(err).Str("report_id", report.ReportID).Msg("报告审计落库失败")
	}

	if a.cache != nil {
		if err := a.cache.CacheReport(ctx, jdMD5, topK, report, a.reportTTL); err != nil {
			a.log.Warn().Err(err).Msg("写入报告缓存失败")
		}
	}

	a.log.Info().
		Str("report_id", report.ReportID).
		Float64("overall_score", report.OverallScore).
		Int("top_k", topK).
		Int("evidence_count", len(report.EvidenceSnippets)).
		Bool("mock", report.Mock).
		Msg("分析完成")

	span.SetAttributes(
		attribute.String("report.id", report.ReportID),
		attribute.Float64("report.overall_score", report.OverallScore),
		attribute.Bool("report.mock", report.Mock),
	)
	span.SetStatus(codes.Ok, "")
	return report, nil
}

// Retrieve 仅执行检索，不做报告合成，供调试接口使用
func (a *Analyzer) Retrieve(ctx context.Context, query string, topK int) ([]types.RetrievedChunk, error) {
	ctx, span := analyzeTracer.Start(ctx, "Analyzer.Retrieve")
	defer span.End()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrInvalidQuery
	}
	topK = a.ClampTopK(topK)

	vectors, err := a.embedder.EmbedStrings(ctx, []string{query})
	if err != nil || len(vectors) == 0 {
		wrapped := NewEmbeddingError("", fmt.Sprintf("查询向量化失败: %v", err))
		tracing.RecordError(span, wrapped, tracing.ErrorTypeEmbedding)
		return nil, wrapped
	}

	chunks, err := a.vectorDB.SearchChunks(ctx, vectors[0], topK)
	if err != nil {
		wrapped := NewVectorStoreError("", err.Error())
		tracing.RecordError(span, wrapped, tracing.ErrorTypeVectorDB)
		return nil, wrapped
	}

	span.SetAttributes(attribute.Int("retrieve.count", len(chunks)))
	span.SetStatus(codes.Ok, "")
	return chunks, nil
}

// resolveQueryVector 取得岗位描述的查询向量，优先命中缓存
func (a *Analyzer) resolveQueryVector(ctx context.Context, jdMD5, jobDescription string) ([]float64, error) {
	if a.cache != nil {
		if vec, err := a.cache.GetQueryVector(ctx, jdMD5); err == nil && len(vec) > 0 {
			return vec, nil
		}
	}

	vectors, err := a.embedder.EmbedStrings(ctx, []string{jobDescription})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("嵌入服务返回空向量")
	}

	if a.cache != nil {
		if err := a.cache.SetQueryVector(ctx, jdMD5, vectors[0]); err != nil {
			a.log.Warn().Err(err).Msg("写入查询向量缓存失败")
		}
	}
	return vectors[0], nil
}

func newReportID() string {
	return uuid.NewString()
}

// emptyCorpusReport 语料库为空时的确定性报告
func (a *Analyzer) emptyCorpusReport() *types.Report {
	return &types.Report{
		ReportID:          newReportID(),
		OverallScore:      0,
		CandidateName:     "未知",
		Summary:           "简历库为空，没有可供分析的候选人材料。",
		Strengths:         []string{},
		Weaknesses:        []string{},
		SkillMatches:      []types.SkillMatch{},
		ExperienceMatches: []types.ExperienceMatch{},
		EducationMatches:  []types.EducationMatch{},
		Recommendation:    "请先上传简历后再发起分析",
		Reasoning:         "向量库中没有任何简历分块，无法执行相似度检索。",
		EvidenceSnippets:  []types.EvidenceSnippet{},
		Mock:              a.mockMode,
		GeneratedAt:       time.Now().Unix(),
	}
}
