package processor

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"resume-screener-go/internal/constants"
	"resume-screener-go/internal/logger"
	"resume-screener-go/internal/parser"
	"resume-screener-go/internal/storage"
	"resume-screener-go/internal/storage/models"
	"resume-screener-go/internal/tracing"
	"resume-screener-go/internal/types"
)

var ingestTracer = otel.Tracer("resume-screener-go/processor/ingest")

// 确保parser与storage组件满足处理器接口
var (
	_ PDFExtractor      = (*parser.EinoPDFTextExtractor)(nil)
	_ TextChunker       = (*parser.RuleChunker)(nil)
	_ TextEmbedder      = (*parser.OpenAIEmbedder)(nil)
	_ TextEmbedder      = (*parser.MockEmbedder)(nil)
	_ ReportSynthesizer = (*parser.ReportGenerator)(nil)
	_ DocumentStore     = (*storage.MySQL)(nil)
	_ DedupCache        = (*storage.Redis)(nil)
	_ ObjectStore       = (*storage.MinIO)(nil)
	_ UploadPublisher   = (*storage.RabbitMQ)(nil)
)

// Ingestor 简历入库处理器
// 串联 格式识别 -> 去重 -> 文本提取 -> 分块 -> 向量化 -> 写入向量库 的完整管道
type Ingestor struct {
	extractor PDFExtractor
	chunker   TextChunker
	embedder  TextEmbedder
	vectorDB  storage.VectorDatabase
	documents DocumentStore

	// 可选组件，未配置时相应步骤跳过或降级
	dedup     DedupCache
	objects   ObjectStore
	publisher UploadPublisher

	log zerolog.Logger

	// Redis不可用时的进程内去重兜底
	mu      sync.Mutex
	seenMD5 map[string]struct{}
}

// IngestorOption Ingestor构造选项
type IngestorOption func(*Ingestor)

// WithDedupCache 设置去重缓存(通常是Redis)
func WithDedupCache(cache DedupCache) IngestorOption {
	return func(ig *Ingestor) {
		ig.dedup = cache
	}
}

// WithObjectStore 设置对象存储(通常是MinIO)
func WithObjectStore(store ObjectStore) IngestorOption {
	return func(ig *Ingestor) {
		ig.objects = store
	}
}

// WithUploadPublisher 设置异步入库事件发布器
func WithUploadPublisher(pub UploadPublisher) IngestorOption {
	return func(ig *Ingestor) {
		ig.publisher = pub
	}
}

// WithIngestorLogger 设置日志记录器
func WithIngestorLogger(log zerolog.Logger) IngestorOption {
	return func(ig *Ingestor) {
		ig.log = log
	}
}

// NewIngestor 创建入库处理器，核心组件缺一不可
func NewIngestor(
	extractor PDFExtractor,
	chunker TextChunker,
	embedder TextEmbedder,
	vectorDB storage.VectorDatabase,
	documents DocumentStore,
	opts ...IngestorOption,
) (*Ingestor, error) {
	if extractor == nil || chunker == nil || embedder == nil || vectorDB == nil || documents == nil {
		return nil, fmt.Errorf("入库处理器核心组件不能为空")
	}

	ig := &Ingestor{
		extractor: extractor,
		chunker:   chunker,
		embedder:  embedder,
		vectorDB:  vectorDB,
		documents: documents,
		log:       logger.Component("ingestor"),
		seenMD5:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(ig)
	}
	return ig, nil
}

// ContentMD5 计算文件内容MD5的十六进制串
func ContentMD5(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// Ingest 同步执行完整入库管道
// 返回入库成功的文档；重复文件、非PDF、空文本等都返回携带阶段信息的PipelineError
func (ig *Ingestor) Ingest(ctx context.Context, originalFilename string, data []byte) (*types.Document, error) {
	ctx, span := ingestTracer.Start(ctx, "Ingestor.Ingest")
	defer span.End()

	span.SetAttributes(
		attribute.String("document.filename", originalFilename),
		attribute.Int("document.size_bytes", len(data)),
	)

	if !parser.IsPDF(data) {
		err := NewFormatError("", fmt.Sprintf("文件 %s 不是PDF", originalFilename))
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}

	contentMD5 := ContentMD5(data)
	span.SetAttributes(attribute.String("document.content_md5", contentMD5))

	if err := ig.claimMD5(ctx, contentMD5); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}

	submissionUUID, err := newSubmissionUUID()
	if err != nil {
		ig.releaseMD5(ctx, contentMD5)
		tracing.RecordError(span, err, tracing.ErrorTypeInternal)
		return nil, err
	}
	span.SetAttributes(attribute.String("document.uuid", submissionUUID))

	doc := &models.ResumeDocument{
		SubmissionUUID:   submissionUUID,
		OriginalFilename: originalFilename,
		ContentMD5:       contentMD5,
		Status:           constants.StatusUploaded,
	}

	if ig.objects != nil {
		key, err := ig.objects.PutOriginalPDF(ctx, submissionUUID, data)
		if err != nil {
			ig.releaseMD5(ctx, contentMD5)
			wrapped := NewObjectStoreError(submissionUUID, err.Error())
			tracing.RecordError(span, wrapped, tracing.ErrorTypeObjectStore)
			return nil, wrapped
		}
		doc.OriginalObjectKey = key
	}

	if err := ig.documents.CreateDocument(ctx, doc); err != nil {
		ig.releaseMD5(ctx, contentMD5)
		wrapped := NewDatabaseError(submissionUUID, err.Error())
		tracing.RecordError(span, wrapped, tracing.ErrorTypeDB)
		return nil, wrapped
	}

	result, err := ig.runPipeline(ctx, submissionUUID, originalFilename, contentMD5, data)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeInternal)
		return nil, err
	}

	span.SetAttributes(attribute.Int("document.chunk_count", result.ChunkCount))
	span.SetStatus(codes.Ok, "")
	return result, nil
}

// EnqueueUpload 异步模式入口：保存原始文件并发布入库事件，实际管道由消费者执行
func (ig *Ingestor) EnqueueUpload(ctx context.Context, originalFilename string, data []byte) (*types.Document, error) {
	ctx, span := ingestTracer.Start(ctx, "Ingestor.EnqueueUpload")
	defer span.End()

	if ig.publisher == nil || ig.objects == nil {
		return nil, fmt.Errorf("未配置异步入库所需的消息队列或对象存储")
	}

	if !parser.IsPDF(data) {
		err := NewFormatError("", fmt.Sprintf("文件 %s 不是PDF", originalFilename))
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}

	contentMD5 := ContentMD5(data)
	if err := ig.claimMD5(ctx, contentMD5); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}

	submissionUUID, err := newSubmissionUUID()
	if err != nil {
		ig.releaseMD5(ctx, contentMD5)
		return nil, err
	}
	span.SetAttributes(attribute.String("document.uuid", submissionUUID))

	key, err := ig.objects.PutOriginalPDF(ctx, submissionUUID, data)
	if err != nil {
		ig.releaseMD5(ctx, contentMD5)
		wrapped := NewObjectStoreError(submissionUUID, err.Error())
		tracing.RecordError(span, wrapped, tracing.ErrorTypeObjectStore)
		return nil, wrapped
	}

	doc := &models.ResumeDocument{
		SubmissionUUID:    submissionUUID,
		OriginalFilename:  originalFilename,
		ContentMD5:        contentMD5,
		Status:            constants.StatusPendingAsync,
		OriginalObjectKey: key,
	}
	if err := ig.documents.CreateDocument(ctx, doc); err != nil {
		ig.releaseMD5(ctx, contentMD5)
		wrapped := NewDatabaseError(submissionUUID, err.Error())
		tracing.RecordError(span, wrapped, tracing.ErrorTypeDB)
		return nil, wrapped
	}

	msg := &storage.ResumeUploadMessage{
		SubmissionUUID:   submissionUUID,
		OriginalFilename: originalFilename,
		ContentMD5:       contentMD5,
		SubmitTimestamp:  time.Now().Unix(),
	}
	if err := ig.publisher.PublishUploadMessage(ctx, msg); err != nil {
		_ = ig.documents.UpdateDocumentStatus(ctx, submissionUUID, constants.StatusFailed, "发布入库事件失败: "+err.Error())
		ig.releaseMD5(ctx, contentMD5)
		tracing.RecordError(span, err, tracing.ErrorTypeRabbitMQ)
		return nil, fmt.Errorf("发布入库事件失败: %w", err)
	}

	ig.log.Info().
		Str("document_uuid", submissionUUID).
		Str("filename", originalFilename).
		Msg("简历已入队，等待异步处理")

	span.SetStatus(codes.Ok, "")
	return &types.Document{
		SubmissionUUID:   submissionUUID,
		OriginalFilename: originalFilename,
		ContentMD5:       contentMD5,
		Status:           constants.StatusPendingAsync,
	}, nil
}

// HandleUploadMessage 消费异步入库事件，从对象存储取回原始文件执行管道
func (ig *Ingestor) HandleUploadMessage(ctx context.Context, msg *storage.ResumeUploadMessage) error {
	ctx, span := ingestTracer.Start(ctx, "Ingestor.HandleUploadMessage",
		trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	span.SetAttributes(attribute.String("document.uuid", msg.SubmissionUUID))

	if ig.objects == nil {
		return fmt.Errorf("未配置对象存储，无法处理异步入库事件")
	}

	data, err := ig.objects.GetOriginalPDF(ctx, msg.SubmissionUUID)
	if err != nil {
		wrapped := NewObjectStoreError(msg.SubmissionUUID, err.Error())
		tracing.RecordError(span, wrapped, tracing.ErrorTypeObjectStore)
		_ = ig.documents.UpdateDocumentStatus(ctx, msg.SubmissionUUID, constants.StatusFailed, wrapped.Error())
		return wrapped
	}

	if _, err := ig.runPipeline(ctx, msg.SubmissionUUID, msg.OriginalFilename, msg.ContentMD5, data); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeInternal)
		return err
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// runPipeline 执行提取/分块/向量化/写入，失败时标记FAILED并释放MD5占用
func (ig *Ingestor) runPipeline(ctx context.Context, submissionUUID, originalFilename, contentMD5 string, data []byte) (*types.Document, error) {
	fail := func(wrapped error) (*types.Document, error) {
		_ = ig.documents.UpdateDocumentStatus(ctx, submissionUUID, constants.StatusFailed, wrapped.Error())
		ig.releaseMD5(ctx, contentMD5)
		return nil, wrapped
	}

	if err := ig.documents.UpdateDocumentStatus(ctx, submissionUUID, constants.StatusProcessing, ""); err != nil {
		ig.log.Warn().Err(err).Str("document_uuid", submissionUUID).Msg("更新处理状态失败")
	}

	text, metadata, err := ig.extractor.ExtractTextFromBytes(ctx, data, originalFilename)
	if err != nil {
		return fail(&PipelineError{
			SubmissionUUID: submissionUUID,
			Stage:          "extract",
			BaseErr:        ErrEmptyContent,
			Detail:         "PDF解析失败: " + err.Error(),
		})
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return fail(NewExtractError(submissionUUID, "提取结果为空，可能是扫描件或加密PDF"))
	}

	if ig.objects != nil {
		if _, err := ig.objects.PutParsedText(ctx, submissionUUID, text); err != nil {
			// 解析文本归档失败不阻断入库
			ig.log.Warn().Err(err).Str("document_uuid", submissionUUID).Msg("归档解析文本失败")
		}
	}

	chunks := ig.chunker.Chunk(submissionUUID, text)
	if len(chunks) == 0 {
		return fail(NewExtractError(submissionUUID, "分块结果为空"))
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	embeddings, err := ig.embedder.EmbedStrings(ctx, texts)
	if err != nil {
		return fail(NewEmbeddingError(submissionUUID, err.Error()))
	}
	if len(embeddings) != len(chunks) {
		return fail(NewEmbeddingError(submissionUUID,
			fmt.Sprintf("嵌入结果数量(%d)与分块数量(%d)不一致", len(embeddings), len(chunks))))
	}

	doc := &types.Document{
		SubmissionUUID:   submissionUUID,
		OriginalFilename: originalFilename,
		ContentMD5:       contentMD5,
		ChunkCount:       len(chunks),
	}

	if _, err := ig.vectorDB.UpsertChunkVectors(ctx, doc, chunks, embeddings); err != nil {
		return fail(NewVectorStoreError(submissionUUID, err.Error()))
	}

	if err := ig.documents.MarkDocumentIngested(ctx, submissionUUID, len(chunks)); err != nil {
		return nil, NewDatabaseError(submissionUUID, err.Error())
	}

	// 语料库变化后，旧的分析报告缓存不再可信
	if ig.dedup != nil {
		if err := ig.dedup.InvalidateReportCaches(ctx); err != nil {
			ig.log.Warn().Err(err).Msg("失效报告缓存失败")
		}
	}

	doc.Status = constants.StatusIngested
	doc.IngestedAt = time.Now()

	ig.log.Info().
		Str("document_uuid", submissionUUID).
		Str("filename", originalFilename).
		Int("chunk_count", len(chunks)).
		Int("text_chars", len([]rune(text))).
		Interface("pdf_metadata", metadata).
		Msg("简历入库完成")

	return doc, nil
}

// DeleteDocument 删除文档的向量点、对象和元数据，并释放MD5占用
func (ig *Ingestor) DeleteDocument(ctx context.Context, submissionUUID string) error {
	ctx, span := ingestTracer.Start(ctx, "Ingestor.DeleteDocument")
	defer span.End()
	span.SetAttributes(attribute.String("document.uuid", submissionUUID))

	doc, err := ig.documents.GetDocumentByUUID(ctx, submissionUUID)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return NewDatabaseError(submissionUUID, err.Error())
	}

	if err := ig.vectorDB.DeleteByDocument(ctx, submissionUUID); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return NewVectorStoreError(submissionUUID, err.Error())
	}

	if ig.objects != nil {
		if err := ig.objects.DeleteDocumentObjects(ctx, submissionUUID); err != nil {
			ig.log.Warn().Err(err).Str("document_uuid", submissionUUID).Msg("删除对象存储文件失败")
		}
	}

	if err := ig.documents.DeleteDocument(ctx, submissionUUID); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return NewDatabaseError(submissionUUID, err.Error())
	}

	ig.releaseMD5(ctx, doc.ContentMD5)

	if ig.dedup != nil {
		if err := ig.dedup.InvalidateReportCaches(ctx); err != nil {
			ig.log.Warn().Err(err).Msg("失效报告缓存失败")
		}
	}

	ig.log.Info().Str("document_uuid", submissionUUID).Msg("简历已删除")
	span.SetStatus(codes.Ok, "")
	return nil
}

// claimMD5 占用内容MD5，已被占用时返回重复错误
// Redis可用时用集合占位，否则退化为进程内map
func (ig *Ingestor) claimMD5(ctx context.Context, contentMD5 string) error {
	if existing, err := ig.documents.GetDocumentByContentMD5(ctx, contentMD5); err == nil && existing != nil {
		if existing.Status != constants.StatusFailed {
			return NewDuplicateError(existing.SubmissionUUID, "相同内容的简历已存在")
		}
		// content_md5带唯一索引，失败残留行必须先清掉，重试的新行才插得进去
		if err := ig.documents.DeleteDocument(ctx, existing.SubmissionUUID); err != nil {
			return NewDatabaseError(existing.SubmissionUUID, "清理失败记录失败: "+err.Error())
		}
		ig.log.Info().
			Str("document_uuid", existing.SubmissionUUID).
			Str("content_md5", contentMD5).
			Msg("清理失败的历史记录，允许重新入库")
	}

	if ig.dedup != nil {
		exists, err := ig.dedup.CheckRawFileMD5Exists(ctx, contentMD5)
		if err != nil {
			ig.log.Warn().Err(err).Msg("去重缓存不可用，退化为进程内去重")
		} else if exists {
			return NewDuplicateError("", "相同内容的简历已存在")
		} else {
			if err := ig.dedup.AddRawFileMD5(ctx, contentMD5); err != nil {
				ig.log.Warn().Err(err).Msg("写入去重缓存失败")
			}
			return nil
		}
	}

	ig.mu.Lock()
	defer ig.mu.Unlock()
	if _, ok := ig.seenMD5[contentMD5]; ok {
		return NewDuplicateError("", "相同内容的简历已存在")
	}
	ig.seenMD5[contentMD5] = struct{}{}
	return nil
}

// releaseMD5 释放MD5占用，允许失败的文件重新提交
func (ig *Ingestor) releaseMD5(ctx context.Context, contentMD5 string) {
	if ig.dedup != nil {
		if err := ig.dedup.RemoveRawFileMD5(ctx, contentMD5); err != nil {
			ig.log.Warn().Err(err).Msg("释放去重缓存失败")
		}
	}
	ig.mu.Lock()
	delete(ig.seenMD5, contentMD5)
	ig.mu.Unlock()
}

func newSubmissionUUID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("生成文档UUID失败: %w", err)
	}
	return id.String(), nil
}
