package processor

import (
	"context"
	"time"

	"github.com/cloudwego/eino/components/embedding"

	"resume-screener-go/internal/storage"
	"resume-screener-go/internal/storage/models"
	"resume-screener-go/internal/types"
)

//
// PDF解析相关接口
//

// PDFExtractor PDF提取器接口
type PDFExtractor interface {
	// ExtractTextFromBytes 从字节数组提取文本和元数据
	ExtractTextFromBytes(ctx context.Context, data []byte, uri string) (string, map[string]interface{}, error)
}

//
// 分块相关接口
//

// TextChunker 文本分块器接口
type TextChunker interface {
	// Chunk 将文档文本切分为带序号的分块
	Chunk(documentUUID string, text string) []types.Chunk
}

//
// 向量嵌入相关接口
//

// TextEmbedder 文本向量化接口 (符合 cloudwego/eino 规范)
type TextEmbedder interface {
	// EmbedStrings 将文本转换为向量表示
	EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error)

	// GetDimensions 返回嵌入向量的维度
	GetDimensions() int
}

//
// 报告合成相关接口
//

// ReportSynthesizer 分析报告合成接口
type ReportSynthesizer interface {
	// Generate 基于岗位描述与检索到的分块合成结构化报告
	Generate(ctx context.Context, jobDescription string, chunks []types.RetrievedChunk) (*types.Report, error)
}

//
// 存储相关接口
//

// DocumentStore 文档元数据存储接口
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *models.ResumeDocument) error
	GetDocumentByUUID(ctx context.Context, submissionUUID string) (*models.ResumeDocument, error)
	GetDocumentByContentMD5(ctx context.Context, md5Hex string) (*models.ResumeDocument, error)
	UpdateDocumentStatus(ctx context.Context, submissionUUID, status, errorDetail string) error
	MarkDocumentIngested(ctx context.Context, submissionUUID string, chunkCount int) error
	DeleteDocument(ctx context.Context, submissionUUID string) error
	SaveReport(ctx context.Context, jdMD5 string, topK int, report *types.Report) error
}

// DedupCache 去重与查询缓存接口
type DedupCache interface {
	AddRawFileMD5(ctx context.Context, md5Hex string) error
	CheckRawFileMD5Exists(ctx context.Context, md5Hex string) (bool, error)
	RemoveRawFileMD5(ctx context.Context, md5Hex string) error
	SetQueryVector(ctx context.Context, jdMD5 string, vector []float64) error
	GetQueryVector(ctx context.Context, jdMD5 string) ([]float64, error)
	CacheReport(ctx context.Context, jdMD5 string, topK int, report *types.Report, ttl time.Duration) error
	GetCachedReport(ctx context.Context, jdMD5 string, topK int) (*types.Report, error)
	InvalidateReportCaches(ctx context.Context) error
}

// ObjectStore 原始文件与解析文本的对象存储接口
type ObjectStore interface {
	PutOriginalPDF(ctx context.Context, submissionUUID string, data []byte) (string, error)
	GetOriginalPDF(ctx context.Context, submissionUUID string) ([]byte, error)
	PutParsedText(ctx context.Context, submissionUUID string, text string) (string, error)
	DeleteDocumentObjects(ctx context.Context, submissionUUID string) error
}

// UploadPublisher 异步入库事件发布接口
type UploadPublisher interface {
	PublishUploadMessage(ctx context.Context, msg *storage.ResumeUploadMessage) error
}
