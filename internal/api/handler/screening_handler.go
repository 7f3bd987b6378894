package handler

import (
	"context"
	"errors"
	"io"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"resume-screener-go/internal/config"
	"resume-screener-go/internal/constants"
	"resume-screener-go/internal/logger"
	"resume-screener-go/internal/processor"
	"resume-screener-go/internal/storage"
	"resume-screener-go/internal/types"
)

// ScreeningHandler 简历筛选HTTP处理器，协调入库与分析流程
type ScreeningHandler struct {
	cfg      *config.Config
	storage  *storage.Storage
	ingestor *processor.Ingestor
	analyzer *processor.Analyzer
}

// NewScreeningHandler 创建筛选处理器
func NewScreeningHandler(
	cfg *config.Config,
	storage *storage.Storage,
	ingestor *processor.Ingestor,
	analyzer *processor.Analyzer,
) *ScreeningHandler {
	return &ScreeningHandler{
		cfg:      cfg,
		storage:  storage,
		ingestor: ingestor,
		analyzer: analyzer,
	}
}

// UploadResponse 简历上传响应
type UploadResponse struct {
	SubmissionUUID string `json:"submission_uuid"`
	Status         string `json:"status"`
	ChunkCount     int    `json:"chunk_count,omitempty"`
}

// AnalyzeRequest 分析请求
type AnalyzeRequest struct {
	JobDescription string `json:"job_description"`
	TopK           int    `json:"top_k"`
}

// RetrieveRequest 检索调试请求
type RetrieveRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

// HandleUpload 处理简历上传
// 同步模式下完成整个入库管道后返回；异步模式下入队即返回
func (h *ScreeningHandler) HandleUpload(ctx context.Context, c *app.RequestContext) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "文件未找到，请使用multipart字段 'file' 上传"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "打开上传文件失败"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "读取上传文件失败"})
		return
	}

	var doc *types.Document
	if h.cfg.Pipeline.AsyncIngest && h.storage.RabbitMQ != nil {
		doc, err = h.ingestor.EnqueueUpload(ctx, fileHeader.Filename, data)
	} else {
		doc, err = h.ingestor.Ingest(ctx, fileHeader.Filename, data)
	}
	if err != nil {
		h.writePipelineError(c, err)
		return
	}

	c.JSON(consts.StatusOK, UploadResponse{
		SubmissionUUID: doc.SubmissionUUID,
		Status:         doc.Status,
		ChunkCount:     doc.ChunkCount,
	})
}

// HandleAnalyze 处理岗位匹配分析请求
func (h *ScreeningHandler) HandleAnalyze(ctx context.Context, c *app.RequestContext) {
	var req AnalyzeRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "请求体解析失败: " + err.Error()})
		return
	}

	report, err := h.analyzer.Analyze(ctx, req.JobDescription, req.TopK)
	if err != nil {
		h.writePipelineError(c, err)
		return
	}

	c.JSON(consts.StatusOK, report)
}

// HandleRetrieve 检索调试接口，仅返回相似分块不做报告合成
func (h *ScreeningHandler) HandleRetrieve(ctx context.Context, c *app.RequestContext) {
	var req RetrieveRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "请求体解析失败: " + err.Error()})
		return
	}

	chunks, err := h.analyzer.Retrieve(ctx, req.Query, req.TopK)
	if err != nil {
		h.writePipelineError(c, err)
		return
	}

	c.JSON(consts.StatusOK, utils.H{"chunks": chunks, "count": len(chunks)})
}

// HandleGetDocument 查询单个文档的元数据与分块
func (h *ScreeningHandler) HandleGetDocument(ctx context.Context, c *app.RequestContext) {
	submissionUUID := c.Param("uuid")
	if submissionUUID == "" {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "缺少uuid参数"})
		return
	}

	doc, err := h.storage.MySQL.GetDocumentByUUID(ctx, submissionUUID)
	if err != nil {
		if errors.Is(err, storage.ErrDocumentNotFound) {
			c.JSON(consts.StatusNotFound, utils.H{"error": "文档不存在"})
			return
		}
		c.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
		return
	}

	chunks, err := h.storage.VectorDB.ListChunksByDocument(ctx, submissionUUID)
	if err != nil {
		logger.Warn().Err(err).Str("document_uuid", submissionUUID).Msg("列举文档分块失败")
		chunks = nil
	}

	c.JSON(consts.StatusOK, utils.H{"document": doc, "chunks": chunks})
}

// HandleListDocuments 分页列举已上传的文档
func (h *ScreeningHandler) HandleListDocuments(ctx context.Context, c *app.RequestContext) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	docs, err := h.storage.MySQL.ListDocuments(ctx, pageSize, (page-1)*pageSize)
	if err != nil {
		c.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
		return
	}

	c.JSON(consts.StatusOK, utils.H{
		"documents": docs,
		"page":      page,
		"page_size": pageSize,
		"count":     len(docs),
	})
}

// HandleDeleteDocument 删除文档及其全部向量点
func (h *ScreeningHandler) HandleDeleteDocument(ctx context.Context, c *app.RequestContext) {
	submissionUUID := c.Param("uuid")
	if submissionUUID == "" {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "缺少uuid参数"})
		return
	}

	if err := h.ingestor.DeleteDocument(ctx, submissionUUID); err != nil {
		if errors.Is(err, storage.ErrDocumentNotFound) {
			c.JSON(consts.StatusNotFound, utils.H{"error": "文档不存在"})
			return
		}
		h.writePipelineError(c, err)
		return
	}

	c.JSON(consts.StatusOK, utils.H{"submission_uuid": submissionUUID, "deleted": true})
}

// HandleHealth 健康检查，附带向量库点数便于观察语料规模
func (h *ScreeningHandler) HandleHealth(ctx context.Context, c *app.RequestContext) {
	resp := utils.H{"status": "ok"}
	if count, err := h.storage.VectorDB.CountPoints(ctx); err == nil {
		resp["vector_points"] = count
	}
	c.JSON(consts.StatusOK, resp)
}

// writePipelineError 将管道错误映射到HTTP状态码
func (h *ScreeningHandler) writePipelineError(c *app.RequestContext, err error) {
	switch {
	case errors.Is(err, processor.ErrUnsupportedFormat):
		c.JSON(consts.StatusBadRequest, utils.H{"error": err.Error(), "code": "UNSUPPORTED_FORMAT"})
	case errors.Is(err, processor.ErrInvalidQuery):
		c.JSON(consts.StatusBadRequest, utils.H{"error": err.Error(), "code": "INVALID_QUERY"})
	case errors.Is(err, processor.ErrDuplicateDocument):
		c.JSON(consts.StatusConflict, utils.H{"error": err.Error(), "code": constants.StatusDuplicateSkipped})
	case errors.Is(err, processor.ErrEmptyContent):
		c.JSON(consts.StatusUnprocessableEntity, utils.H{"error": err.Error(), "code": "EMPTY_CONTENT"})
	default:
		logger.Error().Err(err).Msg("请求处理失败")
		c.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
	}
}
