package constants

import "time"

// 文档处理状态
const (
	StatusUploaded         = "UPLOADED"          // 已上传，等待处理
	StatusProcessing       = "PROCESSING"        // 解析/向量化进行中
	StatusIngested         = "INGESTED"          // 已完成入库
	StatusFailed           = "FAILED"            // 处理失败
	StatusDuplicateSkipped = "DUPLICATE_SKIPPED" // 重复文件，已拒绝
	StatusPendingAsync     = "PENDING"           // 已入队，等待异步消费
)

// 管道默认参数
const (
	// DefaultChunkSize 分块窗口大小（字符数）
	DefaultChunkSize = 1000
	// DefaultChunkOverlap 相邻分块的重叠字符数
	DefaultChunkOverlap = 200
	// DefaultTopK 检索默认返回的分块数量
	DefaultTopK = 5
	// DefaultDimensions 嵌入向量默认维度
	DefaultDimensions = 1024
	// DefaultMaxContextChars 报告合成时上下文预算（字符数）
	DefaultMaxContextChars = 8000
	// DefaultGenerationRetries 结构化输出解析失败后的重试次数上限
	DefaultGenerationRetries = 2

	// MD5RecordDefaultExpire 去重记录默认保留时长
	MD5RecordDefaultExpire = 365 * 24 * time.Hour
	// QueryVectorCacheTTL 查询向量缓存时长
	QueryVectorCacheTTL = 24 * time.Hour
)
