package types

import "time"

// Document 表示一份已上传的简历文档
// 入库后不可变；相同内容（MD5一致）的重复上传会被拒绝而不是覆盖
type Document struct {
	// SubmissionUUID 文档唯一标识 (UUIDv7)
	SubmissionUUID string `json:"submission_uuid"`
	// OriginalFilename 上传时的原始文件名
	OriginalFilename string `json:"original_filename"`
	// ContentMD5 原始文件内容的MD5，用于去重
	ContentMD5 string `json:"content_md5"`
	// Status 处理状态，见 constants 包
	Status string `json:"status"`
	// ChunkCount 入库的分块数量
	ChunkCount int `json:"chunk_count"`
	// IngestedAt 入库时间
	IngestedAt time.Time `json:"ingested_at"`
}

// Chunk 表示文档文本的一个连续切片，按嵌入模型输入窗口大小切分
type Chunk struct {
	// DocumentUUID 所属文档
	DocumentUUID string `json:"document_uuid"`
	// Index 在文档内的序号，从0开始
	Index int `json:"index"`
	// Text 分块文本内容
	Text string `json:"text"`
}

// RetrievedChunk 检索结果中的一个分块及其相似度分数
type RetrievedChunk struct {
	// PointID 向量库中的点ID
	PointID string `json:"point_id"`
	// DocumentUUID 所属文档
	DocumentUUID string `json:"document_uuid"`
	// ChunkIndex 分块在文档内的序号
	ChunkIndex int `json:"chunk_index"`
	// Filename 来源文件名
	Filename string `json:"filename"`
	// Text 分块文本
	Text string `json:"text"`
	// Score 余弦相似度分数，越大越相似
	Score float32 `json:"score"`
	// IngestSeq 入库顺序号，用于同分时的稳定排序
	IngestSeq int64 `json:"ingest_seq"`
}

// SkillMatch 单项技能匹配
type SkillMatch struct {
	Skill      string  `json:"skill"`
	MatchScore float64 `json:"match_score"` // [0,1]
	Evidence   string  `json:"evidence"`
	Relevance  string  `json:"relevance"`
}

// ExperienceMatch 工作经历匹配
type ExperienceMatch struct {
	Role            string   `json:"role"`
	YearsExperience *float64 `json:"years_experience,omitempty"`
	MatchScore      float64  `json:"match_score"` // [0,1]
	Evidence        string   `json:"evidence"`
}

// EducationMatch 教育背景匹配
type EducationMatch struct {
	Degree     string  `json:"degree"`
	Field      string  `json:"field,omitempty"`
	MatchScore float64 `json:"match_score"` // [0,1]
	Evidence   string  `json:"evidence"`
}

// EvidenceSnippet 证据片段，回链到可检索的向量库分块
type EvidenceSnippet struct {
	ChunkID      string  `json:"chunk_id"`
	DocumentUUID string  `json:"document_uuid"`
	ChunkIndex   int     `json:"chunk_index"`
	Text         string  `json:"text"`
	Score        float32 `json:"score"`
}

// Report 一次分析的结构化输出
// 分数统一使用 [0,1] 区间
type Report struct {
	ReportID      string  `json:"report_id"`
	OverallScore  float64 `json:"overall_score"` // [0,1]
	CandidateName string  `json:"candidate_name"`
	Summary       string  `json:"summary"`

	Strengths  []string `json:"strengths"`
	Weaknesses []string `json:"weaknesses"`

	SkillMatches      []SkillMatch      `json:"skill_matches"`
	ExperienceMatches []ExperienceMatch `json:"experience_matches"`
	EducationMatches  []EducationMatch  `json:"education_matches"`

	Recommendation string `json:"recommendation"`
	Reasoning      string `json:"reasoning"`

	// EvidenceSnippets 由检索结果生成，每条都引用一个真实存在的分块
	EvidenceSnippets []EvidenceSnippet `json:"evidence_snippets"`

	// Mock 为 true 时表示该报告由兜底逻辑生成（未配置LLM或解析多次失败）
	Mock bool `json:"mock"`
	// GeneratedAt 生成时间 (Unix秒)
	GeneratedAt int64 `json:"generated_at"`
}
