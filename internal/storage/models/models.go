package models

import (
	"time"

	"gorm.io/datatypes"
)

// ResumeDocument 简历文档元数据表
// 文档入库后不可变，状态字段记录处理进度
type ResumeDocument struct {
	SubmissionUUID    string    `gorm:"column:submission_uuid;type:varchar(36);primaryKey" json:"submission_uuid"`
	OriginalFilename  string    `gorm:"column:original_filename;type:varchar(512);not null" json:"original_filename"`
	ContentMD5        string    `gorm:"column:content_md5;type:char(32);uniqueIndex;not null" json:"content_md5"`
	Status            string    `gorm:"column:status;type:varchar(32);index;not null" json:"status"`
	ChunkCount        int       `gorm:"column:chunk_count;default:0" json:"chunk_count"`
	OriginalObjectKey string    `gorm:"column:original_object_key;type:varchar(512)" json:"original_object_key"`
	ParsedObjectKey   string    `gorm:"column:parsed_object_key;type:varchar(512)" json:"parsed_object_key"`
	ErrorDetail       string    `gorm:"column:error_detail;type:text" json:"error_detail,omitempty"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName 指定表名
func (ResumeDocument) TableName() string {
	return "resume_documents"
}

// ScreeningReport 分析报告审计表
// 完整报告以JSON列存储，便于追溯每次分析的输出
type ScreeningReport struct {
	ReportID       string         `gorm:"column:report_id;type:varchar(36);primaryKey" json:"report_id"`
	JobDescMD5     string         `gorm:"column:job_desc_md5;type:char(32);index;not null" json:"job_desc_md5"`
	TopK           int            `gorm:"column:top_k;not null" json:"top_k"`
	OverallScore   float64        `gorm:"column:overall_score" json:"overall_score"`
	Mock           bool           `gorm:"column:mock" json:"mock"`
	ReportJSON     datatypes.JSON `gorm:"column:report_json" json:"report_json"`
	CreatedAt      time.Time      `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// TableName 指定表名
func (ScreeningReport) TableName() string {
	return "screening_reports"
}
