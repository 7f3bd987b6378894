package processor

import (
	"errors"
	"fmt"
)

// 定义基础错误类型
var (
	ErrUnsupportedFormat = errors.New("不支持的文件格式")
	ErrDuplicateDocument = errors.New("重复的简历文件")
	ErrEmptyContent      = errors.New("文档无可用文本")
	ErrEmbeddingFailed   = errors.New("嵌入服务调用失败")
	ErrVectorStoreFailed = errors.New("向量库操作失败")
	ErrGenerationFailed  = errors.New("报告生成失败")
	ErrObjectStoreFailed = errors.New("对象存储操作失败")
	ErrDatabaseFailed    = errors.New("数据库操作失败")
	ErrInvalidQuery      = errors.New("岗位描述不能为空")
)

// PipelineError 包含详细错误信息的自定义错误
type PipelineError struct {
	SubmissionUUID string
	Stage          string
	BaseErr        error
	Detail         string
}

func (e *PipelineError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (阶段:%s, UUID:%s): %s", e.BaseErr, e.Stage, e.SubmissionUUID, e.Detail)
	}
	return fmt.Sprintf("%s (阶段:%s, UUID:%s)", e.BaseErr, e.Stage, e.SubmissionUUID)
}

func (e *PipelineError) Unwrap() error {
	return e.BaseErr
}

// Is 实现 errors.Is 接口以支持错误比较
func (e *PipelineError) Is(target error) bool {
	return errors.Is(e.BaseErr, target)
}

// 错误构造函数
func NewFormatError(uuid, detail string) error {
	return &PipelineError{SubmissionUUID: uuid, Stage: "sniff", BaseErr: ErrUnsupportedFormat, Detail: detail}
}

func NewDuplicateError(uuid, detail string) error {
	return &PipelineError{SubmissionUUID: uuid, Stage: "dedup", BaseErr: ErrDuplicateDocument, Detail: detail}
}

func NewExtractError(uuid, detail string) error {
	return &PipelineError{SubmissionUUID: uuid, Stage: "extract", BaseErr: ErrEmptyContent, Detail: detail}
}

func NewEmbeddingError(uuid, detail string) error {
	return &PipelineError{SubmissionUUID: uuid, Stage: "embed", BaseErr: ErrEmbeddingFailed, Detail: detail}
}

func NewVectorStoreError(uuid, detail string) error {
	return &PipelineError{SubmissionUUID: uuid, Stage: "upsert", BaseErr: ErrVectorStoreFailed, Detail: detail}
}

func NewGenerationError(uuid, detail string) error {
	return &PipelineError{SubmissionUUID: uuid, Stage: "generate", BaseErr: ErrGenerationFailed, Detail: detail}
}

func NewObjectStoreError(uuid, detail string) error {
	return &PipelineError{SubmissionUUID: uuid, Stage: "object_store", BaseErr: ErrObjectStoreFailed, Detail: detail}
}

func NewDatabaseError(uuid, detail string) error {
	return &PipelineError{SubmissionUUID: uuid, Stage: "database", BaseErr: ErrDatabaseFailed, Detail: detail}
}
