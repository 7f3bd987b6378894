package storage

// ResumeUploadMessage 上传事件消息体
// 异步入库模式下由上传接口发布，消费者据此从MinIO取回原始文件执行管道
type ResumeUploadMessage struct {
	SubmissionUUID   string `json:"submission_uuid"`
	OriginalFilename string `json:"original_filename"`
	ContentMD5       string `json:"content_md5"`
	SubmitTimestamp  int64  `json:"submit_timestamp"`
}
