package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"

	"resume-screener-go/internal/config"
	"resume-screener-go/internal/logger"
)

// MinIO 封装对象存储客户端
// 原始PDF与解析文本分桶存放，对象键为 <submission_uuid>.pdf / <submission_uuid>.txt
type MinIO struct {
	client           *minio.Client
	originalsBucket  string
	parsedTextBucket string
}

// NewMinIO 创建MinIO客户端并确保存储桶存在
func NewMinIO(cfg *config.MinIOConfig) (*MinIO, error) {
	if cfg == nil {
		return nil, fmt.Errorf("minio配置不能为空")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("创建MinIO客户端失败: %w", err)
	}

	m := &MinIO{
		client:           client,
		originalsBucket:  cfg.OriginalsBucket,
		parsedTextBucket: cfg.ParsedTextBucket,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, bucket := range []string{m.originalsBucket, m.parsedTextBucket} {
		if err := m.ensureBucket(ctx, bucket, cfg.Location); err != nil {
			return nil, err
		}
	}

	// 原始文件生命周期管理（可选）
	if cfg.OriginalFileExpireDays > 0 {
		lc := lifecycle.NewConfiguration()
		lc.Rules = []lifecycle.Rule{{
			ID:     "expire-originals",
			Status: "Enabled",
			Expiration: lifecycle.Expiration{
				Days: lifecycle.ExpirationDays(cfg.OriginalFileExpireDays),
			},
		}}
		if err := client.SetBucketLifecycle(ctx, m.originalsBucket, lc); err != nil {
			// 生命周期设置失败不阻塞启动
			logger.Warn().
				Str("component", "minio").
				Err(err).
				Msg("设置存储桶生命周期失败")
		}
	}

	logger.Info().
		Str("component", "minio").
		Str("endpoint", cfg.Endpoint).
		Str("originals_bucket", m.originalsBucket).
		Str("parsed_bucket", m.parsedTextBucket).
		Msg("MinIO客户端就绪")

	return m, nil
}

func (m *MinIO) ensureBucket(ctx context.Context, bucket, location string) error {
	exists, err := m.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("检查存储桶 %s 失败: %w", bucket, err)
	}
	if !exists {
		if err := m.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: location}); err != nil {
			return fmt.Errorf("创建存储桶 %s 失败: %w", bucket, err)
		}
	}
	return nil
}

// OriginalObjectKey 原始PDF的对象键
func OriginalObjectKey(submissionUUID string) string {
	return submissionUUID + ".pdf"
}

// ParsedObjectKey 解析文本的对象键
func ParsedObjectKey(submissionUUID string) string {
	return submissionUUID + ".txt"
}

// PutOriginalPDF 存储原始PDF字节
func (m *MinIO) PutOriginalPDF(ctx context.Context, submissionUUID string, data []byte) (string, error) {
	key := OriginalObjectKey(submissionUUID)
	_, err := m.client.PutObject(ctx, m.originalsBucket, key,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/pdf"})
	if err != nil {
		return "", fmt.Errorf("写入原始PDF失败: %w", err)
	}
	return key, nil
}

// GetOriginalPDF 读取原始PDF字节
func (m *MinIO) GetOriginalPDF(ctx context.Context, submissionUUID string) ([]byte, error) {
	key := OriginalObjectKey(submissionUUID)
	obj, err := m.client.GetObject(ctx, m.originalsBucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("读取原始PDF失败: %w", err)
	}
	defer obj.Close()
	return io.ReadAll(obj)
}

// PutParsedText 存储解析后的纯文本
func (m *MinIO) PutParsedText(ctx context.Context, submissionUUID string, text string) (string, error) {
	key := ParsedObjectKey(submissionUUID)
	data := []byte(text)
	_, err := m.client.PutObject(ctx, m.parsedTextBucket, key,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "text/plain; charset=utf-8"})
	if err != nil {
		return "", fmt.Errorf("写入解析文本失败: %w", err)
	}
	return key, nil
}

// GetParsedText 读取解析后的纯文本
func (m *MinIO) GetParsedText(ctx context.Context, submissionUUID string) (string, error) {
	key := ParsedObjectKey(submissionUUID)
	obj, err := m.client.GetObject(ctx, m.parsedTextBucket, key, minio.GetObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("读取解析文本失败: %w", err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DeleteDocumentObjects 删除文档的原始PDF与解析文本对象
func (m *MinIO) DeleteDocumentObjects(ctx context.Context, submissionUUID string) error {
	if err := m.client.RemoveObject(ctx, m.originalsBucket, OriginalObjectKey(submissionUUID), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("删除原始PDF失败: %w", err)
	}
	if err := m.client.RemoveObject(ctx, m.parsedTextBucket, ParsedObjectKey(submissionUUID), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("删除解析文本失败: %w", err)
	}
	return nil
}
