package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"resume-screener-go/internal/config"
	"resume-screener-go/internal/constants"
	"resume-screener-go/internal/logger"
	"resume-screener-go/internal/storage/models"
	"resume-screener-go/internal/tracing"
	"resume-screener-go/internal/types"
)

// 为MySQL操作定义专用tracer
var mysqlTracer = otel.Tracer("resume-screener-go/storage/mysql")

// ErrDocumentNotFound 文档不存在
var ErrDocumentNotFound = errors.New("document not found")

// MySQL 封装gorm连接，负责文档元数据与报告审计
type MySQL struct {
	DB *gorm.DB
}

// NewMySQL 建立MySQL连接并自动迁移表结构
func NewMySQL(cfg *config.MySQLConfig) (*MySQL, error) {
	if cfg == nil {
		return nil, fmt.Errorf("mysql配置不能为空")
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=%ds",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.ConnectTimeoutSeconds)

	gormLogLevel := gormlogger.Warn
	switch cfg.LogLevel {
	case 1:
		gormLogLevel = gormlogger.Silent
	case 2:
		gormLogLevel = gormlogger.Error
	case 3:
		gormLogLevel = gormlogger.Warn
	case 4:
		gormLogLevel = gormlogger.Info
	}

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormLogLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("连接MySQL失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层连接池失败: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)

	if err := db.AutoMigrate(&models.ResumeDocument{}, &models.ScreeningReport{}); err != nil {
		return nil, fmt.Errorf("自动迁移表结构失败: %w", err)
	}

	logger.Info().
		Str("component", "mysql").
		Str("host", cfg.Host).
		Str("database", cfg.Database).
		Msg("MySQL连接就绪")

	return &MySQL{DB: db}, nil
}

// Close 关闭底层连接池
func (m *MySQL) Close() error {
	sqlDB, err := m.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateDocument 写入文档元数据行
func (m *MySQL) CreateDocument(ctx context.Context, doc *models.ResumeDocument) error {
	ctx, span := mysqlTracer.Start(ctx, "MySQL.CreateDocument",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("db.system", "mysql"),
		attribute.String("db.operation", "insert"),
		attribute.String("document.uuid", doc.SubmissionUUID),
	)

	if err := m.DB.WithContext(ctx).Create(doc).Error; err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// GetDocumentByUUID 按提交UUID查询文档
func (m *MySQL) GetDocumentByUUID(ctx context.Context, submissionUUID string) (*models.ResumeDocument, error) {
	var doc models.ResumeDocument
	err := m.DB.WithContext(ctx).Where("submission_uuid = ?", submissionUUID).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// GetDocumentByContentMD5 按内容MD5查询文档，用于重复上传时给出已有文档信息
func (m *MySQL) GetDocumentByContentMD5(ctx context.Context, md5Hex string) (*models.ResumeDocument, error) {
	var doc models.ResumeDocument
	err := m.DB.WithContext(ctx).Where("content_md5 = ?", md5Hex).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListDocuments 按创建时间倒序列出文档
func (m *MySQL) ListDocuments(ctx context.Context, limit, offset int) ([]models.ResumeDocument, error) {
	if limit <= 0 {
		limit = 100
	}
	var docs []models.ResumeDocument
	err := m.DB.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&docs).Error
	return docs, err
}

// UpdateDocumentStatus 更新文档处理状态，失败时可附带错误详情
func (m *MySQL) UpdateDocumentStatus(ctx context.Context, submissionUUID, status, errorDetail string) error {
	updates := map[string]interface{}{"status": status}
	if errorDetail != "" {
		updates["error_detail"] = errorDetail
	}
	result := m.DB.WithContext(ctx).
		Model(&models.ResumeDocument{}).
		Where("submission_uuid = ?", submissionUUID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

// MarkDocumentIngested 入库完成时一次性落状态与分块数
func (m *MySQL) MarkDocumentIngested(ctx context.Context, submissionUUID string, chunkCount int) error {
	result := m.DB.WithContext(ctx).
		Model(&models.ResumeDocument{}).
		Where("submission_uuid = ?", submissionUUID).
		Updates(map[string]interface{}{
			"status":      constants.StatusIngested,
			"chunk_count": chunkCount,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

// DeleteDocument 删除文档元数据行
func (m *MySQL) DeleteDocument(ctx context.Context, submissionUUID string) error {
	result := m.DB.WithContext(ctx).
		Where("submission_uuid = ?", submissionUUID).
		Delete(&models.ResumeDocument{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

// SaveReport 将分析报告写入审计表
func (m *MySQL) SaveReport(ctx context.Context, jdMD5 string, topK int, report *types.Report) error {
	ctx, span := mysqlTracer.Start(ctx, "MySQL.SaveReport",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("db.system", "mysql"),
		attribute.String("db.operation", "insert"),
		attribute.String("report.id", report.ReportID),
		attribute.Bool("report.mock", report.Mock),
	)

	data, err := json.Marshal(report)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeInternal)
		return fmt.Errorf("序列化报告失败: %w", err)
	}

	row := &models.ScreeningReport{
		ReportID:     report.ReportID,
		JobDescMD5:   jdMD5,
		TopK:         topK,
		OverallScore: report.OverallScore,
		Mock:         report.Mock,
		ReportJSON:   datatypes.JSON(data),
	}

	if err := m.DB.WithContext(ctx).Create(row).Error; err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}
