package storage

import (
	"fmt"

	"resume-screener-go/internal/config"
	"resume-screener-go/internal/logger"
)

// Storage 聚合所有存储组件，统一创建和关闭
type Storage struct {
	VectorDB VectorDatabase
	MySQL    *MySQL
	Redis    *Redis
	MinIO    *MinIO
	RabbitMQ *RabbitMQ // 仅异步入库模式下非nil
}

// NewStorage 按配置初始化全部存储组件
// RabbitMQ仅在管道配置了异步入库时连接
func NewStorage(cfg *config.Config) (*Storage, error) {
	qdrant, err := NewQdrant(&cfg.Qdrant)
	if err != nil {
		return nil, fmt.Errorf("初始化Qdrant失败: %w", err)
	}

	mysqlDB, err := NewMySQL(&cfg.MySQL)
	if err != nil {
		return nil, fmt.Errorf("初始化MySQL失败: %w", err)
	}

	redisDB, err := NewRedisAdapter(&cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("初始化Redis失败: %w", err)
	}

	minioClient, err := NewMinIO(&cfg.MinIO)
	if err != nil {
		return nil, fmt.Errorf("初始化MinIO失败: %w", err)
	}

	s := &Storage{
		VectorDB: qdrant,
		MySQL:    mysqlDB,
		Redis:    redisDB,
		MinIO:    minioClient,
	}

	if cfg.Pipeline.AsyncIngest {
		rmq, err := NewRabbitMQ(&cfg.RabbitMQ)
		if err != nil {
			return nil, fmt.Errorf("初始化RabbitMQ失败: %w", err)
		}
		s.RabbitMQ = rmq
	}

	logger.Info().Str("component", "storage").Bool("async_ingest", s.RabbitMQ != nil).Msg("存储层初始化完成")
	return s, nil
}

// Close 关闭全部存储连接
func (s *Storage) Close() {
	if s.RabbitMQ != nil {
		if err := s.RabbitMQ.Close(); err != nil {
			logger.Warn().Err(err).Msg("关闭RabbitMQ失败")
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			logger.Warn().Err(err).Msg("关闭Redis失败")
		}
	}
	if s.MySQL != nil {
		if err := s.MySQL.Close(); err != nil {
			logger.Warn().Err(err).Msg("关闭MySQL失败")
		}
	}
}
