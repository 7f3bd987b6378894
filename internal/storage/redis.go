package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"resume-screener-go/internal/config"
	"resume-screener-go/internal/constants"
	"resume-screener-go/internal/tracing"
	"resume-screener-go/internal/types"
)

// ErrNotFound 键不存在时返回，包装底层的redis.Nil
var ErrNotFound = redis.Nil

// 为Redis操作定义专用tracer
var redisTracer = otel.Tracer("resume-screener-go/storage/redis")

// Redis 封装Redis客户端，提供去重集合与查询缓存
type Redis struct {
	Client *redis.Client
	config *config.RedisConfig
}

// NewRedisAdapter 创建Redis连接
func NewRedisAdapter(cfg *config.RedisConfig) (*Redis, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis配置不能为空")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis地址不能为空")
	}

	opt := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,

		// 连接池设置
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,

		// 超时设置
		DialTimeout:  time.Duration(cfg.DialTimeoutSeconds) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,

		// 重试设置
		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: time.Duration(cfg.MinRetryBackoffMS) * time.Millisecond,
		MaxRetryBackoff: time.Duration(cfg.MaxRetryBackoffMS) * time.Millisecond,
	}

	client := redis.NewClient(opt)

	// 添加OpenTelemetry钩子，记录所有Redis操作
	if cfg.EnableTracing {
		if err := redisotel.InstrumentTracing(client); err != nil {
			return nil, fmt.Errorf("为Redis挂载OpenTelemetry钩子失败: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("连接Redis %s 失败: %w", cfg.Address, err)
	}

	return &Redis{Client: client, config: cfg}, nil
}

// Close 关闭Redis连接
func (r *Redis) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

// Ping 检查Redis连接
func (r *Redis) Ping(ctx context.Context) error {
	if r.Client == nil {
		return fmt.Errorf("redis客户端未初始化")
	}
	return r.Client.Ping(ctx).Err()
}

// GetMD5ExpireDuration 返回配置的去重记录过期时间
func (r *Redis) GetMD5ExpireDuration() time.Duration {
	days := r.config.MD5RecordExpireDays
	if days <= 0 {
		return constants.MD5RecordDefaultExpire
	}
	return time.Duration(days) * 24 * time.Hour
}

// AddRawFileMD5 添加原始文件MD5到去重集合并设置过期时间
func (r *Redis) AddRawFileMD5(ctx context.Context, md5Hex string) error {
	if r.Client == nil {
		return fmt.Errorf("redis客户端未初始化")
	}
	pipe := r.Client.Pipeline()
	pipe.SAdd(ctx, constants.KeyRawFileMD5Set, md5Hex)
	// ExpireNX: 只在尚无过期时间时设置，避免每次写入都重置TTL
	pipe.ExpireNX(ctx, constants.KeyRawFileMD5Set, r.GetMD5ExpireDuration())
	_, err := pipe.Exec(ctx)
	return err
}

// CheckRawFileMD5Exists 检查原始文件MD5是否已入库
func (r *Redis) CheckRawFileMD5Exists(ctx context.Context, md5Hex string) (bool, error) {
	if r.Client == nil {
		return false, fmt.Errorf("redis客户端未初始化")
	}
	return r.Client.SIsMember(ctx, constants.KeyRawFileMD5Set, md5Hex).Result()
}

// RemoveRawFileMD5 从去重集合移除MD5，文档删除后对应内容可重新上传
func (r *Redis) RemoveRawFileMD5(ctx context.Context, md5Hex string) error {
	if r.Client == nil {
		return fmt.Errorf("redis客户端未初始化")
	}
	return r.Client.SRem(ctx, constants.KeyRawFileMD5Set, md5Hex).Err()
}

// SetQueryVector 缓存岗位描述文本的查询向量，键为JD文本的MD5
func (r *Redis) SetQueryVector(ctx context.Context, jdMD5 string, vector []float64) error {
	ctx, span := redisTracer.Start(ctx, "Redis.SetQueryVector",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	key := fmt.Sprintf(constants.KeyQueryVector, jdMD5)
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.redis.key", tracing.SafeRedisKey(key)),
		attribute.Int("vector.size", len(vector)),
	)

	data, err := json.Marshal(vector)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeRedis)
		return fmt.Errorf("序列化查询向量失败: %w", err)
	}

	if err := r.Client.Set(ctx, key, data, constants.QueryVectorCacheTTL).Err(); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeRedis)
		return err
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// GetQueryVector 读取缓存的查询向量；未命中返回ErrNotFound
func (r *Redis) GetQueryVector(ctx context.Context, jdMD5 string) ([]float64, error) {
	key := fmt.Sprintf(constants.KeyQueryVector, jdMD5)
	data, err := r.Client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, err
	}

	var vector []float64
	if err := json.Unmarshal(data, &vector); err != nil {
		return nil, fmt.Errorf("反序列化查询向量失败: %w", err)
	}
	return vector, nil
}

// CacheReport 缓存分析报告，键为(JD MD5, topK)
func (r *Redis) CacheReport(ctx context.Context, jdMD5 string, topK int, report *types.Report, ttl time.Duration) error {
	key := fmt.Sprintf(constants.KeyReportCache, jdMD5, topK)
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("序列化报告失败: %w", err)
	}
	return r.Client.Set(ctx, key, data, ttl).Err()
}

// GetCachedReport 读取缓存的分析报告；未命中返回ErrNotFound
func (r *Redis) GetCachedReport(ctx context.Context, jdMD5 string, topK int) (*types.Report, error) {
	key := fmt.Sprintf(constants.KeyReportCache, jdMD5, topK)
	data, err := r.Client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, err
	}

	var report types.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("反序列化缓存报告失败: %w", err)
	}
	return &report, nil
}

// InvalidateReportCaches 清空报告缓存；入库或删除文档后调用，保证检索结果可见性
func (r *Redis) InvalidateReportCaches(ctx context.Context) error {
	pattern := fmt.Sprintf(constants.KeyReportCache, "*", 0)
	// 报告缓存键以topK结尾，把格式化出的":0"换成通配
	pattern = pattern[:len(pattern)-1] + "*"

	iter := r.Client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := r.Client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
