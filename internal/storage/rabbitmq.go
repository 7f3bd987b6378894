package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"resume-screener-go/internal/config"
	"resume-screener-go/internal/logger"
	"resume-screener-go/internal/tracing"
)

// 为RabbitMQ操作定义专用tracer
var rabbitTracer = otel.Tracer("resume-screener-go/storage/rabbitmq")

// RabbitMQ 封装AMQP连接，承载异步入库事件
type RabbitMQ struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	cfg     *config.RabbitMQConfig
}

// NewRabbitMQ 建立连接并声明exchange/queue/binding
func NewRabbitMQ(cfg *config.RabbitMQConfig) (*RabbitMQ, error) {
	if cfg == nil {
		return nil, fmt.Errorf("rabbitmq配置不能为空")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接RabbitMQ失败: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("打开channel失败: %w", err)
	}

	if err := channel.ExchangeDeclare(
		cfg.ResumeEventsExchange, "topic",
		true, false, false, false, nil,
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("声明exchange失败: %w", err)
	}

	if _, err := channel.QueueDeclare(
		cfg.RawResumeQueue,
		true, false, false, false, nil,
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("声明队列失败: %w", err)
	}

	if err := channel.QueueBind(
		cfg.RawResumeQueue, cfg.UploadedRoutingKey, cfg.ResumeEventsExchange,
		false, nil,
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("绑定队列失败: %w", err)
	}

	if cfg.PrefetchCount > 0 {
		if err := channel.Qos(cfg.PrefetchCount, 0, false); err != nil {
			conn.Close()
			return nil, fmt.Errorf("设置prefetch失败: %w", err)
		}
	}

	logger.Info().
		Str("component", "rabbitmq").
		Str("exchange", cfg.ResumeEventsExchange).
		Str("queue", cfg.RawResumeQueue).
		Msg("RabbitMQ连接就绪")

	return &RabbitMQ{conn: conn, channel: channel, cfg: cfg}, nil
}

// Close 关闭channel与连接
func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		_ = r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

// PublishUploadMessage 发布上传事件
func (r *RabbitMQ) PublishUploadMessage(ctx context.Context, msg *ResumeUploadMessage) error {
	ctx, span := rabbitTracer.Start(ctx, "RabbitMQ.PublishUploadMessage",
		trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()

	span.SetAttributes(
		attribute.String("messaging.system", "rabbitmq"),
		attribute.String("messaging.destination", r.cfg.ResumeEventsExchange),
		attribute.String("messaging.routing_key", r.cfg.UploadedRoutingKey),
		attribute.String("document.uuid", msg.SubmissionUUID),
	)

	body, err := json.Marshal(msg)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeRabbitMQ)
		return fmt.Errorf("序列化上传消息失败: %w", err)
	}

	err = r.channel.PublishWithContext(ctx,
		r.cfg.ResumeEventsExchange,
		r.cfg.UploadedRoutingKey,
		false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.SubmissionUUID,
			Timestamp:    time.Now(),
			Body:         body,
		})
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeRabbitMQ)
		return fmt.Errorf("发布上传消息失败: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// ConsumeUploadMessages 启动消费者循环，handler返回错误时消息requeue一次后丢弃
// 阻塞直到ctx取消或底层连接断开
func (r *RabbitMQ) ConsumeUploadMessages(ctx context.Context, handler func(context.Context, *ResumeUploadMessage) error) error {
	deliveries, err := r.channel.Consume(
		r.cfg.RawResumeQueue,
		"", false, false, false, false, nil,
	)
	if err != nil {
		return fmt.Errorf("启动消费失败: %w", err)
	}

	consumerLog := logger.Component("rabbitmq_consumer")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("消息通道已关闭")
			}

			var msg ResumeUploadMessage
			if err := json.Unmarshal(delivery.Body, &msg); err != nil {
				consumerLog.Error().Err(err).Msg("消息体解析失败，丢弃")
				_ = delivery.Nack(false, false)
				continue
			}

			if err := handler(ctx, &msg); err != nil {
				consumerLog.Error().
					Err(err).
					Str("document_uuid", msg.SubmissionUUID).
					Bool("redelivered", delivery.Redelivered).
					Msg("处理上传消息失败")
				// 首次失败requeue重试一次，再次失败丢弃
				_ = delivery.Nack(false, !delivery.Redelivered)
				continue
			}

			if err := delivery.Ack(false); err != nil {
				consumerLog.Error().Err(err).Msg("消息确认失败")
			}
		}
	}
}
