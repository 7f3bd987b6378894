package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/hertz/pkg/app/server"
	hlog "github.com/cloudwego/hertz/pkg/common/hlog"
	hertzadapter "github.com/hertz-contrib/logger/zerolog"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"github.com/spf13/pflag"

	"resume-screener-go/internal/api/handler"
	"resume-screener-go/internal/api/router"
	"resume-screener-go/internal/config"
	"resume-screener-go/internal/llm"
	"resume-screener-go/internal/logger"
	"resume-screener-go/internal/parser"
	"resume-screener-go/internal/processor"
	"resume-screener-go/internal/storage"
	"resume-screener-go/internal/tracing"
)

func main() {
	var configPath string
	pflag.StringVarP(&configPath, "config", "c", "", "配置文件路径")
	pflag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("加载配置失败")
	}

	logger.Init(logger.Config{
		Level:        cfg.Logger.Level,
		Format:       cfg.Logger.Format,
		TimeFormat:   cfg.Logger.TimeFormat,
		ReportCaller: cfg.Logger.ReportCaller,
	})
	hlog.SetLogger(hertzadapter.From(logger.Logger))
	logger.Info().Msg("配置加载成功")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.InitProvider(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化追踪失败")
	}

	storageManager, err := storage.NewStorage(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化存储失败")
	}
	defer storageManager.Close()

	extractor, err := parser.NewEinoPDFTextExtractor(ctx,
		parser.WithExtractTimeout(config.GetDuration(cfg.Pipeline.ExtractTimeout, 30*time.Second)),
		parser.WithExtractorLogger(logger.Component("pdf_extractor")),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("创建PDF提取器失败")
	}

	chunker := parser.NewRuleChunker(
		parser.WithChunkSize(cfg.Pipeline.ChunkSize),
		parser.WithChunkOverlap(cfg.Pipeline.ChunkOverlap),
	)

	// 凭证缺失在启动期切换到演示模式，而不是请求期报错
	var embedder processor.TextEmbedder
	embeddingMock := !cfg.EmbeddingConfigured()
	if embeddingMock {
		logger.Warn().Msg("未配置嵌入服务API Key，使用演示模式嵌入器")
		embedder = parser.NewMockEmbedder(cfg.Embedding.Dimensions)
	} else {
		embedder, err = parser.NewOpenAIEmbedder(cfg.Embedding)
		if err != nil {
			logger.Fatal().Err(err).Msg("创建嵌入器失败")
		}
	}

	var chatModel model.ChatModel
	chatMock := !cfg.LLMConfigured()
	if chatMock {
		logger.Warn().Msg("未配置LLM API Key，使用演示模式生成报告")
		chatModel = llm.NewMockChatModel()
	} else {
		chatModel, err = llm.NewOpenAIChatModel(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL,
			llm.WithTemperature(cfg.LLM.Temperature),
			llm.WithMaxTokens(cfg.LLM.MaxTokens),
		)
		if err != nil {
			logger.Fatal().Err(err).Msg("创建LLM客户端失败")
		}
	}

	generator := parser.NewReportGenerator(chatModel,
		parser.WithMaxContextChars(cfg.Pipeline.MaxContextChars),
		parser.WithGenerationRetries(cfg.LLM.MaxRetries),
		parser.WithGenerationTimeout(config.GetDuration(cfg.LLM.GenTimeout, 60*time.Second)),
	)

	ingestorOpts := []processor.IngestorOption{
		processor.WithDedupCache(storageManager.Redis),
		processor.WithObjectStore(storageManager.MinIO),
	}
	if storageManager.RabbitMQ != nil {
		ingestorOpts = append(ingestorOpts, processor.WithUploadPublisher(storageManager.RabbitMQ))
	}
	ingestor, err := processor.NewIngestor(extractor, chunker, embedder,
		storageManager.VectorDB, storageManager.MySQL, ingestorOpts...)
	if err != nil {
		logger.Fatal().Err(err).Msg("创建入库处理器失败")
	}

	// 嵌入或LLM任一走mock路径，报告就统一标记为演示输出
	mockMode := chatMock || embeddingMock

	analyzer, err := processor.NewAnalyzer(embedder, storageManager.VectorDB, generator, storageManager.MySQL,
		processor.WithAnalyzerCache(storageManager.Redis),
		processor.WithMockMode(mockMode),
		processor.WithDefaultTopK(cfg.Qdrant.DefaultSearchLimit),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("创建分析器失败")
	}

	// 异步入库模式下启动消费者
	if storageManager.RabbitMQ != nil {
		workers := cfg.RabbitMQ.ConsumerWorkers
		if workers <= 0 {
			workers = 1
		}
		for i := 0; i < workers; i++ {
			go func(worker int) {
				consumerLog := logger.Component("upload_consumer")
				if err := storageManager.RabbitMQ.ConsumeUploadMessages(ctx, ingestor.HandleUploadMessage); err != nil && ctx.Err() == nil {
					consumerLog.Error().Err(err).Int("worker", worker).Msg("上传消费者退出")
				}
			}(i)
		}
		logger.Info().Int("workers", workers).Msg("异步入库消费者已启动")
	}

	screeningHandler := handler.NewScreeningHandler(cfg, storageManager, ingestor, analyzer)

	tracer, tracerCfg := hertztracing.NewServerTracer()
	h := server.New(
		server.WithHostPorts(cfg.Server.Address),
		server.WithHandleMethodNotAllowed(true),
		tracer,
	)
	h.Use(hertztracing.ServerMiddleware(tracerCfg))

	router.RegisterRoutes(h, cfg, screeningHandler)
	logger.Info().Str("address", cfg.Server.Address).Bool("mock_mode", mockMode).Msg("HTTP服务器启动")

	go func() {
		if err := h.Run(); err != nil {
			logger.Fatal().Err(err).Msg("HTTP服务器启动失败")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("接收到终止信号，正在优雅退出...")

	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := h.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP服务器关闭失败")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("追踪导出器关闭失败")
	}
	logger.Info().Msg("优雅退出完成")
}
