package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/rs/zerolog"

	"resume-screener-go/internal/config"
	"resume-screener-go/internal/logger"
)

// OpenAIEmbedder 实现 cloudwego/eino 的 embedding.Embedder 接口
// 对接OpenAI兼容的 /embeddings 端点
type OpenAIEmbedder struct {
	apiKey     string
	model      string
	dimensions int
	baseURL    string
	batchSize  int
	timeout    time.Duration
	httpClient *http.Client
	logger     zerolog.Logger
}

// OpenAIEmbedderOption 嵌入器配置选项
type OpenAIEmbedderOption func(*OpenAIEmbedder)

// WithEmbedderHTTPClient 指定自定义HTTP客户端（测试时注入）
func WithEmbedderHTTPClient(client *http.Client) OpenAIEmbedderOption {
	return func(e *OpenAIEmbedder) {
		e.httpClient = client
	}
}

// NewOpenAIEmbedder 创建OpenAI兼容的嵌入器
func NewOpenAIEmbedder(cfg config.EmbeddingConfig, opts ...OpenAIEmbedderOption) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("嵌入服务API密钥不能为空")
	}

	model := cfg.Model
	if model == "" {
		model = "text-embedding-3-small"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1/embeddings"
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 16
	}

	e := &OpenAIEmbedder{
		apiKey:     cfg.APIKey,
		model:      model,
		dimensions: cfg.Dimensions,
		baseURL:    baseURL,
		batchSize:  batchSize,
		timeout:    config.GetDuration(cfg.EmbedTimeout, 30*time.Second),
		httpClient: &http.Client{},
		logger:     logger.Component("embedder"),
	}
	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// GetDimensions 返回嵌入器配置的维度
func (e *OpenAIEmbedder) GetDimensions() int {
	return e.dimensions
}

type embeddingRequest struct {
	Input          []string `json:"input"`
	Model          string   `json:"model"`
	Dimensions     int      `json:"dimensions,omitempty"`
	EncodingFormat string   `json:"encoding_format,omitempty"`
}

type embeddingDataEntry struct {
	Object    string    `json:"object"`
	Embedding []float64 `json:"embedding"`
	Index     int       `json:"index"`
}

type embeddingAPIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

type embeddingResponse struct {
	Object string               `json:"object"`
	Data   []embeddingDataEntry `json:"data"`
	Model  string               `json:"model"`
	Error  *embeddingAPIError   `json:"error,omitempty"`
	Usage  struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// EmbedStrings 将文本转换为向量，实现 embedding.Embedder 接口
// 按batchSize分批提交；每次调用都带超时；返回向量与输入一一对应
func (e *OpenAIEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	options := &embedding.Options{}
	embedding.GetCommonOptions(options, opts...)

	effectiveModel := e.model
	if options.Model != nil && *options.Model != "" {
		effectiveModel = *options.Model
	}

	if len(texts) == 0 {
		return [][]float64{}, nil
	}

	result := make([][]float64, 0, len(texts))
	for begin := 0; begin < len(texts); begin += e.batchSize {
		stop := begin + e.batchSize
		if stop > len(texts) {
			stop = len(texts)
		}
		batch, err := e.embedBatch(ctx, texts[begin:stop], effectiveModel)
		if err != nil {
			return nil, err
		}
		result = append(result, batch...)
	}

	e.logger.Debug().
		Int("text_count", len(texts)).
		Str("model", effectiveModel).
		Msg("嵌入完成")

	return result, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string, model string) ([][]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	reqBody := embeddingRequest{
		Input: texts,
		Model: model,
	}
	if e.dimensions > 0 {
		reqBody.Dimensions = e.dimensions
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("序列化嵌入请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("发送嵌入请求失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取嵌入响应失败: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr embeddingAPIError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("嵌入API调用失败, 状态码: %d, 类型: %s, 错误: %s", resp.StatusCode, apiErr.Type, apiErr.Message)
		}
		return nil, fmt.Errorf("嵌入API调用失败, 状态码: %d, 响应: %s", resp.StatusCode, string(body))
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("解析嵌入响应JSON失败: %w", err)
	}
	if parsed.Error != nil && parsed.Error.Message != "" {
		return nil, fmt.Errorf("嵌入API返回错误: 类型=%s, 消息=%s", parsed.Error.Type, parsed.Error.Message)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("嵌入响应数量不匹配: 提交%d条, 返回%d条", len(texts), len(parsed.Data))
	}

	// 按index归位，API不保证返回顺序
	out := make([][]float64, len(texts))
	for _, entry := range parsed.Data {
		if entry.Index < 0 || entry.Index >= len(texts) {
			return nil, fmt.Errorf("嵌入响应index越界: %d", entry.Index)
		}
		if e.dimensions > 0 && len(entry.Embedding) != e.dimensions {
			return nil, fmt.Errorf("嵌入维度不匹配: 期望%d, 实际%d", e.dimensions, len(entry.Embedding))
		}
		out[entry.Index] = entry.Embedding
	}
	for i, vec := range out {
		if vec == nil {
			return nil, fmt.Errorf("嵌入响应缺少第%d条结果", i)
		}
	}

	return out, nil
}

var _ embedding.Embedder = (*OpenAIEmbedder)(nil)
