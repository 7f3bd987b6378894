package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"resume-screener-go/internal/logger"
)

const (
	defaultOpenAIChatURL = "https://api.openai.com/v1/chat/completions"
	defaultOpenAIModel   = "gpt-4o-mini"
)

// OpenAIChatModel 实现 model.ChatModel 接口，对接OpenAI兼容的chat completions端点
// 不支持工具调用，报告合成只需要单轮补全
type OpenAIChatModel struct {
	apiKey      string
	modelName   string
	apiURL      string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

// OpenAIChatOption 配置OpenAIChatModel的函数选项
type OpenAIChatOption func(*OpenAIChatModel)

// WithHTTPClient 指定自定义HTTP客户端（测试时注入）
func WithHTTPClient(client *http.Client) OpenAIChatOption {
	return func(m *OpenAIChatModel) {
		m.httpClient = client
	}
}

// WithTemperature 设置采样温度
func WithTemperature(t float64) OpenAIChatOption {
	return func(m *OpenAIChatModel) {
		m.temperature = t
	}
}

// WithMaxTokens 设置最大生成token数
func WithMaxTokens(n int) OpenAIChatOption {
	return func(m *OpenAIChatModel) {
		m.maxTokens = n
	}
}

// NewOpenAIChatModel 创建OpenAI兼容的聊天模型客户端
func NewOpenAIChatModel(apiKey, modelName, baseURL string, opts ...OpenAIChatOption) (*OpenAIChatModel, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("API密钥不能为空")
	}

	mn := modelName
	if strings.TrimSpace(mn) == "" {
		mn = defaultOpenAIModel
	}

	url := defaultOpenAIChatURL
	if strings.TrimSpace(baseURL) != "" {
		url = strings.TrimSuffix(baseURL, "/") + "/chat/completions"
	}

	m := &OpenAIChatModel{
		apiKey:      apiKey,
		modelName:   mn,
		apiURL:      url,
		temperature: 0.1,
		httpClient:  &http.Client{},
	}
	for _, opt := range opts {
		opt(m)
	}

	logger.Info().
		Str("component", "llm").
		Str("api_url", m.apiURL).
		Str("model", m.modelName).
		Msg("已初始化OpenAI兼容聊天模型客户端")

	return m, nil
}

type chatCompletionRequest struct {
	Model       string            `json:"model"`
	Messages    []*schema.Message `json:"messages"` // eino schema.Message的role/content与OpenAI格式兼容
	Temperature float64           `json:"temperature,omitempty"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
}

type chatChoice struct {
	Index        int    `json:"index"`
	FinishReason string `json:"finish_reason"`
	Message      struct {
		Role    string  `json:"role"`
		Content *string `json:"content"`
	} `json:"message"`
}

type chatCompletionResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
}

// Generate 实现 model.ChatModel 接口
func (m *OpenAIChatModel) Generate(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, error) {
	for _, opt := range options {
		_ = opt
	}

	reqPayload := chatCompletionRequest{
		Model:       m.modelName,
		Messages:    messages,
		Temperature: m.temperature,
		MaxTokens:   m.maxTokens,
	}

	jsonData, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("序列化请求体失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+m.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	logger.Debug().
		Str("component", "llm").
		Str("model", m.modelName).
		Int("message_count", len(messages)).
		Msg("发送chat completions请求")

	httpResp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("发送HTTP请求失败: %w", err)
	}
	defer httpResp.Body.Close()

	bodyBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API请求失败，状态 %s: %s", httpResp.Status, string(bodyBytes))
	}

	var resp chatCompletionResponse
	if err := json.Unmarshal(bodyBytes, &resp); err != nil {
		return nil, fmt.Errorf("反序列化API响应失败: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("API返回空choices")
	}

	choice := resp.Choices[0]
	content := ""
	if choice.Message.Content != nil {
		content = *choice.Message.Content
	}

	result := &schema.Message{
		Role:    schema.RoleType(choice.Message.Role),
		Content: content,
	}
	if result.Role == "" {
		result.Role = schema.Assistant
	}

	return result, nil
}

// Stream 实现 model.ChatModel 接口；报告合成不走流式路径
func (m *OpenAIChatModel) Stream(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("OpenAIChatModel的Stream方法未实现")
}

// BindTools 实现 model.ChatModel 接口；报告合成不使用工具调用
func (m *OpenAIChatModel) BindTools(tools []*schema.ToolInfo) error {
	if len(tools) > 0 {
		logger.Warn().Str("component", "llm").Int("tool_count", len(tools)).Msg("OpenAIChatModel忽略工具绑定")
	}
	return nil
}

var _ model.ChatModel = (*OpenAIChatModel)(nil)
