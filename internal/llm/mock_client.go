package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ScriptedResponse 定义 ScriptedChatClient 的单次预期响应
type ScriptedResponse struct {
	Content string
	Error   error
}

// ScriptedChatClient 是用于测试的 model.ChatModel 模拟实现
// 按顺序返回预设响应，并记录每次调用收到的消息，便于断言重试提示词
type ScriptedChatClient struct {
	Responses     []ScriptedResponse
	ResponseIndex int

	ReceivedMessages [][]*schema.Message
}

// NewScriptedChatClient 创建按顺序返回预设响应的测试客户端
func NewScriptedChatClient(responses ...ScriptedResponse) *ScriptedChatClient {
	if len(responses) == 0 {
		responses = []ScriptedResponse{{Error: errors.New("scripted client has no responses configured")}}
	}
	return &ScriptedChatClient{
		Responses:        responses,
		ReceivedMessages: make([][]*schema.Message, 0),
	}
}

// Generate 实现 model.ChatModel 接口
func (c *ScriptedChatClient) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	recorded := make([]*schema.Message, len(input))
	copy(recorded, input)
	c.ReceivedMessages = append(c.ReceivedMessages, recorded)

	if c.ResponseIndex >= len(c.Responses) {
		return nil, errors.New("scripted client has run out of responses")
	}
	resp := c.Responses[c.ResponseIndex]
	c.ResponseIndex++

	if resp.Error != nil {
		return nil, resp.Error
	}
	return schema.AssistantMessage(resp.Content, nil), nil
}

// Stream 实现 model.ChatModel 接口
func (c *ScriptedChatClient) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("streaming not implemented in ScriptedChatClient")
}

// BindTools 实现 model.ChatModel 接口
func (c *ScriptedChatClient) BindTools(tools []*schema.ToolInfo) error {
	return nil
}

// CallCount 返回Generate被调用的次数
func (c *ScriptedChatClient) CallCount() int {
	return len(c.ReceivedMessages)
}

var _ model.ChatModel = (*ScriptedChatClient)(nil)
