package parser

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/rs/zerolog"

	"resume-screener-go/internal/constants"
	"resume-screener-go/internal/logger"
)

// MockEmbedder 无凭证环境下顶替真实嵌入服务的确定性实现
// 由文本内容哈希展开伪随机向量并做L2归一化：同文本恒得同向量，
// 维度与集合配置保持一致，检索路径在演示模式下完整可用
type MockEmbedder struct {
	dimensions int
	logger     zerolog.Logger
}

// NewMockEmbedder 创建确定性mock嵌入器
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = constants.DefaultDimensions
	}
	return &MockEmbedder{
		dimensions: dimensions,
		logger:     logger.Component("mock_embedder"),
	}
}

// GetDimensions 返回嵌入向量维度
func (e *MockEmbedder) GetDimensions() int {
	return e.dimensions
}

// EmbedStrings 将文本转换为向量，实现 embedding.Embedder 接口
func (e *MockEmbedder) EmbedStrings(ctx context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float64, len(texts))
	for i, text := range texts {
		out[i] = e.embedOne(text)
	}
	e.logger.Debug().Int("text_count", len(texts)).Msg("mock嵌入完成")
	return out, nil
}

// embedOne 以FNV哈希做种子，xorshift展开整条向量
func (e *MockEmbedder) embedOne(text string) []float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	state := h.Sum64()
	if state == 0 {
		state = 0x9E3779B97F4A7C15
	}

	vec := make([]float64, e.dimensions)
	var norm float64
	for d := range vec {
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		vec[d] = float64(int64(state%2001)-1000) / 1000
		norm += vec[d] * vec[d]
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for d := range vec {
			vec[d] /= norm
		}
	}
	return vec
}

var _ embedding.Embedder = (*MockEmbedder)(nil)
