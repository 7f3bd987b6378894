package parser

import (
	"strings"

	"github.com/rs/zerolog"

	"resume-screener-go/internal/constants"
	"resume-screener-go/internal/logger"
	"resume-screener-go/internal/types"
)

// breakRunes 优先在这些字符之后断块，避免切在句子中间
var breakRunes = map[rune]bool{
	'.': true, '!': true, '?': true, '\n': true,
	'。': true, '！': true, '？': true, '；': true, ';': true,
}

// RuleChunker 基于固定窗口的规则分块器
// 窗口大小与重叠按字符（rune）计数，窗口末端回退寻找句子边界，
// 但不会回退超过窗口的70%，防止超长无标点文本产生过碎的分块
type RuleChunker struct {
	chunkSize    int
	chunkOverlap int
	logger       zerolog.Logger
}

// RuleChunkerOption 分块器配置选项
type RuleChunkerOption func(*RuleChunker)

// WithChunkSize 设置分块窗口大小（字符数）
func WithChunkSize(size int) RuleChunkerOption {
	return func(c *RuleChunker) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

// WithChunkOverlap 设置相邻分块的重叠字符数
func WithChunkOverlap(overlap int) RuleChunkerOption {
	return func(c *RuleChunker) {
		if overlap >= 0 {
			c.chunkOverlap = overlap
		}
	}
}

// NewRuleChunker 创建规则分块器
func NewRuleChunker(opts ...RuleChunkerOption) *RuleChunker {
	c := &RuleChunker{
		chunkSize:    constants.DefaultChunkSize,
		chunkOverlap: constants.DefaultChunkOverlap,
		logger:       logger.Component("chunker"),
	}
	for _, opt := range opts {
		opt(c)
	}
	// 重叠不能吃掉整个窗口，否则无法前进
	if c.chunkOverlap >= c.chunkSize {
		c.chunkOverlap = c.chunkSize / 5
	}
	return c
}

// Chunk 将文本切分为带序号的分块
// 空白文本返回空切片；每个分块都是原文的连续切片
func (c *RuleChunker) Chunk(documentUUID string, text string) []types.Chunk {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	runes := []rune(trimmed)
	total := len(runes)

	var chunks []types.Chunk
	start := 0
	for start < total {
		end := start + c.chunkSize
		if end >= total {
			end = total
		} else {
			// 从窗口末端回退寻找断句点，最多回退到窗口的70%处
			floor := start + c.chunkSize*7/10
			cut := -1
			for i := end - 1; i >= floor; i-- {
				if breakRunes[runes[i]] {
					cut = i + 1 // 断在标点之后
					break
				}
			}
			if cut > start {
				end = cut
			}
		}

		piece := strings.TrimSpace(string(runes[start:end]))
		if piece != "" {
			chunks = append(chunks, types.Chunk{
				DocumentUUID: documentUUID,
				Index:        len(chunks),
				Text:         piece,
			})
		}

		if end >= total {
			break
		}
		next := end - c.chunkOverlap
		if next <= start {
			// 保证前进，防止死循环
			next = start + 1
		}
		start = next
	}

	c.logger.Debug().
		Str("document_uuid", documentUUID).
		Int("text_chars", total).
		Int("chunk_count", len(chunks)).
		Msg("文本分块完成")

	return chunks
}
