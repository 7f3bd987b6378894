package parser

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkEmptyText(t *testing.T) {
	c := NewRuleChunker()
	assert.Nil(t, c.Chunk("doc-1", ""))
	assert.Nil(t, c.Chunk("doc-1", "   \n\t  "))
}

func TestChunkShortText(t *testing.T) {
	c := NewRuleChunker(WithChunkSize(1000), WithChunkOverlap(200))
	text := "张伟，高级后端工程师，5年Go开发经验。"
	chunks := c.Chunk("doc-1", text)

	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, "doc-1", chunks[0].DocumentUUID)
}

func TestChunkLongTextProperties(t *testing.T) {
	c := NewRuleChunker(WithChunkSize(100), WithChunkOverlap(20))

	var sb strings.Builder
	for i := 0; i < 50; i++ {
		sb.WriteString("候选人在分布式系统方向有丰富的项目经验。")
	}
	text := sb.String()

	chunks := c.Chunk("doc-2", text)
	require.Greater(t, len(chunks), 1)

	trimmed := strings.TrimSpace(text)
	for i, chunk := range chunks {
		// 序号连续
		assert.Equal(t, i, chunk.Index)
		// 每个分块都是原文的连续切片
		assert.Contains(t, trimmed, chunk.Text)
		// 分块不超过窗口大小
		assert.LessOrEqual(t, utf8.RuneCountInString(chunk.Text), 100)
		assert.NotEmpty(t, chunk.Text)
	}

	// 最后一个分块覆盖到文本末尾
	last := chunks[len(chunks)-1].Text
	assert.True(t, strings.HasSuffix(trimmed, last))
}

func TestChunkDeterministic(t *testing.T) {
	c := NewRuleChunker(WithChunkSize(80), WithChunkOverlap(10))
	text := strings.Repeat("简历内容分块应当是确定性的。", 40)

	first := c.Chunk("doc-3", text)
	second := c.Chunk("doc-3", text)
	assert.Equal(t, first, second)
}

func TestChunkBreaksAtSentenceBoundary(t *testing.T) {
	c := NewRuleChunker(WithChunkSize(50), WithChunkOverlap(0))

	// 句号落在窗口的70%-100%区间内，应在句号后断块
	sentence1 := strings.Repeat("a", 40) + "."
	sentence2 := strings.Repeat("b", 40) + "."
	chunks := c.Chunk("doc-4", sentence1+sentence2)

	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Equal(t, sentence1, chunks[0].Text)
}

func TestChunkNoBreakCharStillProgresses(t *testing.T) {
	c := NewRuleChunker(WithChunkSize(30), WithChunkOverlap(5))

	// 无任何标点的超长文本，必须按窗口硬切且不会死循环
	text := strings.Repeat("x", 200)
	chunks := c.Chunk("doc-5", text)

	require.Greater(t, len(chunks), 1)
	total := 0
	for _, chunk := range chunks {
		total += len(chunk.Text)
	}
	// 含重叠的总长度必须覆盖原文长度
	assert.GreaterOrEqual(t, total, len(text))
}

func TestChunkOverlapShared(t *testing.T) {
	c := NewRuleChunker(WithChunkSize(30), WithChunkOverlap(10))

	text := strings.Repeat("y", 100)
	chunks := c.Chunk("doc-6", text)
	require.Greater(t, len(chunks), 1)

	// 无标点文本硬切时，相邻分块共享overlap长度的内容
	firstEnd := chunks[0].Text[len(chunks[0].Text)-10:]
	secondStart := chunks[1].Text[:10]
	assert.Equal(t, firstEnd, secondStart)
}
