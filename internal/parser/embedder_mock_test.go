package parser

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-screener-go/internal/constants"
)

func TestMockEmbedderDeterministic(t *testing.T) {
	e := NewMockEmbedder(64)

	first, err := e.EmbedStrings(context.Background(), []string{"五年Go开发经验", "熟悉Kubernetes"})
	require.NoError(t, err)
	second, err := e.EmbedStrings(context.Background(), []string{"五年Go开发经验", "熟悉Kubernetes"})
	require.NoError(t, err)

	// 同文本恒得同向量
	assert.Equal(t, first, second)
	// 不同文本得到不同向量
	assert.NotEqual(t, first[0], first[1])
}

func TestMockEmbedderDimensionsAndNorm(t *testing.T) {
	e := NewMockEmbedder(32)
	assert.Equal(t, 32, e.GetDimensions())

	vecs, err := e.EmbedStrings(context.Background(), []string{"候选人简历内容"})
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	require.Len(t, vecs[0], 32)

	var norm float64
	for _, v := range vecs[0] {
		norm += v * v
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-9, "向量应做L2归一化")
}

func TestMockEmbedderDefaultDimensions(t *testing.T) {
	e := NewMockEmbedder(0)
	assert.Equal(t, constants.DefaultDimensions, e.GetDimensions())
}

func TestMockEmbedderEmptyInput(t *testing.T) {
	e := NewMockEmbedder(8)
	vecs, err := e.EmbedStrings(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
}
