package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-screener-go/internal/constants"
)

func TestLoadConfigDefaults(t *testing.T) {
	// 不提供配置文件时应返回完整默认配置
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nonexistent-but-unsearched"))
	if err != nil {
		// 路径存在性检查会失败，改用空路径走默认分支
		cfg, err = LoadConfig("")
	}
	require.NoError(t, err)

	assert.Equal(t, constants.DefaultChunkSize, cfg.Pipeline.ChunkSize)
	assert.Equal(t, constants.DefaultChunkOverlap, cfg.Pipeline.ChunkOverlap)
	assert.Equal(t, constants.DefaultTopK, cfg.Qdrant.DefaultSearchLimit)
	assert.Equal(t, constants.DefaultDimensions, cfg.Qdrant.Dimension)
	assert.Equal(t, ":8080", cfg.Server.Address)
}

func TestLoadConfigFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
llm:
  api_key: "sk-test"
  model: "gpt-4o"
qdrant:
  endpoint: "http://qdrant:6333"
  collection: "test_resumes"
  dimension: 768
pipeline:
  chunk_size: 500
  chunk_overlap: 100
server:
  address: ":9090"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, "http://qdrant:6333", cfg.Qdrant.Endpoint)
	assert.Equal(t, "test_resumes", cfg.Qdrant.Collection)
	assert.Equal(t, 768, cfg.Qdrant.Dimension)
	assert.Equal(t, 500, cfg.Pipeline.ChunkSize)
	assert.Equal(t, 100, cfg.Pipeline.ChunkOverlap)
	assert.Equal(t, ":9090", cfg.Server.Address)
	// 嵌入维度未显式配置时跟随Qdrant维度
	assert.Equal(t, 768, cfg.Embedding.Dimensions)
	assert.True(t, cfg.LLMConfigured())
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-from-env")
	t.Setenv("QDRANT_ENDPOINT", "http://env-qdrant:6333")
	t.Setenv("TOP_K", "8")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "sk-from-env", cfg.LLM.APIKey)
	assert.Equal(t, "http://env-qdrant:6333", cfg.Qdrant.Endpoint)
	assert.Equal(t, 8, cfg.Qdrant.DefaultSearchLimit)
	assert.True(t, cfg.LLMConfigured())
}

func TestLLMConfiguredMockMode(t *testing.T) {
	cfg := createDefaultConfig()
	assert.False(t, cfg.LLMConfigured(), "无API Key时应进入mock模式")

	cfg.LLM.APIKey = "   "
	assert.False(t, cfg.LLMConfigured(), "空白API Key视为未配置")

	cfg.LLM.APIKey = "sk-real"
	assert.True(t, cfg.LLMConfigured())
}

func TestCredentialFreeConfigSelectsMockPaths(t *testing.T) {
	// 完全无凭证的环境下两个Configured判断都应为false，
	// 启动流程据此选择mock嵌入器与mock模型，而不是报错退出
	t.Setenv("OPENAI_API_KEY", "")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.False(t, cfg.LLMConfigured())
	assert.False(t, cfg.EmbeddingConfigured())
}

func TestGetDuration(t *testing.T) {
	assert.Equal(t, 5*time.Second, GetDuration("5s", time.Minute))
	assert.Equal(t, time.Minute, GetDuration("", time.Minute))
	assert.Equal(t, time.Minute, GetDuration("not-a-duration", time.Minute))
}

func TestChunkOverlapSanity(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	// overlap >= size 是无效配置，应回落到默认值
	content := `
pipeline:
  chunk_size: 100
  chunk_overlap: 200
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Pipeline.ChunkSize)
	assert.Equal(t, constants.DefaultChunkOverlap, cfg.Pipeline.ChunkOverlap)
}
