package parser

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-screener-go/internal/llm"
	"resume-screener-go/internal/types"
)

var testChunks = []types.RetrievedChunk{
	{
		PointID:      "11111111-1111-5111-8111-111111111111",
		DocumentUUID: "doc-aaa",
		ChunkIndex:   0,
		Filename:     "zhangwei.pdf",
		Text:         "张伟，5年Go后端开发经验，熟悉Kubernetes与MySQL调优。",
		Score:        0.91,
	},
	{
		PointID:      "22222222-2222-5222-8222-222222222222",
		DocumentUUID: "doc-aaa",
		ChunkIndex:   3,
		Filename:     "zhangwei.pdf",
		Text:         "主导过日均千万请求的网关服务重构。",
		Score:        0.78,
	},
}

const validReportJSON = `{
  "overall_score": 0.82,
  "candidate_name": "张伟",
  "summary": "具备岗位要求的核心后端技能，推荐进入面试。",
  "strengths": ["Go经验丰富", "有高并发系统经验"],
  "weaknesses": ["未提及测试实践"],
  "skill_matches": [{"skill": "Go", "match_score": 0.9, "evidence": "5年Go后端开发经验", "relevance": "岗位核心语言"}],
  "experience_matches": [{"role": "后端工程师", "years_experience": 5, "match_score": 0.85, "evidence": "网关服务重构"}],
  "education_matches": [],
  "recommendation": "推荐面试",
  "reasoning": "核心技能与岗位高度吻合。"
}`

func TestGenerateSuccessFirstAttempt(t *testing.T) {
	client := llm.NewScriptedChatClient(llm.ScriptedResponse{Content: validReportJSON})
	g := NewReportGenerator(client)

	report, err := g.Generate(context.Background(), "招聘Go后端工程师", testChunks)
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.Equal(t, 1, client.CallCount())
	assert.False(t, report.Mock)
	assert.InDelta(t, 0.82, report.OverallScore, 1e-9)
	assert.Equal(t, "张伟", report.CandidateName)
	assert.NotEmpty(t, report.ReportID)
	assert.NotZero(t, report.GeneratedAt)

	// 证据片段必须回链到检索结果
	require.Len(t, report.EvidenceSnippets, len(testChunks))
	assert.Equal(t, testChunks[0].PointID, report.EvidenceSnippets[0].ChunkID)
	assert.Equal(t, testChunks[0].DocumentUUID, report.EvidenceSnippets[0].DocumentUUID)
}

func TestGenerateStripsMarkdownFence(t *testing.T) {
	fenced := "```json\n" + validReportJSON + "\n```"
	client := llm.NewScriptedChatClient(llm.ScriptedResponse{Content: fenced})
	g := NewReportGenerator(client)

	report, err := g.Generate(context.Background(), "JD", testChunks)
	require.NoError(t, err)
	assert.False(t, report.Mock)
	assert.Equal(t, "张伟", report.CandidateName)
}

func TestGenerateStripsLeadingBOM(t *testing.T) {
	client := llm.NewScriptedChatClient(llm.ScriptedResponse{Content: "\uFEFF" + validReportJSON})
	g := NewReportGenerator(client)

	report, err := g.Generate(context.Background(), "JD", testChunks)
	require.NoError(t, err)
	assert.Equal(t, 1, client.CallCount())
	assert.False(t, report.Mock)
	assert.Equal(t, "张伟", report.CandidateName)
}

func TestGenerateRetriesOnMalformedThenSucceeds(t *testing.T) {
	client := llm.NewScriptedChatClient(
		llm.ScriptedResponse{Content: "这不是JSON"},
		llm.ScriptedResponse{Content: validReportJSON},
	)
	g := NewReportGenerator(client, WithGenerationRetries(2))

	report, err := g.Generate(context.Background(), "JD", testChunks)
	require.NoError(t, err)

	assert.Equal(t, 2, client.CallCount())
	assert.False(t, report.Mock)

	// 重试时对话历史中应包含纠错提示
	secondCall := client.ReceivedMessages[1]
	require.Greater(t, len(secondCall), 2)
	last := secondCall[len(secondCall)-1]
	assert.Contains(t, last.Content, "失败原因")
}

func TestGenerateRetriesOnInvalidScore(t *testing.T) {
	badScore := strings.Replace(validReportJSON, `"overall_score": 0.82`, `"overall_score": 1.5`, 1)
	client := llm.NewScriptedChatClient(
		llm.ScriptedResponse{Content: badScore},
		llm.ScriptedResponse{Content: validReportJSON},
	)
	g := NewReportGenerator(client, WithGenerationRetries(2))

	report, err := g.Generate(context.Background(), "JD", testChunks)
	require.NoError(t, err)
	assert.Equal(t, 2, client.CallCount())
	assert.InDelta(t, 0.82, report.OverallScore, 1e-9)
}

func TestGenerateFallbackAfterExhaustedRetries(t *testing.T) {
	client := llm.NewScriptedChatClient(
		llm.ScriptedResponse{Content: "垃圾输出1"},
		llm.ScriptedResponse{Content: "垃圾输出2"},
		llm.ScriptedResponse{Content: "垃圾输出3"},
	)
	g := NewReportGenerator(client, WithGenerationRetries(2))

	report, err := g.Generate(context.Background(), "JD", testChunks)
	require.NoError(t, err)
	require.NotNil(t, report)

	// 2次重试 = 3次尝试，全部失败后兜底
	assert.Equal(t, 3, client.CallCount())
	assert.True(t, report.Mock)
	assert.Equal(t, "需人工复核", report.Recommendation)
	assert.GreaterOrEqual(t, report.OverallScore, 0.0)
	assert.LessOrEqual(t, report.OverallScore, 1.0)
	assert.NotEmpty(t, report.Summary)
	// 兜底报告同样携带证据片段
	assert.Len(t, report.EvidenceSnippets, len(testChunks))
}

func TestGenerateWithMockChatModel(t *testing.T) {
	// mock模式模型输出的JSON必须能走通完整解析路径
	g := NewReportGenerator(llm.NewMockChatModel())

	report, err := g.Generate(context.Background(), "招聘Go工程师，要求熟悉Kubernetes和MySQL", testChunks)
	require.NoError(t, err)

	assert.False(t, report.Mock, "mock模型输出解析成功，不应触发兜底")
	assert.GreaterOrEqual(t, report.OverallScore, 0.0)
	assert.LessOrEqual(t, report.OverallScore, 1.0)
	assert.NotEmpty(t, report.Summary)
	for _, sm := range report.SkillMatches {
		assert.GreaterOrEqual(t, sm.MatchScore, 0.0)
		assert.LessOrEqual(t, sm.MatchScore, 1.0)
	}
}

func TestBuildContextRespectsBudget(t *testing.T) {
	g := NewReportGenerator(nil, WithMaxContextChars(120))

	ctx := g.BuildContext(testChunks)
	// 预算不够放下两个片段时，低分片段被丢弃
	assert.Contains(t, ctx, testChunks[0].Text)
	assert.NotContains(t, ctx, testChunks[1].Text)
}

func TestBuildContextOrderPreserved(t *testing.T) {
	g := NewReportGenerator(nil, WithMaxContextChars(8000))

	ctx := g.BuildContext(testChunks)
	first := strings.Index(ctx, testChunks[0].Text)
	second := strings.Index(ctx, testChunks[1].Text)
	require.NotEqual(t, -1, first)
	require.NotEqual(t, -1, second)
	assert.Less(t, first, second, "高相似度片段应排在前面")
}

func TestExtractJSONObject(t *testing.T) {
	text := "前置说明 {\"a\": {\"b\": 1}} 后置说明"
	assert.Equal(t, `{"a": {"b": 1}}`, extractJSONObject(text))

	assert.Equal(t, "", extractJSONObject("没有对象"))
	assert.Equal(t, "", extractJSONObject("{未闭合"))

	// 字符串内的大括号不参与配对
	withBrace := `{"key": "value with } brace"}`
	assert.Equal(t, withBrace, extractJSONObject("x"+withBrace+"y"))
}

func TestSanitizeJSONRepairsInnerQuotes(t *testing.T) {
	broken := `{"summary": "候选人擅长"微服务"架构"}`
	fixed := sanitizeJSON(broken)

	var out map[string]string
	require.NoError(t, json.Unmarshal([]byte(fixed), &out))
	assert.Contains(t, out["summary"], "微服务")
}

func TestValidateRawReport(t *testing.T) {
	valid := &rawReport{OverallScore: 0.5, Summary: "ok"}
	assert.NoError(t, validateRawReport(valid))

	assert.Error(t, validateRawReport(&rawReport{OverallScore: -0.1, Summary: "ok"}))
	assert.Error(t, validateRawReport(&rawReport{OverallScore: 1.1, Summary: "ok"}))
	assert.Error(t, validateRawReport(&rawReport{OverallScore: 0.5, Summary: "  "}))
	assert.Error(t, validateRawReport(&rawReport{
		OverallScore: 0.5,
		Summary:      "ok",
		SkillMatches: []types.SkillMatch{{Skill: "Go", MatchScore: 2.0}},
	}))
}
