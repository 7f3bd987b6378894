package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/model"
	einoschema "github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"resume-screener-go/internal/constants"
	"resume-screener-go/internal/logger"
	"resume-screener-go/internal/types"
)

// rawReport LLM输出的报告结构，ID、证据、时间戳由生成器补充
type rawReport struct {
	OverallScore      float64                 `json:"overall_score"`
	CandidateName     string                  `json:"candidate_name"`
	Summary           string                  `json:"summary"`
	Strengths         []string                `json:"strengths"`
	Weaknesses        []string                `json:"weaknesses"`
	SkillMatches      []types.SkillMatch      `json:"skill_matches"`
	ExperienceMatches []types.ExperienceMatch `json:"experience_matches"`
	EducationMatches  []types.EducationMatch  `json:"education_matches"`
	Recommendation    string                  `json:"recommendation"`
	Reasoning         string                  `json:"reasoning"`
}

// ReportGenerator 封装LLM客户端与提示词逻辑，产出结构化筛选报告
// 解析或校验失败时带纠错提示重试，重试耗尽后退化为确定性兜底报告，
// 绝不把生成失败抛给调用方
type ReportGenerator struct {
	llmModel        model.ChatModel
	promptTemplate  string
	maxContextChars int
	maxRetries      int
	genTimeout      time.Duration
	logger          zerolog.Logger
}

// ReportGeneratorOption 报告生成器的配置选项
type ReportGeneratorOption func(*ReportGenerator)

// WithReportPromptTemplate 设置自定义提示词模板
func WithReportPromptTemplate(template string) ReportGeneratorOption {
	return func(g *ReportGenerator) {
		g.promptTemplate = template
	}
}

// WithMaxContextChars 设置上下文字符预算
func WithMaxContextChars(n int) ReportGeneratorOption {
	return func(g *ReportGenerator) {
		if n > 0 {
			g.maxContextChars = n
		}
	}
}

// WithGenerationRetries 设置解析失败后的重试次数上限
func WithGenerationRetries(n int) ReportGeneratorOption {
	return func(g *ReportGenerator) {
		if n >= 0 {
			g.maxRetries = n
		}
	}
}

// WithGenerationTimeout 设置单次LLM调用超时
func WithGenerationTimeout(d time.Duration) ReportGeneratorOption {
	return func(g *ReportGenerator) {
		if d > 0 {
			g.genTimeout = d
		}
	}
}

// NewReportGenerator 创建报告生成器实例
func NewReportGenerator(llmModel model.ChatModel, options ...ReportGeneratorOption) *ReportGenerator {
	g := &ReportGenerator{
		llmModel:        llmModel,
		maxContextChars: constants.DefaultMaxContextChars,
		maxRetries:      constants.DefaultGenerationRetries,
		genTimeout:      60 * time.Second,
		logger:          logger.Component("report_generator"),
	}

	g.generatePromptTemplate()

	for _, opt := range options {
		opt(g)
	}

	return g
}

func (g *ReportGenerator) generatePromptTemplate() {
	g.promptTemplate = `你是一位资深的AI招聘专家。你的任务是基于下面的【岗位描述】和【简历片段】（按相关度从高到低排列，来自向量检索），评估候选人与岗位的匹配度，并严格按照指定的JSON格式输出。

**请严格遵循以下JSON输出格式规范：**
1.  **"overall_score"**: 小数 (0.0-1.0)，反映整体匹配程度。
2.  **"candidate_name"**: 字符串，从简历片段中识别的候选人姓名；无法识别时填 "未知"。
3.  **"summary"**: 字符串 (200字以内)，针对此岗位的候选人核心摘要，不能为空。
4.  **"strengths"**: 字符串数组，候选人与岗位匹配的具体亮点。
5.  **"weaknesses"**: 字符串数组，候选人相对岗位的具体不足或待考察点。
6.  **"skill_matches"**: 对象数组，每项包含 "skill"(字符串)、"match_score"(0.0-1.0小数)、"evidence"(引用简历原文的依据)、"relevance"(与岗位的关联说明)。
7.  **"experience_matches"**: 对象数组，每项包含 "role"、"years_experience"(小数，未知可省略)、"match_score"(0.0-1.0)、"evidence"。
8.  **"education_matches"**: 对象数组，每项包含 "degree"、"field"、"match_score"(0.0-1.0)、"evidence"。
9.  **"recommendation"**: 字符串，录用建议，例如 "推荐面试"、"需人工复核"、"不推荐"。
10. **"reasoning"**: 字符串，给出评分的主要理由。

**JSON格式细节要求：**
- 完整输出必须是一个合法的JSON对象，所有字段名和字符串值使用双引号。
- 字符串值内部的双引号必须用反斜杠转义。
- 所有 match_score 与 overall_score 必须落在 [0.0, 1.0] 区间内。
- 禁止在JSON结构之外输出任何额外文本、解释或Markdown标记。

【岗位描述】:
"""
%s
"""

【简历片段】:
"""
%s
"""

请基于以上指令，仔细评估并输出JSON结果。`
}

// BuildContext 将检索结果拼装为提示词上下文
// 相似度高的片段排在前面，超出字符预算的片段被整体丢弃
func (g *ReportGenerator) BuildContext(chunks []types.RetrievedChunk) string {
	var sb strings.Builder
	used := 0
	for _, chunk := range chunks {
		header := fmt.Sprintf("[片段 %s 来自 %s, 相似度 %.4f]\n", chunk.PointID, chunk.Filename, chunk.Score)
		need := utf8.RuneCountInString(header) + utf8.RuneCountInString(chunk.Text) + 2
		if used+need > g.maxContextChars {
			break
		}
		sb.WriteString(header)
		sb.WriteString(chunk.Text)
		sb.WriteString("\n\n")
		used += need
	}
	return sb.String()
}

// Generate 执行报告合成
// 返回的报告总是schema合法的：正常路径来自LLM输出，异常路径来自兜底逻辑
// 仅在上下文被取消时返回错误
func (g *ReportGenerator) Generate(ctx context.Context, jobDescription string, chunks []types.RetrievedChunk) (*types.Report, error) {
	if g.llmModel == nil {
		g.logger.Error().Msg("LLM模型未初始化，直接产出兜底报告")
		return g.fallbackReport(jobDescription, chunks, "模型未初始化"), nil
	}

	contextText := g.BuildContext(chunks)
	userContent := fmt.Sprintf(g.promptTemplate, jobDescription, contextText)

	messages := []*einoschema.Message{
		einoschema.SystemMessage("你是一位专注于简历筛选的AI招聘助手，只输出合法JSON。"),
		einoschema.UserMessage(userContent),
	}

	attempts := g.maxRetries + 1
	var lastFailure string

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		callCtx, cancel := context.WithTimeout(ctx, g.genTimeout)
		response, err := g.llmModel.Generate(callCtx, messages)
		cancel()

		if err != nil {
			lastFailure = fmt.Sprintf("LLM调用失败: %v", err)
			g.logger.Warn().Int("attempt", attempt).Err(err).Msg("LLM调用失败")
			messages = appendCorrection(messages, "", lastFailure)
			continue
		}
		if response == nil || response.Content == "" {
			lastFailure = "LLM返回空响应"
			g.logger.Warn().Int("attempt", attempt).Msg(lastFailure)
			messages = appendCorrection(messages, "", lastFailure)
			continue
		}

		raw, parseErr := g.parseAndValidate(response.Content)
		if parseErr != nil {
			lastFailure = parseErr.Error()
			g.logger.Warn().
				Int("attempt", attempt).
				Str("failure", lastFailure).
				Msg("报告解析或校验失败，准备带纠错提示重试")
			messages = appendCorrection(messages, response.Content, lastFailure)
			continue
		}

		report := g.assembleReport(raw, chunks, false)
		g.logger.Info().
			Int("attempt", attempt).
			Float64("overall_score", report.OverallScore).
			Msg("报告生成成功")
		return report, nil
	}

	g.logger.Warn().
		Int("attempts", attempts).
		Str("last_failure", lastFailure).
		Msg("重试耗尽，退化为兜底报告")

	return g.fallbackReport(jobDescription, chunks, lastFailure), nil
}

// appendCorrection 在对话历史中追加失败的输出和纠错指令
func appendCorrection(messages []*einoschema.Message, badOutput string, failure string) []*einoschema.Message {
	if badOutput != "" {
		messages = append(messages, einoschema.AssistantMessage(badOutput, nil))
	}
	correction := fmt.Sprintf("上一次输出无法解析为要求的JSON格式，失败原因: %s。请重新输出，只输出一个合法的JSON对象，确保所有分数落在[0.0, 1.0]区间、summary非空、不包含任何JSON之外的文本。", failure)
	return append(messages, einoschema.UserMessage(correction))
}

// parseAndValidate 提取、修复并校验LLM输出的JSON
func (g *ReportGenerator) parseAndValidate(content string) (*rawReport, error) {
	processed := strings.TrimPrefix(content, "\uFEFF")
	processed = stripMarkdownFence(processed)

	jsonStr := extractJSONObject(processed)
	if jsonStr == "" {
		return nil, fmt.Errorf("响应中未找到JSON对象")
	}

	if !utf8.ValidString(jsonStr) {
		jsonStr = strings.ToValidUTF8(jsonStr, "")
	}

	var raw rawReport
	// ① 正常解析
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		// ② 解析失败 -> 自动修复再试一次
		fixed := sanitizeJSON(jsonStr)
		if jsonErr := json.Unmarshal([]byte(fixed), &raw); jsonErr != nil {
			return nil, fmt.Errorf("JSON反序列化失败（修复后仍失败）: %v", jsonErr)
		}
	}

	if err := validateRawReport(&raw); err != nil {
		return nil, err
	}

	return &raw, nil
}

// assembleReport 补充ID、证据片段和时间戳
func (g *ReportGenerator) assembleReport(raw *rawReport, chunks []types.RetrievedChunk, mock bool) *types.Report {
	report := &types.Report{
		ReportID:          uuid.NewString(),
		OverallScore:      raw.OverallScore,
		CandidateName:     raw.CandidateName,
		Summary:           raw.Summary,
		Strengths:         raw.Strengths,
		Weaknesses:        raw.Weaknesses,
		SkillMatches:      raw.SkillMatches,
		ExperienceMatches: raw.ExperienceMatches,
		EducationMatches:  raw.EducationMatches,
		Recommendation:    raw.Recommendation,
		Reasoning:         raw.Reasoning,
		Mock:              mock,
		GeneratedAt:       time.Now().Unix(),
	}

	// 每条证据都引用一个真实检索到的分块
	report.EvidenceSnippets = make([]types.EvidenceSnippet, 0, len(chunks))
	for _, chunk := range chunks {
		report.EvidenceSnippets = append(report.EvidenceSnippets, types.EvidenceSnippet{
			ChunkID:      chunk.PointID,
			DocumentUUID: chunk.DocumentUUID,
			ChunkIndex:   chunk.ChunkIndex,
			Text:         chunk.Text,
			Score:        chunk.Score,
		})
	}

	return report
}

// fallbackReport 确定性兜底报告，生成路径失败时使用
func (g *ReportGenerator) fallbackReport(jobDescription string, chunks []types.RetrievedChunk, reason string) *types.Report {
	summary := "自动生成的兜底评估：结构化分析暂不可用，以下为检索到的最相关简历片段，请人工复核。"
	if reason != "" {
		summary = fmt.Sprintf("%s（原因: %s）", summary, reason)
	}

	raw := &rawReport{
		OverallScore:      0.5,
		CandidateName:     "未知",
		Summary:           summary,
		Strengths:         []string{},
		Weaknesses:        []string{"本报告由兜底逻辑生成，未经过模型分析"},
		SkillMatches:      []types.SkillMatch{},
		ExperienceMatches: []types.ExperienceMatch{},
		EducationMatches:  []types.EducationMatch{},
		Recommendation:    "需人工复核",
		Reasoning:         "报告合成失败后退化为确定性兜底输出，分数为中性占位值。",
	}

	return g.assembleReport(raw, chunks, true)
}

// validateRawReport 校验报告是否符合schema约束
func validateRawReport(r *rawReport) error {
	if r.OverallScore < 0 || r.OverallScore > 1 {
		return fmt.Errorf("overall_score必须在[0,1]区间, 实际为 %v", r.OverallScore)
	}
	if strings.TrimSpace(r.Summary) == "" {
		return fmt.Errorf("summary不能为空")
	}
	for i, sm := range r.SkillMatches {
		if sm.MatchScore < 0 || sm.MatchScore > 1 {
			return fmt.Errorf("skill_matches[%d].match_score必须在[0,1]区间, 实际为 %v", i, sm.MatchScore)
		}
	}
	for i, em := range r.ExperienceMatches {
		if em.MatchScore < 0 || em.MatchScore > 1 {
			return fmt.Errorf("experience_matches[%d].match_score必须在[0,1]区间, 实际为 %v", i, em.MatchScore)
		}
	}
	for i, em := range r.EducationMatches {
		if em.MatchScore < 0 || em.MatchScore > 1 {
			return fmt.Errorf("education_matches[%d].match_score必须在[0,1]区间, 实际为 %v", i, em.MatchScore)
		}
	}
	return nil
}

// stripMarkdownFence 去掉 ```json ... ``` 包裹
func stripMarkdownFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return trimmed
}

// extractJSONObject 用大括号配对从文本中提取第一个完整的JSON对象
func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}
	level := 0
	inStr := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inStr {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			level++
		case '}':
			level--
			if level == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// sanitizeJSON 会遍历 src，将任何位于字符串字面量内部但并非"真正结束"的双引号改写为转义形式，
// 以保证整个 JSON 在 Go 端能够正常反序列化。
// 它通过检查下一个非空白字符是否为 :, ], }, 或 , 来判断该 " 是否为字符串的结束。
func sanitizeJSON(src string) string {
	var b strings.Builder
	inStr := false
	escaped := false

	for i := 0; i < len(src); i++ {
		c := src[i]

		if c == '"' && !escaped {
			if !inStr {
				inStr = true
				b.WriteByte(c)
			} else {
				j := i + 1
				for j < len(src) && (src[j] == ' ' || src[j] == '\t' || src[j] == '\n' || src[j] == '\r') {
					j++
				}
				if j < len(src) && (src[j] == ':' || src[j] == ',' || src[j] == ']' || src[j] == '}') {
					inStr = false
					b.WriteByte(c)
				} else {
					// 字符串内部未转义的引号，补上转义
					b.WriteString("\\\"")
				}
			}
			escaped = false

		} else if c == '\\' && !escaped {
			escaped = true
			b.WriteByte(c)

		} else {
			b.WriteByte(c)
			escaped = false
		}
	}

	return b.String()
}
