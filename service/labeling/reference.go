/*
 * @module service/labeling/reference
 * @description 参考标签匹配：按分析师定义的标签集为回答分配标签
 * @architecture 分层架构 - 服务层
 * @documentReference DESIGN.md
 * @stateFlow 本地校验标签定义 -> 分批调用AI匹配（或规则匹配） -> 过滤非法标签 -> 生成标签集
 * @rules 标签定义为空或存在空白名称/定义时直接拒绝，不发起外部调用
 * @dependencies client, service/apperr
 * @refs service/pipeline/controller.go
 */

package labeling

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"survey-pipeline-service/client"
	"survey-pipeline-service/service/apperr"
	"survey-pipeline-service/service/models"
)

// 每条回答最多匹配的参考标签数
const maxReferenceTags = 3

// ValidateTagDefinitions 校验参考标签定义，返回全部问题描述
func ValidateTagDefinitions(defs []models.TagDefinition) []string {
	if len(defs) == 0 {
		return []string{"参考标签列表不能为空"}
	}
	var problems []string
	for i, d := range defs {
		if strings.TrimSpace(d.Name) == "" {
			problems = append(problems, fmt.Sprintf("第%d个标签的名称不能为空", i+1))
		}
		if strings.TrimSpace(d.Definition) == "" {
			problems = append(problems, fmt.Sprintf("第%d个标签的定义不能为空", i+1))
		}
	}
	return problems
}

// ReferenceMatcher 参考标签匹配器
type ReferenceMatcher struct {
	completer client.Completer
	batchSize int
}

// NewReferenceMatcher 创建匹配器，completer 为 nil 时使用规则匹配
func NewReferenceMatcher(completer client.Completer, batchSize int) *ReferenceMatcher {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &ReferenceMatcher{completer: completer, batchSize: batchSize}
}

// Match 为开放题字段匹配参考标签
func (m *ReferenceMatcher) Match(ctx context.Context, table *models.Table, openFields []string, defs []models.TagDefinition) (*models.ReferenceLabelSet, error) {
	if problems := ValidateTagDefinitions(defs); len(problems) > 0 {
		return nil, apperr.Precondition(StageName, problems...)
	}

	set := &models.ReferenceLabelSet{
		OpenFields:  append([]string(nil), openFields...),
		Definitions: append([]models.TagDefinition(nil), defs...),
		CreatedAt:   time.Now(),
	}

	for _, field := range openFields {
		texts := SourceTexts(table, field)
		if texts == nil {
			return nil, apperr.Precondition(StageName, fmt.Sprintf("字段 %s 不存在", field))
		}

		var (
			matched [][]string
			err     error
		)
		if m.completer == nil {
			matched = RuleBasedMatch(texts, defs)
		} else {
			matched, err = m.matchWithService(ctx, field, texts, defs)
			if err != nil {
				return nil, apperr.External(StageName, fmt.Errorf("字段 %s 参考标签匹配失败: %w", field, err))
			}
		}

		for row, text := range texts {
			if strings.TrimSpace(text) == "" {
				continue
			}
			refs := matched[row]
			if len(refs) == 0 {
				refs = []string{models.OtherTag}
			}
			set.Rows = append(set.Rows, models.LabelAssignment{RowID: row, Field: field, References: refs})
			set.TotalResponses++
		}
	}

	models.SortAssignments(set.Rows)
	slog.Info("参考标签匹配完成", "fields", len(openFields), "responses", set.TotalResponses, "rule_based", m.completer == nil)
	return set, nil
}

func (m *ReferenceMatcher) matchWithService(ctx context.Context, field string, texts []string, defs []models.TagDefinition) ([][]string, error) {
	out := make([][]string, len(texts))
	allowed := make(map[string]bool, len(defs))
	for _, d := range defs {
		allowed[strings.TrimSpace(d.Name)] = true
	}
	catalog := buildCatalog(defs)

	for start := 0; start < len(texts); start += m.batchSize {
		end := start + m.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]
		if allBlank(batch) {
			continue
		}

		reply, err := m.completer.Complete(ctx, client.CompletionRequest{
			Stage:       StageName,
			System:      "你是专业的文本分类专家，严格按照给定的标签体系进行分类。",
			Prompt:      buildReferencePrompt(catalog, batch),
			Temperature: 0.1,
			MaxTokens:   100 * len(batch),
		})
		if err != nil {
			return nil, err
		}

		for i, line := range client.ParseNumberedLines(reply, len(batch)) {
			var names []string
			for _, name := range models.SplitTags(line) {
				if allowed[name] && len(names) < maxReferenceTags {
					names = append(names, name)
				}
			}
			out[start+i] = names
		}
		slog.Debug("参考标签批次完成", "field", field, "batch_start", start, "batch_size", len(batch))
	}
	return out, nil
}

func buildCatalog(defs []models.TagDefinition) string {
	var b strings.Builder
	for i, d := range defs {
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, strings.TrimSpace(d.Name), strings.TrimSpace(d.Definition))
		if len(d.Examples) > 0 {
			fmt.Fprintf(&b, "   示例关键词: %s\n", strings.Join(d.Examples, ", "))
		}
	}
	return b.String()
}

func buildReferencePrompt(catalog string, batch []string) string {
	var b strings.Builder
	b.WriteString("请根据以下参考标签体系，为每个中文文本分配最合适的标签。\n\n")
	b.WriteString("参考标签体系：\n")
	b.WriteString(catalog)
	b.WriteString("\n打标要求：\n")
	b.WriteString("1. 严格保持原文顺序和编号\n")
	b.WriteString("2. 每行输出格式为\"编号. 标签名称1,标签名称2,标签名称3\"\n")
	b.WriteString("3. 只能输出上述参考标签体系中的【标签名称】（冒号前面的部分），不要输出示例关键词\n")
	b.WriteString("4. 每个文本分配1-3个最相关的标签名称\n")
	b.WriteString("5. 如果文本与所有参考标签都不匹配，输出\"其他\"\n")
	b.WriteString("6. 只输出标签分配结果，不要其他说明\n\n")
	b.WriteString("待分配标签的文本：\n")
	b.WriteString(client.NumberedList(batch))
	b.WriteString("\n标签分配结果：\n")
	return b.String()
}

// RuleBasedMatch 关键词计分匹配：名称、示例关键词与定义中的词各计1分
func RuleBasedMatch(texts []string, defs []models.TagDefinition) [][]string {
	keywords := make([][]string, len(defs))
	for i, d := range defs {
		kws := []string{strings.TrimSpace(d.Name)}
		kws = append(kws, d.Examples...)
		kws = append(kws, strings.Fields(d.Definition)...)
		keywords[i] = kws
	}

	out := make([][]string, len(texts))
	for row, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		best := 0
		scores := make([]int, len(defs))
		for i, kws := range keywords {
			for _, kw := range kws {
				if kw = strings.TrimSpace(kw); kw != "" && strings.Contains(text, kw) {
					scores[i]++
				}
			}
			if scores[i] > best {
				best = scores[i]
			}
		}
		if best == 0 {
			out[row] = []string{models.OtherTag}
			continue
		}
		for i, d := range defs {
			if scores[i] == best && len(out[row]) < maxReferenceTags {
				out[row] = append(out[row], strings.TrimSpace(d.Name))
			}
		}
	}
	return out
}
