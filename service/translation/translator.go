/*
 * @module service/translation/translator
 * @description 开放题翻译阶段：按批调用AI服务，将英文回答翻译为中文并生成 -CN 派生列
 * @architecture 分层架构 - 服务层
 * @documentReference DESIGN.md
 * @stateFlow 收集开放题文本 -> 分批 -> 语言判断 -> 调用翻译 -> 解析编号回复 -> 汇总
 * @rules 任一批次重试耗尽即整体失败，不产生部分结果；缺失的回复行回退为原文
 * @dependencies client, service/apperr
 * @refs service/pipeline/controller.go
 */

package translation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"survey-pipeline-service/client"
	"survey-pipeline-service/service/apperr"
	"survey-pipeline-service/service/models"
)

// StageName 阶段名称
const StageName = "translation"

const systemPrompt = "你是专业的翻译助手，专注于准确翻译。"

// Service 翻译服务
type Service struct {
	completer client.Completer
	batchSize int
}

// NewService 创建翻译服务，completer 为 nil 时所有文本原样保留
func NewService(completer client.Completer, batchSize int) *Service {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Service{completer: completer, batchSize: batchSize}
}

// Translate 翻译指定开放题字段
func (s *Service) Translate(ctx context.Context, table *models.Table, openFields []string) (*models.TranslationResult, error) {
	result := &models.TranslationResult{
		Fields:          make(map[string][]string, len(openFields)),
		OpenEndedFields: append([]string(nil), openFields...),
	}

	for _, field := range openFields {
		values := table.Column(field)
		if values == nil {
			return nil, apperr.Precondition(StageName, fmt.Sprintf("字段 %s 不存在", field))
		}

		translated, count, err := s.translateField(ctx, field, values)
		if err != nil {
			return nil, apperr.External(StageName, fmt.Errorf("字段 %s 翻译失败: %w", field, err))
		}
		result.Fields[field] = translated
		result.TranslatedCount += count
	}

	slog.Info("翻译完成", "fields", len(openFields), "translated", result.TranslatedCount)
	return result, nil
}

func (s *Service) translateField(ctx context.Context, field string, values []string) ([]string, int, error) {
	out := make([]string, len(values))
	copy(out, values)
	count := 0

	for start := 0; start < len(values); start += s.batchSize {
		end := start + s.batchSize
		if end > len(values) {
			end = len(values)
		}
		batch := values[start:end]

		if s.completer == nil || !NeedsTranslation(batch) {
			continue
		}

		reply, err := s.completer.Complete(ctx, client.CompletionRequest{
			Stage:       StageName,
			System:      systemPrompt,
			Prompt:      buildPrompt(field, batch),
			Temperature: 0.1,
			MaxTokens:   100 * len(batch),
		})
		if err != nil {
			return nil, 0, err
		}

		lines := client.ParseNumberedLines(reply, len(batch))
		for i, v := range batch {
			if strings.TrimSpace(v) == "" {
				continue
			}
			if t, ok := lines[i]; ok && t != "" {
				out[start+i] = t
				count++
			}
		}
		slog.Debug("翻译批次完成", "field", field, "batch_start", start, "batch_size", len(batch), "parsed", len(lines))
	}

	return out, count, nil
}

func buildPrompt(field string, batch []string) string {
	var b strings.Builder
	b.WriteString("请将以下英文内容翻译成中文，保持原文顺序和编号。\n\n")
	b.WriteString("要求：\n")
	b.WriteString("1. 严格保持原文顺序和编号\n")
	b.WriteString("2. 每行输出格式为\"编号. 翻译内容\"\n")
	b.WriteString("3. 只输出翻译结果，不要其他说明\n\n")
	fmt.Fprintf(&b, "%s内容：\n", field)
	b.WriteString(client.NumberedList(batch))
	b.WriteString("\n翻译结果：\n")
	return b.String()
}

// NeedsTranslation 拉丁字母多于中文字符时需要翻译
func NeedsTranslation(texts []string) bool {
	latin, cjk := 0, 0
	for _, text := range texts {
		for _, r := range text {
			switch {
			case r >= 0x4e00 && r <= 0x9fff:
				cjk++
			case r < unicode.MaxASCII && unicode.IsLetter(r):
				latin++
			}
		}
	}
	return latin > cjk
}

// ApplyColumns 在每个开放题字段后插入翻译列
func ApplyColumns(table *models.Table, result *models.TranslationResult) {
	for _, field := range result.OpenEndedFields {
		values, ok := result.Fields[field]
		if !ok {
			continue
		}
		table.InsertColumnAfter(field, models.TranslationColumn(field), values)
	}
}
