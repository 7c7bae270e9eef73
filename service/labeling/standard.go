/*
 * @module service/labeling/standard
 * @description 标准标签体系打标：为每条回答生成二级标签，再归纳一级主题并分配
 * @architecture 分层架构 - 服务层
 * @documentReference DESIGN.md
 * @stateFlow 读取翻译文本 -> 分批生成二级标签 -> 统计高频标签 -> 生成一级主题 -> 主题分配
 * @rules 每次运行整体替换上一次的标准标签集；主题生成失败时退化为高频标签
 * @dependencies client, service/apperr
 * @refs service/pipeline/controller.go
 */

package labeling

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"survey-pipeline-service/client"
	"survey-pipeline-service/service/apperr"
	"survey-pipeline-service/service/models"
)

// StageName 阶段名称
const StageName = "labeling"

// 参与主题归纳的高频标签数量
const topTagsForThemes = 20

// 一级主题最大字符数
const maxThemeRunes = 10

var themeNumbering = regexp.MustCompile(`^\d+[\.\)、]?\s*`)

// StandardLabeler 标准打标器
type StandardLabeler struct {
	completer  client.Completer
	batchSize  int
	topicCount int
}

// NewStandardLabeler 创建标准打标器
func NewStandardLabeler(completer client.Completer, batchSize, topicCount int) *StandardLabeler {
	if batchSize <= 0 {
		batchSize = 50
	}
	if topicCount <= 0 {
		topicCount = 5
	}
	return &StandardLabeler{completer: completer, batchSize: batchSize, topicCount: topicCount}
}

// Label 对开放题字段进行标准打标
func (l *StandardLabeler) Label(ctx context.Context, table *models.Table, openFields []string) (*models.StandardLabelSet, error) {
	if l.completer == nil {
		return nil, apperr.Precondition(StageName, "AI服务未启用，无法进行标准打标")
	}

	set := &models.StandardLabelSet{
		OpenFields: append([]string(nil), openFields...),
		Themes:     make(map[string][]string, len(openFields)),
		CreatedAt:  time.Now(),
	}

	for _, field := range openFields {
		texts := SourceTexts(table, field)
		if texts == nil {
			return nil, apperr.Precondition(StageName, fmt.Sprintf("字段 %s 不存在", field))
		}

		tags, err := l.generateTags(ctx, field, texts)
		if err != nil {
			return nil, apperr.External(StageName, fmt.Errorf("字段 %s 生成标签失败: %w", field, err))
		}

		themes := l.discoverThemes(ctx, field, tags)
		set.Themes[field] = themes

		for row, text := range texts {
			if strings.TrimSpace(text) == "" {
				continue
			}
			set.Rows = append(set.Rows, models.LabelAssignment{
				RowID:  row,
				Field:  field,
				Tags:   tags[row],
				Themes: AssignThemes(tags[row], themes),
			})
			set.TotalResponses++
		}
	}

	models.SortAssignments(set.Rows)
	slog.Info("标准打标完成", "fields", len(openFields), "responses", set.TotalResponses)
	return set, nil
}

// SourceTexts 打标文本：优先使用翻译列
func SourceTexts(table *models.Table, field string) []string {
	if table.HasColumn(models.TranslationColumn(field)) {
		return table.Column(models.TranslationColumn(field))
	}
	return table.Column(field)
}

func (l *StandardLabeler) generateTags(ctx context.Context, field string, texts []string) ([][]string, error) {
	out := make([][]string, len(texts))

	for start := 0; start < len(texts); start += l.batchSize {
		end := start + l.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]
		if allBlank(batch) {
			continue
		}

		reply, err := l.completer.Complete(ctx, client.CompletionRequest{
			Stage:       StageName,
			System:      "你是高效的批量标签助手，专注于保持顺序的准确分类。",
			Prompt:      buildTagPrompt(field, batch),
			Temperature: 0.1,
			MaxTokens:   100 * len(batch),
		})
		if err != nil {
			return nil, err
		}

		for i, line := range client.ParseNumberedLines(reply, len(batch)) {
			out[start+i] = models.SplitTags(line)
		}
	}
	return out, nil
}

func buildTagPrompt(field string, batch []string) string {
	var b strings.Builder
	b.WriteString("请为以下中文回答生成多个相关的主题标签。\n")
	b.WriteString("要求：\n")
	b.WriteString("1. 严格保持原文顺序和编号\n")
	b.WriteString("2. 每行输出格式为\"编号. 标签1,标签2,标签3\"\n")
	b.WriteString("3. 每个回答生成2-3个相关标签，用逗号分隔\n")
	b.WriteString("4. 标签要具体、细分，涵盖不同角度\n")
	b.WriteString("5. 只输出结果列表，不要包含其他说明\n\n")
	b.WriteString("示例格式：\n1. 服务速度,响应时间,用户体验\n2. 界面设计,操作复杂,易用性\n\n")
	fmt.Fprintf(&b, "%s内容列表：\n", field)
	b.WriteString(client.NumberedList(batch))
	b.WriteString("\n标签结果列表：\n")
	return b.String()
}

// discoverThemes 由高频二级标签归纳一级主题，失败时退化为高频标签
func (l *StandardLabeler) discoverThemes(ctx context.Context, field string, tags [][]string) []string {
	ranked := RankTags(tags)
	if len(ranked) == 0 {
		return nil
	}

	top := ranked
	if len(top) > topTagsForThemes {
		top = top[:topTagsForThemes]
	}

	reply, err := l.completer.Complete(ctx, client.CompletionRequest{
		Stage:       StageName,
		System:      "你是专业的主题分类专家，擅长将细分类别归纳为更高层次的主题。",
		Prompt:      buildThemePrompt(top, l.topicCount),
		Temperature: 0.3,
		MaxTokens:   200,
	})
	if err == nil {
		if themes := ParseThemes(reply, l.topicCount); len(themes) > 0 {
			return themes
		}
		err = fmt.Errorf("未解析到有效主题")
	}

	slog.Warn("一级主题生成失败，使用高频标签代替", "field", field, "error", err)
	if len(ranked) > l.topicCount {
		ranked = ranked[:l.topicCount]
	}
	return ranked
}

func buildThemePrompt(top []string, n int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "请根据以下二级标签，生成%d个一级主题标签（大分类）。\n\n", n)
	fmt.Fprintf(&b, "二级标签列表：\n%s\n\n", strings.Join(top, ", "))
	b.WriteString("要求：\n")
	fmt.Fprintf(&b, "1. 生成%d个一级主题，每个主题用2-4个词描述\n", n)
	b.WriteString("2. 一级主题要能涵盖相关的二级标签\n")
	b.WriteString("3. 主题之间要有区分度，避免重复\n")
	b.WriteString("4. 只输出主题列表，每行一个主题\n\n")
	b.WriteString("一级主题：\n")
	return b.String()
}

// ParseThemes 去掉编号，丢弃超长主题，最多保留 n 个
func ParseThemes(reply string, n int) []string {
	var themes []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(reply, "\n") {
		theme := strings.TrimSpace(themeNumbering.ReplaceAllString(strings.TrimSpace(line), ""))
		if theme == "" || seen[theme] || len([]rune(theme)) > maxThemeRunes {
			continue
		}
		seen[theme] = true
		themes = append(themes, theme)
		if len(themes) == n {
			break
		}
	}
	return themes
}

// RankTags 按出现次数降序排列标签，次数相同按首次出现顺序
func RankTags(tags [][]string) []string {
	counts := make(map[string]int)
	var order []string
	for _, row := range tags {
		for _, t := range row {
			if counts[t] == 0 {
				order = append(order, t)
			}
			counts[t]++
		}
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	return order
}

// AssignThemes 按双向包含关系给主题打分，取所有最高分主题；全为0时取第一个主题
func AssignThemes(tags, themes []string) []string {
	if len(tags) == 0 || len(themes) == 0 {
		return nil
	}

	scores := make([]int, len(themes))
	best := 0
	for i, theme := range themes {
		themeWords := strings.Fields(theme)
		for _, tag := range tags {
			if containsAny(tag, themeWords) {
				scores[i]++
			}
			if containsAny(theme, strings.Fields(tag)) {
				scores[i]++
			}
		}
		if scores[i] > best {
			best = scores[i]
		}
	}

	if best == 0 {
		return []string{themes[0]}
	}
	var out []string
	for i, theme := range themes {
		if scores[i] == best {
			out = append(out, theme)
		}
	}
	return out
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if w != "" && strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func allBlank(texts []string) bool {
	for _, t := range texts {
		if strings.TrimSpace(t) != "" {
			return false
		}
	}
	return true
}
