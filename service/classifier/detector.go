/**
 * @module classifier/detector
 * @description 字段题型识别：量表题 -> 单选题 -> 开放题 三步判断
 * @architecture 纯函数模块，无外部状态
 * @documentReference DESIGN.md
 * @stateFlow 去空值去重 -> 数值判断 -> 选项模式匹配 -> 关键词匹配 -> 选项数量判断
 * @rules
 *   - 所有非空值均可解析为数字时判定为量表题
 *   - 选项预处理后需全部落在同一模式或关键词族内
 *   - 去重后选项数在 1-10 之间判定为单选题
 *   - 没有有效值的字段判定为单选题，避免触发翻译
 * @dependencies
 *   - github.com/spf13/cast: 数值转换
 * @refs
 *   - service/classifier/classifier.go
 */

package classifier

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/cast"

	"survey-pipeline-service/service/models"
)

// MaxSingleChoiceOptions 按选项数量判定单选题的上限
const MaxSingleChoiceOptions = 10

type optionPattern struct {
	family  string
	name    string
	options []string
}

var singleChoicePatterns = []optionPattern{
	{"binary", "yes_no", []string{"是", "否", "yes", "no", "y", "n"}},
	{"binary", "true_false", []string{"对", "错", "正确", "错误", "true", "false", "t", "f"}},
	{"binary", "selected_unselected", []string{"已选择", "未选择", "选中", "未选中", "selected", "not selected", "unselected", "checked", "unchecked"}},
	{"binary", "agree_disagree", []string{"同意", "不同意", "赞成", "反对", "agree", "disagree", "support", "oppose"}},
	{"satisfaction", "satisfaction_basic", []string{"非常满意", "满意", "一般", "不满意", "非常不满意", "very satisfied", "satisfied", "neutral", "dissatisfied", "very dissatisfied"}},
	{"satisfaction", "satisfaction_extended", []string{
		"极其满意", "非常满意", "比较满意", "适度满意", "既不满意也不不满意", "适度不满意", "比较不满意", "非常不满意", "极其不满意",
		"extremely satisfied", "very satisfied", "moderately satisfied", "somewhat satisfied",
		"neither satisfied nor dissatisfied", "moderately dissatisfied", "somewhat dissatisfied",
		"very dissatisfied", "extremely dissatisfied",
	}},
	{"rating", "quality_3", []string{"好", "中", "差", "优", "良", "劣", "good", "fair", "poor", "excellent", "average", "bad"}},
	{"rating", "quality_5", []string{"很好", "好", "一般", "差", "很差", "very good", "good", "average", "poor", "very poor"}},
	{"rating", "frequency", []string{"经常", "偶尔", "很少", "从不", "总是", "有时", "often", "sometimes", "rarely", "never", "always", "occasionally"}},
}

var smartKeywords = []optionPattern{
	{"keywords", "binary_keywords", []string{"是", "否", "有", "没有", "会", "不会", "用过", "没用过", "yes", "no", "have", "never", "used", "not used", "will", "won't"}},
	{"keywords", "frequency_keywords", []string{"经常", "偶尔", "很少", "从不", "总是", "有时", "每天", "每周", "often", "sometimes", "rarely", "never", "always", "daily", "weekly", "occasionally"}},
	{"keywords", "satisfaction_keywords", []string{"满意", "不满意", "喜欢", "不喜欢", "好", "不好", "satisfied", "dissatisfied", "like", "dislike", "good", "bad", "love", "hate"}},
}

var (
	punctuationPattern = regexp.MustCompile(`[，。！？、；：“”‘’（）【】"'\s\-_]`)
	englishConjunction = regexp.MustCompile(`\b(nor|and|or)\b`)
	chineseConjunction = regexp.MustCompile(`(也不|和|或者)`)
)

// normalizeOption 小写、去标点与连接词后用于模式比较
func normalizeOption(option string) string {
	text := strings.ToLower(strings.TrimSpace(option))
	text = punctuationPattern.ReplaceAllString(text, "")
	text = englishConjunction.ReplaceAllString(text, "")
	return chineseConjunction.ReplaceAllString(text, "")
}

// 预处理后的模式集合
type normalizedPattern struct {
	optionPattern
	set map[string]bool
}

func compile(patterns []optionPattern) []normalizedPattern {
	out := make([]normalizedPattern, 0, len(patterns))
	for _, p := range patterns {
		set := make(map[string]bool, len(p.options))
		for _, o := range p.options {
			set[normalizeOption(o)] = true
		}
		out = append(out, normalizedPattern{optionPattern: p, set: set})
	}
	return out
}

var (
	compiledPatterns = compile(singleChoicePatterns)
	compiledKeywords = compile(smartKeywords)
)

// DistinctValues 按出现顺序返回去空白后的非空去重值
func DistinctValues(values []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// IsNumeric 所有值是否都能转换为数字
func IsNumeric(values []string) bool {
	if len(values) == 0 {
		return false
	}
	for _, v := range values {
		if _, err := cast.ToFloat64E(strings.TrimSpace(v)); err != nil {
			return false
		}
	}
	return true
}

// InferType 推断字段题型，返回题型与判定依据
func InferType(values []string) (models.QuestionType, string, int) {
	distinct := DistinctValues(values)
	count := len(distinct)

	if count == 0 {
		return models.QuestionTypeSingle, "无有效值", 0
	}
	if IsNumeric(distinct) {
		return models.QuestionTypeScale, fmt.Sprintf("数值型，%d个不同值", count), count
	}

	normalized := make([]string, count)
	for i, v := range distinct {
		normalized[i] = normalizeOption(v)
	}

	for _, p := range compiledPatterns {
		if allIn(normalized, p.set) {
			return models.QuestionTypeSingle, fmt.Sprintf("精确匹配-%s-%s", p.family, p.name), count
		}
	}
	for _, p := range compiledKeywords {
		if allIn(normalized, p.set) {
			return models.QuestionTypeSingle, "智能关键词检测-" + p.name, count
		}
	}
	if count <= MaxSingleChoiceOptions {
		return models.QuestionTypeSingle, fmt.Sprintf("选项数量特征(%d个选项在1-%d范围内)", count, MaxSingleChoiceOptions), count
	}

	return models.QuestionTypeOpen, fmt.Sprintf("选项数量超出范围(需要1-%d个，实际%d个)", MaxSingleChoiceOptions, count), count
}

func allIn(values []string, set map[string]bool) bool {
	for _, v := range values {
		if !set[v] {
			return false
		}
	}
	return true
}
