package statistics

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/spf13/cast"

	"survey-pipeline-service/service/classifier"
	"survey-pipeline-service/service/models"
)

const (
	maxKeywordCandidates = 10
	maxKeywords          = 8
	maxSamples           = 5
)

// NumericValues 解析列中可转换为数值的单元格，空白与非数值忽略
func NumericValues(values []string) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		f, err := cast.ToFloat64E(v)
		if err != nil || math.IsNaN(f) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func nonBlank(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func share(count, total int) models.CountShare {
	p := 0.0
	if total > 0 {
		p = float64(count) / float64(total) * 100
	}
	return models.CountShare{Count: count, Percentage: p}
}

// ScaleStats 量表题：描述统计、分值分布，0-10 分制附带 NPS
func ScaleStats(column string, values []string) (models.ScaleQuestionStats, bool) {
	nums := NumericValues(values)
	if len(nums) == 0 {
		return models.ScaleQuestionStats{}, false
	}

	sorted := append([]float64(nil), nums...)
	sort.Float64s(sorted)

	n := len(sorted)
	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(n)

	std := 0.0
	if n > 1 {
		ss := 0.0
		for _, v := range sorted {
			ss += (v - mean) * (v - mean)
		}
		std = math.Sqrt(ss / float64(n-1))
	}

	median := sorted[n/2]
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}

	q := models.ScaleQuestionStats{
		Column: column,
		Statistics: models.ScaleStatistics{
			Count:  n,
			Mean:   mean,
			Std:    std,
			Min:    sorted[0],
			Max:    sorted[n-1],
			Median: median,
		},
	}

	for i := 0; i < n; {
		j := i
		for j < n && sorted[j] == sorted[i] {
			j++
		}
		q.Distribution = append(q.Distribution, models.ScoreBucket{
			Score:      formatScore(sorted[i]),
			CountShare: share(j-i, n),
		})
		i = j
	}

	if sorted[0] >= 0 && sorted[n-1] <= 10 {
		q.NPSAnalysis = npsAnalysis(sorted)
	}
	return q, true
}

func formatScore(v float64) string {
	if v == math.Trunc(v) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func npsAnalysis(scores []float64) *models.NPSAnalysis {
	var promoters, passives, detractors int
	for _, s := range scores {
		switch {
		case s >= 9:
			promoters++
		case s >= 7:
			passives++
		default:
			detractors++
		}
	}
	total := len(scores)
	nps := float64(promoters-detractors) / float64(total) * 100

	evaluation := "需改进"
	switch {
	case nps > 50:
		evaluation = "优秀"
	case nps > 0:
		evaluation = "良好"
	}

	return &models.NPSAnalysis{
		Promoters:  share(promoters, total),
		Passives:   share(passives, total),
		Detractors: share(detractors, total),
		NPS:        nps,
		Evaluation: evaluation,
	}
}

// countOptions 按出现次数降序统计，次数相同按首次出现顺序
func countOptions(items []string, total int) []models.OptionStat {
	counts := make(map[string]int)
	var order []string
	for _, it := range items {
		if counts[it] == 0 {
			order = append(order, it)
		}
		counts[it]++
	}
	options := make([]models.OptionStat, 0, len(order))
	for _, o := range order {
		options = append(options, models.OptionStat{Option: o, CountShare: share(counts[o], total)})
	}
	sort.SliceStable(options, func(i, j int) bool { return options[i].Count > options[j].Count })
	return options
}

// SingleChoiceStats 单选题：选项计数与占比，最多选择项
func SingleChoiceStats(column string, values []string) (models.ChoiceQuestionStats, bool) {
	answers := nonBlank(values)
	if len(answers) == 0 {
		return models.ChoiceQuestionStats{}, false
	}
	options := countOptions(answers, len(answers))
	most := options[0]
	return models.ChoiceQuestionStats{
		Column:         column,
		ValidResponses: len(answers),
		TotalOptions:   len(options),
		Options:        options,
		MostSelected:   &most,
	}, true
}

// MultipleChoiceStats 多选题：每个选项列统计“已选择”人数
func MultipleChoiceStats(questionID string, table *models.Table, fields []string) (models.ChoiceQuestionStats, bool) {
	if len(fields) == 0 {
		return models.ChoiceQuestionStats{}, false
	}

	columns := make([][]string, len(fields))
	for i, f := range fields {
		columns[i] = table.Column(f)
	}

	respondents := 0
	for row := 0; row < table.RowCount(); row++ {
		for _, col := range columns {
			if strings.TrimSpace(col[row]) != "" {
				respondents++
				break
			}
		}
	}
	if respondents == 0 {
		respondents = table.RowCount()
	}

	options := make([]models.OptionStat, 0, len(fields))
	for i, f := range fields {
		selected := 0
		for _, v := range columns[i] {
			if classifier.IsSelected(v) {
				selected++
			}
		}
		options = append(options, models.OptionStat{Option: classifier.OptionLabel(f), CountShare: share(selected, respondents)})
	}
	sort.SliceStable(options, func(i, j int) bool { return options[i].Count > options[j].Count })

	return choiceWithSummary(questionID, respondents, options), true
}

// TagStats 一级主题派生列：单元格按“、”或逗号拆分后逐标签计数
func TagStats(column string, values []string) (models.ChoiceQuestionStats, bool) {
	var tags []string
	valid := 0
	for _, v := range values {
		parts := strings.FieldsFunc(v, func(r rune) bool { return r == '、' || r == ',' || r == '，' })
		cell := 0
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				tags = append(tags, p)
				cell++
			}
		}
		if cell > 0 {
			valid++
		}
	}
	if valid == 0 {
		return models.ChoiceQuestionStats{}, false
	}
	return choiceWithSummary(column, valid, countOptions(tags, valid)), true
}

func choiceWithSummary(column string, valid int, options []models.OptionStat) models.ChoiceQuestionStats {
	q := models.ChoiceQuestionStats{
		Column:         column,
		ValidResponses: valid,
		TotalOptions:   len(options),
		Options:        options,
	}
	if len(options) == 0 {
		return q
	}

	rate := 0.0
	for _, o := range options {
		rate += o.Percentage
	}
	most := options[0]
	q.MostSelected = &most
	q.Summary = &models.ChoiceSummary{
		MostSelected:         most,
		LeastSelected:        options[len(options)-1],
		AverageSelectionRate: rate / float64(len(options)),
	}
	return q
}

// OpenStats 开放题：有效回答数、平均长度、唯一性、高频词与示例回答
func OpenStats(column string, values []string) (models.OpenQuestionStats, bool) {
	answers := nonBlank(values)
	if len(answers) == 0 {
		return models.OpenQuestionStats{}, false
	}

	totalLen := 0
	unique := make(map[string]bool)
	for _, a := range answers {
		totalLen += utf8.RuneCountInString(a)
		unique[a] = true
	}

	samples := answers
	if len(samples) > maxSamples {
		samples = samples[:maxSamples]
	}

	return models.OpenQuestionStats{
		Column:         column,
		ValidResponses: len(answers),
		Statistics: models.OpenTextStatistics{
			AverageLength:   float64(totalLen) / float64(len(answers)),
			UniqueCount:     len(unique),
			UniquenessRatio: float64(len(unique)) / float64(len(answers)),
		},
		TopKeywords:     TopKeywords(answers),
		SampleResponses: append([]string(nil), samples...),
	}, true
}

// TopKeywords 词频统计：取前10个高频词，去掉单字符后最多保留8个
func TopKeywords(texts []string) []models.KeywordCount {
	counts := make(map[string]int)
	for _, t := range texts {
		words := strings.FieldsFunc(strings.ToLower(t), func(r rune) bool {
			return unicode.IsSpace(r) || unicode.IsPunct(r)
		})
		for _, w := range words {
			counts[w]++
		}
	}

	ranked := make([]models.KeywordCount, 0, len(counts))
	for w, c := range counts {
		ranked = append(ranked, models.KeywordCount{Word: w, Count: c})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Word < ranked[j].Word
	})
	if len(ranked) > maxKeywordCandidates {
		ranked = ranked[:maxKeywordCandidates]
	}

	out := make([]models.KeywordCount, 0, maxKeywords)
	for _, k := range ranked {
		if utf8.RuneCountInString(k.Word) <= 1 {
			continue
		}
		out = append(out, k)
		if len(out) == maxKeywords {
			break
		}
	}
	return out
}

// Describe 单行文字摘要，用于日志与事件
func Describe(r *models.AnalysisResult) string {
	return fmt.Sprintf("量表题%d个，单选题%d个，多选题%d个，开放题%d个",
		len(r.ScaleQuestions), len(r.SingleChoiceQuestions), len(r.MultipleChoiceQuestions), len(r.OpenEndedQuestions))
}
