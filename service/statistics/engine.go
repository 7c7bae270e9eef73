/*
 * @module service/statistics/engine
 * @description 统计引擎：解析选中的题组，按题型计算描述统计与跨字段相关性
 * @architecture 分层架构 - 服务层
 * @documentReference DESIGN.md
 * @stateFlow 选中题组 -> 字段解析（一级主题优先） -> 分题型统计 -> 相关性 -> AnalysisResult
 * @rules 题组含一级主题派生列时仅分析这些列；每次运行整体替换上一次结果
 * @dependencies github.com/spf13/cast
 * @refs service/pipeline/controller.go, service/export
 */

package statistics

import (
	"time"

	"survey-pipeline-service/service/apperr"
	"survey-pipeline-service/service/models"
)

// StageName 阶段名称
const StageName = "statistics"

// target 一个待统计的问题单元
type target struct {
	name   string
	typ    models.QuestionType
	fields []string
	tagged bool // 一级主题派生列，按拆分后的标签计数
}

// Engine 统计引擎
type Engine struct {
	now func() time.Time
}

// NewEngine 创建统计引擎
func NewEngine() *Engine {
	return &Engine{now: time.Now}
}

// ResolveFields 返回选中题组实际参与统计的字段
func ResolveFields(schema *models.Schema, groupIDs []string) []string {
	var out []string
	for _, t := range resolve(schema, groupIDs) {
		out = append(out, t.fields...)
	}
	return out
}

func resolve(schema *models.Schema, groupIDs []string) []target {
	var targets []target
	seen := make(map[string]bool)
	for _, id := range groupIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		group, ok := schema.Group(id)
		if !ok {
			continue
		}

		if themes := themeFields(group); len(themes) > 0 {
			for _, theme := range themes {
				targets = append(targets, target{name: theme, typ: models.QuestionTypeSingle, fields: []string{theme}, tagged: true})
			}
			continue
		}

		if group.Type == models.QuestionTypeMultiple {
			var raw []string
			for _, f := range group.Fields {
				if !models.IsDerivedColumn(f) {
					raw = append(raw, f)
				}
			}
			if len(raw) > 0 {
				targets = append(targets, target{name: group.MainQuestionID, typ: models.QuestionTypeMultiple, fields: raw})
				continue
			}
		}

		for _, f := range group.Fields {
			field, ok := schema.Field(f)
			if !ok {
				continue
			}
			targets = append(targets, target{name: f, typ: field.Type, fields: []string{f}})
		}
	}
	return targets
}

// themeFields 题组内全部一级主题列，每个开放子题各一列
func themeFields(group models.QuestionGroup) []string {
	var out []string
	for _, f := range group.Fields {
		if models.IsThemeColumn(f) {
			out = append(out, f)
		}
	}
	return out
}

// Compute 对选中的题组计算统计结果
func (e *Engine) Compute(table *models.Table, schema *models.Schema, groupIDs []string) (*models.AnalysisResult, error) {
	if table == nil || schema == nil {
		return nil, apperr.Precondition(StageName, "尚未上传数据")
	}
	if len(groupIDs) == 0 {
		return nil, apperr.Precondition(StageName, "请选择要分析的问题")
	}

	targets := resolve(schema, groupIDs)
	if len(targets) == 0 {
		return nil, apperr.Precondition(StageName, "选中的问题在数据中不存在")
	}

	result := &models.AnalysisResult{
		ScaleQuestions:          []models.ScaleQuestionStats{},
		SingleChoiceQuestions:   []models.ChoiceQuestionStats{},
		MultipleChoiceQuestions: []models.ChoiceQuestionStats{},
		OpenEndedQuestions:      []models.OpenQuestionStats{},
		GeneratedAt:             e.now(),
	}

	var numeric []string
	fieldCount := 0
	for _, t := range targets {
		fieldCount += len(t.fields)
		switch {
		case t.tagged:
			if q, ok := TagStats(t.name, table.Column(t.name)); ok {
				result.MultipleChoiceQuestions = append(result.MultipleChoiceQuestions, q)
			}
		case t.typ == models.QuestionTypeMultiple:
			if q, ok := MultipleChoiceStats(t.name, table, t.fields); ok {
				result.MultipleChoiceQuestions = append(result.MultipleChoiceQuestions, q)
			}
		case t.typ == models.QuestionTypeScale:
			if q, ok := ScaleStats(t.name, table.Column(t.name)); ok {
				result.ScaleQuestions = append(result.ScaleQuestions, q)
				numeric = append(numeric, t.name)
			}
		case t.typ == models.QuestionTypeOpen:
			if q, ok := OpenStats(t.name, table.Column(t.name)); ok {
				result.OpenEndedQuestions = append(result.OpenEndedQuestions, q)
			}
		default:
			if q, ok := SingleChoiceStats(t.name, table.Column(t.name)); ok {
				result.SingleChoiceQuestions = append(result.SingleChoiceQuestions, q)
			}
		}
	}

	if len(numeric) >= 2 {
		result.CrossAnalysis = &models.CrossAnalysis{Correlations: Correlations(table, numeric)}
	}

	result.Summary = models.AnalysisSummary{
		TotalFields: fieldCount,
		AnalyzedQuestions: len(result.ScaleQuestions) + len(result.SingleChoiceQuestions) +
			len(result.MultipleChoiceQuestions) + len(result.OpenEndedQuestions),
		TotalResponses: table.RowCount(),
	}
	return result, nil
}
