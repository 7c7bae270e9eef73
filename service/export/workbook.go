/*
 * @module service/export/workbook
 * @description 结果导出：按变体生成 Excel 工作簿（机器标签、人工修改合并、最终结果含统计）
 * @architecture 分层架构 - 输出层
 * @documentReference DESIGN.md
 * @stateFlow 选择变体 -> 组装表格与标签列 -> 写入工作表 -> 输出字节流
 * @rules 标签集不存在的变体在控制器中拒绝；导出不修改会话数据
 * @dependencies github.com/xuri/excelize/v2
 * @refs service/pipeline/outputs.go, api/controllers/session_controller.go
 */

package export

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"github.com/xuri/excelize/v2"

	"survey-pipeline-service/service/apperr"
	"survey-pipeline-service/service/models"
)

// Variant 导出变体
type Variant string

const (
	VariantStandardLabel   Variant = "standard-label"
	VariantStandardManual  Variant = "standard-manual"
	VariantReferenceLabel  Variant = "reference-label"
	VariantReferenceManual Variant = "reference-manual"
	VariantFinal           Variant = "final"
)

// 工作表名称
const (
	SheetData          = "标注数据"
	SheetModifications = "修改记录"
	SheetStatistics    = "统计结果"
)

// ParseVariant 解析导出变体
func ParseVariant(s string) (Variant, error) {
	switch v := Variant(strings.ToLower(strings.TrimSpace(s))); v {
	case VariantStandardLabel, VariantStandardManual, VariantReferenceLabel, VariantReferenceManual, VariantFinal:
		return v, nil
	}
	return "", apperr.Validation(fmt.Sprintf("不支持的导出类型: %s", s))
}

// Strategy 变体对应的打标策略，final 返回空
func (v Variant) Strategy() models.Strategy {
	switch v {
	case VariantStandardLabel, VariantStandardManual:
		return models.StrategyStandard
	case VariantReferenceLabel, VariantReferenceManual:
		return models.StrategyReference
	}
	return ""
}

// Manual 是否合并人工修改
func (v Variant) Manual() bool {
	return v == VariantStandardManual || v == VariantReferenceManual || v == VariantFinal
}

// Input 导出数据
type Input struct {
	Table         *models.Table // 原始列与翻译列
	Labels        models.LabelSet
	Modifications []models.Modification
	Result        *models.AnalysisResult
}

// Filename 导出文件名
func Filename(uploaded string, v Variant) string {
	base := uploaded
	if i := strings.LastIndex(base, "."); i > 0 {
		base = base[:i]
	}
	if base == "" {
		base = "survey"
	}
	return fmt.Sprintf("%s_%s.xlsx", base, v)
}

// Workbook 生成导出工作簿
func Workbook(v Variant, in Input) (*excelize.File, error) {
	if in.Table == nil {
		return nil, apperr.Precondition("export", "没有可导出的数据")
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetData); err != nil {
		f.Close()
		return nil, fmt.Errorf("创建工作表失败: %w", err)
	}

	table := in.Table.Clone()
	if in.Labels != nil {
		models.ApplyLabelColumns(table, in.Labels)
	}
	if err := writeTable(f, SheetData, table); err != nil {
		f.Close()
		return nil, err
	}

	if v.Manual() && len(in.Modifications) > 0 {
		if err := writeModifications(f, in.Modifications); err != nil {
			f.Close()
			return nil, err
		}
	}

	if v == VariantFinal && in.Result != nil {
		if err := writeStatistics(f, in.Result); err != nil {
			f.Close()
			return nil, err
		}
	}

	f.SetActiveSheet(0)
	return f, nil
}

// Bytes 工作簿写入字节流
func Bytes(f *excelize.File) ([]byte, error) {
	defer f.Close()
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("写入Excel失败: %w", err)
	}
	return bytes.Clone(buf.Bytes()), nil
}

func headerStyle(f *excelize.File) (int, error) {
	return f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"DDEBF7"}, Pattern: 1},
	})
}

func writeRows(f *excelize.File, sheet string, header []string, rows [][]interface{}) error {
	style, err := headerStyle(f)
	if err != nil {
		return fmt.Errorf("创建表头样式失败: %w", err)
	}

	headerRow := make([]interface{}, len(header))
	for i, h := range header {
		headerRow[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &headerRow); err != nil {
		return fmt.Errorf("写入表头失败: %w", err)
	}
	if len(header) > 0 {
		last, _ := excelize.CoordinatesToCellName(len(header), 1)
		if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
			return fmt.Errorf("设置表头样式失败: %w", err)
		}
	}

	for i := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &rows[i]); err != nil {
			return fmt.Errorf("写入第%d行失败: %w", i+2, err)
		}
	}
	return nil
}

func writeTable(f *excelize.File, sheet string, table *models.Table) error {
	rows := make([][]interface{}, len(table.Rows))
	for i, r := range table.Rows {
		row := make([]interface{}, len(r))
		for j, v := range r {
			row[j] = v
		}
		rows[i] = row
	}
	return writeRows(f, sheet, table.Columns, rows)
}

func writeModifications(f *excelize.File, mods []models.Modification) error {
	if _, err := f.NewSheet(SheetModifications); err != nil {
		return fmt.Errorf("创建工作表失败: %w", err)
	}
	rows := make([][]interface{}, 0, len(mods))
	for _, m := range mods {
		if !m.Valid() {
			continue
		}
		rows = append(rows, []interface{}{
			*m.RowID + 1, m.Field, string(m.TagType), strings.Join(m.Tags, ","), m.Seq, m.At.Format("2006-01-02 15:04:05"),
		})
	}
	return writeRows(f, SheetModifications, []string{"行号", "字段", "标签类型", "标签", "序号", "修改时间"}, rows)
}

func writeStatistics(f *excelize.File, r *models.AnalysisResult) error {
	if _, err := f.NewSheet(SheetStatistics); err != nil {
		return fmt.Errorf("创建工作表失败: %w", err)
	}
	return writeRows(f, SheetStatistics, []string{"题型", "字段", "项目", "数量", "数值"}, StatisticsRows(r))
}

// StatisticsRows 统计结果展开为表格行
func StatisticsRows(r *models.AnalysisResult) [][]interface{} {
	var rows [][]interface{}
	add := func(kind, column, item string, count interface{}, value interface{}) {
		rows = append(rows, []interface{}{kind, column, item, count, value})
	}

	add("汇总", "", "分析题目数", r.Summary.AnalyzedQuestions, "")
	add("汇总", "", "回答总数", r.Summary.TotalResponses, "")

	for _, q := range r.ScaleQuestions {
		s := q.Statistics
		add("量表题", q.Column, "均值", s.Count, round(s.Mean))
		add("量表题", q.Column, "标准差", "", round(s.Std))
		add("量表题", q.Column, "最小值", "", s.Min)
		add("量表题", q.Column, "最大值", "", s.Max)
		add("量表题", q.Column, "中位数", "", s.Median)
		for _, b := range q.Distribution {
			add("量表题", q.Column, b.Score+"分", b.Count, round(b.Percentage))
		}
		if q.NPSAnalysis != nil {
			add("量表题", q.Column, "NPS", "", round(q.NPSAnalysis.NPS))
			add("量表题", q.Column, "NPS评价", "", q.NPSAnalysis.Evaluation)
		}
	}

	for _, q := range r.SingleChoiceQuestions {
		for _, o := range q.Options {
			add("单选题", q.Column, o.Option, o.Count, round(o.Percentage))
		}
	}

	for _, q := range r.MultipleChoiceQuestions {
		for _, o := range q.Options {
			add("多选题", q.Column, o.Option, o.Count, round(o.Percentage))
		}
		if q.Summary != nil {
			add("多选题", q.Column, "平均选择率", "", round(q.Summary.AverageSelectionRate))
		}
	}

	for _, q := range r.OpenEndedQuestions {
		add("开放题", q.Column, "有效回答", q.ValidResponses, "")
		add("开放题", q.Column, "平均长度", "", round(q.Statistics.AverageLength))
		add("开放题", q.Column, "唯一回答", q.Statistics.UniqueCount, round(q.Statistics.UniquenessRatio))
		for _, k := range q.TopKeywords {
			add("开放题", q.Column, "关键词:"+k.Word, k.Count, "")
		}
	}

	if r.CrossAnalysis != nil {
		for _, c := range r.CrossAnalysis.Correlations {
			add("相关性", c.FieldA+" × "+c.FieldB, c.Strength, c.SampleSize, round(c.Pearson))
		}
	}
	return rows
}

func round(v float64) float64 {
	return math.Round(v*100) / 100
}
