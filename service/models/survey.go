/*
 * @module service/models/survey
 * @description 问卷数据模型：原始表格、字段题型、题组结构
 * @architecture 数据模型层
 * @documentReference DESIGN.md
 * @stateFlow 上传解析 -> 题型识别 -> 题组划分 -> 派生列追加
 * @rules 原始值不可变，翻译与标签以派生列形式追加
 * @dependencies strings
 * @refs service/classifier, service/ingest
 */

package models

import "strings"

// QuestionType 题型
type QuestionType string

const (
	QuestionTypeScale    QuestionType = "scale"    // 量表题
	QuestionTypeSingle   QuestionType = "single"   // 单选题
	QuestionTypeMultiple QuestionType = "multiple" // 多选题（由多个选择标记列组成的题组）
	QuestionTypeOpen     QuestionType = "open"     // 开放题
)

// 派生列后缀
const (
	TranslationSuffix = "-CN"
	SubTagSuffix      = "二级标签"
	ThemeSuffix       = "一级主题"
)

// TranslationColumn 翻译列名
func TranslationColumn(field string) string { return field + TranslationSuffix }

// SubTagColumn 二级标签列名
func SubTagColumn(field string) string { return field + SubTagSuffix }

// ThemeColumn 一级主题列名
func ThemeColumn(field string) string { return field + ThemeSuffix }

// IsThemeColumn 是否为一级主题派生列
func IsThemeColumn(name string) bool { return strings.HasSuffix(name, ThemeSuffix) }

// IsDerivedColumn 是否为流水线派生列
func IsDerivedColumn(name string) bool {
	return strings.HasSuffix(name, TranslationSuffix) ||
		strings.HasSuffix(name, SubTagSuffix) ||
		strings.HasSuffix(name, ThemeSuffix)
}

// Table 上传的表格数据，所有单元格按字符串保存
type Table struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// RowCount 数据行数
func (t *Table) RowCount() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// ColumnIndex 返回列下标，不存在返回 -1
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// HasColumn 是否存在指定列
func (t *Table) HasColumn(name string) bool {
	return t.ColumnIndex(name) >= 0
}

// Column 返回整列数据，不存在返回 nil
func (t *Table) Column(name string) []string {
	idx := t.ColumnIndex(name)
	if idx < 0 {
		return nil
	}
	values := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		if idx < len(row) {
			values[i] = row[idx]
		}
	}
	return values
}

// Clone 深拷贝表格
func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}
	out := &Table{
		Columns: append([]string(nil), t.Columns...),
		Rows:    make([][]string, len(t.Rows)),
	}
	for i, row := range t.Rows {
		out.Rows[i] = append([]string(nil), row...)
	}
	return out
}

// InsertColumnAfter 在 anchor 列后插入新列；同名列已存在时整列覆盖，anchor 不存在时追加到末尾
func (t *Table) InsertColumnAfter(anchor, name string, values []string) {
	if idx := t.ColumnIndex(name); idx >= 0 {
		for i := range t.Rows {
			if i < len(values) {
				t.Rows[i][idx] = values[i]
			} else {
				t.Rows[i][idx] = ""
			}
		}
		return
	}

	pos := len(t.Columns)
	if a := t.ColumnIndex(anchor); a >= 0 {
		pos = a + 1
	}

	t.Columns = insertAt(t.Columns, pos, name)
	for i := range t.Rows {
		v := ""
		if i < len(values) {
			v = values[i]
		}
		t.Rows[i] = insertAt(t.Rows[i], pos, v)
	}
}

func insertAt(s []string, pos int, v string) []string {
	if pos >= len(s) {
		return append(s, v)
	}
	s = append(s, "")
	copy(s[pos+1:], s[pos:])
	s[pos] = v
	return s
}

// QuestionField 单个原始或派生字段
type QuestionField struct {
	Name        string       `json:"name"`
	Type        QuestionType `json:"type"`
	UniqueCount int          `json:"unique_count"`
	MatchReason string       `json:"match_reason"`
	Derived     bool         `json:"derived"`
}

// QuestionGroup 同一主问题下的字段集合
type QuestionGroup struct {
	MainQuestionID string       `json:"main_question_id"`
	Fields         []string     `json:"fields"`
	Type           QuestionType `json:"type"`
}

// HasField 题组是否包含字段
func (g QuestionGroup) HasField(name string) bool {
	for _, f := range g.Fields {
		if f == name {
			return true
		}
	}
	return false
}

// Schema 题型识别结果
type Schema struct {
	Fields    []QuestionField `json:"fields"`
	Groups    []QuestionGroup `json:"groups"`
	Ungrouped []string        `json:"ungrouped"`
}

// Field 按名称查找字段
func (s *Schema) Field(name string) (QuestionField, bool) {
	if s == nil {
		return QuestionField{}, false
	}
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return QuestionField{}, false
}

// Group 按主问题编号查找题组
func (s *Schema) Group(id string) (QuestionGroup, bool) {
	if s == nil {
		return QuestionGroup{}, false
	}
	for _, g := range s.Groups {
		if g.MainQuestionID == id {
			return g, true
		}
	}
	return QuestionGroup{}, false
}

// OpenEndedFields 返回非派生的开放题字段
func (s *Schema) OpenEndedFields() []string {
	if s == nil {
		return nil
	}
	var out []string
	for _, f := range s.Fields {
		if f.Type == QuestionTypeOpen && !f.Derived {
			out = append(out, f.Name)
		}
	}
	return out
}

// TypeMap 字段到题型的映射
func (s *Schema) TypeMap() map[string]QuestionType {
	out := make(map[string]QuestionType)
	if s == nil {
		return out
	}
	for _, f := range s.Fields {
		out[f.Name] = f.Type
	}
	return out
}

// TranslationResult 翻译阶段产物
type TranslationResult struct {
	Fields          map[string][]string `json:"fields"` // 原字段 -> 翻译文本
	TranslatedCount int                 `json:"translated_count"`
	OpenEndedFields []string            `json:"open_ended_fields"`
}

// Summary 翻译摘要
func (r *TranslationResult) Summary() TranslationSummary {
	return TranslationSummary{
		TranslatedFieldCount: len(r.Fields),
		TranslatedCount:      r.TranslatedCount,
		OpenEndedFieldNames:  append([]string(nil), r.OpenEndedFields...),
	}
}

// TranslationSummary 翻译阶段对外摘要
type TranslationSummary struct {
	TranslatedFieldCount int      `json:"translated_field_count"`
	TranslatedCount      int      `json:"translated_count"`
	OpenEndedFieldNames  []string `json:"open_ended_field_names"`
}
