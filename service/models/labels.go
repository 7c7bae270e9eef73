/*
 * @module service/models/labels
 * @description 标签结果模型：标准标签集与参考标签集两种变体、人工修改记录
 * @architecture 数据模型层 - 标签变体
 * @documentReference DESIGN.md
 * @stateFlow 打标运行 -> 标签集 -> 人工修改叠加 -> 合并视图
 * @rules 标签集按策略独立保存；修改记录以 (行, 字段, 标签类型) 为键，同键后写覆盖
 * @dependencies encoding/json, strings, time
 * @refs service/labeling, service/overlay
 */

package models

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// Strategy 打标策略
type Strategy string

const (
	StrategyStandard  Strategy = "standard"
	StrategyReference Strategy = "reference"
)

// Valid 是否为已知策略
func (s Strategy) Valid() bool {
	return s == StrategyStandard || s == StrategyReference
}

// TagType 标签类型
type TagType string

const (
	TagTypeTheme     TagType = "theme"     // 一级主题
	TagTypeTag       TagType = "tag"       // 二级标签
	TagTypeReference TagType = "reference" // 参考标签
)

// OtherTag 无匹配时的兜底标签
const OtherTag = "其他"

// TagDefinition 分析师定义的参考标签
type TagDefinition struct {
	Name       string   `json:"name"`
	Definition string   `json:"definition"`
	Examples   []string `json:"examples,omitempty"`
}

// LabelAssignment 单个回答单元格的机器标签
type LabelAssignment struct {
	RowID      int      `json:"row_id"`
	Field      string   `json:"field"`
	Themes     []string `json:"themes,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	References []string `json:"references,omitempty"`
}

// Values 按标签类型取值
func (a LabelAssignment) Values(t TagType) []string {
	switch t {
	case TagTypeTheme:
		return a.Themes
	case TagTypeTag:
		return a.Tags
	case TagTypeReference:
		return a.References
	}
	return nil
}

// With 返回替换指定标签类型后的副本
func (a LabelAssignment) With(t TagType, values []string) LabelAssignment {
	v := append([]string(nil), values...)
	switch t {
	case TagTypeTheme:
		a.Themes = v
	case TagTypeTag:
		a.Tags = v
	case TagTypeReference:
		a.References = v
	}
	return a
}

// CellKey 单元格键
type CellKey struct {
	RowID int
	Field string
}

// LabelSummary 打标摘要
type LabelSummary struct {
	Strategy        Strategy `json:"strategy"`
	TotalResponses  int      `json:"total_responses"`
	ProcessedFields int      `json:"processed_fields"`
	Fields          []string `json:"fields"`
}

// LabelSet 标签集变体：StandardLabelSet 或 ReferenceLabelSet
type LabelSet interface {
	Strategy() Strategy
	Fields() []string
	Assignments() []LabelAssignment
	TagTypes() []TagType
	WithAssignments(rows []LabelAssignment) LabelSet
	Summary() LabelSummary
	isLabelSet()
}

// StandardLabelSet 标准两级标签体系结果
type StandardLabelSet struct {
	OpenFields     []string            `json:"open_fields"`
	Rows           []LabelAssignment   `json:"rows"`
	Themes         map[string][]string `json:"themes"` // 字段 -> 发现的一级主题
	TotalResponses int                 `json:"total_responses"`
	CreatedAt      time.Time           `json:"created_at"`
}

func (s *StandardLabelSet) Strategy() Strategy             { return StrategyStandard }
func (s *StandardLabelSet) Fields() []string               { return s.OpenFields }
func (s *StandardLabelSet) Assignments() []LabelAssignment { return s.Rows }
func (s *StandardLabelSet) TagTypes() []TagType            { return []TagType{TagTypeTheme, TagTypeTag} }
func (s *StandardLabelSet) isLabelSet()                    {}

// WithAssignments 返回替换标签行后的副本
func (s *StandardLabelSet) WithAssignments(rows []LabelAssignment) LabelSet {
	out := *s
	out.Rows = rows
	return &out
}

// Summary 标准打标摘要
func (s *StandardLabelSet) Summary() LabelSummary {
	return LabelSummary{
		Strategy:        StrategyStandard,
		TotalResponses:  s.TotalResponses,
		ProcessedFields: len(s.OpenFields),
		Fields:          append([]string(nil), s.OpenFields...),
	}
}

// ReferenceLabelSet 参考标签匹配结果
type ReferenceLabelSet struct {
	OpenFields     []string          `json:"open_fields"`
	Rows           []LabelAssignment `json:"rows"`
	Definitions    []TagDefinition   `json:"definitions"`
	TotalResponses int               `json:"total_responses"`
	CreatedAt      time.Time         `json:"created_at"`
}

func (s *ReferenceLabelSet) Strategy() Strategy             { return StrategyReference }
func (s *ReferenceLabelSet) Fields() []string               { return s.OpenFields }
func (s *ReferenceLabelSet) Assignments() []LabelAssignment { return s.Rows }
func (s *ReferenceLabelSet) TagTypes() []TagType            { return []TagType{TagTypeReference} }
func (s *ReferenceLabelSet) isLabelSet()                    {}

// WithAssignments 返回替换标签行后的副本
func (s *ReferenceLabelSet) WithAssignments(rows []LabelAssignment) LabelSet {
	out := *s
	out.Rows = rows
	return &out
}

// Summary 参考打标摘要
func (s *ReferenceLabelSet) Summary() LabelSummary {
	return LabelSummary{
		Strategy:        StrategyReference,
		TotalResponses:  s.TotalResponses,
		ProcessedFields: len(s.OpenFields),
		Fields:          append([]string(nil), s.OpenFields...),
	}
}

// SupportsTagType 标签集是否支持指定标签类型
func SupportsTagType(set LabelSet, t TagType) bool {
	for _, tt := range set.TagTypes() {
		if tt == t {
			return true
		}
	}
	return false
}

// IndexAssignments 按单元格建立索引
func IndexAssignments(rows []LabelAssignment) map[CellKey]LabelAssignment {
	out := make(map[CellKey]LabelAssignment, len(rows))
	for _, r := range rows {
		out[CellKey{RowID: r.RowID, Field: r.Field}] = r
	}
	return out
}

// SortAssignments 按行号、字段排序
func SortAssignments(rows []LabelAssignment) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].RowID != rows[j].RowID {
			return rows[i].RowID < rows[j].RowID
		}
		return rows[i].Field < rows[j].Field
	})
}

// DerivedColumns 计算标签集对应的派生列：二级标签列与一级主题列
func DerivedColumns(set LabelSet, field string, rowCount int) (subTags, themes []string) {
	subTags = make([]string, rowCount)
	themes = make([]string, rowCount)
	for _, a := range set.Assignments() {
		if a.Field != field || a.RowID < 0 || a.RowID >= rowCount {
			continue
		}
		switch set.Strategy() {
		case StrategyReference:
			subTags[a.RowID] = strings.Join(a.References, ",")
			themes[a.RowID] = strings.Join(a.References, "、")
		default:
			subTags[a.RowID] = strings.Join(a.Tags, ",")
			themes[a.RowID] = strings.Join(a.Themes, "、")
		}
	}
	return subTags, themes
}

// ApplyLabelColumns 将标签集写入表格派生列，紧跟翻译列（或原字段）之后
func ApplyLabelColumns(t *Table, set LabelSet) {
	for _, field := range set.Fields() {
		anchor := field
		if t.HasColumn(TranslationColumn(field)) {
			anchor = TranslationColumn(field)
		}
		subTags, themes := DerivedColumns(set, field, t.RowCount())
		t.InsertColumnAfter(anchor, SubTagColumn(field), subTags)
		t.InsertColumnAfter(SubTagColumn(field), ThemeColumn(field), themes)
	}
}

// ModificationKey 修改记录键
type ModificationKey struct {
	RowID   int
	Field   string
	TagType TagType
}

// Modification 分析师对单元格标签的一次修改
type Modification struct {
	RowID   *int      `json:"row_id"`
	Field   string    `json:"field"`
	TagType TagType   `json:"tag_type"`
	Tags    []string  `json:"tags"`
	Seq     int64     `json:"seq"`
	At      time.Time `json:"at"`
}

// Valid 结构是否合法：行号非空、字段与标签类型非空白、标签为列表
func (m Modification) Valid() bool {
	return m.RowID != nil &&
		strings.TrimSpace(m.Field) != "" &&
		strings.TrimSpace(string(m.TagType)) != "" &&
		m.Tags != nil
}

// Key 修改记录键，调用前需保证 Valid
func (m Modification) Key() ModificationKey {
	row := 0
	if m.RowID != nil {
		row = *m.RowID
	}
	return ModificationKey{RowID: row, Field: m.Field, TagType: m.TagType}
}

// UnmarshalJSON 容忍非列表的 tags，解析为 nil 以便保存时过滤
func (m *Modification) UnmarshalJSON(data []byte) error {
	var aux struct {
		RowID   *int            `json:"row_id"`
		Field   string          `json:"field"`
		TagType TagType         `json:"tag_type"`
		Tags    json.RawMessage `json:"tags"`
		Seq     int64           `json:"seq"`
		At      time.Time       `json:"at"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	m.RowID = aux.RowID
	m.Field = aux.Field
	m.TagType = aux.TagType
	m.Seq = aux.Seq
	m.At = aux.At
	m.Tags = nil

	var tags []string
	if len(aux.Tags) > 0 && aux.Tags[0] == '[' && json.Unmarshal(aux.Tags, &tags) == nil {
		if tags == nil {
			tags = []string{}
		}
		m.Tags = tags
	}
	return nil
}

// IntPtr 返回整数指针
func IntPtr(v int) *int { return &v }

// SplitTags 按中英文逗号拆分标签，去除空白与重复
func SplitTags(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '，' })
	out := make([]string, 0, len(parts))
	seen := make(map[string]bool, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
