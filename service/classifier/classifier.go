/**
 * @module classifier/classifier
 * @description 题型识别与题组划分
 * @architecture 纯函数模块
 * @documentReference DESIGN.md
 * @stateFlow 逐列推断题型 -> 提取主问题编号 -> 分组 -> 组内多数题型决定题组类型
 * @rules
 *   - 分组只依赖列名，与列顺序无关
 *   - 主问题编号统一转为大写
 *   - 无法提取编号的字段不参与分组
 *   - 新增派生列时保留已有题组，仅追加成员或新建题组
 * @dependencies
 *   - regexp, sort: 编号解析与稳定排序
 * @refs
 *   - service/pipeline/controller.go
 */

package classifier

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"survey-pipeline-service/service/models"
)

var mainQuestionPattern = regexp.MustCompile(`^([Qq]\d+)`)

// MainQuestionID 提取主问题编号，无法识别时返回空字符串
func MainQuestionID(column string) string {
	m := mainQuestionPattern.FindStringSubmatch(strings.TrimSpace(column))
	if m == nil {
		return ""
	}
	return strings.ToUpper(m[1])
}

// Classify 对整张表进行题型识别与分组
func Classify(table *models.Table) *models.Schema {
	schema := &models.Schema{}
	if table == nil {
		return schema
	}
	for _, col := range table.Columns {
		schema.Fields = append(schema.Fields, classifyField(table, col))
	}
	schema.Groups, schema.Ungrouped = Group(schema.Fields)
	markMultipleChoice(schema.Groups, table)
	return schema
}

// Extend 表格新增派生列后重新分组：已有字段与题组类型保持不变
func Extend(schema *models.Schema, table *models.Table) *models.Schema {
	if schema == nil {
		return Classify(table)
	}

	known := make(map[string]models.QuestionField, len(schema.Fields))
	for _, f := range schema.Fields {
		known[f.Name] = f
	}

	out := &models.Schema{}
	for _, col := range table.Columns {
		if f, ok := known[col]; ok {
			out.Fields = append(out.Fields, f)
			continue
		}
		out.Fields = append(out.Fields, classifyField(table, col))
	}

	groups, ungrouped := Group(out.Fields)
	markMultipleChoice(groups, table)
	previous := make(map[string]models.QuestionType, len(schema.Groups))
	for _, g := range schema.Groups {
		previous[g.MainQuestionID] = g.Type
	}
	for i := range groups {
		if t, ok := previous[groups[i].MainQuestionID]; ok {
			groups[i].Type = t
		}
	}
	out.Groups = groups
	out.Ungrouped = ungrouped
	return out
}

func classifyField(table *models.Table, col string) models.QuestionField {
	t, reason, unique := InferType(table.Column(col))
	return models.QuestionField{
		Name:        col,
		Type:        t,
		UniqueCount: unique,
		MatchReason: reason,
		Derived:     models.IsDerivedColumn(col),
	}
}

// Group 按主问题编号分组；题组按编号数值排序，组内成员按名称排序
func Group(fields []models.QuestionField) ([]models.QuestionGroup, []string) {
	members := make(map[string][]models.QuestionField)
	var ungrouped []string

	for _, f := range fields {
		id := MainQuestionID(f.Name)
		if id == "" {
			ungrouped = append(ungrouped, f.Name)
			continue
		}
		members[id] = append(members[id], f)
	}

	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ni, nj := questionNumber(ids[i]), questionNumber(ids[j])
		if ni != nj {
			return ni < nj
		}
		return ids[i] < ids[j]
	})

	groups := make([]models.QuestionGroup, 0, len(ids))
	for _, id := range ids {
		fs := members[id]
		sort.Slice(fs, func(i, j int) bool { return fs[i].Name < fs[j].Name })

		names := make([]string, len(fs))
		for i, f := range fs {
			names[i] = f.Name
		}
		groups = append(groups, models.QuestionGroup{
			MainQuestionID: id,
			Fields:         names,
			Type:           majorityType(fs),
		})
	}

	sort.Strings(ungrouped)
	return groups, ungrouped
}

// majorityType 以非派生成员的多数题型为准，票数相同取排序靠前的成员
func majorityType(fields []models.QuestionField) models.QuestionType {
	votes := make(map[models.QuestionType]int)
	var order []models.QuestionType
	for _, f := range fields {
		if f.Derived {
			continue
		}
		if votes[f.Type] == 0 {
			order = append(order, f.Type)
		}
		votes[f.Type]++
	}
	if len(order) == 0 {
		if len(fields) == 0 {
			return models.QuestionTypeSingle
		}
		return fields[0].Type
	}

	best := order[0]
	for _, t := range order[1:] {
		if votes[t] > votes[best] {
			best = t
		}
	}
	return best
}

func questionNumber(id string) int {
	n, err := strconv.Atoi(strings.TrimLeft(id, "Qq"))
	if err != nil {
		return 0
	}
	return n
}
