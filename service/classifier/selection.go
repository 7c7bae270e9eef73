package classifier

import (
	"strings"

	"survey-pipeline-service/service/models"
)

var selectedMarkers = map[string]bool{
	"selected": true, "yes": true, "y": true, "1": true, "是": true, "选中": true, "√": true,
	"true": true, "选择": true, "勾选": true, "checked": true, "choose": true, "pick": true,
}

var unselectedMarkers = map[string]bool{
	"0": true, "no": true, "n": true, "否": true, "false": true, "未选中": true, "未选择": true,
	"unselected": true, "not selected": true, "unchecked": true, "×": true,
}

// IsSelected 单元格是否表示“已选择”
func IsSelected(value string) bool {
	return selectedMarkers[strings.ToLower(strings.TrimSpace(value))]
}

func isSelectionMarker(value string) bool {
	v := strings.ToLower(strings.TrimSpace(value))
	return v == "" || selectedMarkers[v] || unselectedMarkers[v]
}

// OptionLabel 多选题选项名：去掉主问题编号及其后的分隔符
func OptionLabel(column string) string {
	id := mainQuestionPattern.FindString(strings.TrimSpace(column))
	label := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(column), id))
	label = strings.TrimLeft(label, "_-.:：、 ")
	if label == "" {
		return column
	}
	return label
}

// IsMultipleChoice 题组是否由多个选择标记列组成
func IsMultipleChoice(table *models.Table, fields []string) bool {
	raw := 0
	for _, f := range fields {
		if models.IsDerivedColumn(f) {
			continue
		}
		raw++
		for _, v := range table.Column(f) {
			if !isSelectionMarker(v) {
				return false
			}
		}
	}
	return raw >= 2
}

func markMultipleChoice(groups []models.QuestionGroup, table *models.Table) {
	for i := range groups {
		if IsMultipleChoice(table, groups[i].Fields) {
			groups[i].Type = models.QuestionTypeMultiple
		}
	}
}
