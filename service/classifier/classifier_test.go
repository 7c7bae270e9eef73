package classifier

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"survey-pipeline-service/service/models"
)

func TestInferType(t *testing.T) {
	tests := []struct {
		name       string
		values     []string
		wantType   models.QuestionType
		wantReason string
	}{
		{name: "数值量表", values: []string{"1", "5", " 3 ", "", "4.5"}, wantType: models.QuestionTypeScale, wantReason: "数值型"},
		{name: "是否题", values: []string{"是", "否", "是"}, wantType: models.QuestionTypeSingle, wantReason: "精确匹配-binary-yes_no"},
		{name: "英文满意度带标点", values: []string{"Very Satisfied", "dissatisfied", "Neutral，"}, wantType: models.QuestionTypeSingle, wantReason: "satisfaction_basic"},
		{name: "扩展满意度连接词", values: []string{"Neither satisfied nor dissatisfied", "extremely satisfied"}, wantType: models.QuestionTypeSingle, wantReason: "satisfaction_extended"},
		{name: "关键词族", values: []string{"每天", "每周"}, wantType: models.QuestionTypeSingle, wantReason: "智能关键词检测-frequency_keywords"},
		{name: "少量选项", values: []string{"北京", "上海", "广州"}, wantType: models.QuestionTypeSingle, wantReason: "选项数量特征"},
		{name: "空列", values: []string{"", "  "}, wantType: models.QuestionTypeSingle, wantReason: "无有效值"},
		{
			name: "开放题",
			values: []string{
				"界面很漂亮", "希望增加夜间模式", "加载速度慢", "客服回复及时", "价格偏高",
				"续航一般", "功能很全面", "操作有点复杂", "推荐给朋友", "整体满意", "物流太慢",
			},
			wantType:   models.QuestionTypeOpen,
			wantReason: "选项数量超出范围",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason, _ := InferType(tt.values)
			assert.Equal(t, tt.wantType, got)
			assert.Contains(t, reason, tt.wantReason)
		})
	}
}

func TestMainQuestionID(t *testing.T) {
	tests := []struct {
		column string
		want   string
	}{
		{"Q1满意度", "Q1"},
		{"q12_其他", "Q12"},
		{"Q3意见-CN", "Q3"},
		{"性别", ""},
		{"AQ1", ""},
	}
	for _, tt := range tests {
		t.Run(tt.column, func(t *testing.T) {
			assert.Equal(t, tt.want, MainQuestionID(tt.column))
		})
	}
}

func TestGroup_IndependentOfColumnOrder(t *testing.T) {
	fields := []models.QuestionField{
		{Name: "Q10评分", Type: models.QuestionTypeScale},
		{Name: "Q2_b", Type: models.QuestionTypeSingle},
		{Name: "q2_a", Type: models.QuestionTypeSingle},
		{Name: "性别", Type: models.QuestionTypeSingle},
		{Name: "Q2_c", Type: models.QuestionTypeOpen},
		{Name: "Q1意见", Type: models.QuestionTypeOpen},
	}

	wantGroups, wantUngrouped := Group(fields)
	require.Len(t, wantGroups, 3)
	assert.Equal(t, []string{"Q1", "Q2", "Q10"}, []string{
		wantGroups[0].MainQuestionID, wantGroups[1].MainQuestionID, wantGroups[2].MainQuestionID,
	})
	assert.Equal(t, models.QuestionTypeSingle, wantGroups[1].Type, "组内多数为单选")
	assert.Equal(t, []string{"性别"}, wantUngrouped)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		shuffled := append([]models.QuestionField(nil), fields...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		groups, ungrouped := Group(shuffled)
		assert.Equal(t, wantGroups, groups)
		assert.Equal(t, wantUngrouped, ungrouped)
	}
}

func TestClassify_MultipleChoiceGroup(t *testing.T) {
	table := &models.Table{
		Columns: []string{"Q5_价格", "Q5_质量", "Q6评分"},
		Rows: [][]string{
			{"1", "", "5"},
			{"", "选中", "4"},
			{"1", "0", "3"},
		},
	}

	schema := Classify(table)

	q5, ok := schema.Group("Q5")
	require.True(t, ok)
	assert.Equal(t, models.QuestionTypeMultiple, q5.Type)
	q6, ok := schema.Group("Q6")
	require.True(t, ok)
	assert.Equal(t, models.QuestionTypeScale, q6.Type, "单列题组不是多选题")
	assert.Equal(t, "价格", OptionLabel("Q5_价格"))
}

func TestExtend_PreservesGroupsAndAddsDerivedMembers(t *testing.T) {
	table := &models.Table{
		Columns: []string{"Q1评分", "Q2意见", "备注"},
		Rows: [][]string{
			{"5", "a", "x"},
		},
	}
	schema := Classify(table)
	// 将 Q2 视为开放题，模拟上游识别
	schema.Fields[1].Type = models.QuestionTypeOpen
	schema.Groups[1].Type = models.QuestionTypeOpen

	table.InsertColumnAfter("Q2意见", "Q2意见-CN", []string{"a"})
	table.InsertColumnAfter("Q2意见-CN", "Q2意见二级标签", []string{"价格"})
	table.InsertColumnAfter("Q2意见二级标签", "Q2意见一级主题", []string{"成本"})
	table.InsertColumnAfter("备注", "Q7新列", []string{"1"})

	extended := Extend(schema, table)

	q2, ok := extended.Group("Q2")
	require.True(t, ok)
	assert.Equal(t, models.QuestionTypeOpen, q2.Type, "已有题组类型保持不变")
	assert.ElementsMatch(t, []string{"Q2意见", "Q2意见-CN", "Q2意见二级标签", "Q2意见一级主题"}, q2.Fields)

	f, ok := extended.Field("Q2意见")
	require.True(t, ok)
	assert.Equal(t, models.QuestionTypeOpen, f.Type, "已有字段识别结果保持不变")

	derived, ok := extended.Field("Q2意见一级主题")
	require.True(t, ok)
	assert.True(t, derived.Derived)

	_, ok = extended.Group("Q7")
	assert.True(t, ok, "新列生成新题组")
	assert.Equal(t, []string{"Q2意见"}, extended.OpenEndedFields())
}
