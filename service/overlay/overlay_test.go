package overlay

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"survey-pipeline-service/service/apperr"
	"survey-pipeline-service/service/models"
)

func standardSet(rows int) *models.StandardLabelSet {
	set := &models.StandardLabelSet{OpenFields: []string{"Q3"}, TotalResponses: rows}
	for i := 0; i < rows; i++ {
		set.Rows = append(set.Rows, models.LabelAssignment{
			RowID:  i,
			Field:  "Q3",
			Tags:   []string{"价格"},
			Themes: []string{"成本"},
		})
	}
	return set
}

func mod(row int, field string, tagType models.TagType, tags ...string) models.Modification {
	if tags == nil {
		tags = []string{}
	}
	return models.Modification{RowID: models.IntPtr(row), Field: field, TagType: tagType, Tags: tags}
}

func TestMerge_LastWriteWinsPerKey(t *testing.T) {
	base := standardSet(3)
	mods := []models.Modification{
		mod(0, "Q3", models.TagTypeTag, "a"),
		mod(0, "Q3", models.TagTypeTag, "b"),
		mod(0, "Q3", models.TagTypeTag, "c"),
		mod(1, "Q3", models.TagTypeTheme, "服务"),
	}

	merged := Merge(base, mods)
	index := models.IndexAssignments(merged.Assignments())

	assert.Equal(t, []string{"c"}, index[models.CellKey{RowID: 0, Field: "Q3"}].Tags)
	assert.Equal(t, []string{"成本"}, index[models.CellKey{RowID: 0, Field: "Q3"}].Themes)
	assert.Equal(t, []string{"服务"}, index[models.CellKey{RowID: 1, Field: "Q3"}].Themes)
	assert.Equal(t, []string{"价格"}, base.Rows[0].Tags, "原标签集不被修改")

	again := Merge(merged, mods)
	assert.Equal(t, merged.Assignments(), again.Assignments(), "重复回放结果不变")
}

func TestMerge_DistinctKeysOrderIndependent(t *testing.T) {
	base := standardSet(5)
	mods := []models.Modification{
		mod(0, "Q3", models.TagTypeTag, "a"),
		mod(1, "Q3", models.TagTypeTag, "b"),
		mod(2, "Q3", models.TagTypeTheme, "c"),
		mod(3, "Q3", models.TagTypeTag),
		mod(7, "Q3", models.TagTypeTag, "new"),
	}
	want := Merge(base, mods).Assignments()

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 10; i++ {
		shuffled := append([]models.Modification(nil), mods...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, want, Merge(base, shuffled).Assignments())
	}
}

func TestMerge_IgnoresInvalidAndUnsupported(t *testing.T) {
	base := standardSet(1)
	mods := []models.Modification{
		{Field: "Q3", TagType: models.TagTypeTag, Tags: []string{"x"}},
		mod(0, "Q3", models.TagTypeReference, "ref"),
	}

	merged := Merge(base, mods)
	assert.Equal(t, base.Rows, merged.Assignments())
}

func TestOverlay_EditThreeCellsThenSave(t *testing.T) {
	base := standardSet(5)
	o := New(base, 5)

	_, err := o.EditCell(0, "Q3", models.TagTypeTag, "质量，耐用")
	require.NoError(t, err)
	_, err = o.EditCell(1, "Q3", models.TagTypeTheme, "体验")
	require.NoError(t, err)
	_, err = o.EditCell(2, "Q3", models.TagTypeTag, "")
	require.NoError(t, err)

	mods, dropped, err := o.PrepareSave(nil)
	require.NoError(t, err)
	assert.Len(t, mods, 3)
	assert.Equal(t, 0, dropped)

	merged := o.CommitSave(mods)
	index := models.IndexAssignments(merged.Assignments())
	assert.Equal(t, []string{"质量", "耐用"}, index[models.CellKey{RowID: 0, Field: "Q3"}].Tags)
	assert.Equal(t, []string{"体验"}, index[models.CellKey{RowID: 1, Field: "Q3"}].Themes)
	assert.Empty(t, index[models.CellKey{RowID: 2, Field: "Q3"}].Tags)

	assert.Equal(t, 0, o.PendingCount(), "保存后日志清空")
	assert.Same(t, base, o.Base(), "修改前的标签集仍可取回")
	assert.Equal(t, []string{"价格"}, o.Base().Assignments()[0].Tags)
	assert.Len(t, o.SavedModifications(), 3)
}

func TestOverlay_EditCellSameKeyKeepsOneEntry(t *testing.T) {
	o := New(standardSet(2), 2)
	_, _ = o.EditCell(0, "Q3", models.TagTypeTag, "a")
	_, _ = o.EditCell(0, "Q3", models.TagTypeTag, "b")

	assert.Equal(t, 1, o.PendingCount())
	assert.Equal(t, []string{"b"}, o.Pending()[0].Tags)
}

func TestOverlay_EditCellPreconditions(t *testing.T) {
	o := New(standardSet(2), 2)

	tests := []struct {
		name    string
		row     int
		field   string
		tagType models.TagType
		want    string
	}{
		{name: "行号越界", row: 5, field: "Q3", tagType: models.TagTypeTag, want: "超出范围"},
		{name: "未知字段", row: 0, field: "Q9", tagType: models.TagTypeTag, want: "不在当前标签集中"},
		{name: "标签类型不适用", row: 0, field: "Q3", tagType: models.TagTypeReference, want: "不适用"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.EditCell(tt.row, tt.field, tt.tagType, "x")
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.KindPrecondition))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
	assert.Equal(t, 0, o.PendingCount())
}

func TestOverlay_BatchReplaceOnlyChangedRows(t *testing.T) {
	base := standardSet(10)
	for _, i := range []int{1, 4, 6, 9} {
		base.Rows[i].Tags = []string{"物流慢", "价格"}
	}
	o := New(base, 10)

	result, err := o.Batch(BatchOp{
		Action:      BatchReplace,
		Field:       "Q3",
		TagType:     models.TagTypeTag,
		Rows:        []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9},
		Tag:         "物流慢",
		Replacement: "配送",
	})

	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.Equal(t, 4, result.Affected)
	assert.Len(t, result.Modifications, 4)
	assert.Equal(t, 4, o.PendingCount())

	view := models.IndexAssignments(o.View().Assignments())
	assert.Equal(t, []string{"配送", "价格"}, view[models.CellKey{RowID: 4, Field: "Q3"}].Tags)
}

func TestOverlay_BatchAddAndRemove(t *testing.T) {
	o := New(standardSet(3), 3)

	added, err := o.Batch(BatchOp{Action: BatchAdd, Field: "Q3", TagType: models.TagTypeTag, Rows: []int{0, 1, 1}, Tag: "价格"})
	require.NoError(t, err)
	assert.Equal(t, 0, added.Affected, "已存在的标签不重复添加")

	added, err = o.Batch(BatchOp{Action: BatchAdd, Field: "Q3", TagType: models.TagTypeTag, Rows: []int{0, 1}, Tag: "新标签"})
	require.NoError(t, err)
	assert.Equal(t, 2, added.Affected)

	removed, err := o.Batch(BatchOp{Action: BatchRemove, Field: "Q3", TagType: models.TagTypeTag, Rows: []int{0, 2}, Tag: "新标签"})
	require.NoError(t, err)
	assert.Equal(t, 1, removed.Affected)

	view := models.IndexAssignments(o.View().Assignments())
	assert.Equal(t, []string{"价格"}, view[models.CellKey{RowID: 0, Field: "Q3"}].Tags)
	assert.Equal(t, []string{"价格", "新标签"}, view[models.CellKey{RowID: 1, Field: "Q3"}].Tags)
	assert.Equal(t, 2, o.PendingCount())
}

func TestOverlay_BatchMissingParamsIsNoop(t *testing.T) {
	o := New(standardSet(3), 3)

	tests := []struct {
		name string
		op   BatchOp
	}{
		{name: "未选择问题", op: BatchOp{Action: BatchAdd, TagType: models.TagTypeTag, Rows: []int{0}, Tag: "x"}},
		{name: "未选择标签类型", op: BatchOp{Action: BatchAdd, Field: "Q3", Rows: []int{0}, Tag: "x"}},
		{name: "未选择行", op: BatchOp{Action: BatchAdd, Field: "Q3", TagType: models.TagTypeTag, Tag: "x"}},
		{name: "替换缺少新标签", op: BatchOp{Action: BatchReplace, Field: "Q3", TagType: models.TagTypeTag, Rows: []int{0}, Tag: "价格"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := o.Batch(tt.op)
			require.NoError(t, err)
			assert.False(t, result.Applied)
			assert.NotEmpty(t, result.Message)
		})
	}
	assert.Equal(t, 0, o.PendingCount())
}

func TestOverlay_SaveFiltersInvalid(t *testing.T) {
	o := New(standardSet(2), 2)

	var submitted []models.Modification
	require.NoError(t, json.Unmarshal([]byte(`[
		{"row_id": null, "field": "Q3", "tag_type": "tag", "tags": ["a"]},
		{"row_id": 0, "field": " ", "tag_type": "tag", "tags": ["a"]},
		{"row_id": 0, "field": "Q3", "tag_type": "", "tags": ["a"]},
		{"row_id": 0, "field": "Q3", "tag_type": "tag", "tags": "a"}
	]`), &submitted))

	_, dropped, err := o.PrepareSave(submitted)
	require.Error(t, err, "没有合法修改时拒绝保存")
	assert.True(t, apperr.Is(err, apperr.KindPrecondition))
	assert.Equal(t, 4, dropped)
	assert.Equal(t, 0, o.PendingCount(), "被拒绝的修改不进入日志")

	_, err = o.Discard(false)
	assert.NoError(t, err, "日志为空时放弃无需确认")

	valid, dropped, err := o.PrepareSave([]models.Modification{mod(1, "Q3", models.TagTypeTag, "ok")})
	require.NoError(t, err)
	assert.Len(t, valid, 1)
	assert.Equal(t, 0, dropped)
	assert.Equal(t, 1, o.PendingCount())

	o.CommitSave(valid)
	assert.Equal(t, 0, o.PendingCount())
}

func TestOverlay_SaveDropsOutOfRangeTargets(t *testing.T) {
	o := New(standardSet(2), 2)
	_, err := o.EditCell(0, "Q3", models.TagTypeTag, "a")
	require.NoError(t, err)

	valid, dropped, err := o.PrepareSave([]models.Modification{
		mod(9999, "Q3", models.TagTypeTag, "幽灵"),
		mod(-1, "Q3", models.TagTypeTag, "幽灵"),
		mod(0, "不存在的字段", models.TagTypeTag, "幽灵"),
		mod(1, "Q3", models.TagTypeReference, "幽灵"),
		mod(1, "Q3", models.TagTypeTheme, "性能"),
	})
	require.NoError(t, err)
	assert.Equal(t, 4, dropped)
	require.Len(t, valid, 2)
	assert.Equal(t, 2, o.PendingCount())

	merged := o.CommitSave(valid)
	assert.Len(t, merged.Assignments(), 2)
	for _, a := range merged.Assignments() {
		assert.NotContains(t, a.Tags, "幽灵")
	}
	assert.Equal(t, []string{"性能"}, models.IndexAssignments(merged.Assignments())[models.CellKey{RowID: 1, Field: "Q3"}].Themes)

	_, _, err = o.PrepareSave([]models.Modification{mod(9999, "Q3", models.TagTypeTag, "幽灵")})
	assert.True(t, apperr.Is(err, apperr.KindPrecondition))
	assert.Equal(t, 0, o.PendingCount())
}

func TestOverlay_EditDuringSaveSurvivesCommit(t *testing.T) {
	o := New(standardSet(2), 2)
	_, _ = o.EditCell(0, "Q3", models.TagTypeTag, "a")

	mods, _, err := o.PrepareSave(nil)
	require.NoError(t, err)

	_, _ = o.EditCell(0, "Q3", models.TagTypeTag, "b")
	o.CommitSave(mods)

	require.Equal(t, 1, o.PendingCount())
	assert.Equal(t, []string{"b"}, o.Pending()[0].Tags)
}

func TestOverlay_DiscardRequiresConfirm(t *testing.T) {
	o := New(standardSet(2), 2)

	n, err := o.Discard(false)
	require.NoError(t, err, "日志为空时无需确认")
	assert.Equal(t, 0, n)

	_, _ = o.EditCell(0, "Q3", models.TagTypeTag, "a")
	_, err = o.Discard(false)
	require.Error(t, err)
	assert.Equal(t, 1, o.PendingCount())

	n, err = o.Discard(true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, o.PendingCount())
}

func TestOverlay_ReferenceStrategy(t *testing.T) {
	base := &models.ReferenceLabelSet{
		OpenFields: []string{"Q3"},
		Rows:       []models.LabelAssignment{{RowID: 0, Field: "Q3", References: []string{"价格"}}},
	}
	o := New(base, 1)

	_, err := o.EditCell(0, "Q3", models.TagTypeTag, "x")
	assert.Error(t, err, "参考策略不支持二级标签类型")

	_, err = o.EditCell(0, "Q3", models.TagTypeReference, "服务,价格")
	require.NoError(t, err)
	assert.Equal(t, []string{"服务", "价格"}, o.View().Assignments()[0].References)
	assert.Equal(t, models.StrategyReference, o.Strategy())
}
