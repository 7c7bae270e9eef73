/*
 * @module service/overlay/overlay
 * @description 人工编辑层：在某一策略的机器标签集之上叠加已保存与未保存的修改
 * @architecture 分层架构 - 领域层
 * @documentReference DESIGN.md
 * @stateFlow 机器标签集 -> 单元格编辑/批量操作 -> 修改日志 -> 保存 -> 合并视图
 * @rules
 *   - 每个策略独立维护一个编辑层
 *   - 机器标签集始终可作为“修改前”视图取回
 *   - 批量操作只为实际发生变化的行生成修改
 *   - 存在未保存修改时放弃必须确认
 * @dependencies service/models, service/apperr
 * @refs service/pipeline/controller.go
 */

package overlay

import (
	"fmt"
	"sort"
	"strings"

	"survey-pipeline-service/service/apperr"
	"survey-pipeline-service/service/models"
)

// StageName 阶段名称
const StageName = "editing"

// BatchAction 批量操作类型
type BatchAction string

const (
	BatchAdd     BatchAction = "add"
	BatchRemove  BatchAction = "remove"
	BatchReplace BatchAction = "replace"
)

// BatchOp 批量操作参数
type BatchOp struct {
	Action      BatchAction    `json:"action"`
	Field       string         `json:"field"`
	TagType     models.TagType `json:"tag_type"`
	Rows        []int          `json:"rows"`
	Tag         string         `json:"tag"`
	Replacement string         `json:"replacement,omitempty"`
}

// BatchResult 批量操作结果
type BatchResult struct {
	Applied       bool                  `json:"applied"`
	Affected      int                   `json:"affected"`
	Message       string                `json:"message"`
	Modifications []models.Modification `json:"modifications,omitempty"`
}

// Overlay 单一策略的编辑层
type Overlay struct {
	base     models.LabelSet
	rowCount int
	saved    []models.Modification
	pending  *Log
}

// New 基于机器标签集创建编辑层
func New(base models.LabelSet, rowCount int) *Overlay {
	return &Overlay{base: base, rowCount: rowCount, pending: NewLog()}
}

// Strategy 所属策略
func (o *Overlay) Strategy() models.Strategy { return o.base.Strategy() }

// Base 修改前的机器标签集
func (o *Overlay) Base() models.LabelSet { return o.base }

// Saved 已保存修改的合并视图
func (o *Overlay) Saved() models.LabelSet { return Merge(o.base, o.saved) }

// View 含未保存修改的当前视图
func (o *Overlay) View() models.LabelSet {
	return Merge(o.base, append(append([]models.Modification(nil), o.saved...), o.pending.Entries()...))
}

// SavedModifications 已保存的修改
func (o *Overlay) SavedModifications() []models.Modification {
	return append([]models.Modification(nil), o.saved...)
}

// Pending 未保存的修改
func (o *Overlay) Pending() []models.Modification { return o.pending.Entries() }

// PendingCount 未保存修改条数
func (o *Overlay) PendingCount() int { return o.pending.Len() }

func (o *Overlay) checkCell(rowID int, field string, tagType models.TagType) error {
	var problems []string
	if rowID < 0 || rowID >= o.rowCount {
		problems = append(problems, fmt.Sprintf("行号 %d 超出范围", rowID))
	}
	problems = append(problems, o.targetProblems(field, tagType)...)
	if len(problems) > 0 {
		return apperr.Precondition(StageName, problems...)
	}
	return nil
}

func (o *Overlay) targetProblems(field string, tagType models.TagType) []string {
	var problems []string
	if !containsString(o.base.Fields(), field) {
		problems = append(problems, fmt.Sprintf("字段 %s 不在当前标签集中", field))
	}
	if !models.SupportsTagType(o.base, tagType) {
		problems = append(problems, fmt.Sprintf("标签类型 %s 不适用于%s策略", tagType, o.base.Strategy()))
	}
	return problems
}

// EditCell 用逗号分隔的标签文本替换单元格标签
func (o *Overlay) EditCell(rowID int, field string, tagType models.TagType, text string) (models.Modification, error) {
	if err := o.checkCell(rowID, field, tagType); err != nil {
		return models.Modification{}, err
	}
	return o.record(rowID, field, tagType, models.SplitTags(text)), nil
}

func (o *Overlay) record(rowID int, field string, tagType models.TagType, tags []string) models.Modification {
	if tags == nil {
		tags = []string{}
	}
	return o.pending.Record(models.Modification{
		RowID:   models.IntPtr(rowID),
		Field:   field,
		TagType: tagType,
		Tags:    tags,
	})
}

// Batch 对选中行执行批量标签操作；缺少必要参数时不做任何修改
func (o *Overlay) Batch(op BatchOp) (BatchResult, error) {
	if missing := missingParams(op); missing != "" {
		return BatchResult{Applied: false, Message: missing}, nil
	}
	switch op.Action {
	case BatchAdd, BatchRemove, BatchReplace:
	default:
		return BatchResult{}, apperr.Precondition(StageName, fmt.Sprintf("不支持的批量操作: %s", op.Action))
	}
	problems := o.targetProblems(op.Field, op.TagType)
	rows := uniqueSorted(op.Rows)
	for _, r := range rows {
		if r < 0 || r >= o.rowCount {
			problems = append(problems, fmt.Sprintf("行号 %d 超出范围", r))
		}
	}
	if len(problems) > 0 {
		return BatchResult{}, apperr.Precondition(StageName, problems...)
	}

	current := models.IndexAssignments(o.View().Assignments())
	result := BatchResult{Applied: true}
	for _, r := range rows {
		before := current[models.CellKey{RowID: r, Field: op.Field}].Values(op.TagType)
		after, changed := applyAction(op, before)
		if !changed {
			continue
		}
		result.Modifications = append(result.Modifications, o.record(r, op.Field, op.TagType, after))
	}
	result.Affected = len(result.Modifications)
	result.Message = fmt.Sprintf("批量%s完成，%d 行发生变化", actionName(op.Action), result.Affected)
	return result, nil
}

func missingParams(op BatchOp) string {
	switch {
	case strings.TrimSpace(op.Field) == "":
		return "未选择问题"
	case strings.TrimSpace(string(op.TagType)) == "":
		return "未选择标签类型"
	case len(op.Rows) == 0:
		return "未选择任何行"
	case strings.TrimSpace(op.Tag) == "":
		return "未填写标签"
	case op.Action == BatchReplace && strings.TrimSpace(op.Replacement) == "":
		return "未填写替换后的标签"
	}
	return ""
}

func applyAction(op BatchOp, before []string) ([]string, bool) {
	tag := strings.TrimSpace(op.Tag)
	switch op.Action {
	case BatchAdd:
		if containsString(before, tag) {
			return before, false
		}
		return append(append([]string(nil), before...), tag), true
	case BatchRemove:
		if !containsString(before, tag) {
			return before, false
		}
		out := make([]string, 0, len(before))
		for _, t := range before {
			if t != tag {
				out = append(out, t)
			}
		}
		return out, true
	case BatchReplace:
		if !containsString(before, tag) {
			return before, false
		}
		replacement := strings.TrimSpace(op.Replacement)
		out := make([]string, 0, len(before))
		for _, t := range before {
			if t == tag {
				t = replacement
			}
			if !containsString(out, t) {
				out = append(out, t)
			}
		}
		return out, true
	}
	return before, false
}

func actionName(a BatchAction) string {
	switch a {
	case BatchAdd:
		return "添加"
	case BatchRemove:
		return "删除"
	default:
		return "替换"
	}
}

// applicable 修改结构合法且落在当前标签集的行、字段与标签类型之内
func (o *Overlay) applicable(m models.Modification) bool {
	return m.Valid() && *m.RowID >= 0 && *m.RowID < o.rowCount && len(o.targetProblems(m.Field, m.TagType)) == 0
}

func (o *Overlay) partition(mods []models.Modification) (valid []models.Modification, dropped int) {
	for _, m := range mods {
		if o.applicable(m) {
			valid = append(valid, m)
			continue
		}
		dropped++
	}
	return valid, dropped
}

// PrepareSave 合并随保存提交的修改与日志，返回待保存的合法修改；
// 没有合法修改时拒绝保存且日志保持不变，非法的提交修改不进入日志
func (o *Overlay) PrepareSave(submitted []models.Modification) ([]models.Modification, int, error) {
	accepted, dropped := o.partition(submitted)
	logged, stale := o.partition(o.pending.Entries())
	dropped += stale
	if len(accepted) == 0 && len(logged) == 0 {
		return nil, dropped, apperr.Precondition(StageName, "没有可保存的有效修改")
	}
	for _, m := range accepted {
		o.pending.Record(m)
	}
	valid, _ := o.partition(o.pending.Entries())
	return valid, dropped, nil
}

// CommitSave 保存成功后并入已保存修改并清除对应日志，返回合并视图
func (o *Overlay) CommitSave(committed []models.Modification) models.LabelSet {
	o.saved = append(o.saved, committed...)
	o.pending.Remove(committed)
	return o.Saved()
}

// Discard 放弃未保存的修改，日志非空时需要确认
func (o *Overlay) Discard(confirm bool) (int, error) {
	n := o.pending.Len()
	if n > 0 && !confirm {
		return n, apperr.Precondition(StageName, fmt.Sprintf("存在 %d 条未保存的修改，请确认后再放弃", n))
	}
	o.pending.Clear()
	return n, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func uniqueSorted(rows []int) []int {
	seen := make(map[int]bool, len(rows))
	out := make([]int, 0, len(rows))
	for _, r := range rows {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	sort.Ints(out)
	return out
}
