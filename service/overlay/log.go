/*
 * @module service/overlay/log
 * @description 人工修改日志：以 (行, 字段, 标签类型) 为键，同键后写覆盖
 * @architecture 数据结构
 * @documentReference DESIGN.md
 * @stateFlow 记录修改 -> 同键覆盖 -> 保存后清除
 * @rules 结构非法的修改原样保留，保存时过滤
 * @dependencies service/models
 * @refs service/overlay/overlay.go
 */

package overlay

import (
	"time"

	"survey-pipeline-service/service/models"
)

// Log 未保存的修改日志
type Log struct {
	entries []models.Modification
	index   map[models.ModificationKey]int
	seq     int64
}

// NewLog 创建空日志
func NewLog() *Log {
	return &Log{index: make(map[models.ModificationKey]int)}
}

// Record 追加修改，同键修改在原位置覆盖
func (l *Log) Record(m models.Modification) models.Modification {
	l.seq++
	m.Seq = l.seq
	if m.At.IsZero() {
		m.At = time.Now()
	}

	if !m.Valid() {
		l.entries = append(l.entries, m)
		return m
	}

	key := m.Key()
	if i, ok := l.index[key]; ok {
		l.entries[i] = m
		return m
	}
	l.index[key] = len(l.entries)
	l.entries = append(l.entries, m)
	return m
}

// Entries 返回日志副本
func (l *Log) Entries() []models.Modification {
	return append([]models.Modification(nil), l.entries...)
}

// Len 日志条数
func (l *Log) Len() int { return len(l.entries) }

// Clear 清空日志
func (l *Log) Clear() {
	l.entries = nil
	l.index = make(map[models.ModificationKey]int)
}

// Remove 移除已提交的修改；提交后又被改写的同键修改保留
func (l *Log) Remove(committed []models.Modification) {
	done := make(map[int64]bool, len(committed))
	for _, m := range committed {
		done[m.Seq] = true
	}

	kept := l.entries[:0]
	for _, m := range l.entries {
		if !done[m.Seq] && m.Valid() {
			kept = append(kept, m)
		}
	}
	l.entries = kept
	l.index = make(map[models.ModificationKey]int, len(kept))
	for i, m := range kept {
		l.index[m.Key()] = i
	}
}

// Merge 按记录顺序回放修改，生成合并后的标签集；原标签集不变
func Merge(base models.LabelSet, mods []models.Modification) models.LabelSet {
	rows := append([]models.LabelAssignment(nil), base.Assignments()...)
	index := make(map[models.CellKey]int, len(rows))
	for i, r := range rows {
		index[models.CellKey{RowID: r.RowID, Field: r.Field}] = i
	}

	for _, m := range mods {
		if !m.Valid() || !models.SupportsTagType(base, m.TagType) {
			continue
		}
		cell := models.CellKey{RowID: *m.RowID, Field: m.Field}
		i, ok := index[cell]
		if !ok {
			index[cell] = len(rows)
			rows = append(rows, models.LabelAssignment{RowID: cell.RowID, Field: cell.Field}.With(m.TagType, m.Tags))
			continue
		}
		rows[i] = rows[i].With(m.TagType, m.Tags)
	}

	models.SortAssignments(rows)
	return base.WithAssignments(rows)
}
