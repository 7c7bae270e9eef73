package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"survey-pipeline-service/service/apperr"
	"survey-pipeline-service/service/models"
	"survey-pipeline-service/service/overlay"
)

// LabelVersion 标签集版本
type LabelVersion string

const (
	VersionMachine LabelVersion = "machine" // 机器生成，修改前
	VersionSaved   LabelVersion = "saved"   // 合并已保存修改
	VersionCurrent LabelVersion = "current" // 含未保存修改
)

// EditorRow 编辑表格中的一个单元格
type EditorRow struct {
	RowID       int      `json:"row_id"`
	Field       string   `json:"field"`
	Original    string   `json:"original"`
	Translation string   `json:"translation"`
	Themes      []string `json:"themes,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	References  []string `json:"references,omitempty"`
	Modified    bool     `json:"modified"`
}

// EditorView 标签编辑视图
type EditorView struct {
	Strategy      models.Strategy  `json:"strategy"`
	OpenQuestions []string         `json:"open_questions"`
	TagTypes      []models.TagType `json:"tag_types"`
	Rows          []EditorRow      `json:"rows"`
	PendingCount  int              `json:"pending_count"`
	SavedCount    int              `json:"saved_count"`
}

// SaveResult 保存修改结果
type SaveResult struct {
	Saved   int                      `json:"saved"`
	Dropped int                      `json:"dropped"`
	BatchID string                   `json:"batch_id,omitempty"`
	Pending int                      `json:"pending"`
	Merged  []models.LabelAssignment `json:"merged"`
	Summary models.LabelSummary      `json:"summary"`
}

func parseStrategy(strategy models.Strategy) error {
	if !strategy.Valid() {
		return apperr.Precondition(overlay.StageName, fmt.Sprintf("未知的打标策略: %s", strategy))
	}
	return nil
}

// editor 调用方持有会话锁
func (c *Controller) editor(s *Session, strategy models.Strategy) (*overlay.Overlay, error) {
	if err := parseStrategy(strategy); err != nil {
		return nil, err
	}
	if s.raw == nil {
		return nil, apperr.Precondition(overlay.StageName, "请先上传数据")
	}
	ov, ok := s.overlays[strategy]
	if !ok {
		return nil, apperr.Precondition(overlay.StageName, fmt.Sprintf("尚未运行%s策略的打标", strategy))
	}
	return ov, nil
}

func (c *Controller) withEditor(id string, strategy models.Strategy, fn func(s *Session, ov *overlay.Overlay) error) error {
	s, err := c.session(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ov, err := c.editor(s, strategy)
	if err != nil {
		return err
	}
	s.lastActive = c.now()
	return fn(s, ov)
}

// LabelsForEditing 打开指定策略的编辑视图，并将其设为当前策略；另一策略的结果保持不变
func (c *Controller) LabelsForEditing(id string, strategy models.Strategy) (*EditorView, error) {
	var view *EditorView
	err := c.withEditor(id, strategy, func(s *Session, ov *overlay.Overlay) error {
		if s.active != strategy {
			s.active = strategy
			s.refreshView()
		}
		view = buildEditorView(s, ov)
		return nil
	})
	return view, err
}

func buildEditorView(s *Session, ov *overlay.Overlay) *EditorView {
	touched := make(map[models.CellKey]bool)
	for _, m := range append(ov.SavedModifications(), ov.Pending()...) {
		if m.Valid() {
			touched[models.CellKey{RowID: *m.RowID, Field: m.Field}] = true
		}
	}

	current := ov.View()
	view := &EditorView{
		Strategy:      ov.Strategy(),
		OpenQuestions: append([]string(nil), current.Fields()...),
		TagTypes:      current.TagTypes(),
		Rows:          make([]EditorRow, 0, len(current.Assignments())),
		PendingCount:  ov.PendingCount(),
		SavedCount:    len(ov.SavedModifications()),
	}

	columns := make(map[string][]string)
	column := func(name string) []string {
		if v, ok := columns[name]; ok {
			return v
		}
		v := s.base.Column(name)
		columns[name] = v
		return v
	}

	for _, a := range current.Assignments() {
		row := EditorRow{
			RowID:      a.RowID,
			Field:      a.Field,
			Themes:     a.Themes,
			Tags:       a.Tags,
			References: a.References,
			Modified:   touched[models.CellKey{RowID: a.RowID, Field: a.Field}],
		}
		if orig := column(a.Field); a.RowID >= 0 && a.RowID < len(orig) {
			row.Original = orig[a.RowID]
		}
		if tr := column(models.TranslationColumn(a.Field)); a.RowID >= 0 && a.RowID < len(tr) {
			row.Translation = tr[a.RowID]
		}
		view.Rows = append(view.Rows, row)
	}
	return view
}

// LabelSetVersion 取回指定版本的标签集，机器版本即修改前视图
func (c *Controller) LabelSetVersion(id string, strategy models.Strategy, version LabelVersion) (models.LabelSet, error) {
	var set models.LabelSet
	err := c.withEditor(id, strategy, func(s *Session, ov *overlay.Overlay) error {
		switch version {
		case VersionMachine:
			set = ov.Base()
		case VersionSaved, "":
			set = ov.Saved()
		case VersionCurrent:
			set = ov.View()
		default:
			return apperr.Precondition(overlay.StageName, fmt.Sprintf("未知的标签版本: %s", version))
		}
		return nil
	})
	return set, err
}

// EditCell 单元格编辑，返回记录的修改与未保存条数
func (c *Controller) EditCell(id string, strategy models.Strategy, rowID int, field string, tagType models.TagType, text string) (models.Modification, int, error) {
	var (
		mod     models.Modification
		pending int
	)
	err := c.withEditor(id, strategy, func(s *Session, ov *overlay.Overlay) error {
		var err error
		if mod, err = ov.EditCell(rowID, field, tagType, text); err != nil {
			return err
		}
		pending = ov.PendingCount()
		return nil
	})
	return mod, pending, err
}

// BatchEdit 对选中行批量添加、删除或替换标签
func (c *Controller) BatchEdit(id string, strategy models.Strategy, op overlay.BatchOp) (overlay.BatchResult, error) {
	var result overlay.BatchResult
	err := c.withEditor(id, strategy, func(s *Session, ov *overlay.Overlay) error {
		var err error
		result, err = ov.Batch(op)
		return err
	})
	if err == nil && result.Applied {
		slog.Info("批量修改标签", "session_id", id, "strategy", strategy, "action", op.Action, "affected", result.Affected)
	}
	return result, err
}

// Discard 放弃未保存的修改；存在修改时必须 confirm
func (c *Controller) Discard(id string, strategy models.Strategy, confirm bool) (int, error) {
	var n int
	err := c.withEditor(id, strategy, func(s *Session, ov *overlay.Overlay) error {
		var err error
		n, err = ov.Discard(confirm)
		return err
	})
	return n, err
}

// SaveModifications 保存修改：先过滤结构非法或超出标签集的记录，没有合法修改时不进行外部调用；
// 成功后清除已保存的日志并重新生成合并视图
func (c *Controller) SaveModifications(ctx context.Context, id string, strategy models.Strategy, mods []models.Modification) (*SaveResult, error) {
	var (
		ov      *overlay.Overlay
		valid   []models.Modification
		dropped int
	)
	cl, err := c.begin(id, busySave, StageEditing, func(s *Session) error {
		var err error
		if ov, err = c.editor(s, strategy); err != nil {
			return err
		}
		valid, dropped, err = ov.PrepareSave(mods)
		return err
	})
	if err != nil {
		return nil, err
	}

	var (
		batchID string
		callErr error
	)
	if c.deps.Store != nil {
		batchID, callErr = c.deps.Store.SaveModifications(context.WithoutCancel(ctx), id, strategy, valid)
	}

	result := &SaveResult{Saved: len(valid), Dropped: dropped, BatchID: batchID}
	err = c.finish(cl, callErr, func(s *Session) string {
		if s.overlays[strategy] != ov {
			result.Saved = 0
			return "标签集已重新生成，本次修改未合并"
		}
		merged := ov.CommitSave(valid)
		if s.active == strategy {
			s.refreshView()
		}
		result.Pending = ov.PendingCount()
		result.Merged = merged.Assignments()
		result.Summary = merged.Summary()
		return fmt.Sprintf("已保存%d条修改，过滤%d条无效修改", len(valid), dropped)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
