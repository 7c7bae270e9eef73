package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"survey-pipeline-service/service/apperr"
	"survey-pipeline-service/service/labeling"
	"survey-pipeline-service/service/models"
	"survey-pipeline-service/service/overlay"
	"survey-pipeline-service/service/statistics"
	"survey-pipeline-service/service/translation"
)

// Translate 翻译全部开放题字段；没有开放题时拒绝执行
func (c *Controller) Translate(ctx context.Context, id string) (*models.TranslationSummary, error) {
	var (
		table *models.Table
		open  []string
	)
	cl, err := c.begin(id, busyTranslation, StageTranslation, func(s *Session) error {
		open = s.openFields()
		if len(open) == 0 {
			return apperr.Precondition(translation.StageName, "数据中没有开放题，无需翻译")
		}
		table = s.raw.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	result, callErr := c.deps.Translator.Translate(context.WithoutCancel(ctx), table, open)

	var summary models.TranslationSummary
	err = c.finish(cl, callErr, func(s *Session) string {
		base := s.raw.Clone()
		translation.ApplyColumns(base, result)
		s.translation = result
		s.base = base
		s.refreshView()
		summary = result.Summary()
		return fmt.Sprintf("翻译完成：%d个字段，共翻译%d条回答", summary.TranslatedFieldCount, summary.TranslatedCount)
	})
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

func (c *Controller) checkLabelingReady(s *Session) ([]string, error) {
	open := s.openFields()
	if len(open) == 0 {
		return nil, apperr.Precondition(labeling.StageName, "数据中没有开放题，无需打标")
	}
	if s.translation == nil {
		return nil, apperr.Precondition(labeling.StageName, "请先完成开放题翻译")
	}
	return open, nil
}

// LabelStandard 运行标准两级标签打标，整体替换该策略之前的标签集
func (c *Controller) LabelStandard(ctx context.Context, id string) (*models.LabelSummary, error) {
	var (
		table *models.Table
		open  []string
	)
	cl, err := c.begin(id, busyLabeling, StageLabeling, func(s *Session) error {
		var err error
		if open, err = c.checkLabelingReady(s); err != nil {
			return err
		}
		table = s.base.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	set, callErr := c.deps.Standard.Label(context.WithoutCancel(ctx), table, open)
	return c.finishLabeling(ctx, cl, callErr, func() models.LabelSet { return set })
}

// LabelReference 使用分析师定义的参考标签打标；定义不完整时在本地拒绝
func (c *Controller) LabelReference(ctx context.Context, id string, defs []models.TagDefinition) (*models.LabelSummary, error) {
	var (
		table *models.Table
		open  []string
	)
	cl, err := c.begin(id, busyLabeling, StageLabeling, func(s *Session) error {
		if len(defs) == 0 {
			defs = append([]models.TagDefinition(nil), s.tagDefinitions...)
		}
		if problems := labeling.ValidateTagDefinitions(defs); len(problems) > 0 {
			return apperr.Precondition(labeling.StageName, problems...)
		}
		var err error
		if open, err = c.checkLabelingReady(s); err != nil {
			return err
		}
		s.tagDefinitions = append([]models.TagDefinition(nil), defs...)
		table = s.base.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	set, callErr := c.deps.Reference.Match(context.WithoutCancel(ctx), table, open, defs)
	return c.finishLabeling(ctx, cl, callErr, func() models.LabelSet { return set })
}

// finishLabeling 安装新标签集：旧编辑层整体作废，已保存的修改在审计记录中标记为失效
func (c *Controller) finishLabeling(ctx context.Context, cl *call, callErr error, result func() models.LabelSet) (*models.LabelSummary, error) {
	var (
		summary     models.LabelSummary
		strategy    models.Strategy
		invalidated bool
	)
	err := c.finish(cl, callErr, func(s *Session) string {
		set := result()
		strategy = set.Strategy()
		if old, ok := s.overlays[strategy]; ok {
			invalidated = old.PendingCount() > 0 || len(old.SavedModifications()) > 0
		}
		s.labelSets[strategy] = set
		s.overlays[strategy] = overlay.New(set, s.raw.RowCount())
		s.active = strategy
		s.refreshView()
		summary = set.Summary()
		return fmt.Sprintf("打标完成：%d个字段，共%d条回答", summary.ProcessedFields, summary.TotalResponses)
	})
	if err != nil {
		return nil, err
	}

	if invalidated && c.deps.Store != nil {
		n, err := c.deps.Store.SupersedeModifications(ctx, cl.session.ID, strategy)
		if err != nil {
			slog.Warn("标记历史修改失效失败", "session_id", cl.session.ID, "strategy", strategy, "error", err)
		} else {
			slog.Info("重新打标，历史修改已失效", "session_id", cl.session.ID, "strategy", strategy, "count", n)
		}
	}
	return &summary, nil
}

// SelectGroups 设置统计题组，只保留当前题组结构中存在的编号
func (c *Controller) SelectGroups(id string, groupIDs []string) ([]string, error) {
	s, err := c.session(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.raw == nil {
		return nil, apperr.Precondition(statistics.StageName, "请先上传数据")
	}
	s.selection = append([]string(nil), groupIDs...)
	s.pruneSelection()
	s.lastActive = c.now()
	return append([]string{}, s.selection...), nil
}

// ComputeStatistics 对选中题组计算统计；groupIDs 为空时使用已保存的选择，typeOverrides 可覆盖字段题型
func (c *Controller) ComputeStatistics(ctx context.Context, id string, groupIDs []string, typeOverrides map[string]models.QuestionType) (*models.AnalysisResult, error) {
	var (
		table    *models.Table
		schema   *models.Schema
		selected []string
	)
	cl, err := c.begin(id, busyStatistics, StageStatistics, func(s *Session) error {
		if !s.labelingComplete() {
			return apperr.Precondition(statistics.StageName, "存在开放题，请先完成翻译与打标")
		}
		if len(groupIDs) > 0 {
			s.selection = append([]string(nil), groupIDs...)
		}
		s.pruneSelection()
		if len(s.selection) == 0 {
			return apperr.Precondition(statistics.StageName, "请选择要分析的问题")
		}
		selected = append([]string(nil), s.selection...)
		table = s.table.Clone()
		schema = withTypeOverrides(s.schema, typeOverrides)
		return nil
	})
	if err != nil {
		return nil, err
	}

	result, callErr := c.deps.Statistics.Compute(table, schema, selected)
	err = c.finish(cl, callErr, func(s *Session) string {
		s.result = result
		return "统计分析完成：" + statistics.Describe(result)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Result 最近一次统计结果
func (c *Controller) Result(id string) (*models.AnalysisResult, error) {
	s, err := c.session(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return nil, apperr.NotFound("会话 %s 尚无统计结果", id)
	}
	return s.result, nil
}

func withTypeOverrides(schema *models.Schema, overrides map[string]models.QuestionType) *models.Schema {
	out := &models.Schema{
		Fields:    append([]models.QuestionField(nil), schema.Fields...),
		Groups:    append([]models.QuestionGroup(nil), schema.Groups...),
		Ungrouped: append([]string(nil), schema.Ungrouped...),
	}
	for i, f := range out.Fields {
		if t, ok := overrides[f.Name]; ok && validType(t) {
			out.Fields[i].Type = t
		}
	}
	return out
}

func validType(t models.QuestionType) bool {
	switch t {
	case models.QuestionTypeScale, models.QuestionTypeSingle, models.QuestionTypeMultiple, models.QuestionTypeOpen:
		return true
	}
	return false
}
