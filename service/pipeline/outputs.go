package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xuri/excelize/v2"

	"survey-pipeline-service/service/apperr"
	"survey-pipeline-service/service/export"
	"survey-pipeline-service/service/labeling"
	"survey-pipeline-service/service/models"
)

const stageImport = "import"

// Export 按变体生成导出工作簿；对应策略尚未打标时拒绝
func (c *Controller) Export(id string, variant export.Variant) (*excelize.File, string, error) {
	s, err := c.session(id)
	if err != nil {
		return nil, "", err
	}

	s.mu.Lock()
	if s.raw == nil {
		s.mu.Unlock()
		return nil, "", apperr.Precondition("export", "请先上传数据")
	}

	in := export.Input{Table: s.base.Clone(), Result: s.result}
	strategy := variant.Strategy()
	if variant == export.VariantFinal {
		strategy = s.active
	}
	if strategy != "" {
		ov, ok := s.overlays[strategy]
		if !ok {
			s.mu.Unlock()
			return nil, "", apperr.Precondition("export", fmt.Sprintf("尚未运行%s策略的打标，无法导出", strategy))
		}
		if variant.Manual() {
			in.Labels = ov.Saved()
			in.Modifications = ov.SavedModifications()
		} else {
			in.Labels = ov.Base()
		}
	} else if len(s.openFields()) > 0 {
		s.mu.Unlock()
		return nil, "", apperr.Precondition("export", "存在开放题，请先完成打标后再导出最终结果")
	}
	filename := export.Filename(s.Filename, variant)
	s.lastActive = c.now()
	s.mu.Unlock()

	f, err := export.Workbook(variant, in)
	if err != nil {
		return nil, "", err
	}
	slog.Info("导出结果", "session_id", id, "variant", variant, "filename", filename)
	return f, filename, nil
}

// ImportLabels 将当前策略的最终标签（含已保存修改）写入数据库
func (c *Controller) ImportLabels(ctx context.Context, id string) (int, error) {
	if c.deps.Store == nil {
		return 0, apperr.Precondition(stageImport, "未配置数据库，无法入库")
	}

	s, err := c.session(id)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	ov, ok := s.overlays[s.active]
	if s.raw == nil || s.active == "" || !ok {
		s.mu.Unlock()
		return 0, apperr.Precondition(stageImport, "尚无可入库的标签结果，请先完成打标")
	}
	records := labeledRecords(s.ID, s.base, ov.Saved())
	s.lastActive = c.now()
	s.mu.Unlock()

	n, err := c.deps.Store.ImportLabeledResponses(ctx, id, records)
	if err != nil {
		return 0, apperr.External(stageImport, err)
	}
	slog.Info("标签结果已入库", "session_id", id, "records", n)
	return n, nil
}

func labeledRecords(sessionID string, base *models.Table, set models.LabelSet) []models.LabeledResponseRecord {
	records := make([]models.LabeledResponseRecord, 0, len(set.Assignments()))
	columns := make(map[string][]string)
	value := func(column string, row int) string {
		v, ok := columns[column]
		if !ok {
			v = base.Column(column)
			columns[column] = v
		}
		if row >= 0 && row < len(v) {
			return v[row]
		}
		return ""
	}

	for _, a := range set.Assignments() {
		records = append(records, models.LabeledResponseRecord{
			SessionID:   sessionID,
			Strategy:    string(set.Strategy()),
			RowID:       a.RowID,
			Field:       a.Field,
			Original:    value(a.Field, a.RowID),
			Translation: value(models.TranslationColumn(a.Field), a.RowID),
			Themes:      models.JSONList(a.Themes),
			Tags:        models.JSONList(a.Tags),
			References:  models.JSONList(a.References),
		})
	}
	return records
}

// TagDefinitions 当前参考标签定义
func (c *Controller) TagDefinitions(id string) ([]models.TagDefinition, error) {
	s, err := c.session(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.TagDefinition{}, s.tagDefinitions...), nil
}

// SetTagDefinitions 整体替换参考标签定义，返回尚未填写完整的问题列表
func (c *Controller) SetTagDefinitions(id string, defs []models.TagDefinition) ([]string, error) {
	s, err := c.session(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tagDefinitions = append([]models.TagDefinition(nil), defs...)
	s.lastActive = c.now()
	return labeling.ValidateTagDefinitions(defs), nil
}

// TagImportResult 批量导入结果
type TagImportResult struct {
	Definitions []models.TagDefinition `json:"definitions"`
	Added       int                    `json:"added"`
	Skipped     int                    `json:"skipped"`
}

// ImportTagDefinitions 从文本批量导入参考标签，名称重复（忽略大小写）的跳过
func (c *Controller) ImportTagDefinitions(id, text string) (*TagImportResult, error) {
	imported := labeling.ParseTagDefinitions(text)
	if len(imported) == 0 {
		return nil, apperr.Validation("未能从文本中解析出任何标签，请使用“名称：定义”格式")
	}

	s, err := c.session(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	merged, added, skipped := labeling.MergeTagDefinitions(s.tagDefinitions, imported)
	s.tagDefinitions = merged
	s.lastActive = c.now()
	return &TagImportResult{
		Definitions: append([]models.TagDefinition{}, merged...),
		Added:       added,
		Skipped:     skipped,
	}, nil
}
