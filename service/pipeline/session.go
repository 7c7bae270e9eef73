/*
 * @module service/pipeline/session
 * @description 分析会话：持有上传数据、翻译结果、两种策略的标签集与修改叠加层、统计结果
 * @architecture 分层架构 - 领域状态
 * @documentReference DESIGN.md
 * @stateFlow 上传 -> 翻译 -> 打标 -> 人工修改 -> 统计；reset 清空全部产物
 * @rules 会话间不共享状态；两种策略的结果独立保留；epoch 在 reset 时递增，旧 epoch 的调用结果被丢弃
 * @dependencies service/classifier, service/overlay
 * @refs service/pipeline/controller.go
 */

package pipeline

import (
	"sort"
	"sync"
	"time"

	"survey-pipeline-service/service/classifier"
	"survey-pipeline-service/service/models"
	"survey-pipeline-service/service/overlay"
)

// 忙碌标志：同类外部调用同一时刻只允许一个
const (
	busyTranslation = "translation"
	busyLabeling    = "labeling"
	busySave        = "save"
	busyStatistics  = "statistics"
)

// SessionContext 会话上下文，上传时建立，reset 或关闭时清除
type SessionContext struct {
	UserName  string    `json:"user_name"`
	CreatedAt time.Time `json:"created_at"`
}

// Session 单个分析会话
type Session struct {
	mu sync.Mutex

	ID       string
	Filename string
	ctx      SessionContext
	epoch    uint64

	raw    *models.Table // 上传的原始表格
	base   *models.Table // 原始表格 + 翻译列
	table  *models.Table // base + 当前策略的标签列
	schema *models.Schema

	translation    *models.TranslationResult
	labelSets      map[models.Strategy]models.LabelSet
	overlays       map[models.Strategy]*overlay.Overlay
	active         models.Strategy
	tagDefinitions []models.TagDefinition
	selection      []string
	result         *models.AnalysisResult

	state      State
	busy       map[string]bool
	lastActive time.Time
}

func newSession(id, filename string, sc SessionContext, table *models.Table, now time.Time) *Session {
	s := &Session{
		ID:         id,
		Filename:   filename,
		ctx:        sc,
		raw:        table,
		base:       table.Clone(),
		labelSets:  make(map[models.Strategy]models.LabelSet),
		overlays:   make(map[models.Strategy]*overlay.Overlay),
		busy:       make(map[string]bool),
		lastActive: now,
	}
	s.table = s.base.Clone()
	s.schema = classifier.Classify(s.table)
	s.state = State{Stage: StageUpload, Status: StatusDone, Progress: 100}
	return s
}

// openFields 原始开放题字段
func (s *Session) openFields() []string {
	return s.schema.OpenEndedFields()
}

// labelingComplete 统计前置条件：无开放题，或当前策略已完成打标
func (s *Session) labelingComplete() bool {
	if s.raw == nil {
		return false
	}
	if len(s.openFields()) == 0 {
		return true
	}
	_, ok := s.labelSets[s.active]
	return s.active != "" && ok
}

// nextStage 下一个需要执行的阶段
func (s *Session) nextStage() Stage {
	switch {
	case s.raw == nil:
		return StageUpload
	case len(s.openFields()) == 0:
		return StageStatistics
	case s.translation == nil:
		return StageTranslation
	case !s.labelingComplete():
		return StageLabeling
	}
	return StageStatistics
}

// refreshView 按当前策略的已保存视图重建工作表格，并扩展题组
func (s *Session) refreshView() {
	table := s.base.Clone()
	if ov, ok := s.overlays[s.active]; ok && s.active != "" {
		models.ApplyLabelColumns(table, ov.Saved())
	}
	s.table = table
	s.schema = classifier.Extend(s.schema, table)
	s.pruneSelection()
}

// pruneSelection 选中的题组只保留当前题组结构中存在的部分
func (s *Session) pruneSelection() {
	if len(s.selection) == 0 {
		return
	}
	kept := s.selection[:0]
	seen := make(map[string]bool)
	for _, id := range s.selection {
		if seen[id] {
			continue
		}
		if _, ok := s.schema.Group(id); ok {
			kept = append(kept, id)
			seen[id] = true
		}
	}
	s.selection = kept
}

// clear 清空全部会话产物并递增 epoch
func (s *Session) clear() {
	s.epoch++
	s.ctx = SessionContext{}
	s.raw = nil
	s.base = nil
	s.table = nil
	s.schema = nil
	s.translation = nil
	s.labelSets = make(map[models.Strategy]models.LabelSet)
	s.overlays = make(map[models.Strategy]*overlay.Overlay)
	s.active = ""
	s.tagDefinitions = nil
	s.selection = nil
	s.result = nil
	s.busy = make(map[string]bool)
	s.state = InitialState()
}

func (s *Session) busyKinds() []string {
	var out []string
	for k, v := range s.busy {
		if v {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func (s *Session) strategies() []models.Strategy {
	var out []models.Strategy
	for _, st := range []models.Strategy{models.StrategyStandard, models.StrategyReference} {
		if _, ok := s.labelSets[st]; ok {
			out = append(out, st)
		}
	}
	return out
}
