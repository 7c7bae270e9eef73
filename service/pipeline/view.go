package pipeline

import (
	"time"

	"survey-pipeline-service/service/models"
)

// SessionView 会话对外视图
type SessionView struct {
	ID              string                     `json:"id"`
	Filename        string                     `json:"filename"`
	Context         SessionContext             `json:"context"`
	Epoch           uint64                     `json:"epoch"`
	State           State                      `json:"state"`
	NextStage       Stage                      `json:"next_stage"`
	StatisticsReady bool                       `json:"statistics_ready"`
	RowCount        int                        `json:"row_count"`
	Columns         []string                   `json:"columns"`
	Schema          *models.Schema             `json:"schema,omitempty"`
	OpenFields      []string                   `json:"open_fields"`
	Translation     *models.TranslationSummary `json:"translation,omitempty"`
	Strategies      []models.Strategy          `json:"strategies"`
	ActiveStrategy  models.Strategy            `json:"active_strategy,omitempty"`
	Pending         map[models.Strategy]int    `json:"pending_modifications"`
	Saved           map[models.Strategy]int    `json:"saved_modifications"`
	TagDefinitions  []models.TagDefinition     `json:"tag_definitions"`
	Selection       []string                   `json:"selection"`
	Busy            []string                   `json:"busy"`
	HasResult       bool                       `json:"has_result"`
	LastActive      time.Time                  `json:"last_active"`
}

// snapshot 调用方持有会话锁
func (c *Controller) snapshot(s *Session) *SessionView {
	view := &SessionView{
		ID:             s.ID,
		Filename:       s.Filename,
		Context:        s.ctx,
		Epoch:          s.epoch,
		State:          s.state,
		NextStage:      s.nextStage(),
		Strategies:     s.strategies(),
		ActiveStrategy: s.active,
		Pending:        make(map[models.Strategy]int),
		Saved:          make(map[models.Strategy]int),
		TagDefinitions: append([]models.TagDefinition{}, s.tagDefinitions...),
		Selection:      append([]string{}, s.selection...),
		Busy:           s.busyKinds(),
		HasResult:      s.result != nil,
		LastActive:     s.lastActive,
	}
	if s.raw == nil {
		return view
	}

	view.StatisticsReady = s.labelingComplete()
	view.RowCount = s.table.RowCount()
	view.Columns = append([]string(nil), s.table.Columns...)
	view.Schema = s.schema
	view.OpenFields = s.openFields()
	if s.translation != nil {
		summary := s.translation.Summary()
		view.Translation = &summary
	}
	for st, ov := range s.overlays {
		view.Pending[st] = ov.PendingCount()
		view.Saved[st] = len(ov.SavedModifications())
	}
	return view
}
