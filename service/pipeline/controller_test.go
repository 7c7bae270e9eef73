package pipeline

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"survey-pipeline-service/service/apperr"
	"survey-pipeline-service/service/config"
	"survey-pipeline-service/service/export"
	"survey-pipeline-service/service/ingest"
	"survey-pipeline-service/service/labeling"
	"survey-pipeline-service/service/models"
	"survey-pipeline-service/service/overlay"
	"survey-pipeline-service/service/translation"
	"survey-pipeline-service/testutil"
)

func csvBytes(t *testing.T, table *models.Table) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	require.NoError(t, w.Write(table.Columns))
	require.NoError(t, w.WriteAll(table.Rows))
	return buf.Bytes()
}

type fakeTranslator struct {
	mu      sync.Mutex
	calls   int
	err     error
	started chan struct{}
	release chan struct{}
}

func (f *fakeTranslator) Translate(ctx context.Context, table *models.Table, open []string) (*models.TranslationResult, error) {
	f.mu.Lock()
	f.calls++
	err := f.err
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	if err != nil {
		return nil, err
	}
	return translation.NewService(nil, 10).Translate(ctx, table, open)
}

type fakeStandard struct {
	calls int
	tag   string
}

func (f *fakeStandard) Label(ctx context.Context, table *models.Table, open []string) (*models.StandardLabelSet, error) {
	f.calls++
	tag := f.tag
	if tag == "" {
		tag = "标签A"
	}
	set := &models.StandardLabelSet{OpenFields: open, Themes: map[string][]string{}, TotalResponses: table.RowCount()}
	for _, field := range open {
		for i, v := range table.Column(field) {
			if v == "" {
				continue
			}
			set.Rows = append(set.Rows, models.LabelAssignment{RowID: i, Field: field, Themes: []string{"主题A"}, Tags: []string{tag}})
		}
	}
	return set, nil
}

type fakeStore struct {
	mu         sync.Mutex
	created    int
	saved      [][]models.Modification
	superseded int
	imported   int
	stages     []string
	saveErr    error
}

func (f *fakeStore) CreateSession(ctx context.Context, r *models.AnalysisSessionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	return nil
}

func (f *fakeStore) UpdateSessionStage(ctx context.Context, id, stage, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stages = append(f.stages, stage+":"+status)
	return nil
}

func (f *fakeStore) CloseSession(ctx context.Context, id string) error { return nil }

func (f *fakeStore) SaveModifications(ctx context.Context, id string, st models.Strategy, mods []models.Modification) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return "", f.saveErr
	}
	f.saved = append(f.saved, mods)
	return "batch-1", nil
}

func (f *fakeStore) SupersedeModifications(ctx context.Context, id string, st models.Strategy) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.superseded++
	return 3, nil
}

func (f *fakeStore) ImportLabeledResponses(ctx context.Context, id string, records []models.LabeledResponseRecord) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imported += len(records)
	return len(records), nil
}

type recorder struct {
	mu     sync.Mutex
	events []models.StageEvent
	onCap  chan struct{}
	once   sync.Once
}

func (r *recorder) Publish(ev models.StageEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	if ev.Advisory && ev.Progress == 90 && r.onCap != nil {
		r.once.Do(func() { close(r.onCap) })
	}
}

func (r *recorder) snapshot() []models.StageEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.StageEvent(nil), r.events...)
}

type fixture struct {
	ctrl       *Controller
	translator *fakeTranslator
	standard   *fakeStandard
	store      *fakeStore
	events     *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		translator: &fakeTranslator{},
		standard:   &fakeStandard{},
		store:      &fakeStore{},
		events:     &recorder{},
	}
	f.ctrl = NewController(Dependencies{
		Parser: ingest.NewParser(config.UploadConfig{
			MaxBytes:          1 << 20,
			AllowedExtensions: []string{"csv", "xlsx", "txt"},
		}),
		Translator: f.translator,
		Standard:   f.standard,
		Reference:  labeling.NewReferenceMatcher(nil, 10),
		Store:      f.store,
		Publishers: []Publisher{f.events},
	})
	return f
}

func (f *fixture) upload(t *testing.T, table *models.Table) *SessionView {
	t.Helper()
	view, err := f.ctrl.Upload(context.Background(), "survey.csv", csvBytes(t, table), "analyst")
	require.NoError(t, err)
	return view
}

func (f *fixture) labeled(t *testing.T) string {
	t.Helper()
	view := f.upload(t, testutil.SurveyTable())
	_, err := f.ctrl.Translate(context.Background(), view.ID)
	require.NoError(t, err)
	_, err = f.ctrl.LabelStandard(context.Background(), view.ID)
	require.NoError(t, err)
	return view.ID
}

func TestUpload_NoOpenFieldsGoesStraightToStatistics(t *testing.T) {
	f := newFixture(t)
	table := testutil.SurveyTable()
	table.Columns = table.Columns[:2]
	for i := range table.Rows {
		table.Rows[i] = table.Rows[i][:2]
	}

	view := f.upload(t, table)
	assert.Empty(t, view.OpenFields)
	assert.Equal(t, StageStatistics, view.NextStage)
	assert.True(t, view.StatisticsReady)
	assert.Equal(t, "analyst", view.Context.UserName)

	_, err := f.ctrl.Translate(context.Background(), view.ID)
	assert.True(t, apperr.Is(err, apperr.KindPrecondition))
	_, err = f.ctrl.LabelStandard(context.Background(), view.ID)
	assert.True(t, apperr.Is(err, apperr.KindPrecondition))
	assert.Equal(t, 0, f.translator.calls)
	assert.Equal(t, 0, f.standard.calls)

	result, err := f.ctrl.ComputeStatistics(context.Background(), view.ID, []string{"Q1", "Q2"}, nil)
	require.NoError(t, err)
	assert.Len(t, result.ScaleQuestions, 1)
	assert.Len(t, result.SingleChoiceQuestions, 1)

	snap, err := f.ctrl.Snapshot(view.ID)
	require.NoError(t, err)
	assert.Equal(t, State{Stage: StageStatistics, Status: StatusDone, Progress: 100, Message: snap.State.Message}, snap.State)
	assert.True(t, snap.HasResult)
}

func TestUpload_InvalidFileCreatesNoSession(t *testing.T) {
	f := newFixture(t)

	_, err := f.ctrl.Upload(context.Background(), "survey.pdf", []byte("x"), "analyst")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	_, err = f.ctrl.Upload(context.Background(), "survey.csv", nil, "analyst")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	assert.Equal(t, 0, f.ctrl.ActiveSessions())
	assert.Equal(t, 0, f.store.created)
}

func TestStageOrdering(t *testing.T) {
	f := newFixture(t)
	view := f.upload(t, testutil.SurveyTable())
	require.Equal(t, []string{"Q3意见"}, view.OpenFields)
	assert.Equal(t, StageTranslation, view.NextStage)

	_, err := f.ctrl.LabelStandard(context.Background(), view.ID)
	assert.True(t, apperr.Is(err, apperr.KindPrecondition))
	_, err = f.ctrl.ComputeStatistics(context.Background(), view.ID, []string{"Q1"}, nil)
	assert.True(t, apperr.Is(err, apperr.KindPrecondition))
	_, err = f.ctrl.LabelsForEditing(view.ID, models.StrategyStandard)
	assert.True(t, apperr.Is(err, apperr.KindPrecondition))

	summary, err := f.ctrl.Translate(context.Background(), view.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Q3意见"}, summary.OpenEndedFieldNames)

	snap, _ := f.ctrl.Snapshot(view.ID)
	assert.Equal(t, StageLabeling, snap.NextStage)
	assert.Contains(t, snap.Columns, "Q3意见-CN")

	_, err = f.ctrl.LabelStandard(context.Background(), view.ID)
	require.NoError(t, err)

	snap, _ = f.ctrl.Snapshot(view.ID)
	assert.Equal(t, StageStatistics, snap.NextStage)
	assert.True(t, snap.StatisticsReady)
	assert.Contains(t, snap.Columns, "Q3意见一级主题")
	group, ok := snap.Schema.Group("Q3")
	require.True(t, ok)
	assert.True(t, group.HasField("Q3意见二级标签"))
}

func TestTranslate_FailureKeepsStageAndAllowsRetry(t *testing.T) {
	f := newFixture(t)
	view := f.upload(t, testutil.SurveyTable())

	f.translator.err = apperr.External(translation.StageName, errors.New("重试 4 次后仍然失败: timeout"))
	_, err := f.ctrl.Translate(context.Background(), view.ID)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindExternal))

	snap, _ := f.ctrl.Snapshot(view.ID)
	assert.Equal(t, StatusError, snap.State.Status)
	assert.Equal(t, StageTranslation, snap.State.Stage)
	require.NotNil(t, snap.State.Error)
	assert.Equal(t, translation.StageName, snap.State.Error.Stage)
	assert.Nil(t, snap.Translation)
	assert.Equal(t, StageTranslation, snap.NextStage)
	assert.Empty(t, snap.Busy)

	f.translator.err = nil
	_, err = f.ctrl.Translate(context.Background(), view.ID)
	require.NoError(t, err)
	snap, _ = f.ctrl.Snapshot(view.ID)
	assert.Equal(t, StatusDone, snap.State.Status)
	assert.NotNil(t, snap.Translation)
}

func TestBusyFlagAndResetDropsLateResult(t *testing.T) {
	f := newFixture(t)
	view := f.upload(t, testutil.SurveyTable())
	f.translator.started = make(chan struct{}, 1)
	f.translator.release = make(chan struct{})

	errCh := make(chan error, 1)
	go func() {
		_, err := f.ctrl.Translate(context.Background(), view.ID)
		errCh <- err
	}()
	<-f.translator.started

	_, err := f.ctrl.Translate(context.Background(), view.ID)
	assert.True(t, apperr.Is(err, apperr.KindPrecondition))

	snap, _ := f.ctrl.Snapshot(view.ID)
	assert.Equal(t, []string{busyTranslation}, snap.Busy)
	assert.Equal(t, StatusRunning, snap.State.Status)

	reset, err := f.ctrl.Reset(view.ID)
	require.NoError(t, err)
	assert.Equal(t, InitialState(), reset.State)
	assert.Equal(t, SessionContext{}, reset.Context)

	close(f.translator.release)
	err = <-errCh
	assert.True(t, apperr.Is(err, apperr.KindPrecondition))

	snap, _ = f.ctrl.Snapshot(view.ID)
	assert.Nil(t, snap.Translation)
	assert.Equal(t, StageUpload, snap.NextStage)
	assert.Equal(t, InitialState(), snap.State)
}

func TestAdvisoryProgressIsSeparateFromCompletion(t *testing.T) {
	f := newFixture(t)
	f.ctrl.deps.Progress = config.ProgressConfig{Interval: time.Millisecond, Step: 30, Cap: 90}
	f.events.onCap = make(chan struct{})
	view := f.upload(t, testutil.SurveyTable())

	f.translator.started = make(chan struct{}, 1)
	f.translator.release = make(chan struct{})
	go func() {
		<-f.translator.started
		<-f.events.onCap
		close(f.translator.release)
	}()

	_, err := f.ctrl.Translate(context.Background(), view.ID)
	require.NoError(t, err)

	events := f.events.snapshot()
	var advisory []int
	for _, ev := range events {
		if ev.Advisory {
			advisory = append(advisory, ev.Progress)
			assert.Equal(t, string(StatusRunning), ev.Status)
		}
	}
	assert.Equal(t, []int{30, 60, 90}, advisory)

	last := events[len(events)-1]
	assert.False(t, last.Advisory)
	assert.Equal(t, string(StatusDone), last.Status)
	assert.Equal(t, 100, last.Progress)
}

func TestEditThreeCellsThenSave(t *testing.T) {
	f := newFixture(t)
	id := f.labeled(t)

	editor, err := f.ctrl.LabelsForEditing(id, models.StrategyStandard)
	require.NoError(t, err)
	assert.Equal(t, []string{"Q3意见"}, editor.OpenQuestions)
	require.Len(t, editor.Rows, 11)
	assert.Equal(t, "The app is fast", editor.Rows[0].Original)

	for row := 0; row < 3; row++ {
		_, pending, err := f.ctrl.EditCell(id, models.StrategyStandard, row, "Q3意见", models.TagTypeTag, "新标签,  速度")
		require.NoError(t, err)
		assert.Equal(t, row+1, pending)
	}

	result, err := f.ctrl.SaveModifications(context.Background(), id, models.StrategyStandard, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Saved)
	assert.Equal(t, 0, result.Pending)
	assert.Equal(t, "batch-1", result.BatchID)
	require.Len(t, f.store.saved, 1)
	assert.Len(t, f.store.saved[0], 3)

	machine, err := f.ctrl.LabelSetVersion(id, models.StrategyStandard, VersionMachine)
	require.NoError(t, err)
	saved, err := f.ctrl.LabelSetVersion(id, models.StrategyStandard, VersionSaved)
	require.NoError(t, err)
	before := models.IndexAssignments(machine.Assignments())
	after := models.IndexAssignments(saved.Assignments())
	for row := 0; row < 3; row++ {
		key := models.CellKey{RowID: row, Field: "Q3意见"}
		assert.Equal(t, []string{"标签A"}, before[key].Tags)
		assert.Equal(t, []string{"新标签", "速度"}, after[key].Tags)
	}

	snap, _ := f.ctrl.Snapshot(id)
	assert.Equal(t, 3, snap.Saved[models.StrategyStandard])
	assert.Equal(t, 0, snap.Pending[models.StrategyStandard])
}

func TestSaveModifications_RejectsWhenNothingValid(t *testing.T) {
	f := newFixture(t)
	id := f.labeled(t)

	_, err := f.ctrl.SaveModifications(context.Background(), id, models.StrategyStandard, []models.Modification{
		{RowID: nil, Field: "Q3意见", TagType: models.TagTypeTag, Tags: []string{"x"}},
		{RowID: models.IntPtr(1), Field: " ", TagType: models.TagTypeTag, Tags: []string{"x"}},
	})
	assert.True(t, apperr.Is(err, apperr.KindPrecondition))
	assert.Empty(t, f.store.saved)
}

func TestSaveModifications_DropsTargetsOutsideLabelSet(t *testing.T) {
	f := newFixture(t)
	id := f.labeled(t)

	result, err := f.ctrl.SaveModifications(context.Background(), id, models.StrategyStandard, []models.Modification{
		{RowID: models.IntPtr(9999), Field: "Q3意见", TagType: models.TagTypeTag, Tags: []string{"幽灵"}},
		{RowID: models.IntPtr(0), Field: "不存在的字段", TagType: models.TagTypeTag, Tags: []string{"幽灵"}},
		{RowID: models.IntPtr(1), Field: "Q3意见", TagType: models.TagTypeTag, Tags: []string{"速度"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Saved)
	assert.Equal(t, 2, result.Dropped)
	require.Len(t, f.store.saved, 1)
	assert.Len(t, f.store.saved[0], 1)
	assert.Len(t, result.Merged, 11)
	for _, a := range result.Merged {
		assert.NotContains(t, a.Tags, "幽灵")
	}

	_, err = f.ctrl.SaveModifications(context.Background(), id, models.StrategyStandard, []models.Modification{
		{RowID: models.IntPtr(9999), Field: "Q3意见", TagType: models.TagTypeTag, Tags: []string{"幽灵"}},
	})
	assert.True(t, apperr.Is(err, apperr.KindPrecondition))
	snap, _ := f.ctrl.Snapshot(id)
	assert.Equal(t, 0, snap.Pending[models.StrategyStandard], "被拒绝的修改不留在日志中")
	_, err = f.ctrl.Discard(id, models.StrategyStandard, false)
	assert.NoError(t, err)
}

func TestClose_NotifiesClosedHooks(t *testing.T) {
	f := newFixture(t)
	view := f.upload(t, testutil.SurveyTable())

	var notified []string
	f.ctrl.OnClosed(func(id string) { notified = append(notified, id) })

	require.NoError(t, f.ctrl.Close(context.Background(), view.ID))
	assert.Equal(t, []string{view.ID}, notified)

	assert.True(t, apperr.Is(f.ctrl.Close(context.Background(), view.ID), apperr.KindNotFound))
	assert.Len(t, notified, 1)
}

func TestSaveModifications_StoreFailureKeepsPending(t *testing.T) {
	f := newFixture(t)
	id := f.labeled(t)
	f.store.saveErr = errors.New("connection refused")

	_, _, err := f.ctrl.EditCell(id, models.StrategyStandard, 0, "Q3意见", models.TagTypeTheme, "性能")
	require.NoError(t, err)

	_, err = f.ctrl.SaveModifications(context.Background(), id, models.StrategyStandard, nil)
	assert.True(t, apperr.Is(err, apperr.KindExternal))

	snap, _ := f.ctrl.Snapshot(id)
	assert.Equal(t, 1, snap.Pending[models.StrategyStandard])
	assert.Equal(t, 0, snap.Saved[models.StrategyStandard])
	assert.Empty(t, snap.Busy)
}

func TestBatchReplaceProducesOnlyChangedRows(t *testing.T) {
	f := newFixture(t)
	id := f.labeled(t)

	for _, row := range []int{1, 3, 5, 7} {
		_, _, err := f.ctrl.EditCell(id, models.StrategyStandard, row, "Q3意见", models.TagTypeTag, "价格")
		require.NoError(t, err)
	}
	_, err := f.ctrl.SaveModifications(context.Background(), id, models.StrategyStandard, nil)
	require.NoError(t, err)

	result, err := f.ctrl.BatchEdit(id, models.StrategyStandard, overlay.BatchOp{
		Action:      overlay.BatchReplace,
		Field:       "Q3意见",
		TagType:     models.TagTypeTag,
		Rows:        []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9},
		Tag:         "价格",
		Replacement: "费用",
	})
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.Equal(t, 4, result.Affected)
	assert.Len(t, result.Modifications, 4)
}

func TestRelabelInvalidatesModifications(t *testing.T) {
	f := newFixture(t)
	id := f.labeled(t)

	_, _, err := f.ctrl.EditCell(id, models.StrategyStandard, 0, "Q3意见", models.TagTypeTag, "旧修改")
	require.NoError(t, err)
	_, err = f.ctrl.SaveModifications(context.Background(), id, models.StrategyStandard, nil)
	require.NoError(t, err)

	f.standard.tag = "标签B"
	_, err = f.ctrl.LabelStandard(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.superseded)

	saved, err := f.ctrl.LabelSetVersion(id, models.StrategyStandard, VersionSaved)
	require.NoError(t, err)
	assert.Equal(t, []string{"标签B"}, models.IndexAssignments(saved.Assignments())[models.CellKey{RowID: 0, Field: "Q3意见"}].Tags)
	snap, _ := f.ctrl.Snapshot(id)
	assert.Equal(t, 0, snap.Saved[models.StrategyStandard])
}

func TestReferenceLabeling(t *testing.T) {
	f := newFixture(t)
	id := f.labeled(t)

	_, err := f.ctrl.LabelReference(context.Background(), id, []models.TagDefinition{{Name: "价格", Definition: ""}})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindPrecondition))
	assert.Contains(t, apperr.Messages(err), "第1个标签的定义不能为空")

	imported, err := f.ctrl.ImportTagDefinitions(id, "价格：price high money\n服务    service support slow")
	require.NoError(t, err)
	assert.Equal(t, 2, imported.Added)

	summary, err := f.ctrl.LabelReference(context.Background(), id, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StrategyReference, summary.Strategy)

	snap, _ := f.ctrl.Snapshot(id)
	assert.Equal(t, []models.Strategy{models.StrategyStandard, models.StrategyReference}, snap.Strategies)
	assert.Equal(t, models.StrategyReference, snap.ActiveStrategy)

	// 切换回标准策略，参考策略结果仍保留
	editor, err := f.ctrl.LabelsForEditing(id, models.StrategyStandard)
	require.NoError(t, err)
	assert.Equal(t, []string{"标签A"}, editor.Rows[0].Tags)

	_, err = f.ctrl.LabelsForEditing(id, models.StrategyReference)
	require.NoError(t, err)
	ref, err := f.ctrl.LabelSetVersion(id, models.StrategyReference, VersionMachine)
	require.NoError(t, err)
	assert.Equal(t, []string{"价格"}, models.IndexAssignments(ref.Assignments())[models.CellKey{RowID: 1, Field: "Q3意见"}].References)
}

func TestSelectionPrunedAndThemeResolution(t *testing.T) {
	f := newFixture(t)
	id := f.labeled(t)

	selected, err := f.ctrl.SelectGroups(id, []string{"Q3", "Q9", "Q1", "Q3"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Q3", "Q1"}, selected)

	result, err := f.ctrl.ComputeStatistics(context.Background(), id, nil, nil)
	require.NoError(t, err)
	require.Len(t, result.MultipleChoiceQuestions, 1)
	assert.Equal(t, "Q3意见一级主题", result.MultipleChoiceQuestions[0].Column)
	assert.Empty(t, result.OpenEndedQuestions)
	assert.Len(t, result.ScaleQuestions, 1)
}

func TestExportAndImport(t *testing.T) {
	f := newFixture(t)
	id := f.labeled(t)

	_, _, err := f.ctrl.Export(id, export.VariantReferenceLabel)
	assert.True(t, apperr.Is(err, apperr.KindPrecondition))

	wb, name, err := f.ctrl.Export(id, export.VariantStandardManual)
	require.NoError(t, err)
	assert.Equal(t, "survey_standard-manual.xlsx", name)
	rows, err := wb.GetRows(export.SheetData)
	require.NoError(t, err)
	assert.Contains(t, rows[0], "Q3意见二级标签")
	require.NoError(t, wb.Close())

	n, err := f.ctrl.ImportLabels(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 11, n)
}

func TestExpireIdle(t *testing.T) {
	f := newFixture(t)
	view := f.upload(t, testutil.SurveyTable())

	var notified []string
	f.ctrl.OnClosed(func(id string) { notified = append(notified, id) })

	now := time.Now()
	f.ctrl.now = func() time.Time { return now.Add(3 * time.Hour) }
	closed := f.ctrl.ExpireIdle(context.Background(), 2*time.Hour)
	assert.Equal(t, []string{view.ID}, closed)
	assert.Equal(t, []string{view.ID}, notified)

	_, err := f.ctrl.Snapshot(view.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}
