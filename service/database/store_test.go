package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"survey-pipeline-service/service/models"
	"survey-pipeline-service/testutil"
)

type StoreTestSuite struct {
	suite.Suite
	testDB  *testutil.TestDB
	factory *testutil.TestDataFactory
	store   *Store
	ctx     context.Context
}

func (s *StoreTestSuite) SetupTest() {
	s.testDB = testutil.NewTestDB()
	s.factory = testutil.NewTestDataFactory(s.testDB.DB)
	s.store = NewStore(s.testDB.DB)
	s.ctx = context.Background()
}

func (s *StoreTestSuite) TearDownTest() {
	s.testDB.Close()
}

func TestStoreTestSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}

var modSeq int64

func mod(row int, field string, tagType models.TagType, tags ...string) models.Modification {
	modSeq++
	return models.Modification{RowID: models.IntPtr(row), Field: field, TagType: tagType, Tags: tags, Seq: modSeq, At: time.Now()}
}

func (s *StoreTestSuite) TestSessionLifecycle() {
	record := &models.AnalysisSessionRecord{ID: "sess-1", Filename: "survey.csv", UserName: "alice", Stage: "upload", Status: "done"}
	s.Require().NoError(s.store.CreateSession(s.ctx, record))

	s.Require().NoError(s.store.UpdateSessionStage(s.ctx, "sess-1", "translation", "running"))

	var got models.AnalysisSessionRecord
	s.Require().NoError(s.testDB.DB.First(&got, "id = ?", "sess-1").Error)
	s.Equal("translation", got.Stage)
	s.Equal("running", got.Status)
	s.Nil(got.ClosedAt)

	s.Require().NoError(s.store.CloseSession(s.ctx, "sess-1"))
	s.Require().NoError(s.testDB.DB.First(&got, "id = ?", "sess-1").Error)
	s.Equal("closed", got.Status)
	s.NotNil(got.ClosedAt)
}

func (s *StoreTestSuite) TestListSessions() {
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		created := base.Add(time.Duration(i) * time.Minute)
		s.factory.CreateSessionRecord(func(r *models.AnalysisSessionRecord) {
			r.CreatedAt = created
			r.Filename = created.Format("150405") + ".csv"
		})
	}
	s.factory.CreateSessionRecord(func(r *models.AnalysisSessionRecord) { r.UserName = "bob" })

	records, total, err := s.store.ListSessions(s.ctx, 1, 2, "test")
	s.Require().NoError(err)
	s.Equal(int64(3), total)
	s.Require().Len(records, 2)
	s.True(records[0].CreatedAt.After(records[1].CreatedAt))

	_, total, err = s.store.ListSessions(s.ctx, 0, 0, "")
	s.Require().NoError(err)
	s.Equal(int64(4), total)
}

func (s *StoreTestSuite) TestSaveAndSupersedeModifications() {
	mods := []models.Modification{
		mod(0, "Q3意见", models.TagTypeTag, "价格"),
		{RowID: nil, Field: "Q3意见", TagType: models.TagTypeTag, Tags: []string{"无效"}},
		mod(1, "Q3意见", models.TagTypeTheme, "服务", "体验"),
	}

	batchID, err := s.store.SaveModifications(s.ctx, "sess-1", models.StrategyStandard, mods)
	s.Require().NoError(err)
	s.NotEmpty(batchID)

	_, err = s.store.SaveModifications(s.ctx, "sess-1", models.StrategyReference, []models.Modification{mod(0, "Q3意见", models.TagTypeReference, "产品质量")})
	s.Require().NoError(err)

	history, err := s.store.ModificationHistory(s.ctx, "sess-1", models.StrategyStandard, false)
	s.Require().NoError(err)
	s.Require().Len(history, 2)
	s.Equal(batchID, history[0].SaveBatchID)
	s.Equal([]string{"服务", "体验"}, history[1].TagList())

	n, err := s.store.SupersedeModifications(s.ctx, "sess-1", models.StrategyStandard)
	s.Require().NoError(err)
	s.Equal(int64(2), n)

	history, err = s.store.ModificationHistory(s.ctx, "sess-1", models.StrategyStandard, false)
	s.Require().NoError(err)
	s.Empty(history)

	history, err = s.store.ModificationHistory(s.ctx, "sess-1", "", true)
	s.Require().NoError(err)
	s.Len(history, 3)

	// 参考策略的记录不受影响
	history, err = s.store.ModificationHistory(s.ctx, "sess-1", models.StrategyReference, false)
	s.Require().NoError(err)
	s.Len(history, 1)
}

func (s *StoreTestSuite) TestSaveModifications_RejectsEmpty() {
	_, err := s.store.SaveModifications(s.ctx, "sess-1", models.StrategyStandard, []models.Modification{{Field: "Q3"}})
	s.Error(err)
}

func (s *StoreTestSuite) TestImportLabeledResponses_ReplacesPrevious() {
	first := []models.LabeledResponseRecord{
		{RowID: 0, Field: "Q3意见", Strategy: "standard", Tags: models.JSONList([]string{"价格"})},
		{RowID: 1, Field: "Q3意见", Strategy: "standard", Tags: models.JSONList([]string{"服务"})},
	}
	n, err := s.store.ImportLabeledResponses(s.ctx, "sess-1", first)
	s.Require().NoError(err)
	s.Equal(2, n)

	second := []models.LabeledResponseRecord{
		{RowID: 0, Field: "Q3意见", Strategy: "reference", References: models.JSONList([]string{"产品质量"})},
	}
	n, err = s.store.ImportLabeledResponses(s.ctx, "sess-1", second)
	s.Require().NoError(err)
	s.Equal(1, n)

	var count int64
	s.testDB.DB.Model(&models.LabeledResponseRecord{}).Where("session_id = ?", "sess-1").Count(&count)
	s.Equal(int64(1), count)
}

func (s *StoreTestSuite) TestStageEventsAndPurge() {
	old := time.Now().Add(-48 * time.Hour)
	s.Require().NoError(s.store.RecordStageEvent(s.ctx, models.StageEvent{SessionID: "sess-1", Stage: "translation", Status: "running", At: old}))
	s.Require().NoError(s.store.RecordStageEvent(s.ctx, models.StageEvent{SessionID: "sess-1", Stage: "translation", Status: "done"}))

	events, err := s.store.StageEvents(s.ctx, "sess-1")
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal("running", events[0].Status)

	n, err := s.store.PurgeStageEvents(s.ctx, time.Now().Add(-24*time.Hour))
	s.Require().NoError(err)
	s.Equal(int64(1), n)

	events, err = s.store.StageEvents(s.ctx, "sess-1")
	s.Require().NoError(err)
	s.Len(events, 1)
}

func (s *StoreTestSuite) TestStatus() {
	s.factory.CreateSessionRecord()

	status := s.store.Status(s.ctx)
	s.True(status.Connected)
	s.Equal("sqlite", status.Driver)
	s.Equal(int64(1), status.Tables["analysis_sessions"])
	s.Equal(int64(0), status.Tables["modification_records"])
}

func TestNormalizePage(t *testing.T) {
	tests := []struct {
		name             string
		page, size       int
		wantPage, wantSz int
	}{
		{"默认值", 0, 0, 1, 20},
		{"上限", 2, 500, 2, 100},
		{"正常", 3, 10, 3, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, sz := NormalizePage(tt.page, tt.size)
			assert.Equal(t, tt.wantPage, p)
			assert.Equal(t, tt.wantSz, sz)
		})
	}
}

func TestAutoMigrate(t *testing.T) {
	db := testutil.NewTestDB()
	defer db.Close()

	require.NoError(t, AutoMigrate(db.DB))
	for _, m := range Models() {
		assert.True(t, db.DB.Migrator().HasTable(m))
	}
}
