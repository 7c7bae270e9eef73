package translation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"survey-pipeline-service/client"
	"survey-pipeline-service/service/apperr"
	"survey-pipeline-service/service/models"
	"survey-pipeline-service/testutil"
)

func TestNeedsTranslation(t *testing.T) {
	tests := []struct {
		name  string
		texts []string
		want  bool
	}{
		{name: "英文", texts: []string{"good product", "bad"}, want: true},
		{name: "中文", texts: []string{"产品很好", "一般"}, want: false},
		{name: "中英混合以中文为主", texts: []string{"APP很好用很方便"}, want: false},
		{name: "空", texts: []string{"", " "}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NeedsTranslation(tt.texts))
		})
	}
}

func TestTranslate_BatchesAndFallsBack(t *testing.T) {
	table := &models.Table{
		Columns: []string{"Q3意见"},
		Rows:    [][]string{{"good"}, {""}, {"bad"}, {"slow"}, {"fast"}},
	}

	completer := &testutil.MockCompleter{}
	// 第一批 good/""/bad，第二批 slow/fast；第二批回复缺少第 2 行
	completer.On("Complete", mock.Anything, mock.MatchedBy(func(req client.CompletionRequest) bool {
		return strings.Contains(req.Prompt, "1. good\n3. bad\n")
	})).Return("1. 好\n3. 差", nil).Once()
	completer.On("Complete", mock.Anything, mock.MatchedBy(func(req client.CompletionRequest) bool {
		return strings.Contains(req.Prompt, "1. slow")
	})).Return("1. 慢", nil).Once()

	svc := NewService(completer, 3)
	result, err := svc.Translate(context.Background(), table, []string{"Q3意见"})

	require.NoError(t, err)
	assert.Equal(t, []string{"好", "", "差", "慢", "fast"}, result.Fields["Q3意见"])
	assert.Equal(t, 3, result.TranslatedCount)
	summary := result.Summary()
	assert.Equal(t, 1, summary.TranslatedFieldCount)
	assert.Equal(t, []string{"Q3意见"}, summary.OpenEndedFieldNames)
	completer.AssertExpectations(t)

	ApplyColumns(table, result)
	assert.Equal(t, []string{"Q3意见", "Q3意见-CN"}, table.Columns)
	assert.Equal(t, "慢", table.Rows[3][1])
}

func TestTranslate_ChineseBatchSkipsService(t *testing.T) {
	table := &models.Table{Columns: []string{"Q3"}, Rows: [][]string{{"很好"}, {"不错"}}}
	completer := &testutil.MockCompleter{}

	result, err := NewService(completer, 50).Translate(context.Background(), table, []string{"Q3"})

	require.NoError(t, err)
	assert.Equal(t, []string{"很好", "不错"}, result.Fields["Q3"])
	assert.Equal(t, 0, result.TranslatedCount)
	completer.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestTranslate_FailureLeavesNoPartialResult(t *testing.T) {
	rows := make([][]string, 4)
	for i := range rows {
		rows[i] = []string{fmt.Sprintf("answer %d", i), fmt.Sprintf("comment %d", i)}
	}
	table := &models.Table{Columns: []string{"Q3", "Q4"}, Rows: rows}

	completer := &testutil.MockCompleter{}
	completer.On("Complete", mock.Anything, mock.MatchedBy(func(req client.CompletionRequest) bool {
		return strings.Contains(req.Prompt, "answer")
	})).Return("1. 回答", nil)
	completer.On("Complete", mock.Anything, mock.MatchedBy(func(req client.CompletionRequest) bool {
		return strings.Contains(req.Prompt, "comment")
	})).Return("", errors.New("重试 4 次后仍然失败: timeout"))

	result, err := NewService(completer, 50).Translate(context.Background(), table, []string{"Q3", "Q4"})

	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, apperr.Is(err, apperr.KindExternal))
	assert.Equal(t, StageName, apperr.StageOf(err))
	assert.Contains(t, err.Error(), "timeout")
}

func TestTranslate_WithoutCompleterCopiesText(t *testing.T) {
	table := &models.Table{Columns: []string{"Q3"}, Rows: [][]string{{"good"}}}

	result, err := NewService(nil, 50).Translate(context.Background(), table, []string{"Q3"})

	require.NoError(t, err)
	assert.Equal(t, []string{"good"}, result.Fields["Q3"])
}

func TestTranslate_MissingField(t *testing.T) {
	table := &models.Table{Columns: []string{"Q3"}, Rows: [][]string{{"good"}}}

	_, err := NewService(nil, 50).Translate(context.Background(), table, []string{"Q9"})

	assert.True(t, apperr.Is(err, apperr.KindPrecondition))
}
