/*
 * @module testutil/test_helper
 * @description 测试工具和辅助函数
 * @architecture 测试基础设施 - 提供测试通用工具和数据工厂
 * @documentReference DESIGN.md
 * @stateFlow 测试环境初始化 -> 测试数据创建 -> 测试执行 -> 清理资源
 * @rules 提供可重用的测试工具，确保测试环境的一致性
 * @dependencies gorm, sqlite, testify, uuid
 * @refs service/models
 */

package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"survey-pipeline-service/client"
	"survey-pipeline-service/service/models"
)

// TestDB 测试数据库配置
type TestDB struct {
	DB *gorm.DB
}

// NewTestDB 创建测试数据库
func NewTestDB() *TestDB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		panic(fmt.Sprintf("failed to connect test database: %v", err))
	}

	// :memory: 每个连接是独立的库，限制为单连接
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}

	// 自动迁移所有模型
	err = db.AutoMigrate(
		&models.AnalysisSessionRecord{},
		&models.ModificationRecord{},
		&models.LabeledResponseRecord{},
		&models.StageEventRecord{},
	)
	if err != nil {
		panic(fmt.Sprintf("failed to migrate test database: %v", err))
	}

	return &TestDB{DB: db}
}

// Close 关闭数据库连接
func (tdb *TestDB) Close() {
	if db, err := tdb.DB.DB(); err == nil {
		db.Close()
	}
}

// TestDataFactory 测试数据工厂
type TestDataFactory struct {
	DB *gorm.DB
}

// NewTestDataFactory 创建测试数据工厂
func NewTestDataFactory(db *gorm.DB) *TestDataFactory {
	return &TestDataFactory{DB: db}
}

// SessionRecordOption 会话记录选项函数类型
type SessionRecordOption func(*models.AnalysisSessionRecord)

// CreateSessionRecord 创建测试会话记录
func (f *TestDataFactory) CreateSessionRecord(opts ...SessionRecordOption) *models.AnalysisSessionRecord {
	record := &models.AnalysisSessionRecord{
		ID:          uuid.New().String(),
		Filename:    "survey.csv",
		UserName:    "test",
		RowCount:    10,
		ColumnCount: 3,
		Stage:       "classified",
		Status:      "done",
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}

	for _, opt := range opts {
		opt(record)
	}

	if err := f.DB.Create(record).Error; err != nil {
		panic(fmt.Sprintf("failed to create test session record: %v", err))
	}
	return record
}

// SurveyTable 常用测试表格：一个量表题、一个单选题、一个开放题
func SurveyTable() *models.Table {
	return &models.Table{
		Columns: []string{"Q1满意度", "Q2性别", "Q3意见"},
		Rows: [][]string{
			{"9", "男", "The app is fast"},
			{"10", "女", "Price is too high"},
			{"6", "男", "Customer service was slow"},
			{"8", "女", "Love the new design"},
			{"3", "男", "Crashes on startup"},
			{"7", "女", "Battery drains quickly"},
			{"9", "男", "Great value for money"},
			{"10", "女", "Easy to use"},
			{"5", "男", "Needs dark mode"},
			{"8", "女", "Delivery was late"},
			{"9", "男", "Support resolved my issue"},
		},
	}
}

// MockCompleter Mock AI补全服务
type MockCompleter struct {
	mock.Mock
}

// Complete 实现 client.Completer
func (m *MockCompleter) Complete(ctx context.Context, req client.CompletionRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

// JSONRequest 构造带JSON请求体的测试请求，body 为 nil 时不带请求体
func JSONRequest(t testing.TB, method, target string, body interface{}) *http.Request {
	t.Helper()
	if body == nil {
		return httptest.NewRequest(method, target, nil)
	}
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, target, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// DecodeResponse 解析统一响应结构
func DecodeResponse(t testing.TB, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), "响应不是合法JSON: %s", w.Body.String())
	return body
}

// ResponseData 统一响应中的 data 对象
func ResponseData(t testing.TB, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	data, ok := DecodeResponse(t, w)["data"].(map[string]interface{})
	require.True(t, ok, "响应缺少 data 对象: %s", w.Body.String())
	return data
}
