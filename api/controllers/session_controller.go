/*
 * @module api/controllers/session_controller
 * @description 分析会话控制器：上传分类、翻译、两种打标策略、人工修改、统计、导出与入库
 * @architecture MVC架构 - 控制器层
 * @documentReference DESIGN.md
 * @stateFlow 上传 -> 翻译 -> 打标 -> 人工修改 -> 统计 -> 导出/入库
 * @rules 错误按类型映射HTTP状态码：校验/前置条件400，不存在404，外部服务502
 * @dependencies github.com/go-chi/chi/v5, github.com/go-chi/render
 * @refs service/pipeline, service/export
 */

package controllers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/spf13/cast"

	"survey-pipeline-service/service/apperr"
	"survey-pipeline-service/service/export"
	"survey-pipeline-service/service/models"
	"survey-pipeline-service/service/overlay"
	"survey-pipeline-service/service/pipeline"
)

// multipartOverhead 表单字段与边界占用的额外字节
const multipartOverhead = 1 << 20

// ModificationHistorian 修改审计查询
type ModificationHistorian interface {
	ModificationHistory(ctx context.Context, sessionID string, strategy models.Strategy, includeSuperseded bool) ([]models.ModificationRecord, error)
}

// SessionController 分析会话控制器
type SessionController struct {
	pipeline *pipeline.Controller
	history  ModificationHistorian
	maxBytes int64
}

// NewSessionController 创建会话控制器实例，history 可为 nil
func NewSessionController(ctrl *pipeline.Controller, history ModificationHistorian, maxBytes int64) *SessionController {
	return &SessionController{pipeline: ctrl, history: history, maxBytes: maxBytes}
}

// SelectionRequest 选择题组请求
type SelectionRequest struct {
	GroupIDs []string `json:"group_ids" example:"Q1,Q3"`
}

// TagDefinitionsRequest 参考标签定义请求
type TagDefinitionsRequest struct {
	TagDefinitions []models.TagDefinition `json:"tag_definitions"`
}

// TagImportRequest 参考标签批量导入请求
type TagImportRequest struct {
	Text string `json:"text" example:"产品质量：耐用性和故障率"`
}

// CellEditRequest 单元格编辑请求
type CellEditRequest struct {
	RowID   *int           `json:"row_id" example:"0"`
	Field   string         `json:"field" example:"Q3意见"`
	TagType models.TagType `json:"tag_type" example:"tag"`
	Tags    string         `json:"tags" example:"价格,服务"`
}

// SaveRequest 保存修改请求，modifications 为空时保存已记录的修改
type SaveRequest struct {
	Modifications []models.Modification `json:"modifications"`
}

// DiscardRequest 放弃修改请求
type DiscardRequest struct {
	Confirm bool `json:"confirm"`
}

// StatisticsRequest 统计请求，group_ids 为空时使用已保存的选择
type StatisticsRequest struct {
	GroupIDs      []string                       `json:"group_ids"`
	QuestionTypes map[string]models.QuestionType `json:"question_types"`
}

func (c *SessionController) fail(w http.ResponseWriter, r *http.Request, err error) {
	render.Render(w, r, AppErrorResponse(err))
}

func decode(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := render.DecodeJSON(r.Body, v); err != nil && !errors.Is(err, io.EOF) {
		return apperr.Validation(fmt.Sprintf("请求参数解析失败: %v", err))
	}
	return nil
}

func strategyParam(r *http.Request) models.Strategy {
	return models.Strategy(strings.ToLower(chi.URLParam(r, "strategy")))
}

// Upload 上传问卷数据
// @Summary 上传问卷数据
// @Description 上传 csv/xlsx/txt 文件，解析并识别题型与题组，返回新会话
// @Tags 分析会话
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "问卷数据文件"
// @Param user_name formData string false "分析师"
// @Success 200 {object} APIResponse{data=pipeline.SessionView}
// @Failure 400 {object} APIResponse{data=ErrorData}
// @Router /sessions [post]
func (c *SessionController) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, c.maxBytes+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		c.fail(w, r, apperr.Validation(fmt.Sprintf("文件读取失败或超过大小限制: %v", err)))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		c.fail(w, r, apperr.Validation("请选择要上传的文件"))
		return
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, c.maxBytes+1))
	if err != nil {
		c.fail(w, r, apperr.Validation(fmt.Sprintf("文件读取失败: %v", err)))
		return
	}

	view, err := c.pipeline.Upload(r.Context(), header.Filename, content, r.FormValue("user_name"))
	if err != nil {
		c.fail(w, r, err)
		return
	}
	render.Render(w, r, SuccessResponse("上传成功", view))
}

// Get 获取会话状态
// @Summary 获取会话状态
// @Description 返回会话当前阶段、进度、题组、打标策略与未保存修改数
// @Tags 分析会话
// @Produce json
// @Param id path string true "会话ID"
// @Success 200 {object} APIResponse{data=pipeline.SessionView}
// @Failure 404 {object} APIResponse{data=ErrorData}
// @Router /sessions/{id} [get]
func (c *SessionController) Get(w http.ResponseWriter, r *http.Request) {
	view, err := c.pipeline.Snapshot(chi.URLParam(r, "id"))
	if err != nil {
		c.fail(w, r, err)
		return
	}
	render.Render(w, r, SuccessResponse("查询成功", view))
}

// Delete 删除会话
// @Summary 删除会话
// @Tags 分析会话
// @Produce json
// @Param id path string true "会话ID"
// @Success 200 {object} APIResponse
// @Router /sessions/{id} [delete]
func (c *SessionController) Delete(w http.ResponseWriter, r *http.Request) {
	if err := c.pipeline.Close(r.Context(), chi.URLParam(r, "id")); err != nil {
		c.fail(w, r, err)
		return
	}
	render.Render(w, r, SuccessResponse("删除成功", nil))
}

// Reset 重新开始
// @Summary 重新开始
// @Description 清除会话的全部阶段产物并回到初始阶段，进行中的外部调用结果将被丢弃
// @Tags 分析会话
// @Produce json
// @Param id path string true "会话ID"
// @Success 200 {object} APIResponse{data=pipeline.SessionView}
// @Router /sessions/{id}/reset [post]
func (c *SessionController) Reset(w http.ResponseWriter, r *http.Request) {
	view, err := c.pipeline.Reset(chi.URLParam(r, "id"))
	if err != nil {
		c.fail(w, r, err)
		return
	}
	render.Render(w, r, SuccessResponse("已重置", view))
}

// Select 选择统计题组
// @Summary 选择统计题组
// @Description 不存在的题组ID会被自动剔除
// @Tags 分析会话
// @Accept json
// @Produce json
// @Param id path string true "会话ID"
// @Param request body SelectionRequest true "题组"
// @Success 200 {object} APIResponse
// @Router /sessions/{id}/selection [put]
func (c *SessionController) Select(w http.ResponseWriter, r *http.Request) {
	var req SelectionRequest
	if err := decode(r, &req); err != nil {
		c.fail(w, r, err)
		return
	}
	selection, err := c.pipeline.SelectGroups(chi.URLParam(r, "id"), req.GroupIDs)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	render.Render(w, r, SuccessResponse("选择已更新", selection))
}

// Translate 翻译开放题
// @Summary 翻译开放题
// @Tags 翻译
// @Produce json
// @Param id path string true "会话ID"
// @Success 200 {object} APIResponse{data=models.TranslationSummary}
// @Failure 502 {object} APIResponse{data=ErrorData}
// @Router /sessions/{id}/translation [post]
func (c *SessionController) Translate(w http.ResponseWriter, r *http.Request) {
	summary, err := c.pipeline.Translate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		c.fail(w, r, err)
		return
	}
	render.Render(w, r, SuccessResponse("翻译完成", summary))
}

// LabelStandard 标准两级标签打标
// @Summary 标准两级标签打标
// @Tags 打标
// @Produce json
// @Param id path string true "会话ID"
// @Success 200 {object} APIResponse{data=models.LabelSummary}
// @Failure 502 {object} APIResponse{data=ErrorData}
// @Router /sessions/{id}/labels/standard [post]
func (c *SessionController) LabelStandard(w http.ResponseWriter, r *http.Request) {
	summary, err := c.pipeline.LabelStandard(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		c.fail(w, r, err)
		return
	}
	render.Render(w, r, SuccessResponse("标准打标完成", summary))
}

// LabelReference 参考标签匹配
// @Summary 参考标签匹配
// @Description tag_definitions 为空时使用会话中保存的标签定义
// @Tags 打标
// @Accept json
// @Produce json
// @Param id path string true "会话ID"
// @Param request body TagDefinitionsRequest false "参考标签定义"
// @Success 200 {object} APIResponse{data=models.LabelSummary}
// @Failure 400 {object} APIResponse{data=ErrorData}
// @Router /sessions/{id}/labels/reference [post]
func (c *SessionController) LabelReference(w http.ResponseWriter, r *http.Request) {
	var req TagDefinitionsRequest
	if err := decode(r, &req); err != nil {
		c.fail(w, r, err)
		return
	}
	summary, err := c.pipeline.LabelReference(r.Context(), chi.URLParam(r, "id"), req.TagDefinitions)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	render.Render(w, r, SuccessResponse("参考标签打标完成", summary))
}

// GetTagDefinitions 获取参考标签定义
// @Summary 获取参考标签定义
// @Tags 打标
// @Produce json
// @Param id path string true "会话ID"
// @Success 200 {object} APIResponse{data=[]models.TagDefinition}
// @Router /sessions/{id}/tag-definitions [get]
func (c *SessionController) GetTagDefinitions(w http.ResponseWriter, r *http.Request) {
	defs, err := c.pipeline.TagDefinitions(chi.URLParam(r, "id"))
	if err != nil {
		c.fail(w, r, err)
		return
	}
	render.Render(w, r, SuccessResponse("查询成功", defs))
}

// PutTagDefinitions 保存参考标签定义
// @Summary 保存参考标签定义
// @Description 整体替换，返回尚未填写完整的问题列表
// @Tags 打标
// @Accept json
// @Produce json
// @Param id path string true "会话ID"
// @Param request body TagDefinitionsRequest true "参考标签定义"
// @Success 200 {object} APIResponse
// @Router /sessions/{id}/tag-definitions [put]
func (c *SessionController) PutTagDefinitions(w http.ResponseWriter, r *http.Request) {
	var req TagDefinitionsRequest
	if err := decode(r, &req); err != nil {
		c.fail(w, r, err)
		return
	}
	problems, err := c.pipeline.SetTagDefinitions(chi.URLParam(r, "id"), req.TagDefinitions)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	render.Render(w, r, SuccessResponse("保存成功", map[string]interface{}{
		"tag_definitions": req.TagDefinitions,
		"problems":        problems,
	}))
}

// ImportTagDefinitions 批量导入参考标签
// @Summary 批量导入参考标签
// @Description 每行一个标签，格式为“名称：定义”或“名称  定义”（两个以上空格），名称重复的跳过
// @Tags 打标
// @Accept json
// @Produce json
// @Param id path string true "会话ID"
// @Param request body TagImportRequest true "标签文本"
// @Success 200 {object} APIResponse{data=pipeline.TagImportResult}
// @Router /sessions/{id}/tag-definitions/import [post]
func (c *SessionController) ImportTagDefinitions(w http.ResponseWriter, r *http.Request) {
	var req TagImportRequest
	if err := decode(r, &req); err != nil {
		c.fail(w, r, err)
		return
	}
	result, err := c.pipeline.ImportTagDefinitions(chi.URLParam(r, "id"), req.Text)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	render.Render(w, r, SuccessResponse(fmt.Sprintf("导入%d个标签，跳过%d个重复标签", result.Added, result.Skipped), result))
}

// GetLabels 获取标签编辑视图
// @Summary 获取标签编辑视图
// @Description 不带 version 时返回编辑表格并切换当前策略；version=machine|saved|current 返回对应版本的标签集
// @Tags 人工修改
// @Produce json
// @Param id path string true "会话ID"
// @Param strategy path string true "打标策略" Enums(standard, reference)
// @Param version query string false "标签版本" Enums(machine, saved, current)
// @Success 200 {object} APIResponse{data=pipeline.EditorView}
// @Router /sessions/{id}/labels/{strategy} [get]
func (c *SessionController) GetLabels(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	strategy := strategyParam(r)

	if version := r.URL.Query().Get("version"); version != "" {
		set, err := c.pipeline.LabelSetVersion(id, strategy, pipeline.LabelVersion(version))
		if err != nil {
			c.fail(w, r, err)
			return
		}
		render.Render(w, r, SuccessResponse("查询成功", set))
		return
	}

	view, err := c.pipeline.LabelsForEditing(id, strategy)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	render.Render(w, r, SuccessResponse("查询成功", view))
}

// EditCell 编辑单元格标签
// @Summary 编辑单元格标签
// @Description tags 为逗号分隔的标签文本，替换该单元格当前的主题/标签/参考标签
// @Tags 人工修改
// @Accept json
// @Produce json
// @Param id path string true "会话ID"
// @Param strategy path string true "打标策略"
// @Param request body CellEditRequest true "修改内容"
// @Success 200 {object} APIResponse
// @Router /sessions/{id}/labels/{strategy}/edits [post]
func (c *SessionController) EditCell(w http.ResponseWriter, r *http.Request) {
	var req CellEditRequest
	if err := decode(r, &req); err != nil {
		c.fail(w, r, err)
		return
	}
	if req.RowID == nil {
		c.fail(w, r, apperr.Validation("row_id 不能为空"))
		return
	}

	mod, pending, err := c.pipeline.EditCell(chi.URLParam(r, "id"), strategyParam(r), *req.RowID, req.Field, req.TagType, req.Tags)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	render.Render(w, r, SuccessResponse("修改已记录", map[string]interface{}{
		"modification": mod,
		"pending":      pending,
	}))
}

// BatchEdit 批量修改标签
// @Summary 批量修改标签
// @Description 对选中行执行 add/remove/replace；缺少题目、标签类型或选中行时不做任何修改
// @Tags 人工修改
// @Accept json
// @Produce json
// @Param id path string true "会话ID"
// @Param strategy path string true "打标策略"
// @Param request body overlay.BatchOp true "批量操作"
// @Success 200 {object} APIResponse{data=overlay.BatchResult}
// @Router /sessions/{id}/labels/{strategy}/batch [post]
func (c *SessionController) BatchEdit(w http.ResponseWriter, r *http.Request) {
	var op overlay.BatchOp
	if err := decode(r, &op); err != nil {
		c.fail(w, r, err)
		return
	}
	result, err := c.pipeline.BatchEdit(chi.URLParam(r, "id"), strategyParam(r), op)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	render.Render(w, r, SuccessResponse(result.Message, result))
}

// Save 保存修改
// @Summary 保存修改
// @Description 过滤结构非法的修改后保存，没有合法修改时拒绝
// @Tags 人工修改
// @Accept json
// @Produce json
// @Param id path string true "会话ID"
// @Param strategy path string true "打标策略"
// @Param request body SaveRequest false "附加修改"
// @Success 200 {object} APIResponse{data=pipeline.SaveResult}
// @Failure 400 {object} APIResponse{data=ErrorData}
// @Router /sessions/{id}/labels/{strategy}/save [post]
func (c *SessionController) Save(w http.ResponseWriter, r *http.Request) {
	var req SaveRequest
	if err := decode(r, &req); err != nil {
		c.fail(w, r, err)
		return
	}
	result, err := c.pipeline.SaveModifications(r.Context(), chi.URLParam(r, "id"), strategyParam(r), req.Modifications)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	render.Render(w, r, SuccessResponse("保存成功", result))
}

// Discard 放弃未保存的修改
// @Summary 放弃未保存的修改
// @Description 存在未保存修改时必须 confirm=true
// @Tags 人工修改
// @Accept json
// @Produce json
// @Param id path string true "会话ID"
// @Param strategy path string true "打标策略"
// @Param request body DiscardRequest true "确认"
// @Success 200 {object} APIResponse
// @Router /sessions/{id}/labels/{strategy}/discard [post]
func (c *SessionController) Discard(w http.ResponseWriter, r *http.Request) {
	var req DiscardRequest
	if err := decode(r, &req); err != nil {
		c.fail(w, r, err)
		return
	}
	n, err := c.pipeline.Discard(chi.URLParam(r, "id"), strategyParam(r), req.Confirm)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	render.Render(w, r, SuccessResponse(fmt.Sprintf("已放弃%d条修改", n), map[string]int{"discarded": n}))
}

// ModificationHistory 修改审计记录
// @Summary 修改审计记录
// @Tags 人工修改
// @Produce json
// @Param id path string true "会话ID"
// @Param strategy query string false "打标策略"
// @Param include_superseded query bool false "包含重新打标后失效的记录"
// @Success 200 {object} APIResponse{data=[]models.ModificationRecord}
// @Router /sessions/{id}/modifications/history [get]
func (c *SessionController) ModificationHistory(w http.ResponseWriter, r *http.Request) {
	if c.history == nil {
		c.fail(w, r, apperr.Precondition("history", "未配置数据库，无修改记录"))
		return
	}
	id := chi.URLParam(r, "id")
	strategy := models.Strategy(strings.ToLower(r.URL.Query().Get("strategy")))
	if strategy != "" && !strategy.Valid() {
		c.fail(w, r, apperr.Validation(fmt.Sprintf("未知的打标策略: %s", strategy)))
		return
	}

	records, err := c.history.ModificationHistory(r.Context(), id, strategy, cast.ToBool(r.URL.Query().Get("include_superseded")))
	if err != nil {
		c.fail(w, r, apperr.External("history", err))
		return
	}
	render.Render(w, r, SuccessResponse("查询成功", records))
}

// ComputeStatistics 统计分析
// @Summary 统计分析
// @Description 对选中的题组计算描述统计；含一级主题的题组只统计主题列
// @Tags 统计
// @Accept json
// @Produce json
// @Param id path string true "会话ID"
// @Param request body StatisticsRequest false "题组与题型覆盖"
// @Success 200 {object} APIResponse{data=models.AnalysisResult}
// @Failure 400 {object} APIResponse{data=ErrorData}
// @Router /sessions/{id}/statistics [post]
func (c *SessionController) ComputeStatistics(w http.ResponseWriter, r *http.Request) {
	var req StatisticsRequest
	if err := decode(r, &req); err != nil {
		c.fail(w, r, err)
		return
	}
	result, err := c.pipeline.ComputeStatistics(r.Context(), chi.URLParam(r, "id"), req.GroupIDs, req.QuestionTypes)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	render.Render(w, r, SuccessResponse("统计完成", result))
}

// GetStatistics 获取最近一次统计结果
// @Summary 获取最近一次统计结果
// @Tags 统计
// @Produce json
// @Param id path string true "会话ID"
// @Success 200 {object} APIResponse{data=models.AnalysisResult}
// @Router /sessions/{id}/statistics [get]
func (c *SessionController) GetStatistics(w http.ResponseWriter, r *http.Request) {
	result, err := c.pipeline.Result(chi.URLParam(r, "id"))
	if err != nil {
		c.fail(w, r, err)
		return
	}
	render.Render(w, r, SuccessResponse("查询成功", result))
}

// Export 导出结果
// @Summary 导出结果
// @Tags 导出
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param id path string true "会话ID"
// @Param variant path string true "导出类型" Enums(standard-label, standard-manual, reference-label, reference-manual, final)
// @Success 200 {file} file
// @Failure 400 {object} APIResponse{data=ErrorData}
// @Router /sessions/{id}/export/{variant} [get]
func (c *SessionController) Export(w http.ResponseWriter, r *http.Request) {
	variant, err := export.ParseVariant(chi.URLParam(r, "variant"))
	if err != nil {
		c.fail(w, r, err)
		return
	}
	f, filename, err := c.pipeline.Export(chi.URLParam(r, "id"), variant)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	data, err := export.Bytes(f)
	if err != nil {
		c.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename*=UTF-8''%s", url.PathEscape(filename)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// Import 最终标签入库
// @Summary 最终标签入库
// @Description 将当前策略合并已保存修改后的标签写入数据库，替换该会话之前的入库记录
// @Tags 导出
// @Produce json
// @Param id path string true "会话ID"
// @Success 200 {object} APIResponse
// @Router /sessions/{id}/import [post]
func (c *SessionController) Import(w http.ResponseWriter, r *http.Request) {
	n, err := c.pipeline.ImportLabels(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		c.fail(w, r, err)
		return
	}
	render.Render(w, r, SuccessResponse(fmt.Sprintf("已入库%d条记录", n), map[string]int{"imported": n}))
}
