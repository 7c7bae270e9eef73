package controllers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/render"

	"survey-pipeline-service/service/apperr"
)

// APIResponse 统一API响应结构
type APIResponse struct {
	Status int         `json:"status" example:"0"`
	Msg    string      `json:"msg" example:"操作成功"`
	Data   interface{} `json:"data,omitempty"`

	httpStatus int
}

// Render 设置HTTP状态码
func (a *APIResponse) Render(w http.ResponseWriter, r *http.Request) error {
	if a.httpStatus != 0 {
		render.Status(r, a.httpStatus)
	}
	return nil
}

// PaginatedResponse 分页响应结构
type PaginatedResponse struct {
	Status int         `json:"status" example:"0"`
	Msg    string      `json:"msg" example:"操作成功"`
	Data   interface{} `json:"data"`
	Total  int64       `json:"total" example:"100"`
	Page   int         `json:"page" example:"1"`
	Size   int         `json:"size" example:"10"`
}

// Render 分页响应固定 200
func (p *PaginatedResponse) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

// ErrorData 错误详情
type ErrorData struct {
	Kind     apperr.Kind `json:"kind" example:"precondition"`
	Stage    string      `json:"stage,omitempty" example:"labeling"`
	Messages []string    `json:"messages"`
}

// SuccessResponse 成功响应
func SuccessResponse(msg string, data interface{}) *APIResponse {
	return &APIResponse{Status: 0, Msg: msg, Data: data, httpStatus: http.StatusOK}
}

// ErrorResponse 错误响应，err 可为 nil
func ErrorResponse(httpStatus int, msg string, err error) *APIResponse {
	resp := &APIResponse{Status: httpStatus, Msg: msg, httpStatus: httpStatus}
	if err != nil {
		resp.Data = ErrorData{Kind: apperr.KindOf(err), Stage: apperr.StageOf(err), Messages: apperr.Messages(err)}
	}
	return resp
}

// HTTPStatus 错误类型对应的HTTP状态码
func HTTPStatus(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindPrecondition:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AppErrorResponse 将流水线错误转换为响应，消息使用错误自带的可读文本
func AppErrorResponse(err error) *APIResponse {
	status := HTTPStatus(err)
	if status == http.StatusInternalServerError {
		slog.Error("请求处理失败", "error", err)
	}
	return ErrorResponse(status, strings.Join(apperr.Messages(err), "; "), err)
}
