/*
 * @module service/apperr/errors
 * @description 流水线统一错误分类：上传校验、前置条件、外部服务失败、资源不存在
 * @architecture 分层架构 - 公共错误层
 * @documentReference DESIGN.md
 * @stateFlow 错误产生 -> 分类包装 -> 控制器映射HTTP状态
 * @rules 前置条件与校验错误在本地判定，不触发外部调用；外部服务错误保留阶段名称
 * @dependencies errors, fmt, strings
 * @refs service/pipeline, api/controllers/response.go
 */

package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind 错误类型
type Kind string

const (
	KindValidation   Kind = "validation"       // 上传或输入校验错误
	KindPrecondition Kind = "precondition"     // 阶段顺序或参数不满足
	KindExternal     Kind = "external_service" // 外部服务调用失败
	KindNotFound     Kind = "not_found"        // 会话或资源不存在
	KindInternal     Kind = "internal"         // 未分类错误
)

// Error 流水线错误
type Error struct {
	Kind     Kind     `json:"kind"`
	Stage    string   `json:"stage,omitempty"`
	Messages []string `json:"messages"`
	Cause    error    `json:"-"`
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Stage != "" {
		b.WriteString("[")
		b.WriteString(e.Stage)
		b.WriteString("]")
	}
	if len(e.Messages) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Messages, "; "))
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Validation 创建校验错误
func Validation(messages ...string) *Error {
	return &Error{Kind: KindValidation, Messages: messages}
}

// Precondition 创建前置条件错误
func Precondition(stage string, messages ...string) *Error {
	return &Error{Kind: KindPrecondition, Stage: stage, Messages: messages}
}

// External 包装外部服务错误，消息原样保留
func External(stage string, cause error) *Error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{Kind: KindExternal, Stage: stage, Messages: []string{msg}, Cause: cause}
}

// NotFound 创建资源不存在错误
func NotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Messages: []string{fmt.Sprintf(format, args...)}}
}

// KindOf 返回错误类型，非流水线错误返回 KindInternal
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Messages 返回可读的错误消息列表
func Messages(err error) []string {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) && len(e.Messages) > 0 {
		return e.Messages
	}
	return []string{err.Error()}
}

// StageOf 返回错误关联的阶段名称
func StageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Stage
	}
	return ""
}

// Is 判断错误是否为指定类型
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
