package studio

import (
	"time"

	"magic-studio-go/src/core/image"
)

const (
	// FallbackErrorMessage 失败没有携带信息时展示的提示
	FallbackErrorMessage = "Failed to edit image"
)

// State 会话状态
type State struct {
	Original   *image.Payload
	Edited     *image.Payload
	Processing bool
	Error      string
}

// Snapshot 渲染页面用的状态副本
type Snapshot struct {
	SessionID  string         `json:"session_id"`
	Original   *image.Payload `json:"original"`
	Edited     *image.Payload `json:"edited"`
	Processing bool           `json:"processing"`
	Error      *string        `json:"error"`
	Prompt     string         `json:"prompt"`
}

// HasOriginal 是否已选择原图
func (s Snapshot) HasOriginal() bool {
	return s.Original != nil
}

// ErrorMessage 错误提示，没有错误时为空串
func (s Snapshot) ErrorMessage() string {
	if s.Error == nil {
		return ""
	}
	return *s.Error
}

// EditOutcome 一次编辑请求的结果，提供给指标和历史记录
type EditOutcome struct {
	SessionID string
	Provider  string
	Prompt    string
	Original  image.Payload
	Result    image.Payload
	Err       error
	Message   string // 展示给用户的错误提示
	Duration  time.Duration
	Stale     bool // 会话已重置，结果被丢弃
}

// EditObserver 编辑开始和结束时的通知
type EditObserver interface {
	EditStarted(sessionID string)
	EditFinished(outcome EditOutcome)
}

// SuccessResponse 通用响应
type SuccessResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// PromptRequest 设置指令的请求，Suggestion 为预设指令下标
type PromptRequest struct {
	Prompt     *string `json:"prompt"`
	Suggestion *int    `json:"suggestion"`
}

// EditRequest 提交编辑的请求，Prompt 非空时先替换当前指令
type EditRequest struct {
	Prompt *string `json:"prompt" form:"prompt"`
}
