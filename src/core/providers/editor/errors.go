package editor

import (
	"errors"
	"fmt"
)

// ErrorKind 编辑失败类型
type ErrorKind string

const (
	KindNoOutput     ErrorKind = "no-output"
	KindNoImagePart  ErrorKind = "no-image-part"
	KindTransport    ErrorKind = "transport-error"
	KindInvalidInput ErrorKind = "invalid-input"
)

const (
	MessageNoOutput  = "No output generated from the model."
	MessageNoImage   = "No image was returned in the response parts."
	MessageTransport = "Failed to process image."
)

// EditError 编辑失败，只在展示时格式化为文本
type EditError struct {
	Kind     ErrorKind
	Detail   string // 远程返回的信息或输入错误描述
	Fallback string // Detail 为空时使用的提示
	Err      error
}

func (e *EditError) Error() string {
	if e.Err != nil && e.Kind == KindTransport {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message())
}

func (e *EditError) Unwrap() error {
	return e.Err
}

// Message 面向用户的提示文本
func (e *EditError) Message() string {
	switch e.Kind {
	case KindNoOutput:
		return MessageNoOutput
	case KindNoImagePart:
		return MessageNoImage
	}
	if e.Detail != "" {
		return e.Detail
	}
	if e.Fallback != "" {
		return e.Fallback
	}
	return MessageTransport
}

// NoOutput 模型没有返回任何候选结果
func NoOutput() *EditError {
	return &EditError{Kind: KindNoOutput}
}

// NoImagePart 候选结果里没有图片数据
func NoImagePart() *EditError {
	return &EditError{Kind: KindNoImagePart}
}

// InvalidInput 输入不满足调用条件
func InvalidInput(detail string) *EditError {
	return &EditError{Kind: KindInvalidInput, Detail: detail}
}

// Transport 网络、认证或远程错误，detail 为空时使用 fallback
func Transport(err error, detail, fallback string) *EditError {
	return &EditError{Kind: KindTransport, Detail: detail, Fallback: fallback, Err: err}
}

// KindOf 返回错误类型，非 EditError 视为传输错误
func KindOf(err error) ErrorKind {
	var editErr *EditError
	if errors.As(err, &editErr) {
		return editErr.Kind
	}
	return KindTransport
}
