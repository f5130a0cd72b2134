package task

import (
	"fmt"

	"magic-studio-go/src/core/utils"
)

// CallBack 把完成和失败分发到两个函数，回调在独立的goroutine中执行
type CallBack struct {
	onComplete func(result interface{})
	onError    func(err error)
	logger     *utils.Logger
}

func NewCallBack(onComplete func(result interface{}), onError func(err error)) *CallBack {
	return &CallBack{
		onComplete: onComplete,
		onError:    onError,
		logger:     utils.NewNopLogger(),
	}
}

// WithLogger 回调panic时写入该日志记录器
func (cb *CallBack) WithLogger(logger *utils.Logger) *CallBack {
	if logger != nil {
		cb.logger = logger
	}
	return cb
}

func (cb *CallBack) OnComplete(result interface{}) {
	if cb.onComplete != nil {
		go func() {
			defer cb.recoverPanic("完成回调")
			cb.onComplete(result)
		}()
	}
}

func (cb *CallBack) OnError(err error) {
	if cb.onError != nil {
		go func() {
			defer cb.recoverPanic("错误回调")
			cb.onError(err)
		}()
	}
}

func (cb *CallBack) recoverPanic(kind string) {
	if r := recover(); r != nil {
		cb.logger.Error(fmt.Sprintf("%s发生panic", kind), map[string]interface{}{
			"panic": fmt.Sprint(r),
		})
	}
}
