package studio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"magic-studio-go/src/core/image"
	"magic-studio-go/src/core/providers/editor"
	"magic-studio-go/src/core/utils"
	"magic-studio-go/src/task"

	"golang.org/x/time/rate"
)

const (
	TaskTypeReadFile task.TaskType = "studio_read_file"
	TaskTypeEdit     task.TaskType = "studio_edit"
)

type readParams struct {
	source FileSource
	limit  int64
}

type editParams struct {
	provider editor.Provider
	original image.Payload
	prompt   string
}

func init() {
	task.RegisterTaskExecutor(TaskTypeReadFile, func(t *task.Task) error {
		params := t.Params.(*readParams)
		rc, err := params.source.Open()
		if err != nil {
			return fmt.Errorf("打开文件失败: %w", err)
		}
		defer rc.Close()

		payload, err := image.ReadPayload(rc, params.source.MediaType(), params.limit)
		if err != nil {
			return err
		}
		t.Result = payload
		return nil
	})

	task.RegisterTaskExecutor(TaskTypeEdit, func(t *task.Task) error {
		params := t.Params.(*editParams)
		result, err := params.provider.Edit(t.Context, params.original, params.prompt)
		if err != nil {
			return err
		}
		t.Result = result
		return nil
	})
}

// SessionOptions 会话的依赖
type SessionOptions struct {
	Editor        editor.Provider
	Runner        TaskRunner
	Logger        *utils.Logger
	DefaultPrompt string
	ReadLimit     int64                     // 读取文件的最大字节数，0 表示不限制
	Validate      func(image.Payload) error // 可选的上传校验
	Limiter       *rate.Limiter             // 可选的提交限流
	Observer      EditObserver
}

// Session 一个浏览器会话的编辑状态
type Session struct {
	id   string
	opts SessionOptions

	mu         sync.Mutex
	state      State
	prompt     string
	generation uint64 // 重置时递增，旧的异步结果据此丢弃
	cancelEdit context.CancelFunc
	lastActive time.Time
	closed     bool

	subscribers map[chan Snapshot]struct{}
}

// NewSession 创建空会话，指令为默认指令
func NewSession(id string, opts SessionOptions) *Session {
	if opts.Logger == nil {
		opts.Logger = utils.NewNopLogger()
	}
	return &Session{
		id:          id,
		opts:        opts,
		prompt:      opts.DefaultPrompt,
		lastActive:  time.Now(),
		subscribers: make(map[chan Snapshot]struct{}),
	}
}

// ID 会话ID
func (s *Session) ID() string {
	return s.id
}

// Snapshot 返回当前状态副本
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		SessionID:  s.id,
		Original:   s.state.Original,
		Edited:     s.state.Edited,
		Processing: s.state.Processing,
		Prompt:     s.prompt,
	}
	if s.state.Error != "" {
		msg := s.state.Error
		snap.Error = &msg
	}
	return snap
}

// Prompt 当前指令
func (s *Session) Prompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompt
}

// SetPrompt 原样替换指令
func (s *Session) SetPrompt(text string) {
	s.mu.Lock()
	s.prompt = text
	s.touchLocked()
	s.mu.Unlock()
	s.notify()
}

// SelectFile 异步读取文件。返回的通道在处理完成后送出一个值并关闭，
// 值为 false 表示结果因重置或关闭被丢弃。src 为 nil 时什么也不做
func (s *Session) SelectFile(src FileSource) <-chan bool {
	done := make(chan bool, 1)
	if src == nil {
		close(done)
		return done
	}

	s.mu.Lock()
	gen := s.generation
	s.touchLocked()
	s.mu.Unlock()

	var once sync.Once
	finish := func(payload image.Payload, err error) {
		once.Do(func() {
			done <- s.finishRead(gen, src, payload, err)
			close(done)
		})
	}

	t, _ := task.NewTask(context.Background(), TaskTypeReadFile, &readParams{source: src, limit: s.opts.ReadLimit})
	t.Callback = task.NewCallBack(
		func(result interface{}) {
			payload, _ := result.(image.Payload)
			finish(payload, nil)
		},
		func(err error) { finish(image.Payload{}, err) },
	).WithLogger(s.opts.Logger)
	if err := s.opts.Runner.SubmitTask(s.id, t); err != nil {
		finish(image.Payload{}, err)
	}
	return done
}

func (s *Session) finishRead(gen uint64, src FileSource, payload image.Payload, err error) bool {
	if err == nil && s.opts.Validate != nil {
		if verr := s.opts.Validate(payload); verr != nil {
			err = fmt.Errorf("invalid image: %w", verr)
		}
	}

	s.mu.Lock()
	if gen != s.generation || s.closed {
		s.mu.Unlock()
		s.opts.Logger.Debug("丢弃过期的文件读取结果", map[string]interface{}{"session_id": s.id})
		return false
	}
	if err != nil {
		// 读取失败保留原图，只展示错误
		s.state.Edited = nil
		s.state.Error = readErrorMessage(err)
	} else {
		p := payload
		s.state.Original = &p
		s.state.Edited = nil
		s.state.Error = ""
	}
	s.touchLocked()
	s.mu.Unlock()

	if err != nil {
		s.opts.Logger.Warn("读取上传文件失败", map[string]interface{}{
			"session_id": s.id,
			"file":       src.Name(),
			"error":      err.Error(),
		})
	} else {
		s.opts.Logger.Info("原图已更新", map[string]interface{}{
			"session_id": s.id,
			"file":       src.Name(),
			"media_type": payload.MediaType,
			"size":       len(payload.Data),
		})
	}
	s.notify()
	return true
}

// SubmitEdit 提交编辑。没有原图、指令为空或已有编辑进行中时返回 false
func (s *Session) SubmitEdit() (<-chan struct{}, bool) {
	s.mu.Lock()
	if s.closed || s.state.Original == nil || strings.TrimSpace(s.prompt) == "" || s.state.Processing {
		s.mu.Unlock()
		return nil, false
	}
	s.state.Processing = true
	s.state.Error = ""
	gen := s.generation
	original := *s.state.Original
	prompt := s.prompt
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelEdit = cancel
	s.touchLocked()
	s.mu.Unlock()

	s.notify()
	if s.opts.Observer != nil {
		s.opts.Observer.EditStarted(s.id)
	}

	done := make(chan struct{})
	start := time.Now()
	var once sync.Once
	finish := func(result image.Payload, err error) {
		once.Do(func() {
			cancel()
			s.finishEdit(gen, original, prompt, result, err, time.Since(start))
			close(done)
		})
	}

	t, _ := task.NewTask(ctx, TaskTypeEdit, &editParams{
		provider: s.opts.Editor,
		original: original,
		prompt:   prompt,
	})
	t.Callback = task.NewCallBack(
		func(result interface{}) {
			payload, _ := result.(image.Payload)
			finish(payload, nil)
		},
		func(err error) { finish(image.Payload{}, err) },
	).WithLogger(s.opts.Logger)
	if err := s.opts.Runner.SubmitTask(s.id, t); err != nil {
		finish(image.Payload{}, err)
	}
	return done, true
}

func (s *Session) finishEdit(gen uint64, original image.Payload, prompt string, result image.Payload, err error, elapsed time.Duration) {
	outcome := EditOutcome{
		SessionID: s.id,
		Prompt:    prompt,
		Original:  original,
		Result:    result,
		Err:       err,
		Duration:  elapsed,
	}
	if s.opts.Editor != nil {
		outcome.Provider = s.opts.Editor.Name()
	}
	if err != nil {
		outcome.Message = editErrorMessage(err)
	}

	s.mu.Lock()
	if gen != s.generation || s.closed {
		outcome.Stale = true
	} else {
		s.state.Processing = false
		s.cancelEdit = nil
		if err != nil {
			s.state.Edited = nil
			s.state.Error = outcome.Message
		} else {
			r := result
			s.state.Edited = &r
			s.state.Error = ""
		}
		s.touchLocked()
	}
	s.mu.Unlock()

	if s.opts.Observer != nil {
		s.opts.Observer.EditFinished(outcome)
	}
	if outcome.Stale {
		s.opts.Logger.Debug("丢弃过期的编辑结果", map[string]interface{}{"session_id": s.id})
		return
	}
	if err != nil {
		s.opts.Logger.Warn("图片编辑失败", map[string]interface{}{
			"session_id": s.id,
			"kind":       string(editor.KindOf(err)),
			"message":    outcome.Message,
		})
	}
	s.notify()
}

// Reset 清空状态，进行中的读取和编辑结果都会被丢弃
func (s *Session) Reset() {
	s.mu.Lock()
	s.generation++
	if s.cancelEdit != nil {
		s.cancelEdit()
		s.cancelEdit = nil
	}
	s.state = State{}
	s.touchLocked()
	s.mu.Unlock()
	s.notify()
}

// AllowSubmit 限流检查，未配置限流时总是允许
func (s *Session) AllowSubmit() bool {
	if s.opts.Limiter == nil {
		return true
	}
	return s.opts.Limiter.Allow()
}

// Subscribe 订阅状态变化，调用返回的函数取消订阅
func (s *Session) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			if _, ok := s.subscribers[ch]; ok {
				delete(s.subscribers, ch)
				close(ch)
			}
			s.mu.Unlock()
		})
	}
}

// notify 推送最新状态，订阅者处理慢时只保留最新一份
func (s *Session) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshotLocked()
	for ch := range s.subscribers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func (s *Session) touchLocked() {
	s.lastActive = time.Now()
}

// idleSince 空闲时长，编辑进行中的会话不算空闲
func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Processing {
		return 0
	}
	return now.Sub(s.lastActive)
}

// Close 关闭会话并断开所有订阅
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.generation++
	if s.cancelEdit != nil {
		s.cancelEdit()
		s.cancelEdit = nil
	}
	for ch := range s.subscribers {
		delete(s.subscribers, ch)
		close(ch)
	}
}

// editErrorMessage 只在这里把编辑错误转换为文本
func editErrorMessage(err error) string {
	var editErr *editor.EditError
	if errors.As(err, &editErr) {
		if msg := editErr.Message(); msg != "" {
			return msg
		}
		return FallbackErrorMessage
	}
	switch {
	case errors.Is(err, task.ErrClientBusy), errors.Is(err, task.ErrQueueFull):
		return "The studio is busy, please try again."
	case errors.Is(err, context.DeadlineExceeded):
		return "The edit request timed out."
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return FallbackErrorMessage
}

func readErrorMessage(err error) string {
	switch {
	case errors.Is(err, image.ErrEmptyPayload):
		return "The selected file is empty."
	case errors.Is(err, task.ErrClientBusy), errors.Is(err, task.ErrQueueFull):
		return "The studio is busy, please try again."
	}
	return fmt.Sprintf("Failed to read the selected file: %v", err)
}
