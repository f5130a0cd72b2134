package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskType represents different types of async tasks
type TaskType string

// TaskStatus represents the current status of a task
type TaskStatus string

// TaskExecutor defines the function signature for task execution
type TaskExecutor func(t *Task) error

const (
	TaskStatusPending  TaskStatus = "pending"
	TaskStatusRunning  TaskStatus = "running"
	TaskStatusComplete TaskStatus = "complete"
	TaskStatusFailed   TaskStatus = "failed"
)

var (
	// ErrQueueFull 任务队列已满
	ErrQueueFull = errors.New("task queue is full")
	// ErrClientBusy 客户端并发任务数已达上限
	ErrClientBusy = errors.New("client has too many running tasks")
	// ErrPoolStopped 工作池已停止
	ErrPoolStopped = errors.New("worker pool is stopped")
)

// TaskRegistry manages task type to executor mappings
type TaskRegistry struct {
	executors map[TaskType]TaskExecutor
	mu        sync.RWMutex
}

// Global task registry instance
var taskRegistry = &TaskRegistry{
	executors: make(map[TaskType]TaskExecutor),
}

// RegisterTaskExecutor registers a task executor for a specific task type
func RegisterTaskExecutor(taskType TaskType, executor TaskExecutor) {
	taskRegistry.mu.Lock()
	defer taskRegistry.mu.Unlock()
	taskRegistry.executors[taskType] = executor
}

// GetTaskExecutor retrieves the executor for a specific task type
func GetTaskExecutor(taskType TaskType) (TaskExecutor, bool) {
	taskRegistry.mu.RLock()
	defer taskRegistry.mu.RUnlock()
	executor, exists := taskRegistry.executors[taskType]
	return executor, exists
}

// GetRegisteredTaskTypes returns all registered task types
func GetRegisteredTaskTypes() []TaskType {
	taskRegistry.mu.RLock()
	defer taskRegistry.mu.RUnlock()
	types := make([]TaskType, 0, len(taskRegistry.executors))
	for taskType := range taskRegistry.executors {
		types = append(types, taskType)
	}
	return types
}

// Task represents an async task with its properties and callback
type Task struct {
	ID        string
	Type      TaskType
	Status    TaskStatus
	Params    interface{}
	Result    interface{}
	Error     error
	Callback  TaskCallback
	CreatedAt time.Time
	UpdatedAt time.Time
	ClientID  string
	Context   context.Context

	once sync.Once
}

func NewTask(ctx context.Context, taskType TaskType, params interface{}) (task *Task, id string) {
	if ctx == nil {
		ctx = context.Background()
	}
	id = uuid.New().String()
	return &Task{
		ID:        id,
		Type:      taskType,
		Status:    TaskStatusPending,
		Params:    params,
		CreatedAt: time.Now(),
		Context:   ctx,
	}, id
}

// Execute executes the task and calls appropriate callbacks
func (t *Task) Execute() {
	defer func() {
		if r := recover(); r != nil {
			t.fail(fmt.Errorf("task panicked: %v", r))
		}
	}()

	// 提交方已取消，不再执行
	if err := t.Context.Err(); err != nil {
		t.fail(err)
		return
	}

	t.Status = TaskStatusRunning
	t.UpdatedAt = time.Now()

	executor, exists := GetTaskExecutor(t.Type)
	if !exists {
		t.fail(fmt.Errorf("no executor registered for task type: %v", t.Type))
		return
	}

	if err := executor(t); err != nil {
		t.fail(err)
		return
	}
	t.complete()
}

// fail 标记失败，回调只会触发一次
func (t *Task) fail(err error) {
	t.once.Do(func() {
		t.Status = TaskStatusFailed
		t.Error = err
		t.UpdatedAt = time.Now()
		if t.Callback != nil {
			t.Callback.OnError(err)
		}
	})
}

func (t *Task) complete() {
	t.once.Do(func() {
		t.Status = TaskStatusComplete
		t.UpdatedAt = time.Now()
		if t.Callback != nil {
			t.Callback.OnComplete(t.Result)
		}
	})
}

// TaskCallback defines the interface for task completion handling
type TaskCallback interface {
	OnComplete(result interface{})
	OnError(err error)
}

// ClientContext holds client-specific settings and state
type ClientContext struct {
	ID                 string
	MaxConcurrentTasks int
	running            int
	mu                 sync.Mutex
}

// WorkerStatus represents the current status of a worker
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusBusy    WorkerStatus = "busy"
	WorkerStatusStopped WorkerStatus = "stopped"
)

// ResourceConfig defines resource limits for task execution
type ResourceConfig struct {
	MaxWorkers        int
	MaxTasksPerClient int           // 0 表示不限制
	QueueSize         int           // 默认为 MaxWorkers*2
	TaskTimeout       time.Duration // 0 表示不设置超时
}
