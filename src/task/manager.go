package task

import (
	"fmt"
	"sync"
)

// TaskManager manages async tasks and their execution
type TaskManager struct {
	config        ResourceConfig
	workerPool    *WorkerPool
	clientManager *ClientManager
}

// NewTaskManager creates a new TaskManager instance
func NewTaskManager(config ResourceConfig) *TaskManager {
	tm := &TaskManager{
		config:        config,
		clientManager: NewClientManager(config.MaxTasksPerClient),
	}
	tm.workerPool = NewWorkerPool(config, tm.clientManager)
	return tm
}

// Start starts the task manager and its components
func (tm *TaskManager) Start() {
	tm.workerPool.Start()
}

// Stop stops the task manager and its components
func (tm *TaskManager) Stop() {
	tm.workerPool.Stop()
}

// SubmitTask submits a task for execution
func (tm *TaskManager) SubmitTask(clientID string, task *Task) error {
	// 检查任务类型是否已注册
	if _, exists := GetTaskExecutor(task.Type); !exists {
		return fmt.Errorf("task type %v is not registered", task.Type)
	}

	if err := tm.clientManager.acquire(clientID); err != nil {
		return err
	}
	task.ClientID = clientID

	// 提交到工作池，失败时回滚
	if err := tm.workerPool.Submit(task); err != nil {
		tm.clientManager.release(clientID)
		return err
	}
	return nil
}

// RunningTasks 客户端正在执行或排队的任务数
func (tm *TaskManager) RunningTasks(clientID string) int {
	return tm.clientManager.running(clientID)
}

// RemoveClient 会话结束时释放客户端上下文
func (tm *TaskManager) RemoveClient(clientID string) {
	tm.clientManager.RemoveClient(clientID)
}

// IdleWorkers 空闲工作者数量
func (tm *TaskManager) IdleWorkers() int {
	return tm.workerPool.IdleWorkers()
}

// ClientManager manages client contexts and resources
type ClientManager struct {
	clients       map[string]*ClientContext
	maxConcurrent int
	mu            sync.Mutex
}

// NewClientManager creates a new client manager
func NewClientManager(maxConcurrent int) *ClientManager {
	return &ClientManager{
		clients:       make(map[string]*ClientContext),
		maxConcurrent: maxConcurrent,
	}
}

// GetClientContext gets or creates a client context
func (cm *ClientManager) GetClientContext(clientID string) *ClientContext {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.getLocked(clientID)
}

func (cm *ClientManager) getLocked(clientID string) *ClientContext {
	if ctx, exists := cm.clients[clientID]; exists {
		return ctx
	}
	ctx := &ClientContext{
		ID:                 clientID,
		MaxConcurrentTasks: cm.maxConcurrent,
	}
	cm.clients[clientID] = ctx
	return ctx
}

// RemoveClient removes a client context
func (cm *ClientManager) RemoveClient(clientID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	delete(cm.clients, clientID)
}

func (cm *ClientManager) acquire(clientID string) error {
	ctx := cm.GetClientContext(clientID)
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if ctx.MaxConcurrentTasks > 0 && ctx.running >= ctx.MaxConcurrentTasks {
		return ErrClientBusy
	}
	ctx.running++
	return nil
}

func (cm *ClientManager) release(clientID string) {
	cm.mu.Lock()
	ctx, exists := cm.clients[clientID]
	cm.mu.Unlock()
	if !exists {
		return
	}
	ctx.mu.Lock()
	if ctx.running > 0 {
		ctx.running--
	}
	ctx.mu.Unlock()
}

func (cm *ClientManager) running(clientID string) int {
	cm.mu.Lock()
	ctx, exists := cm.clients[clientID]
	cm.mu.Unlock()
	if !exists {
		return 0
	}
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return ctx.running
}
