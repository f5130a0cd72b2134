package task

import (
	"context"
	"fmt"
	"sync"
)

// WorkerPool manages a pool of workers for executing tasks
type WorkerPool struct {
	config        ResourceConfig
	workers       []*Worker
	taskQueue     chan *Task
	stopChan      chan struct{}
	clientManager *ClientManager
	wg            sync.WaitGroup
	stopped       bool
	mu            sync.RWMutex
}

// Worker represents a task execution worker
type Worker struct {
	id     string
	status WorkerStatus
	pool   *WorkerPool
	mu     sync.Mutex
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(config ResourceConfig, clientManager *ClientManager) *WorkerPool {
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = 1
	}
	if config.QueueSize <= 0 {
		config.QueueSize = config.MaxWorkers * 2
	}
	wp := &WorkerPool{
		config:        config,
		taskQueue:     make(chan *Task, config.QueueSize),
		stopChan:      make(chan struct{}),
		clientManager: clientManager,
	}

	wp.workers = make([]*Worker, config.MaxWorkers)
	for i := 0; i < config.MaxWorkers; i++ {
		wp.workers[i] = &Worker{
			id:     fmt.Sprintf("worker-%d", i),
			status: WorkerStatusIdle,
			pool:   wp,
		}
	}
	return wp
}

// Start starts the worker pool
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	for _, worker := range wp.workers {
		wp.wg.Add(1)
		go worker.start()
	}
}

// Stop stops the worker pool, queued tasks fail with ErrPoolStopped
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	close(wp.stopChan)
	wp.mu.Unlock()

	wp.wg.Wait()

	for {
		select {
		case task := <-wp.taskQueue:
			wp.release(task)
			task.fail(ErrPoolStopped)
		default:
			return
		}
	}
}

// Submit submits a task to the worker pool
func (wp *WorkerPool) Submit(task *Task) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.stopped {
		return ErrPoolStopped
	}

	select {
	case wp.taskQueue <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// IdleWorkers 当前空闲的工作者数量
func (wp *WorkerPool) IdleWorkers() int {
	idle := 0
	for _, worker := range wp.workers {
		if worker.Status() == WorkerStatusIdle {
			idle++
		}
	}
	return idle
}

func (wp *WorkerPool) release(task *Task) {
	if task.ClientID != "" && wp.clientManager != nil {
		wp.clientManager.release(task.ClientID)
	}
}

// Status 工作者当前状态
func (w *Worker) Status() WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *Worker) setStatus(status WorkerStatus) {
	w.mu.Lock()
	w.status = status
	w.mu.Unlock()
}

// start starts the worker
func (w *Worker) start() {
	defer w.pool.wg.Done()
	for {
		select {
		case <-w.pool.stopChan:
			w.setStatus(WorkerStatusStopped)
			return
		case task := <-w.pool.taskQueue:
			w.executeTask(task)
		}
	}
}

// executeTask executes a task
func (w *Worker) executeTask(task *Task) {
	w.setStatus(WorkerStatusBusy)
	defer func() {
		w.setStatus(WorkerStatusIdle)
		// 任务完成，减少并发计数
		w.pool.release(task)
	}()

	if timeout := w.pool.config.TaskTimeout; timeout > 0 {
		ctx, cancel := context.WithTimeout(task.Context, timeout)
		defer cancel()
		task.Context = ctx
	}

	task.Execute()
}
