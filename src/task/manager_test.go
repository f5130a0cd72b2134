package task

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testTypeEcho  TaskType = "test_echo"
	testTypeBlock TaskType = "test_block"
	testTypeFail  TaskType = "test_fail"
	testTypePanic TaskType = "test_panic"
)

func init() {
	RegisterTaskExecutor(testTypeEcho, func(t *Task) error {
		t.Result = t.Params
		return nil
	})
	RegisterTaskExecutor(testTypeBlock, func(t *Task) error {
		release := t.Params.(chan struct{})
		select {
		case <-release:
			return nil
		case <-t.Context.Done():
			return t.Context.Err()
		}
	})
	RegisterTaskExecutor(testTypeFail, func(t *Task) error {
		return errors.New("boom")
	})
	RegisterTaskExecutor(testTypePanic, func(t *Task) error {
		panic("unexpected")
	})
}

type outcome struct {
	result interface{}
	err    error
}

func submit(t *testing.T, tm *TaskManager, clientID string, taskType TaskType, params interface{}) (<-chan outcome, error) {
	t.Helper()
	done := make(chan outcome, 1)
	task, _ := NewTask(context.Background(), taskType, params)
	task.Callback = NewCallBack(
		func(result interface{}) { done <- outcome{result: result} },
		func(err error) { done <- outcome{err: err} },
	)
	return done, tm.SubmitTask(clientID, task)
}

func wait(t *testing.T, ch <-chan outcome) outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("任务没有在规定时间内完成")
		return outcome{}
	}
}

func newManager(t *testing.T, config ResourceConfig) *TaskManager {
	t.Helper()
	tm := NewTaskManager(config)
	tm.Start()
	t.Cleanup(tm.Stop)
	return tm
}

func TestTaskManager_CompleteAndFail(t *testing.T) {
	tm := newManager(t, ResourceConfig{MaxWorkers: 2})

	done, err := submit(t, tm, "c1", testTypeEcho, "hello")
	require.NoError(t, err)
	o := wait(t, done)
	assert.NoError(t, o.err)
	assert.Equal(t, "hello", o.result)

	done, err = submit(t, tm, "c1", testTypeFail, nil)
	require.NoError(t, err)
	assert.EqualError(t, wait(t, done).err, "boom")

	done, err = submit(t, tm, "c1", testTypePanic, nil)
	require.NoError(t, err)
	assert.ErrorContains(t, wait(t, done).err, "task panicked")
}

func TestTaskManager_UnregisteredType(t *testing.T) {
	tm := newManager(t, ResourceConfig{MaxWorkers: 1})
	_, err := submit(t, tm, "c1", TaskType("unknown"), nil)
	assert.Error(t, err)
	assert.Zero(t, tm.RunningTasks("c1"))
}

func TestTaskManager_PerClientLimit(t *testing.T) {
	tm := newManager(t, ResourceConfig{MaxWorkers: 2, MaxTasksPerClient: 1})

	release := make(chan struct{})
	done, err := submit(t, tm, "c1", testTypeBlock, release)
	require.NoError(t, err)
	assert.Equal(t, 1, tm.RunningTasks("c1"))

	_, err = submit(t, tm, "c1", testTypeEcho, nil)
	assert.ErrorIs(t, err, ErrClientBusy)

	// 其它客户端不受影响
	other, err := submit(t, tm, "c2", testTypeEcho, "ok")
	require.NoError(t, err)
	assert.Equal(t, "ok", wait(t, other).result)

	close(release)
	assert.NoError(t, wait(t, done).err)

	require.Eventually(t, func() bool { return tm.RunningTasks("c1") == 0 }, time.Second, 10*time.Millisecond)
	_, err = submit(t, tm, "c1", testTypeEcho, nil)
	assert.NoError(t, err)
}

func TestTaskManager_Timeout(t *testing.T) {
	tm := newManager(t, ResourceConfig{MaxWorkers: 1, TaskTimeout: 50 * time.Millisecond})

	done, err := submit(t, tm, "c1", testTypeBlock, make(chan struct{}))
	require.NoError(t, err)
	assert.ErrorIs(t, wait(t, done).err, context.DeadlineExceeded)
}

func TestTaskManager_CallbackFiresOnce(t *testing.T) {
	var calls int32
	task, _ := NewTask(context.Background(), testTypeFail, nil)
	task.Callback = NewCallBack(
		func(interface{}) { atomic.AddInt32(&calls, 1) },
		func(error) { atomic.AddInt32(&calls, 1) },
	)
	task.Execute()
	task.fail(errors.New("again"))
	task.complete()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, TaskStatusFailed, task.Status)
}

func TestWorkerPool_StopRejectsSubmit(t *testing.T) {
	tm := NewTaskManager(ResourceConfig{MaxWorkers: 1})
	tm.Start()
	tm.Stop()

	_, err := submit(t, tm, "c1", testTypeEcho, nil)
	assert.ErrorIs(t, err, ErrPoolStopped)
	assert.Zero(t, tm.RunningTasks("c1"))
}

func TestTask_CancelledContextSkipsExecution(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	errCh := make(chan error, 1)
	task, id := NewTask(ctx, testTypeEcho, "x")
	assert.NotEmpty(t, id)
	task.Callback = NewCallBack(nil, func(err error) { errCh <- err })
	task.Execute()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("没有收到取消回调")
	}
	assert.Nil(t, task.Result)
}
