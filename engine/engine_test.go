package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carlowood/taskrt/task"
)

func TestMainloopDrivesEngineTasksToCompletion(t *testing.T) {
	e := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = e.Mainloop(ctx) }()

	done := make(chan bool, 1)
	tsk := task.New(func(tt *task.Task, s int) task.Directive {
		return task.Finish()
	})
	tsk.Run(e, func(success bool) { done <- success })

	select {
	case ok := <-done:
		require.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("task never finished")
	}
}

func TestMainloopHonoursWaitSignal(t *testing.T) {
	e := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = e.Mainloop(ctx) }()

	const (
		stWait = iota
		stDone
	)
	var self *task.Task
	self = task.New(func(tt *task.Task, s int) task.Directive {
		switch s {
		case stWait:
			tt.SetRunState(stDone)
			return task.Wait(1<<0, 1<<0)
		case stDone:
			return task.Finish()
		}
		return task.Abort()
	})

	done := make(chan bool, 1)
	self.Run(e, func(success bool) { done <- success })

	time.Sleep(20 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("task finished before signal")
	default:
	}

	self.Signal(0)

	select {
	case ok := <-done:
		require.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("task never finished after signal")
	}
}

func TestMainloopStopsOnContextCancel(t *testing.T) {
	e := New()
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- e.Mainloop(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Mainloop did not observe cancellation")
	}
}

func TestEngineDropsFinishedTasks(t *testing.T) {
	e := New()
	tsk := task.New(func(tt *task.Task, s int) task.Directive { return task.Finish() })
	done := make(chan struct{})
	tsk.Run(e, func(bool) { close(done) })

	assert.Equal(t, 1, e.Len())
	e.runPass()
	<-done
	assert.Equal(t, 0, e.Len())
}
