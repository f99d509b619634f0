package worker

import (
	"context"
	"sync"
)

// TaskStop makes the worker loop return once it is dequeued.
type TaskStop struct{}

type Task interface{}

// Worker runs a TaskHandler on its own goroutine and feeds it tasks in the order they were sent.
type Worker struct {
	name     string
	sender   chan<- Task
	receiver <-chan Task
	closeCh  chan struct{}
	wg       *sync.WaitGroup
}

type TaskHandler interface {
	Handle(t Task)
}

// Starter is called on the worker goroutine before the first task.
type Starter interface {
	Start()
}

// Stopper is called on the worker goroutine after the loop has returned.
type Stopper interface {
	Stop()
}

func (w *Worker) Start(handler TaskHandler) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer close(w.closeCh)
		if s, ok := handler.(Starter); ok {
			s.Start()
		}
		if s, ok := handler.(Stopper); ok {
			defer s.Stop()
		}
		for {
			task := <-w.receiver
			if _, ok := task.(TaskStop); ok {
				return
			}
			handler.Handle(task)
		}
	}()
}

func (w *Worker) Name() string {
	return w.name
}

// Send queues t unless ctx is done or the worker has already returned.
func (w *Worker) Send(ctx context.Context, t Task) error {
	select {
	case <-w.closeCh:
		return context.Canceled
	default:
	}
	select {
	case w.sender <- t:
		return nil
	case <-w.closeCh:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop asks the loop to return after the tasks already queued.
func (w *Worker) Stop() {
	select {
	case w.sender <- TaskStop{}:
	case <-w.closeCh:
	}
}

// Done is closed when the worker goroutine has returned.
func (w *Worker) Done() <-chan struct{} {
	return w.closeCh
}

const defaultWorkerCapacity = 128

func NewWorker(name string, wg *sync.WaitGroup) *Worker {
	ch := make(chan Task, defaultWorkerCapacity)
	return &Worker{
		sender:   (chan<- Task)(ch),
		receiver: (<-chan Task)(ch),
		closeCh:  make(chan struct{}),
		name:     name,
		wg:       wg,
	}
}
