package server

import (
	"fmt"

	"github.com/chazu/tcldis"
)

// request represents a unit of work to be executed on the pipeline
// goroutine.
type request struct {
	fn   func(*tcldis.Pipeline) interface{}
	done chan result
}

// result holds the return value from a pipeline operation.
type result struct {
	value interface{}
	err   error
}

// Worker serializes all pipeline access through a single goroutine.
// The embedded interpreter is single-threaded and its state is shared
// across calls; all HTTP handlers must go through the worker to avoid
// data races.
type Worker struct {
	pipeline *tcldis.Pipeline
	requests chan request
	quit     chan struct{}
}

// NewWorker creates a Worker and starts the processing goroutine.
func NewWorker(p *tcldis.Pipeline) *Worker {
	w := &Worker{
		pipeline: p,
		requests: make(chan request, 64),
		quit:     make(chan struct{}),
	}
	go w.loop()
	return w
}

// loop processes requests sequentially on a dedicated goroutine.
func (w *Worker) loop() {
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			return
		}
	}
}

// execute runs a function on the pipeline, recovering from panics.
func (w *Worker) execute(fn func(*tcldis.Pipeline) interface{}) result {
	var res result
	func() {
		defer func() {
			if r := recover(); r != nil {
				res.err = fmt.Errorf("%v", r)
			}
		}()
		res.value = fn(w.pipeline)
	}()
	return res
}

// Do submits a function for execution on the pipeline goroutine and
// blocks until it completes. The error is non-nil only when the
// function panicked or the worker has stopped.
func (w *Worker) Do(fn func(*tcldis.Pipeline) interface{}) (interface{}, error) {
	req := request{fn: fn, done: make(chan result, 1)}
	select {
	case w.requests <- req:
	case <-w.quit:
		return nil, fmt.Errorf("worker stopped")
	}
	select {
	case res := <-req.done:
		return res.value, res.err
	case <-w.quit:
		return nil, fmt.Errorf("worker stopped")
	}
}

// Stop shuts down the worker goroutine.
func (w *Worker) Stop() {
	close(w.quit)
}
