package worker

import (
	"context"
	"log/slog"
	"runtime/debug"
)

type Worker struct {
	pool   *jobChannelPool
	jobs   chan Job
	quit   chan struct{}
	ctx    context.Context
	logger *slog.Logger
	onDone func()
}

func newWorker(p *jobChannelPool) *Worker {
	return &Worker{
		pool:   p,
		jobs:   make(chan Job),
		quit:   make(chan struct{}),
		ctx:    p.ctx,
		logger: p.logger,
		onDone: p.onDone,
	}
}

// start registers the worker as idle and serves jobs until stopped.
func (w *Worker) start() {
	go func() {
		defer w.pool.retire(w.jobs)
		for {
			w.pool.release(w.jobs)
			select {
			case job := <-w.jobs:
				w.execute(job)
			case <-w.quit:
				return
			}
		}
	}()
}

func (w *Worker) stop() {
	close(w.quit)
}

func (w *Worker) execute(job Job) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("job panicked",
				"job", job.Name,
				"key", job.Key,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
		if w.onDone != nil {
			w.onDone()
		}
	}()
	job.Run(w.ctx)
}
