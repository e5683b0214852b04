package worker

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrDispatcherBusy is returned by Submit when the intake queue is full.
	ErrDispatcherBusy = errors.New("dispatcher busy")
	// ErrDispatcherClosed is returned by Submit after Stop.
	ErrDispatcherClosed = errors.New("dispatcher closed")
)

// Job is one unit of background work. Jobs sharing a Key are started in
// submission order and are scheduled fairly against other keys. With more
// than one worker, same-key jobs may still overlap.
type Job struct {
	Key  int64
	Name string
	Run  func(ctx context.Context)
}

type DispatcherConfig struct {
	MinWorkers        int
	MaxWorkers        int
	QueueSize         int
	WorkerIdleTimeout time.Duration
}

const (
	defaultMaxWorkers = 4
	defaultQueueSize  = 64
)

func (c DispatcherConfig) normalized() DispatcherConfig {
	if c.MinWorkers < 0 {
		c.MinWorkers = 0
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = defaultMaxWorkers
	}
	if c.MaxWorkers < c.MinWorkers {
		c.MaxWorkers = c.MinWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.WorkerIdleTimeout <= 0 {
		c.WorkerIdleTimeout = defaultWorkerIdle
	}
	return c
}
