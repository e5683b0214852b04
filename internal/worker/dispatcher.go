package worker

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
)

type keyQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher accepts jobs without blocking and runs them on a bounded worker
// pool, round-robin across job keys.
type Dispatcher struct {
	pool   *jobChannelPool
	intake chan Job
	logger *slog.Logger

	mu        sync.Mutex
	queues    map[int64]*keyQueue // pending jobs for each key
	ready     *list.List          // LRU queue storing keys
	positions map[int64]*list.Element

	closeMu sync.RWMutex
	closed  bool
	pending sync.WaitGroup
	done    chan struct{}
	cancel  context.CancelFunc
}

func NewDispatcher(cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	cfg = cfg.normalized()
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	d := &Dispatcher{
		intake:    make(chan Job, cfg.QueueSize),
		logger:    logger.With("component", "dispatcher"),
		queues:    make(map[int64]*keyQueue),
		ready:     list.New(),
		positions: make(map[int64]*list.Element),
		done:      make(chan struct{}),
		cancel:    cancel,
	}
	d.pool = newJobChannelPool(ctx, cfg.MinWorkers, cfg.MaxWorkers, cfg.WorkerIdleTimeout, d.logger, d.pending.Done)

	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Submit enqueues job and returns immediately.
func (d *Dispatcher) Submit(job Job) error {
	d.closeMu.RLock()
	defer d.closeMu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	d.pending.Add(1)
	select {
	case d.intake <- job:
		return nil
	default:
		d.pending.Done()
		return ErrDispatcherBusy
	}
}

// Stop refuses new jobs, runs everything already accepted and stops the
// workers. If ctx ends first the job context is cancelled and ctx.Err()
// returned.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.closeMu.Lock()
	if d.closed {
		d.closeMu.Unlock()
		return nil
	}
	d.closed = true
	close(d.intake)
	d.closeMu.Unlock()

	drained := make(chan struct{})
	go func() {
		<-d.done
		d.pending.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		d.cancel()
		d.pool.shutdown()
		return nil
	case <-ctx.Done():
		d.cancel()
		d.pool.shutdown()
		d.logger.Warn("dispatcher stopped before queue drained", "error", ctx.Err())
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	intake := d.intake
	for {
		intake = d.drain(intake)
		if d.dispatchOne() {
			continue
		}
		if intake == nil {
			return
		}
		job, ok := <-intake
		if !ok {
			intake = nil
			continue
		}
		d.enqueueJob(job)
	}
}

// drain moves everything waiting in intake onto the key queues. It returns
// nil once intake is closed and empty.
func (d *Dispatcher) drain(intake chan Job) chan Job {
	for intake != nil {
		select {
		case job, ok := <-intake:
			if !ok {
				return nil
			}
			d.enqueueJob(job)
		default:
			return intake
		}
	}
	return nil
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.Key]
	if q == nil {
		q = &keyQueue{}
		d.queues[job.Key] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.positions[job.Key] = d.ready.PushBack(job.Key)
}

// dispatchOne hands the next job of the least recently served key to a
// worker, blocking until one is free.
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	key := elem.Value.(int64)
	q := d.queues[key]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		d.ready.Remove(elem)
		delete(d.positions, key)
		delete(d.queues, key)
	} else {
		d.ready.MoveToBack(elem)
	}
	d.mu.Unlock()

	w := d.pool.acquire()
	if w != nil {
		d.logger.Debug("assign job", "job", job.Name, "key", key)
		select {
		case w.jobs <- job:
			return true
		case <-w.quit:
		}
	}
	// pool shut down after Stop timed out
	d.logger.Warn("dropping job", "job", job.Name, "key", job.Key)
	d.pending.Done()
	return true
}
