package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type workerMeta struct {
	worker    *Worker
	lastUsed  time.Time
	enqueued  bool // is in the idle queue
	discarded bool // is targeted as delete
}

type jobChannelPool struct {
	mu       sync.Mutex
	cond     *sync.Cond
	idle     []*workerMeta
	metadata map[chan Job]*workerMeta
	min      int
	max      int
	running  int
	expiry   time.Duration
	closed   bool
	quit     chan struct{}

	ctx    context.Context
	logger *slog.Logger
	onDone func()
}

const defaultWorkerIdle = 30 * time.Second

func newJobChannelPool(ctx context.Context, minWorkers, maxWorkers int, idle time.Duration, logger *slog.Logger, onDone func()) *jobChannelPool {
	if idle <= 0 {
		idle = defaultWorkerIdle
	}
	if maxWorkers < minWorkers {
		maxWorkers = minWorkers
	}
	p := &jobChannelPool{
		metadata: make(map[chan Job]*workerMeta),
		min:      minWorkers,
		max:      maxWorkers,
		expiry:   idle,
		quit:     make(chan struct{}),
		ctx:      ctx,
		logger:   logger,
		onDone:   onDone,
	}
	p.cond = sync.NewCond(&p.mu)
	go p.purgeStaleWorkers(idle)
	return p
}

// spawnWorker adds a new worker unless the pool is full.
func (p *jobChannelPool) spawnWorker() {
	p.mu.Lock()
	w := p.spawnLocked()
	p.mu.Unlock()
	if w != nil {
		w.start()
	}
}

func (p *jobChannelPool) spawnLocked() *Worker {
	if p.closed || p.running >= p.max {
		return nil
	}
	w := newWorker(p)
	p.metadata[w.jobs] = &workerMeta{worker: w}
	p.running++
	return w
}

// acquire gets an idle worker, or spawns a new one. It returns nil once the
// pool is shut down.
func (p *jobChannelPool) acquire() *Worker {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil
		}
		if meta := p.popIdleLocked(); meta != nil {
			p.mu.Unlock()
			return meta.worker
		}
		if w := p.spawnLocked(); w != nil {
			p.mu.Unlock()
			w.start()
			continue
		}
		p.cond.Wait()
		p.mu.Unlock()
	}
}

// release puts a worker back into the idle queue.
func (p *jobChannelPool) release(ch chan Job) {
	p.mu.Lock()
	meta, ok := p.metadata[ch]
	if !ok || meta.discarded || meta.enqueued {
		p.mu.Unlock()
		return
	}
	meta.enqueued = true
	meta.lastUsed = time.Now()
	p.idle = append(p.idle, meta)
	p.mu.Unlock()
	p.cond.Signal()
}

// retire deletes a worker.
func (p *jobChannelPool) retire(ch chan Job) {
	p.mu.Lock()
	if meta, ok := p.metadata[ch]; ok {
		delete(p.metadata, ch)
		meta.discarded = true
		if p.running > 0 {
			p.running--
		}
	}
	p.mu.Unlock()
	p.cond.Broadcast()
}

func (p *jobChannelPool) popIdleLocked() *workerMeta {
	for len(p.idle) > 0 {
		meta := p.idle[0]
		p.idle = p.idle[1:]
		if meta.discarded {
			continue
		}
		meta.enqueued = false
		return meta
	}
	return nil
}

func (p *jobChannelPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// purgeStaleWorkers calls shutdownExpired on every tick until shutdown.
func (p *jobChannelPool) purgeStaleWorkers(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.shutdownExpired()
		case <-p.quit:
			return
		}
	}
}

// shutdownExpired retires idle workers past expiry, keeping at least min.
func (p *jobChannelPool) shutdownExpired() {
	var stale []*workerMeta
	now := time.Now()

	p.mu.Lock()
	if len(p.idle) == 0 || p.running <= p.min {
		p.mu.Unlock()
		return
	}
	remaining := p.idle[:0]
	for _, meta := range p.idle {
		if meta.discarded {
			continue
		}
		if now.Sub(meta.lastUsed) >= p.expiry && p.running-len(stale) > p.min {
			meta.discarded = true
			meta.enqueued = false
			stale = append(stale, meta)
			continue
		}
		remaining = append(remaining, meta)
	}
	p.idle = remaining
	p.mu.Unlock()

	for _, meta := range stale {
		meta.worker.stop()
	}
	if len(stale) > 0 {
		p.logger.Debug("retired idle workers", "count", len(stale))
	}
}

// shutdown stops every worker. Busy workers exit after their current job.
func (p *jobChannelPool) shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.quit)
	workers := make([]*Worker, 0, len(p.metadata))
	for _, meta := range p.metadata {
		if meta.discarded { // already stopped by shutdownExpired
			continue
		}
		meta.discarded = true
		workers = append(workers, meta.worker)
	}
	p.idle = nil
	p.mu.Unlock()
	p.cond.Broadcast()

	for _, w := range workers {
		w.stop()
	}
}
