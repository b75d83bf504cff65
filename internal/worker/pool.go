// Package worker runs message-handling jobs off the network read loops.
//
// Jobs are submitted with a key. Jobs with the same key always run on the
// same lane, one at a time and in submission order; jobs with different keys
// may run concurrently on different lanes.
package worker

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/notesync/notesync/libs/log"
	"github.com/notesync/notesync/libs/service"
)

var (
	// ErrPoolFull is returned by Submit when the job's lane has no room.
	ErrPoolFull = errors.New("worker lane full")
	// ErrPoolStopped is returned by Submit after the pool has stopped.
	ErrPoolStopped = errors.New("worker pool stopped")
)

const (
	DefaultLanes     = 4
	DefaultLaneDepth = 128
)

// Job is a unit of work. The context is canceled when the pool stops.
type Job func(ctx context.Context)

// Stats is a snapshot of pool counters.
type Stats struct {
	Lanes     int   `json:"lanes"`
	Pending   int   `json:"pending"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Panicked  int64 `json:"panicked"`
	Dropped   int64 `json:"dropped"`
}

// Pool is a fixed set of lanes, each served by one goroutine.
type Pool struct {
	service.BaseService

	logger log.Logger
	lanes  []chan Job

	mtx     sync.RWMutex
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	active    atomic.Int64
	completed atomic.Int64
	panicked  atomic.Int64
	dropped   atomic.Int64
}

// NewPool creates a pool with the given number of lanes, each holding up to
// depth queued jobs. Non-positive values select the defaults.
func NewPool(logger log.Logger, lanes, depth int) *Pool {
	if lanes <= 0 {
		lanes = DefaultLanes
	}
	if depth <= 0 {
		depth = DefaultLaneDepth
	}

	p := &Pool{
		logger: logger,
		lanes:  make([]chan Job, lanes),
	}
	for i := range p.lanes {
		p.lanes[i] = make(chan Job, depth)
	}
	p.BaseService = *service.NewBaseService(logger, "WorkerPool", p)
	return p
}

// OnStart starts one goroutine per lane.
func (p *Pool) OnStart(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for i, lane := range p.lanes {
		p.wg.Add(1)
		go p.runLane(ctx, i, lane)
	}
	return nil
}

// OnStop cancels running jobs and waits for the lanes to drain.
func (p *Pool) OnStop() {
	p.mtx.Lock()
	p.stopped = true
	for _, lane := range p.lanes {
		close(lane)
	}
	p.mtx.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// Submit queues job on the lane selected by key. It never blocks.
func (p *Pool) Submit(key string, job Job) error {
	p.mtx.RLock()
	defer p.mtx.RUnlock()

	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.lanes[p.laneFor(key)] <- job:
		return nil
	default:
		p.dropped.Add(1)
		return ErrPoolFull
	}
}

// Stats returns current counters.
func (p *Pool) Stats() Stats {
	pending := 0
	for _, lane := range p.lanes {
		pending += len(lane)
	}
	return Stats{
		Lanes:     len(p.lanes),
		Pending:   pending,
		Active:    p.active.Load(),
		Completed: p.completed.Load(),
		Panicked:  p.panicked.Load(),
		Dropped:   p.dropped.Load(),
	}
}

func (p *Pool) laneFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(p.lanes)))
}

// runLane runs queued jobs until the lane is closed. Jobs still queued when
// the pool stops run with a canceled context.
func (p *Pool) runLane(ctx context.Context, id int, lane <-chan Job) {
	defer p.wg.Done()
	for job := range lane {
		p.run(ctx, id, job)
	}
}

func (p *Pool) run(ctx context.Context, lane int, job Job) {
	p.active.Add(1)
	defer p.active.Add(-1)

	defer func() {
		if r := recover(); r != nil {
			p.panicked.Add(1)
			p.logger.Error("panic in worker job",
				"lane", lane,
				"err", fmt.Errorf("%v", r),
				"stack", string(debug.Stack()))
		}
	}()

	job(ctx)
	p.completed.Add(1)
}
