// Package worker runs persistence jobs off the router's hot path.
// Jobs with the same key land on the same worker, preserving per-game
// write order; criticality decides what happens when queues fill up.
package worker

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rugslab/rugs-data-service/internal/telemetry"
)

// Job is one store write. Critical jobs (games, prng_tracking) briefly
// block the submitter when the queue is full; droppable jobs (event
// archive) are shed under pressure and counted.
type Job struct {
	Key      string // serialization key, usually the gameId
	Name     string // error-counter label
	Critical bool
	Do       func(ctx context.Context) error
}

type Pool struct {
	queues      []chan Job
	wg          sync.WaitGroup
	jobTimeout  time.Duration
	blockWindow time.Duration
	stopped     chan struct{}
	stopOnce    sync.Once
}

func NewPool(workers, queueSize int, jobTimeout time.Duration) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1024
	}
	p := &Pool{
		queues:      make([]chan Job, workers),
		jobTimeout:  jobTimeout,
		blockWindow: 500 * time.Millisecond,
		stopped:     make(chan struct{}),
	}
	for i := range p.queues {
		p.queues[i] = make(chan Job, queueSize)
	}
	return p
}

func (p *Pool) Start() {
	for i := range p.queues {
		p.wg.Add(1)
		go p.run(p.queues[i])
	}
}

// Submit enqueues a job. Returns false when the job was shed.
func (p *Pool) Submit(j Job) bool {
	select {
	case <-p.stopped:
		return false
	default:
	}

	q := p.queues[p.pick(j.Key)]
	if j.Critical {
		select {
		case q <- j:
			return true
		case <-p.stopped:
			return false
		case <-time.After(p.blockWindow):
			telemetry.Metrics.Errors.Inc("persistQueueStall." + j.Name)
			return false
		}
	}

	select {
	case q <- j:
		return true
	default:
		telemetry.Metrics.PersistDropped.Inc()
		return false
	}
}

// Stop signals the workers and waits for outstanding jobs up to the
// deadline. The queues are never closed: a submitter parked in a send
// must not panic, so workers exit via the stopped signal instead.
func (p *Pool) Stop(drain time.Duration) {
	p.stopOnce.Do(func() { close(p.stopped) })
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drain):
		telemetry.Warnf("worker: drain deadline exceeded, abandoning remaining jobs")
	}
}

func (p *Pool) run(q chan Job) {
	defer p.wg.Done()
	for {
		select {
		case j := <-q:
			p.runOne(j)
		case <-p.stopped:
			// Drain what was queued before intake stopped.
			for {
				select {
				case j := <-q:
					p.runOne(j)
				default:
					return
				}
			}
		}
	}
}

// runOne isolates one job; a panicking job must not take the worker
// (and its keyed queue) down with it.
func (p *Pool) runOne(j Job) {
	defer func() {
		if r := recover(); r != nil {
			telemetry.Metrics.Errors.Inc(j.Name)
			telemetry.Errorf("worker: %s panicked: %v", j.Name, r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), p.jobTimeout)
	defer cancel()
	if err := j.Do(ctx); err != nil {
		telemetry.Metrics.Errors.Inc(j.Name)
		telemetry.Warnf("worker: %s: %v", j.Name, err)
	}
}

func (p *Pool) pick(key string) int {
	if len(p.queues) == 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(p.queues)))
}
