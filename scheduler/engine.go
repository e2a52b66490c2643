package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the master loop's lifecycle phase.
type State int

const (
	StateIdle State = iota
	StateInitializing
	StateRunning
	StateDraining
	StateFinished
)

var stateNames = [...]string{"idle", "initializing", "running", "draining", "finished"}

func (s State) String() string {
	if s < StateIdle || s > StateFinished {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// WorkerResult tags a result with the worker rank that produced it, so the
// master can hand that worker its next task.
type WorkerResult[R any] struct {
	Worker int
	Result R
}

// WorkerPool abstracts the transport between the master loop and its
// workers: point-to-point task sends and a shared many-to-one result
// stream. U is the outbound message type, which may differ from the graph's
// task type when the master pre-processes tasks before sending.
type WorkerPool[U, R any] interface {
	// Size returns the number of worker ranks.
	Size() int

	// Send delivers one task message to the given worker rank.
	Send(worker int, msg U) error

	// Results streams completed work from any worker, in completion order.
	Results() <-chan WorkerResult[R]

	// Shutdown tells every worker to exit its receive loop. Safe to call
	// more than once.
	Shutdown() error
}

// Status is a point-in-time snapshot of a run, safe to read while the
// engine is looping.
type Status struct {
	RunID      string `json:"run_id"`
	State      string `json:"state"`
	Dispatched int    `json:"dispatched"`
	Committed  int    `json:"committed"`
	InFlight   int    `json:"in_flight"`
	Queued     int    `json:"queued"`
}

// Engine executes a TaskGraph over a WorkerPool. T is the graph's task
// type, U the wire task type, R the result type. A single Run owns the
// graph exclusively for its whole duration; the engine itself is
// single-threaded apart from the pool's delivery goroutines.
type Engine[T, U, R any] struct {
	pool    WorkerPool[U, R]
	prepare func(T) (U, error)
	log     *zap.Logger

	mu     sync.Mutex
	status Status
}

// New builds an engine. prepare maps each ready task to its outbound
// message; it runs on the master, so any master-side phase of the work
// (such as pre-combining) belongs there.
func New[T, U, R any](pool WorkerPool[U, R], prepare func(T) (U, error), log *zap.Logger) *Engine[T, U, R] {
	return &Engine[T, U, R]{
		pool:    pool,
		prepare: prepare,
		log:     log,
		status:  Status{State: StateIdle.String()},
	}
}

// Status returns the current run snapshot.
func (e *Engine[T, U, R]) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *Engine[T, U, R]) setState(s State) {
	e.mu.Lock()
	e.status.State = s.String()
	e.mu.Unlock()
}

func (e *Engine[T, U, R]) update(fn func(*Status)) {
	e.mu.Lock()
	fn(&e.status)
	e.mu.Unlock()
}

// Run drives the graph to completion and returns the wall-clock duration of
// the dispatch loop. Scheduling-invariant violations inside the graph panic
// with node diagnostics; transport failures return an error, since a run
// without its task channel cannot make progress and is simply restarted by
// the caller.
func (e *Engine[T, U, R]) Run(ctx context.Context, runID string, g TaskGraph[T, R]) (time.Duration, error) {
	e.update(func(s *Status) { *s = Status{RunID: runID, State: StateInitializing.String()} })
	e.log.Info("initializing run", zap.String("run_id", runID), zap.Int("workers", e.pool.Size()))

	var ready taskHeap[T]
	for _, t := range g.Init() {
		ready.push(t)
	}

	idle := make([]int, e.pool.Size())
	for i := range idle {
		idle[i] = i
	}

	inFlight := 0
	start := time.Now()
	e.setState(StateRunning)

	for !g.IsFinished() {
		for len(idle) > 0 && ready.Len() > 0 {
			next := ready.pop()
			worker := idle[len(idle)-1]
			idle = idle[:len(idle)-1]

			msg, err := e.prepare(next.Task)
			if err != nil {
				return 0, fmt.Errorf("preparing task for node %d: %w", next.Key, err)
			}
			if err := e.pool.Send(worker, msg); err != nil {
				return 0, fmt.Errorf("sending node %d to worker %d: %w", next.Key, worker, err)
			}
			e.log.Debug("dispatched task",
				zap.Int("node", next.Key),
				zap.Int("worker", worker),
				zap.Int("priority", int(next.Priority)))
			inFlight++
			e.update(func(s *Status) {
				s.Dispatched++
				s.InFlight = inFlight
				s.Queued = ready.Len()
			})
		}

		if inFlight == 0 {
			// Nothing queued, nothing outstanding, graph not finished:
			// the ready-set discovery has lost nodes.
			panic(fmt.Sprintf("scheduler: run %s stalled with %d tasks queued and no work in flight", runID, ready.Len()))
		}

		if ready.Len() == 0 {
			e.setState(StateDraining)
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case wr, ok := <-e.pool.Results():
			if !ok {
				return 0, fmt.Errorf("run %s: result channel closed with %d tasks in flight", runID, inFlight)
			}
			inFlight--
			idle = append(idle, wr.Worker)
			for _, t := range g.CommitResult(wr.Result) {
				ready.push(t)
			}
			e.update(func(s *Status) {
				s.Committed++
				s.InFlight = inFlight
				s.Queued = ready.Len()
			})
			if ready.Len() > 0 {
				e.setState(StateRunning)
			}
		}
	}

	elapsed := time.Since(start)
	e.setState(StateFinished)
	e.log.Info("run finished",
		zap.String("run_id", runID),
		zap.Duration("elapsed", elapsed),
		zap.Int("committed", e.Status().Committed))

	if err := e.pool.Shutdown(); err != nil {
		return elapsed, fmt.Errorf("shutting down worker pool: %w", err)
	}
	return elapsed, nil
}
