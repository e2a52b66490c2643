package scheduler_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Tuditi/pbsgraph/scheduler"
)

type fakeTask struct {
	node int
}

type fakeResult struct {
	node int
}

// fanGraph holds n independent pending nodes fed by one computed root:
// everything is ready at init and nothing unlocks later.
type fanGraph struct {
	mu        sync.Mutex
	pending   int
	committed map[int]int
	prios     []scheduler.Priority
}

func newFanGraph(prios []scheduler.Priority) *fanGraph {
	return &fanGraph{pending: len(prios), committed: make(map[int]int), prios: prios}
}

func (g *fanGraph) Init() []scheduler.PrioritizedTask[fakeTask] {
	tasks := make([]scheduler.PrioritizedTask[fakeTask], len(g.prios))
	for i, p := range g.prios {
		tasks[i] = scheduler.PrioritizedTask[fakeTask]{Priority: p, Key: i, Task: fakeTask{node: i}}
	}
	return tasks
}

func (g *fanGraph) CommitResult(res fakeResult) []scheduler.PrioritizedTask[fakeTask] {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.committed[res.node]++
	g.pending--
	return nil
}

func (g *fanGraph) IsFinished() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending == 0
}

// syncPool executes each task inline on Send and records dispatch order.
type syncPool struct {
	workers  int
	order    []int
	results  chan scheduler.WorkerResult[fakeResult]
	shutdown bool
}

func newSyncPool(workers, capacity int) *syncPool {
	return &syncPool{
		workers: workers,
		results: make(chan scheduler.WorkerResult[fakeResult], capacity),
	}
}

func (p *syncPool) Size() int { return p.workers }

func (p *syncPool) Send(worker int, task fakeTask) error {
	p.order = append(p.order, task.node)
	p.results <- scheduler.WorkerResult[fakeResult]{Worker: worker, Result: fakeResult{node: task.node}}
	return nil
}

func (p *syncPool) Results() <-chan scheduler.WorkerResult[fakeResult] { return p.results }

func (p *syncPool) Shutdown() error {
	p.shutdown = true
	return nil
}

func TestRunCommitsEveryNodeExactlyOnce(t *testing.T) {
	g := newFanGraph([]scheduler.Priority{1, 1, 1, 1, 1})
	pool := newSyncPool(2, 5)
	engine := scheduler.New[fakeTask, fakeTask, fakeResult](pool,
		func(task fakeTask) (fakeTask, error) { return task, nil }, zap.NewNop())

	elapsed, err := engine.Run(context.Background(), "test-run", g)
	require.NoError(t, err)
	require.GreaterOrEqual(t, elapsed.Nanoseconds(), int64(0))
	require.True(t, pool.shutdown)

	require.Len(t, g.committed, 5)
	for node, count := range g.committed {
		require.Equal(t, 1, count, "node %d committed %d times", node, count)
	}

	status := engine.Status()
	require.Equal(t, "finished", status.State)
	require.Equal(t, "test-run", status.RunID)
	require.Equal(t, 5, status.Dispatched)
	require.Equal(t, 5, status.Committed)
	require.Equal(t, 0, status.InFlight)
}

func TestDispatchFollowsPriorityWithIndexTieBreak(t *testing.T) {
	// One worker, so dispatch order is fully determined by the queue.
	g := newFanGraph([]scheduler.Priority{2, 5, 2, 9, 5})
	pool := newSyncPool(1, 5)
	engine := scheduler.New[fakeTask, fakeTask, fakeResult](pool,
		func(task fakeTask) (fakeTask, error) { return task, nil }, zap.NewNop())

	_, err := engine.Run(context.Background(), "order-run", g)
	require.NoError(t, err)

	require.Equal(t, []int{3, 1, 4, 0, 2}, pool.order)
}

func TestEmptyGraphFinishesImmediately(t *testing.T) {
	g := newFanGraph(nil)
	pool := newSyncPool(2, 1)
	engine := scheduler.New[fakeTask, fakeTask, fakeResult](pool,
		func(task fakeTask) (fakeTask, error) { return task, nil }, zap.NewNop())

	_, err := engine.Run(context.Background(), "empty-run", g)
	require.NoError(t, err)
	require.Empty(t, pool.order)
	require.Equal(t, "finished", engine.Status().State)
}

func TestCancelledContextStopsRun(t *testing.T) {
	g := newFanGraph([]scheduler.Priority{1, 1})

	// A pool that swallows tasks so the engine has to wait on results.
	pool := &stuckPool{results: make(chan scheduler.WorkerResult[fakeResult])}
	engine := scheduler.New[fakeTask, fakeTask, fakeResult](pool,
		func(task fakeTask) (fakeTask, error) { return task, nil }, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := engine.Run(ctx, "cancelled-run", g)
	require.ErrorIs(t, err, context.Canceled)
}

type stuckPool struct {
	results chan scheduler.WorkerResult[fakeResult]
}

func (p *stuckPool) Size() int                                          { return 2 }
func (p *stuckPool) Send(worker int, task fakeTask) error               { return nil }
func (p *stuckPool) Results() <-chan scheduler.WorkerResult[fakeResult] { return p.results }
func (p *stuckPool) Shutdown() error                                    { return nil }
