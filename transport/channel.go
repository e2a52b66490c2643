package transport

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Tuditi/pbsgraph/models"
	"github.com/Tuditi/pbsgraph/scheduler"
)

// ChannelPool runs every worker as a goroutine in the master process. Key
// broadcast still happens (each worker builds its own handler from the
// blob), so single-process runs exercise the same protocol as distributed
// ones, minus serialization of the task stream.
type ChannelPool struct {
	factory HandlerFactory
	log     *zap.Logger

	keys    []chan []byte
	tasks   []chan models.TaskEnvelope
	results chan scheduler.WorkerResult[models.Result]

	eg        *errgroup.Group
	once      sync.Once
	broadcast bool
}

// NewChannelPool starts workers goroutines, each blocked on the key
// broadcast.
func NewChannelPool(workers int, factory HandlerFactory, log *zap.Logger) *ChannelPool {
	p := &ChannelPool{
		factory: factory,
		log:     log,
		keys:    make([]chan []byte, workers),
		tasks:   make([]chan models.TaskEnvelope, workers),
		results: make(chan scheduler.WorkerResult[models.Result], workers),
		eg:      new(errgroup.Group),
	}

	for w := 0; w < workers; w++ {
		worker := w
		p.keys[w] = make(chan []byte, 1)
		p.tasks[w] = make(chan models.TaskEnvelope, 1)
		p.eg.Go(func() error { return p.run(worker) })
	}
	return p
}

func (p *ChannelPool) run(worker int) error {
	key, ok := <-p.keys[worker]
	if !ok {
		return nil // shut down before the broadcast
	}
	handler, err := p.factory(key)
	if err != nil {
		return fmt.Errorf("worker %d: building handler: %w", worker, err)
	}
	p.log.Debug("worker ready", zap.Int("worker", worker))

	for env := range p.tasks[worker] {
		res, err := handler.Execute(env)
		if err != nil {
			return fmt.Errorf("worker %d: node %d: %w", worker, env.Index(), err)
		}
		p.results <- scheduler.WorkerResult[models.Result]{Worker: worker, Result: res}
	}
	return nil
}

// Size returns the worker count.
func (p *ChannelPool) Size() int {
	return len(p.tasks)
}

// BroadcastKey hands the key bundle to every worker. Each worker blocks all
// task processing until it has its copy, so the barrier semantics match the
// distributed pool.
func (p *ChannelPool) BroadcastKey(key []byte) error {
	for _, ch := range p.keys {
		ch <- key
		close(ch)
	}
	p.broadcast = true
	return nil
}

// Send queues one envelope for the given worker.
func (p *ChannelPool) Send(worker int, env models.TaskEnvelope) error {
	if worker < 0 || worker >= len(p.tasks) {
		return fmt.Errorf("no worker with rank %d", worker)
	}
	p.tasks[worker] <- env
	return nil
}

// Results streams completed work in completion order.
func (p *ChannelPool) Results() <-chan scheduler.WorkerResult[models.Result] {
	return p.results
}

// Shutdown closes every worker's task channel and, once all workers have
// drained, the result stream. A worker that failed surfaces its error here.
func (p *ChannelPool) Shutdown() error {
	var err error
	p.once.Do(func() {
		if !p.broadcast {
			for _, ch := range p.keys {
				close(ch)
			}
		}
		for _, ch := range p.tasks {
			close(ch)
		}
		err = p.eg.Wait()
		close(p.results)
	})
	return err
}
