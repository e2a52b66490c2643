// Package transport carries the master/worker protocol: a one-shot
// broadcast of the evaluation-key bundle, point-to-point task messages, and
// a many-to-one result stream. Two pools implement it: goroutines over
// channels for single-process runs, and TCP connections for one process
// per worker. The protocol semantics are identical either way.
package transport

import (
	"github.com/Tuditi/pbsgraph/models"
	"github.com/Tuditi/pbsgraph/scheduler"
)

// Handler executes task envelopes on a worker. It also decodes inbound
// ciphertext bytes, since only the scheme knows their layout.
type Handler interface {
	Execute(env models.TaskEnvelope) (models.Result, error)
	DecodeCiphertext(data []byte) (models.Ciphertext, error)
}

// HandlerFactory builds a worker's handler from the broadcast key bundle.
// It runs exactly once per worker, after the key broadcast and before the
// first task.
type HandlerFactory func(key []byte) (Handler, error)

// Pool is a scheduler worker pool that additionally performs the key
// broadcast. No task may be sent before BroadcastKey has returned.
type Pool interface {
	scheduler.WorkerPool[models.TaskEnvelope, models.Result]
	BroadcastKey(key []byte) error
}
