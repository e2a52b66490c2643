package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Tuditi/pbsgraph/models"
	"github.com/Tuditi/pbsgraph/scheduler"
)

// TCPPool is the master side of the distributed protocol: one connection
// per worker rank, assigned in accept order. The master writes the key
// blob first, then msgpack task envelopes; workers write msgpack results
// back on the same connection.
type TCPPool struct {
	decode models.CiphertextDecoder
	log    *zap.Logger

	conns   []net.Conn
	encs    []*msgpack.Encoder
	results chan scheduler.WorkerResult[models.Result]

	eg   *errgroup.Group
	once sync.Once
}

// ListenForWorkers accepts exactly workers connections on addr and returns
// the assembled pool. decode rebuilds result ciphertexts on the master.
func ListenForWorkers(addr string, workers int, decode models.CiphertextDecoder, log *zap.Logger) (*TCPPool, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	defer ln.Close()

	p := &TCPPool{
		decode:  decode,
		log:     log,
		conns:   make([]net.Conn, 0, workers),
		encs:    make([]*msgpack.Encoder, 0, workers),
		results: make(chan scheduler.WorkerResult[models.Result], workers),
		eg:      new(errgroup.Group),
	}

	for rank := 0; rank < workers; rank++ {
		conn, err := ln.Accept()
		if err != nil {
			p.closeConns()
			return nil, fmt.Errorf("accepting worker %d: %w", rank, err)
		}
		log.Info("worker connected", zap.Int("rank", rank), zap.String("remote", conn.RemoteAddr().String()))
		p.conns = append(p.conns, conn)
		p.encs = append(p.encs, msgpack.NewEncoder(conn))
	}

	for rank := range p.conns {
		worker := rank
		p.eg.Go(func() error { return p.readResults(worker) })
	}
	return p, nil
}

func (p *TCPPool) readResults(worker int) error {
	dec := msgpack.NewDecoder(p.conns[worker])
	for {
		var wr wireResult
		if err := dec.Decode(&wr); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("worker %d: reading result: %w", worker, err)
		}
		res, err := decodeResult(wr, p.decode)
		if err != nil {
			return fmt.Errorf("worker %d: %w", worker, err)
		}
		p.results <- scheduler.WorkerResult[models.Result]{Worker: worker, Result: res}
	}
}

// Size returns the worker count.
func (p *TCPPool) Size() int {
	return len(p.conns)
}

// BroadcastKey writes the framed key blob to every worker. All workers
// must consume it before their first task; a worker that cannot verify the
// digest exits, which surfaces here as a send failure on its first task.
func (p *TCPPool) BroadcastKey(key []byte) error {
	for rank, conn := range p.conns {
		if err := writeKeyBlob(conn, key); err != nil {
			return fmt.Errorf("broadcasting key to worker %d: %w", rank, err)
		}
	}
	p.log.Info("key material broadcast", zap.Int("workers", len(p.conns)), zap.Int("bytes", len(key)))
	return nil
}

// Send serializes one envelope to the given worker rank.
func (p *TCPPool) Send(worker int, env models.TaskEnvelope) error {
	if worker < 0 || worker >= len(p.conns) {
		return fmt.Errorf("no worker with rank %d", worker)
	}
	wt, err := encodeTask(env)
	if err != nil {
		return err
	}
	return p.encs[worker].Encode(&wt)
}

// Results streams completed work in completion order.
func (p *TCPPool) Results() <-chan scheduler.WorkerResult[models.Result] {
	return p.results
}

func (p *TCPPool) closeConns() {
	for _, conn := range p.conns {
		conn.Close()
	}
}

// Shutdown sends every worker the shutdown message, waits for them to hang
// up, then closes the result stream.
func (p *TCPPool) Shutdown() error {
	var err error
	p.once.Do(func() {
		for rank := range p.conns {
			wt := wireTask{Kind: kindShutdown}
			if encErr := p.encs[rank].Encode(&wt); encErr != nil && err == nil {
				err = fmt.Errorf("sending shutdown to worker %d: %w", rank, encErr)
			}
		}
		if waitErr := p.eg.Wait(); waitErr != nil && err == nil {
			err = waitErr
		}
		p.closeConns()
		close(p.results)
	})
	return err
}
