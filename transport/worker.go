package transport

import (
	"fmt"
	"net"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// RunWorker is the whole lifecycle of a worker process: connect to the
// master, consume the key broadcast, build the handler, then serve tasks
// until the shutdown message arrives. Any transport or execution failure
// returns an error; the run cannot continue without this worker, so the
// process exits and the operator restarts the batch.
func RunWorker(masterAddr string, factory HandlerFactory, log *zap.Logger) error {
	conn, err := net.Dial("tcp", masterAddr)
	if err != nil {
		return fmt.Errorf("connecting to master at %s: %w", masterAddr, err)
	}
	defer conn.Close()
	log.Info("connected to master", zap.String("addr", masterAddr))

	key, err := readKeyBlob(conn)
	if err != nil {
		return fmt.Errorf("receiving key broadcast: %w", err)
	}
	handler, err := factory(key)
	if err != nil {
		return fmt.Errorf("building handler from key material: %w", err)
	}
	log.Info("key material received", zap.Int("bytes", len(key)))

	dec := msgpack.NewDecoder(conn)
	enc := msgpack.NewEncoder(conn)
	served := 0

	for {
		var wt wireTask
		if err := dec.Decode(&wt); err != nil {
			return fmt.Errorf("reading task: %w", err)
		}
		if wt.Kind == kindShutdown {
			log.Info("shutdown received", zap.Int("tasks_served", served))
			return nil
		}
		if wt.Kind != kindTask {
			return fmt.Errorf("unknown message kind %d", wt.Kind)
		}

		env, err := decodeTask(wt, handler.DecodeCiphertext)
		if err != nil {
			return err
		}
		res, err := handler.Execute(env)
		if err != nil {
			return fmt.Errorf("executing node %d: %w", env.Index(), err)
		}
		wr, err := encodeResult(res)
		if err != nil {
			return err
		}
		if err := enc.Encode(&wr); err != nil {
			return fmt.Errorf("sending result for node %d: %w", res.Index, err)
		}
		served++
	}
}
