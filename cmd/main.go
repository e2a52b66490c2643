package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Tuditi/pbsgraph/dag"
	"github.com/Tuditi/pbsgraph/db"
	"github.com/Tuditi/pbsgraph/fhe"
	"github.com/Tuditi/pbsgraph/handlers"
	"github.com/Tuditi/pbsgraph/logger"
	"github.com/Tuditi/pbsgraph/models"
	"github.com/Tuditi/pbsgraph/repository"
	"github.com/Tuditi/pbsgraph/routers"
	"github.com/Tuditi/pbsgraph/scheduler"
	"github.com/Tuditi/pbsgraph/transport"
)

func main() {
	viper.SetConfigFile("config/config.yaml")
	if err := viper.ReadInConfig(); err != nil {
		fmt.Println("Config file error:", err)
		os.Exit(1)
	}

	if err := logger.InitLogger(viper.GetString("log.app_log_file"), viper.GetString("log.level")); err != nil {
		fmt.Println("Failed to initialize logger:", err)
		os.Exit(1)
	}
	log := logger.Logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	role := viper.GetString("role")
	log.Info("Starting bootstrap graph node", zap.String("role", role))

	var err error
	switch role {
	case "worker":
		err = transport.RunWorker(viper.GetString("worker.master_addr"), handlerFactory(), log)
	case "master", "local":
		err = runMaster(ctx, role, log)
	default:
		err = fmt.Errorf("unknown role %q (want master, worker, or local)", role)
	}
	if err != nil {
		log.Fatal("Run failed", zap.Error(err))
	}
}

// handlerFactory picks the worker-side evaluator per the configured scheme.
// Workers reconstruct everything they need from the broadcast key bundle.
func handlerFactory() transport.HandlerFactory {
	scheme := viper.GetString("scheme")
	return func(key []byte) (transport.Handler, error) {
		switch scheme {
		case "cleartext":
			eval, err := fhe.NewCleartextEvaluatorFromKey(key)
			if err != nil {
				return nil, err
			}
			return fhe.NewRunner(eval, false), nil
		case "lattice":
			bundle, err := fhe.UnmarshalLatticeKey(key)
			if err != nil {
				return nil, err
			}
			return fhe.NewRunner(fhe.NewLatticeEvaluator(bundle), false), nil
		default:
			return nil, fmt.Errorf("unknown scheme %q", scheme)
		}
	}
}

// keyring is the master-side bundle: an evaluator for pre-combining and
// output reads, the broadcastable key material, and scheme-specific
// encrypt/decrypt hooks for the demo operands.
type keyring struct {
	eval    fhe.Evaluator
	key     fhe.KeyMaterial
	encrypt func(v uint64) (models.Ciphertext, error)
	decrypt func(ct models.Ciphertext) (uint64, error)
}

func buildKeyring(log *zap.Logger) (*keyring, error) {
	m := viper.GetUint64("message_modulus")
	if m == 0 {
		m = 4
	}

	switch scheme := viper.GetString("scheme"); scheme {
	case "cleartext":
		eval := fhe.NewCleartextEvaluator(m)
		return &keyring{
			eval:    eval,
			key:     fhe.CleartextKey{MessageModulus: m},
			encrypt: func(v uint64) (models.Ciphertext, error) { return &fhe.ClearCiphertext{Value: v}, nil },
			decrypt: func(ct models.Ciphertext) (uint64, error) {
				c, ok := ct.(*fhe.ClearCiphertext)
				if !ok {
					return 0, fmt.Errorf("unexpected ciphertext type %T", ct)
				}
				return c.Value, nil
			},
		}, nil
	case "lattice":
		paramsLWE, paramsBR, err := fhe.DemoParameters()
		if err != nil {
			return nil, fmt.Errorf("building parameters: %w", err)
		}
		log.Info("Generating lattice key material",
			zap.Int("n_lwe", paramsLWE.N()), zap.Int("n_br", paramsBR.N()))
		kp, err := fhe.GenLatticeKeyPair(paramsLWE, paramsBR, m)
		if err != nil {
			return nil, fmt.Errorf("generating keys: %w", err)
		}
		return &keyring{
			eval:    fhe.NewLatticeEvaluator(kp.Key),
			key:     kp.Key,
			encrypt: kp.Encrypt,
			decrypt: kp.Decrypt,
		}, nil
	default:
		return nil, fmt.Errorf("unknown scheme %q", scheme)
	}
}

// blocksOf decomposes v into count little-endian blocks modulo m.
func blocksOf(v, m uint64, count int) []uint64 {
	out := make([]uint64, count)
	for i := 0; i < count; i++ {
		out[i] = v % m
		v /= m
	}
	return out
}

func encryptBlocks(kr *keyring, values []uint64) ([]models.Ciphertext, error) {
	out := make([]models.Ciphertext, len(values))
	for i, v := range values {
		ct, err := kr.encrypt(v)
		if err != nil {
			return nil, err
		}
		out[i] = ct
	}
	return out, nil
}

func runMaster(ctx context.Context, role string, log *zap.Logger) error {
	kr, err := buildKeyring(log)
	if err != nil {
		return err
	}

	m := viper.GetUint64("message_modulus")
	if m == 0 {
		m = 4
	}
	blocks := viper.GetInt("demo.blocks")
	if blocks == 0 {
		blocks = 4
	}

	lhs, err := encryptBlocks(kr, blocksOf(viper.GetUint64("demo.lhs"), m, blocks))
	if err != nil {
		return fmt.Errorf("encrypting lhs: %w", err)
	}
	rhs, err := encryptBlocks(kr, blocksOf(viper.GetUint64("demo.rhs"), m, blocks))
	if err != nil {
		return fmt.Errorf("encrypting rhs: %w", err)
	}
	zero, err := kr.encrypt(0)
	if err != nil {
		return fmt.Errorf("encrypting carry seed: %w", err)
	}

	graph, outputs, err := dag.CarryAddGraph(lhs, rhs, zero, m)
	if err != nil {
		return fmt.Errorf("building circuit: %w", err)
	}
	log.Info("Circuit built", zap.Int("nodes", graph.Len()), zap.Int("pending", graph.NotComputed()))

	workers := viper.GetInt("workers")
	if workers == 0 {
		workers = 2
	}

	var pool transport.Pool
	if role == "local" {
		pool = transport.NewChannelPool(workers, handlerFactory(), log)
	} else {
		pool, err = transport.ListenForWorkers(viper.GetString("master.listen_addr"), workers, kr.eval.DecodeCiphertext, log)
		if err != nil {
			return err
		}
	}
	defer pool.Shutdown()

	runner := fhe.NewRunner(kr.eval, viper.GetBool("precombine"))
	engine := scheduler.New[models.MultiSumTask, models.TaskEnvelope, models.Result](pool, runner.Prepare, log)

	srv := statusServer(engine, graph, log)
	defer srv.Close()

	keyBlob, err := kr.key.MarshalBinary()
	if err != nil {
		return fmt.Errorf("serializing key material: %w", err)
	}
	if err := pool.BroadcastKey(keyBlob); err != nil {
		return err
	}

	graph.AssertFinishable()

	runID := uuid.NewString()
	elapsed, err := engine.Run(ctx, runID, graph)
	if err != nil {
		return err
	}

	if err := persistRun(runID, graph, outputs, log); err != nil {
		return err
	}

	for _, idx := range outputs {
		ct, err := graph.Ciphertext(idx)
		if err != nil {
			return err
		}
		v, err := kr.decrypt(ct)
		if err != nil {
			log.Warn("Could not decode output block", zap.Int("node", idx), zap.Error(err))
			continue
		}
		log.Info("Output block", zap.Int("node", idx), zap.Uint64("value", v))
	}
	log.Info("Run complete", zap.String("run_id", runID), zap.Duration("elapsed", elapsed))
	return nil
}

func statusServer(engine handlers.StatusSource, graph *dag.Graph, log *zap.Logger) *http.Server {
	h := handlers.NewHandler(engine, graph)
	r := mux.NewRouter()
	routers.RegisterRoutes(r, h)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", viper.GetInt("server.port")),
		Handler: r,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("Status server stopped", zap.Error(err))
		}
	}()
	return srv
}

func persistRun(runID string, graph *dag.Graph, outputs []int, log *zap.Logger) error {
	path := viper.GetString("leveldb.path")
	if path == "" {
		return nil
	}

	ldb, err := db.NewLevelDB(path)
	if err != nil {
		return fmt.Errorf("opening leveldb: %w", err)
	}
	defer ldb.Close()
	repo := repository.NewResultRepository(ldb)

	results := make(map[int][]byte, len(outputs))
	for _, idx := range outputs {
		ct, err := graph.Ciphertext(idx)
		if err != nil {
			return err
		}
		data, err := ct.MarshalBinary()
		if err != nil {
			return fmt.Errorf("marshaling output of node %d: %w", idx, err)
		}
		results[idx] = data
	}
	if err := repo.PutResults(runID, results); err != nil {
		return fmt.Errorf("persisting results: %w", err)
	}

	total := graph.Len()
	if err := repo.PutCheckpoint(&models.Checkpoint{
		ID:        uuid.NewString(),
		RunID:     runID,
		Computed:  total - graph.NotComputed(),
		Total:     total,
		Timestamp: time.Now().UnixMilli(),
	}); err != nil {
		return fmt.Errorf("persisting checkpoint: %w", err)
	}
	log.Info("Results persisted", zap.Int("outputs", len(results)), zap.String("run_id", runID))
	return nil
}
