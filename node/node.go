package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	ds "github.com/ipfs/go-datastore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/libs/service"
	"go.uber.org/multierr"
	"golang.org/x/net/netutil"

	"github.com/rollkit/rollcore/config"
	"github.com/rollkit/rollcore/executor"
	"github.com/rollkit/rollcore/programs/loader"
	"github.com/rollkit/rollcore/programs/system"
	"github.com/rollkit/rollcore/rollupdb"
	"github.com/rollkit/rollcore/sequencer"
	"github.com/rollkit/rollcore/store"
	"github.com/rollkit/rollcore/types"
	"github.com/rollkit/rollcore/vm"
)

// prefixes used in KV store to separate ledger data from the sequencer log
var (
	mainPrefix      = "0"
	sequencerPrefix = "1"
)

// Node connects the sequencer, the execution engine and the ledger.
type Node struct {
	service.BaseService

	conf    config.NodeConfig
	genesis *types.GenesisDoc

	Store     store.Store
	DB        *rollupdb.RollupDB
	Env       *vm.Environment
	Executor  *executor.Executor
	Sequencer *sequencer.Sequencer

	metricsServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNode creates a node. With an empty RootDir and DBPath all state is kept in memory.
func NewNode(ctx context.Context, conf config.NodeConfig, genesis *types.GenesisDoc, logger log.Logger) (*Node, error) {
	if genesis == nil {
		return nil, errors.New("genesis document is required")
	}
	if err := genesis.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("invalid genesis: %w", err)
	}
	if err := conf.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var baseKV ds.Batching
	var err error
	if conf.RootDir == "" && conf.DBPath == "" { // this is used for testing
		logger.Info("WARNING: working in in-memory mode")
		baseKV, err = store.NewDefaultInMemoryKVStore()
	} else {
		baseKV, err = store.NewDefaultKVStore(conf.RootDir, conf.DBPath, "rollcore")
	}
	if err != nil {
		return nil, err
	}

	dbMetrics, execMetrics, seqMetrics := metricsFor(conf.Instrumentation, genesis.ChainID)

	env, err := vm.NewEnvironment(conf.Execution.RuntimeConfig(), vm.RollupForkGraph{}, logger.With("module", "vm"))
	if err != nil {
		return nil, err
	}
	system.Register(env)
	loader.Register(env)
	if err := loadGenesisPrograms(env, genesis); err != nil {
		return nil, err
	}

	var checks executor.CheckResultSupplier = executor.MockCheckResults{LamportsPerSignature: conf.Execution.LamportsPerSignature}
	if conf.Execution.VerifySignatures {
		checks = executor.SignatureCheckResults{LamportsPerSignature: conf.Execution.LamportsPerSignature}
	}

	s := store.New(store.NewPrefixKV(baseKV, mainPrefix))
	db := rollupdb.NewRollupDB(s, conf.Ledger.InboxSize, genesisAccounts(genesis), logger.With("module", "ledger"), dbMetrics)
	seq := sequencer.NewSequencer(store.NewPrefixKV(baseKV, sequencerPrefix), conf.Sequencer.QueueSize, logger.With("module", "sequencer"), seqMetrics)

	ctx, cancel := context.WithCancel(ctx)
	node := &Node{
		conf:      conf,
		genesis:   genesis,
		Store:     s,
		DB:        db,
		Env:       env,
		Executor:  executor.NewExecutor(env, checks, logger.With("module", "executor"), execMetrics),
		Sequencer: seq,
		ctx:       ctx,
		cancel:    cancel,
	}
	node.BaseService = *service.NewBaseService(logger, "Node", node)
	return node, nil
}

func metricsFor(conf *config.InstrumentationConfig, chainID string) (*rollupdb.Metrics, *executor.Metrics, *sequencer.Metrics) {
	if conf == nil || !conf.Prometheus {
		return rollupdb.NopMetrics(), executor.NopMetrics(), sequencer.NopMetrics()
	}
	return rollupdb.PrometheusMetrics(conf.Namespace, "chain_id", chainID),
		executor.PrometheusMetrics(conf.Namespace, "chain_id", chainID),
		sequencer.PrometheusMetrics(conf.Namespace, "chain_id", chainID)
}

// OnStart is a part of Service interface.
func (n *Node) OnStart() error {
	if err := n.DB.Start(); err != nil {
		return fmt.Errorf("error while starting ledger: %w", err)
	}
	if err := n.loadLedgerPrograms(n.ctx); err != nil {
		return fmt.Errorf("error while loading programs: %w", err)
	}
	pending, err := n.Sequencer.LoadFromDB(n.ctx)
	if err != nil {
		return fmt.Errorf("error while loading pending submissions: %w", err)
	}
	if n.conf.Instrumentation != nil && n.conf.Instrumentation.IsPrometheusEnabled() {
		n.metricsServer = n.startPrometheusServer()
	}

	jobs := make(chan *job, n.conf.Execution.Workers)
	for i := 0; i < n.conf.Execution.Workers; i++ {
		n.wg.Add(1)
		go n.worker(jobs)
	}
	n.wg.Add(1)
	go n.dispatch(pending, jobs)
	n.Logger.Info("node started", "chain_id", n.genesis.ChainID, "workers", n.conf.Execution.Workers, "replayed", len(pending))
	return nil
}

// OnStop is a part of Service interface.
func (n *Node) OnStop() {
	n.Logger.Info("halting node...")
	n.Sequencer.Stop()
	n.cancel()
	n.wg.Wait()

	var err error
	if n.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		err = multierr.Append(err, n.metricsServer.Shutdown(ctx))
		cancel()
	}
	if n.DB.IsRunning() {
		err = multierr.Append(err, n.DB.Stop())
	}
	// closes the underlying datastore shared with the sequencer
	err = multierr.Append(err, n.Store.Close())
	if err != nil {
		n.Logger.Error("errors while stopping node:", "errors", err)
	}
}

// startPrometheusServer starts a Prometheus HTTP server, listening for metrics
// collectors on the configured address.
func (n *Node) startPrometheusServer() *http.Server {
	conf := n.conf.Instrumentation
	srv := &http.Server{
		Addr: conf.PrometheusListenAddr,
		Handler: promhttp.InstrumentMetricHandler(
			prometheus.DefaultRegisterer, promhttp.HandlerFor(
				prometheus.DefaultGatherer,
				promhttp.HandlerOpts{MaxRequestsInFlight: conf.MaxOpenConnections},
			),
		),
		ReadHeaderTimeout: 10 * time.Second,
	}
	listener, err := net.Listen("tcp", conf.PrometheusListenAddr)
	if err != nil {
		n.Logger.Error("Prometheus HTTP server listen", "err", err)
		return nil
	}
	if conf.MaxOpenConnections > 0 {
		listener = netutil.LimitListener(listener, conf.MaxOpenConnections)
	}
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.Logger.Error("Prometheus HTTP server Serve", "err", err)
		}
	}()
	return srv
}

// GetGenesis returns the genesis document.
func (n *Node) GetGenesis() *types.GenesisDoc {
	return n.genesis
}

// SubmitTransaction hands tx to the sequencer and returns its hash.
func (n *Node) SubmitTransaction(ctx context.Context, tx *types.Transaction, keyBytes []byte) (types.Hash, error) {
	return n.Sequencer.Submit(ctx, tx, keyBytes)
}

// GetTransaction returns the processed record of a transaction.
func (n *Node) GetTransaction(ctx context.Context, hash types.Hash) (*types.ProcessedTransaction, error) {
	return n.DB.GetTransactionByHash(ctx, hash)
}

// GetAccount returns committed account state.
func (n *Node) GetAccount(ctx context.Context, key types.PublicKey) (*types.Account, error) {
	return n.DB.GetAccount(ctx, key)
}

// Status describes the node.
type Status struct {
	ChainID  string           `json:"chain_id"`
	Slot     uint64           `json:"slot"`
	Programs int              `json:"programs"`
	Ledger   *rollupdb.Status `json:"ledger"`
}

// Status returns ledger and runtime counters.
func (n *Node) Status(ctx context.Context) (*Status, error) {
	ledger, err := n.DB.Status(ctx)
	if err != nil {
		return nil, err
	}
	return &Status{
		ChainID:  n.genesis.ChainID,
		Slot:     n.Env.Slot(),
		Programs: n.Env.Cache().Len(),
		Ledger:   ledger,
	}, nil
}
