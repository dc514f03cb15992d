package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rollkit/rollcore/vm"
)

const (
	flagDBPath  = "rollcore.db_path"
	flagGenesis = "rollcore.genesis"

	flagRPCListenAddress      = "rollcore.rpc.laddr"
	flagRPCCORSAllowedOrigins = "rollcore.rpc.cors_allowed_origins"
	flagRPCMaxOpenConnections = "rollcore.rpc.max_open_connections"

	flagPrometheus           = "rollcore.instrumentation.prometheus"
	flagPrometheusListenAddr = "rollcore.instrumentation.prometheus_listen_addr"
	flagNamespace            = "rollcore.instrumentation.namespace"

	flagInboxSize      = "rollcore.ledger.inbox_size"
	flagLockWait       = "rollcore.ledger.lock_wait"
	flagReadWriteLocks = "rollcore.ledger.read_write_locks"

	flagQueueSize = "rollcore.sequencer.queue_size"

	flagWorkers              = "rollcore.execution.workers"
	flagLamportsPerSignature = "rollcore.execution.lamports_per_signature"
	flagComputeUnitLimit     = "rollcore.execution.compute_unit_limit"
	flagMaxStackDepth        = "rollcore.execution.max_stack_depth"
	flagFeatures             = "rollcore.execution.features"
	flagVerifySignatures     = "rollcore.execution.verify_signatures"
	flagLockRetries          = "rollcore.execution.lock_retries"
	flagRetryBackoff         = "rollcore.execution.retry_backoff"
)

// NodeConfig stores rollcore node configuration.
type NodeConfig struct {
	RootDir string `mapstructure:"home"`
	DBPath  string `mapstructure:"db_path"`
	// Genesis is the path of the genesis document, relative to RootDir unless absolute.
	Genesis string `mapstructure:"genesis"`

	RPC             RPCConfig              `mapstructure:"rpc"`
	Instrumentation *InstrumentationConfig `mapstructure:"instrumentation"`
	Ledger          LedgerConfig           `mapstructure:"ledger"`
	Sequencer       SequencerConfig        `mapstructure:"sequencer"`
	Execution       ExecutionConfig        `mapstructure:"execution"`
}

// LedgerConfig configures the ledger actor.
type LedgerConfig struct {
	// InboxSize is the capacity of the ledger message queue.
	InboxSize int `mapstructure:"inbox_size"`
	// LockWait bounds how long a lock request may queue. Zero makes lock requests
	// non-blocking.
	LockWait time.Duration `mapstructure:"lock_wait"`
	// ReadWriteLocks lets transactions share accounts they only read. When false every
	// account is locked exclusively.
	ReadWriteLocks bool `mapstructure:"read_write_locks"`
}

// SequencerConfig configures the submission queue.
type SequencerConfig struct {
	QueueSize int `mapstructure:"queue_size"`
}

// ExecutionConfig configures batch execution.
type ExecutionConfig struct {
	Workers              int      `mapstructure:"workers"`
	LamportsPerSignature uint64   `mapstructure:"lamports_per_signature"`
	ComputeUnitLimit     uint64   `mapstructure:"compute_unit_limit"`
	MaxStackDepth        int      `mapstructure:"max_stack_depth"`
	Features             []string `mapstructure:"features"`
	// VerifySignatures replaces the permissive pre-execution checks with ed25519
	// signature verification.
	VerifySignatures bool `mapstructure:"verify_signatures"`
	// LockRetries is how many times a busy lock request is retried before the
	// transaction is recorded as failed.
	LockRetries  int           `mapstructure:"lock_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// RuntimeConfig builds the program runtime configuration.
func (ec ExecutionConfig) RuntimeConfig() vm.RuntimeConfig {
	budget := vm.DefaultComputeBudget()
	if ec.ComputeUnitLimit > 0 {
		budget.ComputeUnitLimit = ec.ComputeUnitLimit
	}
	if ec.MaxStackDepth > 0 {
		budget.MaxStackDepth = ec.MaxStackDepth
	}
	return vm.RuntimeConfig{
		Features:      vm.NewFeatureSet(ec.Features...),
		ComputeBudget: budget,
	}
}

// GetViperConfig reads configuration parameters from Viper instance.
func (nc *NodeConfig) GetViperConfig(v *viper.Viper) error {
	if home := v.GetString("home"); home != "" {
		nc.RootDir = home
	}
	nc.DBPath = v.GetString(flagDBPath)
	nc.Genesis = v.GetString(flagGenesis)

	nc.RPC.ListenAddress = v.GetString(flagRPCListenAddress)
	nc.RPC.CORSAllowedOrigins = v.GetStringSlice(flagRPCCORSAllowedOrigins)
	nc.RPC.MaxOpenConnections = v.GetInt(flagRPCMaxOpenConnections)

	if nc.Instrumentation == nil {
		nc.Instrumentation = DefaultInstrumentationConfig()
	}
	nc.Instrumentation.Prometheus = v.GetBool(flagPrometheus)
	nc.Instrumentation.PrometheusListenAddr = v.GetString(flagPrometheusListenAddr)
	nc.Instrumentation.Namespace = v.GetString(flagNamespace)

	nc.Ledger.InboxSize = v.GetInt(flagInboxSize)
	nc.Ledger.LockWait = v.GetDuration(flagLockWait)
	nc.Ledger.ReadWriteLocks = v.GetBool(flagReadWriteLocks)

	nc.Sequencer.QueueSize = v.GetInt(flagQueueSize)

	nc.Execution.Workers = v.GetInt(flagWorkers)
	nc.Execution.LamportsPerSignature = v.GetUint64(flagLamportsPerSignature)
	nc.Execution.ComputeUnitLimit = v.GetUint64(flagComputeUnitLimit)
	nc.Execution.MaxStackDepth = v.GetInt(flagMaxStackDepth)
	nc.Execution.Features = v.GetStringSlice(flagFeatures)
	nc.Execution.VerifySignatures = v.GetBool(flagVerifySignatures)
	nc.Execution.LockRetries = v.GetInt(flagLockRetries)
	nc.Execution.RetryBackoff = v.GetDuration(flagRetryBackoff)
	return nil
}

// AddFlags adds rollcore specific configuration options to cobra Command.
func AddFlags(cmd *cobra.Command) {
	def := DefaultNodeConfig()
	cmd.Flags().String(flagDBPath, def.DBPath, "database path relative to home directory")
	cmd.Flags().String(flagGenesis, def.Genesis, "genesis document path relative to home directory")

	cmd.Flags().String(flagRPCListenAddress, def.RPC.ListenAddress, "RPC listen address")
	cmd.Flags().StringSlice(flagRPCCORSAllowedOrigins, def.RPC.CORSAllowedOrigins, "origins allowed for cross-domain RPC requests")
	cmd.Flags().Int(flagRPCMaxOpenConnections, def.RPC.MaxOpenConnections, "maximum number of simultaneous RPC connections (0 = unlimited)")

	cmd.Flags().Bool(flagPrometheus, def.Instrumentation.Prometheus, "serve Prometheus metrics")
	cmd.Flags().String(flagPrometheusListenAddr, def.Instrumentation.PrometheusListenAddr, "Prometheus metrics listen address")
	cmd.Flags().String(flagNamespace, def.Instrumentation.Namespace, "metrics namespace")

	cmd.Flags().Int(flagInboxSize, def.Ledger.InboxSize, "ledger message queue capacity")
	cmd.Flags().Duration(flagLockWait, def.Ledger.LockWait, "how long a lock request may wait (0 = fail immediately when busy)")
	cmd.Flags().Bool(flagReadWriteLocks, def.Ledger.ReadWriteLocks, "share read-only accounts between transactions")

	cmd.Flags().Int(flagQueueSize, def.Sequencer.QueueSize, "sequencer queue capacity")

	cmd.Flags().Int(flagWorkers, def.Execution.Workers, "number of execution workers")
	cmd.Flags().Uint64(flagLamportsPerSignature, def.Execution.LamportsPerSignature, "fee charged per signature")
	cmd.Flags().Uint64(flagComputeUnitLimit, def.Execution.ComputeUnitLimit, "compute units available to a transaction")
	cmd.Flags().Int(flagMaxStackDepth, def.Execution.MaxStackDepth, "bytecode operand stack limit")
	cmd.Flags().StringSlice(flagFeatures, def.Execution.Features, "active runtime features")
	cmd.Flags().Bool(flagVerifySignatures, def.Execution.VerifySignatures, "verify transaction signatures before execution")
	cmd.Flags().Int(flagLockRetries, def.Execution.LockRetries, "lock attempts retried before a transaction fails as busy")
	cmd.Flags().Duration(flagRetryBackoff, def.Execution.RetryBackoff, "initial backoff between lock retries")
}

// DBDir returns the absolute database directory.
func (nc *NodeConfig) DBDir() string {
	return rootify(nc.DBPath, nc.RootDir)
}

// GenesisFile returns the absolute genesis document path.
func (nc *NodeConfig) GenesisFile() string {
	return rootify(nc.Genesis, nc.RootDir)
}

func rootify(path, root string) string {
	if filepath.IsAbs(path) || root == "" {
		return path
	}
	return filepath.Join(root, path)
}

// ValidateBasic performs basic validation of every section.
func (nc *NodeConfig) ValidateBasic() error {
	if err := nc.RPC.ValidateBasic(); err != nil {
		return fmt.Errorf("rpc: %w", err)
	}
	if nc.Instrumentation != nil {
		if err := nc.Instrumentation.ValidateBasic(); err != nil {
			return fmt.Errorf("instrumentation: %w", err)
		}
	}
	if err := nc.Ledger.ValidateBasic(); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	if nc.Sequencer.QueueSize < 0 {
		return errors.New("sequencer: queue_size can't be negative")
	}
	if err := nc.Execution.ValidateBasic(); err != nil {
		return fmt.Errorf("execution: %w", err)
	}
	return nil
}

// ValidateBasic checks parameter bounds.
func (lc LedgerConfig) ValidateBasic() error {
	if lc.InboxSize < 0 {
		return errors.New("inbox_size can't be negative")
	}
	if lc.LockWait < 0 {
		return errors.New("lock_wait can't be negative")
	}
	return nil
}

// ValidateBasic checks parameter bounds and feature names.
func (ec ExecutionConfig) ValidateBasic() error {
	if ec.Workers <= 0 {
		return errors.New("workers must be positive")
	}
	if ec.MaxStackDepth < 0 {
		return errors.New("max_stack_depth can't be negative")
	}
	if ec.LockRetries < 0 {
		return errors.New("lock_retries can't be negative")
	}
	if ec.RetryBackoff < 0 {
		return errors.New("retry_backoff can't be negative")
	}
	known := vm.AllFeatures()
	for _, f := range ec.Features {
		if !known.IsActive(f) {
			return fmt.Errorf("unknown feature %q", f)
		}
	}
	return nil
}
