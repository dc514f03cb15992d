package config

import (
	"time"

	"github.com/rollkit/rollcore/vm"
)

const (
	// Version is the current rollcore version
	Version = "0.1.0"
	// DefaultRPCListenAddress is the default JSON-RPC listen address.
	DefaultRPCListenAddress = "127.0.0.1:8899"
)

// DefaultNodeConfig returns the default NodeConfig.
func DefaultNodeConfig() NodeConfig {
	budget := vm.DefaultComputeBudget()
	return NodeConfig{
		DBPath:  "data",
		Genesis: "genesis.json",
		RPC: RPCConfig{
			ListenAddress:      DefaultRPCListenAddress,
			CORSAllowedOrigins: []string{},
			CORSAllowedMethods: []string{"HEAD", "GET", "POST"},
			CORSAllowedHeaders: []string{"Origin", "Accept", "Content-Type", "X-Requested-With"},
			MaxOpenConnections: 900,
		},
		Instrumentation: DefaultInstrumentationConfig(),
		Ledger: LedgerConfig{
			InboxSize:      1024,
			LockWait:       500 * time.Millisecond,
			ReadWriteLocks: true,
		},
		Sequencer: SequencerConfig{
			QueueSize: 4096,
		},
		Execution: ExecutionConfig{
			Workers:              4,
			LamportsPerSignature: 5000,
			ComputeUnitLimit:     budget.ComputeUnitLimit,
			MaxStackDepth:        budget.MaxStackDepth,
			Features:             vm.AllFeatures().Active(),
			LockRetries:          5,
			RetryBackoff:         10 * time.Millisecond,
		},
	}
}
