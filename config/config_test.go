package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rollkit/rollcore/vm"
)

func TestGetViperConfig(t *testing.T) {
	cases := []struct {
		name     string
		key      string
		value    interface{}
		expected func(*NodeConfig) interface{}
		want     interface{}
	}{
		{"db path", flagDBPath, "db", func(nc *NodeConfig) interface{} { return nc.DBPath }, "db"},
		{"rpc address", flagRPCListenAddress, "0.0.0.0:1", func(nc *NodeConfig) interface{} { return nc.RPC.ListenAddress }, "0.0.0.0:1"},
		{"prometheus", flagPrometheus, true, func(nc *NodeConfig) interface{} { return nc.Instrumentation.Prometheus }, true},
		{"lock wait", flagLockWait, "2s", func(nc *NodeConfig) interface{} { return nc.Ledger.LockWait }, 2 * time.Second},
		{"rw locks", flagReadWriteLocks, true, func(nc *NodeConfig) interface{} { return nc.Ledger.ReadWriteLocks }, true},
		{"queue size", flagQueueSize, 7, func(nc *NodeConfig) interface{} { return nc.Sequencer.QueueSize }, 7},
		{"workers", flagWorkers, 3, func(nc *NodeConfig) interface{} { return nc.Execution.Workers }, 3},
		{"fee", flagLamportsPerSignature, 10, func(nc *NodeConfig) interface{} { return nc.Execution.LamportsPerSignature }, uint64(10)},
		{"features", flagFeatures, []string{vm.FeatureControlFlow}, func(nc *NodeConfig) interface{} { return nc.Execution.Features }, []string{vm.FeatureControlFlow}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			v := viper.New()
			v.Set(c.key, c.value)
			nc := NodeConfig{}
			require.NoError(t, nc.GetViperConfig(v))
			assert.Equal(t, c.want, c.expected(&nc))
		})
	}
}

func TestAddFlags(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	cmd := &cobra.Command{}
	AddFlags(cmd)
	v := viper.New()
	require.NoError(v.BindPFlags(cmd.Flags()))
	require.NoError(cmd.Flags().Set(flagWorkers, "8"))
	require.NoError(cmd.Flags().Set(flagLockWait, "0s"))

	nc := DefaultNodeConfig()
	require.NoError(nc.GetViperConfig(v))
	assert.Equal(8, nc.Execution.Workers)
	assert.Zero(nc.Ledger.LockWait)
	// untouched flags keep their defaults
	def := DefaultNodeConfig()
	assert.Equal(def.Execution.LamportsPerSignature, nc.Execution.LamportsPerSignature)
	assert.Equal(def.Execution.Features, nc.Execution.Features)
	assert.Equal(def.RPC.ListenAddress, nc.RPC.ListenAddress)
	assert.NoError(nc.ValidateBasic())
}

func TestValidateBasic(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*NodeConfig)
	}{
		{"no workers", func(nc *NodeConfig) { nc.Execution.Workers = 0 }},
		{"negative inbox", func(nc *NodeConfig) { nc.Ledger.InboxSize = -1 }},
		{"negative lock wait", func(nc *NodeConfig) { nc.Ledger.LockWait = -time.Second }},
		{"negative queue", func(nc *NodeConfig) { nc.Sequencer.QueueSize = -1 }},
		{"unknown feature", func(nc *NodeConfig) { nc.Execution.Features = []string{"warp_drive"} }},
		{"negative rpc conns", func(nc *NodeConfig) { nc.RPC.MaxOpenConnections = -1 }},
		{"negative metrics conns", func(nc *NodeConfig) { nc.Instrumentation.MaxOpenConnections = -1 }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			nc := DefaultNodeConfig()
			c.mutate(&nc)
			assert.Error(t, nc.ValidateBasic())
		})
	}
	nc := DefaultNodeConfig()
	assert.NoError(t, nc.ValidateBasic())
}

func TestRuntimeConfig(t *testing.T) {
	ec := ExecutionConfig{Features: []string{vm.FeatureControlFlow}, ComputeUnitLimit: 10}
	rc := ec.RuntimeConfig()
	assert.True(t, rc.Features.IsActive(vm.FeatureControlFlow))
	assert.False(t, rc.Features.IsActive(vm.FeatureUpgradeableLoader))
	assert.Equal(t, uint64(10), rc.ComputeBudget.ComputeUnitLimit)
	assert.Equal(t, vm.DefaultComputeBudget().MaxStackDepth, rc.ComputeBudget.MaxStackDepth)
}

func TestPaths(t *testing.T) {
	nc := DefaultNodeConfig()
	nc.RootDir = "/var/rollcore"
	assert.Equal(t, filepath.Join("/var/rollcore", "data"), nc.DBDir())
	nc.Genesis = "/etc/genesis.json"
	assert.Equal(t, "/etc/genesis.json", nc.GenesisFile())
}
