package vm

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tendermint/tendermint/libs/log"

	"github.com/rollkit/rollcore/types"
)

const (
	// GenesisSlot is the slot programs loaded at startup are deployed in.
	GenesisSlot = 0
	// InitialSlot is the first execution slot. Programs deployed at genesis become
	// visible here.
	InitialSlot = 1
	// InitialEpoch is the epoch of InitialSlot.
	InitialEpoch = 1
)

// Environment is the program execution environment: a runtime configuration plus the
// program cache. Administrative operations (registering and loading programs, advancing
// the slot) are serialized; lookups are lock free.
type Environment struct {
	config RuntimeConfig
	cache  *ProgramCache
	logger log.Logger

	// mtx serializes administrative writes
	mtx sync.Mutex
	// slot is read atomically on the execution path
	slot  uint64
	epoch uint64
}

// NewEnvironment creates an environment. A fork graph is required because the cache
// orders program versions by execution point.
func NewEnvironment(cfg RuntimeConfig, forkGraph ForkGraph, logger log.Logger) (*Environment, error) {
	if forkGraph == nil {
		return nil, ErrForkGraphNotSet
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if cfg.Features == nil {
		cfg.Features = FeatureSet{}
	}
	cache := NewProgramCache()
	cache.SetForkGraph(forkGraph)
	return &Environment{
		config: cfg,
		cache:  cache,
		logger: logger,
		slot:   InitialSlot,
		epoch:  InitialEpoch,
	}, nil
}

// Config returns the runtime configuration.
func (env *Environment) Config() RuntimeConfig {
	return env.config
}

// Slot returns the current execution slot.
func (env *Environment) Slot() uint64 {
	return atomic.LoadUint64(&env.slot)
}

// Epoch returns the current epoch.
func (env *Environment) Epoch() uint64 {
	env.mtx.Lock()
	defer env.mtx.Unlock()
	return env.epoch
}

// Cache exposes the program cache for inspection.
func (env *Environment) Cache() *ProgramCache {
	return env.cache
}

// RegisterBuiltin registers a native program. The last registration for an id wins.
func (env *Environment) RegisterBuiltin(id types.PublicKey, name string, entrypoint Entrypoint) {
	env.mtx.Lock()
	defer env.mtx.Unlock()
	// builtins are deployed at genesis and never go through the loader, so they are
	// visible immediately
	entry := NewBuiltinEntry(id, name, GenesisSlot, entrypoint)
	if err := env.cache.Assign(entry); err != nil {
		// builtins do not depend on the fork graph
		panic(err)
	}
	env.logger.Debug("registered builtin program", "program", id, "name", name)
}

// LoadProgramFromAccount decodes account data as a bytecode program and caches it.
func (env *Environment) LoadProgramFromAccount(id types.PublicKey, data []byte) error {
	return env.LoadProgram(id, LoaderBytecode, data)
}

// LoadProgram decodes image with the given loader and caches it. The program is
// deployed in the slot preceding the current one, so it is visible right away.
func (env *Environment) LoadProgram(id types.PublicKey, loader LoaderType, image []byte) error {
	env.mtx.Lock()
	defer env.mtx.Unlock()
	entry, err := NewBytecodeEntry(id, loader, env.slot-1, image, env.config.Features)
	if err != nil {
		return fmt.Errorf("loading program %s: %w", id, err)
	}
	if err := env.cache.Assign(entry); err != nil {
		return err
	}
	env.logger.Info("loaded program", "program", id, "loader", loader, "size", entry.Size, "slot", entry.DeploymentSlot)
	return nil
}

// Lookup returns the program visible at the current slot.
func (env *Environment) Lookup(id types.PublicKey) (*ProgramCacheEntry, error) {
	return env.LookupAt(id, env.Slot())
}

// LookupAt returns the program visible at slot.
func (env *Environment) LookupAt(id types.PublicKey, slot uint64) (*ProgramCacheEntry, error) {
	entry, ok := env.cache.Find(id, slot)
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrProgramNotFound, id)
	}
	return entry, nil
}

// AdvanceSlot moves execution to the next slot and prunes program versions that can
// no longer be observed.
func (env *Environment) AdvanceSlot() uint64 {
	env.mtx.Lock()
	defer env.mtx.Unlock()
	slot := atomic.AddUint64(&env.slot, 1)
	pruned := env.cache.Prune(slot)
	env.logger.Debug("advanced slot", "slot", slot, "pruned", pruned)
	return slot
}
