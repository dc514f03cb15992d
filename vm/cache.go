package vm

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rollkit/rollcore/types"
)

// LoaderType tells how a cached program was loaded.
type LoaderType uint8

// Loader types.
const (
	LoaderBuiltin LoaderType = iota
	LoaderBytecode
	LoaderBytecodeUpgradeable
)

func (l LoaderType) String() string {
	switch l {
	case LoaderBuiltin:
		return "builtin"
	case LoaderBytecode:
		return "bytecode"
	case LoaderBytecodeUpgradeable:
		return "bytecode_upgradeable"
	}
	return fmt.Sprintf("loader(%d)", uint8(l))
}

// ProgramCacheEntry is a loaded, executable program.
type ProgramCacheEntry struct {
	ProgramID      types.PublicKey
	Name           string
	Loader         LoaderType
	DeploymentSlot uint64
	EffectiveSlot  uint64
	Size           int

	entrypoint Entrypoint
	program    *Program
}

// NewBuiltinEntry creates a cache entry for a native program.
func NewBuiltinEntry(id types.PublicKey, name string, slot uint64, entrypoint Entrypoint) *ProgramCacheEntry {
	return &ProgramCacheEntry{
		ProgramID:      id,
		Name:           name,
		Loader:         LoaderBuiltin,
		DeploymentSlot: slot,
		EffectiveSlot:  slot,
		Size:           len(name),
		entrypoint:     entrypoint,
	}
}

// NewBytecodeEntry decodes image and creates a cache entry deployed at slot and visible from slot+1.
func NewBytecodeEntry(id types.PublicKey, loader LoaderType, slot uint64, image []byte, features FeatureSet) (*ProgramCacheEntry, error) {
	if loader == LoaderBuiltin {
		return nil, fmt.Errorf("%w: builtin loader cannot load bytecode", types.ErrInvalidProgramImage)
	}
	if loader == LoaderBytecodeUpgradeable && !features.IsActive(FeatureUpgradeableLoader) {
		return nil, fmt.Errorf("%w: feature %s is not active", types.ErrInvalidProgramImage, FeatureUpgradeableLoader)
	}
	program, err := DecodeProgram(image, features)
	if err != nil {
		return nil, err
	}
	return &ProgramCacheEntry{
		ProgramID:      id,
		Loader:         loader,
		DeploymentSlot: slot,
		EffectiveSlot:  slot + 1,
		Size:           len(image),
		program:        program,
	}, nil
}

// Invoke executes the program for one instruction.
func (e *ProgramCacheEntry) Invoke(ctx *InvokeContext) error {
	switch {
	case e.entrypoint != nil:
		if err := ctx.Meter.Consume(ctx.Budget.BuiltinCost); err != nil {
			return err
		}
		return e.entrypoint(ctx)
	case e.program != nil:
		return e.program.Execute(ctx)
	}
	return fmt.Errorf("%w: entry %s has no code", types.ErrCacheCorrupt, e.ProgramID)
}

// IsBuiltin reports whether the entry is native code.
func (e *ProgramCacheEntry) IsBuiltin() bool {
	return e.Loader == LoaderBuiltin
}

// cacheState is never mutated once published.
type cacheState struct {
	entries   map[types.PublicKey][]*ProgramCacheEntry
	forkGraph ForkGraph
}

// ProgramCache maps program ids to loaded programs, one entry per deployment slot.
//
// Readers load an immutable snapshot and take no lock. Writers are serialized by mtx
// and publish a fresh snapshot, so execution never observes a partially applied load.
type ProgramCache struct {
	mtx   sync.Mutex
	state atomic.Value // *cacheState
}

// NewProgramCache creates an empty cache.
func NewProgramCache() *ProgramCache {
	c := &ProgramCache{}
	c.state.Store(&cacheState{entries: map[types.PublicKey][]*ProgramCacheEntry{}})
	return c
}

// SetForkGraph sets the fork graph used to order program versions.
func (c *ProgramCache) SetForkGraph(fg ForkGraph) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	old := c.load()
	c.state.Store(&cacheState{entries: old.entries, forkGraph: fg})
}

func (c *ProgramCache) load() *cacheState {
	return c.state.Load().(*cacheState)
}

// Assign inserts entry. An entry with the same program id and deployment slot is replaced.
// Bytecode entries require a fork graph.
func (c *ProgramCache) Assign(entry *ProgramCacheEntry) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	old := c.load()
	if !entry.IsBuiltin() && old.forkGraph == nil {
		return ErrForkGraphNotSet
	}
	next := make(map[types.PublicKey][]*ProgramCacheEntry, len(old.entries)+1)
	for id, entries := range old.entries {
		next[id] = entries
	}
	var versions []*ProgramCacheEntry
	for _, e := range old.entries[entry.ProgramID] {
		if e.DeploymentSlot != entry.DeploymentSlot {
			versions = append(versions, e)
		}
	}
	versions = append(versions, entry)
	sort.SliceStable(versions, func(i, j int) bool {
		return versions[i].DeploymentSlot < versions[j].DeploymentSlot
	})
	next[entry.ProgramID] = versions
	c.state.Store(&cacheState{entries: next, forkGraph: old.forkGraph})
	return nil
}

// Find returns the newest version of a program visible at slot.
func (c *ProgramCache) Find(id types.PublicKey, slot uint64) (*ProgramCacheEntry, bool) {
	state := c.load()
	var found *ProgramCacheEntry
	for _, e := range state.entries[id] {
		if e.EffectiveSlot > slot {
			continue
		}
		if found == nil || state.supersedes(e, found) {
			found = e
		}
	}
	return found, found != nil
}

// supersedes reports whether a replaces b. Only ancestry reported by the fork graph is
// trusted; unrelated versions are ordered by slot.
func (s *cacheState) supersedes(a, b *ProgramCacheEntry) bool {
	if s.forkGraph != nil {
		switch s.forkGraph.Relationship(b.DeploymentSlot, a.DeploymentSlot) {
		case RelationAncestor:
			return true
		case RelationDescendant:
			return false
		}
	}
	return a.DeploymentSlot >= b.DeploymentSlot
}

// Prune drops versions superseded by another version visible at root.
func (c *ProgramCache) Prune(root uint64) int {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	old := c.load()
	next := make(map[types.PublicKey][]*ProgramCacheEntry, len(old.entries))
	pruned := 0
	for id, entries := range old.entries {
		var newest *ProgramCacheEntry
		for _, e := range entries {
			if e.EffectiveSlot <= root && (newest == nil || old.supersedes(e, newest)) {
				newest = e
			}
		}
		var kept []*ProgramCacheEntry
		for _, e := range entries {
			if e.EffectiveSlot <= root && e != newest {
				pruned++
				continue
			}
			kept = append(kept, e)
		}
		next[id] = kept
	}
	c.state.Store(&cacheState{entries: next, forkGraph: old.forkGraph})
	return pruned
}

// Len returns the number of cached entries.
func (c *ProgramCache) Len() int {
	n := 0
	for _, entries := range c.load().entries {
		n += len(entries)
	}
	return n
}

// ProgramIDs returns the ids of every cached program.
func (c *ProgramCache) ProgramIDs() []types.PublicKey {
	entries := c.load().entries
	ids := make([]types.PublicKey, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return ids
}
