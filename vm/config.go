package vm

import "sort"

// Feature names understood by the runtime.
const (
	// FeatureControlFlow enables comparison and jump opcodes in bytecode programs.
	FeatureControlFlow = "bytecode_control_flow"
	// FeatureUpgradeableLoader allows programs owned by the upgradeable loader.
	FeatureUpgradeableLoader = "upgradeable_loader"
)

// FeatureSet is the set of active runtime features.
type FeatureSet map[string]bool

// AllFeatures returns a FeatureSet with every known feature active.
func AllFeatures() FeatureSet {
	return FeatureSet{
		FeatureControlFlow:       true,
		FeatureUpgradeableLoader: true,
	}
}

// NewFeatureSet activates the named features.
func NewFeatureSet(names ...string) FeatureSet {
	fs := make(FeatureSet, len(names))
	for _, n := range names {
		fs[n] = true
	}
	return fs
}

// IsActive reports whether feature is active.
func (fs FeatureSet) IsActive(feature string) bool {
	return fs[feature]
}

// Active returns active feature names in sorted order.
func (fs FeatureSet) Active() []string {
	names := make([]string, 0, len(fs))
	for n, on := range fs {
		if on {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

// ComputeBudget bounds the work a single transaction may perform.
type ComputeBudget struct {
	// ComputeUnitLimit is shared by all instructions of a transaction.
	ComputeUnitLimit uint64
	// MaxStackDepth bounds the bytecode operand stack.
	MaxStackDepth int
	// BuiltinCost is charged for every builtin program invocation.
	BuiltinCost uint64
}

// DefaultComputeBudget returns the default budget.
func DefaultComputeBudget() ComputeBudget {
	return ComputeBudget{
		ComputeUnitLimit: 200_000,
		MaxStackDepth:    64,
		BuiltinCost:      150,
	}
}

// RuntimeConfig configures the execution environment.
type RuntimeConfig struct {
	Features      FeatureSet
	ComputeBudget ComputeBudget
}

// DefaultRuntimeConfig returns a config with all features on and the default budget.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		Features:      AllFeatures(),
		ComputeBudget: DefaultComputeBudget(),
	}
}
