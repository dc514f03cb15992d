package vm

// BlockRelation describes how two execution points relate in the history of the ledger.
type BlockRelation int

// Block relations.
const (
	// RelationUnrelated means the points are on different forks or the relation is not known.
	RelationUnrelated BlockRelation = iota
	RelationAncestor
	RelationEqual
	RelationDescendant
)

func (r BlockRelation) String() string {
	switch r {
	case RelationAncestor:
		return "ancestor"
	case RelationEqual:
		return "equal"
	case RelationDescendant:
		return "descendant"
	default:
		return "unrelated"
	}
}

// ForkGraph answers how two slots relate. The program cache needs one before bytecode
// programs can be inserted.
type ForkGraph interface {
	Relationship(a, b uint64) BlockRelation
}

// RollupForkGraph is the fork graph of a rollup with a single linear history.
//
// It always reports RelationUnrelated. The program cache never derives visibility
// from ancestry: when two versions of a program are not related by the fork graph
// it orders them by slot, which is exact for a linear history.
type RollupForkGraph struct{}

var _ ForkGraph = RollupForkGraph{}

// Relationship implements ForkGraph.
func (RollupForkGraph) Relationship(_, _ uint64) BlockRelation {
	return RelationUnrelated
}
