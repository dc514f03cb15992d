package executor

import (
	"github.com/rollkit/rollcore/types"
)

// batchState is the account state a batch executes against: the caller's snapshot
// overlaid with the writes of every successful transaction so far.
type batchState struct {
	snapshot map[types.PublicKey]*types.Account
	written  map[types.PublicKey]*types.Account
}

func newBatchState(snapshot map[types.PublicKey]*types.Account) *batchState {
	return &batchState{
		snapshot: snapshot,
		written:  make(map[types.PublicKey]*types.Account),
	}
}

func (s *batchState) get(key types.PublicKey) *types.Account {
	if acc, ok := s.written[key]; ok {
		return acc
	}
	if acc, ok := s.snapshot[key]; ok && acc != nil {
		return acc
	}
	return nil
}

// begin returns a private copy of every account tx touches. Unknown accounts start
// empty and owned by the system program.
func (s *batchState) begin(tx *types.Transaction) map[types.PublicKey]*types.Account {
	keys := tx.AccountKeys()
	working := make(map[types.PublicKey]*types.Account, len(keys))
	for _, meta := range keys {
		if acc := s.get(meta.Pubkey); acc != nil {
			working[meta.Pubkey] = acc.Clone()
		} else {
			working[meta.Pubkey] = &types.Account{}
		}
	}
	return working
}

// commit makes the working set of a successful transaction visible to the rest of the batch.
func (s *batchState) commit(working map[types.PublicKey]*types.Account) {
	for key, acc := range working {
		s.written[key] = acc
	}
}
