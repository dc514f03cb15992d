package node

import (
	"context"
	"fmt"

	"github.com/rollkit/rollcore/programs/loader"
	"github.com/rollkit/rollcore/types"
)

// DeployProgram loads a finalized program account into the program cache.
func (n *Node) DeployProgram(ctx context.Context, id types.PublicKey) error {
	acc, err := n.DB.GetAccount(ctx, id)
	if err != nil {
		return err
	}
	if !acc.Executable {
		return fmt.Errorf("%w: %s", ErrNotExecutable, id)
	}
	lt, ok := loader.LoaderType(acc.Owner)
	if !ok {
		return fmt.Errorf("%w: %s is owned by %s", types.ErrInvalidProgramImage, id, acc.Owner)
	}
	return n.Env.LoadProgram(id, lt, acc.Data)
}

// loadLedgerPrograms caches every executable account owned by a loader in the restored
// ledger, so programs deployed before a restart stay callable.
func (n *Node) loadLedgerPrograms(ctx context.Context) error {
	accounts, err := n.DB.GetProgramAccounts(ctx, loader.ProgramID, loader.UpgradeableProgramID)
	if err != nil {
		return err
	}
	for _, acc := range accounts {
		lt, _ := loader.LoaderType(acc.Account.Owner)
		if err := n.Env.LoadProgram(acc.Pubkey, lt, acc.Account.Data); err != nil {
			n.Logger.Error("failed to reload program", "program", acc.Pubkey, "error", err)
		}
	}
	return nil
}
