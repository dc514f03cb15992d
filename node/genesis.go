package node

import (
	"fmt"

	"github.com/rollkit/rollcore/programs/loader"
	"github.com/rollkit/rollcore/types"
	"github.com/rollkit/rollcore/vm"
)

func genesisAccounts(genesis *types.GenesisDoc) []types.KeyedAccount {
	accounts := make([]types.KeyedAccount, len(genesis.Accounts))
	for i, acc := range genesis.Accounts {
		account := acc.Account
		accounts[i] = types.KeyedAccount{Pubkey: acc.Pubkey, Account: account.Clone()}
	}
	return accounts
}

// loadGenesisPrograms caches every executable genesis account owned by a loader.
func loadGenesisPrograms(env *vm.Environment, genesis *types.GenesisDoc) error {
	for _, acc := range genesis.Accounts {
		if !acc.Account.Executable {
			continue
		}
		lt, ok := loader.LoaderType(acc.Account.Owner)
		if !ok {
			continue
		}
		if err := env.LoadProgram(acc.Pubkey, lt, acc.Account.Data); err != nil {
			return fmt.Errorf("genesis program %s: %w", acc.Pubkey, err)
		}
	}
	return nil
}

// ProgramAccount returns a genesis account deploying image under id with the bytecode loader.
func ProgramAccount(id types.PublicKey, image []byte) types.GenesisAccount {
	return types.GenesisAccount{
		Pubkey: id,
		Account: types.Account{
			Lamports:   1,
			Data:       image,
			Owner:      loader.ProgramID,
			Executable: true,
		},
	}
}
