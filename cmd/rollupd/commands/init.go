package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tendermint/tendermint/crypto/ed25519"
	"github.com/tendermint/tendermint/libs/cli"
	tmjson "github.com/tendermint/tendermint/libs/json"
	tmos "github.com/tendermint/tendermint/libs/os"

	"github.com/rollkit/rollcore/config"
	"github.com/rollkit/rollcore/node"
	"github.com/rollkit/rollcore/programs/system"
	"github.com/rollkit/rollcore/programs/token"
	"github.com/rollkit/rollcore/types"
)

const (
	faucetKeyFile  = "faucet_key.json"
	faucetLamports = 1_000_000_000
	defaultDirPerm = 0o700
	flagChainID    = "chain_id"
	defaultChainID = "rollcore-local"
	flagWithToken  = "with_token"
)

// FaucetKey is the key file written by init.
type FaucetKey struct {
	Pubkey  types.PublicKey `json:"pubkey"`
	PrivKey ed25519.PrivKey `json:"priv_key"`
}

// NewInitCmd returns the command writing a genesis document with a funded faucet account.
func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the home directory with a genesis document",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := viper.GetString(cli.HomeFlag)
			chainID, err := cmd.Flags().GetString(flagChainID)
			if err != nil {
				return err
			}
			withToken, err := cmd.Flags().GetBool(flagWithToken)
			if err != nil {
				return err
			}
			key, err := initHome(home, chainID, withToken)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "initialized %s, faucet %s\n", home, key.Pubkey)
			return nil
		},
	}
	cmd.Flags().String(flagChainID, defaultChainID, "chain id written to the genesis document")
	cmd.Flags().Bool(flagWithToken, true, "deploy the token program at genesis")
	return cmd
}

func initHome(home, chainID string, withToken bool) (*FaucetKey, error) {
	if err := tmos.EnsureDir(home, defaultDirPerm); err != nil {
		return nil, err
	}
	conf := config.DefaultNodeConfig()
	conf.RootDir = home
	genesisFile := conf.GenesisFile()
	if tmos.FileExists(genesisFile) {
		return nil, fmt.Errorf("genesis file %s already exists", genesisFile)
	}

	priv := ed25519.GenPrivKey()
	key := &FaucetKey{
		Pubkey:  types.PublicKeyFromPubKey(priv.PubKey().(ed25519.PubKey)),
		PrivKey: priv,
	}
	genesis := &types.GenesisDoc{
		ChainID: chainID,
		Accounts: []types.GenesisAccount{{
			Pubkey:  key.Pubkey,
			Account: types.Account{Lamports: faucetLamports, Owner: system.ProgramID},
		}},
	}
	if withToken {
		genesis.Accounts = append(genesis.Accounts, node.ProgramAccount(token.ProgramID, token.MustImage()))
	}
	if err := genesis.SaveAs(genesisFile); err != nil {
		return nil, err
	}

	bz, err := tmjson.MarshalIndent(key, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(home, faucetKeyFile), bz, 0o600); err != nil {
		return nil, err
	}
	return key, nil
}
