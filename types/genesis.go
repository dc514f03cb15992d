package types

import (
	"fmt"
	"os"

	tmjson "github.com/tendermint/tendermint/libs/json"
)

// GenesisAccount is an account present at ledger start.
type GenesisAccount struct {
	Pubkey  PublicKey `json:"pubkey"`
	Account Account   `json:"account"`
}

// GenesisDoc describes the initial ledger state.
type GenesisDoc struct {
	ChainID  string           `json:"chain_id"`
	Accounts []GenesisAccount `json:"accounts"`
}

// ValidateBasic checks the document for duplicated accounts.
func (g *GenesisDoc) ValidateBasic() error {
	seen := make(map[PublicKey]struct{}, len(g.Accounts))
	for _, acc := range g.Accounts {
		if _, ok := seen[acc.Pubkey]; ok {
			return fmt.Errorf("duplicate genesis account %s", acc.Pubkey)
		}
		seen[acc.Pubkey] = struct{}{}
	}
	return nil
}

// GenesisDocFromFile reads a JSON genesis document.
func GenesisDocFromFile(path string) (*GenesisDoc, error) {
	bz, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("couldn't read genesis file: %w", err)
	}
	doc := new(GenesisDoc)
	if err := tmjson.Unmarshal(bz, doc); err != nil {
		return nil, fmt.Errorf("error reading genesis doc at %s: %w", path, err)
	}
	if err := doc.ValidateBasic(); err != nil {
		return nil, err
	}
	return doc, nil
}

// SaveAs writes the document to path.
func (g *GenesisDoc) SaveAs(path string) error {
	bz, err := tmjson.MarshalIndent(g, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, bz, 0o600)
}
