package types

import "bytes"

// Account is the committed state of a single ledger account.
type Account struct {
	Lamports   uint64    `json:"lamports"`
	Data       []byte    `json:"data"`
	Owner      PublicKey `json:"owner"`
	Executable bool      `json:"executable"`
	RentEpoch  uint64    `json:"rent_epoch"`
}

// NewAccount creates an account with given balance, data size and owner.
func NewAccount(lamports uint64, space int, owner PublicKey) *Account {
	return &Account{
		Lamports: lamports,
		Data:     make([]byte, space),
		Owner:    owner,
	}
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	if a.Data != nil {
		c.Data = append([]byte(nil), a.Data...)
	}
	return &c
}

// Equal reports whether two accounts hold identical state.
func (a *Account) Equal(other *Account) bool {
	if a == nil || other == nil {
		return a == other
	}
	if a.Lamports != other.Lamports || a.Owner != other.Owner ||
		a.Executable != other.Executable || a.RentEpoch != other.RentEpoch {
		return false
	}
	return bytes.Equal(a.Data, other.Data)
}

// KeyedAccount pairs an account with its identifier.
type KeyedAccount struct {
	Pubkey  PublicKey `json:"pubkey"`
	Account *Account  `json:"account"`
}
