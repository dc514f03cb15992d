package rollupdb

import (
	"time"

	"github.com/rollkit/rollcore/types"
)

// LockHandle identifies a granted set of account locks.
type LockHandle uint64

// LockedAccount is an account requested by a lock request.
type LockedAccount struct {
	Key      types.PublicKey
	Writable bool
}

// LockAccountsRequest asks for all accounts at once. Wait bounds how long the request
// may queue: zero fails immediately with types.ErrAccountBusy, otherwise the request
// fails with types.ErrLockTimeout once Wait has elapsed.
type LockAccountsRequest struct {
	Accounts []LockedAccount
	Wait     time.Duration
}

// UnlockAccountsRequest releases every lock owned by Handle.
type UnlockAccountsRequest struct {
	Handle LockHandle
}

// AddNewDataRequest overwrites account state. Every account must be write locked by Handle.
type AddNewDataRequest struct {
	Handle   LockHandle
	Accounts []types.KeyedAccount
}

// AddProcessedTransactionRequest appends Record to the processed log. The log index is
// assigned by the ledger and returned in Response.Index. Accounts, if any, must be write
// locked by Handle and are committed together with Record.
type AddProcessedTransactionRequest struct {
	Record   *types.ProcessedTransaction
	Handle   LockHandle
	Accounts []types.KeyedAccount
}

// GetTransactionByHashRequest looks up a processed record.
type GetTransactionByHashRequest struct {
	Hash types.Hash
}

// GetTransactionsInRangeRequest reads a slice of the processed log.
type GetTransactionsInRangeRequest struct {
	Range types.LogRange
}

// AddSettleProofRequest records a settlement proof for Proof.Range.
type AddSettleProofRequest struct {
	Proof *types.SettleProof
}

// GetSettleProofRequest returns the proof covering Index.
type GetSettleProofRequest struct {
	Index uint64
}

// GetAccountRequest reads committed account state.
type GetAccountRequest struct {
	Key types.PublicKey
}

// GetProgramAccountsRequest lists executable accounts owned by one of Owners.
type GetProgramAccountsRequest struct {
	Owners []types.PublicKey
}

// GetStatusRequest reads ledger counters.
type GetStatusRequest struct{}

// Message is the only way to talk to the ledger. Exactly one request must be set.
// Reply must be buffered; the ledger never blocks on a slow reader.
type Message struct {
	LockAccounts            *LockAccountsRequest
	UnlockAccounts          *UnlockAccountsRequest
	AddNewData              *AddNewDataRequest
	AddProcessedTransaction *AddProcessedTransactionRequest
	GetTransactionByHash    *GetTransactionByHashRequest
	GetTransactionsInRange  *GetTransactionsInRangeRequest
	AddSettleProof          *AddSettleProofRequest
	GetSettleProof          *GetSettleProofRequest
	GetAccount              *GetAccountRequest
	GetProgramAccounts      *GetProgramAccountsRequest
	GetStatus               *GetStatusRequest

	Reply chan<- Response
}

// kind names the populated request and counts how many are populated.
func (m *Message) kind() (string, int) {
	name, n := "", 0
	set := func(ok bool, s string) {
		if ok {
			name = s
			n++
		}
	}
	set(m.LockAccounts != nil, "lock_accounts")
	set(m.UnlockAccounts != nil, "unlock_accounts")
	set(m.AddNewData != nil, "add_new_data")
	set(m.AddProcessedTransaction != nil, "add_processed_transaction")
	set(m.GetTransactionByHash != nil, "get_transaction_by_hash")
	set(m.GetTransactionsInRange != nil, "get_transactions_in_range")
	set(m.AddSettleProof != nil, "add_settle_proof")
	set(m.GetSettleProof != nil, "get_settle_proof")
	set(m.GetAccount != nil, "get_account")
	set(m.GetProgramAccounts != nil, "get_program_accounts")
	set(m.GetStatus != nil, "get_status")
	if n != 1 {
		return "malformed", n
	}
	return name, n
}

// Status summarizes the ledger.
type Status struct {
	Accounts     int    `json:"accounts"`
	Processed    uint64 `json:"processed"`
	SettledEnd   uint64 `json:"settled_end"`
	Proofs       int    `json:"proofs"`
	HeldLocks    int    `json:"held_locks"`
	PendingLocks int    `json:"pending_locks"`
}

// Response answers a Message. Err is set on failure; otherwise the field matching the
// request is populated.
type Response struct {
	Err          error
	Handle       LockHandle
	Index        uint64
	Account      *types.Account
	Accounts     []types.KeyedAccount
	Transaction  *types.ProcessedTransaction
	Transactions []*types.ProcessedTransaction
	Proof        *types.SettleProof
	Status       *Status
}
