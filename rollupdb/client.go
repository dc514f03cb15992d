package rollupdb

import (
	"context"
	"time"

	"github.com/rollkit/rollcore/types"
)

func (db *RollupDB) request(ctx context.Context, msg Message) (Response, error) {
	reply := make(chan Response, 1)
	msg.Reply = reply
	if err := db.Send(ctx, msg); err != nil {
		return Response{}, err
	}
	select {
	case resp := <-reply:
		return resp, resp.Err
	case <-ctx.Done():
		if msg.LockAccounts != nil {
			// the grant may still arrive; give it back
			go db.releaseLate(reply)
		}
		return Response{}, ctx.Err()
	case <-db.done:
		return Response{}, types.ErrChannelClosed
	}
}

func (db *RollupDB) releaseLate(reply <-chan Response) {
	select {
	case resp := <-reply:
		if resp.Err == nil && resp.Handle != 0 {
			_ = db.Unlock(context.Background(), resp.Handle)
		}
	case <-db.done:
	}
}

// Lock acquires every account in accounts or none of them.
func (db *RollupDB) Lock(ctx context.Context, accounts []LockedAccount, wait time.Duration) (LockHandle, error) {
	resp, err := db.request(ctx, Message{LockAccounts: &LockAccountsRequest{Accounts: accounts, Wait: wait}})
	return resp.Handle, err
}

// LockTransaction locks the accounts referenced by tx with their declared modes.
func (db *RollupDB) LockTransaction(ctx context.Context, tx *types.Transaction, wait time.Duration) (LockHandle, error) {
	metas := tx.AccountKeys()
	accounts := make([]LockedAccount, len(metas))
	for i, m := range metas {
		accounts[i] = LockedAccount{Key: m.Pubkey, Writable: m.IsWritable}
	}
	return db.Lock(ctx, accounts, wait)
}

// Unlock releases a handle returned by Lock.
func (db *RollupDB) Unlock(ctx context.Context, h LockHandle) error {
	_, err := db.request(ctx, Message{UnlockAccounts: &UnlockAccountsRequest{Handle: h}})
	return err
}

// AddNewData commits account state written under h.
func (db *RollupDB) AddNewData(ctx context.Context, h LockHandle, accounts []types.KeyedAccount) error {
	_, err := db.request(ctx, Message{AddNewData: &AddNewDataRequest{Handle: h, Accounts: accounts}})
	return err
}

// AddProcessedTransaction appends record to the processed log and returns its index.
func (db *RollupDB) AddProcessedTransaction(ctx context.Context, record *types.ProcessedTransaction) (uint64, error) {
	resp, err := db.request(ctx, Message{AddProcessedTransaction: &AddProcessedTransactionRequest{Record: record}})
	return resp.Index, err
}

// CommitTransaction writes accounts under h and appends record in one step, so the record
// and the state it produced become visible together. A duplicate record leaves state untouched.
func (db *RollupDB) CommitTransaction(ctx context.Context, h LockHandle, record *types.ProcessedTransaction, accounts []types.KeyedAccount) (uint64, error) {
	resp, err := db.request(ctx, Message{AddProcessedTransaction: &AddProcessedTransactionRequest{
		Record:   record,
		Handle:   h,
		Accounts: accounts,
	}})
	return resp.Index, err
}

// GetProgramAccounts returns the executable accounts owned by one of owners, ordered by key.
func (db *RollupDB) GetProgramAccounts(ctx context.Context, owners ...types.PublicKey) ([]types.KeyedAccount, error) {
	resp, err := db.request(ctx, Message{GetProgramAccounts: &GetProgramAccountsRequest{Owners: owners}})
	return resp.Accounts, err
}

// GetTransactionByHash returns the processed record of a transaction.
func (db *RollupDB) GetTransactionByHash(ctx context.Context, hash types.Hash) (*types.ProcessedTransaction, error) {
	resp, err := db.request(ctx, Message{GetTransactionByHash: &GetTransactionByHashRequest{Hash: hash}})
	return resp.Transaction, err
}

// GetTransactionsInRange returns the records in r.
func (db *RollupDB) GetTransactionsInRange(ctx context.Context, r types.LogRange) (types.ProcessedTransactions, error) {
	resp, err := db.request(ctx, Message{GetTransactionsInRange: &GetTransactionsInRangeRequest{Range: r}})
	return resp.Transactions, err
}

// AddSettleProof records a proof for a range of the processed log.
func (db *RollupDB) AddSettleProof(ctx context.Context, proof *types.SettleProof) error {
	_, err := db.request(ctx, Message{AddSettleProof: &AddSettleProofRequest{Proof: proof}})
	return err
}

// GetSettleProof returns the proof covering a log index.
func (db *RollupDB) GetSettleProof(ctx context.Context, index uint64) (*types.SettleProof, error) {
	resp, err := db.request(ctx, Message{GetSettleProof: &GetSettleProofRequest{Index: index}})
	return resp.Proof, err
}

// GetAccount returns a copy of the committed account state.
func (db *RollupDB) GetAccount(ctx context.Context, key types.PublicKey) (*types.Account, error) {
	resp, err := db.request(ctx, Message{GetAccount: &GetAccountRequest{Key: key}})
	return resp.Account, err
}

// Status returns ledger counters.
func (db *RollupDB) Status(ctx context.Context) (*Status, error) {
	resp, err := db.request(ctx, Message{GetStatus: &GetStatusRequest{}})
	return resp.Status, err
}
