package store

import (
	"context"

	"github.com/rollkit/rollcore/types"
)

// Store persists the ledger: account state, the processed-transaction log and
// settlement proofs.
type Store interface {
	// SaveAccounts writes account state. All accounts are written atomically.
	SaveAccounts(ctx context.Context, accounts []types.KeyedAccount) error
	// GetAccount returns the committed state of an account, or an error wrapping types.ErrNotFound.
	GetAccount(ctx context.Context, key types.PublicKey) (*types.Account, error)
	// Accounts returns every stored account.
	Accounts(ctx context.Context) ([]types.KeyedAccount, error)

	// AppendProcessed writes ptx at ptx.Index together with its hash index.
	AppendProcessed(ctx context.Context, ptx *types.ProcessedTransaction) error
	// CommitProcessed writes accounts and ptx atomically.
	CommitProcessed(ctx context.Context, ptx *types.ProcessedTransaction, accounts []types.KeyedAccount) error
	// GetProcessed returns the log entry at index.
	GetProcessed(ctx context.Context, index uint64) (*types.ProcessedTransaction, error)
	// GetProcessedByHash returns the log entry of a transaction.
	GetProcessedByHash(ctx context.Context, hash types.Hash) (*types.ProcessedTransaction, error)
	// ProcessedCount returns the length of the log.
	ProcessedCount(ctx context.Context) (uint64, error)

	// SaveSettleProof stores a proof keyed by the start of its range.
	SaveSettleProof(ctx context.Context, proof *types.SettleProof) error
	// GetSettleProof returns the proof whose range starts at start.
	GetSettleProof(ctx context.Context, start uint64) (*types.SettleProof, error)
	// SettleProofs returns all stored proofs ordered by range.
	SettleProofs(ctx context.Context) ([]*types.SettleProof, error)

	// SetMetadata saves arbitrary value in the store.
	SetMetadata(ctx context.Context, key string, value []byte) error
	// GetMetadata returns values stored for given key with SetMetadata.
	GetMetadata(ctx context.Context, key string) ([]byte, error)

	// Close safely closes underlying data storage, to ensure that data is actually saved.
	Close() error
}
