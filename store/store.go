package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	ds "github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	tmjson "github.com/tendermint/tendermint/libs/json"
	"go.uber.org/multierr"

	"github.com/rollkit/rollcore/types"
)

// DefaultStore is a default store implementation.
type DefaultStore struct {
	db ds.Batching
}

var _ Store = &DefaultStore{}

// New returns new, default store.
func New(ds ds.Batching) Store {
	return &DefaultStore{
		db: ds,
	}
}

// Close safely closes underlying data storage, to ensure that data is actually saved.
func (s *DefaultStore) Close() error {
	return s.db.Close()
}

// SaveAccounts writes account state in a single batch.
func (s *DefaultStore) SaveAccounts(ctx context.Context, accounts []types.KeyedAccount) error {
	batch, err := s.db.Batch(ctx)
	if err != nil {
		return fmt.Errorf("failed to create a new batch: %w", err)
	}
	if err := putAccounts(ctx, batch, accounts); err != nil {
		return err
	}
	if err := batch.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

func putAccounts(ctx context.Context, batch ds.Batch, accounts []types.KeyedAccount) error {
	for _, acc := range accounts {
		blob, err := tmjson.Marshal(acc.Account)
		if err != nil {
			return fmt.Errorf("failed to marshal account %s: %w", acc.Pubkey, err)
		}
		if err := batch.Put(ctx, ds.NewKey(getAccountKey(acc.Pubkey)), blob); err != nil {
			return fmt.Errorf("failed to put account %s in batch: %w", acc.Pubkey, err)
		}
	}
	return nil
}

// GetAccount returns the committed state of an account.
func (s *DefaultStore) GetAccount(ctx context.Context, key types.PublicKey) (*types.Account, error) {
	blob, err := s.db.Get(ctx, ds.NewKey(getAccountKey(key)))
	if err != nil {
		return nil, fmt.Errorf("failed to load account %s: %w", key, translate(err))
	}
	var acc types.Account
	if err := tmjson.Unmarshal(blob, &acc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal account %s: %w", key, err)
	}
	return &acc, nil
}

// Accounts returns every stored account ordered by key.
func (s *DefaultStore) Accounts(ctx context.Context) (accounts []types.KeyedAccount, err error) {
	results, err := s.db.Query(ctx, query.Query{Prefix: GenerateKey([]string{accountPrefix})})
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer func() {
		err = multierr.Append(err, results.Close())
	}()

	for result := range results.Next() {
		if result.Error != nil {
			return nil, result.Error
		}
		key, perr := types.PublicKeyFromString(ds.RawKey(result.Key).BaseNamespace())
		if perr != nil {
			return nil, fmt.Errorf("corrupted account key %q: %w", result.Key, perr)
		}
		var acc types.Account
		if uerr := tmjson.Unmarshal(result.Value, &acc); uerr != nil {
			return nil, fmt.Errorf("failed to unmarshal account %s: %w", key, uerr)
		}
		accounts = append(accounts, types.KeyedAccount{Pubkey: key, Account: &acc})
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].Pubkey.Less(accounts[j].Pubkey)
	})
	return accounts, nil
}

// AppendProcessed writes a log entry, its hash index and the new log length in one batch.
func (s *DefaultStore) AppendProcessed(ctx context.Context, ptx *types.ProcessedTransaction) error {
	return s.CommitProcessed(ctx, ptx, nil)
}

// CommitProcessed writes account state together with the log entry that produced it.
func (s *DefaultStore) CommitProcessed(ctx context.Context, ptx *types.ProcessedTransaction, accounts []types.KeyedAccount) error {
	blob, err := ptx.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal processed transaction: %w", err)
	}
	count, err := s.ProcessedCount(ctx)
	if err != nil {
		return err
	}

	batch, err := s.db.Batch(ctx)
	if err != nil {
		return fmt.Errorf("failed to create a new batch: %w", err)
	}
	if err := putAccounts(ctx, batch, accounts); err != nil {
		return err
	}
	if err := batch.Put(ctx, ds.NewKey(getProcessedKey(ptx.Index)), blob); err != nil {
		return fmt.Errorf("failed to put processed transaction in batch: %w", err)
	}
	if err := batch.Put(ctx, ds.NewKey(getIndexKey(ptx.Hash)), encodeIndex(ptx.Index)); err != nil {
		return fmt.Errorf("failed to put index key in batch: %w", err)
	}
	if ptx.Index+1 > count {
		if err := batch.Put(ctx, ds.NewKey(getCountKey()), encodeIndex(ptx.Index+1)); err != nil {
			return fmt.Errorf("failed to put log length in batch: %w", err)
		}
	}
	if err := batch.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// GetProcessed returns the log entry at index.
func (s *DefaultStore) GetProcessed(ctx context.Context, index uint64) (*types.ProcessedTransaction, error) {
	blob, err := s.db.Get(ctx, ds.NewKey(getProcessedKey(index)))
	if err != nil {
		return nil, fmt.Errorf("failed to load processed transaction %d: %w", index, translate(err))
	}
	var ptx types.ProcessedTransaction
	if err := ptx.UnmarshalBinary(blob); err != nil {
		return nil, fmt.Errorf("failed to unmarshal processed transaction: %w", err)
	}
	return &ptx, nil
}

// GetProcessedByHash returns the log entry of a transaction.
func (s *DefaultStore) GetProcessedByHash(ctx context.Context, hash types.Hash) (*types.ProcessedTransaction, error) {
	bz, err := s.db.Get(ctx, ds.NewKey(getIndexKey(hash)))
	if err != nil {
		return nil, fmt.Errorf("failed to load hash from index: %w", translate(err))
	}
	index, err := decodeIndex(bz)
	if err != nil {
		return nil, fmt.Errorf("failed to decode index: %w", err)
	}
	return s.GetProcessed(ctx, index)
}

// ProcessedCount returns the length of the log.
func (s *DefaultStore) ProcessedCount(ctx context.Context) (uint64, error) {
	bz, err := s.db.Get(ctx, ds.NewKey(getCountKey()))
	if errors.Is(err, ds.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load log length: %w", err)
	}
	return decodeIndex(bz)
}

// SaveSettleProof stores a proof keyed by the start of its range.
func (s *DefaultStore) SaveSettleProof(ctx context.Context, proof *types.SettleProof) error {
	blob, err := proof.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal settle proof: %w", err)
	}
	return s.db.Put(ctx, ds.NewKey(getProofKey(proof.Range.Start)), blob)
}

// GetSettleProof returns the proof whose range starts at start.
func (s *DefaultStore) GetSettleProof(ctx context.Context, start uint64) (*types.SettleProof, error) {
	blob, err := s.db.Get(ctx, ds.NewKey(getProofKey(start)))
	if err != nil {
		return nil, fmt.Errorf("failed to load settle proof at %d: %w", start, translate(err))
	}
	var proof types.SettleProof
	if err := proof.UnmarshalBinary(blob); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settle proof: %w", err)
	}
	return &proof, nil
}

// SettleProofs returns all stored proofs ordered by range.
func (s *DefaultStore) SettleProofs(ctx context.Context) (proofs []*types.SettleProof, err error) {
	results, err := s.db.Query(ctx, query.Query{Prefix: GenerateKey([]string{proofPrefix})})
	if err != nil {
		return nil, fmt.Errorf("failed to query settle proofs: %w", err)
	}
	defer func() {
		err = multierr.Append(err, results.Close())
	}()

	for result := range results.Next() {
		if result.Error != nil {
			return nil, result.Error
		}
		var proof types.SettleProof
		if uerr := proof.UnmarshalBinary(result.Value); uerr != nil {
			return nil, fmt.Errorf("failed to unmarshal settle proof: %w", uerr)
		}
		proofs = append(proofs, &proof)
	}
	sort.Slice(proofs, func(i, j int) bool {
		return proofs[i].Range.Start < proofs[j].Range.Start
	})
	return proofs, nil
}

// SetMetadata saves arbitrary value in the store.
func (s *DefaultStore) SetMetadata(ctx context.Context, key string, value []byte) error {
	if err := s.db.Put(ctx, ds.NewKey(getMetaKey(key)), value); err != nil {
		return fmt.Errorf("failed to set metadata for key '%s': %w", key, err)
	}
	return nil
}

// GetMetadata returns values stored for given key with SetMetadata.
func (s *DefaultStore) GetMetadata(ctx context.Context, key string) ([]byte, error) {
	data, err := s.db.Get(ctx, ds.NewKey(getMetaKey(key)))
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata for key '%s': %w", key, translate(err))
	}
	return data, nil
}

// translate maps datastore misses to types.ErrNotFound.
func translate(err error) error {
	if errors.Is(err, ds.ErrNotFound) {
		return types.ErrNotFound
	}
	return err
}
