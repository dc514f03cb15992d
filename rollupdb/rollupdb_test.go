package rollupdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/libs/log"

	"github.com/rollkit/rollcore/store"
	"github.com/rollkit/rollcore/types"
)

func testKey(b byte) types.PublicKey {
	return types.PublicKey(types.SumHash([]byte{b}))
}

func writable(keys ...types.PublicKey) []LockedAccount {
	out := make([]LockedAccount, len(keys))
	for i, k := range keys {
		out[i] = LockedAccount{Key: k, Writable: true}
	}
	return out
}

func readonly(keys ...types.PublicKey) []LockedAccount {
	out := make([]LockedAccount, len(keys))
	for i, k := range keys {
		out[i] = LockedAccount{Key: k}
	}
	return out
}

func record(b byte) *types.ProcessedTransaction {
	tx := types.NewTransaction([]types.PublicKey{testKey(b)}, uint64(b))
	return &types.ProcessedTransaction{Hash: tx.Hash(), Transaction: tx, Outcome: types.Outcome{Success: true}}
}

func newTestDB(t *testing.T, st store.Store, genesis ...types.KeyedAccount) *RollupDB {
	t.Helper()
	if st == nil {
		kv, err := store.NewDefaultInMemoryKVStore()
		require.NoError(t, err)
		st = store.New(kv)
	}
	db := NewRollupDB(st, 16, genesis, log.TestingLogger(), nil)
	require.NoError(t, db.Start())
	t.Cleanup(func() {
		if db.IsRunning() {
			_ = db.Stop()
		}
	})
	return db
}

func TestGenesisAndGetAccount(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	a := testKey(1)
	db := newTestDB(t, nil, types.KeyedAccount{Pubkey: a, Account: &types.Account{Lamports: 100}})

	acc, err := db.GetAccount(ctx, a)
	require.NoError(err)
	assert.Equal(uint64(100), acc.Lamports)

	// callers get a copy
	acc.Lamports = 1
	acc, err = db.GetAccount(ctx, a)
	require.NoError(err)
	assert.Equal(uint64(100), acc.Lamports)

	_, err = db.GetAccount(ctx, testKey(2))
	assert.ErrorIs(err, types.ErrNotFound)
}

func TestLockAllOrNothing(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	db := newTestDB(t, nil)
	a, b, c := testKey(1), testKey(2), testKey(3)

	h1, err := db.Lock(ctx, writable(b), 0)
	require.NoError(err)

	_, err = db.Lock(ctx, writable(a, b, c), 0)
	assert.ErrorIs(err, types.ErrAccountBusy)

	// a and c must not be held by the denied request
	h2, err := db.Lock(ctx, writable(a, c), 0)
	require.NoError(err)
	assert.NotEqual(h1, h2)

	status, err := db.Status(ctx)
	require.NoError(err)
	assert.Equal(2, status.HeldLocks)
	assert.Equal(0, status.PendingLocks)
}

func TestLockModes(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	db := newTestDB(t, nil)
	a := testKey(1)

	r1, err := db.Lock(ctx, readonly(a), 0)
	require.NoError(err)
	r2, err := db.Lock(ctx, readonly(a), 0)
	require.NoError(err)
	assert.NotEqual(r1, r2)

	_, err = db.Lock(ctx, writable(a), 0)
	assert.ErrorIs(err, types.ErrAccountBusy)

	require.NoError(db.Unlock(ctx, r1))
	require.NoError(db.Unlock(ctx, r2))
	w, err := db.Lock(ctx, writable(a), 0)
	require.NoError(err)

	_, err = db.Lock(ctx, readonly(a), 0)
	assert.ErrorIs(err, types.ErrAccountBusy)

	require.NoError(db.Unlock(ctx, w))
	assert.ErrorIs(db.Unlock(ctx, w), types.ErrNotLocked)
}

func TestLockWaitIsFIFO(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	db := newTestDB(t, nil)
	a := testKey(1)

	reader, err := db.Lock(ctx, readonly(a), 0)
	require.NoError(err)

	writerDone := make(chan LockHandle, 1)
	go func() {
		h, err := db.Lock(ctx, writable(a), time.Second)
		assert.NoError(err)
		writerDone <- h
	}()
	require.Eventually(func() bool {
		status, err := db.Status(ctx)
		return err == nil && status.PendingLocks == 1
	}, time.Second, 5*time.Millisecond)

	// a reader may not jump the waiting writer
	_, err = db.Lock(ctx, readonly(a), 0)
	assert.ErrorIs(err, types.ErrAccountBusy)

	readerDone := make(chan LockHandle, 1)
	go func() {
		h, err := db.Lock(ctx, readonly(a), time.Second)
		assert.NoError(err)
		readerDone <- h
	}()
	require.Eventually(func() bool {
		status, err := db.Status(ctx)
		return err == nil && status.PendingLocks == 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(db.Unlock(ctx, reader))
	w := <-writerDone
	select {
	case <-readerDone:
		t.Fatal("reader granted while writer holds the lock")
	case <-time.After(20 * time.Millisecond):
	}
	require.NoError(db.Unlock(ctx, w))
	r := <-readerDone
	require.NoError(db.Unlock(ctx, r))
}

func TestLockTimeout(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	db := newTestDB(t, nil)
	a, b := testKey(1), testKey(2)

	h, err := db.Lock(ctx, writable(a), 0)
	require.NoError(err)

	start := time.Now()
	_, err = db.Lock(ctx, writable(a, b), 30*time.Millisecond)
	assert.ErrorIs(err, types.ErrLockTimeout)
	assert.GreaterOrEqual(time.Since(start), 30*time.Millisecond)

	// the timed out request held nothing
	hb, err := db.Lock(ctx, writable(b), 0)
	require.NoError(err)
	require.NoError(db.Unlock(ctx, hb))
	require.NoError(db.Unlock(ctx, h))

	status, err := db.Status(ctx)
	require.NoError(err)
	assert.Zero(status.HeldLocks)
	assert.Zero(status.PendingLocks)
}

func TestCancelledLockIsReleased(t *testing.T) {
	require := require.New(t)
	db := newTestDB(t, nil)
	a := testKey(1)

	h, err := db.Lock(context.Background(), writable(a), 0)
	require.NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = db.Lock(ctx, writable(a), time.Second)
	require.ErrorIs(err, context.DeadlineExceeded)

	require.NoError(db.Unlock(context.Background(), h))
	require.Eventually(func() bool {
		status, err := db.Status(context.Background())
		return err == nil && status.HeldLocks == 0 && status.PendingLocks == 0
	}, time.Second, 5*time.Millisecond)
}

func TestAddNewData(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	db := newTestDB(t, nil)
	a, b := testKey(1), testKey(2)

	update := []types.KeyedAccount{{Pubkey: a, Account: &types.Account{Lamports: 7}}}
	assert.ErrorIs(db.AddNewData(ctx, 42, update), types.ErrNotLocked)

	r, err := db.Lock(ctx, readonly(a), 0)
	require.NoError(err)
	assert.ErrorIs(db.AddNewData(ctx, r, update), types.ErrNotLocked)
	require.NoError(db.Unlock(ctx, r))

	w, err := db.Lock(ctx, writable(a), 0)
	require.NoError(err)
	err = db.AddNewData(ctx, w, append(update, types.KeyedAccount{Pubkey: b, Account: &types.Account{Lamports: 1}}))
	assert.ErrorIs(err, types.ErrNotLocked)
	_, err = db.GetAccount(ctx, a)
	assert.ErrorIs(err, types.ErrNotFound, "rejected update must not be partially applied")

	require.NoError(db.AddNewData(ctx, w, update))
	update[0].Account.Lamports = 99
	acc, err := db.GetAccount(ctx, a)
	require.NoError(err)
	assert.Equal(uint64(7), acc.Lamports)
	require.NoError(db.Unlock(ctx, w))
}

func TestProcessedLog(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	db := newTestDB(t, nil)

	for i := byte(0); i < 3; i++ {
		idx, err := db.AddProcessedTransaction(ctx, record(i))
		require.NoError(err)
		assert.Equal(uint64(i), idx)
	}
	_, err := db.AddProcessedTransaction(ctx, record(1))
	assert.ErrorIs(err, types.ErrDuplicateTransaction)

	got, err := db.GetTransactionByHash(ctx, record(2).Hash)
	require.NoError(err)
	assert.Equal(uint64(2), got.Index)

	_, err = db.GetTransactionByHash(ctx, record(9).Hash)
	assert.ErrorIs(err, types.ErrNotFound)

	txs, err := db.GetTransactionsInRange(ctx, types.LogRange{Start: 1, End: 3})
	require.NoError(err)
	require.Len(txs, 2)
	assert.Equal(uint64(1), txs[0].Index)

	_, err = db.GetTransactionsInRange(ctx, types.LogRange{Start: 1, End: 4})
	assert.ErrorIs(err, types.ErrInvalidRange)
}

func TestCommitTransaction(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	a, b := testKey(1), testKey(2)
	db := newTestDB(t, nil,
		types.KeyedAccount{Pubkey: a, Account: &types.Account{Lamports: 100}},
		types.KeyedAccount{Pubkey: b, Account: &types.Account{Lamports: 0}},
	)

	h, err := db.Lock(ctx, writable(a, b), 0)
	require.NoError(err)
	rec := record(1)
	idx, err := db.CommitTransaction(ctx, h, rec, []types.KeyedAccount{
		{Pubkey: a, Account: &types.Account{Lamports: 70}},
		{Pubkey: b, Account: &types.Account{Lamports: 30}},
	})
	require.NoError(err)
	assert.Equal(uint64(0), idx)

	// record and state are visible together while the lock is still held
	got, err := db.GetTransactionByHash(ctx, rec.Hash)
	require.NoError(err)
	assert.True(got.Outcome.Success)
	acc, err := db.GetAccount(ctx, a)
	require.NoError(err)
	assert.Equal(uint64(70), acc.Lamports)

	_, err = db.CommitTransaction(ctx, h, rec, []types.KeyedAccount{
		{Pubkey: a, Account: &types.Account{Lamports: 40}},
	})
	assert.ErrorIs(err, types.ErrDuplicateTransaction)
	acc, err = db.GetAccount(ctx, a)
	require.NoError(err)
	assert.Equal(uint64(70), acc.Lamports, "duplicate must not touch state")
	require.NoError(db.Unlock(ctx, h))

	r, err := db.Lock(ctx, readonly(a), 0)
	require.NoError(err)
	_, err = db.CommitTransaction(ctx, r, record(2), []types.KeyedAccount{
		{Pubkey: a, Account: &types.Account{Lamports: 1}},
	})
	assert.ErrorIs(err, types.ErrNotLocked)
	_, err = db.GetTransactionByHash(ctx, record(2).Hash)
	assert.ErrorIs(err, types.ErrNotFound, "rejected commit must not append a record")
	require.NoError(db.Unlock(ctx, r))

	status, err := db.Status(ctx)
	require.NoError(err)
	assert.Equal(uint64(1), status.Processed)
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	db := newTestDB(t, nil)

	sent := record(1)
	sent.Logs = []string{"hello"}
	_, err := db.AddProcessedTransaction(ctx, sent)
	require.NoError(err)
	sent.Logs[0] = "changed by sender"
	sent.Outcome = types.Outcome{Error: "changed by sender"}

	got, err := db.GetTransactionByHash(ctx, sent.Hash)
	require.NoError(err)
	got.Outcome = types.Outcome{Success: false, Error: "rewritten"}
	got.Logs[0] = "rewritten"
	got.Transaction.Message.Nonce = 99

	txs, err := db.GetTransactionsInRange(ctx, types.LogRange{Start: 0, End: 1})
	require.NoError(err)
	txs[0].Outcome.Error = "rewritten"

	again, err := db.GetTransactionByHash(ctx, sent.Hash)
	require.NoError(err)
	assert.True(again.Outcome.Success)
	assert.Empty(again.Outcome.Error)
	assert.Equal([]string{"hello"}, again.Logs)
	assert.Equal(uint64(1), again.Transaction.Message.Nonce)

	proof := &types.SettleProof{Range: types.LogRange{Start: 0, End: 1}, Root: []byte{1, 2}}
	require.NoError(db.AddSettleProof(ctx, proof))
	proof.Root[0] = 9
	p, err := db.GetSettleProof(ctx, 0)
	require.NoError(err)
	p.Root[1] = 9
	p, err = db.GetSettleProof(ctx, 0)
	require.NoError(err)
	assert.Equal([]byte{1, 2}, []byte(p.Root))
}

func TestGetProgramAccounts(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	loaderID, other := testKey(10), testKey(11)
	db := newTestDB(t, nil,
		types.KeyedAccount{Pubkey: testKey(1), Account: &types.Account{Owner: loaderID, Executable: true, Data: []byte{1}}},
		types.KeyedAccount{Pubkey: testKey(2), Account: &types.Account{Owner: loaderID}},
		types.KeyedAccount{Pubkey: testKey(3), Account: &types.Account{Owner: other, Executable: true}},
	)

	accounts, err := db.GetProgramAccounts(ctx, loaderID)
	require.NoError(err)
	require.Len(accounts, 1)
	assert.Equal(testKey(1), accounts[0].Pubkey)

	accounts[0].Account.Data[0] = 9
	accounts, err = db.GetProgramAccounts(ctx, loaderID, other)
	require.NoError(err)
	assert.Len(accounts, 2)
	for _, acc := range accounts {
		if acc.Pubkey == testKey(1) {
			assert.Equal([]byte{1}, acc.Account.Data)
		}
	}
}

func TestSettleProofs(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	db := newTestDB(t, nil)

	for i := byte(0); i < 12; i++ {
		_, err := db.AddProcessedTransaction(ctx, record(i))
		require.NoError(err)
	}
	proof := func(start, end uint64) *types.SettleProof {
		return &types.SettleProof{Range: types.LogRange{Start: start, End: end}, CreatedAt: time.Unix(1, 0)}
	}

	assert.ErrorIs(db.AddSettleProof(ctx, proof(3, 3)), types.ErrInvalidRange)
	assert.ErrorIs(db.AddSettleProof(ctx, proof(10, 13)), types.ErrInvalidRange)

	require.NoError(db.AddSettleProof(ctx, proof(5, 10)))
	assert.ErrorIs(db.AddSettleProof(ctx, proof(0, 3)), types.ErrRangeNotContiguous, "[0,5) was never settled")
	assert.ErrorIs(db.AddSettleProof(ctx, proof(3, 7)), types.ErrRangeNotContiguous)
	assert.ErrorIs(db.AddSettleProof(ctx, proof(8, 12)), types.ErrRangeNotContiguous)
	assert.ErrorIs(db.AddSettleProof(ctx, proof(5, 10)), types.ErrRangeAlreadySettled)
	assert.ErrorIs(db.AddSettleProof(ctx, proof(6, 8)), types.ErrRangeAlreadySettled)
	assert.ErrorIs(db.AddSettleProof(ctx, proof(11, 12)), types.ErrRangeNotContiguous)
	require.NoError(db.AddSettleProof(ctx, proof(10, 12)))

	p, err := db.GetSettleProof(ctx, 7)
	require.NoError(err)
	assert.Equal(uint64(5), p.Range.Start)
	_, err = db.GetSettleProof(ctx, 2)
	assert.ErrorIs(err, types.ErrNotFound)

	status, err := db.Status(ctx)
	require.NoError(err)
	assert.Equal(uint64(12), status.SettledEnd)
	assert.Equal(2, status.Proofs)
}

func TestMalformedMessage(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	db := newTestDB(t, nil)

	reply := make(chan Response, 1)
	require.NoError(db.Send(ctx, Message{Reply: reply}))
	assert.ErrorIs((<-reply).Err, types.ErrMalformedMessage)

	require.NoError(db.Send(ctx, Message{
		GetAccount: &GetAccountRequest{Key: testKey(1)},
		GetStatus:  &GetStatusRequest{},
		Reply:      reply,
	}))
	assert.ErrorIs((<-reply).Err, types.ErrMalformedMessage)

	_, err := db.Lock(ctx, nil, 0)
	assert.ErrorIs(err, types.ErrMalformedMessage)

	// a message without a reply channel is dropped, the ledger keeps serving
	require.NoError(db.Send(ctx, Message{GetStatus: &GetStatusRequest{}}))
	_, err = db.Status(ctx)
	assert.NoError(err)
}

func TestDroppedGrantIsReleased(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	db := newTestDB(t, nil)

	// unbuffered and never read
	require.NoError(db.Send(ctx, Message{
		LockAccounts: &LockAccountsRequest{Accounts: writable(testKey(1))},
		Reply:        make(chan Response),
	}))
	h, err := db.Lock(ctx, writable(testKey(1)), 0)
	require.NoError(err)
	require.NoError(db.Unlock(ctx, h))
}

func TestRestoreFromStore(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	kv, err := store.NewDefaultInMemoryKVStore()
	require.NoError(err)
	st := store.New(kv)
	a := testKey(1)

	db := NewRollupDB(st, 0, []types.KeyedAccount{{Pubkey: a, Account: &types.Account{Lamports: 50}}}, log.TestingLogger(), nil)
	require.NoError(db.Start())
	w, err := db.Lock(ctx, writable(a), 0)
	require.NoError(err)
	require.NoError(db.AddNewData(ctx, w, []types.KeyedAccount{{Pubkey: a, Account: &types.Account{Lamports: 40}}}))
	require.NoError(db.Unlock(ctx, w))
	for i := byte(0); i < 3; i++ {
		_, err := db.AddProcessedTransaction(ctx, record(i))
		require.NoError(err)
	}
	require.NoError(db.AddSettleProof(ctx, &types.SettleProof{Range: types.LogRange{Start: 0, End: 2}}))
	require.NoError(db.Stop())

	_, err = db.Status(ctx)
	assert.ErrorIs(err, types.ErrChannelClosed)

	// genesis is ignored once the store holds state
	db = newTestDB(t, st, types.KeyedAccount{Pubkey: a, Account: &types.Account{Lamports: 50}})
	acc, err := db.GetAccount(ctx, a)
	require.NoError(err)
	assert.Equal(uint64(40), acc.Lamports)

	status, err := db.Status(ctx)
	require.NoError(err)
	assert.Equal(uint64(3), status.Processed)
	assert.Equal(uint64(2), status.SettledEnd)

	_, err = db.AddProcessedTransaction(ctx, record(0))
	assert.ErrorIs(err, types.ErrDuplicateTransaction)
	assert.ErrorIs(db.AddSettleProof(ctx, &types.SettleProof{Range: types.LogRange{Start: 0, End: 2}}), types.ErrRangeAlreadySettled)
	require.NoError(db.AddSettleProof(ctx, &types.SettleProof{Range: types.LogRange{Start: 2, End: 3}}))
}
