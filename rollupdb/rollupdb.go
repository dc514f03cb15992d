package rollupdb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/libs/service"

	"github.com/rollkit/rollcore/store"
	"github.com/rollkit/rollcore/types"
)

// DefaultInboxSize is the capacity of the inbound message queue.
const DefaultInboxSize = 1024

// RollupDB is the single owner of ledger state: committed accounts, account locks, the
// processed transaction log and settlement proofs. Every read and write goes through
// its inbox and is handled by one goroutine, in arrival order.
//
// Committed mutations are mirrored into a store.Store before they become visible, and
// the ledger restores itself from that store on start.
type RollupDB struct {
	service.BaseService

	inbox   chan Message
	store   store.Store
	genesis []types.KeyedAccount
	metrics *Metrics

	// owned by the loop goroutine
	accounts map[types.PublicKey]*types.Account
	log      []*types.ProcessedTransaction
	byHash   map[types.Hash]uint64
	proofs   []*types.SettleProof
	locks    *lockTable

	stop chan struct{}
	done chan struct{}
}

// NewRollupDB creates the ledger. Genesis accounts are written on first start, when
// the store holds no state yet.
func NewRollupDB(st store.Store, inboxSize int, genesis []types.KeyedAccount, logger log.Logger, metrics *Metrics) *RollupDB {
	if inboxSize <= 0 {
		inboxSize = DefaultInboxSize
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	db := &RollupDB{
		inbox:    make(chan Message, inboxSize),
		store:    st,
		genesis:  genesis,
		metrics:  metrics,
		accounts: make(map[types.PublicKey]*types.Account),
		byHash:   make(map[types.Hash]uint64),
		locks:    newLockTable(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	db.BaseService = *service.NewBaseService(logger, "RollupDB", db)
	return db
}

// OnStart restores state from the store and starts the message loop.
func (db *RollupDB) OnStart() error {
	ctx := context.Background()
	if err := db.restore(ctx); err != nil {
		return fmt.Errorf("failed to restore ledger: %w", err)
	}
	if len(db.accounts) == 0 && len(db.log) == 0 && len(db.genesis) > 0 {
		if err := db.store.SaveAccounts(ctx, db.genesis); err != nil {
			return fmt.Errorf("failed to save genesis accounts: %w", err)
		}
		for _, acc := range db.genesis {
			db.accounts[acc.Pubkey] = acc.Account.Clone()
		}
		db.Logger.Info("initialized ledger from genesis", "accounts", len(db.genesis))
	}
	db.Logger.Info("ledger restored", "accounts", len(db.accounts), "processed", len(db.log), "proofs", len(db.proofs))
	db.metrics.Processed.Set(float64(len(db.log)))
	db.metrics.SettledEnd.Set(float64(db.settledEnd()))
	go db.loop()
	return nil
}

// OnStop stops the message loop. Waiting lock requests fail with types.ErrChannelClosed.
func (db *RollupDB) OnStop() {
	close(db.stop)
	<-db.done
}

func (db *RollupDB) restore(ctx context.Context) error {
	accounts, err := db.store.Accounts(ctx)
	if err != nil {
		return err
	}
	for _, acc := range accounts {
		db.accounts[acc.Pubkey] = acc.Account
	}
	count, err := db.store.ProcessedCount(ctx)
	if err != nil {
		return err
	}
	for i := uint64(0); i < count; i++ {
		ptx, err := db.store.GetProcessed(ctx, i)
		if err != nil {
			return err
		}
		db.byHash[ptx.Hash] = ptx.Index
		db.log = append(db.log, ptx)
	}
	db.proofs, err = db.store.SettleProofs(ctx)
	return err
}

// Send enqueues msg. It blocks while the inbox is full.
func (db *RollupDB) Send(ctx context.Context, msg Message) error {
	select {
	case db.inbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-db.done:
		return types.ErrChannelClosed
	}
}

func (db *RollupDB) loop() {
	defer close(db.done)
	var timer *time.Timer
	var timeout <-chan time.Time
	for {
		select {
		case msg := <-db.inbox:
			db.handle(msg)
		case now := <-timeout:
			db.expireLocks(now)
		case <-db.stop:
			if timer != nil {
				timer.Stop()
			}
			for _, req := range db.locks.drain() {
				db.reply(req.reply, Response{Err: types.ErrChannelClosed})
			}
			return
		}

		if timer != nil {
			timer.Stop()
			timer, timeout = nil, nil
		}
		if deadline, ok := db.locks.nextDeadline(); ok {
			timer = time.NewTimer(time.Until(deadline))
			timeout = timer.C
		}
		db.metrics.HeldLocks.Set(float64(len(db.locks.held)))
		db.metrics.PendingLocks.Set(float64(len(db.locks.waiting)))
	}
}

func (db *RollupDB) handle(msg Message) {
	kind, n := msg.kind()
	db.metrics.Messages.With("type", kind).Add(1)
	if n != 1 {
		db.Logger.Error("malformed message", "populated", n)
		db.reply(msg.Reply, Response{Err: fmt.Errorf("%w: %d requests populated", types.ErrMalformedMessage, n)})
		return
	}
	if msg.LockAccounts != nil {
		db.lockAccounts(msg.LockAccounts, msg.Reply)
		return
	}

	var resp Response
	switch {
	case msg.UnlockAccounts != nil:
		resp.Err = db.unlockAccounts(msg.UnlockAccounts.Handle)
	case msg.AddNewData != nil:
		resp.Err = db.addNewData(msg.AddNewData)
	case msg.AddProcessedTransaction != nil:
		resp.Index, resp.Err = db.addProcessedTransaction(msg.AddProcessedTransaction)
	case msg.GetTransactionByHash != nil:
		resp.Transaction, resp.Err = db.getTransactionByHash(msg.GetTransactionByHash.Hash)
	case msg.GetTransactionsInRange != nil:
		resp.Transactions, resp.Err = db.getTransactionsInRange(msg.GetTransactionsInRange.Range)
	case msg.AddSettleProof != nil:
		resp.Err = db.addSettleProof(msg.AddSettleProof.Proof)
	case msg.GetSettleProof != nil:
		resp.Proof, resp.Err = db.getSettleProof(msg.GetSettleProof.Index)
	case msg.GetAccount != nil:
		resp.Account, resp.Err = db.getAccount(msg.GetAccount.Key)
	case msg.GetProgramAccounts != nil:
		resp.Accounts = db.getProgramAccounts(msg.GetProgramAccounts.Owners)
	case msg.GetStatus != nil:
		resp.Status = db.status()
	}
	if resp.Err != nil {
		db.metrics.Failures.With("class", types.ClassOf(types.CodeOf(resp.Err)).String()).Add(1)
		db.Logger.Debug("request failed", "type", kind, "error", resp.Err)
	}
	db.reply(msg.Reply, resp)
}

// reply never blocks. A dropped lock grant is released right away.
func (db *RollupDB) reply(ch chan<- Response, resp Response) bool {
	if ch == nil {
		db.Logger.Error("dropping response to message without reply channel")
		return false
	}
	select {
	case ch <- resp:
		return true
	default:
		db.Logger.Error("dropping response, reply channel is full")
		return false
	}
}

func (db *RollupDB) lockAccounts(req *LockAccountsRequest, reply chan<- Response) {
	accounts := normalizeAccounts(req.Accounts)
	if len(accounts) == 0 {
		db.reply(reply, Response{Err: fmt.Errorf("%w: no accounts to lock", types.ErrMalformedMessage)})
		return
	}
	if h, ok := db.locks.tryAcquire(accounts); ok {
		db.metrics.LockWait.Observe(0)
		if !db.reply(reply, Response{Handle: h}) {
			db.locks.release(h)
		}
		return
	}
	if req.Wait <= 0 {
		db.metrics.Failures.With("class", types.ClassContention.String()).Add(1)
		db.reply(reply, Response{Err: fmt.Errorf("%w: %d accounts requested", types.ErrAccountBusy, len(accounts))})
		return
	}
	now := time.Now()
	db.locks.enqueue(&lockRequest{
		accounts: accounts,
		enqueued: now,
		deadline: now.Add(req.Wait),
		reply:    reply,
	})
}

func (db *RollupDB) unlockAccounts(h LockHandle) error {
	if !db.locks.release(h) {
		return fmt.Errorf("%w: unknown lock handle %d", types.ErrNotLocked, h)
	}
	db.grantWaiting()
	return nil
}

func (db *RollupDB) grantWaiting() {
	dropped := false
	for _, req := range db.locks.promote() {
		db.metrics.LockWait.Observe(time.Since(req.enqueued).Seconds())
		if !db.reply(req.reply, Response{Handle: req.handle}) {
			db.locks.release(req.handle)
			dropped = true
		}
	}
	if dropped {
		db.grantWaiting()
	}
}

func (db *RollupDB) expireLocks(now time.Time) {
	expired := db.locks.expire(now)
	for _, req := range expired {
		db.metrics.Failures.With("class", types.ClassContention.String()).Add(1)
		db.reply(req.reply, Response{Err: fmt.Errorf("%w: waited %s", types.ErrLockTimeout, now.Sub(req.enqueued))})
	}
	if len(expired) > 0 {
		// an expired request may have been blocking later ones
		db.grantWaiting()
	}
}

func (db *RollupDB) addNewData(req *AddNewDataRequest) error {
	accounts, err := db.lockedAccounts(req.Handle, req.Accounts)
	if err != nil {
		return err
	}
	if err := db.store.SaveAccounts(context.Background(), accounts); err != nil {
		return err
	}
	db.setAccounts(accounts)
	return nil
}

// lockedAccounts checks that h write locks every account and returns private copies.
func (db *RollupDB) lockedAccounts(h LockHandle, in []types.KeyedAccount) ([]types.KeyedAccount, error) {
	for _, acc := range in {
		if acc.Account == nil {
			return nil, fmt.Errorf("%w: nil account %s", types.ErrMalformedMessage, acc.Pubkey)
		}
		if !db.locks.isWriter(h, acc.Pubkey) {
			return nil, fmt.Errorf("%w: %s is not write locked by %d", types.ErrNotLocked, acc.Pubkey, h)
		}
	}
	accounts := make([]types.KeyedAccount, len(in))
	for i, acc := range in {
		accounts[i] = types.KeyedAccount{Pubkey: acc.Pubkey, Account: acc.Account.Clone()}
	}
	return accounts, nil
}

func (db *RollupDB) setAccounts(accounts []types.KeyedAccount) {
	for _, acc := range accounts {
		db.accounts[acc.Pubkey] = acc.Account
	}
}

func (db *RollupDB) addProcessedTransaction(req *AddProcessedTransactionRequest) (uint64, error) {
	if req.Record == nil {
		return 0, fmt.Errorf("%w: nil record", types.ErrMalformedMessage)
	}
	if _, ok := db.byHash[req.Record.Hash]; ok {
		return 0, fmt.Errorf("%w: %s", types.ErrDuplicateTransaction, req.Record.Hash)
	}
	accounts, err := db.lockedAccounts(req.Handle, req.Accounts)
	if err != nil {
		return 0, err
	}
	ptx := req.Record.Clone()
	ptx.Index = uint64(len(db.log))
	if err := db.store.CommitProcessed(context.Background(), ptx, accounts); err != nil {
		return 0, err
	}
	db.setAccounts(accounts)
	db.log = append(db.log, ptx)
	db.byHash[ptx.Hash] = ptx.Index
	db.metrics.Processed.Set(float64(len(db.log)))
	return ptx.Index, nil
}

func (db *RollupDB) getTransactionByHash(hash types.Hash) (*types.ProcessedTransaction, error) {
	index, ok := db.byHash[hash]
	if !ok {
		return nil, fmt.Errorf("%w: transaction %s", types.ErrNotFound, hash)
	}
	return db.log[index].Clone(), nil
}

func (db *RollupDB) getTransactionsInRange(r types.LogRange) ([]*types.ProcessedTransaction, error) {
	if r.Start >= r.End || r.End > uint64(len(db.log)) {
		return nil, fmt.Errorf("%w: %s of %d", types.ErrInvalidRange, r, len(db.log))
	}
	txs := make([]*types.ProcessedTransaction, 0, r.Len())
	for _, ptx := range db.log[r.Start:r.End] {
		txs = append(txs, ptx.Clone())
	}
	return txs, nil
}

func (db *RollupDB) settledEnd() uint64 {
	if len(db.proofs) == 0 {
		return 0
	}
	return db.proofs[len(db.proofs)-1].Range.End
}

func (db *RollupDB) addSettleProof(proof *types.SettleProof) error {
	if proof == nil {
		return fmt.Errorf("%w: nil proof", types.ErrMalformedMessage)
	}
	r := proof.Range
	if r.Start >= r.End || r.End > uint64(len(db.log)) {
		return fmt.Errorf("%w: %s of %d", types.ErrInvalidRange, r, len(db.log))
	}
	if len(db.proofs) > 0 {
		start, end := db.proofs[0].Range.Start, db.settledEnd()
		switch {
		case r.Start == end:
		case r.Start >= start && r.End <= end:
			return fmt.Errorf("%w: %s", types.ErrRangeAlreadySettled, r)
		default:
			return fmt.Errorf("%w: %s does not start at %d", types.ErrRangeNotContiguous, r, end)
		}
	}
	stored := proof.Clone()
	if err := db.store.SaveSettleProof(context.Background(), stored); err != nil {
		return err
	}
	db.proofs = append(db.proofs, stored)
	db.metrics.SettledEnd.Set(float64(r.End))
	return nil
}

func (db *RollupDB) getSettleProof(index uint64) (*types.SettleProof, error) {
	for _, p := range db.proofs {
		if p.Range.Contains(index) {
			return p.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: no proof covers %d", types.ErrNotFound, index)
}

func (db *RollupDB) getAccount(key types.PublicKey) (*types.Account, error) {
	acc, ok := db.accounts[key]
	if !ok {
		return nil, fmt.Errorf("%w: account %s", types.ErrNotFound, key)
	}
	return acc.Clone(), nil
}

func (db *RollupDB) getProgramAccounts(owners []types.PublicKey) []types.KeyedAccount {
	var accounts []types.KeyedAccount
	for key, acc := range db.accounts {
		if !acc.Executable {
			continue
		}
		for _, owner := range owners {
			if acc.Owner == owner {
				accounts = append(accounts, types.KeyedAccount{Pubkey: key, Account: acc.Clone()})
				break
			}
		}
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].Pubkey.Less(accounts[j].Pubkey)
	})
	return accounts
}

func (db *RollupDB) status() *Status {
	return &Status{
		Accounts:     len(db.accounts),
		Processed:    uint64(len(db.log)),
		SettledEnd:   db.settledEnd(),
		Proofs:       len(db.proofs),
		HeldLocks:    len(db.locks.held),
		PendingLocks: len(db.locks.waiting),
	}
}

// IsClosed reports whether err means the ledger is gone.
func IsClosed(err error) bool {
	return errors.Is(err, types.ErrChannelClosed)
}
