package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rollkit/rollcore/rollupdb"
	"github.com/rollkit/rollcore/sequencer"
	"github.com/rollkit/rollcore/types"
)

const maxRetryBackoff = time.Second

type job struct {
	sub    *sequencer.Submission
	handle rollupdb.LockHandle
}

// dispatch takes submissions in sequencer order and locks their accounts before handing
// them to workers. Locks are requested one submission at a time, so transactions that
// share an account are granted in sequencer order.
func (n *Node) dispatch(replay []*sequencer.Submission, jobs chan<- *job) {
	defer n.wg.Done()
	defer close(jobs)

	for _, sub := range replay {
		if !n.schedule(sub, jobs) {
			return
		}
	}
	for {
		select {
		case sub := <-n.Sequencer.Next():
			if !n.schedule(sub, jobs) {
				return
			}
		case <-n.ctx.Done():
			return
		}
	}
}

// schedule returns false once the node is stopping.
func (n *Node) schedule(sub *sequencer.Submission, jobs chan<- *job) bool {
	h, err := n.lock(sub.Transaction)
	switch {
	case err == nil:
	case types.ClassOf(types.CodeOf(err)) == types.ClassContention:
		n.Logger.Info("giving up on busy accounts", "tx", sub.Hash(), "error", err)
		n.recordFailure(sub, fmt.Errorf("%w: %s", types.ErrAccountBusy, err))
		return true
	default:
		if n.ctx.Err() == nil {
			n.Logger.Error("failed to lock accounts", "tx", sub.Hash(), "error", err)
		}
		return false
	}

	select {
	case jobs <- &job{sub: sub, handle: h}:
		return true
	case <-n.ctx.Done():
		_ = n.DB.Unlock(context.Background(), h)
		return false
	}
}

// lock requests the accounts of tx, retrying contention failures with exponential backoff.
func (n *Node) lock(tx *types.Transaction) (rollupdb.LockHandle, error) {
	accounts := lockedAccounts(tx, n.conf.Ledger.ReadWriteLocks)
	backoff := n.conf.Execution.RetryBackoff
	for attempt := 0; ; attempt++ {
		h, err := n.DB.Lock(n.ctx, accounts, n.conf.Ledger.LockWait)
		if err == nil {
			return h, nil
		}
		if types.ClassOf(types.CodeOf(err)) != types.ClassContention || attempt >= n.conf.Execution.LockRetries {
			return 0, err
		}
		select {
		case <-time.After(backoff):
		case <-n.ctx.Done():
			return 0, n.ctx.Err()
		}
		if backoff *= 2; backoff > maxRetryBackoff {
			backoff = maxRetryBackoff
		}
	}
}

func lockedAccounts(tx *types.Transaction, readWrite bool) []rollupdb.LockedAccount {
	metas := tx.AccountKeys()
	accounts := make([]rollupdb.LockedAccount, len(metas))
	for i, m := range metas {
		accounts[i] = rollupdb.LockedAccount{Key: m.Pubkey, Writable: m.IsWritable || !readWrite}
	}
	return accounts
}

func (n *Node) worker(jobs <-chan *job) {
	defer n.wg.Done()
	for j := range jobs {
		if err := n.execute(j); err != nil {
			if rollupdb.IsClosed(err) || errors.Is(err, context.Canceled) {
				return
			}
			n.Logger.Error("failed to execute transaction", "tx", j.sub.Hash(), "error", err)
		}
	}
}

// execute runs one locked transaction and commits its record and account state in a single
// ledger step. A transaction replayed after a restart is rejected as a duplicate before any
// state is written.
func (n *Node) execute(j *job) error {
	ctx := context.Background()
	defer func() {
		if err := n.DB.Unlock(ctx, j.handle); err != nil && !rollupdb.IsClosed(err) {
			n.Logger.Error("failed to unlock accounts", "tx", j.sub.Hash(), "error", err)
		}
	}()

	tx := j.sub.Transaction
	snapshot := make(map[types.PublicKey]*types.Account)
	for _, meta := range tx.AccountKeys() {
		acc, err := n.DB.GetAccount(ctx, meta.Pubkey)
		switch {
		case err == nil:
			snapshot[meta.Pubkey] = acc
		case errors.Is(err, types.ErrNotFound):
		default:
			return err
		}
	}

	batch, err := n.Executor.ExecuteBatch(n.ctx, []*types.Transaction{tx}, snapshot)
	if err != nil {
		return err
	}
	res := batch.Results[0]
	record := &types.ProcessedTransaction{
		Hash:         res.Hash,
		Transaction:  tx,
		Outcome:      res.Outcome,
		Accounts:     res.Accounts,
		ComputeUnits: res.ComputeUnits,
		Logs:         res.Logs,
	}
	var changed []types.KeyedAccount
	if res.Outcome.Success {
		changed = res.Accounts
	}
	index, err := n.DB.CommitTransaction(ctx, j.handle, record, changed)
	if errors.Is(err, types.ErrDuplicateTransaction) {
		n.Logger.Info("skipping duplicate transaction", "tx", res.Hash)
		n.ack(j.sub)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to commit %s: %w", res.Hash, err)
	}
	n.Logger.Debug("processed transaction", "tx", res.Hash, "index", index, "success", res.Outcome.Success)
	n.ack(j.sub)
	return nil
}

// recordFailure appends a failed record for a transaction that never reached execution.
func (n *Node) recordFailure(sub *sequencer.Submission, cause error) {
	_, err := n.DB.AddProcessedTransaction(context.Background(), &types.ProcessedTransaction{
		Hash:        sub.Hash(),
		Transaction: sub.Transaction,
		Outcome:     types.OutcomeFromError(cause),
	})
	if err != nil && !errors.Is(err, types.ErrDuplicateTransaction) {
		n.Logger.Error("failed to record transaction", "tx", sub.Hash(), "error", err)
		return
	}
	n.ack(sub)
}

func (n *Node) ack(sub *sequencer.Submission) {
	if err := n.Sequencer.Ack(context.Background(), sub.Seq); err != nil {
		n.Logger.Error("failed to ack submission", "seq", sub.Seq, "error", err)
	}
}
