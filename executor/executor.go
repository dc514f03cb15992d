package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tendermint/tendermint/libs/log"

	"github.com/rollkit/rollcore/types"
	"github.com/rollkit/rollcore/vm"
)

// TransactionResult is the outcome of one transaction of a batch.
type TransactionResult struct {
	Hash         types.Hash
	Outcome      types.Outcome
	ComputeUnits uint64
	Logs         []string
	// Accounts holds the post-state of writable accounts of a successful transaction.
	Accounts []types.KeyedAccount
}

// Err returns the execution error, nil on success.
func (r TransactionResult) Err() error {
	return r.Outcome.Err()
}

// BatchResult is the outcome of a whole batch.
type BatchResult struct {
	Results []TransactionResult
	// Accounts holds the final state of every account written by at least one
	// successful transaction.
	Accounts map[types.PublicKey]*types.Account
}

// Executor runs batches of transactions through the program execution environment.
// It is stateless apart from its collaborators and safe for concurrent use.
type Executor struct {
	env     *vm.Environment
	checks  CheckResultSupplier
	logger  log.Logger
	metrics *Metrics
}

// NewExecutor creates an Executor. A nil checks supplier defaults to MockCheckResults.
func NewExecutor(env *vm.Environment, checks CheckResultSupplier, logger log.Logger, metrics *Metrics) *Executor {
	if checks == nil {
		checks = MockCheckResults{}
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &Executor{
		env:     env,
		checks:  checks,
		logger:  logger,
		metrics: metrics,
	}
}

// ExecuteBatch executes txs in order against snapshot. Accounts missing from snapshot
// start empty. The snapshot itself is never modified.
//
// A failing transaction never aborts the batch: its changes are discarded and the
// failure is reported in its result. Only context cancellation stops the batch.
func (e *Executor) ExecuteBatch(ctx context.Context, txs []*types.Transaction, snapshot map[types.PublicKey]*types.Account) (*BatchResult, error) {
	start := time.Now()
	defer func() {
		e.metrics.BatchExecutionTime.Observe(time.Since(start).Seconds())
	}()

	checks := e.checks.CheckTransactions(txs)
	if len(checks) != len(txs) {
		return nil, fmt.Errorf("check supplier returned %d results for %d transactions", len(checks), len(txs))
	}

	state := newBatchState(snapshot)
	slot := e.env.Slot()
	result := &BatchResult{
		Results:  make([]TransactionResult, 0, len(txs)),
		Accounts: make(map[types.PublicKey]*types.Account),
	}
	for i, tx := range txs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res := e.executeTransaction(tx, checks[i], state, slot)
		if res.Outcome.Success {
			e.metrics.SucceededTxs.Add(1)
			for _, acc := range res.Accounts {
				result.Accounts[acc.Pubkey] = acc.Account.Clone()
			}
		} else {
			e.metrics.FailedTxs.With("class", types.ClassOf(res.Outcome.Code).String()).Add(1)
			e.logger.Debug("transaction failed", "hash", res.Hash, "code", res.Outcome.Code, "error", res.Outcome.Error)
		}
		e.metrics.ComputeUnits.Observe(float64(res.ComputeUnits))
		result.Results = append(result.Results, res)
	}
	return result, nil
}

func (e *Executor) executeTransaction(tx *types.Transaction, check CheckResult, state *batchState, slot uint64) TransactionResult {
	res := TransactionResult{Hash: tx.Hash()}
	if check.Err != nil {
		res.Outcome = types.OutcomeFromError(check.Err)
		return res
	}
	if err := tx.ValidateBasic(); err != nil {
		res.Outcome = types.OutcomeFromError(err)
		return res
	}

	budget := e.env.Config().ComputeBudget
	meter := vm.NewComputeMeter(budget.ComputeUnitLimit)
	working := state.begin(tx)

	err := e.chargeFee(tx, check.Details, working)
	var logs []string
	if err == nil {
		logs, err = e.runInstructions(tx, working, meter, budget, slot)
	}
	res.ComputeUnits = meter.Consumed()
	res.Logs = logs
	res.Outcome = types.OutcomeFromError(err)
	if err != nil {
		return res
	}

	for _, meta := range tx.AccountKeys() {
		if !meta.IsWritable {
			continue
		}
		res.Accounts = append(res.Accounts, types.KeyedAccount{
			Pubkey:  meta.Pubkey,
			Account: working[meta.Pubkey].Clone(),
		})
	}
	state.commit(working)
	return res
}

func (e *Executor) chargeFee(tx *types.Transaction, details CheckedTransactionDetails, working map[types.PublicKey]*types.Account) error {
	if details.LamportsPerSignature == 0 {
		return nil
	}
	sigs := uint64(len(tx.Signatures))
	fee := details.LamportsPerSignature * sigs
	if sigs != 0 && fee/sigs != details.LamportsPerSignature {
		return fmt.Errorf("%w: fee of %d signatures", types.ErrArithmeticOverflow, sigs)
	}
	payer := working[tx.FeePayer()]
	balance, err := types.SafeSub(payer.Lamports, fee)
	if err != nil {
		return fmt.Errorf("%w: payer %s has %d, fee is %d", types.ErrInsufficientFee, tx.FeePayer(), payer.Lamports, fee)
	}
	payer.Lamports = balance
	return nil
}

func (e *Executor) runInstructions(tx *types.Transaction, working map[types.PublicKey]*types.Account, meter *vm.ComputeMeter, budget vm.ComputeBudget, slot uint64) ([]string, error) {
	var logs []string
	for i, ix := range tx.Message.Instructions {
		program, err := e.env.LookupAt(ix.ProgramID, slot)
		if err != nil {
			return logs, &types.InstructionError{Index: i, Err: err}
		}

		accounts := make([]*vm.InstructionAccount, len(ix.Accounts))
		for j, meta := range ix.Accounts {
			accounts[j] = &vm.InstructionAccount{
				Key:        meta.Pubkey,
				IsSigner:   meta.IsSigner,
				IsWritable: meta.IsWritable,
				Account:    working[meta.Pubkey],
			}
		}
		pre := snapshotAccounts(accounts)
		invoke := &vm.InvokeContext{
			ProgramID: ix.ProgramID,
			Accounts:  accounts,
			Data:      ix.Data,
			Meter:     meter,
			Features:  e.env.Config().Features,
			Budget:    budget,
			Slot:      slot,
		}
		logs = append(logs, fmt.Sprintf("Program %s invoke [%d]", ix.ProgramID, i))
		err = invokeProgram(program, invoke)
		logs = append(logs, invoke.Logs()...)
		if err == nil {
			err = verifyInstruction(ix.ProgramID, pre, accounts)
		}
		if err != nil {
			logs = append(logs, fmt.Sprintf("Program %s failed: %s", ix.ProgramID, err))
			return logs, &types.InstructionError{Index: i, Err: err}
		}
		logs = append(logs, fmt.Sprintf("Program %s success", ix.ProgramID))
	}
	return logs, nil
}

// invokeProgram converts a panicking program into an instruction failure.
func invokeProgram(program *vm.ProgramCacheEntry, ctx *vm.InvokeContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: program %s panicked: %v", types.ErrInvalidInstruction, program.ProgramID, r)
		}
	}()
	return program.Invoke(ctx)
}

type accountSnapshot struct {
	key      types.PublicKey
	writable bool
	account  *types.Account
}

func snapshotAccounts(accounts []*vm.InstructionAccount) []accountSnapshot {
	seen := make(map[types.PublicKey]int)
	var snaps []accountSnapshot
	for _, acc := range accounts {
		if i, ok := seen[acc.Key]; ok {
			snaps[i].writable = snaps[i].writable || acc.IsWritable
			continue
		}
		seen[acc.Key] = len(snaps)
		snaps = append(snaps, accountSnapshot{
			key:      acc.Key,
			writable: acc.IsWritable,
			account:  acc.Account.Clone(),
		})
	}
	return snaps
}

func findAccount(accounts []*vm.InstructionAccount, key types.PublicKey) *types.Account {
	for _, acc := range accounts {
		if acc.Key == key {
			return acc.Account
		}
	}
	return nil
}

// verifyInstruction enforces the ownership rules every program is subject to.
func verifyInstruction(programID types.PublicKey, pre []accountSnapshot, accounts []*vm.InstructionAccount) error {
	var preSum, postSum uint64
	var err error
	for _, snap := range pre {
		before, after := snap.account, findAccount(accounts, snap.key)
		if preSum, err = types.SafeAdd(preSum, before.Lamports); err != nil {
			return err
		}
		if postSum, err = types.SafeAdd(postSum, after.Lamports); err != nil {
			return err
		}
		if before.Equal(after) {
			continue
		}
		owned := before.Owner == programID
		switch {
		case !snap.writable:
			return fmt.Errorf("%w: %s", types.ErrReadonlyModified, snap.key)
		case before.Executable:
			return fmt.Errorf("%w: %s", types.ErrExecutableModified, snap.key)
		case after.Lamports < before.Lamports && !owned:
			return fmt.Errorf("%w: %s", types.ErrExternalLamportSpend, snap.key)
		case !bytes.Equal(before.Data, after.Data) && !owned:
			return fmt.Errorf("%w: %s", types.ErrExternalDataModified, snap.key)
		case before.Owner != after.Owner && !owned:
			return fmt.Errorf("%w: owner of %s", types.ErrExternalDataModified, snap.key)
		case before.Executable != after.Executable && !owned:
			return fmt.Errorf("%w: %s", types.ErrExecutableModified, snap.key)
		case before.RentEpoch != after.RentEpoch:
			return fmt.Errorf("%w: rent epoch of %s", types.ErrExternalDataModified, snap.key)
		}
	}
	if preSum != postSum {
		return fmt.Errorf("%w: %d before, %d after", types.ErrUnbalancedInstruction, preSum, postSum)
	}
	return nil
}

// IsValidationFailure reports whether err is scoped to a single transaction.
func IsValidationFailure(err error) bool {
	var ixErr *types.InstructionError
	if errors.As(err, &ixErr) {
		return true
	}
	return types.ClassOf(types.CodeOf(err)) == types.ClassValidation
}
