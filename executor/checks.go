package executor

import (
	"fmt"

	"github.com/rollkit/rollcore/types"
)

// CheckedTransactionDetails are the results of the pre-execution checks a base chain
// would run (nonce and fee market).
type CheckedTransactionDetails struct {
	Nonce                *types.Hash
	LamportsPerSignature uint64
}

// CheckResult is the pre-check verdict for one transaction. A non-nil Err rejects the
// transaction before any instruction runs.
type CheckResult struct {
	Details CheckedTransactionDetails
	Err     error
}

// CheckResultSupplier produces one CheckResult per transaction, in order.
type CheckResultSupplier interface {
	CheckTransactions(txs []*types.Transaction) []CheckResult
}

// MockCheckResults reports every transaction as checked. The rollup does not run the
// fee market checks of a base chain, so this is the default supplier.
type MockCheckResults struct {
	LamportsPerSignature uint64
}

var _ CheckResultSupplier = MockCheckResults{}

// CheckTransactions implements CheckResultSupplier.
func (m MockCheckResults) CheckTransactions(txs []*types.Transaction) []CheckResult {
	results := make([]CheckResult, len(txs))
	for i := range txs {
		results[i] = CheckResult{
			Details: CheckedTransactionDetails{
				Nonce:                nil,
				LamportsPerSignature: m.LamportsPerSignature,
			},
		}
	}
	return results
}

// SignatureCheckResults verifies every signature before execution.
type SignatureCheckResults struct {
	LamportsPerSignature uint64
}

var _ CheckResultSupplier = SignatureCheckResults{}

// CheckTransactions implements CheckResultSupplier.
func (s SignatureCheckResults) CheckTransactions(txs []*types.Transaction) []CheckResult {
	results := make([]CheckResult, len(txs))
	for i, tx := range txs {
		results[i].Details.LamportsPerSignature = s.LamportsPerSignature
		if err := tx.VerifySignatures(); err != nil {
			results[i].Err = fmt.Errorf("%w: %s", types.ErrCheckFailed, err)
		}
	}
	return results
}
