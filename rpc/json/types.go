package json

import (
	"github.com/rollkit/rollcore/node"
	"github.com/rollkit/rollcore/types"
)

// SubmitTransactionArgs carries an encoded transaction and opaque signing key material.
type SubmitTransactionArgs struct {
	Transaction []byte `json:"transaction"`
	Key         []byte `json:"key,omitempty"`
}

// GetTransactionArgs looks up a transaction by hash.
type GetTransactionArgs struct {
	Hash types.Hash `json:"hash"`
}

// GetAccountArgs looks up an account.
type GetAccountArgs struct {
	Pubkey types.PublicKey `json:"pubkey"`
}

// EmptyArgs is used by methods without parameters.
type EmptyArgs struct{}

// TransactionResponse reports a submission or a processed record. Success is false and
// Error set when the request failed.
type TransactionResponse struct {
	Success     bool                        `json:"success"`
	Hash        *types.Hash                 `json:"hash,omitempty"`
	Transaction *types.ProcessedTransaction `json:"transaction,omitempty"`
	Error       string                      `json:"error,omitempty"`
	Code        types.ErrorCode             `json:"code,omitempty"`
}

// AccountResponse reports committed account state.
type AccountResponse struct {
	Success bool            `json:"success"`
	Account *types.Account  `json:"account,omitempty"`
	Error   string          `json:"error,omitempty"`
	Code    types.ErrorCode `json:"code,omitempty"`
}

// DeployProgramArgs names a finalized program account.
type DeployProgramArgs struct {
	Pubkey types.PublicKey `json:"pubkey"`
}

// SettleResponse is the proof recorded by a settle call. Success is false and Code set
// when there was nothing to settle or the range was rejected.
type SettleResponse struct {
	Success bool               `json:"success"`
	Proof   *types.SettleProof `json:"proof,omitempty"`
	Error   string             `json:"error,omitempty"`
	Code    types.ErrorCode    `json:"code,omitempty"`
}

// DeployProgramResponse reports an administrative program load.
type DeployProgramResponse struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Code    types.ErrorCode `json:"code,omitempty"`
}

// StatusResponse wraps node status.
type StatusResponse struct {
	*node.Status
}

// HealthResponse is returned while the node is serving.
type HealthResponse struct {
	Status string `json:"status"`
}
