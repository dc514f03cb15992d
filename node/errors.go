package node

import "github.com/rollkit/rollcore/types"

var (
	// ErrNothingToSettle is returned by Settle when every processed record is settled.
	ErrNothingToSettle = types.ErrNothingToSettle
	// ErrNotExecutable is returned when deploying an account that is not a finalized program.
	ErrNotExecutable = types.ErrNotExecutable
)
