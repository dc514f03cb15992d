package vm

import (
	"fmt"

	"github.com/rollkit/rollcore/types"
)

// ComputeMeter tracks the compute units left to a transaction.
type ComputeMeter struct {
	limit     uint64
	remaining uint64
}

// NewComputeMeter creates a meter with the given limit.
func NewComputeMeter(limit uint64) *ComputeMeter {
	return &ComputeMeter{limit: limit, remaining: limit}
}

// Consume charges n units.
func (m *ComputeMeter) Consume(n uint64) error {
	if n > m.remaining {
		m.remaining = 0
		return types.ErrComputeBudget
	}
	m.remaining -= n
	return nil
}

// Remaining returns units left.
func (m *ComputeMeter) Remaining() uint64 {
	return m.remaining
}

// Consumed returns units used so far.
func (m *ComputeMeter) Consumed() uint64 {
	return m.limit - m.remaining
}

// InstructionAccount is an account as seen by the program executing an instruction.
// Account points into the transaction working set, so every instruction of the
// transaction observes writes of the previous ones.
type InstructionAccount struct {
	Key        types.PublicKey
	IsSigner   bool
	IsWritable bool
	Account    *types.Account
}

// InvokeContext is handed to a program for a single instruction.
type InvokeContext struct {
	ProgramID types.PublicKey
	Accounts  []*InstructionAccount
	Data      []byte
	Meter     *ComputeMeter
	Features  FeatureSet
	Budget    ComputeBudget
	Slot      uint64

	logs []string
}

// Account returns the i-th instruction account.
func (c *InvokeContext) Account(i int) (*InstructionAccount, error) {
	if i < 0 || i >= len(c.Accounts) {
		return nil, fmt.Errorf("%w: index %d", ErrNotEnoughAccounts, i)
	}
	return c.Accounts[i], nil
}

// Log records a program log line.
func (c *InvokeContext) Log(format string, args ...interface{}) {
	c.logs = append(c.logs, fmt.Sprintf("Program %s log: %s", c.ProgramID, fmt.Sprintf(format, args...)))
}

// Logs returns the lines logged so far.
func (c *InvokeContext) Logs() []string {
	return c.logs
}

// Entrypoint is the native implementation of a builtin program.
type Entrypoint func(ctx *InvokeContext) error
