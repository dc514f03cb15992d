package vm

import (
	"errors"
	"fmt"

	"github.com/rollkit/rollcore/types"
)

var (
	// ErrForkGraphNotSet is returned when a bytecode program is inserted before the cache knows its fork graph.
	ErrForkGraphNotSet = errors.New("program cache has no fork graph")
	// ErrStackOverflow is returned when a program exceeds the operand stack depth.
	ErrStackOverflow = fmt.Errorf("%w: operand stack overflow", types.ErrInvalidInstruction)
	// ErrStackUnderflow is returned when a program pops from an empty stack.
	ErrStackUnderflow = fmt.Errorf("%w: operand stack underflow", types.ErrInvalidInstruction)
	// ErrNotEnoughAccounts is returned when an instruction references a missing account.
	ErrNotEnoughAccounts = fmt.Errorf("%w: not enough account keys", types.ErrInvalidInstruction)
)
