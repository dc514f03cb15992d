package types

import (
	"errors"
	"fmt"
)

// Contention errors. Recoverable by retrying later.
var (
	ErrAccountBusy = errors.New("account busy")
	ErrLockTimeout = errors.New("lock wait timed out")
)

// Validation errors. Scoped to a single transaction.
var (
	ErrProgramNotFound       = errors.New("program not found")
	ErrInvalidProgramImage   = errors.New("invalid program image")
	ErrArithmeticOverflow    = errors.New("arithmetic overflow")
	ErrInsufficientFee       = errors.New("insufficient funds for fee")
	ErrInvalidTransaction    = errors.New("invalid transaction")
	ErrInvalidSignature      = errors.New("invalid signature")
	ErrInvalidInstruction    = errors.New("invalid instruction data")
	ErrMissingSignature      = errors.New("missing required signature")
	ErrReadonlyModified      = errors.New("instruction modified read-only account")
	ErrExternalLamportSpend  = errors.New("instruction spent from an account it does not own")
	ErrExternalDataModified  = errors.New("instruction modified data of an account it does not own")
	ErrExecutableModified    = errors.New("instruction modified an executable account")
	ErrUnbalancedInstruction = errors.New("sum of account balances changed by instruction")
	ErrAccountAlreadyInUse   = errors.New("account already in use")
	ErrAccountDataTooSmall   = errors.New("account data too small")
	ErrComputeBudget         = errors.New("compute budget exceeded")
	ErrCheckFailed           = errors.New("transaction pre-check failed")
)

// Protocol errors. Indicate a caller or ordering bug.
var (
	ErrNotLocked            = errors.New("account not locked by caller")
	ErrDuplicateTransaction = errors.New("duplicate transaction")
	ErrRangeAlreadySettled  = errors.New("range already settled")
	ErrRangeNotContiguous   = errors.New("range not contiguous with settled log")
	ErrInvalidRange         = errors.New("invalid log range")
	ErrMalformedMessage     = errors.New("malformed message")
	ErrNotFound             = errors.New("not found")
	ErrNothingToSettle      = errors.New("nothing to settle")
	ErrNotExecutable        = errors.New("account is not executable")
)

// Fatal errors. Terminate the affected execution context.
var (
	ErrChannelClosed = errors.New("channel closed")
	ErrCacheCorrupt  = errors.New("program cache corrupt")
)

// Parse errors.
var (
	ErrInvalidPublicKey = errors.New("invalid public key")
	ErrInvalidHash      = errors.New("invalid hash")
)

// ErrorCode is the stable numeric form of an error, carried in processed records and RPC replies.
type ErrorCode uint32

// Error codes.
const (
	CodeOK ErrorCode = iota
	CodeAccountBusy
	CodeLockTimeout
	CodeProgramNotFound
	CodeInvalidProgramImage
	CodeArithmeticOverflow
	CodeInsufficientFee
	CodeInvalidTransaction
	CodeInvalidSignature
	CodeInvalidInstruction
	CodeMissingSignature
	CodeReadonlyModified
	CodeExternalLamportSpend
	CodeExternalDataModified
	CodeExecutableModified
	CodeUnbalancedInstruction
	CodeAccountAlreadyInUse
	CodeAccountDataTooSmall
	CodeComputeBudget
	CodeCheckFailed
	CodeCustom
	CodeNotLocked
	CodeDuplicateTransaction
	CodeRangeAlreadySettled
	CodeRangeNotContiguous
	CodeInvalidRange
	CodeMalformedMessage
	CodeNotFound
	CodeChannelClosed
	CodeCacheCorrupt
	CodeNothingToSettle
	CodeNotExecutable
	CodeUnknown
)

// ErrorClass groups error codes by how callers should react to them.
type ErrorClass int

// Error classes.
const (
	ClassNone ErrorClass = iota
	ClassContention
	ClassValidation
	ClassProtocol
	ClassFatal
)

func (c ErrorClass) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassContention:
		return "contention"
	case ClassValidation:
		return "validation"
	case ClassProtocol:
		return "protocol"
	case ClassFatal:
		return "fatal"
	}
	return "unknown"
}

var codeTable = []struct {
	err   error
	code  ErrorCode
	class ErrorClass
}{
	{ErrAccountBusy, CodeAccountBusy, ClassContention},
	{ErrLockTimeout, CodeLockTimeout, ClassContention},
	{ErrProgramNotFound, CodeProgramNotFound, ClassValidation},
	{ErrInvalidProgramImage, CodeInvalidProgramImage, ClassValidation},
	{ErrArithmeticOverflow, CodeArithmeticOverflow, ClassValidation},
	{ErrInsufficientFee, CodeInsufficientFee, ClassValidation},
	{ErrInvalidTransaction, CodeInvalidTransaction, ClassValidation},
	{ErrInvalidSignature, CodeInvalidSignature, ClassValidation},
	{ErrInvalidInstruction, CodeInvalidInstruction, ClassValidation},
	{ErrMissingSignature, CodeMissingSignature, ClassValidation},
	{ErrReadonlyModified, CodeReadonlyModified, ClassValidation},
	{ErrExternalLamportSpend, CodeExternalLamportSpend, ClassValidation},
	{ErrExternalDataModified, CodeExternalDataModified, ClassValidation},
	{ErrExecutableModified, CodeExecutableModified, ClassValidation},
	{ErrUnbalancedInstruction, CodeUnbalancedInstruction, ClassValidation},
	{ErrAccountAlreadyInUse, CodeAccountAlreadyInUse, ClassValidation},
	{ErrAccountDataTooSmall, CodeAccountDataTooSmall, ClassValidation},
	{ErrComputeBudget, CodeComputeBudget, ClassValidation},
	{ErrCheckFailed, CodeCheckFailed, ClassValidation},
	{ErrNotLocked, CodeNotLocked, ClassProtocol},
	{ErrDuplicateTransaction, CodeDuplicateTransaction, ClassProtocol},
	{ErrRangeAlreadySettled, CodeRangeAlreadySettled, ClassProtocol},
	{ErrRangeNotContiguous, CodeRangeNotContiguous, ClassProtocol},
	{ErrInvalidRange, CodeInvalidRange, ClassProtocol},
	{ErrMalformedMessage, CodeMalformedMessage, ClassProtocol},
	{ErrNotFound, CodeNotFound, ClassProtocol},
	{ErrNothingToSettle, CodeNothingToSettle, ClassProtocol},
	{ErrNotExecutable, CodeNotExecutable, ClassProtocol},
	{ErrChannelClosed, CodeChannelClosed, ClassFatal},
	{ErrCacheCorrupt, CodeCacheCorrupt, ClassFatal},
}

// CustomError is a program defined failure.
type CustomError struct {
	Code uint32
}

func (e *CustomError) Error() string {
	return fmt.Sprintf("custom program error: 0x%x", e.Code)
}

// InstructionError attributes an error to the instruction that raised it.
type InstructionError struct {
	Index int
	Err   error
}

func (e *InstructionError) Error() string {
	return fmt.Sprintf("instruction %d: %s", e.Index, e.Err)
}

func (e *InstructionError) Unwrap() error {
	return e.Err
}

// CodeOf maps err to its ErrorCode. Nil maps to CodeOK.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return CodeOK
	}
	var custom *CustomError
	if errors.As(err, &custom) {
		return CodeCustom
	}
	for _, e := range codeTable {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return CodeUnknown
}

// ClassOf returns the ErrorClass of the given code.
func ClassOf(code ErrorCode) ErrorClass {
	if code == CodeOK {
		return ClassNone
	}
	if code == CodeCustom {
		return ClassValidation
	}
	for _, e := range codeTable {
		if e.code == code {
			return e.class
		}
	}
	return ClassFatal
}

// ErrorFromCode returns the sentinel error for code, if any.
func ErrorFromCode(code ErrorCode) error {
	for _, e := range codeTable {
		if e.code == code {
			return e.err
		}
	}
	return nil
}

// SafeAdd adds two balances, failing with ErrArithmeticOverflow instead of wrapping.
func SafeAdd(a, b uint64) (uint64, error) {
	if a+b < a {
		return 0, fmt.Errorf("%w: %d + %d", ErrArithmeticOverflow, a, b)
	}
	return a + b, nil
}

// SafeSub subtracts two balances, failing with ErrArithmeticOverflow on underflow.
func SafeSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, fmt.Errorf("%w: %d - %d", ErrArithmeticOverflow, a, b)
	}
	return a - b, nil
}
