package types

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorCodes(t *testing.T) {
	for _, e := range codeTable {
		wrapped := fmt.Errorf("context: %w", e.err)
		assert.Equal(t, e.code, CodeOf(wrapped), e.err.Error())
		assert.Equal(t, e.class, ClassOf(e.code), e.err.Error())
		assert.Equal(t, e.err, ErrorFromCode(e.code))
	}

	assert.Equal(t, CodeOK, CodeOf(nil))
	assert.Equal(t, ClassNone, ClassOf(CodeOK))
	assert.Equal(t, CodeUnknown, CodeOf(errors.New("boom")))
	assert.Equal(t, ClassFatal, ClassOf(CodeUnknown))

	ixErr := &InstructionError{Index: 2, Err: &CustomError{Code: 5}}
	assert.Equal(t, CodeCustom, CodeOf(ixErr))
	assert.Equal(t, ClassValidation, ClassOf(CodeCustom))
	assert.Equal(t, "instruction 2: custom program error: 0x5", ixErr.Error())
}

func TestOutcome(t *testing.T) {
	ok := OutcomeFromError(nil)
	assert.True(t, ok.Success)
	assert.NoError(t, ok.Err())

	failed := OutcomeFromError(&InstructionError{Index: 0, Err: ErrProgramNotFound})
	require.False(t, failed.Success)
	assert.Equal(t, CodeProgramNotFound, failed.Code)
	assert.ErrorIs(t, failed.Err(), ErrProgramNotFound)
}

func TestSafeArithmetic(t *testing.T) {
	v, err := SafeAdd(1, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), v)

	_, err = SafeAdd(math.MaxUint64, 1)
	assert.ErrorIs(t, err, ErrArithmeticOverflow)

	v, err = SafeSub(3, 3)
	require.NoError(t, err)
	assert.Zero(t, v)

	_, err = SafeSub(0, 1)
	assert.ErrorIs(t, err, ErrArithmeticOverflow)
}
