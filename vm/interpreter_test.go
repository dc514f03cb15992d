package vm

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rollkit/rollcore/types"
)

var interpreterProgramID = types.PublicKey{0xAA}

func run(t *testing.T, a *Assembler, data []byte, accounts ...*InstructionAccount) (*InvokeContext, error) {
	t.Helper()
	image, err := a.Build()
	require.NoError(t, err)
	p, err := DecodeProgram(image, AllFeatures())
	require.NoError(t, err)
	ctx := &InvokeContext{
		ProgramID: interpreterProgramID,
		Accounts:  accounts,
		Data:      data,
		Meter:     NewComputeMeter(1000),
		Features:  AllFeatures(),
		Budget:    DefaultComputeBudget(),
	}
	return ctx, p.Execute(ctx)
}

func u64(v uint64) []byte {
	bz := make([]byte, 8)
	binary.LittleEndian.PutUint64(bz, v)
	return bz
}

func TestInterpreterArithmetic(t *testing.T) {
	ctx, err := run(t, NewAssembler().LdData(0).LdData(8).Sub().Log().Push(3).Push(4).Add().Log(), append(u64(10), u64(4)...))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Program " + interpreterProgramID.String() + " log: 6",
		"Program " + interpreterProgramID.String() + " log: 7",
	}, ctx.Logs())
	// eight opcodes, one unit each
	assert.Equal(t, uint64(8), ctx.Meter.Consumed())

	_, err = run(t, NewAssembler().Push(1).Push(2).Sub(), nil)
	assert.ErrorIs(t, err, types.ErrArithmeticOverflow)

	_, err = run(t, NewAssembler().Push(^uint64(0)).Push(1).Add(), nil)
	assert.ErrorIs(t, err, types.ErrArithmeticOverflow)
}

func TestInterpreterStack(t *testing.T) {
	_, err := run(t, NewAssembler().Pop(), nil)
	assert.ErrorIs(t, err, ErrStackUnderflow)
	assert.ErrorIs(t, err, types.ErrInvalidInstruction)

	a := NewAssembler()
	for i := 0; i <= DefaultComputeBudget().MaxStackDepth; i++ {
		a.Push(1)
	}
	_, err = run(t, a, nil)
	assert.ErrorIs(t, err, ErrStackOverflow)

	ctx, err := run(t, NewAssembler().Push(1).Push(2).Swap().Log().Dup().Add().Log(), nil)
	require.NoError(t, err)
	assert.Len(t, ctx.Logs(), 2)
	assert.Contains(t, ctx.Logs()[0], "log: 1")
	assert.Contains(t, ctx.Logs()[1], "log: 4")
}

func TestInterpreterControlFlow(t *testing.T) {
	// counts down from the first data word
	a := NewAssembler().
		LdData(0).
		Label("loop").
		Dup().Jz("done").
		Push(1).Sub().
		Jmp("loop").
		Label("done").
		Log().Halt()
	ctx, err := run(t, a, u64(3))
	require.NoError(t, err)
	assert.Contains(t, ctx.Logs()[0], "log: 0")

	ctx, err = run(t, NewAssembler().Push(2).Push(3).Lt().Log().Push(3).Push(3).Eq().Log(), nil)
	require.NoError(t, err)
	assert.Contains(t, ctx.Logs()[0], "log: 1")
	assert.Contains(t, ctx.Logs()[1], "log: 1")
}

func TestInterpreterComputeBudget(t *testing.T) {
	image, err := NewAssembler().Label("spin").Jmp("spin").Build()
	require.NoError(t, err)
	p, err := DecodeProgram(image, AllFeatures())
	require.NoError(t, err)

	ctx := &InvokeContext{Meter: NewComputeMeter(50), Budget: DefaultComputeBudget()}
	err = p.Execute(ctx)
	assert.ErrorIs(t, err, types.ErrComputeBudget)
	assert.Equal(t, uint64(0), ctx.Meter.Remaining())
}

func TestInterpreterAccounts(t *testing.T) {
	signer := types.PublicKey{1}
	owned := &InstructionAccount{
		Key:        types.PublicKey{2},
		IsWritable: true,
		Account:    &types.Account{Lamports: 5, Owner: interpreterProgramID, Data: make([]byte, 40)},
	}
	foreign := &InstructionAccount{
		Key:        types.PublicKey{3},
		IsWritable: true,
		Account:    &types.Account{Data: make([]byte, 40)},
	}
	readonly := &InstructionAccount{
		Key:     types.PublicKey{4},
		Account: &types.Account{Owner: interpreterProgramID, Data: make([]byte, 40)},
	}
	sig := &InstructionAccount{Key: signer, IsSigner: true, Account: &types.Account{}}

	_, err := run(t, NewAssembler().Push(42).StAcc(0, 0).StKey(0, 8, 1).Auth(0, 8, 1).LdLam(0).Log(), nil, owned, sig)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), binary.LittleEndian.Uint64(owned.Account.Data))
	assert.Equal(t, signer[:], owned.Account.Data[8:40])

	_, err = run(t, NewAssembler().Push(1).StAcc(0, 0), nil, foreign)
	assert.ErrorIs(t, err, types.ErrExternalDataModified)

	_, err = run(t, NewAssembler().Push(1).StAcc(0, 0), nil, readonly)
	assert.ErrorIs(t, err, types.ErrReadonlyModified)

	_, err = run(t, NewAssembler().Push(1).StAcc(0, 36), nil, owned)
	assert.ErrorIs(t, err, types.ErrAccountDataTooSmall)

	_, err = run(t, NewAssembler().Signer(0), nil, owned)
	assert.ErrorIs(t, err, types.ErrMissingSignature)

	_, err = run(t, NewAssembler().Auth(0, 8, 1), nil, owned, &InstructionAccount{Key: types.PublicKey{9}, IsSigner: true, Account: &types.Account{}})
	assert.ErrorIs(t, err, types.ErrMissingSignature)

	_, err = run(t, NewAssembler().LdLam(3), nil, owned)
	assert.ErrorIs(t, err, ErrNotEnoughAccounts)

	_, err = run(t, NewAssembler().Owned(0), nil, foreign)
	assert.ErrorIs(t, err, types.ErrInvalidInstruction)
}

func TestInterpreterFail(t *testing.T) {
	_, err := run(t, NewAssembler().Fail(7), nil)
	var custom *types.CustomError
	require.True(t, errors.As(err, &custom))
	assert.Equal(t, uint32(7), custom.Code)
	assert.Equal(t, types.CodeCustom, types.CodeOf(err))
}
