// Package system implements the builtin program that owns plain accounts: it creates
// accounts, moves lamports between them and hands them over to other programs.
package system

import (
	"encoding/binary"
	"fmt"

	"github.com/rollkit/rollcore/types"
	"github.com/rollkit/rollcore/vm"
)

// Name is the name the program is registered under.
const Name = "system_program"

// ProgramID is the all-zero key.
var ProgramID = types.PublicKey{}

// MaxPermittedDataLength bounds the data size of a single account.
const MaxPermittedDataLength = 10 * 1024 * 1024

// Instruction discriminators.
const (
	InstructionCreateAccount byte = iota
	InstructionAssign
	InstructionTransfer
	InstructionAllocate
)

// Register adds the system program to env.
func Register(env *vm.Environment) {
	env.RegisterBuiltin(ProgramID, Name, Process)
}

// CreateAccount funds a new account with lamports and space bytes of data owned by owner.
func CreateAccount(from, to types.PublicKey, lamports, space uint64, owner types.PublicKey) types.Instruction {
	data := make([]byte, 1+8+8+types.PublicKeySize)
	data[0] = InstructionCreateAccount
	binary.LittleEndian.PutUint64(data[1:], lamports)
	binary.LittleEndian.PutUint64(data[9:], space)
	copy(data[17:], owner[:])
	return types.Instruction{
		ProgramID: ProgramID,
		Accounts: []types.AccountMeta{
			{Pubkey: from, IsSigner: true, IsWritable: true},
			{Pubkey: to, IsSigner: true, IsWritable: true},
		},
		Data: data,
	}
}

// Assign hands account over to owner.
func Assign(account, owner types.PublicKey) types.Instruction {
	data := make([]byte, 1+types.PublicKeySize)
	data[0] = InstructionAssign
	copy(data[1:], owner[:])
	return types.Instruction{
		ProgramID: ProgramID,
		Accounts:  []types.AccountMeta{{Pubkey: account, IsSigner: true, IsWritable: true}},
		Data:      data,
	}
}

// Transfer moves lamports from one account to another.
func Transfer(from, to types.PublicKey, lamports uint64) types.Instruction {
	data := make([]byte, 1+8)
	data[0] = InstructionTransfer
	binary.LittleEndian.PutUint64(data[1:], lamports)
	return types.Instruction{
		ProgramID: ProgramID,
		Accounts: []types.AccountMeta{
			{Pubkey: from, IsSigner: true, IsWritable: true},
			{Pubkey: to, IsWritable: true},
		},
		Data: data,
	}
}

// Allocate sets the data size of an empty account.
func Allocate(account types.PublicKey, space uint64) types.Instruction {
	data := make([]byte, 1+8)
	data[0] = InstructionAllocate
	binary.LittleEndian.PutUint64(data[1:], space)
	return types.Instruction{
		ProgramID: ProgramID,
		Accounts:  []types.AccountMeta{{Pubkey: account, IsSigner: true, IsWritable: true}},
		Data:      data,
	}
}

// Process is the program entrypoint.
func Process(ctx *vm.InvokeContext) error {
	if len(ctx.Data) == 0 {
		return fmt.Errorf("%w: empty system instruction", types.ErrInvalidInstruction)
	}
	switch ctx.Data[0] {
	case InstructionCreateAccount:
		if len(ctx.Data) != 1+8+8+types.PublicKeySize {
			return fmt.Errorf("%w: create account", types.ErrInvalidInstruction)
		}
		var owner types.PublicKey
		copy(owner[:], ctx.Data[17:])
		return createAccount(ctx,
			binary.LittleEndian.Uint64(ctx.Data[1:]),
			binary.LittleEndian.Uint64(ctx.Data[9:]),
			owner)
	case InstructionAssign:
		if len(ctx.Data) != 1+types.PublicKeySize {
			return fmt.Errorf("%w: assign", types.ErrInvalidInstruction)
		}
		var owner types.PublicKey
		copy(owner[:], ctx.Data[1:])
		acc, err := signedAccount(ctx, 0)
		if err != nil {
			return err
		}
		return assign(ctx, acc, owner)
	case InstructionTransfer:
		if len(ctx.Data) != 1+8 {
			return fmt.Errorf("%w: transfer", types.ErrInvalidInstruction)
		}
		return transfer(ctx, binary.LittleEndian.Uint64(ctx.Data[1:]))
	case InstructionAllocate:
		if len(ctx.Data) != 1+8 {
			return fmt.Errorf("%w: allocate", types.ErrInvalidInstruction)
		}
		acc, err := signedAccount(ctx, 0)
		if err != nil {
			return err
		}
		return allocate(ctx, acc, binary.LittleEndian.Uint64(ctx.Data[1:]))
	default:
		return fmt.Errorf("%w: unknown system instruction %d", types.ErrInvalidInstruction, ctx.Data[0])
	}
}

func signedAccount(ctx *vm.InvokeContext, i int) (*vm.InstructionAccount, error) {
	acc, err := ctx.Account(i)
	if err != nil {
		return nil, err
	}
	if !acc.IsSigner {
		return nil, fmt.Errorf("%w: %s", types.ErrMissingSignature, acc.Key)
	}
	return acc, nil
}

func allocate(ctx *vm.InvokeContext, acc *vm.InstructionAccount, space uint64) error {
	if len(acc.Account.Data) != 0 || acc.Account.Owner != ProgramID {
		ctx.Log("Allocate: account %s already in use", acc.Key)
		return fmt.Errorf("%w: %s", types.ErrAccountAlreadyInUse, acc.Key)
	}
	if space > MaxPermittedDataLength {
		return fmt.Errorf("%w: requested %d bytes", types.ErrInvalidInstruction, space)
	}
	acc.Account.Data = make([]byte, space)
	return nil
}

func assign(ctx *vm.InvokeContext, acc *vm.InstructionAccount, owner types.PublicKey) error {
	if acc.Account.Owner == owner {
		return nil
	}
	if acc.Account.Owner != ProgramID {
		return fmt.Errorf("%w: %s is owned by %s", types.ErrExternalDataModified, acc.Key, acc.Account.Owner)
	}
	acc.Account.Owner = owner
	return nil
}

func createAccount(ctx *vm.InvokeContext, lamports, space uint64, owner types.PublicKey) error {
	from, err := signedAccount(ctx, 0)
	if err != nil {
		return err
	}
	to, err := signedAccount(ctx, 1)
	if err != nil {
		return err
	}
	if to.Account.Lamports > 0 {
		ctx.Log("Create Account: account %s already in use", to.Key)
		return fmt.Errorf("%w: %s", types.ErrAccountAlreadyInUse, to.Key)
	}
	if err := allocate(ctx, to, space); err != nil {
		return err
	}
	if err := assign(ctx, to, owner); err != nil {
		return err
	}
	return move(from, to, lamports)
}

func transfer(ctx *vm.InvokeContext, lamports uint64) error {
	from, err := signedAccount(ctx, 0)
	if err != nil {
		return err
	}
	to, err := ctx.Account(1)
	if err != nil {
		return err
	}
	if len(from.Account.Data) != 0 {
		return fmt.Errorf("%w: transfer from account with data", types.ErrInvalidInstruction)
	}
	if from.Account.Owner != ProgramID {
		return fmt.Errorf("%w: %s", types.ErrExternalLamportSpend, from.Key)
	}
	return move(from, to, lamports)
}

func move(from, to *vm.InstructionAccount, lamports uint64) error {
	if lamports == 0 {
		return nil
	}
	debited, err := types.SafeSub(from.Account.Lamports, lamports)
	if err != nil {
		return fmt.Errorf("transfer from %s: %w", from.Key, err)
	}
	from.Account.Lamports = debited
	credited, err := types.SafeAdd(to.Account.Lamports, lamports)
	if err != nil {
		return fmt.Errorf("transfer to %s: %w", to.Key, err)
	}
	to.Account.Lamports = credited
	return nil
}
