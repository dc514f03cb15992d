// Package loader implements the builtin programs that own bytecode program accounts.
//
// A program is deployed in three steps: the system program creates an account owned by
// the loader sized to the image, Write instructions copy the image into it and Finalize
// verifies it and marks the account executable. Loading a finalized account into the
// program cache is an administrative operation of the node, never a side effect of
// executing a transaction.
package loader

import (
	"encoding/binary"
	"fmt"

	"github.com/rollkit/rollcore/types"
	"github.com/rollkit/rollcore/vm"
)

// Names the loaders are registered under.
const (
	Name            = "bytecode_loader"
	UpgradeableName = "bytecode_loader_upgradeable"
)

// Program ids of the loaders.
var (
	ProgramID            = types.PublicKey(types.SumHash([]byte(Name)))
	UpgradeableProgramID = types.PublicKey(types.SumHash([]byte(UpgradeableName)))
)

// Instruction discriminators.
const (
	InstructionWrite byte = iota
	InstructionFinalize
)

// Register adds both loaders to env.
func Register(env *vm.Environment) {
	env.RegisterBuiltin(ProgramID, Name, Process)
	env.RegisterBuiltin(UpgradeableProgramID, UpgradeableName, Process)
}

// LoaderType maps a program account owner to the cache loader type.
func LoaderType(owner types.PublicKey) (vm.LoaderType, bool) {
	switch owner {
	case ProgramID:
		return vm.LoaderBytecode, true
	case UpgradeableProgramID:
		return vm.LoaderBytecodeUpgradeable, true
	}
	return vm.LoaderBuiltin, false
}

// Write copies bytes into the program account at offset.
func Write(loaderID, account types.PublicKey, offset uint32, bytes []byte) types.Instruction {
	data := make([]byte, 1+4+len(bytes))
	data[0] = InstructionWrite
	binary.LittleEndian.PutUint32(data[1:], offset)
	copy(data[5:], bytes)
	return types.Instruction{
		ProgramID: loaderID,
		Accounts:  []types.AccountMeta{{Pubkey: account, IsSigner: true, IsWritable: true}},
		Data:      data,
	}
}

// Finalize verifies the program image and marks the account executable.
func Finalize(loaderID, account types.PublicKey) types.Instruction {
	return types.Instruction{
		ProgramID: loaderID,
		Accounts:  []types.AccountMeta{{Pubkey: account, IsSigner: true, IsWritable: true}},
		Data:      []byte{InstructionFinalize},
	}
}

// Process is the entrypoint shared by both loaders.
func Process(ctx *vm.InvokeContext) error {
	if len(ctx.Data) == 0 {
		return fmt.Errorf("%w: empty loader instruction", types.ErrInvalidInstruction)
	}
	acc, err := ctx.Account(0)
	if err != nil {
		return err
	}
	if !acc.IsSigner {
		return fmt.Errorf("%w: %s", types.ErrMissingSignature, acc.Key)
	}
	if acc.Account.Owner != ctx.ProgramID {
		return fmt.Errorf("%w: %s is owned by %s", types.ErrInvalidInstruction, acc.Key, acc.Account.Owner)
	}
	if acc.Account.Executable {
		return fmt.Errorf("%w: %s is already finalized", types.ErrExecutableModified, acc.Key)
	}

	switch ctx.Data[0] {
	case InstructionWrite:
		if len(ctx.Data) < 5 {
			return fmt.Errorf("%w: write", types.ErrInvalidInstruction)
		}
		offset := int(binary.LittleEndian.Uint32(ctx.Data[1:]))
		bytes := ctx.Data[5:]
		if offset+len(bytes) > len(acc.Account.Data) {
			return fmt.Errorf("%w: write of %d bytes at %d", types.ErrAccountDataTooSmall, len(bytes), offset)
		}
		copy(acc.Account.Data[offset:], bytes)
		return nil
	case InstructionFinalize:
		if _, err := vm.DecodeProgram(acc.Account.Data, ctx.Features); err != nil {
			return err
		}
		acc.Account.Executable = true
		ctx.Log("Finalized program %s", acc.Key)
		return nil
	default:
		return fmt.Errorf("%w: unknown loader instruction %d", types.ErrInvalidInstruction, ctx.Data[0])
	}
}
