// Package token provides a fungible token program written in rollup bytecode.
//
// A token account is owned by the program and holds a little endian u64 amount
// followed by the 32 byte key of the authority allowed to move it.
package token

import (
	"encoding/binary"

	"github.com/rollkit/rollcore/types"
	"github.com/rollkit/rollcore/vm"
)

// Name of the program.
const Name = "token_program"

// ProgramID is the id the token program is deployed under.
var ProgramID = types.PublicKey(types.SumHash([]byte(Name)))

// Account layout.
const (
	AmountOffset    = 0
	AuthorityOffset = 8
	AccountSize     = AuthorityOffset + types.PublicKeySize
)

// Instruction discriminators.
const (
	InstructionInitializeAccount byte = iota
	InstructionTransfer
)

// Custom error codes raised by the program.
const (
	ErrAlreadyInitialized uint32 = iota + 1
	ErrUnknownInstruction
	ErrUninitializedAccount
)

// Image assembles the program.
func Image() ([]byte, error) {
	a := vm.NewAssembler()
	a.LdByte(0).Jz("initialize").
		LdByte(0).Push(uint64(InstructionTransfer)).Eq().Jz("unknown")

	// transfer: [source, destination, authority]
	a.Owned(0).Owned(1).
		Auth(0, AuthorityOffset, 2).
		LdAcc(1, AuthorityOffset).Jz("uninitialized").
		LdAcc(0, AmountOffset).LdData(1).Sub().StAcc(0, AmountOffset).
		LdAcc(1, AmountOffset).LdData(1).Add().StAcc(1, AmountOffset).
		Halt()

	// initialize: [account, authority]
	a.Label("initialize").
		Owned(0).
		LdAcc(0, AuthorityOffset).Jz("store_authority").
		Fail(byte(ErrAlreadyInitialized)).
		Label("store_authority").
		StKey(0, AuthorityOffset, 1).
		Halt()

	a.Label("unknown").Fail(byte(ErrUnknownInstruction))
	a.Label("uninitialized").Fail(byte(ErrUninitializedAccount))
	return a.Build()
}

// MustImage is like Image but panics on error.
func MustImage() []byte {
	image, err := Image()
	if err != nil {
		panic(err)
	}
	return image
}

// InitializeAccount binds a token account to its authority.
func InitializeAccount(account, authority types.PublicKey) types.Instruction {
	return types.Instruction{
		ProgramID: ProgramID,
		Accounts: []types.AccountMeta{
			{Pubkey: account, IsWritable: true},
			{Pubkey: authority},
		},
		Data: []byte{InstructionInitializeAccount},
	}
}

// Transfer moves amount tokens from source to destination.
func Transfer(source, destination, authority types.PublicKey, amount uint64) types.Instruction {
	data := make([]byte, 1+8)
	data[0] = InstructionTransfer
	binary.LittleEndian.PutUint64(data[1:], amount)
	return types.Instruction{
		ProgramID: ProgramID,
		Accounts: []types.AccountMeta{
			{Pubkey: source, IsWritable: true},
			{Pubkey: destination, IsWritable: true},
			{Pubkey: authority, IsSigner: true},
		},
		Data: data,
	}
}

// NewAccountData encodes a token account.
func NewAccountData(amount uint64, authority types.PublicKey) []byte {
	data := make([]byte, AccountSize)
	binary.LittleEndian.PutUint64(data[AmountOffset:], amount)
	copy(data[AuthorityOffset:], authority[:])
	return data
}

// Amount decodes the balance of a token account.
func Amount(data []byte) uint64 {
	if len(data) < AccountSize {
		return 0
	}
	return binary.LittleEndian.Uint64(data[AmountOffset:])
}

// Authority decodes the authority of a token account.
func Authority(data []byte) types.PublicKey {
	var pk types.PublicKey
	if len(data) >= AccountSize {
		copy(pk[:], data[AuthorityOffset:AccountSize])
	}
	return pk
}
