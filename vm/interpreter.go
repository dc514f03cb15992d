package vm

import (
	"encoding/binary"
	"fmt"

	"github.com/rollkit/rollcore/types"
)

// instructionCost is charged for every executed opcode.
const instructionCost = 1

type machine struct {
	ctx   *InvokeContext
	code  []byte
	stack []uint64
	max   int
}

// Execute runs the program for a single instruction.
func (p *Program) Execute(ctx *InvokeContext) error {
	m := &machine{
		ctx:  ctx,
		code: p.Code,
		max:  ctx.Budget.MaxStackDepth,
	}
	return m.run()
}

func (m *machine) push(v uint64) error {
	if m.max > 0 && len(m.stack) >= m.max {
		return ErrStackOverflow
	}
	m.stack = append(m.stack, v)
	return nil
}

func (m *machine) pop() (uint64, error) {
	if len(m.stack) == 0 {
		return 0, ErrStackUnderflow
	}
	v := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	return v, nil
}

func (m *machine) pop2() (a, b uint64, err error) {
	if b, err = m.pop(); err != nil {
		return
	}
	a, err = m.pop()
	return
}

func (m *machine) account(idx byte) (*InstructionAccount, error) {
	return m.ctx.Account(int(idx))
}

func (m *machine) writable(idx byte) (*InstructionAccount, error) {
	acc, err := m.account(idx)
	if err != nil {
		return nil, err
	}
	if !acc.IsWritable {
		return nil, fmt.Errorf("%w: %s", types.ErrReadonlyModified, acc.Key)
	}
	return acc, nil
}

func (m *machine) owned(idx byte) (*InstructionAccount, error) {
	acc, err := m.writable(idx)
	if err != nil {
		return nil, err
	}
	if acc.Account.Owner != m.ctx.ProgramID {
		return nil, fmt.Errorf("%w: %s", types.ErrExternalDataModified, acc.Key)
	}
	return acc, nil
}

func dataSlice(data []byte, off, n int) ([]byte, error) {
	if off+n > len(data) {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", types.ErrAccountDataTooSmall, n, off, len(data))
	}
	return data[off : off+n], nil
}

func boolToU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func (m *machine) run() error {
	for pc := 0; pc < len(m.code); {
		if err := m.ctx.Meter.Consume(instructionCost); err != nil {
			return err
		}
		op := Opcode(m.code[pc])
		operands := m.code[pc+1 : pc+1+opTable[op].operands]
		next := pc + 1 + len(operands)

		switch op {
		case OpHalt:
			return nil
		case OpPush:
			if err := m.push(binary.LittleEndian.Uint64(operands)); err != nil {
				return err
			}
		case OpLdData:
			off := int(operands[0])
			if off+8 > len(m.ctx.Data) {
				return fmt.Errorf("%w: read of 8 bytes at %d", types.ErrInvalidInstruction, off)
			}
			if err := m.push(binary.LittleEndian.Uint64(m.ctx.Data[off:])); err != nil {
				return err
			}
		case OpLdByte:
			off := int(operands[0])
			if off >= len(m.ctx.Data) {
				return fmt.Errorf("%w: read of byte %d", types.ErrInvalidInstruction, off)
			}
			if err := m.push(uint64(m.ctx.Data[off])); err != nil {
				return err
			}
		case OpLdLam:
			acc, err := m.account(operands[0])
			if err != nil {
				return err
			}
			if err := m.push(acc.Account.Lamports); err != nil {
				return err
			}
		case OpStLam:
			acc, err := m.writable(operands[0])
			if err != nil {
				return err
			}
			v, err := m.pop()
			if err != nil {
				return err
			}
			acc.Account.Lamports = v
		case OpLdAcc:
			acc, err := m.account(operands[0])
			if err != nil {
				return err
			}
			bz, err := dataSlice(acc.Account.Data, int(operands[1]), 8)
			if err != nil {
				return err
			}
			if err := m.push(binary.LittleEndian.Uint64(bz)); err != nil {
				return err
			}
		case OpStAcc:
			acc, err := m.owned(operands[0])
			if err != nil {
				return err
			}
			bz, err := dataSlice(acc.Account.Data, int(operands[1]), 8)
			if err != nil {
				return err
			}
			v, err := m.pop()
			if err != nil {
				return err
			}
			binary.LittleEndian.PutUint64(bz, v)
		case OpAdd:
			a, b, err := m.pop2()
			if err != nil {
				return err
			}
			sum, err := types.SafeAdd(a, b)
			if err != nil {
				return err
			}
			if err := m.push(sum); err != nil {
				return err
			}
		case OpSub:
			a, b, err := m.pop2()
			if err != nil {
				return err
			}
			diff, err := types.SafeSub(a, b)
			if err != nil {
				return err
			}
			if err := m.push(diff); err != nil {
				return err
			}
		case OpDup:
			v, err := m.pop()
			if err != nil {
				return err
			}
			if err := m.push(v); err != nil {
				return err
			}
			if err := m.push(v); err != nil {
				return err
			}
		case OpSwap:
			a, b, err := m.pop2()
			if err != nil {
				return err
			}
			m.stack = append(m.stack, b, a)
		case OpPop:
			if _, err := m.pop(); err != nil {
				return err
			}
		case OpSigner:
			acc, err := m.account(operands[0])
			if err != nil {
				return err
			}
			if !acc.IsSigner {
				return fmt.Errorf("%w: %s", types.ErrMissingSignature, acc.Key)
			}
		case OpOwned:
			acc, err := m.account(operands[0])
			if err != nil {
				return err
			}
			if acc.Account.Owner != m.ctx.ProgramID {
				return fmt.Errorf("%w: %s is owned by %s", types.ErrInvalidInstruction, acc.Key, acc.Account.Owner)
			}
		case OpAuth:
			acc, err := m.account(operands[0])
			if err != nil {
				return err
			}
			signer, err := m.account(operands[2])
			if err != nil {
				return err
			}
			bz, err := dataSlice(acc.Account.Data, int(operands[1]), types.PublicKeySize)
			if err != nil {
				return err
			}
			if !signer.IsSigner {
				return fmt.Errorf("%w: %s", types.ErrMissingSignature, signer.Key)
			}
			var authority types.PublicKey
			copy(authority[:], bz)
			if authority != signer.Key {
				return fmt.Errorf("%w: %s is not the authority of %s", types.ErrMissingSignature, signer.Key, acc.Key)
			}
		case OpStKey:
			acc, err := m.owned(operands[0])
			if err != nil {
				return err
			}
			src, err := m.account(operands[2])
			if err != nil {
				return err
			}
			bz, err := dataSlice(acc.Account.Data, int(operands[1]), types.PublicKeySize)
			if err != nil {
				return err
			}
			copy(bz, src.Key[:])
		case OpFail:
			return &types.CustomError{Code: uint32(operands[0])}
		case OpLog:
			v, err := m.pop()
			if err != nil {
				return err
			}
			m.ctx.Log("%d", v)
		case OpLt, OpEq:
			a, b, err := m.pop2()
			if err != nil {
				return err
			}
			r := a < b
			if op == OpEq {
				r = a == b
			}
			if err := m.push(boolToU64(r)); err != nil {
				return err
			}
		case OpJz:
			v, err := m.pop()
			if err != nil {
				return err
			}
			if v == 0 {
				next = int(binary.LittleEndian.Uint16(operands))
			}
		case OpJmp:
			next = int(binary.LittleEndian.Uint16(operands))
		default:
			return fmt.Errorf("%w: opcode 0x%02x", types.ErrCacheCorrupt, byte(op))
		}
		pc = next
	}
	return nil
}
