package vm

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Assembler builds program images. Jumps refer to labels resolved in Build.
type Assembler struct {
	code   []byte
	labels map[string]int
	fixups map[int]string
}

// NewAssembler creates an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{
		labels: make(map[string]int),
		fixups: make(map[int]string),
	}
}

func (a *Assembler) emit(op Opcode, operands ...byte) *Assembler {
	a.code = append(a.code, byte(op))
	a.code = append(a.code, operands...)
	return a
}

// Label marks the current position.
func (a *Assembler) Label(name string) *Assembler {
	a.labels[name] = len(a.code)
	return a
}

func (a *Assembler) Halt() *Assembler { return a.emit(OpHalt) }

func (a *Assembler) Push(v uint64) *Assembler {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return a.emit(OpPush, buf[:]...)
}

func (a *Assembler) LdData(off byte) *Assembler       { return a.emit(OpLdData, off) }
func (a *Assembler) LdByte(off byte) *Assembler       { return a.emit(OpLdByte, off) }
func (a *Assembler) LdLam(idx byte) *Assembler        { return a.emit(OpLdLam, idx) }
func (a *Assembler) StLam(idx byte) *Assembler        { return a.emit(OpStLam, idx) }
func (a *Assembler) LdAcc(idx, off byte) *Assembler   { return a.emit(OpLdAcc, idx, off) }
func (a *Assembler) StAcc(idx, off byte) *Assembler   { return a.emit(OpStAcc, idx, off) }
func (a *Assembler) Add() *Assembler                  { return a.emit(OpAdd) }
func (a *Assembler) Sub() *Assembler                  { return a.emit(OpSub) }
func (a *Assembler) Dup() *Assembler                  { return a.emit(OpDup) }
func (a *Assembler) Swap() *Assembler                 { return a.emit(OpSwap) }
func (a *Assembler) Pop() *Assembler                  { return a.emit(OpPop) }
func (a *Assembler) Signer(idx byte) *Assembler       { return a.emit(OpSigner, idx) }
func (a *Assembler) Owned(idx byte) *Assembler        { return a.emit(OpOwned, idx) }
func (a *Assembler) Auth(idx, off, s byte) *Assembler { return a.emit(OpAuth, idx, off, s) }
func (a *Assembler) StKey(idx, off, s byte) *Assembler {
	return a.emit(OpStKey, idx, off, s)
}
func (a *Assembler) Fail(code byte) *Assembler { return a.emit(OpFail, code) }
func (a *Assembler) Log() *Assembler           { return a.emit(OpLog) }
func (a *Assembler) Lt() *Assembler            { return a.emit(OpLt) }
func (a *Assembler) Eq() *Assembler            { return a.emit(OpEq) }

// Jz jumps to label when the popped value is zero.
func (a *Assembler) Jz(label string) *Assembler {
	a.fixups[len(a.code)+1] = label
	return a.emit(OpJz, 0, 0)
}

// Jmp jumps to label.
func (a *Assembler) Jmp(label string) *Assembler {
	a.fixups[len(a.code)+1] = label
	return a.emit(OpJmp, 0, 0)
}

// Code resolves labels and returns raw code.
func (a *Assembler) Code() ([]byte, error) {
	code := append([]byte(nil), a.code...)
	for pos, label := range a.fixups {
		target, ok := a.labels[label]
		if !ok {
			return nil, fmt.Errorf("undefined label %q", label)
		}
		if target > math.MaxUint16 {
			return nil, fmt.Errorf("label %q out of jump range", label)
		}
		binary.LittleEndian.PutUint16(code[pos:], uint16(target))
	}
	return code, nil
}

// Build resolves labels and returns a program image.
func (a *Assembler) Build() ([]byte, error) {
	code, err := a.Code()
	if err != nil {
		return nil, err
	}
	return EncodeProgram(code), nil
}
