package vm

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/rollkit/rollcore/types"
)

// ImageMagic prefixes every program image.
var ImageMagic = []byte("RLVM")

// ImageVersion is the only image version understood by the runtime.
const ImageVersion = 1

const imageHeaderSize = 4 + 1 + 4

// Opcode is a single bytecode operation.
type Opcode byte

// Opcodes. Operands follow the opcode byte; idx and off are one byte, imm is a
// little endian u64 and target a little endian u16 code offset.
const (
	OpHalt   Opcode = 0x00 // stop, success
	OpPush   Opcode = 0x01 // imm: push imm
	OpLdData Opcode = 0x02 // off: push u64 from instruction data
	OpLdByte Opcode = 0x03 // off: push byte from instruction data
	OpLdLam  Opcode = 0x04 // idx: push lamports of account
	OpStLam  Opcode = 0x05 // idx: pop into lamports of account
	OpLdAcc  Opcode = 0x06 // idx off: push u64 from account data
	OpStAcc  Opcode = 0x07 // idx off: pop u64 into account data
	OpAdd    Opcode = 0x08 // checked add
	OpSub    Opcode = 0x09 // checked sub
	OpDup    Opcode = 0x0A
	OpSwap   Opcode = 0x0B
	OpPop    Opcode = 0x0C
	OpSigner Opcode = 0x0D // idx: fail unless account signed
	OpOwned  Opcode = 0x0E // idx: fail unless account is owned by the program
	OpAuth   Opcode = 0x0F // idx off sidx: fail unless data[off:off+32] is the key of signer sidx
	OpStKey  Opcode = 0x10 // idx off sidx: write key of sidx to data[off:off+32]
	OpFail   Opcode = 0x11 // code: fail with custom error
	OpLog    Opcode = 0x12 // pop and log value

	OpLt  Opcode = 0x20 // pop b, a; push a < b
	OpEq  Opcode = 0x21 // pop b, a; push a == b
	OpJz  Opcode = 0x22 // target: pop; jump if zero
	OpJmp Opcode = 0x23 // target: jump
)

type opInfo struct {
	name     string
	operands int // operand bytes
	feature  string
}

var opTable = map[Opcode]opInfo{
	OpHalt:   {"halt", 0, ""},
	OpPush:   {"push", 8, ""},
	OpLdData: {"lddata", 1, ""},
	OpLdByte: {"ldbyte", 1, ""},
	OpLdLam:  {"ldlam", 1, ""},
	OpStLam:  {"stlam", 1, ""},
	OpLdAcc:  {"ldacc", 2, ""},
	OpStAcc:  {"stacc", 2, ""},
	OpAdd:    {"add", 0, ""},
	OpSub:    {"sub", 0, ""},
	OpDup:    {"dup", 0, ""},
	OpSwap:   {"swap", 0, ""},
	OpPop:    {"pop", 0, ""},
	OpSigner: {"signer", 1, ""},
	OpOwned:  {"owned", 1, ""},
	OpAuth:   {"auth", 3, ""},
	OpStKey:  {"stkey", 3, ""},
	OpFail:   {"fail", 1, ""},
	OpLog:    {"log", 0, ""},
	OpLt:     {"lt", 0, FeatureControlFlow},
	OpEq:     {"eq", 0, FeatureControlFlow},
	OpJz:     {"jz", 2, FeatureControlFlow},
	OpJmp:    {"jmp", 2, FeatureControlFlow},
}

func (op Opcode) String() string {
	if info, ok := opTable[op]; ok {
		return info.name
	}
	return fmt.Sprintf("op(0x%02x)", byte(op))
}

// Program is a verified bytecode program.
type Program struct {
	Version byte
	Code    []byte
}

// DecodeProgram parses and verifies a program image against the active features.
func DecodeProgram(image []byte, features FeatureSet) (*Program, error) {
	if len(image) < imageHeaderSize {
		return nil, fmt.Errorf("%w: image too short (%d bytes)", types.ErrInvalidProgramImage, len(image))
	}
	if !bytes.Equal(image[:4], ImageMagic) {
		return nil, fmt.Errorf("%w: bad magic", types.ErrInvalidProgramImage)
	}
	if image[4] != ImageVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", types.ErrInvalidProgramImage, image[4])
	}
	codeLen := binary.LittleEndian.Uint32(image[5:9])
	code := image[imageHeaderSize:]
	if uint64(codeLen) != uint64(len(code)) {
		return nil, fmt.Errorf("%w: code length %d does not match header %d", types.ErrInvalidProgramImage, len(code), codeLen)
	}
	if len(code) == 0 {
		return nil, fmt.Errorf("%w: empty code", types.ErrInvalidProgramImage)
	}
	if err := verify(code, features); err != nil {
		return nil, err
	}
	return &Program{
		Version: image[4],
		Code:    append([]byte(nil), code...),
	}, nil
}

// EncodeProgram builds an image from raw code.
func EncodeProgram(code []byte) []byte {
	image := make([]byte, imageHeaderSize+len(code))
	copy(image, ImageMagic)
	image[4] = ImageVersion
	binary.LittleEndian.PutUint32(image[5:9], uint32(len(code)))
	copy(image[imageHeaderSize:], code)
	return image
}

func verify(code []byte, features FeatureSet) error {
	boundaries := make(map[int]bool)
	var targets []int
	for pc := 0; pc < len(code); {
		op := Opcode(code[pc])
		info, ok := opTable[op]
		if !ok {
			return fmt.Errorf("%w: unknown opcode 0x%02x at %d", types.ErrInvalidProgramImage, byte(op), pc)
		}
		if info.feature != "" && !features.IsActive(info.feature) {
			return fmt.Errorf("%w: opcode %s requires feature %s", types.ErrInvalidProgramImage, info.name, info.feature)
		}
		if pc+1+info.operands > len(code) {
			return fmt.Errorf("%w: truncated operands of %s at %d", types.ErrInvalidProgramImage, info.name, pc)
		}
		boundaries[pc] = true
		if op == OpJz || op == OpJmp {
			targets = append(targets, int(binary.LittleEndian.Uint16(code[pc+1:])))
		}
		pc += 1 + info.operands
	}
	for _, t := range targets {
		if !boundaries[t] {
			return fmt.Errorf("%w: jump target %d is not an instruction boundary", types.ErrInvalidProgramImage, t)
		}
	}
	return nil
}
