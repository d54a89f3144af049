package bytecode

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single bytecode instruction.
type Opcode byte

// Core Operations
const (
	OpDone  Opcode = 0x00 // return top of stack to caller
	OpPush1 Opcode = 0x01 // push literal (8-bit literal frame index)
	OpPush4 Opcode = 0x02 // push literal (32-bit literal frame index)
	OpPop   Opcode = 0x03 // discard top of stack
	OpDup   Opcode = 0x04 // duplicate top of stack
	OpNop   Opcode = 0x05 // no operation
)

// Word Assembly
const (
	OpConcat1 Opcode = 0x08 // concatenate top N stack values (8-bit count)
)

// Command Invocation
const (
	OpInvokeStk1 Opcode = 0x10 // invoke command, args on stack (8-bit argc)
	OpInvokeStk4 Opcode = 0x11 // invoke command, args on stack (32-bit argc)
	OpEvalStk    Opcode = 0x12 // evaluate top of stack as a script
	OpExprStk    Opcode = 0x13 // evaluate top of stack as an expression
)

// Variable Operations
const (
	OpLoadStk       Opcode = 0x20 // pop scalar name, push its value
	OpLoadArrayStk  Opcode = 0x21 // pop array name and element key, push value
	OpStoreStk      Opcode = 0x22 // pop scalar name and value, store, push value
	OpStoreArrayStk Opcode = 0x23 // pop array name, key and value, store, push value
	OpIncrStkImm    Opcode = 0x24 // pop scalar name, add immediate (8-bit), push result
)

// Control Flow
const (
	OpJump1      Opcode = 0x30 // unconditional jump (8-bit signed offset)
	OpJump4      Opcode = 0x31 // unconditional jump (32-bit signed offset)
	OpJumpTrue1  Opcode = 0x32 // pop, jump if true (8-bit signed offset)
	OpJumpTrue4  Opcode = 0x33 // pop, jump if true (32-bit signed offset)
	OpJumpFalse1 Opcode = 0x34 // pop, jump if false (8-bit signed offset)
	OpJumpFalse4 Opcode = 0x35 // pop, jump if false (32-bit signed offset)
)

// Arithmetic and Comparison
const (
	OpAdd  Opcode = 0x40 // +
	OpSub  Opcode = 0x41 // -
	OpMult Opcode = 0x42 // *
	OpDiv  Opcode = 0x43 // /
	OpMod  Opcode = 0x44 // %
	OpEq   Opcode = 0x45 // ==
	OpNeq  Opcode = 0x46 // !=
	OpLt   Opcode = 0x47 // <
	OpGt   Opcode = 0x48 // >
	OpLe   Opcode = 0x49 // <=
	OpGe   Opcode = 0x4A // >=
	OpNot  Opcode = 0x4B // !
)

// ---------------------------------------------------------------------------
// Operand types
// ---------------------------------------------------------------------------

// OperandType describes how an instruction operand is encoded.
// All multi-byte operands are big-endian.
type OperandType int

const (
	OperandNone  OperandType = iota
	OperandInt1              // 8-bit signed
	OperandInt4              // 32-bit signed
	OperandUint1             // 8-bit unsigned
	OperandUint4             // 32-bit unsigned
	OperandIdx4              // 32-bit signed index
	OperandLvt1              // 8-bit local variable table index
	OperandLvt4              // 32-bit local variable table index
	OperandAux4              // 32-bit auxiliary data index
)

// Size returns the encoded size of the operand in bytes.
func (ot OperandType) Size() int {
	switch ot {
	case OperandNone:
		return 0
	case OperandInt1, OperandUint1, OperandLvt1:
		return 1
	default:
		return 4
	}
}

// String returns the operand type name as used in step descriptors.
func (ot OperandType) String() string {
	switch ot {
	case OperandInt1:
		return "INT1"
	case OperandInt4:
		return "INT4"
	case OperandUint1:
		return "UINT1"
	case OperandUint4:
		return "UINT4"
	case OperandIdx4:
		return "IDX4"
	case OperandLvt1:
		return "LVT1"
	case OperandLvt4:
		return "LVT4"
	case OperandAux4:
		return "AUX4"
	default:
		return "NONE"
	}
}

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name        string        // human-readable name
	Operands    []OperandType // operand encodings, in order
	StackEffect int           // net effect on stack (meaningless for variable-arity ops)
}

// opcodeTable maps opcodes to their metadata.
var opcodeTable = map[Opcode]OpcodeInfo{
	OpDone:  {"done", nil, -1},
	OpPush1: {"push1", []OperandType{OperandUint1}, 1},
	OpPush4: {"push4", []OperandType{OperandUint4}, 1},
	OpPop:   {"pop", nil, -1},
	OpDup:   {"dup", nil, 1},
	OpNop:   {"nop", nil, 0},

	OpConcat1: {"concat1", []OperandType{OperandUint1}, 0}, // variable: pops N, pushes 1

	OpInvokeStk1: {"invokeStk1", []OperandType{OperandUint1}, 0}, // variable: pops argc, pushes 1
	OpInvokeStk4: {"invokeStk4", []OperandType{OperandUint4}, 0}, // variable: pops argc, pushes 1
	OpEvalStk:    {"evalStk", nil, 0},
	OpExprStk:    {"exprStk", nil, 0},

	OpLoadStk:       {"loadStk", nil, 0},
	OpLoadArrayStk:  {"loadArrayStk", nil, -1},
	OpStoreStk:      {"storeStk", nil, -1},
	OpStoreArrayStk: {"storeArrayStk", nil, -2},
	OpIncrStkImm:    {"incrStkImm", []OperandType{OperandInt1}, 0},

	OpJump1:      {"jump1", []OperandType{OperandInt1}, 0},
	OpJump4:      {"jump4", []OperandType{OperandInt4}, 0},
	OpJumpTrue1:  {"jumpTrue1", []OperandType{OperandInt1}, -1},
	OpJumpTrue4:  {"jumpTrue4", []OperandType{OperandInt4}, -1},
	OpJumpFalse1: {"jumpFalse1", []OperandType{OperandInt1}, -1},
	OpJumpFalse4: {"jumpFalse4", []OperandType{OperandInt4}, -1},

	OpAdd:  {"add", nil, -1},
	OpSub:  {"sub", nil, -1},
	OpMult: {"mult", nil, -1},
	OpDiv:  {"div", nil, -1},
	OpMod:  {"mod", nil, -1},
	OpEq:   {"eq", nil, -1},
	OpNeq:  {"neq", nil, -1},
	OpLt:   {"lt", nil, -1},
	OpGt:   {"gt", nil, -1},
	OpLe:   {"le", nil, -1},
	OpGe:   {"ge", nil, -1},
	OpNot:  {"not", nil, 0},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() (OpcodeInfo, bool) {
	info, ok := opcodeTable[op]
	if !ok {
		return OpcodeInfo{Name: fmt.Sprintf("unknown_%02X", byte(op))}, false
	}
	return info, true
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string {
	info, _ := op.Info()
	return info.Name
}

// NumBytes returns the full encoded size of an instruction, opcode included.
func (op Opcode) NumBytes() int {
	info, _ := op.Info()
	n := 1
	for _, ot := range info.Operands {
		n += ot.Size()
	}
	return n
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// ---------------------------------------------------------------------------
// Builder: helper for constructing bytecode
// ---------------------------------------------------------------------------

// Builder helps construct bytecode sequences.
type Builder struct {
	bytes []byte
}

// NewBuilder creates a new bytecode builder.
func NewBuilder() *Builder {
	return &Builder{
		bytes: make([]byte, 0, 64),
	}
}

// Bytes returns the constructed bytecode.
func (b *Builder) Bytes() []byte {
	return b.bytes
}

// Len returns the current length.
func (b *Builder) Len() int {
	return len(b.bytes)
}

// Emit appends an opcode with no operands.
func (b *Builder) Emit(op Opcode) {
	b.bytes = append(b.bytes, byte(op))
}

// EmitUint1 appends an opcode with an unsigned 8-bit operand.
func (b *Builder) EmitUint1(op Opcode, operand uint8) {
	b.bytes = append(b.bytes, byte(op), operand)
}

// EmitInt1 appends an opcode with a signed 8-bit operand.
func (b *Builder) EmitInt1(op Opcode, operand int8) {
	b.bytes = append(b.bytes, byte(op), byte(operand))
}

// EmitUint4 appends an opcode with an unsigned 32-bit operand (big-endian).
func (b *Builder) EmitUint4(op Opcode, operand uint32) {
	b.bytes = append(b.bytes, byte(op))
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], operand)
	b.bytes = append(b.bytes, buf[:]...)
}

// EmitInt4 appends an opcode with a signed 32-bit operand (big-endian).
func (b *Builder) EmitInt4(op Opcode, operand int32) {
	b.EmitUint4(op, uint32(operand))
}

// EmitPush appends a push of the given literal frame index, choosing
// the 1-byte form when the index fits.
func (b *Builder) EmitPush(index int) {
	if index < 256 {
		b.EmitUint1(OpPush1, uint8(index))
	} else {
		b.EmitUint4(OpPush4, uint32(index))
	}
}

// EmitInvoke appends an invokeStk instruction for argc stack values.
func (b *Builder) EmitInvoke(argc int) {
	if argc < 256 {
		b.EmitUint1(OpInvokeStk1, uint8(argc))
	} else {
		b.EmitUint4(OpInvokeStk4, uint32(argc))
	}
}

// ---------------------------------------------------------------------------
// Label management for jumps
// ---------------------------------------------------------------------------

// Label represents a forward jump target in bytecode. Jump offsets are
// relative to the start of the jump instruction itself.
type Label struct {
	resolved bool
	position int   // target position (once resolved)
	refs     []int // positions of jump opcodes referencing this label
}

// NewLabel creates an unresolved label.
func (b *Builder) NewLabel() *Label {
	return &Label{refs: make([]int, 0, 2)}
}

// EmitJump appends a 4-byte-offset jump referencing the label. The
// offset is patched when the label is marked.
func (b *Builder) EmitJump(op Opcode, label *Label) {
	pos := len(b.bytes)
	if label.resolved {
		b.EmitInt4(op, int32(label.position-pos))
		return
	}
	label.refs = append(label.refs, pos)
	b.EmitInt4(op, 0)
}

// Mark resolves a label to the current position and patches all
// forward references.
func (b *Builder) Mark(label *Label) {
	if label.resolved {
		panic("label already resolved")
	}
	label.resolved = true
	label.position = len(b.bytes)

	for _, ref := range label.refs {
		offset := int32(label.position - ref)
		binary.BigEndian.PutUint32(b.bytes[ref+1:ref+5], uint32(offset))
	}
	label.refs = nil
}

// ---------------------------------------------------------------------------
// Reader: sequential bytecode decoding
// ---------------------------------------------------------------------------

// Reader walks a bytecode sequence instruction by instruction.
type Reader struct {
	bytes []byte
	pos   int
}

// NewReader creates a reader over the given bytecode.
func NewReader(bc []byte) *Reader {
	return &Reader{bytes: bc}
}

// Position returns the current offset.
func (r *Reader) Position() int {
	return r.pos
}

// AtEnd reports whether the reader has consumed all bytes.
func (r *Reader) AtEnd() bool {
	return r.pos >= len(r.bytes)
}

// ReadOpcode reads the next opcode byte.
func (r *Reader) ReadOpcode() (Opcode, error) {
	if r.AtEnd() {
		return 0, fmt.Errorf("bytecode: truncated at offset %d", r.pos)
	}
	op := Opcode(r.bytes[r.pos])
	r.pos++
	return op, nil
}

// ReadOperand reads one operand of the given type, returning its value
// widened to int.
func (r *Reader) ReadOperand(ot OperandType) (int, error) {
	size := ot.Size()
	if r.pos+size > len(r.bytes) {
		return 0, fmt.Errorf("bytecode: truncated operand at offset %d", r.pos)
	}
	var v int
	switch ot {
	case OperandInt1:
		v = int(int8(r.bytes[r.pos]))
	case OperandUint1, OperandLvt1:
		v = int(r.bytes[r.pos])
	case OperandInt4, OperandIdx4:
		v = int(int32(binary.BigEndian.Uint32(r.bytes[r.pos:])))
	case OperandUint4, OperandLvt4, OperandAux4:
		v = int(binary.BigEndian.Uint32(r.bytes[r.pos:]))
	default:
		return 0, fmt.Errorf("bytecode: cannot read operand type %s", ot)
	}
	r.pos += size
	return v, nil
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// DisassembleInstruction disassembles a single instruction at the
// reader's position.
func DisassembleInstruction(r *Reader) (string, error) {
	loc := r.Position()
	op, err := r.ReadOpcode()
	if err != nil {
		return "", err
	}
	info, known := op.Info()
	if !known {
		return "", fmt.Errorf("bytecode: unknown opcode 0x%02X at offset %d", byte(op), loc)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%4d: %s", loc, info.Name)
	for _, ot := range info.Operands {
		v, err := r.ReadOperand(ot)
		if err != nil {
			return "", err
		}
		switch op {
		case OpJump1, OpJump4, OpJumpTrue1, OpJumpTrue4, OpJumpFalse1, OpJumpFalse4:
			fmt.Fprintf(&sb, " %d (-> %d)", v, loc+v)
		default:
			fmt.Fprintf(&sb, " %d", v)
		}
	}
	return sb.String(), nil
}

// Disassemble returns a full disassembly of bytecode, one instruction
// per line.
func Disassemble(bc []byte) (string, error) {
	r := NewReader(bc)
	var sb strings.Builder
	for !r.AtEnd() {
		line, err := DisassembleInstruction(r)
		if err != nil {
			return "", err
		}
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}
