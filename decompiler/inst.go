// Package decompiler reconstructs human-readable steps from compiled
// procedure bytecode. Instructions are decoded, partitioned into basic
// blocks, and iteratively reduced: pushes fold into literals, stack
// loads into variable references, invocations into command text.
// Whatever cannot be reduced is reported as a raw instruction step.
package decompiler

import (
	"fmt"

	"github.com/chazu/tcldis/bytecode"
)

// Operand is a decoded instruction operand.
type Operand struct {
	Type  bytecode.OperandType
	Value int
}

// Inst is a decoded instruction with its bytecode location.
type Inst struct {
	Op   bytecode.Opcode
	Name string
	Ops  []Operand
	Loc  int
}

// FirstOp returns the value of the first operand. It panics if the
// instruction has none; callers check the opcode first.
func (in *Inst) FirstOp() int {
	return in.Ops[0].Value
}

func (in *Inst) String() string {
	s := fmt.Sprintf("<%d: %s", in.Loc, in.Name)
	for _, op := range in.Ops {
		s += fmt.Sprintf(" %d", op.Value)
	}
	return s + ">"
}

// Decode decodes a full instruction stream.
func Decode(code []byte) ([]Inst, error) {
	r := bytecode.NewReader(code)
	var insts []Inst
	for !r.AtEnd() {
		loc := r.Position()
		op, err := r.ReadOpcode()
		if err != nil {
			return nil, err
		}
		info, known := op.Info()
		if !known {
			return nil, fmt.Errorf("decompiler: unknown opcode 0x%02X at offset %d", byte(op), loc)
		}
		inst := Inst{Op: op, Name: info.Name, Loc: loc}
		for _, ot := range info.Operands {
			v, err := r.ReadOperand(ot)
			if err != nil {
				return nil, err
			}
			inst.Ops = append(inst.Ops, Operand{Type: ot, Value: v})
		}
		insts = append(insts, inst)
	}
	return insts, nil
}

// isJump reports whether the opcode transfers control.
func isJump(op bytecode.Opcode) bool {
	switch op {
	case bytecode.OpJump1, bytecode.OpJump4,
		bytecode.OpJumpTrue1, bytecode.OpJumpTrue4,
		bytecode.OpJumpFalse1, bytecode.OpJumpFalse4:
		return true
	}
	return false
}
