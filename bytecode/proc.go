package bytecode

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strings"
)

// Proc is a compiled Tcl procedure: a bytecode sequence plus the
// literal frame it indexes into.
type Proc struct {
	Name     string   // procedure name as defined in the interpreter
	Params   []string // formal parameter names
	Code     []byte   // instruction stream
	Literals []string // literal frame, indexed by push operands
	MaxStack int      // maximum operand stack depth
}

// Literal returns the literal at the given frame index, or false when
// the index is out of range.
func (p *Proc) Literal(index int) (string, bool) {
	if index < 0 || index >= len(p.Literals) {
		return "", false
	}
	return p.Literals[index], true
}

// ContentHash returns a deterministic SHA-256 digest of the procedure.
// Two procedures with the same name, parameters, literals and code
// hash identically.
func (p *Proc) ContentHash() [32]byte {
	h := sha256.New()
	var n [4]byte

	writeString := func(s string) {
		binary.BigEndian.PutUint32(n[:], uint32(len(s)))
		h.Write(n[:])
		h.Write([]byte(s))
	}

	writeString(p.Name)
	binary.BigEndian.PutUint32(n[:], uint32(len(p.Params)))
	h.Write(n[:])
	for _, param := range p.Params {
		writeString(param)
	}
	binary.BigEndian.PutUint32(n[:], uint32(len(p.Literals)))
	h.Write(n[:])
	for _, lit := range p.Literals {
		writeString(lit)
	}
	h.Write(p.Code)

	var digest [32]byte
	h.Sum(digest[:0])
	return digest
}

// Disassemble returns a human-readable listing of the procedure's
// bytecode with the literal frame appended.
func (p *Proc) Disassemble() (string, error) {
	listing, err := Disassemble(p.Code)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.WriteString(listing)
	if len(p.Literals) > 0 {
		sb.WriteString("literals:\n")
		for i, lit := range p.Literals {
			fmt.Fprintf(&sb, "  [%d] %s\n", i, lit)
		}
	}
	return sb.String(), nil
}
