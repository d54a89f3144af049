package bytecode

import (
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Builder tests
// ---------------------------------------------------------------------------

func TestBuilderEmit(t *testing.T) {
	b := NewBuilder()
	b.Emit(OpDone)
	b.EmitUint1(OpPush1, 3)

	bc := b.Bytes()
	if len(bc) != 3 {
		t.Fatalf("Len() = %d, want 3", len(bc))
	}
	if Opcode(bc[0]) != OpDone {
		t.Errorf("bc[0] = %v, want done", Opcode(bc[0]))
	}
	if Opcode(bc[1]) != OpPush1 || bc[2] != 3 {
		t.Errorf("push encoding = %v %d, want push1 3", Opcode(bc[1]), bc[2])
	}
}

func TestBuilderEmitPushSelectsWidth(t *testing.T) {
	b := NewBuilder()
	b.EmitPush(42)
	b.EmitPush(300)

	bc := b.Bytes()
	if Opcode(bc[0]) != OpPush1 {
		t.Errorf("small index should use push1, got %v", Opcode(bc[0]))
	}
	if Opcode(bc[2]) != OpPush4 {
		t.Errorf("large index should use push4, got %v", Opcode(bc[2]))
	}
}

func TestBuilderBigEndianOperands(t *testing.T) {
	b := NewBuilder()
	b.EmitUint4(OpPush4, 0x01020304)

	bc := b.Bytes()
	want := []byte{byte(OpPush4), 0x01, 0x02, 0x03, 0x04}
	for i := range want {
		if bc[i] != want[i] {
			t.Fatalf("bc[%d] = 0x%02X, want 0x%02X", i, bc[i], want[i])
		}
	}
}

// ---------------------------------------------------------------------------
// Label tests
// ---------------------------------------------------------------------------

func TestLabelForwardJump(t *testing.T) {
	b := NewBuilder()
	end := b.NewLabel()
	b.EmitJump(OpJumpFalse4, end) // at 0, 5 bytes
	b.EmitUint1(OpPush1, 0)       // at 5, 2 bytes
	b.Mark(end)                   // at 7

	r := NewReader(b.Bytes())
	op, _ := r.ReadOpcode()
	if op != OpJumpFalse4 {
		t.Fatalf("opcode = %v, want jumpFalse4", op)
	}
	offset, err := r.ReadOperand(OperandInt4)
	if err != nil {
		t.Fatal(err)
	}
	if offset != 7 {
		t.Errorf("jump offset = %d, want 7 (relative to instruction start)", offset)
	}
}

func TestLabelBackwardJump(t *testing.T) {
	b := NewBuilder()
	start := b.NewLabel()
	b.Mark(start)
	b.EmitUint1(OpPush1, 0)    // at 0
	b.EmitJump(OpJump4, start) // at 2

	r := NewReader(b.Bytes())
	r.ReadOpcode()
	r.ReadOperand(OperandUint1)
	r.ReadOpcode()
	offset, _ := r.ReadOperand(OperandInt4)
	if offset != -2 {
		t.Errorf("backward jump offset = %d, want -2", offset)
	}
}

// ---------------------------------------------------------------------------
// Reader tests
// ---------------------------------------------------------------------------

func TestReaderSignedOperand(t *testing.T) {
	b := NewBuilder()
	b.EmitInt1(OpIncrStkImm, -5)

	r := NewReader(b.Bytes())
	r.ReadOpcode()
	v, err := r.ReadOperand(OperandInt1)
	if err != nil {
		t.Fatal(err)
	}
	if v != -5 {
		t.Errorf("operand = %d, want -5", v)
	}
}

func TestReaderTruncated(t *testing.T) {
	r := NewReader([]byte{byte(OpPush4), 0x00})
	r.ReadOpcode()
	if _, err := r.ReadOperand(OperandUint4); err == nil {
		t.Error("expected error for truncated operand")
	}
}

// ---------------------------------------------------------------------------
// Disassembly tests
// ---------------------------------------------------------------------------

func TestDisassembleSimple(t *testing.T) {
	b := NewBuilder()
	b.EmitUint1(OpPush1, 0)
	b.Emit(OpLoadStk)
	b.Emit(OpDone)

	dis, err := Disassemble(b.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"push1 0", "loadStk", "done"} {
		if !strings.Contains(dis, want) {
			t.Errorf("disassembly should contain %q, got:\n%s", want, dis)
		}
	}
}

func TestDisassembleJumpTarget(t *testing.T) {
	b := NewBuilder()
	end := b.NewLabel()
	b.EmitJump(OpJumpFalse4, end)
	b.EmitUint1(OpPush1, 0)
	b.Mark(end)
	b.Emit(OpDone)

	dis, err := Disassemble(b.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(dis, "jumpFalse4") {
		t.Error("disassembly should contain jumpFalse4")
	}
	if !strings.Contains(dis, "-> 7") {
		t.Errorf("disassembly should show the jump target, got:\n%s", dis)
	}
}

func TestDisassembleUnknownOpcode(t *testing.T) {
	if _, err := Disassemble([]byte{0xFF}); err == nil {
		t.Error("expected error for unknown opcode")
	}
}

// ---------------------------------------------------------------------------
// Proc tests
// ---------------------------------------------------------------------------

func TestProcContentHashDeterministic(t *testing.T) {
	p1 := &Proc{Name: "p", Code: []byte{byte(OpDone)}, Literals: []string{"1"}}
	p2 := &Proc{Name: "p", Code: []byte{byte(OpDone)}, Literals: []string{"1"}}
	if p1.ContentHash() != p2.ContentHash() {
		t.Error("identical procs should hash identically")
	}
}

func TestProcContentHashDiffers(t *testing.T) {
	p1 := &Proc{Name: "p", Code: []byte{byte(OpDone)}, Literals: []string{"1"}}
	p2 := &Proc{Name: "p", Code: []byte{byte(OpDone)}, Literals: []string{"2"}}
	if p1.ContentHash() == p2.ContentHash() {
		t.Error("different literals should change the hash")
	}

	p3 := &Proc{Name: "q", Code: []byte{byte(OpDone)}, Literals: []string{"1"}}
	if p1.ContentHash() == p3.ContentHash() {
		t.Error("different names should change the hash")
	}
}

func TestProcLiteral(t *testing.T) {
	p := &Proc{Literals: []string{"a", "b"}}
	if v, ok := p.Literal(1); !ok || v != "b" {
		t.Errorf("Literal(1) = %q, %v; want \"b\", true", v, ok)
	}
	if _, ok := p.Literal(2); ok {
		t.Error("Literal(2) should be out of range")
	}
}

func TestProcDisassembleIncludesLiterals(t *testing.T) {
	b := NewBuilder()
	b.EmitUint1(OpPush1, 0)
	b.Emit(OpDone)
	p := &Proc{Name: "p", Code: b.Bytes(), Literals: []string{"hello"}}

	dis, err := p.Disassemble()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(dis, "hello") {
		t.Errorf("disassembly should list literals, got:\n%s", dis)
	}
}

// ---------------------------------------------------------------------------
// Chunk tests
// ---------------------------------------------------------------------------

func TestChunkRoundTrip(t *testing.T) {
	b := NewBuilder()
	b.EmitUint1(OpPush1, 0)
	b.Emit(OpDone)
	p := &Proc{
		Name:     "p",
		Params:   []string{"x"},
		Code:     b.Bytes(),
		Literals: []string{"1"},
		MaxStack: 1,
	}

	data, err := MarshalProc(p)
	if err != nil {
		t.Fatal(err)
	}
	got, err := UnmarshalProc(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != p.Name || got.MaxStack != p.MaxStack {
		t.Errorf("round trip changed proc: %+v", got)
	}
	if got.ContentHash() != p.ContentHash() {
		t.Error("round trip changed content hash")
	}
}

func TestChunkHashMismatch(t *testing.T) {
	p := &Proc{Name: "p", Code: []byte{byte(OpDone)}}
	data, err := MarshalProc(p)
	if err != nil {
		t.Fatal(err)
	}
	// Corrupt the stored name so the hash no longer matches.
	var c Chunk
	if err := cbor.Unmarshal(data, &c); err != nil {
		t.Fatal(err)
	}
	c.Name = "q"
	corrupted, err := cborEncMode.Marshal(&c)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := UnmarshalProc(corrupted); err == nil {
		t.Error("expected hash mismatch error")
	}
}
