package tcldis

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/chazu/tcldis/decompiler"
)

// ---------------------------------------------------------------------------
// Decompile
// ---------------------------------------------------------------------------

func TestDecompileReturnOne(t *testing.T) {
	p := New()
	out, err := p.Decompile("proc p {} { return 1 }")
	if err != nil {
		t.Fatal(err)
	}

	var blocks [][]decompiler.Step
	if err := json.Unmarshal([]byte(out), &blocks); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, out)
	}
	if len(blocks) != 1 {
		t.Fatalf("got %d blocks, want 1", len(blocks))
	}
	var sawLiteral, sawDone bool
	for _, s := range blocks[0] {
		if s.Kind == "tcl" && s.Text == "1" {
			sawLiteral = true
		}
		if s.Kind == "inst" && s.Name == "done" {
			sawDone = true
		}
	}
	if !sawLiteral || !sawDone {
		t.Errorf("steps = %s", out)
	}
}

func TestDecompileStatements(t *testing.T) {
	p := New()
	steps, err := p.Steps("proc p {} { set a 5\nputs $a }")
	if err != nil {
		t.Fatal(err)
	}
	var texts []string
	for _, blk := range steps {
		for _, s := range blk {
			if s.Kind == "tcl" {
				texts = append(texts, s.Text)
			}
		}
	}
	if len(texts) != 2 || texts[0] != "set a 5" || texts[1] != "[puts $a]" {
		t.Errorf("tcl steps = %v", texts)
	}
}

func TestDecompileSequentialCallsIndependent(t *testing.T) {
	p := New()
	first, err := p.Decompile("proc p {} { return first }")
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.Decompile("proc p {} { return second }")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(first, "first") || strings.Contains(first, "second") {
		t.Errorf("first call output: %s", first)
	}
	if !strings.Contains(second, "second") {
		t.Errorf("second call should see the redefined procedure: %s", second)
	}
}

func TestDecompileCustomProcName(t *testing.T) {
	p := New(WithProcName("main"))
	out, err := p.Decompile("proc main {} { return ok }")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "ok") {
		t.Errorf("output = %s", out)
	}
}

// ---------------------------------------------------------------------------
// Stage errors
// ---------------------------------------------------------------------------

func stageOf(t *testing.T, err error) Stage {
	t.Helper()
	if err == nil {
		t.Fatal("expected a stage error")
	}
	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("error is %T, want *StageError: %v", err, err)
	}
	return stageErr.Stage
}

func TestDecompileInvalidUTF8(t *testing.T) {
	p := New()
	_, err := p.Decompile("proc p {} { return \xff }")
	if got := stageOf(t, err); got != StageSourceEncoding {
		t.Errorf("stage = %v, want source encoding", got)
	}
}

func TestDecompileEvalError(t *testing.T) {
	p := New()
	_, err := p.Decompile("this is not a command")
	if got := stageOf(t, err); got != StageEvaluation {
		t.Errorf("stage = %v, want evaluation", got)
	}
}

func TestDecompileSyntaxError(t *testing.T) {
	p := New()
	_, err := p.Decompile("proc p {} { set a {unclosed }")
	if got := stageOf(t, err); got != StageEvaluation {
		t.Errorf("stage = %v, want evaluation", got)
	}
}

func TestDecompileMissingProc(t *testing.T) {
	p := New()
	_, err := p.Decompile("set a 1")
	if got := stageOf(t, err); got != StageBytecodeRetrieval {
		t.Errorf("stage = %v, want bytecode retrieval", got)
	}
	if !strings.Contains(err.Error(), `procedure "p" is not defined`) {
		t.Errorf("err = %v", err)
	}
}

func TestDecompileEmptySource(t *testing.T) {
	// An empty script evaluates fine but defines nothing.
	p := New()
	_, err := p.Decompile("")
	if got := stageOf(t, err); got != StageBytecodeRetrieval {
		t.Errorf("stage = %v, want bytecode retrieval", got)
	}
}

func TestStageErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &StageError{Stage: StageEvaluation, Err: inner}
	if !errors.Is(err, inner) {
		t.Error("StageError should unwrap to its cause")
	}
	if !strings.Contains(err.Error(), "evaluation failed") {
		t.Errorf("Error() = %q", err.Error())
	}
}

// ---------------------------------------------------------------------------
// Legacy contract
// ---------------------------------------------------------------------------

func TestDecompileLegacySuccess(t *testing.T) {
	p := New()
	out := p.DecompileLegacy("proc p {} { return 1 }")
	if strings.HasPrefix(out, `"ERROR`) {
		t.Fatalf("unexpected sentinel: %s", out)
	}
	var blocks [][]decompiler.Step
	if err := json.Unmarshal([]byte(out), &blocks); err != nil {
		t.Errorf("legacy output is not valid JSON: %v", err)
	}
}

func TestDecompileLegacySentinels(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{"proc p {} { return \xff }", `"ERROR #0"`},
		{"this is not a command", `"ERROR #1"`},
		{"set a 1", `"ERROR #2"`},
	}
	for _, tt := range tests {
		p := New()
		if got := p.DecompileLegacy(tt.source); got != tt.want {
			t.Errorf("DecompileLegacy(%q) = %s, want %s", tt.source, got, tt.want)
		}
	}
}

func TestSentinelIsValidJSONString(t *testing.T) {
	for stage := StageSourceEncoding; stage <= StageSerialization; stage++ {
		sentinel := (&StageError{Stage: stage}).Sentinel()
		var s string
		if err := json.Unmarshal([]byte(sentinel), &s); err != nil {
			t.Errorf("sentinel %s is not a JSON string: %v", sentinel, err)
		}
		if s != "ERROR #"+string(rune('0'+int(stage))) {
			t.Errorf("sentinel text = %q", s)
		}
	}
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

func TestDisassemble(t *testing.T) {
	p := New()
	listing, err := p.Disassemble("proc p {} { return 1 }")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"push1", "done", "literals:"} {
		if !strings.Contains(listing, want) {
			t.Errorf("listing missing %q:\n%s", want, listing)
		}
	}
}

func TestBytecode(t *testing.T) {
	p := New()
	bc, err := p.Bytecode("proc p {x y} { return $x }")
	if err != nil {
		t.Fatal(err)
	}
	if bc.Name != "p" {
		t.Errorf("name = %q", bc.Name)
	}
	if len(bc.Params) != 2 {
		t.Errorf("params = %v", bc.Params)
	}
	if len(bc.Code) == 0 {
		t.Error("empty code")
	}
}
