// Package tcldis evaluates Tcl source in an embedded interpreter,
// compiles a wrapped procedure to bytecode, decompiles the bytecode
// into human-readable steps and serializes the result as JSON.
//
// The pipeline runs five sequential stages per call: wrap the source,
// evaluate it (defining the wrapped procedure as a side effect),
// retrieve the procedure's bytecode, decompile it into steps, and
// serialize the steps. Each stage failure is terminal for that call
// and is reported as a StageError.
package tcldis

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/chazu/tcldis/bytecode"
	"github.com/chazu/tcldis/compiler"
	"github.com/chazu/tcldis/decompiler"
	"github.com/chazu/tcldis/interp"
)

// DefaultProcName is the procedure the evaluated source is expected to
// define. The evaluated script is assumed to define exactly this one
// procedure unless the host overrides it with WithProcName.
const DefaultProcName = "p"

// Pipeline threads Tcl source through evaluation, compilation,
// decompilation and serialization. The embedded interpreter's state is
// shared across calls: evaluating new source redefines procedures left
// by earlier calls.
//
// A Pipeline is not safe for concurrent use; callers must serialize
// access (see the server package's worker).
type Pipeline struct {
	in       *interp.Interp
	procName string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithProcName overrides the fixed procedure name looked up after
// evaluation.
func WithProcName(name string) Option {
	return func(p *Pipeline) { p.procName = name }
}

// WithOutput redirects puts output from evaluated scripts.
func WithOutput(w io.Writer) Option {
	return func(p *Pipeline) { p.in.Out = w }
}

// New creates a Pipeline with a fresh interpreter.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		in:       interp.NewInterp(),
		procName: DefaultProcName,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Decompile evaluates code and returns the decompiled steps of the
// wrapped procedure as a JSON document. On failure it returns a
// *StageError identifying the failed stage.
func (p *Pipeline) Decompile(code string) (string, error) {
	steps, err := p.steps(code)
	if err != nil {
		return "", err
	}

	out, err := json.Marshal(steps)
	if err != nil {
		return "", &StageError{Stage: StageSerialization, Err: err}
	}
	return string(out), nil
}

// Steps evaluates code and returns the decompiled step descriptors of
// the wrapped procedure without serializing them.
func (p *Pipeline) Steps(code string) ([][]decompiler.Step, error) {
	return p.steps(code)
}

func (p *Pipeline) steps(code string) ([][]decompiler.Step, error) {
	if !utf8.ValidString(code) {
		return nil, &StageError{
			Stage: StageSourceEncoding,
			Err:   errors.New("source is not valid UTF-8"),
		}
	}

	if _, err := p.in.Eval(code); err != nil {
		return nil, &StageError{Stage: StageEvaluation, Err: err}
	}

	bc, err := p.bytecodeFor(p.procName)
	if err != nil {
		return nil, &StageError{Stage: StageBytecodeRetrieval, Err: err}
	}

	steps, err := decompiler.Steps(bc)
	if err != nil {
		return nil, &StageError{Stage: StageDecompilation, Err: err}
	}
	return steps, nil
}

// Bytecode evaluates code and returns the compiled form of the wrapped
// procedure.
func (p *Pipeline) Bytecode(code string) (*bytecode.Proc, error) {
	if _, err := p.in.Eval(code); err != nil {
		return nil, &StageError{Stage: StageEvaluation, Err: err}
	}
	bc, err := p.bytecodeFor(p.procName)
	if err != nil {
		return nil, &StageError{Stage: StageBytecodeRetrieval, Err: err}
	}
	return bc, nil
}

// Disassemble evaluates code and returns a raw bytecode listing of the
// wrapped procedure.
func (p *Pipeline) Disassemble(code string) (string, error) {
	bc, err := p.Bytecode(code)
	if err != nil {
		return "", err
	}
	listing, err := bc.Disassemble()
	if err != nil {
		return "", &StageError{Stage: StageDecompilation, Err: err}
	}
	return listing, nil
}

func (p *Pipeline) bytecodeFor(name string) (*bytecode.Proc, error) {
	proc, ok := p.in.Proc(name)
	if !ok {
		return nil, fmt.Errorf("procedure %q is not defined", name)
	}
	return compiler.Compile(proc)
}

// DecompileLegacy reproduces the original embedding contract: exactly
// one of the five sentinel strings "ERROR #0".."ERROR #4" (quote
// characters included) or a JSON document is returned per call. The
// numeric suffix is the only failure information surfaced.
func (p *Pipeline) DecompileLegacy(code string) string {
	out, err := p.Decompile(code)
	if err != nil {
		var stageErr *StageError
		if errors.As(err, &stageErr) {
			return stageErr.Sentinel()
		}
		// Unreachable today; keep the contract anyway.
		return (&StageError{Stage: StageDecompilation, Err: err}).Sentinel()
	}
	return out
}
