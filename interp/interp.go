package interp

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// ---------------------------------------------------------------------------
// Interpreter state
// ---------------------------------------------------------------------------

// Interp is a persistent Tcl interpreter. State (variables, procedure
// definitions) survives across Eval calls. An Interp is not safe for
// concurrent use; callers must serialize access.
type Interp struct {
	frames   []*frame
	procs    map[string]*Proc
	builtins map[string]builtinFunc

	// Out receives puts output. Defaults to os.Stdout.
	Out io.Writer
}

// frame holds one variable scope. The bottom frame is the global scope.
type frame struct {
	vars        map[string]string
	arrays      map[string]map[string]string
	globalLinks map[string]bool
}

func newFrame() *frame {
	return &frame{
		vars:   make(map[string]string),
		arrays: make(map[string]map[string]string),
	}
}

// Proc is a procedure defined via the proc command. The body is kept
// as source text; it is parsed lazily on first call.
type Proc struct {
	Name   string
	Params []Param
	Body   string

	parsed *Script
}

// Param is one formal parameter, optionally carrying a default value.
type Param struct {
	Name       string
	Default    string
	HasDefault bool
}

type builtinFunc func(in *Interp, args []string) (string, error)

// NewInterp creates an interpreter with the core command set
// registered and an empty global scope.
func NewInterp() *Interp {
	in := &Interp{
		frames: []*frame{newFrame()},
		procs:  make(map[string]*Proc),
		Out:    os.Stdout,
	}
	in.builtins = coreBuiltins()
	return in
}

// Proc returns the procedure with the given name, if defined.
func (in *Interp) Proc(name string) (*Proc, bool) {
	p, ok := in.procs[name]
	return p, ok
}

// ProcNames returns the names of all defined procedures.
func (in *Interp) ProcNames() []string {
	names := make([]string, 0, len(in.procs))
	for name := range in.procs {
		names = append(names, name)
	}
	return names
}

// ---------------------------------------------------------------------------
// Control flow sentinels
// ---------------------------------------------------------------------------

type returnError struct {
	value string
}

func (returnError) Error() string { return "return outside of proc" }

var (
	errBreak    = errors.New("invoked \"break\" outside of a loop")
	errContinue = errors.New("invoked \"continue\" outside of a loop")
)

// ---------------------------------------------------------------------------
// Evaluation
// ---------------------------------------------------------------------------

// Eval evaluates a Tcl script in the interpreter's persistent state
// and returns the result of the last command.
func (in *Interp) Eval(script string) (string, error) {
	parsed, err := Parse(script)
	if err != nil {
		return "", err
	}
	return in.evalScript(parsed)
}

func (in *Interp) evalScript(s *Script) (string, error) {
	var result string
	for i := range s.Commands {
		var err error
		result, err = in.evalCommand(&s.Commands[i])
		if err != nil {
			return "", err
		}
	}
	return result, nil
}

func (in *Interp) evalCommand(cmd *Command) (string, error) {
	words := make([]string, len(cmd.Words))
	for i := range cmd.Words {
		w, err := in.evalWord(&cmd.Words[i])
		if err != nil {
			return "", err
		}
		words[i] = w
	}
	if len(words) == 0 {
		return "", nil
	}
	return in.invoke(words[0], words[1:])
}

// invoke dispatches a command by name: builtins first, then defined
// procedures.
func (in *Interp) invoke(name string, args []string) (string, error) {
	if fn, ok := in.builtins[name]; ok {
		return fn(in, args)
	}
	if p, ok := in.procs[name]; ok {
		return in.callProc(p, args)
	}
	return "", fmt.Errorf("invalid command name %q", name)
}

func (in *Interp) evalWord(w *Word) (string, error) {
	if lit, ok := w.Literal(); ok {
		return lit, nil
	}
	var out string
	for _, part := range w.Parts {
		s, err := in.evalPart(part)
		if err != nil {
			return "", err
		}
		out += s
	}
	return out, nil
}

func (in *Interp) evalPart(part Part) (string, error) {
	switch p := part.(type) {
	case LiteralPart:
		return p.Text, nil
	case VarPart:
		if p.Index == nil {
			return in.getVar(p.Name)
		}
		key, err := in.evalWord(p.Index)
		if err != nil {
			return "", err
		}
		return in.getArrayVar(p.Name, key)
	case ScriptPart:
		return in.evalScript(p.Script)
	default:
		return "", fmt.Errorf("unknown word part %T", part)
	}
}

// callProc binds arguments into a fresh frame and evaluates the body.
// A trailing parameter named "args" collects any extra arguments.
func (in *Interp) callProc(p *Proc, args []string) (string, error) {
	locals := newFrame()
	nparams := len(p.Params)
	varargs := nparams > 0 && p.Params[nparams-1].Name == "args"

	required := 0
	for i, param := range p.Params {
		if varargs && i == nparams-1 {
			break
		}
		if !param.HasDefault {
			required++
		}
	}
	fixed := nparams
	if varargs {
		fixed--
	}
	if len(args) < required || (!varargs && len(args) > fixed) {
		return "", fmt.Errorf("wrong # args: should be %q", procUsage(p))
	}

	for i := 0; i < fixed; i++ {
		param := p.Params[i]
		if i < len(args) {
			locals.vars[param.Name] = args[i]
		} else {
			locals.vars[param.Name] = param.Default
		}
	}
	if varargs {
		rest := args
		if fixed < len(args) {
			rest = args[fixed:]
		} else {
			rest = nil
		}
		locals.vars["args"] = FormatList(rest)
	}

	if p.parsed == nil {
		parsed, err := Parse(p.Body)
		if err != nil {
			return "", err
		}
		p.parsed = parsed
	}

	in.frames = append(in.frames, locals)
	defer func() { in.frames = in.frames[:len(in.frames)-1] }()

	result, err := in.evalScript(p.parsed)
	if err != nil {
		var ret returnError
		if errors.As(err, &ret) {
			return ret.value, nil
		}
		return "", err
	}
	return result, nil
}

func procUsage(p *Proc) string {
	usage := p.Name
	for _, param := range p.Params {
		if param.HasDefault || param.Name == "args" {
			usage += " ?" + param.Name + "?"
		} else {
			usage += " " + param.Name
		}
	}
	return usage
}

// ---------------------------------------------------------------------------
// Variables
// ---------------------------------------------------------------------------

func (in *Interp) currentFrame() *frame {
	return in.frames[len(in.frames)-1]
}

func (in *Interp) globalFrame() *frame {
	return in.frames[0]
}

// scopeFor resolves which frame holds the named variable, honoring
// global links established by the global command.
func (in *Interp) scopeFor(name string) *frame {
	f := in.currentFrame()
	if f.globalLinks != nil && f.globalLinks[name] {
		return in.globalFrame()
	}
	return f
}

func (in *Interp) getVar(name string) (string, error) {
	f := in.scopeFor(name)
	if v, ok := f.vars[name]; ok {
		return v, nil
	}
	if _, ok := f.arrays[name]; ok {
		return "", fmt.Errorf("can't read %q: variable is array", name)
	}
	return "", fmt.Errorf("can't read %q: no such variable", name)
}

func (in *Interp) setVar(name, value string) {
	in.scopeFor(name).vars[name] = value
}

func (in *Interp) getArrayVar(name, key string) (string, error) {
	f := in.scopeFor(name)
	if arr, ok := f.arrays[name]; ok {
		if v, ok := arr[key]; ok {
			return v, nil
		}
		return "", fmt.Errorf("can't read %q: no such element in array", name+"("+key+")")
	}
	return "", fmt.Errorf("can't read %q: no such variable", name+"("+key+")")
}

func (in *Interp) setArrayVar(name, key, value string) {
	f := in.scopeFor(name)
	arr, ok := f.arrays[name]
	if !ok {
		arr = make(map[string]string)
		f.arrays[name] = arr
	}
	arr[key] = value
}

func (in *Interp) unsetVar(name string) error {
	f := in.scopeFor(name)
	if _, ok := f.vars[name]; ok {
		delete(f.vars, name)
		return nil
	}
	if _, ok := f.arrays[name]; ok {
		delete(f.arrays, name)
		return nil
	}
	return fmt.Errorf("can't unset %q: no such variable", name)
}

func (in *Interp) varExists(name string) bool {
	f := in.scopeFor(name)
	if _, ok := f.vars[name]; ok {
		return true
	}
	_, ok := f.arrays[name]
	return ok
}

// setVarRef stores through a "name" or "name(key)" reference as used
// by set, incr and friends.
func (in *Interp) setVarRef(ref, value string) error {
	name, key, isArray, err := splitVarRef(ref)
	if err != nil {
		return err
	}
	if isArray {
		in.setArrayVar(name, key, value)
	} else {
		in.setVar(name, value)
	}
	return nil
}

// getVarRef reads through a "name" or "name(key)" reference.
func (in *Interp) getVarRef(ref string) (string, error) {
	name, key, isArray, err := splitVarRef(ref)
	if err != nil {
		return "", err
	}
	if isArray {
		return in.getArrayVar(name, key)
	}
	return in.getVar(name)
}

func splitVarRef(ref string) (name, key string, isArray bool, err error) {
	open := -1
	for i := 0; i < len(ref); i++ {
		if ref[i] == '(' {
			open = i
			break
		}
	}
	if open < 0 {
		return ref, "", false, nil
	}
	if ref[len(ref)-1] != ')' {
		return "", "", false, fmt.Errorf("can't read %q: missing close-paren", ref)
	}
	return ref[:open], ref[open+1 : len(ref)-1], true, nil
}
