// Package compiler translates procedure bodies parsed by the interp
// package into stack bytecode. Literals are collected into a
// deduplicated literal frame; command words are pushed and invoked via
// invokeStk; set, incr, if, while and for compile to dedicated
// instruction patterns when their control words are literal.
package compiler

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/chazu/tcldis/bytecode"
	"github.com/chazu/tcldis/interp"
)

// errNonLiteral aborts a special-form compilation attempt so the
// command falls back to a generic invocation.
var errNonLiteral = errors.New("non-literal control word")

// Compile compiles a defined procedure into bytecode.
func Compile(p *interp.Proc) (*bytecode.Proc, error) {
	body, err := interp.Parse(p.Body)
	if err != nil {
		return nil, fmt.Errorf("compiler: body of %q: %w", p.Name, err)
	}

	g := &codegen{
		b:        bytecode.NewBuilder(),
		litIndex: make(map[string]int),
	}
	if err := g.script(body, true); err != nil {
		return nil, fmt.Errorf("compiler: %q: %w", p.Name, err)
	}
	g.emit(bytecode.OpDone, -1)

	params := make([]string, len(p.Params))
	for i, param := range p.Params {
		params[i] = param.Name
	}
	return &bytecode.Proc{
		Name:     p.Name,
		Params:   params,
		Code:     g.b.Bytes(),
		Literals: g.literals,
		MaxStack: g.maxDepth,
	}, nil
}

type codegen struct {
	b        *bytecode.Builder
	literals []string
	litIndex map[string]int
	depth    int
	maxDepth int
}

// adjust records a net stack effect.
func (g *codegen) adjust(n int) {
	g.depth += n
	if g.depth > g.maxDepth {
		g.maxDepth = g.depth
	}
}

func (g *codegen) emit(op bytecode.Opcode, effect int) {
	g.b.Emit(op)
	g.adjust(effect)
}

// pushLiteral pushes a literal, interning it in the literal frame.
func (g *codegen) pushLiteral(s string) {
	idx, ok := g.litIndex[s]
	if !ok {
		idx = len(g.literals)
		g.literals = append(g.literals, s)
		g.litIndex[s] = idx
	}
	g.b.EmitPush(idx)
	g.adjust(1)
}

// script compiles a command sequence. With want set, the last
// command's result is left on the stack (an empty script pushes "").
func (g *codegen) script(s *interp.Script, want bool) error {
	if len(s.Commands) == 0 {
		if want {
			g.pushLiteral("")
		}
		return nil
	}
	for i := range s.Commands {
		last := i == len(s.Commands)-1
		if err := g.command(&s.Commands[i], want && last); err != nil {
			return err
		}
	}
	return nil
}

func (g *codegen) command(cmd *interp.Command, want bool) error {
	if len(cmd.Words) == 0 {
		if want {
			g.pushLiteral("")
		}
		return nil
	}

	if name, ok := cmd.Words[0].Literal(); ok {
		var err error
		handled := true
		switch name {
		case "set":
			err = g.setCommand(cmd.Words, want)
		case "return":
			err = g.returnCommand(cmd.Words)
		case "incr":
			err = g.incrCommand(cmd.Words, want)
		case "if":
			err = g.ifCommand(cmd.Words, want)
		case "while":
			err = g.whileCommand(cmd.Words, want)
		case "for":
			err = g.forCommand(cmd.Words, want)
		default:
			handled = false
		}
		if handled {
			if errors.Is(err, errNonLiteral) {
				return g.genericCommand(cmd.Words, want)
			}
			return err
		}
	}
	return g.genericCommand(cmd.Words, want)
}

// genericCommand pushes every word and invokes.
func (g *codegen) genericCommand(words []interp.Word, want bool) error {
	for i := range words {
		if err := g.wordValue(&words[i]); err != nil {
			return err
		}
	}
	g.b.EmitInvoke(len(words))
	g.adjust(-(len(words) - 1))
	if !want {
		g.emit(bytecode.OpPop, -1)
	}
	return nil
}

// wordValue compiles a word so its post-substitution value ends up on
// the stack.
func (g *codegen) wordValue(w *interp.Word) error {
	if len(w.Parts) == 1 {
		return g.partValue(w.Parts[0])
	}
	for _, part := range w.Parts {
		if err := g.partValue(part); err != nil {
			return err
		}
	}
	g.b.EmitUint1(bytecode.OpConcat1, uint8(len(w.Parts)))
	g.adjust(-(len(w.Parts) - 1))
	return nil
}

func (g *codegen) partValue(part interp.Part) error {
	switch p := part.(type) {
	case interp.LiteralPart:
		g.pushLiteral(p.Text)
		return nil
	case interp.VarPart:
		g.pushLiteral(p.Name)
		if p.Index == nil {
			g.emit(bytecode.OpLoadStk, 0)
			return nil
		}
		if err := g.wordValue(p.Index); err != nil {
			return err
		}
		g.emit(bytecode.OpLoadArrayStk, -1)
		return nil
	case interp.ScriptPart:
		return g.script(p.Script, true)
	default:
		return fmt.Errorf("unknown word part %T", part)
	}
}

// setCommand compiles "set name value" to a storeStk pattern. Reads
// and array stores go through the generic path.
func (g *codegen) setCommand(words []interp.Word, want bool) error {
	if len(words) != 3 {
		return errNonLiteral
	}
	name, ok := words[1].Literal()
	if !ok || containsParen(name) {
		return errNonLiteral
	}
	g.pushLiteral(name)
	if err := g.wordValue(&words[2]); err != nil {
		return err
	}
	g.emit(bytecode.OpStoreStk, -1)
	if !want {
		g.emit(bytecode.OpPop, -1)
	}
	return nil
}

func containsParen(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '(' {
			return true
		}
	}
	return false
}

// returnCommand compiles to done. Compilation of the enclosing script
// continues, but anything after an unconditional return is dead.
func (g *codegen) returnCommand(words []interp.Word) error {
	switch len(words) {
	case 1:
		g.pushLiteral("")
	case 2:
		if err := g.wordValue(&words[1]); err != nil {
			return err
		}
	default:
		return errNonLiteral
	}
	g.emit(bytecode.OpDone, -1)
	return nil
}

// incrCommand compiles "incr name ?amount?" to incrStkImm when the
// amount is a literal that fits an 8-bit immediate.
func (g *codegen) incrCommand(words []interp.Word, want bool) error {
	if len(words) != 2 && len(words) != 3 {
		return errNonLiteral
	}
	name, ok := words[1].Literal()
	if !ok || containsParen(name) {
		return errNonLiteral
	}
	amount := 1
	if len(words) == 3 {
		text, ok := words[2].Literal()
		if !ok {
			return errNonLiteral
		}
		n, err := strconv.Atoi(text)
		if err != nil || n < -128 || n > 127 {
			return errNonLiteral
		}
		amount = n
	}
	g.pushLiteral(name)
	g.b.EmitInt1(bytecode.OpIncrStkImm, int8(amount))
	if !want {
		g.emit(bytecode.OpPop, -1)
	}
	return nil
}

// condExpr compiles a condition as an expr invocation leaving a
// boolean-convertible value on the stack.
func (g *codegen) condExpr(cond string) {
	g.pushLiteral("expr")
	g.pushLiteral(cond)
	g.b.EmitInvoke(2)
	g.adjust(-1)
}

// compileBody parses and compiles a literal script word.
func (g *codegen) compileBody(body string, want bool) error {
	parsed, err := interp.Parse(body)
	if err != nil {
		return err
	}
	return g.script(parsed, want)
}

// ifCommand compiles if/elseif/else chains with literal conditions and
// bodies into conditional jumps.
func (g *codegen) ifCommand(words []interp.Word, want bool) error {
	type branch struct {
		cond string
		body string
	}
	var branches []branch
	var elseBody string
	hasElse := false

	i := 1
	for {
		if i >= len(words) {
			return fmt.Errorf("wrong # args: no expression after \"if\" argument")
		}
		cond, ok := words[i].Literal()
		if !ok {
			return errNonLiteral
		}
		i++
		if i < len(words) {
			if kw, ok := words[i].Literal(); ok && kw == "then" {
				i++
			}
		}
		if i >= len(words) {
			return fmt.Errorf("wrong # args: no script following \"if\" condition")
		}
		body, ok := words[i].Literal()
		if !ok {
			return errNonLiteral
		}
		i++
		branches = append(branches, branch{cond: cond, body: body})

		if i >= len(words) {
			break
		}
		kw, ok := words[i].Literal()
		if !ok {
			return errNonLiteral
		}
		if kw == "elseif" {
			i++
			continue
		}
		if kw == "else" {
			i++
		}
		if i != len(words)-1 {
			return fmt.Errorf("wrong # args: extra words after \"else\" clause")
		}
		elseBody, ok = words[i].Literal()
		if !ok {
			return errNonLiteral
		}
		hasElse = true
		break
	}

	base := g.depth
	end := g.b.NewLabel()
	for _, br := range branches {
		g.depth = base
		next := g.b.NewLabel()
		g.condExpr(br.cond)
		g.b.EmitJump(bytecode.OpJumpFalse4, next)
		g.adjust(-1)
		if err := g.compileBody(br.body, want); err != nil {
			return err
		}
		g.b.EmitJump(bytecode.OpJump4, end)
		g.b.Mark(next)
	}
	g.depth = base
	if hasElse {
		if err := g.compileBody(elseBody, want); err != nil {
			return err
		}
	} else if want {
		g.pushLiteral("")
	}
	g.b.Mark(end)
	g.depth = base
	if want {
		g.adjust(1)
	}
	return nil
}

// whileCommand compiles "while cond body" into a test/jump loop.
func (g *codegen) whileCommand(words []interp.Word, want bool) error {
	if len(words) != 3 {
		return fmt.Errorf("wrong # args: should be \"while test command\"")
	}
	cond, ok := words[1].Literal()
	if !ok {
		return errNonLiteral
	}
	body, ok := words[2].Literal()
	if !ok {
		return errNonLiteral
	}

	start := g.b.NewLabel()
	end := g.b.NewLabel()
	g.b.Mark(start)
	g.condExpr(cond)
	g.b.EmitJump(bytecode.OpJumpFalse4, end)
	g.adjust(-1)
	if err := g.compileBody(body, false); err != nil {
		return err
	}
	g.b.EmitJump(bytecode.OpJump4, start)
	g.b.Mark(end)
	if want {
		g.pushLiteral("")
	}
	return nil
}

// forCommand compiles "for start test next body".
func (g *codegen) forCommand(words []interp.Word, want bool) error {
	if len(words) != 5 {
		return fmt.Errorf("wrong # args: should be \"for start test next command\"")
	}
	var lits [4]string
	for i := 1; i < 5; i++ {
		text, ok := words[i].Literal()
		if !ok {
			return errNonLiteral
		}
		lits[i-1] = text
	}
	start, test, next, body := lits[0], lits[1], lits[2], lits[3]

	if err := g.compileBody(start, false); err != nil {
		return err
	}
	top := g.b.NewLabel()
	end := g.b.NewLabel()
	g.b.Mark(top)
	g.condExpr(test)
	g.b.EmitJump(bytecode.OpJumpFalse4, end)
	g.adjust(-1)
	if err := g.compileBody(body, false); err != nil {
		return err
	}
	if err := g.compileBody(next, false); err != nil {
		return err
	}
	g.b.EmitJump(bytecode.OpJump4, top)
	g.b.Mark(end)
	if want {
		g.pushLiteral("")
	}
	return nil
}
