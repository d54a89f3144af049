// Package interp implements an embedded Tcl interpreter: a parser for
// Tcl scripts and a persistent evaluator with a core command set.
// Procedures defined by evaluated scripts remain visible across calls,
// and their bodies can be retrieved for compilation.
package interp

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// AST
// ---------------------------------------------------------------------------

// Script is a sequence of commands.
type Script struct {
	Commands []Command
}

// Command is one command: a sequence of words, the first of which names
// the command to invoke.
type Command struct {
	Words []Word
	Line  int
}

// Word is a sequence of parts that are concatenated after substitution.
// A braced word parses to a single LiteralPart.
type Word struct {
	Parts []Part
}

// Literal returns the word's text when it consists of exactly one
// literal part (a braced or substitution-free word).
func (w Word) Literal() (string, bool) {
	if len(w.Parts) == 1 {
		if lit, ok := w.Parts[0].(LiteralPart); ok {
			return lit.Text, true
		}
	}
	return "", false
}

// Part is one substitution unit within a word.
type Part interface {
	part()
}

// LiteralPart is verbatim text.
type LiteralPart struct {
	Text string
}

// VarPart is a $name or $name(index) substitution. Index is nil for
// scalar references.
type VarPart struct {
	Name  string
	Index *Word
}

// ScriptPart is a [command] substitution.
type ScriptPart struct {
	Script *Script
}

func (LiteralPart) part() {}
func (VarPart) part()     {}
func (ScriptPart) part()  {}

// ---------------------------------------------------------------------------
// Parser
// ---------------------------------------------------------------------------

// ParseError reports a syntax error with its line number.
type ParseError struct {
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}

type parser struct {
	src  string
	pos  int
	line int
}

// Parse parses a Tcl script into its command/word structure. No
// substitutions are performed; they are recorded as parts.
func Parse(src string) (*Script, error) {
	p := &parser{src: src, line: 1}
	script, err := p.parseScript(0)
	if err != nil {
		return nil, err
	}
	if !p.atEnd() {
		return nil, p.errorf("unexpected %q", p.src[p.pos])
	}
	return script, nil
}

func (p *parser) errorf(format string, args ...interface{}) error {
	return &ParseError{Line: p.line, Message: fmt.Sprintf(format, args...)}
}

func (p *parser) atEnd() bool {
	return p.pos >= len(p.src)
}

func (p *parser) cur() byte {
	return p.src[p.pos]
}

func (p *parser) advance() {
	if p.src[p.pos] == '\n' {
		p.line++
	}
	p.pos++
}

// skipCommandSeparators consumes whitespace, newlines, semicolons and
// comments between commands.
func (p *parser) skipCommandSeparators() {
	for !p.atEnd() {
		switch p.cur() {
		case ' ', '\t', '\r', '\n', ';':
			p.advance()
		case '#':
			for !p.atEnd() && p.cur() != '\n' {
				p.advance()
			}
		default:
			return
		}
	}
}

// skipBlank consumes spaces, tabs and backslash-newline continuations
// between words of a command.
func (p *parser) skipBlank() {
	for !p.atEnd() {
		c := p.cur()
		if c == ' ' || c == '\t' {
			p.advance()
			continue
		}
		if c == '\\' && p.pos+1 < len(p.src) && p.src[p.pos+1] == '\n' {
			p.advance()
			p.advance()
			continue
		}
		return
	}
}

// parseScript parses commands until the terminator byte (0 for end of
// input). The terminator itself is not consumed.
func (p *parser) parseScript(term byte) (*Script, error) {
	script := &Script{}
	for {
		p.skipCommandSeparators()
		if p.atEnd() {
			if term != 0 {
				return nil, p.errorf("missing close-bracket")
			}
			return script, nil
		}
		if term != 0 && p.cur() == term {
			return script, nil
		}
		cmd, err := p.parseCommand(term)
		if err != nil {
			return nil, err
		}
		if len(cmd.Words) > 0 {
			script.Commands = append(script.Commands, cmd)
		}
	}
}

func (p *parser) parseCommand(term byte) (Command, error) {
	cmd := Command{Line: p.line}
	for {
		p.skipBlank()
		if p.atEnd() {
			return cmd, nil
		}
		c := p.cur()
		if c == '\n' || c == ';' {
			return cmd, nil
		}
		if term != 0 && c == term {
			return cmd, nil
		}
		word, err := p.parseWord(term)
		if err != nil {
			return Command{}, err
		}
		cmd.Words = append(cmd.Words, word)
	}
}

func (p *parser) parseWord(term byte) (Word, error) {
	switch p.cur() {
	case '{':
		return p.parseBracedWord()
	case '"':
		return p.parseQuotedWord()
	default:
		return p.parseBareWord(term)
	}
}

// parseBracedWord reads a {...} word. No substitutions occur inside
// braces; nested braces must balance.
func (p *parser) parseBracedWord() (Word, error) {
	p.advance() // opening brace
	start := p.pos
	depth := 1
	for !p.atEnd() {
		c := p.cur()
		if c == '\\' && p.pos+1 < len(p.src) {
			p.advance()
			p.advance()
			continue
		}
		if c == '{' {
			depth++
		} else if c == '}' {
			depth--
			if depth == 0 {
				text := p.src[start:p.pos]
				p.advance() // closing brace
				return Word{Parts: []Part{LiteralPart{Text: text}}}, nil
			}
		}
		p.advance()
	}
	return Word{}, p.errorf("missing close-brace")
}

func (p *parser) parseQuotedWord() (Word, error) {
	p.advance() // opening quote
	parts, err := p.parseParts(func(c byte) bool { return c == '"' })
	if err != nil {
		return Word{}, err
	}
	if p.atEnd() {
		return Word{}, p.errorf("missing close-quote")
	}
	p.advance() // closing quote
	if len(parts) == 0 {
		parts = []Part{LiteralPart{}}
	}
	return Word{Parts: parts}, nil
}

func (p *parser) parseBareWord(term byte) (Word, error) {
	stop := func(c byte) bool {
		if c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == ';' {
			return true
		}
		return term != 0 && c == term
	}
	parts, err := p.parseParts(stop)
	if err != nil {
		return Word{}, err
	}
	if len(parts) == 0 {
		return Word{}, p.errorf("empty word")
	}
	return Word{Parts: parts}, nil
}

// parseParts reads substitution parts until the stop predicate matches
// an unescaped byte at the top level.
func (p *parser) parseParts(stop func(byte) bool) ([]Part, error) {
	var parts []Part
	var lit strings.Builder

	flush := func() {
		if lit.Len() > 0 {
			parts = append(parts, LiteralPart{Text: lit.String()})
			lit.Reset()
		}
	}

	for !p.atEnd() {
		c := p.cur()
		if stop(c) {
			break
		}
		switch c {
		case '\\':
			s, err := p.parseEscape()
			if err != nil {
				return nil, err
			}
			lit.WriteString(s)
		case '$':
			vp, ok, err := p.parseVariable()
			if err != nil {
				return nil, err
			}
			if !ok {
				lit.WriteByte('$')
				break
			}
			flush()
			parts = append(parts, vp)
		case '[':
			p.advance()
			script, err := p.parseScript(']')
			if err != nil {
				return nil, err
			}
			if p.atEnd() || p.cur() != ']' {
				return nil, p.errorf("missing close-bracket")
			}
			p.advance()
			flush()
			parts = append(parts, ScriptPart{Script: script})
		default:
			lit.WriteByte(c)
			p.advance()
		}
	}
	flush()
	return parts, nil
}

// parseEscape handles a backslash sequence, returning its replacement
// text. Backslash-newline collapses to a single space.
func (p *parser) parseEscape() (string, error) {
	p.advance() // backslash
	if p.atEnd() {
		return "\\", nil
	}
	c := p.cur()
	p.advance()
	switch c {
	case 'n':
		return "\n", nil
	case 't':
		return "\t", nil
	case 'r':
		return "\r", nil
	case 'a':
		return "\a", nil
	case 'b':
		return "\b", nil
	case 'f':
		return "\f", nil
	case 'v':
		return "\v", nil
	case '\n':
		for !p.atEnd() && (p.cur() == ' ' || p.cur() == '\t') {
			p.advance()
		}
		return " ", nil
	default:
		return string(c), nil
	}
}

func isVarNameChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}

// parseVariable reads a $name, ${name} or $name(index) reference. A
// bare dollar with no variable name following is returned as not-ok so
// the caller treats it literally.
func (p *parser) parseVariable() (VarPart, bool, error) {
	p.advance() // dollar
	if p.atEnd() {
		return VarPart{}, false, nil
	}

	if p.cur() == '{' {
		p.advance()
		start := p.pos
		for !p.atEnd() && p.cur() != '}' {
			p.advance()
		}
		if p.atEnd() {
			return VarPart{}, false, p.errorf("missing close-brace for variable name")
		}
		name := p.src[start:p.pos]
		p.advance() // closing brace
		return VarPart{Name: name}, true, nil
	}

	start := p.pos
	for !p.atEnd() {
		c := p.cur()
		if isVarNameChar(c) {
			p.advance()
			continue
		}
		if c == ':' && p.pos+1 < len(p.src) && p.src[p.pos+1] == ':' {
			p.advance()
			p.advance()
			continue
		}
		break
	}
	if p.pos == start {
		return VarPart{}, false, nil
	}
	name := p.src[start:p.pos]

	if !p.atEnd() && p.cur() == '(' {
		p.advance()
		parts, err := p.parseParts(func(c byte) bool { return c == ')' })
		if err != nil {
			return VarPart{}, false, err
		}
		if p.atEnd() || p.cur() != ')' {
			return VarPart{}, false, p.errorf("missing close-paren for array reference")
		}
		p.advance()
		if len(parts) == 0 {
			parts = []Part{LiteralPart{}}
		}
		index := Word{Parts: parts}
		return VarPart{Name: name, Index: &index}, true, nil
	}
	return VarPart{Name: name}, true, nil
}
