package interp

import (
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Expression evaluation (the expr command and loop/branch conditions)
// ---------------------------------------------------------------------------

// evalExpr evaluates an arithmetic/comparison expression. Variable and
// command substitutions are performed first, then the resulting text is
// parsed with ordinary operator precedence.
func (in *Interp) evalExpr(s string) (string, error) {
	substituted, err := in.substitute(s)
	if err != nil {
		return "", err
	}
	ep := &exprParser{input: substituted}
	v, err := ep.parseExpr(0)
	if err != nil {
		return "", err
	}
	ep.skipSpace()
	if !ep.atEnd() {
		return "", fmt.Errorf("syntax error in expression %q", s)
	}
	return v.text(), nil
}

// exprTruth evaluates an expression and converts the result to a
// boolean, as required by if, while and for conditions.
func (in *Interp) exprTruth(s string) (bool, error) {
	result, err := in.evalExpr(s)
	if err != nil {
		return false, err
	}
	return truthValue(result)
}

func truthValue(s string) (bool, error) {
	if i, err := strconv.ParseInt(s, 0, 64); err == nil {
		return i != 0, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f != 0, nil
	}
	switch strings.ToLower(s) {
	case "true", "yes", "on":
		return true, nil
	case "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("expected boolean value but got %q", s)
}

// substitute performs $variable and [command] substitution over
// arbitrary text.
func (in *Interp) substitute(s string) (string, error) {
	p := &parser{src: s, line: 1}
	parts, err := p.parseParts(func(byte) bool { return false })
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, part := range parts {
		v, err := in.evalPart(part)
		if err != nil {
			return "", err
		}
		sb.WriteString(v)
	}
	return sb.String(), nil
}

// ---------------------------------------------------------------------------
// Values
// ---------------------------------------------------------------------------

type exprKind int

const (
	exprInt exprKind = iota
	exprFloat
	exprString
)

type exprVal struct {
	kind exprKind
	i    int64
	f    float64
	s    string
}

func intVal(i int64) exprVal     { return exprVal{kind: exprInt, i: i} }
func floatVal(f float64) exprVal { return exprVal{kind: exprFloat, f: f} }
func strVal(s string) exprVal    { return exprVal{kind: exprString, s: s} }
func boolVal(b bool) exprVal {
	if b {
		return intVal(1)
	}
	return intVal(0)
}

func (v exprVal) text() string {
	switch v.kind {
	case exprInt:
		return strconv.FormatInt(v.i, 10)
	case exprFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	default:
		return v.s
	}
}

// numeric attempts to view the value as a number.
func (v exprVal) numeric() (exprVal, bool) {
	switch v.kind {
	case exprInt, exprFloat:
		return v, true
	}
	if i, err := strconv.ParseInt(v.s, 0, 64); err == nil {
		return intVal(i), true
	}
	if f, err := strconv.ParseFloat(v.s, 64); err == nil {
		return floatVal(f), true
	}
	return v, false
}

// ---------------------------------------------------------------------------
// Parser
// ---------------------------------------------------------------------------

type exprParser struct {
	input string
	pos   int
}

// binaryOps maps operator text to precedence. Higher binds tighter.
var binaryOps = map[string]int{
	"||": 1,
	"&&": 2,
	"==": 3, "!=": 3, "eq": 3, "ne": 3,
	"<": 4, ">": 4, "<=": 4, ">=": 4,
	"+": 5, "-": 5,
	"*": 6, "/": 6, "%": 6,
}

func (ep *exprParser) atEnd() bool {
	return ep.pos >= len(ep.input)
}

func (ep *exprParser) skipSpace() {
	for !ep.atEnd() {
		c := ep.input[ep.pos]
		if c != ' ' && c != '\t' && c != '\r' && c != '\n' {
			return
		}
		ep.pos++
	}
}

// peekOp returns the binary operator at the cursor, if any.
func (ep *exprParser) peekOp() (string, int, bool) {
	ep.skipSpace()
	if ep.atEnd() {
		return "", 0, false
	}
	for _, width := range []int{2, 1} {
		if ep.pos+width > len(ep.input) {
			continue
		}
		op := ep.input[ep.pos : ep.pos+width]
		if prec, ok := binaryOps[op]; ok {
			// "eq"/"ne" must stand alone, not prefix a longer word
			if (op == "eq" || op == "ne") && ep.pos+width < len(ep.input) && isBareChar(ep.input[ep.pos+width]) {
				continue
			}
			return op, prec, true
		}
	}
	return "", 0, false
}

func (ep *exprParser) parseExpr(minPrec int) (exprVal, error) {
	left, err := ep.parseUnary()
	if err != nil {
		return exprVal{}, err
	}
	for {
		op, prec, ok := ep.peekOp()
		if !ok || prec < minPrec {
			return left, nil
		}
		ep.pos += len(op)
		right, err := ep.parseExpr(prec + 1)
		if err != nil {
			return exprVal{}, err
		}
		left, err = applyBinary(op, left, right)
		if err != nil {
			return exprVal{}, err
		}
	}
}

func (ep *exprParser) parseUnary() (exprVal, error) {
	ep.skipSpace()
	if ep.atEnd() {
		return exprVal{}, fmt.Errorf("premature end of expression")
	}
	switch ep.input[ep.pos] {
	case '-':
		ep.pos++
		v, err := ep.parseUnary()
		if err != nil {
			return exprVal{}, err
		}
		n, ok := v.numeric()
		if !ok {
			return exprVal{}, fmt.Errorf("can't use %q as operand of \"-\"", v.text())
		}
		if n.kind == exprInt {
			return intVal(-n.i), nil
		}
		return floatVal(-n.f), nil
	case '+':
		ep.pos++
		return ep.parseUnary()
	case '!':
		ep.pos++
		v, err := ep.parseUnary()
		if err != nil {
			return exprVal{}, err
		}
		truth, err := truthValue(v.text())
		if err != nil {
			return exprVal{}, err
		}
		return boolVal(!truth), nil
	case '(':
		ep.pos++
		v, err := ep.parseExpr(0)
		if err != nil {
			return exprVal{}, err
		}
		ep.skipSpace()
		if ep.atEnd() || ep.input[ep.pos] != ')' {
			return exprVal{}, fmt.Errorf("looking for close parenthesis")
		}
		ep.pos++
		return v, nil
	}
	return ep.parseOperand()
}

func isBareChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '.'
}

func (ep *exprParser) parseOperand() (exprVal, error) {
	c := ep.input[ep.pos]

	if c == '"' {
		ep.pos++
		var sb strings.Builder
		for !ep.atEnd() && ep.input[ep.pos] != '"' {
			if ep.input[ep.pos] == '\\' && ep.pos+1 < len(ep.input) {
				ep.pos++
			}
			sb.WriteByte(ep.input[ep.pos])
			ep.pos++
		}
		if ep.atEnd() {
			return exprVal{}, fmt.Errorf("missing close-quote in expression")
		}
		ep.pos++
		return strVal(sb.String()), nil
	}

	if c == '{' {
		depth := 1
		ep.pos++
		start := ep.pos
		for !ep.atEnd() && depth > 0 {
			switch ep.input[ep.pos] {
			case '{':
				depth++
			case '}':
				depth--
			}
			ep.pos++
		}
		if depth > 0 {
			return exprVal{}, fmt.Errorf("missing close-brace in expression")
		}
		return strVal(ep.input[start : ep.pos-1]), nil
	}

	start := ep.pos
	for !ep.atEnd() && isBareChar(ep.input[ep.pos]) {
		ep.pos++
	}
	if ep.pos == start {
		return exprVal{}, fmt.Errorf("syntax error in expression at %q", ep.input[ep.pos:])
	}
	word := ep.input[start:ep.pos]

	if i, err := strconv.ParseInt(word, 0, 64); err == nil {
		return intVal(i), nil
	}
	if f, err := strconv.ParseFloat(word, 64); err == nil {
		return floatVal(f), nil
	}
	return strVal(word), nil
}

// ---------------------------------------------------------------------------
// Operator application
// ---------------------------------------------------------------------------

func applyBinary(op string, left, right exprVal) (exprVal, error) {
	switch op {
	case "||", "&&":
		l, err := truthValue(left.text())
		if err != nil {
			return exprVal{}, err
		}
		r, err := truthValue(right.text())
		if err != nil {
			return exprVal{}, err
		}
		if op == "||" {
			return boolVal(l || r), nil
		}
		return boolVal(l && r), nil

	case "eq":
		return boolVal(left.text() == right.text()), nil
	case "ne":
		return boolVal(left.text() != right.text()), nil

	case "==", "!=", "<", ">", "<=", ">=":
		return compare(op, left, right)

	case "+", "-", "*", "/", "%":
		return arith(op, left, right)
	}
	return exprVal{}, fmt.Errorf("unknown operator %q", op)
}

func compare(op string, left, right exprVal) (exprVal, error) {
	ln, lok := left.numeric()
	rn, rok := right.numeric()

	var cmp int
	if lok && rok {
		lf, rf := ln.asFloat(), rn.asFloat()
		switch {
		case lf < rf:
			cmp = -1
		case lf > rf:
			cmp = 1
		}
	} else {
		cmp = strings.Compare(left.text(), right.text())
	}

	switch op {
	case "==":
		return boolVal(cmp == 0), nil
	case "!=":
		return boolVal(cmp != 0), nil
	case "<":
		return boolVal(cmp < 0), nil
	case ">":
		return boolVal(cmp > 0), nil
	case "<=":
		return boolVal(cmp <= 0), nil
	default:
		return boolVal(cmp >= 0), nil
	}
}

func (v exprVal) asFloat() float64 {
	if v.kind == exprInt {
		return float64(v.i)
	}
	return v.f
}

func arith(op string, left, right exprVal) (exprVal, error) {
	ln, lok := left.numeric()
	rn, rok := right.numeric()
	if !lok {
		return exprVal{}, fmt.Errorf("can't use %q as operand of %q", left.text(), op)
	}
	if !rok {
		return exprVal{}, fmt.Errorf("can't use %q as operand of %q", right.text(), op)
	}

	if ln.kind == exprInt && rn.kind == exprInt {
		switch op {
		case "+":
			return intVal(ln.i + rn.i), nil
		case "-":
			return intVal(ln.i - rn.i), nil
		case "*":
			return intVal(ln.i * rn.i), nil
		case "/":
			if rn.i == 0 {
				return exprVal{}, fmt.Errorf("divide by zero")
			}
			return intVal(ln.i / rn.i), nil
		case "%":
			if rn.i == 0 {
				return exprVal{}, fmt.Errorf("divide by zero")
			}
			return intVal(ln.i % rn.i), nil
		}
	}

	if op == "%" {
		return exprVal{}, fmt.Errorf("can't use floating-point value as operand of \"%%\"")
	}
	lf, rf := ln.asFloat(), rn.asFloat()
	switch op {
	case "+":
		return floatVal(lf + rf), nil
	case "-":
		return floatVal(lf - rf), nil
	case "*":
		return floatVal(lf * rf), nil
	default:
		if rf == 0 {
			return exprVal{}, fmt.Errorf("divide by zero")
		}
		return floatVal(lf / rf), nil
	}
}
