package interp

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

func coreBuiltins() map[string]builtinFunc {
	return map[string]builtinFunc{
		"proc":     builtinProc,
		"set":      builtinSet,
		"unset":    builtinUnset,
		"incr":     builtinIncr,
		"append":   builtinAppend,
		"return":   builtinReturn,
		"break":    builtinBreak,
		"continue": builtinContinue,
		"if":       builtinIf,
		"while":    builtinWhile,
		"for":      builtinFor,
		"expr":     builtinExpr,
		"puts":     builtinPuts,
		"list":     builtinList,
		"llength":  builtinLlength,
		"lindex":   builtinLindex,
		"lappend":  builtinLappend,
		"string":   builtinString,
		"global":   builtinGlobal,
		"error":    builtinError,
		"catch":    builtinCatch,
		"eval":     builtinEval,
		"info":     builtinInfo,
	}
}

func builtinProc(in *Interp, args []string) (string, error) {
	if len(args) != 3 {
		return "", errors.New("wrong # args: should be \"proc name args body\"")
	}
	name, paramList, body := args[0], args[1], args[2]

	elems, err := ParseList(paramList)
	if err != nil {
		return "", fmt.Errorf("procedure %q has malformed parameter list: %w", name, err)
	}
	params := make([]Param, 0, len(elems))
	for _, elem := range elems {
		sub, err := ParseList(elem)
		if err != nil || len(sub) == 0 || len(sub) > 2 {
			return "", fmt.Errorf("procedure %q has argument with no name", name)
		}
		p := Param{Name: sub[0]}
		if len(sub) == 2 {
			p.Default = sub[1]
			p.HasDefault = true
		}
		params = append(params, p)
	}

	in.procs[name] = &Proc{Name: name, Params: params, Body: body}
	return "", nil
}

func builtinSet(in *Interp, args []string) (string, error) {
	switch len(args) {
	case 1:
		return in.getVarRef(args[0])
	case 2:
		if err := in.setVarRef(args[0], args[1]); err != nil {
			return "", err
		}
		return args[1], nil
	default:
		return "", errors.New("wrong # args: should be \"set varName ?newValue?\"")
	}
}

func builtinUnset(in *Interp, args []string) (string, error) {
	if len(args) == 0 {
		return "", errors.New("wrong # args: should be \"unset varName ?varName ...?\"")
	}
	for _, name := range args {
		if err := in.unsetVar(name); err != nil {
			return "", err
		}
	}
	return "", nil
}

func builtinIncr(in *Interp, args []string) (string, error) {
	if len(args) < 1 || len(args) > 2 {
		return "", errors.New("wrong # args: should be \"incr varName ?increment?\"")
	}
	delta := int64(1)
	if len(args) == 2 {
		var err error
		delta, err = strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return "", fmt.Errorf("expected integer but got %q", args[1])
		}
	}
	cur := int64(0)
	if in.varExists(args[0]) {
		v, err := in.getVarRef(args[0])
		if err != nil {
			return "", err
		}
		cur, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return "", fmt.Errorf("expected integer but got %q", v)
		}
	}
	result := strconv.FormatInt(cur+delta, 10)
	if err := in.setVarRef(args[0], result); err != nil {
		return "", err
	}
	return result, nil
}

func builtinAppend(in *Interp, args []string) (string, error) {
	if len(args) < 1 {
		return "", errors.New("wrong # args: should be \"append varName ?value ...?\"")
	}
	cur := ""
	if in.varExists(args[0]) {
		var err error
		cur, err = in.getVarRef(args[0])
		if err != nil {
			return "", err
		}
	}
	cur += strings.Join(args[1:], "")
	if err := in.setVarRef(args[0], cur); err != nil {
		return "", err
	}
	return cur, nil
}

func builtinReturn(in *Interp, args []string) (string, error) {
	switch len(args) {
	case 0:
		return "", returnError{}
	case 1:
		return "", returnError{value: args[0]}
	default:
		return "", errors.New("wrong # args: should be \"return ?value?\"")
	}
}

func builtinBreak(in *Interp, args []string) (string, error) {
	return "", errBreak
}

func builtinContinue(in *Interp, args []string) (string, error) {
	return "", errContinue
}

func builtinIf(in *Interp, args []string) (string, error) {
	i := 0
	for {
		if i >= len(args) {
			return "", errors.New("wrong # args: no expression after \"if\" argument")
		}
		cond := args[i]
		i++
		if i < len(args) && args[i] == "then" {
			i++
		}
		if i >= len(args) {
			return "", errors.New("wrong # args: no script following \"if\" condition")
		}
		body := args[i]
		i++

		truth, err := in.exprTruth(cond)
		if err != nil {
			return "", err
		}
		if truth {
			return in.Eval(body)
		}

		if i >= len(args) {
			return "", nil
		}
		switch args[i] {
		case "elseif":
			i++
			continue
		case "else":
			i++
			if i != len(args)-1 {
				return "", errors.New("wrong # args: extra words after \"else\" clause")
			}
			return in.Eval(args[i])
		default:
			// Bare else body
			if i != len(args)-1 {
				return "", errors.New("wrong # args: extra words after \"else\" clause")
			}
			return in.Eval(args[i])
		}
	}
}

func builtinWhile(in *Interp, args []string) (string, error) {
	if len(args) != 2 {
		return "", errors.New("wrong # args: should be \"while test command\"")
	}
	for {
		truth, err := in.exprTruth(args[0])
		if err != nil {
			return "", err
		}
		if !truth {
			return "", nil
		}
		_, err = in.Eval(args[1])
		if err != nil {
			if errors.Is(err, errBreak) {
				return "", nil
			}
			if errors.Is(err, errContinue) {
				continue
			}
			return "", err
		}
	}
}

func builtinFor(in *Interp, args []string) (string, error) {
	if len(args) != 4 {
		return "", errors.New("wrong # args: should be \"for start test next command\"")
	}
	start, test, next, body := args[0], args[1], args[2], args[3]
	if _, err := in.Eval(start); err != nil {
		return "", err
	}
	for {
		truth, err := in.exprTruth(test)
		if err != nil {
			return "", err
		}
		if !truth {
			return "", nil
		}
		_, err = in.Eval(body)
		if err != nil {
			if errors.Is(err, errBreak) {
				return "", nil
			}
			if !errors.Is(err, errContinue) {
				return "", err
			}
		}
		if _, err := in.Eval(next); err != nil {
			return "", err
		}
	}
}

func builtinExpr(in *Interp, args []string) (string, error) {
	if len(args) == 0 {
		return "", errors.New("wrong # args: should be \"expr arg ?arg ...?\"")
	}
	return in.evalExpr(strings.Join(args, " "))
}

func builtinPuts(in *Interp, args []string) (string, error) {
	newline := true
	if len(args) > 0 && args[0] == "-nonewline" {
		newline = false
		args = args[1:]
	}
	if len(args) != 1 {
		return "", errors.New("wrong # args: should be \"puts ?-nonewline? string\"")
	}
	if newline {
		fmt.Fprintln(in.Out, args[0])
	} else {
		fmt.Fprint(in.Out, args[0])
	}
	return "", nil
}

func builtinList(in *Interp, args []string) (string, error) {
	return FormatList(args), nil
}

func builtinLlength(in *Interp, args []string) (string, error) {
	if len(args) != 1 {
		return "", errors.New("wrong # args: should be \"llength list\"")
	}
	elems, err := ParseList(args[0])
	if err != nil {
		return "", err
	}
	return strconv.Itoa(len(elems)), nil
}

func builtinLindex(in *Interp, args []string) (string, error) {
	if len(args) != 2 {
		return "", errors.New("wrong # args: should be \"lindex list index\"")
	}
	elems, err := ParseList(args[0])
	if err != nil {
		return "", err
	}
	idx, err := parseIndex(args[1], len(elems))
	if err != nil {
		return "", err
	}
	if idx < 0 || idx >= len(elems) {
		return "", nil
	}
	return elems[idx], nil
}

func builtinLappend(in *Interp, args []string) (string, error) {
	if len(args) < 1 {
		return "", errors.New("wrong # args: should be \"lappend varName ?value ...?\"")
	}
	cur := ""
	if in.varExists(args[0]) {
		var err error
		cur, err = in.getVarRef(args[0])
		if err != nil {
			return "", err
		}
	}
	elems, err := ParseList(cur)
	if err != nil {
		return "", err
	}
	elems = append(elems, args[1:]...)
	result := FormatList(elems)
	if err := in.setVarRef(args[0], result); err != nil {
		return "", err
	}
	return result, nil
}

func builtinString(in *Interp, args []string) (string, error) {
	if len(args) < 2 {
		return "", errors.New("wrong # args: should be \"string subcommand string ?arg ...?\"")
	}
	sub, s := args[0], args[1]
	switch sub {
	case "length":
		return strconv.Itoa(len(s)), nil
	case "toupper":
		return strings.ToUpper(s), nil
	case "tolower":
		return strings.ToLower(s), nil
	case "trim":
		return strings.TrimSpace(s), nil
	case "index":
		if len(args) != 3 {
			return "", errors.New("wrong # args: should be \"string index string charIndex\"")
		}
		idx, err := parseIndex(args[2], len(s))
		if err != nil {
			return "", err
		}
		if idx < 0 || idx >= len(s) {
			return "", nil
		}
		return string(s[idx]), nil
	case "range":
		if len(args) != 4 {
			return "", errors.New("wrong # args: should be \"string range string first last\"")
		}
		first, err := parseIndex(args[2], len(s))
		if err != nil {
			return "", err
		}
		last, err := parseIndex(args[3], len(s))
		if err != nil {
			return "", err
		}
		if first < 0 {
			first = 0
		}
		if last >= len(s) {
			last = len(s) - 1
		}
		if first > last {
			return "", nil
		}
		return s[first : last+1], nil
	default:
		return "", fmt.Errorf("unknown or unsupported string subcommand %q", sub)
	}
}

func builtinGlobal(in *Interp, args []string) (string, error) {
	f := in.currentFrame()
	if f == in.globalFrame() {
		return "", nil
	}
	if f.globalLinks == nil {
		f.globalLinks = make(map[string]bool)
	}
	for _, name := range args {
		f.globalLinks[name] = true
	}
	return "", nil
}

func builtinError(in *Interp, args []string) (string, error) {
	if len(args) < 1 {
		return "", errors.New("wrong # args: should be \"error message\"")
	}
	return "", errors.New(args[0])
}

func builtinCatch(in *Interp, args []string) (string, error) {
	if len(args) < 1 || len(args) > 2 {
		return "", errors.New("wrong # args: should be \"catch script ?varName?\"")
	}
	result, err := in.Eval(args[0])
	code := "0"
	if err != nil {
		code = "1"
		result = err.Error()
	}
	if len(args) == 2 {
		if err := in.setVarRef(args[1], result); err != nil {
			return "", err
		}
	}
	return code, nil
}

func builtinEval(in *Interp, args []string) (string, error) {
	if len(args) == 0 {
		return "", errors.New("wrong # args: should be \"eval arg ?arg ...?\"")
	}
	return in.Eval(strings.Join(args, " "))
}

func builtinInfo(in *Interp, args []string) (string, error) {
	if len(args) == 0 {
		return "", errors.New("wrong # args: should be \"info subcommand ?arg ...?\"")
	}
	switch args[0] {
	case "exists":
		if len(args) != 2 {
			return "", errors.New("wrong # args: should be \"info exists varName\"")
		}
		if in.varExists(args[1]) {
			return "1", nil
		}
		return "0", nil
	case "procs":
		return FormatList(in.ProcNames()), nil
	case "body":
		if len(args) != 2 {
			return "", errors.New("wrong # args: should be \"info body procname\"")
		}
		p, ok := in.procs[args[1]]
		if !ok {
			return "", fmt.Errorf("%q isn't a procedure", args[1])
		}
		return p.Body, nil
	case "args":
		if len(args) != 2 {
			return "", errors.New("wrong # args: should be \"info args procname\"")
		}
		p, ok := in.procs[args[1]]
		if !ok {
			return "", fmt.Errorf("%q isn't a procedure", args[1])
		}
		names := make([]string, len(p.Params))
		for i, param := range p.Params {
			names[i] = param.Name
		}
		return FormatList(names), nil
	default:
		return "", fmt.Errorf("unknown or unsupported info subcommand %q", args[0])
	}
}

// parseIndex handles numeric indexes plus the end and end-N forms.
func parseIndex(s string, length int) (int, error) {
	if s == "end" {
		return length - 1, nil
	}
	if strings.HasPrefix(s, "end-") {
		n, err := strconv.Atoi(s[4:])
		if err != nil {
			return 0, fmt.Errorf("bad index %q: must be integer or end?-integer?", s)
		}
		return length - 1 - n, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("bad index %q: must be integer or end?-integer?", s)
	}
	return n, nil
}
