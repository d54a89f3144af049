package decompiler

import "strings"

// Node is a reduced stack value: a fragment of reconstructed source.
type Node interface {
	// Fmt renders the node as Tcl source text.
	Fmt() string
}

// Literal is a constant pushed from the literal frame.
type Literal struct {
	Value string
}

func (n *Literal) Fmt() string {
	return n.Value
}

// VarRef is a scalar variable read ($name).
type VarRef struct {
	Name Node
}

func (n *VarRef) Fmt() string {
	return "$" + n.Name.Fmt()
}

// ArrayRef is an array element read ($name(index)).
type ArrayRef struct {
	Name  Node
	Index Node
}

func (n *ArrayRef) Fmt() string {
	return "$" + n.Name.Fmt() + "(" + n.Index.Fmt() + ")"
}

// ProcCall is a command invocation whose result is a value.
type ProcCall struct {
	Words []Node
}

func (n *ProcCall) Fmt() string {
	words := make([]string, len(n.Words))
	for i, w := range n.Words {
		words[i] = w.Fmt()
	}
	return "[" + strings.Join(words, " ") + "]"
}

// IgnoredCall is a command invocation whose result was discarded: a
// plain statement. It renders without the surrounding brackets.
type IgnoredCall struct {
	Call *ProcCall
}

func (n *IgnoredCall) Fmt() string {
	s := n.Call.Fmt()
	return s[1 : len(s)-1]
}

// isValue reports whether an item is a reduced stack value usable as
// an argument to further reductions.
func isValue(item interface{}) bool {
	switch item.(type) {
	case *Literal, *VarRef, *ArrayRef, *ProcCall:
		return true
	}
	return false
}
