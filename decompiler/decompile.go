package decompiler

import (
	"fmt"
	"sort"

	"github.com/chazu/tcldis/bytecode"
)

// ---------------------------------------------------------------------------
// Basic blocks
// ---------------------------------------------------------------------------

// block holds a linear run of items: decoded instructions that
// reductions progressively replace with value nodes.
type block struct {
	items []interface{} // Inst or Node
}

// splitBlocks partitions instructions into basic blocks. A block
// starts at the procedure entry, at every jump target, and after every
// jump; it ends at a jump or just before a jump target.
func splitBlocks(insts []Inst) ([]*block, error) {
	if len(insts) == 0 {
		return nil, fmt.Errorf("decompiler: empty instruction stream")
	}

	starts := map[int]bool{}
	ends := map[int]bool{}

	newStart := true
	for i := range insts {
		inst := &insts[i]
		if newStart {
			starts[inst.Loc] = true
			newStart = false
		}
		if !isJump(inst.Op) {
			continue
		}
		ends[inst.Loc] = true
		target := inst.Loc + inst.FirstOp()
		starts[target] = true
		newStart = true
		if target != 0 {
			before := -1
			for j := range insts {
				if insts[j].Loc == target {
					break
				}
				before = j
			}
			if before < 0 {
				return nil, fmt.Errorf("decompiler: jump at %d targets %d outside procedure", inst.Loc, target)
			}
			ends[insts[before].Loc] = true
		}
	}
	ends[insts[len(insts)-1].Loc] = true

	if len(starts) != len(ends) {
		return nil, fmt.Errorf("decompiler: malformed control flow: %d block starts, %d ends", len(starts), len(ends))
	}

	startLocs := sortedLocs(starts)
	endLocs := sortedLocs(ends)

	var blocks []*block
	idx := 0
	for i := range startLocs {
		if idx >= len(insts) || insts[idx].Loc != startLocs[i] {
			return nil, fmt.Errorf("decompiler: block start %d does not align with an instruction", startLocs[i])
		}
		b := &block{}
		for idx < len(insts) && insts[idx].Loc < endLocs[i] {
			b.items = append(b.items, insts[idx])
			idx++
		}
		if idx >= len(insts) || insts[idx].Loc != endLocs[i] {
			return nil, fmt.Errorf("decompiler: block end %d does not align with an instruction", endLocs[i])
		}
		b.items = append(b.items, insts[idx])
		idx++
		blocks = append(blocks, b)
	}
	return blocks, nil
}

func sortedLocs(set map[int]bool) []int {
	locs := make([]int, 0, len(set))
	for loc := range set {
		locs = append(locs, loc)
	}
	sort.Ints(locs)
	return locs
}

// ---------------------------------------------------------------------------
// Reductions
// ---------------------------------------------------------------------------

// reduction describes how one instruction folds the value nodes that
// precede it into a new node.
type reduction struct {
	nargs     func(*Inst) int
	reduce    func([]Node) interface{}
	wantsCall bool // arguments must be ProcCalls rather than any value
}

func fixedArgs(n int) func(*Inst) int {
	return func(*Inst) int { return n }
}

var reductions = map[bytecode.Opcode]reduction{
	bytecode.OpInvokeStk1: {
		nargs:  func(in *Inst) int { return in.FirstOp() },
		reduce: func(args []Node) interface{} { return &ProcCall{Words: args} },
	},
	bytecode.OpInvokeStk4: {
		nargs:  func(in *Inst) int { return in.FirstOp() },
		reduce: func(args []Node) interface{} { return &ProcCall{Words: args} },
	},
	bytecode.OpLoadStk: {
		nargs:  fixedArgs(1),
		reduce: func(args []Node) interface{} { return &VarRef{Name: args[0]} },
	},
	bytecode.OpLoadArrayStk: {
		nargs:  fixedArgs(2),
		reduce: func(args []Node) interface{} { return &ArrayRef{Name: args[0], Index: args[1]} },
	},
	bytecode.OpStoreStk: {
		nargs: fixedArgs(2),
		reduce: func(args []Node) interface{} {
			return &ProcCall{Words: []Node{&Literal{Value: "set"}, args[0], args[1]}}
		},
	},
	bytecode.OpPop: {
		nargs:     fixedArgs(1),
		reduce:    func(args []Node) interface{} { return &IgnoredCall{Call: args[0].(*ProcCall)} },
		wantsCall: true,
	},
	bytecode.OpNop: {
		nargs:  fixedArgs(0),
		reduce: func([]Node) interface{} { return nil },
	},
}

// reduceBlock applies reductions until the block reaches a fixpoint.
// It reports whether anything changed.
func reduceBlock(b *block, literals []string) (bool, error) {
	changed := false
	for {
		step, err := reduceOnce(b, literals)
		if err != nil {
			return changed, err
		}
		if !step {
			return changed, nil
		}
		changed = true
	}
}

func reduceOnce(b *block, literals []string) (bool, error) {
	for i, item := range b.items {
		inst, ok := item.(Inst)
		if !ok {
			continue
		}

		if inst.Op == bytecode.OpPush1 || inst.Op == bytecode.OpPush4 {
			idx := inst.FirstOp()
			if idx < 0 || idx >= len(literals) {
				return false, fmt.Errorf("decompiler: push of literal %d outside frame of %d", idx, len(literals))
			}
			b.items[i] = &Literal{Value: literals[idx]}
			return true, nil
		}

		red, ok := reductions[inst.Op]
		if !ok {
			continue
		}
		nargs := red.nargs(&inst)
		if i < nargs {
			continue
		}
		args := make([]Node, 0, nargs)
		usable := true
		for _, prev := range b.items[i-nargs : i] {
			if red.wantsCall {
				if _, ok := prev.(*ProcCall); !ok {
					usable = false
					break
				}
			} else if !isValue(prev) {
				usable = false
				break
			}
			args = append(args, prev.(Node))
		}
		if !usable {
			continue
		}

		replacement := red.reduce(args)
		tail := b.items[i+1:]
		b.items = b.items[:i-nargs]
		if replacement != nil {
			b.items = append(b.items, replacement)
		}
		b.items = append(b.items, tail...)
		return true, nil
	}
	return false, nil
}

// ---------------------------------------------------------------------------
// Steps
// ---------------------------------------------------------------------------

// Step kinds.
const (
	StepTcl  = "tcl"  // reconstructed source text
	StepInst = "inst" // raw instruction that could not be reduced
)

// Step is one decompilation step descriptor, serializable to JSON.
type Step struct {
	Kind     string        `json:"kind"`
	Text     string        `json:"text,omitempty"`
	Name     string        `json:"name,omitempty"`
	Loc      int           `json:"loc,omitempty"`
	Operands []OperandStep `json:"operands,omitempty"`
}

// OperandStep is one operand of a raw instruction step.
type OperandStep struct {
	Type  string `json:"type"`
	Value int    `json:"value"`
}

// Steps decompiles a procedure into step descriptors, one slice per
// basic block.
func Steps(p *bytecode.Proc) ([][]Step, error) {
	insts, err := Decode(p.Code)
	if err != nil {
		return nil, err
	}
	blocks, err := splitBlocks(insts)
	if err != nil {
		return nil, err
	}

	for {
		any := false
		for _, b := range blocks {
			changed, err := reduceBlock(b, p.Literals)
			if err != nil {
				return nil, err
			}
			any = any || changed
		}
		if !any {
			break
		}
	}

	steps := make([][]Step, len(blocks))
	for i, b := range blocks {
		steps[i] = formatBlock(b)
	}
	return steps, nil
}

func formatBlock(b *block) []Step {
	steps := make([]Step, 0, len(b.items))
	for _, item := range b.items {
		switch v := item.(type) {
		case Node:
			steps = append(steps, Step{Kind: StepTcl, Text: v.Fmt()})
		case Inst:
			s := Step{Kind: StepInst, Name: v.Name, Loc: v.Loc}
			for _, op := range v.Ops {
				s.Operands = append(s.Operands, OperandStep{Type: op.Type.String(), Value: op.Value})
			}
			steps = append(steps, s)
		}
	}
	return steps
}
