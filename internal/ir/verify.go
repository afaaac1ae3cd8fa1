package ir

import (
	"fmt"
	"slices"
)

// VerifyError describes the first structural defect found in a function
type VerifyError struct {
	Function string
	Block    string
	Message  string
}

func (e *VerifyError) Error() string {
	if e.Block == "" {
		return fmt.Sprintf("%%%s: %s", e.Function, e.Message)
	}
	return fmt.Sprintf("%%%s, %s: %s", e.Function, e.Block, e.Message)
}

// Verify checks the structural invariants of a function:
//   - every block has a terminator and every edge targets a block of the function
//     with matching argument count and types;
//   - every value is defined exactly once and its definition records where it lives;
//   - every use is dominated by its definition (uses in unreachable blocks are skipped).
func Verify(fn *Function) error {
	fail := func(block *BasicBlock, format string, args ...interface{}) error {
		e := &VerifyError{Function: fn.Name, Message: fmt.Sprintf(format, args...)}
		if block != nil {
			e.Block = block.Label()
		}
		return e
	}

	inFunc := make(map[*BasicBlock]bool, len(fn.Blocks))
	for _, block := range fn.Blocks {
		if inFunc[block] {
			return fail(block, "block appears twice in the layout")
		}
		inFunc[block] = true
	}

	type def struct {
		block *BasicBlock
		index int // -1 for block parameters
	}
	defs := make(map[*Value]def)
	define := func(v *Value, block *BasicBlock, index int) error {
		if _, dup := defs[v]; dup {
			return fail(block, "%s is defined more than once", v)
		}
		if v.Block != block {
			return fail(block, "%s records the wrong defining block", v)
		}
		defs[v] = def{block: block, index: index}
		return nil
	}

	for _, block := range fn.Blocks {
		for _, param := range block.Params {
			if err := define(param, block, -1); err != nil {
				return err
			}
		}
		for i, inst := range block.Instructions {
			if inst.IsTerminator() {
				return fail(block, "terminator %q in the middle of the block", inst)
			}
			if inst.GetBlock() != block {
				return fail(block, "%q records the wrong block", inst)
			}
			for _, r := range inst.GetResults() {
				if r.Inst != inst {
					return fail(block, "%s records the wrong defining instruction", r)
				}
				if err := define(r, block, i); err != nil {
					return err
				}
			}
		}
		if block.Terminator == nil {
			return fail(block, "missing terminator")
		}
		if block.Terminator.GetBlock() != block {
			return fail(block, "terminator %q records the wrong block", block.Terminator)
		}
		for _, call := range block.Terminator.GetSuccessors() {
			if !inFunc[call.Block] {
				return fail(block, "dangling successor %s", call.Block.Label())
			}
			if len(call.Args) != len(call.Block.Params) {
				return fail(block, "edge to %s passes %d arguments, expected %d",
					call.Block.Label(), len(call.Args), len(call.Block.Params))
			}
			for i, arg := range call.Args {
				if arg.Type != call.Block.Params[i].Type {
					return fail(block, "edge to %s passes %s as %s, expected %s",
						call.Block.Label(), arg, arg.Type, call.Block.Params[i].Type)
				}
			}
		}
	}

	cfg := BuildCFG(fn)
	checkUse := func(block *BasicBlock, index int, inst Instruction) error {
		for _, op := range inst.GetOperands() {
			d, ok := defs[op]
			if !ok {
				return fail(block, "%q uses undefined value %s", inst, op)
			}
			if !cfg.IsReachable(block) {
				continue
			}
			if d.block == block {
				if d.index >= index {
					return fail(block, "%q uses %s before its definition", inst, op)
				}
				continue
			}
			if !cfg.Dominates(d.block, block) {
				return fail(block, "%q uses %s, whose definition in %s does not dominate it",
					inst, op, d.block.Label())
			}
		}
		return nil
	}
	for _, block := range fn.Blocks {
		for i, inst := range block.Instructions {
			if err := checkUse(block, i, inst); err != nil {
				return err
			}
		}
		if err := checkUse(block, len(block.Instructions), block.Terminator); err != nil {
			return err
		}
	}
	return nil
}

// AbstractInstructions lists the instructions that still need legalization
func AbstractInstructions(fn *Function) []Instruction {
	var abstract []Instruction
	for _, block := range fn.Blocks {
		for _, inst := range block.Instructions {
			if !inst.Opcode().IsLegal() {
				abstract = append(abstract, inst)
			}
		}
	}
	return abstract
}

// IsLegal reports whether a function only contains realizable instructions and
// a signature with every location assigned.
func IsLegal(fn *Function) bool {
	if !fn.Signature.IsLegalized() {
		return false
	}
	if slices.ContainsFunc(fn.Signatures, func(s *Signature) bool { return !s.IsLegalized() }) {
		return false
	}
	return len(AbstractInstructions(fn)) == 0
}
