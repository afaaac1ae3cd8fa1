package legalize

import (
	"fmt"

	"legalizer/internal/errors"
	"legalizer/internal/ir"
	"legalizer/internal/isa"
)

// globalValueLegalizer expands global_value instructions into address
// arithmetic. Materialized addresses are remembered once per function, filed
// under the block that computed them, and reused by every block that block
// dominates.
type globalValueLegalizer struct {
	fn     *ir.Function
	target *isa.TargetISA
	vmctx  *ir.Value
	cfg    *ir.ControlFlowGraph
	memo   map[*ir.BasicBlock]map[ir.GlobalValue]*ir.Value
	// continuation blocks split off during expansion, mapped to the block
	// they were split from
	origin map[*ir.BasicBlock]*ir.BasicBlock
}

func newGlobalValueLegalizer(fn *ir.Function, target *isa.TargetISA) *globalValueLegalizer {
	return &globalValueLegalizer{
		fn:     fn,
		target: target,
		memo:   make(map[*ir.BasicBlock]map[ir.GlobalValue]*ir.Value),
		origin: make(map[*ir.BasicBlock]*ir.BasicBlock),
	}
}

// check validates the global value table: every base exists and no
// dereference chain loops back on itself.
func (g *globalValueLegalizer) check() error {
	fn := g.fn
	for i, data := range fn.Globals {
		if data.Kind == ir.GlobalDeref && !g.declared(data.Base) {
			return errors.UnknownEntity(fn, data.Base.String(), fmt.Sprintf("%s = %s", ir.GlobalValue(i), data))
		}
	}
	if cycle := findCycle(fn.Globals); cycle != nil {
		return errors.CyclicGlobalValue(fn, cycle)
	}
	return nil
}

// checkUse validates a single global_value instruction
func (g *globalValueLegalizer) checkUse(inst *ir.GlobalValueInstruction) error {
	if !g.declared(inst.GlobalValue) {
		return errors.UnknownEntity(g.fn, inst.GlobalValue.String(), inst.String())
	}
	if inst.Result.Type != g.target.PointerType() {
		return errors.AddressType(g.fn, inst, fmt.Sprintf("result must be %s on %s", g.target.PointerType(), g.target.Name))
	}
	return nil
}

// checkContext makes sure there is a vmctx parameter to anchor chains on.
// It is only required when some instruction actually needs an address.
func (g *globalValueLegalizer) checkContext() error {
	idx, ok := g.fn.Signature.SpecialParam(ir.PurposeVMContext)
	entry := g.fn.Entry()
	if !ok || entry == nil || idx >= len(entry.Params) {
		return errors.UnknownEntity(g.fn, "vmctx parameter", "global value")
	}
	return nil
}

// bind looks up the vmctx value once the signature is final and takes the
// dominator tree the memo is searched along. Splitting a block later does not
// change which original blocks dominate each other.
func (g *globalValueLegalizer) bind() {
	g.cfg = ir.BuildCFG(g.fn)
	if idx, ok := g.fn.Signature.SpecialParam(ir.PurposeVMContext); ok {
		if entry := g.fn.Entry(); entry != nil && idx < len(entry.Params) {
			g.vmctx = entry.Params[idx]
		}
	}
}

func (g *globalValueLegalizer) declared(gv ir.GlobalValue) bool {
	return gv >= 0 && int(gv) < len(g.fn.Globals)
}

// findCycle returns the global values on the first dereference cycle in the
// table, in chain order, or nil. Every deref has exactly one base, so a walk
// from each unvisited entry either reaches a vmctx root, a finished entry or
// an entry on the current path.
func findCycle(globals []ir.GlobalValueData) []ir.GlobalValue {
	const (
		unvisited = iota
		onPath
		done
	)
	state := make([]int, len(globals))
	for start := range globals {
		if state[start] != unvisited {
			continue
		}
		var path []ir.GlobalValue
		gv := ir.GlobalValue(start)
		for {
			if state[gv] == onPath {
				for i, p := range path {
					if p == gv {
						return path[i:]
					}
				}
			}
			if state[gv] == done {
				break
			}
			state[gv] = onPath
			path = append(path, gv)
			data := globals[gv]
			if data.Kind != ir.GlobalDeref {
				break
			}
			gv = data.Base
		}
		for _, p := range path {
			state[p] = done
		}
	}
	return nil
}

// legalize replaces the global_value instruction at the cursor. The cursor is
// left on the instruction that followed it.
func (g *globalValueLegalizer) legalize(cur *ir.Cursor, inst *ir.GlobalValueInstruction) {
	g.materialize(cur, inst.GlobalValue, inst.Result)
	cur.Remove()
	gvLog.Debugf("%%%s: %s: expanded %s", g.fn.Name, cur.Block().Label(), inst.GlobalValue)
}

// materialize returns a value holding the address of gv, emitting the
// computation of gv and any uncached bases before the cursor. When result is
// given it becomes the definition of gv's address, or is replaced by the
// cached value.
func (g *globalValueLegalizer) materialize(cur *ir.Cursor, gv ir.GlobalValue, result *ir.Value) *ir.Value {
	home := g.home(cur.Block())
	memo := g.memo[home]
	if memo == nil {
		memo = make(map[ir.GlobalValue]*ir.Value)
		g.memo[home] = memo
	}
	if v, ok := g.lookup(home, gv); ok {
		if result != nil {
			g.fn.ReplaceAllUses(result, v)
		}
		return v
	}

	// Walk down to the first base that is cached or anchored on vmctx, then
	// emit the chain back up in dependency order.
	var stack []ir.GlobalValue
	visiting := make(map[ir.GlobalValue]bool)
	var base *ir.Value
	for next := gv; ; {
		if v, ok := g.lookup(home, next); ok {
			base = v
			break
		}
		if visiting[next] {
			errors.Invariant(g.fn.Name, "global value %s is on a cycle", next)
		}
		visiting[next] = true
		stack = append(stack, next)
		data := g.fn.Globals[next]
		if data.Kind != ir.GlobalDeref {
			break
		}
		next = data.Base
	}

	for i := len(stack) - 1; i >= 0; i-- {
		data := g.fn.Globals[stack[i]]
		var dest *ir.Value
		if i == 0 {
			dest = result
		}
		switch data.Kind {
		case ir.GlobalVMContext:
			if g.vmctx == nil {
				errors.Invariant(g.fn.Name, "no vmctx parameter bound for %s", stack[i])
			}
			base = g.iaddImm(cur, g.vmctx, data.Offset, dest)
		case ir.GlobalDeref:
			loaded := cur.Load(g.target.PointerType(), base, 0)
			base = g.iaddImm(cur, loaded, data.Offset, dest)
		default:
			errors.Invariant(g.fn.Name, "unknown global value kind %d", data.Kind)
		}
		memo[stack[i]] = base
	}
	return base
}

// iaddImm emits arg + imm, defining dest if given
func (g *globalValueLegalizer) iaddImm(cur *ir.Cursor, arg *ir.Value, imm int64, dest *ir.Value) *ir.Value {
	if dest == nil {
		return cur.IaddImm(arg, imm)
	}
	cur.Insert(&ir.IaddImmInstruction{Result: dest, Arg: arg, Imm: imm})
	return dest
}

// home returns the block a memo entry is filed under: the original block for
// continuations, the block itself otherwise.
func (g *globalValueLegalizer) home(block *ir.BasicBlock) *ir.BasicBlock {
	if o, ok := g.origin[block]; ok {
		return o
	}
	return block
}

// lookup finds gv in the memo of block or of any block dominating it.
// Unreachable blocks have no dominators and only see their own entries.
func (g *globalValueLegalizer) lookup(block *ir.BasicBlock, gv ir.GlobalValue) (*ir.Value, bool) {
	for b := block; b != nil; {
		if v, ok := g.memo[b][gv]; ok {
			return v, true
		}
		idom := g.cfg.IDom(b)
		if idom == b {
			break
		}
		b = idom
	}
	return nil, false
}

// inherit files a continuation under the block it was split from. Every piece
// of a split block dominates what the original block dominated.
func (g *globalValueLegalizer) inherit(block, cont *ir.BasicBlock) {
	g.origin[cont] = g.home(block)
}
