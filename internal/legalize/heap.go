package legalize

import (
	"fmt"
	"math"

	"legalizer/internal/errors"
	"legalizer/internal/ir"
	"legalizer/internal/isa"
)

// heapLegalizer expands heap_addr into a bounds check and an address
// computation. A check splits the block: the original block ends in a branch
// to a trap block or to a continuation holding the rest of the instructions.
type heapLegalizer struct {
	fn      *ir.Function
	target  *isa.TargetISA
	policy  isa.GuardPolicy
	globals *globalValueLegalizer

	// statistics for the function log line
	checked int
	elided  int
}

func newHeapLegalizer(fn *ir.Function, target *isa.TargetISA, policy isa.GuardPolicy, globals *globalValueLegalizer) *heapLegalizer {
	return &heapLegalizer{fn: fn, target: target, policy: policy, globals: globals}
}

// check validates the heap table
func (h *heapLegalizer) check() error {
	fn := h.fn
	for i, data := range fn.Heaps {
		heap := ir.Heap(i)
		if data.Style != ir.HeapStatic && data.Style != ir.HeapDynamic {
			return errors.UnsupportedHeapStyle(fn, heap)
		}
		ctx := fmt.Sprintf("%s = %s", heap, data)
		if !h.globals.declared(data.Base) {
			return errors.UnknownEntity(fn, data.Base.String(), ctx)
		}
		if data.Style == ir.HeapDynamic && !h.globals.declared(data.BoundGV) {
			return errors.UnknownEntity(fn, data.BoundGV.String(), ctx)
		}
	}
	return nil
}

// checkUse validates a single heap_addr instruction
func (h *heapLegalizer) checkUse(inst *ir.HeapAddrInstruction) error {
	fn := h.fn
	if inst.Heap < 0 || int(inst.Heap) >= len(fn.Heaps) {
		return errors.UnknownEntity(fn, inst.Heap.String(), inst.String())
	}
	ptr := h.target.PointerType()
	if inst.Result.Type != ptr {
		return errors.AddressType(fn, inst, fmt.Sprintf("result must be %s on %s", ptr, h.target.Name))
	}
	if !inst.Index.Type.IsInt() || inst.Index.Type.Bits() > ptr.Bits() {
		return errors.AddressType(fn, inst, fmt.Sprintf("index %s of type %s is wider than %s", inst.Index, inst.Index.Type, ptr))
	}
	end := inst.Offset + inst.Size
	if end < inst.Offset {
		return errors.AddressType(fn, inst, "offset and size overflow")
	}

	// The expansion carries these as signed 64-bit immediates
	if end > math.MaxInt64 {
		return errors.AddressType(fn, inst, fmt.Sprintf("access end %#x does not fit an immediate", end))
	}
	data := fn.Heaps[inst.Heap]
	if data.Style == ir.HeapStatic && !h.policy.Covers(inst.Offset, inst.Size, data.Guard) &&
		end <= data.Bound && data.Bound-end > math.MaxInt64 {
		return errors.AddressType(fn, inst, fmt.Sprintf("bounds check limit %#x does not fit an immediate", data.Bound-end))
	}
	return nil
}

// legalize replaces the heap_addr instruction at the cursor. On return the
// cursor is positioned after the expansion, possibly in a new block.
func (h *heapLegalizer) legalize(cur *ir.Cursor, inst *ir.HeapAddrInstruction) {
	data := h.fn.Heaps[inst.Heap]
	ptr := h.target.PointerType()

	index := inst.Index
	if index.Type != ptr {
		index = cur.Uextend(ptr, index)
	}

	switch data.Style {
	case ir.HeapStatic:
		h.static(cur, inst, data, index)
	case ir.HeapDynamic:
		h.dynamic(cur, inst, data, index)
	default:
		errors.Invariant(h.fn.Name, "%s: unexpected heap style %q", inst.Heap, data.Style)
	}

	base := h.globals.materialize(cur, data.Base, nil)
	cur.Insert(&ir.IaddInstruction{Result: inst.Result, X: base, Y: index})
	cur.Remove()
}

func (h *heapLegalizer) static(cur *ir.Cursor, inst *ir.HeapAddrInstruction, data ir.HeapData, index *ir.Value) {
	end := inst.Offset + inst.Size
	switch {
	case h.policy.Covers(inst.Offset, inst.Size, data.Guard):
		h.elided++
		heapLog.Debugf("%%%s: %s: %s access [%d, %d) inside %#x guard, no check",
			h.fn.Name, cur.Block().Label(), inst.Heap, inst.Offset, end, data.Guard)
	case end > data.Bound:
		h.checked++
		heapLog.Debugf("%%%s: %s: %s access [%d, %d) exceeds bound %#x, always traps",
			h.fn.Name, cur.Block().Label(), inst.Heap, inst.Offset, end, data.Bound)
		trap, _ := h.split(cur)
		cur.Jump(trap)
		h.enterContinuation(cur)
	default:
		h.checked++
		limit := data.Bound - end
		oob := cur.IcmpImm(ir.IntUnsignedGreaterThan, index, int64(limit))
		h.branch(cur, oob)
	}
}

func (h *heapLegalizer) dynamic(cur *ir.Cursor, inst *ir.HeapAddrInstruction, data ir.HeapData, index *ir.Value) {
	h.checked++
	ptr := h.target.PointerType()
	end := inst.Offset + inst.Size

	boundAddr := h.globals.materialize(cur, data.BoundGV, nil)
	bound := cur.Load(ptr, boundAddr, 0)

	var oob *ir.Value
	if end <= data.MinSize {
		// bound >= MinSize >= end, so the subtraction cannot wrap
		adjusted := cur.IaddImm(bound, -int64(end))
		oob = cur.Icmp(ir.IntUnsignedGreaterThan, index, adjusted)
	} else {
		last := cur.IaddImm(index, int64(end))
		oob = cur.Icmp(ir.IntUnsignedGreaterThan, last, bound)
	}
	h.branch(cur, oob)
}

// branch ends the current block with `brif oob, trap, cont`
func (h *heapLegalizer) branch(cur *ir.Cursor, oob *ir.Value) {
	trap, cont := h.split(cur)
	cur.Brif(oob, trap, nil, cont, nil)
	h.enterContinuation(cur)
}

// split moves the instructions from the cursor on into a continuation block
// and creates a trap block. The cursor stays at the bottom of the original
// block so the caller can add its terminator.
func (h *heapLegalizer) split(cur *ir.Cursor) (trap, cont *ir.BasicBlock) {
	block := cur.Block()
	cont = h.fn.SplitBlock(block, cur.Position())
	h.globals.inherit(block, cont)

	trap = h.fn.CreateBlock()
	ir.NewCursor(h.fn).AtBottom(trap).Trap(ir.TrapHeapOutOfBounds)

	cur.AtBottom(block)
	return trap, cont
}

// enterContinuation moves the cursor to the start of the block following the
// current one in the layout
func (h *heapLegalizer) enterContinuation(cur *ir.Cursor) {
	idx := h.fn.BlockIndex(cur.Block())
	if idx < 0 || idx+1 >= len(h.fn.Blocks) {
		errors.Invariant(h.fn.Name, "continuation of %s is missing", cur.Block().Label())
	}
	cur.AtIndex(h.fn.Blocks[idx+1], 0)
}
