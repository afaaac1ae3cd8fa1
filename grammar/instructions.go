package grammar

import (
	"legalizer/internal/errors"
	"legalizer/internal/ir"
)

// operands reads the operand list of one instruction in order. The first
// problem is kept and reported by done.
type operands struct {
	c    *converter
	inst *Inst
	next int
	err  error
}

func (o *operands) fail(code, format string, args ...interface{}) {
	if o.err == nil {
		o.err = o.c.errorf(o.inst.Pos, code, format, args...)
	}
}

func (o *operands) take(kind string) *Operand {
	if o.next >= len(o.inst.Operands) {
		o.fail(errors.ErrorParse, "%s: missing %s operand", o.inst.Opcode, kind)
		return nil
	}
	op := o.inst.Operands[o.next]
	o.next++
	return op
}

func (o *operands) lookup(ref string) *ir.Value {
	v, ok := o.c.values[entityNumber(ref, "v")]
	if !ok {
		o.fail(errors.ErrorUndefinedReference, "%s uses undefined value %s", o.inst.Opcode, ref)
		return nil
	}
	return v
}

func (o *operands) value() *ir.Value {
	v, off := o.address()
	if off != 0 {
		o.fail(errors.ErrorParse, "%s: unexpected offset on value operand", o.inst.Opcode)
	}
	return v
}

// address reads "vN" or "vN+off"
func (o *operands) address() (*ir.Value, int32) {
	op := o.take("value")
	if op == nil {
		return nil, 0
	}
	if op.Value == nil {
		o.fail(errors.ErrorParse, "%s: expected a value", o.inst.Opcode)
		return nil, 0
	}
	var off int64
	if op.Value.Offset != nil {
		var err error
		if off, err = parseInt(*op.Value.Offset); err != nil || off != int64(int32(off)) {
			o.fail(errors.ErrorParse, "%s: bad offset %q", o.inst.Opcode, *op.Value.Offset)
		}
	}
	return o.lookup(op.Value.Ref), int32(off)
}

func (o *operands) imm() int64 {
	op := o.take("immediate")
	if op == nil {
		return 0
	}
	if op.Int == nil {
		o.fail(errors.ErrorParse, "%s: expected an integer", o.inst.Opcode)
		return 0
	}
	n, err := parseInt(*op.Int)
	if err != nil {
		o.fail(errors.ErrorParse, "%s: bad integer %q", o.inst.Opcode, *op.Int)
	}
	return n
}

func (o *operands) uimm() uint64 {
	op := o.take("immediate")
	if op == nil {
		return 0
	}
	if op.Int == nil {
		o.fail(errors.ErrorParse, "%s: expected an integer", o.inst.Opcode)
		return 0
	}
	n, err := parseUint(*op.Int)
	if err != nil {
		o.fail(errors.ErrorParse, "%s: bad unsigned integer %q", o.inst.Opcode, *op.Int)
	}
	return n
}

func (o *operands) ident() string {
	op := o.take("keyword")
	if op == nil {
		return ""
	}
	if op.Ident == "" {
		o.fail(errors.ErrorParse, "%s: expected a keyword", o.inst.Opcode)
	}
	return op.Ident
}

func (o *operands) block() ir.BlockCall {
	op := o.take("block")
	if op == nil {
		return ir.BlockCall{}
	}
	if op.Block == nil {
		o.fail(errors.ErrorParse, "%s: expected a block", o.inst.Opcode)
		return ir.BlockCall{}
	}
	block, ok := o.c.blocks[entityNumber(op.Block.Ref, "block")]
	if !ok {
		o.fail(errors.ErrorUndefinedReference, "%s targets undefined %s", o.inst.Opcode, op.Block.Ref)
		return ir.BlockCall{}
	}
	call := ir.BlockCall{Block: block}
	for _, ref := range op.Block.Args {
		call.Args = append(call.Args, o.lookup(ref))
	}
	return call
}

func (o *operands) global() ir.GlobalValue {
	op := o.take("global value")
	if op == nil {
		return 0
	}
	if op.Global == "" {
		o.fail(errors.ErrorParse, "%s: expected a global value", o.inst.Opcode)
	}
	return ir.GlobalValue(entityNumber(op.Global, "gv"))
}

func (o *operands) heap() ir.Heap {
	op := o.take("heap")
	if op == nil {
		return 0
	}
	if op.Heap == "" {
		o.fail(errors.ErrorParse, "%s: expected a heap", o.inst.Opcode)
	}
	return ir.Heap(entityNumber(op.Heap, "heap"))
}

func (o *operands) cond() ir.IntCC {
	name := o.ident()
	cc, ok := ir.ParseIntCC(name)
	if !ok && o.err == nil {
		o.fail(errors.ErrorParse, "%s: unknown condition code %q", o.inst.Opcode, name)
	}
	return cc
}

func (o *operands) rest() []*ir.Value {
	var values []*ir.Value
	for o.next < len(o.inst.Operands) {
		values = append(values, o.value())
	}
	return values
}

func (o *operands) done() error {
	if o.err == nil && o.next < len(o.inst.Operands) {
		o.fail(errors.ErrorParse, "%s: too many operands", o.inst.Opcode)
	}
	return o.err
}

// instruction builds the ir instruction for a parsed one. Result values were
// created and typed beforehand.
func (c *converter) instruction(inst *Inst) (ir.Instruction, error) {
	results := make([]*ir.Value, len(inst.Results))
	for i, r := range inst.Results {
		results[i] = c.values[entityNumber(r, "v")]
	}
	ops := &operands{c: c, inst: inst}

	var built ir.Instruction
	switch ir.Opcode(inst.Opcode) {
	case ir.OpGlobalValue:
		built = &ir.GlobalValueInstruction{Result: results[0], GlobalValue: ops.global()}
	case ir.OpHeapAddr:
		built = &ir.HeapAddrInstruction{Result: results[0], Heap: ops.heap(), Index: ops.value(), Offset: ops.uimm(), Size: ops.uimm()}
	case ir.OpIconst:
		built = &ir.IconstInstruction{Result: results[0], Imm: ops.imm()}
	case ir.OpIadd:
		built = &ir.IaddInstruction{Result: results[0], X: ops.value(), Y: ops.value()}
	case ir.OpIaddImm:
		built = &ir.IaddImmInstruction{Result: results[0], Arg: ops.value(), Imm: ops.imm()}
	case ir.OpUextend:
		built = &ir.UextendInstruction{Result: results[0], Arg: ops.value()}
	case ir.OpIcmp:
		built = &ir.IcmpInstruction{Result: results[0], Cond: ops.cond(), X: ops.value(), Y: ops.value()}
	case ir.OpIcmpImm:
		built = &ir.IcmpImmInstruction{Result: results[0], Cond: ops.cond(), Arg: ops.value(), Imm: ops.imm()}
	case ir.OpLoad:
		addr, off := ops.address()
		built = &ir.LoadInstruction{Result: results[0], Addr: addr, Offset: off}
	case ir.OpStore:
		value := ops.value()
		addr, off := ops.address()
		built = &ir.StoreInstruction{Value: value, Addr: addr, Offset: off}
	case ir.OpIconcat:
		built = &ir.IconcatInstruction{Result: results[0], Lo: ops.value(), Hi: ops.value()}
	case ir.OpIsplit:
		built = &ir.IsplitInstruction{Lo: results[0], Hi: results[1], Arg: ops.value()}
	case ir.OpJump:
		built = &ir.JumpTerminator{Dest: ops.block()}
	case ir.OpBrif:
		built = &ir.BranchTerminator{Cond: ops.value(), Then: ops.block(), Else: ops.block()}
	case ir.OpReturn:
		built = &ir.ReturnTerminator{Values: ops.rest()}
	case ir.OpTrap:
		built = &ir.TrapTerminator{Code: ir.TrapCode(ops.ident())}
	default:
		return nil, c.errorf(inst.Pos, errors.ErrorParse, "unknown opcode %q", inst.Opcode)
	}
	if err := ops.done(); err != nil {
		return nil, err
	}
	if inst.Type != "" {
		if _, ok := ir.ParseType(inst.Type); !ok {
			return nil, c.errorf(inst.Pos, errors.ErrorParse, "unknown type %q", inst.Type)
		}
	}
	return built, nil
}
