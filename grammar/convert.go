package grammar

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2/lexer"
	"legalizer/internal/errors"
	"legalizer/internal/ir"
)

func position(pos lexer.Position) ir.Position {
	return ir.Position{Filename: pos.Filename, Line: pos.Line, Column: pos.Column}
}

func parseInt(s string) (int64, error) {
	return strconv.ParseInt(s, 0, 64)
}

func parseUint(s string) (uint64, error) {
	return strconv.ParseUint(strings.TrimPrefix(s, "+"), 0, 64)
}

// entityNumber extracts N from a reference such as "gvN". The lexer has
// already rejected numbers that do not fit, see checkEntityRef.
func entityNumber(ref, prefix string) int {
	n, _ := strconv.Atoi(strings.TrimPrefix(ref, prefix))
	return n
}

// converter builds one ir.Function from its parse tree
type converter struct {
	fn     *ir.Function
	values map[int]*ir.Value
	blocks map[int]*ir.BasicBlock
}

func (c *converter) errorf(pos lexer.Position, code, format string, args ...interface{}) error {
	return &errors.ParseError{
		Code:     code,
		Message:  fmt.Sprintf("%%%s: %s", c.fn.Name, fmt.Sprintf(format, args...)),
		Position: position(pos),
	}
}

func convertFunction(f *Function) (*ir.Function, error) {
	c := &converter{
		values: make(map[int]*ir.Value),
		blocks: make(map[int]*ir.BasicBlock),
	}
	c.fn = ir.NewFunction(strings.TrimPrefix(f.Name, "%"), nil)
	c.fn.Pos = position(f.Pos)

	sig, err := c.signature(f.Pos, f.Signature)
	if err != nil {
		return nil, err
	}
	c.fn.Signature = sig

	for _, d := range f.Decls {
		if err := c.decl(d); err != nil {
			return nil, err
		}
	}

	// Blocks and values are created up front so that uses may precede
	// definitions in the layout.
	for _, b := range f.Blocks {
		if err := c.declareBlock(b); err != nil {
			return nil, err
		}
	}
	for _, b := range f.Blocks {
		for _, inst := range b.Insts {
			if err := c.declareResults(inst); err != nil {
				return nil, err
			}
		}
	}
	if err := c.inferTypes(f); err != nil {
		return nil, err
	}
	for _, b := range f.Blocks {
		if err := c.fillBlock(b); err != nil {
			return nil, err
		}
	}

	// Global value and heap references are range-checked by the legalizer,
	// so functions with dangling ones can still be read and printed.
	if err := ir.Verify(c.fn); err != nil {
		msg := err.Error()
		if ve, ok := err.(*ir.VerifyError); ok {
			msg = ve.Message
			if ve.Block != "" {
				msg = ve.Block + ": " + msg
			}
		}
		return nil, c.errorf(f.Pos, errors.ErrorUndefinedReference, "%s", msg)
	}
	return c.fn, nil
}

func (c *converter) signature(pos lexer.Position, s *Signature) (*ir.Signature, error) {
	sig := &ir.Signature{}
	convert := func(p *Param) (ir.AbiParam, error) {
		typ, ok := ir.ParseType(p.Type)
		if !ok {
			return ir.AbiParam{}, c.errorf(pos, errors.ErrorParse, "unknown type %q", p.Type)
		}
		param := ir.AbiParam{Type: typ, Purpose: ir.ArgPurpose(p.Purpose)}
		if p.Loc != nil {
			if p.Loc.Offset != nil {
				off, err := parseInt(*p.Loc.Offset)
				if err != nil {
					return ir.AbiParam{}, c.errorf(pos, errors.ErrorParse, "bad stack offset %q", *p.Loc.Offset)
				}
				param.Loc = ir.StackLoc(off)
			} else {
				param.Loc = ir.RegLoc(strings.TrimPrefix(p.Loc.Reg, "%"))
			}
		}
		return param, nil
	}
	for _, p := range s.Params {
		param, err := convert(p)
		if err != nil {
			return nil, err
		}
		sig.Params = append(sig.Params, param)
	}
	for _, p := range s.Returns {
		param, err := convert(p)
		if err != nil {
			return nil, err
		}
		sig.Returns = append(sig.Returns, param)
	}
	return sig, nil
}

// decl adds a declaration. Entities of each kind must be numbered in
// declaration order starting at zero, as the printer writes them.
func (c *converter) decl(d *Decl) error {
	fn := c.fn
	switch {
	case d.Signature != nil:
		if n := entityNumber(d.Signature.Ref, "sig"); n != len(fn.Signatures) {
			return c.errorf(d.Pos, errors.ErrorParse, "%s declared out of order, expected sig%d", d.Signature.Ref, len(fn.Signatures))
		}
		sig, err := c.signature(d.Pos, d.Signature.Signature)
		if err != nil {
			return err
		}
		fn.DeclareSignature(sig)

	case d.Global != nil:
		g := d.Global
		if n := entityNumber(g.Ref, "gv"); n != len(fn.Globals) {
			return c.errorf(d.Pos, errors.ErrorParse, "%s declared out of order, expected gv%d", g.Ref, len(fn.Globals))
		}
		data := ir.GlobalValueData{Kind: ir.GlobalVMContext}
		if !g.Base.VMContext {
			data.Kind = ir.GlobalDeref
			data.Base = ir.GlobalValue(entityNumber(g.Base.Deref, "gv"))
		}
		if g.Offset != nil {
			off, err := parseInt(*g.Offset)
			if err != nil {
				return c.errorf(d.Pos, errors.ErrorParse, "bad offset %q", *g.Offset)
			}
			data.Offset = off
		}
		fn.DeclareGlobalValue(data)

	case d.Heap != nil:
		h := d.Heap
		if n := entityNumber(h.Ref, "heap"); n != len(fn.Heaps) {
			return c.errorf(d.Pos, errors.ErrorParse, "%s declared out of order, expected heap%d", h.Ref, len(fn.Heaps))
		}
		data := ir.HeapData{
			Base:    ir.GlobalValue(entityNumber(h.Base, "gv")),
			Style:   ir.HeapStyle(h.Style),
			BoundGV: ir.NoGlobalValue,
		}
		var err error
		if data.MinSize, err = parseUint(h.MinSize); err != nil {
			return c.errorf(d.Pos, errors.ErrorParse, "bad minimum size %q", h.MinSize)
		}
		if data.Guard, err = parseUint(h.Guard); err != nil {
			return c.errorf(d.Pos, errors.ErrorParse, "bad guard size %q", h.Guard)
		}
		if h.Bound.Imm != nil {
			if data.Bound, err = parseUint(*h.Bound.Imm); err != nil {
				return c.errorf(d.Pos, errors.ErrorParse, "bad bound %q", *h.Bound.Imm)
			}
		} else {
			data.BoundGV = ir.GlobalValue(entityNumber(h.Bound.Global, "gv"))
		}
		fn.DeclareHeap(data)
	}
	return nil
}

func (c *converter) declareBlock(b *Block) error {
	id := entityNumber(b.Ref, "block")
	if _, dup := c.blocks[id]; dup {
		return c.errorf(b.Pos, errors.ErrorParse, "%s defined twice", b.Ref)
	}
	block := c.fn.NewBlockWithID(id)
	c.blocks[id] = block
	for _, p := range b.Params {
		typ, ok := ir.ParseType(p.Type)
		if !ok {
			return c.errorf(b.Pos, errors.ErrorParse, "unknown type %q for %s", p.Type, p.Value)
		}
		v, err := c.define(b.Pos, p.Value, typ)
		if err != nil {
			return err
		}
		v.Block = block
		block.Params = append(block.Params, v)
	}
	return nil
}

func (c *converter) define(pos lexer.Position, ref string, typ ir.Type) (*ir.Value, error) {
	id := entityNumber(ref, "v")
	if _, dup := c.values[id]; dup {
		return nil, c.errorf(pos, errors.ErrorParse, "%s defined twice", ref)
	}
	v := c.fn.NewValueWithID(id, typ)
	c.values[id] = v
	return v, nil
}

// resultCount is the number of values each opcode defines
var resultCount = map[ir.Opcode]int{
	ir.OpGlobalValue: 1,
	ir.OpHeapAddr:    1,
	ir.OpIconst:      1,
	ir.OpIadd:        1,
	ir.OpIaddImm:     1,
	ir.OpUextend:     1,
	ir.OpIcmp:        1,
	ir.OpIcmpImm:     1,
	ir.OpLoad:        1,
	ir.OpStore:       0,
	ir.OpIconcat:     1,
	ir.OpIsplit:      2,
	ir.OpJump:        0,
	ir.OpBrif:        0,
	ir.OpReturn:      0,
	ir.OpTrap:        0,
}

func (c *converter) declareResults(inst *Inst) error {
	want, ok := resultCount[ir.Opcode(inst.Opcode)]
	if !ok {
		return c.errorf(inst.Pos, errors.ErrorParse, "unknown opcode %q", inst.Opcode)
	}
	if len(inst.Results) != want {
		return c.errorf(inst.Pos, errors.ErrorParse, "%s defines %d values, got %d", inst.Opcode, want, len(inst.Results))
	}
	for _, r := range inst.Results {
		if _, err := c.define(inst.Pos, r, ir.InvalidType); err != nil {
			return err
		}
	}
	return nil
}

// inferTypes assigns a type to every instruction result. Explicit type
// suffixes win; otherwise the type follows from the operands, which may
// themselves only be known after another round.
func (c *converter) inferTypes(f *Function) error {
	var insts []*Inst
	for _, b := range f.Blocks {
		insts = append(insts, b.Insts...)
	}

	for changed := true; changed; {
		changed = false
		for _, inst := range insts {
			if len(inst.Results) == 0 {
				continue
			}
			types := c.resultTypes(inst)
			for i, r := range inst.Results {
				v := c.values[entityNumber(r, "v")]
				if v.Type == ir.InvalidType && types[i] != ir.InvalidType {
					v.Type = types[i]
					changed = true
				}
			}
		}
	}

	for _, inst := range insts {
		for _, r := range inst.Results {
			if c.values[entityNumber(r, "v")].Type == ir.InvalidType {
				return c.errorf(inst.Pos, errors.ErrorParse, "cannot infer the type of %s", r)
			}
		}
	}
	return nil
}

// operandType returns the type of the i-th operand if it is a known value
func (c *converter) operandType(inst *Inst, i int) ir.Type {
	if i >= len(inst.Operands) || inst.Operands[i].Value == nil {
		return ir.InvalidType
	}
	v, ok := c.values[entityNumber(inst.Operands[i].Value.Ref, "v")]
	if !ok {
		return ir.InvalidType
	}
	return v.Type
}

func (c *converter) resultTypes(inst *Inst) []ir.Type {
	if inst.Type != "" {
		typ, _ := ir.ParseType(inst.Type)
		if ir.Opcode(inst.Opcode) == ir.OpIsplit {
			return []ir.Type{typ, typ}
		}
		return []ir.Type{typ}
	}
	switch ir.Opcode(inst.Opcode) {
	case ir.OpIadd, ir.OpIaddImm:
		return []ir.Type{c.operandType(inst, 0)}
	case ir.OpIcmp, ir.OpIcmpImm:
		return []ir.Type{ir.B1}
	case ir.OpIconcat:
		typ, _ := ir.IntType(c.operandType(inst, 0).Bits() * 2)
		return []ir.Type{typ}
	case ir.OpIsplit:
		typ, _ := ir.IntType(c.operandType(inst, 0).Bits() / 2)
		return []ir.Type{typ, typ}
	}
	return []ir.Type{ir.InvalidType}
}

func (c *converter) fillBlock(b *Block) error {
	block := c.blocks[entityNumber(b.Ref, "block")]
	cur := ir.NewCursor(c.fn).AtBottom(block)
	for i, inst := range b.Insts {
		if block.Terminator != nil {
			return c.errorf(inst.Pos, errors.ErrorParse, "%s follows the terminator of %s", inst.Opcode, b.Ref)
		}
		built, err := c.instruction(inst)
		if err != nil {
			return err
		}
		cur.Insert(built)
		if i == len(b.Insts)-1 && !built.IsTerminator() {
			return c.errorf(inst.Pos, errors.ErrorParse, "%s does not end with a terminator", b.Ref)
		}
	}
	if block.Terminator == nil {
		return c.errorf(b.Pos, errors.ErrorParse, "%s does not end with a terminator", b.Ref)
	}
	return nil
}
