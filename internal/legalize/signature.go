package legalize

import (
	"fmt"

	"github.com/samber/lo"
	"legalizer/internal/errors"
	"legalizer/internal/ir"
	"legalizer/internal/isa"
)

// badParam identifies a signature entry the target cannot place
type badParam struct {
	what  string // "param" or "return"
	index int
	typ   ir.Type
}

// sigPlan is the result of legalizing one signature: the new signature and,
// for every original entry, the number of register-width parts it became.
type sigPlan struct {
	sig         *ir.Signature
	paramParts  []int
	returnParts []int
}

func (p *sigPlan) splits() bool {
	return lo.SomeBy(p.paramParts, func(n int) bool { return n > 1 }) ||
		lo.SomeBy(p.returnParts, func(n int) bool { return n > 1 })
}

// partsOf returns the ABI parts a value of type typ is passed as
func partsOf(typ ir.Type, target *isa.TargetISA) ([]ir.Type, bool) {
	switch {
	case typ.IsInt():
		if typ.Bits() <= target.RegisterBits {
			return []ir.Type{typ}, true
		}
		reg := target.RegisterType()
		return lo.Times(typ.Bits()/target.RegisterBits, func(int) ir.Type { return reg }), true
	case typ.IsFloat():
		return []ir.Type{typ}, target.FloatABI
	}
	return nil, false
}

// locator hands out locations from one register window and one stack area
type locator struct {
	target    *isa.TargetISA
	regs      []string
	floatRegs []string
	nextReg   int
	nextFloat int
	offset    int64
}

func newLocator(target *isa.TargetISA, regs, floatRegs []string) *locator {
	return &locator{target: target, regs: regs, floatRegs: floatRegs}
}

func (l *locator) next(typ ir.Type) ir.ArgLoc {
	if typ.IsFloat() {
		if l.nextFloat < len(l.floatRegs) {
			l.nextFloat++
			return ir.RegLoc(l.floatRegs[l.nextFloat-1])
		}
	} else if l.nextReg < len(l.regs) {
		l.nextReg++
		return ir.RegLoc(l.regs[l.nextReg-1])
	}
	return l.spill(typ)
}

// spill assigns the next stack slot. Slots are aligned to the part size,
// capped by the stack alignment, and advance by whole slot granules.
func (l *locator) spill(typ ir.Type) ir.ArgLoc {
	size := int64(typ.Bytes())
	l.offset = alignTo(l.offset, min(size, l.target.StackAlign))
	loc := ir.StackLoc(l.offset)
	l.offset += alignTo(size, l.target.SlotSize)
	return loc
}

func (l *locator) stackSize() int64 {
	return alignTo(l.offset, l.target.StackAlign)
}

func alignTo(n, align int64) int64 {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}

// legalizeSignature assigns a location to every argument and return value.
// Arguments and returns use independent register windows and stack cursors.
func legalizeSignature(sig *ir.Signature, target *isa.TargetISA) (*sigPlan, *badParam) {
	plan := &sigPlan{sig: &ir.Signature{}}

	args := newLocator(target, target.ArgRegs, target.FloatArgRegs)
	for i, param := range sig.Params {
		if param.Purpose == ir.PurposeVMContext {
			if param.Type != target.PointerType() {
				return nil, &badParam{what: "param", index: i, typ: param.Type}
			}
			loc := ir.RegLoc(target.VMContextReg)
			if target.VMContextReg == "" {
				loc = args.next(param.Type)
			}
			plan.sig.Params = append(plan.sig.Params, ir.AbiParam{Type: param.Type, Purpose: param.Purpose, Loc: loc})
			plan.paramParts = append(plan.paramParts, 1)
			continue
		}
		parts, ok := partsOf(param.Type, target)
		if !ok {
			return nil, &badParam{what: "param", index: i, typ: param.Type}
		}
		for _, part := range parts {
			plan.sig.Params = append(plan.sig.Params, ir.AbiParam{Type: part, Purpose: param.Purpose, Loc: args.next(part)})
		}
		plan.paramParts = append(plan.paramParts, len(parts))
	}
	plan.sig.ArgStackSize = args.stackSize()

	rets := newLocator(target, target.RetRegs, target.FloatRetRegs)
	for i, ret := range sig.Returns {
		parts, ok := partsOf(ret.Type, target)
		if !ok {
			return nil, &badParam{what: "return", index: i, typ: ret.Type}
		}
		for _, part := range parts {
			plan.sig.Returns = append(plan.sig.Returns, ir.AbiParam{Type: part, Purpose: ret.Purpose, Loc: rets.next(part)})
		}
		plan.returnParts = append(plan.returnParts, len(parts))
	}
	plan.sig.RetStackSize = rets.stackSize()

	return plan, nil
}

// LegalizeSignature returns a copy of sig with every argument and return
// value assigned a register or stack slot on target. Integers wider than a
// register are split into register-width parts, low part first.
func LegalizeSignature(sig *ir.Signature, target *isa.TargetISA) (*ir.Signature, error) {
	if sig.IsLegalized() {
		return sig.Clone(), nil
	}
	plan, bad := legalizeSignature(sig, target)
	if bad != nil {
		return nil, fmt.Errorf("malformed signature: %s %d has type %s, which target %s cannot pass",
			bad.what, bad.index, bad.typ, target.Name)
	}
	return plan.sig, nil
}

// signatureLegalizer rewrites a function's own signature, its entry block
// parameters and returns, and every declared signature.
type signatureLegalizer struct {
	fn       *ir.Function
	target   *isa.TargetISA
	plan     *sigPlan   // nil when the function signature is already legal
	declared []*sigPlan // nil entries are already legal
}

func newSignatureLegalizer(fn *ir.Function, target *isa.TargetISA) *signatureLegalizer {
	return &signatureLegalizer{fn: fn, target: target}
}

// check computes every plan without touching the function
func (s *signatureLegalizer) check() error {
	fn := s.fn
	if !fn.Signature.IsLegalized() {
		plan, bad := legalizeSignature(fn.Signature, s.target)
		if bad != nil {
			return errors.MalformedSignature(fn, bad.what, bad.index, bad.typ, s.target.Name)
		}
		if err := s.checkBody(plan); err != nil {
			return err
		}
		s.plan = plan
	}

	s.declared = make([]*sigPlan, len(fn.Signatures))
	for i, sig := range fn.Signatures {
		if sig.IsLegalized() {
			continue
		}
		plan, bad := legalizeSignature(sig, s.target)
		if bad != nil {
			return errors.NewLegalizeError(errors.ErrorMalformedSignature, fn.Name,
				fmt.Sprintf("malformed signature: %s: %s %d has type %s, which target %s cannot pass",
					ir.SigRef(i), bad.what, bad.index, bad.typ, s.target.Name)).
				WithPosition(fn.Pos).
				WithEntities(ir.SigRef(i).String()).
				Build()
		}
		s.declared[i] = plan
	}
	return nil
}

// checkBody makes sure the entry block and returns agree with the signature
// so that splitting values can be done without failing halfway.
func (s *signatureLegalizer) checkBody(plan *sigPlan) error {
	fn := s.fn
	entry := fn.Entry()
	if entry == nil {
		return nil
	}
	malformed := func(format string, args ...interface{}) error {
		return errors.NewLegalizeError(errors.ErrorMalformedSignature, fn.Name,
			"malformed signature: "+fmt.Sprintf(format, args...)).
			WithPosition(fn.Pos).
			WithNote(fmt.Sprintf("signature: %s", fn.Signature)).
			Build()
	}

	if len(entry.Params) != len(fn.Signature.Params) {
		return malformed("%s has %d parameters, signature declares %d",
			entry.Label(), len(entry.Params), len(fn.Signature.Params))
	}
	for i, param := range entry.Params {
		if param.Type != fn.Signature.Params[i].Type {
			return malformed("%s parameter %s is %s, signature declares %s",
				entry.Label(), param, param.Type, fn.Signature.Params[i].Type)
		}
	}
	if !plan.splits() {
		return nil
	}
	if len(fn.Predecessors()[entry]) > 0 {
		return malformed("%s has predecessors, so its parameters cannot be split", entry.Label())
	}
	for _, block := range fn.Blocks {
		ret, ok := block.Terminator.(*ir.ReturnTerminator)
		if !ok {
			continue
		}
		if len(ret.Values) != len(fn.Signature.Returns) {
			return malformed("%s returns %d values, signature declares %d",
				block.Label(), len(ret.Values), len(fn.Signature.Returns))
		}
		for i, v := range ret.Values {
			if v.Type != fn.Signature.Returns[i].Type {
				return malformed("%s returns %s as %s, signature declares %s",
					block.Label(), v, v.Type, fn.Signature.Returns[i].Type)
			}
		}
	}
	return nil
}

// apply installs the checked plans. check must have succeeded.
func (s *signatureLegalizer) apply() bool {
	changed := false
	for i, plan := range s.declared {
		if plan != nil {
			s.fn.Signatures[i] = plan.sig
			changed = true
		}
	}
	if s.plan == nil {
		return changed
	}

	if s.plan.splits() && s.fn.Entry() != nil {
		s.splitParams()
		s.splitReturns()
	}
	s.fn.Signature = s.plan.sig
	sigLog.Debugf("%%%s: signature %s", s.fn.Name, s.fn.Signature)
	return true
}

// splitParams replaces each split entry parameter by its parts and rebuilds
// the original value with iconcat at the top of the entry block. The original
// value keeps its number and becomes the result of the last iconcat.
func (s *signatureLegalizer) splitParams() {
	entry := s.fn.Entry()
	cur := ir.NewCursor(s.fn).AtIndex(entry, 0)

	var params []*ir.Value
	for i, old := range entry.Params {
		n := s.plan.paramParts[i]
		if n == 1 {
			params = append(params, old)
			continue
		}
		partType := s.target.RegisterType()
		parts := lo.Times(n, func(int) *ir.Value { return s.fn.AppendBlockParam(entry, partType) })
		params = append(params, parts...)
		s.concat(cur, parts, old)
	}
	entry.Params = params
}

// concat combines parts pairwise, low half first, until one value remains.
// The final combination defines result.
func (s *signatureLegalizer) concat(cur *ir.Cursor, parts []*ir.Value, result *ir.Value) {
	for len(parts) > 2 {
		wide, _ := ir.IntType(parts[0].Type.Bits() * 2)
		next := make([]*ir.Value, 0, len(parts)/2)
		for i := 0; i < len(parts); i += 2 {
			next = append(next, cur.Iconcat(wide, parts[i], parts[i+1]))
		}
		parts = next
	}
	cur.Insert(&ir.IconcatInstruction{Result: result, Lo: parts[0], Hi: parts[1]})
}

// splitReturns splits wide return values with isplit right before each return
func (s *signatureLegalizer) splitReturns() {
	for _, block := range s.fn.Blocks {
		ret, ok := block.Terminator.(*ir.ReturnTerminator)
		if !ok {
			continue
		}
		cur := ir.NewCursor(s.fn).AtBottom(block)
		var values []*ir.Value
		for i, v := range ret.Values {
			if s.plan.returnParts[i] == 1 {
				values = append(values, v)
				continue
			}
			values = append(values, s.split(cur, v, s.target.RegisterBits)...)
		}
		ret.Values = values
	}
}

func (s *signatureLegalizer) split(cur *ir.Cursor, v *ir.Value, partBits int) []*ir.Value {
	if v.Type.Bits() <= partBits {
		return []*ir.Value{v}
	}
	half, _ := ir.IntType(v.Type.Bits() / 2)
	low, high := cur.Isplit(half, v)
	return append(s.split(cur, low, partBits), s.split(cur, high, partBits)...)
}
