package ir

import (
	"fmt"
	"slices"
)

// NewFunction creates an empty function with the given signature
func NewFunction(name string, sig *Signature) *Function {
	if sig == nil {
		sig = &Signature{}
	}
	return &Function{
		Name:      name,
		Signature: sig,
	}
}

// Entry returns the entry block, or nil for a function without a body
func (f *Function) Entry() *BasicBlock {
	if len(f.Blocks) == 0 {
		return nil
	}
	return f.Blocks[0]
}

// DeclareGlobalValue appends a global value to the function's table
func (f *Function) DeclareGlobalValue(data GlobalValueData) GlobalValue {
	f.Globals = append(f.Globals, data)
	return GlobalValue(len(f.Globals) - 1)
}

// DeclareHeap appends a heap to the function's table
func (f *Function) DeclareHeap(data HeapData) Heap {
	f.Heaps = append(f.Heaps, data)
	return Heap(len(f.Heaps) - 1)
}

// DeclareSignature appends a signature to the function's table
func (f *Function) DeclareSignature(sig *Signature) SigRef {
	f.Signatures = append(f.Signatures, sig)
	return SigRef(len(f.Signatures) - 1)
}

// CreateBlock creates a new block at the end of the layout
func (f *Function) CreateBlock() *BasicBlock {
	block := f.newBlock()
	f.Blocks = append(f.Blocks, block)
	return block
}

// CreateBlockAfter creates a new block placed right after `after` in the layout
func (f *Function) CreateBlockAfter(after *BasicBlock) *BasicBlock {
	block := f.newBlock()
	idx := f.BlockIndex(after)
	if idx < 0 {
		f.Blocks = append(f.Blocks, block)
		return block
	}
	f.Blocks = slices.Insert(f.Blocks, idx+1, block)
	return block
}

func (f *Function) newBlock() *BasicBlock {
	block := &BasicBlock{ID: f.blockCounter}
	f.blockCounter++
	return block
}

// BlockIndex returns the layout position of a block, -1 when absent
func (f *Function) BlockIndex(block *BasicBlock) int {
	return slices.Index(f.Blocks, block)
}

// AppendBlockParam adds a typed parameter to a block
func (f *Function) AppendBlockParam(block *BasicBlock, typ Type) *Value {
	v := f.createValue(typ)
	v.Block = block
	block.Params = append(block.Params, v)
	return v
}

// createValue creates a new SSA value with a unique number
func (f *Function) createValue(typ Type) *Value {
	v := &Value{ID: f.valueCounter, Type: typ}
	f.valueCounter++
	return v
}

func (f *Function) nextInstID() int {
	id := f.instCounter
	f.instCounter++
	return id
}

// ReserveNumbers makes sure freshly created values and blocks do not collide
// with numbers already taken by a reader that assigned them explicitly.
func (f *Function) ReserveNumbers(values, blocks int) {
	f.valueCounter = max(f.valueCounter, values)
	f.blockCounter = max(f.blockCounter, blocks)
}

// NewValueWithID creates a value with an explicit number. Used by IR readers.
func (f *Function) NewValueWithID(id int, typ Type) *Value {
	f.valueCounter = max(f.valueCounter, id+1)
	return &Value{ID: id, Type: typ}
}

// NewBlockWithID appends a block with an explicit number. Used by IR readers.
func (f *Function) NewBlockWithID(id int) *BasicBlock {
	f.blockCounter = max(f.blockCounter, id+1)
	block := &BasicBlock{ID: id}
	f.Blocks = append(f.Blocks, block)
	return block
}

// AttachResult records inst as the definition of v. Used by IR readers that
// create values before the instructions defining them.
func (f *Function) AttachResult(v *Value, inst Instruction) {
	v.Inst = inst
	v.Block = inst.GetBlock()
}

// RemoveInst unlinks a non-terminator instruction from its block
func (f *Function) RemoveInst(inst Instruction) {
	block := inst.GetBlock()
	if block == nil {
		return
	}
	if idx := slices.Index(block.Instructions, inst); idx >= 0 {
		block.Instructions = slices.Delete(block.Instructions, idx, idx+1)
	}
	inst.SetBlock(nil)
}

// ReplaceAllUses rewrites every use of old into a use of replacement
func (f *Function) ReplaceAllUses(old, replacement *Value) {
	remap := func(v *Value) *Value {
		if v == old {
			return replacement
		}
		return v
	}
	for _, block := range f.Blocks {
		for _, inst := range block.Instructions {
			inst.MapOperands(remap)
		}
		if block.Terminator != nil {
			block.Terminator.MapOperands(remap)
		}
	}
}

// SplitBlock moves the instructions of block starting at index `at`, together
// with its terminator and outgoing edges, into a new block laid out right
// after it. The original block is left without a terminator; the caller must
// give it one. Block parameters stay on the original block.
func (f *Function) SplitBlock(block *BasicBlock, at int) *BasicBlock {
	if at < 0 || at > len(block.Instructions) {
		panic(fmt.Sprintf("split point %d out of range for %s", at, block.Label()))
	}
	tail := f.CreateBlockAfter(block)
	tail.Instructions = append(tail.Instructions, block.Instructions[at:]...)
	block.Instructions = slices.Clip(block.Instructions[:at])
	for _, inst := range tail.Instructions {
		inst.SetBlock(tail)
		for _, r := range inst.GetResults() {
			r.Block = tail
		}
	}
	tail.Terminator = block.Terminator
	if tail.Terminator != nil {
		tail.Terminator.SetBlock(tail)
	}
	block.Terminator = nil
	return tail
}

// Successors returns the distinct successor blocks of block in branch order
func (f *Function) Successors(block *BasicBlock) []*BasicBlock {
	if block.Terminator == nil {
		return nil
	}
	var succs []*BasicBlock
	for _, call := range block.Terminator.GetSuccessors() {
		if !slices.Contains(succs, call.Block) {
			succs = append(succs, call.Block)
		}
	}
	return succs
}

// Predecessors computes the predecessor lists of every block
func (f *Function) Predecessors() map[*BasicBlock][]*BasicBlock {
	preds := make(map[*BasicBlock][]*BasicBlock, len(f.Blocks))
	for _, block := range f.Blocks {
		for _, succ := range f.Successors(block) {
			preds[succ] = append(preds[succ], block)
		}
	}
	return preds
}

// Cursor is an insertion point inside a block. New instructions are inserted
// before the instruction at the cursor position, so a cursor positioned at the
// end of a block appends.
type Cursor struct {
	Func  *Function
	block *BasicBlock
	pos   int
}

// NewCursor creates a cursor that is not yet positioned
func NewCursor(fn *Function) *Cursor {
	return &Cursor{Func: fn}
}

// AtBottom positions the cursor at the end of block
func (c *Cursor) AtBottom(block *BasicBlock) *Cursor {
	c.block = block
	c.pos = len(block.Instructions)
	return c
}

// AtInst positions the cursor right before inst
func (c *Cursor) AtInst(inst Instruction) *Cursor {
	c.block = inst.GetBlock()
	c.pos = slices.Index(c.block.Instructions, inst)
	if c.pos < 0 {
		panic(fmt.Sprintf("instruction %q is not in %s", inst, c.block.Label()))
	}
	return c
}

// AtIndex positions the cursor before the instruction at index pos of block
func (c *Cursor) AtIndex(block *BasicBlock, pos int) *Cursor {
	c.block = block
	c.pos = pos
	return c
}

func (c *Cursor) Block() *BasicBlock { return c.block }
func (c *Cursor) Position() int      { return c.pos }

// Current returns the instruction at the cursor, nil at the end of the block
func (c *Cursor) Current() Instruction {
	if c.block == nil || c.pos >= len(c.block.Instructions) {
		return nil
	}
	return c.block.Instructions[c.pos]
}

// Next moves the cursor past the current instruction
func (c *Cursor) Next() {
	c.pos++
}

// Remove unlinks the instruction at the cursor. The cursor is left on the
// instruction that followed it.
func (c *Cursor) Remove() Instruction {
	inst := c.Current()
	if inst == nil {
		return nil
	}
	c.block.Instructions = slices.Delete(c.block.Instructions, c.pos, c.pos+1)
	inst.SetBlock(nil)
	return inst
}

func (c *Cursor) insert(inst Instruction) {
	inst.SetBlock(c.block)
	c.block.Instructions = slices.Insert(c.block.Instructions, c.pos, inst)
	c.pos++
	for _, r := range inst.GetResults() {
		r.Block = c.block
		r.Inst = inst
	}
}

// Insert places an instruction built by the caller at the cursor. Terminators
// replace the block's terminator.
func (c *Cursor) Insert(inst Instruction) {
	inst.(interface{ setID(int) }).setID(c.Func.nextInstID())
	if term, ok := inst.(Terminator); ok {
		c.setTerminator(term)
		return
	}
	c.insert(inst)
}

func (c *Cursor) base() instBase {
	return instBase{ID: c.Func.nextInstID()}
}

func (c *Cursor) result(typ Type) *Value {
	return c.Func.createValue(typ)
}

func (c *Cursor) GlobalValue(typ Type, gv GlobalValue) *Value {
	inst := &GlobalValueInstruction{instBase: c.base(), Result: c.result(typ), GlobalValue: gv}
	c.insert(inst)
	return inst.Result
}

func (c *Cursor) HeapAddr(typ Type, heap Heap, index *Value, offset, size uint64) *Value {
	inst := &HeapAddrInstruction{instBase: c.base(), Result: c.result(typ), Heap: heap, Index: index, Offset: offset, Size: size}
	c.insert(inst)
	return inst.Result
}

func (c *Cursor) Iconst(typ Type, imm int64) *Value {
	inst := &IconstInstruction{instBase: c.base(), Result: c.result(typ), Imm: imm}
	c.insert(inst)
	return inst.Result
}

func (c *Cursor) Iadd(x, y *Value) *Value {
	inst := &IaddInstruction{instBase: c.base(), Result: c.result(x.Type), X: x, Y: y}
	c.insert(inst)
	return inst.Result
}

func (c *Cursor) IaddImm(arg *Value, imm int64) *Value {
	inst := &IaddImmInstruction{instBase: c.base(), Result: c.result(arg.Type), Arg: arg, Imm: imm}
	c.insert(inst)
	return inst.Result
}

func (c *Cursor) Uextend(typ Type, arg *Value) *Value {
	inst := &UextendInstruction{instBase: c.base(), Result: c.result(typ), Arg: arg}
	c.insert(inst)
	return inst.Result
}

func (c *Cursor) Icmp(cond IntCC, x, y *Value) *Value {
	inst := &IcmpInstruction{instBase: c.base(), Result: c.result(B1), Cond: cond, X: x, Y: y}
	c.insert(inst)
	return inst.Result
}

func (c *Cursor) IcmpImm(cond IntCC, arg *Value, imm int64) *Value {
	inst := &IcmpImmInstruction{instBase: c.base(), Result: c.result(B1), Cond: cond, Arg: arg, Imm: imm}
	c.insert(inst)
	return inst.Result
}

func (c *Cursor) Load(typ Type, addr *Value, offset int32) *Value {
	inst := &LoadInstruction{instBase: c.base(), Result: c.result(typ), Addr: addr, Offset: offset}
	c.insert(inst)
	return inst.Result
}

func (c *Cursor) Store(value, addr *Value, offset int32) {
	c.insert(&StoreInstruction{instBase: c.base(), Value: value, Addr: addr, Offset: offset})
}

func (c *Cursor) Iconcat(typ Type, lo, hi *Value) *Value {
	inst := &IconcatInstruction{instBase: c.base(), Result: c.result(typ), Lo: lo, Hi: hi}
	c.insert(inst)
	return inst.Result
}

func (c *Cursor) Isplit(half Type, arg *Value) (*Value, *Value) {
	inst := &IsplitInstruction{instBase: c.base(), Lo: c.result(half), Hi: c.result(half), Arg: arg}
	c.insert(inst)
	return inst.Lo, inst.Hi
}

// Terminators are attached to the cursor's block rather than inserted

func (c *Cursor) setTerminator(term Terminator) {
	term.SetBlock(c.block)
	c.block.Terminator = term
}

func (c *Cursor) Jump(dest *BasicBlock, args ...*Value) {
	c.setTerminator(&JumpTerminator{instBase: c.base(), Dest: BlockCall{Block: dest, Args: args}})
}

func (c *Cursor) Brif(cond *Value, then *BasicBlock, thenArgs []*Value, els *BasicBlock, elseArgs []*Value) {
	c.setTerminator(&BranchTerminator{
		instBase: c.base(),
		Cond:     cond,
		Then:     BlockCall{Block: then, Args: thenArgs},
		Else:     BlockCall{Block: els, Args: elseArgs},
	})
}

func (c *Cursor) Return(values ...*Value) {
	c.setTerminator(&ReturnTerminator{instBase: c.base(), Values: values})
}

func (c *Cursor) Trap(code TrapCode) {
	c.setTerminator(&TrapTerminator{instBase: c.base(), Code: code})
}
