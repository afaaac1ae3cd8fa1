package ir

import (
	"fmt"
	"strings"
)

// Opcode names an instruction kind
type Opcode string

const (
	// Abstract operations, rewritten by the legalizer
	OpGlobalValue Opcode = "global_value"
	OpHeapAddr    Opcode = "heap_addr"

	OpIconst  Opcode = "iconst"
	OpIadd    Opcode = "iadd"
	OpIaddImm Opcode = "iadd_imm"
	OpUextend Opcode = "uextend"
	OpIcmp    Opcode = "icmp"
	OpIcmpImm Opcode = "icmp_imm"
	OpLoad    Opcode = "load"
	OpStore   Opcode = "store"
	OpIconcat Opcode = "iconcat"
	OpIsplit  Opcode = "isplit"

	OpJump   Opcode = "jump"
	OpBrif   Opcode = "brif"
	OpReturn Opcode = "return"
	OpTrap   Opcode = "trap"
)

// IsLegal reports whether the opcode is realizable by a target without further rewriting
func (op Opcode) IsLegal() bool {
	return op != OpGlobalValue && op != OpHeapAddr
}

type Instruction interface {
	GetID() int
	Opcode() Opcode
	GetResults() []*Value
	GetOperands() []*Value
	GetBlock() *BasicBlock
	SetBlock(block *BasicBlock)
	IsTerminator() bool
	// MapOperands replaces every operand v with f(v)
	MapOperands(f func(*Value) *Value)
	String() string
}

// Terminators end basic blocks
type Terminator interface {
	Instruction
	GetSuccessors() []*BlockCall
}

// BlockCall is a control-flow edge: a destination block and the arguments
// bound to its parameters.
type BlockCall struct {
	Block *BasicBlock
	Args  []*Value
}

func (c *BlockCall) String() string {
	if len(c.Args) == 0 {
		return c.Block.Label()
	}
	return fmt.Sprintf("%s(%s)", c.Block.Label(), joinValues(c.Args))
}

type instBase struct {
	ID    int
	Block *BasicBlock
}

func (b *instBase) GetID() int                 { return b.ID }
func (b *instBase) GetBlock() *BasicBlock      { return b.Block }
func (b *instBase) SetBlock(block *BasicBlock) { b.Block = block }
func (b *instBase) setID(id int)               { b.ID = id }

// Abstract instructions

// GlobalValueInstruction materializes the address described by a global value
type GlobalValueInstruction struct {
	instBase
	Result      *Value
	GlobalValue GlobalValue
}

// HeapAddrInstruction computes the address of a bounds-checked heap access.
// Offset and Size describe the access the result is used for; the static
// offset itself stays on the memory instruction.
type HeapAddrInstruction struct {
	instBase
	Result *Value
	Heap   Heap
	Index  *Value
	Offset uint64
	Size   uint64
}

// Concrete instructions

type IconstInstruction struct {
	instBase
	Result *Value
	Imm    int64
}

type IaddInstruction struct {
	instBase
	Result *Value
	X, Y   *Value
}

type IaddImmInstruction struct {
	instBase
	Result *Value
	Arg    *Value
	Imm    int64
}

// UextendInstruction zero-extends Arg to the type of Result
type UextendInstruction struct {
	instBase
	Result *Value
	Arg    *Value
}

type IcmpInstruction struct {
	instBase
	Result *Value
	Cond   IntCC
	X, Y   *Value
}

type IcmpImmInstruction struct {
	instBase
	Result *Value
	Cond   IntCC
	Arg    *Value
	Imm    int64
}

type LoadInstruction struct {
	instBase
	Result *Value
	Addr   *Value
	Offset int32
}

type StoreInstruction struct {
	instBase
	Value  *Value
	Addr   *Value
	Offset int32
}

// IconcatInstruction joins two register-width halves, low half first
type IconcatInstruction struct {
	instBase
	Result *Value
	Lo, Hi *Value
}

// IsplitInstruction splits a value into two halves
type IsplitInstruction struct {
	instBase
	Lo, Hi *Value
	Arg    *Value
}

// Terminators

type JumpTerminator struct {
	instBase
	Dest BlockCall
}

// BranchTerminator transfers control to Then when Cond is non-zero, Else otherwise
type BranchTerminator struct {
	instBase
	Cond *Value
	Then BlockCall
	Else BlockCall
}

type ReturnTerminator struct {
	instBase
	Values []*Value
}

type TrapTerminator struct {
	instBase
	Code TrapCode
}

// Implementation of interfaces

func (i *GlobalValueInstruction) Opcode() Opcode                  { return OpGlobalValue }
func (i *GlobalValueInstruction) GetResults() []*Value            { return []*Value{i.Result} }
func (i *GlobalValueInstruction) GetOperands() []*Value           { return nil }
func (i *GlobalValueInstruction) IsTerminator() bool              { return false }
func (i *GlobalValueInstruction) MapOperands(func(*Value) *Value) {}
func (i *GlobalValueInstruction) String() string {
	return fmt.Sprintf("%s = global_value.%s %s", i.Result, i.Result.Type, i.GlobalValue)
}

func (i *HeapAddrInstruction) Opcode() Opcode        { return OpHeapAddr }
func (i *HeapAddrInstruction) GetResults() []*Value  { return []*Value{i.Result} }
func (i *HeapAddrInstruction) GetOperands() []*Value { return []*Value{i.Index} }
func (i *HeapAddrInstruction) IsTerminator() bool    { return false }
func (i *HeapAddrInstruction) MapOperands(f func(*Value) *Value) {
	i.Index = f(i.Index)
}
func (i *HeapAddrInstruction) String() string {
	return fmt.Sprintf("%s = heap_addr.%s %s, %s, %d, %d", i.Result, i.Result.Type, i.Heap, i.Index, i.Offset, i.Size)
}

func (i *IconstInstruction) Opcode() Opcode                  { return OpIconst }
func (i *IconstInstruction) GetResults() []*Value            { return []*Value{i.Result} }
func (i *IconstInstruction) GetOperands() []*Value           { return nil }
func (i *IconstInstruction) IsTerminator() bool              { return false }
func (i *IconstInstruction) MapOperands(func(*Value) *Value) {}
func (i *IconstInstruction) String() string {
	return fmt.Sprintf("%s = iconst.%s %d", i.Result, i.Result.Type, i.Imm)
}

func (i *IaddInstruction) Opcode() Opcode        { return OpIadd }
func (i *IaddInstruction) GetResults() []*Value  { return []*Value{i.Result} }
func (i *IaddInstruction) GetOperands() []*Value { return []*Value{i.X, i.Y} }
func (i *IaddInstruction) IsTerminator() bool    { return false }
func (i *IaddInstruction) MapOperands(f func(*Value) *Value) {
	i.X, i.Y = f(i.X), f(i.Y)
}
func (i *IaddInstruction) String() string {
	return fmt.Sprintf("%s = iadd %s, %s", i.Result, i.X, i.Y)
}

func (i *IaddImmInstruction) Opcode() Opcode        { return OpIaddImm }
func (i *IaddImmInstruction) GetResults() []*Value  { return []*Value{i.Result} }
func (i *IaddImmInstruction) GetOperands() []*Value { return []*Value{i.Arg} }
func (i *IaddImmInstruction) IsTerminator() bool    { return false }
func (i *IaddImmInstruction) MapOperands(f func(*Value) *Value) {
	i.Arg = f(i.Arg)
}
func (i *IaddImmInstruction) String() string {
	return fmt.Sprintf("%s = iadd_imm %s, %d", i.Result, i.Arg, i.Imm)
}

func (i *UextendInstruction) Opcode() Opcode        { return OpUextend }
func (i *UextendInstruction) GetResults() []*Value  { return []*Value{i.Result} }
func (i *UextendInstruction) GetOperands() []*Value { return []*Value{i.Arg} }
func (i *UextendInstruction) IsTerminator() bool    { return false }
func (i *UextendInstruction) MapOperands(f func(*Value) *Value) {
	i.Arg = f(i.Arg)
}
func (i *UextendInstruction) String() string {
	return fmt.Sprintf("%s = uextend.%s %s", i.Result, i.Result.Type, i.Arg)
}

func (i *IcmpInstruction) Opcode() Opcode        { return OpIcmp }
func (i *IcmpInstruction) GetResults() []*Value  { return []*Value{i.Result} }
func (i *IcmpInstruction) GetOperands() []*Value { return []*Value{i.X, i.Y} }
func (i *IcmpInstruction) IsTerminator() bool    { return false }
func (i *IcmpInstruction) MapOperands(f func(*Value) *Value) {
	i.X, i.Y = f(i.X), f(i.Y)
}
func (i *IcmpInstruction) String() string {
	return fmt.Sprintf("%s = icmp %s %s, %s", i.Result, i.Cond, i.X, i.Y)
}

func (i *IcmpImmInstruction) Opcode() Opcode        { return OpIcmpImm }
func (i *IcmpImmInstruction) GetResults() []*Value  { return []*Value{i.Result} }
func (i *IcmpImmInstruction) GetOperands() []*Value { return []*Value{i.Arg} }
func (i *IcmpImmInstruction) IsTerminator() bool    { return false }
func (i *IcmpImmInstruction) MapOperands(f func(*Value) *Value) {
	i.Arg = f(i.Arg)
}
func (i *IcmpImmInstruction) String() string {
	return fmt.Sprintf("%s = icmp_imm %s %s, %d", i.Result, i.Cond, i.Arg, i.Imm)
}

func (i *LoadInstruction) Opcode() Opcode        { return OpLoad }
func (i *LoadInstruction) GetResults() []*Value  { return []*Value{i.Result} }
func (i *LoadInstruction) GetOperands() []*Value { return []*Value{i.Addr} }
func (i *LoadInstruction) IsTerminator() bool    { return false }
func (i *LoadInstruction) MapOperands(f func(*Value) *Value) {
	i.Addr = f(i.Addr)
}
func (i *LoadInstruction) String() string {
	return fmt.Sprintf("%s = load.%s %s", i.Result, i.Result.Type, addressString(i.Addr, i.Offset))
}

func (i *StoreInstruction) Opcode() Opcode        { return OpStore }
func (i *StoreInstruction) GetResults() []*Value  { return nil }
func (i *StoreInstruction) GetOperands() []*Value { return []*Value{i.Value, i.Addr} }
func (i *StoreInstruction) IsTerminator() bool    { return false }
func (i *StoreInstruction) MapOperands(f func(*Value) *Value) {
	i.Value, i.Addr = f(i.Value), f(i.Addr)
}
func (i *StoreInstruction) String() string {
	return fmt.Sprintf("store %s, %s", i.Value, addressString(i.Addr, i.Offset))
}

func (i *IconcatInstruction) Opcode() Opcode        { return OpIconcat }
func (i *IconcatInstruction) GetResults() []*Value  { return []*Value{i.Result} }
func (i *IconcatInstruction) GetOperands() []*Value { return []*Value{i.Lo, i.Hi} }
func (i *IconcatInstruction) IsTerminator() bool    { return false }
func (i *IconcatInstruction) MapOperands(f func(*Value) *Value) {
	i.Lo, i.Hi = f(i.Lo), f(i.Hi)
}
func (i *IconcatInstruction) String() string {
	return fmt.Sprintf("%s = iconcat %s, %s", i.Result, i.Lo, i.Hi)
}

func (i *IsplitInstruction) Opcode() Opcode        { return OpIsplit }
func (i *IsplitInstruction) GetResults() []*Value  { return []*Value{i.Lo, i.Hi} }
func (i *IsplitInstruction) GetOperands() []*Value { return []*Value{i.Arg} }
func (i *IsplitInstruction) IsTerminator() bool    { return false }
func (i *IsplitInstruction) MapOperands(f func(*Value) *Value) {
	i.Arg = f(i.Arg)
}
func (i *IsplitInstruction) String() string {
	return fmt.Sprintf("%s, %s = isplit %s", i.Lo, i.Hi, i.Arg)
}

// Terminator implementations

func (t *JumpTerminator) Opcode() Opcode               { return OpJump }
func (t *JumpTerminator) GetResults() []*Value         { return nil }
func (t *JumpTerminator) GetOperands() []*Value        { return t.Dest.Args }
func (t *JumpTerminator) IsTerminator() bool           { return true }
func (t *JumpTerminator) GetSuccessors() []*BlockCall { return []*BlockCall{&t.Dest} }
func (t *JumpTerminator) MapOperands(f func(*Value) *Value) {
	mapValues(t.Dest.Args, f)
}
func (t *JumpTerminator) String() string { return "jump " + t.Dest.String() }

func (t *BranchTerminator) Opcode() Opcode        { return OpBrif }
func (t *BranchTerminator) GetResults() []*Value  { return nil }
func (t *BranchTerminator) IsTerminator() bool    { return true }
func (t *BranchTerminator) GetOperands() []*Value {
	ops := []*Value{t.Cond}
	ops = append(ops, t.Then.Args...)
	return append(ops, t.Else.Args...)
}
func (t *BranchTerminator) GetSuccessors() []*BlockCall {
	return []*BlockCall{&t.Then, &t.Else}
}
func (t *BranchTerminator) MapOperands(f func(*Value) *Value) {
	t.Cond = f(t.Cond)
	mapValues(t.Then.Args, f)
	mapValues(t.Else.Args, f)
}
func (t *BranchTerminator) String() string {
	return fmt.Sprintf("brif %s, %s, %s", t.Cond, t.Then.String(), t.Else.String())
}

func (t *ReturnTerminator) Opcode() Opcode               { return OpReturn }
func (t *ReturnTerminator) GetResults() []*Value         { return nil }
func (t *ReturnTerminator) GetOperands() []*Value        { return t.Values }
func (t *ReturnTerminator) IsTerminator() bool           { return true }
func (t *ReturnTerminator) GetSuccessors() []*BlockCall { return nil }
func (t *ReturnTerminator) MapOperands(f func(*Value) *Value) {
	mapValues(t.Values, f)
}
func (t *ReturnTerminator) String() string {
	if len(t.Values) == 0 {
		return "return"
	}
	return "return " + joinValues(t.Values)
}

func (t *TrapTerminator) Opcode() Opcode                  { return OpTrap }
func (t *TrapTerminator) GetResults() []*Value            { return nil }
func (t *TrapTerminator) GetOperands() []*Value           { return nil }
func (t *TrapTerminator) IsTerminator() bool              { return true }
func (t *TrapTerminator) GetSuccessors() []*BlockCall    { return nil }
func (t *TrapTerminator) MapOperands(func(*Value) *Value) {}
func (t *TrapTerminator) String() string                  { return "trap " + string(t.Code) }

func mapValues(values []*Value, f func(*Value) *Value) {
	for i, v := range values {
		values[i] = f(v)
	}
}

func joinValues(values []*Value) string {
	names := make([]string, len(values))
	for i, v := range values {
		names[i] = v.String()
	}
	return strings.Join(names, ", ")
}

func addressString(addr *Value, offset int32) string {
	if offset == 0 {
		return addr.String()
	}
	return fmt.Sprintf("%s%+d", addr, offset)
}
