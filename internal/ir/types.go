package ir

import (
	"fmt"
	"strings"
)

// IR types and structures for the mid-level representation consumed by the legalizer.
// Functions are made of extended basic blocks with typed block parameters; every
// value has exactly one definition (a block parameter or an instruction result).

// Program is a set of functions legalized together
type Program struct {
	Name      string
	Functions []*Function
}

// Position locates an entity in textual IR. The zero value means "built in memory".
type Position struct {
	Filename string
	Line     int
	Column   int
}

func (p Position) IsValid() bool { return p.Line > 0 }

func (p Position) String() string {
	if !p.IsValid() {
		return "<memory>"
	}
	return fmt.Sprintf("%s:%d:%d", p.Filename, p.Line, p.Column)
}

// Function represents a function in IR form
type Function struct {
	Name       string
	Signature  *Signature
	Signatures []*Signature // declared signatures, sigN
	Globals    []GlobalValueData
	Heaps      []HeapData
	Blocks     []*BasicBlock
	Pos        Position

	valueCounter int
	blockCounter int
	instCounter  int
}

// BasicBlock is an extended basic block: a parameter list, a straight-line
// instruction sequence and exactly one terminator.
type BasicBlock struct {
	ID           int
	Params       []*Value
	Instructions []Instruction
	Terminator   Terminator
}

func (b *BasicBlock) Label() string { return fmt.Sprintf("block%d", b.ID) }

// Value represents a value in SSA form - each value has exactly one definition
type Value struct {
	ID    int
	Type  Type
	Block *BasicBlock // defining block
	Inst  Instruction // defining instruction, nil for block parameters
}

func (v *Value) String() string {
	if v == nil {
		return "<nil>"
	}
	return fmt.Sprintf("v%d", v.ID)
}

// Type is the closed set of value types
type Type uint8

const (
	InvalidType Type = iota
	I8
	I16
	I32
	I64
	I128
	F32
	F64
	B1
	I8X16
)

var typeNames = map[Type]string{
	I8:    "i8",
	I16:   "i16",
	I32:   "i32",
	I64:   "i64",
	I128:  "i128",
	F32:   "f32",
	F64:   "f64",
	B1:    "b1",
	I8X16: "i8x16",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "invalid"
}

// Bits returns the width of the type in bits
func (t Type) Bits() int {
	switch t {
	case I8:
		return 8
	case I16:
		return 16
	case I32, F32:
		return 32
	case I64, F64:
		return 64
	case I128, I8X16:
		return 128
	case B1:
		return 1
	}
	return 0
}

// Bytes returns the storage size of the type
func (t Type) Bytes() int {
	return (t.Bits() + 7) / 8
}

func (t Type) IsInt() bool   { return t >= I8 && t <= I128 }
func (t Type) IsFloat() bool { return t == F32 || t == F64 }

// IntType returns the integer type of the given width
func IntType(bits int) (Type, bool) {
	switch bits {
	case 8:
		return I8, true
	case 16:
		return I16, true
	case 32:
		return I32, true
	case 64:
		return I64, true
	case 128:
		return I128, true
	}
	return InvalidType, false
}

// ParseType parses a type name such as "i32"
func ParseType(name string) (Type, bool) {
	for t, n := range typeNames {
		if n == name {
			return t, true
		}
	}
	return InvalidType, false
}

// ArgPurpose marks special parameters
type ArgPurpose string

const (
	PurposeNormal    ArgPurpose = ""
	PurposeVMContext ArgPurpose = "vmctx" // implicit runtime context pointer
)

// LocKind tells where an ABI parameter lives
type LocKind uint8

const (
	LocUnassigned LocKind = iota
	LocReg
	LocStack
)

// ArgLoc is the concrete location of an argument or return value
type ArgLoc struct {
	Kind   LocKind
	Reg    string
	Offset int64
}

func RegLoc(name string) ArgLoc     { return ArgLoc{Kind: LocReg, Reg: name} }
func StackLoc(offset int64) ArgLoc { return ArgLoc{Kind: LocStack, Offset: offset} }

func (l ArgLoc) IsAssigned() bool { return l.Kind != LocUnassigned }

func (l ArgLoc) String() string {
	switch l.Kind {
	case LocReg:
		return "[%" + l.Reg + "]"
	case LocStack:
		return fmt.Sprintf("[sp%+d]", l.Offset)
	}
	return ""
}

// AbiParam describes one argument or return value of a signature
type AbiParam struct {
	Type    Type
	Purpose ArgPurpose
	Loc     ArgLoc
}

func (p AbiParam) String() string {
	parts := []string{p.Type.String()}
	if p.Purpose != PurposeNormal {
		parts = append(parts, string(p.Purpose))
	}
	if p.Loc.IsAssigned() {
		parts = append(parts, p.Loc.String())
	}
	return strings.Join(parts, " ")
}

// Signature is an ordered list of argument and return-value parameters
type Signature struct {
	Params       []AbiParam
	Returns      []AbiParam
	ArgStackSize int64
	RetStackSize int64
}

// IsLegalized reports whether every parameter has a concrete location
func (s *Signature) IsLegalized() bool {
	for _, p := range s.Params {
		if !p.Loc.IsAssigned() {
			return false
		}
	}
	for _, r := range s.Returns {
		if !r.Loc.IsAssigned() {
			return false
		}
	}
	return true
}

// SpecialParam returns the index of the first parameter with the given purpose
func (s *Signature) SpecialParam(purpose ArgPurpose) (int, bool) {
	for i, p := range s.Params {
		if p.Purpose == purpose {
			return i, true
		}
	}
	return -1, false
}

func (s *Signature) Clone() *Signature {
	c := *s
	c.Params = append([]AbiParam(nil), s.Params...)
	c.Returns = append([]AbiParam(nil), s.Returns...)
	return &c
}

func (s *Signature) String() string {
	params := make([]string, len(s.Params))
	for i, p := range s.Params {
		params[i] = p.String()
	}
	result := "(" + strings.Join(params, ", ") + ")"
	if len(s.Returns) > 0 {
		rets := make([]string, len(s.Returns))
		for i, r := range s.Returns {
			rets[i] = r.String()
		}
		result += " -> " + strings.Join(rets, ", ")
	}
	return result
}

// GlobalValue references an entry of Function.Globals (gvN)
type GlobalValue int

func (g GlobalValue) String() string { return fmt.Sprintf("gv%d", int(g)) }

// GlobalValueKind is the closed set of global value shapes
type GlobalValueKind uint8

const (
	GlobalVMContext GlobalValueKind = iota // vmctx + Offset
	GlobalDeref                            // load(Base) + Offset
)

// GlobalValueData describes how to compute an address
type GlobalValueData struct {
	Kind   GlobalValueKind
	Base   GlobalValue // GlobalDeref only
	Offset int64
}

func (d GlobalValueData) String() string {
	var base string
	if d.Kind == GlobalVMContext {
		base = "vmctx"
	} else {
		base = fmt.Sprintf("deref(%s)", d.Base)
	}
	if d.Offset != 0 {
		return fmt.Sprintf("%s%+d", base, d.Offset)
	}
	return base
}

// Heap references an entry of Function.Heaps (heapN)
type Heap int

func (h Heap) String() string { return fmt.Sprintf("heap%d", int(h)) }

// HeapStyle selects how the bound of a heap is known
type HeapStyle string

const (
	HeapStatic  HeapStyle = "static"
	HeapDynamic HeapStyle = "dynamic"
)

// NoGlobalValue marks an absent global value reference
const NoGlobalValue GlobalValue = -1

// HeapData describes a linear memory region addressed through a base global value
type HeapData struct {
	Base    GlobalValue
	MinSize uint64
	Bound   uint64      // static heaps
	BoundGV GlobalValue // dynamic heaps: address of the current bound
	Guard   uint64
	Style   HeapStyle
}

func (h HeapData) String() string {
	bound := fmt.Sprintf("%#x", h.Bound)
	if h.BoundGV != NoGlobalValue {
		bound = h.BoundGV.String()
	}
	return fmt.Sprintf("%s %s, min %#x, bound %s, guard %#x", h.Style, h.Base, h.MinSize, bound, h.Guard)
}

// SigRef references an entry of Function.Signatures (sigN)
type SigRef int

func (s SigRef) String() string { return fmt.Sprintf("sig%d", int(s)) }

// TrapCode identifies why a trap instruction fires
type TrapCode string

const (
	TrapHeapOutOfBounds TrapCode = "heap_oob"
	TrapUnreachable     TrapCode = "unreachable"
	TrapUser            TrapCode = "user"
)

// IntCC is an integer condition code
type IntCC string

const (
	IntEqual                  IntCC = "eq"
	IntNotEqual               IntCC = "ne"
	IntUnsignedLessThan       IntCC = "ult"
	IntUnsignedLessOrEqual    IntCC = "ule"
	IntUnsignedGreaterThan    IntCC = "ugt"
	IntUnsignedGreaterOrEqual IntCC = "uge"
)

// ParseIntCC parses a condition code name
func ParseIntCC(name string) (IntCC, bool) {
	switch cc := IntCC(name); cc {
	case IntEqual, IntNotEqual, IntUnsignedLessThan, IntUnsignedLessOrEqual,
		IntUnsignedGreaterThan, IntUnsignedGreaterOrEqual:
		return cc, true
	}
	return "", false
}
