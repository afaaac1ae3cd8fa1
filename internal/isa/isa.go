// Package isa describes the targets the legalizer can lower to: pointer width,
// calling-convention register windows and stack layout rules.
package isa

import (
	"fmt"
	"slices"

	"github.com/samber/lo"
	"legalizer/internal/ir"
)

// GuardPolicy decides whether an access ending exactly at the end of the
// guard region may skip its bounds check.
type GuardPolicy string

const (
	GuardInclusive GuardPolicy = "inclusive" // offset + size <= guard
	GuardStrict    GuardPolicy = "strict"    // offset + size < guard
)

// Covers reports whether an access of `size` bytes at static `offset` lies
// within a guard region of `guard` bytes.
func (p GuardPolicy) Covers(offset, size, guard uint64) bool {
	end := offset + size
	if end < offset {
		return false
	}
	if p == GuardStrict {
		return end < guard
	}
	return end <= guard
}

// TargetISA is a closed description of a target's ABI
type TargetISA struct {
	Name         string      `yaml:"name"`
	PointerBits  int         `yaml:"pointer_bits"`
	RegisterBits int         `yaml:"register_bits"`
	ArgRegs      []string    `yaml:"arg_regs"`
	RetRegs      []string    `yaml:"ret_regs"`
	FloatABI     bool        `yaml:"float_abi"`
	FloatArgRegs []string    `yaml:"float_arg_regs"`
	FloatRetRegs []string    `yaml:"float_ret_regs"`
	VMContextReg string      `yaml:"vmctx_reg"`
	StackAlign   int64       `yaml:"stack_align"`
	SlotSize     int64       `yaml:"slot_size"`
	GuardPolicy  GuardPolicy `yaml:"guard_policy"`
}

// PointerType returns the integer type of a pointer on this target
func (t *TargetISA) PointerType() ir.Type {
	typ, _ := ir.IntType(t.PointerBits)
	return typ
}

// RegisterType returns the integer type of a general purpose register
func (t *TargetISA) RegisterType() ir.Type {
	typ, _ := ir.IntType(t.RegisterBits)
	return typ
}

// Validate checks that the descriptor is usable
func (t *TargetISA) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("target has no name")
	}
	if t.PointerBits != 32 && t.PointerBits != 64 {
		return fmt.Errorf("target %s: pointer width must be 32 or 64 bits, got %d", t.Name, t.PointerBits)
	}
	if t.RegisterBits != 32 && t.RegisterBits != 64 {
		return fmt.Errorf("target %s: register width must be 32 or 64 bits, got %d", t.Name, t.RegisterBits)
	}
	if t.StackAlign <= 0 || t.StackAlign&(t.StackAlign-1) != 0 {
		return fmt.Errorf("target %s: stack alignment %d is not a power of two", t.Name, t.StackAlign)
	}
	if t.SlotSize <= 0 {
		return fmt.Errorf("target %s: stack slot size must be positive", t.Name)
	}
	if !t.FloatABI && (len(t.FloatArgRegs) > 0 || len(t.FloatRetRegs) > 0) {
		return fmt.Errorf("target %s: float registers declared without a float ABI", t.Name)
	}
	all := slices.Concat(t.ArgRegs, t.FloatArgRegs)
	if dups := lo.FindDuplicates(all); len(dups) > 0 {
		return fmt.Errorf("target %s: argument register %s listed twice", t.Name, dups[0])
	}
	if dups := lo.FindDuplicates(slices.Concat(t.RetRegs, t.FloatRetRegs)); len(dups) > 0 {
		return fmt.Errorf("target %s: return register %s listed twice", t.Name, dups[0])
	}
	if t.VMContextReg != "" && slices.Contains(all, t.VMContextReg) {
		return fmt.Errorf("target %s: vmctx register %s is also an argument register", t.Name, t.VMContextReg)
	}
	switch t.GuardPolicy {
	case GuardInclusive, GuardStrict:
	case "":
		t.GuardPolicy = GuardInclusive
	default:
		return fmt.Errorf("target %s: unknown guard policy %q", t.Name, t.GuardPolicy)
	}
	return nil
}

// Clone returns a deep copy so callers can tweak a built-in target
func (t *TargetISA) Clone() *TargetISA {
	c := *t
	c.ArgRegs = slices.Clone(t.ArgRegs)
	c.RetRegs = slices.Clone(t.RetRegs)
	c.FloatArgRegs = slices.Clone(t.FloatArgRegs)
	c.FloatRetRegs = slices.Clone(t.FloatRetRegs)
	return &c
}

func (t *TargetISA) String() string {
	return fmt.Sprintf("%s (ptr %d, %d arg regs)", t.Name, t.PointerBits, len(t.ArgRegs))
}
