package isa

import (
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"
)

var (
	x86_64ArgRegs      = []string{"rdi", "rsi", "rdx", "rcx", "r8", "r9"}
	x86_64RetRegs      = []string{"rax", "rdx"}
	x86_64FloatArgRegs = []string{"xmm0", "xmm1", "xmm2", "xmm3", "xmm4", "xmm5", "xmm6", "xmm7"}
	x86_64FloatRetRegs = []string{"xmm0", "xmm1"}

	arm64ArgRegs      = []string{"x0", "x1", "x2", "x3", "x4", "x5", "x6", "x7"}
	arm64FloatArgRegs = []string{"v0", "v1", "v2", "v3", "v4", "v5", "v6", "v7"}

	riscvArgRegs      = []string{"a0", "a1", "a2", "a3", "a4", "a5", "a6", "a7"}
	riscvRetRegs      = []string{"a0", "a1"}
	riscvFloatArgRegs = []string{"fa0", "fa1", "fa2", "fa3", "fa4", "fa5", "fa6", "fa7"}
	riscvFloatRetRegs = []string{"fa0", "fa1"}
)

// targets is the registry of built-in descriptors, keyed by name
var targets = map[string]*TargetISA{
	"x86_64": {
		Name:         "x86_64",
		PointerBits:  64,
		RegisterBits: 64,
		ArgRegs:      x86_64ArgRegs,
		RetRegs:      x86_64RetRegs,
		FloatABI:     true,
		FloatArgRegs: x86_64FloatArgRegs,
		FloatRetRegs: x86_64FloatRetRegs,
		VMContextReg: "r14",
		StackAlign:   16,
		SlotSize:     8,
		GuardPolicy:  GuardInclusive,
	},
	"arm64": {
		Name:         "arm64",
		PointerBits:  64,
		RegisterBits: 64,
		ArgRegs:      arm64ArgRegs,
		RetRegs:      arm64ArgRegs,
		FloatABI:     true,
		FloatArgRegs: arm64FloatArgRegs,
		FloatRetRegs: arm64FloatArgRegs,
		VMContextReg: "x21",
		StackAlign:   16,
		SlotSize:     8,
		GuardPolicy:  GuardInclusive,
	},
	"riscv64": {
		Name:         "riscv64",
		PointerBits:  64,
		RegisterBits: 64,
		ArgRegs:      riscvArgRegs,
		RetRegs:      riscvRetRegs,
		FloatABI:     true,
		FloatArgRegs: riscvFloatArgRegs,
		FloatRetRegs: riscvFloatRetRegs,
		StackAlign:   16,
		SlotSize:     8,
		GuardPolicy:  GuardInclusive,
	},
	"riscv32": {
		Name:         "riscv32",
		PointerBits:  32,
		RegisterBits: 32,
		ArgRegs:      riscvArgRegs,
		RetRegs:      riscvRetRegs,
		StackAlign:   16,
		SlotSize:     4,
		GuardPolicy:  GuardInclusive,
	},
	// RV32E only exposes x0-x15, so the argument window stops at a5
	"riscv32e": {
		Name:         "riscv32e",
		PointerBits:  32,
		RegisterBits: 32,
		ArgRegs:      riscvArgRegs[:6],
		RetRegs:      riscvRetRegs,
		StackAlign:   4,
		SlotSize:     4,
		GuardPolicy:  GuardInclusive,
	},
}

// Lookup returns a copy of the built-in target with the given name
func Lookup(name string) (*TargetISA, error) {
	t, ok := targets[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unsupported target: %s (available: %s)", name, strings.Join(Names(), ", "))
	}
	return t.Clone(), nil
}

// MustLookup is like Lookup but panics on unknown names. Intended for tests
// and static initialization.
func MustLookup(name string) *TargetISA {
	t, err := Lookup(name)
	if err != nil {
		panic(err)
	}
	return t
}

// Names lists the built-in targets in sorted order
func Names() []string {
	names := lo.Keys(targets)
	sort.Strings(names)
	return names
}
