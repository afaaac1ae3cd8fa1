package legalize_test

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"legalizer/grammar"
	"legalizer/internal/errors"
	"legalizer/internal/ir"
	"legalizer/internal/isa"
	"legalizer/internal/legalize"
)

func parseFunction(t *testing.T, source string) *ir.Function {
	t.Helper()
	program, err := grammar.Parse("test.clif", source)
	require.NoError(t, err)
	require.Len(t, program.Functions, 1)
	return program.Functions[0]
}

func newLegalizer(t *testing.T, target string, opts legalize.Options) *legalize.Legalizer {
	t.Helper()
	opts.Verify = true
	l, err := legalize.New(isa.MustLookup(target), opts)
	require.NoError(t, err)
	return l
}

// legalizeText parses one function, legalizes it and returns the printed result
func legalizeText(t *testing.T, target, source string) string {
	t.Helper()
	fn := parseFunction(t, source)
	require.NoError(t, newLegalizer(t, target, legalize.Options{}).LegalizeFunction(fn))
	return ir.PrintFunction(fn)
}

// requireLegalizeError legalizes a function that must be rejected, checks the
// error code and that the function was not modified
func requireLegalizeError(t *testing.T, target, source, code string) *errors.LegalizeError {
	t.Helper()
	fn := parseFunction(t, source)
	before := ir.PrintFunction(fn)

	err := newLegalizer(t, target, legalize.Options{}).LegalizeFunction(fn)
	require.Error(t, err)

	var le *errors.LegalizeError
	require.True(t, stderrors.As(err, &le), "expected a LegalizeError, got %T: %v", err, err)
	assert.Equal(t, code, le.Code)
	assert.Equal(t, fn.Name, le.Function)
	assert.Equal(t, before, ir.PrintFunction(fn), "a rejected function must be left unchanged")
	return le
}

func TestSplitArgumentsOnReducedRegisterWindow(t *testing.T) {
	source := `function %wide(i64, i64, i64, i64) -> i64 {
block0(v0: i64, v1: i64, v2: i64, v3: i64):
    v4 = iadd v0, v1
    return v4
}
`
	expected := `function %wide(i32 [%a0], i32 [%a1], i32 [%a2], i32 [%a3], i32 [%a4], i32 [%a5], i32 [sp+0], i32 [sp+4]) -> i32 [%a0], i32 [%a1] {
block0(v5: i32, v6: i32, v7: i32, v8: i32, v9: i32, v10: i32, v11: i32, v12: i32):
    v0 = iconcat v5, v6
    v1 = iconcat v7, v8
    v2 = iconcat v9, v10
    v3 = iconcat v11, v12
    v4 = iadd v0, v1
    v13, v14 = isplit v4
    return v13, v14
}
`
	fn := parseFunction(t, source)
	require.NoError(t, newLegalizer(t, "riscv32e", legalize.Options{}).LegalizeFunction(fn))
	assert.Equal(t, expected, ir.PrintFunction(fn))
	assert.Equal(t, int64(8), fn.Signature.ArgStackSize)
	assert.Equal(t, int64(0), fn.Signature.RetStackSize)
}

func TestLegalizeSignature(t *testing.T) {
	i64 := ir.AbiParam{Type: ir.I64}

	t.Run("eight halves over six registers", func(t *testing.T) {
		sig := &ir.Signature{Params: []ir.AbiParam{i64, i64, i64, i64}}
		legal, err := legalize.LegalizeSignature(sig, isa.MustLookup("riscv32e"))
		require.NoError(t, err)
		require.Len(t, legal.Params, 8)
		for i := 0; i < 6; i++ {
			assert.Equal(t, ir.RegLoc(isa.MustLookup("riscv32e").ArgRegs[i]), legal.Params[i].Loc)
		}
		assert.Equal(t, ir.StackLoc(0), legal.Params[6].Loc)
		assert.Equal(t, ir.StackLoc(4), legal.Params[7].Loc)
		assert.False(t, sig.IsLegalized(), "the input signature is not modified")
	})

	t.Run("returns use their own window", func(t *testing.T) {
		sig := &ir.Signature{
			Params:  []ir.AbiParam{i64, i64, i64, i64, i64, i64, i64},
			Returns: []ir.AbiParam{i64, i64, i64},
		}
		legal, err := legalize.LegalizeSignature(sig, isa.MustLookup("x86_64"))
		require.NoError(t, err)
		assert.Equal(t, ir.RegLoc("r9"), legal.Params[5].Loc)
		assert.Equal(t, ir.StackLoc(0), legal.Params[6].Loc)
		assert.Equal(t, int64(16), legal.ArgStackSize)
		assert.Equal(t, ir.RegLoc("rax"), legal.Returns[0].Loc)
		assert.Equal(t, ir.RegLoc("rdx"), legal.Returns[1].Loc)
		assert.Equal(t, ir.StackLoc(0), legal.Returns[2].Loc)
	})

	t.Run("stack offsets increase", func(t *testing.T) {
		var params []ir.AbiParam
		for i := 0; i < 12; i++ {
			params = append(params, ir.AbiParam{Type: ir.I32})
		}
		legal, err := legalize.LegalizeSignature(&ir.Signature{Params: params}, isa.MustLookup("x86_64"))
		require.NoError(t, err)
		var last int64 = -1
		for _, p := range legal.Params[6:] {
			require.Equal(t, ir.LocStack, p.Loc.Kind)
			assert.Greater(t, p.Loc.Offset, last)
			last = p.Loc.Offset
		}
		assert.Equal(t, int64(40), last)
	})

	t.Run("floats", func(t *testing.T) {
		sig := &ir.Signature{Params: []ir.AbiParam{{Type: ir.F64}, {Type: ir.I32}, {Type: ir.F32}}}
		legal, err := legalize.LegalizeSignature(sig, isa.MustLookup("arm64"))
		require.NoError(t, err)
		assert.Equal(t, ir.RegLoc("v0"), legal.Params[0].Loc)
		assert.Equal(t, ir.RegLoc("x0"), legal.Params[1].Loc)
		assert.Equal(t, ir.RegLoc("v1"), legal.Params[2].Loc)

		_, err = legalize.LegalizeSignature(sig, isa.MustLookup("riscv32"))
		assert.ErrorContains(t, err, "param 0 has type f64")
	})

	t.Run("no registers", func(t *testing.T) {
		target := isa.MustLookup("riscv32")
		target.ArgRegs = nil
		target.RetRegs = nil
		sig := &ir.Signature{
			Params:  []ir.AbiParam{{Type: ir.I32}, {Type: ir.I64}, {Type: ir.I8}},
			Returns: []ir.AbiParam{{Type: ir.I32}},
		}
		legal, err := legalize.LegalizeSignature(sig, target)
		require.NoError(t, err)
		require.Len(t, legal.Params, 4)
		for i, offset := range []int64{0, 4, 8, 12} {
			assert.Equal(t, ir.StackLoc(offset), legal.Params[i].Loc)
		}
		assert.Equal(t, ir.StackLoc(0), legal.Returns[0].Loc)
		assert.Equal(t, int64(16), legal.ArgStackSize)
	})

	t.Run("already legal", func(t *testing.T) {
		sig := &ir.Signature{Params: []ir.AbiParam{{Type: ir.I32, Loc: ir.RegLoc("a7")}}}
		legal, err := legalize.LegalizeSignature(sig, isa.MustLookup("riscv64"))
		require.NoError(t, err)
		assert.Equal(t, sig, legal)
		assert.NotSame(t, sig, legal)
	})
}

func TestVMContextRegister(t *testing.T) {
	source := `function %ctx(i32, i64 vmctx) {
block0(v0: i32, v1: i64):
    return
}
`
	assert.Contains(t, legalizeText(t, "x86_64", source), "function %ctx(i32 [%rdi], i64 vmctx [%r14]) {")
	assert.Contains(t, legalizeText(t, "riscv64", source), "function %ctx(i32 [%a0], i64 vmctx [%a1]) {")
}

func TestDeclaredSignatures(t *testing.T) {
	source := `function %caller(i32) {
    sig0 = (i64, i64) -> i64
    sig1 = (i32 [%a5]) -> i32 [%a0]

block0(v0: i32):
    return
}
`
	fn := parseFunction(t, source)
	require.NoError(t, newLegalizer(t, "riscv32", legalize.Options{}).LegalizeFunction(fn))
	assert.Equal(t, "(i32 [%a0], i32 [%a1], i32 [%a2], i32 [%a3]) -> i32 [%a0], i32 [%a1]", fn.Signatures[0].String())
	assert.Equal(t, "(i32 [%a5]) -> i32 [%a0]", fn.Signatures[1].String())
}

func TestMalformedSignatures(t *testing.T) {
	testCases := []struct {
		name    string
		target  string
		source  string
		message string
	}{
		{
			name:    "float without float abi",
			target:  "riscv32",
			source:  "function %f(f32) {\nblock0(v0: f32):\n    return\n}\n",
			message: "param 0 has type f32, which target riscv32 cannot pass",
		},
		{
			name:    "boolean param",
			target:  "x86_64",
			source:  "function %f(i32, b1) {\nblock0(v0: i32, v1: b1):\n    return\n}\n",
			message: "param 1 has type b1",
		},
		{
			name:    "vector return",
			target:  "arm64",
			source:  "function %f() -> i8x16 {\nblock0:\n    trap user\n}\n",
			message: "return 0 has type i8x16",
		},
		{
			name:    "narrow vmctx",
			target:  "x86_64",
			source:  "function %f(i32 vmctx) {\nblock0(v0: i32):\n    return\n}\n",
			message: "param 0 has type i32",
		},
		{
			name:    "declared signature",
			target:  "riscv32",
			source:  "function %f() {\n    sig0 = (f64)\n\nblock0:\n    return\n}\n",
			message: "sig0: param 0 has type f64",
		},
		{
			name:    "entry block disagrees",
			target:  "riscv32",
			source:  "function %f(i64) {\nblock0(v0: i32):\n    return\n}\n",
			message: "block0 parameter v0 is i32, signature declares i64",
		},
		{
			name:    "split entry with predecessors",
			target:  "riscv32",
			source:  "function %f(i64) {\nblock0(v0: i64):\n    jump block0(v0)\n}\n",
			message: "block0 has predecessors",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			le := requireLegalizeError(t, tc.target, tc.source, errors.ErrorMalformedSignature)
			assert.Contains(t, le.Message, tc.message)
		})
	}
}

func TestGlobalValueFromVMContext(t *testing.T) {
	source := `function %gv(i64 vmctx) -> i64 {
    gv0 = vmctx+64

block0(v0: i64):
    v1 = global_value.i64 gv0
    return v1
}
`
	expected := `function %gv(i64 vmctx [%r14]) -> i64 [%rax] {
    gv0 = vmctx+64

block0(v0: i64):
    v1 = iadd_imm v0, 64
    return v1
}
`
	assert.Equal(t, expected, legalizeText(t, "x86_64", source))
}

func TestGlobalValueDeref(t *testing.T) {
	source := `function %gv(i64 vmctx) -> i64 {
    gv0 = vmctx
    gv1 = deref(gv0)+16

block0(v0: i64):
    v1 = global_value.i64 gv1
    return v1
}
`
	expected := `function %gv(i64 vmctx [%x21]) -> i64 [%x0] {
    gv0 = vmctx
    gv1 = deref(gv0)+16

block0(v0: i64):
    v2 = iadd_imm v0, 0
    v3 = load.i64 v2
    v1 = iadd_imm v3, 16
    return v1
}
`
	assert.Equal(t, expected, legalizeText(t, "arm64", source))
}

func TestGlobalValueMemo(t *testing.T) {
	source := `function %memo(i64 vmctx) -> i64 {
    gv0 = vmctx
    gv1 = deref(gv0)-8
    gv2 = deref(gv0)+8

block0(v0: i64):
    v1 = global_value.i64 gv1
    v2 = global_value.i64 gv2
    v3 = global_value.i64 gv1
    v4 = iadd v1, v2
    v5 = iadd v4, v3
    jump block1

block1:
    v6 = global_value.i64 gv1
    v7 = iadd v5, v6
    return v7
}
`
	expected := `function %memo(i64 vmctx [%a0]) -> i64 [%a0] {
    gv0 = vmctx
    gv1 = deref(gv0)-8
    gv2 = deref(gv0)+8

block0(v0: i64):
    v8 = iadd_imm v0, 0
    v9 = load.i64 v8
    v1 = iadd_imm v9, -8
    v10 = load.i64 v8
    v2 = iadd_imm v10, 8
    v4 = iadd v1, v2
    v5 = iadd v4, v1
    jump block1

block1:
    v7 = iadd v5, v1
    return v7
}
`
	assert.Equal(t, expected, legalizeText(t, "riscv64", source))
}

func TestGlobalValueMemoFollowsDominators(t *testing.T) {
	// block0 dominates every block; neither arm of the diamond dominates
	// the merge block, so the merge recomputes what the arms loaded
	source := `function %diamond(i32, i64 vmctx) -> i64 {
    gv0 = vmctx
    gv1 = deref(gv0)+16

block0(v0: i32, v1: i64):
    v2 = global_value.i64 gv0
    brif v0, block1, block2

block1:
    v3 = global_value.i64 gv1
    jump block3(v3)

block2:
    v4 = global_value.i64 gv1
    jump block3(v4)

block3(v5: i64):
    v6 = global_value.i64 gv1
    v7 = global_value.i64 gv0
    v8 = iadd v5, v6
    v9 = iadd v8, v7
    return v9
}
`
	expected := `function %diamond(i32 [%rdi], i64 vmctx [%r14]) -> i64 [%rax] {
    gv0 = vmctx
    gv1 = deref(gv0)+16

block0(v0: i32, v1: i64):
    v2 = iadd_imm v1, 0
    brif v0, block1, block2

block1:
    v10 = load.i64 v2
    v3 = iadd_imm v10, 16
    jump block3(v3)

block2:
    v11 = load.i64 v2
    v4 = iadd_imm v11, 16
    jump block3(v4)

block3(v5: i64):
    v12 = load.i64 v2
    v6 = iadd_imm v12, 16
    v8 = iadd v5, v6
    v9 = iadd v8, v2
    return v9
}
`
	assert.Equal(t, expected, legalizeText(t, "x86_64", source))
}

func TestCyclicGlobalValues(t *testing.T) {
	source := `function %cycle(i64 vmctx) -> i64 {
    gv0 = vmctx
    gv1 = deref(gv3)
    gv2 = deref(gv1)+8
    gv3 = deref(gv2)

block0(v0: i64):
    v1 = global_value.i64 gv0
    return v1
}
`
	le := requireLegalizeError(t, "x86_64", source, errors.ErrorCyclicGlobalValue)
	assert.ElementsMatch(t, []string{"gv1", "gv2", "gv3"}, le.Entities)
	assert.Equal(t, "cyclic global value: gv1 -> gv3 -> gv2 -> gv1", le.Message)

	self := `function %self(i64 vmctx) {
    gv0 = deref(gv0)

block0(v0: i64):
    return
}
`
	le = requireLegalizeError(t, "x86_64", self, errors.ErrorCyclicGlobalValue)
	assert.Equal(t, []string{"gv0"}, le.Entities)
}

func TestLongGlobalValueChain(t *testing.T) {
	// a deep chain must resolve without recursion limits
	fn := ir.NewFunction("chain", &ir.Signature{
		Params:  []ir.AbiParam{{Type: ir.I64, Purpose: ir.PurposeVMContext}},
		Returns: []ir.AbiParam{{Type: ir.I64}},
	})
	gv := fn.DeclareGlobalValue(ir.GlobalValueData{Kind: ir.GlobalVMContext})
	for i := 0; i < 10000; i++ {
		gv = fn.DeclareGlobalValue(ir.GlobalValueData{Kind: ir.GlobalDeref, Base: gv, Offset: 8})
	}
	entry := fn.CreateBlock()
	fn.AppendBlockParam(entry, ir.I64)
	cur := ir.NewCursor(fn).AtBottom(entry)
	cur.Return(cur.GlobalValue(ir.I64, gv))

	require.NoError(t, newLegalizer(t, "x86_64", legalize.Options{}).LegalizeFunction(fn))
	assert.Len(t, entry.Instructions, 1+2*10000)
	assert.True(t, ir.IsLegal(fn))

	// closing the chain into a loop is reported, not followed forever
	fn.Globals[0] = ir.GlobalValueData{Kind: ir.GlobalDeref, Base: gv}
	fn.Blocks[0].Instructions = nil
	cur = ir.NewCursor(fn).AtBottom(entry)
	cur.Return(cur.GlobalValue(ir.I64, 1))
	err := newLegalizer(t, "x86_64", legalize.Options{}).LegalizeFunction(fn)
	var le *errors.LegalizeError
	require.True(t, stderrors.As(err, &le))
	assert.Equal(t, errors.ErrorCyclicGlobalValue, le.Code)
	assert.Len(t, le.Entities, 10001)
}

func TestUnknownEntities(t *testing.T) {
	testCases := []struct {
		name    string
		source  string
		message string
	}{
		{
			name:    "global value",
			source:  "function %f(i64 vmctx) {\nblock0(v0: i64):\n    v1 = global_value.i64 gv3\n    return\n}\n",
			message: "refers to undeclared gv3",
		},
		{
			name:    "deref base",
			source:  "function %f(i64 vmctx) {\n    gv0 = deref(gv7)\n\nblock0(v0: i64):\n    return\n}\n",
			message: "gv0 = deref(gv7) refers to undeclared gv7",
		},
		{
			name:    "heap",
			source:  "function %f(i64, i64 vmctx) {\nblock0(v0: i64, v1: i64):\n    v2 = heap_addr.i64 heap0, v0, 0, 1\n    return\n}\n",
			message: "refers to undeclared heap0",
		},
		{
			name:    "heap base",
			source:  "function %f(i64 vmctx) {\n    heap0 = static gv2, min 0x0, bound 0x100, guard 0x0\n\nblock0(v0: i64):\n    return\n}\n",
			message: "refers to undeclared gv2",
		},
		{
			name:    "dynamic bound",
			source:  "function %f(i64 vmctx) {\n    gv0 = vmctx\n    heap0 = dynamic gv0, min 0x0, bound gv1, guard 0x0\n\nblock0(v0: i64):\n    return\n}\n",
			message: "refers to undeclared gv1",
		},
		{
			name:    "vmctx parameter",
			source:  "function %f(i64) -> i64 {\n    gv0 = vmctx\n\nblock0(v0: i64):\n    v1 = global_value.i64 gv0\n    return v1\n}\n",
			message: "refers to undeclared vmctx parameter",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			le := requireLegalizeError(t, "x86_64", tc.source, errors.ErrorUnknownEntity)
			assert.Contains(t, le.Message, tc.message)
		})
	}
}

func TestAddressTypes(t *testing.T) {
	narrow := "function %f(i64 vmctx) {\n    gv0 = vmctx\n\nblock0(v0: i64):\n    v1 = global_value.i32 gv0\n    return\n}\n"
	le := requireLegalizeError(t, "x86_64", narrow, errors.ErrorAddressType)
	assert.Contains(t, le.Message, "result must be i64 on x86_64")

	wideIndex := `function %f(i64, i32 vmctx) {
    gv0 = vmctx
    heap0 = static gv0, min 0x0, bound 0x1000, guard 0x0

block0(v0: i64, v1: i32):
    v2 = heap_addr.i32 heap0, v0, 0, 4
    return
}
`
	le = requireLegalizeError(t, "riscv32", wideIndex, errors.ErrorAddressType)
	assert.Contains(t, le.Message, "index v0 of type i64 is wider than i32")

	heapAccess := func(bound, offset string) string {
		return `function %f(i64, i64 vmctx) {
    gv0 = vmctx
    heap0 = static gv0, min 0x0, bound ` + bound + `, guard 0x0

block0(v0: i64, v1: i64):
    v2 = heap_addr.i64 heap0, v0, ` + offset + `, 4
    return
}
`
	}
	le = requireLegalizeError(t, "x86_64", heapAccess("0x10000", "0x7ffffffffffffffe"), errors.ErrorAddressType)
	assert.Contains(t, le.Message, "access end 0x8000000000000002 does not fit an immediate")

	le = requireLegalizeError(t, "x86_64", heapAccess("0xffffffffffffffff", "0"), errors.ErrorAddressType)
	assert.Contains(t, le.Message, "bounds check limit 0xfffffffffffffffb does not fit an immediate")

	// the largest limit that still fits is accepted
	out := legalizeText(t, "x86_64", heapAccess("0x8000000000000003", "0"))
	assert.Contains(t, out, "icmp_imm ugt v0, 9223372036854775807")
}

func TestUnsupportedHeapStyle(t *testing.T) {
	source := `function %f(i64, i64 vmctx) {
    gv0 = vmctx
    heap0 = guarded gv0, min 0x0, bound 0x1000, guard 0x0

block0(v0: i64, v1: i64):
    return
}
`
	le := requireLegalizeError(t, "x86_64", source, errors.ErrorUnsupportedHeapStyle)
	assert.Equal(t, []string{"heap0"}, le.Entities)
	assert.Contains(t, le.Message, `"guarded"`)
}

func TestChecksRunBeforeRewrites(t *testing.T) {
	// the signature and the first heap access are fine; the failure comes
	// from a later instruction and must leave everything untouched
	source := `function %late(i32, i64 vmctx) -> i64 {
    gv0 = vmctx
    heap0 = static gv0, min 0x0, bound 0x1000, guard 0x0

block0(v0: i32, v1: i64):
    v2 = heap_addr.i64 heap0, v0, 0, 4
    v3 = global_value.i64 gv9
    return v2
}
`
	requireLegalizeError(t, "x86_64", source, errors.ErrorUnknownEntity)
}

func TestLegalizationIsIdempotent(t *testing.T) {
	sources := []string{
		`function %wide(i64, i64 vmctx) -> i64 {
    gv0 = vmctx
    gv1 = deref(gv0)+8
    heap0 = dynamic gv1, min 0x100, bound gv0, guard 0x0

block0(v0: i64, v1: i64):
    v2 = heap_addr.i64 heap0, v0, 0, 8
    v3 = load.i64 v2
    return v3
}
`,
		`function %narrow(i32, i64, i32 vmctx) -> i64 {
    gv0 = vmctx-4
    heap0 = static gv0, min 0x10000, bound 0x10000, guard 0x0

block0(v0: i32, v1: i64, v2: i32):
    v3 = heap_addr.i32 heap0, v0, 0, 8
    v4 = load.i64 v3
    v5 = iadd v4, v1
    return v5
}
`,
	}
	for _, target := range []string{"x86_64", "riscv32"} {
		for _, source := range sources {
			fn := parseFunction(t, source)
			l := newLegalizer(t, target, legalize.Options{})
			err := l.LegalizeFunction(fn)
			if err != nil {
				// the i64 vmctx is not a pointer on riscv32 and vice versa
				var le *errors.LegalizeError
				require.True(t, stderrors.As(err, &le))
				continue
			}
			first := ir.PrintFunction(fn)
			require.True(t, ir.IsLegal(fn))

			require.NoError(t, l.LegalizeFunction(fn))
			assert.Equal(t, first, ir.PrintFunction(fn), "%s on %s", fn.Name, target)
		}
	}
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := legalize.New(isa.MustLookup("x86_64"), legalize.Options{GuardPolicy: "sometimes"})
	assert.ErrorContains(t, err, `unknown guard policy "sometimes"`)

	broken := isa.MustLookup("x86_64")
	broken.PointerBits = 48
	_, err = legalize.New(broken, legalize.Options{})
	assert.Error(t, err)

	target := isa.MustLookup("arm64")
	l, err := legalize.New(target, legalize.Options{})
	require.NoError(t, err)
	target.ArgRegs[0] = "changed"
	assert.Equal(t, "x0", l.Target().ArgRegs[0], "the legalizer keeps its own copy of the target")
}

func TestPipelinePasses(t *testing.T) {
	assert.Equal(t, []string{"Signature Legalization", "Abstract Instruction Expansion"}, legalize.NewPipeline(false).Passes())
	assert.Equal(t, []string{"Signature Legalization", "Abstract Instruction Expansion", "Verification"}, legalize.NewPipeline(true).Passes())
}
