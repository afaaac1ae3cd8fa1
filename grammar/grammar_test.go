package grammar_test

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"legalizer/grammar"
	"legalizer/internal/errors"
	"legalizer/internal/ir"
)

const heapFunction = `; bounds-checked load through a heap
function %load(i32, i64 vmctx) -> i32 {
    gv0 = vmctx-16
    gv1 = deref(gv0)+32
    heap0 = static gv1, min 0x1000, bound 0x10000, guard 0x8000

block0(v0: i32, v1: i64):
    v2 = heap_addr.i64 heap0, v0, 0, 4
    v3 = load.i32 v2+8
    return v3
}
`

func TestParseHeapFunction(t *testing.T) {
	program, err := grammar.Parse("load.clif", heapFunction)
	require.NoError(t, err)
	require.Len(t, program.Functions, 1)

	fn := program.Functions[0]
	assert.Equal(t, "load", fn.Name)
	assert.Equal(t, 2, fn.Pos.Line)
	assert.Equal(t, "(i32, i64 vmctx) -> i32", fn.Signature.String())

	require.Len(t, fn.Globals, 2)
	assert.Equal(t, ir.GlobalValueData{Kind: ir.GlobalVMContext, Offset: -16}, fn.Globals[0])
	assert.Equal(t, ir.GlobalValueData{Kind: ir.GlobalDeref, Base: 0, Offset: 32}, fn.Globals[1])

	require.Len(t, fn.Heaps, 1)
	heap := fn.Heaps[0]
	assert.Equal(t, ir.HeapStatic, heap.Style)
	assert.Equal(t, ir.GlobalValue(1), heap.Base)
	assert.Equal(t, uint64(0x1000), heap.MinSize)
	assert.Equal(t, uint64(0x10000), heap.Bound)
	assert.Equal(t, uint64(0x8000), heap.Guard)
	assert.Equal(t, ir.NoGlobalValue, heap.BoundGV)

	require.Len(t, fn.Blocks, 1)
	block := fn.Blocks[0]
	require.Len(t, block.Params, 2)
	assert.Equal(t, ir.I32, block.Params[0].Type)
	require.Len(t, block.Instructions, 2)

	addr, ok := block.Instructions[0].(*ir.HeapAddrInstruction)
	require.True(t, ok)
	assert.Equal(t, ir.Heap(0), addr.Heap)
	assert.Same(t, block.Params[0], addr.Index)
	assert.Equal(t, uint64(4), addr.Size)
	assert.Equal(t, ir.I64, addr.Result.Type)

	load, ok := block.Instructions[1].(*ir.LoadInstruction)
	require.True(t, ok)
	assert.Same(t, addr.Result, load.Addr)
	assert.Equal(t, int32(8), load.Offset)

	ret, ok := block.Terminator.(*ir.ReturnTerminator)
	require.True(t, ok)
	assert.Same(t, load.Result, ret.Values[0])
}

func TestPrintRoundTrip(t *testing.T) {
	source := `function %f(i32 [%a0], i64 [sp+0], i32 vmctx [%a1]) -> i32 [%a0] {
    sig0 = (i64, f32) -> i64
    gv0 = vmctx
    gv1 = deref(gv0)-8
    heap0 = dynamic gv1, min 0x10000, bound gv0, guard 0x0

block0(v0: i32, v1: i64, v2: i32):
    v3 = iconst.i32 7
    v4 = icmp_imm ugt v0, 100
    brif v4, block1, block2(v3)

block1:
    v5, v6 = isplit v1
    v7 = iconcat v5, v6
    store v0, v2+4
    trap heap_oob

block2(v8: i32):
    v9 = iadd v8, v0
    v10 = uextend.i64 v9
    v11 = icmp ult v10, v1
    jump block3

block3:
    return v0
}
`
	program, err := grammar.Parse("rt.clif", source)
	require.NoError(t, err)

	printed := ir.Print(program)
	assert.Equal(t, source, printed)

	again, err := grammar.Parse("rt.clif", printed)
	require.NoError(t, err)
	assert.Equal(t, printed, ir.Print(again))

	fn := program.Functions[0]
	assert.True(t, fn.Signature.IsLegalized())
	assert.Equal(t, ir.StackLoc(0), fn.Signature.Params[1].Loc)
	assert.Equal(t, ir.RegLoc("a1"), fn.Signature.Params[2].Loc)
	assert.Equal(t, ir.GlobalValue(0), fn.Heaps[0].BoundGV)
	assert.Equal(t, ir.I32, fn.Blocks[1].Instructions[0].GetResults()[0].Type)
	assert.Equal(t, ir.I64, fn.Blocks[1].Instructions[1].GetResults()[0].Type)
	assert.Equal(t, ir.B1, fn.Blocks[2].Instructions[2].GetResults()[0].Type)
}

func TestParseMultipleFunctions(t *testing.T) {
	source := `
function %a() {
block0:
    return
}

; second function
function %b(i64) -> i64 {
block0(v0: i64):
    return v0
}
`
	program, err := grammar.Parse("multi.clif", source)
	require.NoError(t, err)
	require.Len(t, program.Functions, 2)
	assert.Equal(t, "a", program.Functions[0].Name)
	assert.Equal(t, "b", program.Functions[1].Name)
	assert.Same(t, program.Functions[1], program.FunctionByName("b"))
}

func TestForwardReferenceTypes(t *testing.T) {
	// v2 is used in block1 before the layout reaches its definition
	source := `function %fwd(i64) -> i64 {
block0(v0: i64):
    jump block2

block1:
    v1 = iadd_imm v2, 1
    return v1

block2:
    v2 = iadd v0, v0
    jump block1
}
`
	program, err := grammar.Parse("fwd.clif", source)
	require.NoError(t, err)
	fn := program.Functions[0]
	assert.Equal(t, ir.I64, fn.Blocks[1].Instructions[0].GetResults()[0].Type)
}

func TestParseErrors(t *testing.T) {
	testCases := []struct {
		name    string
		source  string
		code    string
		message string
	}{
		{
			name:    "syntax",
			source:  "function %f( {\n}\n",
			code:    errors.ErrorParse,
			message: "",
		},
		{
			name:    "undefined value",
			source:  "function %f() {\nblock0:\n    return v9\n}\n",
			code:    errors.ErrorUndefinedReference,
			message: "undefined value v9",
		},
		{
			name:    "undefined block",
			source:  "function %f() {\nblock0:\n    jump block4\n}\n",
			code:    errors.ErrorUndefinedReference,
			message: "undefined block4",
		},
		{
			name:    "unknown opcode",
			source:  "function %f() {\nblock0:\n    v0 = imul v1, v2\n    return\n}\n",
			code:    errors.ErrorParse,
			message: `unknown opcode "imul"`,
		},
		{
			name:    "missing terminator",
			source:  "function %f(i32) {\nblock0(v0: i32):\n    v1 = iadd v0, v0\n}\n",
			code:    errors.ErrorParse,
			message: "does not end with a terminator",
		},
		{
			name:    "out of order global",
			source:  "function %f(i64 vmctx) {\n    gv1 = vmctx\nblock0(v0: i64):\n    return\n}\n",
			code:    errors.ErrorParse,
			message: "expected gv0",
		},
		{
			name:    "redefined value",
			source:  "function %f(i32) {\nblock0(v0: i32):\n    v0 = iconst.i32 1\n    return\n}\n",
			code:    errors.ErrorParse,
			message: "v0 defined twice",
		},
		{
			name:    "edge argument count",
			source:  "function %f(i32) {\nblock0(v0: i32):\n    jump block1\n\nblock1(v1: i32):\n    return\n}\n",
			code:    errors.ErrorUndefinedReference,
			message: "passes 0 arguments, expected 1",
		},
		{
			name:    "value number out of range",
			source:  "function %f() {\nblock0:\n    v99999999999999999999 = iconst.i32 1\n    return\n}\n",
			code:    errors.ErrorParse,
			message: "entity number out of range: v99999999999999999999",
		},
		{
			name:    "block number past int32",
			source:  "function %f() {\nblock2147483648:\n    return\n}\n",
			code:    errors.ErrorParse,
			message: "entity number out of range: block2147483648",
		},
		{
			name:    "bad condition code",
			source:  "function %f(i32) {\nblock0(v0: i32):\n    v1 = icmp_imm sgt v0, 1\n    return\n}\n",
			code:    errors.ErrorParse,
			message: `unknown condition code "sgt"`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := grammar.Parse("bad.clif", tc.source)
			require.Error(t, err)

			var pe *errors.ParseError
			require.True(t, stderrors.As(err, &pe), "expected a ParseError, got %T", err)
			assert.Equal(t, tc.code, pe.Code)
			assert.True(t, pe.Position.IsValid())
			assert.Contains(t, pe.Message, tc.message)
		})
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heap.clif")
	require.NoError(t, os.WriteFile(path, []byte(heapFunction), 0o644))

	program, err := grammar.ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, path, program.Functions[0].Pos.Filename)

	_, err = grammar.ParseFile(filepath.Join(t.TempDir(), "missing.clif"))
	assert.ErrorContains(t, err, "failed to read file")
}
