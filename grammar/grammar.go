package grammar

import (
	"github.com/alecthomas/participle/v2/lexer"
)

// File is a sequence of functions
type File struct {
	Functions []*Function `EOL* ( @@ EOL* )*`
}

type Function struct {
	Pos       lexer.Position
	Name      string     `"function" @Name`
	Signature *Signature `@@ "{" EOL+`
	Decls     []*Decl    `( @@ EOL+ )*`
	Blocks    []*Block   `@@* "}"`
}

type Signature struct {
	Params  []*Param `"(" ( @@ ( "," @@ )* )? ")"`
	Returns []*Param `( "->" @@ ( "," @@ )* )?`
}

type Param struct {
	Type    string    `@Ident`
	Purpose string    `@"vmctx"?`
	Loc     *Location `( "[" @@ "]" )?`
}

// Location is "%reg" or "sp+N" inside brackets
type Location struct {
	Reg    string  `  @Name`
	Offset *string `| "sp" @Int`
}

type Decl struct {
	Pos       lexer.Position
	Signature *SigDecl    `  @@`
	Global    *GlobalDecl `| @@`
	Heap      *HeapDecl   `| @@`
}

type SigDecl struct {
	Ref       string     `@SigRef "="`
	Signature *Signature `@@`
}

type GlobalDecl struct {
	Ref    string      `@GlobalRef "="`
	Base   *GlobalBase `@@`
	Offset *string     `@Int?`
}

type GlobalBase struct {
	VMContext bool   `  @"vmctx"`
	Deref     string `| "deref" "(" @GlobalRef ")"`
}

type HeapDecl struct {
	Ref     string     `@HeapRef "="`
	Style   string     `@Ident`
	Base    string     `@GlobalRef`
	MinSize string     `"," "min" @Int`
	Bound   *HeapBound `"," "bound" @@`
	Guard   string     `"," "guard" @Int`
}

type HeapBound struct {
	Imm    *string `  @Int`
	Global string  `| @GlobalRef`
}

type Block struct {
	Pos    lexer.Position
	Ref    string        `@BlockRef`
	Params []*BlockParam `( "(" ( @@ ( "," @@ )* )? ")" )? ":" EOL+`
	Insts  []*Inst       `( @@ EOL+ )*`
}

type BlockParam struct {
	Value string `@ValueRef ":"`
	Type  string `@Ident`
}

type Inst struct {
	Pos      lexer.Position
	Results  []string   `( @ValueRef ( "," @ValueRef )* "=" )?`
	Opcode   string     `@Ident`
	Type     string     `( "." @Ident )?`
	Operands []*Operand `( @@ ( ","? @@ )* )?`
}

type Operand struct {
	Pos    lexer.Position
	Value  *ValueOperand `  @@`
	Block  *BlockOperand `| @@`
	Int    *string       `| @Int`
	Global string        `| @GlobalRef`
	Heap   string        `| @HeapRef`
	Ident  string        `| @Ident`
}

// ValueOperand is a value with an optional address offset, as in "v2+8"
type ValueOperand struct {
	Ref    string  `@ValueRef`
	Offset *string `@Int?`
}

// BlockOperand is a branch destination with its arguments
type BlockOperand struct {
	Ref  string   `@BlockRef`
	Args []string `( "(" ( @ValueRef ( "," @ValueRef )* )? ")" )?`
}
