package grammar

import (
	"github.com/alecthomas/participle/v2/lexer"
)

// IRLexer tokenizes the textual IR. Entity references are matched before
// identifiers so that "v3" or "block1" never lex as plain names; newlines
// are significant because they end instructions.
var IRLexer = lexer.MustStateful(lexer.Rules{
	"Root": {
		// Comments
		{"Comment", `;[^\n]*`, nil},

		{"EOL", `\n`, nil},
		{"Whitespace", `[ \t\r]+`, nil},

		// Function names
		{"Name", `%[a-zA-Z_][a-zA-Z0-9_]*`, nil},

		// Entity references (order matters)
		{"GlobalRef", `gv[0-9]+\b`, nil},
		{"HeapRef", `heap[0-9]+\b`, nil},
		{"SigRef", `sig[0-9]+\b`, nil},
		{"BlockRef", `block[0-9]+\b`, nil},
		{"ValueRef", `v[0-9]+\b`, nil},

		// Punctuation ("->" must come before signed integers)
		{"Arrow", `->`, nil},

		// Integer literals, optionally signed
		{"Int", `[-+]?(0x[0-9a-fA-F_]+|[0-9][0-9_]*)`, nil},

		// Opcodes, types and keywords
		{"Ident", `[a-zA-Z_][a-zA-Z0-9_]*`, nil},

		{"Punctuation", `[(){}\[\]=,:.]`, nil},
	},
})
