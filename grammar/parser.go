package grammar

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"legalizer/internal/errors"
	"legalizer/internal/ir"
)

var (
	parserOnce sync.Once
	irParser   *participle.Parser[File]
	buildErr   error
)

func parser() (*participle.Parser[File], error) {
	parserOnce.Do(func() {
		irParser, buildErr = participle.Build[File](
			participle.Lexer(IRLexer),
			participle.Elide("Whitespace", "Comment"),
			participle.Map(checkEntityRef, "GlobalRef", "HeapRef", "SigRef", "BlockRef", "ValueRef"),
			participle.UseLookahead(3),
		)
	})
	return irParser, buildErr
}

// maxEntityNumber keeps entity numbers clear of integer overflow when the
// function allocates the numbers that follow them
const maxEntityNumber = math.MaxInt32

// checkEntityRef rejects references such as "v99999999999999999999" whose
// number does not fit
func checkEntityRef(t lexer.Token) (lexer.Token, error) {
	digits := strings.TrimLeft(t.Value, "abcdefghijklmnopqrstuvwxyz")
	if n, err := strconv.Atoi(digits); err != nil || n > maxEntityNumber {
		return t, participle.Errorf(t.Pos, "entity number out of range: %s", t.Value)
	}
	return t, nil
}

// ParseFile reads a file of textual IR
func ParseFile(path string) (*ir.Program, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(path, string(source))
}

// Parse reads textual IR. Syntax errors and references to undefined values
// or blocks are returned as *errors.ParseError.
func Parse(filename, source string) (*ir.Program, error) {
	p, err := parser()
	if err != nil {
		return nil, fmt.Errorf("failed to build parser: %w", err)
	}

	file, err := p.ParseString(filename, source)
	if err != nil {
		return nil, syntaxError(err)
	}

	program := &ir.Program{Name: filename}
	for _, f := range file.Functions {
		fn, err := convertFunction(f)
		if err != nil {
			return nil, err
		}
		program.Functions = append(program.Functions, fn)
	}
	return program, nil
}

// syntaxError converts a participle error into a positioned ParseError
func syntaxError(err error) error {
	pe, ok := err.(participle.Error)
	if !ok {
		return &errors.ParseError{Code: errors.ErrorParse, Message: err.Error()}
	}
	return &errors.ParseError{
		Code:     errors.ErrorParse,
		Message:  pe.Message(),
		Position: position(pe.Position()),
	}
}
