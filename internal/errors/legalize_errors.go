package errors

import (
	"fmt"
	"strings"

	"legalizer/internal/ir"
)

// LegalizeError reports why a function could not be legalized. The function
// it names is left exactly as it was before the legalizer ran.
type LegalizeError struct {
	Code     string
	Function string
	Message  string
	Position ir.Position
	Entities []string // global values, heaps or params involved
	Notes    []string
	HelpText string
}

func (e *LegalizeError) Error() string {
	return fmt.Sprintf("%%%s: error[%s]: %s", e.Function, e.Code, e.Message)
}

// CompilerError converts the error for the reporter
func (e *LegalizeError) CompilerError() CompilerError {
	notes := append([]string{fmt.Sprintf("in function %%%s", e.Function)}, e.Notes...)
	return CompilerError{
		Level:    Error,
		Code:     e.Code,
		Message:  e.Message,
		Position: e.Position,
		Notes:    notes,
		HelpText: e.HelpText,
	}
}

// LegalizeErrorBuilder provides a fluent interface for creating legalization errors
type LegalizeErrorBuilder struct {
	err LegalizeError
}

// NewLegalizeError creates a new legalization error builder
func NewLegalizeError(code, function, message string) *LegalizeErrorBuilder {
	return &LegalizeErrorBuilder{
		err: LegalizeError{
			Code:     code,
			Function: function,
			Message:  message,
		},
	}
}

// WithPosition sets the source location of the error
func (b *LegalizeErrorBuilder) WithPosition(pos ir.Position) *LegalizeErrorBuilder {
	b.err.Position = pos
	return b
}

// WithEntities records the entities the error is about
func (b *LegalizeErrorBuilder) WithEntities(entities ...string) *LegalizeErrorBuilder {
	b.err.Entities = append(b.err.Entities, entities...)
	return b
}

// WithNote adds a note to the error
func (b *LegalizeErrorBuilder) WithNote(note string) *LegalizeErrorBuilder {
	b.err.Notes = append(b.err.Notes, note)
	return b
}

// WithHelp adds help text to the error
func (b *LegalizeErrorBuilder) WithHelp(help string) *LegalizeErrorBuilder {
	b.err.HelpText = help
	return b
}

// Build returns the completed error
func (b *LegalizeErrorBuilder) Build() *LegalizeError {
	err := b.err
	return &err
}

// Common legalization error constructors

// MalformedSignature creates an error for a parameter or return value the ABI cannot place
func MalformedSignature(fn *ir.Function, what string, index int, typ ir.Type, target string) *LegalizeError {
	return NewLegalizeError(ErrorMalformedSignature, fn.Name,
		fmt.Sprintf("malformed signature: %s %d has type %s, which target %s cannot pass", what, index, typ, target)).
		WithPosition(fn.Pos).
		WithNote(fmt.Sprintf("signature: %s", fn.Signature)).
		Build()
}

// CyclicGlobalValue creates an error naming every global value on a dereference cycle
func CyclicGlobalValue(fn *ir.Function, cycle []ir.GlobalValue) *LegalizeError {
	names := make([]string, len(cycle))
	for i, gv := range cycle {
		names[i] = gv.String()
	}
	path := append(append([]string(nil), names...), names[0])
	builder := NewLegalizeError(ErrorCyclicGlobalValue, fn.Name,
		fmt.Sprintf("cyclic global value: %s", strings.Join(path, " -> "))).
		WithPosition(fn.Pos).
		WithEntities(names...)
	for _, gv := range cycle {
		builder = builder.WithNote(fmt.Sprintf("%s = %s", gv, fn.Globals[gv]))
	}
	return builder.WithHelp("every deref chain must end in a vmctx global value").Build()
}

// UnsupportedHeapStyle creates an error for a heap whose style cannot be lowered
func UnsupportedHeapStyle(fn *ir.Function, heap ir.Heap) *LegalizeError {
	return NewLegalizeError(ErrorUnsupportedHeapStyle, fn.Name,
		fmt.Sprintf("unsupported heap style %q for %s", fn.Heaps[heap].Style, heap)).
		WithPosition(fn.Pos).
		WithEntities(heap.String()).
		WithHelp(fmt.Sprintf("supported styles are %q and %q", ir.HeapStatic, ir.HeapDynamic)).
		Build()
}

// UnknownEntity creates an error for a reference to something the function does not declare
func UnknownEntity(fn *ir.Function, entity, context string) *LegalizeError {
	return NewLegalizeError(ErrorUnknownEntity, fn.Name,
		fmt.Sprintf("%s refers to undeclared %s", context, entity)).
		WithPosition(fn.Pos).
		WithEntities(entity).
		Build()
}

// InvariantError is raised with panic when the instruction graph is in a state
// the legalizer can never produce from valid input. It is not recovered by
// the driver: the whole run aborts.
type InvariantError struct {
	Function string
	Message  string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%%%s: internal error[%s]: %s", e.Function, ErrorInvariantViolation, e.Message)
}

// CompilerError converts the error for the reporter
func (e *InvariantError) CompilerError() CompilerError {
	return CompilerError{
		Level:    Error,
		Code:     ErrorInvariantViolation,
		Message:  e.Message,
		Notes:    []string{fmt.Sprintf("in function %%%s", e.Function)},
		HelpText: "this is a bug in the legalizer",
	}
}

// Invariant panics with an InvariantError
func Invariant(function, format string, args ...interface{}) {
	panic(&InvariantError{Function: function, Message: fmt.Sprintf(format, args...)})
}

// ParseError reports a problem reading textual IR
type ParseError struct {
	Code     string
	Message  string
	Position ir.Position
}

func (e *ParseError) Error() string {
	if e.Position.IsValid() {
		return fmt.Sprintf("%s: %s", e.Position, e.Message)
	}
	return e.Message
}

// CompilerError converts the error for the reporter
func (e *ParseError) CompilerError() CompilerError {
	return CompilerError{
		Level:    Error,
		Code:     e.Code,
		Message:  e.Message,
		Position: e.Position,
	}
}

// AddressType creates an error for an address computation whose types do not
// match the target pointer width
func AddressType(fn *ir.Function, inst ir.Instruction, detail string) *LegalizeError {
	return NewLegalizeError(ErrorAddressType, fn.Name,
		fmt.Sprintf("%s: %s", inst, detail)).
		WithPosition(fn.Pos).
		Build()
}
