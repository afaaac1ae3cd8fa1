package errors

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"legalizer/internal/ir"
)

// ErrorLevel represents the severity of an error
type ErrorLevel string

const (
	Error   ErrorLevel = "error"
	Warning ErrorLevel = "warning"
	Note    ErrorLevel = "note"
	Help    ErrorLevel = "help"
)

var levelAttributes = map[ErrorLevel]color.Attribute{
	Error:   color.FgRed,
	Warning: color.FgYellow,
	Note:    color.FgBlue,
	Help:    color.FgGreen,
}

// CompilerError represents a structured diagnostic ready to be rendered
type CompilerError struct {
	Level    ErrorLevel
	Code     string      // Error code like E1001
	Message  string      // Primary error message
	Position ir.Position // Location in source, zero for IR built in memory
	Length   int         // Length of the problematic region, 0 underlines to end of line
	Notes    []string
	HelpText string
}

// ErrorReporter renders diagnostics against the source of one IR file
type ErrorReporter struct {
	filename string
	lines    []string
}

// NewErrorReporter creates a new error reporter for a file. source may be
// empty, in which case no source excerpt is printed.
func NewErrorReporter(filename, source string) *ErrorReporter {
	var lines []string
	if source != "" {
		lines = strings.Split(source, "\n")
	}
	return &ErrorReporter{filename: filename, lines: lines}
}

// FormatError formats a compiler error with Rust-like styling:
//
//	error[E1002]: cyclic global value: gv0 -> gv1 -> gv0
//	   --> cyc.clif:1:1
//	    │
//	  1 │ function %cyc(i64 vmctx) {
//	    │ ^^^^^^^^^^^^^^^^^^^^^^^^^^
//	    │ note: in function %cyc
func (er *ErrorReporter) FormatError(err CompilerError) string {
	var b strings.Builder
	dim := color.New(color.Faint).SprintFunc()

	header := levelStyle(err.Level)(string(err.Level))
	if err.Code != "" {
		header += "[" + err.Code + "]"
	}
	fmt.Fprintf(&b, "%s: %s\n", header, err.Message)

	gutter := strings.Repeat(" ", gutterWidth(err.Position.Line))
	if loc := er.location(err.Position); loc != "" {
		fmt.Fprintf(&b, "%s %s %s\n", gutter, dim("-->"), loc)
	}
	er.writeExcerpt(&b, err, gutter)

	if len(err.Notes) > 0 {
		note := color.New(color.FgBlue).SprintFunc()("note:")
		for _, n := range err.Notes {
			fmt.Fprintf(&b, "%s %s %s %s\n", gutter, dim("│"), note, n)
		}
	}
	if err.HelpText != "" {
		help := color.New(color.FgGreen).SprintFunc()("help:")
		fmt.Fprintf(&b, "%s %s %s %s\n", gutter, dim("│"), help, err.HelpText)
	}

	b.WriteString("\n")
	return b.String()
}

// location renders file:line:col, or just the reporter's file name when the
// diagnostic has no position.
func (er *ErrorReporter) location(pos ir.Position) string {
	if !pos.IsValid() {
		return er.filename
	}
	filename := pos.Filename
	if filename == "" {
		filename = er.filename
	}
	return fmt.Sprintf("%s:%d:%d", filename, pos.Line, pos.Column)
}

// writeExcerpt prints the offending line, the one before it and the marker.
func (er *ErrorReporter) writeExcerpt(b *strings.Builder, err CompilerError, gutter string) {
	pos := err.Position
	if !pos.IsValid() || pos.Line > len(er.lines) {
		return
	}
	dim := color.New(color.Faint).SprintFunc()
	bold := color.New(color.Bold).SprintFunc()
	width := len(gutter)

	fmt.Fprintf(b, "%s %s\n", gutter, dim("│"))
	if pos.Line > 1 {
		fmt.Fprintf(b, "%s %s %s\n", dim(fmt.Sprintf("%*d", width, pos.Line-1)), dim("│"), er.lines[pos.Line-2])
	}
	line := er.lines[pos.Line-1]
	fmt.Fprintf(b, "%s %s %s\n", bold(fmt.Sprintf("%*d", width, pos.Line)), dim("│"), line)

	length := err.Length
	if length <= 0 {
		length = len(strings.TrimRight(line, " \t")) - pos.Column + 1
	}
	marker := strings.Repeat(" ", max(0, pos.Column-1)) + levelStyle(err.Level)(strings.Repeat("^", max(1, length)))
	fmt.Fprintf(b, "%s %s %s\n", gutter, dim("│"), marker)
}

// Format renders any error. Legalizer and reader errors get the full
// diagnostic layout, everything else a plain error header.
func (er *ErrorReporter) Format(err error) string {
	switch e := err.(type) {
	case *LegalizeError:
		return er.FormatError(e.CompilerError())
	case *ParseError:
		return er.FormatError(e.CompilerError())
	case *InvariantError:
		return er.FormatError(e.CompilerError())
	}
	return er.FormatError(CompilerError{Level: Error, Message: err.Error()})
}

func levelStyle(level ErrorLevel) func(...interface{}) string {
	attr, ok := levelAttributes[level]
	if !ok {
		attr = color.FgRed
	}
	return color.New(attr, color.Bold).SprintFunc()
}

// gutterWidth is the width of the line number column, at least 3
func gutterWidth(line int) int {
	return max(3, len(strconv.Itoa(line)))
}
