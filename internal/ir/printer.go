package ir

import (
	"fmt"
	"strings"
)

// Printer provides pretty-printing for IR. The output is the textual form
// accepted by the grammar package, so printed functions can be read back.
type Printer struct {
	indent int
	output strings.Builder
}

// NewPrinter creates a new IR printer
func NewPrinter() *Printer {
	return &Printer{indent: 0}
}

// Print returns the string representation of an IR program
func Print(program *Program) string {
	p := NewPrinter()
	for i, fn := range program.Functions {
		if i > 0 {
			p.writeLine("")
		}
		p.printFunction(fn)
	}
	return p.output.String()
}

// PrintFunction returns the string representation of a single function
func PrintFunction(fn *Function) string {
	p := NewPrinter()
	p.printFunction(fn)
	return p.output.String()
}

// Helper methods

func (p *Printer) writeIndent() {
	for i := 0; i < p.indent; i++ {
		p.output.WriteString("    ")
	}
}

func (p *Printer) writeLine(format string, args ...interface{}) {
	if format != "" {
		p.writeIndent()
	}
	p.output.WriteString(fmt.Sprintf(format, args...))
	p.output.WriteString("\n")
}

// printFunction prints the preamble and every block of a function
func (p *Printer) printFunction(fn *Function) {
	p.writeLine("function %%%s%s {", fn.Name, fn.Signature)
	p.indent++

	for i, sig := range fn.Signatures {
		p.writeLine("%s = %s", SigRef(i), sig)
	}
	for i, gv := range fn.Globals {
		p.writeLine("%s = %s", GlobalValue(i), gv)
	}
	for i, heap := range fn.Heaps {
		p.writeLine("%s = %s", Heap(i), heap)
	}
	p.indent--

	for i, block := range fn.Blocks {
		if i > 0 || len(fn.Signatures)+len(fn.Globals)+len(fn.Heaps) > 0 {
			p.writeLine("")
		}
		p.printBasicBlock(block)
	}
	p.writeLine("}")
}

// printBasicBlock prints a block header followed by its instructions
func (p *Printer) printBasicBlock(block *BasicBlock) {
	if len(block.Params) == 0 {
		p.writeLine("%s:", block.Label())
	} else {
		params := make([]string, len(block.Params))
		for i, param := range block.Params {
			params[i] = fmt.Sprintf("%s: %s", param, param.Type)
		}
		p.writeLine("%s(%s):", block.Label(), strings.Join(params, ", "))
	}

	p.indent++
	for _, inst := range block.Instructions {
		p.writeLine("%s", inst)
	}
	if block.Terminator != nil {
		p.writeLine("%s", block.Terminator)
	}
	p.indent--
}
