// Package ir is the mutable instruction graph the legalizer rewrites in place.
//
// The IR is in Static Single Assignment (SSA) form: functions are lists of
// extended basic blocks whose parameters play the role of phi nodes.
package ir

// FunctionByName returns the first function called name, or nil
func (p *Program) FunctionByName(name string) *Function {
	for _, fn := range p.Functions {
		if fn.Name == name {
			return fn
		}
	}
	return nil
}

// PrintProgram returns a pretty-printed representation of the IR
func PrintProgram(program *Program) string {
	return Print(program)
}
