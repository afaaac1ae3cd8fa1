package legalize

import (
	"fmt"

	"legalizer/internal/errors"
	"legalizer/internal/ir"
)

// Pass is a single legalization step over one function. Check runs for every
// pass before any Apply, so a function that fails a check is never modified.
type Pass interface {
	Name() string
	Description() string
	Check(state *funcState) error
	Apply(state *funcState) bool // Returns true if changes were made
}

// Pipeline manages the sequence of legalization passes
type Pipeline struct {
	passes []Pass
}

// NewPipeline creates a pipeline with the default passes
func NewPipeline(verify bool) *Pipeline {
	pipeline := &Pipeline{}

	// Signatures first: the vmctx value the expansions anchor on is an
	// entry block parameter, which signature legalization may renumber.
	pipeline.AddPass(&SignaturePass{})
	pipeline.AddPass(&ExpandPass{})
	if verify {
		pipeline.AddPass(&VerifyPass{})
	}

	return pipeline
}

// AddPass adds a pass to the pipeline
func (p *Pipeline) AddPass(pass Pass) {
	p.passes = append(p.passes, pass)
}

// Passes lists the pass names in execution order
func (p *Pipeline) Passes() []string {
	names := make([]string, len(p.passes))
	for i, pass := range p.passes {
		names[i] = pass.Name()
	}
	return names
}

// Run checks and then applies every pass. It reports whether the function changed.
func (p *Pipeline) Run(state *funcState) (bool, error) {
	for _, pass := range p.passes {
		if err := pass.Check(state); err != nil {
			log.Debugf("%%%s: %s rejected the function", state.fn.Name, pass.Name())
			return false, err
		}
	}

	changed := false
	for _, pass := range p.passes {
		if pass.Apply(state) {
			log.Debugf("%%%s: %s: applied", state.fn.Name, pass.Name())
			changed = true
		} else {
			log.Debugf("%%%s: %s: no changes needed", state.fn.Name, pass.Name())
		}
	}
	return changed, nil
}

// SignaturePass assigns ABI locations to the function signature and every
// declared signature
type SignaturePass struct{}

func (sp *SignaturePass) Name() string {
	return "Signature Legalization"
}

func (sp *SignaturePass) Description() string {
	return "Assigns registers and stack slots to arguments and return values"
}

func (sp *SignaturePass) Check(state *funcState) error {
	return state.sigs.check()
}

func (sp *SignaturePass) Apply(state *funcState) bool {
	return state.sigs.apply()
}

// ExpandPass rewrites global_value and heap_addr in one forward walk over
// the layout
type ExpandPass struct{}

func (ep *ExpandPass) Name() string {
	return "Abstract Instruction Expansion"
}

func (ep *ExpandPass) Description() string {
	return "Expands global_value and heap_addr into loads, arithmetic and bounds checks"
}

func (ep *ExpandPass) Check(state *funcState) error {
	if err := state.globals.check(); err != nil {
		return err
	}
	if err := state.heaps.check(); err != nil {
		return err
	}

	abstract := ir.AbstractInstructions(state.fn)
	for _, inst := range abstract {
		var err error
		switch inst := inst.(type) {
		case *ir.GlobalValueInstruction:
			err = state.globals.checkUse(inst)
		case *ir.HeapAddrInstruction:
			err = state.heaps.checkUse(inst)
		default:
			err = fmt.Errorf("no legalization for %s", inst.Opcode())
		}
		if err != nil {
			return err
		}
	}
	if len(abstract) > 0 {
		return state.globals.checkContext()
	}
	return nil
}

func (ep *ExpandPass) Apply(state *funcState) bool {
	fn := state.fn
	state.globals.bind()

	changed := false
	cur := ir.NewCursor(fn)
	for bi := 0; bi < len(fn.Blocks); bi++ {
		cur.AtIndex(fn.Blocks[bi], 0)
		for inst := cur.Current(); inst != nil; inst = cur.Current() {
			switch inst := inst.(type) {
			case *ir.GlobalValueInstruction:
				state.globals.legalize(cur, inst)
				changed = true
			case *ir.HeapAddrInstruction:
				state.heaps.legalize(cur, inst)
				changed = true
			default:
				cur.Next()
			}
		}
		// A heap check may have moved the cursor into a continuation block
		bi = fn.BlockIndex(cur.Block())
	}
	return changed
}

// VerifyPass checks the instruction graph after legalization. Failures are
// bugs in the legalizer and abort the run.
type VerifyPass struct{}

func (vp *VerifyPass) Name() string {
	return "Verification"
}

func (vp *VerifyPass) Description() string {
	return "Checks SSA dominance, edge arguments and that no abstract instruction is left"
}

func (vp *VerifyPass) Check(state *funcState) error {
	return nil
}

func (vp *VerifyPass) Apply(state *funcState) bool {
	if err := ir.Verify(state.fn); err != nil {
		errors.Invariant(state.fn.Name, "%v", err)
	}
	if !ir.IsLegal(state.fn) {
		errors.Invariant(state.fn.Name, "function is not fully legalized")
	}
	return false
}
