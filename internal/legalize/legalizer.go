// Package legalize lowers abstract IR to a form a target can realize:
// signatures get concrete argument locations, global values become address
// arithmetic and heap accesses become bounds-checked address computations.
package legalize

import (
	"fmt"
	"runtime"

	"github.com/tliron/commonlog"
	"legalizer/internal/ir"
	"legalizer/internal/isa"
)

var (
	log     = commonlog.GetLogger("legalize")
	sigLog  = commonlog.GetLogger("legalize.signature")
	gvLog   = commonlog.GetLogger("legalize.globalvalue")
	heapLog = commonlog.GetLogger("legalize.heap")
)

// Options configures a Legalizer
type Options struct {
	// GuardPolicy overrides the target's guard boundary policy when set
	GuardPolicy isa.GuardPolicy
	// Jobs bounds the number of functions legalized concurrently. Zero means GOMAXPROCS.
	Jobs int
	// Verify checks every function after legalization and panics on a broken invariant
	Verify bool
}

// Legalizer rewrites functions for one target. It holds no per-function
// state and may be shared between goroutines.
type Legalizer struct {
	target   *isa.TargetISA
	opts     Options
	pipeline *Pipeline
}

// New creates a legalizer for target
func New(target *isa.TargetISA, opts Options) (*Legalizer, error) {
	target = target.Clone()
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if opts.GuardPolicy == "" {
		opts.GuardPolicy = target.GuardPolicy
	}
	if opts.GuardPolicy != isa.GuardInclusive && opts.GuardPolicy != isa.GuardStrict {
		return nil, fmt.Errorf("unknown guard policy %q", opts.GuardPolicy)
	}
	if opts.Jobs <= 0 {
		opts.Jobs = runtime.GOMAXPROCS(0)
	}
	return &Legalizer{
		target:   target,
		opts:     opts,
		pipeline: NewPipeline(opts.Verify),
	}, nil
}

// Target returns the target the legalizer lowers to
func (l *Legalizer) Target() *isa.TargetISA {
	return l.target
}

// funcState is everything the passes share while legalizing one function
type funcState struct {
	fn      *ir.Function
	target  *isa.TargetISA
	sigs    *signatureLegalizer
	globals *globalValueLegalizer
	heaps   *heapLegalizer
}

func (l *Legalizer) newState(fn *ir.Function) *funcState {
	globals := newGlobalValueLegalizer(fn, l.target)
	return &funcState{
		fn:      fn,
		target:  l.target,
		sigs:    newSignatureLegalizer(fn, l.target),
		globals: globals,
		heaps:   newHeapLegalizer(fn, l.target, l.opts.GuardPolicy, globals),
	}
}

// LegalizeFunction rewrites fn in place. On error fn is left unchanged.
// Running it again on its own output changes nothing.
func (l *Legalizer) LegalizeFunction(fn *ir.Function) error {
	state := l.newState(fn)
	changed, err := l.pipeline.Run(state)
	if err != nil {
		log.Infof("%%%s: not legalized: %s", fn.Name, err)
		return err
	}
	if changed {
		log.Infof("%%%s: legalized for %s (%d bounds checks, %d elided)",
			fn.Name, l.target.Name, state.heaps.checked, state.heaps.elided)
	} else {
		log.Debugf("%%%s: already legal", fn.Name)
	}
	return nil
}
