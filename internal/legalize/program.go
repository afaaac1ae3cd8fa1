package legalize

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"legalizer/internal/ir"
)

// ProgramError collects the functions of a program that failed to legalize,
// in program order
type ProgramError struct {
	Failures []error
}

func (e *ProgramError) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, err := range e.Failures {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "\n")
}

func (e *ProgramError) Unwrap() []error {
	return e.Failures
}

// LegalizeProgram legalizes every function of program on up to Options.Jobs
// goroutines. Functions share nothing but the read-only target, so each one
// succeeds or fails on its own; failed functions are left unchanged.
//
// The context is checked before each function is started. An invariant
// violation in any function is re-raised here after the workers have
// stopped.
func (l *Legalizer) LegalizeProgram(ctx context.Context, program *ir.Program) error {
	errs := make([]error, len(program.Functions))

	// Workers never return an error: each failure is kept in errs so that
	// every failing function is reported, not just the first one.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.opts.Jobs)

	var (
		mu       sync.Mutex
		panicked interface{}
		ctxErr   error
	)
	for i, fn := range program.Functions {
		if ctxErr = gctx.Err(); ctxErr != nil {
			break
		}
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					mu.Lock()
					if panicked == nil {
						panicked = r
					}
					mu.Unlock()
				}
			}()
			errs[i] = l.LegalizeFunction(fn)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if panicked != nil {
		panic(panicked)
	}
	if ctxErr != nil {
		return ctxErr
	}

	var failures []error
	for _, err := range errs {
		if err != nil {
			failures = append(failures, err)
		}
	}
	if len(failures) > 0 {
		log.Infof("%d of %d functions failed to legalize", len(failures), len(program.Functions))
		return &ProgramError{Failures: failures}
	}
	log.Infof("legalized %d functions", len(program.Functions))
	return nil
}
