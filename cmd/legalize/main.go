// SPDX-License-Identifier: Apache-2.0
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	"legalizer/grammar"
	"legalizer/internal/errors"
	"legalizer/internal/ir"
	"legalizer/internal/isa"
	"legalizer/internal/legalize"
)

var version = "0.1.0"

// errFailed is returned after diagnostics have already been written
var errFailed = stderrors.New("legalization failed")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out, errOut io.Writer) (code int) {
	defer func() {
		if r := recover(); r != nil {
			ie, ok := r.(*errors.InvariantError)
			if !ok {
				panic(r)
			}
			fmt.Fprint(errOut, errors.NewErrorReporter("", "").Format(ie))
			color.New(color.FgRed).Fprintln(errOut, "Aborted on an internal error")
			code = 2
		}
	}()

	rootCmd := newRootCmd(out, errOut)
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		if err != errFailed {
			fmt.Fprintf(errOut, "legalize: %v\n", err)
		}
		return 1
	}
	return 0
}

type options struct {
	target      string
	guardPolicy string
	jobs        int
	verify      bool
	verbose     int
	output      string
	listTargets bool
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "legalize [flags] file...",
		Short: "legalize lowers abstract IR for a target ABI",
		Long: `legalize reads functions in textual IR, assigns argument locations,
expands global values into address arithmetic and turns heap accesses
into bounds-checked address computations for the selected target.
The legalized IR is written to standard output.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			commonlog.Configure(opts.verbose, nil)

			if opts.listTargets {
				for _, name := range isa.Names() {
					fmt.Fprintln(out, isa.MustLookup(name))
				}
				return nil
			}
			if len(args) == 0 {
				return fmt.Errorf("no input files")
			}
			return legalizeFiles(cmd.Context(), opts, args, out, errOut)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVarP(&opts.target, "target", "t", "x86_64", "built-in target name or path to a yaml target file")
	flags.StringVar(&opts.guardPolicy, "guard-policy", "", "guard boundary policy: inclusive or strict (default: the target's)")
	flags.IntVarP(&opts.jobs, "jobs", "j", 0, "functions legalized in parallel (default: number of CPUs)")
	flags.BoolVar(&opts.verify, "verify", true, "verify every function after legalization")
	flags.CountVarP(&opts.verbose, "verbose", "v", "increase log verbosity (-v info, -vv debug)")
	flags.StringVarP(&opts.output, "output", "o", "", "write the legalized IR to a file instead of standard output")
	flags.BoolVar(&opts.listTargets, "list-targets", false, "list the built-in targets and exit")

	return rootCmd
}

// legalizeFiles legalizes every input file. Diagnostics for all files are
// reported; IR is only written when every function of every file succeeded.
func legalizeFiles(ctx context.Context, opts *options, paths []string, out, errOut io.Writer) error {
	startTime := time.Now()

	target, err := isa.Resolve(opts.target)
	if err != nil {
		return err
	}
	l, err := legalize.New(target, legalize.Options{
		GuardPolicy: isa.GuardPolicy(opts.guardPolicy),
		Jobs:        opts.jobs,
		Verify:      opts.verify,
	})
	if err != nil {
		return err
	}

	var (
		output    strings.Builder
		hasErrors bool
		functions int
	)
	for _, path := range paths {
		source, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}
		reporter := errors.NewErrorReporter(path, string(source))

		program, err := grammar.Parse(path, string(source))
		if err != nil {
			fmt.Fprint(errOut, reporter.Format(err))
			hasErrors = true
			continue
		}

		err = l.LegalizeProgram(ctx, program)
		var programErr *legalize.ProgramError
		switch {
		case err == nil:
			functions += len(program.Functions)
			output.WriteString(ir.Print(program))
		case stderrors.As(err, &programErr):
			for _, failure := range programErr.Failures {
				fmt.Fprint(errOut, reporter.Format(failure))
			}
			hasErrors = true
		default:
			return err
		}
	}

	formattedDuration := formatDuration(time.Since(startTime))
	if hasErrors {
		color.New(color.FgRed).Fprintf(errOut, "Legalization failed after %s\n", formattedDuration)
		return errFailed
	}

	if opts.output != "" {
		if err := os.WriteFile(opts.output, []byte(output.String()), 0o644); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	} else {
		fmt.Fprint(out, output.String())
	}
	color.New(color.FgGreen).Fprintf(errOut, "Legalized %d functions for %s in %s\n", functions, l.Target().Name, formattedDuration)
	return nil
}

func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Minute:
		return fmt.Sprintf("%.2fmin", d.Minutes())
	case d >= time.Second:
		return fmt.Sprintf("%.2fs", d.Seconds())
	case d >= time.Millisecond:
		return fmt.Sprintf("%.1fms", float64(d.Nanoseconds())/1000000.0)
	case d >= time.Microsecond:
		return fmt.Sprintf("%.1fμs", float64(d.Nanoseconds())/1000.0)
	default:
		return fmt.Sprintf("%dns", d.Nanoseconds())
	}
}
