// Command callstack generates a whole-program call graph for an ARM
// Cortex-M firmware image and annotates it with a worst-case stack-usage
// bound per function, emitting the result as a GraphViz `dot` document on
// standard output. It is also, when re-invoked through
// $RUSTC_WRAPPER, the compiler wrapper that coerces rustc into emitting
// the artifacts the analysis needs (internal/driver).
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/armstack/callstack/internal/callgraph"
	"github.com/armstack/callstack/internal/driver"
	"github.com/armstack/callstack/internal/ir"
	"github.com/armstack/callstack/internal/render"
	"github.com/armstack/callstack/internal/symbols"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

// Flags, bound to package-level vars shared by RunE and analyze.
var (
	target      string
	binName     string
	exampleName string
	features    string
	allFeatures bool
	verbose     bool
)

func main() {
	// The $RUSTC_WRAPPER re-invocation never goes through cobra: Cargo
	// calls this binary with the real rustc's path as argv[1] followed by
	// that invocation's own flags, which are not this tool's own flag
	// grammar at all. Short-circuit before any flag parsing happens.
	if os.Getenv(driver.WrapperModeEnvVar) == "1" {
		os.Exit(driver.Wrap(os.Args[1:]))
	}
	os.Exit(run())
}

func run() int {
	rootCmd := newRootCmd(os.Stdout, os.Stderr)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "callstack: %v\n", err)
		var exitErr *exitCodeError
		if errors.As(err, &exitErr) {
			return exitErr.code
		}
		return 1
	}
	return 0
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "callstack [start-symbol]",
		Short: "Whole-program stack-usage analysis for ARM Cortex-M firmware",
		Long: `callstack builds a directed call graph of an ARM Cortex-M firmware
image by fusing the compiler's textual LLVM IR, its per-function
.stack_sizes section, the linked ELF symbol table, and a Thumb/Thumb-2
machine-code decode of .text, then prints the graph as GraphViz dot with
every reachable function annotated with an exact or lower-bound
worst-case stack size.`,
		Version:       version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var startSymbol string
			if len(args) == 1 {
				startSymbol = args[0]
			}
			return analyze(out, errOut, startSymbol)
		},
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	rootCmd.Flags().StringVar(&target, "target", "", "Target triple for which the code is compiled")
	rootCmd.Flags().StringVar(&binName, "bin", "", "Build only the specified binary")
	rootCmd.Flags().StringVar(&exampleName, "example", "", "Build only the specified example")
	rootCmd.Flags().StringVar(&features, "features", "", "Space-separated list of features to activate")
	rootCmd.Flags().BoolVar(&allFeatures, "all-features", false, "Activate all available features")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Use verbose output")

	return rootCmd
}

// analyze runs the full pipeline: build, load facts, reconcile, propagate,
// render. Everything is single-threaded and owned by this one invocation;
// nothing here outlives it.
func analyze(out, errOut io.Writer, startSymbol string) error {
	if (binName == "") == (exampleName == "") {
		return fmt.Errorf("specify exactly one of --bin <NAME> or --example <NAME>")
	}

	selfExe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating own executable path: %w", err)
	}

	opts := driver.Options{
		Target:      target,
		Bin:         binName,
		Example:     exampleName,
		Features:    splitFeatures(features),
		AllFeatures: allFeatures,
		Verbose:     verbose,
	}

	art, code, err := driver.Build(opts, selfExe)
	if err != nil {
		if code != 0 {
			return &exitCodeError{code: code, err: err}
		}
		return err
	}

	mod, err := symbols.Load(art.ELFPath)
	if err != nil {
		return fmt.Errorf("loading %s: %w", art.ELFPath, err)
	}

	items, err := loadIR(art.LLPath)
	if err != nil {
		return err
	}
	if art.CompilerBuiltinsLL != "" {
		more, err := loadIR(art.CompilerBuiltinsLL)
		if err != nil {
			return err
		}
		items = append(items, more...)
	}
	if art.CompilerBuiltinsRlib != "" {
		data, err := os.ReadFile(art.CompilerBuiltinsRlib)
		if err != nil {
			return fmt.Errorf("reading intrinsics archive %s: %w", art.CompilerBuiltinsRlib, err)
		}
		sizes, err := symbols.LoadArchiveStackSizes(data)
		if err != nil {
			return err
		}
		mod.ArchiveStackSizes = sizes
	}

	// The object next to the crate's .ll carries the same .stack_sizes
	// records keyed by name, which survive even when the linker dropped
	// the executable's own copy of the section.
	objPath := strings.TrimSuffix(art.LLPath, ".ll") + ".o"
	if _, err := os.Stat(objPath); err == nil {
		sizes, err := symbols.LoadObjectStackSizes(objPath)
		if err != nil {
			return fmt.Errorf("loading %s: %w", objPath, err)
		}
		if mod.ArchiveStackSizes == nil {
			mod.ArchiveStackSizes = map[string]uint64{}
		}
		for name, sz := range sizes {
			if _, ok := mod.ArchiveStackSizes[name]; !ok {
				mod.ArchiveStackSizes[name] = sz
			}
		}
	}

	thumbTarget, thumbV7 := classifyTarget(target)
	if target == "" && mod.ARM {
		// No --target given, so the project default applied; the linked
		// ELF itself says whether it is ARM. Decode with the full Thumb-2
		// pattern set: v6-M code is a strict subset, so the superset can
		// never mis-decode it.
		thumbTarget, thumbV7 = true, true
	}

	graph, warnings, err := callgraph.Reconcile(items, mod, callgraph.Options{
		Thumb:       thumbTarget,
		ThumbV7:     thumbV7,
		StartSymbol: startSymbol,
	})
	if err != nil {
		return err
	}
	for _, w := range warnings {
		fmt.Fprintln(errOut, w)
	}

	render.NewPrinter(out).PrintGraph(graph)
	return nil
}

func loadIR(path string) ([]ir.Item, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	items, err := ir.Parse(string(src))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return items, nil
}

func splitFeatures(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Fields(s)
}

// classifyTarget decides whether the Thumb machine-code cross-check
// applies to this target triple, and if so whether it may use the
// ARMv7-M-only Thumb-2 instruction forms. Any target this tool does not
// recognize degrades to IR-only facts.
func classifyTarget(triple string) (isThumb, isV7 bool) {
	switch {
	case strings.HasPrefix(triple, "thumbv6m-"):
		return true, false
	case strings.HasPrefix(triple, "thumbv7m-"), strings.HasPrefix(triple, "thumbv7em-"), strings.HasPrefix(triple, "thumbv8m."):
		return true, true
	default:
		return false, false
	}
}

// exitCodeError carries a non-zero child-process exit code so main can
// propagate it unchanged, while Execute() still returns a non-nil error
// for run to print.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string { return e.err.Error() }
func (e *exitCodeError) Unwrap() error { return e.err }
