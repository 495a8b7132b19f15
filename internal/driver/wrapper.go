package driver

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// rustcArgs is the subset of a single rustc invocation's own arguments
// the wrapper needs: a hand-rolled scan for `--extern`, `--crate-name`,
// `--out-dir`, and `-Cextra-filename`, the only flags the wrapper ever
// reads back out.
type rustcArgs struct {
	crateName     string
	outDir        string
	extraFilename string
	externs       []externCrate
}

type externCrate struct {
	crateName string
	path      string // empty if this --extern has no `=path` part
}

// parseRustcArgs mirrors wrapper.rs's `RustcArgs::parse`: it tolerates an
// absent `--out-dir` (returned as ""), but a missing `--crate-name` is an
// error every legal rustc invocation: Cargo always passes it.
func parseRustcArgs(args []string) (rustcArgs, error) {
	var out rustcArgs
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--extern":
			i++
			if i >= len(args) {
				return out, fmt.Errorf("missing argument for --extern")
			}
			val := strings.TrimPrefix(args[i], "noprelude:")
			name, path, _ := strings.Cut(val, "=")
			out.externs = append(out.externs, externCrate{crateName: name, path: path})
		case arg == "--crate-name":
			i++
			if i >= len(args) {
				return out, fmt.Errorf("missing argument for --crate-name")
			}
			out.crateName = args[i]
		case arg == "--out-dir":
			i++
			if i >= len(args) {
				return out, fmt.Errorf("missing argument for --out-dir")
			}
			out.outDir = args[i]
		case strings.HasPrefix(arg, "-C"):
			rest := strings.TrimPrefix(arg, "-C")
			if rest == "" {
				i++
				if i >= len(args) {
					return out, fmt.Errorf("missing argument for -C")
				}
				rest = args[i]
			}
			name, val, ok := strings.Cut(rest, "=")
			if ok && name == "extra-filename" {
				out.extraFilename = val
			}
		}
	}
	if out.crateName == "" {
		return out, fmt.Errorf("missing --crate-name argument")
	}
	return out, nil
}

// Wrap implements the `$RUSTC_WRAPPER` re-invocation protocol:
// wrapperArgs is os.Args[1:] as Cargo calls it — the real rustc's path,
// followed by that invocation's own argument list. It augments the
// command with `-Z emit-stack-sizes`, prints the two marker lines this
// package's driver.go consumes, and execs rustc, returning its exit code
// (-1 if the child could not even be spawned).
func Wrap(wrapperArgs []string) int {
	if len(wrapperArgs) == 0 {
		fmt.Fprintln(os.Stderr, "callstack: wrapper mode requires the rustc path as its first argument")
		return 1
	}
	rustcPath := wrapperArgs[0]
	rustcArgList := wrapperArgs[1:]

	parsed, err := parseRustcArgs(rustcArgList)
	if err != nil {
		fmt.Fprintf(os.Stderr, "callstack: %v\n", err)
		return 1
	}

	for _, ext := range parsed.externs {
		if ext.crateName == "compiler_builtins" && ext.path != "" {
			fmt.Fprintf(os.Stderr, "%s%s\n", CompilerBuiltinsRlibMarker, ext.path)
		}
	}

	cmd := exec.Command(rustcPath)
	if parsed.crateName == "compiler_builtins" {
		cmd.Args = append(cmd.Args, "--emit=llvm-ir")
		if parsed.outDir == "" {
			fmt.Fprintln(os.Stderr, "callstack: missing --out-dir argument")
			return 1
		}
		llPath := fmt.Sprintf("%s/%s%s.ll", parsed.outDir, parsed.crateName, parsed.extraFilename)
		fmt.Fprintf(os.Stderr, "%s%s\n", CompilerBuiltinsLLMarker, llPath)
	}
	cmd.Args = append(cmd.Args, "-Z", "emit-stack-sizes")
	cmd.Args = append(cmd.Args, rustcArgList...)

	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			return ee.ExitCode()
		}
		fmt.Fprintf(os.Stderr, "callstack: failed to spawn %q: %v\n", rustcPath, err)
		return -1
	}
	return 0
}
