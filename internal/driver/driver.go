// Package driver spawns the compiler, discovers the artifacts the
// reconciler needs, and runs this same binary a second time as a compiler
// wrapper (wrapper.go) so the `.stack_sizes`/`.ll`-emitting flags reach
// rustc without the caller's own Cargo.toml needing to know about this
// tool.
package driver

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// WrapperEnvVar is the environment variable this binary re-execs itself
// through: Cargo invokes $RUSTC_WRAPPER in place of rustc for every crate
// in the build, so pointing it at this binary's own path lets Wrap (in
// wrapper.go) intercept the compiler_builtins and top-level crate builds.
const WrapperEnvVar = "RUSTC_WRAPPER"

// WrapperModeEnvVar tells this binary's own main(), when re-invoked as the
// $RUSTC_WRAPPER, to short-circuit into wrapper mode instead of running
// the ordinary analyzer CLI.
const WrapperModeEnvVar = "CALLSTACK_RUSTC_WRAPPER"

// Marker lines the wrapper prints on its child rustc's stderr so the
// parent `Build` invocation (reading that stream line by line) can recover
// paths it has no other way to learn: the compiler_builtins rlib path (to
// find its intrinsics archive) and the compiler_builtins crate's own `.ll`
// path (needed because that crate is never the top-level build artifact).
const (
	CompilerBuiltinsRlibMarker = "@CARGO_CALL_STACK:compiler_builtins_rlib_path@"
	CompilerBuiltinsLLMarker   = "@CARGO_CALL_STACK:compiler_builtins_ll_path@"
)

// Options configures one `cargo rustc` invocation, mirroring the CLI
// flags one-for-one.
type Options struct {
	Target      string
	Bin         string // mutually exclusive with Example; enforced by the caller
	Example     string
	Features    []string
	AllFeatures bool
	Verbose     bool
}

// Artifact locates what the reconciler fuses: the linked ELF executable,
// its co-located intrinsics-rlib path (if compiler_builtins was rebuilt),
// and the most-recently-modified `.ll` file for the requested crate.
type Artifact struct {
	ELFPath              string
	LLPath               string
	CompilerBuiltinsRlib string
	CompilerBuiltinsLL   string
}

// Build runs `cargo rustc` with the flags this tool needs the compiler to
// emit (`--emit=llvm-ir`, `-C lto`, `-Z emit-stack-sizes`), re-invoking
// itself as RUSTC_WRAPPER so every crate in the build — not just the
// top-level one — picks up those flags. It returns the build's exit code
// on failure (the compiler failure propagates as-is) and the discovered
// artifact paths on success.
func Build(opts Options, selfExe string) (*Artifact, int, error) {
	name, isBin, err := artifactName(opts)
	if err != nil {
		return nil, 1, err
	}

	cmd := exec.Command("cargo", "rustc")
	if opts.Target != "" {
		cmd.Args = append(cmd.Args, "--target", opts.Target)
	}
	switch {
	case opts.AllFeatures:
		cmd.Args = append(cmd.Args, "--all-features")
	case len(opts.Features) > 0:
		cmd.Args = append(cmd.Args, "--features", strings.Join(opts.Features, " "))
	}
	if isBin {
		cmd.Args = append(cmd.Args, "--bin", name)
	} else {
		cmd.Args = append(cmd.Args, "--example", name)
	}
	cmd.Args = append(cmd.Args, "--release", "--",
		"--emit=llvm-ir", "-C", "lto", "-Z", "emit-stack-sizes")

	cmd.Env = append(os.Environ(),
		fmt.Sprintf("%s=%s", WrapperEnvVar, selfExe),
		fmt.Sprintf("%s=1", WrapperModeEnvVar),
	)

	if opts.Verbose {
		fmt.Fprintf(os.Stderr, "%v\n", cmd.Args)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, 1, fmt.Errorf("build: %w", err)
	}
	cmd.Stdout = os.Stdout

	art := &Artifact{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		scanMarkers(stderr, art, os.Stderr)
	}()

	if err := cmd.Start(); err != nil {
		return nil, 1, fmt.Errorf("spawning cargo: %w", err)
	}
	<-done
	err = cmd.Wait()
	code := exitCode(err)
	if code != 0 {
		return nil, code, fmt.Errorf("cargo rustc failed: %w", err)
	}

	target, err := Project{Target: opts.Target, Release: true}.ArtifactPath(name, isBin)
	if err != nil {
		return nil, 1, err
	}
	art.ELFPath = target

	llDir := filepath.Dir(target)
	if isBin {
		llDir = filepath.Join(llDir, "deps")
	}
	llPath, err := MostRecentlyModified(llDir, strings.ReplaceAll(name, "-", "_")+"-")
	if err != nil {
		return nil, 1, err
	}
	art.LLPath = llPath

	return art, 0, nil
}

func artifactName(opts Options) (name string, isBin bool, err error) {
	switch {
	case opts.Bin != "" && opts.Example != "":
		return "", false, fmt.Errorf("specify exactly one of --bin or --example, not both")
	case opts.Bin != "":
		return opts.Bin, true, nil
	case opts.Example != "":
		return opts.Example, false, nil
	default:
		return "", false, fmt.Errorf("specify either --bin <NAME> or --example <NAME>")
	}
}

// scanMarkers copies child to passthrough line by line, consuming the two
// well-known marker lines (each exactly once) instead of forwarding them.
func scanMarkers(child io.Reader, art *Artifact, passthrough io.Writer) {
	sc := bufio.NewScanner(child)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, CompilerBuiltinsRlibMarker):
			art.CompilerBuiltinsRlib = strings.TrimPrefix(line, CompilerBuiltinsRlibMarker)
		case strings.HasPrefix(line, CompilerBuiltinsLLMarker):
			art.CompilerBuiltinsLL = strings.TrimPrefix(line, CompilerBuiltinsLLMarker)
		default:
			fmt.Fprintln(passthrough, line)
		}
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if ee, ok := err.(*exec.ExitError); ok {
		return ee.ExitCode()
	}
	return 1
}

// Project resolves the on-disk path `cargo rustc --release` places its
// output at. It deliberately does not shell out to `cargo metadata`: the
// analyzer only ever needs the conventional `target/<triple>/release/`
// (or host-triple-less `target/release/`) layout, which it can compute
// directly.
type Project struct {
	Target  string
	Release bool
}

// ArtifactPath returns the path to the built binary (isBin) or example
// executable.
func (p Project) ArtifactPath(name string, isBin bool) (string, error) {
	profile := "debug"
	if p.Release {
		profile = "release"
	}
	root := "target"
	if p.Target != "" {
		root = filepath.Join("target", p.Target)
	}
	if isBin {
		return filepath.Join(root, profile, name), nil
	}
	return filepath.Join(root, profile, "examples", name), nil
}

// MostRecentlyModified scans dir for the `.ll` file whose stem starts
// with prefix and has the latest modification time; rustc leaves one
// candidate per build, so the newest is the one the build just produced.
func MostRecentlyModified(dir, prefix string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", dir, err)
	}

	type candidate struct {
		path    string
		modTime time.Time
	}
	var candidates []candidate
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".ll" {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), ".ll")
		if !strings.HasPrefix(stem, prefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{path: filepath.Join(dir, e.Name()), modTime: info.ModTime()})
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("no .ll file matching prefix %q found in %s", prefix, dir)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].modTime.After(candidates[j].modTime) })
	return candidates[0].path, nil
}
