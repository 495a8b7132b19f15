package main

import (
	"bytes"
	"errors"
	"testing"
)

func TestVersion(t *testing.T) {
	if version == "" {
		t.Error("version should not be empty")
	}
}

func TestFlagsExist(t *testing.T) {
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)

	for _, name := range []string{"target", "bin", "example", "features", "all-features", "verbose"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("expected flag --%s to exist", name)
		}
	}
}

func TestBinXorExampleRequired(t *testing.T) {
	tests := []struct {
		name    string
		bin     string
		example string
		wantErr bool
	}{
		{name: "neither", wantErr: true},
		{name: "both", bin: "firmware", example: "blink", wantErr: true},
		{name: "bin only", bin: "firmware"},
		{name: "example only", example: "blink"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			binName, exampleName = tt.bin, tt.example
			defer func() { binName, exampleName = "", "" }()

			got := (binName == "") == (exampleName == "")
			if got != tt.wantErr {
				t.Errorf("bin/example XOR check = %v, want %v", got, tt.wantErr)
			}
		})
	}
}

func TestClassifyTarget(t *testing.T) {
	tests := []struct {
		triple    string
		wantThumb bool
		wantV7    bool
	}{
		{triple: "thumbv6m-none-eabi", wantThumb: true, wantV7: false},
		{triple: "thumbv7m-none-eabi", wantThumb: true, wantV7: true},
		{triple: "thumbv7em-none-eabihf", wantThumb: true, wantV7: true},
		{triple: "thumbv8m.main-none-eabi", wantThumb: true, wantV7: true},
		{triple: "x86_64-unknown-linux-gnu", wantThumb: false, wantV7: false},
		{triple: "", wantThumb: false, wantV7: false},
	}

	for _, tt := range tests {
		t.Run(tt.triple, func(t *testing.T) {
			gotThumb, gotV7 := classifyTarget(tt.triple)
			if gotThumb != tt.wantThumb || gotV7 != tt.wantV7 {
				t.Errorf("classifyTarget(%q) = (%v, %v), want (%v, %v)", tt.triple, gotThumb, gotV7, tt.wantThumb, tt.wantV7)
			}
		})
	}
}

func TestSplitFeatures(t *testing.T) {
	if got := splitFeatures("  "); got != nil {
		t.Errorf("splitFeatures(whitespace) = %v, want nil", got)
	}
	got := splitFeatures("foo bar  baz")
	want := []string{"foo", "bar", "baz"}
	if len(got) != len(want) {
		t.Fatalf("splitFeatures() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("splitFeatures()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestExitCodeErrorPropagation(t *testing.T) {
	wrapped := errors.New("rustc exited with status 1")
	e := &exitCodeError{code: 101, err: wrapped}

	if e.Error() != wrapped.Error() {
		t.Errorf("Error() = %q, want %q", e.Error(), wrapped.Error())
	}
	if !errors.Is(e, wrapped) {
		t.Error("expected exitCodeError to unwrap to the underlying error")
	}

	var target *exitCodeError
	if !errors.As(error(e), &target) {
		t.Fatal("expected errors.As to recover the exitCodeError")
	}
	if target.code != 101 {
		t.Errorf("recovered code = %d, want 101", target.code)
	}
}
