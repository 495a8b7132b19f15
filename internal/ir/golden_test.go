package ir

import (
	"os"
	"testing"

	"gopkg.in/yaml.v3"
)

type caseSpec struct {
	Name  string   `yaml:"name"`
	Input string   `yaml:"input"`
	Want  wantSpec `yaml:"want"`
}

type wantSpec struct {
	ItemKinds []string    `yaml:"itemKinds"`
	Defines   []wantDefine `yaml:"defines"`
}

type wantDefine struct {
	Name            string   `yaml:"name"`
	Local           bool     `yaml:"local"`
	InputCount      int      `yaml:"inputCount"`
	HasOutput       bool     `yaml:"hasOutput"`
	StmtKinds       []string `yaml:"stmtKinds"`
	FirstCallCallee string   `yaml:"firstCallCallee"`
}

type caseFile struct {
	Tests []caseSpec `yaml:"tests"`
}

func itemKindName(k ItemKind) string {
	switch k {
	case ItemComment:
		return "comment"
	case ItemSourceFilename:
		return "sourceFilename"
	case ItemTargetDatalayout:
		return "targetDatalayout"
	case ItemTargetTriple:
		return "targetTriple"
	case ItemGlobal:
		return "global"
	case ItemAlias:
		return "alias"
	case ItemNamedType:
		return "namedType"
	case ItemDefine:
		return "define"
	case ItemDeclare:
		return "declare"
	case ItemAttributes:
		return "attributes"
	case ItemMetadata:
		return "metadata"
	default:
		return "other"
	}
}

func stmtKindName(k StmtKind) string {
	switch k {
	case StmtCall:
		return "call"
	case StmtBitcastCall:
		return "bitcastCall"
	case StmtIndirectCall:
		return "indirectCall"
	case StmtAsm:
		return "asm"
	case StmtLabel:
		return "label"
	case StmtComment:
		return "comment"
	default:
		return "other"
	}
}

func TestParseYAML(t *testing.T) {
	data, err := os.ReadFile("../../testdata/ir_cases.yaml")
	if err != nil {
		t.Fatalf("failed to read ir_cases.yaml: %v", err)
	}

	var cf caseFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		t.Fatalf("failed to parse ir_cases.yaml: %v", err)
	}

	for _, tc := range cf.Tests {
		t.Run(tc.Name, func(t *testing.T) {
			items, err := Parse(tc.Input)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}

			var gotKinds []string
			for _, it := range items {
				gotKinds = append(gotKinds, itemKindName(it.Kind))
			}
			if !equalStrings(gotKinds, tc.Want.ItemKinds) {
				t.Errorf("item kinds: got %v, want %v", gotKinds, tc.Want.ItemKinds)
			}

			var defines []*Define
			for _, it := range items {
				if it.Kind == ItemDefine {
					defines = append(defines, it.Define)
				}
			}
			if len(defines) != len(tc.Want.Defines) {
				t.Fatalf("got %d defines, want %d", len(defines), len(tc.Want.Defines))
			}
			for i, wd := range tc.Want.Defines {
				d := defines[i]
				if d.Name != wd.Name {
					t.Errorf("define[%d].Name = %q, want %q", i, d.Name, wd.Name)
				}
				if d.Local != wd.Local {
					t.Errorf("define[%d].Local = %v, want %v", i, d.Local, wd.Local)
				}
				if len(d.Sig.Inputs) != wd.InputCount {
					t.Errorf("define[%d] input count = %d, want %d", i, len(d.Sig.Inputs), wd.InputCount)
				}
				if (d.Sig.Output != nil) != wd.HasOutput {
					t.Errorf("define[%d] hasOutput = %v, want %v", i, d.Sig.Output != nil, wd.HasOutput)
				}
				var stmtKinds []string
				var firstCallee string
				for _, s := range d.Stmts {
					stmtKinds = append(stmtKinds, stmtKindName(s.Kind))
					if firstCallee == "" && (s.Kind == StmtCall || s.Kind == StmtBitcastCall) {
						firstCallee = s.Callee
					}
				}
				if !equalStrings(stmtKinds, wd.StmtKinds) {
					t.Errorf("define[%d] stmt kinds = %v, want %v", i, stmtKinds, wd.StmtKinds)
				}
				if firstCallee != wd.FirstCallCallee {
					t.Errorf("define[%d] first call callee = %q, want %q", i, firstCallee, wd.FirstCallCallee)
				}
			}
		})
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
