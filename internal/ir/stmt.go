package ir

import (
	"strings"

	"github.com/armstack/callstack/internal/irtype"
)

// classifyStmt turns one line of a function body into a Stmt. Only the
// forms the reconciler inspects (call variants, labels, comments) are
// parsed in any depth; anything else, including every non-call
// instruction, becomes StmtOther.
func classifyStmt(line string, lineNo int) Stmt {
	trimmed := strings.TrimSpace(line)
	base := Stmt{Line: lineNo, Text: trimmed}

	if trimmed == "" {
		base.Kind = StmtOther
		return base
	}
	if strings.HasPrefix(trimmed, ";") {
		base.Kind = StmtComment
		return base
	}
	if isLabelLine(trimmed) {
		base.Kind = StmtLabel
		return base
	}
	if stmt, ok := parseCallStmt(trimmed, lineNo); ok {
		return stmt
	}
	base.Kind = StmtOther
	return base
}

// isLabelLine recognizes a basic-block label: an identifier (optionally
// quoted) followed by a bare `:` with nothing else on the line.
func isLabelLine(trimmed string) bool {
	if !strings.HasSuffix(trimmed, ":") {
		return false
	}
	body := trimmed[:len(trimmed)-1]
	if body == "" {
		return false
	}
	if strings.ContainsAny(body, " \t=") {
		return false
	}
	return true
}

// parseCallStmt looks for a `call`/`tail call`/`musttail call`/`notail call`
// or `invoke` instruction anywhere in the line (comments and labels are
// already ruled out by the caller) and classifies it as a direct call, a
// bitcast call, an indirect call, or inline asm.
func parseCallStmt(trimmed string, lineNo int) (Stmt, bool) {
	kw := "call "
	idx := strings.Index(trimmed, kw)
	if idx < 0 {
		kw = "invoke "
		idx = strings.Index(trimmed, kw)
	}
	if idx < 0 {
		return Stmt{}, false
	}
	sc := newScanner(trimmed[idx+len(kw):])
	sc.space0()

	retType, isVoid, err := parseTypeAtom(sc)
	if err != nil {
		return Stmt{}, false
	}
	for sc.peek() == '*' {
		sc.advance()
		retType = irtype.Pointer(retType)
		isVoid = false
	}
	sc.space0()

	// An explicit signature, e.g. `call void (i8*, ...) @printf(...)`,
	// appears before the callee for variadic / function-pointer callees.
	var explicitInputs []irtype.Type
	hasExplicitSig := false
	if sc.peek() == '(' {
		inputs, err := parseParamList(sc)
		if err != nil {
			return Stmt{}, false
		}
		explicitInputs = inputs
		hasExplicitSig = true
		sc.space0()
	}

	switch {
	case sc.tag("asm"):
		return Stmt{Kind: StmtAsm, Line: lineNo, Text: trimmed}, true
	case sc.tag("bitcast"):
		sc.space0()
		if err := sc.expect('('); err != nil {
			return Stmt{}, false
		}
		sc.space0()
		if _, err := parseType(sc); err != nil {
			return Stmt{}, false
		}
		sc.space0()
		name, err := sc.global()
		if err != nil {
			return Stmt{}, false
		}
		return Stmt{Kind: StmtBitcastCall, Line: lineNo, Callee: name, Text: trimmed}, true
	case sc.peek() == '@':
		name, err := sc.function()
		if err != nil {
			return Stmt{}, false
		}
		return Stmt{Kind: StmtCall, Line: lineNo, Callee: name, Text: trimmed}, true
	case sc.peek() == '%':
		if err := sc.local(); err != nil {
			return Stmt{}, false
		}
		sc.space0()
		sig := irtype.Sig{}
		if !isVoid {
			o := retType
			sig.Output = &o
		}
		if hasExplicitSig {
			sig.Inputs = explicitInputs
		} else if sc.peek() == '(' {
			inputs, err := parseParamList(sc)
			if err == nil {
				sig.Inputs = inputs
			}
		}
		return Stmt{Kind: StmtIndirectCall, Line: lineNo, Sig: sig, Text: trimmed}, true
	default:
		return Stmt{}, false
	}
}
