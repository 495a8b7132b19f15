package ir

import (
	"fmt"
	"strings"

	"github.com/armstack/callstack/internal/irtype"
)

// linkageWords are the linkage, visibility, and miscellaneous qualifier
// keywords that can appear between `=` and the construct keyword
// (`global`/`constant`/`alias`) or between the construct keyword
// (`declare`/`define`) and the return type. They carry no information this
// package needs except "internal"/"private", which mark a definition as
// not reachable from outside its compilation unit.
var linkageWords = []string{
	"private", "internal", "available_externally", "linkonce_odr", "linkonce",
	"weak_odr", "weak", "common", "appending", "extern_weak", "external",
	"dllimport", "dllexport", "default", "hidden", "protected",
	"local_unnamed_addr", "unnamed_addr", "thread_local", "dso_local",
	"dso_preemptable", "preemptable",
}

func skipLinkageWords(sc *scanner) (local bool) {
	for {
		sc.space0()
		matched := false
		for _, w := range linkageWords {
			if strings.HasPrefix(sc.rest(), w) {
				after := sc.peekAt(len(w))
				if after != 0 && isIdentByte(after) {
					continue
				}
				sc.pos += len(w)
				matched = true
				if w == "internal" || w == "private" {
					local = true
				}
				break
			}
		}
		if strings.HasPrefix(sc.rest(), "addrspace(") {
			sc.pos += len("addrspace")
			skipParens(sc)
			matched = true
		}
		if !matched {
			return local
		}
	}
}

func skipParens(sc *scanner) {
	if sc.peek() != '(' {
		return
	}
	depth := 0
	for !sc.eof() {
		switch sc.advance() {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return
			}
		}
	}
}

// skipParamTail skips trailing parameter-attribute keywords (nocapture,
// readonly, align N, a local `%name`, ...) after a parsed type, up to the
// next top-level comma or closing paren.
func skipParamTail(sc *scanner) {
	depth := 0
	for !sc.eof() {
		b := sc.peek()
		if depth == 0 && (b == ',' || b == ')') {
			return
		}
		if b == '(' {
			depth++
		}
		if b == ')' {
			depth--
		}
		sc.advance()
	}
}

func parseParamList(sc *scanner) ([]irtype.Type, error) {
	if err := sc.expect('('); err != nil {
		return nil, err
	}
	var out []irtype.Type
	sc.space0()
	if sc.peek() == ')' {
		sc.advance()
		return out, nil
	}
	for {
		sc.space0()
		if sc.tag("...") {
			out = append(out, irtype.Type{Kind: irtype.KindVariadic})
		} else {
			t, err := parseType(sc)
			if err != nil {
				return nil, err
			}
			out = append(out, t)
		}
		skipParamTail(sc)
		sc.space0()
		if sc.peek() == ',' {
			sc.advance()
			continue
		}
		break
	}
	sc.space0()
	if err := sc.expect(')'); err != nil {
		return nil, err
	}
	return out, nil
}

// parseFnHeader parses the common prefix of `declare` and `define`:
// linkage keywords, return type, `@name`, and the parameter list.
func parseFnHeader(sc *scanner) (name string, sig irtype.Sig, local bool, err error) {
	local = skipLinkageWords(sc)
	sc.space0()
	out, isVoid, err := parseTypeAtom(sc)
	if err != nil {
		return "", irtype.Sig{}, false, err
	}
	for sc.peek() == '*' {
		sc.advance()
		out = irtype.Pointer(out)
		isVoid = false
	}
	sc.space0()
	name, err = sc.function()
	if err != nil {
		return "", irtype.Sig{}, false, fmt.Errorf("expected function name: %w", err)
	}
	inputs, err := parseParamList(sc)
	if err != nil {
		return "", irtype.Sig{}, false, err
	}
	sig.Inputs = inputs
	if !isVoid {
		o := out
		sig.Output = &o
	}
	return name, sig, local, nil
}

func extractSection(rest string) string {
	idx := strings.Index(rest, "section \"")
	if idx < 0 {
		return ""
	}
	tail := rest[idx+len("section \""):]
	end := strings.IndexByte(tail, '"')
	if end < 0 {
		return ""
	}
	return tail[:end]
}

// parseGlobalOrAlias parses a `@name = ...` top-level item: either a global
// variable/constant or an alias.
func parseGlobalOrAlias(line string) (*Global, *Alias, error) {
	sc := newScanner(line)
	name, err := sc.global()
	if err != nil {
		return nil, nil, err
	}
	sc.space0()
	if err := sc.expect('='); err != nil {
		return nil, nil, err
	}
	sc.space0()
	skipLinkageWords(sc)
	sc.space0()
	switch {
	case sc.tag("alias"):
		sc.space0()
		t, err := parseType(sc)
		if err != nil {
			return nil, nil, err
		}
		sc.space0()
		if sc.peek() == ',' {
			sc.advance()
			sc.space0()
			if _, err := parseType(sc); err != nil {
				return nil, nil, err
			}
			sc.space0()
		}
		sc.space0()
		aliasee, err := sc.global()
		if err != nil {
			return nil, nil, err
		}
		return nil, &Alias{Name: name, Type: t, Aliasee: aliasee}, nil
	case sc.tag("global"), sc.tag("constant"):
		sc.space0()
		t, err := parseType(sc)
		if err != nil {
			return nil, nil, err
		}
		return &Global{Name: name, Type: t}, nil, nil
	default:
		return nil, nil, fmt.Errorf("unrecognized global/alias form")
	}
}

// parseNamedType parses a `%"name" = type ...` item.
func parseNamedType(line string) (*NamedType, error) {
	sc := newScanner(line)
	name, err := sc.alias()
	if err != nil {
		return nil, err
	}
	sc.space0()
	if err := sc.expect('='); err != nil {
		return nil, err
	}
	sc.space0()
	if !sc.tag("type") {
		return nil, fmt.Errorf("expected 'type'")
	}
	sc.space0()
	if sc.tag("opaque") {
		return &NamedType{Name: name, Type: irtype.Type{Kind: irtype.KindStruct}}, nil
	}
	t, err := parseType(sc)
	if err != nil {
		return nil, err
	}
	return &NamedType{Name: name, Type: t}, nil
}

func parseDeclare(line string) (*Declare, error) {
	sc := newScanner(line)
	if !sc.tag("declare") {
		return nil, fmt.Errorf("expected 'declare'")
	}
	sc.space1()
	name, sig, _, err := parseFnHeader(sc)
	if err != nil {
		return nil, err
	}
	return &Declare{Name: name, Sig: sig, Section: extractSection(sc.rest())}, nil
}

// parseDefineHeader parses a `define ... @name(...) ... {` line and returns
// the Define with an empty body; the body is filled in line by line by the
// caller until the matching `}`.
func parseDefineHeader(line string) (*Define, error) {
	sc := newScanner(line)
	if !sc.tag("define") {
		return nil, fmt.Errorf("expected 'define'")
	}
	sc.space1()
	name, sig, local, err := parseFnHeader(sc)
	if err != nil {
		return nil, err
	}
	return &Define{Name: name, Sig: sig, Local: local, Section: extractSection(sc.rest())}, nil
}
