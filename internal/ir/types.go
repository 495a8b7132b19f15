package ir

import (
	"fmt"

	"github.com/armstack/callstack/internal/irtype"
)

// parseType parses the LLVM-IR type grammar:
// an atom (array, struct, packed struct, alias, float/double, integer,
// opaque `ptr`, or `void`), followed by any number of trailing `*` pointer
// wrappers, optionally followed by a parenthesized input list that turns
// the accumulated type into a function type — which can itself be pointered
// again, hence the outer loop.
func parseType(sc *scanner) (irtype.Type, error) {
	result, isVoid, err := parseTypeAtom(sc)
	if err != nil {
		return irtype.Type{}, err
	}
	for {
		progressed := false
		for sc.peek() == '*' {
			sc.advance()
			result = irtype.Pointer(result)
			isVoid = false
			progressed = true
		}
		// A function-input list may follow its return type after a space,
		// e.g. `i32 (i8*)*`. Peek past any spaces there; when no `(` follows,
		// the position is restored, so this cannot swallow a caller's
		// field/argument separator.
		lookahead := sc.pos
		if sc.peek() == ' ' {
			sc.space0()
		}
		if sc.peek() == '(' {
			inputs, err := parseTypeList(sc)
			if err != nil {
				return irtype.Type{}, err
			}
			var output *irtype.Type
			if !isVoid {
				out := result
				output = &out
			}
			result = irtype.Func(irtype.Sig{Inputs: inputs, Output: output})
			isVoid = false
			progressed = true
			continue
		}
		sc.pos = lookahead
		if !progressed {
			break
		}
	}
	return result, nil
}

// parseTypeList parses a `(` type `,` type `...` `)` parenthesized list,
// used both for function input lists and the variadic `...` marker.
func parseTypeList(sc *scanner) ([]irtype.Type, error) {
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

// parseTypeAtom parses a single non-pointer, non-function type form. The
// second return reports whether the atom was the `void` keyword, which has
// no irtype.Type representation of its own: it only ever appears as a
// function output, where it means "no return type".
func parseTypeAtom(sc *scanner) (irtype.Type, bool, error) {
	switch {
	case sc.tag("void"):
		return irtype.Type{}, true, nil
	case sc.tag("ptr"):
		return irtype.Type{Kind: irtype.KindOpaquePointer}, false, nil
	case sc.tag("double"):
		return irtype.Type{Kind: irtype.KindFloat64}, false, nil
	case sc.tag("float"):
		return irtype.Type{Kind: irtype.KindFloat32}, false, nil
	case sc.peek() == 'i' && isDigit(sc.peekAt(1)):
		sc.advance()
		ds, err := sc.digits1()
		if err != nil {
			return irtype.Type{}, false, err
		}
		return irtype.Integer(parseUint(ds)), false, nil
	case sc.peek() == '[':
		t, err := parseArray(sc)
		return t, false, err
	case sc.peek() == '<' && sc.peekAt(1) == '{':
		sc.advance() // the '<'; parseFieldsUntil consumes the '{'
		fields, err := parseFieldsUntil(sc, "}>")
		if err != nil {
			return irtype.Type{}, false, err
		}
		return irtype.Type{Kind: irtype.KindPackedStruct, Fields: fields}, false, nil
	case sc.peek() == '<':
		t, err := parseVector(sc)
		return t, false, err
	case sc.peek() == '{':
		fields, err := parseFieldsUntil(sc, "}")
		if err != nil {
			return irtype.Type{}, false, err
		}
		return irtype.Type{Kind: irtype.KindStruct, Fields: fields}, false, nil
	case sc.peek() == '%':
		name, err := sc.alias()
		if err != nil {
			return irtype.Type{}, false, err
		}
		return irtype.Alias(name), false, nil
	default:
		return irtype.Type{}, false, fmt.Errorf("unrecognized type at %q", sc.rest())
	}
}

func parseArray(sc *scanner) (irtype.Type, error) {
	if err := sc.expect('['); err != nil {
		return irtype.Type{}, err
	}
	sc.space0()
	ds, err := sc.digits1()
	if err != nil {
		return irtype.Type{}, err
	}
	sc.space0()
	if !sc.tag("x") {
		return irtype.Type{}, fmt.Errorf("expected 'x' in array type")
	}
	sc.space0()
	elem, err := parseType(sc)
	if err != nil {
		return irtype.Type{}, err
	}
	sc.space0()
	if err := sc.expect(']'); err != nil {
		return irtype.Type{}, err
	}
	return irtype.Array(parseUint(ds), elem), nil
}

func parseVector(sc *scanner) (irtype.Type, error) {
	if err := sc.expect('<'); err != nil {
		return irtype.Type{}, err
	}
	sc.space0()
	ds, err := sc.digits1()
	if err != nil {
		return irtype.Type{}, err
	}
	sc.space0()
	if !sc.tag("x") {
		return irtype.Type{}, fmt.Errorf("expected 'x' in vector type")
	}
	sc.space0()
	elem, err := parseType(sc)
	if err != nil {
		return irtype.Type{}, err
	}
	sc.space0()
	if err := sc.expect('>'); err != nil {
		return irtype.Type{}, err
	}
	return irtype.Type{Kind: irtype.KindVector, Len: parseUint(ds), Elem: &elem}, nil
}

// parseFieldsUntil parses a `{ type, type, ... }` or `{ type, ... } >` field
// list, where close is the literal closing tag ("}" or "}>").
func parseFieldsUntil(sc *scanner, close string) ([]irtype.Type, error) {
	if err := sc.expect('{'); err != nil {
		return nil, err
	}
	var fields []irtype.Type
	sc.space0()
	if sc.tag(close) {
		return fields, nil
	}
	for {
		sc.space0()
		t, err := parseType(sc)
		if err != nil {
			return nil, err
		}
		fields = append(fields, t)
		sc.space0()
		if sc.peek() == ',' {
			sc.advance()
			continue
		}
		break
	}
	sc.space0()
	if !sc.tag(close) {
		return nil, fmt.Errorf("expected closing %q in field list", close)
	}
	return fields, nil
}
