// Package irtype names the LLVM IR types and function signatures that the
// IR parser produces and the reconciler matches indirect calls against.
// It has no dependency on how the IR is parsed.
package irtype

import (
	"fmt"
	"strings"
)

// Kind discriminates the closed set of IR type forms.
type Kind int

const (
	// KindAlias is a named type, e.g. `%"crate::module::Struct"`.
	KindAlias Kind = iota
	// KindArray is a fixed-length array, e.g. `[0 x i8]`.
	KindArray
	// KindFloat32 is `float`.
	KindFloat32
	// KindFloat64 is `double`.
	KindFloat64
	// KindInteger is `iN`.
	KindInteger
	// KindStruct is `{ ... }`.
	KindStruct
	// KindPackedStruct is `<{ ... }>`.
	KindPackedStruct
	// KindFunc is a function type, e.g. `i32 (i32)`.
	KindFunc
	// KindPointer is a pointer to another type, e.g. `i8*`.
	KindPointer
	// KindOpaquePointer is the bare `ptr` form.
	KindOpaquePointer
	// KindVariadic is the trailing `...` marker in a parameter list.
	KindVariadic
	// KindVector is a fixed-length machine vector, e.g. `<4 x i32>`.
	KindVector
)

// Sig is a function signature: an ordered list of input types and an
// optional output type. Equality is structural; LooseEqual (below) is the
// weaker relation indirect-call resolution matches candidates with.
type Sig struct {
	Inputs []Type
	Output *Type // nil means void
}

// Type is a closed sum over every IR type form. It is encoded as a tagged
// struct, not an interface hierarchy, because its consumers (the IR parser
// and the reconciler's signature buckets) need plain structural equality
// and a total switch over Kind.
type Type struct {
	Kind Kind

	Name string // KindAlias

	Len  int   // KindArray, KindVector
	Elem *Type // KindArray, KindPointer, KindVector

	Width int // KindInteger

	Fields []Type // KindStruct, KindPackedStruct

	Sig *Sig // KindFunc
}

// Erased returns the Rust "erased" trait-object pointee type `{}*`, i.e. a
// pointer to an empty struct. Rust's dynamic dispatch lowers a `dyn Trait`
// receiver to this type.
func Erased() Type {
	empty := Type{Kind: KindStruct}
	return Type{Kind: KindPointer, Elem: &empty}
}

// HasBeenErased reports whether t is the erased pointee type `{}*`.
func (t Type) HasBeenErased() bool {
	if t.Kind != KindPointer || t.Elem == nil {
		return false
	}
	return t.Elem.Kind == KindStruct && len(t.Elem.Fields) == 0
}

// IsOpaquePointer reports whether t is the bare `ptr` opaque-pointer form.
func (t Type) IsOpaquePointer() bool {
	return t.Kind == KindOpaquePointer
}

// Equal is structural equality: two opaque pointers are never equal to
// one another — an opaque `ptr` says nothing about its pointee, so there
// is no evidence two of them name the same type. This makes Equal
// irreflexive on any type containing one, which is exactly why LooseEqual
// exists as a separate, weaker relation for indirect-call resolution.
func (t Type) Equal(o Type) bool {
	if t.Kind == KindOpaquePointer || o.Kind == KindOpaquePointer {
		return false
	}
	if t.Kind != o.Kind {
		return false
	}
	switch t.Kind {
	case KindAlias:
		return t.Name == o.Name
	case KindArray, KindVector:
		return t.Len == o.Len && t.Elem.Equal(*o.Elem)
	case KindFloat32, KindFloat64, KindVariadic:
		return true
	case KindInteger:
		return t.Width == o.Width
	case KindStruct, KindPackedStruct:
		return equalFields(t.Fields, o.Fields)
	case KindFunc:
		return t.Sig.Equal(*o.Sig)
	case KindPointer:
		return t.Elem.Equal(*o.Elem)
	default:
		return false
	}
}

func equalFields(a, b []Type) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// LooseEqual implements the relaxed equivalence used to match an indirect
// call-site's signature against a candidate callee: inputs and output are
// compared position by position, but an opaque pointer matches any pointer
// (including another opaque pointer) instead of failing to match itself.
func (t Type) LooseEqual(o Type) bool {
	if t.Kind == KindOpaquePointer || o.Kind == KindOpaquePointer {
		return t.Kind == KindOpaquePointer && o.Kind == KindOpaquePointer ||
			(t.Kind == KindPointer || t.Kind == KindOpaquePointer) &&
				(o.Kind == KindPointer || o.Kind == KindOpaquePointer)
	}
	if t.Kind != o.Kind {
		return false
	}
	switch t.Kind {
	case KindAlias:
		return t.Name == o.Name
	case KindArray, KindVector:
		return t.Len == o.Len && t.Elem.LooseEqual(*o.Elem)
	case KindFloat32, KindFloat64, KindVariadic:
		return true
	case KindInteger:
		return t.Width == o.Width
	case KindStruct, KindPackedStruct:
		if len(t.Fields) != len(o.Fields) {
			return false
		}
		for i := range t.Fields {
			if !t.Fields[i].LooseEqual(o.Fields[i]) {
				return false
			}
		}
		return true
	case KindFunc:
		return t.Sig.LooseEqual(*o.Sig)
	case KindPointer:
		return t.Elem.LooseEqual(*o.Elem)
	default:
		return false
	}
}

// Equal is structural signature equality.
func (s Sig) Equal(o Sig) bool {
	if (s.Output == nil) != (o.Output == nil) {
		return false
	}
	if s.Output != nil && !s.Output.Equal(*o.Output) {
		return false
	}
	return equalFields(s.Inputs, o.Inputs)
}

// LooseEqual is the relaxed signature match used for indirect-call bucket
// lookups.
func (s Sig) LooseEqual(o Sig) bool {
	if (s.Output == nil) != (o.Output == nil) {
		return false
	}
	if s.Output != nil && !s.Output.LooseEqual(*o.Output) {
		return false
	}
	if len(s.Inputs) != len(o.Inputs) {
		return false
	}
	for i := range s.Inputs {
		if !s.Inputs[i].LooseEqual(o.Inputs[i]) {
			return false
		}
	}
	return true
}

// String renders the signature the way LLVM IR prints a function type,
// e.g. "i1 (i8*, i8*)" or "void ()". The reconciler uses this both for the
// "formatter" bucket key and for synthetic indirect-call node labels.
func (s Sig) String() string {
	var b strings.Builder
	if s.Output != nil {
		b.WriteString(s.Output.String())
	} else {
		b.WriteString("void")
	}
	b.WriteString(" (")
	for i, in := range s.Inputs {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(in.String())
	}
	b.WriteString(")")
	return b.String()
}

func (t Type) String() string {
	switch t.Kind {
	case KindAlias:
		return fmt.Sprintf("%%%q", t.Name)
	case KindArray:
		return fmt.Sprintf("[%d x %s]", t.Len, t.Elem)
	case KindFloat32:
		return "float"
	case KindFloat64:
		return "double"
	case KindInteger:
		return fmt.Sprintf("i%d", t.Width)
	case KindStruct:
		return fmtFields(t.Fields, "{", "}")
	case KindPackedStruct:
		return "<" + fmtFields(t.Fields, "{", "}") + ">"
	case KindFunc:
		return t.Sig.String()
	case KindPointer:
		return t.Elem.String() + "*"
	case KindOpaquePointer:
		return "ptr"
	case KindVariadic:
		return "..."
	case KindVector:
		return fmt.Sprintf("<%d x %s>", t.Len, t.Elem)
	default:
		return "<?>"
	}
}

func fmtFields(fields []Type, open, close string) string {
	var b strings.Builder
	b.WriteString(open)
	for i, f := range fields {
		if i == 0 {
			b.WriteString(" ")
		} else {
			b.WriteString(", ")
		}
		b.WriteString(f.String())
	}
	if len(fields) > 0 {
		b.WriteString(" ")
	}
	b.WriteString(close)
	return b.String()
}

// Integer builds an iN type.
func Integer(width int) Type { return Type{Kind: KindInteger, Width: width} }

// Pointer builds a pointer-to-t type.
func Pointer(t Type) Type { return Type{Kind: KindPointer, Elem: &t} }

// Array builds a fixed-length array type.
func Array(n int, t Type) Type { return Type{Kind: KindArray, Len: n, Elem: &t} }

// Struct builds a struct type from its fields.
func Struct(fields ...Type) Type { return Type{Kind: KindStruct, Fields: fields} }

// Func builds a function type from a signature.
func Func(sig Sig) Type { return Type{Kind: KindFunc, Sig: &sig} }

// Alias builds a named-alias type.
func Alias(name string) Type { return Type{Kind: KindAlias, Name: name} }
