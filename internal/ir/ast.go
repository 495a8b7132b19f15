// Package ir parses the textual LLVM intermediate representation emitted by
// rustc (`--emit=llvm-ir`). It recognizes exactly the subset of the grammar
// the reconciler needs to build a call graph: globals, aliases, named types,
// function declarations and definitions, and the statements inside a
// definition's body that name a callee or establish an indirect-call site.
// Everything else on a line is kept only far enough to classify it.
package ir

import "github.com/armstack/callstack/internal/irtype"

// ItemKind discriminates the top-level forms a single line (or, for Define,
// a line-delimited block) of IR can take.
type ItemKind int

const (
	ItemComment ItemKind = iota
	ItemSourceFilename
	ItemTargetDatalayout
	ItemTargetTriple
	ItemGlobal
	ItemAlias
	ItemNamedType
	ItemDefine
	ItemDeclare
	ItemAttributes
	ItemMetadata
	ItemOther
)

// Item is a single top-level construct from a `.ll` file, encoded as a
// tagged struct rather than an interface set so the reconciler can switch
// over Kind exhaustively, the same way irtype.Type is encoded.
type Item struct {
	Kind ItemKind
	Line int // 1-based source line of the item's first line

	Text string // ItemComment, ItemSourceFilename, ItemTargetDatalayout/Triple, ItemMetadata, ItemOther

	Global    *Global
	Alias     *Alias
	NamedType *NamedType
	Define    *Define
	Declare   *Declare
}

// Global is a module-level `@name = ... global T ...` or `external global T`
// item. Only its name and type are recorded; the reconciler does not read
// globals.
type Global struct {
	Name string
	Type irtype.Type
}

// Alias is a `@name = alias T, T* @aliasee` item.
type Alias struct {
	Name    string
	Type    irtype.Type
	Aliasee string
}

// NamedType is a `%"name" = type { ... }` item, recording the name and its
// structural definition. The reconciler does not resolve KindAlias types
// through it.
type NamedType struct {
	Name string
	Type irtype.Type
}

// Declare is an `declare T @name(...)` item: a function with no body,
// typically an intrinsic or an external symbol resolved at link time.
type Declare struct {
	Name    string
	Sig     irtype.Sig
	Section string
}

// Define is a `define T @name(...) { ... }` item: a function with a body
// this package walks for call sites.
type Define struct {
	Name    string
	Sig     irtype.Sig
	Local   bool // internal or private linkage: not reachable from another compilation unit
	Section string
	Stmts   []Stmt
}

// StmtKind discriminates the statement forms inside a Define's body that
// the reconciler cares about. Every other instruction — arithmetic, memory
// access, phi nodes, terminators other than call — is StmtOther.
type StmtKind int

const (
	// StmtCall is `call T @callee(...)`: a direct call to a named function.
	StmtCall StmtKind = iota
	// StmtBitcastCall is `call T bitcast (... @callee to ...)(...)`: a direct
	// call through a pointer bitcast, still statically resolved to callee.
	StmtBitcastCall
	// StmtIndirectCall is `call T %reg(...)`: a call through a function
	// pointer value, resolved only by matching Sig against candidate callees.
	StmtIndirectCall
	// StmtAsm is a `call void asm sideeffect "...", "..."(...)` inline-asm
	// statement: never a call edge, but tracked since inline asm can itself
	// contain a `bl` that the Thumb cross-check must already have seen.
	StmtAsm
	// StmtLabel is a basic-block label line, `name:`.
	StmtLabel
	// StmtComment is a `;`-prefixed comment line.
	StmtComment
	// StmtOther is any instruction the reconciler does not inspect.
	StmtOther
)

// Stmt is one line of a function body.
type Stmt struct {
	Kind   StmtKind
	Line   int
	Callee string     // StmtCall, StmtBitcastCall
	Sig    irtype.Sig // StmtIndirectCall: the call site's apparent signature
	Text   string     // raw line, kept for diagnostics
}
