package callgraph

import (
	"testing"

	"github.com/armstack/callstack/internal/ir"
	"github.com/armstack/callstack/internal/irtype"
	"github.com/armstack/callstack/internal/symbols"
)

// define builds a minimal ir.Item wrapping a function definition with the
// given name, signature and statements, the shape every scenario below
// needs repeatedly.
func define(name string, sig irtype.Sig, stmts ...ir.Stmt) ir.Item {
	return ir.Item{
		Kind: ir.ItemDefine,
		Define: &ir.Define{
			Name:  name,
			Sig:   sig,
			Stmts: stmts,
		},
	}
}

func directCall(callee string) ir.Stmt { return ir.Stmt{Kind: ir.StmtCall, Callee: callee} }

func indirectCall(sig irtype.Sig) ir.Stmt { return ir.Stmt{Kind: ir.StmtIndirectCall, Sig: sig} }

func moduleFor(names ...string) *symbols.Module {
	mod := &symbols.Module{StackSizes: map[uint32]uint64{}}
	for i, n := range names {
		addr := uint32(i + 1)
		mod.Defined = append(mod.Defined, symbols.Symbol{Name: n, Address: addr})
		mod.StackSizes[addr] = 8
	}
	return mod
}

// foo -> bar -> baz -> foo plus an unrelated leaf: the cycle must degrade
// main's bound to a lower bound rather than failing outright.
func TestReconcileCycleScenario(t *testing.T) {
	voidSig := irtype.Sig{}
	items := []ir.Item{
		define("main", voidSig, directCall("foo"), directCall("quux")),
		define("foo", voidSig, directCall("bar")),
		define("bar", voidSig, directCall("baz")),
		define("baz", voidSig, directCall("foo")),
		define("quux", voidSig),
	}
	mod := moduleFor("main", "foo", "bar", "baz", "quux")

	g, warnings, err := Reconcile(items, mod, Options{})
	if err != nil {
		t.Fatalf("Reconcile: %v (warnings: %v)", err, warnings)
	}
	g.ComputeMax()

	main, ok := g.Node("main")
	if !ok {
		t.Fatalf("main node missing")
	}
	if main.Max.Kind != MaxLowerBound {
		t.Fatalf("main.Max.Kind = %v, want lower bound (cycle present)", main.Max.Kind)
	}
}

// "function pointer" scenario: an indirect call whose candidates foo and bar
// share a signature produces one synthetic node with both as successors.
func TestReconcileFunctionPointerScenario(t *testing.T) {
	boolNoArgs := irtype.Sig{Output: ptrTo(irtype.Integer(1))}
	items := []ir.Item{
		define("main", irtype.Sig{}, indirectCall(boolNoArgs)),
		define("foo", boolNoArgs),
		define("bar", boolNoArgs),
	}
	mod := moduleFor("main", "foo", "bar")

	g, _, err := Reconcile(items, mod, Options{})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	label := boolNoArgs.String() + "*"
	synthetic, ok := g.Node(label)
	if !ok {
		t.Fatalf("no synthetic node for signature %q; nodes: %v", label, g.Nodes())
	}
	if !synthetic.Synthetic {
		t.Fatalf("node %q not marked synthetic", label)
	}
	succ := g.Successors(label)
	if len(succ) != 2 || !contains(succ, "foo") || !contains(succ, "bar") {
		t.Fatalf("synthetic node successors = %v, want [foo bar]", succ)
	}
	mainSucc := g.Successors("main")
	if len(mainSucc) != 1 || mainSucc[0] != label {
		t.Fatalf("main successors = %v, want [%s]", mainSucc, label)
	}
}

// "trait object" scenario: foo is a trait method with two impls (Bar, Baz)
// dispatched through an erased `{}*` receiver; Quux::foo takes a concrete
// (named-alias) receiver and shares nothing but the name, so it must not
// receive a synthetic edge even though output and arity match.
func TestReconcileTraitObjectScenario(t *testing.T) {
	boolArg := irtype.Integer(1)
	erasedSelf := irtype.Sig{Inputs: []irtype.Type{irtype.Erased()}, Output: &boolArg}
	concreteSelf := irtype.Sig{
		Inputs: []irtype.Type{irtype.Pointer(irtype.Alias("dynamic_dispatch::Quux"))},
		Output: &boolArg,
	}

	// <Bar as Foo>::foo::h0000000000000001 / <Baz as Foo>::foo::h0000000000000002,
	// using the legacy length-prefixed `_ZN` grammar internal/demangle parses.
	barImpl := "_ZN24$LT$Bar$SP$as$SP$Foo$GT$3foo17h0000000000000001E"
	bazImpl := "_ZN24$LT$Baz$SP$as$SP$Foo$GT$3foo17h0000000000000002E"
	// dynamic_dispatch::Quux::foo::h0000000000000003, an ordinary inherent
	// method (no trait-impl prefix) that happens to share foo's name.
	quuxFoo := "_ZN16dynamic_dispatch4Quux3foo17h0000000000000003E"

	items := []ir.Item{
		define("main", irtype.Sig{}, indirectCall(erasedSelf), directCall(quuxFoo)),
		define(barImpl, erasedSelf),
		define(bazImpl, erasedSelf),
		define(quuxFoo, concreteSelf),
	}
	mod := moduleFor("main", barImpl, bazImpl, quuxFoo)

	g, _, err := Reconcile(items, mod, Options{})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	label := erasedSelf.String() + "*"
	synthetic, ok := g.Node(label)
	if !ok {
		t.Fatalf("no synthetic node for %q", label)
	}
	succ := g.Successors(synthetic.Name)
	if contains(succ, quuxFoo) {
		t.Fatalf("synthetic trait node wrongly dispatches to Quux::foo: %v", succ)
	}
	if !contains(succ, barImpl) || !contains(succ, bazImpl) {
		t.Fatalf("synthetic trait node successors = %v, want Bar/Baz impls", succ)
	}
}

// "fmul" scenario: a 32-bit float multiply of an atomically-loaded value
// lowers to an ordinary direct call to the soft-float runtime helper on a
// target with no FPU; it needs no special-case handling, only the general
// direct-call edge path.
func TestReconcileFmulScenario(t *testing.T) {
	voidSig := irtype.Sig{}
	items := []ir.Item{
		define("main", voidSig, directCall("__aeabi_fmul")),
		define("__aeabi_fmul", voidSig),
	}
	mod := moduleFor("main", "__aeabi_fmul")

	g, _, err := Reconcile(items, mod, Options{})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	succ := g.Successors("main")
	if len(succ) != 1 || succ[0] != "__aeabi_fmul" {
		t.Fatalf("main successors = %v, want [__aeabi_fmul]", succ)
	}
}

// "memcmp-in-IR-not-in-ELF" scenario: a comparison the compiler lowered to
// `call @memcmp` in IR but to a machine instruction in the linked binary
// must not fail reconciliation; memcmp is silently dropped when no symbol
// of that name exists.
func TestReconcileMemcmpSymbollessIntrinsic(t *testing.T) {
	voidSig := irtype.Sig{}
	items := []ir.Item{
		define("main", voidSig, directCall("memcmp")),
	}
	mod := moduleFor("main")

	g, _, err := Reconcile(items, mod, Options{})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if succ := g.Successors("main"); len(succ) != 0 {
		t.Fatalf("main successors = %v, want none (memcmp has no symbol in the binary)", succ)
	}
}

// "core-fmt / panic-fmt" scenario: a program that drags in the formatting
// machinery (a `core::fmt::Display`-shaped indirect call into a Formatter)
// must still complete without a fatal error and end up with a computed
// worst-case bound for the entry point.
func TestReconcileCoreFmtScenario(t *testing.T) {
	boolOut := irtype.Integer(1)
	formatterSig := irtype.Sig{
		Inputs: []irtype.Type{
			irtype.Erased(),
			irtype.Pointer(irtype.Alias("core::fmt::Formatter")),
		},
		Output: &boolOut,
	}
	// <Foo as core::fmt::Display>::fmt::h0000000000000004, a real trait-impl
	// mangled name so it is recognized as a dyn-dispatch candidate despite
	// its erased `{}*` receiver.
	displayImpl := "_ZN21$LT$Foo$SP$as$SP$core3fmt11Display$GT$3fmt17h0000000000000004E"
	items := []ir.Item{
		define("main", irtype.Sig{}, indirectCall(formatterSig)),
		define(displayImpl, formatterSig),
	}
	mod := moduleFor("main", displayImpl)

	g, warnings, err := Reconcile(items, mod, Options{})
	if err != nil {
		t.Fatalf("Reconcile: %v (warnings: %v)", err, warnings)
	}
	g.ComputeMax()

	main, ok := g.Node("main")
	if !ok {
		t.Fatalf("main node missing")
	}
	if main.Max.Kind != MaxExact && main.Max.Kind != MaxLowerBound {
		t.Fatalf("main.Max.Kind = %v, want a computed bound", main.Max.Kind)
	}
}

// When the program contains untyped symbols, a synthetic indirect-call
// node with no typed candidates has exactly one outbound edge, to the
// shared unknown sink, and the caller's bound degrades to a lower bound.
func TestReconcileUntypedSymbolsRouteToUnknownSink(t *testing.T) {
	sig := irtype.Sig{Output: ptrTo(irtype.Integer(32))}
	items := []ir.Item{
		define("main", irtype.Sig{}, indirectCall(sig)),
	}
	mod := moduleFor("main")
	mod.Undefined = []string{"mystery_external"}

	g, _, err := Reconcile(items, mod, Options{})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	label := sig.String() + "*"
	succ := g.Successors(label)
	if len(succ) != 1 || succ[0] != unknownSink {
		t.Fatalf("synthetic node successors = %v, want exactly [%s]", succ, unknownSink)
	}
	main, ok := g.Node("main")
	if !ok {
		t.Fatal("main node missing")
	}
	if main.Max.Kind != MaxLowerBound {
		t.Fatalf("main.Max.Kind = %v, want lower bound (routes through unknown sink)", main.Max.Kind)
	}
}

// An indirect call-site whose signature carries an opaque `ptr` argument
// must still find candidates whose signature spells the same position as a
// typed pointer: bucket lookup uses the loose relation, not string
// equality of the printed forms.
func TestReconcileIndirectLooseMatchOpaquePointer(t *testing.T) {
	typed := irtype.Sig{
		Inputs: []irtype.Type{irtype.Pointer(irtype.Integer(8))},
		Output: ptrTo(irtype.Integer(1)),
	}
	opaque := irtype.Sig{
		Inputs: []irtype.Type{{Kind: irtype.KindOpaquePointer}},
		Output: ptrTo(irtype.Integer(1)),
	}
	items := []ir.Item{
		define("main", irtype.Sig{}, indirectCall(opaque)),
		define("handler", typed),
	}
	mod := moduleFor("main", "handler")

	g, _, err := Reconcile(items, mod, Options{})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	label := typed.String() + "*"
	synthetic, ok := g.Node(label)
	if !ok {
		t.Fatalf("no synthetic node for loosely-matched bucket %q", label)
	}
	if !contains(g.Successors(synthetic.Name), "handler") {
		t.Fatalf("synthetic successors = %v, want handler", g.Successors(synthetic.Name))
	}
	if !contains(g.Successors("main"), label) {
		t.Fatalf("main successors = %v, want %q", g.Successors("main"), label)
	}
}

func contains(xs []string, want string) bool {
	for _, x := range xs {
		if x == want {
			return true
		}
	}
	return false
}

func ptrTo(t irtype.Type) *irtype.Type { return &t }
