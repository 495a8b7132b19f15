package callgraph

import (
	"sort"
	"strings"

	"github.com/armstack/callstack/internal/demangle"
	"github.com/armstack/callstack/internal/diag"
	"github.com/armstack/callstack/internal/ir"
	"github.com/armstack/callstack/internal/irtype"
	"github.com/armstack/callstack/internal/symbols"
	"github.com/armstack/callstack/internal/thumb"
)

// unknownSink is the name of the single synthetic node every untyped or
// irreducible indirect call eventually routes through, forcing any bound
// that depends on it to degrade to a lower bound.
const unknownSink = "*unknown*"

// memcpyFamilies is the set of alternate entry points the reconciler tries,
// in order, when an `llvm.memcpy`/`memset`/`memmove` intrinsic needs to be
// expanded to a real callee on a non-Thumb target.
var memcpyFamilies = []string{"memcpy", "__aeabi_memcpy", "__aeabi_memcpy4"}
var memsetFamilies = []string{"memset", "__aeabi_memset", "__aeabi_memset4"}
var memmoveFamilies = []string{"memmove", "__aeabi_memmove"}

// symbollessIntrinsics never resolve to a real symbol in a Rust binary; a
// call to one is silently dropped rather than treated as a dangling edge.
var symbollessIntrinsics = map[string]bool{"memcmp": true}

// arithmeticIntrinsicPrefixes is the closed list of `llvm.*` intrinsics
// that "lower to instructions": the compiler never emits a real call for
// them, so they contribute no edge and no warning.
var arithmeticIntrinsicPrefixes = []string{
	"llvm.bswap.",
	"llvm.ctlz.",
	"llvm.cttz.",
	"llvm.sadd.with.overflow.",
	"llvm.smul.with.overflow.",
	"llvm.ssub.with.overflow.",
	"llvm.uadd.sat.",
	"llvm.uadd.with.overflow.",
	"llvm.umax.",
	"llvm.umin.",
	"llvm.umul.with.overflow.",
	"llvm.usub.sat.",
	"llvm.usub.with.overflow.",
	"llvm.abs.",
	"llvm.vector.reduce.",
	"llvm.x86.",
	"llvm.experimental.noalias.scope.decl",
}

// noopIntrinsicPrefixes never contribute an edge and never warn: they carry
// debug info, lifetime markers or optimizer assumptions, or (llvm.trap)
// lower to a single trap instruction.
var noopIntrinsicPrefixes = []string{"llvm.dbg.", "llvm.lifetime.", "llvm.assume", "llvm.trap"}

// Options configures one reconciliation run.
type Options struct {
	// Thumb selects the ARMv6-M/ARMv7-M machine-code cross-check (step 6).
	Thumb bool
	// ThumbV7 selects the ARMv7-M-only instruction forms inside the
	// cross-check (32-bit STMDB, VPUSH, etc.).
	ThumbV7 bool
	// StartSymbol, if non-empty, filters the finished graph to the
	// subgraph reachable from it (step 9).
	StartSymbol string
}

// Reconciler fuses the parser's items, the ELF loader's tables, and (on
// Thumb targets) the machine-code decoder's results into one graph,
// following the eleven-step sequence laid out in Reconcile.
type Reconciler struct {
	g               *Graph
	aliases         map[string]string // any alias -> canonical name
	buckets         []*sigBucket      // per-signature candidate buckets, insertion order
	bucketIdx       map[string]*sigBucket
	formatter       sigBucket    // the shared formatter-dispatch bucket (step 8)
	formatterSigs   []irtype.Sig // every formatter-shaped candidate signature observed
	defaultMethods  map[string]bool
	traitCandidates map[string]bool
	dehashCounts    map[string]int
	warnings        []string
	indirectSites   []indirectSite
}

// sigBucket collects the candidate callees sharing one printed signature,
// plus the callers of every live indirect call-site that loosely matches
// it.
type sigBucket struct {
	sig     irtype.Sig
	key     string
	names   []string // candidate callees, insertion order
	callers []string // callers of matching indirect call-sites
}

func newReconciler() *Reconciler {
	return &Reconciler{
		g:               New(),
		aliases:         map[string]string{},
		bucketIdx:       map[string]*sigBucket{},
		defaultMethods:  map[string]bool{},
		traitCandidates: map[string]bool{},
		dehashCounts:    map[string]int{},
	}
}

// Reconcile builds the finished, propagated graph from one module's
// parsed IR items and ELF/Thumb facts.
func Reconcile(items []ir.Item, mod *symbols.Module, opts Options) (*Graph, []string, error) {
	r := newReconciler()

	// Step 1: canonicalize symbols by address.
	byAddr := map[uint32][]symbols.Symbol{}
	for _, s := range mod.Defined {
		byAddr[s.Address] = append(byAddr[s.Address], s)
	}
	for _, syms := range byAddr {
		canonical := canonicalFor(syms, mod.StackSizes)
		for _, s := range syms {
			r.aliases[s.Name] = canonical
		}
	}

	// defines is kept both as a lookup table (random-access existence and
	// body checks, e.g. containsInlineAsm) and, separately, as defineOrder,
	// the same definitions in the textual IR's own item order. Every loop
	// below that calls Intern/AddEdge/indexCandidate walks defineOrder, not
	// the map directly: Go's map iteration order is randomized per process,
	// and ranging over defines directly would make node-creation order (and
	// therefore the rendered `dot` document) nondeterministic across runs
	// of the same input.
	defines := map[string]*ir.Define{}
	var defineOrder []*ir.Define
	for _, it := range items {
		if it.Kind == ir.ItemDefine {
			defines[it.Define.Name] = it.Define
			defineOrder = append(defineOrder, it.Define)
		}
	}

	// byAddr is likewise only ever walked through addrOrder, the same
	// addresses sorted ascending (mod.Defined is already address-sorted by
	// symbols.Load, so this just recovers that order from the map).
	var addrOrder []uint32
	for addr := range byAddr {
		addrOrder = append(addrOrder, addr)
	}
	sort.Slice(addrOrder, func(i, j int) bool { return addrOrder[i] < addrOrder[j] })

	// Step 2: collect default-method names from trait-impl demangled paths.
	for _, def := range defineOrder {
		demangled := demangle.Demangle(r.canonicalize(def.Name))
		if _, ok := demangle.TraitImplMethod(demangled); ok {
			bare, _ := demangle.TraitImplMethod(demangle.Dehash(demangled))
			r.defaultMethods[bare] = true
		}
	}
	// A symbol can participate in dynamic dispatch (be a candidate behind an
	// erased-receiver `{}*` vtable call) either because it is itself a
	// `<T as Trait>::method` impl, or because it is the trait's own shared
	// default-method body reused, unoverridden, by some impl's vtable slot
	// (recognized by its bare dehashed name matching a `dyn Trait::method`
	// entry collected above). A same-named, same-shaped inherent method on
	// an unrelated type is neither, and is never added to this set.
	for _, def := range defineOrder {
		canonical := r.canonicalize(def.Name)
		demangled := demangle.Demangle(canonical)
		if _, ok := demangle.TraitImplMethod(demangled); ok {
			r.traitCandidates[canonical] = true
			continue
		}
		if r.defaultMethods["dyn "+demangle.Dehash(demangled)] {
			r.traitCandidates[canonical] = true
		}
	}

	// Step 3: create nodes, tracking dehash ambiguity.
	for _, addr := range addrOrder {
		syms := byAddr[addr]
		canonical := canonicalFor(syms, mod.StackSizes)
		n := r.g.Intern(canonical)
		if sz, ok := mod.StackSizeForSymbol(addr, canonical); ok {
			n.Local = Local{Kind: LocalExact, Bytes: sz}
		} else {
			n.Local = Local{Kind: LocalUnknown}
		}
		dehashed := demangle.Dehash(demangle.Demangle(canonical))
		r.dehashCounts[dehashed]++
	}

	// Step 4: index indirect-call candidates by signature. Declarations
	// count too: an external function can sit behind a function pointer
	// just as well as a local one. Intrinsic declarations never can.
	for _, def := range defineOrder {
		r.indexCandidate(r.canonicalize(def.Name), def.Sig)
	}
	for _, it := range items {
		if it.Kind != ir.ItemDeclare || it.Declare.Name == "" {
			continue
		}
		if strings.HasPrefix(it.Declare.Name, "llvm.") {
			continue
		}
		r.indexCandidate(r.canonicalize(it.Declare.Name), it.Declare.Sig)
	}

	// Step 5: walk statements per definition.
	for _, def := range defineOrder {
		caller := r.canonicalize(def.Name)
		r.g.Intern(caller)
		asmWarned := false
		for _, st := range def.Stmts {
			switch st.Kind {
			case ir.StmtAsm:
				if !asmWarned {
					r.warnf("function %s contains inline assembly; assuming it does not call out", caller)
					asmWarned = true
				}
			case ir.StmtBitcastCall:
				r.g.AddEdge(caller, r.canonicalize(st.Callee))
			case ir.StmtCall:
				r.directCall(caller, st.Callee, opts)
			case ir.StmtIndirectCall:
				r.indirectSites = append(r.indirectSites, indirectSite{caller: caller, sig: st.Sig})
			}
		}
	}

	// Step 6: machine-code cross-check, Thumb targets only.
	if opts.Thumb {
		if err := r.thumbCrossCheck(mod, addrOrder, byAddr, defines, opts.ThumbV7); err != nil {
			return nil, nil, err
		}
	}

	// Step 8: formatter-dispatch canonicalization, before synthesizing
	// indirect nodes so step 7 sees the rewritten signatures.
	r.canonicalizeFormatterDispatch()

	// Step 7: synthesize indirect-call nodes.
	r.synthesizeIndirectNodes(mod)

	// Step 9: optional reachability filter.
	if opts.StartSymbol != "" {
		if err := r.g.FilterReachable(opts.StartSymbol); err != nil {
			return nil, r.warnings, err
		}
	}

	// Step 10: propagate.
	r.g.ComputeMax()

	// Step 11: shorten labels.
	r.shortenLabels()

	return r.g, r.warnings, nil
}

type indirectSite struct {
	caller string
	sig    irtype.Sig
}

func (r *Reconciler) canonicalize(name string) string {
	if c, ok := r.aliases[name]; ok {
		return c
	}
	return name
}

func canonicalFor(syms []symbols.Symbol, stackSizes map[uint32]uint64) string {
	var names []string
	for _, s := range syms {
		names = append(names, s.Name)
	}
	for _, s := range syms {
		if _, ok := stackSizes[s.Address]; ok {
			return s.Name
		}
	}
	return symbols.CanonicalName(names)
}

func (r *Reconciler) warnf(format string, args ...any) {
	r.warnings = append(r.warnings, diag.Newf(diag.Warning, format, args...).Error())
}

func (r *Reconciler) indexCandidate(name string, sig irtype.Sig) {
	if len(sig.Inputs) > 0 && sig.Inputs[0].HasBeenErased() && !r.traitCandidates[name] {
		// An erased-receiver (`{}*`) first parameter is Rust's vtable calling
		// convention for `dyn Trait` dispatch; a same-shaped inherent method
		// on an unrelated type can never actually occupy that vtable slot, so
		// it is excluded from the bucket entirely rather than left to produce
		// a spurious synthetic edge.
		return
	}
	b := r.bucketFor(sig)
	b.names = append(b.names, name)
	if isFormatterSig(sig) {
		r.formatter.names = append(r.formatter.names, name)
		r.formatterSigs = append(r.formatterSigs, sig)
	}
}

func (r *Reconciler) bucketFor(sig irtype.Sig) *sigBucket {
	key := sig.String()
	if b, ok := r.bucketIdx[key]; ok {
		return b
	}
	b := &sigBucket{sig: sig, key: key}
	r.bucketIdx[key] = b
	r.buckets = append(r.buckets, b)
	return b
}

// isFormatterSig recognizes the `(ptr, *core::fmt::Formatter) -> i1`
// shape the Rust compiler emits for `core::fmt::Display`/`Debug` vtable
// shims.
func isFormatterSig(sig irtype.Sig) bool {
	if len(sig.Inputs) != 2 || sig.Output == nil {
		return false
	}
	out := *sig.Output
	if out.Kind != irtype.KindInteger || out.Width != 1 {
		return false
	}
	second := sig.Inputs[1]
	if second.Kind != irtype.KindPointer || second.Elem == nil {
		return false
	}
	return second.Elem.Kind == irtype.KindAlias && strings.Contains(second.Elem.Name, "core::fmt::Formatter")
}

func (r *Reconciler) directCall(caller, callee string, opts Options) {
	if strings.HasPrefix(callee, "llvm.") {
		r.directIntrinsic(caller, callee, opts)
		return
	}
	if symbollessIntrinsics[callee] {
		if _, ok := r.g.Node(r.canonicalize(callee)); !ok {
			return // no symbol in the binary; silently dropped
		}
	}
	r.g.AddEdge(caller, r.canonicalize(callee))
}

func (r *Reconciler) directIntrinsic(caller, callee string, opts Options) {
	for _, p := range noopIntrinsicPrefixes {
		if strings.HasPrefix(callee, p) {
			return
		}
	}
	if opts.Thumb {
		// deferred to the machine-code cross-check; no IR-level edge.
		return
	}
	for _, p := range arithmeticIntrinsicPrefixes {
		if strings.HasPrefix(callee, p) {
			return
		}
	}
	switch {
	case strings.HasPrefix(callee, "llvm.memcpy."):
		r.expandToFamily(caller, memcpyFamilies)
		return
	case strings.HasPrefix(callee, "llvm.memset."):
		r.expandToFamily(caller, memsetFamilies)
		return
	case strings.HasPrefix(callee, "llvm.memmove."):
		r.expandToFamily(caller, memmoveFamilies)
		return
	}
	diag.Bugf("unhandled LLVM intrinsic %s", callee)
}

func (r *Reconciler) expandToFamily(caller string, family []string) {
	added := false
	for _, name := range family {
		if _, ok := r.g.Node(r.canonicalize(name)); ok {
			r.g.AddEdge(caller, r.canonicalize(name))
			added = true
		}
	}
	if !added {
		r.warnf("no member of %v found in binary for intrinsic call from %s", family, caller)
	}
}

// canonicalizeFormatterDispatch picks the one signature every
// formatter-shaped call-site and candidate is rewritten to: a first
// argument of `fmt::Void` wins, else any `core::fmt::Void`-prefixed
// alias, else the unique observed form.
func (r *Reconciler) canonicalizeFormatterDispatch() {
	sigs := append([]irtype.Sig{}, r.formatterSigs...)
	for _, site := range r.indirectSites {
		if isFormatterSig(site.sig) {
			sigs = append(sigs, site.sig)
		}
	}
	if len(sigs) == 0 {
		return
	}

	seen := map[string]bool{}
	var distinct []irtype.Sig
	for _, s := range sigs {
		if k := s.String(); !seen[k] {
			seen[k] = true
			distinct = append(distinct, s)
		}
	}

	chosen := -1
	for i := range distinct {
		if voidNameOf(distinct[i]) == "fmt::Void" {
			chosen = i
			break
		}
	}
	if chosen < 0 {
		for i := range distinct {
			if strings.HasPrefix(voidNameOf(distinct[i]), "core::fmt::Void") {
				chosen = i
				break
			}
		}
	}
	if chosen < 0 {
		if len(distinct) > 1 {
			r.warnf("no canonical formatter void type among %d observed signatures; using %s", len(distinct), distinct[0].String())
		}
		chosen = 0
	}
	r.formatter.sig = distinct[chosen]
	r.formatter.key = distinct[chosen].String()
}

// voidNameOf returns the alias name behind the first argument's pointer,
// the position where the compiler writes its formatter void type.
func voidNameOf(sig irtype.Sig) string {
	if len(sig.Inputs) == 0 {
		return ""
	}
	first := sig.Inputs[0]
	if first.Kind != irtype.KindPointer || first.Elem == nil || first.Elem.Kind != irtype.KindAlias {
		return ""
	}
	return first.Elem.Name
}

func (r *Reconciler) synthesizeIndirectNodes(mod *symbols.Module) {
	// A formatter-shaped site routes to the shared formatter bucket; any
	// other site marks every bucket whose signature it loosely matches.
	// A site matching nothing still gets a bucket of its own, so the call
	// degrades the caller's bound instead of vanishing.
	var live []*sigBucket
	liveSeen := map[*sigBucket]bool{}
	mark := func(b *sigBucket, caller string) {
		if !liveSeen[b] {
			liveSeen[b] = true
			live = append(live, b)
		}
		b.callers = append(b.callers, caller)
	}
	for _, site := range r.indirectSites {
		if isFormatterSig(site.sig) {
			mark(&r.formatter, site.caller)
			continue
		}
		matched := false
		for _, b := range r.buckets {
			if b.sig.LooseEqual(site.sig) {
				mark(b, site.caller)
				matched = true
			}
		}
		if !matched {
			mark(r.bucketFor(site.sig), site.caller)
		}
	}

	anyUntyped := len(mod.Undefined) > 0
	for _, b := range live {
		label := b.key + "*"
		synthetic := r.g.Intern(label)
		synthetic.Synthetic = true
		synthetic.Local = Local{Kind: LocalExact, Bytes: 0}
		for _, caller := range b.callers {
			r.g.AddEdge(caller, label)
		}
		for _, callee := range b.names {
			r.g.AddEdge(label, callee)
		}
		if anyUntyped {
			r.g.AddEdge(label, unknownSink)
			sink := r.g.Intern(unknownSink)
			sink.Synthetic = true
			sink.Local = Local{Kind: LocalUnknown}
		}
	}
}

func (r *Reconciler) thumbCrossCheck(mod *symbols.Module, addrOrder []uint32, byAddr map[uint32][]symbols.Symbol, defines map[string]*ir.Define, v7 bool) error {
	addrToName := map[uint32]string{}
	for addr, syms := range byAddr {
		addrToName[addr] = canonicalFor(syms, mod.StackSizes)
	}

	for _, addr := range addrOrder {
		syms := byAddr[addr]
		name := canonicalFor(syms, mod.StackSizes)
		size := syms[0].Size
		for _, s := range syms {
			if s.Size > size {
				size = s.Size
			}
		}

		text, err := mod.TextBytes(addr, size)
		if err != nil {
			continue // symbol outside .text (e.g. a data alias); nothing to decode
		}
		result := thumb.Analyze(text, addr, v7, mod.Tags)
		extent := uint64(len(text)) // covers the zero-size case TextBytes inferred

		// The decoder's branch targets are offsets from the function's own
		// first byte; resolving one means rebasing it onto addr first.
		for _, off := range result.BLTargets {
			callee, ok := resolveThumbTarget(addrToName, addr, off)
			if !ok {
				diag.Bugf("BL from %s targets %#x, which has no symbol", name, int64(addr)+int64(off))
			}
			r.g.AddEdge(name, callee)
		}
		for _, off := range result.BTargets {
			if off >= 0 && uint64(off) < extent {
				continue // intra-function control flow, not a call
			}
			if callee, ok := resolveThumbTarget(addrToName, addr, off); ok {
				r.g.AddEdge(name, callee)
			}
		}

		sC, hasCompiler := mod.StackSizeForSymbol(addr, name)
		n := r.g.Intern(name)
		switch {
		case hasCompiler && result.Stack != nil:
			sM := *result.Stack
			if sC == sM {
				// OK, keep the compiler's reported exact value.
			} else if containsInlineAsm(defines, name) {
				n.Local = Local{Kind: LocalExact, Bytes: sM}
			} else if strings.HasPrefix(name, "OUTLINED_FUNCTION_") && sC == 0 {
				n.Local = Local{Kind: LocalExact, Bytes: sM}
			} else {
				diag.Bugf("stack-size disagreement for %s: compiler says %d, decoder says %d", name, sC, sM)
			}
		case !hasCompiler && result.Stack != nil:
			n.Local = Local{Kind: LocalExact, Bytes: *result.Stack}
		case result.Stack == nil && !result.ModifiesSP:
			n.Local = Local{Kind: LocalExact, Bytes: 0}
		}

		if result.Indirect {
			if _, ok := defines[name]; !ok {
				sink := r.g.Intern(unknownSink)
				sink.Synthetic = true
				sink.Local = Local{Kind: LocalUnknown}
				r.g.AddEdge(name, unknownSink)
			}
		}
	}
	return nil
}

// resolveThumbTarget maps a function-relative branch offset to the symbol
// at its absolute address. Addresses may be off by one because of the
// Thumb bit.
func resolveThumbTarget(addrToName map[uint32]string, base uint32, offset int32) (string, bool) {
	abs := int64(base) + int64(offset)
	if abs < 0 {
		return "", false
	}
	addr := uint32(abs)
	if name, ok := addrToName[addr]; ok {
		return name, true
	}
	if name, ok := addrToName[addr&^1]; ok {
		return name, true
	}
	if name, ok := addrToName[addr|1]; ok {
		return name, true
	}
	return "", false
}

func containsInlineAsm(defines map[string]*ir.Define, name string) bool {
	def, ok := defines[name]
	if !ok {
		return false
	}
	for _, st := range def.Stmts {
		if st.Kind == ir.StmtAsm {
			return true
		}
	}
	return false
}

func (r *Reconciler) shortenLabels() {
	for _, n := range r.g.Nodes() {
		if n.Synthetic {
			continue
		}
		demangled := demangle.Demangle(n.Name)
		dehashed := demangle.Dehash(demangled)
		if dehashed == demangled {
			continue // no hash suffix to strip; nothing gained by shortening
		}
		if r.dehashCounts[dehashed] <= 1 {
			n.DisplayName = dehashed
		} else {
			n.DisplayName = demangled
		}
	}
}
