// Package symbols loads the ELF facts the reconciler cross-checks IR
// statements against: the symbol table (to find a function's address and
// byte extent), the `.stack_sizes` section GCC/LLVM emit
// (`-fstack-usage`-equivalent data for each function, keyed by address),
// and the `$d`/`$t` mapping symbols that mark data-versus-Thumb-code
// regions within a `.text` section.
package symbols

import (
	"debug/elf"
	"fmt"
	"sort"
	"strings"

	"github.com/armstack/callstack/internal/thumb"
)

// Symbol is one defined function symbol from the ELF symbol table, with
// its Thumb bit-0 address marker already cleared.
type Symbol struct {
	Name    string
	Address uint32
	Size    uint64 // st_size, the symbol's own declared byte extent
	Thumb   bool   // original st_value had bit 0 set
}

// Module is every ELF-derived fact the reconciler needs about one binary.
type Module struct {
	Defined    []Symbol          // sorted ascending by Address, then Name
	Undefined  []string          // version suffixes already stripped
	StackSizes map[uint32]uint64 // from .stack_sizes, keyed by function address
	Tags       []thumb.TaggedAddr
	ARM        bool // e_machine is EM_ARM; the machine-code cross-check applies
	text       *elf.Section

	// ArchiveStackSizes is keyed by symbol name rather than address: it
	// comes from the intrinsics object archive's own unlinked `.stack_sizes`
	// sections (LoadArchiveStackSizes), where addresses are meaningless
	// until the linker places each object, so name is the only stable key.
	// It is consulted only when the linked executable's own StackSizes has
	// no entry for a given address.
	ArchiveStackSizes map[string]uint64
}

// Load reads path and extracts every fact Module holds except
// ArchiveStackSizes, which the caller fills in. cmd/callstack calls it once
// per run; the reconciler then queries the Module through TextBytes and
// StackSizeForSymbol.
func Load(path string) (*Module, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening ELF file: %w", err)
	}
	defer f.Close()

	m := &Module{StackSizes: map[uint32]uint64{}, ARM: f.Machine == elf.EM_ARM}

	syms, err := f.Symbols()
	if err != nil {
		return nil, fmt.Errorf("reading symbol table: %w", err)
	}

	var mappingSyms []thumb.TaggedAddr
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC && elf.ST_TYPE(s.Info) != elf.STT_NOTYPE {
			continue
		}
		if s.Section == elf.SHN_UNDEF {
			if s.Name != "" {
				m.Undefined = append(m.Undefined, stripVersionSuffix(s.Name))
			}
			continue
		}
		if isMappingSymbol(s.Name) {
			addr, _ := normalizeThumbAddress(uint32(s.Value))
			tag := thumb.TagThumb
			if strings.HasPrefix(s.Name, "$d") {
				tag = thumb.TagData
			}
			mappingSyms = append(mappingSyms, thumb.TaggedAddr{Addr: addr, Tag: tag})
			continue
		}
		if s.Name == "" {
			continue
		}
		addr, thumbBit := normalizeThumbAddress(uint32(s.Value))
		m.Defined = append(m.Defined, Symbol{
			Name:    s.Name,
			Address: addr,
			Size:    s.Size,
			Thumb:   thumbBit,
		})
	}

	sort.Slice(m.Defined, func(i, j int) bool {
		if m.Defined[i].Address != m.Defined[j].Address {
			return m.Defined[i].Address < m.Defined[j].Address
		}
		return m.Defined[i].Name < m.Defined[j].Name
	})
	sort.Slice(mappingSyms, func(i, j int) bool { return mappingSyms[i].Addr < mappingSyms[j].Addr })
	m.Tags = mappingSyms

	if sec := f.Section(".text"); sec != nil {
		m.text = sec
	}

	if sec := f.Section(".stack_sizes"); sec != nil {
		data, err := sec.Data()
		if err != nil {
			return nil, fmt.Errorf("reading .stack_sizes: %w", err)
		}
		sizes, err := parseStackSizes(data, f.ByteOrder, sec.Addralign)
		if err != nil {
			return nil, fmt.Errorf(".stack_sizes: %w", err)
		}
		m.StackSizes = sizes
	}

	return m, nil
}

// TextBytes returns the raw bytes of the function at addr, using size if
// positive. A zero size borrows the extent up to the next `$d`/`$t` tag
// (a heuristic that assumes the tag table is well-ordered), falling back
// to the next defined symbol when no tag follows.
func (m *Module) TextBytes(addr uint32, size uint64) ([]byte, error) {
	if m.text == nil {
		return nil, fmt.Errorf("no .text section")
	}
	data, err := m.text.Data()
	if err != nil {
		return nil, fmt.Errorf("reading .text: %w", err)
	}
	base := uint32(m.text.Addr)
	if addr < base || uint64(addr-base) >= uint64(len(data)) {
		return nil, fmt.Errorf("address %#x outside .text", addr)
	}
	start := addr - base
	end := start + uint32(size)
	if size == 0 {
		end = uint32(len(data))
		if next, ok := m.nextBoundary(addr); ok && next > base {
			if candidate := next - base; candidate < end {
				end = candidate
			}
		}
	}
	if uint64(end) > uint64(len(data)) {
		end = uint32(len(data))
	}
	return data[start:end], nil
}

// nextBoundary is where a zero-sized symbol's code can be assumed to end:
// the next mapping-symbol tag past addr, else the next defined symbol.
func (m *Module) nextBoundary(addr uint32) (uint32, bool) {
	i := sort.Search(len(m.Tags), func(i int) bool { return m.Tags[i].Addr > addr })
	if i < len(m.Tags) {
		return m.Tags[i].Addr, true
	}
	return m.nextDefinedAddress(addr)
}

func (m *Module) nextDefinedAddress(addr uint32) (uint32, bool) {
	i := sort.Search(len(m.Defined), func(i int) bool { return m.Defined[i].Address > addr })
	if i < len(m.Defined) {
		return m.Defined[i].Address, true
	}
	return 0, false
}

// StackSizeFor looks addr up in the executable's own `.stack_sizes`
// section. No positional guessing: a missing entry means the compiler
// reported nothing for that function, and the reconciler must fall back to
// machine-code analysis or leave the local size unknown.
func (m *Module) StackSizeFor(addr uint32) (uint64, bool) {
	sz, ok := m.StackSizes[addr]
	return sz, ok
}

// StackSizeForSymbol extends StackSizeFor with the intrinsics-archive
// fallback: when the linked executable's own `.stack_sizes` section has
// no entry reachable from addr (e.g. a prebuilt compiler_builtins that was
// linked in without that section surviving), fall back to the name-keyed
// table the archive loader built from the intrinsics object's own
// unlinked `.stack_sizes` section.
func (m *Module) StackSizeForSymbol(addr uint32, name string) (uint64, bool) {
	if sz, ok := m.StackSizeFor(addr); ok {
		return sz, true
	}
	sz, ok := m.ArchiveStackSizes[name]
	return sz, ok
}

func isMappingSymbol(name string) bool {
	return strings.HasPrefix(name, "$d") || strings.HasPrefix(name, "$t")
}

// normalizeThumbAddress clears bit 0 (the ARM "this is Thumb code" marker
// ELF uses for function symbol values) and reports whether it was set.
func normalizeThumbAddress(v uint32) (addr uint32, wasThumb bool) {
	if v&1 != 0 {
		return v &^ 1, true
	}
	return v, false
}

// stripVersionSuffix removes a GNU symbol-versioning suffix
// (`name@@VERSION` or `name@VERSION`), which `.stack_sizes` and the IR
// never carry.
func stripVersionSuffix(name string) string {
	if i := strings.IndexByte(name, '@'); i >= 0 {
		return name[:i]
	}
	return name
}

// CanonicalName picks one name to represent a set of symbols that alias
// the same address: the first alias in encounter order, skipping empty
// names. The caller prefers an alias with a stack-size entry before
// falling back here.
func CanonicalName(names []string) string {
	for _, n := range names {
		if n != "" {
			return n
		}
	}
	return ""
}
