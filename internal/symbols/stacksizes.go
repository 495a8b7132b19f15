package symbols

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
)

// LoadObjectStackSizes reads the name-keyed `.stack_sizes` table of one
// relocatable object — the `.o` the compiler emitted next to its `.ll`.
// An object's addresses are section-relative, so the accompanying symbol
// table is what makes them usable as keys.
func LoadObjectStackSizes(path string) (map[string]uint64, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening object %s: %w", path, err)
	}
	defer f.Close()
	return objectStackSizes(f)
}

// objectStackSizes resolves one object's `.stack_sizes` records through
// its own symbol table into a name-keyed map. A missing section yields an
// empty result, not an error.
func objectStackSizes(f *elf.File) (map[string]uint64, error) {
	sizes, err := memberStackSizes(f)
	if err != nil || len(sizes) == 0 {
		return nil, err
	}
	syms, err := f.Symbols()
	if err != nil {
		return nil, err
	}
	out := map[string]uint64{}
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Name == "" {
			continue
		}
		addr, _ := normalizeThumbAddress(uint32(s.Value))
		if sz, ok := sizes[addr]; ok {
			out[s.Name] = sz
		}
	}
	return out, nil
}

// parseStackSizes decodes the `.stack_sizes` section format LLVM emits
// with `-fstack-usage`-equivalent `-Z emit-stack-sizes`: a repeating
// sequence of (4-byte function address, ULEB128-encoded stack size in
// bytes), one record per function, until the section ends.
func parseStackSizes(data []byte, order binary.ByteOrder, _ uint64) (map[uint32]uint64, error) {
	out := map[uint32]uint64{}
	pos := 0
	for pos < len(data) {
		if pos+4 > len(data) {
			return nil, fmt.Errorf("truncated address at offset %d", pos)
		}
		addr := order.Uint32(data[pos : pos+4])
		pos += 4
		size, n, err := decodeULEB128(data[pos:])
		if err != nil {
			return nil, fmt.Errorf("decoding size at offset %d: %w", pos, err)
		}
		pos += n
		out[addr] = size
	}
	return out, nil
}

func decodeULEB128(data []byte) (value uint64, n int, err error) {
	var shift uint
	for {
		if n >= len(data) {
			return 0, n, fmt.Errorf("unterminated ULEB128")
		}
		b := data[n]
		n++
		value |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return value, n, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, n, fmt.Errorf("ULEB128 too long")
		}
	}
}
