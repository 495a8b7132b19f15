package symbols

import (
	"bytes"
	"debug/elf"
	"fmt"
	"strconv"
	"strings"
)

// arMagic is the fixed 8-byte magic every "common" (System V / GNU) ar
// archive starts with.
const arMagic = "!<arch>\n"

// ArEntry is one member object extracted from an intrinsics archive
// (e.g. `libcompiler_builtins.rlib`), whose `.o` members the build
// driver needs to feed back into the reconciler alongside the crate's
// own IR.
type ArEntry struct {
	Name string
	Data []byte
}

// ParseAr extracts every named member from a GNU-format ar archive. No
// archive-reading library exists anywhere in the retrieved example pack,
// so this is a direct, minimal implementation of the format: a fixed
// 60-byte header per member (name, mtime, uid, gid, mode, size, magic)
// followed by the member's data, padded to an even offset.
func ParseAr(data []byte) ([]ArEntry, error) {
	if len(data) < len(arMagic) || string(data[:len(arMagic)]) != arMagic {
		return nil, fmt.Errorf("not an ar archive")
	}

	var longNames string
	var entries []ArEntry
	pos := len(arMagic)
	for pos+60 <= len(data) {
		header := data[pos : pos+60]
		pos += 60

		name := strings.TrimRight(string(header[0:16]), " ")
		sizeStr := strings.TrimSpace(string(header[48:58]))
		size, err := strconv.ParseInt(sizeStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad member size %q: %w", sizeStr, err)
		}
		if string(header[58:60]) != "`\n" {
			return nil, fmt.Errorf("bad ar header magic at offset %d", pos-60)
		}
		if pos+int(size) > len(data) {
			return nil, fmt.Errorf("member %q overruns archive", name)
		}
		body := data[pos : pos+int(size)]
		pos += int(size)
		if size%2 != 0 {
			pos++ // padding byte
		}

		switch {
		case name == "/":
			// the GNU symbol-table member; carries no object code
			continue
		case name == "//":
			// the GNU long-filename table: subsequent members reference an
			// offset into this table instead of carrying their own name
			longNames = string(body)
			continue
		case strings.HasPrefix(name, "/") && len(name) > 1:
			off, err := strconv.Atoi(name[1:])
			if err != nil {
				continue
			}
			name = extractLongName(longNames, off)
		default:
			name = strings.TrimSuffix(name, "/")
		}

		if name == "" {
			continue
		}
		entries = append(entries, ArEntry{Name: name, Data: body})
	}
	return entries, nil
}

func extractLongName(table string, offset int) string {
	if offset < 0 || offset >= len(table) {
		return ""
	}
	end := strings.IndexByte(table[offset:], '\n')
	if end < 0 {
		return strings.TrimRight(table[offset:], "/")
	}
	return strings.TrimRight(table[offset:offset+end], "/\r")
}

// LoadArchiveStackSizes reads every `.o` member of an intrinsics archive
// (the rlib path the compiler wrapper reported) and returns a
// name-keyed stack-size table: each member is itself an unlinked ELF
// object, so its own `.stack_sizes` section is keyed by an address that
// only makes sense relative to that one object's own symbol table, never
// across the whole archive or against the final linked executable. This
// is the intrinsics half of §4.3's "stack sizes from the intrinsics
// object archive and from the executable".
func LoadArchiveStackSizes(archive []byte) (map[string]uint64, error) {
	entries, err := ParseAr(archive)
	if err != nil {
		return nil, fmt.Errorf("reading intrinsics archive: %w", err)
	}

	out := map[string]uint64{}
	for _, e := range entries {
		if !strings.HasSuffix(e.Name, ".o") {
			continue
		}
		f, err := elf.NewFile(bytes.NewReader(e.Data))
		if err != nil {
			continue // not every archive member is a relocatable object (e.g. metadata)
		}
		sizes, err := objectStackSizes(f)
		if err != nil {
			continue
		}
		for name, sz := range sizes {
			out[name] = sz
		}
	}
	return out, nil
}

func memberStackSizes(f *elf.File) (map[uint32]uint64, error) {
	sec := f.Section(".stack_sizes")
	if sec == nil {
		return nil, nil
	}
	data, err := sec.Data()
	if err != nil {
		return nil, err
	}
	return parseStackSizes(data, f.ByteOrder, sec.Addralign)
}
