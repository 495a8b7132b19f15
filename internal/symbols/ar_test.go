package symbols

import (
	"bytes"
	"fmt"
	"testing"
)

// buildArMember encodes one GNU ar member header + body + padding.
func buildArMember(name string, body []byte) []byte {
	var b bytes.Buffer
	header := fmt.Sprintf("%-16s%-12s%-6s%-6s%-8s%-10d", name, "0", "0", "0", "644", len(body))
	b.WriteString(header)
	b.WriteString("`\n")
	b.Write(body)
	if len(body)%2 != 0 {
		b.WriteByte('\n')
	}
	return b.Bytes()
}

func TestParseArNotAnArchive(t *testing.T) {
	if _, err := ParseAr([]byte("not an archive")); err == nil {
		t.Fatal("expected an error for non-archive input")
	}
}

func TestParseArShortNames(t *testing.T) {
	var data bytes.Buffer
	data.WriteString(arMagic)
	data.Write(buildArMember("foo.o/", []byte("AA")))
	data.Write(buildArMember("bar.o/", []byte("BBB")))

	entries, err := ParseAr(data.Bytes())
	if err != nil {
		t.Fatalf("ParseAr: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Name != "foo.o" || string(entries[0].Data) != "AA" {
		t.Errorf("entries[0] = %+v", entries[0])
	}
	if entries[1].Name != "bar.o" || string(entries[1].Data) != "BBB" {
		t.Errorf("entries[1] = %+v", entries[1])
	}
}

func TestParseArLongNameTable(t *testing.T) {
	longName := "a_very_long_intrinsics_object_name_that_does_not_fit_in_16_bytes.o"
	longNameTable := longName + "/\n"

	var data bytes.Buffer
	data.WriteString(arMagic)
	data.Write(buildArMember("//", []byte(longNameTable)))
	data.Write(buildArMember("/0", []byte("CODE")))

	entries, err := ParseAr(data.Bytes())
	if err != nil {
		t.Fatalf("ParseAr: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Name != longName {
		t.Errorf("entries[0].Name = %q, want %q", entries[0].Name, longName)
	}
	if string(entries[0].Data) != "CODE" {
		t.Errorf("entries[0].Data = %q, want %q", entries[0].Data, "CODE")
	}
}

func TestParseArSkipsSymbolTableMember(t *testing.T) {
	var data bytes.Buffer
	data.WriteString(arMagic)
	data.Write(buildArMember("/", []byte("symtab-bytes")))
	data.Write(buildArMember("real.o/", []byte("X")))

	entries, err := ParseAr(data.Bytes())
	if err != nil {
		t.Fatalf("ParseAr: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "real.o" {
		t.Fatalf("entries = %+v, want exactly real.o", entries)
	}
}

func TestLoadArchiveStackSizesSkipsNonObjectMembers(t *testing.T) {
	var data bytes.Buffer
	data.WriteString(arMagic)
	data.Write(buildArMember("README/", []byte("not an object file")))

	sizes, err := LoadArchiveStackSizes(data.Bytes())
	if err != nil {
		t.Fatalf("LoadArchiveStackSizes: %v", err)
	}
	if len(sizes) != 0 {
		t.Fatalf("expected no sizes from a non-.o member, got %v", sizes)
	}
}
