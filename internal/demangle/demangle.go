// Package demangle turns Rust's legacy name-mangling scheme back into a
// readable path. No published Go module implements this mangling scheme,
// so it is a direct hand-rolled implementation of the legacy (pre-v0)
// grammar: a `_ZN` prefix, a sequence of decimal-length-prefixed path
// segments with `$...$`-escaped punctuation, and a trailing
// `h<16 hex digits>` disambiguator segment, closed by one `E` per opened
// group.
package demangle

import (
	"strconv"
	"strings"
)

var escapes = map[string]string{
	"SP":  " ",
	"BP":  "*",
	"RF":  "&",
	"LT":  "<",
	"GT":  ">",
	"LP":  "(",
	"RP":  ")",
	"C":   ",",
	"u7e": "~",
	"u20": " ",
	"u27": "'",
	"u22": "\"",
	"u7b": "{",
	"u7d": "}",
	"u5b": "[",
	"u5d": "]",
	"u3b": ";",
}

// Demangle converts a mangled symbol name to its source-level path. Names
// that do not match the legacy `_ZN...E` grammar are returned unchanged,
// since plain C symbols (`memcpy`, `main`) are valid, unmangled names.
func Demangle(name string) string {
	s := name
	s = strings.TrimPrefix(s, "_ZN")
	if s == name {
		return name
	}

	var segs []string
	for len(s) > 0 && s[0] != 'E' {
		i := 0
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
		}
		if i == 0 {
			break
		}
		n, err := strconv.Atoi(s[:i])
		if err != nil || n > len(s)-i {
			break
		}
		s = s[i:]
		segs = append(segs, unescape(s[:n]))
		s = s[n:]
	}
	if len(segs) == 0 {
		return name
	}
	return strings.Join(segs, "::")
}

func unescape(seg string) string {
	var b strings.Builder
	for i := 0; i < len(seg); {
		if seg[i] != '$' {
			b.WriteByte(seg[i])
			i++
			continue
		}
		end := strings.IndexByte(seg[i+1:], '$')
		if end < 0 {
			b.WriteByte(seg[i])
			i++
			continue
		}
		token := seg[i+1 : i+1+end]
		if rep, ok := escapes[token]; ok {
			b.WriteString(rep)
		} else if strings.HasPrefix(token, "u") {
			if cp, err := strconv.ParseInt(token[1:], 16, 32); err == nil {
				b.WriteRune(rune(cp))
			}
		}
		i += 1 + end + 1
	}
	return b.String()
}

// Dehash strips the trailing `::h<16 hex digits>` disambiguator segment a
// demangled legacy Rust path always carries, so a display label can omit
// it when the remaining path is globally unique across the binary.
func Dehash(demangled string) string {
	i := strings.LastIndex(demangled, "::h")
	if i < 0 {
		return demangled
	}
	hash := demangled[i+3:]
	if len(hash) != 16 || !isHex(hash) {
		return demangled
	}
	return demangled[:i]
}

func isHex(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		default:
			return false
		}
	}
	return true
}

// TraitImplMethod recognizes a demangled `<Type as crate::Trait>::method::h...`
// path and returns the synthetic `dyn Trait::method` node name the
// reconciler uses as a default-method dispatch bucket, mirroring how a
// trait object's vtable calls resolve at runtime. ok is false for any
// other shape of path.
func TraitImplMethod(demangled string) (name string, ok bool) {
	if !strings.HasPrefix(demangled, "<") {
		return "", false
	}
	body := demangled[1:]
	sep := strings.LastIndex(body, ">::")
	if sep < 0 {
		return "", false
	}
	typeAsTrait := body[:sep]
	methodHash := body[sep+len(">::"):]

	asIdx := strings.Index(typeAsTrait, " as ")
	if asIdx < 0 {
		return "", false
	}
	traitPath := typeAsTrait[asIdx+len(" as "):]
	// drop the leading crate name component; call-site metadata never
	// includes it.
	if c := strings.Index(traitPath, "::"); c >= 0 {
		traitPath = traitPath[c+2:]
	}

	method := methodHash
	if c := strings.Index(methodHash, "::"); c >= 0 {
		method = methodHash[:c]
	}

	return "dyn " + traitPath + "::" + method, true
}
