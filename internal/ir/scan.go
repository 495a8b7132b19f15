package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// scanner is a byte cursor over a single line of textual LLVM IR. It
// works over a string slice rather than maintaining rune-at-a-time state,
// since IR lines are ASCII and every grammar rule here only needs
// byte-level lookahead.
type scanner struct {
	s   string
	pos int
}

func newScanner(s string) *scanner { return &scanner{s: s} }

func (sc *scanner) rest() string { return sc.s[sc.pos:] }

func (sc *scanner) eof() bool { return sc.pos >= len(sc.s) }

func (sc *scanner) peek() byte {
	if sc.eof() {
		return 0
	}
	return sc.s[sc.pos]
}

func (sc *scanner) peekAt(off int) byte {
	if sc.pos+off >= len(sc.s) {
		return 0
	}
	return sc.s[sc.pos+off]
}

func (sc *scanner) advance() byte {
	b := sc.peek()
	sc.pos++
	return b
}

// expect consumes a literal byte or fails.
func (sc *scanner) expect(b byte) error {
	if sc.peek() != b {
		return fmt.Errorf("expected %q, found %q", b, sc.peek())
	}
	sc.pos++
	return nil
}

// tag consumes a literal keyword/tag if present.
func (sc *scanner) tag(t string) bool {
	if strings.HasPrefix(sc.rest(), t) {
		sc.pos += len(t)
		return true
	}
	return false
}

// space1 skips one-or-more spaces; fails if none present.
func (sc *scanner) space1() error {
	n := 0
	for sc.peek() == ' ' {
		sc.pos++
		n++
	}
	if n == 0 {
		return fmt.Errorf("expected space")
	}
	return nil
}

func (sc *scanner) space0() {
	for sc.peek() == ' ' {
		sc.pos++
	}
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func isIdentByte(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || isDigit(b) ||
		b == '-' || b == '$' || b == '.' || b == '_'
}

// digits1 reads one-or-more ASCII digits.
func (sc *scanner) digits1() (string, error) {
	start := sc.pos
	for isDigit(sc.peek()) {
		sc.pos++
	}
	if sc.pos == start {
		return "", fmt.Errorf("expected digits")
	}
	return sc.s[start:sc.pos], nil
}

// ident reads the LLVM identifier grammar: `[-a-zA-Z$._][-a-zA-Z$._0-9]*`.
func (sc *scanner) ident() (string, error) {
	start := sc.pos
	for isIdentByte(sc.peek()) {
		sc.pos++
	}
	if sc.pos == start {
		return "", fmt.Errorf("expected identifier")
	}
	name := sc.s[start:sc.pos]
	if isDigit(name[0]) {
		sc.pos = start
		return "", fmt.Errorf("identifier cannot start with a digit")
	}
	return name, nil
}

// quotedString reads a double-quoted string, accepting any byte except `"`
// (the grammar here is intentionally loose: LLVM-IR escapes `\xx` bytes
// inside quoted identifiers, but we only need to find the well-formed
// string, never validate escapes).
func (sc *scanner) quotedString() (string, error) {
	if err := sc.expect('"'); err != nil {
		return "", err
	}
	start := sc.pos
	for sc.peek() != '"' {
		if sc.eof() {
			return "", fmt.Errorf("unterminated string")
		}
		sc.pos++
	}
	s := sc.s[start:sc.pos]
	sc.pos++ // closing quote
	return s, nil
}

// name reads a quoted string, an identifier, or a bare digit sequence
// (numbered globals/locals), in that priority order.
func (sc *scanner) name() (string, error) {
	if sc.peek() == '"' {
		return sc.quotedString()
	}
	if id, err := sc.ident(); err == nil {
		return id, nil
	}
	return sc.digits1()
}

// global reads `@name`, `@"quoted name"`, or `@123` (numbered global, which
// has no usable name and is reported as "").
func (sc *scanner) global() (string, error) {
	if err := sc.expect('@'); err != nil {
		return "", err
	}
	if sc.peek() == '"' {
		return sc.quotedString()
	}
	if isDigit(sc.peek()) {
		if _, err := sc.digits1(); err != nil {
			return "", err
		}
		return "", nil
	}
	return sc.ident()
}

// function reads `@name` as a callee/definition name. Quoted and plain
// names read as in global, but a numbered name (`@123`) is returned as its
// digits rather than as "".
func (sc *scanner) function() (string, error) {
	if err := sc.expect('@'); err != nil {
		return "", err
	}
	return sc.name()
}

// local consumes a `%name` local value reference without returning it; the
// parser never needs the name of an SSA value, only its presence.
func (sc *scanner) local() error {
	if err := sc.expect('%'); err != nil {
		return err
	}
	if _, err := sc.digits1(); err == nil {
		return nil
	}
	_, err := sc.ident()
	return err
}

// alias reads `%name` and returns it, for type-alias and local-alias uses.
func (sc *scanner) alias() (string, error) {
	if err := sc.expect('%'); err != nil {
		return "", err
	}
	return sc.name()
}

func parseUint(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
