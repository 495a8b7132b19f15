package demangle

import "testing"

func TestDemangle(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain C symbol", "memcpy", "memcpy"},
		{"simple path", "_ZN4core3fmt5Write9write_fmt17habcdef0123456789E", "core::fmt::Write::write_fmt::habcdef0123456789"},
		{"escaped generic", "_ZN4core6option15Option$LT$T$GT$6unwrap17h00000000deadbeefE", "core::option::Option<T>::unwrap::h00000000deadbeef"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Demangle(c.in); got != c.want {
				t.Fatalf("Demangle(%q) = %q, want %q", c.in, got, c.want)
			}
		})
	}
}

func TestDehash(t *testing.T) {
	in := "core::fmt::Write::write_fmt::habcdef0123456789"
	want := "core::fmt::Write::write_fmt"
	if got := Dehash(in); got != want {
		t.Fatalf("Dehash(%q) = %q, want %q", in, got, want)
	}
	if got := Dehash("no_hash_here"); got != "no_hash_here" {
		t.Fatalf("Dehash with no hash suffix changed input: %q", got)
	}
}

func TestTraitImplMethod(t *testing.T) {
	in := "<my_crate::Foo as core::fmt::Display>::fmt::habcdef0123456789"
	name, ok := TraitImplMethod(in)
	if !ok {
		t.Fatalf("TraitImplMethod(%q) ok = false, want true", in)
	}
	if want := "dyn fmt::Display::fmt"; name != want {
		t.Fatalf("TraitImplMethod(%q) = %q, want %q", in, name, want)
	}

	if _, ok := TraitImplMethod("core::fmt::Write::write_fmt"); ok {
		t.Fatalf("TraitImplMethod on non-trait-impl path returned ok = true")
	}
}
