package thumb

import "testing"

func TestSanity(t *testing.T) {
	r := Analyze([]byte{0xff, 0xf7, 0xe4, 0xfe}, 0, false, nil)
	if len(r.BLTargets) != 1 || r.BLTargets[0] != -568+4 {
		t.Fatalf("bl targets = %v, want [-564]", r.BLTargets)
	}

	r2 := Analyze([]byte{0x00, 0xf0, 0x2a, 0xfa}, 0, false, nil)
	if len(r2.BLTargets) != 1 || r2.BLTargets[0] != 1108+4 {
		t.Fatalf("bl targets = %v, want [1112]", r2.BLTargets)
	}

	r3 := Analyze([]byte{0x03, 0xe2}, 0, false, nil)
	if len(r3.BTargets) != 1 || r3.BTargets[0] != 1030+4 {
		t.Fatalf("b targets = %v, want [1034]", r3.BTargets)
	}

	// UDF
	r4 := Analyze([]byte{0xfe, 0xde}, 0, true, nil)
	if len(r4.BLTargets) != 0 || len(r4.BTargets) != 0 || r4.Indirect || r4.ModifiesSP {
		t.Fatalf("udf: unexpected side effects: %+v", r4)
	}
	if r4.Stack == nil || *r4.Stack != 0 {
		t.Fatalf("udf: stack = %v, want 0", r4.Stack)
	}
}

func TestModifiesSP(t *testing.T) {
	cases := []struct {
		name  string
		bytes []byte
		v7    bool
		want  uint64
	}{
		{"nop", []byte{0x00, 0xbf}, false, 0},
		{"sub sp #4", []byte{0x81, 0xb0}, false, 4},
		{"push r7 lr", []byte{0x80, 0xb5}, false, 8},
		{"stmdb sp! r4-r8,lr", []byte{0x2d, 0xe9, 0xf0, 0x41}, true, 24},
		{"vpush d8", []byte{0x2d, 0xed, 0x02, 0x8b}, true, 8},
		{"sub.w sp sp #520", []byte{0xad, 0xf5, 0x02, 0x7d}, true, 520},
		{"str r11 [sp #-4]!", []byte{0x4d, 0xf8, 0x04, 0xbd}, true, 4},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := Analyze(c.bytes, 0, c.v7, nil)
			if c.name == "nop" {
				if r.ModifiesSP {
					t.Fatalf("nop: ModifiesSP = true, want false")
				}
			} else if !r.ModifiesSP {
				t.Fatalf("%s: ModifiesSP = false, want true", c.name)
			}
			if r.Stack == nil {
				t.Fatalf("%s: Stack = nil, want %d", c.name, c.want)
			}
			if *r.Stack != c.want {
				t.Fatalf("%s: Stack = %d, want %d", c.name, *r.Stack, c.want)
			}
		})
	}
}

func TestDataTagSkipsRegion(t *testing.T) {
	// nop, then a data halfword that would otherwise decode as garbage,
	// tagged as data so Analyze skips it, then another nop.
	bytes := []byte{0x00, 0xbf, 0xff, 0xff, 0x00, 0xbf}
	tags := []TaggedAddr{
		{Addr: 2, Tag: TagData},
		{Addr: 4, Tag: TagThumb},
	}
	r := Analyze(bytes, 0, false, tags)
	if r.ModifiesSP {
		t.Fatalf("ModifiesSP = true, want false")
	}
	if r.Stack == nil || *r.Stack != 0 {
		t.Fatalf("Stack = %v, want 0", r.Stack)
	}
}
