package cyclic

import "testing"

func TestGreaterThanBasic(t *testing.T) {
	cases := []struct {
		a, b uint16
		want bool
	}{
		{1, 0, true},
		{0, 1, false},
		{0, 0, false},
		{5, 5, false},
		{0, 0xFFFF, true},   // 0 is one step after 0xFFFF
		{0xFFFF, 0, false},
	}
	for _, c := range cases {
		if got := GreaterThan(c.a, c.b); got != c.want {
			t.Errorf("GreaterThan(%d,%d) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

// Property: for |a-b| < 2^15 (cyclic distance), GreaterThan(a,b) is the
// strict negation of GreaterThan(b,a) whenever a != b.
func TestGreaterThanAntisymmetric(t *testing.T) {
	base := uint16(40000)
	for delta := uint16(1); delta < 0x8000; delta += 997 {
		a := base + delta
		b := base
		if !GreaterThan(a, b) {
			t.Fatalf("expected GreaterThan(%d,%d)", a, b)
		}
		if GreaterThan(b, a) {
			t.Fatalf("expected !GreaterThan(%d,%d)", b, a)
		}
	}
}

func TestOrderingHelpers(t *testing.T) {
	if !GreaterOrEqual(10, 10) {
		t.Error("GreaterOrEqual should be reflexive")
	}
	if !LessOrEqual(10, 10) {
		t.Error("LessOrEqual should be reflexive")
	}
	if !LessThan(10, 11) || LessThan(11, 10) {
		t.Error("LessThan ordering wrong")
	}
}
