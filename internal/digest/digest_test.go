package digest

import "testing"

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b Digest
		want int
	}{
		{name: "equal", a: Zero, b: Zero, want: 0},
		{name: "zero less than max", a: Zero, b: Max, want: -1},
		{name: "max greater than zero", a: Max, b: Zero, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Compare(tt.a, tt.b); got != tt.want {
				t.Errorf("Compare(%x, %x) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

// TestMidHalvesMax checks that the midpoints used by the four-way ring
// placement sequence of spec.md §8 scenario 2 (M/4, M/2, 3M/4 where
// M = 2^256-1) are strictly ordered below M, and that Mid is deterministic.
func TestMidHalvesMax(t *testing.T) {
	half := Mid(Zero, Max)
	quarter := Mid(Zero, half)
	threeQuarter := Mid(half, Max)

	if !Less(quarter, half) {
		t.Errorf("expected quarter < half")
	}
	if !Less(half, threeQuarter) {
		t.Errorf("expected half < threeQuarter")
	}
	if !Less(threeQuarter, Max) {
		t.Errorf("expected threeQuarter < max")
	}

	// M/2 computed a second time via Mid should be identical.
	again := Mid(Zero, Max)
	if Compare(half, again) != 0 {
		t.Errorf("Mid is not deterministic: %x != %x", half, again)
	}
}

func TestHex(t *testing.T) {
	if got := Zero.Hex(); got != hex64("0") {
		t.Errorf("Zero.Hex() = %q", got)
	}
}

func hex64(pad string) string {
	out := ""
	for i := 0; i < 64; i++ {
		out += pad
	}
	return out
}
