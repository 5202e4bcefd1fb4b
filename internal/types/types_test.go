package types

import "testing"

func TestNewID_HexAndUnique(t *testing.T) {
	a, b := NewID(), NewID()
	if len(a) != 32 {
		t.Fatalf("expected 32 chars, got %d (%s)", len(a), a)
	}
	if a == b {
		t.Fatal("expected distinct ids")
	}
	for _, c := range string(a) {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			t.Fatalf("non-hex char %q in %s", c, a)
		}
	}
}

func TestPointValid(t *testing.T) {
	cases := []struct {
		p    Point
		want bool
	}{
		{Point{}, false},
		{Point{Lat: 51.5, Lng: -0.12}, true},
		{Point{Lat: 91, Lng: 0.1}, false},
		{Point{Lat: 10, Lng: 181}, false},
	}
	for _, tc := range cases {
		if got := tc.p.Valid(); got != tc.want {
			t.Errorf("Valid(%+v) = %v, want %v", tc.p, got, tc.want)
		}
	}
}
