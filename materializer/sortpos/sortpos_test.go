package sortpos

import "testing"

func TestMidpointOrdersBetweenBounds(t *testing.T) {
	cases := []struct{ lo, hi string }{
		{"", ""},
		{"A", ""},
		{"", "A"},
		{"A", "B"},
		{"A", "AB"},
	}
	for _, c := range cases {
		got := Midpoint(c.lo, c.hi)
		if c.lo != "" && !(c.lo < got) {
			t.Errorf("Midpoint(%q, %q) = %q, want > lo", c.lo, c.hi, got)
		}
		if c.hi != "" && !(got < c.hi) {
			t.Errorf("Midpoint(%q, %q) = %q, want < hi", c.lo, c.hi, got)
		}
	}
}

func TestRepeatedMidpointInsertsStayOrdered(t *testing.T) {
	lo, hi := "A", "B"
	for i := 0; i < 20; i++ {
		mid := Midpoint(lo, hi)
		if !(lo < mid && mid < hi) {
			t.Fatalf("iteration %d: Midpoint(%q, %q) = %q violates ordering", i, lo, hi, mid)
		}
		hi = mid
	}
}

func TestBeforeAndAfter(t *testing.T) {
	if got := Before("M"); !(got < "M") {
		t.Errorf("Before(M) = %q, want < M", got)
	}
	if got := After("M"); !(got > "M") {
		t.Errorf("After(M) = %q, want > M", got)
	}
}
