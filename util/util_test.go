package util

import "testing"

func TestMin(t *testing.T) {
	if got := Min(3, 5); got != 3 {
		t.Errorf("Min(3, 5) = %d, want 3", got)
	}
	if got := Min(5, 3); got != 3 {
		t.Errorf("Min(5, 3) = %d, want 3", got)
	}
	if got := Min(uint8(4), uint8(4)); got != 4 {
		t.Errorf("Min(4, 4) = %d, want 4", got)
	}
}

func TestRounddown(t *testing.T) {
	cases := []struct{ v, b, want uint64 }{
		{0, 16, 0},
		{1, 16, 0},
		{16, 16, 16},
		{17, 16, 16},
		{31, 16, 16},
	}
	for _, c := range cases {
		if got := Rounddown(c.v, c.b); got != c.want {
			t.Errorf("Rounddown(%d, %d) = %d, want %d", c.v, c.b, got, c.want)
		}
	}
}

func TestRoundup(t *testing.T) {
	cases := []struct{ v, b, want uint64 }{
		{0, 16, 0},
		{1, 16, 16},
		{16, 16, 16},
		{17, 16, 32},
		{31, 16, 32},
	}
	for _, c := range cases {
		if got := Roundup(c.v, c.b); got != c.want {
			t.Errorf("Roundup(%d, %d) = %d, want %d", c.v, c.b, got, c.want)
		}
	}
}
